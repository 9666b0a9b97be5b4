package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// keyFile is the on-disk representation of a generated key pair.
type keyFile struct {
	PrivateKey string `json:"private_key"`
	PublicKey  string `json:"public_key"`
}

func saveKeyFile(path string, kf keyFile) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating account directory: %w", err)
	}

	data, err := json.MarshalIndent(kf, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding key file: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

func loadKeyFile(path string) (keyFile, error) {
	var kf keyFile

	data, err := os.ReadFile(path)
	if err != nil {
		return kf, fmt.Errorf("reading key file: %w", err)
	}

	if err := json.Unmarshal(data, &kf); err != nil {
		return kf, fmt.Errorf("decoding key file: %w", err)
	}

	return kf, nil
}
