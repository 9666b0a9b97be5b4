package cmd

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/ardanlabs/novaledger/internal/crypto"
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a new key pair",
	Run:   generateRun,
}

func init() {
	rootCmd.AddCommand(generateCmd)
}

func generateRun(cmd *cobra.Command, args []string) {
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		log.Fatal(err)
	}

	path := getPrivateKeyPath()
	if err := saveKeyFile(path, keyFile{PrivateKey: priv, PublicKey: pub}); err != nil {
		log.Fatal(err)
	}

	fmt.Println("Account:", pub)
	fmt.Println("Saved to:", path)
}
