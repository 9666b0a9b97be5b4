package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/ardanlabs/novaledger/internal/chain"
	"github.com/ardanlabs/novaledger/internal/crypto"
)

var (
	sendURL string
	to      string
	amount  uint
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send a transaction",
	Run:   sendRun,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVarP(&sendURL, "url", "u", "http://localhost:8080", "Url of the node.")
	sendCmd.Flags().StringVarP(&to, "to", "t", "", "Receiver's public key.")
	sendCmd.Flags().UintVarP(&amount, "amount", "v", 0, "Amount to send.")
}

func sendRun(cmd *cobra.Command, args []string) {
	kf, err := loadKeyFile(getPrivateKeyPath())
	if err != nil {
		log.Fatal(err)
	}

	tx := chain.NewTransaction(kf.PublicKey, to, uint64(amount))
	if err := tx.Sign(kf.PrivateKey); err != nil {
		log.Fatal(err)
	}

	if !crypto.Verify(tx.Sender, tx.Hash(), tx.Signature) {
		log.Fatal("signed transaction failed local verification")
	}

	data, err := json.Marshal(tx)
	if err != nil {
		log.Fatal(err)
	}

	client := http.Client{Timeout: 5 * time.Second}
	resp, err := client.Post(fmt.Sprintf("%s/v1/tx", sendURL), "application/json", bytes.NewReader(data))
	if err != nil {
		log.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		log.Fatalf("node rejected transaction: %s", resp.Status)
	}

	fmt.Println("Transaction submitted:", tx.TxID())
}
