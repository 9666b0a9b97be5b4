package cmd

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/spf13/cobra"
)

var balanceURL string

type balanceResponse struct {
	Balance int64 `json:"balance"`
}

var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Print the account's balance",
	Run:   balanceRun,
}

func init() {
	rootCmd.AddCommand(balanceCmd)
	balanceCmd.Flags().StringVarP(&balanceURL, "url", "u", "http://localhost:8080", "Url of the node.")
}

func balanceRun(cmd *cobra.Command, args []string) {
	kf, err := loadKeyFile(getPrivateKeyPath())
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println("For account:", kf.PublicKey)

	resp, err := http.Get(fmt.Sprintf("%s/v1/balance/%s", balanceURL, kf.PublicKey))
	if err != nil {
		log.Fatal(err)
	}
	defer resp.Body.Close()

	var out balanceResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		log.Fatal(err)
	}

	fmt.Println(out.Balance)
}
