// This program is the wallet CLI: a thin client over the HTTP
// façade-contract surface described in spec.md §6.4, following the
// teacher's app/wallet/cli/cmd composition (a cobra root command with
// generate/balance/send subcommands).
package main

import "github.com/ardanlabs/novaledger/cmd/wallet/cmd"

func main() {
	cmd.Execute()
}
