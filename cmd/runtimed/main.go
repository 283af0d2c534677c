// Command runtimed hosts a fixed module chain (core, accounts,
// consensus_accounts, keyvalue) behind the Runtime Host Protocol,
// answering a single connecting host over a Unix domain socket.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/oasislabs/runtime-sdk/go/common/logging"
)

var logger = logging.GetLogger("cmd/runtimed")

var rootCmd = &cobra.Command{
	Use:   "runtimed",
	Short: "run the module runtime behind the Runtime Host Protocol",
}

func main() {
	rootCmd.AddCommand(serveCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(func() {
		viper.SetEnvPrefix("runtimed")
		viper.AutomaticEnv()
	})
}
