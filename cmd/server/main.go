// Command coderelay runs untrusted programs in containers and relays their
// terminal to browser clients over WebSocket.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "coderelay",
	Short: "Interactive sandboxed code runner",
	Long: `coderelay executes submitted source code inside per-run containers under a
pseudo-terminal and streams the program's output to a WebSocket client,
telling it when the program is waiting for input.`,
	RunE:          runServe, // Default to serve.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("CODERELAY_CONFIG"), "path to YAML config file")
	rootCmd.AddCommand(serveCmd, languagesCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
