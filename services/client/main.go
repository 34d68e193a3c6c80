// Команда duochat — терминальный клиент переписки для двух участников.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/duochat/internal/logger"
)

var (
	version = "dev"
	commit  = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "duochat",
	Short: "Two-person chat client",
	Long: `duochat connects to a chat server over REST and a websocket and shows
the conversation in the terminal. Run "duochat login" once, then "duochat chat".`,
	Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if path, _ := cmd.Flags().GetString("config"); path != "" {
			os.Setenv("CONFIG_PATH", path)
		}
		if backend, _ := cmd.Flags().GetString("storage"); backend != "" {
			os.Setenv("STORAGE_BACKEND", backend)
		}
	},
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path (default config/client.yaml)")
	rootCmd.PersistentFlags().String("storage", "", "state backend: pebble, redis or memory")
}

func main() {
	logger.SetPrefix("client")
	err := rootCmd.Execute()
	logger.Flush()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
