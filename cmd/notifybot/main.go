// Command notifybot runs the Teams notification bot and its admin tooling.
//
// @title                       notify-bot API
// @version                     1.0
// @description                 Posts notification cards into Teams conversations and tracks acknowledgements.
// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization
// @description                 "Bearer " followed by a token from POST /api/v1/auth.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var envFile string

	serve := serveCmd(&envFile)
	root := &cobra.Command{
		Use:           "notifybot",
		Short:         "Teams notification bot with acknowledgement tracking",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve.RunE,
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional dotenv file loaded before the environment is read")

	root.AddCommand(serve)
	root.AddCommand(provisionCmd(&envFile))
	root.AddCommand(tokenCmd(&envFile))
	return root
}
