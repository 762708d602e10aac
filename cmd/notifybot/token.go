// The token command group. "token issue" mints an admin bearer token
// without going through POST /auth, for bootstrapping and scripts.

package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// tokenCmd groups the token subcommands. It has no action of its own.
func tokenCmd(envFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Admin token utilities",
	}
	cmd.AddCommand(tokenIssueCmd(envFile))
	return cmd
}

// tokenIssueCmd prints the token on stdout and its lifetime on stderr, so
// the output can be captured directly.
func tokenIssueCmd(envFile *string) *cobra.Command {
	var login string
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Mint an admin bearer token signed by the key pool",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(login) == "" {
				return errors.New("--login is required")
			}
			cfg, err := loadConfig(*envFile)
			if err != nil {
				return err
			}
			// the admin secrets are not consulted; holding the KMS grant is
			// what authorizes the caller here
			keys, err := openKeyVault(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			svc := newTokenService(keys, cfg)
			tok, err := svc.Issue(cmd.Context(), login)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires in %s\n", svc.TTL())
			return nil
		},
	}
	cmd.Flags().StringVar(&login, "login", "", "token subject")
	return cmd
}
