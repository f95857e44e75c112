package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kkkkikiki/burnpromo/internal/session"
)

var (
	tokenCmd = &cobra.Command{
		Use:   "token <subject>",
		Short: "Issue a session token for a wallet or an admin",
		Args:  cobra.ExactArgs(1),
		RunE:  cmdToken,
	}

	tokenFlags struct {
		role string
	}
)

func cmdToken(cmd *cobra.Command, args []string) error {
	if cfg.Session.Secret == "" {
		return errUsage("SESSION_SECRET is not set")
	}

	role := session.Role(tokenFlags.role)
	if role != session.RoleAdmin && role != session.RoleWallet {
		return errUsage("--role must be %q or %q", session.RoleAdmin, session.RoleWallet)
	}

	token, err := session.NewService(cfg.Session.Secret, cfg.Session.Issuer, cfg.Session.TTL).Issue(args[0], role)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
