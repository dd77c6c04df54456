package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/untibullet/fixit/internal/auth"
	"github.com/untibullet/fixit/internal/repository"
)

var tokenCmd = &cobra.Command{
	Use:   "token <user-id>",
	Short: "Mint a bearer token for an existing user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := bootstrap()
		if err != nil {
			return err
		}
		defer logger.Sync()

		if cfg.Auth.SigningKey == "" {
			return errors.New("auth.signing_key is required to mint tokens the server will accept")
		}

		ctx := cmd.Context()

		repo, err := openRepository(ctx, cfg.Database, logger)
		if err != nil {
			return err
		}
		defer repo.Close()

		user, err := repo.GetUser(ctx, args[0])
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("user %s not found", args[0])
		}
		if err != nil {
			return err
		}

		issuer, err := auth.NewIssuer(cfg.Auth.SigningKey, cfg.Auth.TokenTTL)
		if err != nil {
			return err
		}
		token, err := issuer.Mint(user.ID, user.Role)
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}
