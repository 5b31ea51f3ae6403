package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"
)

func newCredentialsCommand() *cobra.Command {
	credentialsCmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage provider account credentials",
	}

	var tokenFile string
	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Store an OAuth token JSON for the configured Google account",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(tokenFile)
			if err != nil {
				return err
			}
			var token oauth2.Token
			if err := json.Unmarshal(raw, &token); err != nil {
				return fmt.Errorf("parse token file: %w", err)
			}
			if token.AccessToken == "" && token.RefreshToken == "" {
				return fmt.Errorf("token file carries neither an access nor a refresh token")
			}

			ctx := cmd.Context()
			rt, closeRuntime, err := openRuntime(ctx)
			if err != nil {
				return err
			}
			defer closeRuntime()

			credentials, err := rt.googleCredentials()
			if err != nil {
				return err
			}
			if err := credentials.Import(ctx, &token); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "stored credentials for %s\n", rt.config.Google.Account)
			return err
		},
	}
	importCmd.Flags().StringVar(&tokenFile, "file", "", "Path to an OAuth token JSON file")
	_ = importCmd.MarkFlagRequired("file")

	credentialsCmd.AddCommand(importCmd)
	return credentialsCmd
}
