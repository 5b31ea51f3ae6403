package main

import (
	"encoding/json"

	"github.com/MarcoPoloResearchLab/hearth/internal/auth"
	"github.com/MarcoPoloResearchLab/hearth/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type tokenResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func newTokenCommand() *cobra.Command {
	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Manage control API bearer tokens",
	}

	var subject string
	var scopes []string
	issueCmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a bearer token for the control API",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			if err := appConfig.ValidateAPI(); err != nil {
				return err
			}
			issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
				SigningSecret: []byte(appConfig.API.SigningSecret),
				Issuer:        appConfig.API.Issuer,
				Audience:      appConfig.API.Audience,
				TokenTTL:      appConfig.API.TokenTTL,
			})
			if err != nil {
				return err
			}
			token, expiresIn, err := issuer.IssueOperatorToken(cmd.Context(), subject, scopes...)
			if err != nil {
				return err
			}
			return json.NewEncoder(cmd.OutOrStdout()).Encode(tokenResponsePayload{
				AccessToken: token,
				ExpiresIn:   expiresIn,
				TokenType:   "Bearer",
			})
		},
	}
	issueCmd.Flags().StringVar(&subject, "subject", "operator", "Token subject")
	issueCmd.Flags().StringSliceVar(&scopes, "scope", nil, "Token scopes")

	tokenCmd.AddCommand(issueCmd)
	return tokenCmd
}
