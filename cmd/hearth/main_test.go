package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/MarcoPoloResearchLab/hearth/internal/auth"
	"github.com/MarcoPoloResearchLab/hearth/internal/orchestrator"
	"github.com/spf13/viper"
)

func executeCommand(testContext *testing.T, args ...string) (string, error) {
	testContext.Helper()
	viper.Reset()
	cfgFile = ""
	root := newRootCommand()
	output := &bytes.Buffer{}
	root.SetOut(output)
	root.SetErr(output)
	root.SetArgs(args)
	err := root.Execute()
	return output.String(), err
}

func TestTokenIssueProducesValidatableToken(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "hearth.db")
	output, err := executeCommand(testContext, "token", "issue", "--signing-secret", "cli-secret", "--database-path", databasePath, "--subject", "alex")
	if err != nil {
		testContext.Fatalf("token issue failed: %v (%s)", err, output)
	}
	var payload tokenResponsePayload
	if err := json.Unmarshal([]byte(output), &payload); err != nil {
		testContext.Fatalf("failed to decode output %q: %v", output, err)
	}
	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte("cli-secret"),
		Issuer:        "hearth",
		Audience:      "hearth-control",
	})
	if err != nil {
		testContext.Fatalf("failed to build validator: %v", err)
	}
	claims, err := validator.ValidateToken(payload.AccessToken)
	if err != nil {
		testContext.Fatalf("issued token did not validate: %v", err)
	}
	if claims.Subject != "alex" || payload.TokenType != "Bearer" || payload.ExpiresIn <= 0 {
		testContext.Fatalf("unexpected token payload: %+v / %+v", payload, claims)
	}
}

func TestTokenIssueRequiresSigningSecret(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "hearth.db")
	if _, err := executeCommand(testContext, "token", "issue", "--database-path", databasePath); err == nil {
		testContext.Fatalf("expected missing signing secret to fail")
	}
}

func TestSyncWithoutProvidersReportsNothingToDo(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "hearth.db")
	output, err := executeCommand(testContext, "sync", "--database-path", databasePath)
	if err != nil {
		testContext.Fatalf("sync failed: %v (%s)", err, output)
	}
	var status orchestrator.Status
	if err := json.Unmarshal([]byte(output), &status); err != nil {
		testContext.Fatalf("failed to decode status %q: %v", output, err)
	}
	if status.State != orchestrator.StateNothingToDo || status.Trigger != orchestrator.TriggerManual {
		testContext.Fatalf("unexpected status: %+v", status)
	}
}

func TestJournalCommands(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "hearth.db")
	output, err := executeCommand(testContext, "journal", "list", "--database-path", databasePath)
	if err != nil {
		testContext.Fatalf("journal list failed: %v", err)
	}
	if output != "" {
		testContext.Fatalf("expected empty journal, got %q", output)
	}
	if _, err := executeCommand(testContext, "journal", "purge", "--database-path", databasePath); err == nil {
		testContext.Fatalf("expected purge without --yes to fail")
	}
	if _, err := executeCommand(testContext, "journal", "purge", "--yes", "--database-path", databasePath); err != nil {
		testContext.Fatalf("purge failed: %v", err)
	}
}
