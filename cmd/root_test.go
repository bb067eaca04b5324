package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/marx-cli/internal/config"
	"github.com/sells-group/marx-cli/internal/model"
	"github.com/sells-group/marx-cli/internal/notify"
	"github.com/sells-group/marx-cli/internal/store"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"reconcile", "reset", "tiers", "directory", "runs", "config"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "marx-cli", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestReconcileArgs(t *testing.T) {
	assert.NoError(t, reconcileArgs(reconcileCmd, []string{"in.csv", "3"}))

	assert.Error(t, reconcileArgs(reconcileCmd, []string{"in.csv"}))
	assert.Error(t, reconcileArgs(reconcileCmd, []string{"in.csv", "3", "x"}))
	assert.ErrorContains(t, reconcileArgs(reconcileCmd, []string{"in.csv", "0"}), "positive integer")
	assert.ErrorContains(t, reconcileArgs(reconcileCmd, []string{"in.csv", "-2"}), "positive integer")
	assert.ErrorContains(t, reconcileArgs(reconcileCmd, []string{"in.csv", "four"}), "positive integer")
}

func TestReconcileCommand_Flags(t *testing.T) {
	flag := reconcileCmd.Flags().Lookup("force")
	require.NotNil(t, flag)
	assert.Equal(t, "false", flag.DefValue)
}

func TestReconcileCommand_RequiresCredentialPerWorker(t *testing.T) {
	prev := cfg
	t.Cleanup(func() { cfg = prev })
	cfg = &config.Config{
		CRM: config.CRMConfig{APIID: "id", APIKey: "key"},
		Portal: config.PortalConfig{
			BaseURL:        "http://localhost:8765",
			LookupAttempts: 3,
			Credentials: []config.PortalCredential{
				{Username: "a", Password: "p1"},
				{Username: "b", Password: "p2"},
			},
		},
		Directory: config.DirectoryConfig{Path: "contract_directory.xlsx"},
		Notify:    config.NotifyConfig{Provider: "none"},
		Store:     config.StoreConfig{Path: t.TempDir() + "/marx.db"},
	}

	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	err := reconcileCmd.RunE(cmd, []string{t.TempDir() + "/missing.csv", "3"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "portal.credentials has 2 entries, 3 workers")
}

func TestTiersArgs(t *testing.T) {
	for _, arg := range []string{"1", "2", "3"} {
		assert.NoError(t, tiersArgs(tiersCmd, []string{arg}))
	}
	assert.Error(t, tiersArgs(tiersCmd, nil))
	assert.Error(t, tiersArgs(tiersCmd, []string{"4"}))
	assert.Error(t, tiersArgs(tiersCmd, []string{"1", "2"}))
}

func TestResetCommand_Flags(t *testing.T) {
	flag := resetCmd.Flags().Lookup("date")
	require.NotNil(t, flag)
	assert.Empty(t, flag.DefValue)
}

func TestParseSaleDate(t *testing.T) {
	want := time.Date(2024, 3, 19, 0, 0, 0, 0, time.Local)

	got, err := parseSaleDate("03/19/2024")
	require.NoError(t, err)
	assert.True(t, want.Equal(got))

	got, err = parseSaleDate("2024-03-19")
	require.NoError(t, err)
	assert.True(t, want.Equal(got))

	_, err = parseSaleDate("19.03.2024")
	assert.Error(t, err)
}

func TestToPortalCredentials(t *testing.T) {
	got := toPortalCredentials([]config.PortalCredential{
		{Username: "a", Password: "p1", Mailbox: "a@example.com"},
		{Username: "b", Password: "p2"},
	})
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Username)
	assert.Equal(t, "a@example.com", got[0].Mailbox)
	assert.Equal(t, "p2", got[1].Password)
}

func TestNewNotifier(t *testing.T) {
	n, err := newNotifier(context.Background(), config.NotifyConfig{Provider: "none"})
	require.NoError(t, err)
	assert.IsType(t, notify.Nop{}, n)

	n, err = newNotifier(context.Background(), config.NotifyConfig{Provider: "webhook", WebhookURL: "http://example.invalid/hook"})
	require.NoError(t, err)
	assert.IsType(t, &notify.Webhook{}, n)

	_, err = newNotifier(context.Background(), config.NotifyConfig{Provider: "pager"})
	assert.Error(t, err)
}

func TestConfigCommand_RedactsSecrets(t *testing.T) {
	prev := cfg
	t.Cleanup(func() { cfg = prev })
	cfg = &config.Config{
		CRM:    config.CRMConfig{APIID: "id-123", APIKey: "key-456", EgressURL: "https://crm.example.com/egress"},
		Portal: config.PortalConfig{Credentials: []config.PortalCredential{{Username: "agent", Password: "hunter2"}}},
	}

	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)
	require.NoError(t, configCmd.RunE(cmd, nil))

	out := buf.String()
	assert.NotContains(t, out, "key-456")
	assert.NotContains(t, out, "hunter2")
	assert.Contains(t, out, "https://crm.example.com/egress")

	var decoded config.Config
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "agent", decoded.Portal.Credentials[0].Username)
	assert.Equal(t, "********", decoded.CRM.APIKey)
}

func TestTrackRun_RecordsOutcome(t *testing.T) {
	prev := cfg
	t.Cleanup(func() { cfg = prev })
	cfg = &config.Config{Store: config.StoreConfig{Path: t.TempDir() + "/marx.db"}}

	ctx := context.Background()
	err := trackRun(ctx, model.RunKindTiers, "Tier1_Policies.csv", true, func() (int, int, error) {
		return 12, 0, nil
	})
	require.NoError(t, err)

	st, err := initStore(ctx)
	require.NoError(t, err)
	defer st.Close()

	runs, err := st.ListRuns(ctx, store.RunFilter{Kind: model.RunKindTiers})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunStatusComplete, runs[0].Status)
	assert.Equal(t, 12, runs[0].Policies)
	assert.Equal(t, "Tier1_Policies.csv", runs[0].Input)
}

func TestTrackRun_GuardsOverlappingReconcile(t *testing.T) {
	prev := cfg
	t.Cleanup(func() { cfg = prev })
	cfg = &config.Config{Store: config.StoreConfig{Path: t.TempDir() + "/marx.db"}}

	ctx := context.Background()
	st, err := initStore(ctx)
	require.NoError(t, err)
	_, err = st.BeginRun(ctx, model.RunKindReconcile, "other.csv", false)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	called := false
	err = trackRun(ctx, model.RunKindReconcile, "in.csv", false, func() (int, int, error) {
		called = true
		return 0, 0, nil
	})
	assert.ErrorIs(t, err, store.ErrRunInProgress)
	assert.False(t, called)
}
