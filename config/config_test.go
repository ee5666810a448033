package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhcgn/mail-fraud-triage/state"
)

func newCommand(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	root := &cobra.Command{Use: "test"}
	RegisterGlobalFlags(root)
	cmd := &cobra.Command{Use: "scan", RunE: func(*cobra.Command, []string) error { return nil }}
	RegisterSourceFlags(cmd)
	RegisterScanFlags(cmd)
	root.AddCommand(cmd)
	root.SetArgs(append([]string{"scan"}, args...))
	require.NoError(t, root.Execute())
	return cmd
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(newCommand(t, "--maildir", "/data/maildir"))
	require.NoError(t, err)

	assert.Equal(t, "/data/maildir", cfg.Maildir)
	assert.Equal(t, "all_documents", cfg.Folder)
	assert.Equal(t, 50, cfg.TopK)
	assert.Equal(t, 5, cfg.Limit)
	assert.GreaterOrEqual(t, cfg.Workers, 1)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 993, cfg.IMAPPort)
	assert.True(t, cfg.UseTLS)
}

func TestLoadConfig_FlagsAndArrays(t *testing.T) {
	cfg, err := LoadConfig(newCommand(t,
		"--mbox", "lay.mbox",
		"--owner", "lay-k", "--owner", "skilling-j",
		"--exclude-body", "a,b", "--exclude-body", "^c$",
		"--top-k", "20", "--limit", "3", "--workers", "4",
		"--log-level", "WARNING",
	))
	require.NoError(t, err)

	assert.Equal(t, "lay.mbox", cfg.Mbox)
	assert.Equal(t, []string{"lay-k", "skilling-j"}, cfg.Owners)
	assert.Equal(t, []string{"a,b", "^c$"}, cfg.ExcludeBody)
	assert.Equal(t, 20, cfg.TopK)
	assert.Equal(t, 3, cfg.Limit)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoadConfig_EnvOverridesDefault(t *testing.T) {
	t.Setenv("FRAUD_TRIAGE_TOP_K", "77")
	t.Setenv("FRAUD_TRIAGE_MAILDIR", "/env/maildir")

	cfg, err := LoadConfig(newCommand(t))
	require.NoError(t, err)
	assert.Equal(t, 77, cfg.TopK)
	assert.Equal(t, "/env/maildir", cfg.Maildir)
}

func TestLoadConfig_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "triage.yaml")
	require.NoError(t, os.WriteFile(path, []byte("maildir: /file/maildir\nlimit: 7\ntop-k: 30\n"), 0o644))

	cfg, err := LoadConfig(newCommand(t, "--config", path, "--limit", "8"))
	require.NoError(t, err)
	assert.Equal(t, "/file/maildir", cfg.Maildir)
	assert.Equal(t, 30, cfg.TopK)
	assert.Equal(t, 8, cfg.Limit, "flags win over the config file")
}

func TestLoadConfig_IMAPPassFallback(t *testing.T) {
	t.Setenv("IMAP_PASS", "secret")

	cfg, err := LoadConfig(newCommand(t, "--maildir", "/m", "--imap-host", "imap.example.com", "--imap-user", "rev"))
	require.NoError(t, err)
	assert.Equal(t, "secret", cfg.IMAPPass)
}

func TestLoadConfig_CacheAloneIsACorpus(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.jsonl")
	w, err := state.NewCacheWriter(path, state.NewScope("all_documents", nil))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	cfg, err := LoadConfig(newCommand(t, "--cache", path))
	require.NoError(t, err)
	assert.True(t, cfg.HasCache())

	_, err = LoadConfig(newCommand(t, "--cache", path, "--rebuild"))
	assert.ErrorIs(t, err, ErrNoCorpus)
}

func TestLoadConfig_CacheScopeMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.jsonl")
	w, err := state.NewCacheWriter(path, state.NewScope("sent", nil))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	cfg, err := LoadConfig(newCommand(t, "--cache", path, "--folder", "sent"))
	require.NoError(t, err)
	assert.True(t, cfg.HasCache())

	_, err = LoadConfig(newCommand(t, "--cache", path, "--folder", "deleted_items"))
	assert.ErrorIs(t, err, ErrCacheScope)

	_, err = LoadConfig(newCommand(t, "--cache", path, "--folder", "sent", "--owner", "lay-k"))
	assert.ErrorIs(t, err, ErrCacheScope)

	cfg, err = LoadConfig(newCommand(t, "--cache", path, "--folder", "deleted_items", "--maildir", "/m"))
	require.NoError(t, err, "a corpus is available to rebuild from")
	assert.False(t, cfg.HasCache())
}

func TestLoadConfig_Validation(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr error
	}{
		{name: "no corpus", args: nil, wantErr: ErrNoCorpus},
		{name: "two corpora", args: []string{"--maildir", "/m", "--mbox", "x.mbox"}, wantErr: ErrConflictCorpus},
		{name: "filter conflict", args: []string{"--maildir", "/m", "--include-body", "a", "--exclude-header", "b"}, wantErr: ErrFilterConflict},
		{name: "bad log level", args: []string{"--maildir", "/m", "--log-level", "loud"}, wantErr: ErrInvalidLogLevel},
		{name: "zero workers", args: []string{"--maildir", "/m", "--workers", "0"}},
		{name: "zero limit", args: []string{"--maildir", "/m", "--limit", "0"}},
		{name: "top-k below limit", args: []string{"--maildir", "/m", "--top-k", "3", "--limit", "5"}},
		{name: "imap port", args: []string{"--maildir", "/m", "--imap-host", "h", "--imap-user", "u", "--imap-pass", "p", "--imap-port", "70000"}},
		{name: "imap user", args: []string{"--maildir", "/m", "--imap-host", "h", "--imap-pass", "p"}},
		{name: "imap pass", args: []string{"--maildir", "/m", "--imap-host", "h", "--imap-user", "u"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("IMAP_PASS", "")
			_, err := LoadConfig(newCommand(t, tt.args...))
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestLoadConfig_DryRunNeedsNoPassword(t *testing.T) {
	t.Setenv("IMAP_PASS", "")
	_, err := LoadConfig(newCommand(t, "--maildir", "/m", "--imap-host", "h", "--imap-user", "u", "--dry-run"))
	assert.NoError(t, err)
}

func TestRulesPath_Layers(t *testing.T) {
	resolve := func(args ...string) string {
		t.Helper()
		cmd := &cobra.Command{Use: "rules", RunE: func(*cobra.Command, []string) error { return nil }}
		r := &cobra.Command{Use: "test"}
		RegisterGlobalFlags(r)
		r.AddCommand(cmd)
		r.SetArgs(append([]string{"rules"}, args...))
		require.NoError(t, r.Execute())
		path, err := RulesPath(cmd)
		require.NoError(t, err)
		return path
	}

	assert.Empty(t, resolve())
	assert.Equal(t, "/flag.yaml", resolve("--rules", "/flag.yaml"))

	file := filepath.Join(t.TempDir(), "triage.yaml")
	require.NoError(t, os.WriteFile(file, []byte("rules: /file.yaml\n"), 0o644))
	assert.Equal(t, "/file.yaml", resolve("--config", file))

	t.Setenv("FRAUD_TRIAGE_RULES", "/env.yaml")
	assert.Equal(t, "/env.yaml", resolve())
	assert.Equal(t, "/flag.yaml", resolve("--rules", "/flag.yaml"))
}
