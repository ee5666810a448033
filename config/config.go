package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/dhcgn/mail-fraud-triage/state"
)

const EnvPrefix = "FRAUD_TRIAGE"

var (
	ErrNoCorpus        = errors.New("one of --maildir, --mbox or an existing --cache is required")
	ErrConflictCorpus  = errors.New("--maildir and --mbox are mutually exclusive")
	ErrFilterConflict  = errors.New("include and exclude flags are mutually exclusive")
	ErrInvalidLogLevel = errors.New("invalid --log-level")
	ErrCacheScope      = errors.New("--cache was built for a different --folder or --owner selection; pass --maildir or --mbox to rebuild it")
)

// Config captures all options required to run a scan.
type Config struct {
	ConfigFile string
	LogLevel   string
	LogDir     string
	RulesPath  string

	Maildir   string
	Mbox      string
	MboxOwner string
	Folder    string
	Owners    []string
	CachePath string
	Rebuild   bool

	IncludeHeader []string
	IncludeBody   []string
	ExcludeHeader []string
	ExcludeBody   []string

	Workers    int
	TopK       int
	Limit      int
	ReportPath string
	Quiet      bool

	IMAPHost           string
	IMAPPort           int
	IMAPUser           string
	IMAPPass           string
	UseTLS             bool
	InsecureSkipVerify bool
	TargetFolder       string
	DryRun             bool
}

// RegisterGlobalFlags attaches the flags shared by every sub-command.
func RegisterGlobalFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.String("config", "", "Optional YAML config file; keys match flag names")
	flags.String("log-level", "info", "Logging level: debug, info, warn, error")
	flags.String("log-dir", "", "Also write logs to a timestamped file in this directory")
	flags.String("rules", "", "YAML rule tables replacing the built-in ones")
}

// RegisterSourceFlags attaches corpus selection and pre-filter flags.
func RegisterSourceFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String("maildir", "", "Root of a maildir-style corpus (one directory per mailbox)")
	flags.String("mbox", "", "Path to an .mbox archive to scan instead of a maildir")
	flags.String("mbox-owner", "", "Owner label for mbox messages (default: file name)")
	flags.String("folder", "all_documents", "Only read files below directories with this name; empty reads all")
	flags.StringArray("owner", nil, "Only read these mailbox folders (repeatable)")
	flags.String("cache", "", "JSONL cache of parsed records; read when present, written otherwise")
	flags.Bool("rebuild", false, "Ignore an existing cache and re-read the corpus")
	flags.StringArray("include-header", nil, "Regex allow-list applied to message headers (mutually exclusive with exclude flags)")
	flags.StringArray("include-body", nil, "Regex allow-list applied to message bodies (mutually exclusive with exclude flags)")
	flags.StringArray("exclude-header", nil, "Regex block-list applied to message headers (mutually exclusive with include flags)")
	flags.StringArray("exclude-body", nil, "Regex block-list applied to message bodies (mutually exclusive with include flags)")
}

// RegisterScanFlags attaches scoring, report and export flags.
func RegisterScanFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.Int("workers", runtime.GOMAXPROCS(0), "Number of scoring workers")
	flags.Int("top-k", 50, "Number of top-scored candidates considered for the shortlist")
	flags.Int("limit", 5, "Maximum number of shortlisted messages")
	flags.String("report", "", "Write the shortlist as JSON to this file")
	flags.Bool("quiet", false, "Do not render the shortlist table")
	flags.String("imap-host", "", "Export the shortlist to this IMAP server")
	flags.Int("imap-port", 993, "IMAP server port")
	flags.String("imap-user", "", "IMAP username")
	flags.String("imap-pass", "", "IMAP password (falls back to IMAP_PASS env var)")
	flags.Bool("use-tls", true, "Use TLS for the IMAP connection")
	flags.Bool("insecure-skip-verify", false, "Skip TLS certificate verification (not recommended)")
	flags.String("target-folder", "Fraud Review", "IMAP folder receiving the shortlist")
	flags.Bool("dry-run", false, "Log the IMAP export instead of uploading")
}

// LoadConfig merges flags, FRAUD_TRIAGE_* environment variables and the
// optional config file into a validated Config.
func LoadConfig(cmd *cobra.Command) (Config, error) {
	flags := cmd.Flags()
	v, err := newViper(flags)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		ConfigFile: v.GetString("config"),
		LogLevel:   normalizeLogLevel(v.GetString("log-level")),
		LogDir:     v.GetString("log-dir"),
		RulesPath:  v.GetString("rules"),

		Maildir:   v.GetString("maildir"),
		Mbox:      v.GetString("mbox"),
		MboxOwner: v.GetString("mbox-owner"),
		Folder:    v.GetString("folder"),
		Owners:    stringSlice(v, flags, "owner"),
		CachePath: v.GetString("cache"),
		Rebuild:   v.GetBool("rebuild"),

		IncludeHeader: stringSlice(v, flags, "include-header"),
		IncludeBody:   stringSlice(v, flags, "include-body"),
		ExcludeHeader: stringSlice(v, flags, "exclude-header"),
		ExcludeBody:   stringSlice(v, flags, "exclude-body"),

		Workers:    intOr(v, flags, "workers", runtime.GOMAXPROCS(0)),
		TopK:       intOr(v, flags, "top-k", 50),
		Limit:      intOr(v, flags, "limit", 5),
		ReportPath: v.GetString("report"),
		Quiet:      v.GetBool("quiet"),

		IMAPHost:           v.GetString("imap-host"),
		IMAPPort:           intOr(v, flags, "imap-port", 993),
		IMAPUser:           v.GetString("imap-user"),
		IMAPPass:           v.GetString("imap-pass"),
		UseTLS:             v.GetBool("use-tls"),
		InsecureSkipVerify: v.GetBool("insecure-skip-verify"),
		TargetFolder:       v.GetString("target-folder"),
		DryRun:             v.GetBool("dry-run"),
	}

	if cfg.IMAPPass == "" {
		cfg.IMAPPass = os.Getenv("IMAP_PASS")
	}
	if cfg.CachePath != "" {
		cfg.CachePath = filepath.Clean(cfg.CachePath)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// CacheScope is the folder and owner selection a record cache is tied to.
func (c Config) CacheScope() state.Scope {
	return state.NewScope(c.Folder, c.Owners)
}

// RulesPath resolves --rules through the same flag, env and config file
// layers as LoadConfig, without requiring a corpus.
func RulesPath(cmd *cobra.Command) (string, error) {
	v, err := newViper(cmd.Flags())
	if err != nil {
		return "", err
	}
	return v.GetString("rules"), nil
}

func newViper(flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	if err := v.BindPFlags(flags); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}
	return v, nil
}

// HasCache reports whether the configured cache file exists and was built
// for the same folder and owner selection.
func (c Config) HasCache() bool {
	if c.CachePath == "" || c.Rebuild {
		return false
	}
	return state.CacheMatches(c.CachePath, c.CacheScope())
}

func validateConfig(cfg Config) error {
	if cfg.Maildir != "" && cfg.Mbox != "" {
		return ErrConflictCorpus
	}
	if cfg.Maildir == "" && cfg.Mbox == "" && !cfg.HasCache() {
		if cfg.CachePath != "" && !cfg.Rebuild && state.CacheExists(cfg.CachePath) {
			return fmt.Errorf("%w: %s (want %s)", ErrCacheScope, cfg.CachePath, cfg.CacheScope())
		}
		return ErrNoCorpus
	}
	if cfg.Workers < 1 {
		return fmt.Errorf("--workers must be at least 1")
	}
	if cfg.Limit < 1 {
		return fmt.Errorf("--limit must be at least 1")
	}
	if cfg.TopK < cfg.Limit {
		return fmt.Errorf("--top-k (%d) must not be smaller than --limit (%d)", cfg.TopK, cfg.Limit)
	}

	includeActive := len(cfg.IncludeHeader) > 0 || len(cfg.IncludeBody) > 0
	excludeActive := len(cfg.ExcludeHeader) > 0 || len(cfg.ExcludeBody) > 0
	if includeActive && excludeActive {
		return ErrFilterConflict
	}

	if cfg.IMAPHost != "" {
		if cfg.IMAPPort <= 0 || cfg.IMAPPort > 65535 {
			return fmt.Errorf("--imap-port must be between 1 and 65535")
		}
		if cfg.IMAPUser == "" {
			return fmt.Errorf("--imap-user is required with --imap-host")
		}
		if cfg.IMAPPass == "" && !cfg.DryRun {
			return fmt.Errorf("IMAP password must be provided via --imap-pass or IMAP_PASS env var")
		}
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: %s", ErrInvalidLogLevel, cfg.LogLevel)
	}

	return nil
}

func normalizeLogLevel(level string) string {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		return "warn"
	}
	if level == "" {
		return "info"
	}
	return level
}

// stringSlice prefers explicitly set flags, then env/config values.
func stringSlice(v *viper.Viper, flags *pflag.FlagSet, key string) []string {
	if f := flags.Lookup(key); f != nil && f.Changed {
		out, err := flags.GetStringArray(key)
		if err == nil {
			return out
		}
	}
	return v.GetStringSlice(key)
}

// intOr returns the value for key, or def when the key is unknown to both
// the command and the other layers.
func intOr(v *viper.Viper, flags *pflag.FlagSet, key string, def int) int {
	if flags.Lookup(key) == nil && !v.IsSet(key) {
		return def
	}
	return v.GetInt(key)
}
