package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// validConfig returns defaults with enough credentials filled in to pass
// validation in full mode.
func validConfig() Config {
	cfg := Defaults()
	cfg.Exchange.APIKey = "key"
	cfg.Exchange.APISecret = "secret"
	return cfg
}

func TestDefaults_ValidateWithCredentials(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Expected valid config, got %v", err)
	}
}

func TestDefaults_RequireExchangeCredentials(t *testing.T) {
	cfg := Defaults()
	err := cfg.Validate()
	if err == nil {
		t.Fatal("Expected validation error for missing exchange credentials")
	}
	if !strings.Contains(err.Error(), "exchange") {
		t.Errorf("Expected exchange error, got %v", err)
	}
}

func TestValidate_ServeModeSkipsExchange(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "serve"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Expected serve mode to validate without credentials, got %v", err)
	}
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "turbo"
	cfg.Log.Level = "verbose"
	cfg.Server.Port = 99999
	cfg.Database.PoolMinConns = 50
	cfg.Trading.Pairs = []string{"BTCUSDT"}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Expected validation error")
	}
	for _, want := range []string{
		`unknown mode "turbo"`,
		`unknown log level "verbose"`,
		"server: port must be 1-65535",
		"pool_min_conns must not exceed pool_max_conns",
		`pair "BTCUSDT" must be BASE/QUOTE`,
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Expected error to mention %q, got:\n%v", want, err)
		}
	}
}

func TestValidate_ArchiveRequiresS3(t *testing.T) {
	cfg := validConfig()
	cfg.Archive.Enabled = true
	cfg.S3.Bucket = ""
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "s3: bucket") {
		t.Errorf("Expected s3 bucket error, got %v", err)
	}
}

func TestValidate_EncryptedKeyNeedsPassword(t *testing.T) {
	cfg := validConfig()
	cfg.Exchange.APISecret = ""
	cfg.Exchange.EncryptedKeyPath = "/keys/exchange.enc"
	cfg.Exchange.KeyPassword = ""
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "key_password") {
		t.Errorf("Expected key_password error, got %v", err)
	}
}

func TestValidate_RiskBounds(t *testing.T) {
	cfg := validConfig()
	cfg.Risk.MaxOpenPositions = 0
	cfg.Risk.MaxOrderNotional = -1
	err := cfg.Validate()
	if err == nil {
		t.Fatal("Expected validation error")
	}
	if !strings.Contains(err.Error(), "max_open_positions") || !strings.Contains(err.Error(), "max_order_notional") {
		t.Errorf("Expected risk errors, got %v", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("TRADECORE_MODE", "serve")
	t.Setenv("TRADECORE_SERVER_PORT", "9100")
	t.Setenv("TRADECORE_TRADING_PAIRS", "SOL/USDT, DOGE/USDT")
	t.Setenv("TRADECORE_FEED_SNAPSHOT_INTERVAL", "250ms")
	t.Setenv("TRADECORE_DB_RUN_MIGRATIONS", "false")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Mode != "serve" {
		t.Errorf("Expected mode serve, got %q", cfg.Mode)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("Expected port 9100, got %d", cfg.Server.Port)
	}
	if len(cfg.Trading.Pairs) != 2 || cfg.Trading.Pairs[0] != "SOL/USDT" || cfg.Trading.Pairs[1] != "DOGE/USDT" {
		t.Errorf("Expected trimmed pair list, got %v", cfg.Trading.Pairs)
	}
	if cfg.Feed.SnapshotInterval.Duration != 250*time.Millisecond {
		t.Errorf("Expected 250ms snapshot interval, got %v", cfg.Feed.SnapshotInterval.Duration)
	}
	if cfg.Database.RunMigrations {
		t.Error("Expected run_migrations override to false")
	}
}

func TestLoad_EmptyEnvDoesNotOverride(t *testing.T) {
	t.Setenv("TRADECORE_MODE", "serve")
	t.Setenv("TRADECORE_SERVER_PORT", "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != Defaults().Server.Port {
		t.Errorf("Expected default port, got %d", cfg.Server.Port)
	}
}

func TestLoad_TOMLFile(t *testing.T) {
	t.Setenv("TRADECORE_MODE", "") // make sure no ambient override wins

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
mode = "ingest"

[exchange]
api_key = "k"
api_secret = "s"

[feed]
snapshot_interval = "2s"
timeframes = ["5m", "4h"]

[trading]
pairs = ["ETH/USDT"]
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Mode != "ingest" {
		t.Errorf("Expected mode ingest, got %q", cfg.Mode)
	}
	if cfg.Feed.SnapshotInterval.Duration != 2*time.Second {
		t.Errorf("Expected 2s interval, got %v", cfg.Feed.SnapshotInterval.Duration)
	}
	if len(cfg.Feed.Timeframes) != 2 || cfg.Feed.Timeframes[1] != "4h" {
		t.Errorf("Unexpected timeframes %v", cfg.Feed.Timeframes)
	}
	// Sections absent from the file keep their defaults.
	if cfg.Redis.Addr != "localhost:6379" {
		t.Errorf("Expected default redis addr, got %q", cfg.Redis.Addr)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatal("Expected error for missing config file")
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Database.Password = "dbpass"
	cfg.Redis.Password = "redispass"
	cfg.S3.SecretKey = "s3secret"
	cfg.Notify.TelegramToken = "123:abc"
	cfg.Server.APIKeys = []string{"token-1", "token-2"}

	red := RedactedConfig(&cfg)

	for name, got := range map[string]string{
		"database password": red.Database.Password,
		"redis password":    red.Redis.Password,
		"s3 secret":         red.S3.SecretKey,
		"exchange secret":   red.Exchange.APISecret,
		"telegram token":    red.Notify.TelegramToken,
	} {
		if got != "***" {
			t.Errorf("Expected %s to be redacted, got %q", name, got)
		}
	}
	for i, k := range red.Server.APIKeys {
		if k != "***" {
			t.Errorf("Expected api key %d redacted, got %q", i, k)
		}
	}

	// Empty secrets stay empty rather than being replaced.
	if red.Database.DSN != "" {
		t.Errorf("Expected empty DSN to stay empty, got %q", red.Database.DSN)
	}

	// The original must be untouched.
	if cfg.Database.Password != "dbpass" || cfg.Server.APIKeys[0] != "token-1" {
		t.Error("RedactedConfig mutated the original config")
	}

	// Slice copies must be independent.
	red.Trading.Pairs[0] = "XXX/YYY"
	if cfg.Trading.Pairs[0] == "XXX/YYY" {
		t.Error("Redacted copy shares the pairs slice with the original")
	}
}

func TestDuration_TextRoundTrip(t *testing.T) {
	var d duration
	if err := d.UnmarshalText([]byte("5m")); err != nil {
		t.Fatalf("UnmarshalText failed: %v", err)
	}
	if d.Duration != 5*time.Minute {
		t.Errorf("Expected 5m, got %v", d.Duration)
	}
	text, err := d.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText failed: %v", err)
	}
	if string(text) != "5m0s" {
		t.Errorf("Expected 5m0s, got %s", text)
	}
	if err := d.UnmarshalText([]byte("soon")); err == nil {
		t.Error("Expected error for unparseable duration")
	}
}
