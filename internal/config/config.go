// Package config loads the server's configuration: a JSON file with //
// comments, PRIVCHAT_-prefixed environment overrides, and a handful of
// flags, with flags taking precedence over env, which takes precedence
// over the file, which takes precedence over hardcoded defaults.
//
// Grounded on the teacher's own config pattern (server/auth_token.go's
// Init(jsonconf string), fed a json.RawMessage section sliced out of a
// single top-level config.json by main.go) for the JSON-with-comments
// file shape via github.com/tinode/jsonco, and on
// github.com/caarlos0/env (present in the retrieved pack's dependency
// manifests for comparable notification-service configs) for the
// struct-tag-driven environment override pass, rather than hand-rolling
// reflection over os.Getenv.
package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/caarlos0/env/v9"
	"github.com/tinode/jsonco"
)

// Postgres holds the primary store's connection settings.
type Postgres struct {
	DSN             string `json:"dsn" env:"DSN"`
	MaxOpenConns    int    `json:"max_open_conns" env:"MAX_OPEN_CONNS" envDefault:"32"`
	MaxIdleConns    int    `json:"max_idle_conns" env:"MAX_IDLE_CONNS" envDefault:"8"`
}

// Redis holds the L2 cache / offline-queue / catch-up broker's settings.
type Redis struct {
	Addr     string `json:"addr" env:"ADDR" envDefault:"127.0.0.1:6379"`
	Password string `json:"password" env:"PASSWORD"`
	DB       int    `json:"db" env:"DB" envDefault:"0"`
}

// Cache configures internal/cache's two tiers.
type Cache struct {
	L1Size int           `json:"l1_size" env:"L1_SIZE" envDefault:"100000"`
	TTL    time.Duration `json:"ttl" env:"TTL" envDefault:"10m"`
}

// OfflineQueue holds cap and TTL settings for the offline mailbox. They
// are loaded here, but privchatd does not pass them to
// internal/offlinequeue, which applies its own built-in defaults.
type OfflineQueue struct {
	MaxLen int           `json:"max_len" env:"MAX_LEN" envDefault:"500"`
	TTL    time.Duration `json:"ttl" env:"TTL" envDefault:"336h"`
}

// Gateway configures internal/gateway's admission semaphore.
type Gateway struct {
	ListenAddr  string `json:"listen_addr" env:"LISTEN_ADDR" envDefault:":6060"`
	MaxInFlight int    `json:"max_in_flight" env:"MAX_IN_FLIGHT" envDefault:"1024"`
}

// Auth configures the token authenticator, mirroring the teacher's own
// auth_token.go config shape (key/serial_num/expire_in).
type Auth struct {
	Key       []byte `json:"key" env:"KEY"`
	SerialNum int    `json:"serial_num" env:"SERIAL_NUM"`
	ExpireIn  int    `json:"expire_in" env:"EXPIRE_IN" envDefault:"1209600"`
}

// FCM configures the Firebase Cloud Messaging push provider.
type FCM struct {
	CredentialsFile string `json:"credentials_file" env:"CREDENTIALS_FILE"`
}

// APNs configures the Apple Push Notification service provider.
type APNs struct {
	KeyPath string `json:"key_path" env:"KEY_PATH"`
	KeyID   string `json:"key_id" env:"KEY_ID"`
	TeamID  string `json:"team_id" env:"TEAM_ID"`
	Topic   string `json:"topic" env:"TOPIC"`
	Sandbox bool   `json:"sandbox" env:"SANDBOX"`
}

// Push bundles both provider configs; either may be left zero-valued to
// disable that leg.
type Push struct {
	FCM  FCM  `json:"fcm" envPrefix:"FCM_"`
	APNs APNs `json:"apns" envPrefix:"APNS_"`
}

// Config is the full server configuration tree.
type Config struct {
	Postgres     Postgres     `json:"postgres" envPrefix:"POSTGRES_"`
	Redis        Redis        `json:"redis" envPrefix:"REDIS_"`
	Cache        Cache        `json:"cache" envPrefix:"CACHE_"`
	OfflineQueue OfflineQueue `json:"offline_queue" envPrefix:"OFFLINE_QUEUE_"`
	Gateway      Gateway      `json:"gateway" envPrefix:"GATEWAY_"`
	Auth         Auth         `json:"auth" envPrefix:"AUTH_"`
	Push         Push         `json:"push" envPrefix:"PUSH_"`
	DebugAddr    string       `json:"debug_addr" env:"DEBUG_ADDR" envDefault:":6061"`
}

// Default returns a Config populated with the envDefault values only,
// as if no file or environment overrides were present.
func Default() (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "PRIVCHAT_"}); err != nil {
		return Config{}, fmt.Errorf("config: parse defaults: %w", err)
	}
	return cfg, nil
}

// Load reads path (JSON with // line comments, stripped via jsonco, same
// as the teacher's own config file convention), then applies
// PRIVCHAT_-prefixed environment overrides on top. An empty path skips
// the file and returns env-overridden defaults.
func Load(path string) (Config, error) {
	cfg, err := Default()
	if err != nil {
		return Config{}, err
	}
	if path == "" {
		return cfg, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	raw, err := io.ReadAll(jsonco.New(f))
	if err != nil {
		return Config{}, fmt.Errorf("config: strip comments from %s: %w", path, err)
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "PRIVCHAT_"}); err != nil {
		return Config{}, fmt.Errorf("config: apply env overrides: %w", err)
	}
	return cfg, nil
}

// BindFlags registers the small set of flags that outrank both env and
// file: the config path itself plus the two listen addresses, which
// operators commonly override per-invocation rather than per-environment.
func BindFlags(fs *flag.FlagSet) (configPath, listenAddr, debugAddr *string) {
	configPath = fs.String("config", "", "path to config.json (JSON with // comments)")
	listenAddr = fs.String("listen", "", "override gateway.listen_addr")
	debugAddr = fs.String("debug-addr", "", "override debug_addr")
	return
}

// ApplyFlags overlays non-empty flag values onto cfg, giving flags the
// final word over file and environment.
func ApplyFlags(cfg Config, listenAddr, debugAddr string) Config {
	if listenAddr != "" {
		cfg.Gateway.ListenAddr = listenAddr
	}
	if debugAddr != "" {
		cfg.DebugAddr = debugAddr
	}
	return cfg
}

// Validate checks the invariants the server can't start without.
func Validate(cfg Config) error {
	if cfg.Postgres.DSN == "" {
		return fmt.Errorf("config: postgres.dsn is required")
	}
	if len(cfg.Auth.Key) < 32 {
		return fmt.Errorf("config: auth.key must be at least 32 bytes")
	}
	if cfg.Auth.ExpireIn <= 0 {
		return fmt.Errorf("config: auth.expire_in must be positive")
	}
	if cfg.Gateway.MaxInFlight <= 0 {
		return fmt.Errorf("config: gateway.max_in_flight must be positive")
	}
	return nil
}
