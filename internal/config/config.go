package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type Mode string

const (
	// ModeLocal seeds a fixture entity and relaxes nothing else.
	ModeLocal  Mode = "local"
	ModeOnline Mode = "online"
)

type Config struct {
	Mode      Mode   `env:"MODE" envDefault:"online"`
	HTTPAddr  string `env:"HTTP_ADDR" envDefault:":3000"`
	PublicURL string `env:"PUBLIC_URL" envDefault:"http://localhost:3000"`

	// ToolSecret is expanded into the access-token and launch-key secrets.
	ToolSecret    string `env:"TOOL_SECRET,unset"`
	TestingSecret string `env:"TESTING_SECRET"`

	AccessTokenTTL  time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"8h"`
	LaunchKeyTTL    time.Duration `env:"LAUNCH_KEY_TTL" envDefault:"8h"`
	DetailsTokenTTL time.Duration `env:"DETAILS_TOKEN_TTL" envDefault:"60s"`

	// NonceTTL covers OIDC launch state. The embed session only spans the
	// redirect to the repository's login; the deep-link nonce waits while the
	// user browses the repository.
	NonceTTL         time.Duration `env:"NONCE_TTL" envDefault:"10m"`
	EmbedSessionTTL  time.Duration `env:"EMBED_SESSION_TTL" envDefault:"1m"`
	DeepLinkNonceTTL time.Duration `env:"DEEPLINK_NONCE_TTL" envDefault:"168h"`

	DBDriver string `env:"DB_DRIVER" envDefault:"sqlite"`
	DBDSN    string `env:"DB_DSN" envDefault:"file:editor.db"`

	NonceBackend string `env:"NONCE_BACKEND" envDefault:"sql"` // memory|sql|redis
	RedisURL     string `env:"REDIS_URL"`

	RegistryFile string `env:"REGISTRY_FILE" envDefault:"registry.yaml"`

	// EmbedDeploymentID is the deployment id the editor announces to the
	// repository while acting as its platform.
	EmbedDeploymentID string `env:"EMBED_DEPLOYMENT_ID" envDefault:"2"`

	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`

	LogJSON  bool   `env:"LOG_JSON" envDefault:"true"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Mode {
	case ModeLocal, ModeOnline:
	default:
		errs = append(errs, fmt.Errorf("config: MODE %q (expected local|online)", c.Mode))
	}
	if len(c.ToolSecret) < 16 {
		errs = append(errs, errors.New("config: TOOL_SECRET must be set (>= 16 bytes)"))
	}
	if !strings.HasPrefix(c.PublicURL, "http://") && !strings.HasPrefix(c.PublicURL, "https://") {
		errs = append(errs, fmt.Errorf("config: PUBLIC_URL %q is not an absolute http(s) URL", c.PublicURL))
	}
	c.PublicURL = strings.TrimSuffix(c.PublicURL, "/")
	if c.EmbedSessionTTL > c.DeepLinkNonceTTL {
		errs = append(errs, errors.New("config: EMBED_SESSION_TTL must not exceed DEEPLINK_NONCE_TTL"))
	}
	switch c.NonceBackend {
	case "memory", "sql":
	case "redis":
		if c.RedisURL == "" {
			errs = append(errs, errors.New("config: NONCE_BACKEND=redis requires REDIS_URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: NONCE_BACKEND %q (expected memory|sql|redis)", c.NonceBackend))
	}
	return errors.Join(errs...)
}

// Local reports whether the process runs in local development mode.
func (c Config) Local() bool { return c.Mode == ModeLocal }
