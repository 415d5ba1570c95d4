package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"ballotguard.org/internal/auth"
)

// Prefix is prepended to every environment variable name.
const Prefix = "BALLOTGUARD_"

// Config is the process configuration. Secrets have no defaults.
type Config struct {
	AccessTokenSecret  string        `env:"ACCESS_TOKEN_SECRET,required,notEmpty"`
	RefreshTokenSecret string        `env:"REFRESH_TOKEN_SECRET,required,notEmpty"`
	AccessTTL          time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"24h"`
	RefreshTTL         time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"168h"`
	TokenIssuer        string        `env:"TOKEN_ISSUER" envDefault:"ballotguard"`

	HTTPAddr     string   `env:"HTTP_ADDR" envDefault:":8080"`
	GRPCAddr     string   `env:"GRPC_ADDR" envDefault:":9090"`
	CORSOrigins  []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
	MaxBodyBytes int64    `env:"MAX_BODY_BYTES" envDefault:"1048576"`
	RateLimitRPS float64  `env:"RATE_LIMIT_RPS" envDefault:"5"`
	RateBurst    int      `env:"RATE_LIMIT_BURST" envDefault:"10"`

	// TrustedProxies may set X-Forwarded-For. Empty means the direct peer is the client.
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`

	PGDSN         string        `env:"PG_DSN"`
	RoleTablePath string        `env:"ROLE_TABLE_PATH"`
	LookupTimeout time.Duration `env:"STORE_LOOKUP_TIMEOUT" envDefault:"2s"`

	// BootstrapAdmin seeds one SystemAdministrator into the memory stores.
	// The hash comes from `authctl hash-password`.
	BootstrapAdminEmail string `env:"BOOTSTRAP_ADMIN_EMAIL"`
	BootstrapAdminHash  string `env:"BOOTSTRAP_ADMIN_PASSWORD_HASH"`

	MFAIssuer       string `env:"MFA_ISSUER" envDefault:"Ballotguard"`
	BackupCodeCount int    `env:"BACKUP_CODE_COUNT" envDefault:"10"`
	AuditQueueSize  int    `env:"AUDIT_QUEUE_SIZE" envDefault:"1024"`

	Version string `env:"VERSION" envDefault:"dev"`
	Commit  string `env:"COMMIT" envDefault:"unknown"`
}

// Load reads the configuration from the process environment.
func Load() (Config, error) {
	return parse(env.Options{Prefix: Prefix})
}

// LoadFrom reads the configuration from vars, keyed by full variable name.
func LoadFrom(vars map[string]string) (Config, error) {
	return parse(env.Options{Prefix: Prefix, Environment: vars})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, configError(err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints. Every failure is an *auth.ConfigError.
func (c Config) Validate() error {
	switch {
	case c.AccessTokenSecret == c.RefreshTokenSecret:
		return &auth.ConfigError{Field: "refresh_token_secret", Err: errors.New("must differ from the access token secret")}
	case c.AccessTTL <= 0:
		return &auth.ConfigError{Field: "access_token_ttl", Err: fmt.Errorf("must be positive, got %s", c.AccessTTL)}
	case c.RefreshTTL <= 0:
		return &auth.ConfigError{Field: "refresh_token_ttl", Err: fmt.Errorf("must be positive, got %s", c.RefreshTTL)}
	case c.BackupCodeCount < 8 || c.BackupCodeCount > 10:
		return &auth.ConfigError{Field: "backup_code_count", Err: fmt.Errorf("must be between 8 and 10, got %d", c.BackupCodeCount)}
	case c.RateLimitRPS <= 0 || c.RateBurst <= 0:
		return &auth.ConfigError{Field: "rate_limit", Err: errors.New("rps and burst must be positive")}
	case c.AuditQueueSize < 0:
		return &auth.ConfigError{Field: "audit_queue_size", Err: errors.New("must not be negative")}
	case c.LookupTimeout <= 0:
		return &auth.ConfigError{Field: "store_lookup_timeout", Err: errors.New("must be positive")}
	}
	if (c.BootstrapAdminEmail == "") != (c.BootstrapAdminHash == "") {
		return &auth.ConfigError{Field: "bootstrap_admin", Err: errors.New("email and password hash must be set together")}
	}
	for _, entry := range c.TrustedProxies {
		if err := validProxy(entry); err != nil {
			return &auth.ConfigError{Field: "trusted_proxies", Err: err}
		}
	}
	if c.RoleTablePath != "" {
		if _, err := os.Stat(c.RoleTablePath); err != nil {
			return &auth.ConfigError{Field: "role_table_path", Err: err}
		}
	}
	return nil
}

// configError reports the first offending variable from an env parse failure.
func configError(err error) error {
	causes := []error{err}
	var agg env.AggregateError
	if errors.As(err, &agg) {
		causes = agg.Errors
	}
	for _, cause := range causes {
		switch e := cause.(type) {
		case env.VarIsNotSetError:
			return &auth.ConfigError{Field: fieldName(e.Key), Err: errors.New("is required")}
		case *env.VarIsNotSetError:
			return &auth.ConfigError{Field: fieldName(e.Key), Err: errors.New("is required")}
		case env.EmptyVarError:
			return &auth.ConfigError{Field: fieldName(e.Key), Err: errors.New("must not be empty")}
		case *env.EmptyVarError:
			return &auth.ConfigError{Field: fieldName(e.Key), Err: errors.New("must not be empty")}
		case env.ParseError:
			return &auth.ConfigError{Field: strings.ToLower(e.Name), Err: e.Err}
		case *env.ParseError:
			return &auth.ConfigError{Field: strings.ToLower(e.Name), Err: e.Err}
		}
	}
	return &auth.ConfigError{Field: "environment", Err: err}
}

func validProxy(entry string) error {
	entry = strings.TrimSpace(entry)
	if entry == "" {
		return nil
	}
	if strings.Contains(entry, "/") {
		_, err := netip.ParsePrefix(entry)
		return err
	}
	_, err := netip.ParseAddr(entry)
	return err
}

func fieldName(key string) string {
	return strings.ToLower(strings.TrimPrefix(key, Prefix))
}
