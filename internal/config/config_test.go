package config

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ballotguard.org/internal/auth"
)

func baseEnv() map[string]string {
	return map[string]string{
		"BALLOTGUARD_ACCESS_TOKEN_SECRET":  "access-secret",
		"BALLOTGUARD_REFRESH_TOKEN_SECRET": "refresh-secret",
	}
}

func requireConfigError(t *testing.T, err error, field string) {
	t.Helper()
	var cfgErr *auth.ConfigError
	require.True(t, errors.As(err, &cfgErr), "expected *auth.ConfigError, got %v", err)
	require.Contains(t, strings.ToLower(err.Error()), field)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(baseEnv())
	require.NoError(t, err)
	require.Equal(t, 24*time.Hour, cfg.AccessTTL)
	require.Equal(t, 168*time.Hour, cfg.RefreshTTL)
	require.Equal(t, ":8080", cfg.HTTPAddr)
	require.Equal(t, ":9090", cfg.GRPCAddr)
	require.Equal(t, 10, cfg.BackupCodeCount)
	require.Equal(t, 1024, cfg.AuditQueueSize)
	require.Equal(t, 2*time.Second, cfg.LookupTimeout)
	require.Empty(t, cfg.PGDSN)
}

func TestLoadOverrides(t *testing.T) {
	vars := baseEnv()
	vars["BALLOTGUARD_ACCESS_TOKEN_TTL"] = "15m"
	vars["BALLOTGUARD_CORS_ALLOWED_ORIGINS"] = "https://a.example,https://b.example"
	vars["BALLOTGUARD_BACKUP_CODE_COUNT"] = "8"
	vars["BALLOTGUARD_TRUSTED_PROXIES"] = "10.0.0.0/8,192.0.2.10"

	cfg, err := LoadFrom(vars)
	require.NoError(t, err)
	require.Equal(t, []string{"10.0.0.0/8", "192.0.2.10"}, cfg.TrustedProxies)
	require.Equal(t, 15*time.Minute, cfg.AccessTTL)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	require.Equal(t, 8, cfg.BackupCodeCount)
}

func TestMissingSecretIsFatal(t *testing.T) {
	vars := baseEnv()
	delete(vars, "BALLOTGUARD_ACCESS_TOKEN_SECRET")
	_, err := LoadFrom(vars)
	requireConfigError(t, err, "access_token_secret")
}

func TestInvalidValues(t *testing.T) {
	cases := map[string]struct {
		key, value, field string
	}{
		"shared secret":     {"BALLOTGUARD_REFRESH_TOKEN_SECRET", "access-secret", "refresh_token_secret"},
		"zero access ttl":   {"BALLOTGUARD_ACCESS_TOKEN_TTL", "0s", "access_token_ttl"},
		"negative refresh":  {"BALLOTGUARD_REFRESH_TOKEN_TTL", "-1h", "refresh_token_ttl"},
		"too many codes":    {"BALLOTGUARD_BACKUP_CODE_COUNT", "12", "backup_code_count"},
		"missing role file": {"BALLOTGUARD_ROLE_TABLE_PATH", "/nonexistent/roles.yaml", "role_table_path"},
		"bad proxy":         {"BALLOTGUARD_TRUSTED_PROXIES", "10.0.0.0/8,proxy.internal", "trusted_proxies"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			vars := baseEnv()
			vars[tc.key] = tc.value
			_, err := LoadFrom(vars)
			requireConfigError(t, err, tc.field)
		})
	}
}

func TestUnparseableDuration(t *testing.T) {
	vars := baseEnv()
	vars["BALLOTGUARD_ACCESS_TOKEN_TTL"] = "soon"
	_, err := LoadFrom(vars)
	var cfgErr *auth.ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestBootstrapAdminNeedsBothFields(t *testing.T) {
	vars := baseEnv()
	vars["BALLOTGUARD_BOOTSTRAP_ADMIN_EMAIL"] = "root@example.org"
	_, err := LoadFrom(vars)
	requireConfigError(t, err, "bootstrap_admin")

	vars["BALLOTGUARD_BOOTSTRAP_ADMIN_PASSWORD_HASH"] = "$2a$10$abcdefghijklmnopqrstuv"
	cfg, err := LoadFrom(vars)
	require.NoError(t, err)
	require.Equal(t, "root@example.org", cfg.BootstrapAdminEmail)
}
