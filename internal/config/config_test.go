package config_test

import (
	"testing"
	"time"

	"eventhub/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setServerEnv(t *testing.T) {
	t.Setenv("START", "testdata/none.env")
	t.Setenv("VITE_SUPABASE_URL", "https://abc.supabase.co")
	t.Setenv("VITE_SUPABASE_ANON_KEY", "anon")
	t.Setenv("SUPABASE_SERVICE_KEY", "service")
	t.Setenv("SUPABASE_VISITOR_EMAIL", "visitor@example.com")
	t.Setenv("SUPABASE_VISITOR_PASSWORD", "pw")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("MYSQL_DSN", "user:pw@tcp(localhost:3306)/eventhub?parseTime=true")
}

func TestParseOptions_Defaults(t *testing.T) {
	setServerEnv(t)

	opts, err := config.ParseOptions(nil)
	require.NoError(t, err)
	require.NoError(t, config.ValidateRequired(opts))

	assert.Equal(t, ":8082", opts.HTTPAddr)
	assert.Equal(t, "session", opts.SessionCookieName)
	assert.Equal(t, time.Hour, opts.SessionTTL)
	assert.Equal(t, 10*time.Second, opts.TokenSkew)
	assert.True(t, opts.SingleFlight())
	assert.Equal(t, "https://abc.supabase.co", opts.URL)
	assert.Empty(t, opts.RedisAddr)
}

func TestParseOptions_Overrides(t *testing.T) {
	setServerEnv(t)
	t.Setenv("TOKEN_SINGLE_FLIGHT", "false")
	t.Setenv("SESSION_TTL", "30m")

	opts, err := config.ParseOptions([]string{"--http-addr", ":9000", "--token-skew", "1m"})
	require.NoError(t, err)

	assert.Equal(t, ":9000", opts.HTTPAddr)
	assert.Equal(t, time.Minute, opts.TokenSkew)
	assert.Equal(t, 30*time.Minute, opts.SessionTTL)
	assert.False(t, opts.SingleFlight())
}

func TestValidateRequired(t *testing.T) {
	setServerEnv(t)
	base, err := config.ParseOptions(nil)
	require.NoError(t, err)

	tests := []struct {
		name   string
		modify func(*config.Options)
		want   string
	}{
		{name: "jwt secret", modify: func(o *config.Options) { o.JWTSecret = "" }, want: "JWT_SECRET"},
		{name: "mysql", modify: func(o *config.Options) { o.MySQLDSN = " " }, want: "MYSQL_DSN"},
		{name: "supabase url", modify: func(o *config.Options) { o.URL = "abc.supabase.co" }, want: "VITE_SUPABASE_URL"},
		{name: "anon key", modify: func(o *config.Options) { o.AnonKey = "" }, want: "VITE_SUPABASE_ANON_KEY"},
		{name: "service key", modify: func(o *config.Options) { o.ServiceKey = "" }, want: "SUPABASE_SERVICE_KEY"},
		{name: "visitor", modify: func(o *config.Options) { o.VisitorPassword = "" }, want: "visitor credentials"},
		{name: "ttl", modify: func(o *config.Options) { o.SessionTTL = 0 }, want: "SESSION_TTL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := base
			tt.modify(&opts)
			assert.ErrorContains(t, config.ValidateRequired(opts), tt.want)
		})
	}
}

func TestParseTailOptions(t *testing.T) {
	t.Setenv("START", "testdata/none.env")
	t.Setenv("VITE_SUPABASE_URL", "http://localhost:54321")
	t.Setenv("VITE_SUPABASE_ANON_KEY", "anon")

	opts, err := config.ParseTailOptions([]string{"-e", "e1"})
	require.NoError(t, err)
	require.NoError(t, config.ValidateTail(opts))
	assert.Equal(t, "http://localhost:8082", opts.APIBaseURL)
	assert.Equal(t, "e1", opts.EventID)

	opts.EventID = ""
	assert.ErrorContains(t, config.ValidateTail(opts), "event id")

	opts.EventID = "e1"
	opts.APIBaseURL = "ftp://x"
	assert.ErrorContains(t, config.ValidateTail(opts), "API_BASE_URL")
}
