package config

import (
	"errors"
	"net/url"
	"os"
	"strings"
	"time"

	flags "github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
)

type Supabase struct {
	URL     string `long:"supabase-url" env:"VITE_SUPABASE_URL" description:"Supabase project URL"`
	AnonKey string `long:"supabase-anon-key" env:"VITE_SUPABASE_ANON_KEY" description:"Supabase anon key"`
}

type Options struct {
	Supabase

	HTTPAddr        string `long:"http-addr" env:"HTTP_ADDR" default:":8082" description:"Address the API listens on"`
	JWTSecret       string `long:"jwt-secret" env:"JWT_SECRET" description:"Secret used to sign session cookies"`
	ServiceKey      string `long:"supabase-service-key" env:"SUPABASE_SERVICE_KEY" description:"Supabase service role key, used to repair account claims"`
	VisitorEmail    string `long:"visitor-email" env:"SUPABASE_VISITOR_EMAIL" description:"Shared visitor account email"`
	VisitorPassword string `long:"visitor-password" env:"SUPABASE_VISITOR_PASSWORD" description:"Shared visitor account password"`
	MySQLDSN        string `long:"mysql-dsn" env:"MYSQL_DSN" description:"MySQL DSN of the session store"`
	RedisAddr       string `long:"redis-addr" env:"REDIS_ADDR" description:"Redis address; when set cached tokens are shared between instances"`

	SessionCookieName string        `long:"session-cookie" env:"SESSION_COOKIE_NAME" default:"session" description:"Name of the session cookie"`
	SessionTTL        time.Duration `long:"session-ttl" env:"SESSION_TTL" default:"1h" description:"Lifetime of a login session"`
	SecureCookies     bool          `long:"secure-cookies" env:"SECURE_COOKIES" description:"Mark session cookies Secure"`

	TokenSkew         time.Duration `long:"token-skew" env:"TOKEN_SKEW" default:"10s" description:"Refresh cached tokens this long before they expire"`
	TokenSingleFlight string        `long:"token-single-flight" env:"TOKEN_SINGLE_FLIGHT" default:"true" choice:"true" choice:"false" description:"Collapse concurrent token refreshes"`

	Debug bool `long:"debug" env:"DEBUG" description:"Enable verbose debug output"`
}

func (o Options) SingleFlight() bool {
	return o.TokenSingleFlight == "true"
}

type TailOptions struct {
	Supabase

	APIBaseURL string `long:"api-base-url" env:"API_BASE_URL" default:"http://localhost:8082" description:"Base URL of the eventhub API"`
	EventID    string `long:"event" short:"e" env:"EVENT_ID" description:"Event whose attendees are followed"`
	Debug      bool   `long:"debug" env:"DEBUG" description:"Enable verbose debug output"`
}

// LoadEnv reads the env file named by START (e.g. .env-local, .env.docker),
// falling back to .env. A missing file is not an error.
func LoadEnv() {
	if file := os.Getenv("START"); file != "" {
		_ = godotenv.Load(file)
		return
	}
	_ = godotenv.Load()
}

func ParseOptions(args []string) (Options, error) {
	LoadEnv()
	opts := Options{}
	if _, err := flags.NewParser(&opts, flags.Default).ParseArgs(args); err != nil {
		return Options{}, err
	}
	return opts, nil
}

func ParseTailOptions(args []string) (TailOptions, error) {
	LoadEnv()
	opts := TailOptions{}
	if _, err := flags.NewParser(&opts, flags.Default).ParseArgs(args); err != nil {
		return TailOptions{}, err
	}
	return opts, nil
}

func ValidateRequired(opts Options) error {
	if err := validateSupabase(opts.Supabase); err != nil {
		return err
	}
	if strings.TrimSpace(opts.JWTSecret) == "" {
		return errors.New("JWT_SECRET is not set in environment")
	}
	if strings.TrimSpace(opts.MySQLDSN) == "" {
		return errors.New("MYSQL_DSN is not set in environment")
	}
	if strings.TrimSpace(opts.ServiceKey) == "" {
		return errors.New("SUPABASE_SERVICE_KEY is not set in environment")
	}
	if strings.TrimSpace(opts.VisitorEmail) == "" || opts.VisitorPassword == "" {
		return errors.New("visitor credentials are not set in environment")
	}
	if opts.SessionTTL <= 0 {
		return errors.New("SESSION_TTL must be positive")
	}
	if opts.TokenSkew < 0 {
		return errors.New("TOKEN_SKEW must not be negative")
	}
	return nil
}

func ValidateTail(opts TailOptions) error {
	if err := validateSupabase(opts.Supabase); err != nil {
		return err
	}
	if err := validateHTTPURL(opts.APIBaseURL); err != nil {
		return errors.New("API_BASE_URL " + err.Error())
	}
	if strings.TrimSpace(opts.EventID) == "" {
		return errors.New("event id is required")
	}
	return nil
}

func validateSupabase(s Supabase) error {
	if err := validateHTTPURL(s.URL); err != nil {
		return errors.New("VITE_SUPABASE_URL " + err.Error())
	}
	if strings.TrimSpace(s.AnonKey) == "" {
		return errors.New("VITE_SUPABASE_ANON_KEY is not set in environment")
	}
	return nil
}

func validateHTTPURL(raw string) error {
	value := strings.TrimSpace(raw)
	if value == "" {
		return errors.New("is not set in environment")
	}
	parsed, err := url.Parse(value)
	if err != nil || parsed.Host == "" {
		return errors.New("must be an absolute URL like https://example.com")
	}
	if !strings.EqualFold(parsed.Scheme, "http") && !strings.EqualFold(parsed.Scheme, "https") {
		return errors.New("scheme must be http or https")
	}
	return nil
}
