// Package cookie reads a signed JWT out of a named request cookie and
// decodes its claims into a caller supplied, validated struct.
//
// A missing cookie and a cookie that fails verification or validation are
// the only outcomes callers need to tell apart; with allowMissing both read
// as "no session". A nil request or parser is a programming error and is
// reported regardless of allowMissing.
package cookie

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"regexp"
	"strings"
	"sync"

	jwt "github.com/dgrijalva/jwt-go"
	"github.com/go-playground/validator/v10"
)

var (
	ErrMissingContext = errors.New("missing context")
	ErrExtractToken   = errors.New("failed to extract token from cookie")
	ErrParseData      = errors.New("failed to parse data from cookie")
)

// Verifier checks a raw token and returns its claims.
type Verifier interface {
	Verify(token string, secret []byte) (map[string]any, error)
}

// HS256 verifies tokens signed with HMAC SHA-256, the only algorithm
// accepted for session cookies.
type HS256 struct{}

func (HS256) Verify(token string, secret []byte) (map[string]any, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		method, ok := t.Method.(*jwt.SigningMethodHMAC)
		if !ok || method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	mc, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	return mc, nil
}

// Sign produces an HS256 token for claims, suitable as a cookie value.
func Sign(claims jwt.Claims, secret []byte) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

type Parser struct {
	secret   []byte
	verifier Verifier
	validate *validator.Validate
	logger   *slog.Logger

	patterns sync.Map // cookie name -> *regexp.Regexp
}

type Option func(*Parser)

func WithVerifier(v Verifier) Option {
	return func(p *Parser) { p.verifier = v }
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Parser) { p.logger = logger }
}

func NewParser(secret []byte, opts ...Option) *Parser {
	p := &Parser{
		secret:   secret,
		verifier: HS256{},
		validate: validator.New(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ParseDataFromCookie returns the claims of cookieName decoded into T. With
// allowMissing a missing or invalid cookie yields nil, nil.
func ParseDataFromCookie[T any](p *Parser, r *http.Request, cookieName string, allowMissing bool) (*T, error) {
	if p == nil || r == nil {
		return nil, ErrMissingContext
	}

	raw := extractToken(r.Header.Values("Cookie"), p.pattern(cookieName))
	if raw == "" {
		if allowMissing {
			return nil, nil
		}
		return nil, ErrExtractToken
	}

	data, err := decode[T](p, raw)
	if err != nil {
		if allowMissing {
			p.logger.Debug("ignoring unreadable cookie", "cookie", cookieName, "error", err)
			return nil, nil
		}
		p.logger.Warn("rejecting unreadable cookie", "cookie", cookieName, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrParseData, err)
	}
	return data, nil
}

func decode[T any](p *Parser, raw string) (*T, error) {
	claims, err := p.verifier.Verify(raw, p.secret)
	if err != nil {
		return nil, err
	}

	buf, err := json.Marshal(claims)
	if err != nil {
		return nil, err
	}
	var out T
	if err := json.Unmarshal(buf, &out); err != nil {
		return nil, err
	}

	if reflect.TypeFor[T]().Kind() == reflect.Struct {
		if err := p.validate.Struct(&out); err != nil {
			return nil, err
		}
	}
	return &out, nil
}

// pattern returns the compiled matcher for name, or nil for an empty name.
func (p *Parser) pattern(name string) *regexp.Regexp {
	if name == "" {
		return nil
	}
	if re, ok := p.patterns.Load(name); ok {
		return re.(*regexp.Regexp)
	}
	re, _ := p.patterns.LoadOrStore(name, regexp.MustCompile(`(?:^|;)\s*`+regexp.QuoteMeta(name)+`=([^;]*)`))
	return re.(*regexp.Regexp)
}

func extractToken(headers []string, pattern *regexp.Regexp) string {
	if pattern == nil {
		return ""
	}
	for _, header := range headers {
		if m := pattern.FindStringSubmatch(header); m != nil {
			if v := strings.TrimSpace(m[1]); v != "" {
				return v
			}
		}
	}
	return ""
}
