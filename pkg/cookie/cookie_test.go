package cookie_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"eventhub/pkg/claims"
	"eventhub/pkg/cookie"

	jwt "github.com/dgrijalva/jwt-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockVerifier struct {
	mock.Mock
}

func (m *mockVerifier) Verify(token string, secret []byte) (map[string]any, error) {
	args := m.Called(token, secret)
	if c := args.Get(0); c != nil {
		return c.(map[string]any), args.Error(1)
	}
	return nil, args.Error(1)
}

type fooPayload struct {
	Foo string `json:"foo" validate:"required"`
}

var secret = []byte("jwt-secret")

func requestWithCookie(header string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	if header != "" {
		r.Header.Set("Cookie", header)
	}
	return r
}

func TestParseDataFromCookie_StubbedVerifier(t *testing.T) {
	v := new(mockVerifier)
	p := cookie.NewParser(secret, cookie.WithVerifier(v))
	v.On("Verify", "tok-abc", secret).Return(map[string]any{"foo": "bar"}, nil).Once()

	got, err := cookie.ParseDataFromCookie[fooPayload](p, requestWithCookie("mycookie=tok-abc;"), "mycookie", false)

	require.NoError(t, err)
	assert.Equal(t, &fooPayload{Foo: "bar"}, got)
	v.AssertExpectations(t)
}

func TestParseDataFromCookie_MissingCookie(t *testing.T) {
	v := new(mockVerifier)
	p := cookie.NewParser(secret, cookie.WithVerifier(v))

	t.Run("allowed", func(t *testing.T) {
		got, err := cookie.ParseDataFromCookie[fooPayload](p, requestWithCookie(""), "mycookie", true)
		assert.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("required", func(t *testing.T) {
		got, err := cookie.ParseDataFromCookie[fooPayload](p, requestWithCookie("other=1"), "mycookie", false)
		assert.ErrorIs(t, err, cookie.ErrExtractToken)
		assert.Nil(t, got)
	})

	t.Run("empty value counts as missing", func(t *testing.T) {
		got, err := cookie.ParseDataFromCookie[fooPayload](p, requestWithCookie("mycookie=; other=1"), "mycookie", false)
		assert.ErrorIs(t, err, cookie.ErrExtractToken)
		assert.Nil(t, got)
	})

	v.AssertNotCalled(t, "Verify", mock.Anything, mock.Anything)
}

func TestParseDataFromCookie_MissingContext(t *testing.T) {
	p := cookie.NewParser(secret)

	for _, allow := range []bool{true, false} {
		_, err := cookie.ParseDataFromCookie[fooPayload](p, nil, "mycookie", allow)
		assert.ErrorIs(t, err, cookie.ErrMissingContext)

		_, err = cookie.ParseDataFromCookie[fooPayload](nil, requestWithCookie("mycookie=x"), "mycookie", allow)
		assert.ErrorIs(t, err, cookie.ErrMissingContext)
	}
}

func TestParseDataFromCookie_VerificationFailure(t *testing.T) {
	v := new(mockVerifier)
	p := cookie.NewParser(secret, cookie.WithVerifier(v))
	v.On("Verify", "tok-bad", secret).Return(nil, errors.New("signature is invalid"))

	got, err := cookie.ParseDataFromCookie[fooPayload](p, requestWithCookie("mycookie=tok-bad"), "mycookie", true)
	assert.NoError(t, err)
	assert.Nil(t, got)

	got, err = cookie.ParseDataFromCookie[fooPayload](p, requestWithCookie("mycookie=tok-bad"), "mycookie", false)
	assert.ErrorIs(t, err, cookie.ErrParseData)
	assert.Contains(t, err.Error(), "signature is invalid")
	assert.Nil(t, got)
}

func TestParseDataFromCookie_SchemaFailure(t *testing.T) {
	v := new(mockVerifier)
	p := cookie.NewParser(secret, cookie.WithVerifier(v))
	v.On("Verify", "tok-abc", secret).Return(map[string]any{"baz": 1}, nil)

	got, err := cookie.ParseDataFromCookie[fooPayload](p, requestWithCookie("mycookie=tok-abc"), "mycookie", true)
	assert.NoError(t, err)
	assert.Nil(t, got)

	_, err = cookie.ParseDataFromCookie[fooPayload](p, requestWithCookie("mycookie=tok-abc"), "mycookie", false)
	assert.ErrorIs(t, err, cookie.ErrParseData)
}

func TestParseDataFromCookie_SignedRoundTrip(t *testing.T) {
	p := cookie.NewParser(secret)
	want := claims.Session{
		UserID:    "u1",
		Email:     "alice@example.com",
		SessionID: "s1",
		StandardClaims: jwt.StandardClaims{
			IssuedAt:  time.Now().Unix(),
			ExpiresAt: time.Now().Add(time.Hour).Unix(),
		},
	}
	token, err := cookie.Sign(want, secret)
	require.NoError(t, err)

	got, err := cookie.ParseDataFromCookie[claims.Session](p, requestWithCookie("theme=dark; session="+token), "session", false)

	require.NoError(t, err)
	assert.Equal(t, &want, got)
}

func TestParseDataFromCookie_RejectsBadTokens(t *testing.T) {
	p := cookie.NewParser(secret)
	valid := claims.Session{
		UserID:         "u1",
		Email:          "alice@example.com",
		SessionID:      "s1",
		StandardClaims: jwt.StandardClaims{ExpiresAt: time.Now().Add(time.Hour).Unix()},
	}

	wrongSecret, err := cookie.Sign(valid, []byte("other-secret"))
	require.NoError(t, err)

	expiredClaims := valid
	expiredClaims.ExpiresAt = time.Now().Add(-time.Minute).Unix()
	expired, err := cookie.Sign(expiredClaims, secret)
	require.NoError(t, err)

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, valid).SignedString(secret)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{name: "wrong secret", token: wrongSecret},
		{name: "expired", token: expired},
		{name: "wrong algorithm", token: hs512},
		{name: "garbage", token: "not-a-jwt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := cookie.ParseDataFromCookie[claims.Session](p, requestWithCookie("session="+tt.token), "session", false)
			assert.ErrorIs(t, err, cookie.ErrParseData)
		})
	}
}

func TestParseDataFromCookie_NameIsNotASuffixMatch(t *testing.T) {
	v := new(mockVerifier)
	p := cookie.NewParser(secret, cookie.WithVerifier(v))
	v.On("Verify", "right", secret).Return(map[string]any{"foo": "ok"}, nil).Once()

	got, err := cookie.ParseDataFromCookie[fooPayload](p, requestWithCookie("xmycookie=wrong; mycookie=right"), "mycookie", false)

	require.NoError(t, err)
	assert.Equal(t, "ok", got.Foo)
	v.AssertExpectations(t)
}

func TestParseDataFromCookie_ReusedParserKeepsNamesApart(t *testing.T) {
	v := new(mockVerifier)
	p := cookie.NewParser(secret, cookie.WithVerifier(v))
	v.On("Verify", "tok-a", secret).Return(map[string]any{"foo": "a"}, nil)
	v.On("Verify", "tok-b", secret).Return(map[string]any{"foo": "b"}, nil)

	header := "session=tok-a; admin.session=tok-b"
	for i := 0; i < 3; i++ {
		a, err := cookie.ParseDataFromCookie[fooPayload](p, requestWithCookie(header), "session", false)
		require.NoError(t, err)
		assert.Equal(t, "a", a.Foo)

		b, err := cookie.ParseDataFromCookie[fooPayload](p, requestWithCookie(header), "admin.session", false)
		require.NoError(t, err)
		assert.Equal(t, "b", b.Foo)
	}

	_, err := cookie.ParseDataFromCookie[fooPayload](p, requestWithCookie(header), "", false)
	assert.ErrorIs(t, err, cookie.ErrExtractToken)
}

func TestSentinelMessages(t *testing.T) {
	assert.EqualError(t, cookie.ErrMissingContext, "missing context")
	assert.EqualError(t, cookie.ErrExtractToken, "failed to extract token from cookie")
	assert.EqualError(t, cookie.ErrParseData, "failed to parse data from cookie")
}
