package supabase_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"eventhub/internal/supabase"
	"eventhub/pkg/event"
	"eventhub/pkg/tokencache"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/supabase-community/gotrue-go/types"
)

type mockAuth struct {
	mock.Mock
}

func (m *mockAuth) SignInWithEmailPassword(email, password string) (*types.TokenResponse, error) {
	args := m.Called(email, password)
	if r := args.Get(0); r != nil {
		return r.(*types.TokenResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockAuth) AdminUpdateUser(req types.AdminUpdateUserRequest) (*types.AdminUpdateUserResponse, error) {
	args := m.Called(req)
	if r := args.Get(0); r != nil {
		return r.(*types.AdminUpdateUserResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

func TestIdentityProvider_SignInWithPassword(t *testing.T) {
	public := new(mockAuth)
	p := supabase.NewIdentityProviderWithAuth(public, new(mockAuth))
	id := uuid.New()

	resp := &types.TokenResponse{}
	resp.AccessToken = "tok-1"
	resp.ExpiresIn = 3600
	resp.ExpiresAt = 1700003600
	resp.User.ID = id
	resp.User.Email = "visitor@example.com"
	resp.User.AppMetadata = map[string]interface{}{"visitor_id": id.String()}
	public.On("SignInWithEmailPassword", "visitor@example.com", "pw").Return(resp, nil)

	got, err := p.SignInWithPassword(context.Background(), tokencache.Credentials{Email: "visitor@example.com", Password: "pw"})

	require.NoError(t, err)
	assert.Equal(t, &tokencache.AuthSession{
		AccessToken: "tok-1",
		ExpiresIn:   3600,
		ExpiresAt:   1700003600,
		Account: &tokencache.Account{
			ID:          id.String(),
			Email:       "visitor@example.com",
			AppMetadata: map[string]any{"visitor_id": id.String()},
		},
	}, got)
}

func TestIdentityProvider_SignInFailures(t *testing.T) {
	public := new(mockAuth)
	p := supabase.NewIdentityProviderWithAuth(public, new(mockAuth))

	public.On("SignInWithEmailPassword", "bad@example.com", "pw").Return(nil, errors.New("invalid login credentials"))
	_, err := p.SignInWithPassword(context.Background(), tokencache.Credentials{Email: "bad@example.com", Password: "pw"})
	assert.EqualError(t, err, "invalid login credentials")

	public.On("SignInWithEmailPassword", "empty@example.com", "pw").Return(&types.TokenResponse{}, nil)
	got, err := p.SignInWithPassword(context.Background(), tokencache.Credentials{Email: "empty@example.com", Password: "pw"})
	assert.NoError(t, err)
	assert.Nil(t, got)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.SignInWithPassword(ctx, tokencache.Credentials{Email: "bad@example.com", Password: "pw"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIdentityProvider_UpdateAppMetadata(t *testing.T) {
	admin := new(mockAuth)
	p := supabase.NewIdentityProviderWithAuth(new(mockAuth), admin)
	id := uuid.New()
	meta := map[string]any{"user": map[string]any{"user_id": id.String()}}

	admin.On("AdminUpdateUser", types.AdminUpdateUserRequest{UserID: id, AppMetadata: meta}).
		Return(&types.AdminUpdateUserResponse{}, nil).Once()

	require.NoError(t, p.UpdateAppMetadata(context.Background(), id.String(), meta))
	admin.AssertExpectations(t)

	err := p.UpdateAppMetadata(context.Background(), "not-a-uuid", meta)
	assert.Error(t, err)
	admin.AssertNumberOfCalls(t, "AdminUpdateUser", 1)
}

func TestRealtimeURL(t *testing.T) {
	got, err := supabase.RealtimeURL("https://abc.supabase.co/", "anon-key")
	require.NoError(t, err)
	assert.Equal(t, "wss://abc.supabase.co/realtime/v1/websocket?apikey=anon-key&vsn=1.0.0", got)

	got, err = supabase.RealtimeURL("http://localhost:54321", "k")
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:54321/realtime/v1/websocket?apikey=k&vsn=1.0.0", got)

	_, err = supabase.RealtimeURL("ftp://example.com", "k")
	assert.ErrorIs(t, err, supabase.ErrInvalidURL)
}

func TestAttendeeRepo_ListAttendees(t *testing.T) {
	var gotAuth, gotPath string
	var gotQuery map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		gotQuery = r.URL.Query()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"event_id":"e1","user_id":"u1","created_at":"2026-01-01T00:00:00Z"}]`))
	}))
	defer srv.Close()

	repo := supabase.NewAttendeeRepo(supabase.NewFactory(srv.URL, "anon"))
	got, err := repo.ListAttendees(context.Background(), "tok-visitor", "e1")

	require.NoError(t, err)
	assert.Equal(t, []event.Attendee{{EventID: "e1", UserID: "u1", CreatedAt: "2026-01-01T00:00:00Z"}}, got)
	assert.Equal(t, "Bearer tok-visitor", gotAuth)
	assert.Equal(t, "/rest/v1/event_user", gotPath)
	assert.Equal(t, []string{"eq.e1"}, gotQuery["event_id"])
}
