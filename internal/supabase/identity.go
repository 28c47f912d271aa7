package supabase

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/supabase-community/gotrue-go/types"

	"eventhub/pkg/tokencache"
)

// Auth is the part of the gotrue client the identity provider uses.
type Auth interface {
	SignInWithEmailPassword(email, password string) (*types.TokenResponse, error)
	AdminUpdateUser(req types.AdminUpdateUserRequest) (*types.AdminUpdateUserResponse, error)
}

// IdentityProvider signs in through Supabase Auth and edits app metadata
// with the service role key.
type IdentityProvider struct {
	public Auth
	admin  Auth
}

func NewIdentityProvider(f *Factory, serviceKey string) (*IdentityProvider, error) {
	anon, err := f.WithToken("")
	if err != nil {
		return nil, err
	}
	service, err := NewFactory(f.url, serviceKey).WithToken(serviceKey)
	if err != nil {
		return nil, err
	}
	return NewIdentityProviderWithAuth(anon.Auth, service.Auth.WithToken(serviceKey)), nil
}

func NewIdentityProviderWithAuth(public, admin Auth) *IdentityProvider {
	return &IdentityProvider{public: public, admin: admin}
}

func (p *IdentityProvider) SignInWithPassword(ctx context.Context, creds tokencache.Credentials) (*tokencache.AuthSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp, err := p.public.SignInWithEmailPassword(creds.Email, creds.Password)
	if err != nil {
		return nil, err
	}
	if resp == nil || resp.AccessToken == "" {
		return nil, nil
	}

	session := &tokencache.AuthSession{
		AccessToken: resp.AccessToken,
		ExpiresIn:   int64(resp.ExpiresIn),
		ExpiresAt:   int64(resp.ExpiresAt),
	}
	if resp.User.ID != uuid.Nil {
		session.Account = &tokencache.Account{
			ID:          resp.User.ID.String(),
			Email:       resp.User.Email,
			AppMetadata: resp.User.AppMetadata,
		}
	}
	return session, nil
}

func (p *IdentityProvider) UpdateAppMetadata(ctx context.Context, accountID string, metadata map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id, err := uuid.Parse(accountID)
	if err != nil {
		return fmt.Errorf("account id %q: %w", accountID, err)
	}
	_, err = p.admin.AdminUpdateUser(types.AdminUpdateUserRequest{
		UserID:      id,
		AppMetadata: metadata,
	})
	return err
}
