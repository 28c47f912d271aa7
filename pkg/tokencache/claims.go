package tokencache

import (
	"context"
	"fmt"
	"strings"

	"eventhub/internal/metrics"
)

// Claim is a value that must be present in an account's app metadata before
// a token for it is cached. Path is dotted, e.g. "user.user_id".
type Claim struct {
	Path  string
	Value func(Account) any
}

func accountID(a Account) any { return a.ID }

var (
	VisitorClaim = Claim{Path: "visitor_id", Value: accountID}
	UserClaim    = Claim{Path: "user.user_id", Value: accountID}
)

// ensureClaim signs in and, when the claim is absent, writes it to the
// account metadata and signs in again so the new token carries it.
func (c *Cache) ensureClaim(ctx context.Context, kind string, creds Credentials, claim Claim) (*AuthSession, error) {
	sess, err := c.signIn(ctx, kind, creds)
	if err != nil {
		return nil, err
	}
	if hasClaim(sess.Account.AppMetadata, claim.Path) {
		return sess, nil
	}

	c.logger.Info("repairing missing claim", "kind", kind, "claim", claim.Path, "account", sess.Account.ID)
	metadata := withClaim(sess.Account.AppMetadata, claim.Path, claim.Value(*sess.Account))
	if err := c.provider.UpdateAppMetadata(ctx, sess.Account.ID, metadata); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrClaimRepair, err)
	}
	metrics.ClaimRepairs.WithLabelValues(claim.Path).Inc()

	sess, err = c.signIn(ctx, kind, creds)
	if err != nil {
		return nil, err
	}
	if !hasClaim(sess.Account.AppMetadata, claim.Path) {
		return nil, fmt.Errorf("%w: %s still missing after metadata update", ErrClaimRepair, claim.Path)
	}
	return sess, nil
}

func hasClaim(metadata map[string]any, path string) bool {
	var cur any = metadata
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return false
		}
		cur, ok = m[part]
		if !ok {
			return false
		}
	}
	switch v := cur.(type) {
	case nil:
		return false
	case string:
		return v != ""
	default:
		return true
	}
}

// withClaim returns a copy of metadata with value set at path. Maps along the
// path are copied so the caller's metadata is left untouched.
func withClaim(metadata map[string]any, path string, value any) map[string]any {
	out := make(map[string]any, len(metadata)+1)
	for k, v := range metadata {
		out[k] = v
	}

	head, rest, nested := strings.Cut(path, ".")
	if !nested {
		out[head] = value
		return out
	}
	inner, _ := out[head].(map[string]any)
	out[head] = withClaim(inner, rest, value)
	return out
}
