package credential

import (
	"context"
	"errors"
	"fmt"
)

const (
	// KeyAccessToken is the slot holding the bearer credential.
	KeyAccessToken = "access_token"
	// KeyRefreshToken is the slot holding the long-lived refresh credential.
	KeyRefreshToken = "refresh_token"
)

var (
	// ErrNotFound is returned by [Store.Get] when the slot is empty.
	ErrNotFound = errors.New("credential not found")
	// ErrBackendUnavailable wraps I/O failures of a persistent backend.
	ErrBackendUnavailable = errors.New("credential backend unavailable")
)

// Store is a durable key-value slot holder scoped to one device profile.
//
// Implementations must be safe for concurrent use. Clear on an empty slot is a
// no-op and returns nil.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Clear(ctx context.Context, key string) error
}

// Tokens is the pair of credentials that make up a session. RefreshToken may be
// empty for sessions created without "remember me".
type Tokens struct {
	AccessToken  string
	RefreshToken string
}

// Empty reports whether neither token is present.
func (t Tokens) Empty() bool {
	return t.AccessToken == "" && t.RefreshToken == ""
}

// Lookup returns the slot value, or "" when the slot is empty.
func Lookup(ctx context.Context, s Store, key string) (string, error) {
	v, err := s.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	return v, nil
}

// Load reads both tokens. Missing slots yield empty strings.
func Load(ctx context.Context, s Store) (Tokens, error) {
	access, err := Lookup(ctx, s, KeyAccessToken)
	if err != nil {
		return Tokens{}, err
	}
	refresh, err := Lookup(ctx, s, KeyRefreshToken)
	if err != nil {
		return Tokens{}, err
	}
	return Tokens{AccessToken: access, RefreshToken: refresh}, nil
}

// Save writes the access token and, when present, the refresh token. An empty
// RefreshToken leaves the stored refresh slot untouched.
func Save(ctx context.Context, s Store, t Tokens) error {
	if t.AccessToken == "" {
		return fmt.Errorf("save credentials: empty access token")
	}
	if err := s.Set(ctx, KeyAccessToken, t.AccessToken); err != nil {
		return err
	}
	if t.RefreshToken != "" {
		if err := s.Set(ctx, KeyRefreshToken, t.RefreshToken); err != nil {
			return err
		}
	}
	return nil
}

// Purge clears both slots. Both clears are attempted even if the first fails.
func Purge(ctx context.Context, s Store) error {
	return errors.Join(
		s.Clear(ctx, KeyAccessToken),
		s.Clear(ctx, KeyRefreshToken),
	)
}
