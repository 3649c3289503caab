package credentials

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvResolverResolvesSetVariable(t *testing.T) {
	t.Setenv("QUORUM_TEST_TOKEN", "secret-value")
	r := &EnvResolver{}
	got, err := r.Resolve(context.Background(), "QUORUM_TEST_TOKEN")
	require.NoError(t, err)
	assert.Equal(t, "secret-value", got)
}

func TestEnvResolverErrorsOnMissing(t *testing.T) {
	r := &EnvResolver{}
	_, err := r.Resolve(context.Background(), "QUORUM_TEST_TOKEN_UNSET")
	assert.Error(t, err)
}

func writeStoredToken(t *testing.T, dir, locator string, tok storedToken) {
	t.Helper()
	data, err := json.Marshal(tok)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, locator+".json"), data, 0o600))
}

func TestStoreResolverReturnsValidToken(t *testing.T) {
	dir := t.TempDir()
	writeStoredToken(t, dir, "claude", storedToken{AccessToken: "tok-1"})

	s := NewStoreResolver(dir)
	got, err := s.Resolve(context.Background(), "claude")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", got)
}

func TestStoreResolverErrorsWhenFileAbsent(t *testing.T) {
	s := NewStoreResolver(t.TempDir())
	_, err := s.Resolve(context.Background(), "missing")
	assert.Error(t, err)
}

func TestStoreResolverRefreshesExpiringToken(t *testing.T) {
	dir := t.TempDir()
	writeStoredToken(t, dir, "claude", storedToken{
		AccessToken:  "old",
		RefreshToken: "refresh-1",
		ExpiresAtMs:  time.Now().Add(1 * time.Minute).UnixMilli(),
	})

	s := NewStoreResolver(dir)
	var calledWith string
	s.RegisterRefresher("claude", func(ctx context.Context, refreshToken string) (string, string, int64, error) {
		calledWith = refreshToken
		return "new-access", "refresh-2", 3600, nil
	})

	got, err := s.Resolve(context.Background(), "claude")
	require.NoError(t, err)
	assert.Equal(t, "new-access", got)
	assert.Equal(t, "refresh-1", calledWith)

	raw, err := os.ReadFile(filepath.Join(dir, "claude.json"))
	require.NoError(t, err)
	var persisted storedToken
	require.NoError(t, json.Unmarshal(raw, &persisted))
	assert.Equal(t, "new-access", persisted.AccessToken)
	assert.Equal(t, "refresh-2", persisted.RefreshToken)
}

func TestStoreResolverFallsBackWhenRefreshFailsButTokenStillValid(t *testing.T) {
	dir := t.TempDir()
	writeStoredToken(t, dir, "claude", storedToken{
		AccessToken:  "still-good",
		RefreshToken: "refresh-1",
		ExpiresAtMs:  time.Now().Add(1 * time.Minute).UnixMilli(),
	})

	s := NewStoreResolver(dir)
	s.RegisterRefresher("claude", func(ctx context.Context, refreshToken string) (string, string, int64, error) {
		return "", "", 0, assert.AnError
	})

	got, err := s.Resolve(context.Background(), "claude")
	require.NoError(t, err)
	assert.Equal(t, "still-good", got)
}

func TestStoreResolverErrorsWhenExpiredAndRefreshFails(t *testing.T) {
	dir := t.TempDir()
	writeStoredToken(t, dir, "claude", storedToken{
		AccessToken:  "gone",
		RefreshToken: "refresh-1",
		ExpiresAtMs:  time.Now().Add(-1 * time.Minute).UnixMilli(),
	})

	s := NewStoreResolver(dir)
	s.RegisterRefresher("claude", func(ctx context.Context, refreshToken string) (string, string, int64, error) {
		return "", "", 0, assert.AnError
	})

	_, err := s.Resolve(context.Background(), "claude")
	assert.Error(t, err)
}

func TestChainResolverDispatchesByScheme(t *testing.T) {
	t.Setenv("QUORUM_TEST_CHAIN", "chain-value")
	dir := t.TempDir()
	writeStoredToken(t, dir, "openai", storedToken{AccessToken: "stored-value"})

	c := NewChainResolver(dir)

	got, err := c.Resolve(context.Background(), "env:QUORUM_TEST_CHAIN")
	require.NoError(t, err)
	assert.Equal(t, "chain-value", got)

	got, err = c.Resolve(context.Background(), "oauth-store:openai")
	require.NoError(t, err)
	assert.Equal(t, "stored-value", got)

	_, err = c.Resolve(context.Background(), "keychain:service/account")
	assert.Error(t, err, "keychain is darwin-only; this test runs on linux CI")

	_, err = c.Resolve(context.Background(), "malformed")
	assert.Error(t, err)

	_, err = c.Resolve(context.Background(), "bogus:locator")
	assert.Error(t, err)
}
