package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLinkTokenRoundTrip(t *testing.T) {
	svc, err := NewLinkTokenService(LinkTokenConfig{
		Secret: "round-trip-secret",
		Issuer: "branchdesk-test",
	})
	require.NoError(t, err)

	token, err := svc.Issue("user-1", "challenge-1")
	require.NoError(t, err)

	claims, err := svc.Parse(token)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.UserID)
	require.Equal(t, "challenge-1", claims.ChallengeID)
}

func TestLinkTokenRejectsWrongSecret(t *testing.T) {
	issuer, err := NewLinkTokenService(LinkTokenConfig{Secret: "secret-a"})
	require.NoError(t, err)
	verifier, err := NewLinkTokenService(LinkTokenConfig{Secret: "secret-b"})
	require.NoError(t, err)

	token, err := issuer.Issue("user-1", "challenge-1")
	require.NoError(t, err)

	_, err = verifier.Parse(token)
	require.Error(t, err)
}

func TestLinkTokenExpires(t *testing.T) {
	current := time.Now()
	clock := func() time.Time { return current }

	svc, err := NewLinkTokenService(LinkTokenConfig{
		Secret: "expiring-secret",
		TTL:    time.Minute,
		Clock:  clock,
	})
	require.NoError(t, err)

	token, err := svc.Issue("user-1", "challenge-1")
	require.NoError(t, err)

	current = current.Add(2 * time.Minute)

	_, err = svc.Parse(token)
	require.Error(t, err)
}

func TestLinkTokenRequiresIdentifiers(t *testing.T) {
	svc, err := NewLinkTokenService(LinkTokenConfig{Secret: "s"})
	require.NoError(t, err)

	_, err = svc.Issue("", "challenge")
	require.Error(t, err)
	_, err = svc.Issue("user", "")
	require.Error(t, err)
}
