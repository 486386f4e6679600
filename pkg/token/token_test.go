package token

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testPayload struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(Options{
		EncryptionKey: []byte("0123456789abcdef0123456789abcdef"),
		SigningKey:    []byte("sign-key-sign-key-sign-key-sign-key"),
		Issuer:        "wishary",
		Audience:      "wishary-web",
	})
	require.NoError(t, err)
	return svc
}

func TestNewServiceRejectsBadKeys(t *testing.T) {
	_, err := NewService(Options{
		EncryptionKey: []byte("short"),
		SigningKey:    []byte("sign-key-sign-key-sign-key-sign-key"),
		Issuer:        "wishary",
		Audience:      "wishary-web",
	})
	assert.ErrorIs(t, err, ErrEncryptionKeySize)

	_, err = NewService(Options{
		EncryptionKey: []byte("0123456789abcdef"),
		SigningKey:    []byte("short"),
		Issuer:        "wishary",
		Audience:      "wishary-web",
	})
	assert.ErrorIs(t, err, ErrSigningKeyTooShort)

	_, err = NewService(Options{
		EncryptionKey: []byte("0123456789abcdef"),
		SigningKey:    []byte("sign-key-sign-key-sign-key-sign-key"),
	})
	assert.ErrorIs(t, err, ErrIssuerRequired)
}

func TestRoundTrip(t *testing.T) {
	svc := newTestService(t)
	payload := testPayload{SessionID: "s1", UserID: "u1"}

	tok, err := svc.Create(payload, PurposeAuth, svc.ExpiresAt(time.Hour))
	require.NoError(t, err)
	assert.NotContains(t, tok, ";")
	assert.NotContains(t, tok, " ")

	var got testPayload
	res := svc.Read(tok, PurposeAuth, &got)
	assert.True(t, res.Verified)
	assert.False(t, res.Expired)
	assert.Equal(t, payload, got)
}

func TestTamperRejection(t *testing.T) {
	svc := newTestService(t)
	tok, err := svc.Create(testPayload{SessionID: "s1"}, PurposeAuth, svc.ExpiresAt(time.Hour))
	require.NoError(t, err)

	// The final character of each dot-separated segment is skipped: base64
	// leaves a few trailing bits unused there, so two encodings can decode
	// to the same bytes.
	for i := 0; i+1 < len(tok); i += 7 {
		if tok[i+1] == '.' || tok[i] == '.' {
			continue
		}
		raw := []byte(tok)
		if raw[i] == 'x' {
			raw[i] = 'y'
		} else {
			raw[i] = 'x'
		}
		if string(raw) == tok {
			continue
		}
		var got testPayload
		res := svc.Read(string(raw), PurposeAuth, &got)
		assert.False(t, res.Verified, "flipped byte at %d still verified", i)
	}
}

func TestPurposeBinding(t *testing.T) {
	svc := newTestService(t)
	tok, err := svc.Create(testPayload{SessionID: "s1"}, PurposeRefresh, svc.ExpiresAt(time.Hour))
	require.NoError(t, err)

	var got testPayload
	res := svc.Read(tok, PurposeAuth, &got)
	assert.False(t, res.Verified)

	res = svc.Read(tok, PurposeRefresh, &got)
	assert.True(t, res.Verified)
}

func TestExpiryBoundary(t *testing.T) {
	svc := newTestService(t)
	expiresAt := time.Now().UTC().Add(time.Hour)
	tok, err := svc.Create(testPayload{SessionID: "s1"}, PurposeAuth, expiresAt)
	require.NoError(t, err)

	svc.now = func() time.Time { return expiresAt.Add(-time.Millisecond) }
	res := svc.Read(tok, PurposeAuth, nil)
	assert.True(t, res.Verified)
	assert.False(t, res.Expired)

	svc.now = func() time.Time { return expiresAt.Add(time.Millisecond) }
	res = svc.Read(tok, PurposeAuth, nil)
	assert.True(t, res.Verified, "expiry must not flip Verified")
	assert.True(t, res.Expired)
}

func TestSubSecondExpiryRoundTrip(t *testing.T) {
	svc := newTestService(t)
	// A fractional-second expiry must survive the envelope intact; the
	// registered exp claim alone would truncate it to whole seconds and
	// report the token expired up to a second early.
	expiresAt := time.Now().UTC().Truncate(time.Second).Add(45*time.Second + 700*time.Millisecond)
	tok, err := svc.Create(testPayload{SessionID: "s1"}, PurposeAuth, expiresAt)
	require.NoError(t, err)

	svc.now = func() time.Time { return expiresAt.Add(-time.Millisecond) }
	res := svc.Read(tok, PurposeAuth, nil)
	assert.True(t, res.Verified)
	assert.False(t, res.Expired)
	assert.True(t, res.ExpiresAt.Equal(expiresAt), "expiry should round-trip at millisecond precision")

	svc.now = func() time.Time { return expiresAt.Add(time.Millisecond) }
	res = svc.Read(tok, PurposeAuth, nil)
	assert.True(t, res.Verified)
	assert.True(t, res.Expired)
}

func TestExpiredTokenStillDecodes(t *testing.T) {
	svc := newTestService(t)
	tok, err := svc.Create(testPayload{SessionID: "s1", UserID: "u1"}, PurposeAuth, time.Now().UTC().Add(-time.Minute))
	require.NoError(t, err)

	var got testPayload
	res := svc.Read(tok, PurposeAuth, &got)
	assert.True(t, res.Verified)
	assert.True(t, res.Expired)
	assert.Equal(t, "s1", got.SessionID)
}

func TestCrossDeploymentRejection(t *testing.T) {
	svc := newTestService(t)

	other, err := NewService(Options{
		EncryptionKey: []byte("0123456789abcdef0123456789abcdef"),
		SigningKey:    []byte("sign-key-sign-key-sign-key-sign-key"),
		Issuer:        "staging",
		Audience:      "staging-web",
	})
	require.NoError(t, err)

	tok, err := other.Create(testPayload{SessionID: "s1"}, PurposeAuth, other.ExpiresAt(time.Hour))
	require.NoError(t, err)

	res := svc.Read(tok, PurposeAuth, nil)
	assert.False(t, res.Verified)
}

func TestReadGarbage(t *testing.T) {
	svc := newTestService(t)

	for _, tok := range []string{"", "garbage", "a.b.c", strings.Repeat("A", 512)} {
		res := svc.Read(tok, PurposeAuth, nil)
		assert.False(t, res.Verified)
		assert.False(t, res.Expired)
	}
}

func TestPayloadShapeMismatch(t *testing.T) {
	svc := newTestService(t)
	tok, err := svc.Create([]string{"not", "an", "object"}, PurposeAuth, svc.ExpiresAt(time.Hour))
	require.NoError(t, err)

	var got testPayload
	res := svc.Read(tok, PurposeAuth, &got)
	assert.False(t, res.Verified)
}
