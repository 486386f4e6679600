package token

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Purpose binds a token to the single verification site allowed to accept
// it. A token minted for one purpose never validates under another.
type Purpose string

const (
	// PurposeAuth marks short-lived access tokens.
	PurposeAuth Purpose = "auth"
	// PurposeRefresh marks long-lived refresh tokens.
	PurposeRefresh Purpose = "refresh"
)

// Construction errors. These are configuration failures and are fatal at
// startup; Read never returns an error for attacker-controlled input.
var (
	ErrEncryptionKeySize  = errors.New("token: encryption key must be 16, 24 or 32 bytes")
	ErrSigningKeyTooShort = errors.New("token: signing key must be at least 32 bytes")
	ErrIssuerRequired     = errors.New("token: issuer and audience are required")
)

// Options carries the immutable key material and envelope identity for a
// Service. Both keys are raw bytes from secret configuration and must be
// distinct concerns: compromising one alone is not enough to forge or read
// tokens.
type Options struct {
	EncryptionKey []byte
	SigningKey    []byte
	Issuer        string
	Audience      string
}

// Result reports the outcome of reading a token. Verified and Expired are
// independent: a structurally valid token past its expiry yields
// Verified=true, Expired=true so callers can apply differentiated policy,
// e.g. accepting an expired access token during refresh.
type Result struct {
	Verified  bool
	Expired   bool
	ExpiresAt time.Time
}

// Service mints and reads opaque, purpose-bound tokens. The payload is
// JSON-serialized, sealed with AES-GCM under the encryption key, and the
// resulting envelope is signed HS256 under the signing key with issuer and
// audience bound into the signature. Output is URL-safe and cookie-safe.
type Service struct {
	aead       cipher.AEAD
	signingKey []byte
	issuer     string
	audience   string
	now        func() time.Time
}

type envelopeClaims struct {
	Purpose string `json:"prp"`
	Data    string `json:"dat"`
	// The registered exp claim is truncated to whole seconds by the JWT
	// library; expiry lives in this unix-ms claim so it round-trips at
	// full precision.
	ExpMillis int64 `json:"exp_ms"`
	jwt.RegisteredClaims
}

// NewService validates the key material and builds a Service.
func NewService(opts Options) (*Service, error) {
	switch len(opts.EncryptionKey) {
	case 16, 24, 32:
	default:
		return nil, ErrEncryptionKeySize
	}
	if len(opts.SigningKey) < 32 {
		return nil, ErrSigningKeyTooShort
	}
	if opts.Issuer == "" || opts.Audience == "" {
		return nil, ErrIssuerRequired
	}

	block, err := aes.NewCipher(opts.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("token: init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("token: init gcm: %w", err)
	}

	return &Service{
		aead:       aead,
		signingKey: opts.SigningKey,
		issuer:     opts.Issuer,
		audience:   opts.Audience,
		now:        time.Now,
	}, nil
}

// Create serializes payload, encrypts it, and signs the envelope for the
// given purpose and expiry.
func (s *Service) Create(payload interface{}, purpose Purpose, expiresAt time.Time) (string, error) {
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("token: marshal payload: %w", err)
	}

	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("token: nonce: %w", err)
	}

	// Purpose doubles as AEAD associated data, so even a signature-forging
	// adversary cannot transplant ciphertext across purposes.
	sealed := s.aead.Seal(nil, nonce, plaintext, []byte(purpose))

	issuedAt := s.now().UTC()
	claims := &envelopeClaims{
		Purpose:   string(purpose),
		Data:      base64.RawURLEncoding.EncodeToString(append(nonce, sealed...)),
		ExpMillis: expiresAt.UnixMilli(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.audience},
			ExpiresAt: jwt.NewNumericDate(expiresAt.UTC()),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
	if err != nil {
		return "", fmt.Errorf("token: sign: %w", err)
	}
	return signed, nil
}

// Read verifies the signature first, then decrypts and decodes the payload
// into dest. Malformed input, signature mismatch, issuer/audience/purpose
// mismatch, decryption failure and payload shape mismatch all collapse to
// Verified=false with dest untouched. Expiry alone yields Verified=true,
// Expired=true with the payload still decoded.
func (s *Service) Read(tokenString string, purpose Purpose, dest interface{}) Result {
	claims := &envelopeClaims{}
	// Claims validation is disabled so expiry stays distinguishable from a
	// bad signature; issuer, audience and expiry are checked by hand below.
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.signingKey, nil
	}, jwt.WithoutClaimsValidation())
	if err != nil || !parsed.Valid {
		return Result{}
	}

	if claims.Issuer != s.issuer || !containsAudience(claims.Audience, s.audience) {
		return Result{}
	}
	if claims.Purpose != string(purpose) {
		return Result{}
	}
	if claims.ExpiresAt == nil || claims.ExpMillis == 0 {
		return Result{}
	}

	raw, err := base64.RawURLEncoding.DecodeString(claims.Data)
	if err != nil || len(raw) <= s.aead.NonceSize() {
		return Result{}
	}
	nonce, sealed := raw[:s.aead.NonceSize()], raw[s.aead.NonceSize():]

	plaintext, err := s.aead.Open(nil, nonce, sealed, []byte(purpose))
	if err != nil {
		return Result{}
	}
	if dest != nil {
		if err := json.Unmarshal(plaintext, dest); err != nil {
			return Result{}
		}
	}

	expiresAt := time.UnixMilli(claims.ExpMillis).UTC()
	return Result{
		Verified:  true,
		Expired:   s.now().After(expiresAt),
		ExpiresAt: expiresAt,
	}
}

// ExpiresAt returns the current time plus d.
func (s *Service) ExpiresAt(d time.Duration) time.Time {
	return s.now().UTC().Add(d)
}

func containsAudience(aud jwt.ClaimStrings, want string) bool {
	for _, a := range aud {
		if a == want {
			return true
		}
	}
	return false
}
