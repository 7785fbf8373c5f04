// Package jwt encodes and decodes HMAC-signed JSON Web Tokens.
package jwt

import (
	"context"
	"fmt"
	log "log/slog"
	"time"

	"github.com/lestrrat-go/jwx/jwa"
	jwxt "github.com/lestrrat-go/jwx/jwt"
)

// DefaultExpiry is the token lifetime used when Encode gets no expiry option.
const DefaultExpiry = 86400 * time.Second

// Algorithm used to sign and verify tokens.
var Algorithm = jwa.HS256

// Now is the clock used to stamp and validate expiration. Tests may replace it.
var Now = time.Now

// Claims is the payload carried by a token.
type Claims map[string]any

type encodeOptions struct {
	expiry time.Duration
}

// EncodeOption customizes Encode.
type EncodeOption func(*encodeOptions)

// WithExpiry sets the token lifetime. A non-positive d behaves like WithoutExpiry.
func WithExpiry(d time.Duration) EncodeOption {
	return func(o *encodeOptions) {
		o.expiry = d
	}
}

// WithoutExpiry produces a token with no exp claim.
func WithoutExpiry() EncodeOption {
	return func(o *encodeOptions) {
		o.expiry = 0
	}
}

// Encode signs claims with secret. Unless told otherwise it adds an exp claim DefaultExpiry from now.
// claims is not modified.
func Encode(claims Claims, secret string, opts ...EncodeOption) (string, error) {
	o := encodeOptions{expiry: DefaultExpiry}
	for _, opt := range opts {
		opt(&o)
	}

	t := jwxt.New()
	for k, v := range claims {
		if err := t.Set(k, v); err != nil {
			return "", fmt.Errorf("jwt claim %q: %w", k, err)
		}
	}
	if o.expiry > 0 {
		if err := t.Set(jwxt.ExpirationKey, Now().Add(o.expiry)); err != nil {
			return "", fmt.Errorf("jwt claim %q: %w", jwxt.ExpirationKey, err)
		}
	}

	signed, err := jwxt.Sign(t, Algorithm, []byte(secret))
	if err != nil {
		return "", fmt.Errorf("jwt sign failed: %w", err)
	}
	return string(signed), nil
}

// Decode verifies token with secret and returns its claims.
// It returns nil when the token is malformed, signed with another secret or expired; these
// cases are not told apart. Registered time claims (exp, iat, nbf) come back as Unix seconds.
func Decode(token string, secret string) Claims {
	t, err := jwxt.Parse([]byte(token), jwxt.WithVerify(Algorithm, []byte(secret)))
	if err != nil {
		log.Debug("jwt rejected", "error", err)
		return nil
	}
	if err := jwxt.Validate(t, jwxt.WithClock(jwxt.ClockFunc(Now))); err != nil {
		log.Debug("jwt rejected", "error", err)
		return nil
	}
	m, err := t.AsMap(context.Background())
	if err != nil {
		log.Debug("jwt claims unreadable", "error", err)
		return nil
	}
	claims := make(Claims, len(m))
	for k, v := range m {
		if ts, ok := v.(time.Time); ok {
			claims[k] = ts.Unix()
			continue
		}
		claims[k] = v
	}
	return claims
}
