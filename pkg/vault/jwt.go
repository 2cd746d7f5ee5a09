// Package vault implements the credential vault (C1): bearer token
// sign/verify and symmetric encryption of third-party secrets at rest.
package vault

import (
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"

	"github.com/wisbric/tacops/internal/errs"
)

const issuer = "tacops"

// DefaultTokenTTL is the lifetime of a token minted by Sign.
const DefaultTokenTTL = 24 * time.Hour

// Claims are the claims embedded in a vault-issued bearer token.
type Claims struct {
	Subject string `json:"sub"`
	Admin   bool   `json:"admin"`
}

// Vault issues and verifies bearer tokens and encrypts/decrypts opaque
// secrets. Tokens are signed with jwtSecret and secrets are encrypted with
// the separate 256-bit aesKey, both sourced from environment or the config
// cache.
type Vault struct {
	jwtSecret []byte
	aesKey    []byte
}

// New creates a Vault. jwtSecret and aesKey must each be at least 32 bytes;
// this is checked lazily, on first token or encryption operation, matching
// the spec's "configuration errors are fatal at first operation" semantics.
func New(jwtSecret, aesKey []byte) *Vault {
	return &Vault{jwtSecret: jwtSecret, aesKey: aesKey}
}

// Sign creates a signed JWT with the given claims and ttl.
func (v *Vault) Sign(claims Claims, ttl time.Duration) (string, error) {
	if len(v.jwtSecret) < 32 {
		return "", fmt.Errorf("jwt secret must be at least 32 bytes, got %d", len(v.jwtSecret))
	}

	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: v.jwtSecret},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return "", fmt.Errorf("creating signer: %w", err)
	}

	now := time.Now()
	registered := jwt.Claims{
		Subject:   claims.Subject,
		IssuedAt:  jwt.NewNumericDate(now),
		Expiry:    jwt.NewNumericDate(now.Add(ttl)),
		NotBefore: jwt.NewNumericDate(now),
		Issuer:    issuer,
	}

	token, err := jwt.Signed(signer).Claims(registered).Claims(claims).Serialize()
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return token, nil
}

// Verify validates a token's signature, issuer, and expiry and returns its
// claims. Every failure mode is reported as errs.Unauthenticated per §4.1.
func (v *Vault) Verify(raw string) (*Claims, error) {
	tok, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return nil, errs.Wrap(errs.Unauthenticated, "invalid token", err)
	}

	var registered jwt.Claims
	var custom Claims
	if err := tok.Claims(v.jwtSecret, &registered, &custom); err != nil {
		return nil, errs.Wrap(errs.Unauthenticated, "invalid token", err)
	}

	if err := registered.ValidateWithLeeway(jwt.Expected{
		Issuer: issuer,
		Time:   time.Now(),
	}, 5*time.Second); err != nil {
		return nil, errs.Wrap(errs.Unauthenticated, "expired or not-yet-valid token", err)
	}

	return &custom, nil
}
