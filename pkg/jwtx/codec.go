// Package jwtx signs and verifies the platform's access tokens. Tokens are
// HS256 JWTs; validity is fully determined by signature and time window, so
// nothing here touches storage.
package jwtx

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMalformed   = errors.New("jwtx: malformed token")
	ErrInvalidSig  = errors.New("jwtx: invalid signature")
	ErrIssuer      = errors.New("jwtx: issuer mismatch")
	ErrAudience    = errors.New("jwtx: audience mismatch")
	ErrExpired     = errors.New("jwtx: token expired")
	ErrNotYetValid = errors.New("jwtx: token not yet valid")
	ErrKeyTooShort = errors.New("jwtx: signing key must be at least 32 bytes")
)

// Codec signs and verifies access tokens with a fixed key, issuer, and
// audience. The configuration is immutable after construction; rotating any
// of it means constructing a new Codec.
type Codec struct {
	key      []byte
	issuer   string
	audience string
	parser   *jwt.Parser
}

// NewCodec constructs a Codec. The key must carry at least 256 bits; HS256
// with short keys is brute-forceable offline.
func NewCodec(key []byte, issuer, audience string) (*Codec, error) {
	if len(key) < 32 {
		return nil, ErrKeyTooShort
	}

	return &Codec{
		key:      append([]byte(nil), key...),
		issuer:   issuer,
		audience: audience,
		// Claims validation is done by hand after signature verification
		// so the failure order is deterministic: signature first, then
		// issuer/audience, then time window.
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
	}, nil
}

// Issue signs claims for the given subject snapshot. The issuer and
// audience bound at construction override whatever the caller put in the
// claims.
func (c *Codec) Issue(claims Claims) (string, error) {
	claims.Issuer = c.issuer
	claims.Audience = jwt.ClaimStrings{c.audience}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("jwtx: sign: %w", err)
	}
	return signed, nil
}

// Verify checks the token's signature, issuer, audience, and time window,
// in that order, and returns the embedded claims. Any tampered byte fails
// the signature check before anything else is looked at.
func (c *Codec) Verify(tokenStr string) (Claims, error) {
	// The HMAC is checked over the raw segments before anything is decoded,
	// so a tampered byte anywhere in the token fails here and nothing
	// attacker-controlled is ever parsed.
	if err := c.checkSignature(tokenStr); err != nil {
		return Claims{}, err
	}

	claims := &Claims{}
	_, err := c.parser.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		return c.key, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return Claims{}, ErrMalformed
		case errors.Is(err, jwt.ErrTokenSignatureInvalid),
			errors.Is(err, jwt.ErrTokenUnverifiable),
			errors.Is(err, jwt.ErrSignatureInvalid):
			return Claims{}, ErrInvalidSig
		default:
			return Claims{}, fmt.Errorf("jwtx: parse: %w", err)
		}
	}

	if err := claims.ValidateIssuer(c.issuer); err != nil {
		return Claims{}, err
	}
	if err := claims.ValidateAudience(c.audience); err != nil {
		return Claims{}, err
	}
	if err := claims.ValidateTimeWindow(time.Now().UTC()); err != nil {
		return Claims{}, err
	}

	return *claims, nil
}

// checkSignature recomputes HS256 over header.payload and compares it to
// the signature segment in constant time.
func (c *Codec) checkSignature(tokenStr string) error {
	parts := strings.Split(tokenStr, ".")
	if len(parts) != 3 {
		return ErrMalformed
	}

	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return ErrInvalidSig
	}

	mac := hmac.New(sha256.New, c.key)
	mac.Write([]byte(parts[0] + "." + parts[1]))
	if !hmac.Equal(sig, mac.Sum(nil)) {
		return ErrInvalidSig
	}

	return nil
}

// PeekSubject reads the sub claim WITHOUT verifying the signature or the
// time window. Diagnostic and logging paths only; an authorization decision
// based on this is a security defect.
func (c *Codec) PeekSubject(tokenStr string) (string, error) {
	claims := &Claims{}
	if _, _, err := c.parser.ParseUnverified(tokenStr, claims); err != nil {
		return "", ErrMalformed
	}
	return claims.Subject, nil
}
