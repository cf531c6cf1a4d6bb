package moderation

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultTokenTTL = time.Hour

	tokenIssuer   = "confessio-api"
	tokenAudience = "confessio-moderation"
	tokenSubject  = "moderator"
)

var (
	// ErrUnauthorized indicates a credential that is neither the moderation
	// secret nor a valid moderator token.
	ErrUnauthorized = errors.New("moderation: unauthorized")

	errMissingSecret = errors.New("moderation secret must be provided")
)

// IssuerConfig configures the moderation credential checker.
type IssuerConfig struct {
	Secret   string
	TokenTTL time.Duration
	Clock    func() time.Time
}

// Issuer validates the shared moderation secret and exchanges it for a
// short-lived moderator token, so admin clients do not have to retransmit the
// raw secret with every action.
type Issuer struct {
	secret   []byte
	tokenTTL time.Duration
	clock    func() time.Time
}

// NewIssuer constructs an Issuer with sane defaults.
func NewIssuer(cfg IssuerConfig) (*Issuer, error) {
	if cfg.Secret == "" {
		return nil, errMissingSecret
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Issuer{
		secret:   []byte(cfg.Secret),
		tokenTTL: ttl,
		clock:    clock,
	}, nil
}

// Login checks the supplied secret and, when correct, returns a signed
// moderator token and its validity in seconds.
func (i *Issuer) Login(secret string) (string, int64, error) {
	if !i.secretMatches(secret) {
		return "", 0, ErrUnauthorized
	}

	now := i.clock().UTC()
	expiresAt := now.Add(i.tokenTTL)

	claims := jwt.RegisteredClaims{
		Subject:   tokenSubject,
		Issuer:    tokenIssuer,
		Audience:  []string{tokenAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", 0, err
	}
	return signed, int64(expiresAt.Sub(now).Seconds()), nil
}

// Authorize reports whether the credential grants moderation rights. Both the
// raw secret and a previously issued moderator token are accepted.
func (i *Issuer) Authorize(credential string) bool {
	if credential == "" {
		return false
	}
	if i.secretMatches(credential) {
		return true
	}
	return i.validateToken(credential) == nil
}

func (i *Issuer) secretMatches(candidate string) bool {
	return subtle.ConstantTimeCompare(i.secret, []byte(candidate)) == 1
}

func (i *Issuer) validateToken(tokenString string) error {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", token.Method.Alg())
			}
			return i.secret, nil
		},
		jwt.WithAudience(tokenAudience),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(i.clock),
	)
	if err != nil {
		return err
	}
	if claims.Subject != tokenSubject {
		return ErrUnauthorized
	}
	return nil
}
