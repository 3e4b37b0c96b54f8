package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Claims is the payload of both token kinds. Subject carries the user id.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Identity is what gets signed into a token pair.
type Identity struct {
	Subject string
	Email   string
}

// TokenPair is the result of a login or a refresh.
type TokenPair struct {
	AccessToken  string
	AccessExp    time.Time
	RefreshToken string
	RefreshExp   time.Time
}

// Issuer signs and verifies access and refresh JWTs (HS256, one secret per kind).
type Issuer struct {
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	leeway     time.Duration

	accessKey  []byte
	refreshKey []byte

	now func() time.Time
}

// IssuerOption configures an Issuer.
type IssuerOption func(*Issuer)

// WithClock overrides the time source used for iat/exp and for verification.
func WithClock(now func() time.Time) IssuerOption {
	return func(i *Issuer) {
		if now != nil {
			i.now = now
		}
	}
}

// NewIssuer validates cfg and builds an Issuer.
func NewIssuer(cfg Config, opts ...IssuerOption) (*Issuer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	i := &Issuer{
		issuer:     cfg.Issuer,
		accessTTL:  cfg.AccessTokenTTL,
		refreshTTL: cfg.RefreshTokenTTL,
		leeway:     cfg.ClockSkew,
		accessKey:  []byte(cfg.AccessSecret),
		refreshKey: []byte(cfg.RefreshSecret),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// Issue signs both tokens concurrently. Either failure fails the whole pair.
func (i *Issuer) Issue(ctx context.Context, id Identity) (TokenPair, error) {
	if id.Subject == "" {
		return TokenPair{}, fmt.Errorf("session: issue: %w", ErrInvalidInput)
	}
	if err := ctx.Err(); err != nil {
		return TokenPair{}, err
	}

	now := i.now().UTC()

	var (
		pair TokenPair
		g    errgroup.Group
	)
	g.Go(func() error {
		tok, exp, err := i.sign(id, now, i.accessTTL, i.accessKey)
		pair.AccessToken, pair.AccessExp = tok, exp
		return err
	})
	g.Go(func() error {
		tok, exp, err := i.sign(id, now, i.refreshTTL, i.refreshKey)
		pair.RefreshToken, pair.RefreshExp = tok, exp
		return err
	})
	if err := g.Wait(); err != nil {
		return TokenPair{}, fmt.Errorf("session: sign: %w", err)
	}

	return pair, nil
}

// VerifyAccess verifies an access token and returns its claims.
func (i *Issuer) VerifyAccess(token string) (Claims, error) {
	return i.verify(token, i.accessKey)
}

// VerifyRefresh verifies a refresh token and returns its claims.
func (i *Issuer) VerifyRefresh(token string) (Claims, error) {
	return i.verify(token, i.refreshKey)
}

func (i *Issuer) sign(id Identity, now time.Time, ttl time.Duration, key []byte) (string, time.Time, error) {
	claims := Claims{
		Email: id.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   id.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, claims.ExpiresAt.Time, nil
}

func (i *Issuer) verify(raw string, key []byte) (Claims, error) {
	if raw == "" {
		return Claims{}, ErrInvalidToken
	}

	var claims Claims
	tok, err := jwt.ParseWithClaims(raw, &claims,
		func(*jwt.Token) (any, error) { return key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(i.leeway),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return Claims{}, errors.Join(ErrInvalidToken, err)
	}
	if !tok.Valid || claims.Subject == "" {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}
