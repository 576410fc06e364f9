// Package auth validates and issues the HS256 tokens that identify API clients.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/namaskah/namaskah-sms/backend/middleware"
)

var (
	// ErrInvalidToken is returned when the token is invalid
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired is returned when the token has expired
	ErrTokenExpired = errors.New("token expired")

	// ErrMissingSubject is returned when the token has no subject
	ErrMissingSubject = errors.New("missing subject")
)

// Claims are the JWT claims accepted by the API
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

// Config holds JWT settings
type Config struct {
	Secret string
	Issuer string
	Leeway time.Duration
}

// JWTValidator validates HS256 tokens signed with a shared secret
type JWTValidator struct {
	secret []byte
	issuer string
	parser *jwt.Parser
	now    func() time.Time
}

// NewJWTValidator creates a new validator
func NewJWTValidator(config Config) (*JWTValidator, error) {
	if len(config.Secret) < 32 {
		return nil, errors.New("jwt secret must be at least 32 bytes")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(config.Issuer))
	}
	if config.Leeway > 0 {
		opts = append(opts, jwt.WithLeeway(config.Leeway))
	}

	return &JWTValidator{
		secret: []byte(config.Secret),
		issuer: config.Issuer,
		parser: jwt.NewParser(opts...),
		now:    time.Now,
	}, nil
}

// ValidateToken implements middleware.TokenValidator
func (v *JWTValidator) ValidateToken(ctx context.Context, tokenString string) (*middleware.Claims, error) {
	claims := &Claims{}
	token, err := v.parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, ErrMissingSubject
	}

	out := &middleware.Claims{
		Sub:   claims.Subject,
		Email: claims.Email,
		Role:  claims.Role,
		Iss:   claims.Issuer,
	}
	if claims.ExpiresAt != nil {
		out.Exp = claims.ExpiresAt.Unix()
	}
	if claims.IssuedAt != nil {
		out.Iat = claims.IssuedAt.Unix()
	}
	return out, nil
}

// IssueToken signs a token for subject with role, valid for ttl
func (v *JWTValidator) IssueToken(subject, role string, ttl time.Duration) (string, error) {
	now := v.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: role,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
