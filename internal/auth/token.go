// ABOUTME: JWT bearer credential verification for gateway and REST requests
// ABOUTME: HS256 with configurable secret; subject and role carried as claims

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// Role distinguishes end users from workspace hosts. Hosts administer
// tenants and never join conversation rooms.
type Role string

const (
	RoleClient Role = "client"
	RoleHost   Role = "host"
)

// Identity is the verified subject extracted from a bearer credential.
type Identity struct {
	SubjectID string
	Email     string
	Role      Role
}

// Verifier validates a bearer credential and returns the subject identity.
type Verifier interface {
	Verify(tokenString string) (*Identity, error)
}

// JWTVerifier implements Verifier using HS256 signed JWTs.
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a verifier with the given signing secret.
func NewJWTVerifier(secret []byte) *JWTVerifier {
	return &JWTVerifier{secret: secret}
}

// Verify validates the token and extracts the identity from the "sub",
// "email", and "role" claims.
func (v *JWTVerifier) Verify(tokenString string) (*Identity, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	role, ok := claims["role"].(string)
	if !ok || role == "" {
		return nil, fmt.Errorf("%w: role", ErrMissingClaim)
	}
	switch Role(role) {
	case RoleClient, RoleHost:
	default:
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, role)
	}

	email, _ := claims["email"].(string)

	return &Identity{
		SubjectID: sub,
		Email:     email,
		Role:      Role(role),
	}, nil
}

// Generate creates a signed token for the given identity with expiration.
func (v *JWTVerifier) Generate(ident *Identity, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  ident.SubjectID,
		"role": string(ident.Role),
		"iat":  now.Unix(),
		"exp":  now.Add(expiresIn).Unix(),
	}
	if ident.Email != "" {
		claims["email"] = ident.Email
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
