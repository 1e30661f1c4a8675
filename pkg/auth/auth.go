package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrNoToken is returned when an empty token is verified
	ErrNoToken = errors.New("no token presented")
	// ErrInvalidToken is returned for tokens that fail verification
	ErrInvalidToken = errors.New("invalid token")
)

// Identity is an authenticated user bound to a connection
type Identity struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName,omitempty"`
	Email       string `json:"email,omitempty"`
}

// Authenticator turns a bearer token into an identity
type Authenticator interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// Directory resolves profile details for a user id
type Directory interface {
	Lookup(ctx context.Context, userID string) (*Identity, bool)
}

// Claims is the JWT claim set accepted by the hub
type Claims struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// JWTAuthenticator verifies HMAC-signed tokens
type JWTAuthenticator struct {
	secret    []byte
	issuer    string
	directory Directory
}

// NewJWTAuthenticator creates a verifier. directory may be nil.
func NewJWTAuthenticator(secret, issuer string, directory Directory) *JWTAuthenticator {
	return &JWTAuthenticator{
		secret:    []byte(secret),
		issuer:    issuer,
		directory: directory,
	}
}

// Verify parses and validates the token, filling profile gaps from the directory
func (a *JWTAuthenticator) Verify(ctx context.Context, tokenString string) (*Identity, error) {
	if tokenString == "" {
		return nil, ErrNoToken
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return a.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing sub claim", ErrInvalidToken)
	}

	id := &Identity{
		UserID:      claims.Subject,
		DisplayName: claims.Name,
		Email:       claims.Email,
	}
	if a.directory != nil && (id.DisplayName == "" || id.Email == "") {
		if profile, found := a.directory.Lookup(ctx, id.UserID); found {
			if id.DisplayName == "" {
				id.DisplayName = profile.DisplayName
			}
			if id.Email == "" {
				id.Email = profile.Email
			}
		}
	}
	if id.DisplayName == "" {
		id.DisplayName = id.UserID
	}
	return id, nil
}

// Issue mints a signed token for the given identity
func (a *JWTAuthenticator) Issue(id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Name:  id.DisplayName,
		Email: id.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// MemoryDirectory is a static in-process user directory
type MemoryDirectory struct {
	mu    sync.RWMutex
	users map[string]Identity
}

// NewMemoryDirectory creates a directory seeded with the given users
func NewMemoryDirectory(users ...Identity) *MemoryDirectory {
	d := &MemoryDirectory{users: make(map[string]Identity)}
	for _, u := range users {
		d.users[u.UserID] = u
	}
	return d
}

// Put adds or replaces a user
func (d *MemoryDirectory) Put(id Identity) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[id.UserID] = id
}

// Lookup returns the profile for userID
func (d *MemoryDirectory) Lookup(_ context.Context, userID string) (*Identity, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[userID]
	if !ok {
		return nil, false
	}
	return &u, true
}
