// Package auth issues and verifies the bearer tokens that guard the admin
// surface.
package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgrijalva/jwt-go"
	"golang.org/x/crypto/bcrypt"

	"github.com/kalambet/vinq/internal/storage"
)

const (
	RoleAdmin = "admin"
	RoleUser  = "user"

	DefaultTokenTTL = time.Hour
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

// UserStore is the subset of storage.Store the authenticator needs.
type UserStore interface {
	GetUser(username string) (storage.User, error)
	CreateUser(u storage.User) error
	CountUsers() (int, error)
}

// Claims is the JWT payload. Subject carries the username.
type Claims struct {
	Role string `json:"role"`
	jwt.StandardClaims
}

// Options configures an Authenticator.
type Options struct {
	Secret   []byte
	TokenTTL time.Duration
	// Cost is the bcrypt cost for new password hashes.
	Cost int
	Now  func() time.Time
}

type Authenticator struct {
	users  UserStore
	secret []byte
	ttl    time.Duration
	cost   int
	now    func() time.Time
}

func New(users UserStore, opts Options) (*Authenticator, error) {
	if len(opts.Secret) == 0 {
		return nil, fmt.Errorf("jwt secret is required")
	}
	a := &Authenticator{
		users:  users,
		secret: opts.Secret,
		ttl:    opts.TokenTTL,
		cost:   opts.Cost,
		now:    opts.Now,
	}
	if a.ttl == 0 {
		a.ttl = DefaultTokenTTL
	}
	if a.cost == 0 {
		a.cost = bcrypt.DefaultCost
	}
	if a.now == nil {
		a.now = time.Now
	}
	return a, nil
}

// Token is the result of a successful login.
type Token struct {
	Token     string    `json:"token"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Login checks username and password and issues a signed token. Unknown users
// and wrong passwords are indistinguishable to the caller.
func (a *Authenticator) Login(username, password string) (Token, error) {
	u, err := a.users.GetUser(username)
	if errors.Is(err, storage.ErrNotFound) {
		return Token{}, ErrInvalidCredentials
	}
	if err != nil {
		return Token{}, fmt.Errorf("looking up user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return Token{}, ErrInvalidCredentials
	}
	return a.Issue(u.Username, u.Role)
}

// Issue signs a token for username with role.
func (a *Authenticator) Issue(username, role string) (Token, error) {
	now := a.now()
	exp := now.Add(a.ttl)
	claims := &Claims{
		Role: role,
		StandardClaims: jwt.StandardClaims{
			Subject:   username,
			IssuedAt:  now.Unix(),
			ExpiresAt: exp.Unix(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return Token{}, fmt.Errorf("signing token: %w", err)
	}
	return Token{Token: signed, Role: role, ExpiresAt: exp.UTC()}, nil
}

// Verify parses and validates a signed token.
func (a *Authenticator) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.ExpiresAt == 0 || a.now().Unix() > claims.ExpiresAt {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// AddUser hashes password and stores a new user.
func (a *Authenticator) AddUser(username, password, role string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.cost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	return a.users.CreateUser(storage.User{Username: username, PasswordHash: string(hash), Role: role})
}

var demoUsers = []struct{ name, password, role string }{
	{"admin", "admin123", RoleAdmin},
	{"user", "user123", RoleUser},
}

// SeedDemoUsers creates the demo accounts when no user exists yet. It returns
// the number of users created.
func (a *Authenticator) SeedDemoUsers() (int, error) {
	n, err := a.users.CountUsers()
	if err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	if n > 0 {
		return 0, nil
	}
	for _, u := range demoUsers {
		if err := a.AddUser(u.name, u.password, u.role); err != nil {
			return 0, fmt.Errorf("seeding %s: %w", u.name, err)
		}
	}
	slog.Warn("seeded demo users; change their passwords before exposing the server", "users", len(demoUsers))
	return len(demoUsers), nil
}
