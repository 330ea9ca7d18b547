package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/starford/ansuz/internal/apperr"
)

const usersSchemaSQL = `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	email         TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	created_at    DATETIME NOT NULL
);
`

// Users is the account registry, kept in the same SQLite file as the notes.
type Users struct {
	db *sql.DB
}

// NewUsers applies the user schema and returns the registry.
func NewUsers(db *sql.DB) (*Users, error) {
	if _, err := db.Exec(usersSchemaSQL); err != nil {
		return nil, fmt.Errorf("server: apply users schema: %w", err)
	}
	return &Users{db: db}, nil
}

// Register creates an account with a bcrypt password hash. A duplicate email
// is rejected with ErrRegistrationRejected.
func (u *Users) Register(ctx context.Context, name, email, password string) error {
	if email == "" || password == "" {
		return fmt.Errorf("server: %w: email and password are required", apperr.ErrValidation)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("server: hash password: %w", err)
	}

	_, err = u.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, password_hash, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, uuid.New().String(), name, email, string(hash), time.Now().UTC())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return fmt.Errorf("server: %w: email already registered", apperr.ErrRegistrationRejected)
		}
		return fmt.Errorf("server: insert user: %w", err)
	}
	return nil
}

// Authenticate verifies email and password against the stored hash.
func (u *Users) Authenticate(ctx context.Context, email, password string) error {
	var hash string
	err := u.db.QueryRowContext(ctx, `SELECT password_hash FROM users WHERE email = ?`, email).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.ErrAuthRejected
	}
	if err != nil {
		return fmt.Errorf("server: lookup user: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return apperr.ErrAuthRejected
	}
	return nil
}

// TokenIssuer issues and verifies HS256 bearer tokens carrying the
// authenticated identity.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenIssuer creates an issuer with the given signing secret and TTL.
func NewTokenIssuer(secret string, ttl time.Duration) (*TokenIssuer, error) {
	if secret == "" {
		return nil, errors.New("server: jwt secret cannot be empty")
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl}, nil
}

// Issue returns a signed token for the identity.
func (t *TokenIssuer) Issue(identity string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   identity,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("server: sign token: %w", err)
	}
	return signed, nil
}

// Verify parses a token and returns the identity it was issued for.
func (t *TokenIssuer) Verify(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil || !token.Valid {
		return "", apperr.ErrAuthRejected
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", apperr.ErrAuthRejected
	}
	return claims.Subject, nil
}

type contextKey string

const identityKey contextKey = "identity"

// AuthMiddleware validates the "Authorization: Bearer <token>" header and
// stores the authenticated identity in the request context.
func AuthMiddleware(tokens *TokenIssuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				writeJSON(w, http.StatusUnauthorized, errorBody("could not validate credentials"))
				return
			}
			identity, err := tokens.Verify(strings.TrimPrefix(auth, "Bearer "))
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, errorBody("could not validate credentials"))
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, identity)))
		})
	}
}

// identityFrom returns the authenticated identity stored by AuthMiddleware.
func identityFrom(ctx context.Context) string {
	identity, _ := ctx.Value(identityKey).(string)
	return identity
}
