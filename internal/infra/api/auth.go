package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"learnmate/internal/infra/logging"
)

// DevUserID is the identity used when authentication is disabled.
const DevUserID = "dev"

var errMissingToken = errors.New("missing bearer token")

// Authenticator issues and verifies HS256 bearer tokens whose subject is the
// user id.
type Authenticator struct {
	secret   []byte
	ttl      time.Duration
	disabled bool
}

func NewAuthenticator(secret string, ttl time.Duration, disabled bool) *Authenticator {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &Authenticator{secret: []byte(secret), ttl: ttl, disabled: disabled}
}

type UserClaims struct {
	jwt.RegisteredClaims
}

func (a *Authenticator) Mint(userID string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", errors.New("empty user id")
	}
	now := time.Now()
	claims := UserClaims{RegisteredClaims: jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		Subject:   userID,
	}}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// UserFromRequest returns the token subject from "Authorization: Bearer <jwt>".
func (a *Authenticator) UserFromRequest(r *http.Request) (string, error) {
	if a.disabled {
		return DevUserID, nil
	}
	hdr := r.Header.Get("Authorization")
	if len(hdr) < 7 || !strings.EqualFold(hdr[:7], "bearer ") {
		return "", errMissingToken
	}
	claims := &UserClaims{}
	tkn, err := jwt.ParseWithClaims(strings.TrimSpace(hdr[7:]), claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !tkn.Valid {
		return "", errors.New("invalid token")
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

// Middleware rejects unauthenticated calls with 401 and puts the user id in ctx.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := a.UserFromRequest(r)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="learnmate"`)
			writeDetail(w, http.StatusUnauthorized, err.Error())
			return
		}
		if rw, ok := w.(*respWriter); ok {
			rw.userID = userID
		}
		next.ServeHTTP(w, r.WithContext(logging.WithUserID(r.Context(), userID)))
	})
}
