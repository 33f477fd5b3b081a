package claims

import (
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/golang-jwt/jwt/v5"
)

// Authenticator resolves the caller of an HTTP request from its bearer ID token.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// Caller returns the authenticated caller, or ErrUnauthenticated when the
// request carries no valid token.
func (a *Authenticator) Caller(r *http.Request) (*Caller, error) {
	header := r.Header.Get("Authorization")
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return nil, errors.Wrap(ErrUnauthenticated, "missing bearer token")
	}
	if len(a.secret) == 0 {
		return nil, errors.Wrap(ErrUnauthenticated, "token verification is not configured")
	}

	token, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Newf("unexpected signing method %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "invalid token"), ErrUnauthenticated)
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, errors.Wrap(ErrUnauthenticated, "token has no subject")
	}
	return &Caller{UID: claims.Subject}, nil
}
