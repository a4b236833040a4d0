package api

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// IdentityFromToken reads the operator id from the `sub` claim of the access
// token. The signature is not checked here; the server does that on every
// request.
func IdentityFromToken(token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrNoToken
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return Identity{}, errors.Wrap(err, "parse access token")
	}
	sub, err := claims.GetSubject()
	if err != nil {
		return Identity{}, errors.Wrap(err, "read subject claim")
	}
	if sub == "" {
		return Identity{}, errors.New("access token has no subject")
	}
	identity := Identity{ID: ID(sub)}
	if name, ok := claims["name"].(string); ok {
		identity.Name = name
	}
	return identity, nil
}
