package config

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/roach88/hirechat/internal/chat"
)

// Claim names checked for each identity field, in order.
var (
	idClaims     = []string{"sub", "nameid", "userId"}
	nameClaims   = []string{"name", "unique_name", "given_name"}
	avatarClaims = []string{"picture", "avatar"}
)

// IdentityFromToken reads the viewer's identity from an access token's
// claims. The signature is not checked; the server verifies the token on
// every request.
func IdentityFromToken(token string) (chat.Participant, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return chat.Participant{}, fmt.Errorf("parse access token: %w", err)
	}

	p := chat.Participant{
		ID:     firstClaim(claims, idClaims),
		Name:   firstClaim(claims, nameClaims),
		Avatar: firstClaim(claims, avatarClaims),
	}
	if p.ID == "" {
		return chat.Participant{}, fmt.Errorf("access token carries no user id")
	}
	return p, nil
}

func firstClaim(claims jwt.MapClaims, names []string) string {
	for _, n := range names {
		if s, ok := claims[n].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
