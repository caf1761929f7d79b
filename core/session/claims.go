package session

import (
	"github.com/dgrijalva/jwt-go"
	"github.com/pkg/errors"
)

var (
	errInvalidToken = errors.New("invalid token")
)

// Claims represents the authorization claims carried by an access token.
type Claims struct {
	jwt.StandardClaims
	Username  string `json:"username,omitempty"`
	Email     string `json:"email,omitempty"`
	IsParent  bool   `json:"is_parent,omitempty"`  // -> PARENT PORTAL
	IsTeacher bool   `json:"is_teacher,omitempty"` // -> TEACHER PORTAL
	IsAdmin   bool   `json:"is_admin,omitempty"`   // -> ADMIN PORTAL
	Role      string `json:"role,omitempty"`
}

// PortalRole maps the claim flags to a role constant, parent being the
// default portal for tokens carrying no explicit role.
func (c *Claims) PortalRole() string {
	switch {
	case c.IsAdmin || c.Role == RoleAdmin:
		return RoleAdmin
	case c.IsTeacher || c.Role == RoleTeacher:
		return RoleTeacher
	default:
		return RoleParent
	}
}

// ParseClaims verifies an HS256-signed token and returns its claims.
func ParseClaims(token, secret string) (*Claims, error) {
	claims := new(Claims)
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method %q", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "parsing token")
	}
	if !parsed.Valid {
		return nil, errInvalidToken
	}
	return claims, nil
}

// RoleHint extracts a role from a token without verifying the signature.
// Only safe for cosmetic decisions (which login page to show); never use it
// for authorization.
func RoleHint(token string) string {
	claims := new(Claims)
	if _, _, err := new(jwt.Parser).ParseUnverified(token, claims); err != nil {
		return RoleParent
	}
	return claims.PortalRole()
}
