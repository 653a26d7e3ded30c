package models

import "github.com/golang-jwt/jwt/v5"

// AccessClaims is the JWT claim set accepted by the API.
type AccessClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Role  string `json:"role"`
}

// GetUserID returns the user ID from the JWT subject claim.
func (c *AccessClaims) GetUserID() string {
	return c.Subject
}
