package model

import "github.com/golang-jwt/jwt/v5"

// UserClaims are the JWT claims issued by the identity provider
type UserClaims struct {
	UserID   string `json:"id"`
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// Identity is the authenticated caller of an HTTP request or realtime connection
type Identity struct {
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`
}
