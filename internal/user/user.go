// Package user maps bearer tokens to user identities.
//
// Per the data model, a token is an opaque authentication secret that maps
// 1:1 to a user identity. Tokens prefixed "web-user-" yield a user id equal
// to the suffix; any other token's user id is the token itself.
package user

import "strings"

const webUserPrefix = "web-user-"

// User is the identity a bearer token resolves to.
type User struct {
	ID    string
	Token string
}

// IDFromToken derives the user id a token maps to.
func IDFromToken(token string) string {
	if strings.HasPrefix(token, webUserPrefix) {
		return strings.TrimPrefix(token, webUserPrefix)
	}
	return token
}
