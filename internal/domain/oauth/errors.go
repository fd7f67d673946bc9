package oauth

import "errors"

var (
	// ErrClientNotFound signals an unknown client id.
	ErrClientNotFound = errors.New("oauth: client not found")
	// ErrGrantNotFound signals a missing or already redeemed authorization code.
	ErrGrantNotFound = errors.New("oauth: grant not found")
	// ErrTokenNotFound signals a missing or expired access token.
	ErrTokenNotFound = errors.New("oauth: token not found")
	// ErrTokenInvalid indicates malformed or unverifiable tokens.
	ErrTokenInvalid = errors.New("oauth: token invalid")
)
