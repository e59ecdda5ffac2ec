// Package jwt signs and verifies the two JWT shapes used by the session core:
// short-lived access tokens and the family claim embedded in refresh tokens.
//
// Both carry a "use" claim; the parsers reject a token minted for the other use.
package jwt
