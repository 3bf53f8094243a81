// Package gotrue implements auth.IdentityProvider against a GoTrue style
// auth server (the /auth/v1 API used by Supabase).
//
// The provider keeps the current session in memory, broadcasts session
// changes to subscribers and verifies access tokens with either a shared
// HS256 secret or a JWKS endpoint. Use it with auth.NewProvider.
package gotrue
