// Package auth provides JWT-based authentication for the ophub API.
//
// Tokens are HS256-signed JWTs carrying the caller identity in the "sub"
// claim, verified against a shared secret from the configuration. The
// HTTP middleware extracts the bearer token and places the subject on the
// request context. The bootstrap token used to mint the first API tokens
// is stored only as a bcrypt hash.
package auth
