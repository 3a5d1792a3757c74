// Package oauth implements an OAuth 2.0 authorization server.
//
// The package provides the authorization code grant with PKCE (RFC 7636),
// refresh token rotation, the client credentials grant, dynamic client
// registration (RFC 7591), a scope-filtered userinfo endpoint, and
// authorization server metadata discovery (RFC 8414).
//
// Server holds the protocol state machine on top of pluggable storage
// backends (see the storage package); Handler exposes it over HTTP. Access
// and refresh tokens are Ed25519-signed JWTs minted by the token package,
// with refresh tokens additionally tracked server-side so rotation can
// detect reuse.
//
// Typical wiring:
//
//	store := memory.New()
//	issuer, err := token.NewIssuer(token.Config{Issuer: "https://auth.example.com"})
//	if err != nil {
//		log.Fatal(err)
//	}
//	srv, err := oauth.NewServer(store, store, store, store, issuer, oauth.Config{
//		Issuer:   "https://auth.example.com",
//		LoginURL: "https://auth.example.com/login",
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	handler := oauth.NewHandler(srv, sessionAuth, logger)
package oauth
