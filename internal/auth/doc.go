// Package auth verifies bearer credentials and carries the resulting
// identity through request contexts.
//
// Credentials are HS256 JWTs with "sub" and "role" claims (plus an optional
// "email"). The role separates end users ("client"), who join conversations,
// from workspace hosts ("host"), who administer tenants and are refused by
// every conversation surface. Middleware enforces authentication on REST
// routes; the websocket gateway verifies the token itself because it arrives
// as a query parameter.
package auth
