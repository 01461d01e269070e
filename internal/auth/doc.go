// Package auth authenticates operators of the admin API.
//
// Operators present HS256-signed JWTs issued by "coven-paybot token". A
// token's subject names the operator and its role decides what it may do:
// RoleViewer can read session snapshots, RoleAdmin can also reset them.
// The HTTP middleware verifies the bearer token and stores the Operator in
// the request context.
package auth
