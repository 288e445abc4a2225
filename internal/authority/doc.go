// Package authority owns the wire boundary to the management authority.
//
// Ownership boundary:
// - funded unit creation and code installation requests
// - calls and queries routed into installed units
// - reject code taxonomy shared by every remote call
//
// The simulator subpackage implements the server side of the same protocol.
package authority
