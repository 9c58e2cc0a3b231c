// Package authn is the authentication and access-control enforcement stage
// of the gatewarden request pipeline.
//
// # Decision Pipeline
//
// For every inbound request the Coordinator decides, before any application
// logic runs, whether the target resource is constrained, whether the caller
// already carries a valid identity (cached session state or a single sign-on
// token), whether fresh credential verification is required, and whether the
// verified identity satisfies the resource's authorization rules:
//
//	cache hydration → replay guards → constraint resolution →
//	confidentiality check → challenge dispatch → registration →
//	resource permission → forward
//
// Every rejection path finalizes the response itself and reports false from
// Process; the coordinator never writes to a response after a rejection has
// been signaled.
//
// # Strategies
//
// Scheme-specific verification is behind the Strategy interface, injected at
// configuration time:
//
//   - BasicStrategy: HTTP Basic credentials verified against the realm.
//   - BearerStrategy: HS256-signed JWT bearer tokens mapped to realm
//     principals.
//
// On success a strategy calls Coordinator.Register, which binds the identity
// to the request, rotates the session identifier to defeat fixation, caches
// the principal on the session, and issues or updates the single sign-on
// entry.
//
// # Collaborators
//
// The realm (constraint resolution and authorization decisions), session
// manager and SSO registry are explicit constructor dependencies; a nil
// registry disables single sign-on.
package authn
