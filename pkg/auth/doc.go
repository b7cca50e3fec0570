// Package auth provides centralized authentication abstractions for the
// control-plane REST surface.
//
// This package defines the core types and interfaces for authentication:
//
//   - AuthProvider: Pluggable authentication mechanism (Kerberos, bearer token)
//   - Authenticator: Chains AuthProviders, tries each in order
//   - AuthResult: Authentication outcome with Identity
//   - Identity: Mechanism-neutral authenticated identity (owner VM, session)
//   - IdentityMapper: Converts AuthResult to the session Identity
//
// Sub-packages:
//   - kerberos/: Kerberos AuthProvider with keytab management and hot-reload
//
// pkg/session wraps an Authenticator chain to mint the JWT SessionRef that
// scopes which VM a caller may issue control verbs for.
package auth
