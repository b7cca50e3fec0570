// Package kerberos provides the Kerberos AuthProvider for the bridge
// control-plane REST surface.
//
// The Provider type implements the auth.AuthProvider interface and manages:
//   - Keytab and krb5.conf loading with environment variable overrides
//   - Hot-reload capability for keytab rotation
//   - SPNEGO/Kerberos token detection for the auth provider chain
//
// This package identifies the mechanism only: Provider.Authenticate does not
// verify the AP-REQ/SPNEGO token against the keytab and always reports
// Authenticated false, and no other part of the module verifies it either.
// StaticMapper in identity.go maps a principal to a VM; nothing calls it.
//
// Configuration is defined in pkg/config.KerberosConfig to avoid circular
// imports. This package accepts *config.KerberosConfig as constructor
// parameter.
//
// References:
//   - RFC 2203: RPCSEC_GSS Protocol Specification
//   - RFC 4121: The Kerberos Version 5 GSS-API Mechanism
package kerberos
