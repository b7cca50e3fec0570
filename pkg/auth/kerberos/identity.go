package kerberos

import (
	"fmt"

	"github.com/hyperbridge/dmabridge/pkg/auth"
	"github.com/hyperbridge/dmabridge/pkg/config"
)

// IdentityMapper converts a Kerberos principal to the owner VM it may act as.
//
// Implementations map authenticated Kerberos principals (e.g.,
// "host/vm7@EXAMPLE.COM") to the guest VM id that principal is allowed to
// issue control verbs for.
type IdentityMapper interface {
	// MapPrincipal maps a Kerberos principal and realm to an auth.Identity.
	MapPrincipal(principal string, realm string) (*auth.Identity, error)
}

// StaticMapper implements IdentityMapper using a static configuration map.
//
// Principals are looked up in the configured static map using the key
// format "principal@realm". If a match is found, the configured VM id is
// returned; otherwise the principal is rejected — unlike a filesystem
// identity mapper there is no safe "nobody" VM to fall back to, since a
// wrong VM id would let one guest issue verbs scoped to another.
type StaticMapper struct {
	staticMap map[string]config.StaticVMIdentity
}

// NewStaticMapper creates a new static identity mapper from configuration.
func NewStaticMapper(cfg *config.IdentityMappingConfig) *StaticMapper {
	staticMap := cfg.StaticMap
	if staticMap == nil {
		staticMap = make(map[string]config.StaticVMIdentity)
	}
	return &StaticMapper{staticMap: staticMap}
}

// MapPrincipal maps a Kerberos principal to the VM it is allowed to act as.
func (m *StaticMapper) MapPrincipal(principal string, realm string) (*auth.Identity, error) {
	key := fmt.Sprintf("%s@%s", principal, realm)

	entry, ok := m.staticMap[key]
	if !ok {
		return nil, fmt.Errorf("kerberos: no VM mapping for principal %q", key)
	}

	return &auth.Identity{
		OwnerVM:   entry.VM,
		Principal: principal,
		Attributes: map[string]string{
			"mechanism": "kerberos",
			"realm":     realm,
		},
	}, nil
}
