// Package identity holds the gateway's immutable process identity: its
// 6-byte id and 16-byte secure key, loaded once at startup from static
// configuration.
package identity

import "encoding/base64"

// IDSize is the length in bytes of a gateway id.
const IDSize = 6

// SecureKeySize is the length in bytes of a gateway secure key.
const SecureKeySize = 16

// Identity is immutable for the lifetime of the process.
type Identity struct {
	ID        [IDSize]byte
	SecureKey [SecureKeySize]byte
}

// New builds an Identity from a raw id and secure key, as loaded from
// conf/static.conf.
func New(id [IDSize]byte, secureKey [SecureKeySize]byte) Identity {
	return Identity{ID: id, SecureKey: secureKey}
}

// Base64ID returns the gateway id's base64 textual form, used as the
// primary key of the `gateways` row this process updates.
func (i Identity) Base64ID() string {
	return base64.StdEncoding.EncodeToString(i.ID[:])
}
