// Package servicekey implements the service-key gate (spec SUPPLEMENTED
// FEATURES): a coarser-grained signed key, distinct from a per-user JWT,
// that lets a trusted integrator request tokens on behalf of an arbitrary
// user.
//
// Grounded on server/api_key.go's checkApiKey: a version byte, a
// caller-chosen sequence number, an isRoot bit and an HMAC signature,
// base64-url encoded without padding.
package servicekey

import (
	"bytes"
	"crypto/hmac"
	"crypto/md5"
	"encoding/base64"
	"errors"
)

const (
	versionLen   = 1
	sequenceLen  = 2
	rootLen      = 1
	signatureLen = 16
	keyLength    = versionLen + sequenceLen + rootLen + signatureLen

	currentVersion = 1
)

// ErrInvalidKey is returned for any malformed or incorrectly signed key.
var ErrInvalidKey = errors.New("servicekey: invalid key")

// Manager validates and mints service keys signed with a shared salt.
type Manager struct {
	salt []byte
}

// New builds a Manager. salt must be kept secret and shared only with the
// deployment's own key-issuance tooling (there is no API to mint keys over
// the wire).
func New(salt []byte) *Manager {
	return &Manager{salt: salt}
}

// Check validates key and reports whether it is valid and, if so, whether
// it carries root (cross-user) privilege.
func (m *Manager) Check(key string) (isValid, isRoot bool) {
	data, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(key)
	if err != nil || len(data) != keyLength {
		return false, false
	}
	if data[0] != currentVersion {
		return false, false
	}

	signed := data[:versionLen+sequenceLen+rootLen]
	sig := data[versionLen+sequenceLen+rootLen:]

	hasher := hmac.New(md5.New, m.salt)
	hasher.Write(signed)
	expected := hasher.Sum(nil)
	if !hmac.Equal(sig, expected) {
		return false, false
	}

	isRoot = data[versionLen+sequenceLen] == 1
	return true, isRoot
}

// Generate mints a new key with the given sequence number and root flag,
// used by offline key-provisioning tooling, not by any network handler.
func (m *Manager) Generate(sequence uint16, isRoot bool) string {
	buf := new(bytes.Buffer)
	buf.WriteByte(currentVersion)
	buf.WriteByte(byte(sequence))
	buf.WriteByte(byte(sequence >> 8))
	if isRoot {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}

	hasher := hmac.New(md5.New, m.salt)
	hasher.Write(buf.Bytes())
	buf.Write(hasher.Sum(nil))

	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(buf.Bytes())
}
