package fxa

import (
	"crypto/sha256"
	"encoding/hex"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// syncKeyLength is the size of kB, the root key material.
	syncKeyLength = 32

	// kwPrefix namespaces every derivation info string.
	kwPrefix = "identity.mozilla.com/picl/v1/"
)

func kw(name string) []byte {
	return []byte(kwPrefix + name)
}

func kwe(name, email string) []byte {
	return []byte(kwPrefix + name + ":" + email)
}

// deriveHKDF expands ikm into n bytes with HKDF-SHA256. A nil salt is
// the RFC 5869 default (a hash-length block of zeros), which matches the
// protocol's fixed all-zero salt.
func deriveHKDF(ikm, salt, info []byte, n int) ([]byte, error) {
	out := make([]byte, n)
	if _, err := io.ReadFull(hkdf.New(sha256.New, ikm, salt, info), out); err != nil {
		return nil, err
	}
	return out, nil
}

// SyncKeys is the derived Sync credential pair, hex encoded: the
// encryption root key and the key fingerprint the storage server checks.
type SyncKeys struct {
	SyncKey string
	XCS     string
}

// SyncKeys derives the Sync key pair from stored key material. The
// derivation is pure: the same kB always yields the same pair. Fails
// with KeysNotAvailable until a keys-requesting flow has stored kB.
func (a *Account) SyncKeys() (*SyncKeys, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.keyB) != syncKeyLength {
		return nil, ErrKeysNotAvailable()
	}

	kSync, err := deriveHKDF(a.keyB, nil, kw("oldsync"), 64)
	if err != nil {
		return nil, ErrSigningFailed("sync key derivation failed", err)
	}
	sum := sha256.Sum256(a.keyB)

	return &SyncKeys{
		SyncKey: hex.EncodeToString(kSync),
		XCS:     hex.EncodeToString(sum[:16]),
	}, nil
}
