package fxa

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/google/uuid"
)

// Scope names with server-side key material attached.
const (
	ScopeProfile = "profile"
	ScopeSync    = "https://identity.mozilla.com/apps/oldsync"
)

// newFlowKeys generates the ephemeral keypair for one keys-requesting
// flow plus the base64url JWK parameter advertising its public half.
// The server encrypts the account keys to this key; the private half
// never leaves the pending-flow record.
func newFlowKeys() (*ecdsa.PrivateKey, string, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, "", ErrSigningFailed("cannot generate flow key pair", err)
	}
	jwk := jose.JSONWebKey{
		Key:       &key.PublicKey,
		KeyID:     uuid.NewString(),
		Algorithm: string(jose.ECDH_ES),
		Use:       "enc",
	}
	buf, err := jwk.MarshalJSON()
	if err != nil {
		return nil, "", ErrSigningFailed("cannot marshal flow public key", err)
	}
	return key, base64.RawURLEncoding.EncodeToString(buf), nil
}

// unwrapFlowKeysLocked decrypts a keys_jwe payload with the flow's
// private key and loads the contained key material. Caller holds a.mu.
func (a *Account) unwrapFlowKeysLocked(key *ecdsa.PrivateKey, keysJWE string) error {
	if key == nil {
		return ErrKeysNotAvailable()
	}
	obj, err := jose.ParseEncrypted(keysJWE,
		[]jose.KeyAlgorithm{jose.ECDH_ES},
		[]jose.ContentEncryption{jose.A256GCM})
	if err != nil {
		return &Error{Code: CodeKeysNotAvailable, Message: "keys_jwe is not a valid JWE", Cause: err}
	}
	plain, err := obj.Decrypt(key)
	if err != nil {
		return &Error{Code: CodeKeysNotAvailable, Message: "cannot decrypt keys_jwe", Cause: err}
	}
	return a.loadKeyMaterialLocked(plain)
}

// loadKeyMaterialLocked parses decrypted key material. Two payload
// shapes exist: a direct {"kB": "<hex>"} object, and a scoped-keys map
// whose sync entry carries the key as a base64url "k" field. Payloads
// without a sync key load whatever else is present; SyncKeys reports
// KeysNotAvailable later. Caller holds a.mu.
func (a *Account) loadKeyMaterialLocked(plain []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(plain, &fields); err != nil {
		return &Error{Code: CodeKeysNotAvailable, Message: "key material is not a JSON object", Cause: err}
	}

	if raw, ok := fields["kB"]; ok {
		var kbHex string
		if err := json.Unmarshal(raw, &kbHex); err != nil {
			return &Error{Code: CodeKeysNotAvailable, Message: "kB field is not a string", Cause: err}
		}
		kb, err := hex.DecodeString(kbHex)
		if err != nil {
			return &Error{Code: CodeKeysNotAvailable, Message: "kB is not hex", Cause: err}
		}
		if len(kb) != syncKeyLength {
			return &Error{Code: CodeKeysNotAvailable,
				Message: fmt.Sprintf("kB must be %d bytes, got %d", syncKeyLength, len(kb))}
		}
		a.keyB = kb
		return nil
	}

	a.scopedKeys = fields
	if raw, ok := fields[ScopeSync]; ok {
		var entry struct {
			K string `json:"k"`
		}
		if err := json.Unmarshal(raw, &entry); err != nil {
			return &Error{Code: CodeKeysNotAvailable, Message: "sync scoped key is malformed", Cause: err}
		}
		kb, err := base64.RawURLEncoding.DecodeString(entry.K)
		if err != nil {
			return &Error{Code: CodeKeysNotAvailable, Message: "sync scoped key is not base64url", Cause: err}
		}
		if len(kb) != syncKeyLength {
			return &Error{Code: CodeKeysNotAvailable,
				Message: fmt.Sprintf("sync key must be %d bytes, got %d", syncKeyLength, len(kb))}
		}
		a.keyB = kb
	}
	return nil
}
