package storage

import (
	"fmt"

	"github.com/jmcleod/editgate/internal/util"
)

const (
	// SchemeAES256GCM marks an envelope sealed with SealRecord.
	SchemeAES256GCM = "aes256gcm"
	// SchemePlainJSON marks an envelope whose Ciphertext is unencrypted JSON.
	SchemePlainJSON = "plain-json"
)

// Envelope is a stored record. Sealed envelopes carry AES-256-GCM
// ciphertext; plain envelopes carry JSON as-is.
type Envelope struct {
	Ver        int    `json:"ver"`
	Scheme     string `json:"scheme"`
	Nonce      []byte `json:"nonce,omitempty"`
	Ciphertext []byte `json:"ciphertext"`
	Version    uint64 `json:"version,omitempty"`
}

// SealRecord encrypts plaintext into an Envelope using the given key and AAD.
func SealRecord(key, plaintext, aad []byte, version ...uint64) (*Envelope, error) {
	sealed, err := util.EncryptAESWithAAD(plaintext, key, aad)
	if err != nil {
		return nil, err
	}

	// EncryptAESWithAAD returns nonce || ciphertext.
	env := &Envelope{
		Ver:        1,
		Scheme:     SchemeAES256GCM,
		Nonce:      sealed[:12],
		Ciphertext: sealed[12:],
	}
	if len(version) > 0 {
		env.Version = version[0]
	}
	return env, nil
}

// OpenRecord decrypts an Envelope using the given key and AAD.
func OpenRecord(key []byte, envelope *Envelope, aad []byte) ([]byte, error) {
	if envelope.Ver != 1 {
		return nil, fmt.Errorf("unsupported envelope version: %d", envelope.Ver)
	}
	if envelope.Scheme != SchemeAES256GCM {
		return nil, fmt.Errorf("unsupported envelope scheme: %s", envelope.Scheme)
	}

	full := make([]byte, len(envelope.Nonce)+len(envelope.Ciphertext))
	copy(full, envelope.Nonce)
	copy(full[len(envelope.Nonce):], envelope.Ciphertext)

	return util.DecryptAESWithAAD(full, key, aad)
}

// PlainRecord wraps already-serialised JSON in an unencrypted envelope.
func PlainRecord(data []byte, version uint64) *Envelope {
	return &Envelope{
		Ver:        1,
		Scheme:     SchemePlainJSON,
		Ciphertext: data,
		Version:    version,
	}
}

// OpenPlain returns the JSON payload of a plain envelope.
func OpenPlain(envelope *Envelope) ([]byte, error) {
	if envelope.Ver != 1 {
		return nil, fmt.Errorf("unsupported envelope version: %d", envelope.Ver)
	}
	if envelope.Scheme != SchemePlainJSON {
		return nil, fmt.Errorf("unsupported envelope scheme: %s", envelope.Scheme)
	}
	return envelope.Ciphertext, nil
}
