package util

import (
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	MinArgon2Time      = 2
	MinArgon2MemoryKiB = 19 * 1024
	MinArgon2Parallel  = 1
)

const (
	KDFProfileInteractive = "interactive"
	KDFProfileModerate    = "moderate"
	KDFProfileSensitive   = "sensitive"
)

type Argon2idParams struct {
	Time        uint32 `json:"time"`
	MemoryKiB   uint32 `json:"memory"`
	Parallelism uint8  `json:"parallelism"`
	KeyLen      uint32 `json:"key_len"`
}

// DefaultArgon2idParams returns the moderate profile.
func DefaultArgon2idParams() Argon2idParams {
	return Argon2idParams{
		Time:        3,
		MemoryKiB:   64 * 1024,
		Parallelism: 4,
		KeyLen:      32,
	}
}

// Argon2idProfile returns the parameters for a named cost profile.
func Argon2idProfile(name string) (Argon2idParams, error) {
	switch name {
	case KDFProfileInteractive:
		return Argon2idParams{Time: MinArgon2Time, MemoryKiB: MinArgon2MemoryKiB, Parallelism: MinArgon2Parallel, KeyLen: 32}, nil
	case KDFProfileModerate, "":
		return DefaultArgon2idParams(), nil
	case KDFProfileSensitive:
		return Argon2idParams{Time: 4, MemoryKiB: 128 * 1024, Parallelism: 4, KeyLen: 32}, nil
	default:
		return Argon2idParams{}, fmt.Errorf("unknown kdf profile %q", name)
	}
}

// ValidateArgon2idParams rejects parameters below the OWASP floor
// (t >= 2 with m >= 19 MiB).
func ValidateArgon2idParams(p Argon2idParams) error {
	if p.KeyLen != 32 {
		return fmt.Errorf("argon2id key length must be 32 bytes, got %d", p.KeyLen)
	}
	if p.Time < MinArgon2Time {
		return fmt.Errorf("argon2id time cost must be at least %d, got %d", MinArgon2Time, p.Time)
	}
	if p.MemoryKiB < MinArgon2MemoryKiB {
		return fmt.Errorf("argon2id memory must be at least %d KiB, got %d", MinArgon2MemoryKiB, p.MemoryKiB)
	}
	if p.Parallelism < MinArgon2Parallel {
		return fmt.Errorf("argon2id parallelism must be at least 1")
	}
	return nil
}

func DeriveArgon2idKey(passphrase string, salt []byte, params Argon2idParams) ([]byte, error) {
	if params.KeyLen != 32 {
		return nil, fmt.Errorf("argon2id key length must be 32 bytes")
	}
	key := argon2.IDKey([]byte(passphrase), salt, params.Time, params.MemoryKiB, params.Parallelism, params.KeyLen)
	return key, nil
}

func CompareArgon2idKey(passphrase string, salt []byte, params Argon2idParams, expectedKey []byte) (bool, error) {
	key, err := DeriveArgon2idKey(passphrase, salt, params)
	if err != nil {
		return false, err
	}
	defer WipeBytes(key)
	return subtle.ConstantTimeCompare(key, expectedKey) == 1, nil
}

// EncodeArgon2idHash renders a derived key in the PHC string format:
// $argon2id$v=19$m=65536,t=3,p=4$<salt>$<key>
func EncodeArgon2idHash(params Argon2idParams, salt, key []byte) string {
	b64 := base64.RawStdEncoding
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, params.MemoryKiB, params.Time, params.Parallelism,
		b64.EncodeToString(salt), b64.EncodeToString(key))
}

// ParseArgon2idHash is the inverse of EncodeArgon2idHash.
func ParseArgon2idHash(encoded string) (Argon2idParams, []byte, []byte, error) {
	var params Argon2idParams
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return params, nil, nil, fmt.Errorf("not an argon2id hash")
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return params, nil, nil, fmt.Errorf("parsing argon2id version: %w", err)
	}
	if version != argon2.Version {
		return params, nil, nil, fmt.Errorf("unsupported argon2id version %d", version)
	}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.MemoryKiB, &params.Time, &params.Parallelism); err != nil {
		return params, nil, nil, fmt.Errorf("parsing argon2id parameters: %w", err)
	}
	b64 := base64.RawStdEncoding
	salt, err := b64.DecodeString(parts[4])
	if err != nil {
		return params, nil, nil, fmt.Errorf("decoding argon2id salt: %w", err)
	}
	key, err := b64.DecodeString(parts[5])
	if err != nil {
		return params, nil, nil, fmt.Errorf("decoding argon2id key: %w", err)
	}
	params.KeyLen = uint32(len(key))
	if params.KeyLen != 32 {
		return params, nil, nil, fmt.Errorf("argon2id key length must be 32 bytes, got %d", params.KeyLen)
	}
	return params, salt, key, nil
}
