package store

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// ErrCorrupt is returned when persisted bytes cannot be trusted.
var ErrCorrupt = errors.New("store: corrupt record")

// envelope wraps every persisted record. Newer writers may add fields to
// the payload; older readers ignore what they do not know.
type envelope struct {
	Kind     string          `json:"kind"`
	Version  int             `json:"version"`
	Checksum string          `json:"checksum"`
	Payload  json.RawMessage `json:"payload"`
}

func checksum(payload []byte) string {
	sum := blake2b.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Encode serializes v into a versioned envelope of the given kind.
func Encode(kind string, version int, v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	return json.Marshal(envelope{
		Kind:     kind,
		Version:  version,
		Checksum: checksum(payload),
		Payload:  payload,
	})
}

// Decode verifies an envelope of the given kind and unmarshals its payload
// into v. It returns the schema version the record was written with.
func Decode(data []byte, kind string, v any) (int, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if env.Kind != kind {
		return env.Version, fmt.Errorf("%w: kind %q, want %q", ErrCorrupt, env.Kind, kind)
	}
	if env.Version < 1 {
		return env.Version, fmt.Errorf("%w: version %d", ErrCorrupt, env.Version)
	}
	if len(env.Payload) == 0 || checksum(env.Payload) != env.Checksum {
		return env.Version, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return env.Version, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return env.Version, nil
}

// Load reads and decodes key from s. A missing key yields ErrNotFound.
func Load(s Store, key, kind string, v any) (int, error) {
	data, err := s.Get(key)
	if err != nil {
		return 0, err
	}
	return Decode(data, kind, v)
}

// Save encodes v and writes it under key.
func Save(s Store, key, kind string, version int, v any) error {
	data, err := Encode(kind, version, v)
	if err != nil {
		return err
	}
	return s.Put(key, data)
}
