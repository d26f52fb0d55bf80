// Package fingerprint computes order-insensitive content digests used to
// avoid re-transmitting unchanged system prompts and tool catalogs.
package fingerprint

import (
	"encoding/json"
	"fmt"

	"lukechampine.com/blake3"
)

// Digest is a 128-bit content fingerprint.
type Digest [16]byte

// Tag values distinguish what was hashed so that two canonicalized byte
// strings which happen to be byte-identical across categories (e.g. a
// single system string vs. a single-element tool array) never collide.
const (
	TagSystemMessages byte = 0x01
	TagToolCatalog    byte = 0x02
)

// Canonicalize round-trips v through JSON so that any map is re-serialized
// with its keys in sorted order, giving order-insensitive hashing of
// object fields while preserving array order.
func Canonicalize(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: marshal: %w", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("canonicalize: unmarshal: %w", err)
	}
	canon, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: remarshal: %w", err)
	}
	return canon, nil
}

// Compute returns the tagged 128-bit digest of v's canonical JSON form.
func Compute(tag byte, v any) (Digest, error) {
	canon, err := Canonicalize(v)
	if err != nil {
		return Digest{}, err
	}
	h := blake3.New(16, nil)
	h.Write([]byte{tag})
	h.Write(canon)
	var out Digest
	copy(out[:], h.Sum(nil))
	return out, nil
}
