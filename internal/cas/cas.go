// Package cas provides content-addressing helpers: BLAKE3 digests over raw
// bytes and over canonical JSON encodings of graph nodes.
package cas

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"maps"
	"slices"
	"time"

	"lukechampine.com/blake3"
)

// DigestSize is the length in bytes of every digest produced by this package.
const DigestSize = 32

// NowMs returns the current time in milliseconds since epoch.
func NowMs() int64 {
	return time.Now().UnixMilli()
}

// CanonicalJSON encodes v as JSON with object keys sorted at every depth.
// Numbers keep their literal text, so int64 timestamps survive.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := writeCanonical(&buf, tree); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case map[string]any:
		buf.WriteByte('{')
		for i, k := range slices.Sorted(maps.Keys(val)) {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeLeaf(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case []any:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		return writeLeaf(buf, val)
	}
	return nil
}

func writeLeaf(buf *bytes.Buffer, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	buf.Write(b)
	return nil
}

// Sum returns the hex-encoded BLAKE3-256 digest of data.
func Sum(data []byte) string {
	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// NewHasher returns a streaming BLAKE3 hasher producing DigestSize bytes.
func NewHasher() *blake3.Hasher {
	return blake3.New(DigestSize, nil)
}

// NodeID is the content address of a graph node: the BLAKE3 digest of its
// kind, a newline, then its canonical JSON payload.
func NodeID(kind string, payload any) (string, error) {
	body, err := CanonicalJSON(payload)
	if err != nil {
		return "", err
	}
	h := NewHasher()
	h.Write([]byte(kind))
	h.Write([]byte{'\n'})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// IsHex reports whether s is non-empty and consists only of lowercase hex digits.
func IsHex(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}

// Short returns the first n characters of a hex id, or the whole id if shorter.
func Short(id string, n int) string {
	if len(id) <= n {
		return id
	}
	return id[:n]
}
