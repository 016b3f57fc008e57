package contextpack

import (
	"encoding/hex"
	"time"

	"github.com/zeebo/blake3"
)

// DefaultMaxBytes is the default context-pack size bound (spec §4.H).
const DefaultMaxBytes = 220 * 1024

// HardCapBytes is the absolute maximum a context pack may ever reach
// regardless of the requested maxBytes (spec §8 invariant).
const HardCapBytes = 400 * 1024

// PerFileMaxBytes bounds a single full-file slice in the files-based
// builder (spec §4.H).
const PerFileMaxBytes = 60 * 1024

// PinsHeaderMaxBytes bounds the pins-JSON preamble prepended to a
// pins-based pack (spec §4.H: "prepend the pins JSON itself, trimmed to 4
// KB").
const PinsHeaderMaxBytes = 4 * 1024

// Pack is the immutable, size-bounded text artifact assembled from pins or
// a file list and injected into an executor prompt.
type Pack struct {
	ID        string    `json:"id"`
	Files     []string  `json:"files"`
	ByteSize  int       `json:"byte_size"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// deriveID computes the opaque content-addressed pack id via blake3, the
// teacher's go.mod dependency used here for fast content hashing (sha256 is
// reserved for CI anti-forgery evidence per spec §4.I's explicit naming).
func deriveID(content string) string {
	sum := blake3.Sum256([]byte(content))
	return "cpk_" + hex.EncodeToString(sum[:16])
}
