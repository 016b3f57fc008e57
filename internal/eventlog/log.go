package eventlog

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/zeebo/blake3"
)

// Writer appends Events to a JSONL file. Appends are synchronous and
// serialized by a mutex so that within a single process the stream is
// totally ordered by arrival, matching spec §5's ordering guarantee.
// Mirrors the teacher's appendProgress/writeJSON pattern in engine.go: plain
// encoding/json plus buffered os.File appends, no JSONL library.
type Writer struct {
	mu      sync.Mutex
	f       *os.File
	bw      *bufio.Writer
	chained bool
	prevSum [32]byte
}

// Open opens (creating if needed) the JSONL file at path for appending.
func Open(path string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir for %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &Writer{f: f, bw: bufio.NewWriter(f)}, nil
}

// OpenChained opens path as a hash-chained append log: each appended line
// carries a "_chain" field that is the blake3 hash of (previous chain hash
// || canonical msgpack encoding of this event's data). msgpack gives a
// deterministic byte encoding to hash over (no Go-map key reordering risk)
// while the on-disk line itself stays human-readable JSON, used for CI-gate
// evidence integrity (spec §4.I).
func OpenChained(path string) (*Writer, error) {
	w, err := Open(path)
	if err != nil {
		return nil, err
	}
	w.chained = true
	if sum, ok, err := lastChainSum(path); err != nil {
		return nil, err
	} else if ok {
		w.prevSum = sum
	}
	return w, nil
}

// Append writes one event, stamping T if it is zero.
func (w *Writer) Append(e Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if e.T.IsZero() {
		e.T = time.Now()
	}

	if w.chained {
		var canonBuf bytes.Buffer
		enc := msgpack.NewEncoder(&canonBuf)
		enc.SetSortMapKeys(true)
		if err := enc.Encode(e.Data); err != nil {
			return fmt.Errorf("canonicalize event: %w", err)
		}
		canon := canonBuf.Bytes()
		h := blake3.New()
		h.Write(w.prevSum[:])
		h.Write(canon)
		var sum [32]byte
		copy(sum[:], h.Sum(nil))
		w.prevSum = sum
		if e.Data == nil {
			e.Data = map[string]any{}
		}
		e.Data["_chain"] = hex.EncodeToString(sum[:])
	}

	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := w.bw.Write(b); err != nil {
		return err
	}
	if err := w.bw.WriteByte('\n'); err != nil {
		return err
	}
	return w.bw.Flush()
}

// Close flushes and closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.bw.Flush(); err != nil {
		_ = w.f.Close()
		return err
	}
	return w.f.Close()
}

func lastChainSum(path string) ([32]byte, bool, error) {
	var zero [32]byte
	events, err := ReadAll(path)
	if err != nil {
		if os.IsNotExist(err) {
			return zero, false, nil
		}
		return zero, false, err
	}
	if len(events) == 0 {
		return zero, false, nil
	}
	last := events[len(events)-1]
	raw, ok := last.Data["_chain"].(string)
	if !ok || raw == "" {
		return zero, false, nil
	}
	decoded, err := hex.DecodeString(raw)
	if err != nil || len(decoded) != 32 {
		return zero, false, nil
	}
	var sum [32]byte
	copy(sum[:], decoded)
	return sum, true, nil
}
