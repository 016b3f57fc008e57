// Package stateio implements the crash-safe snapshot store (spec §4.A):
// write-to-tmp + rename + .bak recovery, guarded by an inter-process
// O_CREAT|O_EXCL lockfile. It is deliberately built on os/path/filepath
// directly rather than an embedded-KV library: the teacher persists all of
// its own run state (manifest.json, checkpoint.json, final.json) the same
// way, via plain os.WriteFile/json.MarshalIndent, never a KV or WAL library.
package stateio

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrLockTimeout is returned by WithFileLock when the lock could not be
// acquired within the configured timeout.
var ErrLockTimeout = errors.New("lock_timeout")

// ReadJSON reads and decodes file into a value of the same type as
// fallback. If file is missing, fallback is returned unmodified. If file is
// present but corrupt, file+".bak" is tried before giving up.
func ReadJSON[T any](file string, fallback T) (T, error) {
	if v, err := readJSONFile[T](file); err == nil {
		return v, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		if v, bakErr := readJSONFile[T](file + ".bak"); bakErr == nil {
			return v, nil
		}
	}
	if _, err := os.Stat(file); errors.Is(err, os.ErrNotExist) {
		return fallback, nil
	}
	return fallback, nil
}

func readJSONFile[T any](path string) (T, error) {
	var zero T
	b, err := os.ReadFile(path)
	if err != nil {
		return zero, err
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return zero, fmt.Errorf("decode %s: %w", path, err)
	}
	return v, nil
}

// WriteJSONAtomic writes value to file using write-to-tmp + rename, keeping
// the previous version at file+".bak". No reader ever observes a partial
// write: the rename is the only operation that makes the new content
// visible under the canonical name.
func WriteJSONAtomic(file string, value any) error {
	dir := filepath.Dir(file)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	b, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", file, err)
	}

	tmp := fmt.Sprintf("%s.tmp.%d.%d", file, os.Getpid(), randSuffix())
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("write tmp %s: %w", tmp, err)
	}

	if _, err := os.Stat(file); err == nil {
		_ = os.Rename(file, file+".bak")
	}

	if err := os.Rename(tmp, file); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename %s -> %s: %w", tmp, file, err)
	}

	return nil
}

func randSuffix() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return uint64(os.Getpid())
	}
	return binary.BigEndian.Uint64(b[:])
}

// UpdateJSONLocked reads, applies updater, and atomically writes back, all
// while holding the file's inter-process lock. updater returns the new
// value and whether it should actually be persisted.
func UpdateJSONLocked[T any](file string, fallback T, timeoutMs int, updater func(current T) (T, bool, error)) (T, error) {
	var result T
	err := WithFileLock(file, timeoutMs, func() error {
		current, err := ReadJSON(file, fallback)
		if err != nil {
			return err
		}
		next, shouldWrite, err := updater(current)
		if err != nil {
			return err
		}
		result = next
		if !shouldWrite {
			return nil
		}
		return WriteJSONAtomic(file, next)
	})
	return result, err
}
