// Package credstore persists serialized account state in a JSON file
// under the config directory. Storage is deliberately a plain file: the
// library treats credentials as an opaque blob and platform keychains
// are out of scope.
package credstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/gofrs/flock"
)

// ErrNotFound is returned when no credentials are stored for an origin.
var ErrNotFound = errors.New("credentials not found")

// Store handles credential storage. One file holds a JSON object mapping
// account-server origin to the library's serialized state, so sessions
// against different environments don't clobber each other.
type Store struct {
	dir string
}

// NewStore creates a credential store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Path returns the credentials file location.
func (s *Store) Path() string {
	return filepath.Join(s.dir, "credentials.json")
}

// lockTimeout bounds how long a command waits for the credentials lock.
// On timeout we proceed without it rather than hang the CLI behind a
// crashed process; writes stay atomic either way.
const lockTimeout = 100 * time.Millisecond

func (s *Store) acquireLock() (*flock.Flock, error) {
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return nil, err
	}

	fl := flock.New(filepath.Join(s.dir, ".credentials.lock"))

	ctx, cancel := context.WithTimeout(context.Background(), lockTimeout)
	defer cancel()

	// TryLockContext retries every 10ms until the context expires
	locked, err := fl.TryLockContext(ctx, 10*time.Millisecond)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, nil
		}
		return nil, err
	}
	if !locked {
		return nil, nil
	}
	return fl, nil
}

func releaseLock(fl *flock.Flock) {
	if fl != nil {
		_ = fl.Unlock()
	}
}

func (s *Store) loadAll() (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]json.RawMessage), nil
		}
		return nil, err
	}

	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("corrupt credentials file %s: %w", s.Path(), err)
	}
	return all, nil
}

func (s *Store) saveAll(all map[string]json.RawMessage) error {
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return err
	}

	// Atomic write with randomized temp file name
	tmpFile, err := os.CreateTemp(s.dir, "credentials-*.json.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmpFile.Chmod(0600); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	// Unix: rename atomically replaces the destination.
	// Windows: rename fails when destination exists. Try rename first to
	// preserve the old file on unrelated errors; only remove+retry on failure.
	destPath := s.Path()
	if err := os.Rename(tmpPath, destPath); err != nil {
		if runtime.GOOS == "windows" {
			_ = os.Remove(destPath)
			return os.Rename(tmpPath, destPath)
		}
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// Load retrieves the serialized account state for the given origin.
func (s *Store) Load(origin string) (string, error) {
	fl, err := s.acquireLock()
	if err != nil {
		return "", err
	}
	defer releaseLock(fl)

	all, err := s.loadAll()
	if err != nil {
		return "", err
	}

	state, ok := all[origin]
	if !ok {
		return "", ErrNotFound
	}
	return string(state), nil
}

// Save stores the serialized account state for the given origin. The
// state must be valid JSON; the store never inspects it beyond that.
func (s *Store) Save(origin, state string) error {
	fl, err := s.acquireLock()
	if err != nil {
		return err
	}
	defer releaseLock(fl)

	all, err := s.loadAll()
	if err != nil {
		return err
	}

	all[origin] = json.RawMessage(state)
	return s.saveAll(all)
}

// Delete removes stored state for the given origin. Deleting an origin
// that was never stored is not an error.
func (s *Store) Delete(origin string) error {
	fl, err := s.acquireLock()
	if err != nil {
		return err
	}
	defer releaseLock(fl)

	all, err := s.loadAll()
	if err != nil {
		return err
	}
	if _, ok := all[origin]; !ok {
		return nil
	}

	delete(all, origin)
	return s.saveAll(all)
}

// List returns the origins with stored state.
func (s *Store) List() ([]string, error) {
	fl, err := s.acquireLock()
	if err != nil {
		return nil, err
	}
	defer releaseLock(fl)

	all, err := s.loadAll()
	if err != nil {
		return nil, err
	}
	origins := make([]string, 0, len(all))
	for origin := range all {
		origins = append(origins, origin)
	}
	return origins, nil
}
