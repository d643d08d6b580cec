package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"
)

const (
	lockTimeout   = 3 * time.Second
	lockRetry     = 100 * time.Millisecond
	formatVersion = "1"
)

// errCorrupt marks a document that exists but does not parse.
var errCorrupt = errors.New("corrupt store document")

// FileStore keeps every form of one user in a single JSON document on local
// disk. A lock file guards the document across processes and writes go
// through a temp file plus rename.
type FileStore struct {
	path     string
	fileLock *flock.Flock
	log      *zap.Logger
	mu       sync.Mutex
}

// FileStoreOption configures a FileStore.
type FileStoreOption func(*FileStore)

// WithFileLogger sets the logger used to report recovered documents.
func WithFileLogger(logger *zap.Logger) FileStoreOption {
	return func(s *FileStore) {
		if logger != nil {
			s.log = logger
		}
	}
}

type fileData struct {
	Version   string                     `json:"version"`
	UpdatedAt time.Time                  `json:"updated_at"`
	Forms     map[string]json.RawMessage `json:"forms"`
}

// NewFileStore returns the store for user under dir, creating dir if needed.
func NewFileStore(dir, user string, opts ...FileStoreOption) (*FileStore, error) {
	user = strings.TrimSpace(user)
	if user == "" || user != filepath.Base(user) || strings.HasPrefix(user, ".") {
		return nil, fmt.Errorf("invalid user name %q", user)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	path := filepath.Join(dir, user+".json")
	s := &FileStore{path: path, fileLock: flock.New(path + ".lock"), log: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Path returns the location of the backing document.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Load(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var payload []byte
	err := s.withLock(ctx, func() error {
		data, err := s.readLocked()
		if err != nil {
			return err
		}
		raw, ok := data.Forms[key]
		if !ok {
			return ErrAbsent
		}
		payload = append([]byte(nil), raw...)
		return nil
	})
	return payload, err
}

// Save stores payload under key. A document that no longer parses is moved
// aside to <path>.corrupt-<timestamp> and replaced by a fresh one, so one bad
// write never blocks later saves.
func (s *FileStore) Save(ctx context.Context, key string, payload []byte) error {
	if !json.Valid(payload) {
		return fmt.Errorf("save %s: payload is not valid JSON", key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withLock(ctx, func() error {
		data, err := s.readLocked()
		if errors.Is(err, errCorrupt) {
			data, err = s.quarantineLocked(err)
		}
		if err != nil {
			return err
		}
		data.Forms[key] = append(json.RawMessage(nil), payload...)
		return s.writeLocked(data)
	})
}

// Delete removes key. Deleting an absent key is not an error.
func (s *FileStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withLock(ctx, func() error {
		data, err := s.readLocked()
		if err != nil {
			return err
		}
		if _, ok := data.Forms[key]; !ok {
			return nil
		}
		delete(data.Forms, key)
		return s.writeLocked(data)
	})
}

// Keys lists the saved form keys in sorted order.
func (s *FileStore) Keys(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []string
	err := s.withLock(ctx, func() error {
		data, err := s.readLocked()
		if err != nil {
			return err
		}
		for k := range data.Forms {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return nil
	})
	return keys, err
}

func (s *FileStore) withLock(ctx context.Context, fn func() error) error {
	ctx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()

	locked, err := s.fileLock.TryLockContext(ctx, lockRetry)
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("could not acquire file lock")
	}
	defer func() { _ = s.fileLock.Unlock() }()
	return fn()
}

func (s *FileStore) readLocked() (*fileData, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) || (err == nil && len(data) == 0) {
		return &fileData{Version: formatVersion, Forms: map[string]json.RawMessage{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}

	var out fileData
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse %s: %w: %w", s.path, errCorrupt, err)
	}
	if out.Forms == nil {
		out.Forms = map[string]json.RawMessage{}
	}
	return &out, nil
}

func (s *FileStore) quarantineLocked(cause error) (*fileData, error) {
	target := s.path + ".corrupt-" + time.Now().UTC().Format("20060102T150405.000000000Z")
	if err := os.Rename(s.path, target); err != nil {
		return nil, fmt.Errorf("move corrupt store aside: %w", err)
	}
	s.log.Warn("store document corrupt, starting a new one",
		zap.String("path", s.path),
		zap.String("moved_to", target),
		zap.Error(cause),
	)
	return &fileData{Version: formatVersion, Forms: map[string]json.RawMessage{}}, nil
}

func (s *FileStore) writeLocked(data *fileData) error {
	data.Version = formatVersion
	data.UpdatedAt = time.Now().UTC()

	encoded, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal store: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, encoded, 0o600); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename store file: %w", err)
	}
	return nil
}
