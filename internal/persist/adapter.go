// Package persist loads and saves serialized screen state. Every backend
// satisfies Adapter so screens never know where their data lives.
package persist

import (
	"context"
	"errors"
	"fmt"
)

// ErrAbsent is returned by Load when nothing has been saved under a key.
var ErrAbsent = errors.New("persist: nothing saved")

// Adapter stores one opaque payload per form key.
type Adapter interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, payload []byte) error
}

// SyncResult is the outcome reported by a remote sync.
type SyncResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Syncer pushes and pulls one user's forms to a remote backend.
type Syncer interface {
	Sync(ctx context.Context, user, formKey string, payload []byte) SyncResult
	Fetch(ctx context.Context, user, formKey string) ([]byte, error)
}

// SyncError reports a sync the remote side did not accept.
type SyncError struct {
	Key     string
	Message string
}

func (e *SyncError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("sync %s: rejected", e.Key)
	}
	return fmt.Sprintf("sync %s: %s", e.Key, e.Message)
}

// Remote adapts a Syncer into an Adapter bound to one user.
type Remote struct {
	syncer Syncer
	user   string
}

func NewRemote(syncer Syncer, user string) *Remote {
	return &Remote{syncer: syncer, user: user}
}

func (r *Remote) Load(ctx context.Context, key string) ([]byte, error) {
	return r.syncer.Fetch(ctx, r.user, key)
}

func (r *Remote) Save(ctx context.Context, key string, payload []byte) error {
	result := r.syncer.Sync(ctx, r.user, key, payload)
	if !result.Success {
		return &SyncError{Key: key, Message: result.Error}
	}
	return nil
}
