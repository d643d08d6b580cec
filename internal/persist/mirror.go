package persist

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Mirror is a local-first pair of adapters. Saves land in Primary before
// Secondary and loads prefer Primary.
type Mirror struct {
	Primary   Adapter
	Secondary Adapter
	Logger    *zap.Logger
}

func (m *Mirror) logger() *zap.Logger {
	if m.Logger == nil {
		return zap.NewNop()
	}
	return m.Logger
}

// MirrorError reports a save that reached Primary but not Secondary.
type MirrorError struct {
	Err error
}

func (e *MirrorError) Error() string {
	return fmt.Sprintf("saved locally, mirror failed: %v", e.Err)
}

func (e *MirrorError) Unwrap() error { return e.Err }

// Save writes Primary first. A Secondary failure is returned as a
// *MirrorError and the primary copy is kept.
func (m *Mirror) Save(ctx context.Context, key string, payload []byte) error {
	if err := m.Primary.Save(ctx, key, payload); err != nil {
		return err
	}
	if m.Secondary == nil {
		return nil
	}
	if err := m.Secondary.Save(ctx, key, payload); err != nil {
		m.logger().Warn("mirror save failed", zap.String("key", key), zap.Error(err))
		return &MirrorError{Err: err}
	}
	return nil
}

// Load returns the Primary copy, falling back to Secondary when Primary has
// nothing or fails. ErrAbsent is returned only when both sides report it, so a
// Secondary failure is never mistaken for missing data.
func (m *Mirror) Load(ctx context.Context, key string) ([]byte, error) {
	payload, primaryErr := m.Primary.Load(ctx, key)
	if primaryErr == nil {
		return payload, nil
	}
	if m.Secondary == nil {
		return nil, primaryErr
	}
	if !errors.Is(primaryErr, ErrAbsent) {
		m.logger().Warn("primary load failed, trying mirror", zap.String("key", key), zap.Error(primaryErr))
	}

	payload, err := m.Secondary.Load(ctx, key)
	switch {
	case err == nil:
		return payload, nil
	case errors.Is(err, ErrAbsent) && errors.Is(primaryErr, ErrAbsent):
		return nil, ErrAbsent
	case errors.Is(err, ErrAbsent):
		return nil, primaryErr
	case errors.Is(primaryErr, ErrAbsent):
		return nil, fmt.Errorf("mirror load: %w", err)
	default:
		return nil, errors.Join(primaryErr, err)
	}
}
