// Package wizard runs one section screen: it loads state through a
// persistence adapter, applies edits, validates on submit and saves
// snapshots, optionally on a timer.
package wizard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"grandfinale/api/internal/catalog"
	"grandfinale/api/internal/form"
	"grandfinale/api/internal/persist"
	"grandfinale/api/internal/util"
)

// PrimaryField is the exclusive flag toggled by SetPrimary.
const PrimaryField = "is_primary"

// Phase is the screen's position in its submit cycle.
type Phase int

const (
	Editing Phase = iota
	Validating
	Saving
	Navigated
)

func (p Phase) String() string {
	switch p {
	case Editing:
		return "editing"
	case Validating:
		return "validating"
	case Saving:
		return "saving"
	case Navigated:
		return "navigated"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Source tells where the initial state came from.
type Source string

const (
	SourceSaved   Source = "saved"
	SourceDefault Source = "default"
	// SourceFallback means saved data may exist but could not be read or
	// decoded; the state is the section default. See Screen.LoadErr.
	SourceFallback Source = "fallback"
)

// Option configures a Screen.
type Option func(*Screen)

// WithIDs sets the record id generator. Defaults to random UUIDs; nil keeps
// the default.
func WithIDs(ids util.IDGenerator) Option {
	return func(s *Screen) {
		if ids != nil {
			s.ids = ids
		}
	}
}

// WithLogger sets the logger. A nil logger discards output.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Screen) {
		if logger != nil {
			s.log = logger
		}
	}
}

// OnAutosaveError registers a callback for failed autosaves. It runs on the
// autosave goroutine; calling Close from it is allowed and does not wait for
// the goroutine to exit.
func OnAutosaveError(fn func(error)) Option {
	return func(s *Screen) { s.onAutosaveError = fn }
}

// Screen owns the state of one section while it is open. All methods are
// safe for concurrent use.
type Screen struct {
	section *catalog.Section
	adapter persist.Adapter
	ids     util.IDGenerator
	log     *zap.Logger

	onAutosaveError func(error)

	// saveMu orders saves so a later snapshot is never overwritten by an
	// earlier one.
	saveMu sync.Mutex

	mu       sync.Mutex
	state    form.State
	phase    Phase
	source   Source
	loadErr  error
	revision uint64
	saved    uint64
	closed   bool

	stopAutosave context.CancelFunc
	autosaveDone chan struct{}
	inHook       bool
}

// Open loads the section through adapter. Missing, unreadable or malformed
// data never fails the open: the screen starts from the section default, with
// SourceFallback recorded when the data was there but unusable.
func Open(ctx context.Context, section *catalog.Section, adapter persist.Adapter, opts ...Option) *Screen {
	s := &Screen{
		section: section,
		adapter: adapter,
		ids:     util.UUIDGenerator{},
		log:     zap.NewNop(),
		phase:   Editing,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(zap.String("section", section.Key))
	s.state, s.source, s.loadErr = s.load(ctx)
	return s
}

func (s *Screen) load(ctx context.Context) (form.State, Source, error) {
	payload, err := s.adapter.Load(ctx, s.section.Key)
	if errors.Is(err, persist.ErrAbsent) {
		return s.section.Default(s.ids), SourceDefault, nil
	}
	if err != nil {
		s.log.Warn("load failed, using defaults", zap.Error(err))
		return s.section.Default(s.ids), SourceFallback, err
	}
	state, err := s.section.Decode(payload, s.ids)
	if err != nil {
		s.log.Warn("saved data malformed, using defaults", zap.Error(err))
		return s.section.Default(s.ids), SourceFallback, err
	}
	return state, SourceSaved, nil
}

// Section returns the section definition.
func (s *Screen) Section() *catalog.Section { return s.section }

// Source reports whether the screen opened from saved data or defaults.
func (s *Screen) Source() Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.source
}

// LoadErr returns why saved data was not used, or nil unless Source is
// SourceFallback.
func (s *Screen) LoadErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadErr
}

// Phase returns the current phase.
func (s *Screen) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// State returns a deep copy of the current state.
func (s *Screen) State() form.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Dirty reports whether there are edits not yet saved.
func (s *Screen) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revision != s.saved
}

// SetField edits a singleton field.
func (s *Screen) SetField(field string, value any) error {
	return s.edit(func(state form.State) (form.State, error) {
		return s.section.Binder().BindField(state, field, value), nil
	})
}

// AddItem appends a blank record to list and returns its id.
func (s *Screen) AddItem(list string) (string, error) {
	def, ok := s.section.List(list)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownList, list)
	}
	var id string
	err := s.edit(func(state form.State) (form.State, error) {
		current := state.List(list)
		if !def.Limits.CanAdd(len(current)) {
			return state, ErrAtMaximum
		}
		next := form.Append(current, def.Template, def.Limits, s.ids)
		id = next[len(next)-1].ID()
		return form.WithList(state, list, next), nil
	})
	return id, err
}

// UpdateItem edits one field of one record.
func (s *Screen) UpdateItem(list, id, field string, value any) error {
	return s.edit(func(state form.State) (form.State, error) {
		if err := s.requireItem(state, list, id); err != nil {
			return state, err
		}
		return s.section.Binder().BindItem(state, list, id, field, value), nil
	})
}

// SetPrimary marks id as the primary record of list and clears the flag on
// every other record.
func (s *Screen) SetPrimary(list, id string) error {
	if def, ok := s.section.List(list); ok {
		if _, has := def.Template[PrimaryField]; !has {
			return fmt.Errorf("%w: %q", ErrNoPrimary, list)
		}
	}
	return s.edit(func(state form.State) (form.State, error) {
		if err := s.requireItem(state, list, id); err != nil {
			return state, err
		}
		return form.WithList(state, list, form.SetExclusive(state.List(list), id, PrimaryField)), nil
	})
}

// RemoveItem deletes id from list unless the list is at its minimum.
func (s *Screen) RemoveItem(list, id string) error {
	def, ok := s.section.List(list)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownList, list)
	}
	return s.edit(func(state form.State) (form.State, error) {
		if err := s.requireItem(state, list, id); err != nil {
			return state, err
		}
		current := state.List(list)
		if !form.CanRemove(current, def.Limits) {
			return state, ErrAtMinimum
		}
		return form.WithList(state, list, form.Remove(current, id)), nil
	})
}

// CanAdd reports whether another record fits in list.
func (s *Screen) CanAdd(list string) bool {
	def, ok := s.section.List(list)
	if !ok {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return def.Limits.CanAdd(len(s.state.List(list)))
}

// CanRemove reports whether list may lose a record.
func (s *Screen) CanRemove(list string) bool {
	def, ok := s.section.List(list)
	if !ok {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return form.CanRemove(s.state.List(list), def.Limits)
}

// Validate runs the section policy on the current state without saving.
func (s *Screen) Validate() form.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.section.Validate(s.state)
}

func (s *Screen) requireItem(state form.State, list, id string) error {
	if _, ok := s.section.List(list); !ok && !state.HasList(list) {
		return fmt.Errorf("%w: %q", ErrUnknownList, list)
	}
	if state.List(list).Index(id) < 0 {
		return fmt.Errorf("%w: %q in %s", ErrUnknownItem, id, list)
	}
	return nil
}

func (s *Screen) edit(fn func(form.State) (form.State, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.phase == Navigated {
		return ErrClosed
	}
	next, err := fn(s.state)
	if err != nil {
		return err
	}
	s.state = next
	s.revision++
	return nil
}

// Submit validates the state and saves it. On success the screen moves to
// Navigated and stops autosaving. A rejected or failed submit returns the
// screen to Editing with its data intact.
func (s *Screen) Submit(ctx context.Context) error {
	s.saveMu.Lock()

	s.mu.Lock()
	if s.closed || s.phase == Navigated {
		s.mu.Unlock()
		s.saveMu.Unlock()
		return ErrClosed
	}
	s.phase = Validating
	if result := s.section.Validate(s.state); !result.OK() {
		s.phase = Editing
		s.mu.Unlock()
		s.saveMu.Unlock()
		s.log.Debug("submit rejected", zap.String("reason", result.Reason()))
		return &ValidationError{Section: s.section.Key, Violation: *result.Violation}
	}
	s.phase = Saving
	snapshot, revision := s.state.Clone(), s.revision
	s.mu.Unlock()

	err := s.persist(ctx, snapshot)

	s.mu.Lock()
	if err != nil {
		s.phase = Editing
		s.mu.Unlock()
		s.saveMu.Unlock()
		s.log.Warn("submit save failed", zap.Error(err))
		return &SaveError{Section: s.section.Key, Err: err}
	}
	s.markSaved(revision)
	s.phase = Navigated
	s.mu.Unlock()
	s.saveMu.Unlock()

	s.log.Info("section submitted")
	s.haltAutosave()
	return nil
}

// Save persists a snapshot of the current state without validating it.
func (s *Screen) Save(ctx context.Context) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	snapshot, revision := s.state.Clone(), s.revision
	s.mu.Unlock()

	if err := s.persist(ctx, snapshot); err != nil {
		return &SaveError{Section: s.section.Key, Err: err}
	}

	s.mu.Lock()
	s.markSaved(revision)
	s.mu.Unlock()
	return nil
}

func (s *Screen) persist(ctx context.Context, snapshot form.State) error {
	payload, err := s.section.Encode(snapshot)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	return s.adapter.Save(ctx, s.section.Key, payload)
}

func (s *Screen) markSaved(revision uint64) {
	if revision > s.saved {
		s.saved = revision
	}
}

// StartAutosave saves the state every interval until Close or a successful
// Submit. A zero interval uses the section's configured period; sections
// without one do not autosave.
func (s *Screen) StartAutosave(interval time.Duration) error {
	if interval <= 0 {
		interval = s.section.Autosave
	}
	if interval <= 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.phase == Navigated {
		return ErrClosed
	}
	if s.stopAutosave != nil {
		return ErrAutosaveOn
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.stopAutosave, s.autosaveDone = cancel, done

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if ctx.Err() != nil {
					return
				}
				s.autosave(ctx)
			}
		}
	}()
	s.log.Debug("autosave started", zap.Duration("interval", interval))
	return nil
}

func (s *Screen) autosave(ctx context.Context) {
	if !s.Dirty() {
		return
	}
	err := s.Save(ctx)
	if err == nil {
		s.log.Debug("autosaved")
		return
	}
	if ctx.Err() != nil || errors.Is(err, ErrClosed) {
		return
	}
	s.log.Warn("autosave failed", zap.Error(err))
	if s.onAutosaveError == nil {
		return
	}
	s.mu.Lock()
	s.inHook = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.inHook = false
		s.mu.Unlock()
	}()
	s.onAutosaveError(err)
}

// haltAutosave cancels the autosave goroutine and waits for it, unless it is
// inside the error hook: its save has finished and it exits once the hook
// returns, and the hook may be the caller.
func (s *Screen) haltAutosave() {
	s.mu.Lock()
	cancel, done, inHook := s.stopAutosave, s.autosaveDone, s.inHook
	s.stopAutosave = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil && !inHook {
		<-done
	}
}

// Close stops autosave and waits for any in-flight autosave to finish.
// Further edits and saves fail with ErrClosed.
func (s *Screen) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.haltAutosave()
}
