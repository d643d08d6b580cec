package wizard

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"grandfinale/api/internal/catalog"
	"grandfinale/api/internal/persist"
	"grandfinale/api/internal/util"
)

type memoryAdapter struct {
	mu    sync.Mutex
	data  map[string][]byte
	saves int
	err   error
}

func newMemoryAdapter() *memoryAdapter {
	return &memoryAdapter{data: map[string][]byte{}}
}

func (m *memoryAdapter) Load(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	payload, ok := m.data[key]
	if !ok {
		return nil, persist.ErrAbsent
	}
	return payload, nil
}

func (m *memoryAdapter) Save(_ context.Context, key string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.saves++
	m.data[key] = append([]byte(nil), payload...)
	return nil
}

func (m *memoryAdapter) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func (m *memoryAdapter) payload(key string) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[key]
}

// blockingAdapter holds every Save until release is closed.
type blockingAdapter struct {
	*memoryAdapter
	started chan struct{}
	release chan struct{}
}

func (b *blockingAdapter) Save(ctx context.Context, key string, payload []byte) error {
	close(b.started)
	<-b.release
	return b.memoryAdapter.Save(ctx, key, payload)
}

func section(t *testing.T, key string) *catalog.Section {
	t.Helper()
	c, err := catalog.Default()
	require.NoError(t, err)
	s, ok := c.Lookup(key)
	require.True(t, ok, key)
	return s
}

func openScreen(t *testing.T, key string, adapter persist.Adapter) *Screen {
	t.Helper()
	s := Open(context.Background(), section(t, key), adapter,
		WithIDs(&util.Sequence{}),
		WithLogger(zaptest.NewLogger(t)),
	)
	t.Cleanup(s.Close)
	return s
}

func TestOpenFallsBackToDefault(t *testing.T) {
	tests := map[string]struct {
		adapter persist.Adapter
		source  Source
	}{
		"absent": {adapter: newMemoryAdapter(), source: SourceDefault},
		"malformed": {adapter: &memoryAdapter{data: map[string][]byte{
			"emergencyContactsData": []byte(`{"not":"an array"}`),
		}}, source: SourceFallback},
		"load error": {adapter: &failingLoad{}, source: SourceFallback},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			s := openScreen(t, "emergencyContactsData", tc.adapter)
			assert.Equal(t, tc.source, s.Source())
			assert.Equal(t, tc.source == SourceFallback, s.LoadErr() != nil)
			assert.Equal(t, Editing, s.Phase())
			assert.Len(t, s.State().List("contacts"), 1)
		})
	}
}

func TestOpenThroughMirrorWithUnreachableSecondary(t *testing.T) {
	down := errors.New("dial tcp: connection refused")
	mirror := &persist.Mirror{Primary: newMemoryAdapter(), Secondary: &failingLoad{err: down}}

	s := openScreen(t, "emergencyContactsData", mirror)
	assert.Equal(t, SourceFallback, s.Source())
	assert.ErrorIs(t, s.LoadErr(), down)
}

func TestOpenRepairsIDsWithNilGenerator(t *testing.T) {
	adapter := &memoryAdapter{data: map[string][]byte{
		"emergencyContactsData": []byte(`[{"name":"Ada"}]`),
	}}
	s := Open(context.Background(), section(t, "emergencyContactsData"), adapter, WithIDs(nil))
	t.Cleanup(s.Close)

	contacts := s.State().List("contacts")
	require.Len(t, contacts, 1)
	assert.NotEmpty(t, contacts[0].ID())

	id, err := s.AddItem("contacts")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

type failingLoad struct {
	memoryAdapter
	err error
}

func (f *failingLoad) Load(context.Context, string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return nil, errors.New("network down")
}

func TestOpenUsesSavedData(t *testing.T) {
	adapter := newMemoryAdapter()
	adapter.data["emergencyContactsData"] = []byte(`[{"id":"x","full_name":"Ada","phone":"5551234567","is_primary":true}]`)

	s := openScreen(t, "emergencyContactsData", adapter)
	assert.Equal(t, SourceSaved, s.Source())
	contacts := s.State().List("contacts")
	require.Len(t, contacts, 1)
	assert.Equal(t, "x", contacts[0].ID())
	assert.Equal(t, "", contacts[0]["email"], "template fields are filled in")
}

func TestSubmitValidationFailure(t *testing.T) {
	adapter := newMemoryAdapter()
	s := openScreen(t, "emergencyContactsData", adapter)

	err := s.Submit(context.Background())
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "Full name is required for all emergency contacts.", verr.Violation.Reason)
	assert.Equal(t, "full_name", verr.Violation.Field)
	assert.Equal(t, Editing, s.Phase())
	assert.Zero(t, adapter.saveCount())
}

func TestSubmitSaveFailureRetainsData(t *testing.T) {
	adapter := newMemoryAdapter()
	adapter.err = errors.New("offline")
	s := openScreen(t, "conclusionData", adapter)
	require.NoError(t, s.SetField("final_message", "Thank you"))

	err := s.Submit(context.Background())
	var serr *SaveError
	require.ErrorAs(t, err, &serr)
	assert.ErrorIs(t, err, adapter.err)
	assert.Equal(t, Editing, s.Phase())
	assert.Equal(t, "Thank you", s.State().Fields["final_message"])
	assert.True(t, s.Dirty())

	adapter.mu.Lock()
	adapter.err = nil
	adapter.mu.Unlock()
	require.NoError(t, s.Submit(context.Background()))
	assert.Equal(t, Navigated, s.Phase())
	assert.False(t, s.Dirty())
	assert.ErrorIs(t, s.SetField("final_message", "late"), ErrClosed)
}

func TestSubmitSnapshotIsolation(t *testing.T) {
	adapter := &blockingAdapter{
		memoryAdapter: newMemoryAdapter(),
		started:       make(chan struct{}),
		release:       make(chan struct{}),
	}
	s := openScreen(t, "emergencyContactsData", adapter)
	id := s.State().List("contacts").IDs()[0]
	require.NoError(t, s.UpdateItem("contacts", id, "full_name", "Ada"))
	require.NoError(t, s.UpdateItem("contacts", id, "phone", "555 123 4567"))

	done := make(chan error, 1)
	go func() { done <- s.Submit(context.Background()) }()

	<-adapter.started
	assert.Equal(t, Saving, s.Phase())
	require.NoError(t, s.UpdateItem("contacts", id, "notes", "edited mid-save"))
	close(adapter.release)
	require.NoError(t, <-done)

	var saved []map[string]any
	require.NoError(t, json.Unmarshal(adapter.payload("emergencyContactsData"), &saved))
	require.Len(t, saved, 1)
	assert.Equal(t, "", saved[0]["notes"])
	assert.Equal(t, "(555) 123-4567", saved[0]["phone"])

	assert.Equal(t, "edited mid-save", s.State().List("contacts")[0]["notes"])
	assert.Equal(t, Navigated, s.Phase())
}

func TestBankAccountsEndToEnd(t *testing.T) {
	s := openScreen(t, "financeBusinessCompleteData", newMemoryAdapter())

	for s.CanAdd("bankAccounts") {
		_, err := s.AddItem("bankAccounts")
		require.NoError(t, err)
	}
	ids := s.State().List("bankAccounts").IDs()
	require.Len(t, ids, 8)

	_, err := s.AddItem("bankAccounts")
	assert.ErrorIs(t, err, ErrAtMaximum)

	require.NoError(t, s.RemoveItem("bankAccounts", ids[2]))
	want := append(append([]string{}, ids[:2]...), ids[3:]...)
	assert.Equal(t, want, s.State().List("bankAccounts").IDs())
	assert.True(t, s.CanAdd("bankAccounts"))
}

func TestRemoveAtMinimum(t *testing.T) {
	s := openScreen(t, "emergencyContactsData", newMemoryAdapter())
	id := s.State().List("contacts").IDs()[0]

	assert.False(t, s.CanRemove("contacts"))
	assert.ErrorIs(t, s.RemoveItem("contacts", id), ErrAtMinimum)
	assert.Len(t, s.State().List("contacts"), 1)
}

func TestEditErrors(t *testing.T) {
	s := openScreen(t, "emergencyContactsData", newMemoryAdapter())

	_, err := s.AddItem("ghosts")
	assert.ErrorIs(t, err, ErrUnknownList)
	assert.ErrorIs(t, s.UpdateItem("contacts", "nope", "full_name", "x"), ErrUnknownItem)
	assert.ErrorIs(t, s.RemoveItem("ghosts", "x"), ErrUnknownList)

	passports := openScreen(t, "passportCitizenshipData", newMemoryAdapter())
	id, err := passports.AddItem("passports")
	require.NoError(t, err)
	assert.ErrorIs(t, passports.SetPrimary("passports", id), ErrNoPrimary)
}

func TestSetPrimaryIsExclusive(t *testing.T) {
	s := openScreen(t, "emergencyContactsData", newMemoryAdapter())
	first := s.State().List("contacts").IDs()[0]
	second, err := s.AddItem("contacts")
	require.NoError(t, err)

	require.NoError(t, s.SetPrimary("contacts", first))
	require.NoError(t, s.SetPrimary("contacts", second))

	primaries := 0
	for _, r := range s.State().List("contacts") {
		if r.Bool(PrimaryField) {
			primaries++
			assert.Equal(t, second, r.ID())
		}
	}
	assert.Equal(t, 1, primaries)
}

func TestStateIsACopy(t *testing.T) {
	s := openScreen(t, "conclusionData", newMemoryAdapter())
	state := s.State()
	state.Fields["final_message"] = "mutated outside"
	assert.Equal(t, "", s.State().Fields["final_message"])
}

func TestAutosaveSavesEditsAndStopsOnClose(t *testing.T) {
	adapter := newMemoryAdapter()
	s := openScreen(t, "petsAnimalCareData", adapter)

	require.NoError(t, s.StartAutosave(5*time.Millisecond))
	assert.ErrorIs(t, s.StartAutosave(5*time.Millisecond), ErrAutosaveOn)
	require.NoError(t, s.SetField("vet_phone", "5551234567"))

	require.Eventually(t, func() bool { return adapter.saveCount() > 0 }, time.Second, 5*time.Millisecond)
	assert.Contains(t, string(adapter.payload("petsAnimalCareData")), "(555) 123-4567")

	s.Close()
	count := adapter.saveCount()
	require.ErrorIs(t, s.SetField("vet_phone", "1"), ErrClosed)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, count, adapter.saveCount())
}

func TestAutosaveSkipsCleanState(t *testing.T) {
	adapter := newMemoryAdapter()
	s := openScreen(t, "petsAnimalCareData", adapter)

	require.NoError(t, s.StartAutosave(2*time.Millisecond))
	time.Sleep(20 * time.Millisecond)
	s.Close()
	assert.Zero(t, adapter.saveCount())
}

func TestAutosaveErrorHook(t *testing.T) {
	adapter := newMemoryAdapter()
	adapter.err = errors.New("quota exceeded")

	errs := make(chan error, 8)
	s := Open(context.Background(), section(t, "petsAnimalCareData"), adapter,
		WithIDs(&util.Sequence{}),
		OnAutosaveError(func(err error) {
			select {
			case errs <- err:
			default:
			}
		}),
	)
	defer s.Close()

	require.NoError(t, s.SetField("vet_clinic_name", "Paws"))
	require.NoError(t, s.StartAutosave(2*time.Millisecond))

	select {
	case err := <-errs:
		var serr *SaveError
		require.ErrorAs(t, err, &serr)
		assert.ErrorIs(t, err, adapter.err)
	case <-time.After(time.Second):
		t.Fatal("autosave error hook was not called")
	}
	assert.True(t, s.Dirty(), "failed autosave leaves edits pending")
}

func TestCloseFromAutosaveErrorHook(t *testing.T) {
	adapter := newMemoryAdapter()
	adapter.err = errors.New("disk full")

	closed := make(chan struct{})
	var once sync.Once
	var s *Screen
	s = Open(context.Background(), section(t, "petsAnimalCareData"), adapter,
		WithIDs(&util.Sequence{}),
		OnAutosaveError(func(error) {
			once.Do(func() {
				s.Close()
				close(closed)
			})
		}),
	)
	defer s.Close()

	require.NoError(t, s.SetField("vet_clinic_name", "Paws"))
	require.NoError(t, s.StartAutosave(2*time.Millisecond))

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close inside the autosave error hook did not return")
	}
	assert.ErrorIs(t, s.SetField("vet_clinic_name", "Claws"), ErrClosed)
	assert.ErrorIs(t, s.StartAutosave(time.Millisecond), ErrClosed)
}

func TestSubmitStopsAutosave(t *testing.T) {
	adapter := newMemoryAdapter()
	s := openScreen(t, "finalWishesLegacyPlanningData", adapter)

	require.NoError(t, s.StartAutosave(0))
	require.NoError(t, s.SetField("legacy_statement", "Be kind"))
	require.NoError(t, s.Submit(context.Background()))
	assert.ErrorIs(t, s.StartAutosave(time.Millisecond), ErrClosed)
	assert.Equal(t, 1, adapter.saveCount())
}

func TestSectionWithoutAutosave(t *testing.T) {
	s := openScreen(t, "conclusionData", newMemoryAdapter())
	require.NoError(t, s.StartAutosave(0))
	assert.NoError(t, s.StartAutosave(0), "no interval configured means no goroutine")
}

func TestValidateDoesNotChangePhase(t *testing.T) {
	s := openScreen(t, "passportCitizenshipData", newMemoryAdapter())
	result := s.Validate()
	require.False(t, result.OK())
	assert.Equal(t, "Please add at least one passport.", result.Reason())
	assert.Equal(t, Editing, s.Phase())

	id, err := s.AddItem("passports")
	require.NoError(t, err)
	for field, value := range map[string]string{
		"issuing_country": "Norway", "passport_number": "X1",
		"issue_date": "2024-05-01", "expiration_date": "2020-05-01",
	} {
		require.NoError(t, s.UpdateItem("passports", id, field, value))
	}
	assert.Equal(t, "Expiration date must be after issue date.", s.Validate().Reason())

	require.NoError(t, s.UpdateItem("passports", id, "expiration_date", "2034-05-01"))
	assert.True(t, s.Validate().OK())
}
