package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"

	"grandfinale/api/internal/blob"
	"grandfinale/api/internal/catalog"
	"grandfinale/api/internal/config"
	"grandfinale/api/internal/email"
	"grandfinale/api/internal/form"
	"grandfinale/api/internal/persist"
	"grandfinale/api/internal/store"
	"grandfinale/api/internal/util"
)

type formStore interface {
	UpsertForm(context.Context, string, string, json.RawMessage) (store.FormRecord, error)
	GetForm(context.Context, string, string) (store.FormRecord, error)
	ListForms(context.Context, string) ([]store.FormSummary, error)
	DeleteForm(context.Context, string, string) (bool, error)
	Ping(ctx context.Context) error
}

// formCache is a read-through copy of saved payloads keyed by user and form.
type formCache interface {
	Load(context.Context, string) ([]byte, error)
	Save(context.Context, string, []byte) error
	Delete(context.Context, string) error
}

type Service struct {
	cfg     config.Config
	store   formStore
	support supportStore
	cache   formCache
	mailer  supportMailer
	blobs   attachmentStore
	catalog *catalog.Catalog
	ids     util.IDGenerator
	log     *zap.Logger

	// uploadMu serializes read-modify-write cycles on the uploads section.
	uploadMu sync.Mutex
}

type Option func(*Service)

// WithMailer sends support requests through m.
func WithMailer(m *email.Service) Option {
	return func(s *Service) {
		if m != nil {
			s.mailer = m
		}
	}
}

// WithAttachments stores uploaded file contents in b. Without it uploads
// are disabled.
func WithAttachments(b *blob.MinioStore) Option {
	return func(s *Service) {
		if b != nil {
			s.blobs = b
		}
	}
}

// New wires the service. cache may be nil to run without Redis.
func New(cfg config.Config, dataStore *store.PostgresStore, cache *persist.RedisStore, sections *catalog.Catalog, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		cfg:     cfg,
		store:   dataStore,
		support: dataStore,
		catalog: sections,
		ids:     util.UUIDGenerator{},
		log:     logger,
	}
	if cache != nil {
		s.cache = cache
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type ListSummary struct {
	Name     string `json:"name"`
	Title    string `json:"title"`
	MinItems int    `json:"minItems"`
	MaxItems int    `json:"maxItems"`
}

type SectionSummary struct {
	Key             string        `json:"key"`
	Title           string        `json:"title"`
	Order           int           `json:"order"`
	Kind            string        `json:"kind"`
	AutosaveSeconds int           `json:"autosaveSeconds,omitempty"`
	Fields          []string      `json:"fields"`
	Lists           []ListSummary `json:"lists"`
}

type FormProgress struct {
	Forms     []store.FormSummary `json:"forms"`
	Completed int                 `json:"completed"`
	Total     int                 `json:"total"`
}

func (s *Service) Sections() []SectionSummary {
	sections := s.catalog.Sections()
	out := make([]SectionSummary, 0, len(sections))
	for _, section := range sections {
		summary := SectionSummary{
			Key:             section.Key,
			Title:           section.Title,
			Order:           section.Order,
			Kind:            string(section.Kind),
			AutosaveSeconds: int(section.Autosave.Seconds()),
			Fields:          append([]string{}, section.FieldNames...),
			Lists:           make([]ListSummary, 0, len(section.Lists)),
		}
		for _, l := range section.Lists {
			summary.Lists = append(summary.Lists, ListSummary{
				Name:     l.Name,
				Title:    l.Title,
				MinItems: l.Limits.MinItems,
				MaxItems: l.Limits.MaxItems,
			})
		}
		out = append(out, summary)
	}
	return out
}

func (s *Service) section(key string) (*catalog.Section, error) {
	section, ok := s.catalog.Lookup(key)
	if !ok {
		return nil, unknownForm(key)
	}
	return section, nil
}

func (s *Service) decode(section *catalog.Section, payload []byte) (form.State, error) {
	state, err := section.Decode(payload, s.ids)
	if err != nil {
		return form.State{}, invalidPayload(err)
	}
	return state, nil
}

func requireUser(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return domainError(http.StatusBadRequest, "INVALID_USER", "user is required", nil)
	}
	return nil
}

func cacheKey(userID, formKey string) string {
	return userID + "/" + formKey
}

// SyncForm stores the payload for one user and section. The payload is
// normalized first: ids are repaired and missing template fields filled in.
func (s *Service) SyncForm(ctx context.Context, userID, formKey string, payload []byte) (store.FormRecord, error) {
	if err := requireUser(userID); err != nil {
		return store.FormRecord{}, err
	}
	section, err := s.section(formKey)
	if err != nil {
		return store.FormRecord{}, err
	}
	state, err := s.decode(section, payload)
	if err != nil {
		return store.FormRecord{}, err
	}
	normalized, err := section.Encode(state)
	if err != nil {
		return store.FormRecord{}, err
	}

	record, err := s.store.UpsertForm(ctx, userID, formKey, normalized)
	if err != nil {
		return store.FormRecord{}, err
	}
	if s.cache != nil {
		if err := s.cache.Save(ctx, cacheKey(userID, formKey), normalized); err != nil {
			s.log.Warn("cache write failed", zap.String("form", formKey), zap.Error(err))
		}
	}
	s.log.Debug("form synced", zap.String("user", userID), zap.String("form", formKey))
	return record, nil
}

// LoadForm returns the saved payload, reading through the cache.
func (s *Service) LoadForm(ctx context.Context, userID, formKey string) ([]byte, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	if _, err := s.section(formKey); err != nil {
		return nil, err
	}

	key := cacheKey(userID, formKey)
	if s.cache != nil {
		payload, err := s.cache.Load(ctx, key)
		if err == nil {
			return payload, nil
		}
		if !errors.Is(err, persist.ErrAbsent) {
			s.log.Warn("cache read failed", zap.String("form", formKey), zap.Error(err))
		}
	}

	record, err := s.store.GetForm(ctx, userID, formKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "form not saved", nil)
	}
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.Save(ctx, key, record.Payload); err != nil {
			s.log.Warn("cache fill failed", zap.String("form", formKey), zap.Error(err))
		}
	}
	return record.Payload, nil
}

// ListForms reports which sections the user has saved.
func (s *Service) ListForms(ctx context.Context, userID string) (FormProgress, error) {
	if err := requireUser(userID); err != nil {
		return FormProgress{}, err
	}
	saved, err := s.store.ListForms(ctx, userID)
	if err != nil {
		return FormProgress{}, err
	}
	progress := FormProgress{Forms: saved, Total: len(s.catalog.Sections())}
	for _, f := range saved {
		if _, ok := s.catalog.Lookup(f.FormKey); ok {
			progress.Completed++
		}
	}
	return progress, nil
}

func (s *Service) DeleteForm(ctx context.Context, userID, formKey string) error {
	if err := requireUser(userID); err != nil {
		return err
	}
	if _, err := s.section(formKey); err != nil {
		return err
	}
	removed, err := s.store.DeleteForm(ctx, userID, formKey)
	if err != nil {
		return err
	}
	if s.cache != nil {
		if err := s.cache.Delete(ctx, cacheKey(userID, formKey)); err != nil {
			s.log.Warn("cache delete failed", zap.String("form", formKey), zap.Error(err))
		}
	}
	if !removed {
		return domainError(http.StatusNotFound, "NOT_FOUND", "form not saved", nil)
	}
	return nil
}

// ValidateForm runs the section policy against payload without storing it.
func (s *Service) ValidateForm(formKey string, payload []byte) (form.Result, error) {
	section, err := s.section(formKey)
	if err != nil {
		return form.Result{}, err
	}
	state, err := s.decode(section, payload)
	if err != nil {
		return form.Result{}, err
	}
	return section.Validate(state), nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
