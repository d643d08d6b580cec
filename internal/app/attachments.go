package app

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"grandfinale/api/internal/blob"
	"grandfinale/api/internal/catalog"
	"grandfinale/api/internal/form"
)

const (
	uploadsSection = "fileUploadsMultimediaData"
	uploadsList    = "uploaded_files"
)

type attachmentStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (blob.Object, error)
	Get(ctx context.Context, key string) (io.ReadCloser, blob.Object, error)
	Delete(ctx context.Context, key string) error
}

// AttachmentInput is one uploaded file. Size may be -1 when unknown.
type AttachmentInput struct {
	FileName    string
	ContentType string
	Size        int64
	Description string
	Category    string
	Body        io.Reader
}

var fileKinds = []struct {
	kind       string
	category   string
	extensions []string
}{
	{"video", "Video Messages", []string{"mp4", "mov", "avi", "mkv", "webm"}},
	{"audio", "Audio Recordings", []string{"mp3", "wav", "m4a", "aac", "ogg"}},
	{"image", "Documents/Images", []string{"jpg", "jpeg", "png", "gif", "bmp", "svg", "heic"}},
	{"document", "Documents/Images", []string{"pdf", "doc", "docx", "txt", "rtf"}},
}

// classifyFile maps a file name to its file_type and default file_category.
func classifyFile(name string) (string, string) {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
	for _, k := range fileKinds {
		for _, e := range k.extensions {
			if e == ext {
				return k.kind, k.category
			}
		}
	}
	return "other", "Other Files"
}

// cleanFileName keeps the base name and drops characters that do not belong
// in an object key.
func cleanFileName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(strings.TrimSpace(name))
	if name == "." || name == "/" || name == ".." {
		return ""
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r < 0x20 || r == 0x7f:
			return -1
		case r == '/' || r == '?' || r == '#' || r == '%' || r == '"':
			return '_'
		}
		return r
	}, name)
}

func objectPrefix(userID string) string {
	return "uploads/" + userID + "/"
}

func attachmentsDisabled() *DomainError {
	return domainError(http.StatusServiceUnavailable, "ATTACHMENTS_DISABLED", "file storage is not configured", nil)
}

func attachmentNotFound() *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", "attachment not found", nil)
}

// loadUploads returns the saved uploads section, or its default when nothing
// is saved yet.
func (s *Service) loadUploads(ctx context.Context, userID string) (*catalog.Section, form.State, error) {
	section, err := s.section(uploadsSection)
	if err != nil {
		return nil, form.State{}, err
	}
	payload, err := s.LoadForm(ctx, userID, uploadsSection)
	var domainErr *DomainError
	if errors.As(err, &domainErr) && domainErr.Code == "NOT_FOUND" {
		return section, section.Default(s.ids), nil
	}
	if err != nil {
		return nil, form.State{}, err
	}
	state, err := s.decode(section, payload)
	if err != nil {
		return nil, form.State{}, err
	}
	return section, state, nil
}

func (s *Service) saveUploads(ctx context.Context, userID string, section *catalog.Section, state form.State) error {
	payload, err := section.Encode(state)
	if err != nil {
		return err
	}
	_, err = s.SyncForm(ctx, userID, section.Key, payload)
	return err
}

// AddAttachment stores the file contents and appends a record pointing at
// them to the uploads section. The object is removed again when the record
// cannot be saved.
func (s *Service) AddAttachment(ctx context.Context, userID string, in AttachmentInput) (form.Record, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	if s.blobs == nil {
		return nil, attachmentsDisabled()
	}
	name := cleanFileName(in.FileName)
	if name == "" {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "file name is required", nil)
	}

	s.uploadMu.Lock()
	defer s.uploadMu.Unlock()

	section, state, err := s.loadUploads(ctx, userID)
	if err != nil {
		return nil, err
	}
	list, ok := section.List(uploadsList)
	if !ok {
		return nil, unknownForm(uploadsSection)
	}
	files := state.List(uploadsList)
	if !list.Limits.CanAdd(len(files)) {
		return nil, domainError(http.StatusConflict, "LIMIT_REACHED", "no more files can be attached", nil)
	}
	files = form.Append(files, list.Template, list.Limits, s.ids)
	id := files[len(files)-1].ID()

	contentType := strings.TrimSpace(in.ContentType)
	if contentType == "" || contentType == "application/octet-stream" {
		if guessed := mime.TypeByExtension(path.Ext(name)); guessed != "" {
			contentType = guessed
		}
	}
	key := objectPrefix(userID) + id + "/" + name
	obj, err := s.blobs.Put(ctx, key, in.Body, in.Size, contentType)
	if err != nil {
		return nil, err
	}
	size := obj.Size
	if size <= 0 && in.Size > 0 {
		size = in.Size
	}

	kind, category := classifyFile(name)
	if c := strings.TrimSpace(in.Category); c != "" {
		category = c
	}
	for field, value := range map[string]any{
		"file_name":     name,
		"object_key":    key,
		"file_type":     kind,
		"file_category": category,
		"content_type":  obj.ContentType,
		"file_size":     size,
		"description":   strings.TrimSpace(in.Description),
		"upload_date":   time.Now().UTC().Format(time.RFC3339),
	} {
		files = form.UpdateField(files, id, field, value)
	}

	if err := s.saveUploads(ctx, userID, section, form.WithList(state, uploadsList, files)); err != nil {
		if delErr := s.blobs.Delete(ctx, key); delErr != nil {
			s.log.Warn("orphaned attachment", zap.String("key", key), zap.Error(delErr))
		}
		return nil, err
	}
	record, _ := files.Find(id)
	s.log.Info("attachment stored", zap.String("user", userID), zap.String("key", key), zap.Int64("size", size))
	return record, nil
}

// ListAttachments returns the file records of the uploads section.
func (s *Service) ListAttachments(ctx context.Context, userID string) (form.Collection, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	_, state, err := s.loadUploads(ctx, userID)
	if err != nil {
		return nil, err
	}
	files := state.List(uploadsList)
	if files == nil {
		files = form.Collection{}
	}
	return files, nil
}

// OpenAttachment streams the stored contents of one file record. The caller
// closes the reader.
func (s *Service) OpenAttachment(ctx context.Context, userID, id string) (io.ReadCloser, blob.Object, form.Record, error) {
	if err := requireUser(userID); err != nil {
		return nil, blob.Object{}, nil, err
	}
	if s.blobs == nil {
		return nil, blob.Object{}, nil, attachmentsDisabled()
	}
	files, err := s.ListAttachments(ctx, userID)
	if err != nil {
		return nil, blob.Object{}, nil, err
	}
	record, ok := files.Find(id)
	if !ok {
		return nil, blob.Object{}, nil, attachmentNotFound()
	}
	key := record.String("object_key")
	if !strings.HasPrefix(key, objectPrefix(userID)) {
		return nil, blob.Object{}, nil, attachmentNotFound()
	}
	body, obj, err := s.blobs.Get(ctx, key)
	if errors.Is(err, blob.ErrNotFound) {
		return nil, blob.Object{}, nil, attachmentNotFound()
	}
	if err != nil {
		return nil, blob.Object{}, nil, err
	}
	return body, obj, record, nil
}

// DeleteAttachment drops the file record and then its stored contents.
func (s *Service) DeleteAttachment(ctx context.Context, userID, id string) error {
	if err := requireUser(userID); err != nil {
		return err
	}
	if s.blobs == nil {
		return attachmentsDisabled()
	}

	s.uploadMu.Lock()
	defer s.uploadMu.Unlock()

	section, state, err := s.loadUploads(ctx, userID)
	if err != nil {
		return err
	}
	files := state.List(uploadsList)
	record, ok := files.Find(id)
	if !ok {
		return attachmentNotFound()
	}
	if err := s.saveUploads(ctx, userID, section, form.WithList(state, uploadsList, form.Remove(files, id))); err != nil {
		return err
	}
	key := record.String("object_key")
	if strings.HasPrefix(key, objectPrefix(userID)) {
		if err := s.blobs.Delete(ctx, key); err != nil {
			s.log.Warn("attachment contents not removed", zap.String("key", key), zap.Error(err))
		}
	}
	return nil
}
