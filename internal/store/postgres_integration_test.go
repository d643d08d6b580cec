package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("GRANDFINALE_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("GRANDFINALE_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := Open(ctx, dsn, 4)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := resetPublicSchema(ctx, db); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	if _, err := ApplyMigrations(ctx, db, migrationsFS()); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return NewPostgresStore(db)
}

func TestFormDataLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.GetForm(ctx, "ada", "conclusionData"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}

	first, err := s.UpsertForm(ctx, "ada", "conclusionData", json.RawMessage(`{"final_message":"hi"}`))
	if err != nil {
		t.Fatalf("UpsertForm: %v", err)
	}
	if first.UpdatedAt.IsZero() {
		t.Fatal("expected updated_at to be set")
	}

	if _, err := s.UpsertForm(ctx, "ada", "conclusionData", json.RawMessage(`{"final_message":"bye"}`)); err != nil {
		t.Fatalf("UpsertForm (replace): %v", err)
	}
	if _, err := s.UpsertForm(ctx, "ada", "emergencyContactsData", json.RawMessage(`[]`)); err != nil {
		t.Fatalf("UpsertForm (list): %v", err)
	}

	got, err := s.GetForm(ctx, "ada", "conclusionData")
	if err != nil {
		t.Fatalf("GetForm: %v", err)
	}
	var payload map[string]string
	if err := json.Unmarshal(got.Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload["final_message"] != "bye" {
		t.Fatalf("expected replaced payload, got %s", got.Payload)
	}

	forms, err := s.ListForms(ctx, "ada")
	if err != nil {
		t.Fatalf("ListForms: %v", err)
	}
	if len(forms) != 2 || forms[0].FormKey != "conclusionData" || forms[1].FormKey != "emergencyContactsData" {
		t.Fatalf("unexpected forms %+v", forms)
	}

	removed, err := s.DeleteForm(ctx, "ada", "conclusionData")
	if err != nil || !removed {
		t.Fatalf("DeleteForm: removed=%v err=%v", removed, err)
	}
	removed, err = s.DeleteForm(ctx, "ada", "conclusionData")
	if err != nil || removed {
		t.Fatalf("DeleteForm (again): removed=%v err=%v", removed, err)
	}

	purged, err := s.PurgeUser(ctx, "ada")
	if err != nil || purged != 1 {
		t.Fatalf("PurgeUser: purged=%d err=%v", purged, err)
	}
}

func TestSupportAndFeedbackRows(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	req, err := s.InsertSupportRequest(ctx, SupportRequest{
		ID:       "sup_1",
		Name:     "Ada",
		Email:    "ada@example.com",
		Subject:  "Cannot save",
		Category: "technical",
		Message:  "The finance page spins forever.",
	})
	if err != nil {
		t.Fatalf("InsertSupportRequest: %v", err)
	}
	if req.Status != "open" || req.Priority != "medium" || req.CreatedAt.IsZero() {
		t.Fatalf("unexpected defaults %+v", req)
	}
	if err := s.MarkSupportEmailed(ctx, "sup_1"); err != nil {
		t.Fatalf("MarkSupportEmailed: %v", err)
	}
	var emailed sql.NullTime
	if err := s.DB().QueryRowContext(ctx, `SELECT emailed_at FROM support_requests WHERE id = 'sup_1'`).Scan(&emailed); err != nil {
		t.Fatalf("read emailed_at: %v", err)
	}
	if !emailed.Valid {
		t.Fatal("expected emailed_at to be set")
	}

	for _, id := range []string{"FB-1", "FB-2"} {
		if _, err := s.InsertFeedback(ctx, Feedback{
			ID:                       id,
			UserID:                   "ada",
			Category:                 "ui",
			Title:                    "Bigger buttons",
			Description:              "Hard to tap on a phone.",
			PriorityLevel:            "low",
			ConsentForImplementation: true,
			RewardEligible:           true,
		}); err != nil {
			t.Fatalf("InsertFeedback %s: %v", id, err)
		}
	}
	items, err := s.ListFeedback(ctx, "ada")
	if err != nil {
		t.Fatalf("ListFeedback: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 feedback rows, got %d", len(items))
	}
	if items[0].Status != "submitted" || !items[0].RewardEligible || items[0].RewardGranted {
		t.Fatalf("unexpected feedback row %+v", items[0])
	}
	others, err := s.ListFeedback(ctx, "grace")
	if err != nil || len(others) != 0 {
		t.Fatalf("expected no rows for another user, got %d err=%v", len(others), err)
	}
}
