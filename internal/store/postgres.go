package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// UpsertForm stores payload for (userID, formKey), replacing any earlier copy.
func (s *PostgresStore) UpsertForm(ctx context.Context, userID, formKey string, payload json.RawMessage) (FormRecord, error) {
	const upsert = `
		INSERT INTO form_data (user_id, form_key, payload, updated_at)
		VALUES ($1, $2, $3::jsonb, NOW())
		ON CONFLICT (user_id, form_key)
		DO UPDATE SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at
		RETURNING updated_at
	`
	record := FormRecord{UserID: userID, FormKey: formKey, Payload: payload}
	if err := s.db.QueryRowContext(ctx, upsert, userID, formKey, string(payload)).Scan(&record.UpdatedAt); err != nil {
		return FormRecord{}, fmt.Errorf("upsert form %s: %w", formKey, err)
	}
	return record, nil
}

// GetForm returns sql.ErrNoRows when nothing is saved.
func (s *PostgresStore) GetForm(ctx context.Context, userID, formKey string) (FormRecord, error) {
	record := FormRecord{UserID: userID, FormKey: formKey}
	var payload []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT payload, updated_at
		FROM form_data
		WHERE user_id = $1 AND form_key = $2
	`, userID, formKey).Scan(&payload, &record.UpdatedAt)
	if err != nil {
		return FormRecord{}, err
	}
	record.Payload = json.RawMessage(payload)
	return record, nil
}

func (s *PostgresStore) ListForms(ctx context.Context, userID string) ([]FormSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT form_key, updated_at
		FROM form_data
		WHERE user_id = $1
		ORDER BY form_key
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list forms: %w", err)
	}
	defer rows.Close()

	out := make([]FormSummary, 0)
	for rows.Next() {
		var item FormSummary
		if err := rows.Scan(&item.FormKey, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan form summary: %w", err)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// DeleteForm reports whether a row was removed.
func (s *PostgresStore) DeleteForm(ctx context.Context, userID, formKey string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM form_data WHERE user_id = $1 AND form_key = $2`, userID, formKey)
	if err != nil {
		return false, fmt.Errorf("delete form %s: %w", formKey, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete form %s: %w", formKey, err)
	}
	return affected > 0, nil
}

// PurgeUser removes every saved form of a user and returns how many went.
func (s *PostgresStore) PurgeUser(ctx context.Context, userID string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	result, err := s.db.ExecContext(ctx, `DELETE FROM form_data WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("purge user: %w", err)
	}
	return result.RowsAffected()
}
