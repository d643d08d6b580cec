package store

import (
	"context"
	"fmt"
)

// InsertSupportRequest stores req with status open. Status, Priority and
// CreatedAt are filled from the row.
func (s *PostgresStore) InsertSupportRequest(ctx context.Context, req SupportRequest) (SupportRequest, error) {
	const insert = `
		INSERT INTO support_requests (id, user_id, name, email, subject, category, message)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING status, priority, created_at
	`
	err := s.db.QueryRowContext(ctx, insert,
		req.ID, req.UserID, req.Name, req.Email, req.Subject, req.Category, req.Message,
	).Scan(&req.Status, &req.Priority, &req.CreatedAt)
	if err != nil {
		return SupportRequest{}, fmt.Errorf("insert support request: %w", err)
	}
	return req, nil
}

// MarkSupportEmailed records that the support inbox was notified.
func (s *PostgresStore) MarkSupportEmailed(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE support_requests SET emailed_at = NOW() WHERE id = $1`, id); err != nil {
		return fmt.Errorf("mark support request %s emailed: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) InsertFeedback(ctx context.Context, fb Feedback) (Feedback, error) {
	const insert = `
		INSERT INTO feedback_submissions (
			id, user_id, category, title, description, implementation_suggestion,
			priority_level, consent_for_contact, consent_for_implementation,
			contact_email, contact_name, reward_eligible
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING reward_granted, status, created_at
	`
	err := s.db.QueryRowContext(ctx, insert,
		fb.ID, fb.UserID, fb.Category, fb.Title, fb.Description, fb.ImplementationSuggestion,
		fb.PriorityLevel, fb.ConsentForContact, fb.ConsentForImplementation,
		fb.ContactEmail, fb.ContactName, fb.RewardEligible,
	).Scan(&fb.RewardGranted, &fb.Status, &fb.CreatedAt)
	if err != nil {
		return Feedback{}, fmt.Errorf("insert feedback: %w", err)
	}
	return fb, nil
}

// ListFeedback returns a user's submissions, newest first.
func (s *PostgresStore) ListFeedback(ctx context.Context, userID string) ([]Feedback, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, category, title, description, implementation_suggestion,
		       priority_level, consent_for_contact, consent_for_implementation,
		       contact_email, contact_name, reward_eligible, reward_granted, status, created_at
		FROM feedback_submissions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list feedback: %w", err)
	}
	defer rows.Close()

	out := make([]Feedback, 0)
	for rows.Next() {
		var fb Feedback
		if err := rows.Scan(
			&fb.ID, &fb.UserID, &fb.Category, &fb.Title, &fb.Description, &fb.ImplementationSuggestion,
			&fb.PriorityLevel, &fb.ConsentForContact, &fb.ConsentForImplementation,
			&fb.ContactEmail, &fb.ContactName, &fb.RewardEligible, &fb.RewardGranted, &fb.Status, &fb.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan feedback: %w", err)
		}
		out = append(out, fb)
	}
	return out, rows.Err()
}
