package app

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"grandfinale/api/internal/email"
	"grandfinale/api/internal/store"
	"grandfinale/api/internal/util"
)

type supportStore interface {
	InsertSupportRequest(context.Context, store.SupportRequest) (store.SupportRequest, error)
	MarkSupportEmailed(context.Context, string) error
	InsertFeedback(context.Context, store.Feedback) (store.Feedback, error)
	ListFeedback(context.Context, string) ([]store.Feedback, error)
}

type supportMailer interface {
	SendSupportRequest(to string, req email.SupportRequest) error
}

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

var feedbackPriorities = map[string]bool{"low": true, "medium": true, "high": true, "critical": true}

type SupportInput struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Subject  string `json:"subject"`
	Category string `json:"category"`
	Message  string `json:"message"`
	UserID   string `json:"userId"`
}

type SupportReceipt struct {
	RequestID string `json:"requestId"`
	EmailSent bool   `json:"emailSent"`
}

// SubmitSupport records a support request and notifies the support inbox.
// A failed notification does not fail the request.
func (s *Service) SubmitSupport(ctx context.Context, in SupportInput) (SupportReceipt, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	in.Subject = strings.TrimSpace(in.Subject)
	in.Message = strings.TrimSpace(in.Message)
	in.Category = strings.TrimSpace(in.Category)
	if in.Name == "" || in.Email == "" || in.Subject == "" || in.Message == "" {
		return SupportReceipt{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "name, email, subject and message are required", nil)
	}
	if !emailPattern.MatchString(in.Email) {
		return SupportReceipt{}, domainError(http.StatusBadRequest, "INVALID_EMAIL", "email address is not valid", nil)
	}
	if in.Category == "" {
		in.Category = "general"
	}

	saved, err := s.support.InsertSupportRequest(ctx, store.SupportRequest{
		ID:       util.NewID("sup"),
		UserID:   strings.TrimSpace(in.UserID),
		Name:     in.Name,
		Email:    in.Email,
		Subject:  in.Subject,
		Category: in.Category,
		Message:  in.Message,
	})
	if err != nil {
		return SupportReceipt{}, err
	}

	receipt := SupportReceipt{RequestID: saved.ID}
	if s.mailer == nil {
		return receipt, nil
	}
	submitted := saved.CreatedAt
	if submitted.IsZero() {
		submitted = time.Now().UTC()
	}
	err = s.mailer.SendSupportRequest(s.cfg.SupportEmail, email.SupportRequest{
		ID:          saved.ID,
		Name:        saved.Name,
		Email:       saved.Email,
		Subject:     saved.Subject,
		Category:    saved.Category,
		Message:     saved.Message,
		UserID:      saved.UserID,
		SubmittedAt: submitted,
	})
	switch {
	case errors.Is(err, email.ErrNotConfigured):
		return receipt, nil
	case err != nil:
		s.log.Warn("support email failed", zap.String("request_id", saved.ID), zap.Error(err))
		return receipt, nil
	}
	receipt.EmailSent = true
	if err := s.support.MarkSupportEmailed(ctx, saved.ID); err != nil {
		s.log.Warn("mark support emailed failed", zap.String("request_id", saved.ID), zap.Error(err))
	}
	return receipt, nil
}

type FeedbackInput struct {
	Category                 string `json:"category"`
	Title                    string `json:"title"`
	Description              string `json:"description"`
	ImplementationSuggestion string `json:"implementationSuggestion"`
	PriorityLevel            string `json:"priorityLevel"`
	ConsentForContact        bool   `json:"consentForContact"`
	ConsentForImplementation bool   `json:"consentForImplementation"`
	ContactEmail             string `json:"contactEmail"`
	ContactName              string `json:"contactName"`
}

type FeedbackStats struct {
	Total          int `json:"totalSubmissions"`
	Implemented    int `json:"implementedSuggestions"`
	RewardsGranted int `json:"rewardsGranted"`
	PendingReview  int `json:"pendingReview"`
}

type FeedbackList struct {
	Feedback []store.Feedback `json:"feedback"`
	Stats    FeedbackStats    `json:"stats"`
}

// SubmitFeedback stores an improvement suggestion. Consenting to
// implementation makes it eligible for a reward.
func (s *Service) SubmitFeedback(ctx context.Context, userID string, in FeedbackInput) (store.Feedback, error) {
	if err := requireUser(userID); err != nil {
		return store.Feedback{}, err
	}
	in.Category = strings.TrimSpace(in.Category)
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	if in.Category == "" || in.Title == "" || in.Description == "" {
		return store.Feedback{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "category, title and description are required", nil)
	}
	priority := strings.ToLower(strings.TrimSpace(in.PriorityLevel))
	if priority == "" {
		priority = "medium"
	}
	if !feedbackPriorities[priority] {
		return store.Feedback{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "priority must be low, medium, high or critical", nil)
	}
	contact := strings.TrimSpace(in.ContactEmail)
	if in.ConsentForContact && contact != "" && !emailPattern.MatchString(contact) {
		return store.Feedback{}, domainError(http.StatusBadRequest, "INVALID_EMAIL", "contact email is not valid", nil)
	}

	return s.support.InsertFeedback(ctx, store.Feedback{
		ID:                       util.NewID("FB"),
		UserID:                   userID,
		Category:                 in.Category,
		Title:                    in.Title,
		Description:              in.Description,
		ImplementationSuggestion: strings.TrimSpace(in.ImplementationSuggestion),
		PriorityLevel:            priority,
		ConsentForContact:        in.ConsentForContact,
		ConsentForImplementation: in.ConsentForImplementation,
		ContactEmail:             contact,
		ContactName:              strings.TrimSpace(in.ContactName),
		RewardEligible:           in.ConsentForImplementation,
	})
}

func (s *Service) ListFeedback(ctx context.Context, userID string) (FeedbackList, error) {
	if err := requireUser(userID); err != nil {
		return FeedbackList{}, err
	}
	items, err := s.support.ListFeedback(ctx, userID)
	if err != nil {
		return FeedbackList{}, err
	}
	out := FeedbackList{Feedback: items, Stats: FeedbackStats{Total: len(items)}}
	for _, item := range items {
		switch item.Status {
		case "implemented":
			out.Stats.Implemented++
		case "submitted", "under_review":
			out.Stats.PendingReview++
		}
		if item.RewardGranted {
			out.Stats.RewardsGranted++
		}
	}
	return out, nil
}
