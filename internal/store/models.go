package store

import (
	"encoding/json"
	"time"
)

// FormRecord is one saved section payload of one user.
type FormRecord struct {
	UserID    string          `json:"userId"`
	FormKey   string          `json:"formKey"`
	Payload   json.RawMessage `json:"payload"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// FormSummary lists a saved section without its payload.
type FormSummary struct {
	FormKey   string    `json:"formKey"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SupportRequest is one message sent through the support contact form.
type SupportRequest struct {
	ID        string     `json:"id"`
	UserID    string     `json:"userId,omitempty"`
	Name      string     `json:"name"`
	Email     string     `json:"email"`
	Subject   string     `json:"subject"`
	Category  string     `json:"category"`
	Message   string     `json:"message"`
	Status    string     `json:"status"`
	Priority  string     `json:"priority"`
	EmailedAt *time.Time `json:"emailedAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

// Feedback is one improvement suggestion. RewardEligible follows the
// implementation consent.
type Feedback struct {
	ID                       string    `json:"id"`
	UserID                   string    `json:"userId"`
	Category                 string    `json:"category"`
	Title                    string    `json:"title"`
	Description              string    `json:"description"`
	ImplementationSuggestion string    `json:"implementationSuggestion"`
	PriorityLevel            string    `json:"priorityLevel"`
	ConsentForContact        bool      `json:"consentForContact"`
	ConsentForImplementation bool      `json:"consentForImplementation"`
	ContactEmail             string    `json:"contactEmail,omitempty"`
	ContactName              string    `json:"contactName,omitempty"`
	RewardEligible           bool      `json:"rewardEligible"`
	RewardGranted            bool      `json:"rewardGranted"`
	Status                   string    `json:"status"`
	CreatedAt                time.Time `json:"createdAt"`
}
