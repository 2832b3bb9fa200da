package store

import (
	"time"

	"broadcast/internal/domain"
)

// Message is one broadcast request. TotalRecipients is a snapshot taken at
// creation time and never changes afterward.
type Message struct {
	ID              string       `json:"id"`
	BusinessID      string       `json:"businessId"`
	TaskID          string       `json:"taskId,omitempty"`
	UserID          string       `json:"userId,omitempty"`
	MediaURL        string       `json:"mediaUrl"`
	Title           string       `json:"title"`
	Body            string       `json:"body"`
	TotalRecipients int          `json:"totalRecipients"`
	Status          string       `json:"status"`
	LastError       string       `json:"lastError,omitempty"`
	Stats           domain.Stats `json:"stats"`
	CreatedAt       time.Time    `json:"createdAt"`
	UpdatedAt       time.Time    `json:"updatedAt"`
}

// Recipient is one phone number's delivery record within a broadcast.
type Recipient struct {
	ID          string            `json:"id"`
	MessageID   string            `json:"messageId"`
	PhoneNumber string            `json:"phoneNumber"`
	Status      string            `json:"status"`
	Meta        map[string]string `json:"meta,omitempty"`
	ReplyText   string            `json:"replyText,omitempty"`
	ReplyAt     *time.Time        `json:"replyAt,omitempty"`
	DeliveredAt *time.Time        `json:"deliveredAt,omitempty"`
	SeenAt      *time.Time        `json:"seenAt,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
}

// Business holds the provider credentials a dispatch job sends with.
// TokenEncrypted is a fernet token; the worker decrypts it per job.
type Business struct {
	ID             string
	Name           string
	TokenEncrypted string
	PhoneID        string
	WabaID         string
	Status         string
}

type MessageInsert struct {
	ID              string
	BusinessID      string
	TaskID          string
	UserID          string
	MediaURL        string
	Title           string
	Body            string
	TotalRecipients int
	Now             time.Time
}

type RecipientInsert struct {
	ID          string
	MessageID   string
	PhoneNumber string
	Now         time.Time
}

// Transition asks for a forward-only status change on one recipient,
// as driven by a provider status callback.
type Transition struct {
	RecipientID   string
	NewStatus     domain.RecipientStatus
	ProviderMsgID string
	OccurredAt    time.Time
	Now           time.Time
}

// TransitionResult reports whether the change was applied and, if so, the
// status it replaced (needed for the incremental stats adjustment).
type TransitionResult struct {
	Applied    bool
	PrevStatus domain.RecipientStatus
}
