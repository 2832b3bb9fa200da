package domain

import "errors"

// Stats is the externally visible progress snapshot on a broadcast.
// Replied counts recipients with a recorded reply and is orthogonal to the
// delivery status buckets.
type Stats struct {
	Queued    int `json:"queued"`
	Sent      int `json:"sent"`
	Delivered int `json:"delivered"`
	Seen      int `json:"seen"`
	Failed    int `json:"failed"`
	Replied   int `json:"replied"`
}

type CreateBroadcastRequest struct {
	BusinessID string
	TaskID     string
	UserID     string
	MediaURL   string
	Title      string
	Body       string
}

// Validate checks required fields. MediaURL is optional; a broadcast without
// media is sent as plain text.
func (r CreateBroadcastRequest) Validate() error {
	if r.BusinessID == "" || r.Title == "" || r.Body == "" {
		return ErrMissingFields
	}
	return nil
}

type CreateBroadcastResponse struct {
	MessageID       string   `json:"messageId"`
	TotalRecipients int      `json:"totalRecipients"`
	QueuedCount     int      `json:"queuedCount"`
	ParsingErrors   []string `json:"parsingErrors"`
}

var (
	ErrMissingFields     = errors.New("missing required fields")
	ErrNotFound          = errors.New("not found")
	ErrBusinessInactive  = errors.New("business is not active")
	ErrNoValidRecipients = errors.New("no valid phone numbers found in file")
	ErrUnsupportedUpload = errors.New("unsupported file type")
	ErrUnreadableFile    = errors.New("could not read recipients file")
)
