// Package service glues ingestion, persistence and the job queue together:
// a broadcast is created with all its recipient rows before the dispatch job
// is enqueued, so the worker only ever sees complete state.
package service

import (
	"context"
	"fmt"
	"io"
	"time"

	"broadcast/internal/domain"
	"broadcast/internal/ingest"
	"broadcast/internal/observability"
	sqsqueue "broadcast/internal/queue/sqs"
	"broadcast/internal/store"
	"broadcast/internal/util"
)

type Store interface {
	GetBusiness(ctx context.Context, id string) (store.Business, bool, error)
	InsertMessage(ctx context.Context, in store.MessageInsert) error
	InsertRecipients(ctx context.Context, ins []store.RecipientInsert) error
	MarkMessageStatus(ctx context.Context, id string, status domain.MessageStatus, lastError string, now time.Time) error
	GetMessage(ctx context.Context, id string) (store.Message, bool, error)
	ListRecipients(ctx context.Context, messageID string, limit, offset int) ([]store.Recipient, error)
	CountRecipients(ctx context.Context, messageID string) (int, error)
}

type Queue interface {
	EnqueueDispatch(ctx context.Context, job sqsqueue.DispatchJob) error
}

type BroadcastService struct {
	Store       Store
	Queue       Queue
	MessageID   func() string
	RecipientID func() string
}

// NoRecipientsError is returned when ingestion yields zero usable numbers;
// it carries the row diagnostics so the caller can see why.
type NoRecipientsError struct {
	Diagnostics []string
}

func (e *NoRecipientsError) Error() string { return domain.ErrNoValidRecipients.Error() }
func (e *NoRecipientsError) Unwrap() error { return domain.ErrNoValidRecipients }

// Create ingests the recipient file, persists the Message and its Recipients,
// and enqueues the dispatch job. Row-level ingest failures are returned as
// diagnostics alongside success; they never abort the broadcast.
func (s *BroadcastService) Create(ctx context.Context, req domain.CreateBroadcastRequest, file io.Reader, filename string) (domain.CreateBroadcastResponse, error) {
	if err := req.Validate(); err != nil {
		return domain.CreateBroadcastResponse{}, err
	}

	res, err := ingest.ParseFile(file, filename)
	if err != nil {
		return domain.CreateBroadcastResponse{}, err
	}
	diags := make([]string, 0, len(res.Errors))
	for _, e := range res.Errors {
		diags = append(diags, e.String())
	}
	if len(res.Numbers) == 0 {
		return domain.CreateBroadcastResponse{}, &NoRecipientsError{Diagnostics: diags}
	}

	biz, found, err := s.Store.GetBusiness(ctx, req.BusinessID)
	if err != nil {
		return domain.CreateBroadcastResponse{}, err
	}
	if !found {
		return domain.CreateBroadcastResponse{}, fmt.Errorf("business %s: %w", req.BusinessID, domain.ErrNotFound)
	}
	if biz.Status != "active" {
		return domain.CreateBroadcastResponse{}, domain.ErrBusinessInactive
	}

	now := util.NowUTC()
	msgID := s.MessageID()
	if err := s.Store.InsertMessage(ctx, store.MessageInsert{
		ID:              msgID,
		BusinessID:      req.BusinessID,
		TaskID:          req.TaskID,
		UserID:          req.UserID,
		MediaURL:        req.MediaURL,
		Title:           req.Title,
		Body:            req.Body,
		TotalRecipients: len(res.Numbers),
		Now:             now,
	}); err != nil {
		return domain.CreateBroadcastResponse{}, err
	}

	inserts := make([]store.RecipientInsert, 0, len(res.Numbers))
	recipientIDs := make([]string, 0, len(res.Numbers))
	for _, num := range res.Numbers {
		id := s.RecipientID()
		recipientIDs = append(recipientIDs, id)
		inserts = append(inserts, store.RecipientInsert{
			ID: id, MessageID: msgID, PhoneNumber: num, Now: now,
		})
	}
	if err := s.Store.InsertRecipients(ctx, inserts); err != nil {
		return domain.CreateBroadcastResponse{}, err
	}

	if err := s.Queue.EnqueueDispatch(ctx, sqsqueue.DispatchJob{
		MessageID:    msgID,
		BusinessID:   req.BusinessID,
		RecipientIDs: recipientIDs,
	}); err != nil {
		observability.Enqueues.WithLabelValues("error").Inc()
		_ = s.Store.MarkMessageStatus(ctx, msgID, domain.MessageFailed, "enqueue_failed", util.NowUTC())
		return domain.CreateBroadcastResponse{}, err
	}
	observability.Enqueues.WithLabelValues("ok").Inc()

	return domain.CreateBroadcastResponse{
		MessageID:       msgID,
		TotalRecipients: len(res.Numbers),
		QueuedCount:     len(res.Numbers),
		ParsingErrors:   diags,
	}, nil
}

func (s *BroadcastService) GetBroadcast(ctx context.Context, id string) (store.Message, bool, error) {
	return s.Store.GetMessage(ctx, id)
}

type RecipientPage struct {
	Recipients []store.Recipient `json:"recipients"`
	Total      int               `json:"total"`
	Page       int               `json:"page"`
	PerPage    int               `json:"perPage"`
	TotalPages int               `json:"totalPages"`
}

func (s *BroadcastService) ListRecipients(ctx context.Context, messageID string, page, perPage int) (RecipientPage, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 500 {
		perPage = 50
	}

	if _, found, err := s.Store.GetMessage(ctx, messageID); err != nil {
		return RecipientPage{}, err
	} else if !found {
		return RecipientPage{}, fmt.Errorf("message %s: %w", messageID, domain.ErrNotFound)
	}

	total, err := s.Store.CountRecipients(ctx, messageID)
	if err != nil {
		return RecipientPage{}, err
	}
	items, err := s.Store.ListRecipients(ctx, messageID, perPage, (page-1)*perPage)
	if err != nil {
		return RecipientPage{}, err
	}
	return RecipientPage{
		Recipients: items,
		Total:      total,
		Page:       page,
		PerPage:    perPage,
		TotalPages: (total + perPage - 1) / perPage,
	}, nil
}
