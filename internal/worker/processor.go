// Package worker is the dispatch engine. One job is processed start-to-finish
// by a single worker goroutine: recipients are sent in fixed-size batches with
// paced sends, bounded retries and a full stats recount after every batch.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"broadcast/internal/domain"
	"broadcast/internal/observability"
	"broadcast/internal/providers/whatsapp"
	sqsqueue "broadcast/internal/queue/sqs"
	"broadcast/internal/store"
	"broadcast/internal/util"
)

type Store interface {
	GetMessage(ctx context.Context, id string) (store.Message, bool, error)
	GetBusiness(ctx context.Context, id string) (store.Business, bool, error)
	GetRecipient(ctx context.Context, id string) (store.Recipient, bool, error)
	MarkMessageStatus(ctx context.Context, id string, status domain.MessageStatus, lastError string, now time.Time) error
	MarkRecipientSent(ctx context.Context, id, providerMsgID string, now time.Time) (bool, error)
	MarkRecipientFailed(ctx context.Context, id, errText string, now time.Time) error
	RecountStats(ctx context.Context, messageID string, now time.Time) error
}

type Sender interface {
	Send(ctx context.Context, req whatsapp.SendRequest) (string, error)
}

type TokenDecrypter interface {
	Decrypt(encrypted string) (string, error)
}

type Processor struct {
	Store     Store
	Secrets   TokenDecrypter
	NewSender func(token, phoneID string) Sender

	Limiter *rate.Limiter
	Breaker *gobreaker.CircuitBreaker

	BatchSize   int
	MaxAttempts int
	BatchDelay  time.Duration
	JobTimeout  time.Duration

	// Sleep is swappable in tests; nil means time.Sleep.
	Sleep func(time.Duration)
}

// Process runs one dispatch job to completion. A nil return deletes the queue
// message; an error leaves it for redrive. Fatal job conditions mark the
// message failed and return nil so the job is not retried.
func (p *Processor) Process(ctx context.Context, job sqsqueue.DispatchJob) error {
	if p.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.JobTimeout)
		defer cancel()
	}

	msg, found, err := p.Store.GetMessage(ctx, job.MessageID)
	if err != nil {
		return err
	}
	if !found {
		slog.Error("dispatch job references missing message", "message_id", job.MessageID)
		return nil
	}
	// Idempotent consumer: a redelivered finished job is a no-op.
	if msg.Status == string(domain.MessageCompleted) || msg.Status == string(domain.MessageFailed) {
		return nil
	}

	biz, found, err := p.Store.GetBusiness(ctx, job.BusinessID)
	if err != nil {
		return err
	}
	if !found {
		return p.failJob(ctx, job.MessageID, "business not found")
	}

	token, err := p.Secrets.Decrypt(biz.TokenEncrypted)
	if err != nil {
		return p.failJob(ctx, job.MessageID, "decrypt business token: "+err.Error())
	}
	sender := p.NewSender(token, biz.PhoneID)

	if err := p.Store.MarkMessageStatus(ctx, job.MessageID, domain.MessageProcessing, "", util.NowUTC()); err != nil {
		return err
	}

	req := whatsapp.SendRequest{MediaURL: msg.MediaURL, Title: msg.Title, Body: msg.Body}

	batchSize := p.BatchSize
	if batchSize <= 0 {
		batchSize = 50
	}
	for start := 0; start < len(job.RecipientIDs); start += batchSize {
		end := min(start+batchSize, len(job.RecipientIDs))

		for _, rcpID := range job.RecipientIDs[start:end] {
			if ctx.Err() != nil {
				return p.failJob(ctx, job.MessageID, "job timeout exceeded")
			}
			if err := p.dispatchOne(ctx, sender, req, rcpID); err != nil {
				if isBreakerOpen(err) {
					// Transient provider protection: redrive, nothing marked failed.
					return err
				}
				return p.failJob(ctx, job.MessageID, err.Error())
			}
		}

		// Authoritative recount bounds stats staleness to one batch.
		if err := p.Store.RecountStats(ctx, job.MessageID, util.NowUTC()); err != nil {
			slog.Error("recount stats failed", "err", err, "message_id", job.MessageID)
		}
		if end < len(job.RecipientIDs) && p.BatchDelay > 0 {
			p.sleep(p.BatchDelay)
		}
	}

	if err := p.Store.RecountStats(ctx, job.MessageID, util.NowUTC()); err != nil {
		slog.Error("recount stats failed", "err", err, "message_id", job.MessageID)
	}
	return p.Store.MarkMessageStatus(ctx, job.MessageID, domain.MessageCompleted, "", util.NowUTC())
}

// dispatchOne sends to a single recipient and records the terminal outcome.
// Only breaker-open and store errors propagate; a send failure is recorded on
// the recipient and does not stop the job.
func (p *Processor) dispatchOne(ctx context.Context, sender Sender, req whatsapp.SendRequest, rcpID string) error {
	rcp, found, err := p.Store.GetRecipient(ctx, rcpID)
	if err != nil {
		return err
	}
	if !found {
		slog.Warn("dispatch job references missing recipient", "recipient_id", rcpID)
		return nil
	}
	// Redelivered jobs skip recipients that already have an outcome.
	if rcp.Status != string(domain.RecipientQueued) {
		return nil
	}

	if p.Limiter != nil {
		if err := p.Limiter.Wait(ctx); err != nil {
			return err
		}
	}

	req.To = rcp.PhoneNumber
	start := time.Now()
	providerMsgID, err := p.sendWithRetry(ctx, sender, req)
	observability.ProviderLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		if isBreakerOpen(err) {
			return err
		}
		observability.ProviderSend.WithLabelValues("failed").Inc()
		return p.Store.MarkRecipientFailed(ctx, rcpID, err.Error(), util.NowUTC())
	}

	observability.ProviderSend.WithLabelValues("ok").Inc()
	applied, err := p.Store.MarkRecipientSent(ctx, rcpID, providerMsgID, util.NowUTC())
	if err != nil {
		return err
	}
	if !applied {
		// A webhook already advanced this recipient past queued; keep its progress.
		slog.Info("recipient already advanced, send outcome not recorded",
			"recipient_id", rcpID, "provider_msg_id", providerMsgID)
	}
	return nil
}

// sendWithRetry classifies each outcome and retries transient failures with
// exponential backoff; a rate-limited wait honors the provider's retry-after
// hint when it exceeds the exponential value.
func (p *Processor) sendWithRetry(ctx context.Context, sender Sender, req whatsapp.SendRequest) (string, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		id, err := p.send(ctx, sender, req)
		if err == nil {
			return id, nil
		}
		if isBreakerOpen(err) {
			return "", err
		}
		lastErr = err
		if !whatsapp.Retryable(err) {
			return "", err
		}
		if attempt < maxAttempts {
			wait := whatsapp.Backoff(attempt, err)
			slog.Warn("retrying send", "to", req.To, "attempt", attempt, "max", maxAttempts, "wait", wait, "err", err)
			p.sleep(wait)
		}
	}
	return "", lastErr
}

func (p *Processor) send(ctx context.Context, sender Sender, req whatsapp.SendRequest) (string, error) {
	call := func() (any, error) { return sender.Send(ctx, req) }
	if p.Breaker == nil {
		id, err := call()
		if err != nil {
			return "", err
		}
		return id.(string), nil
	}
	res, err := p.Breaker.Execute(call)
	if err != nil {
		return "", err
	}
	return res.(string), nil
}

func (p *Processor) failJob(ctx context.Context, messageID, reason string) error {
	slog.Error("dispatch job failed", "message_id", messageID, "reason", reason)
	// The job context may already be expired; the failure write gets its own budget.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	_ = p.Store.RecountStats(wctx, messageID, util.NowUTC())
	return p.Store.MarkMessageStatus(wctx, messageID, domain.MessageFailed, reason, util.NowUTC())
}

func (p *Processor) sleep(d time.Duration) {
	if p.Sleep != nil {
		p.Sleep(d)
		return
	}
	time.Sleep(d)
}

func isBreakerOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
