// Package reconciler applies asynchronous provider callbacks to recipient
// records: inbound replies and delivery status events. It runs concurrently
// with dispatch jobs for the same broadcast; every status write goes through
// the store's forward-only compare-and-set, so out-of-order or duplicate
// events can never regress progress.
package reconciler

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"broadcast/internal/domain"
	"broadcast/internal/observability"
	"broadcast/internal/store"
	"broadcast/internal/util"
)

// Notification is the callback payload shape: entry[].changes[].value with
// inbound messages (replies) and status events.
type Notification struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

type Change struct {
	Field string `json:"field"`
	Value Value  `json:"value"`
}

type Value struct {
	Messages []InboundMessage `json:"messages"`
	Statuses []StatusEvent    `json:"statuses"`
}

type InboundMessage struct {
	From      string `json:"from"`
	Timestamp string `json:"timestamp"`
	Text      struct {
		Body string `json:"body"`
	} `json:"text"`
}

type StatusEvent struct {
	ID          string `json:"id"`
	RecipientID string `json:"recipient_id"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
}

type Store interface {
	RecipientsByPhone(ctx context.Context, phone string) ([]store.Recipient, error)
	SetReply(ctx context.Context, recipientID, text string, at time.Time) (bool, error)
	IncrementReplied(ctx context.Context, messageID string, now time.Time) error
	TransitionRecipient(ctx context.Context, in store.Transition) (store.TransitionResult, error)
	AdjustStats(ctx context.Context, messageID string, from, to domain.RecipientStatus, now time.Time) error
}

type Reconciler struct {
	Store Store
}

// Apply processes every event in a callback payload. Per-event failures are
// logged and do not abort the remaining events.
func (r *Reconciler) Apply(ctx context.Context, n Notification) {
	for _, entry := range n.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				if err := r.applyReply(ctx, msg); err != nil {
					slog.Error("apply reply failed", "err", err, "from", msg.From)
				}
			}
			for _, ev := range change.Value.Statuses {
				if err := r.applyStatus(ctx, ev); err != nil {
					slog.Error("apply status failed", "err", err, "phone", ev.RecipientID, "status", ev.Status)
				}
			}
		}
	}
}

// applyReply records an inbound reply on every recipient row matching the
// sender. Repeated replies overwrite the stored text; the replied counter
// only moves on the first reply so replays cannot inflate it.
func (r *Reconciler) applyReply(ctx context.Context, msg InboundMessage) error {
	observability.WebhookEvents.WithLabelValues("reply").Inc()

	recipients, err := r.Store.RecipientsByPhone(ctx, normalizePhone(msg.From))
	if err != nil {
		return err
	}
	at := eventTime(msg.Timestamp)
	for _, rcp := range recipients {
		first, err := r.Store.SetReply(ctx, rcp.ID, msg.Text.Body, at)
		if err != nil {
			slog.Error("set reply failed", "err", err, "recipient_id", rcp.ID)
			continue
		}
		if first {
			if err := r.Store.IncrementReplied(ctx, rcp.MessageID, util.NowUTC()); err != nil {
				slog.Error("increment replied failed", "err", err, "message_id", rcp.MessageID)
			}
		}
	}
	return nil
}

// applyStatus advances matching recipients along the delivery state machine
// and mirrors each applied transition into the owning message's stats.
// Unknown provider statuses and unmatched phone numbers are ignored.
func (r *Reconciler) applyStatus(ctx context.Context, ev StatusEvent) error {
	observability.WebhookEvents.WithLabelValues(ev.Status).Inc()

	newStatus, ok := domain.ParseProviderStatus(ev.Status)
	if !ok {
		return nil
	}
	recipients, err := r.Store.RecipientsByPhone(ctx, normalizePhone(ev.RecipientID))
	if err != nil {
		return err
	}
	occurred := eventTime(ev.Timestamp)
	for _, rcp := range recipients {
		res, err := r.Store.TransitionRecipient(ctx, store.Transition{
			RecipientID:   rcp.ID,
			NewStatus:     newStatus,
			ProviderMsgID: ev.ID,
			OccurredAt:    occurred,
			Now:           util.NowUTC(),
		})
		if err != nil {
			slog.Error("transition failed", "err", err, "recipient_id", rcp.ID, "status", newStatus)
			continue
		}
		if !res.Applied {
			continue
		}
		if err := r.Store.AdjustStats(ctx, rcp.MessageID, res.PrevStatus, newStatus, util.NowUTC()); err != nil {
			slog.Error("adjust stats failed", "err", err, "message_id", rcp.MessageID)
		}
	}
	return nil
}

// normalizePhone matches callback sender ids (digits only) against our
// E.164 records.
func normalizePhone(p string) string {
	p = strings.TrimSpace(p)
	if p != "" && !strings.HasPrefix(p, "+") {
		return "+" + p
	}
	return p
}

func eventTime(ts string) time.Time {
	secs, err := strconv.ParseInt(strings.TrimSpace(ts), 10, 64)
	if err != nil || secs <= 0 {
		return util.NowUTC()
	}
	return time.Unix(secs, 0).UTC()
}
