// Package pg is the Postgres record store. Recipient status writes are
// guarded compare-and-set updates and all stats mutations are single
// statements, so concurrent dispatch and reconciler writers serialize through
// row locking instead of read-modify-write races.
package pg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"broadcast/internal/domain"
	"broadcast/internal/store"
)

type Store struct {
	DB *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store { return &Store{DB: db} }

// statusRankSQL orders recipient statuses for the forward-only guard.
// Mirrors domain.CanTransition; failed is handled separately.
const statusRankSQL = `CASE %s WHEN 'queued' THEN 0 WHEN 'sent' THEN 1 WHEN 'delivered' THEN 2 WHEN 'seen' THEN 3 ELSE -1 END`

var statColumns = map[domain.RecipientStatus]string{
	domain.RecipientQueued:    "stats_queued",
	domain.RecipientSent:      "stats_sent",
	domain.RecipientDelivered: "stats_delivered",
	domain.RecipientSeen:      "stats_seen",
	domain.RecipientFailed:    "stats_failed",
}

func (s *Store) InsertMessage(ctx context.Context, in store.MessageInsert) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO messages
			(id, business_id, task_id, user_id, media_url, title, body,
			 total_recipients, status, stats_queued, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,'queued',$8,$9,$9)
	`, in.ID, in.BusinessID, nullIfEmpty(in.TaskID), nullIfEmpty(in.UserID),
		in.MediaURL, in.Title, in.Body, in.TotalRecipients, in.Now)
	return err
}

func (s *Store) InsertRecipients(ctx context.Context, ins []store.RecipientInsert) error {
	batch := &pgx.Batch{}
	for _, in := range ins {
		batch.Queue(`
			INSERT INTO recipients (id, message_id, phone_number, status, meta, created_at)
			VALUES ($1,$2,$3,'queued','{}'::jsonb,$4)
		`, in.ID, in.MessageID, in.PhoneNumber, in.Now)
	}
	return s.DB.SendBatch(ctx, batch).Close()
}

func (s *Store) GetMessage(ctx context.Context, id string) (store.Message, bool, error) {
	var m store.Message
	row := s.DB.QueryRow(ctx, `
		SELECT id, business_id, COALESCE(task_id,''), COALESCE(user_id,''),
		       media_url, title, body, total_recipients, status, COALESCE(last_error,''),
		       stats_queued, stats_sent, stats_delivered, stats_seen, stats_failed, stats_replied,
		       created_at, updated_at
		FROM messages WHERE id=$1
	`, id)
	err := row.Scan(&m.ID, &m.BusinessID, &m.TaskID, &m.UserID,
		&m.MediaURL, &m.Title, &m.Body, &m.TotalRecipients, &m.Status, &m.LastError,
		&m.Stats.Queued, &m.Stats.Sent, &m.Stats.Delivered, &m.Stats.Seen, &m.Stats.Failed, &m.Stats.Replied,
		&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Message{}, false, nil
		}
		return store.Message{}, false, err
	}
	return m, true, nil
}

func (s *Store) GetBusiness(ctx context.Context, id string) (store.Business, bool, error) {
	var b store.Business
	row := s.DB.QueryRow(ctx, `
		SELECT id, name, token_encrypted, phone_id, COALESCE(waba_id,''), status
		FROM businesses WHERE id=$1
	`, id)
	err := row.Scan(&b.ID, &b.Name, &b.TokenEncrypted, &b.PhoneID, &b.WabaID, &b.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Business{}, false, nil
		}
		return store.Business{}, false, err
	}
	return b, true, nil
}

func (s *Store) GetRecipient(ctx context.Context, id string) (store.Recipient, bool, error) {
	row := s.DB.QueryRow(ctx, recipientSelect+` WHERE id=$1`, id)
	r, err := scanRecipient(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Recipient{}, false, nil
		}
		return store.Recipient{}, false, err
	}
	return r, true, nil
}

func (s *Store) MarkMessageStatus(ctx context.Context, id string, status domain.MessageStatus, lastError string, now time.Time) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE messages SET status=$2, last_error=$3, updated_at=$4 WHERE id=$1
	`, id, string(status), nullIfEmpty(lastError), now)
	return err
}

// MarkRecipientSent records a successful dispatch. The status predicate makes
// it a no-op when a webhook already advanced the recipient past queued.
func (s *Store) MarkRecipientSent(ctx context.Context, id, providerMsgID string, now time.Time) (bool, error) {
	meta, _ := json.Marshal(map[string]string{
		"provider_msg_id": providerMsgID,
		"sent_at":         now.Format(time.RFC3339),
	})
	ct, err := s.DB.Exec(ctx, `
		UPDATE recipients SET status='sent', meta = meta || $2::jsonb
		WHERE id=$1 AND status='queued'
	`, id, meta)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

func (s *Store) MarkRecipientFailed(ctx context.Context, id, errText string, now time.Time) error {
	meta, _ := json.Marshal(map[string]string{
		"error":     errText,
		"failed_at": now.Format(time.RFC3339),
	})
	_, err := s.DB.Exec(ctx, `
		UPDATE recipients SET status='failed', meta = meta || $2::jsonb WHERE id=$1
	`, id, meta)
	return err
}

// TransitionRecipient applies a forward-only status change and returns the
// replaced status. The row is locked first so the returned previous status is
// exactly the one the guarded update saw.
func (s *Store) TransitionRecipient(ctx context.Context, in store.Transition) (store.TransitionResult, error) {
	metaPatch := map[string]string{"last_updated": in.Now.Format(time.RFC3339)}
	if in.ProviderMsgID != "" {
		metaPatch["provider_msg_id"] = in.ProviderMsgID
	}
	meta, _ := json.Marshal(metaPatch)

	occurred := in.OccurredAt
	if occurred.IsZero() {
		occurred = in.Now
	}

	guard := fmt.Sprintf(statusRankSQL, "prev.status") + " < " + fmt.Sprintf(statusRankSQL, "$2")
	row := s.DB.QueryRow(ctx, `
		WITH prev AS (
			SELECT id, status FROM recipients WHERE id=$1 FOR UPDATE
		)
		UPDATE recipients r SET
			status = $2,
			meta = r.meta || $3::jsonb,
			delivered_at = CASE WHEN $2='delivered' AND r.delivered_at IS NULL THEN $4 ELSE r.delivered_at END,
			seen_at      = CASE WHEN $2='seen'      AND r.seen_at      IS NULL THEN $4 ELSE r.seen_at      END
		FROM prev
		WHERE r.id = prev.id AND ($2 = 'failed' OR `+guard+`)
		RETURNING prev.status
	`, in.RecipientID, string(in.NewStatus), meta, occurred)

	var prev string
	if err := row.Scan(&prev); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.TransitionResult{Applied: false}, nil
		}
		return store.TransitionResult{}, err
	}
	return store.TransitionResult{Applied: true, PrevStatus: domain.RecipientStatus(prev)}, nil
}

// AdjustStats moves one recipient between stats buckets. A single atomic
// update; the decrement clamps at zero so a stray event cannot push a bucket
// negative before the next recount heals it.
func (s *Store) AdjustStats(ctx context.Context, messageID string, from, to domain.RecipientStatus, now time.Time) error {
	fromCol, ok := statColumns[from]
	if !ok {
		return fmt.Errorf("unknown status %q", from)
	}
	toCol, ok := statColumns[to]
	if !ok {
		return fmt.Errorf("unknown status %q", to)
	}
	if fromCol == toCol {
		return nil
	}
	q := fmt.Sprintf(`
		UPDATE messages SET %s = GREATEST(%s - 1, 0), %s = %s + 1, updated_at=$2 WHERE id=$1
	`, fromCol, fromCol, toCol, toCol)
	_, err := s.DB.Exec(ctx, q, messageID, now)
	return err
}

// RecountStats rebuilds the full stats snapshot from the recipients table in
// one statement. This is the authoritative count; incremental adjustments
// converge to it after every batch.
func (s *Store) RecountStats(ctx context.Context, messageID string, now time.Time) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE messages m SET
			stats_queued    = c.queued,
			stats_sent      = c.sent,
			stats_delivered = c.delivered,
			stats_seen      = c.seen,
			stats_failed    = c.failed,
			stats_replied   = c.replied,
			updated_at      = $2
		FROM (
			SELECT
				COUNT(*) FILTER (WHERE status='queued')    AS queued,
				COUNT(*) FILTER (WHERE status='sent')      AS sent,
				COUNT(*) FILTER (WHERE status='delivered') AS delivered,
				COUNT(*) FILTER (WHERE status='seen')      AS seen,
				COUNT(*) FILTER (WHERE status='failed')    AS failed,
				COUNT(*) FILTER (WHERE COALESCE(reply_text,'') <> '') AS replied
			FROM recipients WHERE message_id=$1
		) c
		WHERE m.id=$1
	`, messageID, now)
	return err
}

func (s *Store) IncrementReplied(ctx context.Context, messageID string, now time.Time) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE messages SET stats_replied = stats_replied + 1, updated_at=$2 WHERE id=$1
	`, messageID, now)
	return err
}

// SetReply overwrites the recipient's reply (repeated replies win) and
// reports whether this was the first reply recorded.
func (s *Store) SetReply(ctx context.Context, recipientID, text string, at time.Time) (bool, error) {
	row := s.DB.QueryRow(ctx, `
		WITH prev AS (
			SELECT id, COALESCE(reply_text,'') AS reply_text FROM recipients WHERE id=$1 FOR UPDATE
		)
		UPDATE recipients r SET reply_text=$2, reply_at=$3
		FROM prev WHERE r.id = prev.id
		RETURNING prev.reply_text = ''
	`, recipientID, text, at)
	var first bool
	if err := row.Scan(&first); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return first, nil
}

func (s *Store) RecipientsByPhone(ctx context.Context, phone string) ([]store.Recipient, error) {
	rows, err := s.DB.Query(ctx, recipientSelect+` WHERE phone_number=$1`, phone)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRecipients(rows)
}

func (s *Store) ListRecipients(ctx context.Context, messageID string, limit, offset int) ([]store.Recipient, error) {
	rows, err := s.DB.Query(ctx,
		recipientSelect+` WHERE message_id=$1 ORDER BY created_at LIMIT $2 OFFSET $3`,
		messageID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRecipients(rows)
}

func (s *Store) CountRecipients(ctx context.Context, messageID string) (int, error) {
	var n int
	err := s.DB.QueryRow(ctx, `SELECT COUNT(*) FROM recipients WHERE message_id=$1`, messageID).Scan(&n)
	return n, err
}

const recipientSelect = `
	SELECT id, message_id, phone_number, status, meta,
	       COALESCE(reply_text,''), reply_at, delivered_at, seen_at, created_at
	FROM recipients`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecipient(row rowScanner) (store.Recipient, error) {
	var r store.Recipient
	var meta []byte
	err := row.Scan(&r.ID, &r.MessageID, &r.PhoneNumber, &r.Status, &meta,
		&r.ReplyText, &r.ReplyAt, &r.DeliveredAt, &r.SeenAt, &r.CreatedAt)
	if err != nil {
		return store.Recipient{}, err
	}
	_ = json.Unmarshal(meta, &r.Meta)
	return r, nil
}

func collectRecipients(rows pgx.Rows) ([]store.Recipient, error) {
	var out []store.Recipient
	for rows.Next() {
		r, err := scanRecipient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
