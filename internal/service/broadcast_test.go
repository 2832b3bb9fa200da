package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"broadcast/internal/domain"
	sqsqueue "broadcast/internal/queue/sqs"
	"broadcast/internal/store"
)

type fakeStore struct {
	businesses map[string]store.Business
	messages   map[string]*store.Message
	recipients []store.RecipientInsert
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		businesses: map[string]store.Business{
			"biz_1": {ID: "biz_1", Status: "active", TokenEncrypted: "enc", PhoneID: "555"},
			"biz_2": {ID: "biz_2", Status: "disabled"},
		},
		messages: map[string]*store.Message{},
	}
}

func (f *fakeStore) GetBusiness(ctx context.Context, id string) (store.Business, bool, error) {
	b, ok := f.businesses[id]
	return b, ok, nil
}

func (f *fakeStore) InsertMessage(ctx context.Context, in store.MessageInsert) error {
	f.messages[in.ID] = &store.Message{
		ID: in.ID, BusinessID: in.BusinessID, TotalRecipients: in.TotalRecipients, Status: "queued",
	}
	return nil
}

func (f *fakeStore) InsertRecipients(ctx context.Context, ins []store.RecipientInsert) error {
	f.recipients = append(f.recipients, ins...)
	return nil
}

func (f *fakeStore) MarkMessageStatus(ctx context.Context, id string, status domain.MessageStatus, lastError string, now time.Time) error {
	if m, ok := f.messages[id]; ok {
		m.Status = string(status)
		m.LastError = lastError
	}
	return nil
}

func (f *fakeStore) GetMessage(ctx context.Context, id string) (store.Message, bool, error) {
	m, ok := f.messages[id]
	if !ok {
		return store.Message{}, false, nil
	}
	return *m, true, nil
}

func (f *fakeStore) ListRecipients(ctx context.Context, messageID string, limit, offset int) ([]store.Recipient, error) {
	var out []store.Recipient
	for i, r := range f.recipients {
		if r.MessageID != messageID {
			continue
		}
		if i >= offset && len(out) < limit {
			out = append(out, store.Recipient{ID: r.ID, MessageID: r.MessageID, PhoneNumber: r.PhoneNumber})
		}
	}
	return out, nil
}

func (f *fakeStore) CountRecipients(ctx context.Context, messageID string) (int, error) {
	n := 0
	for _, r := range f.recipients {
		if r.MessageID == messageID {
			n++
		}
	}
	return n, nil
}

type fakeQueue struct {
	jobs []sqsqueue.DispatchJob
	err  error
}

func (q *fakeQueue) EnqueueDispatch(ctx context.Context, job sqsqueue.DispatchJob) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func newService(fs *fakeStore, q *fakeQueue) *BroadcastService {
	n := 0
	return &BroadcastService{
		Store:     fs,
		Queue:     q,
		MessageID: func() string { return "msg_1" },
		RecipientID: func() string {
			n++
			return "rcp_" + strings.Repeat("x", n)
		},
	}
}

func validReq() domain.CreateBroadcastRequest {
	return domain.CreateBroadcastRequest{
		BusinessID: "biz_1", UserID: "usr_1",
		MediaURL: "https://cdn/x.jpg", Title: "t", Body: "b",
	}
}

func TestCreateBroadcast(t *testing.T) {
	fs := newFakeStore()
	q := &fakeQueue{}
	svc := newService(fs, q)

	file := strings.NewReader("phone\n+14155552671\nnot-a-number\n+14155552671\n")
	resp, err := svc.Create(context.Background(), validReq(), file, "list.csv")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if resp.TotalRecipients != 1 {
		t.Fatalf("total recipients = %d, want 1 after dedup", resp.TotalRecipients)
	}
	if len(resp.ParsingErrors) != 1 {
		t.Fatalf("parsing errors = %v, want one diagnostic", resp.ParsingErrors)
	}
	if len(q.jobs) != 1 {
		t.Fatalf("expected one dispatch job, got %d", len(q.jobs))
	}
	job := q.jobs[0]
	if job.MessageID != "msg_1" || job.BusinessID != "biz_1" || len(job.RecipientIDs) != 1 {
		t.Fatalf("unexpected job %+v", job)
	}
	if fs.messages["msg_1"].TotalRecipients != 1 {
		t.Fatalf("message snapshot = %d, want 1", fs.messages["msg_1"].TotalRecipients)
	}
}

func TestCreateBroadcastNoValidNumbers(t *testing.T) {
	svc := newService(newFakeStore(), &fakeQueue{})

	file := strings.NewReader("phone\nnope\nalso-nope\n")
	_, err := svc.Create(context.Background(), validReq(), file, "list.csv")

	var nre *NoRecipientsError
	if !errors.As(err, &nre) {
		t.Fatalf("expected NoRecipientsError, got %v", err)
	}
	if len(nre.Diagnostics) != 2 {
		t.Fatalf("diagnostics = %v, want 2", nre.Diagnostics)
	}
}

func TestCreateBroadcastInactiveBusiness(t *testing.T) {
	svc := newService(newFakeStore(), &fakeQueue{})
	req := validReq()
	req.BusinessID = "biz_2"

	_, err := svc.Create(context.Background(), req, strings.NewReader("phone\n+14155552671\n"), "list.csv")
	if !errors.Is(err, domain.ErrBusinessInactive) {
		t.Fatalf("expected ErrBusinessInactive, got %v", err)
	}
}

func TestCreateBroadcastUnknownBusiness(t *testing.T) {
	svc := newService(newFakeStore(), &fakeQueue{})
	req := validReq()
	req.BusinessID = "biz_missing"

	_, err := svc.Create(context.Background(), req, strings.NewReader("phone\n+14155552671\n"), "list.csv")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateBroadcastEnqueueFailureMarksFailed(t *testing.T) {
	fs := newFakeStore()
	q := &fakeQueue{err: errors.New("sqs down")}
	svc := newService(fs, q)

	_, err := svc.Create(context.Background(), validReq(), strings.NewReader("phone\n+14155552671\n"), "list.csv")
	if err == nil {
		t.Fatal("expected enqueue error")
	}
	if fs.messages["msg_1"].Status != "failed" {
		t.Fatalf("message status = %s, want failed", fs.messages["msg_1"].Status)
	}
}

func TestListRecipientsPagination(t *testing.T) {
	fs := newFakeStore()
	q := &fakeQueue{}
	svc := newService(fs, q)

	file := strings.NewReader("phone\n+14155552671\n+442071838750\n+4915112345678\n")
	if _, err := svc.Create(context.Background(), validReq(), file, "list.csv"); err != nil {
		t.Fatalf("create: %v", err)
	}

	page, err := svc.ListRecipients(context.Background(), "msg_1", 1, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 3 || page.TotalPages != 2 || len(page.Recipients) != 2 {
		t.Fatalf("page = %+v", page)
	}
}
