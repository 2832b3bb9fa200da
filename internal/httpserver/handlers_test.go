package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"broadcast/internal/domain"
	sqsqueue "broadcast/internal/queue/sqs"
	"broadcast/internal/service"
	"broadcast/internal/store"
)

type apiStore struct {
	messages map[string]*store.Message
}

func newAPIStore() *apiStore {
	return &apiStore{messages: map[string]*store.Message{}}
}

func (s *apiStore) GetBusiness(ctx context.Context, id string) (store.Business, bool, error) {
	if id != "biz_1" {
		return store.Business{}, false, nil
	}
	return store.Business{ID: id, Status: "active", TokenEncrypted: "enc", PhoneID: "555"}, true, nil
}

func (s *apiStore) InsertMessage(ctx context.Context, in store.MessageInsert) error {
	s.messages[in.ID] = &store.Message{ID: in.ID, BusinessID: in.BusinessID, TotalRecipients: in.TotalRecipients, Status: "queued"}
	return nil
}

func (s *apiStore) InsertRecipients(ctx context.Context, ins []store.RecipientInsert) error {
	return nil
}

func (s *apiStore) MarkMessageStatus(ctx context.Context, id string, status domain.MessageStatus, lastError string, now time.Time) error {
	if m, ok := s.messages[id]; ok {
		m.Status = string(status)
	}
	return nil
}

func (s *apiStore) GetMessage(ctx context.Context, id string) (store.Message, bool, error) {
	m, ok := s.messages[id]
	if !ok {
		return store.Message{}, false, nil
	}
	return *m, true, nil
}

func (s *apiStore) ListRecipients(ctx context.Context, messageID string, limit, offset int) ([]store.Recipient, error) {
	return nil, nil
}

func (s *apiStore) CountRecipients(ctx context.Context, messageID string) (int, error) {
	return 0, nil
}

type apiQueue struct{}

func (apiQueue) EnqueueDispatch(ctx context.Context, job sqsqueue.DispatchJob) error { return nil }

func newTestAPI() *API {
	return &API{
		Svc: &service.BroadcastService{
			Store:       newAPIStore(),
			Queue:       apiQueue{},
			MessageID:   func() string { return "msg_1" },
			RecipientID: func() string { return "rcp_1" },
		},
		MaxUploadBytes: 1 << 20,
	}
}

func postBroadcast(t *testing.T, api *API, filename, contents string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range map[string]string{
		"business_id": "biz_1", "user_id": "usr_1", "title": "t", "body": "b",
	} {
		if err := w.WriteField(k, v); err != nil {
			t.Fatalf("write field %s: %v", k, err)
		}
	}
	fw, err := w.CreateFormFile("recipients_file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write([]byte(contents)); err != nil {
		t.Fatalf("write file: %v", err)
	}
	w.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/broadcasts", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()

	r := mux.NewRouter()
	api.Register(r)
	r.ServeHTTP(rec, req)
	return rec
}

func TestCreateBroadcastHandlerCreated(t *testing.T) {
	rec := postBroadcast(t, newTestAPI(), "list.csv", "phone\n+14155552671\n")
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	var resp domain.CreateBroadcastResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.MessageID != "msg_1" || resp.TotalRecipients != 1 {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestCreateBroadcastCorruptFileIsBadRequest(t *testing.T) {
	rec := postBroadcast(t, newTestAPI(), "list.csv", "phone\n\"unclosed quote\n+14155552671\n")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status for corrupt csv = %d, want 400: %s", rec.Code, rec.Body.String())
	}
}

func TestCreateBroadcastEmptyFileIsBadRequest(t *testing.T) {
	rec := postBroadcast(t, newTestAPI(), "list.csv", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status for empty file = %d, want 400: %s", rec.Code, rec.Body.String())
	}
}

func TestCreateBroadcastUnknownExtensionIsBadRequest(t *testing.T) {
	rec := postBroadcast(t, newTestAPI(), "list.pdf", "phone\n+14155552671\n")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status for unknown extension = %d, want 400: %s", rec.Code, rec.Body.String())
	}
}
