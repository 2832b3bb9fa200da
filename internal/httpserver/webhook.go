package httpserver

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"broadcast/internal/providers/whatsapp"
	"broadcast/internal/reconciler"
)

// Webhook is the provider callback surface: a GET verification handshake and
// a signed POST carrying reply and delivery-status events.
type Webhook struct {
	Reconciler  *reconciler.Reconciler
	VerifyToken string
	AppSecret   string
}

func (h *Webhook) Register(r *mux.Router) {
	r.HandleFunc("/webhook", h.handleVerify).Methods(http.MethodGet)
	r.HandleFunc("/webhook", h.handleEvents).Methods(http.MethodPost)
}

// handleVerify echoes the challenge only when the verification token matches.
func (h *Webhook) handleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("mode") == "subscribe" && h.VerifyToken != "" && q.Get("verify_token") == h.VerifyToken {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(q.Get("challenge")))
		return
	}
	slog.Warn("webhook verification failed", "mode", q.Get("mode"))
	http.Error(w, ErrForbidden, http.StatusForbidden)
}

func (h *Webhook) handleEvents(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil || len(body) == 0 {
		http.Error(w, ErrInvalidBody, http.StatusBadRequest)
		return
	}

	// Signature is computed over the raw body; never process unverified payloads.
	if !whatsapp.VerifySignature(h.AppSecret, body, r.Header.Get("X-Signature-256")) {
		slog.Warn("webhook signature rejected", "remote", r.RemoteAddr)
		http.Error(w, ErrInvalidSignature, http.StatusForbidden)
		return
	}

	var n reconciler.Notification
	if err := json.Unmarshal(body, &n); err != nil {
		http.Error(w, ErrInvalidBody, http.StatusBadRequest)
		return
	}

	// Accepted even if individual events fail to apply; the provider should
	// not redeliver a payload we have already seen.
	h.Reconciler.Apply(r.Context(), n)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
