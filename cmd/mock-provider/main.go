// mock-provider is a stand-in for the WhatsApp Cloud API used in local and
// integration environments. It accepts sends, scripts outcomes per request and
// can emit signed status callbacks to the webhook service.
package main

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/kelseyhightower/envconfig"
)

type config struct {
	Port        string `envconfig:"PORT" default:"8080"`
	OutcomesRaw string `envconfig:"MOCK_OUTCOMES" default:"ok"`
	DelayMs     int    `envconfig:"MOCK_DELAY_MS" default:"0"`
	TimeoutMs   int    `envconfig:"MOCK_TIMEOUT_DELAY_MS" default:"12000"`

	// Status callback emission; disabled when URL is empty.
	WebhookURL     string `envconfig:"MOCK_WEBHOOK_URL" default:""`
	AppSecret      string `envconfig:"APP_SECRET" default:""`
	WebhookDelayMs int    `envconfig:"MOCK_WEBHOOK_DELAY_MS" default:"300"`

	Outcomes []string
}

type sendPayload struct {
	To   string `json:"to"`
	Type string `json:"type"`
}

type server struct {
	cfg    config
	seq    uint64
	idx    uint64
	client *http.Client
}

func main() {
	var cfg config
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	cfg.Outcomes = strings.Split(cfg.OutcomesRaw, ",")

	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	slog.SetDefault(slog.New(h).With("service", "mock-provider"))

	s := &server{cfg: cfg, client: &http.Client{Timeout: 5 * time.Second}}

	router := mux.NewRouter()
	router.HandleFunc("/{phone_id}/messages", s.handleSend).Methods(http.MethodPost)

	slog.Info("mock provider listening", "port", cfg.Port, "outcomes", cfg.OutcomesRaw)
	if err := http.ListenAndServe(":"+cfg.Port, router); err != nil {
		slog.Error("mock provider server failed", "err", err)
		os.Exit(1)
	}
}

// nextOutcome cycles through the scripted outcome list. Supported entries:
// ok, rate_limited[:retry-after-secs], error, timeout.
func (s *server) nextOutcome() string {
	n := atomic.AddUint64(&s.idx, 1)
	return strings.TrimSpace(s.cfg.Outcomes[int(n-1)%len(s.cfg.Outcomes)])
}

func (s *server) handleSend(w http.ResponseWriter, r *http.Request) {
	if s.cfg.DelayMs > 0 {
		time.Sleep(time.Duration(s.cfg.DelayMs) * time.Millisecond)
	}

	var p sendPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil || p.To == "" {
		writeJSON(w, 400, map[string]any{"error": map[string]any{"message": "invalid payload", "code": 100}})
		return
	}

	outcome := s.nextOutcome()
	switch {
	case outcome == "timeout":
		time.Sleep(time.Duration(s.cfg.TimeoutMs) * time.Millisecond)
		writeJSON(w, 500, map[string]any{"error": map[string]any{"message": "upstream timeout", "code": 1}})
	case strings.HasPrefix(outcome, "rate_limited"):
		retryAfter := "60"
		if _, v, ok := strings.Cut(outcome, ":"); ok {
			retryAfter = v
		}
		w.Header().Set("Retry-After", retryAfter)
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error": map[string]any{"message": "rate limit hit", "code": 130429},
		})
	case outcome == "error":
		writeJSON(w, 500, map[string]any{"error": map[string]any{"message": "internal provider error", "code": 131000}})
	default:
		id := fmt.Sprintf("wamid.mock-%d", atomic.AddUint64(&s.seq, 1))
		slog.Info("mock send ok", "to", p.To, "id", id, "type", p.Type)
		writeJSON(w, 200, map[string]any{
			"messaging_product": "whatsapp",
			"contacts":          []map[string]string{{"input": p.To, "wa_id": strings.TrimPrefix(p.To, "+")}},
			"messages":          []map[string]string{{"id": id}},
		})
		if s.cfg.WebhookURL != "" {
			go s.emitStatuses(p.To, id)
		}
	}
}

// emitStatuses walks a message through sent, delivered and read callbacks with
// a fixed delay between each, mimicking provider delivery receipts.
func (s *server) emitStatuses(to, msgID string) {
	wa := strings.TrimPrefix(to, "+")
	for _, status := range []string{"sent", "delivered", "read"} {
		time.Sleep(time.Duration(s.cfg.WebhookDelayMs) * time.Millisecond)

		payload := map[string]any{
			"object": "whatsapp_business_account",
			"entry": []map[string]any{{
				"id": "mock-entry",
				"changes": []map[string]any{{
					"field": "messages",
					"value": map[string]any{
						"statuses": []map[string]any{{
							"id":           msgID,
							"recipient_id": wa,
							"status":       status,
							"timestamp":    strconv.FormatInt(time.Now().Unix(), 10),
						}},
					},
				}},
			}},
		}
		body, _ := json.Marshal(payload)

		req, err := http.NewRequest(http.MethodPost, s.cfg.WebhookURL, bytes.NewReader(body))
		if err != nil {
			slog.Error("webhook request build failed", "err", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Signature-256", sign(s.cfg.AppSecret, body))

		resp, err := s.client.Do(req)
		if err != nil {
			slog.Error("webhook callback failed", "err", err, "status", status)
			continue
		}
		resp.Body.Close()
		slog.Info("webhook callback delivered", "to", wa, "status", status, "http", resp.StatusCode)
	}
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
