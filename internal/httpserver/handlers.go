package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"broadcast/internal/domain"
	"broadcast/internal/service"
)

type API struct {
	Svc            *service.BroadcastService
	MaxUploadBytes int64
}

func (a *API) Register(r *mux.Router) {
	r.HandleFunc("/v1/broadcasts", a.handleCreateBroadcast).Methods(http.MethodPost)
	r.HandleFunc("/v1/broadcasts/{id}", a.handleGetBroadcast).Methods(http.MethodGet)
	r.HandleFunc("/v1/broadcasts/{id}/recipients", a.handleListRecipients).Methods(http.MethodGet)
}

func (a *API) handleCreateBroadcast(w http.ResponseWriter, r *http.Request) {
	if a.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, a.MaxUploadBytes)
	}
	if err := r.ParseMultipartForm(a.MaxUploadBytes); err != nil {
		http.Error(w, ErrInvalidBody, http.StatusBadRequest)
		return
	}

	req := domain.CreateBroadcastRequest{
		BusinessID: r.FormValue("business_id"),
		TaskID:     r.FormValue("task_id"),
		UserID:     r.FormValue("user_id"),
		MediaURL:   r.FormValue("media_url"),
		Title:      r.FormValue("title"),
		Body:       r.FormValue("body"),
	}

	file, hdr, err := r.FormFile("recipients_file")
	if err != nil {
		http.Error(w, ErrMissingFile, http.StatusBadRequest)
		return
	}
	defer file.Close()

	resp, err := a.Svc.Create(r.Context(), req, file, hdr.Filename)
	if err != nil {
		a.writeCreateError(w, r, req, err)
		return
	}

	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) writeCreateError(w http.ResponseWriter, r *http.Request, req domain.CreateBroadcastRequest, err error) {
	var nre *service.NoRecipientsError
	switch {
	case errors.As(err, &nre):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":         err.Error(),
			"parsingErrors": nre.Diagnostics,
		})
	case errors.Is(err, domain.ErrMissingFields), errors.Is(err, domain.ErrBusinessInactive),
		errors.Is(err, domain.ErrUnsupportedUpload), errors.Is(err, domain.ErrUnreadableFile):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		slog.Error("create broadcast failed", "err", err, "business_id", req.BusinessID)
		http.Error(w, ErrDependency, http.StatusBadGateway)
	}
}

func (a *API) handleGetBroadcast(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if id == "" {
		http.Error(w, ErrMissingID, http.StatusBadRequest)
		return
	}
	msg, found, err := a.Svc.GetBroadcast(r.Context(), id)
	if err != nil {
		slog.Error("get broadcast failed", "err", err, "id", id)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	if !found {
		http.Error(w, ErrNotFound, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (a *API) handleListRecipients(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	page := intQuery(r, "page", 1)
	perPage := intQuery(r, "per_page", 50)

	res, err := a.Svc.ListRecipients(r.Context(), id, page, perPage)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			http.Error(w, ErrNotFound, http.StatusNotFound)
			return
		}
		slog.Error("list recipients failed", "err", err, "id", id)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func intQuery(r *http.Request, name string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
