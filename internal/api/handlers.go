package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/LeventeLantos/message-scheduler/internal/channel"
	"github.com/LeventeLantos/message-scheduler/internal/dispatch"
	"github.com/LeventeLantos/message-scheduler/internal/model"
	"github.com/LeventeLantos/message-scheduler/internal/store"
)

type Handler struct {
	store    store.Store
	disp     *dispatch.Dispatcher
	whatsapp *channel.WhatsAppClient
}

func NewHandler(st store.Store, d *dispatch.Dispatcher, wa *channel.WhatsAppClient) *Handler {
	return &Handler{store: st, disp: d, whatsapp: wa}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type scheduleMessageRequest struct {
	GroupID  string `json:"group_id"`
	Text     string `json:"text"`
	Datetime string `json:"datetime"`
}

func (h *Handler) ScheduleMessage(w http.ResponseWriter, r *http.Request) {
	var req scheduleMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.GroupID == "" || req.Text == "" || req.Datetime == "" {
		writeError(w, http.StatusBadRequest, "required fields: group_id, text, datetime")
		return
	}

	when, err := parseDatetime(req.Datetime)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.createSchedule(w, r, &model.Schedule{
		ID:          uuid.NewString(),
		Kind:        model.KindWhatsAppText,
		Recipient:   req.GroupID,
		Text:        req.Text,
		ScheduledAt: when,
	})
}

type scheduleVideoRequest struct {
	GroupID  string `json:"group_id"`
	VideoURL string `json:"video_url"`
	Caption  string `json:"caption"`
	Datetime string `json:"datetime"`
}

func (h *Handler) ScheduleVideo(w http.ResponseWriter, r *http.Request) {
	var req scheduleVideoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.GroupID == "" || req.VideoURL == "" || req.Datetime == "" {
		writeError(w, http.StatusBadRequest, "required fields: group_id, video_url, datetime")
		return
	}

	when, err := parseDatetime(req.Datetime)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.createSchedule(w, r, &model.Schedule{
		ID:          uuid.NewString(),
		Kind:        model.KindWhatsAppVideo,
		Recipient:   req.GroupID,
		MediaURL:    req.VideoURL,
		Caption:     req.Caption,
		ScheduledAt: when,
	})
}

type scheduleEmailRequest struct {
	Email    string `json:"email"`
	Subject  string `json:"subject"`
	Text     string `json:"text"`
	Datetime string `json:"datetime"`
}

func (h *Handler) ScheduleEmail(w http.ResponseWriter, r *http.Request) {
	var req scheduleEmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.Email == "" || req.Subject == "" || req.Text == "" || req.Datetime == "" {
		writeError(w, http.StatusBadRequest, "required fields: email, subject, text, datetime")
		return
	}

	when, err := parseDatetime(req.Datetime)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.createSchedule(w, r, &model.Schedule{
		ID:          uuid.NewString(),
		Kind:        model.KindEmail,
		Recipient:   req.Email,
		Subject:     req.Subject,
		Text:        req.Text,
		ScheduledAt: when,
	})
}

func (h *Handler) createSchedule(w http.ResponseWriter, r *http.Request, sc *model.Schedule) {
	if err := h.store.Create(r.Context(), sc); err != nil {
		if errors.Is(err, store.ErrNotFuture) {
			writeError(w, http.StatusBadRequest, "scheduled time must be in the future")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"success":        true,
		"id":             sc.ID,
		"scheduled_time": sc.ScheduledAt.Format(time.RFC3339),
	})
}

type scheduleItem struct {
	ID            string  `json:"id"`
	Kind          string  `json:"kind"`
	Recipient     string  `json:"recipient"`
	Text          string  `json:"text,omitempty"`
	MediaURL      string  `json:"media_url,omitempty"`
	Caption       string  `json:"caption,omitempty"`
	Subject       string  `json:"subject,omitempty"`
	ScheduledTime string  `json:"scheduled_time"`
	Status        string  `json:"status"`
	AttemptCount  int     `json:"attempt_count"`
	LastError     *string `json:"last_error,omitempty"`
	CreatedAt     string  `json:"created_at"`
}

func (h *Handler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	filter := store.ListFilter{
		Status: model.Status(r.URL.Query().Get("status")),
		Limit:  parseInt(r.URL.Query().Get("limit"), 50),
		Offset: parseInt(r.URL.Query().Get("offset"), 0),
	}

	schedules, err := h.store.List(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	items := make([]scheduleItem, 0, len(schedules))
	for _, sc := range schedules {
		items = append(items, scheduleItem{
			ID:            sc.ID,
			Kind:          string(sc.Kind),
			Recipient:     sc.Recipient,
			Text:          sc.Text,
			MediaURL:      sc.MediaURL,
			Caption:       sc.Caption,
			Subject:       sc.Subject,
			ScheduledTime: sc.ScheduledAt.Format(time.RFC3339),
			Status:        string(sc.Status),
			AttemptCount:  sc.AttemptCount,
			LastError:     sc.LastError,
			CreatedAt:     sc.CreatedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": len(items)})
}

func (h *Handler) CancelSchedule(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	err := h.store.Cancel(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "schedule not found")
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, "schedule is no longer pending")
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	}
}

func (h *Handler) WhatsAppStatus(w http.ResponseWriter, r *http.Request) {
	ready, err := h.whatsapp.Status(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"whatsapp_ready": ready})
}

func (h *Handler) WhatsAppChats(w http.ResponseWriter, r *http.Request) {
	chats, err := h.whatsapp.Chats(r.Context())
	if err != nil {
		if channel.KindOf(err) == channel.KindNotReady {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chats": chats, "total": len(chats)})
}

func (h *Handler) WhatsAppQR(w http.ResponseWriter, r *http.Request) {
	qr, err := h.whatsapp.QR(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"qr": qr})
}

func (h *Handler) DispatcherStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"running": h.disp.IsRunning()})
}

func (h *Handler) DispatcherStart(w http.ResponseWriter, r *http.Request) {
	h.disp.Start()
	writeJSON(w, http.StatusOK, map[string]any{"running": h.disp.IsRunning()})
}

func (h *Handler) DispatcherStop(w http.ResponseWriter, r *http.Request) {
	h.disp.Stop()
	writeJSON(w, http.StatusOK, map[string]any{"running": h.disp.IsRunning()})
}

// parseDatetime accepts RFC 3339 or the form-friendly "2006-01-02 15:04"
// (interpreted in server-local time).
func parseDatetime(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02 15:04", raw, time.Local); err == nil {
		return t, nil
	}
	return time.Time{}, errors.New("invalid datetime, use RFC3339 or YYYY-MM-DD HH:MM")
}

func parseInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
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

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}
