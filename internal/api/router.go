package api

import "net/http"

func Router(h *Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health)

	mux.HandleFunc("POST /schedule/message", h.ScheduleMessage)
	mux.HandleFunc("POST /schedule/video", h.ScheduleVideo)
	mux.HandleFunc("POST /schedule/email", h.ScheduleEmail)

	mux.HandleFunc("GET /schedules", h.ListSchedules)
	mux.HandleFunc("DELETE /schedules/{id}", h.CancelSchedule)

	mux.HandleFunc("GET /whatsapp/status", h.WhatsAppStatus)
	mux.HandleFunc("GET /whatsapp/chats", h.WhatsAppChats)
	mux.HandleFunc("GET /whatsapp/qr", h.WhatsAppQR)

	mux.HandleFunc("GET /dispatcher/status", h.DispatcherStatus)
	mux.HandleFunc("POST /dispatcher/start", h.DispatcherStart)
	mux.HandleFunc("POST /dispatcher/stop", h.DispatcherStop)

	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("message-scheduler"))
	})

	return mux
}
