package notif

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"medichat/internal/common"
)

// Handler exposes a session's notification center over HTTP. The stream
// endpoint is what keeps the session (and its fan-out engine) alive:
// session lifetime is connection lifetime.
type Handler struct {
	hub *Hub
}

func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/notifications/stream", h.Stream).Methods(http.MethodGet)
	r.HandleFunc("/notifications", h.List).Methods(http.MethodGet)
	r.HandleFunc("/notifications/read-all", h.MarkAllRead).Methods(http.MethodPost)
	r.HandleFunc("/notifications/visibility", h.SetVisibility).Methods(http.MethodPost)
	r.HandleFunc("/notifications/{id}/read", h.MarkRead).Methods(http.MethodPost)
	r.HandleFunc("/notifications/{id}", h.Remove).Methods(http.MethodDelete)
	r.HandleFunc("/notifications", h.Clear).Methods(http.MethodDelete)
}

type streamObserver struct {
	name string
	ch   chan common.NotificationEvent
}

func (o *streamObserver) Name() string { return o.name }

func (o *streamObserver) Update(event common.NotificationEvent) error {
	select {
	case o.ch <- event:
	default:
		// A stalled client must not block the fan-out path.
	}
	return nil
}

// Stream is the SSE feed of a session's notifications. Opening the stream
// starts the user's fan-out engine; closing it releases the session, and
// the last close tears the engine down.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	claims, ok := common.IdentityFromContext(r.Context())
	if !ok {
		http.Error(w, "user not authenticated", http.StatusUnauthorized)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	session, err := h.hub.Acquire(claims.HospitalID, claims.UserID)
	if err != nil {
		log.Printf("failed to acquire notification session for %s: %v", claims.UserID, err)
		http.Error(w, "failed to start notification stream", http.StatusInternalServerError)
		return
	}
	defer h.hub.Release(claims.UserID)

	obs := &streamObserver{
		name: "sse-" + uuid.NewString(),
		ch:   make(chan common.NotificationEvent, 64),
	}
	session.Center.Subscribe(obs)
	defer session.Center.Unsubscribe(obs)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	for {
		select {
		case event := <-obs.ch:
			payload, err := json.Marshal(event.Notification)
			if err != nil {
				log.Printf("failed to marshal notification: %v", err)
				continue
			}
			fmt.Fprintf(w, "event: notification\ndata: %s\n\n", payload)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	claims, ok := common.IdentityFromContext(r.Context())
	if !ok {
		http.Error(w, "user not authenticated", http.StatusUnauthorized)
		return
	}

	type response struct {
		Notifications []common.Notification `json:"notifications"`
		Unread        int                   `json:"unread"`
	}

	session, ok := h.hub.Get(claims.UserID)
	if !ok {
		// No live session means nothing has been collected yet.
		writeJSON(w, http.StatusOK, response{Notifications: []common.Notification{}})
		return
	}

	writeJSON(w, http.StatusOK, response{
		Notifications: session.Center.List(),
		Unread:        session.Center.Unread(),
	})
}

func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	claims, ok := common.IdentityFromContext(r.Context())
	if !ok {
		http.Error(w, "user not authenticated", http.StatusUnauthorized)
		return
	}

	session, ok := h.hub.Get(claims.UserID)
	if !ok {
		http.Error(w, "no active session", http.StatusNotFound)
		return
	}

	if !session.Center.MarkRead(mux.Vars(r)["id"]) {
		http.Error(w, "notification not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"unread": session.Center.Unread()})
}

func (h *Handler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	claims, ok := common.IdentityFromContext(r.Context())
	if !ok {
		http.Error(w, "user not authenticated", http.StatusUnauthorized)
		return
	}

	if session, ok := h.hub.Get(claims.UserID); ok {
		session.Center.MarkAllRead()
	}
	writeJSON(w, http.StatusOK, map[string]int{"unread": 0})
}

func (h *Handler) Remove(w http.ResponseWriter, r *http.Request) {
	claims, ok := common.IdentityFromContext(r.Context())
	if !ok {
		http.Error(w, "user not authenticated", http.StatusUnauthorized)
		return
	}

	if session, ok := h.hub.Get(claims.UserID); ok {
		session.Center.Remove(mux.Vars(r)["id"])
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Clear(w http.ResponseWriter, r *http.Request) {
	claims, ok := common.IdentityFromContext(r.Context())
	if !ok {
		http.Error(w, "user not authenticated", http.StatusUnauthorized)
		return
	}

	if session, ok := h.hub.Get(claims.UserID); ok {
		session.Center.Clear()
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetVisibility mirrors the dashboard tab's visibility into the session so
// the observers can pick between toast and OS notification.
func (h *Handler) SetVisibility(w http.ResponseWriter, r *http.Request) {
	claims, ok := common.IdentityFromContext(r.Context())
	if !ok {
		http.Error(w, "user not authenticated", http.StatusUnauthorized)
		return
	}

	var body struct {
		Visible bool `json:"visible"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if session, ok := h.hub.Get(claims.UserID); ok {
		session.Center.SetVisible(body.Visible)
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}
