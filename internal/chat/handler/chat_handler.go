package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"medichat/internal/chat/service"
	"medichat/internal/common"
	"medichat/internal/dbmongo"
	"medichat/internal/identity"
)

// ChatHandler is the HTTP surface of the message channel. Every route runs
// behind the auth middleware, so the hospital scope and caller identity
// come from the token claims, never from the request body.
type ChatHandler struct {
	service  service.ChatService
	resolver identity.Resolver
}

func NewChatHandler(svc service.ChatService, resolver identity.Resolver) *ChatHandler {
	return &ChatHandler{service: svc, resolver: resolver}
}

// RegisterRoutes mounts the chat routes. sendLimit, when non-nil, wraps the
// send endpoint only; reads and streams are never throttled.
func (h *ChatHandler) RegisterRoutes(r *mux.Router, sendLimit func(http.Handler) http.Handler) {
	r.HandleFunc("/contacts", h.ListContacts).Methods(http.MethodGet)
	r.HandleFunc("/conversations", h.ListConversations).Methods(http.MethodGet)
	r.HandleFunc("/conversations/{userID}", h.OpenConversation).Methods(http.MethodPost)
	r.HandleFunc("/conversations/{id}/messages", h.History).Methods(http.MethodGet)

	send := http.Handler(http.HandlerFunc(h.Send))
	if sendLimit != nil {
		send = sendLimit(send)
	}
	r.Handle("/conversations/{id}/messages", send).Methods(http.MethodPost)

	r.HandleFunc("/conversations/{id}/read", h.MarkRead).Methods(http.MethodPost)
	r.HandleFunc("/conversations/{id}/stream", h.Stream).Methods(http.MethodGet)
	r.HandleFunc("/stats", h.Stats).Methods(http.MethodGet)
}

// conversationView is a conversation decorated with the other participant's
// resolved profile and the caller's own unread count.
type conversationView struct {
	*dbmongo.Conversation
	Other  *common.Participant `json:"other"`
	Unread int64               `json:"unread"`
}

func (h *ChatHandler) ListContacts(w http.ResponseWriter, r *http.Request) {
	claims, ok := common.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "user not authenticated")
		return
	}

	contacts, err := h.resolver.ListContacts(r.Context(), claims.HospitalID, claims.UserID)
	if err != nil {
		log.Printf("failed to list contacts for %s: %v", claims.UserID, err)
		writeError(w, http.StatusInternalServerError, "failed to list contacts")
		return
	}
	if contacts == nil {
		contacts = []*common.Participant{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"contacts": contacts})
}

func (h *ChatHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	claims, ok := common.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "user not authenticated")
		return
	}

	conversations, err := h.service.ListConversations(r.Context(), claims.HospitalID, claims.UserID)
	if err != nil {
		log.Printf("failed to list conversations for %s: %v", claims.UserID, err)
		writeError(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}

	views := make([]conversationView, 0, len(conversations))
	for _, conv := range conversations {
		views = append(views, conversationView{
			Conversation: conv,
			Other:        h.resolveOther(r, claims.HospitalID, conv.OtherParticipant(claims.UserID)),
			Unread:       conv.UnreadCount[claims.UserID],
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"conversations": views})
}

// OpenConversation finds or creates the conversation between the caller and
// the target user. Repeated calls, from either side, land on the same
// conversation document.
func (h *ChatHandler) OpenConversation(w http.ResponseWriter, r *http.Request) {
	claims, ok := common.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "user not authenticated")
		return
	}
	otherID := mux.Vars(r)["userID"]

	other, err := h.resolver.Resolve(r.Context(), claims.HospitalID, otherID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		log.Printf("failed to resolve user %s: %v", otherID, err)
		writeError(w, http.StatusInternalServerError, "failed to resolve user")
		return
	}

	conv, err := h.service.OpenConversation(r.Context(), claims.HospitalID, claims.UserID, otherID)
	if err != nil {
		if errors.Is(err, service.ErrMissingParticipant) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Printf("failed to open conversation with %s: %v", otherID, err)
		writeError(w, http.StatusInternalServerError, "failed to open conversation")
		return
	}

	writeJSON(w, http.StatusOK, conversationView{
		Conversation: conv,
		Other:        other,
		Unread:       conv.UnreadCount[claims.UserID],
	})
}

func (h *ChatHandler) History(w http.ResponseWriter, r *http.Request) {
	claims, ok := common.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "user not authenticated")
		return
	}

	messages, err := h.service.History(r.Context(), claims.HospitalID, mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		log.Printf("failed to load history: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	if messages == nil {
		messages = []*dbmongo.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": messages})
}

type sendRequest struct {
	Text      string `json:"text"`
	ClientKey string `json:"client_key"`
}

func (h *ChatHandler) Send(w http.ResponseWriter, r *http.Request) {
	claims, ok := common.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "user not authenticated")
		return
	}

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	msg, err := h.service.Send(r.Context(), service.SendInput{
		HospitalID:     claims.HospitalID,
		ConversationID: mux.Vars(r)["id"],
		SenderID:       claims.UserID,
		SenderName:     claims.Name,
		Text:           req.Text,
		ClientKey:      req.ClientKey,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrEmptyMessage),
			errors.Is(err, service.ErrMissingSender):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrNotParticipant):
			writeError(w, http.StatusForbidden, err.Error())
		case errors.Is(err, common.ErrNotFound):
			writeError(w, http.StatusNotFound, "conversation not found")
		case errors.Is(err, service.ErrSummaryStale):
			// The message may be stored; the client retries with the same
			// client key and the append dedupes.
			log.Printf("send partially failed: %v", err)
			writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
				"error":      "failed to send message, please retry",
				"client_key": msg.ClientKey,
			})
		default:
			log.Printf("failed to send message: %v", err)
			writeError(w, http.StatusInternalServerError, "failed to send message")
		}
		return
	}

	writeJSON(w, http.StatusCreated, msg)
}

func (h *ChatHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	claims, ok := common.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "user not authenticated")
		return
	}

	err := h.service.MarkRead(r.Context(), claims.HospitalID, mux.Vars(r)["id"], claims.UserID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		log.Printf("failed to mark conversation read: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to mark conversation read")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Stream delivers a conversation's messages over SSE: the stored history
// first, then live messages as they are appended.
func (h *ChatHandler) Stream(w http.ResponseWriter, r *http.Request) {
	claims, ok := common.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "user not authenticated")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	conversationID := mux.Vars(r)["id"]
	ch, err := h.service.Subscribe(r.Context(), claims.HospitalID, conversationID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		log.Printf("failed to subscribe to conversation %s: %v", conversationID, err)
		writeError(w, http.StatusInternalServerError, "failed to open message stream")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(msg)
			if err != nil {
				log.Printf("failed to marshal message: %v", err)
				continue
			}
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", payload)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func (h *ChatHandler) Stats(w http.ResponseWriter, r *http.Request) {
	claims, ok := common.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "user not authenticated")
		return
	}

	stats, err := h.service.Stats(r.Context(), claims.HospitalID, claims.UserID)
	if err != nil {
		log.Printf("failed to compute message stats for %s: %v", claims.UserID, err)
		writeError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// resolveOther looks up the other participant's profile and falls back to a
// placeholder when the directory has no record. A resolver miss never fails
// the request.
func (h *ChatHandler) resolveOther(r *http.Request, hospitalID, otherID string) *common.Participant {
	other, err := h.resolver.Resolve(r.Context(), hospitalID, otherID)
	if err != nil {
		if !errors.Is(err, common.ErrNotFound) {
			log.Printf("failed to resolve participant %s: %v", otherID, err)
		}
		return &common.Participant{ID: otherID, Name: "Unknown User"}
	}
	return other
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
