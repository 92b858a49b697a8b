package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medichat/internal/chat/repository"
	"medichat/internal/chat/service"
	"medichat/internal/common"
	"medichat/internal/dbmongo"
	"medichat/internal/identity"
)

func newTestRouter(t *testing.T) (*mux.Router, *repository.MemoryStore) {
	t.Helper()
	store := repository.NewMemoryStore()
	svc := service.NewChatService(
		repository.MemoryConversations{MemoryStore: store},
		repository.MemoryMessages{MemoryStore: store},
	)
	resolver := &identity.MemoryResolver{
		Doctors: []dbmongo.Doctor{
			{ID: "alice", HospitalID: "hosp1", AuthUID: "alice", Name: "Dr. Alice"},
			{ID: "bob", HospitalID: "hosp1", AuthUID: "bob", Name: "Dr. Bob"},
		},
		Patients: []dbmongo.Patient{
			{ID: "paula", HospitalID: "hosp1", Name: "Paula"},
		},
	}

	r := mux.NewRouter()
	NewChatHandler(svc, resolver).RegisterRoutes(r, nil)
	return r, store
}

func doRequest(t *testing.T, r *mux.Router, userID, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req = req.WithContext(common.ContextWithIdentity(req.Context(), &common.Claims{
		UserID:     userID,
		HospitalID: "hosp1",
		Name:       "Dr. " + userID,
		Role:       "doctor",
	}))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestListContacts(t *testing.T) {
	r, _ := newTestRouter(t)

	rec := doRequest(t, r, "alice", http.MethodGet, "/contacts", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Contacts []common.Participant `json:"contacts"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Contacts, 2)
	assert.Equal(t, "Dr. Bob", resp.Contacts[0].Name)
	assert.Equal(t, "Paula", resp.Contacts[1].Name)
}

func TestOpenConversation(t *testing.T) {
	r, _ := newTestRouter(t)

	rec := doRequest(t, r, "alice", http.MethodPost, "/conversations/bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		ID     string              `json:"id"`
		Other  *common.Participant `json:"other"`
		Unread int64               `json:"unread"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "alice_bob", resp.ID)
	require.NotNil(t, resp.Other)
	assert.Equal(t, "Dr. Bob", resp.Other.Name)
	assert.Equal(t, int64(0), resp.Unread)

	// Opening from the other side returns the same conversation.
	rec = doRequest(t, r, "bob", http.MethodPost, "/conversations/alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "alice_bob", resp.ID)
}

func TestOpenConversation_UnknownUser(t *testing.T) {
	r, _ := newTestRouter(t)

	rec := doRequest(t, r, "alice", http.MethodPost, "/conversations/nobody", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSendAndHistory(t *testing.T) {
	r, _ := newTestRouter(t)

	rec := doRequest(t, r, "alice", http.MethodPost, "/conversations/bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, r, "alice", http.MethodPost, "/conversations/alice_bob/messages", map[string]string{"text": "Hello"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var msg dbmongo.Message
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&msg))
	assert.Equal(t, "Hello", msg.Text)
	assert.Equal(t, "alice", msg.SenderID)
	assert.NotEmpty(t, msg.ClientKey)

	rec = doRequest(t, r, "bob", http.MethodGet, "/conversations/alice_bob/messages", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var hist struct {
		Messages []dbmongo.Message `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&hist))
	require.Len(t, hist.Messages, 1)
	assert.Equal(t, "Hello", hist.Messages[0].Text)
}

func TestSend_RetryWithClientKeyDoesNotDuplicate(t *testing.T) {
	r, _ := newTestRouter(t)

	doRequest(t, r, "alice", http.MethodPost, "/conversations/bob", nil)

	body := map[string]string{"text": "Hello", "client_key": "key-1"}
	rec := doRequest(t, r, "alice", http.MethodPost, "/conversations/alice_bob/messages", body)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = doRequest(t, r, "alice", http.MethodPost, "/conversations/alice_bob/messages", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, r, "alice", http.MethodGet, "/conversations/alice_bob/messages", nil)
	var hist struct {
		Messages []dbmongo.Message `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&hist))
	assert.Len(t, hist.Messages, 1)
}

func TestSend_Validation(t *testing.T) {
	r, _ := newTestRouter(t)

	doRequest(t, r, "alice", http.MethodPost, "/conversations/bob", nil)

	rec := doRequest(t, r, "alice", http.MethodPost, "/conversations/alice_bob/messages", map[string]string{"text": "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, r, "alice", http.MethodPost, "/conversations/nope/messages", map[string]string{"text": "hi"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Not a participant of someone else's conversation.
	rec = doRequest(t, r, "paula", http.MethodPost, "/conversations/alice_bob/messages", map[string]string{"text": "hi"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestListConversations(t *testing.T) {
	r, _ := newTestRouter(t)

	doRequest(t, r, "alice", http.MethodPost, "/conversations/bob", nil)
	doRequest(t, r, "alice", http.MethodPost, "/conversations/alice_bob/messages", map[string]string{"text": "Hello"})

	rec := doRequest(t, r, "bob", http.MethodGet, "/conversations", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Conversations []struct {
			ID          string              `json:"id"`
			LastMessage string              `json:"last_message"`
			Other       *common.Participant `json:"other"`
			Unread      int64               `json:"unread"`
		} `json:"conversations"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Conversations, 1)
	assert.Equal(t, "alice_bob", resp.Conversations[0].ID)
	assert.Equal(t, "Hello", resp.Conversations[0].LastMessage)
	assert.Equal(t, int64(1), resp.Conversations[0].Unread)
	require.NotNil(t, resp.Conversations[0].Other)
	assert.Equal(t, "Dr. Alice", resp.Conversations[0].Other.Name)
}

func TestMarkRead(t *testing.T) {
	r, store := newTestRouter(t)

	doRequest(t, r, "alice", http.MethodPost, "/conversations/bob", nil)
	doRequest(t, r, "alice", http.MethodPost, "/conversations/alice_bob/messages", map[string]string{"text": "Hello"})

	rec := doRequest(t, r, "bob", http.MethodPost, "/conversations/alice_bob/read", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	conv, err := store.Get(context.Background(), "hosp1", "alice_bob")
	require.NoError(t, err)
	assert.Equal(t, int64(0), conv.UnreadCount["bob"])
}

func TestStats(t *testing.T) {
	r, _ := newTestRouter(t)

	doRequest(t, r, "alice", http.MethodPost, "/conversations/bob", nil)
	doRequest(t, r, "alice", http.MethodPost, "/conversations/alice_bob/messages", map[string]string{"text": "one"})
	doRequest(t, r, "bob", http.MethodPost, "/conversations/alice_bob/messages", map[string]string{"text": "two"})

	rec := doRequest(t, r, "alice", http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats repository.MessageStats
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&stats))
	assert.Equal(t, int64(1), stats.Sent)
	assert.Equal(t, int64(1), stats.Received)
}
