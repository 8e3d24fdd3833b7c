package restapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fundihub/fundichat/internal/domain"
	"github.com/fundihub/fundichat/internal/wire"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := NewClient(slog.New(slog.NewTextHandler(io.Discard, nil)), srv.URL+"/api/", time.Second)
	c.SetToken("secret")

	return c
}

func writeEnvelope(t *testing.T, w http.ResponseWriter, status int, data any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(map[string]any{"success": true, "data": data}))
}

func TestSendMessage_PostsPayloadAndReturnsPersistedCopy(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/chat/messages", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var in wire.MessagePayload
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "c-1", in.ClientID)
		assert.Equal(t, "hello", in.Content)

		in.ID = "m-1"
		writeEnvelope(t, w, http.StatusCreated, in)
	})

	got, err := c.SendMessage(context.Background(), domain.Message{
		ClientID:       "c-1",
		ConversationID: "conv",
		SenderID:       "u1",
		Content:        "hello",
		Timestamp:      time.UnixMilli(1_700_000_000_000),
	})
	require.NoError(t, err)
	assert.Equal(t, "m-1", got.ID)
	assert.Equal(t, "c-1", got.ClientID)
	assert.Equal(t, "conv", got.ConversationID)
	assert.True(t, got.ReadBy.Has("u1"))
}

func TestMessages_SendsPagingQuery(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat/conv%201/messages", r.URL.EscapedPath())
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "20", r.URL.Query().Get("limit"))
		writeEnvelope(t, w, http.StatusOK, []wire.MessagePayload{
			{ID: "m-1", SenderID: "u1", Content: "a", Timestamp: wire.Timestamp{Time: time.UnixMilli(1)}},
			{ID: "m-2", SenderID: "u2", Content: "b", Timestamp: wire.Timestamp{Time: time.UnixMilli(2)}},
		})
	})

	msgs, err := c.Messages(context.Background(), "conv 1", 2, 20)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "conv 1", msgs[0].ConversationID)
	assert.Equal(t, "m-2", msgs[1].ID)
}

func TestCreateConversation_NormalizesParticipants(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat/create", r.URL.Path)
		var in createConversationRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, []string{"a", "b"}, in.Participants)
		assert.Equal(t, "provider_client", in.ChatType)
		assert.Equal(t, "j-9", in.Metadata["jobId"])
		writeEnvelope(t, w, http.StatusOK, wire.ConversationPayload{ID: "conv-1"})
	})

	conv, err := c.CreateConversation(context.Background(), []string{"b", "a", "b"}, domain.ConversationKindProviderClient, map[string]string{"jobId": "j-9"})
	require.NoError(t, err)
	assert.Equal(t, "conv-1", conv.ID)
	assert.Equal(t, []string{"a", "b"}, conv.ParticipantIDs)
	assert.Equal(t, domain.ConversationKindProviderClient, conv.Kind)
}

func TestUserConversations_DecodesList(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat/user/u1", r.URL.Path)
		writeEnvelope(t, w, http.StatusOK, []wire.ConversationPayload{
			{ID: "c1", Participants: []string{"u2", "u1"}, LastMessage: &wire.MessagePayload{ID: "m", SenderID: "u2", Content: "hi"}},
		})
	})

	convs, err := c.UserConversations(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, convs, 1)
	require.NotNil(t, convs[0].LastMessage)
	assert.Equal(t, "c1", convs[0].LastMessage.ConversationID)
}

func TestSearchMessages_PassesQuery(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat/c1/search", r.URL.Path)
		assert.Equal(t, "plumb ing", r.URL.Query().Get("q"))
		assert.Equal(t, "1", r.URL.Query().Get("page"))
		writeEnvelope(t, w, http.StatusOK, []wire.MessagePayload{{ID: "m", SenderID: "u", Content: "plumb ing"}})
	})

	msgs, err := c.SearchMessages(context.Background(), "c1", "plumb ing", 0, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
}

func TestDeleteMessage_AcceptsNoContent(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/api/chat/c1/messages/m1", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, c.DeleteMessage(context.Background(), "c1", "m1"))
}

func TestErrorStatus_ReturnsAPIErrorWithEnvelopeMessage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"success":false,"message":"chat not found"}`))
	})

	_, err := c.Messages(context.Background(), "missing", 1, 10)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "chat not found")
}

func TestErrorStatus_BoundsPlainBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(strings.Repeat("x", 10_000)))
	})

	err := c.DeleteMessage(context.Background(), "c", "m")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Len(t, apiErr.Message, maxErrorBody)
}

func TestUnsuccessfulEnvelope_IsAnError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"message":"not a participant"}`))
	})

	_, err := c.UserConversations(context.Background(), "u1")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "not a participant", apiErr.Message)
}

func TestMissingBaseURL(t *testing.T) {
	c := NewClient(nil, "  ", 0)
	_, err := c.UserConversations(context.Background(), "u1")
	require.ErrorIs(t, err, ErrNoBaseURL)
}
