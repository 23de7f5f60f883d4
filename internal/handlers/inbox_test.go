package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"inbox-service/internal/adapters"
	"inbox-service/internal/inbox"
	"inbox-service/internal/mocks"
	"inbox-service/internal/models"
	"inbox-service/internal/telemetry"
)

type testDeps struct {
	jobs     *mocks.ConversationSourceMock
	peers    *mocks.ConversationSourceMock
	messages *mocks.MessageSourceMock
	sender   *mocks.SenderMock
	presence *mocks.PresenceSourceMock
	typing   *mocks.TypingRecorder
	events   *mocks.EventRecorder
	registry *inbox.Registry
}

func setupInboxRouter() (*gin.Engine, *testDeps) {
	gin.SetMode(gin.TestMode)
	d := &testDeps{
		jobs:     new(mocks.ConversationSourceMock),
		peers:    new(mocks.ConversationSourceMock),
		messages: new(mocks.MessageSourceMock),
		sender:   new(mocks.SenderMock),
		presence: new(mocks.PresenceSourceMock),
		typing:   &mocks.TypingRecorder{},
		events:   &mocks.EventRecorder{},
	}
	marker := new(mocks.ReadMarkerMock)
	marker.On("MarkAllRead", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	d.registry = inbox.NewRegistry(inbox.Deps{
		Sources: map[models.ConversationKind]adapters.ConversationSource{
			models.KindJob:  d.jobs,
			models.KindPeer: d.peers,
		},
		Messages: d.messages,
		Sender:   d.sender,
		Marker:   marker,
		Typing:   d.typing,
		Presence: d.presence,
		Events:   d.events,
	}, zerolog.Nop())

	r := gin.New()
	NewInboxHandler(d.registry, nil).Register(r)
	return r, d
}

func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("X-User-ID", "u1")
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestRoutesRequireIdentity(t *testing.T) {
	r, _ := setupInboxRouter()
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/inbox/unread", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRefreshAndUnread(t *testing.T) {
	r, d := setupInboxRouter()
	d.jobs.On("ListConversations", mock.Anything, "u1", models.KindJob).
		Return(models.ConversationList{Items: []models.Conversation{{Ref: models.JobRef("42"), Title: "Rewire kitchen"}}, UnreadCount: 150}, nil).Once()

	rec := do(r, http.MethodPost, "/inbox/refresh/job", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(r, http.MethodGet, "/inbox/unread", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var summary models.UnreadSummary
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&summary))
	assert.Equal(t, 150, summary.Total)
	assert.Equal(t, "99+", summary.Badge)
	d.jobs.AssertExpectations(t)
}

func TestRefreshUnknownKind(t *testing.T) {
	r, _ := setupInboxRouter()
	rec := do(r, http.MethodPost, "/inbox/refresh/college", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRefreshSourceError(t *testing.T) {
	r, d := setupInboxRouter()
	d.peers.On("ListConversations", mock.Anything, "u1", models.KindPeer).Return(nil, assert.AnError).Once()

	rec := do(r, http.MethodPost, "/inbox/refresh/peer", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestRefreshAllPartialFailure(t *testing.T) {
	r, d := setupInboxRouter()
	d.jobs.On("ListConversations", mock.Anything, "u1", models.KindJob).Return(models.ConversationList{UnreadCount: 2}, nil).Once()
	d.peers.On("ListConversations", mock.Anything, "u1", models.KindPeer).Return(nil, assert.AnError).Once()

	rec := do(r, http.MethodPost, "/inbox/refresh", "")
	assert.Equal(t, http.StatusMultiStatus, rec.Code)
	resp := decode(t, rec)
	assert.EqualValues(t, 2, resp["unread"].(map[string]any)["total"])
}

func TestListConversationsInvalidKind(t *testing.T) {
	r, _ := setupInboxRouter()
	rec := do(r, http.MethodGet, "/inbox/conversations?kind=fax", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSelectBackAndClose(t *testing.T) {
	r, d := setupInboxRouter()

	rec := do(r, http.MethodPost, "/inbox/select", `{"ref":"team_channel:general"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode(t, rec)
	assert.Equal(t, true, resp["changed"])
	assert.Equal(t, "team_channel", resp["selection"].(map[string]any)["kind"])

	rec = do(r, http.MethodPost, "/inbox/select", `{"ref":"team_channel:general"}`)
	assert.Equal(t, false, decode(t, rec)["changed"])

	rec = do(r, http.MethodPost, "/inbox/back", "")
	require.Equal(t, http.StatusOK, rec.Code)
	s, err := d.registry.Get("u1")
	require.NoError(t, err)
	assert.True(t, s.Selection().IsNone())

	do(r, http.MethodPost, "/inbox/select", `{"ref":"college:c1"}`)
	rec = do(r, http.MethodPost, "/inbox/close", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, s.Selection().IsNone())
}

func TestSelectInvalidRef(t *testing.T) {
	r, _ := setupInboxRouter()
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/inbox/select", `{"ref":"fax:1"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/inbox/select", `{}`).Code)
}

func TestMessagesWithoutSelection(t *testing.T) {
	r, _ := setupInboxRouter()
	assert.Equal(t, http.StatusConflict, do(r, http.MethodGet, "/inbox/messages", "").Code)
	assert.Equal(t, http.StatusConflict, do(r, http.MethodPost, "/inbox/messages", `{"content":"hi"}`).Code)
}

func TestListMessagesWithStatus(t *testing.T) {
	r, d := setupInboxRouter()
	ref := models.TeamDMRef("dm1")
	delivered := time.Now()
	d.messages.On("ListMessages", mock.Anything, ref).Return([]models.Message{
		{ID: "1", Ref: ref, SenderID: "u1", Content: "hi", CreatedAt: delivered, DeliveredAt: &delivered},
	}, nil).Once()

	do(r, http.MethodPost, "/inbox/select", `{"ref":"team_dm:dm1"}`)
	rec := do(r, http.MethodGet, "/inbox/messages", "")
	require.Equal(t, http.StatusOK, rec.Code)
	msgs := decode(t, rec)["messages"].([]any)
	require.Len(t, msgs, 1)
	assert.Equal(t, "delivered", msgs[0].(map[string]any)["status"])
}

func TestPostMessageFailureThenRetry(t *testing.T) {
	r, d := setupInboxRouter()
	ref := models.TeamChannelRef("crew")
	do(r, http.MethodPost, "/inbox/select", `{"ref":"team_channel:crew"}`)

	d.sender.On("SendMessage", mock.Anything, ref, "u1", "breaker tripped").Return(nil, errors.New("timeout")).Once()
	rec := do(r, http.MethodPost, "/inbox/messages", `{"content":"breaker tripped"}`)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	resp := decode(t, rec)
	assert.Equal(t, true, resp["retry"])
	msg := resp["message"].(map[string]any)
	assert.Equal(t, "failed", msg["status"])
	localID := msg["id"].(string)

	assert.Len(t, d.events.OfType("u1", models.EventSendFailed), 1)

	d.sender.On("SendMessage", mock.Anything, ref, "u1", "breaker tripped").
		Return(models.Message{ID: "99", Ref: ref, SenderID: "u1", Content: "breaker tripped", CreatedAt: time.Now()}, nil).Once()
	rec = do(r, http.MethodPost, "/inbox/messages/"+localID+"/retry", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "sent", decode(t, rec)["message"].(map[string]any)["status"])

	assert.Equal(t, http.StatusNotFound, do(r, http.MethodPost, "/inbox/messages/"+localID+"/retry", "").Code)
	d.sender.AssertExpectations(t)
}

func TestPostMessageSuccess(t *testing.T) {
	r, d := setupInboxRouter()
	ref := models.CollegeRef("c1")
	do(r, http.MethodPost, "/inbox/select", `{"ref":"college:c1"}`)
	d.sender.On("SendMessage", mock.Anything, ref, "u1", "question").
		Return(models.Message{ID: "5", Ref: ref, SenderID: "u1", Content: "question", CreatedAt: time.Now()}, nil).Once()

	rec := do(r, http.MethodPost, "/inbox/messages", `{"content":"question"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/inbox/messages", `{}`).Code)
}

func TestSendFailureAndDiscardAreAudited(t *testing.T) {
	_, d := setupInboxRouter()
	pub := new(mocks.PublisherMock)
	pub.On("Publish", mock.Anything, "audit.inbox", mock.MatchedBy(func(e telemetry.AuditEnvelope) bool {
		return e.Payload.Action == telemetry.ActionSendFailed &&
			e.Payload.Level == "WARN" &&
			e.Payload.Conversation == "job:7" &&
			e.UserID != nil && *e.UserID == "u1"
	})).Return(nil).Once()
	pub.On("Publish", mock.Anything, "audit.inbox", mock.MatchedBy(func(e telemetry.AuditEnvelope) bool {
		return e.Payload.Action == telemetry.ActionDiscard && e.Payload.Conversation == "job:7"
	})).Return(nil).Once()

	r := gin.New()
	NewInboxHandler(d.registry, telemetry.NewAuditEmitter(pub, "audit.inbox", "inbox-service", "test")).Register(r)

	ref := models.JobRef("7")
	d.sender.On("SendMessage", mock.Anything, ref, "u1", "on my way").Return(nil, errors.New("offline")).Once()
	do(r, http.MethodPost, "/inbox/select", `{"ref":"job:7"}`)

	rec := do(r, http.MethodPost, "/inbox/messages", `{"content":"on my way"}`)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	localID := decode(t, rec)["message"].(map[string]any)["id"].(string)

	assert.Equal(t, http.StatusNoContent, do(r, http.MethodDelete, "/inbox/messages/"+localID, "").Code)
	pub.AssertExpectations(t)
}

func TestDiscardUnknownMessage(t *testing.T) {
	r, _ := setupInboxRouter()
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodDelete, "/inbox/messages/nope", "").Code)
}

func TestSetTyping(t *testing.T) {
	r, d := setupInboxRouter()
	ref := models.CollegeRef("c1")
	do(r, http.MethodPost, "/inbox/select", `{"ref":"college:c1"}`)

	require.Equal(t, http.StatusNoContent, do(r, http.MethodPost, "/inbox/typing", `{"typing":true}`).Code)
	last, ok := d.typing.Last(ref)
	require.True(t, ok)
	assert.True(t, last.IsTyping)

	require.Equal(t, http.StatusNoContent, do(r, http.MethodPost, "/inbox/typing", `{"typing":false}`).Code)
	last, _ = d.typing.Last(ref)
	assert.False(t, last.IsTyping)

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/inbox/typing", `{}`).Code)

	rec := do(r, http.MethodGet, "/inbox/typing", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestPresenceEndpoint(t *testing.T) {
	r, d := setupInboxRouter()
	d.presence.On("GetPresence", mock.Anything, "u2").
		Return(models.PresenceRecord{UserID: "u2", LastSeenAt: time.Now().Add(-30 * time.Second)}, nil).Once()
	d.presence.On("GetPresence", mock.Anything, "u3").Return(nil, assert.AnError).Once()

	rec := do(r, http.MethodGet, "/presence/u2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "online", decode(t, rec)["status"])

	rec = do(r, http.MethodGet, "/presence/u3", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode(t, rec)
	assert.Equal(t, "offline", resp["status"])
	assert.NotContains(t, resp, "last_seen_at")
}
