package handler_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vidshare/backend/internal/broker"
	"github.com/vidshare/backend/internal/handler"
	"github.com/vidshare/backend/internal/models"
	"github.com/vidshare/backend/internal/router"
	"github.com/vidshare/backend/internal/testutil"
)

func wsURL(server *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(server.URL, "http") + path
}

func (s *APIIntegrationTestSuite) TestLiveComments_ReceivesPostedComment() {
	server := httptest.NewServer(s.app.router)
	defer server.Close()

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(server, "/api/videos/video-1/comments/live"), nil)
	require.NoError(s.T(), err)
	defer conn.Close()
	assert.Equal(s.T(), http.StatusSwitchingProtocols, resp.StatusCode)

	assert.Eventually(s.T(), func() bool {
		return s.app.streams.ActiveStreams() == 1
	}, 2*time.Second, 20*time.Millisecond)

	// A comment on another video must not reach this stream
	w := s.do(http.MethodPost, "/api/comments", map[string]string{
		"videoId": "video-2", "userId": "user-1", "comment": "elsewhere",
	}, nil)
	require.Equal(s.T(), http.StatusCreated, w.Code)

	w = s.do(http.MethodPost, "/api/comments", map[string]string{
		"videoId": "video-1", "userId": "user-1", "comment": "hello live",
	}, nil)
	require.Equal(s.T(), http.StatusCreated, w.Code)

	require.NoError(s.T(), conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var frame handler.StreamFrame
	require.NoError(s.T(), conn.ReadJSON(&frame))
	assert.Equal(s.T(), "comment", frame.Type)

	var comment models.Comment
	require.NoError(s.T(), json.Unmarshal(frame.Comment, &comment))
	assert.Equal(s.T(), "video-1", comment.VideoID)
	assert.Equal(s.T(), "hello live", comment.Body)

	w = s.do(http.MethodGet, "/healthz", nil, nil)
	assert.JSONEq(s.T(), `{"status":"ok","database":"up","live_streams":1}`, w.Body.String())

	conn.Close()
	assert.Eventually(s.T(), func() bool {
		return s.app.streams.ActiveStreams() == 0
	}, 2*time.Second, 20*time.Millisecond)
}

func (s *APIIntegrationTestSuite) TestLiveComments_UnavailableWithoutBroker() {
	s.app = newTestApp(s.T(), s.testDB, broker.Noop{}, router.Options{})

	w := testutil.PerformJSON(s.T(), s.app.router, http.MethodGet, "/api/videos/video-1/comments/live", nil, nil)

	assert.Equal(s.T(), http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(s.T(), `{"error":"live comments unavailable"}`, w.Body.String())

	// Posting still works; only the live fan-out is missing
	w = s.do(http.MethodPost, "/api/comments", map[string]string{
		"videoId": "video-1", "userId": "user-1", "comment": "offline",
	}, nil)
	assert.Equal(s.T(), http.StatusCreated, w.Code)
}

func (s *APIIntegrationTestSuite) TestLiveComments_OriginCheck() {
	s.app = newTestApp(s.T(), s.testDB, broker.NewRedisBroker(s.redis), router.Options{
		CORSAllowedOrigins: []string{"https://app.example.com"},
	})
	server := httptest.NewServer(s.app.router)
	defer server.Close()

	url := wsURL(server, "/api/videos/video-1/comments/live")

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example.com"}})
	require.Error(s.T(), err)
	require.NotNil(s.T(), resp)
	assert.Equal(s.T(), http.StatusForbidden, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://app.example.com"}})
	require.NoError(s.T(), err)
	conn.Close()
}
