package handler_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/vidshare/backend/internal/broker"
	"github.com/vidshare/backend/internal/handler"
	"github.com/vidshare/backend/internal/journal"
	"github.com/vidshare/backend/internal/models"
	"github.com/vidshare/backend/internal/repository"
	"github.com/vidshare/backend/internal/router"
	"github.com/vidshare/backend/internal/service"
	"github.com/vidshare/backend/internal/testutil"
	"github.com/vidshare/backend/pkg/logger"
)

const (
	testSecret    = "test-secret-key"
	maxTestUpload = 1 << 20
)

// countingReader records how many bytes the server pulled from a request body.
type countingReader struct {
	r    io.Reader
	read int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.read += int64(n)
	return n, err
}

// memoryObjectStore keeps objects in a map.
type memoryObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	failPut bool
}

func newMemoryObjectStore() *memoryObjectStore {
	return &memoryObjectStore{objects: map[string][]byte{}}
}

func (m *memoryObjectStore) Put(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPut {
		return "", errors.New("bucket unavailable")
	}
	m.objects[key] = data
	return m.URL(key), nil
}

func (m *memoryObjectStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memoryObjectStore) URL(key string) string {
	return "https://cdn.example.com/" + key
}

func (m *memoryObjectStore) get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	return data, ok
}

// testApp wires the real router over SQLite, miniredis and an in-memory object store.
type testApp struct {
	router      *gin.Engine
	objects     *memoryObjectStore
	authService *service.AuthService
	videoRepo   *repository.VideoRepository
	streams     *handler.CommentStreamHandler
}

func newTestApp(t *testing.T, db *testutil.TestDatabase, events broker.EventBroker, opts router.Options) *testApp {
	userRepo := repository.NewUserRepository(db.DB)
	videoRepo := repository.NewVideoRepository(db.DB)
	commentRepo := repository.NewCommentRepository(db.DB)

	orphans, err := journal.Open(filepath.Join(t.TempDir(), "orphans.log"))
	require.NoError(t, err)
	t.Cleanup(func() { orphans.Close() })

	objects := newMemoryObjectStore()

	authService := service.NewAuthService(userRepo, testSecret, time.Hour, 5*time.Second)
	videoService := service.NewVideoService(videoRepo, objects, orphans, events, service.VideoServiceConfig{
		StoreTimeout:   5 * time.Second,
		MaxUploadBytes: maxTestUpload,
	})
	commentService := service.NewCommentService(commentRepo, videoRepo, events, service.CommentServiceConfig{
		StoreTimeout: 5 * time.Second,
	})

	streams := handler.NewCommentStreamHandler(commentService, opts.CORSAllowedOrigins)
	opts.Verifier = authService
	if opts.MaxUploadBytes == 0 {
		opts.MaxUploadBytes = maxTestUpload
	}

	r := router.New(router.Handlers{
		Auth:    handler.NewAuthHandler(authService),
		Video:   handler.NewVideoHandler(videoService),
		Comment: handler.NewCommentHandler(commentService),
		Stream:  streams,
		Health:  handler.NewHealthHandler(db.DB, streams),
	}, opts)

	return &testApp{
		router:      r,
		objects:     objects,
		authService: authService,
		videoRepo:   videoRepo,
		streams:     streams,
	}
}

type APIIntegrationTestSuite struct {
	suite.Suite
	testDB    *testutil.TestDatabase
	testRedis *testutil.TestRedis
	redis     *redis.Client
	app       *testApp
}

func (s *APIIntegrationTestSuite) SetupSuite() {
	gin.SetMode(gin.TestMode)
	logger.Init(false)

	s.testDB = testutil.SetupTestDatabase(s.T())
	s.testRedis = testutil.SetupTestRedis(s.T())

	opt, err := redis.ParseURL(s.testRedis.URL)
	require.NoError(s.T(), err)
	s.redis = redis.NewClient(opt)
}

func (s *APIIntegrationTestSuite) TearDownSuite() {
	s.redis.Close()
	s.testRedis.Teardown(s.T())
	s.testDB.Teardown(s.T())
}

func (s *APIIntegrationTestSuite) SetupTest() {
	testutil.CleanDatabase(s.T(), s.testDB.DB)
	s.app = newTestApp(s.T(), s.testDB, broker.NewRedisBroker(s.redis), router.Options{})
}

func (s *APIIntegrationTestSuite) do(method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	return testutil.PerformJSON(s.T(), s.app.router, method, path, body, headers)
}

func (s *APIIntegrationTestSuite) registerAndLogin(username, role string) string {
	w := s.do(http.MethodPost, "/api/register", map[string]string{
		"username": username, "password": "Secret123", "role": role,
	}, nil)
	require.Equal(s.T(), http.StatusCreated, w.Code, w.Body.String())

	w = s.do(http.MethodPost, "/api/login", map[string]string{
		"username": username, "password": "Secret123",
	}, nil)
	require.Equal(s.T(), http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Token string `json:"token"`
	}
	testutil.DecodeJSON(s.T(), w, &resp)
	return resp.Token
}

func (s *APIIntegrationTestSuite) TestRegister() {
	w := s.do(http.MethodPost, "/api/register", map[string]string{
		"username": "alice", "password": "pw1", "role": "consumer",
	}, nil)

	assert.Equal(s.T(), http.StatusCreated, w.Code)
	var resp map[string]any
	testutil.DecodeJSON(s.T(), w, &resp)
	assert.Equal(s.T(), "User registered successfully", resp["message"])
	assert.NotEmpty(s.T(), resp["id"])

	// Same username again
	w = s.do(http.MethodPost, "/api/register", map[string]string{
		"username": "alice", "password": "pw2", "role": "creator",
	}, nil)
	assert.Equal(s.T(), http.StatusBadRequest, w.Code)
	assert.JSONEq(s.T(), `{"error":"username already exists"}`, w.Body.String())
}

func (s *APIIntegrationTestSuite) TestRegister_BadInput() {
	w := s.do(http.MethodPost, "/api/register", map[string]string{"username": "bob"}, nil)
	assert.Equal(s.T(), http.StatusBadRequest, w.Code)
	assert.JSONEq(s.T(), `{"error":"missing required fields: password, role"}`, w.Body.String())

	w = s.do(http.MethodPost, "/api/register", map[string]string{
		"username": "bob", "password": "pw", "role": "admin",
	}, nil)
	assert.Equal(s.T(), http.StatusBadRequest, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/register", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.app.router.ServeHTTP(rec, req)
	assert.Equal(s.T(), http.StatusBadRequest, rec.Code)
	assert.JSONEq(s.T(), `{"error":"invalid request body"}`, rec.Body.String())
}

func (s *APIIntegrationTestSuite) TestLogin() {
	token := s.registerAndLogin("alice", "consumer")
	assert.NotEmpty(s.T(), token)

	w := s.do(http.MethodPost, "/api/login", map[string]string{"username": "alice", "password": "wrong"}, nil)
	assert.Equal(s.T(), http.StatusUnauthorized, w.Code)
	assert.JSONEq(s.T(), `{"error":"invalid credentials"}`, w.Body.String())

	w = s.do(http.MethodPost, "/api/login", map[string]string{"username": "nobody", "password": "Secret123"}, nil)
	assert.Equal(s.T(), http.StatusUnauthorized, w.Code)
	assert.JSONEq(s.T(), `{"error":"invalid credentials"}`, w.Body.String())

	w = s.do(http.MethodPost, "/api/login", map[string]string{}, nil)
	assert.Equal(s.T(), http.StatusBadRequest, w.Code)
}

func (s *APIIntegrationTestSuite) TestProtected() {
	token := s.registerAndLogin("alice", "consumer")

	w := s.do(http.MethodGet, "/api/protected", nil, nil)
	assert.Equal(s.T(), http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodGet, "/api/protected", nil, testutil.BearerHeader("garbage"))
	assert.Equal(s.T(), http.StatusForbidden, w.Code)
	assert.JSONEq(s.T(), `{"error":"invalid or expired token"}`, w.Body.String())

	w = s.do(http.MethodGet, "/api/protected", nil, testutil.BearerHeader(token))
	require.Equal(s.T(), http.StatusOK, w.Code)

	var resp struct {
		Message string `json:"message"`
		User    struct {
			UserID   string `json:"user_id"`
			Username string `json:"username"`
			Role     string `json:"role"`
		} `json:"user"`
	}
	testutil.DecodeJSON(s.T(), w, &resp)
	assert.Equal(s.T(), "Access to protected route granted", resp.Message)
	assert.Equal(s.T(), "alice", resp.User.Username)
	assert.Equal(s.T(), "consumer", resp.User.Role)
	assert.NotEmpty(s.T(), resp.User.UserID)
}

func (s *APIIntegrationTestSuite) TestRegisterCreator() {
	w := s.do(http.MethodPost, "/api/register-creator", map[string]string{
		"username": "studio", "password": "Secret123",
	}, nil)
	require.Equal(s.T(), http.StatusCreated, w.Code)

	var resp map[string]any
	testutil.DecodeJSON(s.T(), w, &resp)
	assert.Equal(s.T(), "Creator registered successfully", resp["message"])
	assert.NotEmpty(s.T(), resp["creatorId"])

	token, err := s.app.authService.Login(context.Background(), "studio", "Secret123")
	require.NoError(s.T(), err)
	claims, err := s.app.authService.VerifyToken(token)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), models.RoleCreator, claims.Role)

	w = s.do(http.MethodPost, "/api/register-creator", map[string]string{"username": "x"}, nil)
	assert.Equal(s.T(), http.StatusBadRequest, w.Code)
}

func (s *APIIntegrationTestSuite) TestUpload_Base64() {
	token := s.registerAndLogin("studio", "creator")
	payload := []byte("fake mp4 payload")

	w := s.do(http.MethodPost, "/api/upload", map[string]any{
		"creatorId":   "spoofed-id",
		"title":       "Cats are great",
		"hashtags":    []string{"#Funny", "cats"},
		"videoBase64": base64.StdEncoding.EncodeToString(payload),
	}, testutil.BearerHeader(token))
	require.Equal(s.T(), http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		Message string `json:"message"`
		VideoID string `json:"videoId"`
		URL     string `json:"url"`
	}
	testutil.DecodeJSON(s.T(), w, &resp)
	assert.Equal(s.T(), "Video uploaded successfully", resp.Message)

	key := "videos/" + resp.VideoID + "/cats-are-great.mp4"
	assert.Equal(s.T(), "https://cdn.example.com/"+key, resp.URL)
	stored, ok := s.app.objects.get(key)
	require.True(s.T(), ok)
	assert.Equal(s.T(), payload, stored)

	w = s.do(http.MethodGet, "/api/videos?search=funny", nil, nil)
	require.Equal(s.T(), http.StatusOK, w.Code)
	var videos []handler.VideoResponse
	testutil.DecodeJSON(s.T(), w, &videos)
	require.Len(s.T(), videos, 1)
	assert.Equal(s.T(), resp.VideoID, videos[0].ID)
	assert.Equal(s.T(), []string{"funny", "cats"}, videos[0].Hashtags)

	claims, err := s.app.authService.VerifyToken(token)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), claims.UserID, videos[0].CreatorID, "token identity wins over body creatorId")
}

func (s *APIIntegrationTestSuite) TestUpload_BlobReference() {
	w := s.do(http.MethodPost, "/api/upload", map[string]any{
		"creatorId":         "creator-7",
		"title":             "Dogs rule",
		"description":       "good boys",
		"hashtags":          "pets, dogs",
		"videoBlobName":     "raw/dogs.mp4",
		"thumbnailBlobName": "thumbs/dogs.jpg",
	}, nil)
	require.Equal(s.T(), http.StatusCreated, w.Code, w.Body.String())

	w = s.do(http.MethodGet, "/api/videos", nil, nil)
	require.Equal(s.T(), http.StatusOK, w.Code)

	var videos []handler.VideoResponse
	testutil.DecodeJSON(s.T(), w, &videos)
	require.Len(s.T(), videos, 1)
	assert.Equal(s.T(), "creator-7", videos[0].CreatorID)
	assert.Equal(s.T(), "good boys", videos[0].Description)
	assert.Equal(s.T(), []string{"pets", "dogs"}, videos[0].Hashtags)
	assert.Equal(s.T(), "https://cdn.example.com/raw/dogs.mp4", videos[0].URL)
	assert.Equal(s.T(), "https://cdn.example.com/thumbs/dogs.jpg", videos[0].ThumbnailURL)
}

func (s *APIIntegrationTestSuite) TestUpload_Multipart() {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(s.T(), mw.WriteField("title", "Multipart clip"))
	require.NoError(s.T(), mw.WriteField("hashtags", "one,two"))
	part, err := mw.CreateFormFile("video", "clip.mp4")
	require.NoError(s.T(), err)
	_, err = part.Write([]byte("multipart bytes"))
	require.NoError(s.T(), err)
	require.NoError(s.T(), mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	s.app.router.ServeHTTP(w, req)
	require.Equal(s.T(), http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		VideoID string `json:"videoId"`
	}
	testutil.DecodeJSON(s.T(), w, &resp)
	stored, ok := s.app.objects.get("videos/" + resp.VideoID + "/multipart-clip.mp4")
	require.True(s.T(), ok)
	assert.Equal(s.T(), []byte("multipart bytes"), stored)
}

func (s *APIIntegrationTestSuite) TestUpload_Failures() {
	w := s.do(http.MethodPost, "/api/upload", map[string]any{"videoBase64": "AAAA"}, nil)
	assert.Equal(s.T(), http.StatusBadRequest, w.Code)
	assert.JSONEq(s.T(), `{"error":"missing required fields: title"}`, w.Body.String())

	w = s.do(http.MethodPost, "/api/upload", map[string]any{"title": "t"}, nil)
	assert.Equal(s.T(), http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/api/upload", map[string]any{"title": "t", "videoBase64": "%%%not-base64"}, nil)
	assert.Equal(s.T(), http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/api/upload", map[string]any{"title": "t", "hashtags": 42, "videoBlobName": "k"}, nil)
	assert.Equal(s.T(), http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/api/upload", map[string]any{
		"title": strings.Repeat("t", 300), "videoBase64": base64.StdEncoding.EncodeToString([]byte("x")),
	}, nil)
	assert.Equal(s.T(), http.StatusBadRequest, w.Code)
	assert.JSONEq(s.T(), `{"error":"title must be at most 255 characters"}`, w.Body.String())
	assert.Empty(s.T(), s.app.objects.objects, "rejected before the object write")

	w = s.do(http.MethodPost, "/api/upload", map[string]any{"title": "t"}, testutil.BearerHeader("forged"))
	assert.Equal(s.T(), http.StatusForbidden, w.Code)

	s.app.objects.failPut = true
	w = s.do(http.MethodPost, "/api/upload", map[string]any{
		"title": "t", "videoBase64": base64.StdEncoding.EncodeToString([]byte("x")),
	}, nil)
	assert.Equal(s.T(), http.StatusInternalServerError, w.Code)
	assert.JSONEq(s.T(), `{"error":"internal storage error"}`, w.Body.String())

	w = s.do(http.MethodGet, "/api/videos", nil, nil)
	assert.JSONEq(s.T(), `[]`, w.Body.String())
}

func (s *APIIntegrationTestSuite) TestUpload_OversizedBodyIsCutOff() {
	limit := router.UploadBodyLimit(maxTestUpload)

	// Three times the raw cap, base64 encoded
	payload := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0xAB}, 3*maxTestUpload))
	data, err := json.Marshal(map[string]string{"title": "huge", "videoBase64": payload})
	require.NoError(s.T(), err)

	body := &countingReader{r: bytes.NewReader(data)}
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.app.router.ServeHTTP(w, req)

	assert.Equal(s.T(), http.StatusRequestEntityTooLarge, w.Code)
	assert.JSONEq(s.T(), `{"error":"request body too large"}`, w.Body.String())
	assert.LessOrEqual(s.T(), body.read, limit+1, "server must stop reading at the limit")
	assert.Less(s.T(), body.read, int64(len(data)))

	w = s.do(http.MethodGet, "/api/videos", nil, nil)
	assert.JSONEq(s.T(), `[]`, w.Body.String())
}

func (s *APIIntegrationTestSuite) TestUpload_OversizedMultipartIsCutOff() {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(s.T(), mw.WriteField("title", "huge"))
	part, err := mw.CreateFormFile("video", "huge.mp4")
	require.NoError(s.T(), err)
	_, err = part.Write(bytes.Repeat([]byte{0xAB}, 3*maxTestUpload))
	require.NoError(s.T(), err)
	require.NoError(s.T(), mw.Close())

	body := &countingReader{r: &buf}
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	s.app.router.ServeHTTP(w, req)

	assert.Equal(s.T(), http.StatusRequestEntityTooLarge, w.Code)
	assert.LessOrEqual(s.T(), body.read, router.UploadBodyLimit(maxTestUpload)+1)
}

func (s *APIIntegrationTestSuite) TestJSONRoutes_BodyLimit() {
	padding := strings.Repeat("x", int(router.DefaultJSONBodyBytes)+1)

	w := s.do(http.MethodPost, "/api/register", map[string]string{
		"username": "alice", "password": padding, "role": "consumer",
	}, nil)
	assert.Equal(s.T(), http.StatusRequestEntityTooLarge, w.Code)

	w = s.do(http.MethodPost, "/api/comments", map[string]string{
		"videoId": "video-1", "userId": "user-1", "comment": padding,
	}, nil)
	assert.Equal(s.T(), http.StatusRequestEntityTooLarge, w.Code)
}

func (s *APIIntegrationTestSuite) TestComments() {
	w := s.do(http.MethodPost, "/api/comments", map[string]string{
		"videoId": "video-1", "userId": "user-1", "comment": "first",
	}, nil)
	require.Equal(s.T(), http.StatusCreated, w.Code)

	var posted map[string]any
	testutil.DecodeJSON(s.T(), w, &posted)
	assert.Equal(s.T(), "Comment posted successfully", posted["message"])
	assert.NotEmpty(s.T(), posted["commentId"])

	w = s.do(http.MethodPost, "/api/comments", map[string]string{"videoId": "video-1"}, nil)
	assert.Equal(s.T(), http.StatusBadRequest, w.Code)
	assert.JSONEq(s.T(), `{"error":"missing required fields: userId, comment"}`, w.Body.String())

	w = s.do(http.MethodGet, "/api/comments/video-1", nil, nil)
	require.Equal(s.T(), http.StatusOK, w.Code)

	var comments []map[string]any
	testutil.DecodeJSON(s.T(), w, &comments)
	require.Len(s.T(), comments, 1)
	assert.Equal(s.T(), "first", comments[0]["comment"])
	assert.Equal(s.T(), "user-1", comments[0]["userId"])
	assert.Equal(s.T(), "video-1", comments[0]["videoId"])
	assert.NotEmpty(s.T(), comments[0]["timestamp"])

	w = s.do(http.MethodGet, "/api/comments/unknown", nil, nil)
	assert.Equal(s.T(), http.StatusOK, w.Code)
	assert.JSONEq(s.T(), `[]`, w.Body.String())
}

func (s *APIIntegrationTestSuite) TestHealthz() {
	w := s.do(http.MethodGet, "/healthz", nil, nil)
	require.Equal(s.T(), http.StatusOK, w.Code)
	assert.JSONEq(s.T(), `{"status":"ok","database":"up","live_streams":0}`, w.Body.String())
	assert.Equal(s.T(), "nosniff", w.Header().Get("X-Content-Type-Options"))
}

func (s *APIIntegrationTestSuite) TestUpload_RequireCreator() {
	app := newTestApp(s.T(), s.testDB, broker.Noop{}, router.Options{UploadRequireCreator: true})
	s.app = app

	consumer := s.registerAndLogin("viewer", "consumer")
	creator := s.registerAndLogin("studio", "creator")
	body := map[string]any{"title": "t", "videoBlobName": "raw/t.mp4"}

	w := s.do(http.MethodPost, "/api/upload", body, nil)
	assert.Equal(s.T(), http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodPost, "/api/upload", body, testutil.BearerHeader(consumer))
	assert.Equal(s.T(), http.StatusForbidden, w.Code)

	w = s.do(http.MethodPost, "/api/upload", body, testutil.BearerHeader(creator))
	assert.Equal(s.T(), http.StatusCreated, w.Code)
}

func TestAPIIntegrationTestSuite(t *testing.T) {
	suite.Run(t, new(APIIntegrationTestSuite))
}
