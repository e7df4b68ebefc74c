package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vidiox/auth"
	"vidiox/config"
	"vidiox/job"
	"vidiox/storage"
	"vidiox/video"
)

var mp4Header = []byte("\x00\x00\x00\x18ftypmp42\x00\x00\x00\x00mp42isom")

type nopDispatcher struct {
	ids []string
	err error
}

func (d *nopDispatcher) Dispatch(ctx context.Context, id string) error {
	if d.err != nil {
		return d.err
	}
	d.ids = append(d.ids, id)
	return nil
}

type testEnv struct {
	router *gin.Engine
	cfg    *config.Config
	store  *job.MemoryStore
	files  *storage.FileStore
	disp   *nopDispatcher
	tokens *auth.TokenManager
}

func setupTestRouter(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		BaseURL:      "http://media.example",
		MaxInputSize: 64 * 1024,
	}
	files, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)
	env := &testEnv{
		cfg:    cfg,
		store:  job.NewMemoryStore(),
		files:  files,
		disp:   &nopDispatcher{},
		tokens: auth.NewTokenManager("test-secret"),
	}
	svc := video.NewService(env.store, files, env.disp, nil, video.Options{
		BaseURL:      cfg.BaseURL,
		MaxInputSize: cfg.MaxInputSize,
	}, zerolog.Nop())
	env.router = SetupRouter(svc, files, env.tokens, cfg, zerolog.Nop())
	return env
}

func (e *testEnv) token(t *testing.T, owner string) string {
	t.Helper()
	tok, err := e.tokens.Issue(owner, time.Hour)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) do(t *testing.T, req *http.Request, owner string) *httptest.ResponseRecorder {
	t.Helper()
	if owner != "" {
		req.Header.Set("Authorization", "Bearer "+e.token(t, owner))
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func multipartRequest(t *testing.T, path string, content []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if content != nil {
		part, err := mw.CreateFormFile("video", "beach trip.mp4")
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req, _ := http.NewRequest("POST", path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func videoBytes(n int) []byte {
	b := make([]byte, n)
	copy(b, mp4Header)
	return b
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

func TestHealth(t *testing.T) {
	env := setupTestRouter(t)
	w := env.do(t, httptest.NewRequest("GET", "/health", nil), "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestHandleSubmit(t *testing.T) {
	env := setupTestRouter(t)

	req := multipartRequest(t, "/api/upload", videoBytes(4096), map[string]string{
		"enhancement_type": "denoising",
		"resolution":       "2K",
		"fps":              "60",
		"stabilize":        "true",
	})
	w := env.do(t, req, "alice")
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	taskID, _ := decode(t, w)["task_id"].(string)
	require.NotEmpty(t, taskID)
	assert.Equal(t, []string{taskID}, env.disp.ids)

	j, err := env.store.Get(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusProcessing, j.Status)
	assert.Equal(t, "beach trip", j.Title)
	assert.Equal(t, job.TypeDenoising, j.EnhancementType)
	assert.Equal(t, job.Settings{Resolution: "2k", FPS: "60", Denoise: true, ColorEnhance: true, Stabilize: true}, j.Settings)

	t.Run("status for owner", func(t *testing.T) {
		w := env.do(t, httptest.NewRequest("GET", "/api/status/"+taskID, nil), "alice")
		require.Equal(t, http.StatusOK, w.Code)
		resp := decode(t, w)
		assert.Equal(t, taskID, resp["task_id"])
		assert.Equal(t, "processing", resp["status"])
		assert.Equal(t, float64(0), resp["progress"])
		assert.NotContains(t, resp, "download_url")
	})

	t.Run("status for someone else", func(t *testing.T) {
		w := env.do(t, httptest.NewRequest("GET", "/api/status/"+taskID, nil), "mallory")
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Contains(t, decode(t, w)["error"], "unauthorized")
	})

	t.Run("unknown task", func(t *testing.T) {
		w := env.do(t, httptest.NewRequest("GET", "/api/status/nonexistent", nil), "alice")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestHandleSubmit_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		content []byte
		fields  map[string]string
		want    int
	}{
		{"missing file", nil, nil, http.StatusBadRequest},
		{"not a video", []byte("plain text"), nil, http.StatusBadRequest},
		{"bad resolution", videoBytes(512), map[string]string{"resolution": "16k"}, http.StatusBadRequest},
		{"bad flag", videoBytes(512), map[string]string{"denoise": "maybe"}, http.StatusBadRequest},
		{"bad type", videoBytes(512), map[string]string{"enhancement_type": "sharpen"}, http.StatusBadRequest},
		{"too large", videoBytes(128 * 1024), nil, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestRouter(t)
			w := env.do(t, multipartRequest(t, "/api/upload", tt.content, tt.fields), "alice")
			assert.Equal(t, tt.want, w.Code, w.Body.String())
			assert.NotEmpty(t, decode(t, w)["error"])

			jobs, err := env.store.ListByOwner(context.Background(), "alice", "")
			require.NoError(t, err)
			assert.Empty(t, jobs, "no record is created")
		})
	}
}

func TestHandleSubmit_DispatchFailure(t *testing.T) {
	env := setupTestRouter(t)
	env.disp.err = errors.New("job queue is full")

	w := env.do(t, multipartRequest(t, "/api/upload", videoBytes(4096), nil), "alice")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code, w.Body.String())
	assert.NotContains(t, decode(t, w), "task_id")

	jobs, err := env.store.ListByOwner(context.Background(), "alice", "")
	require.NoError(t, err)
	assert.Empty(t, jobs, "no record survives a failed submission")

	entries, err := os.ReadDir(env.files.BasePath())
	require.NoError(t, err)
	assert.Empty(t, entries, "no file survives a failed submission")

	w = env.do(t, httptest.NewRequest("GET", "/api/videos", nil), "alice")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestUploadThenEnhance(t *testing.T) {
	env := setupTestRouter(t)

	w := env.do(t, multipartRequest(t, "/api/videos", videoBytes(2048), nil), "alice")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	resp := decode(t, w)
	assert.Equal(t, true, resp["success"])
	videoID := resp["videoId"].(string)
	downloadURL := resp["downloadURL"].(string)
	assert.True(t, strings.HasPrefix(downloadURL, "http://media.example/outputs/"), downloadURL)
	assert.Empty(t, env.disp.ids, "upload alone does not start processing")

	enhance := func(owner, body string) *httptest.ResponseRecorder {
		req, _ := http.NewRequest("POST", "/api/enhance", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		return env.do(t, req, owner)
	}

	t.Run("someone else", func(t *testing.T) {
		w := enhance("mallory", `{"videoId": "`+videoID+`"}`)
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Empty(t, env.disp.ids)
	})

	t.Run("owner", func(t *testing.T) {
		w := enhance("alice", `{"videoId": "`+videoID+`", "settings": {"resolution": "hd", "fps": "24", "denoise": false}}`)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		resp := decode(t, w)
		assert.Equal(t, true, resp["success"])
		assert.Equal(t, "Enhancement started", resp["message"])
		assert.Equal(t, videoID, resp["videoId"])
		assert.Equal(t, []string{videoID}, env.disp.ids)
	})

	t.Run("twice", func(t *testing.T) {
		w := enhance("alice", `{"videoId": "`+videoID+`"}`)
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("unknown video", func(t *testing.T) {
		w := enhance("alice", `{"videoId": "nope"}`)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("missing video id", func(t *testing.T) {
		w := enhance("alice", `{}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("get and list", func(t *testing.T) {
		w := env.do(t, httptest.NewRequest("GET", "/api/videos/"+videoID, nil), "alice")
		require.Equal(t, http.StatusOK, w.Code)
		var j job.Job
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &j))
		assert.Equal(t, job.StatusProcessing, j.Status)
		assert.Equal(t, "hd", j.Settings.Resolution)

		w = env.do(t, httptest.NewRequest("GET", "/api/videos?status=processing", nil), "alice")
		require.Equal(t, http.StatusOK, w.Code)
		var list []job.Job
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
		require.Len(t, list, 1)
		assert.Equal(t, videoID, list[0].ID)

		w = env.do(t, httptest.NewRequest("GET", "/api/videos?status=completed", nil), "alice")
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `[]`, w.Body.String())

		w = env.do(t, httptest.NewRequest("GET", "/api/videos/"+videoID, nil), "mallory")
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("file is served", func(t *testing.T) {
		filename := downloadURL[strings.LastIndex(downloadURL, "/")+1:]
		w := env.do(t, httptest.NewRequest("GET", "/outputs/"+filename, nil), "")
		require.Equal(t, http.StatusOK, w.Code)
		body, _ := io.ReadAll(w.Body)
		assert.Equal(t, videoBytes(2048), body)

		w = env.do(t, httptest.NewRequest("GET", "/api/download/"+filename, nil), "alice")
		assert.Equal(t, http.StatusOK, w.Code)

		w = env.do(t, httptest.NewRequest("GET", "/outputs/missing.mp4", nil), "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestAuthMiddleware(t *testing.T) {
	env := setupTestRouter(t)

	t.Run("no token", func(t *testing.T) {
		w := env.do(t, httptest.NewRequest("GET", "/api/videos", nil), "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("wrong format", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/videos", nil)
		req.Header.Set("Authorization", "Token abc")
		w := env.do(t, req, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("forged token", func(t *testing.T) {
		forged, err := auth.NewTokenManager("other-secret").Issue("alice", time.Hour)
		require.NoError(t, err)
		req := httptest.NewRequest("GET", "/api/videos", nil)
		req.Header.Set("Authorization", "Bearer "+forged)
		w := env.do(t, req, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("valid token", func(t *testing.T) {
		w := env.do(t, httptest.NewRequest("GET", "/api/videos", nil), "alice")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `[]`, w.Body.String())
	})

	t.Run("request id is echoed", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/videos", nil)
		req.Header.Set("X-Request-ID", "req-123")
		w := env.do(t, req, "alice")
		assert.Equal(t, "req-123", w.Header().Get("X-Request-ID"))
	})
}

func TestAbsoluteURLsWithoutBase(t *testing.T) {
	env := setupTestRouter(t)
	env.cfg.BaseURL = ""

	h := NewHandler(nil, nil, env.cfg, zerolog.Nop())
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("GET", "/api/status/x", nil)
	c.Request.Host = "localhost:8080"

	assert.Equal(t, "http://localhost:8080/outputs/a.mp4", h.absolute(c, "/outputs/a.mp4"))
	assert.Equal(t, "https://cdn/x.mp4", h.absolute(c, "https://cdn/x.mp4"))
	assert.Equal(t, "", h.absolute(c, ""))
}
