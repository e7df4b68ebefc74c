package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"vidiox/config"
	"vidiox/enhance"
	"vidiox/job"
	"vidiox/storage"
	"vidiox/video"
)

// multipartSlack covers form fields and boundaries on top of the file itself.
const multipartSlack = 1 << 20

type Handler struct {
	videos *video.Service
	files  *storage.FileStore
	cfg    *config.Config
	log    zerolog.Logger
}

func NewHandler(videos *video.Service, files *storage.FileStore, cfg *config.Config, log zerolog.Logger) *Handler {
	return &Handler{
		videos: videos,
		files:  files,
		cfg:    cfg,
		log:    log,
	}
}

type EnhanceRequest struct {
	VideoID         string              `json:"videoId" binding:"required"`
	Settings        *job.Settings       `json:"settings"`
	EnhancementType job.EnhancementType `json:"enhancement_type"`
}

// writeError maps domain errors onto status codes with the {"error": ...} body.
func (h *Handler) writeError(c *gin.Context, err error) {
	var authErr *enhance.AuthorizationError
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &authErr):
		status = http.StatusForbidden
	case errors.Is(err, job.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, video.ErrInvalidInput), errors.Is(err, storage.ErrInvalidName):
		status = http.StatusBadRequest
	case errors.Is(err, storage.ErrTooLarge):
		status = http.StatusRequestEntityTooLarge
	case errors.Is(err, job.ErrAlreadyRunning), errors.Is(err, job.ErrTerminal),
		errors.Is(err, job.ErrConflict), errors.Is(err, job.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, video.ErrUnavailable):
		status = http.StatusServiceUnavailable
	}

	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Str("request_id", c.GetString(requestIDKey)).Msg("request failed")
		msg = "internal error"
	}
	c.JSON(status, gin.H{"error": msg})
}

// baseURL is the configured public URL, or one derived from the request.
func (h *Handler) baseURL(c *gin.Context) string {
	baseURL := h.cfg.BaseURL
	if baseURL == "" {
		scheme := "http"
		if c.Request.TLS != nil {
			scheme = "https"
		}
		baseURL = fmt.Sprintf("%s://%s", scheme, c.Request.Host)
	}
	return strings.TrimSuffix(baseURL, "/")
}

// absolute turns a stored "/outputs/..." URL into a full one when BASE is unset.
func (h *Handler) absolute(c *gin.Context, u string) string {
	if strings.HasPrefix(u, "/") {
		return h.baseURL(c) + u
	}
	return u
}

func (h *Handler) present(c *gin.Context, j *job.Job) *job.Job {
	out := j.Clone()
	out.SourceURL = h.absolute(c, out.SourceURL)
	out.ResultURL = h.absolute(c, out.ResultURL)
	return out
}

// settingsFromForm returns nil when the form carries no settings at all, so the
// defaults apply. Fields that are present override the defaults one by one.
func settingsFromForm(c *gin.Context) (*job.Settings, error) {
	s := job.DefaultSettings()
	found := false
	if v, ok := c.GetPostForm("resolution"); ok && v != "" {
		s.Resolution, found = strings.ToLower(v), true
	}
	if v, ok := c.GetPostForm("fps"); ok && v != "" {
		s.FPS, found = v, true
	}
	for _, f := range []struct {
		name string
		dst  *bool
	}{
		{"denoise", &s.Denoise},
		{"color_enhance", &s.ColorEnhance},
		{"stabilize", &s.Stabilize},
	} {
		v, ok := c.GetPostForm(f.name)
		if !ok || v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s must be a boolean", video.ErrInvalidInput, f.name)
		}
		*f.dst, found = b, true
	}
	if !found {
		return nil, nil
	}
	return &s, nil
}

// openUpload pulls the "video" part out of the multipart form.
func (h *Handler) openUpload(c *gin.Context) (video.UploadInput, func(), error) {
	if h.cfg.MaxInputSize > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.cfg.MaxInputSize+multipartSlack)
	}
	fh, err := c.FormFile("video")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return video.UploadInput{}, nil, storage.ErrTooLarge
		}
		return video.UploadInput{}, nil, fmt.Errorf("%w: video file is required", video.ErrInvalidInput)
	}
	if h.cfg.MaxInputSize > 0 && fh.Size > h.cfg.MaxInputSize {
		return video.UploadInput{}, nil, storage.ErrTooLarge
	}
	f, err := fh.Open()
	if err != nil {
		return video.UploadInput{}, nil, err
	}
	return video.UploadInput{File: f, Filename: fh.Filename}, func() { f.Close() }, nil
}

// handleSubmit stores the video and starts enhancement in one call.
func (h *Handler) handleSubmit(c *gin.Context) {
	up, closeFile, err := h.openUpload(c)
	if err != nil {
		h.writeError(c, err)
		return
	}
	defer closeFile()
	settings, err := settingsFromForm(c)
	if err != nil {
		h.writeError(c, err)
		return
	}

	in := video.EnhanceInput{
		Settings: settings,
		Type:     job.EnhancementType(c.PostForm("enhancement_type")),
	}
	j, err := h.videos.UploadAndEnhance(c.Request.Context(), c.GetString(ownerKey), up, in)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"task_id": j.ID, "status": j.Status})
}

// handleUpload stores a video without starting it.
func (h *Handler) handleUpload(c *gin.Context) {
	up, closeFile, err := h.openUpload(c)
	if err != nil {
		h.writeError(c, err)
		return
	}
	defer closeFile()

	j, err := h.videos.Upload(c.Request.Context(), c.GetString(ownerKey), up)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"success":     true,
		"videoId":     j.ID,
		"downloadURL": h.absolute(c, j.SourceURL),
	})
}

// handleEnhance starts processing a previously uploaded video.
func (h *Handler) handleEnhance(c *gin.Context) {
	var req EnhanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	in := video.EnhanceInput{Settings: req.Settings, Type: req.EnhancementType}
	j, err := h.videos.Enhance(c.Request.Context(), c.GetString(ownerKey), req.VideoID, in)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Enhancement started",
		"videoId": j.ID,
	})
}

func (h *Handler) handleGetStatus(c *gin.Context) {
	st, err := h.videos.Status(c.Request.Context(), c.GetString(ownerKey), c.Param("taskId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	st.DownloadURL = h.absolute(c, st.DownloadURL)
	c.JSON(http.StatusOK, st)
}

func (h *Handler) handleListVideos(c *gin.Context) {
	jobs, err := h.videos.List(c.Request.Context(), c.GetString(ownerKey), job.Status(c.Query("status")))
	if err != nil {
		h.writeError(c, err)
		return
	}
	out := make([]*job.Job, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, h.present(c, j))
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) handleGetVideo(c *gin.Context) {
	j, err := h.videos.Get(c.Request.Context(), c.GetString(ownerKey), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.present(c, j))
}

// handleGetFile serves a stored video or artifact.
func (h *Handler) handleGetFile(c *gin.Context) {
	filename := c.Param("filename")
	filePath, err := h.files.Path(filename)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.File(filePath)
}
