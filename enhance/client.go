package enhance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

// HTTPBackend talks to a remote enhancement server:
//
//	POST {base}/api/upload          multipart submission -> {"task_id": ...}
//	GET  {base}/api/status/{taskId} -> Status
//	GET  {base}/outputs/{filename}  -> artifact bytes
type HTTPBackend struct {
	BaseURL string
	Token   string
	Client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

func NewHTTPBackend(baseURL, token string, timeout time.Duration) *HTTPBackend {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &HTTPBackend{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		Token:   token,
		Client:  &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "enhance-backend",
			MaxRequests: 1,
			Interval:    30 * time.Second,
			Timeout:     10 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

// serverError is a 5xx reply. It counts as a breaker failure, 4xx replies do not.
type serverError struct {
	code    int
	message string
}

func (e *serverError) Error() string {
	return fmt.Sprintf("status %d: %s", e.code, e.message)
}

func (b *HTTPBackend) do(req *http.Request) (*http.Response, error) {
	if b.Token != "" {
		req.Header.Set("Authorization", "Bearer "+b.Token)
	}
	out, err := b.breaker.Execute(func() (interface{}, error) {
		resp, err := b.Client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			defer resp.Body.Close()
			return nil, &serverError{code: resp.StatusCode, message: readErrorMessage(resp)}
		}
		return resp, nil
	})
	if err != nil {
		return nil, err
	}
	return out.(*http.Response), nil
}

// readErrorMessage extracts {"error": "..."} from a reply, falling back to the raw body.
func readErrorMessage(resp *http.Response) string {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		return body.Error
	}
	if msg := strings.TrimSpace(string(raw)); msg != "" {
		return msg
	}
	return http.StatusText(resp.StatusCode)
}

func writeSubmission(mw *multipart.Writer, s Submission) error {
	contentType := s.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="video"; filename=%q`, s.Filename))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, s.File); err != nil {
		return err
	}

	fields := [][2]string{
		{"enhancement_type", string(s.Type)},
		{"resolution", s.Settings.Resolution},
		{"fps", s.Settings.FPS},
		{"denoise", strconv.FormatBool(s.Settings.Denoise)},
		{"color_enhance", strconv.FormatBool(s.Settings.ColorEnhance)},
		{"stabilize", strconv.FormatBool(s.Settings.Stabilize)},
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return err
		}
	}
	return mw.Close()
}

// Submit streams the video to the backend and returns the task id it assigned.
func (b *HTTPBackend) Submit(ctx context.Context, s Submission) (string, error) {
	pr, pw := io.Pipe()
	// Unblocks the writer when the request never consumes the body,
	// e.g. while the breaker is open.
	defer pr.Close()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeSubmission(mw, s))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.BaseURL+"/api/upload", pr)
	if err != nil {
		return "", &SubmissionError{Message: err.Error(), Err: err}
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := b.do(req)
	if err != nil {
		var se *serverError
		if errors.As(err, &se) {
			return "", &SubmissionError{StatusCode: se.code, Message: se.message, Err: err}
		}
		return "", &SubmissionError{Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &SubmissionError{StatusCode: resp.StatusCode, Message: readErrorMessage(resp)}
	}

	var ack struct {
		TaskID string `json:"task_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return "", &SubmissionError{StatusCode: resp.StatusCode, Message: "invalid acknowledgment", Err: err}
	}
	if ack.TaskID == "" {
		return "", &SubmissionError{StatusCode: resp.StatusCode, Message: "backend returned no task id"}
	}
	return ack.TaskID, nil
}

func (b *HTTPBackend) Status(ctx context.Context, taskID string) (*Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		b.BaseURL+"/api/status/"+url.PathEscape(taskID), nil)
	if err != nil {
		return nil, &PollingError{TaskID: taskID, Err: err}
	}

	resp, err := b.do(req)
	if err != nil {
		var se *serverError
		if errors.As(err, &se) {
			return nil, &PollingError{TaskID: taskID, StatusCode: se.code, Err: errors.New(se.message)}
		}
		return nil, &PollingError{TaskID: taskID, Err: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, &AuthorizationError{Reason: readErrorMessage(resp)}
	default:
		return nil, &PollingError{TaskID: taskID, StatusCode: resp.StatusCode, Err: errors.New(readErrorMessage(resp))}
	}

	var st Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return nil, &PollingError{TaskID: taskID, StatusCode: resp.StatusCode, Err: err}
	}
	if st.TaskID == "" {
		st.TaskID = taskID
	}
	return &st, nil
}

// Download copies the artifact named filename into w.
func (b *HTTPBackend) Download(ctx context.Context, filename string, w io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		b.BaseURL+"/outputs/"+url.PathEscape(filename), nil)
	if err != nil {
		return 0, err
	}
	resp, err := b.do(req)
	if err != nil {
		return 0, fmt.Errorf("download %s: %w", filename, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("download %s: status %d: %s", filename, resp.StatusCode, readErrorMessage(resp))
	}
	return io.Copy(w, resp.Body)
}

var _ Backend = (*HTTPBackend)(nil)
