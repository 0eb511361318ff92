package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chaz8081/dictaflow/internal/audio"
	"github.com/chaz8081/dictaflow/internal/backend"
)

// uploader speaks the /audio/transcriptions multipart protocol shared by the
// cloud and local backends.
type uploader struct {
	client   *http.Client
	baseURL  string
	apiKey   string
	model    string
	language string
}

type transcriptionResponse struct {
	Text *string `json:"text"`
}

// upload sends the artifact and returns the trimmed text. timeout bounds a
// single request.
func (u *uploader) upload(ctx context.Context, a *audio.Artifact, timeout time.Duration) (string, error) {
	body, contentType, err := u.form(a)
	if err != nil {
		return "", err
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := strings.TrimRight(u.baseURL, "/") + "/audio/transcriptions"
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, body)
	if err != nil {
		return "", fmt.Errorf("transcribe: build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	if u.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+u.apiKey)
	}

	start := time.Now()
	resp, err := u.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("transcribe: %w", ctx.Err())
		}
		return "", fmt.Errorf("transcribe: %w", backend.Transport(err))
	}
	defer resp.Body.Close()

	if err := backend.CheckResponse(resp); err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}

	var out transcriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("transcribe: %w: decode response: %v", backend.ErrInvalid, err)
	}
	if out.Text == nil {
		return "", fmt.Errorf("transcribe: %w: response has no text field", backend.ErrInvalid)
	}

	text := strings.TrimSpace(*out.Text)
	slog.Debug("[transcribe] response", "url", url, "elapsed", time.Since(start).Round(time.Millisecond), "text", text)
	return text, nil
}

// form builds the multipart body in memory. Artifacts are capped by the
// capture max duration so they fit comfortably.
func (u *uploader) form(a *audio.Artifact) (io.Reader, string, error) {
	f, err := os.Open(a.Path)
	if err != nil {
		return nil, "", fmt.Errorf("transcribe: open artifact: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", filepath.Base(a.Path))
	if err != nil {
		return nil, "", fmt.Errorf("transcribe: create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("transcribe: copy artifact: %w", err)
	}

	fields := [][2]string{
		{"model", u.model},
		{"response_format", "json"},
	}
	if u.language != "" && u.language != "auto" {
		fields = append(fields, [2]string{"language", u.language})
	}
	for _, kv := range fields {
		if err := w.WriteField(kv[0], kv[1]); err != nil {
			return nil, "", fmt.Errorf("transcribe: write field %s: %w", kv[0], err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("transcribe: close form: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}
