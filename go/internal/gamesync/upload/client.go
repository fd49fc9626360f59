// Package upload talks to the file upload API. Only the returned reference
// is kept in game state, never the bytes.
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/cardsync/go/clients"
	"github.com/mcdev12/cardsync/go/internal/models"
	"github.com/rs/zerolog/log"
)

const uploadsEndpoint = "/uploads"

var ErrEmptyURL = errors.New("upload API returned no file url")

type Client struct {
	*clients.BaseClient
	clock clockwork.Clock
}

type Option func(*Client)

func WithClock(clock clockwork.Clock) Option {
	return func(c *Client) { c.clock = clock }
}

func NewClient(baseURL, token string, timeout time.Duration, opts ...Option) *Client {
	base := clients.NewBaseClient(baseURL)
	base.SetHeader("Accept", "application/json")
	if token != "" {
		base.SetHeader("Authorization", "Bearer "+token)
	}
	if timeout > 0 {
		base.SetTimeout(timeout)
	}
	c := &Client{BaseClient: base, clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type uploadResponse struct {
	URL        string `json:"url"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	Size       int64  `json:"size"`
	UploadedAt int64  `json:"uploadedAt"`
}

// Upload posts r as a multipart "file" field and returns the stored file's
// reference. Fields the API leaves out are filled from the request.
func (c *Client) Upload(ctx context.Context, name, mimeType string, r io.Reader) (*models.UploadedFile, error) {
	if name == "" {
		return nil, errors.New("invalid upload: file name is required")
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	header.Set("Content-Type", mimeType)
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload part: %w", err)
	}
	size, err := io.Copy(part, r)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish upload body: %w", err)
	}

	data, err := c.Post(ctx, uploadsEndpoint, w.FormDataContentType(), &body)
	if err != nil {
		return nil, fmt.Errorf("failed to upload %s: %w", name, err)
	}

	var resp uploadResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode upload response: %w", err)
	}
	if resp.URL == "" {
		return nil, ErrEmptyURL
	}

	file := &models.UploadedFile{
		Name:       resp.Name,
		MimeType:   resp.Type,
		Size:       resp.Size,
		URL:        resp.URL,
		UploadedAt: resp.UploadedAt,
	}
	if file.Name == "" {
		file.Name = name
	}
	if file.MimeType == "" {
		file.MimeType = mimeType
	}
	if file.Size == 0 {
		file.Size = size
	}
	if file.UploadedAt == 0 {
		file.UploadedAt = c.clock.Now().UnixMilli()
	}

	log.Info().
		Str("name", file.Name).
		Int64("size", file.Size).
		Str("url", file.URL).
		Msg("uploaded file")
	return file, nil
}
