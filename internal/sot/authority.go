package sot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/leozw/blueprint-sot/internal/core"
)

// Authority is the central source of truth.
type Authority interface {
	Declare(ctx context.Context, doc DeclarationDocument) (*Ack, error)
	CheckIn(ctx context.Context, payload CheckInPayload) (*Ack, error)
}

// HTTPAuthority talks to the authority's REST API with a bearer token.
type HTTPAuthority struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewHTTPAuthority(baseURL, token string, timeout time.Duration) *HTTPAuthority {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPAuthority{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

func (a *HTTPAuthority) Declare(ctx context.Context, doc DeclarationDocument) (*Ack, error) {
	return a.post(ctx, "sot.Declare", "/api/v1/declarations", doc)
}

func (a *HTTPAuthority) CheckIn(ctx context.Context, payload CheckInPayload) (*Ack, error) {
	return a.post(ctx, "sot.CheckIn", "/api/v1/checkins", payload)
}

func (a *HTTPAuthority) post(ctx context.Context, op, path string, body any) (*Ack, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, core.SyncTransport(op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, core.SyncTransport(op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, core.SyncTransport(op, fmt.Errorf("authority responded %s: %s", resp.Status, strings.TrimSpace(string(raw))))
	}

	var ack Ack
	if err := json.Unmarshal(raw, &ack); err != nil {
		return nil, core.SyncTransport(op, fmt.Errorf("decode acknowledgment: %w", err))
	}
	if !ack.Acknowledged {
		msg := ack.Message
		if msg == "" {
			msg = "not acknowledged"
		}
		return nil, core.SyncTransport(op, fmt.Errorf("authority rejected request: %s", msg))
	}
	return &ack, nil
}
