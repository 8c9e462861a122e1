package flows

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxResponseBody bounds how much of a response a flow will read.
const maxResponseBody = 4 << 20

const contentTypeJSON = "application/json"

// Exchange is one completed HTTP round-trip.
type Exchange struct {
	StatusCode int
	Body       []byte
}

// OK reports a 2xx status.
func (e Exchange) OK() bool {
	return e.StatusCode >= 200 && e.StatusCode < 300
}

// Detail extracts the server's error message from a FastAPI-style
// {"detail": ...} body. Validation errors carry a list; their messages are joined.
func (e Exchange) Detail() string {
	return Detail(e.Body)
}

// Detail extracts the "detail" message from an error body.
func Detail(body []byte) string {
	var envelope struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Detail) == 0 {
		return ""
	}
	var msg string
	if err := json.Unmarshal(envelope.Detail, &msg); err == nil {
		return msg
	}
	var items []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(envelope.Detail, &items); err == nil {
		parts := make([]string, 0, len(items))
		for _, it := range items {
			if it.Msg != "" {
				parts = append(parts, it.Msg)
			}
		}
		return strings.Join(parts, "; ")
	}
	return string(envelope.Detail)
}

// jsonBody encodes payload for a request body. A nil payload yields no body.
func jsonBody(payload any) (io.Reader, error) {
	if payload == nil {
		return nil, nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		return bytes.NewReader(raw), nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request body: %w", err)
	}
	return bytes.NewReader(data), nil
}

func exchange(ctx context.Context, client *http.Client, method, url, contentType string, body io.Reader) (Exchange, error) {
	if client == nil {
		return Exchange{}, errors.New("flows: http client is nil")
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return Exchange{}, err
	}
	req.Header.Set("Accept", contentTypeJSON)
	if body != nil && contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := client.Do(req)
	if err != nil {
		return Exchange{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return Exchange{StatusCode: resp.StatusCode}, fmt.Errorf("read response body: %w", err)
	}
	return Exchange{StatusCode: resp.StatusCode, Body: data}, nil
}
