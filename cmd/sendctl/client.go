package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"payconfirm/services/sendd"
)

var errNoWorkflow = errors.New("no active workflow")

// apiClient talks to the sendd HTTP API.
type apiClient struct {
	endpoint string
	token    string
	http     *http.Client
}

func newAPIClient(endpoint, token string, timeout time.Duration) *apiClient {
	return &apiClient{
		endpoint: strings.TrimRight(endpoint, "/"),
		token:    token,
		http:     &http.Client{Timeout: timeout},
	}
}

func (c *apiClient) Begin(ctx context.Context, invoice string) (sendd.View, error) {
	var view sendd.View
	_, err := c.do(ctx, http.MethodPost, "/v1/workflow", map[string]string{"invoice": invoice}, &view, http.StatusCreated)
	return view, err
}

func (c *apiClient) View(ctx context.Context) (sendd.View, error) {
	var view sendd.View
	_, err := c.do(ctx, http.MethodGet, "/v1/workflow", nil, &view, http.StatusOK)
	return view, err
}

// Submit returns the submit response for both accepted (200) and rejected
// (409) calls.
func (c *apiClient) Submit(ctx context.Context) (sendd.SubmitResponse, error) {
	var resp sendd.SubmitResponse
	_, err := c.do(ctx, http.MethodPost, "/v1/workflow/submit", nil, &resp, http.StatusOK, http.StatusConflict)
	return resp, err
}

func (c *apiClient) Abandon(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodDelete, "/v1/workflow", nil, nil, http.StatusNoContent)
	return err
}

func (c *apiClient) Dismiss(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, "/v1/notifications/dismiss", nil, nil, http.StatusOK)
	return err
}

// Stream invokes fn for every frame until fn returns false, ctx ends or the
// server closes the stream.
func (c *apiClient) Stream(ctx context.Context, fn func(sendd.StreamFrame) bool) error {
	wsURL := "ws" + strings.TrimPrefix(c.endpoint, "http") + "/v1/workflow/stream"
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return err
		}
		var frame sendd.StreamFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			return fmt.Errorf("decode frame: %w", err)
		}
		if !fn(frame) {
			return nil
		}
	}
}

func (c *apiClient) do(ctx context.Context, method, path string, body any, out any, accept ...int) (int, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reader)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return resp.StatusCode, errNoWorkflow
	}
	for _, code := range accept {
		if resp.StatusCode != code {
			continue
		}
		if out == nil {
			return resp.StatusCode, nil
		}
		return resp.StatusCode, json.NewDecoder(resp.Body).Decode(out)
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return resp.StatusCode, fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
}
