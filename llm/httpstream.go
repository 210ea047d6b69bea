package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/buger/jsonparser"
)

// maxErrorBody bounds how much of a failed response is read for the message.
const maxErrorBody = 64 * 1024

type sseRequest struct {
	URL     string
	Headers map[string]string
	Payload any
}

// wireHandler translates the SSE events of one response. handle returning
// an error fails the turn; completed reports whether the wire format's
// terminal event has arrived.
type wireHandler interface {
	handle(ev SSEEvent) error
	completed() bool
}

// streamSSE runs one HTTP SSE exchange on a goroutine and returns the
// canonical event stream. The handler built by newHandler translates wire
// events through the turn's Accumulator.
func streamSSE(ctx context.Context, model Model, opts *StreamOptions, build func() (sseRequest, error), newHandler func(*Accumulator) wireHandler) *AssistantEventStream {
	out := NewAssistantEventStream()
	go func() {
		acc := NewAccumulator(model, out)
		defer func() {
			if r := recover(); r != nil {
				acc.Fail(ctx, &StreamError{SDKError: SDKError{Message: fmt.Sprintf("provider panic: %v", r)}})
			}
		}()

		req, err := build()
		if err != nil {
			acc.Fail(ctx, err)
			return
		}
		if opts.OnPayload != nil {
			opts.OnPayload(req.Payload)
		}

		body, err := postStream(ctx, opts, model, req)
		if err != nil {
			acc.Fail(ctx, err)
			return
		}
		defer body.Close()

		if err := consumeSSE(ctx, body, newHandler(acc)); err != nil {
			acc.Fail(ctx, err)
			return
		}
		acc.Done()
	}()
	return out
}

// postStream sends the JSON payload and returns the response body of a 2xx
// response. Any other status is classified with ErrorFromStatusCode.
func postStream(ctx context.Context, opts *StreamOptions, model Model, req sseRequest) (io.ReadCloser, error) {
	payload, err := json.Marshal(req.Payload)
	if err != nil {
		return nil, &ConfigurationError{SDKError: SDKError{Message: "encode request", Cause: err}}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, &ConfigurationError{SDKError: SDKError{Message: "build request", Cause: err}}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	for k, v := range model.Headers {
		httpReq.Header.Set(k, v)
	}
	for k, v := range opts.Headers {
		httpReq.Header.Set(k, v)
	}

	opts.logger().Debug("llm request", "api", model.API, "model", model.ID, "url", req.URL, "bytes", len(payload))

	resp, err := opts.httpClient().Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &NetworkError{SDKError: SDKError{Message: "request failed", Cause: err}}
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp.Body, nil
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg, code := errorMessageFromBody(raw)
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return nil, ErrorFromStatusCode(resp.StatusCode, msg, model.Provider, code, string(raw), RetryAfterFromHeader(resp.Header))
}

// errorMessageFromBody extracts a provider error message from the common
// {"error":{"message":..}} shapes, falling back to the raw body text.
func errorMessageFromBody(raw []byte) (msg, code string) {
	if m, err := jsonparser.GetString(raw, "error", "message"); err == nil {
		msg = m
	} else if m, err := jsonparser.GetString(raw, "message"); err == nil {
		msg = m
	} else if m, err := jsonparser.GetString(raw, "error"); err == nil {
		msg = m
	} else {
		msg = strings.TrimSpace(string(raw))
	}
	if c, err := jsonparser.GetString(raw, "error", "type"); err == nil {
		code = c
	} else if c, err := jsonparser.GetString(raw, "error", "code"); err == nil {
		code = c
	}
	return msg, code
}

// consumeSSE feeds every event of body to h until EOF. A body that ends
// before h has seen its terminal event is a StreamError.
func consumeSSE(ctx context.Context, body io.Reader, h wireHandler) error {
	reader := NewSSEReader(body)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ev, err := reader.Next()
		if errors.Is(err, io.EOF) {
			if !h.completed() {
				return &StreamError{SDKError: SDKError{Message: "stream ended before completion"}}
			}
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var streamErr *StreamError
			if errors.As(err, &streamErr) {
				return err
			}
			return &NetworkError{SDKError: SDKError{Message: "stream read failed", Cause: err}}
		}
		if err := h.handle(ev); err != nil {
			return err
		}
	}
}

// eventType returns the payload's "type" discriminator, falling back to the
// SSE event name.
func eventType(ev SSEEvent) string {
	if t, err := jsonparser.GetString(ev.Data, "type"); err == nil {
		return t
	}
	return ev.Event
}

func bearerHeaders(apiKey string) map[string]string {
	h := map[string]string{}
	if apiKey != "" {
		h["Authorization"] = "Bearer " + apiKey
	}
	return h
}

func baseURL(model Model, fallback string) string {
	if model.BaseURL != "" {
		return strings.TrimRight(model.BaseURL, "/")
	}
	return fallback
}
