package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/hupe1980/agentweave/core"
)

// RemoteAgentOptions configures a RemoteAgent.
type RemoteAgentOptions struct {
	// RemoteName is the agent name on the server (default: the local name).
	RemoteName  string
	Description string
	// SessionID makes every call a turn of that server side session.
	SessionID  string
	HTTPClient *http.Client
	Header     http.Header
}

// RemoteAgent invokes an agent served by another process.
type RemoteAgent struct {
	name    string
	baseURL string
	opts    RemoteAgentOptions
}

// NewRemoteAgent creates an agent called name that forwards to baseURL.
func NewRemoteAgent(name, baseURL string, optFns ...func(o *RemoteAgentOptions)) *RemoteAgent {
	opts := RemoteAgentOptions{RemoteName: name, HTTPClient: http.DefaultClient}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Description == "" {
		opts.Description = fmt.Sprintf("Remote agent %s at %s", opts.RemoteName, baseURL)
	}

	return &RemoteAgent{name: name, baseURL: strings.TrimRight(baseURL, "/"), opts: opts}
}

// Name returns the local agent name.
func (a *RemoteAgent) Name() string { return a.name }

// Description returns the agent description.
func (a *RemoteAgent) Description() string { return a.opts.Description }

// Shutdown is a no-op.
func (a *RemoteAgent) Shutdown() error { return nil }

// Process implements core.Agent.
func (a *RemoteAgent) Process(ctx *core.ExecutionContext, input core.Message, opts core.ProcessOptions) (core.Response, error) {
	resp, err := a.post(ctx.Context(), input, opts.Streaming)
	if err != nil {
		return core.Response{}, err
	}

	if !opts.Streaming {
		defer resp.Body.Close()

		var out InvokeResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return core.Response{}, fmt.Errorf("decode response of %s: %w", a.opts.RemoteName, err)
		}

		return core.MessageResponse(out.Output), nil
	}

	return core.StreamResponse(core.Generate(ctx.Context(), func(_ context.Context, yield core.YieldFunc) error {
		defer resp.Body.Close()

		return ReadEvents(resp.Body, func(c core.Chunk) error {
			if c.Err != nil {
				return c.Err
			}

			return yield(c)
		})
	})), nil
}

func (a *RemoteAgent) post(ctx context.Context, input core.Message, streaming bool) (*http.Response, error) {
	body, err := json.Marshal(InvokeRequest{
		Agent:     a.opts.RemoteName,
		Input:     input,
		Options:   InvokeOptions{Streaming: streaming},
		SessionID: a.opts.SessionID,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/invoke", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	for k, v := range a.opts.Header {
		req.Header[k] = v
	}

	req.Header.Set("Content-Type", "application/json")

	if streaming {
		req.Header.Set("Accept", "text/event-stream")
	}

	resp, err := a.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("invoke %s: %w", a.opts.RemoteName, err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeError(resp.StatusCode, resp.Body)
	}

	return resp, nil
}

// decodeError rebuilds a failure from an error body. A zero status is
// derived from the error type.
func decodeError(status int, r io.Reader) error {
	var body ErrorResponse
	if err := json.NewDecoder(r).Decode(&body); err != nil || body.Error.Type == "" {
		return &RemoteError{StatusCode: status, Type: "Error", Message: http.StatusText(status)}
	}

	e := &RemoteError{StatusCode: status, Type: body.Error.Type, Message: body.Error.Message}
	if status == 0 {
		e.StatusCode = StatusCode(e)
	}

	return e
}

// ReadEvents parses a server-sent event stream produced by the invoke
// endpoint and calls fn for every chunk. An error event becomes a chunk with
// Err set to a RemoteError.
func ReadEvents(r io.Reader, fn func(core.Chunk) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var (
		event string
		data  strings.Builder
	)

	dispatch := func() error {
		defer func() {
			event = ""
			data.Reset()
		}()

		if data.Len() == 0 {
			return nil
		}

		if event == "error" {
			return fn(core.ErrorChunk(decodeError(0, strings.NewReader(data.String()))))
		}

		var c core.Chunk
		if err := json.Unmarshal([]byte(data.String()), &c); err != nil {
			return &core.StreamError{Err: fmt.Errorf("decode event: %w", err)}
		}

		return fn(c)
	}

	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case line == "":
			if err := dispatch(); err != nil {
				return err
			}
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}

			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}

	if err := scanner.Err(); err != nil {
		return &core.StreamError{Err: err}
	}

	return dispatch()
}
