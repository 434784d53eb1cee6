// Package server runs the line-delimited JSON tool-call loop.
//
// Each request is one line on the reader: {"id":1,"tool":"exec.run",
// "params":{...}}. Each response is one line on the writer. Requests run
// concurrently; responses carry the request id so callers can correlate
// them out of order.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/hoistdev/hoist/internal/hoisterr"
	"github.com/hoistdev/hoist/internal/tool"
)

// maxLine bounds a single request line (generous headroom for inline
// file uploads).
const maxLine = 16 * 1024 * 1024

// Server dispatches tool calls read from a stream.
type Server struct {
	deps *tool.Deps

	mu  sync.Mutex
	enc *json.Encoder
}

// New creates a server over the given dependencies.
func New(deps *tool.Deps) *Server {
	return &Server{deps: deps}
}

// Serve reads requests until EOF or context cancellation. It always
// answers, even for malformed lines; it never terminates the process on a
// per-call error.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	s.enc = json.NewEncoder(w)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLine)

	var wg sync.WaitGroup
	for scanner.Scan() {
		if ctx.Err() != nil {
			break
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req tool.Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.write(tool.Response{
				OK: false,
				Error: &tool.ErrorPayload{
					Kind:    string(hoisterr.KindBadRequest),
					Message: "malformed request line: " + err.Error(),
					Hint:    `send {"id":..,"tool":"..","params":{..}} as one line`,
				},
			})
			continue
		}

		wg.Add(1)
		go func(req tool.Request) {
			defer wg.Done()
			s.write(tool.Dispatch(ctx, s.deps, req))
		}(req)
	}

	wg.Wait()
	return scanner.Err()
}

// write serializes one response. The encoder is shared across request
// goroutines, so writes are serialized here.
func (s *Server) write(resp tool.Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(resp); err != nil {
		s.deps.Log.WithError(err).Error("cannot write response")
	}
}
