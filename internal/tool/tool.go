// Package tool defines the tool-call surface: a registry of named tools
// and the dispatcher that turns requests into structured success or error
// payloads.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/hoistdev/hoist/internal/config"
	"github.com/hoistdev/hoist/internal/engine"
	"github.com/hoistdev/hoist/internal/hoisterr"
	"github.com/hoistdev/hoist/internal/session"
)

// Deps carries the core collaborators into tool calls.
type Deps struct {
	Sessions *session.Manager
	Engine   *engine.Engine
	Config   config.Config
	Log      *logrus.Entry
}

// Tool is one operation on the tool-call surface.
type Tool interface {
	// Name returns the tool's unique identifier, e.g. "session.open".
	Name() string

	// Describe returns a one-line summary for listings.
	Describe() string

	// Call executes the tool. params is the raw request payload.
	Call(ctx context.Context, deps *Deps, params json.RawMessage) (any, error)
}

// registry holds all registered tools.
var (
	registry   = make(map[string]Tool)
	registryMu sync.RWMutex
)

// Register adds a tool to the registry.
// It panics if a tool with the same name is already registered.
func Register(t Tool) {
	registryMu.Lock()
	defer registryMu.Unlock()

	name := t.Name()
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("tool %q is already registered", name))
	}
	registry[name] = t
}

// Get retrieves a tool by name. Returns nil if not found.
func Get(name string) Tool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return registry[name]
}

// List returns the names of all registered tools, sorted.
func List() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe returns the summary for a registered tool name.
func Describe(name string) string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if t, ok := registry[name]; ok {
		return t.Describe()
	}
	return ""
}

// Request is one tool call.
type Request struct {
	ID     any             `json:"id"`
	Tool   string          `json:"tool"`
	Params json.RawMessage `json:"params"`
}

// ErrorPayload is the structured error shape returned to callers.
type ErrorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

// Response is one tool result.
type Response struct {
	ID     any           `json:"id"`
	OK     bool          `json:"ok"`
	Result any           `json:"result,omitempty"`
	Error  *ErrorPayload `json:"error,omitempty"`
}

// Dispatch resolves and runs the requested tool. Every failure becomes a
// structured error payload; the dispatcher never panics outward and never
// terminates the process.
func Dispatch(ctx context.Context, deps *Deps, req Request) Response {
	t := Get(req.Tool)
	if t == nil {
		return errorResponse(req.ID, hoisterr.Newf(hoisterr.KindBadRequest,
			"unknown tool %q", req.Tool).
			WithHint("see the tools listing for valid names"))
	}

	result, err := t.Call(ctx, deps, req.Params)
	if err != nil {
		deps.Log.WithFields(logrus.Fields{
			"tool": req.Tool,
			"kind": hoisterr.KindOf(err),
		}).WithError(err).Debug("tool call failed")
		return errorResponse(req.ID, err)
	}

	return Response{ID: req.ID, OK: true, Result: result}
}

// errorResponse converts a classified error into the wire shape.
func errorResponse(id any, err error) Response {
	return Response{
		ID: id,
		OK: false,
		Error: &ErrorPayload{
			Kind:    string(hoisterr.KindOf(err)),
			Message: err.Error(),
			Hint:    hoisterr.HintOf(err),
		},
	}
}

// DecodeParams unmarshals a request payload into the tool's typed shape.
func DecodeParams(params json.RawMessage, v any) error {
	if len(params) == 0 {
		return nil
	}
	if err := json.Unmarshal(params, v); err != nil {
		return hoisterr.Wrap(hoisterr.KindBadRequest, "malformed parameters", err)
	}
	return nil
}
