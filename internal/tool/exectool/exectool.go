// Package exectool provides the command execution tools: exec.run and
// exec.sudo.
package exectool

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hoistdev/hoist/internal/engine"
	"github.com/hoistdev/hoist/internal/hoisterr"
	"github.com/hoistdev/hoist/internal/tool"
)

func init() {
	tool.Register(&runTool{})
	tool.Register(&sudoTool{})
}

// RunParams is the exec.run request shape.
type RunParams struct {
	SessionID      string            `json:"sessionId"`
	Command        string            `json:"command"`
	Cwd            string            `json:"cwd,omitempty"`
	Env            map[string]string `json:"env,omitempty"`
	TimeoutMs      int64             `json:"timeoutMs,omitempty"`
	AllowDangerous bool              `json:"allowDangerous,omitempty"`
}

// ExecResult is the wire shape shared by exec.run and exec.sudo.
type ExecResult struct {
	Code       int    `json:"code"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	DurationMs int64  `json:"durationMs"`
}

// result converts the engine shape.
func result(r *engine.Result) ExecResult {
	return ExecResult{
		Code:       r.ExitCode,
		Stdout:     r.Stdout,
		Stderr:     r.Stderr,
		DurationMs: r.Duration.Milliseconds(),
	}
}

type runTool struct{}

func (t *runTool) Name() string { return "exec.run" }

func (t *runTool) Describe() string {
	return "Run a command on a session"
}

func (t *runTool) Call(ctx context.Context, deps *tool.Deps, params json.RawMessage) (any, error) {
	var p RunParams
	if err := tool.DecodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Command == "" {
		return nil, hoisterr.New(hoisterr.KindBadRequest, "command is required")
	}

	res, err := deps.Engine.Exec(ctx, p.SessionID, engine.ExecRequest{
		Command:        p.Command,
		Cwd:            p.Cwd,
		Env:            p.Env,
		Timeout:        time.Duration(p.TimeoutMs) * time.Millisecond,
		AllowDangerous: p.AllowDangerous,
	})
	if err != nil {
		return nil, err
	}
	return result(res), nil
}

// SudoParams is the exec.sudo request shape.
type SudoParams struct {
	SessionID      string `json:"sessionId"`
	Command        string `json:"command"`
	Password       string `json:"password,omitempty"`
	Cwd            string `json:"cwd,omitempty"`
	TimeoutMs      int64  `json:"timeoutMs,omitempty"`
	AllowDangerous bool   `json:"allowDangerous,omitempty"`
}

type sudoTool struct{}

func (t *sudoTool) Name() string { return "exec.sudo" }

func (t *sudoTool) Describe() string {
	return "Run a command under sudo on a session"
}

func (t *sudoTool) Call(ctx context.Context, deps *tool.Deps, params json.RawMessage) (any, error) {
	var p SudoParams
	if err := tool.DecodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Command == "" {
		return nil, hoisterr.New(hoisterr.KindBadRequest, "command is required")
	}

	res, err := deps.Engine.Sudo(ctx, p.SessionID, engine.SudoRequest{
		Command:        p.Command,
		Password:       p.Password,
		Cwd:            p.Cwd,
		Timeout:        time.Duration(p.TimeoutMs) * time.Millisecond,
		AllowDangerous: p.AllowDangerous,
	})
	if err != nil {
		return nil, err
	}
	return result(res), nil
}
