// Package factstool reports the cached platform descriptor of a session
// together with a few live probes.
package factstool

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/hoistdev/hoist/internal/engine"
	"github.com/hoistdev/hoist/internal/hoisterr"
	"github.com/hoistdev/hoist/internal/tool"
)

func init() {
	tool.Register(&gatherTool{})
}

// Params is the facts.gather request shape.
type Params struct {
	SessionID string `json:"sessionId"`
	TimeoutMs int64  `json:"timeoutMs,omitempty"`
}

type gatherTool struct{}

func (t *gatherTool) Name() string { return "facts.gather" }

func (t *gatherTool) Describe() string {
	return "Report the target's platform descriptor and basic identity"
}

func (t *gatherTool) Call(ctx context.Context, deps *tool.Deps, params json.RawMessage) (any, error) {
	var p Params
	if err := tool.DecodeParams(params, &p); err != nil {
		return nil, err
	}

	sess := deps.Sessions.Get(p.SessionID)
	if sess == nil {
		return nil, hoisterr.Newf(hoisterr.KindSessionNotFound,
			"session %s not found or expired", p.SessionID).
			WithHint("open a new session or reconnect")
	}

	facts := map[string]any{
		"platform":     string(sess.OS.Platform),
		"family":       sess.OS.Family,
		"distribution": sess.OS.Distribution,
		"version":      sess.OS.Version,
		"arch":         sess.OS.Arch,
		"kernel":       sess.OS.Kernel,
		"pkgManager":   sess.OS.PkgManager,
		"shell":        sess.OS.Shell,
		"initSystem":   sess.OS.InitSystem,
	}

	// Live probes are best-effort; a failed probe leaves its key out.
	timeout := time.Duration(p.TimeoutMs) * time.Millisecond
	probe := func(key, cmd string) {
		res, err := deps.Engine.Exec(ctx, p.SessionID, engine.ExecRequest{
			Command: cmd,
			Timeout: timeout,
		})
		if err == nil && res.ExitCode == 0 {
			facts[key] = strings.TrimSpace(res.Stdout)
		}
	}

	if !sess.OS.IsWindows() {
		probe("hostname", "hostname")
		probe("user", "whoami")
		probe("home", "echo $HOME")
	} else {
		probe("hostname", "hostname")
		probe("user", "whoami")
	}

	return facts, nil
}
