// Package servicetool provides service management tools over a session,
// selecting the command table from the target's detected init system.
package servicetool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hoistdev/hoist/internal/command"
	"github.com/hoistdev/hoist/internal/engine"
	"github.com/hoistdev/hoist/internal/hoisterr"
	"github.com/hoistdev/hoist/internal/tool"
)

func init() {
	tool.Register(&actionTool{name: "service.start", action: "start"})
	tool.Register(&actionTool{name: "service.stop", action: "stop"})
	tool.Register(&actionTool{name: "service.restart", action: "restart"})
	tool.Register(&statusTool{})
}

// cmds is the command table for one init system. Entries are format
// strings taking the quoted service name.
type cmds struct {
	start   string
	stop    string
	restart string
	// status exits zero when the service is running.
	status string
}

// inits maps detected init systems onto their command tables.
var inits = map[string]cmds{
	"systemd": {
		start:   "systemctl start %s",
		stop:    "systemctl stop %s",
		restart: "systemctl restart %s",
		status:  "systemctl is-active --quiet %s",
	},
	"openrc": {
		start:   "rc-service %s start",
		stop:    "rc-service %s stop",
		restart: "rc-service %s restart",
		status:  "rc-service %s status",
	},
	"launchd": {
		start:   "launchctl start %s",
		stop:    "launchctl stop %s",
		restart: "launchctl kickstart -k system/%s",
		status:  "launchctl list %s",
	},
}

// Params is the request shape shared by the service tools.
type Params struct {
	SessionID string `json:"sessionId"`
	Name      string `json:"name"`
	Sudo      bool   `json:"sudo,omitempty"`
	Password  string `json:"password,omitempty"`
	TimeoutMs int64  `json:"timeoutMs,omitempty"`
}

// table resolves the command table for the session's init system.
func table(deps *tool.Deps, sessionID string) (cmds, error) {
	sess := deps.Sessions.Get(sessionID)
	if sess == nil {
		return cmds{}, hoisterr.Newf(hoisterr.KindSessionNotFound,
			"session %s not found or expired", sessionID).
			WithHint("open a new session or reconnect")
	}

	c, ok := inits[sess.OS.InitSystem]
	if !ok {
		return cmds{}, hoisterr.Newf(hoisterr.KindBadRequest,
			"no supported init system detected on %s", sess.Target.Host).
			WithHint("supported init systems: systemd, openrc, launchd")
	}
	return c, nil
}

// run executes a service command, escalating when requested.
func run(ctx context.Context, deps *tool.Deps, p Params, cmd string) (*engine.Result, error) {
	timeout := time.Duration(p.TimeoutMs) * time.Millisecond
	if p.Sudo {
		return deps.Engine.Sudo(ctx, p.SessionID, engine.SudoRequest{
			Command:  cmd,
			Password: p.Password,
			Timeout:  timeout,
		})
	}
	return deps.Engine.Exec(ctx, p.SessionID, engine.ExecRequest{
		Command: cmd,
		Timeout: timeout,
	})
}

// decode validates the shared service shape.
func decode(params json.RawMessage) (Params, error) {
	var p Params
	if err := tool.DecodeParams(params, &p); err != nil {
		return p, err
	}
	if p.Name == "" {
		return p, hoisterr.New(hoisterr.KindBadRequest, "name is required")
	}
	return p, nil
}

// actionTool covers start, stop, and restart, which share a shape.
type actionTool struct {
	name   string
	action string
}

func (t *actionTool) Name() string { return t.name }

func (t *actionTool) Describe() string {
	return t.action + " a service on the target"
}

func (t *actionTool) Call(ctx context.Context, deps *tool.Deps, params json.RawMessage) (any, error) {
	p, err := decode(params)
	if err != nil {
		return nil, err
	}

	c, err := table(deps, p.SessionID)
	if err != nil {
		return nil, err
	}

	var format string
	switch t.action {
	case "start":
		format = c.start
	case "stop":
		format = c.stop
	case "restart":
		format = c.restart
	}

	res, err := run(ctx, deps, p, fmt.Sprintf(format, command.QuotePOSIX(p.Name)))
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, hoisterr.Newf(hoisterr.KindInternal,
			"service %s %s failed: %s", p.Name, t.action, strings.TrimSpace(res.Stderr)).
			WithHint("run with sudo=true if the service manager needs root")
	}

	return map[string]any{"ok": true, "durationMs": res.Duration.Milliseconds()}, nil
}

type statusTool struct{}

func (t *statusTool) Name() string { return "service.status" }

func (t *statusTool) Describe() string {
	return "Report whether a service is running"
}

func (t *statusTool) Call(ctx context.Context, deps *tool.Deps, params json.RawMessage) (any, error) {
	p, err := decode(params)
	if err != nil {
		return nil, err
	}

	c, err := table(deps, p.SessionID)
	if err != nil {
		return nil, err
	}

	res, err := run(ctx, deps, p, fmt.Sprintf(c.status, command.QuotePOSIX(p.Name)))
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"active": res.ExitCode == 0,
		"output": strings.TrimSpace(res.Stdout),
	}, nil
}
