// Package pkgtool provides package management tools over a session,
// selecting the command table from the target's detected package manager.
package pkgtool

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
	tool.Register(&installTool{})
	tool.Register(&removeTool{})
	tool.Register(&statusTool{})
}

// cmds is the table of commands for one package manager. Each entry is a
// format string taking the quoted package list.
type cmds struct {
	install string
	remove  string
	// query exits zero when the single package is installed.
	query string
}

// managers maps detected package managers onto their command tables.
var managers = map[string]cmds{
	"apt": {
		install: "DEBIAN_FRONTEND=noninteractive apt-get install -y -qq %s",
		remove:  "DEBIAN_FRONTEND=noninteractive apt-get remove -y -qq %s",
		query:   "dpkg-query -W -f='${Status}' %s 2>/dev/null | grep -q 'install ok installed'",
	},
	"dnf": {
		install: "dnf install -y -q %s",
		remove:  "dnf remove -y -q %s",
		query:   "rpm -q %s",
	},
	"pacman": {
		install: "pacman -S --noconfirm --needed %s",
		remove:  "pacman -R --noconfirm %s",
		query:   "pacman -Qi %s",
	},
	"apk": {
		install: "apk add --no-progress %s",
		remove:  "apk del --no-progress %s",
		query:   "apk info -e %s",
	},
	"zypper": {
		install: "zypper --non-interactive install %s",
		remove:  "zypper --non-interactive remove %s",
		query:   "rpm -q %s",
	},
	"brew": {
		install: "brew install %s",
		remove:  "brew uninstall %s",
		query:   "brew list --versions %s",
	},
}

// Params is the request shape shared by the pkg tools.
type Params struct {
	SessionID string   `json:"sessionId"`
	Name      string   `json:"name,omitempty"`
	Names     []string `json:"names,omitempty"`
	Sudo      bool     `json:"sudo,omitempty"`
	Password  string   `json:"password,omitempty"`
	TimeoutMs int64    `json:"timeoutMs,omitempty"`
}

// packageNames merges the single and plural name fields.
func (p Params) packageNames() []string {
	names := p.Names
	if p.Name != "" {
		names = append([]string{p.Name}, names...)
	}
	return names
}

// table resolves the command table for the session's package manager.
func table(deps *tool.Deps, sessionID string) (cmds, error) {
	sess := deps.Sessions.Get(sessionID)
	if sess == nil {
		return cmds{}, hoisterr.Newf(hoisterr.KindSessionNotFound,
			"session %s not found or expired", sessionID).
			WithHint("open a new session or reconnect")
	}

	c, ok := managers[sess.OS.PkgManager]
	if !ok {
		return cmds{}, hoisterr.Newf(hoisterr.KindBadRequest,
			"no package manager detected on %s", sess.Target.Host).
			WithHint("supported managers: apt, dnf, pacman, apk, zypper, brew")
	}
	return c, nil
}

// run executes a package command, escalating when requested.
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

// installed reports whether a single package is present.
func installed(ctx context.Context, deps *tool.Deps, p Params, c cmds, name string) (bool, error) {
	res, err := deps.Engine.Exec(ctx, p.SessionID, engine.ExecRequest{
		Command: fmt.Sprintf(c.query, command.QuotePOSIX(name)),
		Timeout: time.Duration(p.TimeoutMs) * time.Millisecond,
	})
	if err != nil {
		return false, err
	}
	return res.ExitCode == 0, nil
}

// quoteAll quotes each package name for the shell.
func quoteAll(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = command.QuotePOSIX(n)
	}
	return strings.Join(quoted, " ")
}

type installTool struct{}

func (t *installTool) Name() string { return "pkg.install" }

func (t *installTool) Describe() string {
	return "Install packages with the target's native package manager"
}

func (t *installTool) Call(ctx context.Context, deps *tool.Deps, params json.RawMessage) (any, error) {
	var p Params
	if err := tool.DecodeParams(params, &p); err != nil {
		return nil, err
	}
	names := p.packageNames()
	if len(names) == 0 {
		return nil, hoisterr.New(hoisterr.KindBadRequest, "name or names is required")
	}

	c, err := table(deps, p.SessionID)
	if err != nil {
		return nil, err
	}

	// Skip packages already present so repeat calls are no-ops.
	var missing, present []string
	for _, name := range names {
		ok, err := installed(ctx, deps, p, c, name)
		if err != nil {
			return nil, err
		}
		if ok {
			present = append(present, name)
		} else {
			missing = append(missing, name)
		}
	}

	if len(missing) == 0 {
		return map[string]any{"changed": false, "alreadyPresent": present}, nil
	}

	res, err := run(ctx, deps, p, fmt.Sprintf(c.install, quoteAll(missing)))
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, hoisterr.Newf(hoisterr.KindInternal,
			"package install failed: %s", strings.TrimSpace(res.Stderr)).
			WithHint("run with sudo=true if the package manager needs root")
	}

	return map[string]any{
		"changed":        true,
		"installed":      missing,
		"alreadyPresent": present,
		"durationMs":     res.Duration.Milliseconds(),
	}, nil
}

type removeTool struct{}

func (t *removeTool) Name() string { return "pkg.remove" }

func (t *removeTool) Describe() string {
	return "Remove packages with the target's native package manager"
}

func (t *removeTool) Call(ctx context.Context, deps *tool.Deps, params json.RawMessage) (any, error) {
	var p Params
	if err := tool.DecodeParams(params, &p); err != nil {
		return nil, err
	}
	names := p.packageNames()
	if len(names) == 0 {
		return nil, hoisterr.New(hoisterr.KindBadRequest, "name or names is required")
	}

	c, err := table(deps, p.SessionID)
	if err != nil {
		return nil, err
	}

	var found, absent []string
	for _, name := range names {
		ok, err := installed(ctx, deps, p, c, name)
		if err != nil {
			return nil, err
		}
		if ok {
			found = append(found, name)
		} else {
			absent = append(absent, name)
		}
	}

	if len(found) == 0 {
		return map[string]any{"changed": false, "alreadyAbsent": absent}, nil
	}

	res, err := run(ctx, deps, p, fmt.Sprintf(c.remove, quoteAll(found)))
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, hoisterr.Newf(hoisterr.KindInternal,
			"package removal failed: %s", strings.TrimSpace(res.Stderr)).
			WithHint("run with sudo=true if the package manager needs root")
	}

	return map[string]any{
		"changed":       true,
		"removed":       found,
		"alreadyAbsent": absent,
		"durationMs":    res.Duration.Milliseconds(),
	}, nil
}

type statusTool struct{}

func (t *statusTool) Name() string { return "pkg.status" }

func (t *statusTool) Describe() string {
	return "Report whether packages are installed"
}

func (t *statusTool) Call(ctx context.Context, deps *tool.Deps, params json.RawMessage) (any, error) {
	var p Params
	if err := tool.DecodeParams(params, &p); err != nil {
		return nil, err
	}
	names := p.packageNames()
	if len(names) == 0 {
		return nil, hoisterr.New(hoisterr.KindBadRequest, "name or names is required")
	}

	c, err := table(deps, p.SessionID)
	if err != nil {
		return nil, err
	}

	status := make(map[string]bool, len(names))
	for _, name := range names {
		ok, err := installed(ctx, deps, p, c, name)
		if err != nil {
			return nil, err
		}
		status[name] = ok
	}
	return map[string]any{"installed": status}, nil
}
