// Package engine runs built commands against open sessions, enforcing
// optional timeouts and classifying sudo-specific failures.
package engine

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hoistdev/hoist/internal/command"
	"github.com/hoistdev/hoist/internal/hoisterr"
	"github.com/hoistdev/hoist/internal/safety"
	"github.com/hoistdev/hoist/internal/session"
	"github.com/hoistdev/hoist/internal/transport"
)

// Result is the outcome of one execution call. It is produced once and
// never retained by the engine.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// ExecRequest describes one command execution.
type ExecRequest struct {
	Command string
	Cwd     string
	Env     map[string]string

	// Timeout bounds the local wait. Zero means wait indefinitely.
	Timeout time.Duration

	// AllowDangerous skips the static safety screen.
	AllowDangerous bool
}

// SudoRequest describes one privilege-escalated execution.
type SudoRequest struct {
	Command  string
	Password string
	Cwd      string
	Timeout  time.Duration

	AllowDangerous bool
}

// sudoAuthPattern matches the stderr sudo emits when authentication was
// rejected or a password was required but unavailable.
var sudoAuthPattern = regexp.MustCompile(
	`(?i)(sorry, try again|incorrect password|authentication failure|a password is required|password is required|a terminal is required)`)

// Engine executes commands against sessions resolved from the manager.
type Engine struct {
	sessions *session.Manager
	log      *logrus.Entry
}

// New creates an engine over the given session manager.
func New(sessions *session.Manager, log *logrus.Entry) *Engine {
	return &Engine{sessions: sessions, log: log}
}

// Exec builds and runs req.Command on the session identified by id.
func (e *Engine) Exec(ctx context.Context, id string, req ExecRequest) (*Result, error) {
	sess, err := e.lookup(id)
	if err != nil {
		return nil, err
	}

	if err := e.screen(req.Command, req.AllowDangerous); err != nil {
		return nil, err
	}

	invocation := command.Build(req.Command, req.Cwd, req.Env, sess.OS)
	return e.run(ctx, sess, invocation, req.Timeout)
}

// Sudo builds and runs req.Command under sudo. A non-zero exit whose
// stderr carries the sudo authentication markers is reclassified as a
// sudo-auth failure instead of an ordinary command result.
func (e *Engine) Sudo(ctx context.Context, id string, req SudoRequest) (*Result, error) {
	sess, err := e.lookup(id)
	if err != nil {
		return nil, err
	}

	if err := e.screen(req.Command, req.AllowDangerous); err != nil {
		return nil, err
	}

	invocation, err := command.BuildSudo(req.Command, req.Password, req.Cwd, nil, sess.OS)
	if err != nil {
		return nil, err
	}

	res, err := e.run(ctx, sess, invocation, req.Timeout)
	if err != nil {
		return nil, err
	}

	if res.ExitCode != 0 && sudoAuthPattern.MatchString(res.Stderr) {
		return nil, hoisterr.Newf(hoisterr.KindSudoAuth,
			"sudo rejected the escalation on session %s", id).
			WithHint("supply a valid password or configure passwordless sudo for this user")
	}

	return res, nil
}

// lookup resolves the session handle. An absent or expired handle is a
// caller error, not a transport error.
func (e *Engine) lookup(id string) (*session.Session, error) {
	sess := e.sessions.Get(id)
	if sess == nil {
		return nil, hoisterr.Newf(hoisterr.KindSessionNotFound,
			"session %s not found or expired", id).
			WithHint("open a new session or reconnect")
	}
	return sess, nil
}

// screen applies the static safety patterns.
func (e *Engine) screen(cmd string, allow bool) error {
	if allow {
		return nil
	}
	if m := safety.Check(cmd); m != nil {
		return hoisterr.Newf(hoisterr.KindBadRequest,
			"command blocked by safety screen: %s", m.Reason).
			WithHint("set allowDangerous to run it anyway")
	}
	return nil
}

// execOutcome carries the transport result across the timeout race.
type execOutcome struct {
	out *transport.ExecOutput
	err error
}

// run executes a built invocation on the session's transport, racing an
// optional timer against the call. When the timer fires first the call
// fails with a timeout error and the local wait is abandoned; the remote
// command is not killed and may run to completion.
func (e *Engine) run(ctx context.Context, sess *session.Session, invocation string, timeout time.Duration) (*Result, error) {
	start := time.Now()

	ch := make(chan execOutcome, 1)
	go func() {
		sess.LockExec()
		defer sess.UnlockExec()
		out, err := sess.Transport.Exec(ctx, invocation)
		ch <- execOutcome{out: out, err: err}
	}()

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case oc := <-ch:
		elapsed := time.Since(start)
		if oc.err != nil {
			return nil, hoisterr.Wrap(hoisterr.KindConnection,
				fmt.Sprintf("command failed on %s", sess.Target.Addr()), oc.err).
				WithHint("the session transport may have dropped; try reconnect")
		}
		return &Result{
			ExitCode: oc.out.ExitCode,
			Stdout:   oc.out.Stdout,
			Stderr:   oc.out.Stderr,
			Duration: elapsed,
		}, nil

	case <-timer:
		e.log.WithFields(logrus.Fields{
			"session": sess.ID,
			"timeout": timeout,
		}).Warn("execution abandoned after timeout; remote command may still be running")
		return nil, hoisterr.Newf(hoisterr.KindTimeout,
			"command did not complete within %s", timeout).
			WithHint("the remote process is not killed on timeout and may still be running")

	case <-ctx.Done():
		return nil, hoisterr.Wrap(hoisterr.KindTimeout, "execution canceled", ctx.Err())
	}
}
