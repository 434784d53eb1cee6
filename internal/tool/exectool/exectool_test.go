package exectool_test

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoistdev/hoist/internal/auth"
	"github.com/hoistdev/hoist/internal/config"
	"github.com/hoistdev/hoist/internal/engine"
	"github.com/hoistdev/hoist/internal/hoisterr"
	"github.com/hoistdev/hoist/internal/session"
	"github.com/hoistdev/hoist/internal/tool"
	"github.com/hoistdev/hoist/internal/tool/exectool"
	"github.com/hoistdev/hoist/internal/transport"
	"github.com/hoistdev/hoist/internal/transport/transporttest"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(log)
}

func newSession(t *testing.T) (*tool.Deps, string, *transporttest.Transport) {
	t.Helper()

	tr := transporttest.NewTransport()
	dialer := &transporttest.Dialer{Next: func() *transporttest.Transport { return tr }}

	resolver := auth.NewResolver(testLogger(),
		auth.WithKeyDir(t.TempDir()),
		auth.WithAgentLookup(func() string { return "" }))
	mgr := session.NewManager(resolver, dialer, session.DefaultConfig(), testLogger())
	t.Cleanup(mgr.CloseAll)

	sess, err := mgr.Open(context.Background(), session.OpenParams{
		Host:     "web1",
		Username: "deploy",
		Auth:     auth.Params{Password: "hunter2"},
	})
	require.NoError(t, err)

	deps := &tool.Deps{
		Sessions: mgr,
		Engine:   engine.New(mgr, testLogger()),
		Config:   config.Default(),
		Log:      testLogger(),
	}
	return deps, sess.ID, tr
}

func call(t *testing.T, deps *tool.Deps, name string, params any) tool.Response {
	t.Helper()
	raw, err := json.Marshal(params)
	require.NoError(t, err)
	return tool.Dispatch(context.Background(), deps, tool.Request{ID: 1, Tool: name, Params: raw})
}

func TestRun(t *testing.T) {
	deps, id, tr := newSession(t)
	tr.Responses[`bash -lc 'id -un'`] = transport.ExecOutput{Stdout: "deploy\n"}

	resp := call(t, deps, "exec.run", map[string]any{
		"sessionId": id,
		"command":   "id -un",
	})
	require.True(t, resp.OK, "run failed: %+v", resp.Error)

	result := resp.Result.(exectool.ExecResult)
	assert.Equal(t, 0, result.Code)
	assert.Equal(t, "deploy\n", result.Stdout)
}

func TestRunRequiresCommand(t *testing.T) {
	deps, id, _ := newSession(t)

	resp := call(t, deps, "exec.run", map[string]any{"sessionId": id})
	require.False(t, resp.OK)
	assert.Equal(t, string(hoisterr.KindBadRequest), resp.Error.Kind)
}

func TestRunNonZeroExit(t *testing.T) {
	deps, id, tr := newSession(t)
	tr.Responses[`bash -lc 'false'`] = transport.ExecOutput{ExitCode: 1, Stderr: "boom"}

	resp := call(t, deps, "exec.run", map[string]any{
		"sessionId": id,
		"command":   "false",
	})
	require.True(t, resp.OK)

	result := resp.Result.(exectool.ExecResult)
	assert.Equal(t, 1, result.Code)
	assert.Equal(t, "boom", result.Stderr)
}

func TestRunBlockedCommand(t *testing.T) {
	deps, id, _ := newSession(t)

	resp := call(t, deps, "exec.run", map[string]any{
		"sessionId": id,
		"command":   "mkfs.ext4 /dev/sda1",
	})
	require.False(t, resp.OK)
	assert.Equal(t, string(hoisterr.KindBadRequest), resp.Error.Kind)
}

func TestSudo(t *testing.T) {
	deps, id, tr := newSession(t)

	want := `bash -lc 'sudo -n systemctl daemon-reload'`
	tr.Responses[want] = transport.ExecOutput{ExitCode: 0}

	resp := call(t, deps, "exec.sudo", map[string]any{
		"sessionId": id,
		"command":   "systemctl daemon-reload",
	})
	require.True(t, resp.OK, "sudo failed: %+v", resp.Error)
	assert.Contains(t, tr.Calls(), want)
}

func TestSudoRequiresCommand(t *testing.T) {
	deps, id, _ := newSession(t)

	resp := call(t, deps, "exec.sudo", map[string]any{"sessionId": id})
	require.False(t, resp.OK)
	assert.Equal(t, string(hoisterr.KindBadRequest), resp.Error.Kind)
}

func TestSudoAuthRejection(t *testing.T) {
	deps, id, tr := newSession(t)
	tr.Handler = func(invocation string) (*transport.ExecOutput, error) {
		return &transport.ExecOutput{ExitCode: 1, Stderr: "sudo: Sorry, try again."}, nil
	}

	resp := call(t, deps, "exec.sudo", map[string]any{
		"sessionId": id,
		"command":   "whoami",
		"password":  "wrong",
	})
	require.False(t, resp.OK)
	assert.Equal(t, string(hoisterr.KindSudoAuth), resp.Error.Kind)
	assert.NotContains(t, resp.Error.Message, "wrong")
}
