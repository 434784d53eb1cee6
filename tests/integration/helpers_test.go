package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/docker/docker/pkg/stdcopy"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/hoistdev/hoist/internal/auth"
	"github.com/hoistdev/hoist/internal/config"
	"github.com/hoistdev/hoist/internal/engine"
	"github.com/hoistdev/hoist/internal/session"
	"github.com/hoistdev/hoist/internal/tool"
	"github.com/hoistdev/hoist/internal/transport/sshx"
)

const (
	sshUser     = "hoist"
	sshPassword = "hoistpw"
)

// setupSSHContainer builds and starts the sshd container and returns it
// with the mapped host/port for dialing.
func setupSSHContainer(t *testing.T, ctx context.Context) (testcontainers.Container, string, int) {
	t.Helper()

	cleanupExistingContainer()

	req := testcontainers.ContainerRequest{
		FromDockerfile: testcontainers.FromDockerfile{
			Context:    ".",
			Dockerfile: "Dockerfile",
		},
		Name:         "hoist-integration-test",
		ExposedPorts: []string{"22/tcp"},
		WaitingFor:   wait.ForListeningPort("22/tcp").WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "failed to start ssh container")

	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "22")
	require.NoError(t, err)

	return container, host, port.Int()
}

func cleanupExistingContainer() {
	cmd := exec.Command("docker", "rm", "-f", "hoist-integration-test")
	_ = cmd.Run() // Ignore errors - container may not exist
}

// newDeps wires the real SSH stack: resolver, sshx dialer, session
// manager, and engine.
func newDeps(t *testing.T) *tool.Deps {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(logrus.WarnLevel)
	log := logrus.NewEntry(logger)

	resolver := auth.NewResolver(log, auth.WithKeyDir(t.TempDir()))
	dialer := sshx.NewDialer(log)

	mgr := session.NewManager(resolver, dialer, session.DefaultConfig(), log)
	mgr.Start()
	t.Cleanup(mgr.Stop)

	return &tool.Deps{
		Sessions: mgr,
		Engine:   engine.New(mgr, log),
		Config:   config.Default(),
		Log:      log,
	}
}

// call dispatches one tool call with marshaled params.
func call(t *testing.T, deps *tool.Deps, name string, params any) tool.Response {
	t.Helper()
	raw, err := json.Marshal(params)
	require.NoError(t, err)
	return tool.Dispatch(context.Background(), deps, tool.Request{ID: 1, Tool: name, Params: raw})
}

// openSession opens a password-authenticated session to the container
// and returns its id.
func openSession(t *testing.T, deps *tool.Deps, host string, port int) string {
	t.Helper()

	resp := call(t, deps, "session.open", map[string]any{
		"host":     host,
		"port":     port,
		"username": sshUser,
		"password": sshPassword,
	})
	require.True(t, resp.OK, "session.open failed: %+v", resp.Error)

	var opened struct {
		SessionID string `json:"sessionId"`
	}
	raw, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &opened))
	require.NotEmpty(t, opened.SessionID)
	return opened.SessionID
}

// execInContainer runs a command in the container and returns stdout
func execInContainer(ctx context.Context, container testcontainers.Container, cmd []string) (int, string, error) {
	exitCode, reader, err := container.Exec(ctx, cmd)
	if err != nil {
		return exitCode, "", err
	}

	// Demux the Docker stream (stdout/stderr are multiplexed)
	var stdout, stderr bytes.Buffer
	_, _ = stdcopy.StdCopy(&stdout, &stderr, reader)

	return exitCode, stdout.String(), nil
}

// assertFileContains checks that a file in the container contains all
// expected substrings
func assertFileContains(t *testing.T, ctx context.Context, container testcontainers.Container, path string, expected []string) {
	t.Helper()
	exitCode, content, err := execInContainer(ctx, container, []string{"cat", path})
	require.NoError(t, err)
	require.Equal(t, 0, exitCode, "failed to read file %s", path)

	for _, substr := range expected {
		assert.Contains(t, content, substr, "file %s should contain %q", path, substr)
	}
}

// assertFileMode checks that a file has the expected permission mode
func assertFileMode(t *testing.T, ctx context.Context, container testcontainers.Container, path string, expectedMode string) {
	t.Helper()
	exitCode, mode, err := execInContainer(ctx, container, []string{"stat", "-c", "%a", path})
	require.NoError(t, err)
	require.Equal(t, 0, exitCode, "failed to stat file %s", path)

	assert.Equal(t, expectedMode, strings.TrimSpace(mode), "file %s should have mode %s", path, expectedMode)
}

// assertFileAbsent checks that a path does not exist in the container
func assertFileAbsent(t *testing.T, ctx context.Context, container testcontainers.Container, path string) {
	t.Helper()
	exitCode, _, err := execInContainer(ctx, container, []string{"test", "-e", path})
	require.NoError(t, err)
	assert.NotEqual(t, 0, exitCode, "%s should not exist", path)
}
