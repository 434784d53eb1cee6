package integration

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoistdev/hoist/internal/command"
	"github.com/hoistdev/hoist/internal/hoisterr"

	_ "github.com/hoistdev/hoist/internal/tool/exectool"
	_ "github.com/hoistdev/hoist/internal/tool/factstool"
	_ "github.com/hoistdev/hoist/internal/tool/filetool"
	_ "github.com/hoistdev/hoist/internal/tool/pkgtool"
	_ "github.com/hoistdev/hoist/internal/tool/servicetool"
	_ "github.com/hoistdev/hoist/internal/tool/sessiontool"
)

func TestIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, host, port := setupSSHContainer(t, ctx)
	deps := newDeps(t)

	t.Run("session lifecycle", func(t *testing.T) {
		id := openSession(t, deps, host, port)

		resp := call(t, deps, "exec.run", map[string]any{
			"sessionId": id,
			"command":   "whoami",
		})
		require.True(t, resp.OK, "exec.run failed: %+v", resp.Error)

		result := toMap(t, resp.Result)
		assert.Equal(t, float64(0), result["code"])
		assert.Equal(t, sshUser, strings.TrimSpace(result["stdout"].(string)))

		resp = call(t, deps, "session.ping", map[string]any{"sessionId": id})
		require.True(t, resp.OK)
		assert.Equal(t, true, resp.Result.(map[string]any)["alive"])

		resp = call(t, deps, "session.reconnect", map[string]any{"sessionId": id})
		require.True(t, resp.OK)
		fresh := resp.Result.(map[string]any)
		require.Equal(t, true, fresh["reconnected"])
		freshID := fresh["sessionId"].(string)
		assert.NotEqual(t, id, freshID)

		// The old handle died with the reconnect.
		resp = call(t, deps, "exec.run", map[string]any{"sessionId": id, "command": "true"})
		require.False(t, resp.OK)
		assert.Equal(t, string(hoisterr.KindSessionNotFound), resp.Error.Kind)

		resp = call(t, deps, "session.close", map[string]any{"sessionId": freshID})
		require.True(t, resp.OK)
		assert.Equal(t, map[string]any{"ok": true}, resp.Result)
	})

	t.Run("exec with cwd and env", func(t *testing.T) {
		id := openSession(t, deps, host, port)

		resp := call(t, deps, "exec.run", map[string]any{
			"sessionId": id,
			"command":   "pwd && echo $GREETING",
			"cwd":       "/tmp",
			"env":       map[string]string{"GREETING": "hello from afar"},
		})
		require.True(t, resp.OK, "exec.run failed: %+v", resp.Error)

		result := toMap(t, resp.Result)
		stdout := result["stdout"].(string)
		assert.Contains(t, stdout, "/tmp")
		assert.Contains(t, stdout, "hello from afar")
	})

	t.Run("quoting survives a shell round trip", func(t *testing.T) {
		id := openSession(t, deps, host, port)

		// Single quotes, metacharacters, substitution syntax, and
		// backslashes must all come back byte for byte.
		hostile := `it's a "test" $(rm -rf /) ; | & > < $HOME ` + "`date` \\n"
		resp := call(t, deps, "exec.run", map[string]any{
			"sessionId": id,
			"command":   "printf '%s' " + command.QuotePOSIX(hostile),
		})
		require.True(t, resp.OK, "exec.run failed: %+v", resp.Error)

		result := toMap(t, resp.Result)
		assert.Equal(t, float64(0), result["code"])
		assert.Equal(t, hostile, result["stdout"].(string))
	})

	t.Run("non-zero exit is a result", func(t *testing.T) {
		id := openSession(t, deps, host, port)

		resp := call(t, deps, "exec.run", map[string]any{
			"sessionId": id,
			"command":   "ls /definitely/not/there",
		})
		require.True(t, resp.OK, "a failing command is still a result")

		result := toMap(t, resp.Result)
		assert.NotEqual(t, float64(0), result["code"])
		assert.Contains(t, result["stderr"].(string), "No such file")
	})

	t.Run("sudo", func(t *testing.T) {
		id := openSession(t, deps, host, port)

		resp := call(t, deps, "exec.sudo", map[string]any{
			"sessionId": id,
			"command":   "whoami",
		})
		require.True(t, resp.OK, "exec.sudo failed: %+v", resp.Error)

		result := toMap(t, resp.Result)
		assert.Equal(t, "root", strings.TrimSpace(result["stdout"].(string)))
	})

	t.Run("file round trip", func(t *testing.T) {
		id := openSession(t, deps, host, port)

		resp := call(t, deps, "file.upload", map[string]any{
			"sessionId": id,
			"path":      "/home/hoist/app.conf",
			"content":   "listen 8080\nworkers 4\n",
			"mode":      "0600",
		})
		require.True(t, resp.OK, "file.upload failed: %+v", resp.Error)

		assertFileContains(t, ctx, container, "/home/hoist/app.conf", []string{"listen 8080", "workers 4"})
		assertFileMode(t, ctx, container, "/home/hoist/app.conf", "600")

		resp = call(t, deps, "file.download", map[string]any{
			"sessionId": id,
			"path":      "/home/hoist/app.conf",
		})
		require.True(t, resp.OK)
		assert.Equal(t, "listen 8080\nworkers 4\n", toMap(t, resp.Result)["content"])

		resp = call(t, deps, "file.mkdir", map[string]any{
			"sessionId": id,
			"path":      "/home/hoist/releases",
		})
		require.True(t, resp.OK)

		resp = call(t, deps, "file.rename", map[string]any{
			"sessionId": id,
			"path":      "/home/hoist/app.conf",
			"newPath":   "/home/hoist/releases/app.conf",
		})
		require.True(t, resp.OK)
		assertFileAbsent(t, ctx, container, "/home/hoist/app.conf")
		assertFileContains(t, ctx, container, "/home/hoist/releases/app.conf", []string{"listen 8080"})

		resp = call(t, deps, "file.list", map[string]any{
			"sessionId": id,
			"path":      "/home/hoist/releases",
		})
		require.True(t, resp.OK)
		assert.Equal(t, float64(1), toMap(t, resp.Result)["count"])

		resp = call(t, deps, "file.remove", map[string]any{
			"sessionId": id,
			"path":      "/home/hoist/releases/app.conf",
		})
		require.True(t, resp.OK)

		resp = call(t, deps, "file.rmdir", map[string]any{
			"sessionId": id,
			"path":      "/home/hoist/releases",
		})
		require.True(t, resp.OK)
		assertFileAbsent(t, ctx, container, "/home/hoist/releases")
	})

	t.Run("facts", func(t *testing.T) {
		id := openSession(t, deps, host, port)

		resp := call(t, deps, "facts.gather", map[string]any{"sessionId": id})
		require.True(t, resp.OK, "facts.gather failed: %+v", resp.Error)

		facts := toMap(t, resp.Result)
		assert.Equal(t, "linux", facts["platform"])
		assert.Equal(t, "ubuntu", facts["distribution"])
		assert.Equal(t, "apt", facts["pkgManager"])
		assert.Equal(t, sshUser, facts["user"])
	})

	t.Run("package status", func(t *testing.T) {
		id := openSession(t, deps, host, port)

		resp := call(t, deps, "pkg.status", map[string]any{
			"sessionId": id,
			"names":     []string{"openssh-server", "definitely-not-a-package"},
		})
		require.True(t, resp.OK, "pkg.status failed: %+v", resp.Error)

		installed := toMap(t, resp.Result)["installed"].(map[string]any)
		assert.Equal(t, true, installed["openssh-server"])
		assert.Equal(t, false, installed["definitely-not-a-package"])
	})

	t.Run("bad password", func(t *testing.T) {
		resp := call(t, deps, "session.open", map[string]any{
			"host":     host,
			"port":     port,
			"username": sshUser,
			"password": "not-the-password",
		})
		require.False(t, resp.OK)
		assert.Equal(t, string(hoisterr.KindAuth), resp.Error.Kind)
		assert.NotContains(t, resp.Error.Message, "not-the-password")
	})
}

// toMap round-trips a tool result through JSON so typed results and maps
// read uniformly.
func toMap(t *testing.T, result any) map[string]any {
	t.Helper()
	raw, err := json.Marshal(result)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	return m
}
