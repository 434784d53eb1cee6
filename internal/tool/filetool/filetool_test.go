package filetool_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoistdev/hoist/internal/auth"
	"github.com/hoistdev/hoist/internal/config"
	"github.com/hoistdev/hoist/internal/hoisterr"
	"github.com/hoistdev/hoist/internal/session"
	"github.com/hoistdev/hoist/internal/tool"
	"github.com/hoistdev/hoist/internal/transport/transporttest"

	_ "github.com/hoistdev/hoist/internal/tool/filetool"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(log)
}

// newSession opens one session over a scripted transport and returns the
// deps, the session id, and the transport's file store.
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

	deps := &tool.Deps{Sessions: mgr, Config: config.Default(), Log: testLogger()}
	return deps, sess.ID, tr
}

func call(t *testing.T, deps *tool.Deps, name string, params any) tool.Response {
	t.Helper()
	raw, err := json.Marshal(params)
	require.NoError(t, err)
	return tool.Dispatch(context.Background(), deps, tool.Request{ID: 1, Tool: name, Params: raw})
}

func TestUploadPlainContent(t *testing.T) {
	deps, id, tr := newSession(t)

	resp := call(t, deps, "file.upload", map[string]any{
		"sessionId": id,
		"path":      "/etc/app.conf",
		"content":   "listen 8080\n",
		"mode":      "0600",
	})
	require.True(t, resp.OK, "upload failed: %+v", resp.Error)
	assert.Equal(t, map[string]any{"ok": true, "bytes": 12}, resp.Result)
	assert.Equal(t, []byte("listen 8080\n"), tr.Files["/etc/app.conf"])
}

func TestUploadBase64Content(t *testing.T) {
	deps, id, tr := newSession(t)
	payload := []byte{0x1f, 0x8b, 0x08, 0x00}

	resp := call(t, deps, "file.upload", map[string]any{
		"sessionId":     id,
		"path":          "/tmp/blob.gz",
		"contentBase64": base64.StdEncoding.EncodeToString(payload),
	})
	require.True(t, resp.OK)
	assert.Equal(t, payload, tr.Files["/tmp/blob.gz"])
}

func TestUploadBadBase64(t *testing.T) {
	deps, id, _ := newSession(t)

	resp := call(t, deps, "file.upload", map[string]any{
		"sessionId":     id,
		"path":          "/tmp/blob",
		"contentBase64": "!!not base64!!",
	})
	require.False(t, resp.OK)
	assert.Equal(t, string(hoisterr.KindBadRequest), resp.Error.Kind)
}

func TestUploadBadMode(t *testing.T) {
	deps, id, _ := newSession(t)

	resp := call(t, deps, "file.upload", map[string]any{
		"sessionId": id,
		"path":      "/tmp/x",
		"content":   "x",
		"mode":      "rwxr-xr-x",
	})
	require.False(t, resp.OK)
	assert.Equal(t, string(hoisterr.KindBadRequest), resp.Error.Kind)
	assert.Contains(t, resp.Error.Hint, "octal")
}

func TestUploadRequiresPath(t *testing.T) {
	deps, id, _ := newSession(t)

	resp := call(t, deps, "file.upload", map[string]any{"sessionId": id, "content": "x"})
	require.False(t, resp.OK)
	assert.Equal(t, string(hoisterr.KindBadRequest), resp.Error.Kind)
}

func TestDownloadTextFile(t *testing.T) {
	deps, id, tr := newSession(t)
	tr.Files["/etc/hostname"] = []byte("web1\n")

	resp := call(t, deps, "file.download", map[string]any{
		"sessionId": id,
		"path":      "/etc/hostname",
	})
	require.True(t, resp.OK)

	result := resp.Result.(map[string]any)
	assert.Equal(t, 5, result["bytes"])
	assert.Equal(t, "web1\n", result["content"])
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("web1\n")), result["contentBase64"])
}

func TestDownloadBinarySkipsTextField(t *testing.T) {
	deps, id, tr := newSession(t)
	tr.Files["/tmp/blob"] = []byte{0xff, 0xfe, 0x00, 0x81}

	resp := call(t, deps, "file.download", map[string]any{
		"sessionId": id,
		"path":      "/tmp/blob",
	})
	require.True(t, resp.OK)

	result := resp.Result.(map[string]any)
	assert.NotContains(t, result, "content")
	assert.Contains(t, result, "contentBase64")
}

func TestDownloadMissingFile(t *testing.T) {
	deps, id, _ := newSession(t)

	resp := call(t, deps, "file.download", map[string]any{
		"sessionId": id,
		"path":      "/etc/absent",
	})
	require.False(t, resp.OK)
	assert.Equal(t, string(hoisterr.KindConnection), resp.Error.Kind)
}

func TestStatAndList(t *testing.T) {
	deps, id, tr := newSession(t)
	tr.Files["/srv/a.txt"] = []byte("aaa")
	tr.Files["/srv/b.txt"] = []byte("b")

	resp := call(t, deps, "file.stat", map[string]any{"sessionId": id, "path": "/srv/a.txt"})
	require.True(t, resp.OK)

	resp = call(t, deps, "file.list", map[string]any{"sessionId": id, "path": "/srv/"})
	require.True(t, resp.OK)
	assert.Equal(t, 2, resp.Result.(map[string]any)["count"])
}

func TestRemoveAndRename(t *testing.T) {
	deps, id, tr := newSession(t)
	tr.Files["/tmp/old"] = []byte("v1")
	tr.Files["/tmp/junk"] = []byte("x")

	resp := call(t, deps, "file.rename", map[string]any{
		"sessionId": id,
		"path":      "/tmp/old",
		"newPath":   "/tmp/new",
	})
	require.True(t, resp.OK)
	assert.Equal(t, []byte("v1"), tr.Files["/tmp/new"])

	resp = call(t, deps, "file.remove", map[string]any{"sessionId": id, "path": "/tmp/junk"})
	require.True(t, resp.OK)
	assert.NotContains(t, tr.Files, "/tmp/junk")
}

func TestRenameRequiresBothPaths(t *testing.T) {
	deps, id, _ := newSession(t)

	resp := call(t, deps, "file.rename", map[string]any{"sessionId": id, "path": "/tmp/old"})
	require.False(t, resp.OK)
	assert.Equal(t, string(hoisterr.KindBadRequest), resp.Error.Kind)
}

func TestMkdirRmdir(t *testing.T) {
	deps, id, _ := newSession(t)

	resp := call(t, deps, "file.mkdir", map[string]any{"sessionId": id, "path": "/srv/releases"})
	require.True(t, resp.OK)

	resp = call(t, deps, "file.rmdir", map[string]any{"sessionId": id, "path": "/srv/releases"})
	require.True(t, resp.OK)
}

func TestFileToolsRejectUnknownSession(t *testing.T) {
	deps, _, _ := newSession(t)

	for _, name := range []string{"file.download", "file.stat", "file.list", "file.remove", "file.rmdir", "file.mkdir"} {
		resp := call(t, deps, name, map[string]any{"sessionId": "sess-9-deadbeef", "path": "/tmp/x"})
		require.False(t, resp.OK, name)
		assert.Equal(t, string(hoisterr.KindSessionNotFound), resp.Error.Kind, name)
	}
}
