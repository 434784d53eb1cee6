// Package filetool provides the SFTP-backed file tools: upload, download,
// stat, list, mkdir, rmdir, remove, and rename.
package filetool

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strconv"
	"unicode/utf8"

	"github.com/hoistdev/hoist/internal/hoisterr"
	"github.com/hoistdev/hoist/internal/remotefs"
	"github.com/hoistdev/hoist/internal/session"
	"github.com/hoistdev/hoist/internal/tool"
)

func init() {
	tool.Register(&uploadTool{})
	tool.Register(&downloadTool{})
	tool.Register(&statTool{})
	tool.Register(&listTool{})
	tool.Register(&mkdirTool{})
	tool.Register(&rmdirTool{})
	tool.Register(&removeTool{})
	tool.Register(&renameTool{})
}

// lookup resolves a session handle for a file operation.
func lookup(deps *tool.Deps, id string) (*session.Session, error) {
	sess := deps.Sessions.Get(id)
	if sess == nil {
		return nil, hoisterr.Newf(hoisterr.KindSessionNotFound,
			"session %s not found or expired", id).
			WithHint("open a new session or reconnect")
	}
	return sess, nil
}

// parseMode parses an octal mode string like "0644"; empty means 0644.
func parseMode(s string) (uint32, error) {
	if s == "" {
		return 0o644, nil
	}
	mode, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return 0, hoisterr.Newf(hoisterr.KindBadRequest,
			"invalid mode %q", s).
			WithHint("use an octal string such as \"0644\"")
	}
	return uint32(mode), nil
}

// UploadParams is the file.upload request shape. Content may be supplied
// as plain text or base64.
type UploadParams struct {
	SessionID     string `json:"sessionId"`
	Path          string `json:"path"`
	Content       string `json:"content,omitempty"`
	ContentBase64 string `json:"contentBase64,omitempty"`
	Mode          string `json:"mode,omitempty"`
}

type uploadTool struct{}

func (t *uploadTool) Name() string { return "file.upload" }

func (t *uploadTool) Describe() string {
	return "Write content to a remote file over SFTP"
}

func (t *uploadTool) Call(ctx context.Context, deps *tool.Deps, params json.RawMessage) (any, error) {
	var p UploadParams
	if err := tool.DecodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Path == "" {
		return nil, hoisterr.New(hoisterr.KindBadRequest, "path is required")
	}

	sess, err := lookup(deps, p.SessionID)
	if err != nil {
		return nil, err
	}

	data := []byte(p.Content)
	if p.ContentBase64 != "" {
		data, err = base64.StdEncoding.DecodeString(p.ContentBase64)
		if err != nil {
			return nil, hoisterr.Wrap(hoisterr.KindBadRequest,
				"contentBase64 is not valid base64", err)
		}
	}

	mode, err := parseMode(p.Mode)
	if err != nil {
		return nil, err
	}

	if err := remotefs.Upload(ctx, sess.Transport, p.Path, data, mode); err != nil {
		return nil, err
	}
	return map[string]any{"ok": true, "bytes": len(data)}, nil
}

// PathParams is the request shape shared by the single-path file tools.
type PathParams struct {
	SessionID string `json:"sessionId"`
	Path      string `json:"path"`
}

// decodePath decodes and validates the shared path shape.
func decodePath(params json.RawMessage) (PathParams, error) {
	var p PathParams
	if err := tool.DecodeParams(params, &p); err != nil {
		return p, err
	}
	if p.Path == "" {
		return p, hoisterr.New(hoisterr.KindBadRequest, "path is required")
	}
	return p, nil
}

type downloadTool struct{}

func (t *downloadTool) Name() string { return "file.download" }

func (t *downloadTool) Describe() string {
	return "Read a remote file over SFTP"
}

func (t *downloadTool) Call(ctx context.Context, deps *tool.Deps, params json.RawMessage) (any, error) {
	p, err := decodePath(params)
	if err != nil {
		return nil, err
	}
	sess, err := lookup(deps, p.SessionID)
	if err != nil {
		return nil, err
	}

	data, err := remotefs.Download(ctx, sess.Transport, p.Path)
	if err != nil {
		return nil, err
	}

	result := map[string]any{
		"bytes":         len(data),
		"contentBase64": base64.StdEncoding.EncodeToString(data),
	}
	if utf8.Valid(data) {
		result["content"] = string(data)
	}
	return result, nil
}

type statTool struct{}

func (t *statTool) Name() string { return "file.stat" }

func (t *statTool) Describe() string {
	return "Describe a remote path"
}

func (t *statTool) Call(ctx context.Context, deps *tool.Deps, params json.RawMessage) (any, error) {
	p, err := decodePath(params)
	if err != nil {
		return nil, err
	}
	sess, err := lookup(deps, p.SessionID)
	if err != nil {
		return nil, err
	}
	return remotefs.Stat(ctx, sess.Transport, p.Path)
}

type listTool struct{}

func (t *listTool) Name() string { return "file.list" }

func (t *listTool) Describe() string {
	return "List a remote directory"
}

func (t *listTool) Call(ctx context.Context, deps *tool.Deps, params json.RawMessage) (any, error) {
	p, err := decodePath(params)
	if err != nil {
		return nil, err
	}
	sess, err := lookup(deps, p.SessionID)
	if err != nil {
		return nil, err
	}

	entries, err := remotefs.List(ctx, sess.Transport, p.Path)
	if err != nil {
		return nil, err
	}
	return map[string]any{"entries": entries, "count": len(entries)}, nil
}

type mkdirTool struct{}

func (t *mkdirTool) Name() string { return "file.mkdir" }

func (t *mkdirTool) Describe() string {
	return "Create a remote directory"
}

func (t *mkdirTool) Call(ctx context.Context, deps *tool.Deps, params json.RawMessage) (any, error) {
	p, err := decodePath(params)
	if err != nil {
		return nil, err
	}
	sess, err := lookup(deps, p.SessionID)
	if err != nil {
		return nil, err
	}
	if err := remotefs.Mkdir(ctx, sess.Transport, p.Path); err != nil {
		return nil, err
	}
	return map[string]any{"ok": true}, nil
}

type rmdirTool struct{}

func (t *rmdirTool) Name() string { return "file.rmdir" }

func (t *rmdirTool) Describe() string {
	return "Remove an empty remote directory"
}

func (t *rmdirTool) Call(ctx context.Context, deps *tool.Deps, params json.RawMessage) (any, error) {
	p, err := decodePath(params)
	if err != nil {
		return nil, err
	}
	sess, err := lookup(deps, p.SessionID)
	if err != nil {
		return nil, err
	}
	if err := remotefs.RemoveDir(ctx, sess.Transport, p.Path); err != nil {
		return nil, err
	}
	return map[string]any{"ok": true}, nil
}

type removeTool struct{}

func (t *removeTool) Name() string { return "file.remove" }

func (t *removeTool) Describe() string {
	return "Delete a remote file"
}

func (t *removeTool) Call(ctx context.Context, deps *tool.Deps, params json.RawMessage) (any, error) {
	p, err := decodePath(params)
	if err != nil {
		return nil, err
	}
	sess, err := lookup(deps, p.SessionID)
	if err != nil {
		return nil, err
	}
	if err := remotefs.Remove(ctx, sess.Transport, p.Path); err != nil {
		return nil, err
	}
	return map[string]any{"ok": true}, nil
}

// RenameParams is the file.rename request shape.
type RenameParams struct {
	SessionID string `json:"sessionId"`
	Path      string `json:"path"`
	NewPath   string `json:"newPath"`
}

type renameTool struct{}

func (t *renameTool) Name() string { return "file.rename" }

func (t *renameTool) Describe() string {
	return "Move a remote path"
}

func (t *renameTool) Call(ctx context.Context, deps *tool.Deps, params json.RawMessage) (any, error) {
	var p RenameParams
	if err := tool.DecodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Path == "" || p.NewPath == "" {
		return nil, hoisterr.New(hoisterr.KindBadRequest, "path and newPath are required")
	}

	sess, err := lookup(deps, p.SessionID)
	if err != nil {
		return nil, err
	}
	if err := remotefs.Rename(ctx, sess.Transport, p.Path, p.NewPath); err != nil {
		return nil, err
	}
	return map[string]any{"ok": true}, nil
}
