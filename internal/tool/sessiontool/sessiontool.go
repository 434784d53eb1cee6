// Package sessiontool provides the session lifecycle tools: open, close,
// list, ping, and reconnect.
package sessiontool

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hoistdev/hoist/internal/auth"
	"github.com/hoistdev/hoist/internal/session"
	"github.com/hoistdev/hoist/internal/tool"
	"github.com/hoistdev/hoist/internal/transport"
)

func init() {
	tool.Register(&openTool{})
	tool.Register(&closeTool{})
	tool.Register(&listTool{})
	tool.Register(&pingTool{})
	tool.Register(&reconnectTool{})
}

// OpenParams is the session.open request shape.
type OpenParams struct {
	Host                  string `json:"host"`
	Username              string `json:"username"`
	Port                  int    `json:"port,omitempty"`
	Auth                  string `json:"auth,omitempty"`
	Password              string `json:"password,omitempty"`
	PrivateKey            string `json:"privateKey,omitempty"`
	PrivateKeyPath        string `json:"privateKeyPath,omitempty"`
	Passphrase            string `json:"passphrase,omitempty"`
	UseAgent              bool   `json:"useAgent,omitempty"`
	ReadyTimeoutMs        int64  `json:"readyTimeoutMs,omitempty"`
	TTLMs                 int64  `json:"ttlMs,omitempty"`
	StrictHostKeyChecking bool   `json:"strictHostKeyChecking,omitempty"`
	KnownHostsPath        string `json:"knownHostsPath,omitempty"`
}

// OpenResult is the session.open response shape.
type OpenResult struct {
	SessionID   string `json:"sessionId"`
	Host        string `json:"host"`
	Username    string `json:"username"`
	ExpiresInMs int64  `json:"expiresInMs"`
}

type openTool struct{}

func (t *openTool) Name() string { return "session.open" }

func (t *openTool) Describe() string {
	return "Open an authenticated session to a remote host"
}

func (t *openTool) Call(ctx context.Context, deps *tool.Deps, params json.RawMessage) (any, error) {
	var p OpenParams
	if err := tool.DecodeParams(params, &p); err != nil {
		return nil, err
	}

	// Fill gaps from the ssh_config host block before validation, so a
	// bare alias like "web1" works when the user's config defines it.
	if p.Host != "" {
		alias := deps.Config.ResolveHost(p.Host)
		if alias.HostName != "" {
			p.Host = alias.HostName
		}
		if p.Username == "" && alias.User != "" {
			p.Username = alias.User
		}
		if p.Port == 0 && alias.Port != 0 {
			p.Port = alias.Port
		}
		if p.PrivateKeyPath == "" && alias.KeyPath != "" {
			p.PrivateKeyPath = alias.KeyPath
		}
	}

	open := session.OpenParams{
		Host:     p.Host,
		Port:     p.Port,
		Username: p.Username,
		Auth: auth.Params{
			Strategy:       auth.Strategy(p.Auth),
			Password:       p.Password,
			PrivateKey:     []byte(p.PrivateKey),
			PrivateKeyPath: p.PrivateKeyPath,
			Passphrase:     p.Passphrase,
			UseAgent:       p.UseAgent,
		},
		ConnectTimeout: time.Duration(p.ReadyTimeoutMs) * time.Millisecond,
		TTL:            time.Duration(p.TTLMs) * time.Millisecond,
		KnownHostsPath: p.KnownHostsPath,
	}
	if p.PrivateKey == "" {
		open.Auth.PrivateKey = nil
	}

	if p.StrictHostKeyChecking || deps.Config.StrictHostKeys {
		open.HostKeyMode = transport.HostKeyStrict
	}
	if open.KnownHostsPath == "" {
		open.KnownHostsPath = deps.Config.KnownHostsPath
	}

	sess, err := deps.Sessions.Open(ctx, open)
	if err != nil {
		return nil, err
	}

	return OpenResult{
		SessionID:   sess.ID,
		Host:        sess.Target.Host,
		Username:    sess.Target.User,
		ExpiresInMs: time.Until(sess.ExpiresAt).Milliseconds(),
	}, nil
}

// CloseParams is the session.close request shape.
type CloseParams struct {
	SessionID string `json:"sessionId"`
}

type closeTool struct{}

func (t *closeTool) Name() string { return "session.close" }

func (t *closeTool) Describe() string {
	return "Close a session and release its connection"
}

func (t *closeTool) Call(ctx context.Context, deps *tool.Deps, params json.RawMessage) (any, error) {
	var p CloseParams
	if err := tool.DecodeParams(params, &p); err != nil {
		return nil, err
	}
	ok := deps.Sessions.Close(p.SessionID)
	return map[string]any{"ok": ok}, nil
}

type listTool struct{}

func (t *listTool) Name() string { return "session.list" }

func (t *listTool) Describe() string {
	return "List all live sessions"
}

func (t *listTool) Call(ctx context.Context, deps *tool.Deps, params json.RawMessage) (any, error) {
	infos := deps.Sessions.List()
	return map[string]any{"sessions": infos, "count": len(infos)}, nil
}

// PingParams is the session.ping request shape.
type PingParams struct {
	SessionID string `json:"sessionId"`
}

type pingTool struct{}

func (t *pingTool) Name() string { return "session.ping" }

func (t *pingTool) Describe() string {
	return "Probe whether a session's connection still answers"
}

func (t *pingTool) Call(ctx context.Context, deps *tool.Deps, params json.RawMessage) (any, error) {
	var p PingParams
	if err := tool.DecodeParams(params, &p); err != nil {
		return nil, err
	}
	return map[string]any{"alive": deps.Sessions.IsAlive(ctx, p.SessionID)}, nil
}

// ReconnectParams is the session.reconnect request shape.
type ReconnectParams struct {
	SessionID string `json:"sessionId"`
}

type reconnectTool struct{}

func (t *reconnectTool) Name() string { return "session.reconnect" }

func (t *reconnectTool) Describe() string {
	return "Replace a session with a fresh connection; the id changes"
}

func (t *reconnectTool) Call(ctx context.Context, deps *tool.Deps, params json.RawMessage) (any, error) {
	var p ReconnectParams
	if err := tool.DecodeParams(params, &p); err != nil {
		return nil, err
	}

	sess, err := deps.Sessions.Reconnect(ctx, p.SessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return map[string]any{"reconnected": false}, nil
	}

	return map[string]any{
		"reconnected": true,
		"sessionId":   sess.ID,
		"host":        sess.Target.Host,
		"username":    sess.Target.User,
		"expiresInMs": time.Until(sess.ExpiresAt).Milliseconds(),
	}, nil
}
