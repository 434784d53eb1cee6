// Package auth resolves connection parameters into concrete credentials.
//
// Resolution follows a fixed priority: an explicit password wins, then
// key-based material (inline, explicit path, then discovery over the
// conventional key filenames), then an ssh-agent socket as the final
// fallback. Forcing a specific strategy disables the fallback chain.
package auth

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/hoistdev/hoist/internal/hoisterr"
)

// Strategy selects how credentials are resolved.
type Strategy string

const (
	// StrategyAuto tries password, then keys, then the agent.
	StrategyAuto Strategy = "auto"

	// StrategyPassword requires a password; no fallback.
	StrategyPassword Strategy = "password"

	// StrategyKey requires key material, a key path, or a discoverable
	// key file; no fallback.
	StrategyKey Strategy = "key"

	// StrategyAgent requires a discoverable agent socket; no fallback.
	StrategyAgent Strategy = "agent"
)

// Method identifies the resolved credential variant.
type Method string

const (
	MethodPassword Method = "password"
	MethodKey      Method = "key"
	MethodAgent    Method = "agent"
)

// discoveryOrder lists conventional key filenames, modern to legacy.
// The first readable file wins.
var discoveryOrder = []string{"id_ed25519", "id_ecdsa", "id_rsa", "id_dsa"}

// Params describes how to authenticate. Callers own it; the resolver
// never mutates it.
type Params struct {
	// Strategy selects the resolution policy. Empty means auto.
	Strategy Strategy

	// Password is used verbatim when present.
	Password string

	// PrivateKey is inline PEM key material.
	PrivateKey []byte

	// PrivateKeyPath points at a key file to read.
	PrivateKeyPath string

	// Passphrase decrypts an encrypted private key.
	Passphrase string

	// UseAgent opts in to agent resolution even under auto when keys
	// also resolve; it does not force the agent strategy.
	UseAgent bool
}

// Credential is the resolved authentication material. Exactly one of the
// method-specific fields is populated, selected by Method. It is consumed
// by a single connection attempt and never persisted or logged.
type Credential struct {
	Method Method

	// Password is set when Method is MethodPassword.
	Password string

	// Key and Passphrase are set when Method is MethodKey.
	Key        []byte
	Passphrase string

	// AgentSocket is set when Method is MethodAgent.
	AgentSocket string
}

// String describes the credential without exposing any secret material.
func (c *Credential) String() string {
	return fmt.Sprintf("credential(%s)", c.Method)
}

// Resolver produces credentials from connection parameters.
type Resolver struct {
	keyDir string
	log    *logrus.Entry

	// agentSocket returns the agent endpoint, empty when absent.
	// Overridable in tests.
	agentSocket func() string
}

// Option configures the resolver.
type Option func(*Resolver)

// WithKeyDir overrides the directory scanned during key discovery.
func WithKeyDir(dir string) Option {
	return func(r *Resolver) {
		r.keyDir = dir
	}
}

// WithAgentLookup overrides how the agent socket is discovered.
func WithAgentLookup(fn func() string) Option {
	return func(r *Resolver) {
		r.agentSocket = fn
	}
}

// NewResolver creates a resolver. The default key directory is the
// current user's ~/.ssh; the default agent lookup reads SSH_AUTH_SOCK.
func NewResolver(log *logrus.Entry, opts ...Option) *Resolver {
	r := &Resolver{
		log:         log,
		agentSocket: func() string { return os.Getenv("SSH_AUTH_SOCK") },
	}

	if home, err := os.UserHomeDir(); err == nil {
		r.keyDir = filepath.Join(home, ".ssh")
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Resolve produces a credential per the configured strategy.
func (r *Resolver) Resolve(p Params) (*Credential, error) {
	strategy := p.Strategy
	if strategy == "" {
		strategy = StrategyAuto
	}

	switch strategy {
	case StrategyPassword:
		if p.Password == "" {
			return nil, hoisterr.New(hoisterr.KindAuth,
				"password strategy selected but no password supplied").
				WithHint("set the password field or switch to auth=auto")
		}
		return &Credential{Method: MethodPassword, Password: p.Password}, nil

	case StrategyKey:
		cred, err := r.resolveKey(p)
		if err != nil {
			return nil, err
		}
		return cred, nil

	case StrategyAgent:
		return r.resolveAgent()

	case StrategyAuto:
		return r.resolveAuto(p)

	default:
		return nil, hoisterr.Newf(hoisterr.KindBadRequest,
			"unknown auth strategy %q", strategy).
			WithHint("valid strategies: auto, password, key, agent")
	}
}

// resolveAuto walks the fallback chain: password, keys, agent.
func (r *Resolver) resolveAuto(p Params) (*Credential, error) {
	if p.Password != "" {
		return &Credential{Method: MethodPassword, Password: p.Password}, nil
	}

	// An explicit agent opt-in moves the agent ahead of key discovery.
	if p.UseAgent {
		if cred, err := r.resolveAgent(); err == nil {
			return cred, nil
		}
	}

	cred, keyErr := r.resolveKey(p)
	if keyErr == nil {
		return cred, nil
	}

	if cred, err := r.resolveAgent(); err == nil {
		return cred, nil
	}

	return nil, hoisterr.Wrap(hoisterr.KindAuth,
		"no usable authentication method found", keyErr).
		WithHint("supply a password, a private key, or start an ssh-agent")
}

// resolveKey resolves key material: inline, explicit path, then discovery.
func (r *Resolver) resolveKey(p Params) (*Credential, error) {
	if len(p.PrivateKey) > 0 {
		return &Credential{Method: MethodKey, Key: p.PrivateKey, Passphrase: p.Passphrase}, nil
	}

	if p.PrivateKeyPath != "" {
		key, err := os.ReadFile(p.PrivateKeyPath)
		if err != nil {
			return nil, hoisterr.Wrap(hoisterr.KindAuth,
				fmt.Sprintf("cannot read private key %s", p.PrivateKeyPath), err).
				WithHint("check that the path exists and is readable by this process")
		}
		return &Credential{Method: MethodKey, Key: key, Passphrase: p.Passphrase}, nil
	}

	var checked []string
	for _, name := range discoveryOrder {
		path := filepath.Join(r.keyDir, name)
		checked = append(checked, path)

		key, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		r.log.WithField("key", path).Debug("discovered private key")
		return &Credential{Method: MethodKey, Key: key, Passphrase: p.Passphrase}, nil
	}

	return nil, hoisterr.Newf(hoisterr.KindAuth,
		"no private key found in %s", r.keyDir).
		WithHint("checked: " + strings.Join(checked, ", "))
}

// resolveAgent resolves the agent socket from the environment.
func (r *Resolver) resolveAgent() (*Credential, error) {
	sock := r.agentSocket()
	if sock == "" {
		return nil, hoisterr.New(hoisterr.KindAuth,
			"no ssh-agent endpoint available").
			WithHint("start an agent and export SSH_AUTH_SOCK")
	}
	return &Credential{Method: MethodAgent, AgentSocket: sock}, nil
}
