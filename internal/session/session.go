// Package session owns the table of open remote sessions: identifier
// assignment, LRU eviction under a capacity cap, TTL expiry, reconnect,
// and shutdown.
package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hoistdev/hoist/internal/auth"
	"github.com/hoistdev/hoist/internal/hoisterr"
	"github.com/hoistdev/hoist/internal/transport"
	"github.com/hoistdev/hoist/pkg/osinfo"
)

// OpenParams describes how to reach and authenticate to a host. The caller
// owns it; the manager copies it into the session for reconnect use.
type OpenParams struct {
	Host     string
	Port     int
	Username string

	// Auth carries the credential-resolution inputs.
	Auth auth.Params

	// ConnectTimeout bounds the dial; zero means the configured default.
	ConnectTimeout time.Duration

	// TTL is the session lifetime; zero means the configured default.
	TTL time.Duration

	// HostKeyMode selects host-key verification; empty means permissive.
	HostKeyMode transport.HostKeyMode

	// KnownHostsPath overrides the known-hosts file in strict mode.
	KnownHostsPath string
}

// Session is one authenticated remote connection. The transport handle is
// exclusively owned by the session; a session present in the table always
// has a live handle.
type Session struct {
	ID        string
	Target    transport.Target
	CreatedAt time.Time
	ExpiresAt time.Time

	// Transport is the owned connection.
	Transport transport.Transport

	// OS is the cached platform descriptor probed at open time.
	OS osinfo.Descriptor

	// lastUsed is guarded by the manager's mutex.
	lastUsed time.Time

	// seq breaks eviction ties deterministically: lower means older
	// insertion.
	seq uint64

	// params is retained only to support reconnect.
	params OpenParams

	// execMu serializes command execution on this session's transport.
	execMu sync.Mutex
}

// LockExec acquires the per-session execution mutex.
func (s *Session) LockExec() { s.execMu.Lock() }

// UnlockExec releases the per-session execution mutex.
func (s *Session) UnlockExec() { s.execMu.Unlock() }

// Info is the caller-visible snapshot of a session.
type Info struct {
	ID        string    `json:"sessionId"`
	Host      string    `json:"host"`
	Port      int       `json:"port"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	LastUsed  time.Time `json:"lastUsed"`
}

// Config tunes the manager.
type Config struct {
	// Capacity caps the number of concurrent sessions.
	Capacity int

	// DefaultTTL applies when OpenParams.TTL is zero.
	DefaultTTL time.Duration

	// DefaultConnectTimeout applies when OpenParams.ConnectTimeout is zero.
	DefaultConnectTimeout time.Duration

	// SweepInterval is the period of the background expiry pass.
	SweepInterval time.Duration
}

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config {
	return Config{
		Capacity:              32,
		DefaultTTL:            30 * time.Minute,
		DefaultConnectTimeout: 10 * time.Second,
		SweepInterval:         60 * time.Second,
	}
}

// Manager owns the session table. All table mutations happen under a
// single mutex shared by foreground requests and the background sweep.
type Manager struct {
	resolver *auth.Resolver
	dialer   transport.Dialer
	cfg      Config
	log      *logrus.Entry

	// detect probes a fresh transport's platform. Overridable in tests.
	detect func(context.Context, transport.Transport) (osinfo.Descriptor, error)

	// now supplies the clock. Overridable in tests.
	now func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session

	seq atomic.Uint64

	started  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// NewManager builds a manager. Call Start to launch the expiry sweep and
// Stop (or CloseAll) on shutdown.
func NewManager(resolver *auth.Resolver, dialer transport.Dialer, cfg Config, log *logrus.Entry) *Manager {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultConfig().Capacity
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultConfig().DefaultTTL
	}
	if cfg.DefaultConnectTimeout <= 0 {
		cfg.DefaultConnectTimeout = DefaultConfig().DefaultConnectTimeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultConfig().SweepInterval
	}

	return &Manager{
		resolver: resolver,
		dialer:   dialer,
		cfg:      cfg,
		log:      log,
		detect:   osinfo.Detect,
		now:      time.Now,
		sessions: make(map[string]*Session),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the background expiry sweep.
func (m *Manager) Start() {
	if m.started.CompareAndSwap(false, true) {
		go m.sweepLoop()
	}
}

// Stop halts the sweep and closes every session.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
	if m.started.Load() {
		<-m.done
	}
	m.CloseAll()
}

// Open resolves credentials, dials the target, probes its platform, and
// registers the session. Open is atomic from the caller's perspective: it
// fails entirely or succeeds with a usable handle.
func (m *Manager) Open(ctx context.Context, p OpenParams) (*Session, error) {
	if p.Host == "" {
		return nil, hoisterr.New(hoisterr.KindBadRequest, "host is required")
	}
	if p.Username == "" {
		return nil, hoisterr.New(hoisterr.KindBadRequest, "username is required")
	}

	cred, err := m.resolver.Resolve(p.Auth)
	if err != nil {
		return nil, err
	}

	target := transport.Target{Host: p.Host, Port: p.Port, User: p.Username}

	opts := transport.DialOptions{
		ConnectTimeout: p.ConnectTimeout,
		HostKeyMode:    p.HostKeyMode,
		KnownHostsPath: p.KnownHostsPath,
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = m.cfg.DefaultConnectTimeout
	}
	if opts.HostKeyMode == "" {
		// Permissive is the default. Make the weaker posture visible.
		opts.HostKeyMode = transport.HostKeyPermissive
		m.log.WithField("host", p.Host).Debug("host key verification is permissive")
	}

	t, err := m.dialer.Dial(ctx, target, cred, opts)
	if err != nil {
		return nil, classifyDialError(err, target)
	}

	osDesc, err := m.detect(ctx, t)
	if err != nil {
		if cerr := t.Close(); cerr != nil {
			m.log.WithError(cerr).Warn("closing transport after failed platform probe")
		}
		return nil, hoisterr.Wrap(hoisterr.KindConnection,
			fmt.Sprintf("platform probe failed for %s", target.Addr()), err).
			WithHint("the connection opened but the first remote command failed")
	}

	ttl := p.TTL
	if ttl <= 0 {
		ttl = m.cfg.DefaultTTL
	}

	now := m.now()
	seq := m.seq.Add(1)
	sess := &Session{
		ID:        fmt.Sprintf("sess-%d-%s", seq, uuid.NewString()[:8]),
		Target:    target,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		Transport: t,
		OS:        osDesc,
		lastUsed:  now,
		seq:       seq,
		params:    p,
	}

	m.mu.Lock()
	for len(m.sessions) >= m.cfg.Capacity {
		m.evictOldestLocked()
	}
	m.sessions[sess.ID] = sess
	m.mu.Unlock()

	m.log.WithFields(logrus.Fields{
		"session": sess.ID,
		"target":  target.Addr(),
		"user":    target.User,
		"ttl":     ttl,
	}).Info("session opened")

	return sess, nil
}

// Get returns the session for id, bumping its last-used time. It returns
// nil when the id was never registered or has expired; expiry is enforced
// lazily here in addition to the periodic sweep, and the expired session
// is closed as a side effect.
func (m *Manager) Get(id string) *Session {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return nil
	}

	if m.now().After(sess.ExpiresAt) {
		delete(m.sessions, id)
		m.mu.Unlock()
		m.release(sess, "expired")
		return nil
	}

	sess.lastUsed = m.now()
	m.mu.Unlock()
	return sess
}

// Close releases the session for id and removes it from the table. It
// returns false when the id is not present.
func (m *Manager) Close(id string) bool {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		return false
	}

	m.release(sess, "closed")
	return true
}

// CloseAll closes every registered session concurrently, tolerating
// individual failures.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	victims := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		victims = append(victims, sess)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, sess := range victims {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			m.release(s, "shutdown")
		}(sess)
	}
	wg.Wait()
}

// Reconnect closes the session for id and opens a fresh one with its
// stored parameters. The new session carries a new identifier. A missing
// session yields (nil, nil) rather than an error.
func (m *Manager) Reconnect(ctx context.Context, id string) (*Session, error) {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	var params OpenParams
	if ok {
		params = sess.params
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		return nil, nil
	}

	m.release(sess, "reconnect")

	if params.Host == "" {
		return nil, nil
	}

	return m.Open(ctx, params)
}

// IsAlive issues a trivial no-op command on the session and reports
// success purely from a zero exit code. Any failure, transport errors
// included, yields false. Best-effort, not authoritative.
func (m *Manager) IsAlive(ctx context.Context, id string) bool {
	sess := m.Get(id)
	if sess == nil {
		return false
	}

	probe := "true"
	if sess.OS.IsWindows() {
		probe = "cmd /c exit 0"
	}

	sess.LockExec()
	out, err := sess.Transport.Exec(ctx, probe)
	sess.UnlockExec()

	return err == nil && out.ExitCode == 0
}

// List returns snapshots of every live session.
func (m *Manager) List() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	infos := make([]Info, 0, len(m.sessions))
	for _, sess := range m.sessions {
		infos = append(infos, Info{
			ID:        sess.ID,
			Host:      sess.Target.Host,
			Port:      sess.Target.Port,
			Username:  sess.Target.User,
			CreatedAt: sess.CreatedAt,
			ExpiresAt: sess.ExpiresAt,
			LastUsed:  sess.lastUsed,
		})
	}
	return infos
}

// Len reports the number of registered sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// evictOldestLocked removes the least-recently-used session. Ties on
// lastUsed break on the earlier creation time, then the lower sequence
// number, so eviction order is deterministic. Caller holds m.mu.
func (m *Manager) evictOldestLocked() {
	var victim *Session
	for _, sess := range m.sessions {
		if victim == nil || olderThan(sess, victim) {
			victim = sess
		}
	}
	if victim == nil {
		return
	}

	delete(m.sessions, victim.ID)
	go m.release(victim, "evicted")
}

// olderThan orders sessions for eviction.
func olderThan(a, b *Session) bool {
	if !a.lastUsed.Equal(b.lastUsed) {
		return a.lastUsed.Before(b.lastUsed)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.seq < b.seq
}

// sweepLoop periodically closes expired sessions until Stop is called.
func (m *Manager) sweepLoop() {
	defer close(m.done)

	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-m.stopCh:
			return
		}
	}
}

// sweep removes every session past its expiry timestamp.
func (m *Manager) sweep() {
	now := m.now()

	m.mu.Lock()
	var expired []*Session
	for id, sess := range m.sessions {
		if now.After(sess.ExpiresAt) {
			delete(m.sessions, id)
			expired = append(expired, sess)
		}
	}
	m.mu.Unlock()

	for _, sess := range expired {
		m.release(sess, "expired")
	}
}

// release closes the session's transport, logging rather than propagating
// release errors. Expiry and eviction are state transitions, not errors.
func (m *Manager) release(sess *Session, reason string) {
	if err := sess.Transport.Close(); err != nil {
		m.log.WithError(err).WithField("session", sess.ID).
			Warn("error releasing session transport")
	}
	m.log.WithFields(logrus.Fields{
		"session": sess.ID,
		"reason":  reason,
	}).Info("session removed")
}

// classifyDialError maps a raw dial failure into the taxonomy. The
// original error text is preserved as the wrapped cause; credentials never
// appear in the message.
func classifyDialError(err error, target transport.Target) error {
	var he *hoisterr.Error
	if errors.As(err, &he) {
		return err
	}

	addr := target.Addr()

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() || errors.Is(err, context.DeadlineExceeded) {
		return hoisterr.Wrap(hoisterr.KindTimeout,
			fmt.Sprintf("connection to %s timed out", addr), err).
			WithHint("check network reachability or raise readyTimeoutMs")
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unable to authenticate"),
		strings.Contains(msg, "permission denied"),
		strings.Contains(msg, "no supported methods remain"):
		return hoisterr.Wrap(hoisterr.KindAuth,
			fmt.Sprintf("authentication rejected by %s for user %s", addr, target.User), err).
			WithHint("verify the username and credential")
	case strings.Contains(msg, "connection refused"):
		return hoisterr.Wrap(hoisterr.KindConnection,
			fmt.Sprintf("connection refused by %s", addr), err).
			WithHint("check that sshd is running and the port is correct")
	case strings.Contains(msg, "i/o timeout"), strings.Contains(msg, "timed out"):
		return hoisterr.Wrap(hoisterr.KindTimeout,
			fmt.Sprintf("connection to %s timed out", addr), err).
			WithHint("check network reachability or raise readyTimeoutMs")
	default:
		return hoisterr.Wrap(hoisterr.KindConnection,
			fmt.Sprintf("cannot connect to %s", addr), err)
	}
}
