// Package transporttest provides scripted fakes for the transport
// contract, used by unit tests across the core packages.
package transporttest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/hoistdev/hoist/internal/auth"
	"github.com/hoistdev/hoist/internal/transport"
)

// LinuxProbes scripts the platform-detection probes of a stock Ubuntu
// host. Merge it into a fake's responses to open sessions in tests.
func LinuxProbes() map[string]transport.ExecOutput {
	return map[string]transport.ExecOutput{
		"uname -s":                    {Stdout: "Linux\n"},
		"uname -m":                    {Stdout: "x86_64\n"},
		"uname -r":                    {Stdout: "6.8.0-test\n"},
		"echo $SHELL":                 {Stdout: "/bin/bash\n"},
		"cat /etc/os-release 2>/dev/null": {Stdout: "ID=ubuntu\nVERSION_ID=\"24.04\"\nPRETTY_NAME=\"Ubuntu 24.04\"\n"},
		"test -d /run/systemd/system": {},
		"true":                        {},
	}
}

// Transport is a scripted in-memory transport.
type Transport struct {
	mu sync.Mutex

	// Responses maps exact invocations to outputs.
	Responses map[string]transport.ExecOutput

	// Handler, when set, answers invocations missing from Responses.
	Handler func(invocation string) (*transport.ExecOutput, error)

	// ExecDelay stalls every Exec call, for timeout tests.
	ExecDelay time.Duration

	// ExecErr fails every Exec call.
	ExecErr error

	// CloseErr is returned by the first Close call.
	CloseErr error

	// Files backs the file operations.
	Files map[string][]byte

	calls    []string
	closed   bool
	closes   int
	execDone chan struct{}
}

// NewTransport creates a fake whose probe responses describe a Linux
// host.
func NewTransport() *Transport {
	return &Transport{
		Responses: LinuxProbes(),
		Files:     make(map[string][]byte),
		execDone:  make(chan struct{}, 128),
	}
}

// Calls returns every invocation executed so far.
func (t *Transport) Calls() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.calls...)
}

// Closed reports whether Close was called.
func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// CloseCount reports how many times Close was called.
func (t *Transport) CloseCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closes
}

// ExecDone receives one value per completed Exec, including those the
// caller abandoned.
func (t *Transport) ExecDone() <-chan struct{} {
	return t.execDone
}

func (t *Transport) Exec(ctx context.Context, invocation string) (*transport.ExecOutput, error) {
	t.mu.Lock()
	t.calls = append(t.calls, invocation)
	delay := t.ExecDelay
	t.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	defer func() {
		select {
		case t.execDone <- struct{}{}:
		default:
		}
	}()

	if t.ExecErr != nil {
		return nil, t.ExecErr
	}

	t.mu.Lock()
	out, ok := t.Responses[invocation]
	handler := t.Handler
	t.mu.Unlock()

	if ok {
		res := out
		return &res, nil
	}
	if handler != nil {
		return handler(invocation)
	}
	// Unknown probes succeed with empty output so platform detection
	// stays quiet.
	if strings.HasPrefix(invocation, "sw_vers") || strings.HasPrefix(invocation, "command -v") {
		return &transport.ExecOutput{ExitCode: 1}, nil
	}
	return &transport.ExecOutput{}, nil
}

func (t *Transport) Upload(ctx context.Context, src io.Reader, dst string, mode uint32) error {
	data, err := io.ReadAll(src)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.Files[dst] = data
	t.mu.Unlock()
	return nil
}

func (t *Transport) Download(ctx context.Context, src string, dst io.Writer) error {
	t.mu.Lock()
	data, ok := t.Files[src]
	t.mu.Unlock()
	if !ok {
		return errors.New("file does not exist")
	}
	_, err := io.Copy(dst, bytes.NewReader(data))
	return err
}

func (t *Transport) Stat(ctx context.Context, path string) (*transport.FileInfo, error) {
	t.mu.Lock()
	data, ok := t.Files[path]
	t.mu.Unlock()
	if !ok {
		return nil, errors.New("file does not exist")
	}
	return &transport.FileInfo{Name: path, Size: int64(len(data))}, nil
}

func (t *Transport) List(ctx context.Context, path string) ([]transport.FileInfo, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var infos []transport.FileInfo
	for name, data := range t.Files {
		if strings.HasPrefix(name, path) {
			infos = append(infos, transport.FileInfo{Name: name, Size: int64(len(data))})
		}
	}
	return infos, nil
}

func (t *Transport) Mkdir(ctx context.Context, path string) error     { return nil }
func (t *Transport) RemoveDir(ctx context.Context, path string) error { return nil }

func (t *Transport) Remove(ctx context.Context, path string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.Files[path]; !ok {
		return errors.New("file does not exist")
	}
	delete(t.Files, path)
	return nil
}

func (t *Transport) Rename(ctx context.Context, oldPath, newPath string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	data, ok := t.Files[oldPath]
	if !ok {
		return errors.New("file does not exist")
	}
	delete(t.Files, oldPath)
	t.Files[newPath] = data
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closes++
	if t.closed {
		return nil
	}
	t.closed = true
	return t.CloseErr
}

func (t *Transport) String() string { return "fake://test" }

// Dialer hands out scripted transports.
type Dialer struct {
	mu sync.Mutex

	// Err fails every Dial call.
	Err error

	// Next, when set, supplies the transport for the next Dial; nil
	// falls back to a fresh NewTransport.
	Next func() *Transport

	dialed []*Transport
	creds  []*auth.Credential
	opts   []transport.DialOptions
}

// Dialed returns every transport handed out so far.
func (d *Dialer) Dialed() []*Transport {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Transport(nil), d.dialed...)
}

// Credentials returns the credential of every Dial call.
func (d *Dialer) Credentials() []*auth.Credential {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*auth.Credential(nil), d.creds...)
}

// Options returns the options of every Dial call.
func (d *Dialer) Options() []transport.DialOptions {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]transport.DialOptions(nil), d.opts...)
}

func (d *Dialer) Dial(ctx context.Context, target transport.Target, cred *auth.Credential, opts transport.DialOptions) (transport.Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.Err != nil {
		return nil, d.Err
	}

	var t *Transport
	if d.Next != nil {
		t = d.Next()
	}
	if t == nil {
		t = NewTransport()
	}

	d.dialed = append(d.dialed, t)
	d.creds = append(d.creds, cred)
	d.opts = append(d.opts, opts)
	return t, nil
}

// Ensure the fakes implement the contract.
var (
	_ transport.Transport = (*Transport)(nil)
	_ transport.Dialer    = (*Dialer)(nil)
)
