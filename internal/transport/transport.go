// Package transport defines the contract the core expects from an
// SSH/SFTP client implementation.
package transport

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"time"

	"github.com/hoistdev/hoist/internal/auth"
)

// ExecOutput holds the raw output of one remote command.
type ExecOutput struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Target identifies the remote endpoint.
type Target struct {
	Host string
	Port int
	User string
}

// Addr returns the host:port dial address.
func (t Target) Addr() string {
	port := t.Port
	if port == 0 {
		port = 22
	}
	return fmt.Sprintf("%s:%d", t.Host, port)
}

// HostKeyMode selects how the remote host key is verified.
type HostKeyMode string

const (
	// HostKeyPermissive accepts any host key. This is the default and
	// is always logged when in effect.
	HostKeyPermissive HostKeyMode = "permissive"

	// HostKeyStrict verifies the host key against a known-hosts file.
	HostKeyStrict HostKeyMode = "strict"
)

// DialOptions configures a connection attempt.
type DialOptions struct {
	// ConnectTimeout bounds the dial and handshake.
	ConnectTimeout time.Duration

	// HostKeyMode selects verification behavior.
	HostKeyMode HostKeyMode

	// KnownHostsPath is the known-hosts file used in strict mode.
	// Empty means ~/.ssh/known_hosts.
	KnownHostsPath string
}

// FileInfo describes one remote file system entry.
type FileInfo struct {
	Name    string
	Size    int64
	Mode    fs.FileMode
	ModTime time.Time
	IsDir   bool
}

// Transport is an established connection to one remote host. A transport
// is exclusively owned by one session and must never be shared.
type Transport interface {
	// Exec runs a fully built shell invocation and returns its output.
	// A non-zero exit code is not an error.
	Exec(ctx context.Context, invocation string) (*ExecOutput, error)

	// Upload writes src to the remote path dst with the given mode.
	Upload(ctx context.Context, src io.Reader, dst string, mode uint32) error

	// Download reads the remote path src into dst.
	Download(ctx context.Context, src string, dst io.Writer) error

	// Stat describes a remote path.
	Stat(ctx context.Context, path string) (*FileInfo, error)

	// List returns the entries of a remote directory.
	List(ctx context.Context, path string) ([]FileInfo, error)

	// Mkdir creates a remote directory.
	Mkdir(ctx context.Context, path string) error

	// RemoveDir removes an empty remote directory.
	RemoveDir(ctx context.Context, path string) error

	// Remove deletes a remote file.
	Remove(ctx context.Context, path string) error

	// Rename moves a remote path.
	Rename(ctx context.Context, oldPath, newPath string) error

	// Close releases the connection. Safe to call more than once.
	Close() error

	// String returns a human-readable description of the connection.
	String() string
}

// Dialer opens transports. Implementations classify their failures into
// the hoisterr taxonomy before returning.
type Dialer interface {
	Dial(ctx context.Context, target Target, cred *auth.Credential, opts DialOptions) (Transport, error)
}
