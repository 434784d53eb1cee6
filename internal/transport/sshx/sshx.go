// Package sshx implements the transport contract over SSH and SFTP.
package sshx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/hoistdev/hoist/internal/auth"
	"github.com/hoistdev/hoist/internal/hoisterr"
	"github.com/hoistdev/hoist/internal/transport"
)

// timeNow supplies the clock for handshake deadlines.
var timeNow = time.Now

// noDeadline clears a connection deadline.
var noDeadline time.Time

// Dialer opens SSH transports.
type Dialer struct {
	log *logrus.Entry
}

// NewDialer creates the SSH dialer.
func NewDialer(log *logrus.Entry) *Dialer {
	return &Dialer{log: log}
}

// Dial connects and authenticates to the target. Classified errors are
// returned for credential material that cannot be used; raw network and
// handshake failures are left for the session manager to classify.
func (d *Dialer) Dial(ctx context.Context, target transport.Target, cred *auth.Credential, opts transport.DialOptions) (transport.Transport, error) {
	methods, agentConn, err := authMethods(cred)
	if err != nil {
		return nil, err
	}

	hostKey, err := hostKeyCallback(opts, d.log)
	if err != nil {
		if agentConn != nil {
			agentConn.Close()
		}
		return nil, err
	}

	cfg := &ssh.ClientConfig{
		User:            target.User,
		Auth:            methods,
		HostKeyCallback: hostKey,
		Timeout:         opts.ConnectTimeout,
	}

	netDialer := &net.Dialer{Timeout: opts.ConnectTimeout}
	conn, err := netDialer.DialContext(ctx, "tcp", target.Addr())
	if err != nil {
		if agentConn != nil {
			agentConn.Close()
		}
		return nil, err
	}

	// Bound the handshake with the same deadline as the dial.
	if opts.ConnectTimeout > 0 {
		if deadline, ok := ctx.Deadline(); ok {
			_ = conn.SetDeadline(deadline)
		} else {
			_ = conn.SetDeadline(timeNow().Add(opts.ConnectTimeout))
		}
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, target.Addr(), cfg)
	if err != nil {
		conn.Close()
		if agentConn != nil {
			agentConn.Close()
		}
		return nil, err
	}
	_ = conn.SetDeadline(noDeadline)

	return &client{
		target:    target,
		ssh:       ssh.NewClient(sshConn, chans, reqs),
		agentConn: agentConn,
		log:       d.log,
	}, nil
}

// authMethods converts a resolved credential into SSH auth methods. For
// agent credentials the returned connection must be closed with the
// transport.
func authMethods(cred *auth.Credential) ([]ssh.AuthMethod, net.Conn, error) {
	switch cred.Method {
	case auth.MethodPassword:
		return []ssh.AuthMethod{ssh.Password(cred.Password)}, nil, nil

	case auth.MethodKey:
		var signer ssh.Signer
		var err error
		if cred.Passphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(cred.Key, []byte(cred.Passphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(cred.Key)
		}
		if err != nil {
			var missing *ssh.PassphraseMissingError
			if errors.As(err, &missing) {
				return nil, nil, hoisterr.Wrap(hoisterr.KindAuth,
					"private key is encrypted", err).
					WithHint("supply the passphrase")
			}
			return nil, nil, hoisterr.Wrap(hoisterr.KindAuth,
				"cannot parse private key", err).
				WithHint("check that the key is a valid PEM private key")
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil, nil

	case auth.MethodAgent:
		conn, err := net.Dial("unix", cred.AgentSocket)
		if err != nil {
			return nil, nil, hoisterr.Wrap(hoisterr.KindAuth,
				"cannot reach ssh-agent", err).
				WithHint("check that the agent is running and SSH_AUTH_SOCK is valid")
		}
		ag := agent.NewClient(conn)
		return []ssh.AuthMethod{ssh.PublicKeysCallback(ag.Signers)}, conn, nil

	default:
		return nil, nil, hoisterr.Newf(hoisterr.KindAuth,
			"unsupported credential method %q", cred.Method)
	}
}

// hostKeyCallback builds the verification callback for the configured
// mode. Permissive acceptance is always logged.
func hostKeyCallback(opts transport.DialOptions, log *logrus.Entry) (ssh.HostKeyCallback, error) {
	switch opts.HostKeyMode {
	case transport.HostKeyStrict:
		path := opts.KnownHostsPath
		if path == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, hoisterr.Wrap(hoisterr.KindConnection,
					"cannot locate known_hosts", err).
					WithHint("set knownHostsPath explicitly")
			}
			path = filepath.Join(home, ".ssh", "known_hosts")
		}
		cb, err := knownhosts.New(path)
		if err != nil {
			return nil, hoisterr.Wrap(hoisterr.KindConnection,
				fmt.Sprintf("cannot load known_hosts from %s", path), err).
				WithHint("check the file exists, or use permissive host key checking")
		}
		return cb, nil

	case transport.HostKeyPermissive, "":
		log.Warn("accepting any host key (permissive mode)")
		return ssh.InsecureIgnoreHostKey(), nil

	default:
		return nil, hoisterr.Newf(hoisterr.KindBadRequest,
			"unknown host key mode %q", opts.HostKeyMode)
	}
}

// client is one established SSH connection with a lazily opened SFTP
// subsystem.
type client struct {
	target    transport.Target
	ssh       *ssh.Client
	agentConn net.Conn
	log       *logrus.Entry

	mu     sync.Mutex
	sftpc  *sftp.Client
	closed bool
}

// Exec runs one built invocation in a fresh SSH session. Non-zero exit
// codes are results, not errors.
func (c *client) Exec(ctx context.Context, invocation string) (*transport.ExecOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sess, err := c.ssh.NewSession()
	if err != nil {
		return nil, fmt.Errorf("open ssh session: %w", err)
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	out := &transport.ExecOutput{}
	if err := sess.Run(invocation); err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			out.ExitCode = exitErr.ExitStatus()
		} else {
			return nil, fmt.Errorf("run remote command: %w", err)
		}
	}

	out.Stdout = stdout.String()
	out.Stderr = stderr.String()
	return out, nil
}

// sftp returns the SFTP client, opening the subsystem on first use.
func (c *client) sftp() (*sftp.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, errors.New("transport is closed")
	}
	if c.sftpc != nil {
		return c.sftpc, nil
	}

	sc, err := sftp.NewClient(c.ssh)
	if err != nil {
		return nil, fmt.Errorf("open sftp subsystem: %w", err)
	}
	c.sftpc = sc
	return sc, nil
}

// Upload writes src to dst with the given mode.
func (c *client) Upload(ctx context.Context, src io.Reader, dst string, mode uint32) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	sc, err := c.sftp()
	if err != nil {
		return err
	}

	f, err := sc.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return fmt.Errorf("create remote file %s: %w", dst, err)
	}

	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		return fmt.Errorf("write remote file %s: %w", dst, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close remote file %s: %w", dst, err)
	}

	if err := sc.Chmod(dst, os.FileMode(mode)); err != nil {
		return fmt.Errorf("chmod remote file %s: %w", dst, err)
	}
	return nil
}

// Download reads the remote file src into dst.
func (c *client) Download(ctx context.Context, src string, dst io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	sc, err := c.sftp()
	if err != nil {
		return err
	}

	f, err := sc.Open(src)
	if err != nil {
		return fmt.Errorf("open remote file %s: %w", src, err)
	}
	defer f.Close()

	if _, err := io.Copy(dst, f); err != nil {
		return fmt.Errorf("read remote file %s: %w", src, err)
	}
	return nil
}

// Stat describes a remote path.
func (c *client) Stat(ctx context.Context, path string) (*transport.FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sc, err := c.sftp()
	if err != nil {
		return nil, err
	}

	fi, err := sc.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	return fileInfo(fi), nil
}

// List returns the entries of a remote directory.
func (c *client) List(ctx context.Context, path string) ([]transport.FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sc, err := c.sftp()
	if err != nil {
		return nil, err
	}

	entries, err := sc.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", path, err)
	}

	infos := make([]transport.FileInfo, 0, len(entries))
	for _, fi := range entries {
		infos = append(infos, *fileInfo(fi))
	}
	return infos, nil
}

// Mkdir creates a remote directory.
func (c *client) Mkdir(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sc, err := c.sftp()
	if err != nil {
		return err
	}
	if err := sc.Mkdir(path); err != nil {
		return fmt.Errorf("mkdir %s: %w", path, err)
	}
	return nil
}

// RemoveDir removes an empty remote directory.
func (c *client) RemoveDir(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sc, err := c.sftp()
	if err != nil {
		return err
	}
	if err := sc.RemoveDirectory(path); err != nil {
		return fmt.Errorf("rmdir %s: %w", path, err)
	}
	return nil
}

// Remove deletes a remote file.
func (c *client) Remove(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sc, err := c.sftp()
	if err != nil {
		return err
	}
	if err := sc.Remove(path); err != nil {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}

// Rename moves a remote path.
func (c *client) Rename(ctx context.Context, oldPath, newPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sc, err := c.sftp()
	if err != nil {
		return err
	}
	if err := sc.Rename(oldPath, newPath); err != nil {
		return fmt.Errorf("rename %s to %s: %w", oldPath, newPath, err)
	}
	return nil
}

// Close releases the SFTP subsystem, the SSH connection, and the agent
// socket. Safe to call more than once.
func (c *client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	sftpc := c.sftpc
	c.sftpc = nil
	c.mu.Unlock()

	var errs []error
	if sftpc != nil {
		if err := sftpc.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.ssh.Close(); err != nil {
		errs = append(errs, err)
	}
	if c.agentConn != nil {
		if err := c.agentConn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// String returns the connection description.
func (c *client) String() string {
	return fmt.Sprintf("ssh://%s@%s", c.target.User, c.target.Addr())
}

// fileInfo converts an os.FileInfo into the transport shape.
func fileInfo(fi os.FileInfo) *transport.FileInfo {
	return &transport.FileInfo{
		Name:    fi.Name(),
		Size:    fi.Size(),
		Mode:    fi.Mode(),
		ModTime: fi.ModTime(),
		IsDir:   fi.IsDir(),
	}
}

// Ensure client implements the transport.Transport interface.
var _ transport.Transport = (*client)(nil)
var _ transport.Dialer = (*Dialer)(nil)
