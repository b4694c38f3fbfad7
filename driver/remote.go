package driver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	flowerrors "github.com/davidroman0O/contestflow/errors"
	"github.com/davidroman0O/contestflow/workflow"
)

// RemoteConfig describes an SSH target
type RemoteConfig struct {
	User           string
	Host           string
	Port           int
	Password       string
	KeyPath        string
	KnownHostsPath string // host keys are not verified when empty
	DialTimeout    time.Duration
}

// ParseTarget reads user@host[:port]
func ParseTarget(target string) (RemoteConfig, error) {
	const op = "parse remote target"
	cfg := RemoteConfig{Port: 22, DialTimeout: 10 * time.Second}

	user, hostPort, ok := strings.Cut(target, "@")
	if !ok || user == "" || hostPort == "" {
		return cfg, flowerrors.Validationf(op, "expected user@host[:port], got %q", target)
	}
	cfg.User = user
	cfg.Host = hostPort

	if h, p, err := net.SplitHostPort(hostPort); err == nil {
		port, err := strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return cfg, flowerrors.Validationf(op, "invalid port %q", p)
		}
		cfg.Host, cfg.Port = h, port
	}
	return cfg, nil
}

// Remote implements Shell over SSH sessions and File over SFTP
type Remote struct {
	ssh    *ssh.Client
	sftp   *sftp.Client
	logger workflow.Logger
}

// DialRemote opens the SSH connection and the SFTP subsystem on it
func DialRemote(cfg RemoteConfig, logger workflow.Logger) (*Remote, error) {
	const op = "dial remote"
	if logger == nil {
		logger = workflow.NewDefaultLogger()
	}

	var auth []ssh.AuthMethod
	if cfg.KeyPath != "" {
		key, err := os.ReadFile(cfg.KeyPath)
		if err != nil {
			return nil, flowerrors.FromOS(op, err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, flowerrors.Wrap(err, flowerrors.ErrValidation, "parse private key")
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if cfg.Password != "" {
		auth = append(auth, ssh.Password(cfg.Password))
	}
	if len(auth) == 0 {
		return nil, flowerrors.Validationf(op, "no key or password for %s@%s", cfg.User, cfg.Host)
	}

	hostKey := ssh.InsecureIgnoreHostKey()
	if cfg.KnownHostsPath != "" {
		cb, err := knownhosts.New(cfg.KnownHostsPath)
		if err != nil {
			return nil, flowerrors.FromOS(op, err)
		}
		hostKey = cb
	}

	port := cfg.Port
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(port))
	client, err := ssh.Dial("tcp", addr, &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         cfg.DialTimeout,
	})
	if err != nil {
		return nil, &flowerrors.Error{Code: flowerrors.ErrConnection, Op: op, Message: "failed to dial " + addr, Cause: err}
	}

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		client.Close()
		return nil, &flowerrors.Error{Code: flowerrors.ErrConnection, Op: op, Message: "sftp client creation failed", Cause: err}
	}

	logger.Debug("connected to %s as %s", addr, cfg.User)
	return &Remote{ssh: client, sftp: sftpClient, logger: logger}, nil
}

// Close closes the SFTP and SSH clients
func (r *Remote) Close() error {
	return errors.Join(r.sftp.Close(), r.ssh.Close())
}

// ExecuteShell implements Shell.ExecuteShell. On timeout the session is sent
// SIGKILL and closed.
func (r *Remote) ExecuteShell(ctx context.Context, cmd []string, cwd string, env map[string]string, timeout time.Duration) (Output, error) {
	const op = "execute remote shell"
	out := Output{ExitCode: -1}
	if len(cmd) == 0 {
		return out, flowerrors.Validationf(op, "empty command")
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	session, err := r.ssh.NewSession()
	if err != nil {
		return out, &flowerrors.Error{Code: flowerrors.ErrConnection, Op: op, Message: "failed to create session", Cause: err}
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	line := remoteCommandLine(cmd, cwd, env)
	r.logger.Debug("remote exec %s", line)
	if err := session.Start(line); err != nil {
		return out, &flowerrors.Error{Code: flowerrors.ErrConnection, Op: op, Message: "failed to start command", Cause: err}
	}

	done := make(chan error, 1)
	go func() { done <- session.Wait() }()

	var waitErr error
	select {
	case waitErr = <-done:
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		session.Close()
		waitErr = <-done
	}

	out.Stdout, out.Stderr = stdout.String(), stderr.String()
	if waitErr == nil {
		out.ExitCode = 0
		return out, nil
	}

	var exitErr *ssh.ExitError
	if errors.As(waitErr, &exitErr) {
		out.ExitCode = exitErr.ExitStatus()
	}
	cmdErr := NewCommandError(cmd, out, waitErr)
	if ierr := interrupted(op, ctx, cmdErr); ierr != nil {
		return out, ierr
	}
	if exitErr == nil {
		var missing *ssh.ExitMissingError
		if !errors.As(waitErr, &missing) && !errors.Is(waitErr, io.EOF) {
			return out, &flowerrors.Error{Code: flowerrors.ErrConnection, Op: op, Cause: cmdErr}
		}
	}
	return out, cmdErr
}

// remoteCommandLine renders a POSIX shell line for the session
func remoteCommandLine(cmd []string, cwd string, env map[string]string) string {
	var b strings.Builder
	if cwd != "" {
		b.WriteString("cd ")
		b.WriteString(shellQuote(cwd))
		b.WriteString(" && ")
	}
	if len(env) > 0 {
		b.WriteString("env")
		for _, kv := range envList(env) {
			b.WriteByte(' ')
			b.WriteString(shellQuote(kv))
		}
		b.WriteByte(' ')
	}
	if len(cmd) == 1 {
		b.WriteString("sh -c ")
		b.WriteString(shellQuote(cmd[0]))
		return b.String()
	}
	for i, arg := range cmd {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(shellQuote(arg))
	}
	return b.String()
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// MkdirAll implements File.MkdirAll
func (r *Remote) MkdirAll(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return interrupted("mkdir", ctx, err)
	}
	return flowerrors.FromOS("mkdir "+p, r.sftp.MkdirAll(p))
}

// Touch implements File.Touch
func (r *Remote) Touch(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return interrupted("touch", ctx, err)
	}
	op := "touch " + p
	f, err := r.sftp.OpenFile(p, os.O_CREATE|os.O_WRONLY)
	if err != nil {
		return flowerrors.FromOS(op, err)
	}
	if err := f.Close(); err != nil {
		return flowerrors.FromOS(op, err)
	}
	now := time.Now()
	return flowerrors.FromOS(op, r.sftp.Chtimes(p, now, now))
}

// CreateFile implements File.CreateFile
func (r *Remote) CreateFile(ctx context.Context, p string, content []byte) error {
	if err := ctx.Err(); err != nil {
		return interrupted("write", ctx, err)
	}
	op := "write " + p
	f, err := r.sftp.Create(p)
	if err != nil {
		return flowerrors.FromOS(op, err)
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		return flowerrors.FromOS(op, err)
	}
	return flowerrors.FromOS(op, f.Close())
}

// Copy implements File.Copy by streaming through the client
func (r *Remote) Copy(ctx context.Context, src, dst string, recursive bool) error {
	op := fmt.Sprintf("copy %s -> %s", src, dst)
	info, err := r.sftp.Stat(src)
	if err != nil {
		return flowerrors.FromOS(op, err)
	}
	if !info.IsDir() {
		return r.copyFile(ctx, op, src, dst)
	}
	if !recursive {
		return flowerrors.Validationf(op, "%s is a directory, use copytree", src)
	}

	walker := r.sftp.Walk(src)
	for walker.Step() {
		if err := walker.Err(); err != nil {
			return flowerrors.FromOS(op, err)
		}
		if err := ctx.Err(); err != nil {
			return interrupted(op, ctx, err)
		}
		rel := strings.TrimPrefix(strings.TrimPrefix(walker.Path(), src), "/")
		target := path.Join(dst, rel)
		if walker.Stat().IsDir() {
			if err := r.sftp.MkdirAll(target); err != nil {
				return flowerrors.FromOS(op, err)
			}
			continue
		}
		if err := r.copyFile(ctx, op, walker.Path(), target); err != nil {
			return err
		}
	}
	return nil
}

func (r *Remote) copyFile(ctx context.Context, op, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return interrupted(op, ctx, err)
	}
	in, err := r.sftp.Open(src)
	if err != nil {
		return flowerrors.FromOS(op, err)
	}
	defer in.Close()

	out, err := r.sftp.Create(dst)
	if err != nil {
		return flowerrors.FromOS(op, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		_ = r.sftp.Remove(dst)
		return flowerrors.FromOS(op, err)
	}
	return flowerrors.FromOS(op, out.Close())
}

// Move implements File.Move
func (r *Remote) Move(ctx context.Context, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return interrupted("move", ctx, err)
	}
	return flowerrors.FromOS(fmt.Sprintf("move %s -> %s", src, dst), r.sftp.PosixRename(src, dst))
}

// Remove implements File.Remove
func (r *Remote) Remove(ctx context.Context, p string, recursive bool) error {
	if err := ctx.Err(); err != nil {
		return interrupted("remove", ctx, err)
	}
	op := "remove " + p
	if recursive {
		err := r.sftp.RemoveAll(p)
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return flowerrors.FromOS(op, err)
	}
	return flowerrors.FromOS(op, r.sftp.Remove(p))
}
