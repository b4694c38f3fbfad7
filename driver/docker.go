package driver

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"

	flowerrors "github.com/davidroman0O/contestflow/errors"
	"github.com/davidroman0O/contestflow/workflow"
)

// Docker implements Container against a Docker daemon
type Docker struct {
	client *client.Client
	logger workflow.Logger
}

// NewDocker connects using the DOCKER_* environment, negotiating the API version
func NewDocker(logger workflow.Logger) (*Docker, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, dockerError("connect docker", err)
	}
	if logger == nil {
		logger = workflow.NewDefaultLogger()
	}
	return &Docker{client: cli, logger: logger}, nil
}

// Ping checks that the daemon answers
func (d *Docker) Ping(ctx context.Context) error {
	_, err := d.client.Ping(ctx)
	return dockerError("ping docker", err)
}

// Close releases the client connection
func (d *Docker) Close() error {
	return d.client.Close()
}

// RunContainer implements Container.RunContainer. The container is killed
// when ctx ends or opts.Timeout elapses, and removed afterwards if
// opts.AutoRemove is set.
func (d *Docker) RunContainer(ctx context.Context, ref, name string, opts ContainerOptions) (ContainerResult, error) {
	const op = "run container"
	res := ContainerResult{Output: Output{ExitCode: -1}}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	// Cleanup must outlive the deadline that triggered it
	cleanupCtx := context.WithoutCancel(ctx)

	cfg, hostCfg := convertConfig(ref, opts)
	id, err := d.create(ctx, cfg, hostCfg, name)
	if err != nil {
		if ierr := interrupted(op, ctx, err); ierr != nil {
			return res, ierr
		}
		return res, err
	}
	res.ContainerID = id
	d.logger.Debug("created container %s from %s", shortID(id), ref)

	if opts.AutoRemove {
		defer func() {
			if err := d.client.ContainerRemove(cleanupCtx, id, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
				d.logger.Warn("failed to remove container %s: %v", shortID(id), err)
			}
		}()
	}

	statusCh, errCh := d.client.ContainerWait(ctx, id, container.WaitConditionNextExit)
	if err := d.client.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		if ierr := interrupted(op, ctx, err); ierr != nil {
			return res, ierr
		}
		return res, dockerError(op, err)
	}

	var waitErr error
	select {
	case err := <-errCh:
		waitErr = err
	case status := <-statusCh:
		res.ExitCode = int(status.StatusCode)
		if status.Error != nil && status.Error.Message != "" {
			waitErr = fmt.Errorf("%s", status.Error.Message)
		}
	}

	if ctx.Err() != nil {
		d.kill(cleanupCtx, id)
	}

	res.Stdout, res.Stderr, err = d.logs(cleanupCtx, id)
	if err != nil {
		d.logger.Warn("failed to read logs of container %s: %v", shortID(id), err)
	}

	cmd := append([]string{ref}, opts.Command...)
	if ierr := interrupted(op, ctx, NewCommandError(cmd, res.Output, ctx.Err())); ierr != nil {
		return res, ierr
	}
	if waitErr != nil {
		return res, dockerError(op, waitErr)
	}
	if res.ExitCode != 0 {
		return res, NewCommandError(cmd, res.Output, &ExitError{Code: res.ExitCode})
	}
	return res, nil
}

// create creates the container, pulling the image once if it is missing.
// A container left under the same name by an earlier attempt is removed
// first.
func (d *Docker) create(ctx context.Context, cfg *container.Config, hostCfg *container.HostConfig, name string) (string, error) {
	const op = "create container"
	if name != "" {
		if err := d.removeStale(ctx, name); err != nil {
			return "", err
		}
	}
	resp, err := d.client.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err == nil {
		return resp.ID, nil
	}
	if !errdefs.IsNotFound(err) {
		return "", dockerError(op, err)
	}

	d.logger.Info("pulling image %s", cfg.Image)
	rc, err := d.client.ImagePull(ctx, cfg.Image, image.PullOptions{})
	if err != nil {
		return "", dockerError("pull image "+cfg.Image, err)
	}
	_, err = io.Copy(io.Discard, rc)
	rc.Close()
	if err != nil {
		return "", dockerError("pull image "+cfg.Image, err)
	}

	resp, err = d.client.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		return "", dockerError(op, err)
	}
	return resp.ID, nil
}

// ExecInContainer implements Container.ExecInContainer. The exec API cannot
// signal an exec'd process, so on timeout the target container is killed.
func (d *Docker) ExecInContainer(ctx context.Context, containerName string, cmd []string, opts ExecOptions) (Output, error) {
	const op = "exec in container"
	out := Output{ExitCode: -1}
	if len(cmd) == 0 {
		return out, flowerrors.Validationf(op, "empty command")
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	cleanupCtx := context.WithoutCancel(ctx)

	execResp, err := d.client.ContainerExecCreate(ctx, containerName, container.ExecOptions{
		Cmd:          cmd,
		Env:          envList(opts.Env),
		WorkingDir:   opts.WorkingDir,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return out, dockerError(op, err)
	}

	resp, err := d.client.ContainerExecAttach(ctx, execResp.ID, container.ExecStartOptions{Tty: false})
	if err != nil {
		return out, dockerError(op, err)
	}
	defer resp.Close()

	var outBuf, errBuf strings.Builder
	done := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(&outBuf, &errBuf, resp.Reader)
		done <- err
	}()

	var copyErr error
	select {
	case copyErr = <-done:
	case <-ctx.Done():
		d.kill(cleanupCtx, containerName)
		resp.Close()
		<-done
	}
	out.Stdout, out.Stderr = outBuf.String(), errBuf.String()

	if ierr := interrupted(op, ctx, NewCommandError(cmd, out, ctx.Err())); ierr != nil {
		return out, ierr
	}
	if copyErr != nil {
		return out, dockerError(op, copyErr)
	}

	inspect, err := d.client.ContainerExecInspect(cleanupCtx, execResp.ID)
	if err != nil {
		return out, dockerError(op, err)
	}
	out.ExitCode = inspect.ExitCode
	if out.ExitCode != 0 {
		return out, NewCommandError(cmd, out, &ExitError{Code: out.ExitCode})
	}
	return out, nil
}

func (d *Docker) removeStale(ctx context.Context, name string) error {
	err := d.client.ContainerRemove(ctx, name, container.RemoveOptions{Force: true, RemoveVolumes: true})
	switch {
	case err == nil:
		d.logger.Debug("removed leftover container %s", name)
		return nil
	case errdefs.IsNotFound(err):
		return nil
	}
	return dockerError("remove container "+name, err)
}

func (d *Docker) kill(ctx context.Context, id string) {
	d.logger.Debug("killing container %s", shortID(id))
	if err := d.client.ContainerKill(ctx, id, "SIGKILL"); err != nil && !errdefs.IsNotFound(err) && !errdefs.IsConflict(err) {
		d.logger.Warn("failed to kill container %s: %v", shortID(id), err)
	}
}

func (d *Docker) logs(ctx context.Context, id string) (string, string, error) {
	rc, err := d.client.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", "", err
	}
	defer rc.Close()

	var outBuf, errBuf strings.Builder
	_, err = stdcopy.StdCopy(&outBuf, &errBuf, rc)
	return outBuf.String(), errBuf.String(), err
}

// convertConfig converts ContainerOptions to Docker's container.Config
func convertConfig(ref string, opts ContainerOptions) (*container.Config, *container.HostConfig) {
	containerConfig := &container.Config{
		Image:      ref,
		Cmd:        opts.Command,
		Env:        envList(opts.Env),
		WorkingDir: opts.WorkingDir,
	}

	binds := make([]string, 0, len(opts.Mounts))
	for hostPath, containerPath := range opts.Mounts {
		binds = append(binds, fmt.Sprintf("%s:%s", hostPath, containerPath))
	}

	hostConfig := &container.HostConfig{
		Binds:       binds,
		NetworkMode: container.NetworkMode(opts.NetworkMode),
		Resources: container.Resources{
			Memory: opts.MemoryBytes,
		},
	}

	return containerConfig, hostConfig
}

func dockerError(op string, err error) error {
	if err == nil {
		return nil
	}
	code := flowerrors.ErrContainer
	switch {
	case client.IsErrConnectionFailed(err), errdefs.IsUnavailable(err):
		code = flowerrors.ErrConnection
	case errdefs.IsNotFound(err):
		code = flowerrors.ErrNotFound
	case errdefs.IsDeadline(err):
		code = flowerrors.ErrTimeout
	}
	return &flowerrors.Error{Code: code, Op: op, Cause: err}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
