// Package drivertest provides scripted, concurrency-safe fake drivers.
package drivertest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/davidroman0O/contestflow/driver"
	flowerrors "github.com/davidroman0O/contestflow/errors"
)

// Outcome is one scripted result of a fake call
type Outcome struct {
	Output driver.Output
	Err    error
	// Delay blocks the call, honouring ctx and the call timeout
	Delay time.Duration
}

// Call records one invocation
type Call struct {
	Cmd     []string
	Dir     string
	Env     map[string]string
	Timeout time.Duration
	At      time.Time
}

// Shell is a fake driver.Shell. Outcomes are keyed by the space-joined
// command; each call consumes the next outcome and the last one repeats.
type Shell struct {
	mu       sync.Mutex
	outcomes map[string][]Outcome
	calls    []Call
	active   int
	peak     int
}

// NewShell returns a Shell where unscripted commands succeed with empty output
func NewShell() *Shell {
	return &Shell{outcomes: make(map[string][]Outcome)}
}

// On appends outcomes for cmd
func (s *Shell) On(cmd string, outcomes ...Outcome) *Shell {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes[cmd] = append(s.outcomes[cmd], outcomes...)
	return s
}

// FailTimes scripts cmd to fail k times with err, then succeed
func (s *Shell) FailTimes(cmd string, k int, err error) *Shell {
	for i := 0; i < k; i++ {
		s.On(cmd, Outcome{Output: driver.Output{ExitCode: 1, Stderr: err.Error()}, Err: err})
	}
	return s.On(cmd, Outcome{Output: driver.Output{Stdout: "ok"}})
}

// ExecuteShell implements driver.Shell
func (s *Shell) ExecuteShell(ctx context.Context, cmd []string, cwd string, env map[string]string, timeout time.Duration) (driver.Output, error) {
	key := strings.Join(cmd, " ")

	s.mu.Lock()
	s.calls = append(s.calls, Call{Cmd: append([]string(nil), cmd...), Dir: cwd, Env: env, Timeout: timeout, At: time.Now()})
	s.active++
	if s.active > s.peak {
		s.peak = s.active
	}
	out := Outcome{}
	if queue := s.outcomes[key]; len(queue) > 0 {
		out = queue[0]
		if len(queue) > 1 {
			s.outcomes[key] = queue[1:]
		}
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.active--
		s.mu.Unlock()
	}()

	if err := wait(ctx, out.Delay, timeout); err != nil {
		return driver.Output{ExitCode: -1}, err
	}
	return out.Output, out.Err
}

// Calls returns a copy of recorded calls
func (s *Shell) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// CallCount counts calls of cmd
func (s *Shell) CallCount(cmd string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if strings.Join(c.Cmd, " ") == cmd {
			n++
		}
	}
	return n
}

// Peak is the highest number of concurrent calls observed
func (s *Shell) Peak() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peak
}

// wait sleeps for d unless ctx ends or timeout elapses first
func wait(ctx context.Context, d, timeout time.Duration) error {
	if d <= 0 {
		return nil
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return flowerrors.NewTimeout("fake", ctx.Err())
		}
		return flowerrors.Wrap(ctx.Err(), flowerrors.ErrCancelled, "fake cancelled")
	}
}

// FileOp is one recorded filesystem call
type FileOp struct {
	Name      string
	Src       string
	Dst       string
	Recursive bool
	Content   string
}

// File is a fake driver.File that records calls and can fail specific paths
type File struct {
	mu    sync.Mutex
	ops   []FileOp
	fails map[string]error
}

// NewFile returns a File where every call succeeds
func NewFile() *File {
	return &File{fails: make(map[string]error)}
}

// FailOn makes every operation whose first path is p return err
func (f *File) FailOn(p string, err error) *File {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fails[p] = err
	return f
}

func (f *File) record(ctx context.Context, op FileOp) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, op)
	return f.fails[op.Src]
}

func (f *File) MkdirAll(ctx context.Context, p string) error {
	return f.record(ctx, FileOp{Name: "mkdir", Src: p})
}

func (f *File) Touch(ctx context.Context, p string) error {
	return f.record(ctx, FileOp{Name: "touch", Src: p})
}

func (f *File) CreateFile(ctx context.Context, p string, content []byte) error {
	return f.record(ctx, FileOp{Name: "write", Src: p, Content: string(content)})
}

func (f *File) Copy(ctx context.Context, src, dst string, recursive bool) error {
	return f.record(ctx, FileOp{Name: "copy", Src: src, Dst: dst, Recursive: recursive})
}

func (f *File) Move(ctx context.Context, src, dst string) error {
	return f.record(ctx, FileOp{Name: "move", Src: src, Dst: dst})
}

func (f *File) Remove(ctx context.Context, p string, recursive bool) error {
	return f.record(ctx, FileOp{Name: "remove", Src: p, Recursive: recursive})
}

// Ops returns a copy of recorded operations
func (f *File) Ops() []FileOp {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]FileOp(nil), f.ops...)
}

// ContainerCall records a container invocation
type ContainerCall struct {
	Exec  bool
	Image string
	Name  string
	Cmd   []string
}

// Container is a fake driver.Container returning one fixed outcome
type Container struct {
	mu      sync.Mutex
	Outcome Outcome
	calls   []ContainerCall
}

// RunContainer implements driver.Container
func (c *Container) RunContainer(ctx context.Context, image, name string, opts driver.ContainerOptions) (driver.ContainerResult, error) {
	c.mu.Lock()
	c.calls = append(c.calls, ContainerCall{Image: image, Name: name, Cmd: opts.Command})
	out := c.Outcome
	c.mu.Unlock()

	if err := wait(ctx, out.Delay, opts.Timeout); err != nil {
		return driver.ContainerResult{Output: driver.Output{ExitCode: -1}}, err
	}
	return driver.ContainerResult{Output: out.Output, ContainerID: "fake-" + name}, out.Err
}

// ExecInContainer implements driver.Container
func (c *Container) ExecInContainer(ctx context.Context, name string, cmd []string, opts driver.ExecOptions) (driver.Output, error) {
	c.mu.Lock()
	c.calls = append(c.calls, ContainerCall{Exec: true, Name: name, Cmd: cmd})
	out := c.Outcome
	c.mu.Unlock()

	if err := wait(ctx, out.Delay, opts.Timeout); err != nil {
		return driver.Output{ExitCode: -1}, err
	}
	return out.Output, out.Err
}

// Calls returns a copy of recorded calls
func (c *Container) Calls() []ContainerCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ContainerCall(nil), c.calls...)
}

// Drivers bundles fakes. Script runs through the fake shell and file.
func Drivers(shell *Shell, file *File, ctr *Container) driver.Drivers {
	var d driver.Drivers
	if shell != nil {
		d.Shell = shell
	}
	if file != nil {
		d.File = file
	}
	if ctr != nil {
		d.Container = ctr
	}
	if shell != nil && file != nil {
		d.Script = driver.NewScriptRunner(shell, file, "/tmp")
	}
	return d
}
