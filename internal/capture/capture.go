// Package capture runs the external capture tool: live captures, interface
// discovery, and inspection of the capture files it writes.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

const (
	DefaultTool       = "tshark"
	DefaultFileFormat = "pcap"
	DefaultOutputMode = "json"
)

// LaunchError reports that the capture process could not be started.
type LaunchError struct {
	Tool string
	Err  error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %s: %v", e.Tool, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// Options selects what a live capture records and where.
type Options struct {
	Interface string
	Filter    string
	// OutputFile receives the raw capture in FileFormat.
	OutputFile string
	FileFormat string
	OutputMode string
}

// Args builds the tool's command line. The filter is appended only when it
// is non-blank.
func (o Options) Args() []string {
	format := o.FileFormat
	if format == "" {
		format = DefaultFileFormat
	}
	mode := o.OutputMode
	if mode == "" {
		mode = DefaultOutputMode
	}
	// -P keeps the decoded output on stdout while -w writes the file
	args := []string{
		"-i", o.Interface,
		"-l",
		"-P",
		"-T", mode,
		"-F", format,
		"-w", o.OutputFile,
	}
	if f := strings.TrimSpace(o.Filter); f != "" {
		args = append(args, "-f", f)
	}
	return args
}

// FileName returns the capture file name for a session started at t.
func FileName(sessionID string, t time.Time, format string) string {
	if format == "" {
		format = DefaultFileFormat
	}
	return fmt.Sprintf("%s-%d.%s", sessionID, t.UnixMilli(), format)
}

// Process is a running capture process. Stdout carries decode units, Stderr
// diagnostics. Both must be drained before Wait is called.
type Process interface {
	Stdout() io.Reader
	Stderr() io.Reader
	// Terminate asks the process to exit gracefully.
	Terminate() error
	// Kill ends the process immediately.
	Kill() error
	// Wait blocks until the process exits and returns its exit code.
	Wait() (int, error)
	Pid() int
}

// Launcher starts capture processes.
type Launcher interface {
	Launch(ctx context.Context, opts Options) (Process, error)
}

// ExecLauncher launches the tool as a child process.
type ExecLauncher struct {
	Tool string
}

// commandContext is replaced in tests.
var commandContext = exec.CommandContext

// Launch starts the tool with opts. It creates the output directory on demand.
// Cancelling ctx kills the process.
func (l ExecLauncher) Launch(ctx context.Context, opts Options) (Process, error) {
	tool := l.Tool
	if tool == "" {
		tool = DefaultTool
	}
	if err := os.MkdirAll(filepath.Dir(opts.OutputFile), 0o755); err != nil {
		return nil, &LaunchError{Tool: tool, Err: fmt.Errorf("create output directory: %w", err)}
	}

	cmd := commandContext(ctx, tool, opts.Args()...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &LaunchError{Tool: tool, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &LaunchError{Tool: tool, Err: err}
	}
	if err := cmd.Start(); err != nil {
		return nil, &LaunchError{Tool: tool, Err: err}
	}
	return &execProcess{cmd: cmd, stdout: stdout, stderr: stderr}, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stdout io.Reader
	stderr io.Reader
}

func (p *execProcess) Stdout() io.Reader { return p.stdout }
func (p *execProcess) Stderr() io.Reader { return p.stderr }
func (p *execProcess) Pid() int          { return p.cmd.Process.Pid }

func (p *execProcess) Terminate() error {
	return ignoreDone(p.cmd.Process.Signal(syscall.SIGTERM))
}

func (p *execProcess) Kill() error {
	return ignoreDone(p.cmd.Process.Kill())
}

// Wait returns the exit code. A process killed by a signal reports -1 with a
// nil error, like any other non-clean exit.
func (p *execProcess) Wait() (int, error) {
	err := p.cmd.Wait()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}

func ignoreDone(err error) error {
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
