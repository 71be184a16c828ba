package capture

import (
	"context"
	"errors"
	"io"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCommand makes every command run script with sh instead of the tool.
func fakeCommand(t *testing.T, script string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	orig := commandContext
	commandContext = func(ctx context.Context, name string, arg ...string) *exec.Cmd {
		return exec.CommandContext(ctx, "sh", "-c", script)
	}
	t.Cleanup(func() { commandContext = orig })
}

func TestOptions_Args(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want []string
	}{
		{
			name: "no filter",
			opts: Options{Interface: "eth0", OutputFile: "/c/s-1.pcap"},
			want: []string{"-i", "eth0", "-l", "-P", "-T", "json", "-F", "pcap", "-w", "/c/s-1.pcap"},
		},
		{
			name: "blank filter ignored",
			opts: Options{Interface: "eth0", Filter: "   ", OutputFile: "/c/s-1.pcap"},
			want: []string{"-i", "eth0", "-l", "-P", "-T", "json", "-F", "pcap", "-w", "/c/s-1.pcap"},
		},
		{
			name: "filter trimmed",
			opts: Options{Interface: "any", Filter: " tcp port 443 ", OutputFile: "o.pcapng", FileFormat: "pcapng", OutputMode: "ek"},
			want: []string{"-i", "any", "-l", "-P", "-T", "ek", "-F", "pcapng", "-w", "o.pcapng", "-f", "tcp port 443"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.opts.Args())
		})
	}
}

func TestFileName(t *testing.T) {
	at := time.UnixMilli(1714564800123)
	assert.Equal(t, "abc-1714564800123.pcap", FileName("abc", at, ""))
	assert.Equal(t, "abc-1714564800123.pcapng", FileName("abc", at, "pcapng"))
}

func TestExecLauncher_Launch(t *testing.T) {
	fakeCommand(t, `printf '{"a":1}\n'; printf 'warming up' >&2; exit 3`)

	dir := filepath.Join(t.TempDir(), "nested", "captures")
	p, err := ExecLauncher{}.Launch(context.Background(), Options{
		Interface:  "lo",
		OutputFile: filepath.Join(dir, "s-1.pcap"),
	})
	require.NoError(t, err)
	assert.DirExists(t, dir)
	assert.Positive(t, p.Pid())

	out, err := io.ReadAll(p.Stdout())
	require.NoError(t, err)
	diag, err := io.ReadAll(p.Stderr())
	require.NoError(t, err)
	code, err := p.Wait()
	require.NoError(t, err)

	assert.Equal(t, "{\"a\":1}\n", string(out))
	assert.Equal(t, "warming up", string(diag))
	assert.Equal(t, 3, code)
	assert.NoError(t, p.Terminate(), "signalling an exited process is not an error")
}

func TestExecLauncher_Terminate(t *testing.T) {
	fakeCommand(t, `exec sleep 30`)

	p, err := ExecLauncher{}.Launch(context.Background(), Options{
		Interface:  "lo",
		OutputFile: filepath.Join(t.TempDir(), "s.pcap"),
	})
	require.NoError(t, err)
	require.NoError(t, p.Terminate())

	go io.Copy(io.Discard, p.Stdout())
	go io.Copy(io.Discard, p.Stderr())
	code, err := p.Wait()
	require.NoError(t, err)
	assert.Equal(t, -1, code)
}

func TestExecLauncher_LaunchError(t *testing.T) {
	_, err := ExecLauncher{Tool: "/nonexistent/tshark"}.Launch(context.Background(), Options{
		Interface:  "lo",
		OutputFile: filepath.Join(t.TempDir(), "s.pcap"),
	})
	var le *LaunchError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, "/nonexistent/tshark", le.Tool)
}
