package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"livecap/internal/capture"
	"livecap/internal/models"
)

type fakeProcess struct {
	pid      int
	stdoutR  *io.PipeReader
	stdoutW  *io.PipeWriter
	stderrR  *io.PipeReader
	stderrW  *io.PipeWriter
	exit     chan int
	once     sync.Once
	stubborn bool

	terminated atomic.Int32
	killed     atomic.Int32
}

func newFakeProcess(pid int) *fakeProcess {
	p := &fakeProcess{pid: pid, exit: make(chan int, 1)}
	p.stdoutR, p.stdoutW = io.Pipe()
	p.stderrR, p.stderrW = io.Pipe()
	return p
}

func (p *fakeProcess) Stdout() io.Reader { return p.stdoutR }
func (p *fakeProcess) Stderr() io.Reader { return p.stderrR }
func (p *fakeProcess) Pid() int          { return p.pid }

func (p *fakeProcess) Terminate() error {
	p.terminated.Add(1)
	if !p.stubborn {
		p.exitWith(0)
	}
	return nil
}

func (p *fakeProcess) Kill() error {
	p.killed.Add(1)
	p.exitWith(-1)
	return nil
}

func (p *fakeProcess) Wait() (int, error) {
	return <-p.exit, nil
}

// exitWith closes the output pipes and lets Wait return code.
func (p *fakeProcess) exitWith(code int) {
	p.once.Do(func() {
		p.stdoutW.Close()
		p.stderrW.Close()
		p.exit <- code
	})
}

func (p *fakeProcess) out(t *testing.T, s string) {
	t.Helper()
	_, err := p.stdoutW.Write([]byte(s))
	require.NoError(t, err)
}

func (p *fakeProcess) diag(t *testing.T, s string) {
	t.Helper()
	_, err := p.stderrW.Write([]byte(s))
	require.NoError(t, err)
}

type fakeLauncher struct {
	mu       sync.Mutex
	procs    []*fakeProcess
	opts     []capture.Options
	err      error
	stubborn bool
}

func (l *fakeLauncher) Launch(_ context.Context, opts capture.Options) (capture.Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	p := newFakeProcess(1000 + len(l.procs))
	p.stubborn = l.stubborn
	l.procs = append(l.procs, p)
	l.opts = append(l.opts, opts)
	return p, nil
}

func (l *fakeLauncher) proc(i int) *fakeProcess {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.procs[i]
}

func (l *fakeLauncher) launched() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.procs)
}

type fakeLister struct {
	ifaces []models.InterfaceInfo
	err    error
}

func (f fakeLister) ListInterfaces(context.Context) ([]models.InterfaceInfo, error) {
	return f.ifaces, f.err
}

// recorder is a Client keeping every message it receives.
type recorder struct {
	mu   sync.Mutex
	msgs []models.WSMessage
	err  error
}

func (r *recorder) SendMessage(msg models.WSMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *recorder) messages(typ string) []models.WSMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.WSMessage
	for _, m := range r.msgs {
		if typ == "" || m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

func (r *recorder) types() []string {
	var out []string
	for _, m := range r.messages("") {
		out = append(out, m.Type)
	}
	return out
}

func (r *recorder) waitFor(t *testing.T, typ string, n int) []models.WSMessage {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(r.messages(typ)) >= n
	}, 2*time.Second, 5*time.Millisecond, "waiting for %d %s", n, typ)
	return r.messages(typ)
}

func (r *recorder) packets(t *testing.T) []models.PacketRecord {
	t.Helper()
	var out []models.PacketRecord
	for _, m := range r.messages(models.TypePacketCaptured) {
		var rec models.PacketRecord
		require.NoError(t, json.Unmarshal(m.Payload, &rec))
		out = append(out, rec)
	}
	return out
}

func decodePayload[T any](t *testing.T, msg models.WSMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(msg.Payload, &v))
	return v
}

// udpLine is one decode unit for a UDP packet with frame number n.
func udpLine(n int) string {
	return fmt.Sprintf(`{"_index":"%d","_source":{"layers":{`+
		`"frame":{"frame.number":"%d","frame.len":"60","frame.protocols":"eth:ethertype:ip:udp"},`+
		`"ip":{"ip.src":"10.0.0.1","ip.dst":"10.0.0.2"},`+
		`"udp":{"udp.srcport":"5353","udp.dstport":"53"}}}}`+"\n", n, n)
}

func newTestEngine(t *testing.T, cfg Config, l *fakeLauncher) *Engine {
	t.Helper()
	if cfg.OutputDir == "" {
		cfg.OutputDir = t.TempDir()
	}
	if cfg.TerminateTimeout == 0 {
		cfg.TerminateTimeout = time.Second
	}
	e := New(cfg, l, fakeLister{})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = e.Shutdown(ctx)
	})
	return e
}
