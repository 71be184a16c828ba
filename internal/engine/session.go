package engine

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"livecap/internal/capture"
	"livecap/internal/flow"
	"livecap/internal/models"
	"livecap/internal/parser"
	"livecap/internal/stream"
)

type eventKind int

const (
	evData eventKind = iota
	evDiag
	evClosed
	evPause
	evResume
	evStopping
	evSnapshot
)

type event struct {
	kind  eventKind
	data  []byte
	code  int
	err   error
	ack   chan struct{}
	reply chan []models.PacketRecord
}

// Session is one live capture: the tool process, the packets decoded from
// its output, and the client notified about them. All mutable capture state
// is owned by the goroutine running loop.
type Session struct {
	id     string
	opts   capture.Options
	cfg    Config
	out    *outbox
	log    *log.Entry
	flows  *flow.Tracker
	now    func() time.Time
	closed func(*Session)

	state atomic.Int32
	proc  capture.Process

	events chan event
	done   chan struct{}

	// owned by loop until done is closed
	decoder   *stream.Decoder[models.PacketRecord]
	packets   *packetBuffer
	total     int
	startedAt time.Time
	exitCode  int

	// pending unit holds bytes received while not running
	dropPartial bool

	// fileTime is the timestamp in the capture file name.
	fileTime time.Time
}

func newSession(id string, opts capture.Options, cfg Config, client Client, closed func(*Session)) *Session {
	entry := log.WithFields(log.Fields{"session": id, "interface": opts.Interface})
	s := &Session{
		id:      id,
		opts:    opts,
		cfg:     cfg,
		out:     newOutbox(client, entry),
		log:     entry,
		flows:   flow.NewTracker(),
		now:     time.Now,
		closed:  closed,
		events:  make(chan event, cfg.QueueSize),
		done:    make(chan struct{}),
		packets: newPacketBuffer(cfg.MaxPackets),
	}
	s.decoder = stream.NewDecoder(stream.Newline, func(unit []byte) (models.PacketRecord, error) {
		return parser.Normalize(unit, s.now())
	})
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// CaptureFile returns the path of the native capture file.
func (s *Session) CaptureFile() string { return s.opts.OutputFile }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Done is closed once the process has exited and its output was handled.
func (s *Session) Done() <-chan struct{} { return s.done }

// launch starts the process. The session does not consume its output until
// begin is called.
func (s *Session) launch(ctx context.Context, launcher capture.Launcher) error {
	proc, err := launcher.Launch(ctx, s.opts)
	if err != nil {
		return err
	}
	s.proc = proc
	s.startedAt = s.now()
	s.state.Store(int32(StateRunning))
	s.log.WithFields(log.Fields{
		"pid":  proc.Pid(),
		"file": s.opts.OutputFile,
	}).Info("capture started")
	return nil
}

// begin announces the capture and starts consuming the process output.
func (s *Session) begin() {
	s.emit(models.TypeCaptureStarted, models.CaptureStarted{
		Interface:   s.opts.Interface,
		Filter:      filterOrNone(s.opts.Filter),
		CaptureFile: s.opts.OutputFile,
	})

	var pipes sync.WaitGroup
	pipes.Add(2)
	go s.pump(s.proc.Stdout(), evData, &pipes)
	go s.pump(s.proc.Stderr(), evDiag, &pipes)
	go func() {
		pipes.Wait()
		code, err := s.proc.Wait()
		s.events <- event{kind: evClosed, code: code, err: err}
	}()
	go s.loop()
}

func (s *Session) pump(r io.Reader, kind eventKind, wg *sync.WaitGroup) {
	defer wg.Done()
	size := s.cfg.ReadBuffer
	if size <= 0 {
		size = DefaultReadBuffer
	}
	buf := make([]byte, size)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			s.events <- event{kind: kind, data: bytes.Clone(buf[:n])}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				s.log.WithError(err).Debug("capture output read failed")
			}
			return
		}
	}
}

func (s *Session) loop() {
	defer close(s.done)
	for ev := range s.events {
		switch ev.kind {
		case evData:
			s.onData(ev.data)
		case evDiag:
			s.onDiagnostic(ev.data)
		case evPause:
			s.transition(StateRunning, StatePaused)
			close(ev.ack)
		case evResume:
			s.transition(StatePaused, StateRunning)
			close(ev.ack)
		case evStopping:
			if st := s.State(); st == StateRunning || st == StatePaused {
				s.state.Store(int32(StateStopping))
			}
			close(ev.ack)
		case evSnapshot:
			ev.reply <- s.packets.snapshot()
		case evClosed:
			s.onClose(ev.code, ev.err)
			return
		}
	}
}

func (s *Session) transition(from, to State) {
	if s.State() == from {
		s.state.Store(int32(to))
		s.log.WithField("state", to).Debug("capture state changed")
	}
}

// onData frames every chunk so unit boundaries survive a pause, but
// only units made entirely of bytes received while running are kept.
func (s *Session) onData(chunk []byte) {
	running := s.State() == StateRunning
	for rec, err := range s.decoder.Feed(chunk) {
		if !running || s.dropPartial {
			s.dropPartial = false
			continue
		}
		if errors.Is(err, parser.ErrNotPacket) {
			continue
		}
		if err != nil {
			s.log.WithError(err).Warn("skipping malformed decode unit")
			continue
		}
		s.total++
		s.packets.add(rec)
		s.flows.TrackRecord(rec)
		s.emit(models.TypePacketCaptured, rec)
		s.emit(models.TypeCaptureStats, s.stats())
	}
	if !running {
		s.dropPartial = s.decoder.Partial()
	}
}

func filterOrNone(filter string) string {
	if f := strings.TrimSpace(filter); f != "" {
		return f
	}
	return "none"
}

func (s *Session) onDiagnostic(chunk []byte) {
	text := string(chunk)
	s.log.WithField("stderr", text).Debug("capture diagnostic")
	s.emit(models.TypeCaptureError, models.CaptureError{Text: text})
}

func (s *Session) onClose(code int, err error) {
	if tail := s.decoder.Flush(); tail != nil {
		s.log.WithField("bytes", len(tail)).Warn("discarding incomplete decode unit at end of capture output")
	}
	if err != nil {
		s.log.WithError(err).Warn("capture process wait failed")
	}
	s.exitCode = code
	s.state.Store(int32(StateStopped))
	s.emit(models.TypeCaptureStopped, models.CaptureStopped{Code: code, TotalPackets: s.total})
	s.log.WithFields(log.Fields{
		"code":     code,
		"packets":  s.total,
		"duration": s.now().Sub(s.startedAt).Round(time.Millisecond),
	}).Info("capture stopped")
	if s.closed != nil {
		s.closed(s)
	}
}

func (s *Session) stats() models.CaptureStats {
	return models.CaptureStats{
		TotalPackets:    s.total,
		BufferedPackets: s.packets.len(),
		DurationMs:      s.now().Sub(s.startedAt).Milliseconds(),
	}
}

func (s *Session) emit(typ string, payload any) {
	msg, err := models.NewMessage(typ, payload)
	if err != nil {
		s.log.WithError(err).WithField("type", typ).Error("encode notification")
		return
	}
	s.out.push(msg)
}

// control delivers a state event to loop and waits until it was applied.
// It returns false if the session already finished.
func (s *Session) control(kind eventKind) bool {
	ev := event{kind: kind, ack: make(chan struct{})}
	select {
	case s.events <- ev:
	case <-s.done:
		return false
	}
	select {
	case <-ev.ack:
		return true
	case <-s.done:
		return false
	}
}

// Pause stops recording packets. It has no effect unless the session is
// running.
func (s *Session) Pause() { s.control(evPause) }

// Resume records packets again after Pause. It has no effect unless the
// session is paused.
func (s *Session) Resume() { s.control(evResume) }

// Stop asks the process to exit. It returns without waiting; the session
// reports capture_stopped once the process is gone.
func (s *Session) Stop() {
	if !s.control(evStopping) {
		return
	}
	if err := s.proc.Terminate(); err != nil {
		s.log.WithError(err).Warn("terminate capture process")
	}
}

// Terminate stops the process and waits for it, killing it when it does not
// exit within timeout.
func (s *Session) Terminate(ctx context.Context, timeout time.Duration) error {
	s.Stop()
	if s.wait(ctx, timeout) {
		return nil
	}
	s.log.WithField("timeout", timeout).Warn("capture process did not exit, killing it")
	if err := s.proc.Kill(); err != nil {
		s.log.WithError(err).Warn("kill capture process")
	}
	if s.wait(ctx, timeout) {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return ErrProcessStuck
}

func (s *Session) wait(ctx context.Context, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-s.done:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// Packets returns the buffered records oldest first.
func (s *Session) Packets() []models.PacketRecord {
	reply := make(chan []models.PacketRecord, 1)
	select {
	case s.events <- event{kind: evSnapshot, reply: reply}:
		select {
		case pkts := <-reply:
			return pkts
		case <-s.done:
		}
	case <-s.done:
	}
	// loop has exited and no longer touches the buffer.
	return s.packets.snapshot()
}

// Flows returns the session's flow table.
func (s *Session) Flows() []flow.Flow {
	return s.flows.Snapshot()
}

// release stops notification delivery once queued messages are sent.
func (s *Session) release() {
	s.out.close()
}
