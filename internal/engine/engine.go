// Package engine runs live capture sessions and routes their notifications
// to the client that started them.
package engine

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"livecap/internal/capture"
	"livecap/internal/export"
	"livecap/internal/flow"
	"livecap/internal/models"
)

const (
	DefaultReadBuffer       = 32 << 10
	DefaultQueueSize        = 256
	DefaultTerminateTimeout = 5 * time.Second
)

// Client receives the notifications of the sessions it started.
type Client interface {
	SendMessage(msg models.WSMessage) error
}

// InterfaceLister discovers capture interfaces.
type InterfaceLister interface {
	ListInterfaces(ctx context.Context) ([]models.InterfaceInfo, error)
}

// Config tunes capture sessions.
type Config struct {
	OutputDir  string
	FileFormat string
	OutputMode string
	// TerminateTimeout bounds each of the terminate and kill waits when a
	// session is replaced or shut down.
	TerminateTimeout time.Duration
	// MaxPackets caps the records kept per session; 0 keeps all of them.
	MaxPackets int
	// ReadBuffer is the size of each read from the process pipes.
	ReadBuffer int
	// QueueSize is the capacity of a session's event queue.
	QueueSize int
}

func (c Config) withDefaults() Config {
	if c.FileFormat == "" {
		c.FileFormat = capture.DefaultFileFormat
	}
	if c.OutputMode == "" {
		c.OutputMode = capture.DefaultOutputMode
	}
	if c.TerminateTimeout <= 0 {
		c.TerminateTimeout = DefaultTerminateTimeout
	}
	if c.ReadBuffer <= 0 {
		c.ReadBuffer = DefaultReadBuffer
	}
	if c.QueueSize < 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.MaxPackets < 0 {
		c.MaxPackets = 0
	}
	return c
}

// Engine keeps at most one live session per session id. The last stopped
// session of an id is retained so its packets can still be exported.
type Engine struct {
	cfg      Config
	launcher capture.Launcher
	lister   InterfaceLister
	now      func() time.Time

	// processes outlive the requests that start them
	ctx    context.Context
	cancel context.CancelFunc

	locks keyedMutex

	mu       sync.Mutex
	active   map[string]*Session
	retained map[string]*Session
	// ids with a StartCapture in progress; true once a stop arrived for it
	starting map[string]bool
	closing  bool
}

// New creates an Engine.
func New(cfg Config, launcher capture.Launcher, lister InterfaceLister) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:      cfg.withDefaults(),
		launcher: launcher,
		lister:   lister,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
		active:   make(map[string]*Session),
		retained: make(map[string]*Session),
		starting: make(map[string]bool),
	}
}

// GetInterfaces returns the interfaces available for capture.
func (e *Engine) GetInterfaces(ctx context.Context) ([]models.InterfaceInfo, error) {
	return e.lister.ListInterfaces(ctx)
}

// StartCapture starts a capture for id. A session already running under id
// is terminated first and its process has exited before the new one starts.
// ctx bounds only that wait; the new process lives until stopped.
func (e *Engine) StartCapture(ctx context.Context, id string, req models.StartCaptureRequest, client Client) error {
	if !validSessionID(id) {
		return ErrInvalidSessionID
	}
	iface := strings.TrimSpace(req.Interface)
	if iface == "" {
		return ErrNoInterface
	}

	unlock := e.locks.lock(id)
	defer unlock()

	e.mu.Lock()
	if e.closing {
		e.mu.Unlock()
		return ErrShutdown
	}
	prev := []*Session{e.active[id], e.retained[id]}
	e.starting[id] = false
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.starting, id)
		e.mu.Unlock()
	}()

	stamp := e.now()
	for _, p := range prev {
		if p == nil {
			continue
		}
		if err := p.Terminate(ctx, e.cfg.TerminateTimeout); err != nil {
			return err
		}
		if last := p.fileTime; stamp.UnixMilli() <= last.UnixMilli() {
			stamp = last.Add(time.Millisecond)
		}
	}

	opts := capture.Options{
		Interface:  iface,
		Filter:     req.Filter,
		OutputFile: filepath.Join(e.cfg.OutputDir, capture.FileName(id, stamp, e.cfg.FileFormat)),
		FileFormat: e.cfg.FileFormat,
		OutputMode: e.cfg.OutputMode,
	}
	s := newSession(id, opts, e.cfg, client, e.sessionClosed)
	s.now = e.now
	s.fileTime = stamp
	if err := s.launch(e.ctx, e.launcher); err != nil {
		s.release()
		return err
	}

	e.mu.Lock()
	for _, p := range prev {
		if p != nil {
			p.release()
		}
	}
	delete(e.retained, id)
	stopped := e.starting[id]
	if stopped {
		e.retained[id] = s
	} else {
		e.active[id] = s
	}
	e.mu.Unlock()

	s.begin()
	if stopped {
		s.log.Info("stop requested while starting")
		s.Stop()
	}
	return nil
}

// StopCapture asks the session's process to exit and returns at once. The
// session leaves the active set immediately; its packets stay exportable.
// A stop that arrives while a StartCapture for id is in progress also stops
// the session that start installs.
func (e *Engine) StopCapture(id string) {
	e.mu.Lock()
	s := e.active[id]
	if s != nil {
		delete(e.active, id)
		e.retainLocked(s)
	}
	if _, ok := e.starting[id]; ok {
		e.starting[id] = true
	}
	e.mu.Unlock()
	if s != nil {
		s.Stop()
	}
}

// PauseCapture stops recording packets for id. Unknown ids are ignored.
func (e *Engine) PauseCapture(id string) {
	if s := e.activeSession(id); s != nil {
		s.Pause()
	}
}

// ResumeCapture continues recording packets for id. Unknown ids are ignored.
func (e *Engine) ResumeCapture(id string) {
	if s := e.activeSession(id); s != nil {
		s.Resume()
	}
}

// ExportCapture writes the session's packets in format. json and csv
// produce a derived file next to the capture file; any other format returns
// the native capture file itself.
func (e *Engine) ExportCapture(id, format string) (models.ExportComplete, error) {
	format = export.Normalize(format)
	s := e.session(id)
	if s == nil {
		return models.ExportComplete{}, &ExportError{Session: id, Format: format, Err: ErrNoActiveCapture}
	}

	// the native file needs no packet snapshot
	var pkts []models.PacketRecord
	if export.IsDerived(format) {
		pkts = s.Packets()
	}
	path, native, err := export.Write(s.CaptureFile(), format, pkts)
	if err != nil {
		return models.ExportComplete{}, &ExportError{Session: id, Format: format, Err: err}
	}
	res := models.ExportComplete{File: path, Format: format}
	if native {
		sum, err := capture.Summarize(path)
		if err != nil {
			s.log.WithError(err).Debug("capture file not readable for export")
		} else {
			res.Packets = &sum.Packets
		}
	} else {
		n := len(pkts)
		res.Packets = &n
	}
	s.log.WithFields(log.Fields{"format": format, "file": path}).Info("capture exported")
	return res, nil
}

// CaptureFileInfo summarizes the native capture file of id's session.
func (e *Engine) CaptureFileInfo(id string) (models.CaptureFileInfo, error) {
	s := e.session(id)
	if s == nil {
		return models.CaptureFileInfo{}, ErrNoActiveCapture
	}
	sum, err := capture.Summarize(s.CaptureFile())
	if err != nil {
		return models.CaptureFileInfo{}, err
	}
	info := models.CaptureFileInfo{
		File:        sum.Path,
		Format:      sum.Format,
		LinkType:    sum.LinkType.String(),
		Packets:     sum.Packets,
		Bytes:       sum.Bytes,
		LayerCounts: sum.LayerCounts,
	}
	if !sum.First.IsZero() {
		info.FirstTimestamp = export.FormatTimestamp(sum.First)
		info.LastTimestamp = export.FormatTimestamp(sum.Last)
	}
	return info, nil
}

// Flows returns the flow table of id's session.
func (e *Engine) Flows(id string) ([]flow.Flow, error) {
	s := e.session(id)
	if s == nil {
		return nil, ErrNoActiveCapture
	}
	return s.Flows(), nil
}

// Release forgets everything kept for id. A live session is stopped first.
func (e *Engine) Release(id string) {
	unlock := e.locks.lock(id)
	defer unlock()

	e.mu.Lock()
	live := e.active[id]
	kept := e.retained[id]
	delete(e.active, id)
	delete(e.retained, id)
	e.mu.Unlock()

	for _, s := range []*Session{live, kept} {
		if s == nil {
			continue
		}
		s.Stop()
		s.release()
	}
}

// Active returns the number of live sessions.
func (e *Engine) Active() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}

// Shutdown stops every session and waits for their processes until ctx is
// done. Remaining processes are killed when it returns.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closing = true
	var sessions []*Session
	for _, s := range e.active {
		sessions = append(sessions, s)
	}
	for _, s := range e.retained {
		sessions = append(sessions, s)
	}
	e.active = make(map[string]*Session)
	e.retained = make(map[string]*Session)
	e.mu.Unlock()
	defer e.cancel()

	for _, s := range sessions {
		s.Stop()
	}
	var err error
	for _, s := range sessions {
		if err == nil {
			select {
			case <-s.Done():
			case <-ctx.Done():
				err = ctx.Err()
			}
		}
		s.release()
	}
	if err != nil {
		log.WithError(err).Warn("shutdown timed out, killing remaining captures")
	}
	return err
}

func (e *Engine) activeSession(id string) *Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active[id]
}

// session returns the live session of id, or else its retained one.
func (e *Engine) session(id string) *Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s := e.active[id]; s != nil {
		return s
	}
	return e.retained[id]
}

// sessionClosed moves a session whose process exited on its own from the
// active set to the retained one.
func (e *Engine) sessionClosed(s *Session) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active[s.id] != s {
		return
	}
	delete(e.active, s.id)
	e.retainLocked(s)
}

func (e *Engine) retainLocked(s *Session) {
	if old := e.retained[s.id]; old != nil && old != s {
		old.release()
	}
	e.retained[s.id] = s
}

func validSessionID(id string) bool {
	return id != "" && id != "." && id != ".." && !strings.ContainsAny(id, `/\`)
}

// keyedMutex serializes operations per key.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refMutex)
	}
	m := k.locks[key]
	if m == nil {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		if m.refs--; m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
