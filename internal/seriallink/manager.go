// Package seriallink keeps a connection to the tag reader alive and feeds
// every decoded tag into the scan pipeline.
package seriallink

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/BrandonDHaskell/gatekeeper/internal/gate/types"
	"github.com/BrandonDHaskell/gatekeeper/internal/metrics"
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateReading      State = "reading"
)

var allStates = []string{string(StateDisconnected), string(StateConnecting), string(StateReading)}

const (
	DefaultBackoff = 5 * time.Second
	defaultMaxLine = 1024
	readChunk      = 256
)

// ScanProcessor receives decoded tags.
type ScanProcessor interface {
	ProcessScan(ctx context.Context, tagID string, dir types.Direction) (types.ScanLog, error)
}

type Config struct {
	Decoder   Decoder
	Direction types.Direction
	Backoff   time.Duration
	MaxLine   int
	Debounce  time.Duration
	Logger    logrus.FieldLogger
	Metrics   *metrics.Metrics
	// OnState, if set, is called on every state change. Used by tests.
	OnState func(State)
}

// Manager owns the reader port. It cycles disconnected -> connecting ->
// reading and back on any link error, waiting Backoff between attempts,
// until it is stopped.
type Manager struct {
	opener    Opener
	processor ScanProcessor
	decoder   Decoder
	direction types.Direction
	backoff   time.Duration
	maxLine   int
	debounce  *Debouncer
	log       logrus.FieldLogger
	metrics   *metrics.Metrics
	onState   func(State)

	mu    sync.RWMutex
	state State

	cancel context.CancelFunc
	done   chan struct{}
}

func NewManager(opener Opener, processor ScanProcessor, cfg Config) *Manager {
	m := &Manager{
		opener:    opener,
		processor: processor,
		decoder:   cfg.Decoder,
		direction: cfg.Direction,
		backoff:   cfg.Backoff,
		maxLine:   cfg.MaxLine,
		debounce:  NewDebouncer(cfg.Debounce),
		log:       cfg.Logger,
		metrics:   cfg.Metrics,
		onState:   cfg.OnState,
		state:     StateDisconnected,
		done:      make(chan struct{}),
	}
	if m.decoder == nil {
		m.decoder = UTF16Decoder{Prefix: DefaultTagPrefix}
	}
	if m.direction == "" {
		m.direction = types.DirectionIn
	}
	if m.backoff <= 0 {
		m.backoff = DefaultBackoff
	}
	if m.maxLine <= 0 {
		m.maxLine = defaultMaxLine
	}
	if m.log == nil {
		m.log = logrus.StandardLogger()
	}
	return m
}

func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	changed := m.state != s
	m.state = s
	m.mu.Unlock()

	if !changed {
		return
	}
	m.metrics.LinkState(string(s), allStates...)
	m.log.WithField("state", s).Debug("reader link state")
	if m.onState != nil {
		m.onState(s)
	}
}

// Start runs the link loop in the background until ctx ends or Stop is
// called.
func (m *Manager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	go func() {
		defer close(m.done)
		m.Run(ctx)
	}()
}

// Stop cancels the loop, closing any open port, and waits for it to exit.
func (m *Manager) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
}

// Run blocks until ctx is done. Link failures never end it.
func (m *Manager) Run(ctx context.Context) {
	defer m.setState(StateDisconnected)

	for ctx.Err() == nil {
		m.setState(StateConnecting)
		m.metrics.ConnectAttempt()

		port, err := m.opener.Open(ctx)
		if err != nil {
			m.log.WithError(err).WithField("retry_in", m.backoff).Warn("reader connect failed")
			m.setState(StateDisconnected)
			if !sleepCtx(ctx, m.backoff) {
				return
			}
			continue
		}

		m.setState(StateReading)
		m.log.Info("reader connected")

		err = m.read(ctx, port)
		if ctx.Err() != nil {
			return
		}
		m.log.WithError(err).WithField("retry_in", m.backoff).Warn("reader link lost")
		m.setState(StateDisconnected)
		if !sleepCtx(ctx, m.backoff) {
			return
		}
	}
}

// read consumes port until it fails or ctx ends. The port is always closed
// on return.
func (m *Manager) read(ctx context.Context, port Port) error {
	var once sync.Once
	closePort := func() { once.Do(func() { _ = port.Close() }) }
	stop := context.AfterFunc(ctx, closePort)
	defer func() {
		stop()
		closePort()
	}()

	var pending []byte
	// discarding is set after an oversized line was dropped and holds until
	// that line's terminator arrives, so its tail is not read as a line.
	discarding := false
	buf := make([]byte, readChunk)
	for {
		n, err := port.Read(buf)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			return err
		}
		if n == 0 {
			continue
		}

		pending = append(pending, buf[:n]...)
		for {
			i := bytes.IndexByte(pending, '\n')
			if i < 0 {
				break
			}
			if discarding {
				discarding = false
			} else {
				m.handleLine(ctx, pending[:i])
			}
			pending = pending[i+1:]
		}
		switch {
		case discarding:
			pending = nil
		case len(pending) > m.maxLine:
			m.log.WithField("bytes", len(pending)).Warn("discarding oversized reader line")
			m.metrics.LineDropped()
			pending = nil
			discarding = true
		}
	}
}

func (m *Manager) handleLine(ctx context.Context, line []byte) {
	tag, err := m.decoder.Decode(line)
	if err != nil || tag == "" {
		m.metrics.LineDropped()
		m.log.WithError(err).WithField("bytes", len(line)).Debug("reader line ignored")
		return
	}
	if !m.debounce.Allow(tag) {
		m.log.WithField("tag_id", tag).Debug("repeat read suppressed")
		return
	}

	if _, err := m.processor.ProcessScan(ctx, tag, m.direction); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		m.log.WithError(err).WithField("tag_id", tag).Error("reader scan failed")
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
