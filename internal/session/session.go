// Package session runs the streaming loop: it pulls frames from a source,
// renders them to 1-bit, shows them on local previews and sends them to the
// remote display one acknowledged frame at a time.
//
// A Manager owns a generation token. Every start, stop, restart and transport
// failure increments it; a loop only keeps running while the token it was
// started with (or took over after a transport failure) is current.
package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"periph.io/x/conn/v3/display"

	"github.com/flavioheleno/monostream"
	"github.com/flavioheleno/monostream/dither"
	"github.com/flavioheleno/monostream/image1bit"
	"github.com/flavioheleno/monostream/internal/metrics"
	"github.com/flavioheleno/monostream/source"
	"github.com/flavioheleno/monostream/transport"
)

var (
	// ErrTransportOpen is returned when the link to the display cannot be
	// established.
	ErrTransportOpen = errors.New("session: transport open failed")

	// ErrNoSource is returned by Restart before anything was started.
	ErrNoSource = errors.New("session: no source")
)

// State of a Manager.
type State int

const (
	Idle State = iota
	Starting
	Streaming
	Stopping
	Ended
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Streaming:
		return "streaming"
	case Stopping:
		return "stopping"
	case Ended:
		return "ended"
	case Error:
		return "error"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Config holds the stream settings.
type Config struct {
	Width  int
	Height int
	FPS    float64
	Loop   bool

	// SkipFrames drops source frames to catch up when a cycle overruns the
	// frame interval, keeping video in real time on a slow link.
	SkipFrames bool

	Algorithm dither.Key
	Params    dither.Params

	// AckTimeout bounds each acknowledgment wait; zero waits forever.
	AckTimeout time.Duration

	// Transport is passed to the opener.
	Transport transport.Config
}

func (c Config) interval() time.Duration {
	return time.Duration(float64(time.Second) / c.FPS)
}

// Stats is a snapshot of a Manager.
type Stats struct {
	State             State
	Token             uint64
	RunID             string
	FramesRendered    uint64
	FramesSent        uint64
	FramesSkipped     uint64
	TransportFailures uint64
	PreviewOnly       bool
	LastError         error
}

// Option configures a Manager.
type Option func(*Manager)

// WithOpener sets how the transport is established. Without an opener the
// manager only renders to previews.
func WithOpener(o transport.Opener) Option {
	return func(m *Manager) { m.opener = o }
}

// WithPreview adds local displays every rendered frame is drawn on.
func WithPreview(d ...display.Drawer) Option {
	return func(m *Manager) { m.previews = append(m.previews, d...) }
}

func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

func WithMetrics(s *metrics.Session) Option {
	return func(m *Manager) { m.metrics = s }
}

// WithClock replaces time.Now for frame pacing.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager drives one stream at a time.
type Manager struct {
	cfg      Config
	opener   transport.Opener
	previews []display.Drawer
	log      zerolog.Logger
	metrics  *metrics.Session
	now      func() time.Time

	// lifecycle serializes Start, Stop, Restart and Close.
	lifecycle sync.Mutex

	token atomic.Uint64

	mu          sync.Mutex
	state       State
	dev         *monostream.Dev
	src         source.Source
	cancel      context.CancelFunc
	done        chan struct{}
	runID       string
	rendered    uint64
	sent        uint64
	skipped     uint64
	failures    uint64
	previewOnly bool
	lastErr     error
}

// New creates an idle Manager.
func New(cfg Config, opts ...Option) (*Manager, error) {
	if cfg.Width < 1 || cfg.Width > 1024 {
		return nil, fmt.Errorf("session: width %d is out of range [1, 1024]", cfg.Width)
	}
	if cfg.Height < 8 || cfg.Height > 1024 {
		return nil, fmt.Errorf("session: height %d is out of range [8, 1024]", cfg.Height)
	}
	if cfg.FPS <= 0 {
		return nil, fmt.Errorf("session: fps %g must be positive", cfg.FPS)
	}
	if cfg.Algorithm == "" {
		cfg.Algorithm = dither.Default
	}

	done := make(chan struct{})
	close(done)

	m := &Manager{
		cfg:  cfg,
		log:  log.Logger.With().Str("component", "session").Logger(),
		now:  time.Now,
		done: done,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.metrics == nil {
		m.metrics = metrics.NewSession(nil)
	}
	return m, nil
}

// Connect opens the transport unless one is already held. A running
// preview-only stream starts sending with its next frame.
func (m *Manager) Connect(ctx context.Context) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	return m.connect(ctx)
}

func (m *Manager) connect(ctx context.Context) error {
	m.mu.Lock()
	held := m.dev != nil
	m.mu.Unlock()
	if held {
		return nil
	}
	if m.opener == nil {
		return fmt.Errorf("%w: no transport configured", ErrTransportOpen)
	}

	t, err := m.opener(ctx, m.cfg.Transport)
	if err != nil {
		m.metrics.TransportFailures.WithLabelValues(metrics.FailureOpen).Inc()
		m.log.Error().
			Err(err).
			Str("port", m.cfg.Transport.Port).
			Msg("Failed to open transport")
		return fmt.Errorf("%w: %w", ErrTransportOpen, err)
	}

	dev, err := monostream.New(t, &monostream.Opts{
		W:          m.cfg.Width,
		H:          m.cfg.Height,
		Algorithm:  m.cfg.Algorithm,
		Params:     m.cfg.Params,
		AckTimeout: m.cfg.AckTimeout,
	})
	if err != nil {
		t.Close()
		return fmt.Errorf("%w: %w", ErrTransportOpen, err)
	}

	m.mu.Lock()
	m.dev = dev
	m.previewOnly = false
	m.mu.Unlock()
	m.metrics.SetPreviewOnly(false)

	m.log.Info().
		Str("port", m.cfg.Transport.Port).
		Str("device", dev.String()).
		Msg("Transport connected")
	return nil
}

// Start stops any running stream, waits for it to let go of the transport and
// streams src under a new token. The transport is opened first when an
// opener is configured and no handle is held; failing that, Start returns
// ErrTransportOpen and the manager stays idle. Without an opener the stream
// runs preview only.
//
// ctx bounds the start itself; the stream runs until Stop, Close or the end
// of src.
func (m *Manager) Start(ctx context.Context, src source.Source) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	return m.start(ctx, src)
}

func (m *Manager) start(ctx context.Context, src source.Source) error {
	if src == nil {
		return ErrNoSource
	}
	m.stop()
	if err := m.wait(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	m.state = Starting
	m.src = src
	m.mu.Unlock()
	gen := m.bump()

	if m.opener != nil {
		if err := m.connect(ctx); err != nil {
			m.setState(Idle)
			return err
		}
	}

	if err := src.Rewind(); err != nil {
		m.setState(Error)
		return fmt.Errorf("session: rewind source: %w", err)
	}

	algorithm := m.cfg.Algorithm
	if _, err := dither.Lookup(algorithm); err != nil {
		m.log.Warn().
			Str("algorithm", string(algorithm)).
			Str("fallback", string(dither.Default)).
			Msg("Unknown dithering algorithm")
		algorithm = dither.Default
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	runID := uuid.NewString()

	m.mu.Lock()
	m.cancel = cancel
	m.done = done
	m.runID = runID
	m.rendered, m.sent, m.skipped = 0, 0, 0
	m.lastErr = nil
	m.previewOnly = m.dev == nil
	m.state = Streaming
	previewOnly := m.previewOnly
	m.mu.Unlock()
	m.metrics.SetPreviewOnly(previewOnly)

	logger := m.log.With().Str("run_id", runID).Logger()
	if previewOnly {
		logger.Warn().Msg("No transport connected, running preview only")
	}
	logger.Info().
		Uint64("token", gen).
		Int("width", m.cfg.Width).
		Int("height", m.cfg.Height).
		Float64("fps", m.cfg.FPS).
		Str("algorithm", string(algorithm)).
		Bool("loop", m.cfg.Loop).
		Bool("skip_frames", m.cfg.SkipFrames).
		Msg("Stream started")

	go m.run(runCtx, gen, src, algorithm, logger, done)
	return nil
}

// Stop invalidates the running stream. A pending pacing wait is cut short;
// a frame write in flight completes with its acknowledgment, after which the
// loop exits and the state becomes Idle. Use Wait to block until then.
func (m *Manager) Stop() {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	m.stop()
}

func (m *Manager) stop() {
	m.bump()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.state == Starting || m.state == Streaming {
		m.state = Stopping
		m.log.Info().Str("run_id", m.runID).Msg("Stream stopped")
	}
}

// Wait blocks until the current loop has exited or ctx is done.
func (m *Manager) Wait(ctx context.Context) error {
	return m.wait(ctx)
}

func (m *Manager) wait(ctx context.Context) error {
	select {
	case <-m.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("session: waiting for stream to stop: %w", ctx.Err())
	}
}

// Restart stops the stream, waits for it within ctx and starts the same
// source again from the beginning.
func (m *Manager) Restart(ctx context.Context) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.mu.Lock()
	src := m.src
	m.mu.Unlock()
	if src == nil {
		return ErrNoSource
	}

	m.log.Info().Msg("Restarting stream")
	return m.start(ctx, src)
}

// Close stops the stream, releases the transport and waits for the loop.
// Releasing the transport first fails a pending acknowledgment wait, so Close
// returns even when the device has stalled.
func (m *Manager) Close() error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.stop()

	m.mu.Lock()
	dev := m.dev
	m.dev = nil
	m.mu.Unlock()

	var err error
	if dev != nil {
		err = dev.Halt()
	}
	<-m.Done()
	return err
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Token returns the current generation token.
func (m *Manager) Token() uint64 {
	return m.token.Load()
}

// Done returns a channel closed when the current loop exits.
func (m *Manager) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

// Stats returns a snapshot of the manager. Frame counters cover the current
// run; failures accumulate.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		State:             m.state,
		Token:             m.token.Load(),
		RunID:             m.runID,
		FramesRendered:    m.rendered,
		FramesSent:        m.sent,
		FramesSkipped:     m.skipped,
		TransportFailures: m.failures,
		PreviewOnly:       m.previewOnly,
		LastError:         m.lastErr,
	}
}

func (m *Manager) bump() uint64 {
	gen := m.token.Add(1)
	m.metrics.Token.Set(float64(gen))
	return gen
}

func (m *Manager) current(gen uint64) bool {
	return m.token.Load() == gen
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Manager) device() *monostream.Dev {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dev
}

// run is the frame loop of one generation.
func (m *Manager) run(ctx context.Context, gen uint64, src source.Source, algorithm dither.Key, logger zerolog.Logger, done chan struct{}) {
	defer close(done)

	interval := m.cfg.interval()
	params := m.cfg.Params
	var frame uint64
	var behind int

	for {
		if !m.current(gen) {
			m.stopped()
			return
		}
		cycleStart := m.now()

		img, err := src.Next(ctx)
		if err != nil {
			if !m.current(gen) || ctx.Err() != nil {
				m.stopped()
				return
			}
			if errors.Is(err, io.EOF) {
				if !m.cfg.Loop {
					logger.Info().Uint64("frames", frame).Msg("Source ended, stopping stream")
					m.finish(gen, Ended, nil)
					return
				}
				if err := src.Rewind(); err != nil {
					logger.Error().Err(err).Msg("Failed to rewind source")
					m.finish(gen, Error, err)
					return
				}
				continue
			}
			logger.Error().Err(err).Msg("Failed to read frame")
			m.finish(gen, Error, err)
			return
		}
		if !m.current(gen) {
			m.stopped()
			return
		}

		if behind > 0 {
			behind--
			m.metrics.FramesSkipped.Inc()
			m.mu.Lock()
			m.skipped++
			m.mu.Unlock()
			continue
		}

		renderStart := m.now()
		canvas := source.Fit(img, m.cfg.Width, m.cfg.Height)
		p := params
		p.FrameIndex = frame
		dither.Apply(canvas, algorithm, p)
		packed := image1bit.Pack(canvas)
		frame++
		m.metrics.FrameRender.Observe(m.now().Sub(renderStart).Seconds())
		m.metrics.FramesRendered.Inc()
		m.mu.Lock()
		m.rendered++
		m.mu.Unlock()

		for _, d := range m.previews {
			if err := d.Draw(d.Bounds(), packed, image.Point{}); err != nil {
				logger.Debug().Err(err).Str("preview", d.String()).Msg("Preview draw failed")
			}
		}

		if !m.current(gen) {
			m.stopped()
			return
		}

		if dev := m.device(); dev != nil {
			writeStart := m.now()
			if _, err := dev.Write(packed.Pix); err != nil {
				if !m.current(gen) {
					// closed or replaced while the write was pending
					m.release(dev)
					m.stopped()
					return
				}
				gen = m.transportFailed(gen, dev, err, logger)
			} else {
				m.metrics.AckWait.Observe(m.now().Sub(writeStart).Seconds())
				m.metrics.FramesSent.Inc()
				m.mu.Lock()
				m.sent++
				m.mu.Unlock()
			}
		}

		if !m.current(gen) {
			m.stopped()
			return
		}

		delay := interval - m.now().Sub(cycleStart)
		if delay < 0 {
			if m.cfg.SkipFrames {
				behind = int(-delay / interval)
				if behind > 0 {
					logger.Debug().
						Dur("lag", -delay).
						Int("frames", behind).
						Msg("Skipping frames to catch up")
				}
			}
			delay = 0
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			m.stopped()
			return
		case <-timer.C:
		}
	}
}

// transportFailed drops the broken handle and, when gen is still current,
// moves the stream to preview only under a new token. It returns the token
// the loop continues with.
func (m *Manager) transportFailed(gen uint64, dev *monostream.Dev, err error, logger zerolog.Logger) uint64 {
	kind := metrics.FailureWrite
	switch {
	case errors.Is(err, monostream.ErrAckTimeout):
		kind = metrics.FailureAckTimeout
	case errors.Is(err, monostream.ErrAck):
		kind = metrics.FailureAck
	}
	m.metrics.TransportFailures.WithLabelValues(kind).Inc()
	logger.Error().
		Err(err).
		Str("kind", kind).
		Msg("Transport disconnected or failed, continuing preview only")

	m.release(dev)

	m.mu.Lock()
	m.failures++
	m.lastErr = err
	m.previewOnly = true
	m.mu.Unlock()
	m.metrics.SetPreviewOnly(true)

	// The token only moves on if nobody else has moved it since.
	if m.token.CompareAndSwap(gen, gen+1) {
		m.metrics.Token.Set(float64(gen + 1))
		return gen + 1
	}
	return gen
}

// release halts dev and drops it if it is still the held handle.
func (m *Manager) release(dev *monostream.Dev) {
	dev.Halt()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dev == dev {
		m.dev = nil
	}
}

// stopped records that the loop exited because it was invalidated.
func (m *Manager) stopped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Stopping {
		m.state = Idle
	}
}

// finish records the natural end of the loop of gen.
func (m *Manager) finish(gen uint64, s State, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.current(gen) {
		if m.state == Stopping {
			m.state = Idle
		}
		return
	}
	m.state = s
	if err != nil {
		m.lastErr = err
	}
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
}
