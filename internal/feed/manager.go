package feed

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tickwatch/internal/telemetry"
)

// Phase is the lifecycle state of the logical subscription.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseConnecting
	PhaseOpen
	PhaseSubscribed
	PhaseClosing
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseConnecting:
		return "connecting"
	case PhaseOpen:
		return "open"
	case PhaseSubscribed:
		return "subscribed"
	case PhaseClosing:
		return "closing"
	case PhaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Observation is one valid price delivered by the feed.
type Observation struct {
	Instrument string
	Price      decimal.Decimal
	ObservedAt time.Time
}

// Options tune one connection manager.
type Options struct {
	URL        string
	Instrument string

	ConnectTimeout     time.Duration
	PingInterval       time.Duration
	StaleCheckInterval time.Duration
	StaleAfter         time.Duration
	AdaptiveStale      bool

	MinBackoff           time.Duration
	MaxBackoff           time.Duration
	GrowthFactor         float64
	JitterFraction       float64
	FailureCooldown      time.Duration
	FailureCooldownAfter int
	MinSendSpacing       time.Duration
	DailyReconnectCap    int
	DegradedMultiplier   float64

	// OnTick is invoked once per valid observation, in arrival order.
	OnTick func(Observation)
	// OnPhaseChange is invoked on every phase transition.
	OnPhaseChange func(Phase)
}

func (o *Options) withDefaults() {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 10 * time.Second
	}
	if o.PingInterval == 0 {
		o.PingInterval = 15 * time.Second
	}
	if o.StaleCheckInterval <= 0 {
		o.StaleCheckInterval = 5 * time.Second
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = 30 * time.Second
	}
	if o.MinBackoff <= 0 {
		o.MinBackoff = 10 * time.Second
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 120 * time.Second
	}
	if o.GrowthFactor < 1.0 {
		o.GrowthFactor = 1.8
	}
	if o.JitterFraction < 0 {
		o.JitterFraction = 0
	}
	if o.FailureCooldownAfter <= 0 {
		o.FailureCooldownAfter = 5
	}
	if o.DegradedMultiplier < 1.0 {
		o.DegradedMultiplier = 2.0
	}
}

// Health is an observable snapshot of the connection state.
type Health struct {
	Phase               Phase
	ConsecutiveFailures int
	Reconnects          int
	CurrentBackoff      time.Duration
	LastActivityAt      time.Time
	LastTickAt          time.Time
	AvgTickInterval     time.Duration
}

// Exponentially-weighted moving average smoothing for inter-tick gaps.
const tickEWMAAlpha = 0.2

// Manager owns one logical subscription: it opens the transport, subscribes,
// classifies inbound frames, watches for staleness, and drives
// reconnect-with-backoff. At most one live connection exists at a time; a
// generation counter invalidates every timer and pump belonging to a torn
// down connection cycle, so no stale callback can touch newer state.
type Manager struct {
	opts   Options
	dialer Dialer
	clock  clock.Clock
	sink   *telemetry.Sink
	logger zerolog.Logger

	mu                  sync.Mutex
	gen                 int
	phase               Phase
	conn                Conn
	done                chan struct{}
	backoff             time.Duration
	consecutiveFailures int
	reconnects          int
	lastActivityAt      time.Time
	lastTickAt          time.Time
	avgTickInterval     time.Duration
	lastSendAt          time.Time
	degraded            bool
	reconnectTimer      *clock.Timer
	capDay              string
	capCount            int
}

// NewManager constructs a manager for one instrument.
func NewManager(opts Options, dialer Dialer, clk clock.Clock, sink *telemetry.Sink, logger zerolog.Logger) *Manager {
	opts.withDefaults()
	if clk == nil {
		clk = clock.New()
	}
	return &Manager{
		opts:    opts,
		dialer:  dialer,
		clock:   clk,
		sink:    sink,
		logger:  logger.With().Str("component", "feed").Str("instrument", opts.Instrument).Logger(),
		phase:   PhaseIdle,
		backoff: opts.MinBackoff,
	}
}

// Start begins a connect attempt. It is idempotent: while a connection is
// being established or is live, further calls are no-ops.
func (m *Manager) Start() {
	m.mu.Lock()
	switch m.phase {
	case PhaseConnecting, PhaseOpen, PhaseSubscribed:
		m.mu.Unlock()
		m.logger.Debug().Msg("start skipped: connection already active")
		return
	}
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.gen++
	gen := m.gen
	m.phase = PhaseConnecting
	m.mu.Unlock()

	m.emitPhase(PhaseConnecting)
	go m.connect(gen)
}

// Stop tears the subscription down: the transport is released and all
// pending timers are cancelled before Stop returns. Terminal until Start.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.phase == PhaseIdle {
		m.mu.Unlock()
		return
	}
	m.gen++
	m.phase = PhaseClosing
	conn := m.conn
	m.conn = nil
	if m.done != nil {
		close(m.done)
		m.done = nil
	}
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.mu.Unlock()

	m.emitPhase(PhaseClosing)
	if conn != nil {
		conn.Close()
	}

	m.mu.Lock()
	m.phase = PhaseIdle
	m.mu.Unlock()
	m.emitPhase(PhaseIdle)
	m.logger.Info().Msg("feed stopped")
}

// SetDegraded marks the host environment hidden/offline. Reconnect delays
// are stretched while degraded; reconnection is never abandoned.
func (m *Manager) SetDegraded(degraded bool) {
	m.mu.Lock()
	changed := m.degraded != degraded
	m.degraded = degraded
	m.mu.Unlock()
	if changed {
		m.logger.Info().Bool("degraded", degraded).Msg("degraded mode changed")
	}
}

// Health returns an observable snapshot of the connection state.
func (m *Manager) Health() Health {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Health{
		Phase:               m.phase,
		ConsecutiveFailures: m.consecutiveFailures,
		Reconnects:          m.reconnects,
		CurrentBackoff:      m.backoff,
		LastActivityAt:      m.lastActivityAt,
		LastTickAt:          m.lastTickAt,
		AvgTickInterval:     m.avgTickInterval,
	}
}

func (m *Manager) connect(gen int) {
	m.reserveSendSlot()
	if !m.currentGen(gen) {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	timeout := m.clock.AfterFunc(m.opts.ConnectTimeout, cancel)
	conn, err := m.dialer.Dial(ctx, m.opts.URL)
	timeout.Stop()
	cancel()

	if err != nil {
		m.handleFailure(gen, nil, fmt.Errorf("dial: %w", err))
		return
	}

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		conn.Close()
		return
	}
	m.conn = conn
	m.done = make(chan struct{})
	done := m.done
	m.consecutiveFailures = 0
	m.backoff = m.opts.MinBackoff
	m.lastActivityAt = m.clock.Now()
	m.phase = PhaseOpen
	m.mu.Unlock()

	m.emitPhase(PhaseOpen)
	m.logger.Info().Msg("transport open")

	go m.readLoop(gen, conn)
	if m.opts.PingInterval > 0 {
		go m.keepaliveLoop(gen, conn, done)
	}
	go m.staleLoop(gen, conn, done)

	payload, err := SubscribeMessage(m.opts.Instrument)
	if err != nil {
		m.logger.Error().Err(err).Msg("build subscribe request")
		conn.Close()
		return
	}
	if err := m.send(gen, conn, payload); err != nil {
		m.logger.Warn().Err(err).Msg("subscribe send failed")
		conn.Close()
		return
	}
	m.logger.Info().Msg("subscribe request sent")
}

func (m *Manager) readLoop(gen int, conn Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			m.handleFailure(gen, conn, err)
			return
		}
		m.handleFrame(gen, data)
	}
}

func (m *Manager) keepaliveLoop(gen int, conn Conn, done chan struct{}) {
	ticker := m.clock.Ticker(m.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if !m.currentGen(gen) {
				return
			}
			if err := m.send(gen, conn, PingMessage()); err != nil {
				return
			}
		}
	}
}

func (m *Manager) staleLoop(gen int, conn Conn, done chan struct{}) {
	ticker := m.clock.Ticker(m.opts.StaleCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			m.mu.Lock()
			if gen != m.gen {
				m.mu.Unlock()
				return
			}
			silent := m.clock.Now().Sub(m.lastActivityAt)
			threshold := m.staleThresholdLocked()
			m.mu.Unlock()

			if silent <= threshold {
				continue
			}
			m.logger.Warn().
				Dur("silent", silent).
				Dur("threshold", threshold).
				Msg("no inbound activity; forcing reconnect")
			m.publish(telemetry.KindStale, fmt.Sprintf("silent for %s", silent))
			// Treated as an ordinary close: the read loop observes the
			// closed transport and drives the single failure increment.
			conn.Close()
			return
		}
	}
}

func (m *Manager) staleThresholdLocked() time.Duration {
	threshold := m.opts.StaleAfter
	if m.opts.AdaptiveStale && m.avgTickInterval > 0 {
		if adaptive := 3 * m.avgTickInterval; adaptive > threshold {
			threshold = adaptive
		}
	}
	return threshold
}

func (m *Manager) handleFrame(gen int, raw []byte) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.lastActivityAt = m.clock.Now()
	m.mu.Unlock()

	frame := ClassifyFrame(raw)
	switch frame.Kind {
	case FrameSubscribed:
		m.mu.Lock()
		changed := gen == m.gen && m.phase == PhaseOpen
		if changed {
			m.phase = PhaseSubscribed
		}
		m.mu.Unlock()
		if changed {
			m.emitPhase(PhaseSubscribed)
			m.logger.Info().Msg("subscription acknowledged")
		}

	case FrameSubscribeError:
		m.logger.Warn().Str("error", frame.ErrorMessage).Msg("subscription rejected")
		// Force the transport down; the read loop schedules the reconnect.
		m.mu.Lock()
		conn := m.conn
		m.mu.Unlock()
		if conn != nil {
			conn.Close()
		}

	case FrameHeartbeat, FrameSystemStatus:
		// Activity timestamp already refreshed above.

	case FrameTick:
		m.handleTick(gen, frame)

	default:
		// Unknown shapes are ignored for forward compatibility.
	}
}

func (m *Manager) handleTick(gen int, frame Frame) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	now := m.clock.Now()
	if !m.lastTickAt.IsZero() {
		gap := now.Sub(m.lastTickAt)
		if m.avgTickInterval <= 0 {
			m.avgTickInterval = gap
		} else {
			m.avgTickInterval = time.Duration(
				(1-tickEWMAAlpha)*float64(m.avgTickInterval) + tickEWMAAlpha*float64(gap))
		}
	}
	m.lastTickAt = now
	onTick := m.opts.OnTick
	m.mu.Unlock()

	m.publish(telemetry.KindTickReceived, frame.Price.String())
	if onTick != nil {
		onTick(Observation{
			Instrument: m.opts.Instrument,
			Price:      frame.Price,
			ObservedAt: now,
		})
	}
}

// handleFailure is the single recovery path for dial errors, read errors,
// subscription rejections, and staleness closes.
func (m *Manager) handleFailure(gen int, conn Conn, cause error) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	m.gen++
	m.phase = PhaseClosed
	m.consecutiveFailures++
	failures := m.consecutiveFailures
	if m.conn != nil {
		conn = m.conn
		m.conn = nil
	}
	if m.done != nil {
		close(m.done)
		m.done = nil
	}
	delay, capped := m.nextDelayLocked()
	if !capped {
		m.reconnects++
	}
	m.reconnectTimer = m.clock.AfterFunc(delay, m.Start)
	m.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	m.emitPhase(PhaseClosed)

	if capped {
		m.logger.Warn().Err(cause).Dur("pause", delay).Msg("daily reconnect cap reached; pausing until day boundary")
		return
	}

	m.logger.Warn().Err(cause).
		Int("consecutive_failures", failures).
		Dur("delay", delay).
		Msg("connection lost; reconnect scheduled")
	m.publish(telemetry.KindReconnect, fmt.Sprintf("in %s", delay))
}

// nextDelayLocked grows the retained backoff, applies jitter, cooldown and
// degraded stretching, and enforces the daily scheduling cap. The second
// return is true when the cap was hit and delay points at the next
// calendar-day boundary instead.
func (m *Manager) nextDelayLocked() (time.Duration, bool) {
	now := m.clock.Now()
	today := now.Format("2006-01-02")
	if m.capDay != today {
		m.capDay = today
		m.capCount = 0
	}
	if m.opts.DailyReconnectCap > 0 && m.capCount >= m.opts.DailyReconnectCap {
		boundary := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
		return boundary.Sub(now), true
	}
	m.capCount++

	if m.backoff <= 0 {
		m.backoff = m.opts.MinBackoff
	}
	grown := time.Duration(float64(m.backoff) * m.opts.GrowthFactor)
	if grown > m.opts.MaxBackoff {
		grown = m.opts.MaxBackoff
	}
	m.backoff = grown

	delay := grown
	if m.opts.JitterFraction > 0 {
		delay += time.Duration(rand.Float64() * m.opts.JitterFraction * float64(delay))
	}
	if m.opts.FailureCooldown > 0 && m.consecutiveFailures >= m.opts.FailureCooldownAfter {
		delay += m.opts.FailureCooldown
	}
	if m.degraded {
		delay = time.Duration(float64(delay) * m.opts.DegradedMultiplier)
	}
	return delay, false
}

// send enforces the minimum spacing between client-initiated sends.
// Sends are delayed, never dropped.
func (m *Manager) send(gen int, conn Conn, payload []byte) error {
	m.reserveSendSlot()
	if !m.currentGen(gen) {
		return fmt.Errorf("connection cycle superseded")
	}
	return conn.WriteMessage(payload)
}

func (m *Manager) reserveSendSlot() {
	if m.opts.MinSendSpacing <= 0 {
		return
	}
	for {
		m.mu.Lock()
		now := m.clock.Now()
		next := m.lastSendAt.Add(m.opts.MinSendSpacing)
		if !now.Before(next) {
			m.lastSendAt = now
			m.mu.Unlock()
			return
		}
		wait := next.Sub(now)
		m.mu.Unlock()

		timer := m.clock.Timer(wait)
		<-timer.C
	}
}

func (m *Manager) currentGen(gen int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.gen
}

func (m *Manager) emitPhase(phase Phase) {
	m.publish(telemetry.KindPhaseChanged, phase.String())
	if m.opts.OnPhaseChange != nil {
		m.opts.OnPhaseChange(phase)
	}
}

func (m *Manager) publish(kind telemetry.Kind, message string) {
	if m.sink == nil {
		return
	}
	m.sink.Publish(telemetry.Event{
		At:         m.clock.Now(),
		Kind:       kind,
		Instrument: m.opts.Instrument,
		Message:    message,
	})
}
