package orch

import (
	"context"
	"errors"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/dkeye/Relay/internal/app/sfu"
	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Source hands new engines over to the pool without blocking.
type Source interface {
	TryTake() (core.Engine, bool)
}

type Config struct {
	HealthInterval     time.Duration
	InactiveLogAfter   time.Duration
	PruneInterval      time.Duration
	DefaultTimeout     time.Duration
	MinReadTimeout     time.Duration
	MaxPollsPerSession int
	ReadBuffer         int

	// CandidateAddr is offered to unhealthy sessions during recovery.
	// Defaults to the socket's local address.
	CandidateAddr *net.UDPAddr

	Policy  Policy
	Session sfu.Options
	Now     func() time.Time
}

func (c Config) withDefaults() Config {
	if c.HealthInterval <= 0 {
		c.HealthInterval = 5 * time.Second
	}
	if c.InactiveLogAfter <= 0 {
		c.InactiveLogAfter = 5 * time.Second
	}
	if c.PruneInterval <= 0 {
		c.PruneInterval = 5 * time.Second
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 100 * time.Millisecond
	}
	if c.MinReadTimeout <= 0 {
		c.MinReadTimeout = time.Millisecond
	}
	if c.MaxPollsPerSession <= 0 {
		c.MaxPollsPerSession = 1024
	}
	if c.ReadBuffer <= 0 {
		c.ReadBuffer = 2000
	}
	if c.Policy == nil {
		c.Policy = DefaultPolicy()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Session.Now == nil {
		c.Session.Now = c.Now
	}
	return c
}

// Coordinator owns every session of the pool and drives them from a single
// goroutine: Run (or Tick) is the only entry point that touches session state.
type Coordinator struct {
	cfg     Config
	conn    net.PacketConn
	local   *net.UDPAddr
	source  Source
	metrics *metrics.Collector
	log     zerolog.Logger

	arena    *core.TrackArena
	sessions []*sfu.Session
	health   *HealthRegistry
	bus      *Bus
	buf      []byte

	lastHealth time.Time
	lastPrune  time.Time

	size atomic.Int64
}

func NewCoordinator(conn net.PacketConn, source Source, cfg Config, m *metrics.Collector) *Coordinator {
	cfg = cfg.withDefaults()
	cfg.Session.Metrics = m

	local, _ := conn.LocalAddr().(*net.UDPAddr)
	if cfg.CandidateAddr == nil {
		cfg.CandidateAddr = local
	}
	now := cfg.Now()
	return &Coordinator{
		cfg:        cfg,
		conn:       conn,
		local:      local,
		source:     source,
		metrics:    m,
		log:        log.With().Str("module", "coordinator").Logger(),
		arena:      core.NewTrackArena(),
		health:     NewHealthRegistry(),
		bus:        NewBus(m),
		buf:        make([]byte, cfg.ReadBuffer),
		lastHealth: now,
		lastPrune:  now,
	}
}

// Size is safe to call from any goroutine.
func (c *Coordinator) Size() int { return int(c.size.Load()) }

// Run ticks until ctx is done or the socket fails, then disconnects every session.
func (c *Coordinator) Run(ctx context.Context) error {
	c.log.Info().Str("addr", c.conn.LocalAddr().String()).Msg("pool started")
	defer c.shutdown()

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if err := c.Tick(); err != nil {
			return err
		}
	}
}

// Tick runs one loop iteration. Only socket failures are returned.
func (c *Coordinator) Tick() error {
	c.reap()
	c.admit()

	now := c.cfg.Now()
	if now.Sub(c.lastHealth) > c.cfg.HealthInterval {
		c.checkHealth(now)
		c.lastHealth = now
	}
	if now.Sub(c.lastPrune) > c.cfg.PruneInterval {
		c.prune()
		c.lastPrune = now
	}

	timeout := c.pollAll(now)

	if p, ok := c.bus.Pop(); ok {
		c.bus.Dispatch(p, c.sessions)
		return nil
	}

	if err := c.readInput(timeout); err != nil {
		return err
	}

	c.advance(c.cfg.Now())
	return nil
}

func (c *Coordinator) reap() {
	kept := c.sessions[:0]
	for _, s := range c.sessions {
		if s.IsAlive() {
			kept = append(kept, s)
			continue
		}
		retired := s.Close()
		c.health.Remove(s.ID())
		c.metrics.SessionReaped()
		c.log.Info().Uint64("sid", uint64(s.ID())).Int("tracks", retired).Msg("session removed")
	}
	clear(c.sessions[len(kept):])
	c.sessions = kept
	c.publishSize()
}

func (c *Coordinator) admit() {
	engine, ok := c.source.TryTake()
	if !ok {
		return
	}
	s := sfu.NewSession(core.NextSessionID(), engine, c.arena, c.conn, c.cfg.Session)

	seeded := 0
	for _, other := range c.sessions {
		for _, h := range other.Tracks().IncomingHandles() {
			s.HandleTrackOpened(h)
			seeded++
		}
	}

	c.sessions = append(c.sessions, s)
	c.health.Add(s.ID(), c.cfg.Now())
	c.metrics.SessionAdmitted()
	c.publishSize()
	c.log.Info().Uint64("sid", uint64(s.ID())).Int("seeded_tracks", seeded).Msg("session admitted")
}

func (c *Coordinator) checkHealth(now time.Time) {
	for _, s := range c.sessions {
		h, ok := c.health.Get(s.ID())
		if !ok {
			continue
		}
		if c.cfg.Policy.OnHealthCheck(h, now) == Recover {
			c.log.Warn().
				Uint64("sid", uint64(s.ID())).
				Dur("idle", h.Idle(now)).
				Int("failures", h.ConsecutiveFailures).
				Msg("connection health degraded")
			c.recover(s, h)
		}
		if idle := h.Idle(now); idle > c.cfg.InactiveLogAfter {
			c.log.Info().
				Uint64("sid", uint64(s.ID())).
				Dur("idle", idle).
				Int("failures", h.ConsecutiveFailures).
				Msg("session inactive")
		}
	}
}

// recover is partial: a real ICE restart needs a new offer/answer round.
func (c *Coordinator) recover(s *sfu.Session, h *ConnectionHealth) {
	h.IceRestartAttempts++
	c.metrics.RecoveryAttempt()

	if c.cfg.CandidateAddr != nil {
		if err := s.AddLocalCandidate(c.cfg.CandidateAddr); err != nil {
			c.log.Warn().Err(err).Uint64("sid", uint64(s.ID())).Msg("add candidate failed")
		} else {
			c.log.Info().
				Uint64("sid", uint64(s.ID())).
				Int("attempt", h.IceRestartAttempts).
				Str("addr", c.cfg.CandidateAddr.String()).
				Msg("added recovery candidate")
		}
	}
	h.ConsecutiveFailures = 0
}

func (c *Coordinator) prune() {
	total := 0
	for _, s := range c.sessions {
		total += s.PruneTracks()
	}
	if total > 0 {
		c.metrics.TracksPruned(total)
		c.log.Debug().Int("tracks", total).Msg("pruned stale outgoing tracks")
	}
}

// pollAll polls every session until it times out and returns the earliest deadline.
func (c *Coordinator) pollAll(now time.Time) time.Time {
	timeout := now.Add(c.cfg.DefaultTimeout)
	for _, s := range c.sessions {
		if t := c.pollSession(s); !t.IsZero() && t.Before(timeout) {
			timeout = t
		}
	}
	return timeout
}

func (c *Coordinator) pollSession(s *sfu.Session) time.Time {
	for range c.cfg.MaxPollsPerSession {
		p := s.PollOnce()
		if t, ok := p.(core.Timeout); ok {
			return t.At
		}
		c.bus.Push(p)
	}
	c.log.Debug().Uint64("sid", uint64(s.ID())).Msg("poll budget exhausted")
	return time.Time{}
}

func (c *Coordinator) readInput(timeout time.Time) error {
	wait := max(timeout.Sub(c.cfg.Now()), c.cfg.MinReadTimeout)
	if err := c.conn.SetReadDeadline(time.Now().Add(wait)); err != nil {
		return err
	}

	n, addr, err := c.conn.ReadFrom(c.buf)
	if err != nil {
		if isTimeout(err) {
			return nil
		}
		if errors.Is(err, net.ErrClosed) {
			return err
		}
		c.log.Warn().Err(err).Msg("socket read failed")
		return nil
	}

	src, ok := addr.(*net.UDPAddr)
	if !ok {
		return nil
	}
	in := core.ReceiveInput(c.cfg.Now(), src, c.local, append([]byte(nil), c.buf[:n]...))

	for _, s := range c.sessions {
		if s.Accepts(in) {
			s.HandleInput(in)
			c.health.MarkActivity(s.ID(), in.At)
			return nil
		}
	}

	// Common while the handoff lags behind the peer's first STUN request.
	c.log.Debug().Str("src", src.String()).Msg("no session accepts datagram")
	c.health.MarkFailureAll()
	c.metrics.DemuxMiss()
	return nil
}

func (c *Coordinator) advance(now time.Time) {
	in := core.TimeoutInput(now)
	for _, s := range c.sessions {
		s.HandleInput(in)
	}
}

func (c *Coordinator) shutdown() {
	for _, s := range c.sessions {
		s.Close()
		c.health.Remove(s.ID())
	}
	c.sessions = nil
	c.publishSize()
	c.log.Info().Msg("pool stopped")
}

func (c *Coordinator) publishSize() {
	c.size.Store(int64(len(c.sessions)))
	c.metrics.SetSessions(len(c.sessions))
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
