// Package syncclient keeps a client's view of one room current. It prefers the
// websocket push channel and falls back to polling the RPC surface when the
// channel cannot be opened or drops.
package syncclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"connectrpc.com/connect"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/planningpoker/go/internal/gateway"
	"github.com/mcdev12/planningpoker/go/internal/models"
	"github.com/mcdev12/planningpoker/go/internal/rooms"
	"github.com/rs/zerolog/log"
)

type Mode string

const (
	ModeIdle       Mode = "idle"
	ModeConnecting Mode = "connecting"
	ModeConnected  Mode = "connected"
	ModeFallback   Mode = "fallback"
	ModeStopped    Mode = "stopped"
)

var (
	ErrNotStarted     = errors.New("sync adapter not started")
	ErrAlreadyStarted = errors.New("sync adapter already started")
	ErrStopped        = errors.New("sync adapter stopped")
	errConnectTimeout = errors.New("push channel connect timed out")
	errNoPushChannel  = errors.New("no push channel configured")
)

// ServerError is an error envelope pushed by the server.
type ServerError struct {
	Request gateway.MessageType
	Message string
}

func (e *ServerError) Error() string {
	if e.Request == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Request, e.Message)
}

type Config struct {
	RoomID        string
	ParticipantID string
	// Token is the secret returned by JoinRoom. The push channel refuses to
	// bind without it.
	Token string

	// Dialer opens the push channel. Without one the adapter polls.
	Dialer PushDialer
	API    RoomAPI

	ConnectTimeout time.Duration
	PollInterval   time.Duration
	// MaxRetries is the number of re-attempts of a failed fallback action.
	MaxRetries   int
	RetryBackoff time.Duration

	Clock clockwork.Clock
}

func (c *Config) setDefaults() {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 250 * time.Millisecond
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
}

// Handlers receive state from the adapter. They may be called from several
// goroutines and must not call Close.
type Handlers struct {
	OnSnapshot   func(*models.RoomSnapshot)
	OnKicked     func(roomID string)
	OnError      func(error)
	OnModeChange func(Mode)
}

// Adapter exposes the same actions whichever transport is active.
type Adapter struct {
	cfg      Config
	handlers Handlers
	clock    clockwork.Clock

	mu      sync.Mutex
	mode    Mode
	push    PushConn
	started bool
	ctx     context.Context
	cancel  context.CancelFunc

	// held for reading while a handler runs
	emitMu sync.RWMutex
	closed bool

	wg sync.WaitGroup
}

func New(cfg Config, handlers Handlers) (*Adapter, error) {
	if cfg.RoomID == "" || cfg.ParticipantID == "" {
		return nil, errors.New("room id and participant id are required")
	}
	if cfg.API == nil {
		return nil, errors.New("room API is required")
	}
	cfg.setDefaults()

	return &Adapter{
		cfg:      cfg,
		handlers: handlers,
		clock:    cfg.Clock,
		mode:     ModeIdle,
	}, nil
}

func (a *Adapter) Mode() Mode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mode
}

// Start begins connecting in the background. The adapter runs until ctx is
// done, the participant is kicked, or Close is called.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return ErrAlreadyStarted
	}
	a.started = true
	a.ctx, a.cancel = context.WithCancel(ctx)
	a.mode = ModeConnecting
	a.mu.Unlock()

	a.emitMode(ModeConnecting)

	a.wg.Add(1)
	go a.connect()
	return nil
}

// Close stops the adapter and waits for its goroutines. No handler runs after
// Close returns.
func (a *Adapter) Close() error {
	a.emitMu.Lock()
	a.closed = true
	a.emitMu.Unlock()

	a.stop()
	a.wg.Wait()
	return nil
}

func (a *Adapter) stop() {
	a.mu.Lock()
	a.mode = ModeStopped
	conn := a.push
	a.push = nil
	cancel := a.cancel
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
}

type dialResult struct {
	conn PushConn
	err  error
}

func (a *Adapter) connect() {
	defer a.wg.Done()

	if a.cfg.Dialer == nil {
		a.fallback(errNoPushChannel)
		return
	}

	dialCtx, cancelDial := context.WithCancel(a.ctx)
	defer cancelDial()

	results := make(chan dialResult, 1)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		conn, err := a.cfg.Dialer.Dial(dialCtx)
		results <- dialResult{conn: conn, err: err}
	}()

	timer := a.clock.NewTimer(a.cfg.ConnectTimeout)
	defer timer.Stop()

	select {
	case res := <-results:
		if res.err != nil {
			a.fallback(fmt.Errorf("failed to open push channel: %w", res.err))
			return
		}
		a.connected(res.conn)
		return
	case <-timer.Chan():
		a.fallback(errConnectTimeout)
	case <-a.ctx.Done():
	}

	// A dial that completes after we gave up is discarded
	cancelDial()
	if res := <-results; res.conn != nil {
		_ = res.conn.Close()
	}
}

func (a *Adapter) connected(conn PushConn) {
	a.mu.Lock()
	if a.ctx.Err() != nil {
		a.mu.Unlock()
		_ = conn.Close()
		return
	}
	a.push = conn
	a.mode = ModeConnected
	a.mu.Unlock()

	log.Info().
		Str("room_id", a.cfg.RoomID).
		Str("participant_id", a.cfg.ParticipantID).
		Msg("push channel connected")
	a.emitMode(ModeConnected)

	frame, err := gateway.Encode(gateway.MessageJoinRoom, gateway.JoinRoomPayload{
		RoomID:        a.cfg.RoomID,
		ParticipantID: a.cfg.ParticipantID,
		Token:         a.cfg.Token,
	})
	if err == nil {
		err = conn.Send(frame)
	}
	if err != nil {
		a.dropPush(conn, fmt.Errorf("failed to join room: %w", err))
		return
	}

	a.wg.Add(1)
	go a.readLoop(conn)
}

func (a *Adapter) readLoop(conn PushConn) {
	defer a.wg.Done()

	for {
		data, err := conn.Receive()
		if err != nil {
			if a.ctx.Err() != nil {
				return
			}
			a.dropPush(conn, fmt.Errorf("push channel closed: %w", err))
			return
		}
		if done := a.handleFrame(data); done {
			return
		}
	}
}

// handleFrame applies one pushed envelope and reports whether the adapter
// stopped as a result.
func (a *Adapter) handleFrame(data []byte) bool {
	var env gateway.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		a.emitError(fmt.Errorf("malformed push frame: %w", err))
		return false
	}

	switch env.Type {
	case gateway.MessageRoomUpdate:
		var snap models.RoomSnapshot
		if err := env.DecodePayload(&snap); err != nil {
			a.emitError(err)
			return false
		}
		a.emitSnapshot(&snap)
	case gateway.MessageKicked:
		a.kicked()
		return true
	case gateway.MessageError:
		var payload gateway.ErrorPayload
		if err := env.DecodePayload(&payload); err != nil {
			a.emitError(err)
			return false
		}
		a.emitError(&ServerError{Request: payload.Request, Message: payload.Message})
	default:
		log.Debug().Str("type", string(env.Type)).Msg("ignoring unknown push frame")
	}
	return false
}

// dropPush abandons a failed push channel and switches to polling.
func (a *Adapter) dropPush(conn PushConn, cause error) {
	a.mu.Lock()
	if a.push != conn {
		a.mu.Unlock()
		return
	}
	a.push = nil
	a.mu.Unlock()

	_ = conn.Close()
	a.fallback(cause)
}

func (a *Adapter) fallback(cause error) {
	a.mu.Lock()
	if a.mode == ModeFallback || a.mode == ModeStopped || a.ctx.Err() != nil {
		a.mu.Unlock()
		return
	}
	a.mode = ModeFallback
	a.mu.Unlock()

	log.Warn().
		Err(cause).
		Str("room_id", a.cfg.RoomID).
		Dur("poll_interval", a.cfg.PollInterval).
		Msg("push channel unavailable, polling")
	a.emitMode(ModeFallback)

	a.wg.Add(1)
	go a.pollLoop()
}

func (a *Adapter) pollLoop() {
	defer a.wg.Done()

	ticker := a.clock.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()

	a.refresh(a.ctx)
	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.Chan():
			a.refresh(a.ctx)
		}
	}
}

// refresh fetches the room and replaces local state with it.
func (a *Adapter) refresh(ctx context.Context) {
	snap, err := a.cfg.API.GetRoom(ctx, a.cfg.RoomID)
	if err != nil {
		if ctx.Err() == nil {
			a.emitError(fmt.Errorf("failed to fetch room: %w", err))
		}
		return
	}
	if !hasParticipant(snap, a.cfg.ParticipantID) {
		a.kicked()
		return
	}
	a.emitSnapshot(snap)
}

func hasParticipant(snap *models.RoomSnapshot, participantID string) bool {
	for _, p := range snap.Participants {
		if p.ID == participantID {
			return true
		}
	}
	return false
}

func (a *Adapter) kicked() {
	log.Info().
		Str("room_id", a.cfg.RoomID).
		Str("participant_id", a.cfg.ParticipantID).
		Msg("removed from room")
	a.stop()
	a.emit(func() {
		if a.handlers.OnKicked != nil {
			a.handlers.OnKicked(a.cfg.RoomID)
		}
	})
}

// SendVote submits a vote for the current round. A nil value leaves that
// dimension unchanged.
func (a *Adapter) SendVote(ctx context.Context, complexity, timeValue *string) error {
	payload := gateway.VotePayload{
		RoomID:          a.cfg.RoomID,
		ParticipantID:   a.cfg.ParticipantID,
		ComplexityValue: complexity,
		TimeValue:       timeValue,
	}
	return a.act(ctx, gateway.MessageVote, payload, func(ctx context.Context) error {
		return a.cfg.API.SubmitVote(ctx, rooms.SubmitVoteRequest{
			RoomID:          a.cfg.RoomID,
			ParticipantID:   a.cfg.ParticipantID,
			ComplexityValue: complexity,
			TimeValue:       timeValue,
		})
	})
}

func (a *Adapter) RevealVotes(ctx context.Context) error {
	payload := gateway.RevealVotesPayload{RoomID: a.cfg.RoomID}
	return a.act(ctx, gateway.MessageRevealVotes, payload, func(ctx context.Context) error {
		return a.cfg.API.RevealVotes(ctx, a.cfg.RoomID, a.cfg.ParticipantID)
	})
}

func (a *Adapter) NextRound(ctx context.Context, description *string) error {
	payload := gateway.NextRoundPayload{RoomID: a.cfg.RoomID, Description: description}
	return a.act(ctx, gateway.MessageNextRound, payload, func(ctx context.Context) error {
		return a.cfg.API.NextRound(ctx, a.cfg.RoomID, a.cfg.ParticipantID, description)
	})
}

// act sends over the push channel when connected. Otherwise, or when the send
// fails, it calls the RPC surface with retries and refetches the room.
func (a *Adapter) act(ctx context.Context, t gateway.MessageType, payload any, call func(context.Context) error) error {
	a.mu.Lock()
	mode, conn := a.mode, a.push
	a.mu.Unlock()

	switch mode {
	case ModeIdle:
		return ErrNotStarted
	case ModeStopped:
		return ErrStopped
	}

	if mode == ModeConnected && conn != nil {
		frame, err := gateway.Encode(t, payload)
		if err != nil {
			return err
		}
		err = conn.Send(frame)
		if err == nil {
			return nil
		}
		a.dropPush(conn, fmt.Errorf("failed to send %s: %w", t, err))
	}

	if err := a.withRetry(ctx, t, call); err != nil {
		return err
	}
	a.refresh(ctx)
	return nil
}

func (a *Adapter) withRetry(ctx context.Context, t gateway.MessageType, call func(context.Context) error) error {
	var err error
	for attempt := 0; attempt <= a.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-a.clock.After(a.cfg.RetryBackoff * time.Duration(attempt)):
			}
		}

		err = call(ctx)
		if err == nil || ctx.Err() != nil || !retryable(err) {
			return err
		}
		log.Debug().
			Err(err).
			Str("action", string(t)).
			Int("attempt", attempt+1).
			Msg("fallback action failed")
	}
	return fmt.Errorf("%s failed after %d attempts: %w", t, a.cfg.MaxRetries+1, err)
}

func retryable(err error) bool {
	switch connect.CodeOf(err) {
	case connect.CodeUnavailable, connect.CodeDeadlineExceeded, connect.CodeAborted,
		connect.CodeResourceExhausted, connect.CodeInternal, connect.CodeUnknown:
		return true
	default:
		return false
	}
}

func (a *Adapter) emit(fn func()) {
	a.emitMu.RLock()
	defer a.emitMu.RUnlock()
	if a.closed {
		return
	}
	fn()
}

func (a *Adapter) emitSnapshot(snap *models.RoomSnapshot) {
	a.emit(func() {
		if a.handlers.OnSnapshot != nil {
			a.handlers.OnSnapshot(snap)
		}
	})
}

func (a *Adapter) emitError(err error) {
	a.emit(func() {
		if a.handlers.OnError != nil {
			a.handlers.OnError(err)
		}
	})
}

func (a *Adapter) emitMode(mode Mode) {
	a.emit(func() {
		if a.handlers.OnModeChange != nil {
			a.handlers.OnModeChange(mode)
		}
	})
}
