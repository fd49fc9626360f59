// Package gamesync owns the canonical state of one gameplay in a room and
// keeps it in step with the other participants and the persistence API.
package gamesync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/cardsync/go/internal/gamesync/store"
	"github.com/mcdev12/cardsync/go/internal/gamesync/transport"
	"github.com/mcdev12/cardsync/go/internal/models"
	"github.com/mcdev12/cardsync/go/internal/normalizer"
	"github.com/mcdev12/cardsync/go/internal/ratelimit"
	"github.com/mcdev12/cardsync/go/internal/retry"
	"github.com/mcdev12/cardsync/go/internal/syncerr"
	"github.com/mcdev12/cardsync/go/internal/tokens"
	"github.com/rs/zerolog/log"
)

// Error contexts reported to the error handler.
const (
	ContextLoad   = "load-state"
	ContextSave   = "save-state"
	ContextSync   = "sync"
	ContextMove   = "move-card"
	ContextToken  = "token"
	ContextUpload = "upload"
)

var (
	ErrReconnectExhausted = errors.New("connection lost: reconnect attempts exhausted")
	errConnectionLost     = errors.New("realtime connection lost")
)

// OfflineMessage is shown once reconnect attempts are exhausted.
const OfflineMessage = "Connection lost. Reload to try again."


// Store persists canonical states keyed by room and gameplay.
type Store interface {
	Get(ctx context.Context, roomID, gameplayID string) (*models.GameState, error)
	Upsert(ctx context.Context, roomID, gameplayID string, state *models.GameState) error
}

// Uploader stores file bytes and returns a reference to them.
type Uploader interface {
	Upload(ctx context.Context, name, mimeType string, r io.Reader) (*models.UploadedFile, error)
}

// Session is the single owner of one canonical GameState. Mutators may be
// called from any goroutine; Run applies remote traffic.
type Session struct {
	cfg        SessionConfig
	transport  transport.Transport
	store      Store
	clock      clockwork.Clock
	normalizer *normalizer.Normalizer
	handler    *syncerr.Handler
	reconnect  *retry.Manager
	board      *tokens.Board
	metrics    *Metrics
	persist    *ratelimit.Debounce[struct{}]
	jitter     func() float64
	notifiers  []syncerr.Notifier

	flushCh     chan struct{}
	reconnectCh chan struct{}

	mu              sync.Mutex
	state           *models.GameState
	tombstones      map[string]int64
	dragging        map[string]bool
	draggedByOthers map[string]string
	connected       bool
	everConnected   bool
	pendingChanges  int
	conflicted      bool
	lastSyncTime    time.Time
	lastErr         *syncerr.SyncError
	offline         *syncerr.SyncError
	message         string
}

type Option func(*Session)

func WithClock(clock clockwork.Clock) Option {
	return func(s *Session) { s.clock = clock }
}

// WithHandler shares an error handler, e.g. one backed by shared counters.
func WithHandler(h *syncerr.Handler) Option {
	return func(s *Session) { s.handler = h }
}

func WithMetrics(m *Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

func WithBoard(b *tokens.Board) Option {
	return func(s *Session) { s.board = b }
}

// WithNotifier receives every user-facing message the session shows.
func WithNotifier(n syncerr.Notifier) Option {
	return func(s *Session) { s.notifiers = append(s.notifiers, n) }
}

// WithReconnectJitter sets the random source of the reconnect backoff.
func WithReconnectJitter(random func() float64) Option {
	return func(s *Session) { s.jitter = random }
}

// NewSession creates a session holding an empty version 0 state. Call Start
// to load the stored state and connect.
func NewSession(cfg SessionConfig, t transport.Transport, st Store, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	def := DefaultSessionConfig()
	if cfg.PersistDebounce <= 0 {
		cfg.PersistDebounce = def.PersistDebounce
	}
	if cfg.MoveThrottle <= 0 {
		cfg.MoveThrottle = def.MoveThrottle
	}

	s := &Session{
		cfg:             cfg,
		transport:       t,
		store:           st,
		clock:           clockwork.NewRealClock(),
		flushCh:         make(chan struct{}, 1),
		reconnectCh:     make(chan struct{}, 1),
		tombstones:      make(map[string]int64),
		dragging:        make(map[string]bool),
		draggedByOthers: make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.normalizer = normalizer.New(s.clock)
	retryOpts := []retry.Option{retry.WithClock(s.clock)}
	if s.jitter != nil {
		retryOpts = append(retryOpts, retry.WithRandom(s.jitter))
	}
	s.reconnect = retry.NewManager(cfg.Reconnect, retryOpts...)
	if s.handler == nil {
		h, err := syncerr.NewHandler(cfg.Errors, syncerr.WithClock(s.clock))
		if err != nil {
			return nil, fmt.Errorf("failed to create error handler: %w", err)
		}
		s.handler = h
	}
	s.handler.OnNotify(s.showMessage)
	if s.board == nil {
		s.board = tokens.NewBoard()
	}
	s.persist = ratelimit.NewDebounce(func(struct{}) { s.requestFlush() }, cfg.PersistDebounce, ratelimit.WithClock(s.clock))

	empty, err := normalizer.NewLocal(cfg.GameType)
	if err != nil {
		return nil, err
	}
	initial, err := s.normalizer.ToStorageFormat(cfg.GameType, empty, 0)
	if err != nil {
		return nil, err
	}
	initial.Version = 0
	s.state = initial
	return s, nil
}

// Start loads the stored state and connects the transport. A room owner
// persists the empty state when nothing is stored yet. Failures are handled
// and surface through Status.
func (s *Session) Start(ctx context.Context) error {
	stored, err := s.store.Get(ctx, s.cfg.RoomID, s.cfg.GameplayID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		if s.cfg.IsRoomOwner {
			s.mu.Lock()
			s.state.Version = 1
			s.pendingChanges++
			s.mu.Unlock()
			s.Flush(ctx)
		}
	case err != nil:
		s.fail(ctx, err, ContextLoad, syncerr.WithRetry(func() { s.Resync(context.Background()) }))
	default:
		if err := s.adopt(ctx, stored); err != nil {
			return err
		}
	}

	log.Info().
		Str("room_id", s.cfg.RoomID).
		Str("gameplay_id", s.cfg.GameplayID).
		Str("game_type", string(s.cfg.GameType)).
		Bool("room_owner", s.cfg.IsRoomOwner).
		Int("version", s.Version()).
		Msg("starting sync session")

	if err := s.transport.Connect(ctx); err != nil {
		s.onLost(ctx, err)
	}
	return nil
}

// adopt replaces a version 0 state or reconciles with stored.
func (s *Session) adopt(ctx context.Context, stored *models.GameState) error {
	if stored.GameType != s.cfg.GameType {
		err := fmt.Errorf("%w: stored %s, session %s", normalizer.ErrGameTypeMismatch, stored.GameType, s.cfg.GameType)
		s.fail(ctx, err, ContextLoad)
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Version == 0 && s.pendingChanges == 0 {
		s.setStateLocked(stored)
		return nil
	}
	merged, _, err := reconcile(s.normalizer, s.state, stored, s.tombstones, nil, max(s.state.Version, stored.Version))
	if err != nil {
		return err
	}
	s.setStateLocked(merged)
	return nil
}

// Run applies transport events, reconnects and debounced flushes until ctx
// is done or the transport is closed.
func (s *Session) Run(ctx context.Context) error {
	events := s.transport.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				log.Info().Str("room_id", s.cfg.RoomID).Msg("transport closed, stopping session loop")
				return nil
			}
			s.handleEvent(ctx, ev)
		case <-s.reconnectCh:
			if err := s.transport.Connect(ctx); err != nil {
				s.onLost(ctx, err)
			}
		case <-s.flushCh:
			s.Flush(ctx)
		}
	}
}

// Close cancels pending timers and closes the transport.
func (s *Session) Close() error {
	s.persist.Cancel()
	s.reconnect.Cleanup()
	s.handler.Close()
	return s.transport.Close()
}

func (s *Session) handleEvent(ctx context.Context, ev transport.Event) {
	switch ev.Kind {
	case transport.EventConnected:
		s.onConnected(ctx)
	case transport.EventDisconnected:
		s.onLost(ctx, ev.Err)
	case transport.EventError:
		err := ev.Err
		if err == nil {
			err = errConnectionLost
		}
		s.fail(ctx, err, ContextSync)
	case transport.EventMessage:
		if ev.Envelope != nil {
			s.handleEnvelope(ctx, ev.Envelope)
		}
	}
}

func (s *Session) onConnected(ctx context.Context) {
	s.mu.Lock()
	reconnected := s.everConnected
	s.connected = true
	s.everConnected = true
	s.offline = nil
	s.clearErrLocked(ContextSync)
	if s.lastErr == nil {
		s.message = ""
	}
	s.mu.Unlock()

	s.reconnect.Reset()
	if err := s.handler.ClearRetryCount(ctx, ContextSync); err != nil {
		log.Error().Err(err).Msg("failed to clear sync retry counters")
	}

	log.Info().
		Str("room_id", s.cfg.RoomID).
		Str("participant_id", s.cfg.ParticipantID).
		Bool("reconnected", reconnected).
		Msg("realtime connection established")

	if reconnected {
		s.Resync(ctx)
		s.broadcastSnapshot(ctx)
	}
	s.broadcast(ctx, transport.MessageStateRequest, transport.StateRequestPayload{KnownVersion: s.Version()})
}

// onLost records the failure and schedules a reconnect through the backoff
// policy. Exhaustion leaves a permanent connection error in the status.
func (s *Session) onLost(ctx context.Context, err error) {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()

	if err == nil {
		err = errConnectionLost
	} else {
		err = fmt.Errorf("connection lost: %w", err)
	}
	s.fail(ctx, err, ContextSync)

	scheduled := s.reconnect.ScheduleRetry(func() {
		select {
		case s.reconnectCh <- struct{}{}:
		default:
		}
	})
	if !scheduled {
		se := syncerr.New(syncerr.ConnectionError, ContextSync, ErrReconnectExhausted).Permanent()
		se.Timestamp = s.clock.Now()
		s.mu.Lock()
		s.offline = se
		s.message = OfflineMessage
		s.mu.Unlock()
		s.showMessage(se, OfflineMessage)
		log.Error().
			Str("room_id", s.cfg.RoomID).
			Int("attempts", s.reconnect.Attempts()).
			Msg("giving up on realtime connection")
		return
	}
	s.metrics.RecordRetry("reconnect")
}

func (s *Session) handleEnvelope(ctx context.Context, env *transport.Envelope) {
	if env.RoomID != s.cfg.RoomID || env.GameplayID != s.cfg.GameplayID || env.PerformerID == s.cfg.ParticipantID {
		return
	}

	payload, err := transport.ParsePayload(env)
	if err != nil {
		s.fail(ctx, err, ContextSync)
		return
	}

	switch p := payload.(type) {
	case transport.StateSnapshotPayload:
		s.applySnapshot(ctx, p.State, p.Removed)
	case transport.CardMovePayload:
		s.applyRemoteMove(env.PerformerID, p)
	case transport.DragPayload:
		s.mu.Lock()
		if env.Type == transport.MessageDragStart {
			s.draggedByOthers[p.CardID] = env.PerformerID
		} else if s.draggedByOthers[p.CardID] == env.PerformerID {
			delete(s.draggedByOthers, p.CardID)
		}
		s.mu.Unlock()
	case transport.TokenPayload:
		if err := s.board.Put(p.Token); err != nil {
			log.Warn().Err(err).Str("token_id", p.Token.ID).Msg("ignoring remote token")
		}
	case transport.TokenRemovedPayload:
		s.board.Remove(p.TokenID)
	case transport.StateRequestPayload:
		if s.Version() > p.KnownVersion {
			s.broadcastSnapshot(ctx)
		}
	case nil:
		if env.Type == transport.MessageTokensCleared {
			s.board.Clear()
		}
	}
}

// applyRemoteMove applies a peer's move unless this session placed or
// removed the card more recently.
func (s *Session) applyRemoteMove(performer string, p transport.CardMovePayload) {
	s.mu.Lock()
	defer s.mu.Unlock()

	localTS := s.state.Cards[p.CardID].TouchedAt()
	if removedAt, ok := s.tombstones[p.CardID]; ok && removedAt > localTS {
		localTS = removedAt
	}
	if localTS > p.Timestamp {
		s.metrics.RecordDiscarded(string(transport.MessageCardMove))
		log.Warn().
			Str("card_id", p.CardID).
			Str("performer_id", performer).
			Int64("local_timestamp", localTS).
			Int64("remote_timestamp", p.Timestamp).
			Msg("discarding stale remote card move")
		return
	}

	next, err := s.moveLocked(p.CardID, p.ToZone, p.Index, p.Timestamp)
	if err != nil {
		s.metrics.RecordDiscarded(string(transport.MessageCardMove))
		log.Warn().Err(err).Str("card_id", p.CardID).Msg("discarding unplaceable remote card move")
		return
	}
	next.Version = max(s.state.Version, p.Version)
	s.setStateLocked(next)
	delete(s.draggedByOthers, p.CardID)

	log.Debug().
		Str("card_id", p.CardID).
		Str("to_zone", p.ToZone).
		Int("version", next.Version).
		Msg("applied remote card move")
}

// applySnapshot reconciles a peer's snapshot card by card. removed carries
// the peer's removal times.
func (s *Session) applySnapshot(ctx context.Context, remote *models.GameState, removed map[string]int64) {
	s.mu.Lock()
	merged, lost, err := reconcile(s.normalizer, s.state, remote, s.tombstones, removed, max(s.state.Version, versionOf(remote)))
	if err == nil {
		s.setStateLocked(merged)
		for id, removedAt := range removed {
			if _, placed := merged.Cards[id]; !placed && removedAt > s.tombstones[id] {
				s.tombstones[id] = removedAt
			}
		}
	}
	s.mu.Unlock()

	if err != nil {
		s.fail(ctx, err, ContextSync)
		return
	}
	if lost > 0 {
		s.metrics.RecordDiscarded(string(transport.MessageStateSnapshot))
		log.Warn().Int("cards", lost).Msg("kept newer local placements over remote snapshot")
	}
}

func versionOf(state *models.GameState) int {
	if state == nil {
		return 0
	}
	return state.Version
}

// MoveOption customizes MoveCard.
type MoveOption func(*moveOptions)

type moveOptions struct {
	fromZone  string
	index     *int
	broadcast bool
}

// FromZone names the zone the caller believes the card is leaving.
func FromZone(zone string) MoveOption {
	return func(o *moveOptions) { o.fromZone = zone }
}

// AtIndex places the card at index within the target zone.
func AtIndex(index int) MoveOption {
	return func(o *moveOptions) { o.index = &index }
}

// LocalOnly applies the move without broadcasting or persisting it.
func LocalOnly() MoveOption {
	return func(o *moveOptions) { o.broadcast = false }
}

// MoveCard places cardID in toZone. DeckZone takes the card off the board.
// Broadcast moves are sent right away and persisted after the debounce
// window.
func (s *Session) MoveCard(ctx context.Context, cardID, toZone string, opts ...MoveOption) error {
	o := moveOptions{broadcast: true}
	for _, opt := range opts {
		opt(&o)
	}
	if cardID == "" {
		err := fmt.Errorf("%w: empty card id", ErrUnknownZone)
		s.fail(ctx, err, ContextMove)
		return err
	}

	s.mu.Lock()
	now := s.clock.Now().UnixMilli()
	from := DeckZone
	if pos, ok := s.state.Cards[cardID]; ok {
		from = pos.Zone
	}
	if o.fromZone != "" && o.fromZone != from {
		log.Debug().Str("card_id", cardID).Str("expected", o.fromZone).Str("actual", from).Msg("card moved from unexpected zone")
	}

	next, err := s.moveLocked(cardID, toZone, o.index, now)
	if err != nil {
		s.mu.Unlock()
		s.fail(ctx, err, ContextMove)
		return err
	}
	s.setStateLocked(next)
	s.clearErrLocked(ContextMove)
	if o.broadcast {
		s.pendingChanges++
	}
	payload := transport.CardMovePayload{
		CardID:    cardID,
		FromZone:  from,
		ToZone:    toZone,
		Timestamp: now,
		Version:   next.Version,
	}
	if pos, ok := next.Cards[cardID]; ok {
		payload.Index = pos.Index
		payload.Position = pos.Position
	}
	s.mu.Unlock()

	log.Debug().
		Str("card_id", cardID).
		Str("from_zone", from).
		Str("to_zone", toZone).
		Int("version", next.Version).
		Msg("moved card")

	if !o.broadcast {
		return nil
	}
	s.broadcast(ctx, transport.MessageCardMove, payload)
	s.persist.Call(struct{}{})
	return nil
}

// moveLocked builds the state that results from placing cardID in zone at
// ts. Cards whose zone did not change keep their timestamps; cards that
// left the board are tombstoned at ts.
func (s *Session) moveLocked(cardID, zone string, index *int, ts int64) (*models.GameState, error) {
	local, err := s.normalizer.FromStorageFormat(s.state)
	if err != nil {
		return nil, err
	}
	zones := zonesOf(local)
	if err := zones.place(cardID, zone, index); err != nil {
		return nil, err
	}
	next, err := s.normalizer.ToStorageFormat(s.state.GameType, zones.build(), s.state.Version)
	if err != nil {
		return nil, err
	}

	carryTimestamps(s.state, next, cardID)
	if pos, ok := next.Cards[cardID]; ok {
		stamp := ts
		pos.Timestamp = &stamp
		next.Cards[cardID] = pos
		delete(s.tombstones, cardID)
	}
	for id := range s.state.Cards {
		if _, ok := next.Cards[id]; !ok {
			s.tombstones[id] = ts
		}
	}
	next.LastUpdated = max(next.LastUpdated, ts)
	return next, nil
}

// carryTimestamps keeps prev's timestamp on every card of next, except
// skip, that stayed in its zone.
func carryTimestamps(prev, next *models.GameState, skip string) {
	for id, pos := range next.Cards {
		if id == skip {
			continue
		}
		old, ok := prev.Cards[id]
		if !ok || old.Zone != pos.Zone || old.Timestamp == nil {
			continue
		}
		ts := *old.Timestamp
		pos.Timestamp = &ts
		next.Cards[id] = pos
	}
}

// ThrottledMover wraps MoveCard for high-frequency callers such as drag
// hover streams. wait defaults to the configured move throttle.
func (s *Session) ThrottledMover(ctx context.Context, wait time.Duration) *ratelimit.Throttle[MoveRequest] {
	if wait <= 0 {
		wait = s.cfg.MoveThrottle
	}
	return ratelimit.NewThrottle(func(m MoveRequest) {
		opts := []MoveOption{FromZone(m.FromZone)}
		if m.Index != nil {
			opts = append(opts, AtIndex(*m.Index))
		}
		if err := s.MoveCard(ctx, m.CardID, m.ToZone, opts...); err != nil {
			log.Debug().Err(err).Str("card_id", m.CardID).Msg("throttled move rejected")
		}
	}, wait, ratelimit.WithClock(s.clock))
}

// MoveRequest is one call to a throttled mover.
type MoveRequest struct {
	CardID   string
	ToZone   string
	FromZone string
	Index    *int
}

// StartDrag announces that this participant picked up cardID. Repeated
// calls are no-ops.
func (s *Session) StartDrag(ctx context.Context, cardID string) {
	s.mu.Lock()
	if s.dragging[cardID] {
		s.mu.Unlock()
		return
	}
	s.dragging[cardID] = true
	s.mu.Unlock()
	s.broadcast(ctx, transport.MessageDragStart, transport.DragPayload{CardID: cardID})
}

// EndDrag announces the drop. It is a no-op when no drag is active.
func (s *Session) EndDrag(ctx context.Context, cardID string) {
	s.mu.Lock()
	if !s.dragging[cardID] {
		s.mu.Unlock()
		return
	}
	delete(s.dragging, cardID)
	s.mu.Unlock()
	s.broadcast(ctx, transport.MessageDragEnd, transport.DragPayload{CardID: cardID})
}

// SaveGameState merges patch into the canonical state, bumps the version,
// persists it and broadcasts the full snapshot. A failed persist rolls the
// merge back and retries it through the error handler.
func (s *Session) SaveGameState(ctx context.Context, patch normalizer.LocalState) error {
	s.mu.Lock()
	prev := s.state
	next, err := s.mergeLocked(patch)
	if err != nil {
		s.mu.Unlock()
		s.fail(ctx, err, ContextSave)
		return err
	}
	s.setStateLocked(next)
	s.pendingChanges++
	pending := s.pendingChanges
	snapshot := next.Clone()
	s.mu.Unlock()

	s.persist.Cancel()
	err = s.store.Upsert(ctx, s.cfg.RoomID, s.cfg.GameplayID, snapshot)
	s.metrics.RecordSave(err)
	if err != nil {
		rollback := func() error {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.state != next {
				return fmt.Errorf("rollback save: state changed since version %d", next.Version)
			}
			s.setStateLocked(prev)
			s.pendingChanges = max(s.pendingChanges-1, 0)
			return nil
		}
		retry := func() {
			if errors.Is(err, store.ErrVersionConflict) {
				s.Resync(context.Background())
			}
			s.SaveGameState(context.Background(), patch)
		}
		return s.fail(ctx, err, ContextSave, syncerr.WithFallback(rollback), syncerr.WithRetry(s.countRetry(ContextSave, retry)))
	}

	s.acknowledge(ctx, pending)
	log.Info().
		Str("room_id", s.cfg.RoomID).
		Str("gameplay_id", s.cfg.GameplayID).
		Int("version", snapshot.Version).
		Msg("saved game state")
	s.broadcastSnapshot(ctx)
	return nil
}

func (s *Session) mergeLocked(patch normalizer.LocalState) (*models.GameState, error) {
	base, err := s.normalizer.FromStorageFormat(s.state)
	if err != nil {
		return nil, err
	}
	merged, err := normalizer.Merge(base, patch)
	if err != nil {
		return nil, err
	}
	next, err := s.normalizer.ToStorageFormat(s.state.GameType, merged, s.state.Version)
	if err != nil {
		return nil, err
	}
	carryTimestamps(s.state, next, "")
	return next, nil
}

// Flush persists the canonical state now if it has unacknowledged changes.
// After a version conflict it first reconciles with the stored state.
func (s *Session) Flush(ctx context.Context) error {
	s.mu.Lock()
	conflicted := s.conflicted
	s.mu.Unlock()
	if conflicted {
		if err := s.resolveConflict(ctx); err != nil {
			return s.fail(ctx, err, ContextSave, syncerr.WithRetry(s.countRetry(ContextSave, s.requestFlush)))
		}
	}

	s.mu.Lock()
	if s.pendingChanges == 0 {
		s.mu.Unlock()
		return nil
	}
	pending := s.pendingChanges
	snapshot := s.state.Clone()
	s.mu.Unlock()

	err := s.store.Upsert(ctx, s.cfg.RoomID, s.cfg.GameplayID, snapshot)
	s.metrics.RecordSave(err)
	if err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			s.mu.Lock()
			s.conflicted = true
			s.mu.Unlock()
		}
		return s.fail(ctx, err, ContextSave, syncerr.WithRetry(s.countRetry(ContextSave, s.requestFlush)))
	}

	s.acknowledge(ctx, pending)
	log.Debug().Int("version", snapshot.Version).Int("changes", pending).Msg("flushed game state")
	return nil
}

// resolveConflict merges the stored state into the canonical one at a
// version above both, so the next persist supersedes the stored copy.
func (s *Session) resolveConflict(ctx context.Context) error {
	stored, err := s.store.Get(ctx, s.cfg.RoomID, s.cfg.GameplayID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if stored != nil {
		merged, _, err := reconcile(s.normalizer, s.state, stored, s.tombstones, nil, max(s.state.Version, stored.Version)+1)
		if err != nil {
			return err
		}
		s.setStateLocked(merged)
	}
	s.conflicted = false
	s.pendingChanges = max(s.pendingChanges, 1)
	log.Info().Int("version", s.state.Version).Msg("resolved version conflict with stored state")
	return nil
}

func (s *Session) acknowledge(ctx context.Context, changes int) {
	s.mu.Lock()
	s.pendingChanges = max(s.pendingChanges-changes, 0)
	s.lastSyncTime = s.clock.Now()
	s.clearErrLocked(ContextSave, ContextLoad)
	s.mu.Unlock()

	if err := s.handler.ClearRetryCount(ctx, ContextSave); err != nil {
		log.Error().Err(err).Msg("failed to clear save retry counters")
	}
}

func (s *Session) requestFlush() {
	select {
	case s.flushCh <- struct{}{}:
	default:
	}
}

// Resync reconciles the canonical state with the stored copy.
func (s *Session) Resync(ctx context.Context) error {
	stored, err := s.store.Get(ctx, s.cfg.RoomID, s.cfg.GameplayID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return s.fail(ctx, err, ContextSync, syncerr.WithRetry(s.countRetry(ContextSync, func() { s.Resync(context.Background()) })))
	}
	if err := s.adopt(ctx, stored); err != nil {
		return err
	}
	s.mu.Lock()
	s.clearErrLocked(ContextLoad)
	s.mu.Unlock()
	log.Debug().Int("stored_version", stored.Version).Int("version", s.Version()).Msg("resynced with stored state")
	return nil
}

// AttachFile uploads a file and saves only the returned reference into a
// position breakdown state.
func (s *Session) AttachFile(ctx context.Context, up Uploader, name, mimeType string, r io.Reader) (*models.UploadedFile, error) {
	if s.cfg.GameType != models.GameTypePositionBreakdown {
		err := fmt.Errorf("%w: files attach to %s only", normalizer.ErrGameTypeMismatch, models.GameTypePositionBreakdown)
		s.fail(ctx, err, ContextUpload)
		return nil, err
	}
	file, err := up.Upload(ctx, name, mimeType, r)
	if err != nil {
		return nil, s.fail(ctx, err, ContextUpload)
	}
	if err := s.SaveGameState(ctx, &normalizer.PositionBreakdownLocal{UploadedFile: file}); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.clearErrLocked(ContextUpload)
	s.mu.Unlock()
	return file, nil
}

// AddToken places a new token and announces it.
func (s *Session) AddToken(ctx context.Context, tokenType models.TokenType, color string, value *int) (models.GameToken, error) {
	token, err := s.board.Add(tokenType, color, value)
	if err != nil {
		s.fail(ctx, err, ContextToken)
		return token, err
	}
	s.tokenSucceeded()
	s.broadcast(ctx, transport.MessageTokenAdded, transport.TokenPayload{Token: token})
	return token, nil
}

func (s *Session) MoveToken(ctx context.Context, id string, pos models.Point) (models.GameToken, error) {
	token, err := s.board.Move(id, pos)
	if err != nil {
		s.fail(ctx, err, ContextToken)
		return token, err
	}
	s.tokenSucceeded()
	s.broadcast(ctx, transport.MessageTokenMoved, transport.TokenPayload{Token: token})
	return token, nil
}

func (s *Session) RemoveToken(ctx context.Context, id string) bool {
	if !s.board.Remove(id) {
		return false
	}
	s.broadcast(ctx, transport.MessageTokenRemoved, transport.TokenRemovedPayload{TokenID: id})
	return true
}

func (s *Session) ClearTokens(ctx context.Context) {
	s.board.Clear()
	s.broadcast(ctx, transport.MessageTokensCleared, nil)
}

func (s *Session) tokenSucceeded() {
	s.mu.Lock()
	s.clearErrLocked(ContextToken)
	s.mu.Unlock()
}

func (s *Session) Tokens() []models.GameToken {
	return s.board.Tokens()
}

// State returns a copy of the canonical state.
func (s *Session) State() *models.GameState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Local returns the canonical state in its UI shape.
func (s *Session) Local() (normalizer.LocalState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.normalizer.FromStorageFormat(s.state)
}

func (s *Session) Version() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Version
}

func (s *Session) setStateLocked(state *models.GameState) {
	s.state = state
	s.metrics.SetVersion(s.cfg.RoomID, s.cfg.GameplayID, state.Version)
}

func (s *Session) broadcastSnapshot(ctx context.Context) {
	s.mu.Lock()
	payload := transport.StateSnapshotPayload{State: s.state.Clone()}
	if len(s.tombstones) > 0 {
		payload.Removed = maps.Clone(s.tombstones)
	}
	s.mu.Unlock()
	s.broadcast(ctx, transport.MessageStateSnapshot, payload)
}

// broadcast sends payload to the room. While disconnected nothing is sent;
// peers catch up through the snapshot exchange after reconnecting.
func (s *Session) broadcast(ctx context.Context, t transport.MessageType, payload any) {
	s.mu.Lock()
	connected := s.connected
	s.mu.Unlock()
	if !connected {
		log.Debug().Str("type", string(t)).Msg("not connected, skipping broadcast")
		return
	}

	env, err := transport.NewEnvelope(t, s.cfg.RoomID, s.cfg.GameplayID, s.cfg.ParticipantID, s.clock.Now(), payload)
	if err != nil {
		s.fail(ctx, err, ContextSync)
		return
	}
	if err := s.transport.Broadcast(ctx, env); err != nil {
		s.fail(ctx, err, ContextSync)
	}
}

// fail hands err to the error handler and records the result as the
// session's latest error. An exhausted reconnect stays in front of it in
// Status until the connection comes back.
func (s *Session) fail(ctx context.Context, err error, errContext string, opts ...syncerr.HandleOption) *syncerr.SyncError {
	se := s.handler.Handle(ctx, err, errContext, opts...)
	s.metrics.RecordError(string(se.Type), errContext)

	s.mu.Lock()
	s.lastErr = se
	s.mu.Unlock()
	return se
}

// clearErrLocked drops the latest error when it belongs to one of contexts.
func (s *Session) clearErrLocked(contexts ...string) {
	if s.lastErr == nil || !slices.Contains(contexts, s.lastErr.Context) {
		return
	}
	s.lastErr = nil
	s.message = ""
	if s.offline != nil {
		s.message = OfflineMessage
	}
}

// showMessage records message as the status line and forwards it to the
// session's notifiers. While offline the status line keeps OfflineMessage.
func (s *Session) showMessage(se *syncerr.SyncError, message string) {
	s.mu.Lock()
	if s.offline == nil || se == s.offline {
		s.message = message
	}
	notifiers := slices.Clone(s.notifiers)
	s.mu.Unlock()
	for _, notify := range notifiers {
		notify(se, message)
	}
}

func (s *Session) countRetry(policy string, fn func()) func() {
	return func() {
		s.metrics.RecordRetry(policy)
		fn()
	}
}
