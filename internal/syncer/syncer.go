package syncer

import (
	"context"
	"errors"
	"log"
	"os"
	"sync"
	"time"

	"github.com/calebh/auralog/internal/event"
	"github.com/calebh/auralog/internal/store"
	"github.com/calebh/auralog/internal/tombstone"
	"github.com/calebh/auralog/internal/transport"
	"github.com/calebh/auralog/internal/wire"
)

// Role selects which side of the pairing this device plays.
type Role string

const (
	// RolePrimary runs the periodic liveness poll.
	RolePrimary Role = "primary"
	// RoleCompanion never polls; it relies on the primary to re-drive
	// stalled syncs.
	RoleCompanion Role = "companion"
)

// Config holds coordinator configuration.
type Config struct {
	// Role of this device. The periodic poll fires only on RolePrimary.
	Role Role

	// Enabled is the stored user preference: with a pairing link present,
	// the engine starts enabled or disabled according to this.
	Enabled bool

	// PollInterval is how often the primary re-drives unacknowledged
	// state (default: 30s).
	PollInterval time.Duration

	// FullSyncTimeout bounds the wait for a full-sync reply (default: 15s).
	FullSyncTimeout time.Duration

	// Logger for coordinator activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults for a primary device.
func DefaultConfig() *Config {
	return &Config{
		Role:            RolePrimary,
		Enabled:         true,
		PollInterval:    30 * time.Second,
		FullSyncTimeout: 15 * time.Second,
		Logger:          log.New(os.Stderr, "[syncer] ", log.LstdFlags),
	}
}

// Syncer is the single authority over when sync happens and how
// conflicting or partial state is reconciled.
//
// All mutable sync state is owned by one run-loop goroutine; the local
// edit path, the inbound transport callback, and the periodic poll all
// enqueue work onto it, so no two merges or outbound sends interleave.
type Syncer struct {
	store   *store.DB
	tombs   *tombstone.Registry
	channel transport.Channel
	cfg     *Config
	logger  *log.Logger

	ops    chan func()
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	sig *signal

	// Owned by the run loop.
	pending         int
	lastSnapshot    []byte
	fullSyncPending bool
}

// New creates a coordinator. The channel may be nil, in which case the
// engine reports notConfigured and every send is a no-op error.
func New(db *store.DB, tombs *tombstone.Registry, channel transport.Channel, cfg *Config) *Syncer {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.FullSyncTimeout == 0 {
		cfg.FullSyncTimeout = 15 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[syncer] ", log.LstdFlags)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Syncer{
		store:   db,
		tombs:   tombs,
		channel: channel,
		cfg:     cfg,
		logger:  cfg.Logger,
		ops:     make(chan func(), 64),
		ctx:     ctx,
		cancel:  cancel,
		sig:     &signal{},
	}
	s.sig.set(s.initialStatus())
	return s
}

func (s *Syncer) initialStatus() Status {
	switch {
	case s.channel == nil:
		return Status{State: StateNotConfigured}
	case !s.cfg.Enabled:
		return Status{State: StateDisabled}
	default:
		return Status{State: StateEnabled}
	}
}

// Start begins the run loop, registers the inbound handler, and starts
// the periodic poll on the primary role. If the local store is empty a
// full sync is requested from the peer.
func (s *Syncer) Start() {
	if s.channel != nil {
		s.channel.SetHandler(s.handleInbound)
	}

	s.wg.Add(1)
	go s.run()

	if s.cfg.Role == RolePrimary {
		s.wg.Add(1)
		go s.pollLoop()
	}

	if s.channel != nil {
		if n, err := s.store.Count(s.ctx); err == nil && n == 0 {
			s.logger.Println("Local store is empty, requesting full sync")
			s.RequestFullSync()
		}
	}
}

// Stop shuts the coordinator down and waits for its goroutines.
func (s *Syncer) Stop() {
	s.cancel()
	s.wg.Wait()
}

// Status returns the currently live status value.
func (s *Syncer) Status() Status {
	return s.sig.get()
}

// LastSyncTime returns when the last sync completed successfully.
func (s *Syncer) LastSyncTime() time.Time {
	return s.sig.lastSyncTime()
}

// Subscribe registers a listener for status changes. The channel is
// buffered and written non-blocking; a slow consumer misses intermediate
// values but always observes the final one of a burst via Status().
func (s *Syncer) Subscribe(buf int) <-chan Status {
	return s.sig.subscribe(buf)
}

// SendLocalChange announces a locally edited event to the peer.
//
// The event has already been applied to the local store by the edit flow;
// delivery is best-effort and failures surface only on the status signal,
// never to the caller.
func (s *Syncer) SendLocalChange(ev event.Event) {
	s.enqueue(func() { s.doSendChange(ev) })
}

// SendDeletion announces a local deletion. The identifier is recorded in
// the tombstone registry before any transmission is attempted, so a crash
// after the local delete still converges on the next sync.
func (s *Syncer) SendDeletion(id string) {
	s.enqueue(func() { s.doSendDeletion(id) })
}

// RequestFullSync asks the peer for its complete current state. The
// request is asynchronous; progress and outcome appear on the status
// signal. An unreachable peer is retried on subsequent polls.
func (s *Syncer) RequestFullSync() {
	s.enqueue(func() { s.doFullSync() })
}

// RetrySync is the manual recovery trigger for the error state.
func (s *Syncer) RetrySync() {
	s.enqueue(func() {
		if s.sig.get().State != StateError {
			return
		}
		switch {
		case s.fullSyncPending:
			s.doFullSync()
		case s.lastSnapshot != nil:
			s.deliver(s.lastSnapshot)
		default:
			s.sig.set(Status{State: StateEnabled})
		}
	})
}

// ReceiveEnvelope merges an inbound envelope. It blocks until the merge
// has run to completion on the serialization point; failures are absorbed
// into the status signal.
func (s *Syncer) ReceiveEnvelope(env *wire.Envelope) {
	s.enqueueWait(func() { _ = s.doMerge(env) })
}

// run is the serialization point for all mutable sync state.
func (s *Syncer) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case op := <-s.ops:
			op()
		}
	}
}

// pollLoop fires the periodic liveness check on the primary role.
func (s *Syncer) pollLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.enqueue(func() { s.checkAndSync() })
		}
	}
}

func (s *Syncer) enqueue(op func()) {
	select {
	case s.ops <- op:
	case <-s.ctx.Done():
	}
}

func (s *Syncer) enqueueWait(op func()) {
	done := make(chan struct{})
	s.enqueue(func() {
		defer close(done)
		op()
	})
	select {
	case <-done:
	case <-s.ctx.Done():
	}
}

// handleInbound is invoked by the transport on an arbitrary goroutine.
// It decodes off-loop, then marshals the work onto the run loop. For a
// full-sync request the reply carries this device's complete state.
func (s *Syncer) handleInbound(payload []byte) ([]byte, error) {
	env, err := wire.Decode(payload)
	if err != nil {
		// A malformed envelope is a dropped message, never a crash.
		s.logger.Printf("Dropping undecodable envelope: %v", err)
		return nil, err
	}

	if env.FullSyncRequest {
		var reply []byte
		var rerr error
		s.enqueueWait(func() { reply, rerr = s.buildFullState() })
		return reply, rerr
	}

	var merr error
	s.enqueueWait(func() { merr = s.doMerge(env) })
	return nil, merr
}

// buildFullState serializes the entire live event set plus the entire
// tombstone set for a full-sync response.
func (s *Syncer) buildFullState() ([]byte, error) {
	all, err := s.store.FetchAll(s.ctx)
	if err != nil {
		s.fail("full sync response failed: " + err.Error())
		return nil, err
	}

	events := make([]event.Event, 0, len(all))
	for _, ev := range all {
		events = append(events, *ev)
	}

	env := wire.New(events, s.tombs.IDs(), time.Now())
	payload, err := wire.Encode(env)
	if err != nil {
		s.fail("full sync response failed: " + err.Error())
		return nil, err
	}

	s.logger.Printf("Answering full sync request: %d events, %d tombstones", len(events), s.tombs.Len())
	return payload, nil
}

// doSendChange builds and delivers a single-event envelope.
func (s *Syncer) doSendChange(ev event.Event) {
	s.pending++

	env := wire.New([]event.Event{ev}, nil, time.Now())
	payload, err := wire.Encode(env)
	if err != nil {
		s.logger.Printf("Dropping change %s, envelope encoding failed: %v", ev.ID, err)
		s.fail("envelope encoding failed: " + err.Error())
		return
	}

	s.lastSnapshot = payload
	s.deliver(payload)
}

// doSendDeletion records the tombstone durably, then announces it.
// Tombstone-before-send ordering: a crash between the two leaves the
// registry already updated and the next sync converges.
func (s *Syncer) doSendDeletion(id string) {
	if err := s.tombs.Record(id, time.Now()); err != nil {
		s.logger.Printf("Failed to record tombstone for %s: %v", id, err)
		s.fail("tombstone record failed: " + err.Error())
		return
	}

	s.pending++

	env := wire.New(nil, []string{id}, time.Now())
	payload, err := wire.Encode(env)
	if err != nil {
		s.fail("envelope encoding failed: " + err.Error())
		return
	}

	s.lastSnapshot = payload
	s.deliver(payload)
}

// deliver attempts the durable channel first and falls back to the
// transient channel. It always leaves the status in a terminal state.
func (s *Syncer) deliver(payload []byte) {
	if s.channel == nil {
		s.fail("no pairing channel configured")
		return
	}

	s.sig.set(Status{State: StateSyncing})

	if err := s.channel.SendDurable(s.ctx, payload); err != nil {
		s.logger.Printf("Durable send failed, falling back to transient: %v", err)

		ctx, cancel := context.WithTimeout(s.ctx, s.cfg.FullSyncTimeout)
		_, terr := s.channel.SendTransient(ctx, payload)
		cancel()
		if terr != nil {
			s.fail(reason(terr))
			return
		}
		// Transient round-trip acknowledged by the peer.
		s.completeSync()
		return
	}

	if s.channel.Pairing().Reachable {
		// Pushed to a live peer.
		s.completeSync()
		return
	}

	// Queued on the durable channel; acknowledged later.
	s.sig.set(Status{State: StatePendingChanges, PendingCount: s.pending})
}

// doFullSync sends a full-sync request over the transient channel and
// merges the reply. On failure the request stays pending and the next
// poll retries it.
func (s *Syncer) doFullSync() {
	if s.channel == nil {
		s.fail("no pairing channel configured")
		return
	}

	s.fullSyncPending = true
	s.sig.set(Status{State: StateSyncing})

	env := wire.NewFullSyncRequest(time.Now())
	payload, err := wire.Encode(env)
	if err != nil {
		s.fail("envelope encoding failed: " + err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.FullSyncTimeout)
	reply, err := s.channel.SendTransient(ctx, payload)
	cancel()
	if err != nil {
		s.logger.Printf("Full sync request failed: %v", err)
		s.fail(reason(err))
		return
	}

	renv, err := wire.Decode(reply)
	if err != nil {
		s.logger.Printf("Dropping undecodable full sync reply: %v", err)
		s.fail("full sync reply decoding failed: " + err.Error())
		return
	}

	if err := s.doMerge(renv); err != nil {
		return // doMerge already reported
	}
	s.fullSyncPending = false
	s.logger.Printf("Full sync complete: %d events, %d tombstones", len(renv.Events), len(renv.DeletedIDs))
}

// doMerge applies an inbound envelope all-or-nothing.
//
// Deletions and upserts run inside a single store transaction; the
// tombstone registry is appended only after the commit succeeds, so an
// identifier enters the set strictly after its live copy is gone. A
// crash between the commit and the append leaves the deletion applied
// but unrecorded; the identifier is re-recorded the next time the peer
// announces it.
func (s *Syncer) doMerge(env *wire.Envelope) error {
	s.sig.set(Status{State: StateSyncing})

	total := len(env.DeletedIDs) + len(env.Events)
	deleted := make(map[string]bool, len(env.DeletedIDs))
	for _, id := range env.DeletedIDs {
		deleted[id] = true
	}

	processed := 0
	step := func() {
		processed++
		if total > 0 {
			s.sig.set(Status{State: StateSyncing, Progress: float64(processed) / float64(total)})
		}
	}

	err := s.store.ApplyMerge(s.ctx, func(tx *store.Tx) error {
		// Step 1: announced deletions remove any live local copy.
		for _, id := range env.DeletedIDs {
			if err := tx.Delete(s.ctx, id); err != nil {
				return err
			}
			step()
		}

		// Step 2: tombstone wins over stale inbound snapshots; otherwise
		// upsert with last-writer-wins on the envelope's sync time.
		for i := range env.Events {
			ev := env.Events[i]
			step()

			if deleted[ev.ID] || s.tombs.Contains(ev.ID) {
				continue
			}

			existing, err := tx.Get(s.ctx, ev.ID)
			if err != nil {
				return err
			}
			if existing != nil && !env.Time().After(existing.ModifiedAt) {
				// Local copy is as new or newer; incoming value loses.
				continue
			}

			ev.ModifiedAt = env.Time()
			if err := tx.Upsert(s.ctx, &ev); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Printf("Merge failed, envelope not applied: %v", err)
		s.fail("merge failed: " + err.Error())
		return err
	}

	for _, id := range env.DeletedIDs {
		if err := s.tombs.Record(id, env.Time()); err != nil {
			s.logger.Printf("Failed to persist tombstone for %s: %v", id, err)
			s.fail("tombstone record failed: " + err.Error())
			return err
		}
	}

	s.completeSync()
	return nil
}

// checkAndSync is the periodic liveness poll. It compensates for the
// durable channel's last-value-wins semantics dropping intermediate
// updates during unreachability by re-sending the most recent
// unacknowledged snapshot.
func (s *Syncer) checkAndSync() {
	if s.channel == nil {
		return
	}

	p := s.channel.Pairing()
	if !p.Paired {
		if st := s.sig.get().State; st != StateDisabled {
			s.logger.Println("Pairing lost, disabling sync")
			s.sig.set(Status{State: StateDisabled})
		}
		return
	}
	if s.sig.get().State == StateDisabled && s.cfg.Enabled {
		s.sig.set(Status{State: StateEnabled})
	}

	if s.fullSyncPending {
		if p.Reachable {
			s.doFullSync()
		}
		return
	}

	if s.lastSnapshot != nil && time.Since(s.sig.lastSyncTime()) >= s.cfg.PollInterval {
		s.logger.Println("No sync within poll interval, re-sending last snapshot")
		s.deliver(s.lastSnapshot)
	}
}

// completeSync marks a successful sync: pending edits are considered
// acknowledged and the status returns to enabled.
func (s *Syncer) completeSync() {
	s.sig.markSynced(time.Now())
	s.pending = 0
	s.lastSnapshot = nil
	s.sig.set(Status{State: StateEnabled})
}

// fail transitions to the error state, preserving pending bookkeeping
// for retry.
func (s *Syncer) fail(msg string) {
	s.sig.set(Status{State: StateError, Message: msg})
}

// reason maps transport errors to the stable names surfaced on the
// status signal.
func reason(err error) string {
	switch {
	case errors.Is(err, transport.ErrNotReachable):
		return "NotReachable"
	case errors.Is(err, transport.ErrTimeout):
		return "Timeout"
	case errors.Is(err, context.DeadlineExceeded):
		return "Timeout"
	default:
		return err.Error()
	}
}
