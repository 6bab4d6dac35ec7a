// Package sync applies incoming update batches to the local store under
// latest-state-wins rules, reconciling optimistic local sends with their
// server echoes.
package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/lbrandao/mtx/internal/bus"
	"github.com/lbrandao/mtx/internal/store"
	"go.uber.org/zap"
)

// Engine ingests sync batches into the store. It subscribes to "net.*" events
// on the bus and applies each delivered batch inside one transaction scope.
type Engine struct {
	db     *store.DB
	client string
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
}

// NewEngine creates a new ingestion engine for the named client session.
func NewEngine(db *store.DB, client string, b *bus.Bus, logger *zap.Logger) *Engine {
	return &Engine{
		db:     db,
		client: client,
		bus:    b,
		logger: logger,
	}
}

// Start subscribes to inbound network events on the bus.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	ch, unsub := e.bus.Subscribe("net.", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				e.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *Engine) handleEvent(evt bus.Event) {
	if evt.Kind != "net.batch" {
		return
	}
	batch, ok := evt.Payload.(*Batch)
	if !ok {
		return
	}
	if err := e.ApplyBatch(batch); err != nil {
		e.logger.Error("failed to apply sync batch", zap.Error(err),
			zap.String("next_batch", batch.NextBatch))
	}
}

// ApplyBatch applies one sync batch atomically: room updates, event updates,
// user updates, then the session cursor. A failed batch rolls back whole and
// is retried by the sync loop; committed state is never partially visible.
func (e *Engine) ApplyBatch(batch *Batch) error {
	var resetRooms []string

	err := e.db.WithTxn(func(t *store.Txn) error {
		for _, ru := range batch.Rooms {
			reset, err := e.applyRoomUpdate(t, ru)
			if err != nil {
				return fmt.Errorf("room update %q: %w", ru.RoomID, err)
			}
			if reset {
				resetRooms = append(resetRooms, ru.RoomID)
			}
		}
		for _, eu := range batch.Events {
			if err := e.applyEvent(t, eu); err != nil {
				return fmt.Errorf("event update %q: %w", eu.EventID, err)
			}
		}
		for _, uu := range batch.Users {
			if err := e.applyUserUpdate(t, uu); err != nil {
				return fmt.Errorf("user update: %w", err)
			}
		}
		if batch.NextBatch != "" {
			if err := t.SetClientPrevBatch(e.client, batch.NextBatch); err != nil {
				return fmt.Errorf("set cursor: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, roomID := range resetRooms {
		e.publish("room.timeline_reset", map[string]string{"room_id": roomID})
	}
	e.publish("sync.batch_applied", map[string]int{
		"rooms":  len(batch.Rooms),
		"events": len(batch.Events),
		"users":  len(batch.Users),
	})
	return nil
}

// applyRoomUpdate creates the room on first sight, overwrites membership and
// the counters, and applies the sparse summary fields only when carried.
// Returns whether the room's cached timeline was invalidated.
func (e *Engine) applyRoomUpdate(t *store.Txn, ru *RoomUpdate) (bool, error) {
	if err := t.EnsureRoom(ru.RoomID, ru.Membership); err != nil {
		return false, err
	}

	patch := &store.RoomPatch{
		ID:                ru.RoomID,
		Membership:        ru.Membership,
		HighlightCount:    ru.HighlightCount,
		NotificationCount: ru.NotificationCount,
		JoinedCount:       ru.JoinedCount,
		InvitedCount:      ru.InvitedCount,
		Heroes:            ru.Heroes,
	}
	if ru.Limited {
		// Timeline gap: cached events are no longer contiguous with
		// history. Drop them and resume pagination from the new cursor.
		if err := t.ClearRoomTimeline(ru.RoomID); err != nil {
			return false, err
		}
		patch.PrevBatch = &ru.PrevBatch
	}
	if err := t.ApplyRoomPatch(patch); err != nil {
		return false, err
	}
	return ru.Limited, nil
}

// applyEvent ingests one timeline or history event delta.
//
// A pending local send (stored under its client transaction id) is resolved in
// one of two mutually exclusive ways: a direct acknowledgement (Sent/Failed
// carrying the transaction id) re-keys the pending row in place, while a
// genuine sync echo lands the authoritative row under its server event id and
// then drops the placeholder.
func (e *Engine) applyEvent(t *store.Txn, eu *EventUpdate) error {
	status := store.StatusSynced
	if eu.Status != nil {
		status = *eu.Status
	}

	rekeyed := false
	if (status == store.StatusSent || status == store.StatusFailed) && eu.TransactionID != "" {
		var err error
		rekeyed, err = t.RekeyPendingEvent(eu.TransactionID, eu.EventID, status)
		if err != nil {
			return err
		}
	}
	if !rekeyed && eu.EventID != "" {
		if err := t.UpsertEvent(&store.Event{
			ID:          eu.EventID,
			RoomID:      eu.RoomID,
			Timestamp:   eu.Timestamp,
			Sender:      eu.Sender,
			Type:        eu.Type,
			Unsigned:    eu.Unsigned,
			Content:     eu.Content,
			PrevContent: eu.PrevContent,
			StateKey:    eu.StateKey,
			Status:      status,
		}); err != nil {
			return err
		}
		if status != store.StatusFailed && eu.TransactionID != "" {
			if err := t.DeleteEvent(eu.TransactionID); err != nil {
				return err
			}
		}
	}

	// History batches never touch current state.
	if eu.Kind == KindHistory {
		return nil
	}

	if eu.EventID != "" {
		// State-carrying timeline events (membership changes delivered
		// inline) update the current room state.
		return t.UpsertStateEntry(&store.StateEntry{
			RoomID:      eu.RoomID,
			StateKey:    eu.StateKey,
			Type:        eu.Type,
			EventID:     eu.EventID,
			Timestamp:   eu.Timestamp,
			Sender:      eu.Sender,
			Unsigned:    eu.Unsigned,
			PrevContent: eu.PrevContent,
			Content:     eu.Content,
		})
	}
	// A bare account-data-shaped update without an event id.
	return t.UpsertRoomAccountData(eu.Type, eu.RoomID, eu.Content)
}

// applyUserUpdate ingests global account data or presence; only the latest
// value per key is retained.
func (e *Engine) applyUserUpdate(t *store.Txn, uu *UserUpdate) error {
	switch uu.Kind {
	case UserAccountData:
		return t.UpsertAccountData(uu.Type, uu.Content)
	case UserPresence:
		return t.UpsertPresence(uu.Sender, uu.Content)
	}
	return nil
}

func (e *Engine) publish(kind string, payload any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(bus.Event{
		Kind:      kind,
		Timestamp: time.Now(),
		Payload:   payload,
	})
}
