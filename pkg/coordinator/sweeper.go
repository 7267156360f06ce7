package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/parleyhq/parley/pkg/config"
	"github.com/parleyhq/parley/pkg/database"
	"github.com/parleyhq/parley/pkg/locks"
	"github.com/parleyhq/parley/pkg/models"
)

// Sweeper periodically enforces queue and assignment liveness:
//   - Purges queue entries older than the configured age and closes their
//     conversations with the generic notice
//   - Re-queues ASSIGNED conversations whose ownership lease expired
//
// All passes are idempotent and safe to run from multiple instances; the
// purge pass additionally serializes on the queue lock so concurrent
// sweepers do not double-close.
type Sweeper struct {
	coord    *Coordinator
	interval time.Duration
	purgeAge time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper creates a sweeper bound to the coordinator's stores.
func NewSweeper(coord *Coordinator, cfg *config.QueueConfig) *Sweeper {
	return &Sweeper{
		coord:    coord,
		interval: cfg.SweepInterval,
		purgeAge: cfg.PurgeAge,
	}
}

// Start launches the background sweep loop.
func (s *Sweeper) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Liveness sweeper started",
		"interval", s.interval,
		"purge_age", s.purgeAge)
}

// Stop signals the sweep loop to exit and waits for it to finish.
func (s *Sweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Liveness sweeper stopped")
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.done)

	s.Sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one maintenance pass.
func (s *Sweeper) Sweep(ctx context.Context) {
	s.purgeStaleQueueEntries(ctx)
	s.requeueExpiredAssignments(ctx)
}

// purgeStaleQueueEntries closes conversations that waited longer than the
// purge age. Another instance holding the queue lock means the pass already
// runs elsewhere; this one skips quietly.
func (s *Sweeper) purgeStaleQueueEntries(ctx context.Context) {
	err := s.coord.locks.WithLock(ctx, s.coord.keys.QueueLock(), func(ctx context.Context) error {
		purged, err := s.coord.queue.PurgeOlderThan(ctx, s.purgeAge)
		if err != nil {
			return err
		}
		for _, entry := range purged {
			if _, err := s.coord.Close(ctx, entry.ConversationID, nil); err != nil && !errors.Is(err, ErrNotFound) {
				slog.Error("Sweeper: closing purged conversation failed",
					"conversation_id", entry.ConversationID,
					"error", err)
			}
		}
		if len(purged) > 0 {
			slog.Info("Sweeper: purged stale queue entries",
				"count", len(purged),
				"purge_age", s.purgeAge)
		}
		return nil
	})
	if errors.Is(err, locks.ErrAcquireTimeout) {
		return
	}
	if err != nil {
		slog.Error("Sweeper: queue purge pass failed", "error", err)
	}
	s.coord.refreshQueueDepth(ctx)
}

// requeueExpiredAssignments returns abandoned conversations to the queue.
// The lease state is re-checked under the conversation lock inside
// QueueForAgent, so an agent resurfacing between the scan and the re-queue
// keeps the conversation.
func (s *Sweeper) requeueExpiredAssignments(ctx context.Context) {
	assigned, err := s.coord.store.ListConversations(ctx, &database.FindConversations{
		Statuses: []models.ConversationStatus{models.StatusAssigned},
	})
	if err != nil {
		slog.Error("Sweeper: listing assigned conversations failed", "error", err)
		return
	}

	for _, conv := range assigned {
		owner, err := s.coord.registry.Owner(ctx, conv.ID)
		if err != nil {
			slog.Error("Sweeper: lease check failed",
				"conversation_id", conv.ID,
				"error", err)
			continue
		}
		if owner != "" {
			continue
		}

		exAgentID := ""
		if conv.Agent != nil {
			exAgentID = conv.Agent.ID
		}
		if _, err := s.coord.QueueForAgent(ctx, conv.ID, conv.Channel); err != nil {
			if errors.Is(err, ErrConflictOwner) || errors.Is(err, ErrAlreadyClosed) || errors.Is(err, ErrNotFound) {
				continue
			}
			slog.Error("Sweeper: re-queueing abandoned conversation failed",
				"conversation_id", conv.ID,
				"error", err)
			continue
		}
		slog.Info("Sweeper: re-queued conversation after lease expiry",
			"conversation_id", conv.ID,
			"ex_agent_id", exAgentID)
	}
}
