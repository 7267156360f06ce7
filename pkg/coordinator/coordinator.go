// Package coordinator drives the conversation lifecycle across the ephemeral
// store, the audit store, and the event bus.
//
// Every mutating operation runs under the distributed per-conversation lock,
// so transitions on one conversation are totally ordered across instances.
// The audit store is authoritative for conversation metadata; the ephemeral
// store owns the queue, the assignment leases, the presence flags, and the
// recent message tail. A failed audit persist aborts the transition before
// any event is published.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/pkg/assignment"
	"github.com/parleyhq/parley/pkg/config"
	"github.com/parleyhq/parley/pkg/database"
	"github.com/parleyhq/parley/pkg/events"
	"github.com/parleyhq/parley/pkg/keyspace"
	"github.com/parleyhq/parley/pkg/locks"
	"github.com/parleyhq/parley/pkg/messagelog"
	"github.com/parleyhq/parley/pkg/metrics"
	"github.com/parleyhq/parley/pkg/models"
	"github.com/parleyhq/parley/pkg/presence"
	"github.com/parleyhq/parley/pkg/queue"
)

// Closure notice texts. The agent variant is completed with the agent's
// display name.
const (
	noticeClosedByAgentFmt = "%s has closed this chat. Feel free to start a new conversation if you need any more help."
	noticeClosedByCustomer = "You ended the chat. You can start a new conversation anytime you need assistance."
	noticeClosedGeneric    = "This conversation has been closed. You can start a new chat anytime you need assistance."
)

// Deps bundles the stores and adapters the coordinator composes.
type Deps struct {
	Locks     *locks.Manager
	Keys      keyspace.Keyspace
	Queue     *queue.Engine
	Registry  *assignment.Registry
	Presence  *presence.Tracker
	Tail      *messagelog.Log
	Store     *database.Client
	Publisher *events.Publisher

	Messages *config.MessageConfig
}

// QueueStatus reports the placement resulting from QueueForAgent.
type QueueStatus struct {
	Conversation *models.Conversation `json:"conversation"`
	Position     int                  `json:"position"`
}

// Coordinator owns conversation state transitions. Safe for concurrent use;
// all mutations serialize on the per-conversation lock.
type Coordinator struct {
	locks     *locks.Manager
	keys      keyspace.Keyspace
	queue     *queue.Engine
	registry  *assignment.Registry
	presence  *presence.Tracker
	tail      *messagelog.Log
	store     *database.Client
	publisher *events.Publisher

	maxMessageBytes int
	tailLimit       int
}

// New creates a coordinator over the given dependencies.
func New(deps Deps) *Coordinator {
	return &Coordinator{
		locks:           deps.Locks,
		keys:            deps.Keys,
		queue:           deps.Queue,
		registry:        deps.Registry,
		presence:        deps.Presence,
		tail:            deps.Tail,
		store:           deps.Store,
		publisher:       deps.Publisher,
		maxMessageBytes: deps.Messages.MaxBytes,
		tailLimit:       deps.Messages.TailLimit,
	}
}

// withConversationLock serializes a transition on the conversation's
// distributed lock, translating an acquire timeout into ErrContention.
func (c *Coordinator) withConversationLock(ctx context.Context, conversationID string, fn func(ctx context.Context) error) error {
	err := c.locks.WithLock(ctx, c.keys.ConversationLock(conversationID), fn)
	if errors.Is(err, locks.ErrAcquireTimeout) {
		metrics.LockContention.WithLabelValues("conversation").Inc()
		return fmt.Errorf("%w: %w", ErrContention, err)
	}
	return err
}

// loadConversation reads the authoritative record from the audit store.
func (c *Coordinator) loadConversation(ctx context.Context, conversationID string) (*models.Conversation, error) {
	conv, err := c.store.GetConversation(ctx, conversationID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, conversationID)
	}
	if err != nil {
		return nil, backendErr(err)
	}
	return conv, nil
}

// systemParticipant is the coordinator's own authoring identity for notices.
// It never crosses an external boundary as a sender credential.
func systemParticipant() models.Participant {
	return models.Participant{ID: "system", Type: models.ParticipantSystem, DisplayName: "System"}
}

// Start creates a new OPEN conversation for the customer, marks the customer
// present, and announces CONVERSATION_STARTED.
func (c *Coordinator) Start(ctx context.Context, customer models.Participant, attributes map[string]string) (*models.Conversation, error) {
	if customer.ID == "" {
		return nil, NewValidationError("customer", "missing participant id")
	}
	if !customer.IsCustomer() {
		return nil, NewValidationError("customer", "participant must be a customer")
	}

	now := time.Now().UTC()
	conv := &models.Conversation{
		ID:         uuid.NewString(),
		Customer:   customer,
		Status:     models.StatusOpen,
		Attributes: attributes,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err := c.withConversationLock(ctx, conv.ID, func(ctx context.Context) error {
		if err := c.store.CreateConversation(ctx, conv); err != nil {
			return backendErr(err)
		}
		if err := c.presence.MarkPresent(ctx, customer.ID); err != nil {
			return backendErr(err)
		}
		c.publisher.PublishStarted(ctx, conv)
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.ConversationTransitions.WithLabelValues("started").Inc()
	slog.Info("Conversation started",
		"conversation_id", conv.ID,
		"customer_id", customer.ID)
	return conv, nil
}

// QueueForAgent moves the conversation into the shared agent queue.
//
// A live assignment blocks the move with ErrConflictOwner; an expired one is
// released, announced as CONVERSATION_REASSIGNED with the ex-owner's id, and
// the conversation re-enters the queue. Re-queueing an already QUEUED
// conversation keeps its position.
func (c *Coordinator) QueueForAgent(ctx context.Context, conversationID, channel string) (*QueueStatus, error) {
	var status *QueueStatus
	err := c.withConversationLock(ctx, conversationID, func(ctx context.Context) error {
		conv, err := c.loadConversation(ctx, conversationID)
		if err != nil {
			return err
		}
		if conv.Closed() {
			return fmt.Errorf("%w: %s", ErrAlreadyClosed, conversationID)
		}

		var exAgentID string
		if conv.Status == models.StatusAssigned {
			owner, err := c.registry.Owner(ctx, conversationID)
			if err != nil {
				return backendErr(err)
			}
			if owner != "" {
				return fmt.Errorf("%w: assignment lease held by %s", ErrConflictOwner, owner)
			}
			if conv.Agent != nil {
				exAgentID = conv.Agent.ID
			}
		}

		if err := c.releaseAssignment(ctx, conv); err != nil {
			return err
		}

		now := time.Now().UTC()
		conv.Status = models.StatusQueued
		conv.Agent = nil
		conv.AcceptedAt = nil
		conv.UpdatedAt = now
		if channel != "" {
			conv.Channel = channel
		}
		if err := c.store.UpdateConversation(ctx, conv); err != nil {
			return backendErr(err)
		}

		// An existing entry keeps its enqueue time so an idempotent
		// re-queue does not lose its place in line.
		entry, err := c.queue.Remove(ctx, conversationID)
		if err != nil {
			return backendErr(err)
		}
		if entry == nil {
			entry = &models.QueueEntry{
				ConversationID: conversationID,
				CustomerID:     conv.Customer.ID,
				Channel:        conv.Channel,
				EnqueuedAt:     now.UnixMilli(),
			}
		}
		if err := c.queue.Enqueue(ctx, *entry); err != nil {
			return backendErr(err)
		}
		position, err := c.queue.Position(ctx, conversationID)
		if err != nil {
			return backendErr(err)
		}

		if exAgentID != "" {
			c.publisher.PublishReassigned(ctx, conv, exAgentID)
			metrics.ConversationTransitions.WithLabelValues("reassigned").Inc()
			slog.Info("Conversation reassigned to queue",
				"conversation_id", conversationID,
				"ex_agent_id", exAgentID)
		}
		c.publisher.PublishQueued(ctx, conv, position)

		status = &QueueStatus{Conversation: conv, Position: position}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.ConversationTransitions.WithLabelValues("queued").Inc()
	c.refreshQueueDepth(ctx)
	slog.Info("Conversation queued",
		"conversation_id", conversationID,
		"position", status.Position,
		"channel", status.Conversation.Channel)
	return status, nil
}

// Accept claims the conversation for the agent. Exactly one of a set of
// racing agents wins; the rest fail with ErrConflictOwner or
// ErrNoLongerAvailable and no torn state is observable.
func (c *Coordinator) Accept(ctx context.Context, agent models.Participant, conversationID string) (*models.Conversation, error) {
	if agent.ID == "" {
		return nil, NewValidationError("agent", "missing participant id")
	}
	if !agent.IsAgent() {
		return nil, NewValidationError("agent", "participant must be an agent")
	}

	var accepted *models.Conversation
	var claimed bool
	err := c.withConversationLock(ctx, conversationID, func(ctx context.Context) error {
		conv, err := c.loadConversation(ctx, conversationID)
		if err != nil {
			return err
		}
		if conv.Closed() {
			return fmt.Errorf("%w: %s", ErrAlreadyClosed, conversationID)
		}
		if conv.Status == models.StatusAssigned && conv.Agent != nil && !conv.AssignedTo(agent.ID) {
			return fmt.Errorf("%w: held by %s", ErrConflictOwner, conv.Agent.ID)
		}
		if conv.Status == models.StatusAssigned && conv.AssignedTo(agent.ID) {
			// Already this agent's conversation: refresh the lease and
			// clear any stray queue entry.
			if _, err := c.queue.Remove(ctx, conversationID); err != nil {
				return backendErr(err)
			}
			if err := c.registry.Register(ctx, agent.ID, conversationID); err != nil {
				return backendErr(err)
			}
			accepted = conv
			return nil
		}

		if !conv.AssignedTo(agent.ID) {
			ok, err := c.registry.CanAssign(ctx, agent.ID)
			if err != nil {
				return backendErr(err)
			}
			if !ok {
				return fmt.Errorf("%w: agent %s at concurrency bound", ErrAgentCapacityExceeded, agent.ID)
			}
		}
		if conv.Status != models.StatusQueued {
			if err := c.registry.Release(ctx, conversationID); err != nil {
				return backendErr(err)
			}
			return fmt.Errorf("%w: %s is %s", ErrNoLongerAvailable, conversationID, conv.Status)
		}

		res, err := c.queue.ClaimForAgent(ctx, conversationID, agent.ID, c.registry.LeaseTTL())
		if err != nil {
			return backendErr(err)
		}
		metrics.ClaimOutcomes.WithLabelValues(strings.ToLower(string(res.Outcome))).Inc()

		switch res.Outcome {
		case queue.ClaimBusy:
			return fmt.Errorf("%w: claim lost for %s", ErrConflictOwner, conversationID)
		case queue.ClaimMissing:
			if err := c.registry.Release(ctx, conversationID); err != nil {
				return backendErr(err)
			}
			return fmt.Errorf("%w: queue entry gone for %s", ErrNoLongerAvailable, conversationID)
		case queue.ClaimOwned, queue.ClaimClaimed:
			now := time.Now().UTC()
			conv.Agent = &agent
			conv.Status = models.StatusAssigned
			if conv.AcceptedAt == nil {
				conv.AcceptedAt = &now
			}
			conv.UpdatedAt = now
			if err := c.store.UpdateConversation(ctx, conv); err != nil {
				return backendErr(err)
			}
			if err := c.registry.Register(ctx, agent.ID, conversationID); err != nil {
				return backendErr(err)
			}
			if res.Outcome == queue.ClaimClaimed {
				claimed = true
				c.publisher.PublishAccepted(ctx, conv)
			}
			accepted = conv
			return nil
		default:
			return backendErr(fmt.Errorf("unexpected claim outcome %q", res.Outcome))
		}
	})
	if err != nil {
		return nil, err
	}

	if claimed {
		metrics.ConversationTransitions.WithLabelValues("accepted").Inc()
		c.refreshQueueDepth(ctx)
		slog.Info("Conversation accepted",
			"conversation_id", conversationID,
			"agent_id", agent.ID)
	} else {
		slog.Debug("Accept was idempotent",
			"conversation_id", conversationID,
			"agent_id", agent.ID)
	}
	return accepted, nil
}

// SendMessage validates, records, and announces one chat message. The sender
// identity is the caller's responsibility; SYSTEM senders are rejected here.
func (c *Coordinator) SendMessage(ctx context.Context, conversationID string, sender models.Participant, content string, msgType models.MessageType) (*models.Message, error) {
	if sender.ID == "" {
		return nil, NewValidationError("sender", "missing participant id")
	}
	if sender.Type != models.ParticipantCustomer && sender.Type != models.ParticipantAgent {
		return nil, NewValidationError("sender", fmt.Sprintf("unsupported sender type %q", sender.Type))
	}
	if msgType == "" {
		msgType = models.MessageText
	}
	if msgType != models.MessageText {
		return nil, NewValidationError("type", fmt.Sprintf("unsupported message type %q", msgType))
	}
	if strings.TrimSpace(content) == "" {
		return nil, NewValidationError("content", "must not be empty")
	}
	if len(content) > c.maxMessageBytes {
		return nil, NewValidationError("content", fmt.Sprintf("exceeds %d bytes", c.maxMessageBytes))
	}

	var msg *models.Message
	err := c.withConversationLock(ctx, conversationID, func(ctx context.Context) error {
		conv, err := c.loadConversation(ctx, conversationID)
		if err != nil {
			return err
		}
		if conv.Closed() {
			return fmt.Errorf("%w: %s", ErrAlreadyClosed, conversationID)
		}

		now := time.Now().UTC()
		msg = &models.Message{
			ID:             uuid.NewString(),
			ConversationID: conversationID,
			Sender:         sender,
			Type:           msgType,
			Content:        content,
			Timestamp:      now,
		}

		if err := c.tail.Append(ctx, msg); err != nil {
			return backendErr(err)
		}
		conv.UpdatedAt = now
		if err := c.store.UpdateConversation(ctx, conv); err != nil {
			return backendErr(err)
		}
		if err := c.store.CreateMessage(ctx, msg); err != nil {
			return backendErr(err)
		}
		if err := c.presence.MarkPresent(ctx, sender.ID); err != nil {
			return backendErr(err)
		}
		// Activity keeps the ownership lease alive.
		if conv.Status == models.StatusAssigned {
			if err := c.registry.ExtendLease(ctx, conversationID); err != nil {
				return backendErr(err)
			}
		}
		c.publisher.PublishMessage(ctx, msg)
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.MessagesTotal.WithLabelValues(strings.ToLower(string(sender.Type))).Inc()
	slog.Debug("Message recorded",
		"conversation_id", conversationID,
		"message_id", msg.ID,
		"sender_id", sender.ID)
	return msg, nil
}

// Close terminates the conversation, authoring a SYSTEM closure notice whose
// wording depends on who closed it. Closing a CLOSED conversation is
// idempotent and returns the current record.
func (c *Coordinator) Close(ctx context.Context, conversationID string, closedBy *models.Participant) (*models.Conversation, error) {
	var closed *models.Conversation
	var alreadyClosed bool
	err := c.withConversationLock(ctx, conversationID, func(ctx context.Context) error {
		conv, err := c.loadConversation(ctx, conversationID)
		if err != nil {
			return err
		}
		if conv.Closed() {
			closed = conv
			alreadyClosed = true
			return nil
		}

		now := time.Now().UTC()
		notice := &models.Message{
			ID:             uuid.NewString(),
			ConversationID: conversationID,
			Sender:         systemParticipant(),
			Type:           models.MessageSystem,
			Content:        closureNotice(closedBy),
			Timestamp:      now,
		}
		if err := c.tail.Append(ctx, notice); err != nil {
			return backendErr(err)
		}
		if err := c.store.CreateMessage(ctx, notice); err != nil {
			return backendErr(err)
		}

		conv.Status = models.StatusClosed
		conv.ClosedAt = &now
		conv.UpdatedAt = now
		if err := c.store.UpdateConversation(ctx, conv); err != nil {
			return backendErr(err)
		}

		if _, err := c.queue.Remove(ctx, conversationID); err != nil {
			return backendErr(err)
		}
		if err := c.releaseAssignment(ctx, conv); err != nil {
			return err
		}

		c.publisher.PublishMessage(ctx, notice)
		c.publisher.PublishClosed(ctx, conv, closedBy)
		closed = conv
		return nil
	})
	if err != nil {
		return nil, err
	}
	if alreadyClosed {
		return closed, nil
	}

	metrics.ConversationTransitions.WithLabelValues("closed").Inc()
	c.refreshQueueDepth(ctx)
	slog.Info("Conversation closed",
		"conversation_id", conversationID,
		"closed_by", closedByLabel(closedBy))
	return closed, nil
}

// closureNotice picks the notice wording for whoever ended the conversation.
func closureNotice(closedBy *models.Participant) string {
	switch {
	case closedBy != nil && closedBy.IsAgent():
		return fmt.Sprintf(noticeClosedByAgentFmt, closedBy.DisplayName)
	case closedBy != nil && closedBy.IsCustomer():
		return noticeClosedByCustomer
	default:
		return noticeClosedGeneric
	}
}

func closedByLabel(closedBy *models.Participant) string {
	if closedBy == nil {
		return "system"
	}
	return strings.ToLower(string(closedBy.Type))
}

// releaseAssignment drops the ownership lease and the agent's load entry.
func (c *Coordinator) releaseAssignment(ctx context.Context, conv *models.Conversation) error {
	if err := c.registry.Release(ctx, conv.ID); err != nil {
		return backendErr(err)
	}
	if conv.Agent != nil {
		if err := c.registry.Remove(ctx, conv.Agent.ID, conv.ID); err != nil {
			return backendErr(err)
		}
	}
	return nil
}

// refreshQueueDepth reports the current queue size. Best effort; a failed
// read leaves the gauge stale rather than failing the transition.
func (c *Coordinator) refreshQueueDepth(ctx context.Context) {
	size, err := c.queue.Size(ctx)
	if err != nil {
		return
	}
	metrics.QueueDepth.Set(float64(size))
}

// Get returns the authoritative conversation record.
func (c *Coordinator) Get(ctx context.Context, conversationID string) (*models.Conversation, error) {
	return c.loadConversation(ctx, conversationID)
}

// Messages returns the most recent messages in timestamp order, preferring
// the ephemeral tail and falling back to the audit store once the tail has
// expired.
func (c *Coordinator) Messages(ctx context.Context, conversationID string, limit int) ([]*models.Message, error) {
	if _, err := c.loadConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = c.tailLimit
	}

	msgs, err := c.tail.Recent(ctx, conversationID, limit)
	if err != nil {
		slog.Warn("Message tail read failed, falling back to audit store",
			"conversation_id", conversationID,
			"error", err)
	} else if len(msgs) > 0 {
		return msgs, nil
	}

	msgs, err = c.store.ListMessages(ctx, conversationID, limit)
	if err != nil {
		return nil, backendErr(err)
	}
	return msgs, nil
}

// AgentConversations lists the agent's conversations, optionally filtered by
// status, newest activity first.
func (c *Coordinator) AgentConversations(ctx context.Context, agentID string, statuses []models.ConversationStatus) ([]*models.Conversation, error) {
	if agentID == "" {
		return nil, NewValidationError("agent", "missing participant id")
	}
	convs, err := c.store.ListConversations(ctx, &database.FindConversations{
		AgentID:  &agentID,
		Statuses: statuses,
	})
	if err != nil {
		return nil, backendErr(err)
	}
	return convs, nil
}

// QueueSnapshot returns up to limit waiting entries in FIFO order.
func (c *Coordinator) QueueSnapshot(ctx context.Context, limit int) ([]models.QueueEntry, error) {
	entries, err := c.queue.List(ctx, limit)
	if err != nil {
		return nil, backendErr(err)
	}
	return entries, nil
}
