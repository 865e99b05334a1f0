// Package session manages per-conversation execution state: one open session
// per (instance, contact) pair, pinned to the flow version it started on.
package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowzap/flowzap/pkg/models"
	"github.com/flowzap/flowzap/pkg/persistence"
)

var (
	// ErrSessionBusy means another event for the same conversation is being
	// processed right now. The caller should retry or requeue.
	ErrSessionBusy = errors.New("session is busy")

	// ErrNoMatchingTrigger means no active flow wants to start a session for
	// this message.
	ErrNoMatchingTrigger = errors.New("no trigger matches the message")
)

// VersionResolver returns the candidate active flow versions for an
// instance, in flow creation order. The first version with a matching
// trigger wins.
type VersionResolver func(ctx context.Context, instance *models.Instance) ([]*models.FlowVersion, error)

// Manager owns session lookup, creation, and per-conversation locking.
type Manager struct {
	persistence persistence.Persistence
	logger      *slog.Logger

	mu     sync.Mutex
	locked map[string]bool
}

func NewManager(p persistence.Persistence, logger *slog.Logger) *Manager {
	return &Manager{
		persistence: p,
		logger:      logger.With("module", "session"),
		locked:      make(map[string]bool),
	}
}

// Lock acquires the conversation lock without blocking. It returns the
// release function, or ErrSessionBusy when the conversation is already being
// processed. Events for distinct conversations proceed in parallel.
func (m *Manager) Lock(key string) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.locked[key] {
		return nil, ErrSessionBusy
	}

	m.locked[key] = true

	return func() {
		m.mu.Lock()
		delete(m.locked, key)
		m.mu.Unlock()
	}, nil
}

// FindOrCreate returns the conversation's open session, or starts a new one
// when an active flow version has a trigger matching the message text. The
// returned node is the matched trigger for new sessions and nil for resumed
// ones.
func (m *Manager) FindOrCreate(ctx context.Context, instance *models.Instance, contact, text string, resolver VersionResolver) (*models.Session, *models.Node, error) {
	session, err := m.persistence.Sessions().FindOpen(ctx, instance.ID, contact)
	if err == nil {
		return session, nil, nil
	}

	if !errors.Is(err, persistence.ErrSessionNotFound) {
		return nil, nil, err
	}

	versions, err := resolver(ctx, instance)
	if err != nil {
		return nil, nil, err
	}

	for _, version := range versions {
		trigger := MatchTrigger(version.Graph, text)
		if trigger == nil {
			continue
		}

		now := time.Now().UTC()
		session = &models.Session{
			ID:            uuid.New().String(),
			InstanceID:    instance.ID,
			Contact:       contact,
			FlowVersionID: version.ID,
			CurrentNodeID: trigger.ID,
			Variables:     make(map[string]string),
			Status:        models.SessionStatusRunning,
			CreatedAt:     now,
			UpdatedAt:     now,
		}

		err = m.persistence.Sessions().Save(ctx, session)
		if err != nil {
			return nil, nil, err
		}

		m.logger.InfoContext(ctx, "Started session",
			"session_id", session.ID, "instance_id", instance.ID,
			"contact", contact, "flow_version_id", version.ID, "trigger_id", trigger.ID)

		return session, trigger, nil
	}

	return nil, nil, ErrNoMatchingTrigger
}

// Get returns a session by id.
func (m *Manager) Get(ctx context.Context, id string) (*models.Session, error) {
	return m.persistence.Sessions().GetByID(ctx, id)
}

// MatchTrigger picks the trigger that should fire for the message: exact
// keyword match first (trimmed, case-insensitive), then the first match-any
// trigger (empty keyword). Returns nil when nothing matches.
func MatchTrigger(graph *models.Graph, text string) *models.Node {
	trimmed := strings.TrimSpace(text)

	var fallback *models.Node

	for _, trigger := range graph.Triggers() {
		if trigger.Config.Trigger == nil {
			continue
		}

		keyword := strings.TrimSpace(trigger.Config.Trigger.Keyword)
		if keyword == "" {
			if fallback == nil {
				fallback = trigger
			}

			continue
		}

		if strings.EqualFold(keyword, trimmed) {
			return trigger
		}
	}

	return fallback
}

// Bind sets a session variable. Later writes win over earlier ones.
func Bind(session *models.Session, name, value string) {
	if session.Variables == nil {
		session.Variables = make(map[string]string)
	}

	session.Variables[name] = value
}

// Advance moves the session cursor to the given node.
func Advance(session *models.Session, nodeID string) {
	session.CurrentNodeID = nodeID
	session.UpdatedAt = time.Now().UTC()
}
