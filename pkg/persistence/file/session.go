package file

import (
	"context"
	"time"

	"github.com/flowzap/flowzap/pkg/models"
	"github.com/flowzap/flowzap/pkg/persistence"
)

const (
	sessionsDir = "sessions"
	waitsDir    = "waits"
)

// SessionRepository stores conversation sessions as JSON documents.
type SessionRepository struct {
	persistence *Persistence
}

func (sr *SessionRepository) GetByID(_ context.Context, id string) (*models.Session, error) {
	sr.persistence.mu.RLock()
	defer sr.persistence.mu.RUnlock()

	session := &models.Session{}

	err := sr.persistence.read(sessionsDir, id, session, persistence.ErrSessionNotFound)
	if err != nil {
		return nil, err
	}

	return session, nil
}

func (sr *SessionRepository) FindOpen(_ context.Context, instanceID, contact string) (*models.Session, error) {
	sr.persistence.mu.RLock()
	defer sr.persistence.mu.RUnlock()

	ids, err := sr.persistence.ids(sessionsDir)
	if err != nil {
		return nil, err
	}

	for _, id := range ids {
		session := &models.Session{}

		err := sr.persistence.read(sessionsDir, id, session, persistence.ErrSessionNotFound)
		if err != nil {
			return nil, err
		}

		if session.InstanceID == instanceID && session.Contact == contact && session.Open() {
			return session, nil
		}
	}

	return nil, persistence.ErrSessionNotFound
}

func (sr *SessionRepository) Save(_ context.Context, session *models.Session) error {
	sr.persistence.mu.Lock()
	defer sr.persistence.mu.Unlock()

	return sr.persistence.write(sessionsDir, session.ID, session)
}

// SaveStep persists the session and its log entry under one lock so a step
// is never half-recorded within the process.
func (sr *SessionRepository) SaveStep(_ context.Context, session *models.Session, entry *models.LogEntry) error {
	sr.persistence.mu.Lock()
	defer sr.persistence.mu.Unlock()

	err := sr.persistence.write(sessionsDir, session.ID, session)
	if err != nil {
		return persistence.NewSessionError(session.ID, "save step", err)
	}

	if entry != nil {
		err = sr.persistence.write(logsDir, entry.ID, entry)
		if err != nil {
			return persistence.NewSessionError(session.ID, "save step log", err)
		}
	}

	return nil
}

// WaitRepository stores durable wait timers keyed by session id.
type WaitRepository struct {
	persistence *Persistence
}

func (wr *WaitRepository) Save(_ context.Context, timer *models.WaitTimer) error {
	wr.persistence.mu.Lock()
	defer wr.persistence.mu.Unlock()

	return wr.persistence.write(waitsDir, timer.SessionID, timer)
}

func (wr *WaitRepository) Get(_ context.Context, sessionID string) (*models.WaitTimer, error) {
	wr.persistence.mu.RLock()
	defer wr.persistence.mu.RUnlock()

	timer := &models.WaitTimer{}

	err := wr.persistence.read(waitsDir, sessionID, timer, persistence.ErrWaitNotFound)
	if err != nil {
		return nil, err
	}

	return timer, nil
}

func (wr *WaitRepository) Delete(_ context.Context, sessionID string) error {
	wr.persistence.mu.Lock()
	defer wr.persistence.mu.Unlock()

	return wr.persistence.remove(waitsDir, sessionID, persistence.ErrWaitNotFound)
}

func (wr *WaitRepository) Due(_ context.Context, now time.Time) ([]*models.WaitTimer, error) {
	wr.persistence.mu.RLock()
	defer wr.persistence.mu.RUnlock()

	ids, err := wr.persistence.ids(waitsDir)
	if err != nil {
		return nil, err
	}

	due := make([]*models.WaitTimer, 0)

	for _, id := range ids {
		timer := &models.WaitTimer{}

		err := wr.persistence.read(waitsDir, id, timer, persistence.ErrWaitNotFound)
		if err != nil {
			return nil, err
		}

		if !timer.DueAt.After(now) {
			due = append(due, timer)
		}
	}

	return due, nil
}
