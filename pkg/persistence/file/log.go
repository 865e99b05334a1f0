package file

import (
	"context"
	"sort"

	"github.com/flowzap/flowzap/pkg/models"
	"github.com/flowzap/flowzap/pkg/persistence"
)

const logsDir = "logs"

// LogRepository stores append-only audit records as JSON documents.
type LogRepository struct {
	persistence *Persistence
}

func (lr *LogRepository) Append(_ context.Context, entry *models.LogEntry) error {
	lr.persistence.mu.Lock()
	defer lr.persistence.mu.Unlock()

	return lr.persistence.write(logsDir, entry.ID, entry)
}

func (lr *LogRepository) List(_ context.Context, filter persistence.LogFilter) ([]*models.LogEntry, error) {
	entries, err := lr.all()
	if err != nil {
		return nil, err
	}

	filtered := make([]*models.LogEntry, 0, len(entries))

	for _, entry := range entries {
		if filter.InstanceID != "" && entry.InstanceID != filter.InstanceID {
			continue
		}

		if filter.Contact != "" && entry.Contact != filter.Contact {
			continue
		}

		if filter.Direction != "" && entry.Direction != filter.Direction {
			continue
		}

		if filter.Status != "" && entry.Status != filter.Status {
			continue
		}

		filtered = append(filtered, entry)
	}

	if filter.Offset > 0 {
		if filter.Offset >= len(filtered) {
			return []*models.LogEntry{}, nil
		}

		filtered = filtered[filter.Offset:]
	}

	if filter.Limit > 0 && filter.Limit < len(filtered) {
		filtered = filtered[:filter.Limit]
	}

	return filtered, nil
}

func (lr *LogRepository) CountByVersion(_ context.Context, versionID string) (int, error) {
	entries, err := lr.all()
	if err != nil {
		return 0, err
	}

	count := 0

	for _, entry := range entries {
		if entry.FlowVersionID == versionID {
			count++
		}
	}

	return count, nil
}

// all loads every entry ordered oldest first, ties broken by id so the order
// is stable.
func (lr *LogRepository) all() ([]*models.LogEntry, error) {
	lr.persistence.mu.RLock()
	defer lr.persistence.mu.RUnlock()

	ids, err := lr.persistence.ids(logsDir)
	if err != nil {
		return nil, err
	}

	entries := make([]*models.LogEntry, 0, len(ids))

	for _, id := range ids {
		entry := &models.LogEntry{}

		err := lr.persistence.read(logsDir, id, entry, persistence.ErrSessionNotFound)
		if err != nil {
			return nil, err
		}

		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].ID < entries[j].ID
		}

		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})

	return entries, nil
}
