package services

import (
	"context"

	"github.com/flowzap/flowzap/pkg/models"
	"github.com/flowzap/flowzap/pkg/persistence"
)

const (
	defaultLogLimit = 50
	maxLogLimit     = 200
)

// Logs is the read side of the audit log, backing the log viewer.
type Logs struct {
	persistence persistence.Persistence
}

func NewLogs(p persistence.Persistence) *Logs {
	return &Logs{persistence: p}
}

// ListLogsRequest filters the log viewer query. Zero values mean no filter.
type ListLogsRequest struct {
	InstanceID string `json:"instance_id"`
	Contact    string `json:"contact"`
	Direction  string `json:"direction"`
	Status     string `json:"status"`
	Limit      int    `json:"limit"`
	Offset     int    `json:"offset"`
}

// List returns matching log entries, oldest first.
func (s *Logs) List(ctx context.Context, req ListLogsRequest) ([]*models.LogEntry, error) {
	filter, err := s.buildFilter(&req)
	if err != nil {
		return nil, err
	}

	return s.persistence.Logs().List(ctx, filter)
}

// CountByVersion reports how many log entries reference a flow version. A
// non-zero count blocks hard-deleting that version.
func (s *Logs) CountByVersion(ctx context.Context, versionID string) (int, error) {
	return s.persistence.Logs().CountByVersion(ctx, versionID)
}

func (s *Logs) buildFilter(req *ListLogsRequest) (persistence.LogFilter, error) {
	if req.Limit <= 0 {
		req.Limit = defaultLogLimit
	}

	if req.Limit > maxLogLimit {
		req.Limit = maxLogLimit
	}

	if req.Offset < 0 {
		req.Offset = 0
	}

	switch req.Direction {
	case "", string(models.DirectionInbound), string(models.DirectionOutbound):
	default:
		return persistence.LogFilter{}, NewValidationError("ListLogs", "INVALID_DIRECTION",
			"direction must be inbound or outbound", ErrInvalidDirection)
	}

	switch req.Status {
	case "", string(models.LogStatusSuccess), string(models.LogStatusFailed), string(models.LogStatusPending):
	default:
		return persistence.LogFilter{}, NewValidationError("ListLogs", "INVALID_STATUS",
			"status must be success, failed, or pending", ErrInvalidLogStatus)
	}

	return persistence.LogFilter{
		InstanceID: req.InstanceID,
		Contact:    req.Contact,
		Direction:  models.Direction(req.Direction),
		Status:     models.LogStatus(req.Status),
		Limit:      req.Limit,
		Offset:     req.Offset,
	}, nil
}
