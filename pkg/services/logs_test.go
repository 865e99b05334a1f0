package services_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowzap/flowzap/pkg/audit"
	"github.com/flowzap/flowzap/pkg/models"
	"github.com/flowzap/flowzap/pkg/persistence/file"
	"github.com/flowzap/flowzap/pkg/services"
)

func TestLogs_ListFiltersAndDefaults(t *testing.T) {
	p := file.NewPersistence(t.TempDir())
	service := services.NewLogs(p)

	session := &models.Session{ID: "s1", InstanceID: "inst-1", Contact: "5511999990000", FlowVersionID: "v1"}

	require.NoError(t, p.Logs().Append(t.Context(), audit.NewInboundEntry(
		"inst-1", "5511999990000", "text", map[string]any{"text": "oi"}, models.LogStatusSuccess, "")))
	require.NoError(t, p.Logs().Append(t.Context(), audit.NewStepEntry(
		session, "m1", models.DirectionOutbound, "text", map[string]any{"text": "Olá!"}, models.LogStatusSuccess, "")))
	require.NoError(t, p.Logs().Append(t.Context(), audit.NewStepEntry(
		session, "m2", models.DirectionOutbound, "text", nil, models.LogStatusFailed, "gateway offline")))

	entries, err := service.List(t.Context(), services.ListLogsRequest{InstanceID: "inst-1"})
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	entries, err = service.List(t.Context(), services.ListLogsRequest{Direction: "outbound", Status: "failed"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "m2", entries[0].NodeID)

	count, err := service.CountByVersion(t.Context(), "v1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestLogs_ListRejectsBadFilters(t *testing.T) {
	service := services.NewLogs(file.NewPersistence(t.TempDir()))

	_, err := service.List(t.Context(), services.ListLogsRequest{Direction: "sideways"})
	require.Error(t, err)
	assert.True(t, services.IsValidationError(err))

	_, err = service.List(t.Context(), services.ListLogsRequest{Status: "maybe"})
	require.Error(t, err)
	assert.True(t, services.IsValidationError(err))
}
