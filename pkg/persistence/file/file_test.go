package file_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowzap/flowzap/pkg/models"
	"github.com/flowzap/flowzap/pkg/persistence"
	"github.com/flowzap/flowzap/pkg/persistence/file"
)

func newTestPersistence(t *testing.T) *file.Persistence {
	t.Helper()

	return file.NewPersistence(t.TempDir())
}

func testGraph(t *testing.T) *models.Graph {
	t.Helper()

	graph := &models.Graph{
		Nodes: []*models.Node{
			{ID: "t1", Kind: models.NodeKindTrigger, Config: models.NodeConfig{Trigger: &models.TriggerConfig{Keyword: "oi"}}},
			{ID: "m1", Kind: models.NodeKindMessage, Config: models.NodeConfig{Message: &models.MessageConfig{Text: "Olá!"}}},
		},
		Edges: []*models.Edge{
			{ID: "e1", SourceNode: "t1", SourcePort: models.DefaultPort, TargetNode: "m1"},
		},
	}

	require.NoError(t, graph.Validate())

	return graph
}

func TestFlowRepository_SaveAndGet(t *testing.T) {
	p := newTestPersistence(t)
	ctx := t.Context()

	flow := &models.Flow{
		ID:             "flow-1",
		OrganizationID: "org-1",
		Name:           "Boas-vindas",
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}

	require.NoError(t, p.Flows().Save(ctx, flow))

	loaded, err := p.Flows().GetByID(ctx, "flow-1")
	require.NoError(t, err)
	assert.Equal(t, "Boas-vindas", loaded.Name)

	_, err = p.Flows().GetByID(ctx, "missing")
	assert.ErrorIs(t, err, persistence.ErrFlowNotFound)
}

func TestFlowRepository_ListFiltersByOrganizationAndDeleted(t *testing.T) {
	p := newTestPersistence(t)
	ctx := t.Context()

	require.NoError(t, p.Flows().Save(ctx, &models.Flow{ID: "f1", OrganizationID: "org-1", Name: "Um", CreatedAt: time.Now().UTC()}))
	require.NoError(t, p.Flows().Save(ctx, &models.Flow{ID: "f2", OrganizationID: "org-2", Name: "Dois", CreatedAt: time.Now().UTC().Add(time.Second)}))
	require.NoError(t, p.Flows().Save(ctx, &models.Flow{ID: "f3", OrganizationID: "org-1", Name: "Três", CreatedAt: time.Now().UTC().Add(2 * time.Second)}))

	require.NoError(t, p.Flows().Delete(ctx, "f3"))

	flows, err := p.Flows().List(ctx, "org-1")
	require.NoError(t, err)
	require.Len(t, flows, 1)
	assert.Equal(t, "f1", flows[0].ID)

	_, err = p.Flows().GetByID(ctx, "f3")
	assert.ErrorIs(t, err, persistence.ErrFlowNotFound)
}

func TestVersionRepository_ActivateSwapsAtomically(t *testing.T) {
	p := newTestPersistence(t)
	ctx := t.Context()
	graph := testGraph(t)

	flow := &models.Flow{ID: "flow-1", OrganizationID: "org-1", Name: "Boas-vindas", CreatedAt: time.Now().UTC()}
	require.NoError(t, p.Flows().Save(ctx, flow))

	v1 := &models.FlowVersion{ID: "v1", FlowID: "flow-1", VersionNumber: 1, Graph: graph, CreatedAt: time.Now().UTC()}
	v2 := &models.FlowVersion{ID: "v2", FlowID: "flow-1", VersionNumber: 2, Graph: graph, CreatedAt: time.Now().UTC()}

	require.NoError(t, p.Versions().Save(ctx, v1))
	require.NoError(t, p.Versions().Save(ctx, v2))

	_, err := p.Versions().Active(ctx, "flow-1")
	assert.ErrorIs(t, err, persistence.ErrNoActiveVersion)

	require.NoError(t, p.Versions().Activate(ctx, "flow-1", "v1"))
	require.NoError(t, p.Versions().Activate(ctx, "flow-1", "v2"))

	active, err := p.Versions().Active(ctx, "flow-1")
	require.NoError(t, err)
	assert.Equal(t, "v2", active.ID)

	versions, err := p.Versions().ListByFlow(ctx, "flow-1")
	require.NoError(t, err)

	activeCount := 0

	for _, version := range versions {
		if version.IsActive {
			activeCount++
		}
	}

	assert.Equal(t, 1, activeCount)

	loaded, err := p.Flows().GetByID(ctx, "flow-1")
	require.NoError(t, err)
	assert.Equal(t, "v2", loaded.CurrentVersionID)
}

func TestVersionRepository_SaveRejectsDuplicates(t *testing.T) {
	p := newTestPersistence(t)
	ctx := t.Context()
	graph := testGraph(t)

	version := &models.FlowVersion{ID: "v1", FlowID: "flow-1", VersionNumber: 1, Graph: graph}

	require.NoError(t, p.Versions().Save(ctx, version))
	assert.ErrorIs(t, p.Versions().Save(ctx, version), persistence.ErrDuplicateVersion)
}

func TestVersionRepository_NextVersionNumber(t *testing.T) {
	p := newTestPersistence(t)
	ctx := t.Context()
	graph := testGraph(t)

	next, err := p.Versions().NextVersionNumber(ctx, "flow-1")
	require.NoError(t, err)
	assert.Equal(t, 1, next)

	require.NoError(t, p.Versions().Save(ctx, &models.FlowVersion{ID: "v1", FlowID: "flow-1", VersionNumber: 1, Graph: graph}))
	require.NoError(t, p.Versions().Save(ctx, &models.FlowVersion{ID: "v2", FlowID: "flow-1", VersionNumber: 2, Graph: graph}))

	next, err = p.Versions().NextVersionNumber(ctx, "flow-1")
	require.NoError(t, err)
	assert.Equal(t, 3, next)
}

func TestSessionRepository_FindOpenSkipsClosedSessions(t *testing.T) {
	p := newTestPersistence(t)
	ctx := t.Context()

	closed := &models.Session{
		ID:         "s1",
		InstanceID: "inst-1",
		Contact:    "5511999990000",
		Status:     models.SessionStatusCompleted,
	}
	open := &models.Session{
		ID:         "s2",
		InstanceID: "inst-1",
		Contact:    "5511999990000",
		Status:     models.SessionStatusWaiting,
	}

	require.NoError(t, p.Sessions().Save(ctx, closed))
	require.NoError(t, p.Sessions().Save(ctx, open))

	found, err := p.Sessions().FindOpen(ctx, "inst-1", "5511999990000")
	require.NoError(t, err)
	assert.Equal(t, "s2", found.ID)

	_, err = p.Sessions().FindOpen(ctx, "inst-1", "5511000000000")
	assert.ErrorIs(t, err, persistence.ErrSessionNotFound)
}

func TestSessionRepository_SaveStepPersistsSessionAndLog(t *testing.T) {
	p := newTestPersistence(t)
	ctx := t.Context()

	session := &models.Session{
		ID:            "s1",
		InstanceID:    "inst-1",
		Contact:       "5511999990000",
		FlowVersionID: "v1",
		CurrentNodeID: "m1",
		Status:        models.SessionStatusRunning,
	}
	entry := &models.LogEntry{
		ID:            "log-1",
		InstanceID:    "inst-1",
		FlowVersionID: "v1",
		NodeID:        "m1",
		Direction:     models.DirectionOutbound,
		Contact:       "5511999990000",
		Status:        models.LogStatusSuccess,
		CreatedAt:     time.Now().UTC(),
	}

	require.NoError(t, p.Sessions().SaveStep(ctx, session, entry))

	loaded, err := p.Sessions().GetByID(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "m1", loaded.CurrentNodeID)

	entries, err := p.Logs().List(ctx, persistence.LogFilter{InstanceID: "inst-1"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "log-1", entries[0].ID)
}

func TestWaitRepository_DueReturnsOnlyElapsedTimers(t *testing.T) {
	p := newTestPersistence(t)
	ctx := t.Context()
	now := time.Now().UTC()

	require.NoError(t, p.Waits().Save(ctx, &models.WaitTimer{SessionID: "s1", NodeID: "w1", DueAt: now.Add(-time.Minute)}))
	require.NoError(t, p.Waits().Save(ctx, &models.WaitTimer{SessionID: "s2", NodeID: "w1", DueAt: now.Add(time.Hour)}))

	due, err := p.Waits().Due(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "s1", due[0].SessionID)

	require.NoError(t, p.Waits().Delete(ctx, "s1"))

	_, err = p.Waits().Get(ctx, "s1")
	assert.ErrorIs(t, err, persistence.ErrWaitNotFound)
}

func TestLogRepository_ListFiltersAndPaginates(t *testing.T) {
	p := newTestPersistence(t)
	ctx := t.Context()
	base := time.Now().UTC()

	entries := []*models.LogEntry{
		{ID: "l1", InstanceID: "inst-1", Contact: "a", Direction: models.DirectionInbound, Status: models.LogStatusSuccess, CreatedAt: base},
		{ID: "l2", InstanceID: "inst-1", Contact: "a", Direction: models.DirectionOutbound, Status: models.LogStatusSuccess, CreatedAt: base.Add(time.Second)},
		{ID: "l3", InstanceID: "inst-2", Contact: "b", Direction: models.DirectionOutbound, Status: models.LogStatusFailed, CreatedAt: base.Add(2 * time.Second)},
	}

	for _, entry := range entries {
		require.NoError(t, p.Logs().Append(ctx, entry))
	}

	inbound, err := p.Logs().List(ctx, persistence.LogFilter{Direction: models.DirectionInbound})
	require.NoError(t, err)
	require.Len(t, inbound, 1)
	assert.Equal(t, "l1", inbound[0].ID)

	failed, err := p.Logs().List(ctx, persistence.LogFilter{Status: models.LogStatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "l3", failed[0].ID)

	page, err := p.Logs().List(ctx, persistence.LogFilter{InstanceID: "inst-1", Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "l2", page[0].ID)
}

func TestInstanceRepository_CRUD(t *testing.T) {
	p := newTestPersistence(t)
	ctx := t.Context()

	instance := &models.Instance{
		ID:             "inst-1",
		OrganizationID: "org-1",
		Name:           "Atendimento",
		Status:         models.InstanceStatusDisconnected,
		CreatedAt:      time.Now().UTC(),
	}

	require.NoError(t, p.Instances().Save(ctx, instance))

	loaded, err := p.Instances().GetByID(ctx, "inst-1")
	require.NoError(t, err)
	assert.Equal(t, "Atendimento", loaded.Name)

	instances, err := p.Instances().List(ctx, "org-1")
	require.NoError(t, err)
	assert.Len(t, instances, 1)

	require.NoError(t, p.Instances().Delete(ctx, "inst-1"))

	_, err = p.Instances().GetByID(ctx, "inst-1")
	assert.ErrorIs(t, err, persistence.ErrInstanceNotFound)
}

func TestPersistence_HealthCheck(t *testing.T) {
	p := newTestPersistence(t)

	require.NoError(t, p.HealthCheck(t.Context()))
	require.NoError(t, p.Close(t.Context()))
}
