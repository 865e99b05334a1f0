package session_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowzap/flowzap/pkg/log"
	"github.com/flowzap/flowzap/pkg/models"
	"github.com/flowzap/flowzap/pkg/persistence"
	"github.com/flowzap/flowzap/pkg/persistence/file"
	"github.com/flowzap/flowzap/pkg/session"
)

func newTestManager(t *testing.T) (*session.Manager, persistence.Persistence) {
	t.Helper()

	p := file.NewPersistence(t.TempDir())
	log.Setup("error")

	return session.NewManager(p, log.WithModule("test")), p
}

func triggerGraph(keywords ...string) *models.Graph {
	graph := &models.Graph{}

	for i, keyword := range keywords {
		graph.Nodes = append(graph.Nodes, &models.Node{
			ID:     "t" + string(rune('1'+i)),
			Kind:   models.NodeKindTrigger,
			Config: models.NodeConfig{Trigger: &models.TriggerConfig{Keyword: keyword}},
		})
	}

	return graph
}

func staticResolver(versions ...*models.FlowVersion) session.VersionResolver {
	return func(context.Context, *models.Instance) ([]*models.FlowVersion, error) {
		return versions, nil
	}
}

func TestMatchTrigger_ExactKeywordWinsOverMatchAny(t *testing.T) {
	graph := triggerGraph("", "Oi")

	matched := session.MatchTrigger(graph, "  oi ")
	require.NotNil(t, matched)
	assert.Equal(t, "t2", matched.ID)

	matched = session.MatchTrigger(graph, "qualquer coisa")
	require.NotNil(t, matched)
	assert.Equal(t, "t1", matched.ID)
}

func TestMatchTrigger_NoMatch(t *testing.T) {
	graph := triggerGraph("menu", "pedido")

	assert.Nil(t, session.MatchTrigger(graph, "oi"))
}

func TestFindOrCreate_StartsSessionOnTriggerMatch(t *testing.T) {
	manager, _ := newTestManager(t)

	instance := &models.Instance{ID: "inst-1", OrganizationID: "org-1"}
	version := &models.FlowVersion{ID: "v1", FlowID: "flow-1", VersionNumber: 1, Graph: triggerGraph("oi")}

	created, trigger, err := manager.FindOrCreate(t.Context(), instance, "5511999990000", "oi", staticResolver(version))
	require.NoError(t, err)
	require.NotNil(t, trigger)
	assert.Equal(t, "t1", trigger.ID)
	assert.Equal(t, "v1", created.FlowVersionID)
	assert.Equal(t, models.SessionStatusRunning, created.Status)

	// Same conversation again: reuse, no trigger.
	found, trigger, err := manager.FindOrCreate(t.Context(), instance, "5511999990000", "qualquer", staticResolver(version))
	require.NoError(t, err)
	assert.Nil(t, trigger)
	assert.Equal(t, created.ID, found.ID)
}

func TestFindOrCreate_NoMatchingTrigger(t *testing.T) {
	manager, _ := newTestManager(t)

	instance := &models.Instance{ID: "inst-1", OrganizationID: "org-1"}
	version := &models.FlowVersion{ID: "v1", FlowID: "flow-1", VersionNumber: 1, Graph: triggerGraph("menu")}

	_, _, err := manager.FindOrCreate(t.Context(), instance, "5511999990000", "oi", staticResolver(version))
	assert.ErrorIs(t, err, session.ErrNoMatchingTrigger)
}

func TestFindOrCreate_VersionPinnedAtCreation(t *testing.T) {
	manager, _ := newTestManager(t)

	instance := &models.Instance{ID: "inst-1", OrganizationID: "org-1"}
	v1 := &models.FlowVersion{ID: "v1", FlowID: "flow-1", VersionNumber: 1, Graph: triggerGraph("oi")}
	v2 := &models.FlowVersion{ID: "v2", FlowID: "flow-1", VersionNumber: 2, Graph: triggerGraph("oi")}

	created, _, err := manager.FindOrCreate(t.Context(), instance, "5511999990000", "oi", staticResolver(v1))
	require.NoError(t, err)
	assert.Equal(t, "v1", created.FlowVersionID)

	// A newer active version must not move the open session.
	found, _, err := manager.FindOrCreate(t.Context(), instance, "5511999990000", "oi", staticResolver(v2))
	require.NoError(t, err)
	assert.Equal(t, "v1", found.FlowVersionID)
}

func TestLock_SerializesConversation(t *testing.T) {
	manager, _ := newTestManager(t)

	key := models.SessionKey("inst-1", "5511999990000")

	release, err := manager.Lock(key)
	require.NoError(t, err)

	_, err = manager.Lock(key)
	assert.ErrorIs(t, err, session.ErrSessionBusy)

	// Other conversations are unaffected.
	otherRelease, err := manager.Lock(models.SessionKey("inst-1", "5511888880000"))
	require.NoError(t, err)

	otherRelease()
	release()

	release, err = manager.Lock(key)
	require.NoError(t, err)

	release()
}

func TestBindAndAdvance(t *testing.T) {
	s := &models.Session{ID: "s1"}

	session.Bind(s, "nome", "Maria")
	session.Bind(s, "nome", "João")

	assert.Equal(t, "João", s.Variables["nome"])

	session.Advance(s, "m2")
	assert.Equal(t, "m2", s.CurrentNodeID)
}
