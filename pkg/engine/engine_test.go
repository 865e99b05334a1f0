package engine_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowzap/flowzap/pkg/audit"
	"github.com/flowzap/flowzap/pkg/engine"
	"github.com/flowzap/flowzap/pkg/eventbus"
	"github.com/flowzap/flowzap/pkg/events"
	"github.com/flowzap/flowzap/pkg/log"
	"github.com/flowzap/flowzap/pkg/models"
	"github.com/flowzap/flowzap/pkg/persistence"
	"github.com/flowzap/flowzap/pkg/persistence/file"
	"github.com/flowzap/flowzap/pkg/session"
	"github.com/flowzap/flowzap/pkg/testutil"
)

type sentMessage struct {
	instance string
	to       string
	kind     string
	content  string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMessage
	fail error
}

func (f *fakeSender) SendText(_ context.Context, instance, to, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fail != nil {
		return f.fail
	}

	f.sent = append(f.sent, sentMessage{instance: instance, to: to, kind: "text", content: text})

	return nil
}

func (f *fakeSender) SendMedia(_ context.Context, instance, to, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fail != nil {
		return f.fail
	}

	f.sent = append(f.sent, sentMessage{instance: instance, to: to, kind: "media", content: url})

	return nil
}

func (f *fakeSender) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]sentMessage(nil), f.sent...)
}

type capturePublisher struct {
	mu        sync.Mutex
	published []eventbus.Event
}

func (c *capturePublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.published = append(c.published, event)

	return nil
}

func (c *capturePublisher) events() []eventbus.Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]eventbus.Event(nil), c.published...)
}

func newTestEngine(t *testing.T) (*engine.Engine, persistence.Persistence, *fakeSender) {
	t.Helper()

	e, p, sender, _ := newTestEngineWithBus(t)

	return e, p, sender
}

func newTestEngineWithBus(t *testing.T) (*engine.Engine, persistence.Persistence, *fakeSender, *capturePublisher) {
	t.Helper()

	p := file.NewPersistence(t.TempDir())
	sender := &fakeSender{}
	bus := &capturePublisher{}

	log.Setup("error")
	logger := log.WithModule("test")

	e := engine.New(engine.Config{
		Persistence: p,
		Sessions:    session.NewManager(p, logger),
		Sender:      sender,
		Recorder:    audit.NewRecorder(p, logger),
		Publisher:   bus,
		Logger:      logger,
	})

	return e, p, sender, bus
}

func seedInstance(t *testing.T, p persistence.Persistence) *models.Instance {
	t.Helper()

	instance := &models.Instance{
		ID:             "inst-1",
		OrganizationID: "org-1",
		Name:           "Atendimento",
		ExternalID:     "atendimento-01",
		Status:         models.InstanceStatusConnected,
	}
	require.NoError(t, p.Instances().Save(t.Context(), instance))

	return instance
}

func seedActiveFlow(t *testing.T, p persistence.Persistence, graph *models.Graph) *models.FlowVersion {
	t.Helper()

	flow := &models.Flow{ID: "flow-1", OrganizationID: "org-1", Name: "Boas-vindas"}
	require.NoError(t, p.Flows().Save(t.Context(), flow))

	version := &models.FlowVersion{
		ID:            "v1",
		FlowID:        flow.ID,
		VersionNumber: 1,
		Graph:         graph,
		CreatedAt:     time.Now().UTC(),
	}
	require.NoError(t, p.Versions().Save(t.Context(), version))
	require.NoError(t, p.Versions().Activate(t.Context(), flow.ID, version.ID))

	return version
}

func inboundText(text string) *events.InboundReceived {
	return &events.InboundReceived{
		BaseEvent:   events.NewBaseEvent(events.InboundReceivedEvent, "inst-1"),
		Contact:     "5511999990000",
		MessageType: "text",
		Text:        text,
	}
}

func openSession(t *testing.T, p persistence.Persistence) *models.Session {
	t.Helper()

	sess, err := p.Sessions().FindOpen(t.Context(), "inst-1", "5511999990000")
	require.NoError(t, err)

	return sess
}

func allEntries(t *testing.T, p persistence.Persistence) []*models.LogEntry {
	t.Helper()

	entries, err := p.Logs().List(t.Context(), persistence.LogFilter{InstanceID: "inst-1"})
	require.NoError(t, err)

	return entries
}

func TestHandleInbound_GreetingFlowSequence(t *testing.T) {
	e, p, sender := newTestEngine(t)
	seedInstance(t, p)
	seedActiveFlow(t, p, &models.Graph{
		Nodes: []*models.Node{
			testutil.TriggerNode("t1", "oi"),
			testutil.MessageNode("m1", "Bem-vindo! Deseja continuar?"),
			testutil.ConditionNode("c1", models.ConditionOption{ID: "1", Label: "Sim"}, models.ConditionOption{ID: "2", Label: "Não"}),
			testutil.MessageNode("m2", "Confirmado!"),
			testutil.MessageNode("m3", "Até logo."),
		},
		Edges: []*models.Edge{
			testutil.Edge("e1", "t1", "", "m1"),
			testutil.Edge("e2", "m1", "", "c1"),
			testutil.Edge("e3", "c1", "1", "m2"),
			testutil.Edge("e4", "c1", "2", "m3"),
		},
	})

	require.NoError(t, e.HandleInbound(t.Context(), inboundText("oi")))

	sess := openSession(t, p)
	assert.Equal(t, models.SessionStatusRunning, sess.Status)
	assert.Equal(t, "c1", sess.CurrentNodeID)

	require.NoError(t, e.HandleInbound(t.Context(), inboundText("Sim")))

	closed, err := p.Sessions().GetByID(t.Context(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusCompleted, closed.Status)

	sent := sender.messages()
	require.Len(t, sent, 2)
	assert.Equal(t, "atendimento-01", sent[0].instance)
	assert.Equal(t, "Bem-vindo! Deseja continuar?", sent[0].content)
	assert.Equal(t, "Confirmado!", sent[1].content)

	entries := allEntries(t, p)
	require.Len(t, entries, 3)

	assert.Equal(t, "m1", entries[0].NodeID)
	assert.Equal(t, models.DirectionOutbound, entries[0].Direction)

	assert.Equal(t, "c1", entries[1].NodeID)
	assert.Equal(t, models.DirectionInbound, entries[1].Direction)
	assert.Equal(t, "1", entries[1].Content["option_id"])

	assert.Equal(t, "m2", entries[2].NodeID)
	assert.Equal(t, models.DirectionOutbound, entries[2].Direction)
}

func TestHandleInbound_UnmatchedReplyHoldsAtCondition(t *testing.T) {
	e, p, sender := newTestEngine(t)
	seedInstance(t, p)
	seedActiveFlow(t, p, &models.Graph{
		Nodes: []*models.Node{
			testutil.TriggerNode("t1", ""),
			testutil.ConditionNode("c1", models.ConditionOption{ID: "1", Label: "Sim"}),
			testutil.MessageNode("m1", "Confirmado!"),
		},
		Edges: []*models.Edge{
			testutil.Edge("e1", "t1", "", "c1"),
			testutil.Edge("e2", "c1", "1", "m1"),
		},
	})

	require.NoError(t, e.HandleInbound(t.Context(), inboundText("oi")))
	require.NoError(t, e.HandleInbound(t.Context(), inboundText("Talvez")))

	sess := openSession(t, p)
	assert.Equal(t, models.SessionStatusRunning, sess.Status)
	assert.Equal(t, "c1", sess.CurrentNodeID)
	assert.Empty(t, sender.messages())

	entries := allEntries(t, p)
	require.Len(t, entries, 1)
	assert.Equal(t, models.LogStatusPending, entries[0].Status)
	assert.Contains(t, entries[0].ErrorMessage, "no option matches")

	// A matching reply is accepted case-insensitively.
	require.NoError(t, e.HandleInbound(t.Context(), inboundText("  sim ")))
	require.Len(t, sender.messages(), 1)
}

func TestHandleInbound_NoTriggerIsAuditedAndDropped(t *testing.T) {
	e, p, _ := newTestEngine(t)
	seedInstance(t, p)
	seedActiveFlow(t, p, &models.Graph{
		Nodes: []*models.Node{testutil.TriggerNode("t1", "menu"), testutil.MessageNode("m1", "Menu")},
		Edges: []*models.Edge{testutil.Edge("e1", "t1", "", "m1")},
	})

	require.NoError(t, e.HandleInbound(t.Context(), inboundText("bom dia")))

	_, err := p.Sessions().FindOpen(t.Context(), "inst-1", "5511999990000")
	assert.ErrorIs(t, err, persistence.ErrSessionNotFound)

	entries := allEntries(t, p)
	require.Len(t, entries, 1)
	assert.Equal(t, models.DirectionInbound, entries[0].Direction)
	assert.Equal(t, models.LogStatusPending, entries[0].Status)
	assert.Contains(t, entries[0].ErrorMessage, "no trigger matches")
}

func TestHandleInbound_InboundCancelsWait(t *testing.T) {
	e, p, sender := newTestEngine(t)
	seedInstance(t, p)
	seedActiveFlow(t, p, &models.Graph{
		Nodes: []*models.Node{
			testutil.TriggerNode("t1", ""),
			testutil.WaitNode("w1", 3600),
			testutil.MessageNode("m1", "Ainda está aí?"),
		},
		Edges: []*models.Edge{
			testutil.Edge("e1", "t1", "", "w1"),
			testutil.Edge("e2", "w1", "", "m1"),
		},
	})

	require.NoError(t, e.HandleInbound(t.Context(), inboundText("oi")))

	sess := openSession(t, p)
	assert.Equal(t, models.SessionStatusWaiting, sess.Status)

	timer, err := p.Waits().Get(t.Context(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "w1", timer.NodeID)

	require.NoError(t, e.HandleInbound(t.Context(), inboundText("cheguei")))

	_, err = p.Waits().Get(t.Context(), sess.ID)
	assert.ErrorIs(t, err, persistence.ErrWaitNotFound)

	closed, err := p.Sessions().GetByID(t.Context(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusCompleted, closed.Status)

	require.Len(t, sender.messages(), 1)
	assert.Equal(t, "Ainda está aí?", sender.messages()[0].content)
}

func TestResumeDueWaits(t *testing.T) {
	e, p, sender := newTestEngine(t)
	seedInstance(t, p)
	seedActiveFlow(t, p, &models.Graph{
		Nodes: []*models.Node{
			testutil.TriggerNode("t1", ""),
			testutil.WaitNode("w1", 0),
			testutil.MessageNode("m1", "Voltamos!"),
		},
		Edges: []*models.Edge{
			testutil.Edge("e1", "t1", "", "w1"),
			testutil.Edge("e2", "w1", "", "m1"),
		},
	})

	require.NoError(t, e.HandleInbound(t.Context(), inboundText("oi")))

	sess := openSession(t, p)
	assert.Equal(t, models.SessionStatusWaiting, sess.Status)

	resumed, err := e.ResumeDueWaits(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, resumed)

	closed, err := p.Sessions().GetByID(t.Context(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusCompleted, closed.Status)

	require.Len(t, sender.messages(), 1)

	// Second sweep has nothing to do.
	resumed, err = e.ResumeDueWaits(t.Context())
	require.NoError(t, err)
	assert.Zero(t, resumed)
}

func TestHumanHandoffLifecycle(t *testing.T) {
	e, p, sender := newTestEngine(t)
	seedInstance(t, p)
	seedActiveFlow(t, p, &models.Graph{
		Nodes: []*models.Node{
			testutil.TriggerNode("t1", ""),
			testutil.HumanNode("h1", "Cliente pediu atendente"),
			testutil.MessageNode("m1", "Obrigado pelo contato!"),
		},
		Edges: []*models.Edge{
			testutil.Edge("e1", "t1", "", "h1"),
			testutil.Edge("e2", "h1", "", "m1"),
		},
	})

	require.NoError(t, e.HandleInbound(t.Context(), inboundText("falar com atendente")))

	sess := openSession(t, p)
	assert.Equal(t, models.SessionStatusAwaitingHuman, sess.Status)

	// Events during handoff are audited but do not move the session.
	require.NoError(t, e.HandleInbound(t.Context(), inboundText("alguém aí?")))

	held := openSession(t, p)
	assert.Equal(t, models.SessionStatusAwaitingHuman, held.Status)
	assert.Empty(t, sender.messages())

	require.NoError(t, e.ResumeHuman(t.Context(), sess.ID, "maria"))

	closed, err := p.Sessions().GetByID(t.Context(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusCompleted, closed.Status)
	require.Len(t, sender.messages(), 1)

	err = e.ResumeHuman(t.Context(), sess.ID, "maria")
	assert.ErrorIs(t, err, engine.ErrNotAwaitingHuman)
}

func TestHTTPNodeBindsResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		_, _ = w.Write([]byte("R$ 42,00"))
	}))
	t.Cleanup(server.Close)

	e, p, sender := newTestEngine(t)
	seedInstance(t, p)
	seedActiveFlow(t, p, &models.Graph{
		Nodes: []*models.Node{
			testutil.TriggerNode("t1", ""),
			{ID: "h1", Kind: models.NodeKindHTTP, Config: models.NodeConfig{HTTP: &models.HTTPConfig{
				URL: server.URL, Method: "GET", ResponseVar: "cotacao",
			}}},
			testutil.MessageNode("m1", "Valor de hoje: {{.cotacao}}"),
		},
		Edges: []*models.Edge{
			testutil.Edge("e1", "t1", "", "h1"),
			testutil.Edge("e2", "h1", "", "m1"),
		},
	})

	require.NoError(t, e.HandleInbound(t.Context(), inboundText("cotação")))

	sent := sender.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, "Valor de hoje: R$ 42,00", sent[0].content)

	entries := allEntries(t, p)
	require.Len(t, entries, 2)
	assert.Equal(t, "http", entries[0].MessageType)
	// The file store round-trips content through JSON, so numbers come
	// back as float64.
	assert.EqualValues(t, http.StatusOK, entries[0].Content["status_code"])
}

func TestHTTPNodeFailureErrorsSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	e, p, sender, bus := newTestEngineWithBus(t)
	seedInstance(t, p)
	seedActiveFlow(t, p, &models.Graph{
		Nodes: []*models.Node{
			testutil.TriggerNode("t1", ""),
			{ID: "h1", Kind: models.NodeKindHTTP, Config: models.NodeConfig{HTTP: &models.HTTPConfig{
				URL: server.URL, Method: "POST", Payload: `{"contact":"{{.contact}}"}`,
			}}},
			testutil.MessageNode("m1", "nunca enviado"),
		},
		Edges: []*models.Edge{
			testutil.Edge("e1", "t1", "", "h1"),
			testutil.Edge("e2", "h1", "", "m1"),
		},
	})

	require.NoError(t, e.HandleInbound(t.Context(), inboundText("oi")))

	_, err := p.Sessions().FindOpen(t.Context(), "inst-1", "5511999990000")
	assert.ErrorIs(t, err, persistence.ErrSessionNotFound)

	// The walk stops at the failed step: nothing after the http node runs.
	assert.Empty(t, sender.messages())

	entries := allEntries(t, p)
	require.Len(t, entries, 1)
	assert.Equal(t, models.LogStatusFailed, entries[0].Status)
	assert.Contains(t, entries[0].ErrorMessage, "status 500")

	var failed *events.SessionFailed

	for _, ev := range bus.events() {
		if f, ok := ev.(events.SessionFailed); ok {
			failed = &f
		}

		_, completed := ev.(events.SessionCompleted)
		assert.False(t, completed, "errored session must not complete")
	}

	require.NotNil(t, failed)
	assert.Equal(t, "h1", failed.NodeID)

	sess, err := p.Sessions().GetByID(t.Context(), failed.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusErrored, sess.Status)
}

func TestSendFailureErrorsSession(t *testing.T) {
	e, p, sender := newTestEngine(t)
	sender.fail = assert.AnError

	seedInstance(t, p)
	seedActiveFlow(t, p, &models.Graph{
		Nodes: []*models.Node{testutil.TriggerNode("t1", ""), testutil.MessageNode("m1", "Olá!")},
		Edges: []*models.Edge{testutil.Edge("e1", "t1", "", "m1")},
	})

	require.NoError(t, e.HandleInbound(t.Context(), inboundText("oi")))

	_, err := p.Sessions().FindOpen(t.Context(), "inst-1", "5511999990000")
	assert.ErrorIs(t, err, persistence.ErrSessionNotFound)

	entries := allEntries(t, p)
	require.Len(t, entries, 1)
	assert.Equal(t, "m1", entries[0].NodeID)
	assert.Equal(t, models.LogStatusFailed, entries[0].Status)
}

func TestVariableNodeFeedsLaterMessages(t *testing.T) {
	e, p, sender := newTestEngine(t)
	seedInstance(t, p)
	seedActiveFlow(t, p, &models.Graph{
		Nodes: []*models.Node{
			testutil.TriggerNode("t1", ""),
			{ID: "v1", Kind: models.NodeKindVariable, Config: models.NodeConfig{Variable: &models.VariableConfig{
				Name: "saudacao", Value: "Bom dia",
			}}},
			testutil.MessageNode("m1", "{{.saudacao}}! Como posso ajudar?"),
		},
		Edges: []*models.Edge{
			testutil.Edge("e1", "t1", "", "v1"),
			testutil.Edge("e2", "v1", "", "m1"),
		},
	})

	require.NoError(t, e.HandleInbound(t.Context(), inboundText("oi")))

	sent := sender.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, "Bom dia! Como posso ajudar?", sent[0].content)
}

func TestTerminate(t *testing.T) {
	e, p, _ := newTestEngine(t)
	seedInstance(t, p)
	seedActiveFlow(t, p, &models.Graph{
		Nodes: []*models.Node{
			testutil.TriggerNode("t1", ""),
			testutil.WaitNode("w1", 3600),
			testutil.MessageNode("m1", "Ainda está aí?"),
		},
		Edges: []*models.Edge{
			testutil.Edge("e1", "t1", "", "w1"),
			testutil.Edge("e2", "w1", "", "m1"),
		},
	})

	require.NoError(t, e.HandleInbound(t.Context(), inboundText("oi")))

	sess := openSession(t, p)
	require.NoError(t, e.Terminate(t.Context(), sess.ID, "maria"))

	closed, err := p.Sessions().GetByID(t.Context(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusErrored, closed.Status)

	_, err = p.Waits().Get(t.Context(), sess.ID)
	assert.ErrorIs(t, err, persistence.ErrWaitNotFound)

	err = e.Terminate(t.Context(), sess.ID, "maria")
	assert.ErrorIs(t, err, engine.ErrSessionClosed)
}

func TestClosedSessionStartsFresh(t *testing.T) {
	e, p, sender := newTestEngine(t)
	seedInstance(t, p)
	seedActiveFlow(t, p, &models.Graph{
		Nodes: []*models.Node{testutil.TriggerNode("t1", ""), testutil.MessageNode("m1", "Olá!")},
		Edges: []*models.Edge{testutil.Edge("e1", "t1", "", "m1")},
	})

	require.NoError(t, e.HandleInbound(t.Context(), inboundText("oi")))
	require.NoError(t, e.HandleInbound(t.Context(), inboundText("oi de novo")))

	// Two separate sessions ran to completion.
	require.Len(t, sender.messages(), 2)

	entries := allEntries(t, p)
	require.Len(t, entries, 2)
	assert.Equal(t, "m1", entries[0].NodeID)
	assert.Equal(t, "m1", entries[1].NodeID)
}
