package web_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowzap/flowzap/pkg/audit"
	"github.com/flowzap/flowzap/pkg/catalog"
	"github.com/flowzap/flowzap/pkg/engine"
	"github.com/flowzap/flowzap/pkg/flow"
	"github.com/flowzap/flowzap/pkg/log"
	"github.com/flowzap/flowzap/pkg/models"
	"github.com/flowzap/flowzap/pkg/persistence"
	"github.com/flowzap/flowzap/pkg/persistence/file"
	"github.com/flowzap/flowzap/pkg/services"
	"github.com/flowzap/flowzap/pkg/session"
	"github.com/flowzap/flowzap/pkg/web"
)

func setupTestApp(t *testing.T) (*fiber.App, persistence.Persistence) {
	t.Helper()

	p := file.NewPersistence(t.TempDir())

	log.Setup("error")
	logger := log.WithModule("test")

	sessions := session.NewManager(p, logger)
	versionService := flow.NewService(p, catalog.New(), nil, logger)
	eng := engine.New(engine.Config{
		Persistence: p,
		Sessions:    sessions,
		Sender:      &nopSender{},
		Recorder:    audit.NewRecorder(p, logger),
		Logger:      logger,
	})

	handlers := web.NewAPIHandlers(web.Config{
		Flows:      services.NewFlow(p, versionService),
		Instances:  services.NewInstance(p, &nopGateway{}, logger),
		Logs:       services.NewLogs(p),
		Sessions:   sessions,
		Catalog:    catalog.New(),
		Dispatcher: eng,
		Operator:   eng,
		Logger:     logger,
	})

	app := fiber.New()
	handlers.Register(app)

	return app, p
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body any) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader

	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)

		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, path, reader)
	require.NoError(t, err)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req)
	require.NoError(t, err)

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp, data
}

func TestFlowEndpoints(t *testing.T) {
	app, _ := setupTestApp(t)

	resp, body := doJSON(t, app, http.MethodPost, "/flows", services.CreateFlowRequest{
		OrganizationID: "org-1",
		Name:           "Boas-vindas",
		CreatedBy:      "maria",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created models.Flow

	require.NoError(t, json.Unmarshal(body, &created))
	assert.NotEmpty(t, created.ID)

	resp, body = doJSON(t, app, http.MethodGet, "/flows?organization_id=org-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var flows []models.Flow

	require.NoError(t, json.Unmarshal(body, &flows))
	require.Len(t, flows, 1)

	resp, _ = doJSON(t, app, http.MethodPost, "/flows", services.CreateFlowRequest{
		OrganizationID: "org-1",
		Name:           "ab",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodGet, "/flows/ghost", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestVersionEndpoints(t *testing.T) {
	app, _ := setupTestApp(t)

	_, body := doJSON(t, app, http.MethodPost, "/flows", services.CreateFlowRequest{
		OrganizationID: "org-1",
		Name:           "Boas-vindas",
	})

	var created models.Flow

	require.NoError(t, json.Unmarshal(body, &created))

	graph := &models.Graph{
		Nodes: []*models.Node{
			{ID: "t1", Kind: models.NodeKindTrigger, Config: models.NodeConfig{Trigger: &models.TriggerConfig{Keyword: "oi"}}},
			{ID: "m1", Kind: models.NodeKindMessage, Config: models.NodeConfig{Message: &models.MessageConfig{Text: "Olá!"}}},
		},
		Edges: []*models.Edge{
			{ID: "e1", SourceNode: "t1", SourcePort: models.DefaultPort, TargetNode: "m1"},
		},
	}

	resp, body := doJSON(t, app, http.MethodPost, "/flows/"+created.ID+"/versions",
		web.CreateVersionRequest{Graph: graph, CreatedBy: "maria"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var version models.FlowVersion

	require.NoError(t, json.Unmarshal(body, &version))
	assert.Equal(t, 1, version.VersionNumber)
	assert.False(t, version.IsActive)

	resp, body = doJSON(t, app, http.MethodPost, "/flows/"+created.ID+"/versions/"+version.ID+"/activate", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, json.Unmarshal(body, &version))
	assert.True(t, version.IsActive)

	resp, body = doJSON(t, app, http.MethodGet, "/flows/"+created.ID+"/versions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var summaries []web.VersionSummary

	require.NoError(t, json.Unmarshal(body, &summaries))
	require.Len(t, summaries, 1)
	assert.Equal(t, 2, summaries[0].NodeCount)

	// Broken graphs are rejected before any version exists.
	broken := &models.Graph{Nodes: graph.Nodes, Edges: append(graph.Edges,
		&models.Edge{ID: "e2", SourceNode: "m1", TargetNode: "ghost"})}

	resp, _ = doJSON(t, app, http.MethodPost, "/flows/"+created.ID+"/versions",
		web.CreateVersionRequest{Graph: broken})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestInstanceEndpointsNeverExposeToken(t *testing.T) {
	app, p := setupTestApp(t)

	resp, body := doJSON(t, app, http.MethodPost, "/instances", services.CreateInstanceRequest{
		OrganizationID: "org-1",
		Name:           "Atendimento",
		ExternalID:     "atendimento-01",
		AuthToken:      "super-secret-token",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.NotContains(t, string(body), "super-secret-token")

	var created web.InstanceResponse

	require.NoError(t, json.Unmarshal(body, &created))
	assert.Equal(t, "disconnected", created.Status)

	// The token is stored, just never serialized back.
	stored, err := p.Instances().GetByID(t.Context(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "super-secret-token", stored.AuthToken)

	_, body = doJSON(t, app, http.MethodGet, "/instances?organization_id=org-1", nil)
	assert.NotContains(t, string(body), "super-secret-token")

	_, body = doJSON(t, app, http.MethodGet, "/instances/"+created.ID, nil)
	assert.NotContains(t, string(body), "super-secret-token")

	resp, body = doJSON(t, app, http.MethodPatch, "/instances/"+created.ID, services.UpdateInstanceRequest{
		Name: "Atendimento Principal",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotContains(t, string(body), "super-secret-token")
}

func TestCatalogEndpoint(t *testing.T) {
	app, _ := setupTestApp(t)

	resp, body := doJSON(t, app, http.MethodGet, "/catalog/nodes", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var schemas map[string]any

	require.NoError(t, json.Unmarshal(body, &schemas))
	assert.Contains(t, schemas, "trigger")
	assert.Contains(t, schemas, "condition")
	assert.Contains(t, schemas, "wait")
}

func TestWebhookEndpoint(t *testing.T) {
	app, p := setupTestApp(t)

	instance := &models.Instance{ID: "inst-1", OrganizationID: "org-1", Name: "Atendimento"}
	require.NoError(t, p.Instances().Save(t.Context(), instance))

	f := &models.Flow{ID: "flow-1", OrganizationID: "org-1", Name: "Boas-vindas"}
	require.NoError(t, p.Flows().Save(t.Context(), f))

	version := &models.FlowVersion{
		ID:     "v1",
		FlowID: f.ID,
		Graph: &models.Graph{
			Nodes: []*models.Node{
				{ID: "t1", Kind: models.NodeKindTrigger, Config: models.NodeConfig{Trigger: &models.TriggerConfig{Keyword: ""}}},
				{ID: "m1", Kind: models.NodeKindMessage, Config: models.NodeConfig{Message: &models.MessageConfig{Text: "Olá!"}}},
			},
			Edges: []*models.Edge{
				{ID: "e1", SourceNode: "t1", SourcePort: models.DefaultPort, TargetNode: "m1"},
			},
		},
		VersionNumber: 1,
	}
	require.NoError(t, p.Versions().Save(t.Context(), version))
	require.NoError(t, p.Versions().Activate(t.Context(), f.ID, version.ID))

	payload := `{"event":"message","instance":"atendimento-01","contact":"5511999990000","type":"text","content":{"text":"oi"}}`

	req, err := http.NewRequest(http.MethodPost, "/webhook/inst-1", strings.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	// Status callbacks are dropped without error.
	req, err = http.NewRequest(http.MethodPost, "/webhook/inst-1", strings.NewReader(`{"event":"status","instance":"a"}`))
	require.NoError(t, err)

	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	entries, err := p.Logs().List(t.Context(), persistence.LogFilter{InstanceID: "inst-1"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "m1", entries[0].NodeID)
}

func TestLogsEndpoint(t *testing.T) {
	app, p := setupTestApp(t)

	entry := audit.NewInboundEntry("inst-1", "5511999990000", "text",
		map[string]any{"text": "oi"}, models.LogStatusPending, "no trigger matches the message")
	require.NoError(t, p.Logs().Append(t.Context(), entry))

	resp, body := doJSON(t, app, http.MethodGet, "/logs?instance_id=inst-1&status=pending", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var entries []models.LogEntry

	require.NoError(t, json.Unmarshal(body, &entries))
	require.Len(t, entries, 1)

	resp, _ = doJSON(t, app, http.MethodGet, "/logs?direction=sideways", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthEndpoint(t *testing.T) {
	app, _ := setupTestApp(t)

	resp, body := doJSON(t, app, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "healthy")
}
