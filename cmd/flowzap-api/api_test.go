package main

import (
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowzap/flowzap/pkg/cmd"
	"github.com/flowzap/flowzap/pkg/gateway"
	"github.com/flowzap/flowzap/pkg/log"
	"github.com/flowzap/flowzap/pkg/persistence/file"
)

func TestAppRoutes(t *testing.T) {
	log.Setup("error")
	logger := log.WithModule("test")

	p := file.NewPersistence(t.TempDir())
	eventBus := cmd.NewEventBus("gochannel", "flowzap-api-test", logger)

	t.Cleanup(func() { _ = eventBus.Close() })

	api := NewAPI(logger, p, eventBus, gateway.NewClient("http://localhost:0", "test-token", logger))
	app := api.App()

	req, err := http.NewRequest(http.MethodGet, "/", nil)
	require.NoError(t, err)

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "Flowzap API", string(body))

	req, err = http.NewRequest(http.MethodGet, "/health", nil)
	require.NoError(t, err)

	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req, err = http.NewRequest(http.MethodGet, "/flows?organization_id=org-1", nil)
	require.NoError(t, err)

	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
