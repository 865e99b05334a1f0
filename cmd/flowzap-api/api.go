// Package main provides the Flowzap management API server.
package main

import (
	"log/slog"
	"strconv"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/flowzap/flowzap/pkg/audit"
	"github.com/flowzap/flowzap/pkg/catalog"
	"github.com/flowzap/flowzap/pkg/engine"
	"github.com/flowzap/flowzap/pkg/eventbus"
	"github.com/flowzap/flowzap/pkg/flow"
	"github.com/flowzap/flowzap/pkg/gateway"
	"github.com/flowzap/flowzap/pkg/persistence"
	"github.com/flowzap/flowzap/pkg/services"
	"github.com/flowzap/flowzap/pkg/session"
	"github.com/flowzap/flowzap/pkg/web"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	gateway     *gateway.Client
}

func NewAPI(
	logger *slog.Logger,
	p persistence.Persistence,
	eventBus eventbus.EventBus,
	gatewayClient *gateway.Client,
) *API {
	return &API{
		logger:      logger,
		persistence: p,
		eventBus:    eventBus,
		gateway:     gatewayClient,
	}
}

func (a *API) App() *fiber.App {
	sessions := session.NewManager(a.persistence, a.logger)
	nodeCatalog := catalog.New()
	versionService := flow.NewService(a.persistence, nodeCatalog, a.eventBus, a.logger)

	// The API runs the engine in-process: webhook dispatch and operator
	// actions share the same conversation locks.
	eng := engine.New(engine.Config{
		Persistence: a.persistence,
		Sessions:    sessions,
		Sender:      a.gateway,
		Recorder:    audit.NewRecorder(a.persistence, a.logger),
		Publisher:   a.eventBus,
		Logger:      a.logger,
	})

	handlers := web.NewAPIHandlers(web.Config{
		Flows:      services.NewFlow(a.persistence, versionService),
		Instances:  services.NewInstance(a.persistence, a.gateway, a.logger),
		Logs:       services.NewLogs(a.persistence),
		Sessions:   sessions,
		Catalog:    nodeCatalog,
		Dispatcher: eng,
		Operator:   eng,
		Logger:     a.logger,
	})

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Flowzap API")
	})

	handlers.Register(app)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}
