package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/flowzap/flowzap/pkg/catalog"
	"github.com/flowzap/flowzap/pkg/engine"
	"github.com/flowzap/flowzap/pkg/events"
	"github.com/flowzap/flowzap/pkg/gateway"
	"github.com/flowzap/flowzap/pkg/services"
	"github.com/flowzap/flowzap/pkg/session"
)

// InboundDispatcher receives parsed webhook events. The API process either
// runs the engine in-process or publishes to the event bus; both satisfy this.
type InboundDispatcher interface {
	HandleInbound(ctx context.Context, event *events.InboundReceived) error
}

// OperatorActions are the manual session controls exposed to operators.
type OperatorActions interface {
	ResumeHuman(ctx context.Context, sessionID, operator string) error
	Terminate(ctx context.Context, sessionID, operator string) error
}

// Config wires the API handlers to their services.
type Config struct {
	Flows      *services.Flow
	Instances  *services.Instance
	Logs       *services.Logs
	Sessions   *session.Manager
	Catalog    *catalog.Catalog
	Dispatcher InboundDispatcher
	Operator   OperatorActions
	Logger     *slog.Logger
}

type APIHandlers struct {
	flows      *services.Flow
	instances  *services.Instance
	logs       *services.Logs
	sessions   *session.Manager
	catalog    *catalog.Catalog
	dispatcher InboundDispatcher
	operator   OperatorActions
	validator  *validator.Validate
	logger     *slog.Logger
}

func NewAPIHandlers(cfg Config) *APIHandlers {
	return &APIHandlers{
		flows:      cfg.Flows,
		instances:  cfg.Instances,
		logs:       cfg.Logs,
		sessions:   cfg.Sessions,
		catalog:    cfg.Catalog,
		dispatcher: cfg.Dispatcher,
		operator:   cfg.Operator,
		validator:  validator.New(validator.WithRequiredStructEnabled()),
		logger:     cfg.Logger.With("module", "web"),
	}
}

// Register mounts every route on the app.
func (h *APIHandlers) Register(app *fiber.App) {
	f := app.Group("/flows")
	f.Get("/", h.GetFlows)
	f.Post("/", h.CreateFlow)
	f.Get("/:id", h.GetFlow)
	f.Patch("/:id", h.UpdateFlow)
	f.Delete("/:id", h.DeleteFlow)
	f.Get("/:id/versions", h.GetVersions)
	f.Post("/:id/versions", h.CreateVersion)
	f.Get("/:id/versions/:versionId", h.GetVersion)
	f.Post("/:id/versions/:versionId/activate", h.ActivateVersion)

	i := app.Group("/instances")
	i.Get("/", h.GetInstances)
	i.Post("/", h.CreateInstance)
	i.Get("/:id", h.GetInstance)
	i.Patch("/:id", h.UpdateInstance)
	i.Delete("/:id", h.DeleteInstance)
	i.Post("/:id/connect", h.ConnectInstance)
	i.Get("/:id/qr-code", h.GetInstanceQRCode)

	s := app.Group("/sessions")
	s.Get("/:id", h.GetSession)
	s.Post("/:id/resume", h.ResumeSession)
	s.Post("/:id/terminate", h.TerminateSession)

	app.Get("/logs", h.GetLogs)
	app.Get("/catalog/nodes", h.GetNodeCatalog)
	app.Post("/webhook/:instanceId", h.Webhook)
	app.Get("/health", h.HealthCheck)
}

func (h *APIHandlers) GetFlows(c fiber.Ctx) error {
	flows, err := h.flows.List(c.Context(), c.Query("organization_id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(flows)
}

func (h *APIHandlers) CreateFlow(c fiber.Ctx) error {
	var req services.CreateFlowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	created, err := h.flows.Create(c.Context(), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) GetFlow(c fiber.Ctx) error {
	flow, err := h.flows.Fetch(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(flow)
}

func (h *APIHandlers) UpdateFlow(c fiber.Ctx) error {
	var req services.UpdateFlowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	updated, err := h.flows.Update(c.Context(), c.Params("id"), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeleteFlow(c fiber.Ctx) error {
	err := h.flows.Delete(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) GetVersions(c fiber.Ctx) error {
	versions, err := h.flows.ListVersions(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	summaries := make([]VersionSummary, 0, len(versions))
	for _, version := range versions {
		summaries = append(summaries, TransformVersionSummary(version))
	}

	return c.JSON(summaries)
}

func (h *APIHandlers) CreateVersion(c fiber.Ctx) error {
	var req CreateVersionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	version, err := h.flows.CreateVersion(c.Context(), c.Params("id"), req.Graph, req.CreatedBy, req.Metadata)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(version)
}

func (h *APIHandlers) GetVersion(c fiber.Ctx) error {
	version, err := h.flows.FetchVersion(c.Context(), c.Params("versionId"))
	if err != nil {
		return handleServiceError(c, err)
	}

	if version.FlowID != c.Params("id") {
		return notFound(c, "version does not belong to this flow")
	}

	return c.JSON(version)
}

func (h *APIHandlers) ActivateVersion(c fiber.Ctx) error {
	version, err := h.flows.Activate(c.Context(), c.Params("id"), c.Params("versionId"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(version)
}

func (h *APIHandlers) GetInstances(c fiber.Ctx) error {
	instances, err := h.instances.List(c.Context(), c.Query("organization_id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(TransformInstanceResponses(instances))
}

func (h *APIHandlers) CreateInstance(c fiber.Ctx) error {
	var req services.CreateInstanceRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	created, err := h.instances.Create(c.Context(), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(TransformInstanceResponse(created))
}

func (h *APIHandlers) GetInstance(c fiber.Ctx) error {
	instance, err := h.instances.Fetch(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(TransformInstanceResponse(instance))
}

func (h *APIHandlers) UpdateInstance(c fiber.Ctx) error {
	var req services.UpdateInstanceRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	updated, err := h.instances.Update(c.Context(), c.Params("id"), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(TransformInstanceResponse(updated))
}

func (h *APIHandlers) DeleteInstance(c fiber.Ctx) error {
	err := h.instances.Delete(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) ConnectInstance(c fiber.Ctx) error {
	info, err := h.instances.Connect(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(info)
}

func (h *APIHandlers) GetInstanceQRCode(c fiber.Ctx) error {
	code, err := h.instances.PairingCode(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(code)
}

func (h *APIHandlers) GetSession(c fiber.Ctx) error {
	sess, err := h.sessions.Get(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(sess)
}

func (h *APIHandlers) ResumeSession(c fiber.Ctx) error {
	req, err := h.parseOperatorRequest(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	err = h.operator.ResumeHuman(c.Context(), c.Params("id"), req.Operator)
	if errors.Is(err, engine.ErrNotAwaitingHuman) {
		return conflict(c, err.Error())
	}

	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) TerminateSession(c fiber.Ctx) error {
	req, err := h.parseOperatorRequest(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	err = h.operator.Terminate(c.Context(), c.Params("id"), req.Operator)
	if errors.Is(err, engine.ErrSessionClosed) {
		return conflict(c, err.Error())
	}

	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) parseOperatorRequest(c fiber.Ctx) (*OperatorRequest, error) {
	req := &OperatorRequest{}

	if err := c.Bind().JSON(req); err != nil {
		return nil, errors.New("invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return nil, err
	}

	return req, nil
}

func (h *APIHandlers) GetLogs(c fiber.Ctx) error {
	req := services.ListLogsRequest{
		InstanceID: c.Query("instance_id"),
		Contact:    c.Query("contact"),
		Direction:  c.Query("direction"),
		Status:     c.Query("status"),
	}

	if limit := c.Query("limit"); limit != "" {
		value, err := strconv.Atoi(limit)
		if err != nil {
			return badRequest(c, "limit must be an integer")
		}

		req.Limit = value
	}

	if offset := c.Query("offset"); offset != "" {
		value, err := strconv.Atoi(offset)
		if err != nil {
			return badRequest(c, "offset must be an integer")
		}

		req.Offset = value
	}

	entries, err := h.logs.List(c.Context(), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(entries)
}

func (h *APIHandlers) GetNodeCatalog(c fiber.Ctx) error {
	kinds := h.catalog.Kinds()
	schemas := make(map[string]any, len(kinds))

	for _, kind := range kinds {
		schema, ok := h.catalog.Schema(kind)
		if ok {
			schemas[string(kind)] = schema
		}
	}

	return c.JSON(schemas)
}

// Webhook ingests provider callbacks. Non-message events are acknowledged
// and dropped; busy conversations answer 429 so the provider redelivers.
func (h *APIHandlers) Webhook(c fiber.Ctx) error {
	instanceID := c.Params("instanceId")

	payload, err := gateway.ParseWebhook(c.Body())
	if errors.Is(err, gateway.ErrUnknownWebhookEvent) {
		return c.SendStatus(fiber.StatusNoContent)
	}

	if err != nil {
		return badRequest(c, err.Error())
	}

	err = h.dispatcher.HandleInbound(c.Context(), payload.ToEvent(instanceID))
	if errors.Is(err, session.ErrSessionBusy) {
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"error": "conversation busy, retry",
		})
	}

	if err != nil {
		h.logger.ErrorContext(c.Context(), "Webhook dispatch failed",
			"instance_id", instanceID, "error", err)

		return internalError(c, err)
	}

	return c.SendStatus(fiber.StatusAccepted)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, ok := h.flows.HealthCheck(c.Context())

	status := "unhealthy"
	httpStatus := http.StatusInternalServerError

	if ok {
		status = "healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status": status,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}
