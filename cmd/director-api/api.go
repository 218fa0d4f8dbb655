// Package main provides the Director API server implementation.
package main

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/dukex/director/pkg/eventbus"
	"github.com/dukex/director/pkg/lock"
	"github.com/dukex/director/pkg/metrics"
	"github.com/dukex/director/pkg/otelhelper"
	"github.com/dukex/director/pkg/persistence"
	"github.com/dukex/director/pkg/reconcile"
	"github.com/dukex/director/pkg/registry"
	"github.com/dukex/director/pkg/renumber"
	"github.com/dukex/director/pkg/resolver"
	"github.com/dukex/director/pkg/services"
	"github.com/dukex/director/pkg/web"
	"github.com/dukex/director/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"go.opentelemetry.io/otel/trace"
)

const shutdownTimeout = 10 * time.Second

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	registry    *registry.Registry
	eventBus    eventbus.EventBus
	locker      lock.Locker
	metrics     *metrics.Metrics
	tracer      trace.Tracer
	resolver    *resolver.Resolver
	validate    *validator.Validate
}

type Option func(*API)

func WithLocker(locker lock.Locker) Option {
	return func(a *API) { a.locker = locker }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *API) { a.metrics = m }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(a *API) { a.tracer = tracer }
}

// NewAPI wires the services shared by the HTTP handlers and the reconciler.
// eventBus may be nil.
func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	registry *registry.Registry,
	eventBus eventbus.EventBus,
	opts ...Option,
) (*API, error) {
	a := &API{
		logger:      logger,
		persistence: persistence,
		registry:    registry,
		eventBus:    eventBus,
		locker:      lock.NewLocal(),
		metrics:     metrics.New(),
		tracer:      otelhelper.NoopTracer(),
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}

	for _, opt := range opts {
		opt(a)
	}

	res, err := resolver.New(persistence.NodeRepository(),
		resolver.WithLocker(a.locker),
		resolver.WithPublisher(a.publisher()),
		resolver.WithTracer(a.tracer),
		resolver.WithMetrics(a.metrics),
		resolver.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	a.resolver = res

	return a, nil
}

// publisher returns the event bus as a publisher, or nil without a bus.
//
//nolint:ireturn
func (a *API) publisher() eventbus.EventPublisher {
	if a.eventBus == nil {
		return nil
	}

	return a.eventBus
}

func (a *API) App() *fiber.App {
	publisher := a.publisher()

	handlers := web.NewAPIHandlers(web.Dependencies{
		Workflows: services.NewWorkflow(a.persistence, a.logger),
		Nodes:     services.NewNode(a.persistence, a.locker, publisher, a.logger),
		Variables: services.NewVariables(a.persistence.VariableRepository(), a.locker, publisher, a.metrics, a.logger),
		Resolver:  a.resolver,
		Renumber: renumber.New(a.persistence.NodeRepository(),
			renumber.WithLocker(a.locker),
			renumber.WithPublisher(publisher),
			renumber.WithTracer(a.tracer),
			renumber.WithMetrics(a.metrics),
			renumber.WithLogger(a.logger),
		),
		Executor: workflow.NewExecutor(a.persistence.NodeRepository(), a.registry,
			workflow.WithRecords(a.persistence.RecordRepository()),
			workflow.WithPublisher(publisher),
			workflow.WithTracer(a.tracer),
			workflow.WithMetrics(a.metrics),
			workflow.WithLogger(a.logger),
		),
		Records:   a.persistence.RecordRepository(),
		Registry:  a.registry,
		Validator: a.validate,
		Logger:    a.logger,
	})

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())
	app.Get("/metrics", adaptor.HTTPHandler(a.metrics.Handler()))

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Director API")
	})

	w := app.Group("/workflows")
	w.Get("/", handlers.GetWorkflows)
	w.Post("/", handlers.CreateWorkflow)
	w.Get("/:id", handlers.GetWorkflow)
	w.Delete("/:id", handlers.DeleteWorkflow)

	w.Get("/:id/nodes", handlers.ListNodes)
	w.Post("/:id/nodes", handlers.CreateNode)
	w.Get("/:id/nodes/:ref", handlers.GetNode)
	w.Patch("/:id/nodes/:ref", handlers.UpdateNode)
	w.Delete("/:id/nodes/:ref", handlers.DeleteNode)

	w.Post("/:id/resolve", handlers.ResolveAll)
	w.Post("/:id/resolve/route", handlers.ResolveRoute)
	w.Post("/:id/resolve/iterate", handlers.ResolveIterate)
	w.Post("/:id/renumber_preorder", handlers.RenumberPreorder)

	w.Post("/:id/run/route", handlers.RunRoute)
	w.Post("/:id/run/iterate", handlers.RunIterate)

	w.Get("/:id/variables", handlers.GetVariables)
	w.Put("/:id/variables", handlers.SetVariable)
	w.Get("/:id/records", handlers.GetRecords)

	app.Get("/health", handlers.HealthCheck)

	return app
}

// Reconciler resolves every workflow on schedule with the API's resolver.
func (a *API) Reconciler(schedule string) (*reconcile.Reconciler, error) {
	return reconcile.New(a.persistence.WorkflowRepository(), a.resolver, schedule, a.logger)
}

// Start serves the API until ctx is cancelled.
func (a *API) Start(ctx context.Context, port int) error {
	app := a.App()

	go func() {
		<-ctx.Done()

		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			a.logger.Error("Failed to shut down API", "error", err)
		}
	}()

	return app.Listen(":"+strconv.Itoa(port), fiber.ListenConfig{DisableStartupMessage: true})
}
