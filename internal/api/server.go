// Package api exposes the HTTP surface: customer management, CSV imports,
// exports, campaign CRUD and dispatch triggers.
package api

import (
	"context"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/LindemannRock/survey-campaigns/internal/campaign"
	"github.com/LindemannRock/survey-campaigns/internal/dispatch"
	"github.com/LindemannRock/survey-campaigns/internal/importer"
	"github.com/LindemannRock/survey-campaigns/internal/phone"
)

// Store is the slice of the campaign store the handlers use.
type Store interface {
	GetCampaign(ctx context.Context, id, siteID int64) (*campaign.Campaign, error)
	SaveCampaign(ctx context.Context, c *campaign.Campaign) error
	DeleteCampaign(ctx context.Context, id, siteID int64) error
	CreateCustomer(ctx context.Context, c *campaign.Customer) error
	DeleteCustomer(ctx context.Context, id uuid.UUID) (bool, error)
	SearchCustomers(ctx context.Context, q campaign.CustomerQuery) ([]*campaign.Customer, int, error)
	CustomersByDateRange(ctx context.Context, campaignID, siteID int64, dateRange string, now time.Time) ([]*campaign.Customer, error)
	CustomerByInvitationCode(ctx context.Context, code string) (*campaign.Customer, error)
	MarkOpened(ctx context.Context, id uuid.UUID, openedAt time.Time) error
	AttachSubmission(ctx context.Context, code string, submissionID int64) (*campaign.Customer, error)
}

// Queue is the slice of the job queue the handlers enqueue into.
type Queue interface {
	EnqueueTrigger(ctx context.Context, p dispatch.TriggerPayload) error
	EnqueueBatch(ctx context.Context, p dispatch.BatchPayload) error
	Push(ctx context.Context, jobType string, payload any, ttr time.Duration, maxAttempts int) (uuid.UUID, error)
}

// Handlers carries the dependencies for all routes.
type Handlers struct {
	store   Store
	imports *importer.Pipeline
	queue   Queue
	rules   phone.Rules
}

// NewHandlers wires the handler set.
func NewHandlers(store Store, imports *importer.Pipeline, queue Queue, rules phone.Rules) *Handlers {
	return &Handlers{store: store, imports: imports, queue: queue, rules: rules}
}

// SetupRoutes configures the router.
func SetupRoutes(h *Handlers, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", h.HealthCheck)

	// open tracking rides on invitation links, outside /api
	r.Get("/t/open/{code}", h.TrackOpen)

	r.Route("/api", func(r chi.Router) {
		r.Route("/campaigns", func(r chi.Router) {
			r.Post("/trigger", h.TriggerDispatch)

			r.Route("/{campaignID}", func(r chi.Router) {
				r.Route("/sites/{siteID}", func(r chi.Router) {
					r.Get("/", h.GetCampaign)
					r.Put("/", h.SaveCampaign)
					r.Delete("/", h.DeleteCampaign)
				})

				r.Route("/customers", func(r chi.Router) {
					r.Get("/", h.ListCustomers)
					r.Post("/", h.AddCustomer)
					r.Get("/export", h.ExportCustomers)
				})
			})
		})

		r.Delete("/customers/{customerID}", h.DeleteCustomer)

		r.Route("/imports", func(r chi.Router) {
			r.Post("/", h.UploadImport)
			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/", h.GetImport)
				r.Post("/map", h.MapImport)
				r.Post("/preview", h.PreviewImport)
				r.Post("/commit", h.CommitImport)
			})
		})

		r.Post("/submissions", h.AttachSubmission)
	})

	return r
}
