package api

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/LindemannRock/survey-campaigns/internal/campaign"
	"github.com/LindemannRock/survey-campaigns/internal/dispatch"
	"github.com/LindemannRock/survey-campaigns/internal/pkg/httputil"
	"github.com/LindemannRock/survey-campaigns/internal/pkg/logger"
)

// HealthCheck reports liveness.
func (h *Handlers) HealthCheck(w http.ResponseWriter, _ *http.Request) {
	httputil.OK(w, map[string]string{"status": "ok"})
}

type addCustomerRequest struct {
	SiteID  int64  `json:"siteId"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	SMS     string `json:"sms"`
	SendNow bool   `json:"sendNow"`
}

// AddCustomer creates a single customer. With sendNow set, a one-customer
// batch is enqueued immediately instead of waiting for the next trigger.
func (h *Handlers) AddCustomer(w http.ResponseWriter, r *http.Request) {
	campaignID, ok := int64Param(w, r, "campaignID")
	if !ok {
		return
	}

	var req addCustomerRequest
	if !httputil.Decode(w, r, &req) {
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Name == "" {
		httputil.BadRequest(w, "name is required")
		return
	}
	if req.Email == "" && req.SMS == "" {
		httputil.BadRequest(w, "an email address or phone number is required")
		return
	}
	if req.Email != "" && !campaign.ValidEmail(req.Email) {
		httputil.BadRequest(w, "invalid email address")
		return
	}

	normalized := ""
	if req.SMS != "" {
		v := h.rules.Validate(req.SMS)
		if !v.Valid {
			httputil.BadRequest(w, v.Error)
			return
		}
		normalized = h.rules.Normalize(v.Sanitized)
	}

	cust := &campaign.Customer{
		CampaignID: campaignID,
		SiteID:     req.SiteID,
		Name:       req.Name,
		Email:      req.Email,
		SMS:        normalized,
	}
	if err := h.store.CreateCustomer(r.Context(), cust); err != nil {
		httputil.InternalError(w, err)
		return
	}

	if req.SendNow && h.queue != nil {
		err := h.queue.EnqueueBatch(r.Context(), dispatch.BatchPayload{
			CampaignID:  campaignID,
			SiteID:      cust.SiteID,
			CustomerIDs: []uuid.UUID{cust.ID},
			SendSMS:     cust.SMS != "",
			SendEmail:   cust.Email != "",
		})
		if err != nil {
			logger.Error("immediate send enqueue failed", "customer_id", cust.ID.String(), "error", err.Error())
		}
	}

	httputil.Created(w, cust)
}

// ListCustomers returns a paginated page with server-side search and sort.
func (h *Handlers) ListCustomers(w http.ResponseWriter, r *http.Request) {
	campaignID, ok := int64Param(w, r, "campaignID")
	if !ok {
		return
	}

	q := campaign.CustomerQuery{
		CampaignID: campaignID,
		Search:     r.URL.Query().Get("search"),
		SortBy:     r.URL.Query().Get("sort"),
		SortDesc:   r.URL.Query().Get("dir") == "desc",
	}
	if siteID, err := strconv.ParseInt(r.URL.Query().Get("siteId"), 10, 64); err == nil {
		q.SiteID = siteID
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	perPage, _ := strconv.Atoi(r.URL.Query().Get("perPage"))
	if perPage < 1 || perPage > 500 {
		perPage = 50
	}
	q.Limit = perPage
	q.Offset = (page - 1) * perPage

	customers, total, err := h.store.SearchCustomers(r.Context(), q)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	httputil.OK(w, map[string]any{
		"customers": customers,
		"total":     total,
		"page":      page,
		"perPage":   perPage,
	})
}

// DeleteCustomer removes one customer.
func (h *Handlers) DeleteCustomer(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "customerID"))
	if err != nil {
		httputil.BadRequest(w, "invalid customer id")
		return
	}

	existed, err := h.store.DeleteCustomer(r.Context(), id)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if !existed {
		httputil.NotFound(w, "customer not found")
		return
	}
	httputil.NoContent(w)
}

// ExportCustomers streams customers as CSV or JSON, filtered by date range.
func (h *Handlers) ExportCustomers(w http.ResponseWriter, r *http.Request) {
	campaignID, ok := int64Param(w, r, "campaignID")
	if !ok {
		return
	}
	siteID, _ := strconv.ParseInt(r.URL.Query().Get("siteId"), 10, 64)
	dateRange := r.URL.Query().Get("dateRange")

	customers, err := h.store.CustomersByDateRange(r.Context(), campaignID, siteID, dateRange, time.Now())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	if r.URL.Query().Get("format") == "json" {
		httputil.OK(w, customers)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="customers-%d-%s.csv"`, campaignID, time.Now().Format("2006-01-02")))

	cw := csv.NewWriter(w)
	cw.Write([]string{"name", "email", "sms", "site_id", "sms_sent", "email_sent", "opened", "submission_id", "created_at"})
	for _, c := range customers {
		cw.Write([]string{
			c.Name,
			c.Email,
			c.SMS,
			strconv.FormatInt(c.SiteID, 10),
			formatTime(c.SMSSendDate),
			formatTime(c.EmailSendDate),
			formatTime(firstNonNil(c.SMSOpenDate, c.EmailOpenDate)),
			formatSubmission(c.SubmissionID),
			c.CreatedAt.Format(time.RFC3339),
		})
	}
	cw.Flush()
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}

func firstNonNil(a, b *time.Time) *time.Time {
	if a != nil {
		return a
	}
	return b
}

func formatSubmission(id int64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}

func int64Param(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	v, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil {
		httputil.BadRequest(w, "invalid "+name)
		return 0, false
	}
	return v, true
}
