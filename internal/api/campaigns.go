package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/LindemannRock/survey-campaigns/internal/campaign"
	"github.com/LindemannRock/survey-campaigns/internal/dispatch"
	"github.com/LindemannRock/survey-campaigns/internal/pkg/httputil"
	"github.com/LindemannRock/survey-campaigns/internal/pkg/logger"
)

// GetCampaign returns the campaign record for one site.
func (h *Handlers) GetCampaign(w http.ResponseWriter, r *http.Request) {
	campaignID, ok := int64Param(w, r, "campaignID")
	if !ok {
		return
	}
	siteID, ok := int64Param(w, r, "siteID")
	if !ok {
		return
	}

	cmp, err := h.store.GetCampaign(r.Context(), campaignID, siteID)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if cmp == nil {
		httputil.NotFound(w, "campaign not configured for this site")
		return
	}
	httputil.OK(w, cmp)
}

// SaveCampaign upserts the campaign record for one site.
func (h *Handlers) SaveCampaign(w http.ResponseWriter, r *http.Request) {
	campaignID, ok := int64Param(w, r, "campaignID")
	if !ok {
		return
	}
	siteID, ok := int64Param(w, r, "siteID")
	if !ok {
		return
	}

	var cmp campaign.Campaign
	if !httputil.Decode(w, r, &cmp) {
		return
	}
	cmp.ID = campaignID
	cmp.SiteID = siteID

	if err := h.store.SaveCampaign(r.Context(), &cmp); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, cmp)
}

// DeleteCampaign removes the campaign and cascades its customers.
func (h *Handlers) DeleteCampaign(w http.ResponseWriter, r *http.Request) {
	campaignID, ok := int64Param(w, r, "campaignID")
	if !ok {
		return
	}
	siteID, ok := int64Param(w, r, "siteID")
	if !ok {
		return
	}

	if err := h.store.DeleteCampaign(r.Context(), campaignID, siteID); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.NoContent(w)
}

type triggerRequest struct {
	CampaignID int64 `json:"campaignId"`
	SiteID     int64 `json:"siteId"`
	SendSMS    bool  `json:"sendSms"`
	SendEmail  bool  `json:"sendEmail"`
}

// TriggerDispatch enqueues the top-level fan-out job. Zero ids widen the
// scope to every campaign or every site.
func (h *Handlers) TriggerDispatch(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if !req.SendSMS && !req.SendEmail {
		httputil.BadRequest(w, "at least one channel must be selected")
		return
	}

	err := h.queue.EnqueueTrigger(r.Context(), dispatch.TriggerPayload{
		CampaignID: req.CampaignID,
		SiteID:     req.SiteID,
		SendSMS:    req.SendSMS,
		SendEmail:  req.SendEmail,
	})
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]string{"status": "queued"})
}

// transparent 1x1 GIF
var trackingPixel = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00,
	0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00,
	0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00,
	0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

// TrackOpen records the first open for the customer owning the invitation
// code. Unknown codes still get the pixel; invitations must never break.
func (h *Handlers) TrackOpen(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	cust, err := h.store.CustomerByInvitationCode(r.Context(), code)
	if err != nil {
		logger.Error("open tracking lookup failed", "error", err.Error())
	} else if cust != nil {
		if err := h.store.MarkOpened(r.Context(), cust.ID, time.Now().UTC()); err != nil {
			logger.Error("mark opened failed", "customer_id", cust.ID.String(), "error", err.Error())
		}
	}

	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(trackingPixel)
}

type submissionRequest struct {
	Code         string `json:"code"`
	SubmissionID int64  `json:"submissionId"`
}

// AttachSubmission associates a completed form submission with the customer
// the invitation code was issued to.
func (h *Handlers) AttachSubmission(w http.ResponseWriter, r *http.Request) {
	var req submissionRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.Code == "" || req.SubmissionID == 0 {
		httputil.BadRequest(w, "code and submissionId are required")
		return
	}

	cust, err := h.store.AttachSubmission(r.Context(), req.Code, req.SubmissionID)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if cust == nil {
		httputil.NotFound(w, "no customer holds that invitation code")
		return
	}
	httputil.OK(w, cust)
}
