package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/LindemannRock/survey-campaigns/internal/campaign"
	"github.com/LindemannRock/survey-campaigns/internal/gateway"
	"github.com/LindemannRock/survey-campaigns/internal/pkg/distlock"
	"github.com/LindemannRock/survey-campaigns/internal/pkg/logger"
)

// =============================================================================
// CAMPAIGN DISPATCHER - Trigger / Stage A / Stage B
// =============================================================================
// Trigger fans out one Stage A unit per campaign/site pair. Stage A selects
// pending customers for one pair, partitions them into fixed-size batches and
// enqueues one Stage B unit per batch. Stage B performs the per-customer,
// per-channel sends. Each stage is a separate job so failures stay isolated
// and resumable.

// BatchSize is the customer count per Stage B unit. Every customer id
// appears in exactly one batch per dispatch run.
const BatchSize = 50

// ErrDispatchLocked means another run holds the campaign/site dispatch lock.
// The job fails transiently and retries after the running dispatch finishes.
var ErrDispatchLocked = errors.New("dispatch: campaign/site dispatch already running")

// Store is the slice of the campaign store the dispatcher reads and marks.
type Store interface {
	GetCampaign(ctx context.Context, id, siteID int64) (*campaign.Campaign, error)
	AllCampaigns(ctx context.Context) ([]*campaign.Campaign, error)
	CampaignSites(ctx context.Context, id int64) ([]int64, error)
	PendingCustomerIDs(ctx context.Context, c *campaign.Campaign, sendSMS, sendEmail bool) ([]uuid.UUID, error)
	GetCustomer(ctx context.Context, id uuid.UUID) (*campaign.Customer, error)
	MarkSMSSent(ctx context.Context, id uuid.UUID, sentAt time.Time) (bool, error)
	MarkEmailSent(ctx context.Context, id uuid.UUID, sentAt time.Time) (bool, error)
}

// JobQueue is the slice of the queue the dispatcher enqueues into.
type JobQueue interface {
	EnqueueProcess(ctx context.Context, p ProcessPayload) error
	EnqueueBatch(ctx context.Context, p BatchPayload) error
	SetProgress(ctx context.Context, id uuid.UUID, done, total int) error
}

// SMSSender sends one SMS invitation. Unavailable gateways report false.
type SMSSender interface {
	Available() bool
	Send(ctx context.Context, to, message, language, senderID, sourceTag string) bool
}

// EmailSender delivers one rendered invitation email.
type EmailSender interface {
	Send(ctx context.Context, msg *gateway.Message) bool
}

// Renderer produces channel content from campaign templates. Render failures
// surface as send failures for that customer, never as batch failures.
type Renderer interface {
	SMSMessage(ctx context.Context, cmp *campaign.Campaign, cust *campaign.Customer) (string, error)
	EmailMessage(ctx context.Context, cmp *campaign.Campaign, cust *campaign.Customer) (*gateway.Message, error)
}

// LockFactory builds a distributed lock for a key. Swappable in tests.
type LockFactory func(key string) distlock.DistLock

// BatchResult summarizes one Stage B run.
type BatchResult struct {
	SMSSent    int
	EmailSent  int
	Skipped    int
	Errors     int
	SendErrors int
}

// Dispatcher executes the three job types.
type Dispatcher struct {
	store    Store
	queue    JobQueue
	sms      SMSSender
	email    EmailSender
	renderer Renderer
	locks    LockFactory

	language string
	senderID string
}

// NewDispatcher wires the dispatcher. language and senderID are forwarded to
// the SMS gateway on every send.
func NewDispatcher(store Store, queue JobQueue, sms SMSSender, email EmailSender, renderer Renderer, locks LockFactory, language, senderID string) *Dispatcher {
	return &Dispatcher{
		store:    store,
		queue:    queue,
		sms:      sms,
		email:    email,
		renderer: renderer,
		locks:    locks,
		language: language,
		senderID: senderID,
	}
}

// =============================================================================
// TRIGGER
// =============================================================================

// HandleTrigger fans out Stage A units. A zero campaign id covers every
// configured campaign, narrowed to one site when a site id is given; a zero
// site id covers every site the campaign has a record on.
func (d *Dispatcher) HandleTrigger(ctx context.Context, job *Job) error {
	var p TriggerPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("dispatch: decode trigger payload: %w", err)
	}

	type pair struct{ campaignID, siteID int64 }
	var pairs []pair

	switch {
	case p.CampaignID == 0:
		campaigns, err := d.store.AllCampaigns(ctx)
		if err != nil {
			return fmt.Errorf("dispatch: list campaigns: %w", err)
		}
		for _, c := range campaigns {
			// a non-zero site id narrows an all-campaigns run to that site
			if p.SiteID != 0 && c.SiteID != p.SiteID {
				continue
			}
			pairs = append(pairs, pair{c.ID, c.SiteID})
		}
	case p.SiteID == 0:
		sites, err := d.store.CampaignSites(ctx, p.CampaignID)
		if err != nil {
			return fmt.Errorf("dispatch: list sites for campaign %d: %w", p.CampaignID, err)
		}
		for _, siteID := range sites {
			pairs = append(pairs, pair{p.CampaignID, siteID})
		}
	default:
		pairs = append(pairs, pair{p.CampaignID, p.SiteID})
	}

	for i, pr := range pairs {
		err := d.queue.EnqueueProcess(ctx, ProcessPayload{
			CampaignID: pr.campaignID,
			SiteID:     pr.siteID,
			SendSMS:    p.SendSMS,
			SendEmail:  p.SendEmail,
		})
		if err != nil {
			return fmt.Errorf("dispatch: enqueue stage for campaign %d site %d: %w", pr.campaignID, pr.siteID, err)
		}
		d.queue.SetProgress(ctx, job.ID, i+1, len(pairs))
	}

	log.Printf("[Dispatch] trigger fanned out %d campaign/site units", len(pairs))
	return nil
}

// =============================================================================
// STAGE A - Selection and Partitioning
// =============================================================================

// HandleProcess selects pending customers for one campaign/site pair and
// enqueues one batch unit per chunk of BatchSize ids, preserving selection
// order. The run is guarded by a distributed lock so two overlapping runs
// cannot select the same customers.
func (d *Dispatcher) HandleProcess(ctx context.Context, job *Job) error {
	var p ProcessPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("dispatch: decode process payload: %w", err)
	}

	lock := d.locks(fmt.Sprintf("dispatch:%d:%d", p.CampaignID, p.SiteID))
	acquired, err := lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("dispatch: acquire lock for campaign %d site %d: %w", p.CampaignID, p.SiteID, err)
	}
	if !acquired {
		log.Printf("[Dispatch] campaign %d site %d already dispatching, retrying later", p.CampaignID, p.SiteID)
		return ErrDispatchLocked
	}
	defer lock.Release(ctx)

	cmp, err := d.store.GetCampaign(ctx, p.CampaignID, p.SiteID)
	if err != nil {
		return fmt.Errorf("dispatch: load campaign %d site %d: %w", p.CampaignID, p.SiteID, err)
	}
	if cmp == nil {
		// a campaign need not exist on every site
		log.Printf("[Dispatch] campaign %d not configured for site %d, nothing to do", p.CampaignID, p.SiteID)
		return nil
	}

	ids, err := d.store.PendingCustomerIDs(ctx, cmp, p.SendSMS, p.SendEmail)
	if err != nil {
		return fmt.Errorf("dispatch: select pending customers: %w", err)
	}
	if len(ids) == 0 {
		log.Printf("[Dispatch] campaign %d site %d has no pending customers", p.CampaignID, p.SiteID)
		return nil
	}

	total := (len(ids) + BatchSize - 1) / BatchSize
	for i := 0; i < total; i++ {
		lo := i * BatchSize
		hi := lo + BatchSize
		if hi > len(ids) {
			hi = len(ids)
		}
		err := d.queue.EnqueueBatch(ctx, BatchPayload{
			CampaignID:  p.CampaignID,
			SiteID:      p.SiteID,
			CustomerIDs: ids[lo:hi],
			SendSMS:     p.SendSMS,
			SendEmail:   p.SendEmail,
		})
		if err != nil {
			return fmt.Errorf("dispatch: enqueue batch %d/%d: %w", i+1, total, err)
		}
		d.queue.SetProgress(ctx, job.ID, i+1, total)
	}

	log.Printf("[Dispatch] campaign %d site %d: %d pending customers in %d batches",
		p.CampaignID, p.SiteID, len(ids), total)
	return nil
}

// =============================================================================
// STAGE B - Per-Customer, Per-Channel Sends
// =============================================================================

// HandleBatch sends to each customer in the batch. A missing customer id is
// counted and skipped. SMS and email are independent attempts; a channel is
// only marked sent when the gateway reported success AND the conditional
// update actually claimed the null timestamp. Zero rows affected means a
// concurrent run already sent that channel, so the send is counted as
// skipped rather than re-marked.
func (d *Dispatcher) HandleBatch(ctx context.Context, job *Job) error {
	var p BatchPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("dispatch: decode batch payload: %w", err)
	}

	cmp, err := d.store.GetCampaign(ctx, p.CampaignID, p.SiteID)
	if err != nil {
		return fmt.Errorf("dispatch: load campaign %d site %d: %w", p.CampaignID, p.SiteID, err)
	}
	if cmp == nil {
		log.Printf("[Dispatch] batch for unknown campaign %d site %d, dropping", p.CampaignID, p.SiteID)
		return nil
	}

	var result BatchResult
	for i, id := range p.CustomerIDs {
		d.sendToCustomer(ctx, cmp, id, p.SendSMS, p.SendEmail, &result)
		d.queue.SetProgress(ctx, job.ID, i+1, len(p.CustomerIDs))
	}

	log.Printf("[Dispatch] batch done for campaign %d site %d: sms=%d email=%d skipped=%d send_errors=%d errors=%d",
		p.CampaignID, p.SiteID, result.SMSSent, result.EmailSent, result.Skipped, result.SendErrors, result.Errors)
	return nil
}

func (d *Dispatcher) sendToCustomer(ctx context.Context, cmp *campaign.Campaign, id uuid.UUID, sendSMS, sendEmail bool, result *BatchResult) {
	cust, err := d.store.GetCustomer(ctx, id)
	if err != nil {
		logger.Error("load customer failed", "customer_id", id.String(), "error", err.Error())
		result.Errors++
		return
	}
	if cust == nil {
		logger.Warn("customer missing from batch", "customer_id", id.String())
		result.Errors++
		return
	}

	if sendSMS && cust.SMSPending() && cmp.HasSMSTemplate() {
		d.sendSMS(ctx, cmp, cust, result)
	}
	if sendEmail && cust.EmailPending() && cmp.HasEmailTemplate() {
		d.sendEmail(ctx, cmp, cust, result)
	}
}

func (d *Dispatcher) sendSMS(ctx context.Context, cmp *campaign.Campaign, cust *campaign.Customer, result *BatchResult) {
	message, err := d.renderer.SMSMessage(ctx, cmp, cust)
	if err != nil {
		logger.Error("sms render failed",
			"campaign_id", fmt.Sprint(cmp.ID), "customer_id", cust.ID.String(), "error", err.Error())
		result.SendErrors++
		return
	}

	if !d.sms.Available() {
		logger.Warn("sms gateway unavailable", "customer_id", cust.ID.String())
		result.SendErrors++
		return
	}

	senderID := cmp.SenderID
	if senderID == "" {
		senderID = d.senderID
	}
	if !d.sms.Send(ctx, cust.SMS, message, d.language, senderID, "survey-invite") {
		logger.Warn("sms send failed", "sms", logger.RedactPhone(cust.SMS), "customer_id", cust.ID.String())
		result.SendErrors++
		return
	}

	marked, err := d.store.MarkSMSSent(ctx, cust.ID, time.Now().UTC())
	if err != nil {
		logger.Error("mark sms sent failed", "customer_id", cust.ID.String(), "error", err.Error())
		result.Errors++
		return
	}
	if !marked {
		// another run claimed the timestamp between selection and send
		result.Skipped++
		return
	}
	result.SMSSent++
}

func (d *Dispatcher) sendEmail(ctx context.Context, cmp *campaign.Campaign, cust *campaign.Customer, result *BatchResult) {
	msg, err := d.renderer.EmailMessage(ctx, cmp, cust)
	if err != nil {
		logger.Error("email render failed",
			"campaign_id", fmt.Sprint(cmp.ID), "customer_id", cust.ID.String(), "error", err.Error())
		result.SendErrors++
		return
	}

	if !d.email.Send(ctx, msg) {
		logger.Warn("email send failed", "email", logger.RedactEmail(cust.Email), "customer_id", cust.ID.String())
		result.SendErrors++
		return
	}

	marked, err := d.store.MarkEmailSent(ctx, cust.ID, time.Now().UTC())
	if err != nil {
		logger.Error("mark email sent failed", "customer_id", cust.ID.String(), "error", err.Error())
		result.Errors++
		return
	}
	if !marked {
		result.Skipped++
		return
	}
	result.EmailSent++
}
