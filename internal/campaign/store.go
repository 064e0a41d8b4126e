package campaign

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/LindemannRock/survey-campaigns/internal/invite"
)

// ErrNoContact is returned when a customer has neither email nor phone.
var ErrNoContact = errors.New("campaign: customer needs an email address or phone number")

// Store provides database operations for campaigns and customers.
type Store struct {
	db    *sql.DB
	codes *invite.Generator
}

// NewStore creates a new campaign store.
func NewStore(db *sql.DB) *Store {
	s := &Store{db: db}
	s.codes = invite.NewGenerator(s)
	return s
}

// =============================================================================
// CAMPAIGNS
// =============================================================================

const campaignColumns = `id, site_id, campaign_type, form_id,
	invitation_delay_period, invitation_expiry_period,
	email_invitation_subject, email_invitation_message,
	sms_invitation_message, sender_id, created_at, updated_at`

// GetCampaign retrieves a campaign for a specific site.
// Returns (nil, nil) when the campaign is not configured for that site.
func (s *Store) GetCampaign(ctx context.Context, id, siteID int64) (*Campaign, error) {
	query := `SELECT ` + campaignColumns + `
		FROM survey_campaigns WHERE id = $1 AND site_id = $2`

	c := &Campaign{}
	err := s.db.QueryRowContext(ctx, query, id, siteID).Scan(
		&c.ID, &c.SiteID, &c.CampaignType, &c.FormID,
		&c.InvitationDelayPeriod, &c.InvitationExpiryPeriod,
		&c.EmailInvitationSubject, &c.EmailInvitationMessage,
		&c.SMSInvitationMessage, &c.SenderID, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

// SaveCampaign inserts or updates the per-site campaign configuration.
func (s *Store) SaveCampaign(ctx context.Context, c *Campaign) error {
	now := time.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	query := `INSERT INTO survey_campaigns (id, site_id, campaign_type, form_id,
			invitation_delay_period, invitation_expiry_period,
			email_invitation_subject, email_invitation_message,
			sms_invitation_message, sender_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id, site_id) DO UPDATE SET
			campaign_type = EXCLUDED.campaign_type,
			form_id = EXCLUDED.form_id,
			invitation_delay_period = EXCLUDED.invitation_delay_period,
			invitation_expiry_period = EXCLUDED.invitation_expiry_period,
			email_invitation_subject = EXCLUDED.email_invitation_subject,
			email_invitation_message = EXCLUDED.email_invitation_message,
			sms_invitation_message = EXCLUDED.sms_invitation_message,
			sender_id = EXCLUDED.sender_id,
			updated_at = EXCLUDED.updated_at`

	_, err := s.db.ExecContext(ctx, query, c.ID, c.SiteID, c.CampaignType, c.FormID,
		c.InvitationDelayPeriod, c.InvitationExpiryPeriod,
		c.EmailInvitationSubject, c.EmailInvitationMessage,
		c.SMSInvitationMessage, c.SenderID, c.CreatedAt, c.UpdatedAt)
	return err
}

// DeleteCampaign removes a campaign's site configuration and all of its
// customers (the customer table cascades on the campaign foreign key pair).
func (s *Store) DeleteCampaign(ctx context.Context, id, siteID int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM survey_campaigns WHERE id = $1 AND site_id = $2`, id, siteID)
	return err
}

// CampaignSites returns every site id a campaign is configured for.
func (s *Store) CampaignSites(ctx context.Context, id int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT site_id FROM survey_campaigns WHERE id = $1 ORDER BY site_id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sites []int64
	for rows.Next() {
		var siteID int64
		if err := rows.Scan(&siteID); err != nil {
			return nil, err
		}
		sites = append(sites, siteID)
	}
	return sites, rows.Err()
}

// AllCampaigns returns every configured (campaign, site) pair.
func (s *Store) AllCampaigns(ctx context.Context) ([]*Campaign, error) {
	query := `SELECT ` + campaignColumns + `
		FROM survey_campaigns ORDER BY id, site_id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var campaigns []*Campaign
	for rows.Next() {
		c := &Campaign{}
		err := rows.Scan(&c.ID, &c.SiteID, &c.CampaignType, &c.FormID,
			&c.InvitationDelayPeriod, &c.InvitationExpiryPeriod,
			&c.EmailInvitationSubject, &c.EmailInvitationMessage,
			&c.SMSInvitationMessage, &c.SenderID, &c.CreatedAt, &c.UpdatedAt)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

// =============================================================================
// CUSTOMERS
// =============================================================================

const customerColumns = `id, campaign_id, site_id, name, email,
	email_invitation_code, email_send_date, email_open_date,
	sms, sms_invitation_code, sms_send_date, sms_open_date,
	submission_id, invitation_expiry_date, created_at, updated_at`

func scanCustomer(row interface{ Scan(...any) error }) (*Customer, error) {
	c := &Customer{}
	var email, sms sql.NullString
	var submissionID sql.NullInt64
	err := row.Scan(
		&c.ID, &c.CampaignID, &c.SiteID, &c.Name, &email,
		&c.EmailInvitationCode, &c.EmailSendDate, &c.EmailOpenDate,
		&sms, &c.SMSInvitationCode, &c.SMSSendDate, &c.SMSOpenDate,
		&submissionID, &c.InvitationExpiryDate, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.Email = email.String
	c.SMS = sms.String
	c.SubmissionID = submissionID.Int64
	return c, nil
}

// CreateCustomer inserts a new customer. Both invitation codes are filled
// with one freshly generated unique code (a customer shares one code across
// channels unless set explicitly), and the invitation expiry date is
// computed from the campaign's expiry period when configured.
func (s *Store) CreateCustomer(ctx context.Context, c *Customer) error {
	if !c.DispatchEligible() {
		return ErrNoContact
	}

	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	now := time.Now()
	c.CreatedAt = now
	c.UpdatedAt = now
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))

	if c.EmailInvitationCode == "" || c.SMSInvitationCode == "" {
		code, err := s.codes.Unique(ctx)
		if err != nil {
			return err
		}
		if c.EmailInvitationCode == "" {
			c.EmailInvitationCode = code
		}
		if c.SMSInvitationCode == "" {
			c.SMSInvitationCode = code
		}
	}

	if c.InvitationExpiryDate == nil {
		camp, err := s.GetCampaign(ctx, c.CampaignID, c.SiteID)
		if err != nil {
			return err
		}
		if camp != nil && camp.InvitationExpiryPeriod != "" {
			if expiry, err := AddPeriod(now, camp.InvitationExpiryPeriod); err == nil {
				c.InvitationExpiryDate = &expiry
			}
		}
	}

	query := `INSERT INTO survey_customers (id, campaign_id, site_id, name, email,
			email_invitation_code, sms, sms_invitation_code,
			invitation_expiry_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, NULLIF($7, ''), $8, $9, $10, $11)`

	_, err := s.db.ExecContext(ctx, query, c.ID, c.CampaignID, c.SiteID, c.Name,
		c.Email, c.EmailInvitationCode, c.SMS, c.SMSInvitationCode,
		c.InvitationExpiryDate, c.CreatedAt, c.UpdatedAt)
	return err
}

// GetCustomer retrieves a customer by id. Returns (nil, nil) when absent.
func (s *Store) GetCustomer(ctx context.Context, id uuid.UUID) (*Customer, error) {
	query := `SELECT ` + customerColumns + ` FROM survey_customers WHERE id = $1`
	c, err := scanCustomer(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

// DeleteCustomer removes a customer by id. Returns whether a row existed.
func (s *Store) DeleteCustomer(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM survey_customers WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// CustomerByInvitationCode looks a customer up by either channel's code.
func (s *Store) CustomerByInvitationCode(ctx context.Context, code string) (*Customer, error) {
	query := `SELECT ` + customerColumns + ` FROM survey_customers
		WHERE email_invitation_code = $1 OR sms_invitation_code = $1`
	c, err := scanCustomer(s.db.QueryRowContext(ctx, query, code))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

// CodeExists reports whether a code is already present in either code
// column. Satisfies invite.CodeChecker.
func (s *Store) CodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS (
		SELECT 1 FROM survey_customers
		WHERE email_invitation_code = $1 OR sms_invitation_code = $1)`, code).Scan(&exists)
	return exists, err
}

// =============================================================================
// DISPATCH SELECTION AND SEND MARKING
// =============================================================================

// PendingCustomerIDs returns the ids of customers still owed an invitation
// on at least one of the requested channels, in insertion order. A channel
// only counts when its campaign template is configured; if no channel
// applies the result is empty (not an error).
func (s *Store) PendingCustomerIDs(ctx context.Context, c *Campaign, sendSMS, sendEmail bool) ([]uuid.UUID, error) {
	var conds []string
	if sendSMS && c.HasSMSTemplate() {
		conds = append(conds, `(sms IS NOT NULL AND sms <> '' AND sms_send_date IS NULL)`)
	}
	if sendEmail && c.HasEmailTemplate() {
		conds = append(conds, `(email IS NOT NULL AND email <> '' AND email_send_date IS NULL)`)
	}
	if len(conds) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`SELECT id FROM survey_customers
		WHERE campaign_id = $1 AND site_id = $2 AND (%s)
		ORDER BY created_at, id`, strings.Join(conds, " OR "))

	rows, err := s.db.QueryContext(ctx, query, c.ID, c.SiteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MarkSMSSent records the SMS send timestamp, but only if no send has been
// recorded yet. The conditional update is the at-most-once guarantee: when
// it reports false, a concurrent dispatch run already claimed the send.
func (s *Store) MarkSMSSent(ctx context.Context, id uuid.UUID, sentAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE survey_customers
		SET sms_send_date = $2, updated_at = $2
		WHERE id = $1 AND sms_send_date IS NULL`, id, sentAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkEmailSent records the email send timestamp under the same
// null-guarded conditional update as MarkSMSSent.
func (s *Store) MarkEmailSent(ctx context.Context, id uuid.UUID, sentAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE survey_customers
		SET email_send_date = $2, updated_at = $2
		WHERE id = $1 AND email_send_date IS NULL`, id, sentAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkOpened records the invitation as opened on both channels.
func (s *Store) MarkOpened(ctx context.Context, id uuid.UUID, openedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE survey_customers
		SET sms_open_date = COALESCE(sms_open_date, $2),
			email_open_date = COALESCE(email_open_date, $2),
			updated_at = $2
		WHERE id = $1`, id, openedAt)
	return err
}

// AttachSubmission links a form submission to the customer owning the
// invitation code. Returns the customer, or (nil, nil) when the code is
// unknown.
func (s *Store) AttachSubmission(ctx context.Context, code string, submissionID int64) (*Customer, error) {
	customer, err := s.CustomerByInvitationCode(ctx, code)
	if err != nil || customer == nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `UPDATE survey_customers
		SET submission_id = $2, updated_at = $3
		WHERE id = $1`, customer.ID, submissionID, time.Now())
	if err != nil {
		return nil, err
	}
	customer.SubmissionID = submissionID
	return customer, nil
}

// SitesWithPendingCustomers returns the distinct site ids of a campaign
// with at least one customer not yet invited on any channel. Used after an
// import commit to decide which sites need a dispatch run.
func (s *Store) SitesWithPendingCustomers(ctx context.Context, campaignID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT site_id FROM survey_customers
		WHERE campaign_id = $1 AND sms_send_date IS NULL AND email_send_date IS NULL
		ORDER BY site_id`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sites []int64
	for rows.Next() {
		var siteID int64
		if err := rows.Scan(&siteID); err != nil {
			return nil, err
		}
		sites = append(sites, siteID)
	}
	return sites, rows.Err()
}

// =============================================================================
// LISTING AND EXPORT
// =============================================================================

// CustomerQuery describes a server-side search/sort/paginate request.
type CustomerQuery struct {
	CampaignID int64
	SiteID     int64
	Search     string
	SortBy     string // name | email | sent | opened | created
	SortDesc   bool
	Limit      int
	Offset     int
}

var sortColumns = map[string]string{
	"name":    "name",
	"email":   "email",
	"sent":    "COALESCE(sms_send_date, email_send_date)",
	"opened":  "COALESCE(sms_open_date, email_open_date)",
	"created": "created_at",
}

// SearchCustomers returns one page of customers plus the total count of
// matches. Sort columns are whitelisted; anything else falls back to
// insertion order.
func (s *Store) SearchCustomers(ctx context.Context, q CustomerQuery) ([]*Customer, int, error) {
	where := `campaign_id = $1 AND site_id = $2`
	args := []any{q.CampaignID, q.SiteID}

	if q.Search != "" {
		where += ` AND (name ILIKE $3 OR email ILIKE $3 OR sms ILIKE $3)`
		args = append(args, "%"+q.Search+"%")
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM survey_customers WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	orderBy, ok := sortColumns[q.SortBy]
	if !ok {
		orderBy = "created_at"
	}
	dir := "ASC"
	if q.SortDesc {
		dir = "DESC"
	}

	if q.Limit <= 0 {
		q.Limit = 50
	}

	query := fmt.Sprintf(`SELECT %s FROM survey_customers
		WHERE %s ORDER BY %s %s, id LIMIT %d OFFSET %d`,
		customerColumns, where, orderBy, dir, q.Limit, q.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var customers []*Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, 0, err
		}
		customers = append(customers, c)
	}
	return customers, total, rows.Err()
}

// CustomersByDateRange returns a campaign/site's customers created within
// the given date range parameter, newest first. Used by exports.
func (s *Store) CustomersByDateRange(ctx context.Context, campaignID, siteID int64, dateRange string, now time.Time) ([]*Customer, error) {
	start, end := DateRange(dateRange, now)

	query := `SELECT ` + customerColumns + ` FROM survey_customers
		WHERE campaign_id = $1 AND site_id = $2
		  AND created_at >= $3 AND created_at <= $4
		ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, campaignID, siteID, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var customers []*Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		customers = append(customers, c)
	}
	return customers, rows.Err()
}
