// Package campaign holds the campaign/customer data model and its
// Postgres store. A campaign is per-site: the same campaign id can carry
// different templates per site, and an absent (id, site) row simply means
// the campaign is not configured for that site.
package campaign

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Campaign is the per-site invitation configuration.
type Campaign struct {
	ID     int64 `json:"id"`
	SiteID int64 `json:"siteId"`

	CampaignType string `json:"campaignType,omitempty"`
	FormID       string `json:"formId,omitempty"`

	// ISO-8601 style periods, e.g. "P2D" or "PT12H"
	InvitationDelayPeriod  string `json:"invitationDelayPeriod,omitempty"`
	InvitationExpiryPeriod string `json:"invitationExpiryPeriod,omitempty"`

	EmailInvitationSubject string `json:"emailInvitationSubject,omitempty"`
	EmailInvitationMessage string `json:"emailInvitationMessage,omitempty"`
	SMSInvitationMessage   string `json:"smsInvitationMessage,omitempty"`
	SenderID               string `json:"senderId,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// HasSMSTemplate reports whether SMS invitations can be rendered at all.
func (c *Campaign) HasSMSTemplate() bool {
	return strings.TrimSpace(c.SMSInvitationMessage) != ""
}

// HasEmailTemplate reports whether email invitations can be rendered at all.
// Both subject and body are required.
func (c *Campaign) HasEmailTemplate() bool {
	return strings.TrimSpace(c.EmailInvitationMessage) != "" &&
		strings.TrimSpace(c.EmailInvitationSubject) != ""
}

// Customer is a contact belonging to a campaign, tracked per channel.
type Customer struct {
	ID         uuid.UUID `json:"id"`
	CampaignID int64     `json:"campaignId"`
	SiteID     int64     `json:"siteId"`

	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	SMS   string `json:"sms,omitempty"`

	EmailInvitationCode string     `json:"emailInvitationCode,omitempty"`
	EmailSendDate       *time.Time `json:"emailSendDate,omitempty"`
	EmailOpenDate       *time.Time `json:"emailOpenDate,omitempty"`

	SMSInvitationCode string     `json:"smsInvitationCode,omitempty"`
	SMSSendDate       *time.Time `json:"smsSendDate,omitempty"`
	SMSOpenDate       *time.Time `json:"smsOpenDate,omitempty"`

	SubmissionID         int64      `json:"submissionId,omitempty"`
	InvitationExpiryDate *time.Time `json:"invitationExpiryDate,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DispatchEligible reports whether the customer can be invited at all.
func (c *Customer) DispatchEligible() bool {
	return c.Email != "" || c.SMS != ""
}

// SMSPending reports whether the SMS channel is still owed an invitation.
func (c *Customer) SMSPending() bool {
	return c.SMS != "" && c.SMSSendDate == nil
}

// EmailPending reports whether the email channel is still owed an invitation.
func (c *Customer) EmailPending() bool {
	return c.Email != "" && c.EmailSendDate == nil
}

// HasSubmission reports whether a survey submission was linked back.
// A linked submission does not block further invitation attempts.
func (c *Customer) HasSubmission() bool {
	return c.SubmissionID != 0
}

// InvitationExpired reports whether the invitation window has passed.
func (c *Customer) InvitationExpired(now time.Time) bool {
	if c.InvitationExpiryDate == nil {
		return false
	}
	return c.InvitationExpiryDate.Before(now)
}

// emailRe accepts the pragmatic address shape shared by the API and the
// import pipeline. Deliverability is the gateway's problem, not ours.
var emailRe = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// ValidEmail reports whether s looks like an email address worth storing.
func ValidEmail(s string) bool {
	return emailRe.MatchString(s)
}

// periodRe matches the ISO-8601 duration subset used for invitation
// delay/expiry periods: PnYnMnDTnHnMnS with every component optional.
var periodRe = regexp.MustCompile(
	`^P(?:(\d+)Y)?(?:(\d+)M)?(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?)?$`)

// AddPeriod adds an ISO-8601 period string to a time. Date components use
// calendar arithmetic (AddDate), time components plain durations.
func AddPeriod(t time.Time, period string) (time.Time, error) {
	p := strings.TrimSpace(period)
	if p == "" || p == "P" {
		return t, fmt.Errorf("campaign: empty period")
	}
	m := periodRe.FindStringSubmatch(p)
	if m == nil {
		return t, fmt.Errorf("campaign: invalid period %q", p)
	}

	atoi := func(s string) int {
		if s == "" {
			return 0
		}
		n, _ := strconv.Atoi(s)
		return n
	}

	years, months, days := atoi(m[1]), atoi(m[2]), atoi(m[3])
	hours, mins, secs := atoi(m[4]), atoi(m[5]), atoi(m[6])

	out := t.AddDate(years, months, days)
	out = out.Add(time.Duration(hours)*time.Hour +
		time.Duration(mins)*time.Minute +
		time.Duration(secs)*time.Second)
	return out, nil
}

// Date range parameters accepted by listing/export endpoints.
const (
	RangeToday      = "today"
	RangeYesterday  = "yesterday"
	RangeLast7Days  = "last7days"
	RangeLast30Days = "last30days"
	RangeLast90Days = "last90days"
	RangeAll        = "all"
)

// DateRange resolves a range parameter into [start, end] bounds.
// Unknown values fall back to the last 30 days; "all" is implemented as a
// 365-day lookback. Start is truncated to midnight and end extended to
// end-of-day, matching how exports have always been filtered.
func DateRange(param string, now time.Time) (time.Time, time.Time) {
	end := now

	var start time.Time
	switch param {
	case RangeToday:
		start = now
	case RangeYesterday:
		start = now.AddDate(0, 0, -1)
		end = start
	case RangeLast7Days:
		start = now.AddDate(0, 0, -7)
	case RangeLast30Days:
		start = now.AddDate(0, 0, -30)
	case RangeLast90Days:
		start = now.AddDate(0, 0, -90)
	case RangeAll:
		start = now.AddDate(0, 0, -365)
	default:
		start = now.AddDate(0, 0, -30)
	}

	start = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, start.Location())
	end = time.Date(end.Year(), end.Month(), end.Day(), 23, 59, 59, 0, end.Location())
	return start, end
}
