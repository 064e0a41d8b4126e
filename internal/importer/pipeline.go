package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"strings"

	"github.com/LindemannRock/survey-campaigns/internal/campaign"
	"github.com/LindemannRock/survey-campaigns/internal/phone"
	"github.com/LindemannRock/survey-campaigns/internal/pkg/logger"
)

// =============================================================================
// IMPORT PIPELINE - Upload / Map / Preview / Commit
// =============================================================================

var (
	ErrNameNotMapped    = errors.New("importer: a name column must be mapped")
	ErrContactNotMapped = errors.New("importer: an email or phone column must be mapped")
)

// CustomerStore is the slice of the campaign store the pipeline writes to.
type CustomerStore interface {
	CreateCustomer(ctx context.Context, c *campaign.Customer) error
	SitesWithPendingCustomers(ctx context.Context, campaignID int64) ([]int64, error)
}

// Enqueuer schedules dispatch work after a commit.
type Enqueuer interface {
	EnqueueDispatch(ctx context.Context, campaignID, siteID int64, sendSMS, sendEmail bool) error
}

// Pipeline runs imports against a session store.
type Pipeline struct {
	sessions *SessionStore
	store    CustomerStore
	queue    Enqueuer

	phoneRules    phone.Rules
	languageSites map[string]int64
	defaultSite   int64
}

// NewPipeline wires the pipeline. languageSites maps lowercased language
// values from the file to site ids; unmatched values land on defaultSite.
func NewPipeline(sessions *SessionStore, store CustomerStore, queue Enqueuer, rules phone.Rules, languageSites map[string]int64, defaultSite int64) *Pipeline {
	if languageSites == nil {
		languageSites = map[string]int64{"ar": 2, "en": 1}
	}
	return &Pipeline{
		sessions:      sessions,
		store:         store,
		queue:         queue,
		phoneRules:    rules,
		languageSites: languageSites,
		defaultSite:   defaultSite,
	}
}

// Upload parses the raw file and opens a session. A parse failure aborts the
// whole import and leaves no session behind.
func (p *Pipeline) Upload(ctx context.Context, campaignID int64, filename string, r io.Reader) (*Session, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("importer: read upload: %w", err)
	}

	delimiter := DetectDelimiter(string(data))
	headers, rows, err := parseFile(strings.NewReader(string(data)), delimiter)
	if err != nil {
		return nil, err
	}

	sess, err := p.sessions.Create(ctx, campaignID, filename)
	if err != nil {
		return nil, err
	}
	sess.Delimiter = string(delimiter)
	sess.Headers = headers
	sess.Rows = rows
	if err := p.sessions.Save(ctx, sess); err != nil {
		return nil, err
	}

	log.Printf("[Import] session %s: %q parsed, %d rows, delimiter %q",
		sess.ID, filename, len(rows), delimiter)
	return sess, nil
}

// Map records the column mapping and advances the session. The mapping must
// cover name and at least one contact column. Returns the session with a
// five-row sample so the caller can render a confirmation view.
func (p *Pipeline) Map(ctx context.Context, sessionID string, mapping FieldMapping, defaultSite int64) (*Session, [][]string, error) {
	sess, err := p.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if sess.State != StateUploaded && sess.State != StateMapped {
		return nil, nil, ErrWrongState
	}
	if mapping.Name < 0 {
		return nil, nil, ErrNameNotMapped
	}
	if mapping.Email < 0 && mapping.SMS < 0 {
		return nil, nil, ErrContactNotMapped
	}

	sess.Mapping = mapping
	sess.DefaultSite = defaultSite
	if sess.DefaultSite == 0 {
		sess.DefaultSite = p.defaultSite
	}
	sess.State = StateMapped
	if err := p.sessions.Save(ctx, sess); err != nil {
		return nil, nil, err
	}

	sample := sess.Rows
	if len(sample) > 5 {
		sample = sample[:5]
	}
	return sess, sample, nil
}

// Preview categorizes every row in file order and caches the partition on the
// session, so repeated preview requests re-render without recomputation.
func (p *Pipeline) Preview(ctx context.Context, sessionID string) (*Session, error) {
	sess, err := p.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.State == StateMapped || sess.State == StatePreviewed {
		sess.Preview = p.categorize(sess)
		sess.State = StatePreviewed
		if err := p.sessions.Save(ctx, sess); err != nil {
			return nil, err
		}
		return sess, nil
	}
	return nil, ErrWrongState
}

// categorize partitions rows into valid, duplicate and error sets. Duplicate
// detection is scoped to this file only, keyed by (site, phone) when a phone
// is present and (site, email) otherwise.
func (p *Pipeline) categorize(sess *Session) *Preview {
	pv := &Preview{TotalRows: len(sess.Rows)}
	seen := make(map[string]int)

	for i, row := range sess.Rows {
		rowNum := i + 2 // 1-based, after the header row

		name := cell(row, sess.Mapping.Name)
		email := strings.ToLower(cell(row, sess.Mapping.Email))
		rawPhone := cell(row, sess.Mapping.SMS)
		language := strings.ToLower(cell(row, sess.Mapping.Language))

		if name == "" {
			pv.Errors = append(pv.Errors, ErrorRow{RowNum: rowNum, Reason: "name is missing"})
			continue
		}
		if email == "" && rawPhone == "" {
			pv.Errors = append(pv.Errors, ErrorRow{RowNum: rowNum, Reason: "row has neither an email address nor a phone number"})
			continue
		}

		siteID := sess.DefaultSite
		if sess.Mapping.Language >= 0 {
			if id, ok := p.languageSites[language]; ok {
				siteID = id
			}
		}

		normalizedPhone := ""
		if rawPhone != "" {
			v := p.phoneRules.Validate(rawPhone)
			if !v.Valid {
				pv.Errors = append(pv.Errors, ErrorRow{RowNum: rowNum, Reason: fmt.Sprintf("phone %q: %s", rawPhone, v.Error)})
				continue
			}
			normalizedPhone = p.phoneRules.Normalize(v.Sanitized)
		}

		if email != "" && !campaign.ValidEmail(email) {
			pv.Errors = append(pv.Errors, ErrorRow{RowNum: rowNum, Reason: fmt.Sprintf("invalid email address %q", email)})
			continue
		}

		if normalizedPhone == "" && email == "" {
			pv.Errors = append(pv.Errors, ErrorRow{RowNum: rowNum, Reason: "no usable contact channel after validation"})
			continue
		}

		var key string
		if normalizedPhone != "" {
			key = fmt.Sprintf("%d:phone:%s", siteID, strings.ToLower(normalizedPhone))
		} else {
			key = fmt.Sprintf("%d:email:%s", siteID, email)
		}
		if first, ok := seen[key]; ok {
			pv.Duplicates = append(pv.Duplicates, DuplicateRow{RowNum: rowNum, FirstRow: first, Key: key})
			continue
		}
		seen[key] = rowNum

		pv.Valid = append(pv.Valid, ValidRow{
			RowNum: rowNum,
			SiteID: siteID,
			Name:   name,
			Email:  email,
			SMS:    normalizedPhone,
		})
	}
	return pv
}

// Commit persists the previewed valid rows. Row failures are collected and
// never abort the batch. When queueSending is set, one dispatch unit is
// enqueued per distinct site that still has pending customers.
func (p *Pipeline) Commit(ctx context.Context, sessionID string, queueSending bool) (*CommitResult, error) {
	sess, err := p.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.State != StatePreviewed {
		return nil, ErrWrongState
	}

	result := &CommitResult{}
	sites := make(map[int64]bool)
	for _, row := range sess.Preview.Valid {
		cust := &campaign.Customer{
			CampaignID: sess.CampaignID,
			SiteID:     row.SiteID,
			Name:       row.Name,
			Email:      row.Email,
			SMS:        row.SMS,
		}
		if err := p.store.CreateCustomer(ctx, cust); err != nil {
			logger.Error("import row failed",
				"session", sess.ID, "row", row.RowNum, "error", err.Error())
			result.Failed = append(result.Failed, ErrorRow{RowNum: row.RowNum, Reason: err.Error()})
			continue
		}
		result.Created++
		sites[row.SiteID] = true
	}

	for id := range sites {
		result.SiteIDs = append(result.SiteIDs, id)
	}
	sort.Slice(result.SiteIDs, func(i, j int) bool { return result.SiteIDs[i] < result.SiteIDs[j] })

	if queueSending && p.queue != nil && result.Created > 0 {
		pending, err := p.store.SitesWithPendingCustomers(ctx, sess.CampaignID)
		if err != nil {
			logger.Error("post-import site lookup failed",
				"session", sess.ID, "campaign_id", fmt.Sprint(sess.CampaignID), "error", err.Error())
		} else {
			result.Enqueued = true
			for _, siteID := range pending {
				if !sites[siteID] {
					continue
				}
				if err := p.queue.EnqueueDispatch(ctx, sess.CampaignID, siteID, true, true); err != nil {
					logger.Error("post-import enqueue failed",
						"session", sess.ID, "site_id", fmt.Sprint(siteID), "error", err.Error())
					result.Enqueued = false
				}
			}
		}
	}

	sess.State = StateCommitted
	sess.Result = result
	if err := p.sessions.Save(ctx, sess); err != nil {
		return nil, err
	}

	log.Printf("[Import] session %s: committed %d customers, %d failures across %d sites",
		sess.ID, result.Created, len(result.Failed), len(result.SiteIDs))
	return result, nil
}

// Session loads the current state of an import session.
func (p *Pipeline) Session(ctx context.Context, sessionID string) (*Session, error) {
	return p.sessions.Get(ctx, sessionID)
}
