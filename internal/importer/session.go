package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// =============================================================================
// IMPORT SESSIONS - Redis-Persisted Multi-Step State
// =============================================================================
// An import walks through four explicit phases, each advancing the session
// state. The session is the single source of truth between HTTP requests, so
// a browser reload (or a worker retry) picks up exactly where the user left
// off instead of losing the parsed file.

const (
	StateUploaded  = "uploaded"
	StateMapped    = "mapped"
	StatePreviewed = "previewed"
	StateCommitted = "committed"
)

// SessionTTL bounds how long an abandoned import lingers in Redis.
const SessionTTL = 24 * time.Hour

var (
	ErrSessionNotFound = errors.New("importer: session not found or expired")
	ErrWrongState      = errors.New("importer: session is not in the required state")
)

// FieldMapping maps CSV column indexes to customer fields. An index of -1
// means the field is not present in the file.
type FieldMapping struct {
	Name     int `json:"name"`
	Email    int `json:"email"`
	SMS      int `json:"sms"`
	Language int `json:"language"`
}

// NewFieldMapping returns a mapping with every field unmapped.
func NewFieldMapping() FieldMapping {
	return FieldMapping{Name: -1, Email: -1, SMS: -1, Language: -1}
}

// ValidRow is a fully validated row ready to be committed.
type ValidRow struct {
	RowNum int    `json:"row_num"`
	SiteID int64  `json:"site_id"`
	Name   string `json:"name"`
	Email  string `json:"email,omitempty"`
	SMS    string `json:"sms,omitempty"`
}

// DuplicateRow is a row rejected because an earlier row in the same file
// already claimed its contact key.
type DuplicateRow struct {
	RowNum   int    `json:"row_num"`
	FirstRow int    `json:"first_row"`
	Key      string `json:"key"`
}

// ErrorRow is a row rejected by field validation.
type ErrorRow struct {
	RowNum int    `json:"row_num"`
	Reason string `json:"reason"`
}

// Preview is the categorized partition of a mapped file.
type Preview struct {
	Valid      []ValidRow     `json:"valid"`
	Duplicates []DuplicateRow `json:"duplicates"`
	Errors     []ErrorRow     `json:"errors"`
	TotalRows  int            `json:"total_rows"`
}

// CommitResult reports the outcome of a best-effort commit.
type CommitResult struct {
	Created  int        `json:"created"`
	Failed   []ErrorRow `json:"failed"`
	SiteIDs  []int64    `json:"site_ids"`
	Enqueued bool       `json:"enqueued"`
}

// Session carries an import through upload, mapping, preview and commit.
type Session struct {
	ID         string    `json:"id"`
	CampaignID int64     `json:"campaign_id"`
	State      string    `json:"state"`
	Filename   string    `json:"filename"`
	Delimiter  string    `json:"delimiter"`

	Headers []string   `json:"headers"`
	Rows    [][]string `json:"rows"`

	Mapping     FieldMapping `json:"mapping"`
	DefaultSite int64        `json:"default_site"`

	Preview *Preview      `json:"preview,omitempty"`
	Result  *CommitResult `json:"result,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SessionStore persists sessions in Redis with a sliding TTL.
type SessionStore struct {
	redis *redis.Client
}

func NewSessionStore(rdb *redis.Client) *SessionStore {
	return &SessionStore{redis: rdb}
}

func sessionKey(id string) string {
	return "import:session:" + id
}

// Create allocates a new session in the uploaded state.
func (ss *SessionStore) Create(ctx context.Context, campaignID int64, filename string) (*Session, error) {
	now := time.Now().UTC()
	sess := &Session{
		ID:         uuid.New().String(),
		CampaignID: campaignID,
		State:      StateUploaded,
		Filename:   filename,
		Mapping:    NewFieldMapping(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := ss.Save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Save serializes the session and refreshes its TTL.
func (ss *SessionStore) Save(ctx context.Context, sess *Session) error {
	sess.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := ss.redis.Set(ctx, sessionKey(sess.ID), data, SessionTTL).Err(); err != nil {
		return fmt.Errorf("save session %s: %w", sess.ID, err)
	}
	return nil
}

// Get loads a session by id. Expired or unknown ids return ErrSessionNotFound.
func (ss *SessionStore) Get(ctx context.Context, id string) (*Session, error) {
	data, err := ss.redis.Get(ctx, sessionKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &sess, nil
}

// Delete removes a session once the caller is done with it.
func (ss *SessionStore) Delete(ctx context.Context, id string) error {
	return ss.redis.Del(ctx, sessionKey(id)).Err()
}
