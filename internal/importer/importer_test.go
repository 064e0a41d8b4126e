package importer

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LindemannRock/survey-campaigns/internal/campaign"
	"github.com/LindemannRock/survey-campaigns/internal/phone"
)

type fakeStore struct {
	created  []*campaign.Customer
	failName string
	pending  []int64
}

func (f *fakeStore) CreateCustomer(_ context.Context, c *campaign.Customer) error {
	if f.failName != "" && c.Name == f.failName {
		return fmt.Errorf("store rejected %s", c.Name)
	}
	f.created = append(f.created, c)
	return nil
}

func (f *fakeStore) SitesWithPendingCustomers(_ context.Context, _ int64) ([]int64, error) {
	return f.pending, nil
}

type fakeQueue struct {
	enqueued [][2]int64
}

func (f *fakeQueue) EnqueueDispatch(_ context.Context, campaignID, siteID int64, _, _ bool) error {
	f.enqueued = append(f.enqueued, [2]int64{campaignID, siteID})
	return nil
}

func newTestPipeline(t *testing.T) (*Pipeline, *fakeStore, *fakeQueue) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	store := &fakeStore{}
	queue := &fakeQueue{}
	p := NewPipeline(NewSessionStore(rdb), store, queue, phone.DefaultRules(), nil, 1)
	return p, store, queue
}

func TestDetectDelimiter(t *testing.T) {
	tests := []struct {
		name string
		data string
		want rune
	}{
		{"comma", "name,email,phone\na,b,c\n", ','},
		{"semicolon", "name;email;phone\na;b;c\n", ';'},
		{"tab", "name\temail\tphone\na\tb\tc\n", '\t'},
		{"pipe", "name|email|phone\na|b|c\n", '|'},
		{"comma on no delimiter", "name\nvalue\n", ','},
		{"majority wins over later lines", "a;b\nc;d\ne;f\ng,h,i,j,k,l,m,n\n", ';'},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectDelimiter(tt.data))
		})
	}
}

func TestUploadRejectsOversizeFile(t *testing.T) {
	p, _, _ := newTestPipeline(t)

	var sb strings.Builder
	sb.WriteString("name,phone\n")
	for i := 0; i < MaxDataRows+1; i++ {
		fmt.Fprintf(&sb, "Customer %d,9655512%04d\n", i, i%10000)
	}

	_, err := p.Upload(context.Background(), 7, "big.csv", strings.NewReader(sb.String()))
	assert.ErrorIs(t, err, ErrTooManyRows)
}

func TestUploadRejectsEmptyAndSingleColumn(t *testing.T) {
	p, _, _ := newTestPipeline(t)
	ctx := context.Background()

	_, err := p.Upload(ctx, 7, "empty.csv", strings.NewReader(""))
	assert.ErrorIs(t, err, ErrEmptyFile)

	_, err = p.Upload(ctx, 7, "headeronly.csv", strings.NewReader("name,phone\n"))
	assert.ErrorIs(t, err, ErrEmptyFile)

	_, err = p.Upload(ctx, 7, "onecol.csv", strings.NewReader("name\nMaha\nNoor\n"))
	assert.ErrorIs(t, err, ErrSingleColumn)
}

func TestMapRequiresNameAndContact(t *testing.T) {
	p, _, _ := newTestPipeline(t)
	ctx := context.Background()

	sess, err := p.Upload(ctx, 7, "c.csv", strings.NewReader("name,phone\nMaha,51234567\n"))
	require.NoError(t, err)

	_, _, err = p.Map(ctx, sess.ID, FieldMapping{Name: -1, Email: -1, SMS: 1, Language: -1}, 1)
	assert.ErrorIs(t, err, ErrNameNotMapped)

	_, _, err = p.Map(ctx, sess.ID, FieldMapping{Name: 0, Email: -1, SMS: -1, Language: -1}, 1)
	assert.ErrorIs(t, err, ErrContactNotMapped)

	mapped, sample, err := p.Map(ctx, sess.ID, FieldMapping{Name: 0, Email: -1, SMS: 1, Language: -1}, 1)
	require.NoError(t, err)
	assert.Equal(t, StateMapped, mapped.State)
	assert.Len(t, sample, 1)
}

func TestPreviewDuplicatePhoneWithinFile(t *testing.T) {
	p, _, _ := newTestPipeline(t)
	ctx := context.Background()

	csvData := "name,phone\n" +
		"Maha,51234567\n" +
		"Noor,+96551234567\n" + // same number after normalization
		"Dana,55511122\n"
	sess, err := p.Upload(ctx, 7, "c.csv", strings.NewReader(csvData))
	require.NoError(t, err)
	_, _, err = p.Map(ctx, sess.ID, FieldMapping{Name: 0, Email: -1, SMS: 1, Language: -1}, 1)
	require.NoError(t, err)

	sess, err = p.Preview(ctx, sess.ID)
	require.NoError(t, err)
	pv := sess.Preview
	require.NotNil(t, pv)

	assert.Len(t, pv.Valid, 2)
	require.Len(t, pv.Duplicates, 1)
	assert.Equal(t, 3, pv.Duplicates[0].RowNum)
	assert.Equal(t, 2, pv.Duplicates[0].FirstRow)
	assert.Empty(t, pv.Errors)
}

func TestPreviewSamePhoneDifferentSiteIsNotDuplicate(t *testing.T) {
	p, _, _ := newTestPipeline(t)
	ctx := context.Background()

	csvData := "name,phone,language\n" +
		"Maha,51234567,en\n" +
		"Maha,51234567,ar\n"
	sess, err := p.Upload(ctx, 7, "c.csv", strings.NewReader(csvData))
	require.NoError(t, err)
	_, _, err = p.Map(ctx, sess.ID, FieldMapping{Name: 0, Email: -1, SMS: 1, Language: 2}, 1)
	require.NoError(t, err)

	sess, err = p.Preview(ctx, sess.ID)
	require.NoError(t, err)

	require.Len(t, sess.Preview.Valid, 2)
	assert.Equal(t, int64(1), sess.Preview.Valid[0].SiteID)
	assert.Equal(t, int64(2), sess.Preview.Valid[1].SiteID)
	assert.Empty(t, sess.Preview.Duplicates)
}

func TestPreviewRowValidation(t *testing.T) {
	p, _, _ := newTestPipeline(t)
	ctx := context.Background()

	csvData := "name,email,phone\n" +
		",skipped@example.com,\n" + // row 2: no name
		"Noor,,\n" + // row 3: no contact at all
		"Dana,,5x1234\n" + // row 4: letters in phone
		"Sara,not-an-email,\n" + // row 5: bad email
		"Hind,HIND@Example.COM,\n" // row 6: valid, email lowercased
	sess, err := p.Upload(ctx, 7, "c.csv", strings.NewReader(csvData))
	require.NoError(t, err)
	_, _, err = p.Map(ctx, sess.ID, FieldMapping{Name: 0, Email: 1, SMS: 2, Language: -1}, 1)
	require.NoError(t, err)

	sess, err = p.Preview(ctx, sess.ID)
	require.NoError(t, err)
	pv := sess.Preview

	require.Len(t, pv.Valid, 1)
	assert.Equal(t, "hind@example.com", pv.Valid[0].Email)

	require.Len(t, pv.Errors, 4)
	assert.Equal(t, 2, pv.Errors[0].RowNum)
	assert.Contains(t, pv.Errors[0].Reason, "name")
	assert.Equal(t, 4, pv.Errors[2].RowNum)
	assert.Contains(t, pv.Errors[2].Reason, "letters")
	assert.Equal(t, 5, pv.Errors[3].RowNum)
	assert.Contains(t, pv.Errors[3].Reason, "email")
}

func TestCommitBestEffortAndEnqueue(t *testing.T) {
	p, store, queue := newTestPipeline(t)
	ctx := context.Background()

	csvData := "name,phone,language\n" +
		"Maha,51234567,en\n" +
		"Broken,55511122,en\n" +
		"Noor,55599900,ar\n"
	sess, err := p.Upload(ctx, 7, "c.csv", strings.NewReader(csvData))
	require.NoError(t, err)
	_, _, err = p.Map(ctx, sess.ID, FieldMapping{Name: 0, Email: -1, SMS: 1, Language: 2}, 1)
	require.NoError(t, err)
	_, err = p.Preview(ctx, sess.ID)
	require.NoError(t, err)

	store.failName = "Broken"
	store.pending = []int64{1, 2}

	result, err := p.Commit(ctx, sess.ID, true)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Created)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, 3, result.Failed[0].RowNum)
	assert.Equal(t, []int64{1, 2}, result.SiteIDs)
	assert.True(t, result.Enqueued)
	assert.ElementsMatch(t, [][2]int64{{7, 1}, {7, 2}}, queue.enqueued)

	// phones land normalized on the created customers
	require.Len(t, store.created, 2)
	assert.Equal(t, "0096551234567", store.created[0].SMS)

	sess, err = p.sessions.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StateCommitted, sess.State)
}

func TestCommitRequiresPreview(t *testing.T) {
	p, _, _ := newTestPipeline(t)
	ctx := context.Background()

	sess, err := p.Upload(ctx, 7, "c.csv", strings.NewReader("name,phone\nMaha,51234567\n"))
	require.NoError(t, err)

	_, err = p.Commit(ctx, sess.ID, false)
	assert.ErrorIs(t, err, ErrWrongState)
}

func TestSessionNotFound(t *testing.T) {
	p, _, _ := newTestPipeline(t)

	_, err := p.Preview(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestJobRunSkipsCommittedSession(t *testing.T) {
	p, store, _ := newTestPipeline(t)
	ctx := context.Background()

	sess, err := p.Upload(ctx, 7, "c.csv", strings.NewReader("name,phone\nMaha,51234567\n"))
	require.NoError(t, err)
	_, _, err = p.Map(ctx, sess.ID, FieldMapping{Name: 0, Email: -1, SMS: 1, Language: -1}, 1)
	require.NoError(t, err)
	_, err = p.Preview(ctx, sess.ID)
	require.NoError(t, err)

	require.NoError(t, p.Run(ctx, Job{SessionID: sess.ID}))
	require.Len(t, store.created, 1)

	// second delivery of the same job is a no-op
	require.NoError(t, p.Run(ctx, Job{SessionID: sess.ID}))
	assert.Len(t, store.created, 1)
}
