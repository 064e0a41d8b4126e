package render

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LindemannRock/survey-campaigns/internal/campaign"
)

type fakeShortener struct{ calls []string }

func (f *fakeShortener) Shorten(_ context.Context, u string) string {
	f.calls = append(f.calls, u)
	return "https://sho.rt/x"
}

func testConfig() Config {
	return Config{
		SurveyBaseURL:   "https://surveys.example.com",
		DefaultLanguage: "en",
		FromEmail:       "surveys@example.com",
		FromName:        "Surveys",
		ReplyTo:         "noreply@example.com",
	}
}

func testCampaign() *campaign.Campaign {
	return &campaign.Campaign{
		ID:                     7,
		SiteID:                 1,
		FormID:                 "nps",
		SMSInvitationMessage:   "Hi {{ customer_name }}, tell us how we did: {{ survey_link }}",
		EmailInvitationSubject: "{{ customer_name }}, how did we do?",
		EmailInvitationMessage: `<a href="{{ survey_link }}">Start</a>`,
	}
}

func testCustomer() *campaign.Customer {
	return &campaign.Customer{
		Name:                "Maha",
		Email:               "maha@example.com",
		SMS:                 "0096551234567",
		SMSInvitationCode:   "smscode12345",
		EmailInvitationCode: "emailcode678",
	}
}

func TestSMSMessageUsesSMSCode(t *testing.T) {
	sh := &fakeShortener{}
	e := NewEngine(sh, testConfig())

	out, err := e.SMSMessage(context.Background(), testCampaign(), testCustomer())
	require.NoError(t, err)

	assert.Equal(t, "Hi Maha, tell us how we did: https://sho.rt/x", out)
	require.Len(t, sh.calls, 1)
	assert.Equal(t, "https://surveys.example.com/nps?code=smscode12345", sh.calls[0])
}

func TestEmailMessageUsesEmailCode(t *testing.T) {
	sh := &fakeShortener{}
	e := NewEngine(sh, testConfig())

	msg, err := e.EmailMessage(context.Background(), testCampaign(), testCustomer())
	require.NoError(t, err)

	assert.Equal(t, "Maha, how did we do?", msg.Subject)
	assert.Equal(t, "maha@example.com", msg.To)
	assert.Equal(t, "surveys@example.com", msg.FromEmail)
	assert.Equal(t, "noreply@example.com", msg.ReplyTo)
	require.Len(t, sh.calls, 1)
	assert.Equal(t, "https://surveys.example.com/nps?code=emailcode678", sh.calls[0])
}

func TestSurveyLinkEscapesFormSlug(t *testing.T) {
	e := NewEngine(nil, testConfig())
	cmp := testCampaign()
	cmp.FormID = "nps survey/2026"

	link := e.SurveyLink(context.Background(), cmp, "smscode12345")
	assert.Equal(t, "https://surveys.example.com/nps%20survey%2F2026?code=smscode12345", link)
}

func TestNilShortenerReturnsFullLink(t *testing.T) {
	e := NewEngine(nil, testConfig())

	out, err := e.SMSMessage(context.Background(), testCampaign(), testCustomer())
	require.NoError(t, err)
	assert.Contains(t, out, "https://surveys.example.com/nps?code=smscode12345")
}

func TestBrokenTemplateReturnsError(t *testing.T) {
	e := NewEngine(nil, testConfig())
	cmp := testCampaign()
	cmp.SMSInvitationMessage = "{% if %}"

	_, err := e.SMSMessage(context.Background(), cmp, testCustomer())
	assert.Error(t, err)
}

func TestTemplateCacheReuse(t *testing.T) {
	e := NewEngine(nil, testConfig())
	cmp := testCampaign()
	cust := testCustomer()

	first, err := e.SMSMessage(context.Background(), cmp, cust)
	require.NoError(t, err)
	second, err := e.SMSMessage(context.Background(), cmp, cust)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
