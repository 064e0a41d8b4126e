// Package render produces invitation content from campaign templates using
// the Liquid template language.
package render

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/osteele/liquid"

	"github.com/LindemannRock/survey-campaigns/internal/campaign"
	"github.com/LindemannRock/survey-campaigns/internal/gateway"
)

// LinkShortener shortens survey links. Failures return the input unchanged.
type LinkShortener interface {
	Shorten(ctx context.Context, longURL string) string
}

// Config carries the sender identity and link construction settings.
type Config struct {
	SurveyBaseURL   string
	DefaultLanguage string
	FromEmail       string
	FromName        string
	ReplyTo         string
}

// Engine renders SMS bodies and email subject/body pairs. Parsed templates
// are cached by source text.
type Engine struct {
	engine    *liquid.Engine
	cache     sync.Map // map[string]*liquid.Template
	shortener LinkShortener
	cfg       Config
}

func NewEngine(shortener LinkShortener, cfg Config) *Engine {
	return &Engine{
		engine:    liquid.NewEngine(),
		shortener: shortener,
		cfg:       cfg,
	}
}

// SurveyLink builds the invitation link for one channel's code.
func (e *Engine) SurveyLink(ctx context.Context, cmp *campaign.Campaign, code string) string {
	link := fmt.Sprintf("%s/%s?code=%s", e.cfg.SurveyBaseURL, url.PathEscape(cmp.FormID), url.QueryEscape(code))
	if e.shortener != nil {
		return e.shortener.Shorten(ctx, link)
	}
	return link
}

// SMSMessage renders the campaign's SMS template for one customer. The
// survey link carries the SMS channel's invitation code.
func (e *Engine) SMSMessage(ctx context.Context, cmp *campaign.Campaign, cust *campaign.Customer) (string, error) {
	return e.render(cmp.SMSInvitationMessage, e.bindings(ctx, cmp, cust, cust.SMSInvitationCode))
}

// EmailMessage renders the campaign's subject and body templates into a
// sendable message. The survey link carries the email channel's code.
func (e *Engine) EmailMessage(ctx context.Context, cmp *campaign.Campaign, cust *campaign.Customer) (*gateway.Message, error) {
	bindings := e.bindings(ctx, cmp, cust, cust.EmailInvitationCode)

	subject, err := e.render(cmp.EmailInvitationSubject, bindings)
	if err != nil {
		return nil, fmt.Errorf("render subject: %w", err)
	}
	body, err := e.render(cmp.EmailInvitationMessage, bindings)
	if err != nil {
		return nil, fmt.Errorf("render body: %w", err)
	}

	return &gateway.Message{
		FromEmail: e.cfg.FromEmail,
		FromName:  e.cfg.FromName,
		To:        cust.Email,
		ReplyTo:   e.cfg.ReplyTo,
		Subject:   subject,
		HTML:      body,
	}, nil
}

func (e *Engine) bindings(ctx context.Context, cmp *campaign.Campaign, cust *campaign.Customer, code string) map[string]interface{} {
	return map[string]interface{}{
		"customer_name":   cust.Name,
		"survey_link":     e.SurveyLink(ctx, cmp, code),
		"defaultLanguage": e.cfg.DefaultLanguage,
	}
}

func (e *Engine) render(source string, bindings map[string]interface{}) (string, error) {
	tpl, err := e.template(source)
	if err != nil {
		return "", err
	}
	out, err := tpl.RenderString(bindings)
	if err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return out, nil
}

func (e *Engine) template(source string) (*liquid.Template, error) {
	if cached, ok := e.cache.Load(source); ok {
		return cached.(*liquid.Template), nil
	}
	tpl, err := e.engine.ParseString(source)
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	e.cache.Store(source, tpl)
	return tpl, nil
}
