package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"
)

type HTTPConfig struct {
	BaseURL       string        // Required: provider API root, e.g. https://provider.example/api
	Timeout       time.Duration // Optional: per request timeout (default: 15s)
	RatePerSecond float64       // Optional: shared request budget (default: 5/s)
	Burst         int           // Optional: limiter burst (default: 5)
	Client        *http.Client  // Optional: overrides the default client
}

// HTTPGateway talks to the provider's REST API. A single limiter is shared by
// every account so a bulk job cannot stampede the provider.
type HTTPGateway struct {
	base    *url.URL
	client  *http.Client
	limiter *rate.Limiter
}

var _ Gateway = (*HTTPGateway)(nil)

func NewHTTPGateway(cfg HTTPConfig) (*HTTPGateway, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("provider base url is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse provider base url: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	return &HTTPGateway{
		base:    base,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
	}, nil
}

type sendInviteRequest struct {
	EmailAddresses []string `json:"email_addresses"`
	Role           string   `json:"role"`
	ResendEmails   bool     `json:"resend_emails"`
}

type sendInviteResponse struct {
	AccountInvites []struct {
		ID           string `json:"id"`
		EmailAddress string `json:"email_address"`
	} `json:"account_invites"`
}

type listMembersResponse struct {
	Items []struct {
		ID    string `json:"id"`
		Email string `json:"email"`
		Role  string `json:"role"`
	} `json:"items"`
	Total int `json:"total"`
}

type errorBody struct {
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Detail string `json:"detail"`
}

func (g *HTTPGateway) SendInvite(ctx context.Context, token, teamID, email string, resend bool) (Invite, error) {
	var out sendInviteResponse
	err := g.do(ctx, http.MethodPost, teamPath(teamID, "invites"), token, sendInviteRequest{
		EmailAddresses: []string{email},
		Role:           "standard-user",
		ResendEmails:   resend,
	}, &out)
	if err != nil {
		return Invite{}, err
	}
	if len(out.AccountInvites) == 0 {
		// Some provider versions answer an accepted resend with an empty list.
		return Invite{Email: email}, nil
	}
	return Invite{ID: out.AccountInvites[0].ID, Email: out.AccountInvites[0].EmailAddress}, nil
}

func (g *HTTPGateway) CancelInvite(ctx context.Context, token, teamID, inviteID string) error {
	return g.do(ctx, http.MethodDelete, teamPath(teamID, "invites", inviteID), token, nil, nil)
}

func (g *HTTPGateway) DeleteMember(ctx context.Context, token, teamID, memberID string) error {
	return g.do(ctx, http.MethodDelete, teamPath(teamID, "users", memberID), token, nil, nil)
}

func (g *HTTPGateway) ListMembers(ctx context.Context, token, teamID string, offset, limit int) (MemberPage, error) {
	path := teamPath(teamID, "users") + "?offset=" + strconv.Itoa(offset) + "&limit=" + strconv.Itoa(limit)

	var out listMembersResponse
	if err := g.do(ctx, http.MethodGet, path, token, nil, &out); err != nil {
		return MemberPage{}, err
	}

	page := MemberPage{Total: out.Total, Members: make([]Member, 0, len(out.Items))}
	for _, item := range out.Items {
		page.Members = append(page.Members, Member{ID: item.ID, Email: item.Email, Role: item.Role})
	}
	return page, nil
}

func (g *HTTPGateway) do(ctx context.Context, method, path, token string, in, out any) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode provider request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.base.String()+path, body)
	if err != nil {
		return fmt.Errorf("build provider request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read provider response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return decodeError(resp.StatusCode, raw)
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode provider response: %w", err)
	}
	return nil
}

func decodeError(status int, raw []byte) *Error {
	pe := &Error{Status: status, Message: http.StatusText(status)}

	var body errorBody
	if err := json.Unmarshal(raw, &body); err != nil {
		if msg := strings.TrimSpace(string(raw)); msg != "" && len(msg) < 512 {
			pe.Message = msg
		}
		return pe
	}
	switch {
	case body.Error != nil:
		pe.Code = body.Error.Code
		if body.Error.Message != "" {
			pe.Message = body.Error.Message
		}
	case body.Detail != "":
		pe.Message = body.Detail
	}
	return pe
}

func teamPath(teamID string, parts ...string) string {
	var b strings.Builder
	b.WriteString("/teams/")
	b.WriteString(url.PathEscape(teamID))
	for _, p := range parts {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(p))
	}
	return b.String()
}
