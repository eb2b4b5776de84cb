// Package providertest provides an in-memory provider.Gateway whose outcomes
// can be scripted per account token.
package providertest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/aussiebroadwan/seatpool/internal/seatpool/provider"
)

type Op string

const (
	OpSend   Op = "send"
	OpCancel Op = "cancel"
	OpDelete Op = "delete"
	OpList   Op = "list"
)

// Call records one gateway invocation.
type Call struct {
	Op     Op
	Token  string
	TeamID string
	Target string // email, invite id or member id
	Resend bool
}

type key struct {
	op    Op
	token string
}

type Gateway struct {
	mu      sync.Mutex
	seq     int
	calls   []Call
	queued  map[key][]error
	always  map[key]error
	invites map[string]map[string]string          // team -> email -> invite id
	members map[string]map[string]provider.Member // team -> email -> member
}

var _ provider.Gateway = (*Gateway)(nil)

func New() *Gateway {
	return &Gateway{
		queued:  map[key][]error{},
		always:  map[key]error{},
		invites: map[string]map[string]string{},
		members: map[string]map[string]provider.Member{},
	}
}

// Queue makes the next len(errs) calls of op with token fail, in order.
func (g *Gateway) Queue(op Op, token string, errs ...error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	k := key{op, token}
	g.queued[k] = append(g.queued[k], errs...)
}

// Always makes every call of op with token fail with err. A nil err clears it.
func (g *Gateway) Always(op Op, token string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err == nil {
		delete(g.always, key{op, token})
		return
	}
	g.always[key{op, token}] = err
}

// Accept turns a pending invite into a team member, as if the user clicked
// the invite link.
func (g *Gateway) Accept(teamID, email string) provider.Member {
	g.mu.Lock()
	defer g.mu.Unlock()
	email = strings.ToLower(email)
	delete(g.invites[teamID], email)
	g.seq++
	m := provider.Member{ID: fmt.Sprintf("member-%d", g.seq), Email: email, Role: "standard-user"}
	if g.members[teamID] == nil {
		g.members[teamID] = map[string]provider.Member{}
	}
	g.members[teamID][email] = m
	return m
}

// Calls returns a copy of recorded calls, optionally filtered by op.
func (g *Gateway) Calls(ops ...Op) []Call {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Call, 0, len(g.calls))
	for _, c := range g.calls {
		if len(ops) == 0 || containsOp(ops, c.Op) {
			out = append(out, c)
		}
	}
	return out
}

// PendingInvite returns the provider side invite id for email, if any.
func (g *Gateway) PendingInvite(teamID, email string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id, ok := g.invites[teamID][strings.ToLower(email)]
	return id, ok
}

func (g *Gateway) SendInvite(ctx context.Context, token, teamID, email string, resend bool) (provider.Invite, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, Call{Op: OpSend, Token: token, TeamID: teamID, Target: email, Resend: resend})
	if err := g.failure(OpSend, token); err != nil {
		return provider.Invite{}, err
	}

	g.seq++
	id := fmt.Sprintf("invite-%d", g.seq)
	if g.invites[teamID] == nil {
		g.invites[teamID] = map[string]string{}
	}
	g.invites[teamID][strings.ToLower(email)] = id
	return provider.Invite{ID: id, Email: email}, nil
}

func (g *Gateway) CancelInvite(ctx context.Context, token, teamID, inviteID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, Call{Op: OpCancel, Token: token, TeamID: teamID, Target: inviteID})
	if err := g.failure(OpCancel, token); err != nil {
		return err
	}
	for email, id := range g.invites[teamID] {
		if id == inviteID {
			delete(g.invites[teamID], email)
			return nil
		}
	}
	return &provider.Error{Status: 404, Code: "invite_not_found", Message: "invite not found"}
}

func (g *Gateway) DeleteMember(ctx context.Context, token, teamID, memberID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, Call{Op: OpDelete, Token: token, TeamID: teamID, Target: memberID})
	if err := g.failure(OpDelete, token); err != nil {
		return err
	}
	for email, m := range g.members[teamID] {
		if m.ID == memberID {
			delete(g.members[teamID], email)
			return nil
		}
	}
	return &provider.Error{Status: 404, Code: "member_not_found", Message: "member not found"}
}

func (g *Gateway) ListMembers(ctx context.Context, token, teamID string, offset, limit int) (provider.MemberPage, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, Call{Op: OpList, Token: token, TeamID: teamID})
	if err := g.failure(OpList, token); err != nil {
		return provider.MemberPage{}, err
	}

	all := make([]provider.Member, 0, len(g.members[teamID]))
	for _, m := range g.members[teamID] {
		all = append(all, m)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	page := provider.MemberPage{Total: len(all)}
	if offset < len(all) {
		end := min(offset+limit, len(all))
		page.Members = all[offset:end]
	}
	return page, nil
}

func (g *Gateway) failure(op Op, token string) error {
	k := key{op, token}
	if q := g.queued[k]; len(q) > 0 {
		g.queued[k] = q[1:]
		return q[0]
	}
	return g.always[k]
}

func containsOp(ops []Op, op Op) bool {
	for _, o := range ops {
		if o == op {
			return true
		}
	}
	return false
}
