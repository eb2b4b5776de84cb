// Package provider is the boundary to the external seat provider. The
// Gateway interface is all the engine knows about it.
package provider

import "context"

// Invite is what the provider returns for a sent invite.
type Invite struct {
	ID    string
	Email string
}

type Member struct {
	ID    string
	Email string
	Role  string
}

type MemberPage struct {
	Members []Member
	Total   int
}

// Gateway calls the provider on behalf of one account token. Every method
// returns a *Error for responses the provider rejected.
type Gateway interface {
	SendInvite(ctx context.Context, token, teamID, email string, resend bool) (Invite, error)
	CancelInvite(ctx context.Context, token, teamID, inviteID string) error
	DeleteMember(ctx context.Context, token, teamID, memberID string) error
	ListMembers(ctx context.Context, token, teamID string, offset, limit int) (MemberPage, error)
}

// FindMember pages through ListMembers looking for email.
func FindMember(ctx context.Context, gw Gateway, token, teamID, email string) (Member, bool, error) {
	const pageSize = 100
	for offset := 0; ; offset += pageSize {
		page, err := gw.ListMembers(ctx, token, teamID, offset, pageSize)
		if err != nil {
			return Member{}, false, err
		}
		for _, m := range page.Members {
			if equalFoldEmail(m.Email, email) {
				return m, true, nil
			}
		}
		if len(page.Members) < pageSize || (page.Total > 0 && offset+len(page.Members) >= page.Total) {
			return Member{}, false, nil
		}
	}
}

// ListAllMembers collects every member of a team.
func ListAllMembers(ctx context.Context, gw Gateway, token, teamID string) ([]Member, error) {
	const pageSize = 100
	var out []Member
	for offset := 0; ; offset += pageSize {
		page, err := gw.ListMembers(ctx, token, teamID, offset, pageSize)
		if err != nil {
			return nil, err
		}
		out = append(out, page.Members...)
		if len(page.Members) < pageSize || (page.Total > 0 && len(out) >= page.Total) {
			return out, nil
		}
	}
}
