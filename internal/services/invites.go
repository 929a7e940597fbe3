package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Dhrumil1411/Web-Chat-App/internal/models"
	"github.com/Dhrumil1411/Web-Chat-App/internal/store"

	"golang.org/x/sync/errgroup"
)

// ErrPartialFailure marks a multi-step workflow where some sub-writes
// succeeded and others did not. Applied sub-writes are not rolled back; the
// caller may retry the operation.
var ErrPartialFailure = errors.New("some writes failed")

// InviteService runs the invite state machine: Pending, then Accepted or
// Declined, both terminal. Invites have no expiry.
type InviteService struct {
	store store.Store
}

func NewInviteService(st store.Store) *InviteService {
	return &InviteService{store: st}
}

// CreateGroup writes a private group owned by creator, then issues one
// invite per invitee. The steps are not atomic: if invite writes fail the
// group still exists with only the creator as member, and the error reports
// the partial failure without rolling back.
func (s *InviteService) CreateGroup(ctx context.Context, name string, creator *models.User, inviteeIDs []string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrEmptyInput
	}

	group := models.Group{
		GroupName: name,
		Type:      models.GroupTypePrivate,
		CreatedAt: time.Now().UnixMilli(),
		CreatedBy: creator.ID,
		Members:   map[string]bool{creator.ID: true},
	}
	groupID, err := s.store.AppendChild(ctx, "groups", group)
	if err != nil {
		return "", fmt.Errorf("failed to create group: %w", err)
	}

	if err := s.issueInvites(ctx, groupID, name, creator.DisplayName, inviteeIDs); err != nil {
		return groupID, err
	}
	return groupID, nil
}

// InviteToGroup issues invites for an existing group. Eligibility (online,
// not already a member) is the caller's filter; see EligibleInvitees.
func (s *InviteService) InviteToGroup(ctx context.Context, groupID, groupName string, inviter *models.User, inviteeIDs []string) error {
	return s.issueInvites(ctx, groupID, groupName, inviter.DisplayName, inviteeIDs)
}

func (s *InviteService) issueInvites(ctx context.Context, groupID, groupName, inviterName string, inviteeIDs []string) error {
	if len(inviteeIDs) == 0 {
		return nil
	}

	now := time.Now().UnixMilli()
	// Plain Group, not WithContext: every invite write is attempted even
	// when one fails.
	var g errgroup.Group
	for _, inviteeID := range inviteeIDs {
		inviteeID := inviteeID
		g.Go(func() error {
			invite := models.Invite{
				GroupID:     groupID,
				GroupName:   groupName,
				InviterName: inviterName,
				Timestamp:   now,
			}
			if _, err := s.store.AppendChild(ctx, "invites/"+inviteeID, invite); err != nil {
				return fmt.Errorf("invite to %s: %w", inviteeID, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("%w: %v", ErrPartialFailure, err)
	}
	return nil
}

// EligibleInvitees lists users an invite may be sent to: online, not the
// requesting user, and not already a member of the group. Invites only go
// to currently-reachable users.
func (s *InviteService) EligibleInvitees(ctx context.Context, groupID string, self *models.User) ([]models.User, error) {
	var members map[string]bool
	if _, err := s.store.Read(ctx, "groups/"+groupID+"/members", &members); err != nil {
		return nil, fmt.Errorf("failed to load group members: %w", err)
	}

	var users map[string]models.User
	if _, err := s.store.Read(ctx, "users", &users); err != nil {
		return nil, fmt.Errorf("failed to load users: %w", err)
	}

	var eligible []models.User
	for id, u := range users {
		if id == self.ID || !u.Online || members[id] {
			continue
		}
		u.ID = id
		eligible = append(eligible, u)
	}
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].ID < eligible[j].ID })
	return eligible, nil
}

// AcceptInvite adds the user to the group, then deletes the invite. The
// order matters: a failed membership write leaves the invite in place so
// the user can retry. Accepting twice is harmless; membership is a set.
func (s *InviteService) AcceptInvite(ctx context.Context, invite *models.Invite, userID string) error {
	err := s.store.Write(ctx, "groups/"+invite.GroupID+"/members/"+userID, true)
	if err != nil {
		return fmt.Errorf("failed to join group: %w", err)
	}
	if err := s.store.Delete(ctx, "invites/"+userID+"/"+invite.ID); err != nil {
		return fmt.Errorf("failed to remove invite: %w", err)
	}
	return nil
}

// DeclineInvite deletes the invite and changes nothing else.
func (s *InviteService) DeclineInvite(ctx context.Context, invite *models.Invite, userID string) error {
	if err := s.store.Delete(ctx, "invites/"+userID+"/"+invite.ID); err != nil {
		return fmt.Errorf("failed to decline invite: %w", err)
	}
	return nil
}
