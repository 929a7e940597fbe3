package session

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dhrumil1411/Web-Chat-App/internal/models"
	"github.com/Dhrumil1411/Web-Chat-App/internal/services"
	"github.com/Dhrumil1411/Web-Chat-App/internal/store"
)

func TestSession_LoginBringsUserOnline(t *testing.T) {
	m := store.NewMemory()
	s := New(m, Options{})
	ctx := context.Background()

	user, err := s.Login(ctx, "Alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", user.ID)

	var stored models.User
	found, err := m.Read(ctx, "users/alice", &stored)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, stored.Online)

	// The public channel exists and is auto-selected.
	assert.Equal(t, models.PublicGroupID, s.ActiveGroupID())
	groups := s.Groups()
	require.NotEmpty(t, groups)
	assert.Equal(t, models.PublicGroupID, groups[0].ID)

	current := s.CurrentUser()
	require.NotNil(t, current)
	assert.Equal(t, "Alice", current.DisplayName)
}

func TestSession_NameTakenAcrossSessions(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	s1 := New(m, Options{})
	_, err := s1.Login(ctx, "Alice")
	require.NoError(t, err)

	s2 := New(m, Options{})
	_, err = s2.Login(ctx, "alice")
	assert.ErrorIs(t, err, services.ErrNameTaken)

	// After a clean logout the name frees up.
	require.NoError(t, s1.Logout(ctx))
	_, err = s2.Login(ctx, "Alice")
	require.NoError(t, err)
}

func TestSession_RequiresLogin(t *testing.T) {
	s := New(store.NewMemory(), Options{})
	ctx := context.Background()

	assert.ErrorIs(t, s.SendMessage(ctx, "hi"), ErrNoSession)
	_, err := s.CreateGroup(ctx, "Team", nil)
	assert.ErrorIs(t, err, ErrNoSession)
	_, err = s.EligibleInvitees(ctx)
	assert.ErrorIs(t, err, ErrNoSession)
	assert.ErrorIs(t, s.AcceptInvite(ctx, &models.Invite{}), ErrNoSession)
	assert.ErrorIs(t, s.SelectGroup("g1"), ErrNoSession)
	require.NoError(t, s.Logout(ctx), "logout without login is a no-op")
}

func TestSession_MessagesFlowBetweenSessions(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	var bobEvents []Event
	alice := New(m, Options{})
	bob := New(m, Options{Notify: func(ev Event) { bobEvents = append(bobEvents, ev) }})

	_, err := alice.Login(ctx, "Alice")
	require.NoError(t, err)
	_, err = bob.Login(ctx, "Bob")
	require.NoError(t, err)

	require.NoError(t, alice.SendMessage(ctx, "hello bob"))

	msgs := bob.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello bob", msgs[0].Text)
	assert.Equal(t, "alice", msgs[0].SenderID)

	require.Len(t, bobEvents, 1)
	assert.Equal(t, EventMessage, bobEvents[0].Type)
	assert.Equal(t, "hello bob", bobEvents[0].Message.Text)
}

func TestSession_SwitchingGroupsIsolatesLogs(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	s := New(m, Options{})

	_, err := s.Login(ctx, "Alice")
	require.NoError(t, err)
	require.NoError(t, s.SendMessage(ctx, "in public"))

	teamID, err := s.CreateGroup(ctx, "Team", nil)
	require.NoError(t, err)

	require.NoError(t, s.SelectGroup(teamID))
	assert.Empty(t, s.Messages(), "fresh group has an empty log")

	require.NoError(t, s.SendMessage(ctx, "in team"))
	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "in team", msgs[0].Text)

	// Back to public: its history replays, the team message stays out.
	require.NoError(t, s.SelectGroup(models.PublicGroupID))
	msgs = s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "in public", msgs[0].Text)

	// Public first, then the private group.
	groups := s.Groups()
	require.Len(t, groups, 2)
	assert.Equal(t, models.PublicGroupID, groups[0].ID)
	assert.Equal(t, teamID, groups[1].ID)
}

func TestSession_InviteAcceptFlow(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	var bobEvents []Event
	alice := New(m, Options{})
	bob := New(m, Options{Notify: func(ev Event) { bobEvents = append(bobEvents, ev) }})

	_, err := alice.Login(ctx, "Alice")
	require.NoError(t, err)
	_, err = bob.Login(ctx, "Bob")
	require.NoError(t, err)

	teamID, err := alice.CreateGroup(ctx, "Team", []string{"bob"})
	require.NoError(t, err)

	invites := bob.Invites()
	require.Len(t, invites, 1)
	assert.Equal(t, teamID, invites[0].GroupID)
	assert.Equal(t, "Team", invites[0].GroupName)
	assert.Equal(t, "Alice", invites[0].InviterName)

	var inviteEvents int
	for _, ev := range bobEvents {
		if ev.Type == EventInvite {
			inviteEvents++
			assert.Equal(t, "Team", ev.Invite.GroupName)
		}
	}
	assert.Equal(t, 1, inviteEvents)

	require.NoError(t, bob.AcceptInvite(ctx, &invites[0]))

	assert.Empty(t, bob.Invites(), "accepted invite leaves the inbox")
	groups := bob.Groups()
	require.Len(t, groups, 2)
	assert.Equal(t, teamID, groups[1].ID)
	assert.True(t, groups[1].Members["bob"])
}

func TestSession_InviteDeclineFlow(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	alice := New(m, Options{})
	bob := New(m, Options{})

	_, err := alice.Login(ctx, "Alice")
	require.NoError(t, err)
	_, err = bob.Login(ctx, "Bob")
	require.NoError(t, err)

	_, err = alice.CreateGroup(ctx, "Team", []string{"bob"})
	require.NoError(t, err)

	invites := bob.Invites()
	require.Len(t, invites, 1)
	require.NoError(t, bob.DeclineInvite(ctx, &invites[0]))

	assert.Empty(t, bob.Invites())
	assert.Len(t, bob.Groups(), 1, "declined group stays hidden")
}

func TestSession_InviteToActiveGroup(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	alice := New(m, Options{})
	bob := New(m, Options{})
	_, err := alice.Login(ctx, "Alice")
	require.NoError(t, err)
	_, err = bob.Login(ctx, "Bob")
	require.NoError(t, err)

	teamID, err := alice.CreateGroup(ctx, "Team", nil)
	require.NoError(t, err)
	require.NoError(t, alice.SelectGroup(teamID))

	eligible, err := alice.EligibleInvitees(ctx)
	require.NoError(t, err)
	require.Len(t, eligible, 1)
	assert.Equal(t, "bob", eligible[0].ID)

	require.NoError(t, alice.InviteToActiveGroup(ctx, []string{"bob"}))
	assert.Len(t, bob.Invites(), 1)
}

func TestSession_LogoutReleasesEverything(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	s := New(m, Options{})

	_, err := s.Login(ctx, "Alice")
	require.NoError(t, err)
	require.NoError(t, s.Logout(ctx))

	assert.Nil(t, s.CurrentUser())
	assert.Empty(t, s.ActiveGroupID())
	assert.Nil(t, s.Messages())
	assert.Empty(t, s.Groups())

	var stored models.User
	_, err = m.Read(ctx, "users/alice", &stored)
	require.NoError(t, err)
	assert.False(t, stored.Online)

	// Writes after logout no longer reach the detached session.
	_, err = m.AppendChild(ctx, "messages/"+models.PublicGroupID, models.Message{Text: "late"})
	require.NoError(t, err)
	assert.Nil(t, s.Messages())
}

func TestSession_RestoreFromCache(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	cache := NewUserCache(filepath.Join(t.TempDir(), ".chat_user"), []byte("secret"))

	s1 := New(m, Options{Cache: cache})
	_, err := s1.Login(ctx, "Alice")
	require.NoError(t, err)

	// The process dies without a logout; the store applies the deferred
	// offline write.
	m.FireDisconnect()

	s2 := New(m, Options{Cache: cache})
	user, err := s2.Restore(ctx)
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "alice", user.ID)
	assert.Equal(t, models.PublicGroupID, s2.ActiveGroupID())
}

func TestSession_RestoreWithoutCache(t *testing.T) {
	s := New(store.NewMemory(), Options{
		Cache: NewUserCache(filepath.Join(t.TempDir(), ".chat_user"), []byte("secret")),
	})

	user, err := s.Restore(context.Background())
	require.NoError(t, err)
	assert.Nil(t, user, "nothing cached, nothing restored")
}

func TestSession_RestoreBlockedWhileNameHeld(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	cache := NewUserCache(filepath.Join(t.TempDir(), ".chat_user"), []byte("secret"))

	s1 := New(m, Options{Cache: cache})
	_, err := s1.Login(ctx, "Alice")
	require.NoError(t, err)

	// s1 is still online; the cached identity goes through the same claim
	// check as a fresh login.
	s2 := New(m, Options{Cache: cache})
	_, err = s2.Restore(ctx)
	assert.ErrorIs(t, err, services.ErrNameTaken)
}
