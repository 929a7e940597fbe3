package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Dhrumil1411/Web-Chat-App/internal/models"
	"github.com/Dhrumil1411/Web-Chat-App/internal/services"
	"github.com/Dhrumil1411/Web-Chat-App/internal/store"
	"github.com/Dhrumil1411/Web-Chat-App/pkg/logger"
)

// Subscription keys. One live listener per key; switching the active group
// replaces the messages listener instead of stacking another.
const (
	subGroups   = "groups"
	subInvites  = "invites"
	subMessages = "messages"
)

var (
	ErrNoSession     = errors.New("no active session")
	ErrNoActiveGroup = errors.New("no active group selected")
)

type EventType string

const (
	// EventMessage fires after a message is confirmed by the store and
	// first enters the log. Whether to surface a notification is the
	// collaborator's call, not the engine's.
	EventMessage EventType = "message"
	EventInvite  EventType = "invite"
)

type Event struct {
	Type    EventType
	Message *models.Message
	Invite  *models.Invite
}

type GroupEntry struct {
	ID string
	models.Group
}

type Options struct {
	Heartbeat time.Duration
	Cache     *UserCache
	Notify    func(Event)
}

// Session is the per-client context: current user, active group, inbox and
// every subscription the client holds. It replaces the ambient globals the
// browser client kept; lifecycle is tied to Login/Logout.
type Session struct {
	store     store.Store
	identity  *services.IdentityService
	presence  *services.PresenceService
	directory *services.DirectoryService
	invites   *services.InviteService
	messages  *services.MessageService
	coord     *Coordinator
	cache     *UserCache
	notify    func(Event)

	mu           sync.Mutex
	user         *models.User
	activeGroup  string
	autoSelected bool
	groups       map[string]models.Group
	inbox        []models.Invite
	inboxSeen    map[string]bool
	view         *services.MessageView
}

func New(st store.Store, opts Options) *Session {
	return &Session{
		store:     st,
		identity:  services.NewIdentityService(st),
		presence:  services.NewPresenceService(st, opts.Heartbeat),
		directory: services.NewDirectoryService(st),
		invites:   services.NewInviteService(st),
		messages:  services.NewMessageService(st),
		coord:     NewCoordinator(),
		cache:     opts.Cache,
		notify:    opts.Notify,
	}
}

// Login claims the display name and brings the session online: public group
// ensured, presence activated, group and invite subscriptions attached, and
// the public channel auto-selected once it appears.
func (s *Session) Login(ctx context.Context, displayName string) (*models.User, error) {
	user, err := s.identity.Claim(ctx, displayName)
	if err != nil {
		return nil, err
	}
	if err := s.establish(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Restore re-establishes a session from the local cache, going through the
// same claim check as a fresh login: a cached name held online by another
// session still fails with ErrNameTaken.
func (s *Session) Restore(ctx context.Context) (*models.User, error) {
	if s.cache == nil {
		return nil, nil
	}
	cached, err := s.cache.Load()
	if err != nil || cached == nil {
		return nil, err
	}

	user, err := s.identity.Claim(ctx, cached.DisplayName)
	if err != nil {
		return nil, err
	}
	user.Email = cached.Email
	if err := s.establish(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *Session) establish(ctx context.Context, user *models.User) error {
	if _, err := s.directory.EnsurePublicGroup(ctx); err != nil {
		return err
	}
	if err := s.presence.Activate(ctx, user); err != nil {
		return err
	}

	s.mu.Lock()
	s.user = user
	s.activeGroup = ""
	s.autoSelected = false
	s.groups = make(map[string]models.Group)
	s.inbox = nil
	s.inboxSeen = make(map[string]bool)
	s.view = services.NewMessageView()
	s.mu.Unlock()

	_, err := s.coord.Attach(subGroups, func(epoch uint64) (store.Subscription, error) {
		return s.directory.SubscribeGroups(user, func(ev models.GroupEvent) {
			if !s.coord.Alive(subGroups, epoch) {
				return
			}
			s.handleGroupEvent(ev)
		})
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe groups: %w", err)
	}

	inboxPath := "invites/" + user.ID
	_, err = s.coord.Attach(subInvites, func(epoch uint64) (store.Subscription, error) {
		return s.store.SubscribeValue(inboxPath, func(raw json.RawMessage) {
			if !s.coord.Alive(subInvites, epoch) {
				return
			}
			s.handleInboxSnapshot(raw)
		})
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe invites: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.Save(user); err != nil {
			logger.Warn("Failed to save session cache: %v", err)
		}
	}
	return nil
}

// Logout detaches every subscription, writes the user offline and releases
// local state. Safe when nothing is logged in.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	user := s.user
	s.mu.Unlock()
	if user == nil {
		return nil
	}

	s.coord.DetachAll()
	if err := s.presence.Deactivate(ctx, user); err != nil {
		return err
	}

	s.mu.Lock()
	s.user = nil
	s.activeGroup = ""
	s.autoSelected = false
	s.groups = nil
	s.inbox = nil
	s.inboxSeen = nil
	s.view = nil
	s.mu.Unlock()

	if s.cache != nil {
		if err := s.cache.Clear(); err != nil {
			logger.Warn("Failed to clear session cache: %v", err)
		}
	}
	return nil
}

// SelectGroup makes groupID the active group. The previous group's message
// subscription is detached as part of the attach; a message that still
// lands for the old group is dropped by the epoch check.
func (s *Session) SelectGroup(groupID string) error {
	s.mu.Lock()
	if s.user == nil {
		s.mu.Unlock()
		return ErrNoSession
	}
	s.activeGroup = groupID
	view := services.NewMessageView()
	s.view = view
	s.mu.Unlock()

	_, err := s.coord.Attach(subMessages, func(epoch uint64) (store.Subscription, error) {
		return s.messages.Subscribe(groupID, func(msg models.Message) {
			if !s.coord.Alive(subMessages, epoch) {
				return
			}
			if view.Add(msg) {
				m := msg
				s.emit(Event{Type: EventMessage, Message: &m})
			}
		})
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe messages: %w", err)
	}
	return nil
}

func (s *Session) SendMessage(ctx context.Context, text string) error {
	s.mu.Lock()
	user, groupID := s.user, s.activeGroup
	s.mu.Unlock()
	if user == nil {
		return ErrNoSession
	}
	if groupID == "" {
		return ErrNoActiveGroup
	}
	return s.messages.Send(ctx, groupID, user, text)
}

func (s *Session) CreateGroup(ctx context.Context, name string, inviteeIDs []string) (string, error) {
	s.mu.Lock()
	user := s.user
	s.mu.Unlock()
	if user == nil {
		return "", ErrNoSession
	}
	return s.invites.CreateGroup(ctx, name, user, inviteeIDs)
}

// InviteToActiveGroup issues invites for the currently selected group.
func (s *Session) InviteToActiveGroup(ctx context.Context, inviteeIDs []string) error {
	s.mu.Lock()
	user, groupID := s.user, s.activeGroup
	group, known := s.groups[groupID]
	s.mu.Unlock()
	if user == nil {
		return ErrNoSession
	}
	if groupID == "" || !known {
		return ErrNoActiveGroup
	}
	return s.invites.InviteToGroup(ctx, groupID, group.GroupName, user, inviteeIDs)
}

func (s *Session) EligibleInvitees(ctx context.Context) ([]models.User, error) {
	s.mu.Lock()
	user, groupID := s.user, s.activeGroup
	s.mu.Unlock()
	if user == nil {
		return nil, ErrNoSession
	}
	if groupID == "" {
		return nil, ErrNoActiveGroup
	}
	return s.invites.EligibleInvitees(ctx, groupID, user)
}

func (s *Session) AcceptInvite(ctx context.Context, invite *models.Invite) error {
	s.mu.Lock()
	user := s.user
	s.mu.Unlock()
	if user == nil {
		return ErrNoSession
	}
	return s.invites.AcceptInvite(ctx, invite, user.ID)
}

func (s *Session) DeclineInvite(ctx context.Context, invite *models.Invite) error {
	s.mu.Lock()
	user := s.user
	s.mu.Unlock()
	if user == nil {
		return ErrNoSession
	}
	return s.invites.DeclineInvite(ctx, invite, user.ID)
}

func (s *Session) CurrentUser() *models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

func (s *Session) ActiveGroupID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeGroup
}

// Groups returns the visible directory, public channels first.
func (s *Session) Groups() []GroupEntry {
	s.mu.Lock()
	entries := make([]GroupEntry, 0, len(s.groups))
	for id, g := range s.groups {
		entries = append(entries, GroupEntry{ID: id, Group: g})
	}
	s.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		gi, gj := entries[i], entries[j]
		if (gi.Type == models.GroupTypePublic) != (gj.Type == models.GroupTypePublic) {
			return gi.Type == models.GroupTypePublic
		}
		if gi.CreatedAt != gj.CreatedAt {
			return gi.CreatedAt < gj.CreatedAt
		}
		return gi.ID < gj.ID
	})
	return entries
}

func (s *Session) Invites() []models.Invite {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Invite, len(s.inbox))
	copy(out, s.inbox)
	return out
}

// Messages returns the active group's log, de-duplicated and sorted by
// timestamp.
func (s *Session) Messages() []models.Message {
	s.mu.Lock()
	view := s.view
	s.mu.Unlock()
	if view == nil {
		return nil
	}
	return view.Messages()
}

func (s *Session) handleGroupEvent(ev models.GroupEvent) {
	s.mu.Lock()
	if s.groups == nil {
		s.mu.Unlock()
		return
	}
	s.groups[ev.ID] = ev.Group
	autoSelect := false
	if !s.autoSelected && s.activeGroup == "" && ev.Group.Type == models.GroupTypePublic {
		s.autoSelected = true
		autoSelect = true
	}
	s.mu.Unlock()

	if autoSelect {
		if err := s.SelectGroup(ev.ID); err != nil {
			logger.Error("Failed to auto-select group %s: %v", ev.ID, err)
		}
	}
}

func (s *Session) handleInboxSnapshot(raw json.RawMessage) {
	inbox := make(map[string]models.Invite)
	if raw != nil {
		if err := json.Unmarshal(raw, &inbox); err != nil {
			return
		}
	}

	list := make([]models.Invite, 0, len(inbox))
	for id, inv := range inbox {
		inv.ID = id
		list = append(list, inv)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Timestamp != list[j].Timestamp {
			return list[i].Timestamp < list[j].Timestamp
		}
		return list[i].ID < list[j].ID
	})

	var fresh []models.Invite
	s.mu.Lock()
	if s.inboxSeen == nil {
		s.mu.Unlock()
		return
	}
	s.inbox = list
	for _, inv := range list {
		if !s.inboxSeen[inv.ID] {
			s.inboxSeen[inv.ID] = true
			fresh = append(fresh, inv)
		}
	}
	s.mu.Unlock()

	for _, inv := range fresh {
		i := inv
		s.emit(Event{Type: EventInvite, Invite: &i})
	}
}

func (s *Session) emit(ev Event) {
	if s.notify != nil {
		s.notify(ev)
	}
}
