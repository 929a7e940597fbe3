package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Dhrumil1411/Web-Chat-App/internal/models"
	"github.com/Dhrumil1411/Web-Chat-App/internal/store"
)

type DirectoryService struct {
	store store.Store
}

func NewDirectoryService(st store.Store) *DirectoryService {
	return &DirectoryService{store: st}
}

// EnsurePublicGroup creates the public-main record if it is absent and
// returns its id. Concurrent callers may both see "absent" and both write;
// the writes carry identical content, so the race converges.
func (s *DirectoryService) EnsurePublicGroup(ctx context.Context) (string, error) {
	path := "groups/" + models.PublicGroupID
	found, err := s.store.Read(ctx, path, nil)
	if err != nil {
		return "", fmt.Errorf("failed to check public group: %w", err)
	}
	if found {
		return models.PublicGroupID, nil
	}

	group := models.Group{
		GroupName: models.PublicGroupName,
		Type:      models.GroupTypePublic,
		CreatedAt: time.Now().UnixMilli(),
	}
	if err := s.store.Write(ctx, path, group); err != nil {
		return "", fmt.Errorf("failed to create public group: %w", err)
	}
	return models.PublicGroupID, nil
}

// SubscribeGroups delivers every group visible to the user: public groups
// plus private ones the user is a member of. Each group id produces exactly
// one GroupCreated event; later membership changes arrive as GroupUpdated
// events carrying the full group. Groups are never removed, so there is no
// removal event.
func (s *DirectoryService) SubscribeGroups(user *models.User, onEvent func(models.GroupEvent)) (store.Subscription, error) {
	seen := make(map[string]string)

	return s.store.SubscribeValue("groups", func(raw json.RawMessage) {
		if raw == nil {
			return
		}
		var all map[string]models.Group
		if err := json.Unmarshal(raw, &all); err != nil {
			return
		}

		ids := make([]string, 0, len(all))
		for id := range all {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		for _, id := range ids {
			group := all[id]
			if !group.VisibleTo(user.ID) {
				continue
			}
			fp := membersFingerprint(group)
			prev, known := seen[id]
			if known && prev == fp {
				continue
			}
			seen[id] = fp
			kind := models.GroupCreated
			if known {
				kind = models.GroupUpdated
			}
			onEvent(models.GroupEvent{ID: id, Group: group, Kind: kind})
		}
	})
}

func membersFingerprint(g models.Group) string {
	members := make([]string, 0, len(g.Members))
	for id, ok := range g.Members {
		if ok {
			members = append(members, id)
		}
	}
	sort.Strings(members)
	return g.GroupName + "|" + strings.Join(members, ",")
}
