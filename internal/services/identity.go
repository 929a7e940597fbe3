package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/Dhrumil1411/Web-Chat-App/internal/models"
	"github.com/Dhrumil1411/Web-Chat-App/internal/store"
)

var (
	// ErrNameTaken means another active session holds this identity.
	// There is no override and no queueing; pick a different name.
	ErrNameTaken = errors.New("display name is taken by an active user")

	// ErrEmptyInput rejects blank or whitespace-only user input.
	ErrEmptyInput = errors.New("input is empty")
)

var whitespace = regexp.MustCompile(`\s+`)

// Slugify normalizes a display name into the stable user id: lowercased,
// runs of whitespace collapsed to a single underscore.
func Slugify(displayName string) string {
	return whitespace.ReplaceAllString(strings.ToLower(strings.TrimSpace(displayName)), "_")
}

type IdentityService struct {
	store store.Store
}

func NewIdentityService(st store.Store) *IdentityService {
	return &IdentityService{store: st}
}

// Claim resolves a display name to a local User without writing anything.
// The caller activates presence afterwards, which performs the single write
// that flips online. Two concurrent claims of the same name can both pass
// the read-then-decide check; that race is accepted, the later activation
// wins.
func (s *IdentityService) Claim(ctx context.Context, displayName string) (*models.User, error) {
	name := strings.TrimSpace(displayName)
	if name == "" {
		return nil, ErrEmptyInput
	}
	id := Slugify(name)

	var existing models.User
	found, err := s.store.Read(ctx, "users/"+id, &existing)
	if err != nil {
		return nil, fmt.Errorf("failed to check name availability: %w", err)
	}
	if found && existing.Online {
		return nil, ErrNameTaken
	}

	return &models.User{
		ID:          id,
		DisplayName: name,
		AvatarURL:   avatarURL(name),
	}, nil
}

func avatarURL(displayName string) string {
	return "https://ui-avatars.com/api/?name=" + url.QueryEscape(displayName) + "&background=random"
}
