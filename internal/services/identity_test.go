package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dhrumil1411/Web-Chat-App/internal/models"
	"github.com/Dhrumil1411/Web-Chat-App/internal/store"
)

func TestSlugify(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases", "Alice", "alice"},
		{"spaces to underscore", "Alice Smith", "alice_smith"},
		{"collapses whitespace runs", "Alice \t  Smith", "alice_smith"},
		{"trims edges", "  Bob  ", "bob"},
		{"already slug", "carol_99", "carol_99"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Slugify(tc.in))
		})
	}
}

func TestIdentity_ClaimFreshName(t *testing.T) {
	svc := NewIdentityService(store.NewMemory())

	user, err := svc.Claim(context.Background(), "Alice Smith")
	require.NoError(t, err)
	assert.Equal(t, "alice_smith", user.ID)
	assert.Equal(t, "Alice Smith", user.DisplayName)
	assert.Contains(t, user.AvatarURL, "ui-avatars.com")
	assert.Contains(t, user.AvatarURL, "Alice+Smith")
}

func TestIdentity_ClaimRejectsEmpty(t *testing.T) {
	svc := NewIdentityService(store.NewMemory())

	_, err := svc.Claim(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestIdentity_ClaimTakenWhileOnline(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, m.Write(ctx, "users/alice", models.User{
		ID: "alice", DisplayName: "Alice", Online: true,
	}))

	svc := NewIdentityService(m)
	_, err := svc.Claim(ctx, "Alice")
	assert.ErrorIs(t, err, ErrNameTaken)

	// Case-insensitive: "ALICE" collapses to the same id.
	_, err = svc.Claim(ctx, "ALICE")
	assert.ErrorIs(t, err, ErrNameTaken)
}

func TestIdentity_ReclaimAfterOffline(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, m.Write(ctx, "users/alice", models.User{
		ID: "alice", DisplayName: "Alice", Online: false, LastOnline: 1000,
	}))

	svc := NewIdentityService(m)
	user, err := svc.Claim(ctx, "Alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", user.ID)
}
