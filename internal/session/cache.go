package session

import (
	"errors"
	"fmt"
	"os"

	"github.com/Dhrumil1411/Web-Chat-App/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

// UserCache persists one user record across restarts, the login-token
// analog of the browser client's localStorage entry. The record is a signed
// token so a tampered cache file fails to load instead of restoring a
// forged identity.
type UserCache struct {
	path   string
	secret []byte
}

func NewUserCache(path string, secret []byte) *UserCache {
	return &UserCache{path: path, secret: secret}
}

func (c *UserCache) Save(user *models.User) error {
	claims := jwt.MapClaims{
		"sub":    user.ID,
		"name":   user.DisplayName,
		"avatar": user.AvatarURL,
	}
	if user.Email != "" {
		claims["email"] = user.Email
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return fmt.Errorf("failed to sign session cache: %w", err)
	}
	if err := os.WriteFile(c.path, []byte(signed), 0o600); err != nil {
		return fmt.Errorf("failed to write session cache: %w", err)
	}
	return nil
}

// Load restores the cached user. A missing cache is not an error; it
// returns (nil, nil).
func (c *UserCache) Load() (*models.User, error) {
	raw, err := os.ReadFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session cache: %w", err)
	}

	token, err := jwt.ParseWithClaims(string(raw), &jwt.MapClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return c.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid session cache: %w", err)
	}

	claims, ok := token.Claims.(*jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid session cache")
	}

	user := &models.User{}
	if v, ok := (*claims)["sub"].(string); ok {
		user.ID = v
	}
	if v, ok := (*claims)["name"].(string); ok {
		user.DisplayName = v
	}
	if v, ok := (*claims)["avatar"].(string); ok {
		user.AvatarURL = v
	}
	if v, ok := (*claims)["email"].(string); ok {
		user.Email = v
	}
	if user.ID == "" {
		return nil, fmt.Errorf("invalid session cache: missing user id")
	}
	return user, nil
}

func (c *UserCache) Clear() error {
	err := os.Remove(c.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to clear session cache: %w", err)
	}
	return nil
}
