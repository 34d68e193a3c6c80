package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/duochat/internal/composer"
	"github.com/duochat/internal/logger"
	"github.com/duochat/internal/model"
	"github.com/duochat/internal/storage"
)

// Authenticator is the REST surface used before a conversation is opened.
type Authenticator interface {
	Health(ctx context.Context) error
	Login(ctx context.Context, creds model.Credentials) error
}

// Login checks that the server is reachable, verifies the credentials and
// persists the username. Errors are suitable for Classify.
func Login(ctx context.Context, auth Authenticator, prefs *storage.Prefs, creds model.Credentials) error {
	defer logger.DeferLogDuration("chat.Login", time.Now())()
	creds.Username = strings.TrimSpace(creds.Username)
	if creds.Username == "" || creds.Password == "" {
		return &composer.ValidationError{Message: "Please enter both username and password"}
	}
	if err := auth.Health(ctx); err != nil {
		return fmt.Errorf("chat.Login: %w", err)
	}
	if err := auth.Login(ctx, creds); err != nil {
		return fmt.Errorf("chat.Login: %w", err)
	}
	if err := prefs.SetUsername(ctx, creds.Username); err != nil {
		return fmt.Errorf("chat.Login: %w", err)
	}
	logger.Infof("logged in as %s", creds.Username)
	return nil
}

// Logout forgets the persisted username. An open conversation announces
// userLeave itself when its Run returns.
func Logout(ctx context.Context, prefs *storage.Prefs) error {
	if err := prefs.ClearUsername(ctx); err != nil {
		return fmt.Errorf("chat.Logout: %w", err)
	}
	return nil
}

// CurrentUser returns the persisted username, or "" when logged out.
func CurrentUser(ctx context.Context, prefs *storage.Prefs) (string, error) {
	return prefs.Username(ctx)
}
