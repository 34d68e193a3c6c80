package chat_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duochat/internal/api"
	"github.com/duochat/internal/chat"
	"github.com/duochat/internal/composer"
	"github.com/duochat/internal/model"
	"github.com/duochat/internal/storage"
	"github.com/duochat/internal/storage/memory"
)

type fakeAuth struct {
	healthErr error
	loginErr  error
	logins    int
}

func (f *fakeAuth) Health(ctx context.Context) error { return f.healthErr }

func (f *fakeAuth) Login(ctx context.Context, creds model.Credentials) error {
	f.logins++
	return f.loginErr
}

func TestLoginPersistsUsername(t *testing.T) {
	ctx := context.Background()
	prefs := storage.NewPrefs(memory.New())
	auth := &fakeAuth{}

	require.NoError(t, chat.Login(ctx, auth, prefs, model.Credentials{Username: " alice ", Password: "pw"}))
	name, err := chat.CurrentUser(ctx, prefs)
	require.NoError(t, err)
	assert.Equal(t, "alice", name)

	require.NoError(t, chat.Logout(ctx, prefs))
	name, err = chat.CurrentUser(ctx, prefs)
	require.NoError(t, err)
	assert.Equal(t, "", name)
}

func TestLoginChecksHealthFirst(t *testing.T) {
	prefs := storage.NewPrefs(memory.New())
	auth := &fakeAuth{healthErr: fmt.Errorf("api.Health: %w", api.ErrUnavailable)}

	err := chat.Login(context.Background(), auth, prefs, model.Credentials{Username: "alice", Password: "pw"})
	require.ErrorIs(t, err, api.ErrUnavailable)
	assert.Equal(t, 0, auth.logins)
	assert.Equal(t, model.NoticeNetwork, chat.Classify(err).Kind)
}

func TestLoginRejected(t *testing.T) {
	prefs := storage.NewPrefs(memory.New())
	auth := &fakeAuth{loginErr: fmt.Errorf("api.Login: %w", &api.Error{Status: 401, Message: "Invalid credentials"})}

	err := chat.Login(context.Background(), auth, prefs, model.Credentials{Username: "alice", Password: "bad"})
	require.Error(t, err)
	assert.Equal(t, model.Notice{Kind: model.NoticeRejected, Text: "Invalid credentials"}, chat.Classify(err))
	name, _ := chat.CurrentUser(context.Background(), prefs)
	assert.Equal(t, "", name)
}

func TestLoginRequiresBothFields(t *testing.T) {
	err := chat.Login(context.Background(), &fakeAuth{}, storage.NewPrefs(memory.New()), model.Credentials{Username: "alice"})
	var ve *composer.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, model.NoticeValidation, chat.Classify(err).Kind)
}

func TestClassifyUnexpected(t *testing.T) {
	n := chat.Classify(fmt.Errorf("boom"))
	assert.Equal(t, model.NoticeUnexpected, n.Kind)
	assert.False(t, n.Blocking())
}
