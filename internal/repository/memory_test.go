package repository_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duochat/internal/model"
	"github.com/duochat/internal/repository"
)

func seed(t *testing.T, r repository.Messages, n int) {
	t.Helper()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 1; i <= n; i++ {
		require.NoError(t, r.Create(context.Background(), &model.Message{
			ID: fmt.Sprintf("m%d", i), Username: "alice", Kind: model.KindText,
			Text: fmt.Sprint(i), Timestamp: base.Add(time.Duration(i) * time.Second),
		}))
	}
}

func ids(msgs []model.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

func TestMemoryPaging(t *testing.T) {
	r := repository.NewMemoryMessages()
	seed(t, r, 7)
	ctx := context.Background()

	p1, more, err := r.Page(ctx, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"m5", "m6", "m7"}, ids(p1))
	assert.True(t, more)

	p2, more, err := r.Page(ctx, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"m2", "m3", "m4"}, ids(p2))
	assert.True(t, more)

	p3, more, err := r.Page(ctx, 3, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, ids(p3))
	assert.False(t, more)

	p4, more, err := r.Page(ctx, 4, 3)
	require.NoError(t, err)
	assert.Empty(t, p4)
	assert.False(t, more)
}

func TestMemoryExactPageBoundary(t *testing.T) {
	r := repository.NewMemoryMessages()
	seed(t, r, 6)
	_, more, err := r.Page(context.Background(), 2, 3)
	require.NoError(t, err)
	assert.False(t, more)
}

func TestMemoryMarkDeleted(t *testing.T) {
	r := repository.NewMemoryMessages()
	seed(t, r, 1)
	ctx := context.Background()

	require.NoError(t, r.MarkDeleted(ctx, "m1"))
	m, err := r.GetByID(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, model.KindDeleted, m.Kind)
	assert.Equal(t, model.DeletedPlaceholder, m.Text)

	assert.ErrorIs(t, r.MarkDeleted(ctx, "nope"), repository.ErrNotFound)
	_, err = r.GetByID(ctx, "nope")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestMemoryRejectsDuplicateID(t *testing.T) {
	r := repository.NewMemoryMessages()
	seed(t, r, 1)
	assert.Error(t, r.Create(context.Background(), &model.Message{ID: "m1"}))
}

func TestMemoryStickers(t *testing.T) {
	r := repository.NewMemoryStickers()
	ctx := context.Background()
	require.NoError(t, r.Add(ctx, "alice", model.DefaultCustomPack, model.Sticker{URL: "/uploads/a.png"}))

	packs, err := r.Packs(ctx)
	require.NoError(t, err)
	assert.Contains(t, packs, "Love")
	assert.Equal(t, []model.Sticker{{URL: "/uploads/a.png"}}, packs[model.DefaultCustomPack])
}
