package media_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/duochat/internal/media"
	"github.com/duochat/internal/model"
)

func TestOrganizeNewestFirst(t *testing.T) {
	msgs := []model.Message{
		{ID: "1", Kind: model.KindImage, Text: "/uploads/a.png"},
		{ID: "2", Kind: model.KindText, Text: "see https://example.com/x and http://foo.bar/y?z=1", Username: "bob"},
		{ID: "3", Kind: model.KindAudio, Text: "/uploads/a.webm"},
		{ID: "4", Kind: model.KindImage, Text: "/uploads/b.png"},
		{ID: "5", Kind: model.KindDeleted, Text: model.DeletedPlaceholder},
		{ID: "6", Kind: model.KindSticker, Text: "https://stickers/cat.png"},
		{ID: "7", Kind: model.KindText, Text: "no links here"},
	}

	idx := media.Organize(msgs)

	assert.Equal(t, []string{"4", "1"}, []string{idx.Images[0].ID, idx.Images[1].ID})
	assert.Len(t, idx.Audio, 1)
	assert.Equal(t, []media.Link{
		{URL: "https://example.com/x", MessageID: "2", Username: "bob"},
		{URL: "http://foo.bar/y?z=1", MessageID: "2", Username: "bob"},
	}, idx.Links)
}

func TestOrganizeEmpty(t *testing.T) {
	idx := media.Organize(nil)
	assert.Empty(t, idx.Images)
	assert.Empty(t, idx.Audio)
	assert.Empty(t, idx.Links)
}
