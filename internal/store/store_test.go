package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duochat/internal/model"
)

func msg(id string) model.Message {
	return model.Message{ID: id, Username: "alice", Kind: model.KindText, Text: "text " + id, Timestamp: time.Unix(0, 0)}
}

func ids(msgs []model.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestAppendDropsDuplicatesKeepingFirstSeenOrder(t *testing.T) {
	s := New()
	for _, id := range []string{"a", "b", "a", "c", "b", "b", "d", "a"} {
		s.Append(msg(id))
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, ids(s.Snapshot()))
}

func TestAppendDuplicateDoesNotOverwritePayload(t *testing.T) {
	s := New()
	s.Append(msg("a"))
	dup := msg("a")
	dup.Text = "changed"
	s.Append(dup)

	got, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, "text a", got.Text)
}

func TestPrependPageIsIdempotent(t *testing.T) {
	s := New()
	s.ReplaceAll([]model.Message{msg("a"), msg("b")})
	page := []model.Message{msg("x"), msg("y")}

	assert.Equal(t, 2, s.PrependPage(page))
	once := s.Snapshot()
	assert.Equal(t, 0, s.PrependPage(page))
	assert.Equal(t, once, s.Snapshot())
}

func TestPrependPageSkipsKnownIDsAndKeepsPageOrder(t *testing.T) {
	s := New()
	s.ReplaceAll([]model.Message{msg("c"), msg("d")})

	added := s.PrependPage([]model.Message{msg("a"), msg("c"), msg("b"), msg("a")})
	assert.Equal(t, 2, added)
	assert.Equal(t, []string{"a", "b", "c", "d"}, ids(s.Snapshot()))
}

func TestScenarioPrependAppendDuplicate(t *testing.T) {
	s := New()
	s.ReplaceAll([]model.Message{msg("A"), msg("B"), msg("C")})

	s.PrependPage([]model.Message{msg("X"), msg("Y")})
	assert.Equal(t, []string{"X", "Y", "A", "B", "C"}, ids(s.Snapshot()))

	s.Append(msg("D"))
	assert.Equal(t, []string{"X", "Y", "A", "B", "C", "D"}, ids(s.Snapshot()))

	s.Append(msg("B"))
	assert.Equal(t, []string{"X", "Y", "A", "B", "C", "D"}, ids(s.Snapshot()))
}

func TestMarkDeletedIsIdempotentAndTerminal(t *testing.T) {
	s := New()
	s.ReplaceAll([]model.Message{msg("m1"), msg("m2")})

	require.True(t, s.MarkDeleted("m1"))
	require.True(t, s.MarkDeleted("m1"))

	got, _ := s.Get("m1")
	assert.Equal(t, model.KindDeleted, got.Kind)
	assert.Equal(t, model.DeletedPlaceholder, got.Text)

	// Redelivery of the original message cannot revive it.
	s.Append(msg("m1"))
	s.PrependPage([]model.Message{msg("m1")})
	got, _ = s.Get("m1")
	assert.Equal(t, model.KindDeleted, got.Kind)
	assert.Equal(t, []string{"m1", "m2"}, ids(s.Snapshot()))
}

func TestMarkDeletedUnknownIDIsNoop(t *testing.T) {
	s := New()
	s.ReplaceAll([]model.Message{msg("a")})
	before := s.Snapshot()

	assert.False(t, s.MarkDeleted("missing"))
	assert.Equal(t, before, s.Snapshot())
}

func TestMarkDeletedKeepsReplySnapshot(t *testing.T) {
	s := New()
	target := msg("t")
	reply := msg("r")
	ref := model.SnapshotOf(target)
	reply.ReplyTo = &ref
	s.ReplaceAll([]model.Message{target, reply})

	s.MarkDeleted("t")

	got, _ := s.Get("r")
	require.NotNil(t, got.ReplyTo)
	assert.Equal(t, "text t", got.ReplyTo.Text)
	assert.Equal(t, model.KindText, got.ReplyTo.Kind)
}

func TestReplaceAllDiscardsPreviousContent(t *testing.T) {
	s := New()
	s.ReplaceAll([]model.Message{msg("a"), msg("b")})
	s.ReplaceAll([]model.Message{msg("c"), msg("c"), msg("d")})
	assert.Equal(t, []string{"c", "d"}, ids(s.Snapshot()))
	_, ok := s.Get("a")
	assert.False(t, ok)
}

func TestSnapshotIsACopy(t *testing.T) {
	s := New()
	s.Append(msg("a"))
	snap := s.Snapshot()
	snap[0].Text = "mutated"

	got, _ := s.Get("a")
	assert.Equal(t, "text a", got.Text)
}

func TestChangesIsSignalledAfterDispatch(t *testing.T) {
	s := New()
	s.Append(msg("a"))
	select {
	case <-s.Changes():
	default:
		t.Fatal("expected a change notification")
	}
}
