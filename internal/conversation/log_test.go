package conversation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-live/chat-engine/internal/domain"
)

func sent(id string, at time.Time) domain.Message {
	return domain.Message{ID: id, UserID: "u", Body: id, CreatedAt: at, Delivery: domain.Sent{ServerID: id}}
}

func pending(tmp string) domain.Message {
	return domain.Message{ID: tmp, ClientRef: tmp, UserID: "me", Body: tmp, Delivery: domain.Pending{TempID: tmp}}
}

func ids(msgs []domain.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestInsertionOrderNotTimestamp(t *testing.T) {
	l := NewLog(0)
	base := time.Unix(1700000000, 0)

	require.True(t, l.Append(sent("a", base.Add(2*time.Second))))
	require.True(t, l.Append(pending("tmp-1")))
	require.True(t, l.Append(sent("b", base)))

	assert.Equal(t, []string{"a", "tmp-1", "b"}, ids(l.Snapshot()))

	_, ok := l.UpdateStatus("tmp-1", domain.Pending{TempID: "tmp-1"}.Confirm("srv-1"))
	require.True(t, ok)
	assert.Equal(t, []string{"a", "srv-1", "b"}, ids(l.Snapshot()))
}

func TestAppendRejectsDuplicateID(t *testing.T) {
	l := NewLog(0)
	assert.True(t, l.Append(sent("a", time.Now())))
	assert.False(t, l.Append(sent("a", time.Now())))
	assert.Equal(t, 1, l.Len())
}

func TestRemove(t *testing.T) {
	l := NewLog(0)
	l.Append(sent("a", time.Now()))
	l.Append(sent("b", time.Now()))
	l.Append(sent("c", time.Now()))

	removed, ok := l.Remove("b")
	require.True(t, ok)
	assert.Equal(t, "b", removed.ID)
	assert.Equal(t, []string{"a", "c"}, ids(l.Snapshot()))
	assert.False(t, l.Contains("b"))

	_, ok = l.Remove("b")
	assert.False(t, ok)

	// Index still valid after removal.
	got, ok := l.Get("c")
	require.True(t, ok)
	assert.Equal(t, "c", got.Body)
}

func TestUpdateStatusTransitionsOnce(t *testing.T) {
	l := NewLog(0)
	l.Append(pending("tmp-1"))

	msg, ok := l.UpdateStatus("tmp-1", domain.Sent{ServerID: "srv-1"})
	require.True(t, ok)
	assert.Equal(t, domain.StatusSent, msg.Status())
	assert.Equal(t, "srv-1", msg.ID)
	assert.Equal(t, "tmp-1", msg.ClientRef)

	// Neither a second confirm nor a late failure moves it again.
	_, ok = l.UpdateStatus("srv-1", domain.Failed{TempID: "tmp-1", Reason: "late"})
	assert.False(t, ok)
	_, ok = l.UpdateStatus("tmp-1", domain.Sent{ServerID: "srv-2"})
	assert.False(t, ok)

	got, _ := l.Get("srv-1")
	assert.Equal(t, domain.StatusSent, got.Status())

	byRef, ok := l.FindByClientRef("tmp-1")
	require.True(t, ok)
	assert.Equal(t, "srv-1", byRef.ID)
}

func TestUpdateStatusFailed(t *testing.T) {
	l := NewLog(0)
	l.Append(pending("tmp-1"))

	msg, ok := l.UpdateStatus("tmp-1", domain.Pending{TempID: "tmp-1"}.Fail("broker down"))
	require.True(t, ok)
	assert.Equal(t, domain.StatusFailed, msg.Status())
	assert.Equal(t, "tmp-1", msg.ID)

	_, ok = l.UpdateStatus("tmp-1", domain.Sent{ServerID: "srv-1"})
	assert.False(t, ok)
}

func TestUpdateAndMarkRead(t *testing.T) {
	l := NewLog(0)
	l.Append(sent("a", time.Now()))

	m, ok := l.Update("a", "edited")
	require.True(t, ok)
	assert.Equal(t, "edited", m.Body)

	m, ok = l.MarkRead("a")
	require.True(t, ok)
	assert.True(t, m.Read)

	_, ok = l.Update("missing", "x")
	assert.False(t, ok)
}

func TestLimitEvictsOldest(t *testing.T) {
	l := NewLog(2)
	l.Append(sent("a", time.Now()))
	l.Append(sent("b", time.Now()))
	l.Append(sent("c", time.Now()))

	assert.Equal(t, []string{"b", "c"}, ids(l.Snapshot()))
	assert.False(t, l.Contains("a"))
}

func TestResetRehydrates(t *testing.T) {
	l := NewLog(0)
	l.Append(pending("tmp-1"))

	now := time.Now()
	l.Reset([]domain.Message{sent("h1", now), sent("h2", now), sent("h1", now)})

	assert.Equal(t, []string{"h1", "h2"}, ids(l.Snapshot()))
	_, ok := l.FindByClientRef("tmp-1")
	assert.False(t, ok)
}

func TestRehydrateKeepsUnsentLocalEntries(t *testing.T) {
	l := NewLog(0)
	now := time.Now()
	l.Append(sent("old", now))
	l.Append(pending("tmp-1"))
	l.Append(pending("tmp-2"))
	l.Append(pending("tmp-3"))
	_, ok := l.UpdateStatus("tmp-2", domain.Pending{TempID: "tmp-2"}.Fail("broker down"))
	require.True(t, ok)

	// tmp-3 made it to the backend before the reconnect.
	stored := sent("srv-3", now)
	stored.ClientRef = "tmp-3"
	l.Rehydrate([]domain.Message{sent("h1", now), stored})

	assert.Equal(t, []string{"h1", "srv-3", "tmp-1", "tmp-2"}, ids(l.Snapshot()))
	failed, ok := l.FindByClientRef("tmp-2")
	require.True(t, ok)
	assert.Equal(t, domain.StatusFailed, failed.Status())

	_, ok = l.UpdateStatus("tmp-1", domain.Sent{ServerID: "srv-1"})
	assert.True(t, ok)
}

func TestSnapshotIsCopy(t *testing.T) {
	l := NewLog(0)
	l.Append(sent("a", time.Now()))
	snap := l.Snapshot()
	snap[0].Body = "mutated"

	got, _ := l.Get("a")
	assert.Equal(t, "a", got.Body)
}
