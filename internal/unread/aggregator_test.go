package unread

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inbox-service/internal/models"
)

func TestTotalTracksSourceChanges(t *testing.T) {
	a := New(models.Sources...)
	a.Update(models.SourceJob, 3)
	a.Update(models.SourceTeam, 0)
	a.Update(models.SourceCollege, 0)
	a.Update(models.SourcePeer, 2)
	require.Equal(t, 5, a.Total())

	a.Update(models.SourceJob, 0)
	assert.Equal(t, 2, a.Total())
}

func TestTotalIsSumOfSources(t *testing.T) {
	cases := [][4]int{{0, 0, 0, 0}, {1, 2, 3, 4}, {100, 0, 7, 1}, {0, 0, 0, 250}}
	for _, counts := range cases {
		a := New(models.Sources...)
		for i, id := range models.Sources {
			a.Update(id, counts[i])
		}
		assert.Equal(t, counts[0]+counts[1]+counts[2]+counts[3], a.Total())

		before := a.Total()
		a.Update(models.SourceCollege, counts[2]+5)
		assert.Equal(t, before+5, a.Total())
	}
}

func TestNegativeCountsClampToZero(t *testing.T) {
	a := New(models.SourceJob)
	a.Update(models.SourceJob, -4)
	assert.Equal(t, 0, a.Total())
}

func TestSnapshotKeepsRegistrationOrder(t *testing.T) {
	a := New(models.Sources...)
	a.Update(models.SourcePeer, 1)
	a.Update(models.SourceJob, 2)

	assert.Equal(t, []models.UnreadSource{
		{SourceID: models.SourceJob, Count: 2},
		{SourceID: models.SourceTeam, Count: 0},
		{SourceID: models.SourceCollege, Count: 0},
		{SourceID: models.SourcePeer, Count: 1},
	}, a.Snapshot())
}

func TestPeerUnreadCountsActiveConversations(t *testing.T) {
	convs := []models.Conversation{
		{Ref: models.PeerRef("1"), Status: models.StatusActive, UnreadCount: 0},
		{Ref: models.PeerRef("2"), Status: models.StatusActive, UnreadCount: 4},
		{Ref: models.PeerRef("3"), Status: models.StatusPending, UnreadCount: 9},
		{Ref: models.PeerRef("4"), Status: models.StatusClosed},
	}
	assert.Equal(t, 2, PeerUnread(convs))
	assert.Zero(t, PeerUnread(nil))
}

func TestBadge(t *testing.T) {
	assert.Equal(t, "", Badge(0))
	assert.Equal(t, "1", Badge(1))
	assert.Equal(t, "99", Badge(99))
	assert.Equal(t, "99+", Badge(100))
	assert.Equal(t, "99+", Badge(12345))
}

func TestSummaryKeepsExactTotal(t *testing.T) {
	a := New(models.Sources...)
	a.Update(models.SourceJob, 80)
	a.Update(models.SourceTeam, 40)

	s := a.Summary()
	assert.Equal(t, 120, s.Total)
	assert.Equal(t, "99+", s.Badge)
	assert.Len(t, s.Sources, 4)
}
