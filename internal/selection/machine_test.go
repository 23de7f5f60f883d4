package selection

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"inbox-service/internal/mocks"
	"inbox-service/internal/models"
)

func newTestMachine(marker *mocks.ReadMarkerMock) *Machine {
	m := NewMachine("u1", marker, zerolog.Nop())
	m.dispatch = func(f func()) { f() }
	return m
}

func TestMachineStartsInNone(t *testing.T) {
	m := newTestMachine(new(mocks.ReadMarkerMock))
	assert.True(t, m.Current().IsNone())
}

func TestSelectJobWhilePeerActive(t *testing.T) {
	marker := new(mocks.ReadMarkerMock)
	m := newTestMachine(marker)

	marker.On("MarkAllRead", mock.Anything, "u1", models.PeerRef("conv7")).Return(nil).Once()
	marker.On("MarkAllRead", mock.Anything, "u1", models.JobRef("conv42")).Return(nil).Once()

	require.True(t, m.SelectPeer("conv7"))
	require.True(t, m.SelectJob("conv42"))

	assert.Equal(t, models.JobRef("conv42"), m.Current())
	marker.AssertExpectations(t)
	marker.AssertNumberOfCalls(t, "MarkAllRead", 2)
}

func TestReselectingActiveRefDoesNotMarkAgain(t *testing.T) {
	marker := new(mocks.ReadMarkerMock)
	m := newTestMachine(marker)
	marker.On("MarkAllRead", mock.Anything, "u1", models.JobRef("9")).Return(nil).Once()

	assert.True(t, m.SelectJob("9"))
	assert.False(t, m.SelectJob("9"))

	marker.AssertExpectations(t)
}

func TestNonJobKindsDoNotMarkRead(t *testing.T) {
	marker := new(mocks.ReadMarkerMock)
	m := newTestMachine(marker)

	m.SelectTeamChannel("general")
	m.SelectTeamDM("dm-1")
	m.SelectCollege("c-3")

	assert.Equal(t, models.CollegeRef("c-3"), m.Current())
	marker.AssertNotCalled(t, "MarkAllRead", mock.Anything, mock.Anything, mock.Anything)
}

func TestMarkReadFailureDoesNotBlockTransition(t *testing.T) {
	marker := new(mocks.ReadMarkerMock)
	m := newTestMachine(marker)
	marker.On("MarkAllRead", mock.Anything, "u1", models.JobRef("1")).Return(assert.AnError).Once()

	require.True(t, m.SelectJob("1"))
	assert.Equal(t, models.JobRef("1"), m.Current())
	marker.AssertExpectations(t)
}

func TestBackAndCloseReturnToNone(t *testing.T) {
	marker := new(mocks.ReadMarkerMock)
	marker.On("MarkAllRead", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	m := newTestMachine(marker)

	m.SelectPeer("p")
	require.True(t, m.Back())
	assert.True(t, m.Current().IsNone())
	assert.False(t, m.Back())

	m.SelectTeamDM("d")
	require.True(t, m.Close())
	assert.True(t, m.Current().IsNone())
}

func TestSelectAcceptsUnknownConversation(t *testing.T) {
	marker := new(mocks.ReadMarkerMock)
	marker.On("MarkAllRead", mock.Anything, "u1", models.JobRef("deleted")).Return(nil).Once()
	m := newTestMachine(marker)

	assert.True(t, m.SelectJob("deleted"))
	assert.Equal(t, models.JobRef("deleted"), m.Current())
}

func TestObserversSeeEveryTransitionInOrder(t *testing.T) {
	marker := new(mocks.ReadMarkerMock)
	marker.On("MarkAllRead", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	m := newTestMachine(marker)

	type change struct{ prev, next models.ConversationRef }
	var seen []change
	m.Subscribe(func(prev, next models.ConversationRef) {
		seen = append(seen, change{prev, next})
		assert.Equal(t, next, m.Current())
	})

	m.SelectJob("a")
	m.SelectCollege("b")
	m.Close()

	require.Len(t, seen, 3)
	assert.Equal(t, change{models.ConversationRef{}, models.JobRef("a")}, seen[0])
	assert.Equal(t, change{models.JobRef("a"), models.CollegeRef("b")}, seen[1])
	assert.Equal(t, change{models.CollegeRef("b"), models.ConversationRef{}}, seen[2])
}

func TestAtMostOneKindActiveAfterAnySequence(t *testing.T) {
	marker := new(mocks.ReadMarkerMock)
	marker.On("MarkAllRead", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	m := newTestMachine(marker)

	steps := []func(){
		func() { m.SelectJob("1") },
		func() { m.SelectPeer("2") },
		func() { m.SelectTeamChannel("3") },
		func() { m.Back() },
		func() { m.SelectTeamDM("4") },
		func() { m.SelectCollege("5") },
		func() { m.SelectJob("6") },
		func() { m.Close() },
		func() { m.SelectPeer("7") },
	}
	for i, step := range steps {
		step()
		cur := m.Current()
		if cur.IsNone() {
			assert.Empty(t, cur.ID, "step %d", i)
			continue
		}
		assert.True(t, cur.Kind.Valid(), "step %d", i)
		assert.NotEmpty(t, cur.ID, "step %d", i)
	}
	assert.Equal(t, models.PeerRef("7"), m.Current())
}

func TestNilMarkerIsAllowed(t *testing.T) {
	m := NewMachine("u1", nil, zerolog.Nop())
	assert.True(t, m.SelectJob("1"))
}
