package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"inbox-service/internal/clock"
	"inbox-service/internal/mocks"
	"inbox-service/internal/models"
)

var start = time.Date(2024, 2, 2, 8, 0, 0, 0, time.UTC)

func newTestOutbox(sender *mocks.SenderMock, notifier *mocks.NotifierMock) *Outbox {
	o := New(sender, notifier, clock.NewManual(start), zerolog.Nop())
	n := 0
	o.newID = func() string {
		n++
		return "local-" + string(rune('0'+n))
	}
	return o
}

func TestSendSuccessDropsOptimisticEntry(t *testing.T) {
	sender := new(mocks.SenderMock)
	notifier := new(mocks.NotifierMock)
	o := newTestOutbox(sender, notifier)
	ref := models.JobRef("42")

	sender.On("SendMessage", mock.Anything, ref, "u1", "on my way").
		Return(models.Message{ID: "srv-1", SenderID: "u1", Content: "on my way", CreatedAt: start}, nil).Once()

	msg, err := o.Send(context.Background(), ref, "u1", "on my way")
	require.NoError(t, err)
	assert.Equal(t, "srv-1", msg.ID)
	assert.Equal(t, ref, msg.Ref)
	assert.False(t, msg.IsOptimistic)
	assert.Empty(t, o.Pending(ref))
	sender.AssertExpectations(t)
	notifier.AssertNotCalled(t, "SendFailed", mock.Anything, mock.Anything)
}

func TestSendFailureKeepsEntryAndNotifies(t *testing.T) {
	sender := new(mocks.SenderMock)
	notifier := new(mocks.NotifierMock)
	o := newTestOutbox(sender, notifier)
	ref := models.PeerRef("7")
	boom := errors.New("upstream down")

	sender.On("SendMessage", mock.Anything, ref, "u1", "hello").Return(nil, boom).Once()
	notifier.On("SendFailed", mock.MatchedBy(func(m models.Message) bool {
		return m.ID == "local-1" && m.IsOptimistic
	}), boom).Once()

	msg, err := o.Send(context.Background(), ref, "u1", "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSendFailed)
	assert.ErrorIs(t, err, boom)
	assert.True(t, msg.IsOptimistic)
	assert.Equal(t, start, msg.CreatedAt)

	pending := o.Pending(ref)
	require.Len(t, pending, 1)
	assert.Equal(t, models.StatusFailed, pending[0].Status)
	assert.Empty(t, o.Pending(models.PeerRef("other")))

	entry, ok := o.Get("local-1")
	require.True(t, ok)
	assert.Equal(t, "upstream down", entry.LastErr)

	sender.AssertExpectations(t)
	notifier.AssertExpectations(t)
}

func TestRetryAfterFailure(t *testing.T) {
	sender := new(mocks.SenderMock)
	notifier := new(mocks.NotifierMock)
	o := newTestOutbox(sender, notifier)
	ref := models.CollegeRef("c1")

	sender.On("SendMessage", mock.Anything, ref, "u1", "q").Return(nil, assert.AnError).Once()
	notifier.On("SendFailed", mock.Anything, assert.AnError).Once()
	_, err := o.Send(context.Background(), ref, "u1", "q")
	require.Error(t, err)

	sender.On("SendMessage", mock.Anything, ref, "u1", "q").Return(models.Message{ID: "srv-9"}, nil).Once()
	msg, err := o.Retry(context.Background(), "local-1")
	require.NoError(t, err)
	assert.Equal(t, "srv-9", msg.ID)
	assert.Equal(t, ref, msg.Ref)
	assert.Empty(t, o.Pending(ref))

	_, err = o.Retry(context.Background(), "local-1")
	assert.ErrorIs(t, err, ErrEntryNotFound)
	sender.AssertExpectations(t)
}

func TestRetryRejectsInFlightEntry(t *testing.T) {
	sender := new(mocks.SenderMock)
	o := newTestOutbox(sender, new(mocks.NotifierMock))
	ref := models.JobRef("1")

	release := make(chan time.Time)
	sender.On("SendMessage", mock.Anything, ref, "u1", "x").
		WaitUntil(release).
		Return(models.Message{ID: "srv"}, nil).Once()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = o.Send(context.Background(), ref, "u1", "x")
	}()

	require.Eventually(t, func() bool { return len(o.Pending(ref)) == 1 }, time.Second, time.Millisecond)
	pending := o.Pending(ref)
	assert.Equal(t, models.StatusSending, pending[0].Status)
	_, err := o.Retry(context.Background(), pending[0].ID)
	assert.ErrorIs(t, err, ErrStillSending)

	close(release)
	<-done
	assert.Empty(t, o.Pending(ref))
}

func TestDiscard(t *testing.T) {
	sender := new(mocks.SenderMock)
	notifier := new(mocks.NotifierMock)
	o := newTestOutbox(sender, notifier)
	ref := models.TeamDMRef("d")

	sender.On("SendMessage", mock.Anything, ref, "u1", "x").Return(nil, assert.AnError).Once()
	notifier.On("SendFailed", mock.Anything, mock.Anything).Once()
	_, _ = o.Send(context.Background(), ref, "u1", "x")

	require.NoError(t, o.Discard("local-1"))
	assert.Empty(t, o.Pending(ref))
	assert.ErrorIs(t, o.Discard("local-1"), ErrEntryNotFound)
}
