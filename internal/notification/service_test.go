package notification

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openans/ansd/internal/errors"
)

const waitTimeout = 2 * time.Second

var chat = BundleOption{Bundle: "com.example.chat", UID: 20010}

func newTestService(t *testing.T, mutate func(*ServiceConfig), opts ...Option) (*Service, *fakeClock) {
	t.Helper()

	clock := newFakeClock()
	cfg := DefaultServiceConfig()
	cfg.Clock = clock.Now
	cfg.CleanupInterval = time.Hour
	if mutate != nil {
		mutate(cfg)
	}

	svc, err := NewService(cfg, append([]Option{WithLogger(discardLogger())}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(svc.Stop)
	return svc, clock
}

func textRequest(id int32) *Request {
	return &Request{
		ID: id,
		Content: Content{
			Type:   ContentBasicText,
			Normal: &BasicContent{Title: "title", Text: "text"},
		},
	}
}

type cancelRecord struct {
	hashCode string
	reason   RemoveReason
}

// recorder captures every callback.
type recorder struct {
	mu           sync.Mutex
	consumed     []*Notification
	canceled     []cancelRecord
	dnd          []DoNotDisturbDate
	connects     int
	disconnects  int
	died         int
	disconnected chan struct{}
}

func newRecorder() *recorder {
	return &recorder{disconnected: make(chan struct{}, 1)}
}

func (r *recorder) OnConsume(n *Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.consumed = append(r.consumed, n)
}

func (r *recorder) OnCancel(n *Notification, reason RemoveReason) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.canceled = append(r.canceled, cancelRecord{hashCode: n.HashCode(), reason: reason})
}

func (r *recorder) OnConnect() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connects++
}

func (r *recorder) OnDisconnect() {
	r.mu.Lock()
	r.disconnects++
	r.mu.Unlock()
	r.disconnected <- struct{}{}
}

func (r *recorder) OnDoNotDisturbDateChange(date DoNotDisturbDate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dnd = append(r.dnd, date)
}

func (r *recorder) OnDied() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.died++
}

func (r *recorder) consumedIDs() []int32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int32, 0, len(r.consumed))
	for _, n := range r.consumed {
		ids = append(ids, n.Request.ID)
	}
	return ids
}

func (r *recorder) cancels() []cancelRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]cancelRecord(nil), r.canceled...)
}

func (r *recorder) counts() (connects, disconnects, died int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connects, r.disconnects, r.died
}

// drain unsubscribes r and waits until everything queued before was delivered.
func drain(t *testing.T, svc *Service, r *recorder) {
	t.Helper()
	require.NoError(t, svc.Unsubscribe(t.Context(), r))
	select {
	case <-r.disconnected:
	case <-time.After(waitTimeout):
		require.Fail(t, "subscriber was not disconnected")
	}
}

func TestPublish_BurstDeliversFirstQuotaInOrder(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, nil)
	sub := newRecorder()
	require.NoError(t, svc.Subscribe(t.Context(), sub, &SubscribeInfo{BundleNames: []string{chat.Bundle}}))

	for i := range int32(20) {
		require.NoError(t, svc.Publish(t.Context(), chat, textRequest(i)))
	}

	drain(t, svc, sub)

	assert.Equal(t, []int32{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, sub.consumedIDs())
	count, err := svc.GetActiveNotificationCount(chat)
	require.NoError(t, err)
	assert.Equal(t, 10, count)
}

func TestPublish_RejectPolicy(t *testing.T) {
	t.Parallel()

	svc, clock := newTestService(t, func(c *ServiceConfig) {
		c.Admission.Policy = PolicyReject
	})

	for i := range int32(10) {
		res, err := svc.PublishWithResult(t.Context(), chat, textRequest(i))
		require.NoError(t, err)
		assert.True(t, res.Admitted)
		assert.Equal(t, uint64(i+1), res.Sequence)
	}

	res, err := svc.PublishWithResult(t.Context(), chat, textRequest(10))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOverMaxActivePerSecond)
	assert.Equal(t, CodeOverMaxActivePerSecond, CodeOf(err))
	assert.Equal(t, Code(67108881), CodeOf(err))
	assert.False(t, res.Admitted)

	// A new window admits again
	clock.Advance(time.Second)
	require.NoError(t, svc.Publish(t.Context(), chat, textRequest(11)))
}

func TestPublish_DropPolicyReportsDecision(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, func(c *ServiceConfig) {
		c.Admission.Quota = 1
	})

	res, err := svc.PublishWithResult(t.Context(), chat, textRequest(1))
	require.NoError(t, err)
	assert.True(t, res.Admitted)
	assert.Equal(t, "20010_com.example.chat_1_", res.HashCode)

	res, err = svc.PublishWithResult(t.Context(), chat, textRequest(2))
	require.NoError(t, err)
	assert.False(t, res.Admitted)
	assert.False(t, res.Decision.Admitted)
	assert.Equal(t, time.Second, res.Decision.RetryAfter)
}

func TestPublish_ConcurrentBurstKeepsAdmissionOrder(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, nil)
	sub := newRecorder()
	require.NoError(t, svc.Subscribe(t.Context(), sub, nil))

	var wg sync.WaitGroup
	for w := range int32(4) {
		wg.Go(func() {
			for i := range int32(10) {
				assert.NoError(t, svc.Publish(t.Context(), chat, textRequest(w*100+i)))
			}
		})
	}
	wg.Wait()
	drain(t, svc, sub)

	sub.mu.Lock()
	defer sub.mu.Unlock()
	require.Len(t, sub.consumed, 10)
	for i := 1; i < len(sub.consumed); i++ {
		assert.Less(t, sub.consumed[i-1].Sequence, sub.consumed[i].Sequence)
	}
}

func TestPublish_FilterByBundle(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, nil)
	mail := BundleOption{Bundle: "com.example.mail"}

	chatOnly := newRecorder()
	all := newRecorder()
	require.NoError(t, svc.Subscribe(t.Context(), chatOnly, &SubscribeInfo{BundleNames: []string{chat.Bundle}}))
	require.NoError(t, svc.Subscribe(t.Context(), all, &SubscribeInfo{}))

	require.NoError(t, svc.Publish(t.Context(), mail, textRequest(1)))
	require.NoError(t, svc.Publish(t.Context(), chat, textRequest(2)))

	drain(t, svc, chatOnly)
	drain(t, svc, all)

	assert.Equal(t, []int32{2}, chatOnly.consumedIDs())
	assert.Equal(t, []int32{1, 2}, all.consumedIDs())
}

func TestPublish_FillsCreatorAndReplacesKey(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, nil)
	sub := newRecorder()
	require.NoError(t, svc.Subscribe(t.Context(), sub, nil))

	req := textRequest(7)
	req.Label = "inbox"
	require.NoError(t, svc.Publish(t.Context(), chat, req))

	req.Content.Normal.Text = "updated"
	require.NoError(t, svc.Publish(t.Context(), chat, req))

	drain(t, svc, sub)

	active, err := svc.GetActiveNotifications(chat)
	require.NoError(t, err)
	require.Len(t, active, 1)
	n := active[0]
	assert.Equal(t, "20010_com.example.chat_7_inbox", n.HashCode())
	assert.Equal(t, chat.Bundle, n.Request.CreatorBundle)
	assert.Equal(t, chat.UID, n.Request.CreatorUID)
	assert.Equal(t, "updated", n.Request.Content.Normal.Text)
	assert.Equal(t, SlotOtherTypes, n.Slot)
	assert.Equal(t, []int32{7, 7}, sub.consumedIDs())

	// The caller's request is not modified
	assert.Empty(t, req.HashCode)
}

func TestPublish_Validation(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, func(c *ServiceConfig) {
		c.MaxPictureBytes = 16
	})

	picture := func(size int) *Request {
		return &Request{ID: 1, Content: Content{
			Type:    ContentPicture,
			Picture: &PictureContent{Picture: make([]byte, size)},
		}}
	}

	tests := []struct {
		name   string
		caller BundleOption
		req    *Request
		want   *errors.EnhancedError
	}{
		{name: "empty_bundle", caller: BundleOption{}, req: textRequest(1), want: ErrInvalidBundle},
		{name: "nil_request", caller: chat, req: nil, want: ErrInvalidParam},
		{name: "no_variant", caller: chat, req: &Request{Content: Content{Type: ContentBasicText}}, want: ErrInvalidParam},
		{name: "mismatched_variant", caller: chat, req: &Request{Content: Content{
			Type:   ContentLongText,
			Normal: &BasicContent{Title: "t"},
		}}, want: ErrInvalidParam},
		{name: "unknown_slot", caller: chat, req: &Request{SlotType: 42, Content: textRequest(1).Content}, want: ErrInvalidParam},
		{name: "picture_over_size", caller: chat, req: picture(17), want: ErrPictureOverSize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := svc.Publish(t.Context(), tt.caller, tt.req)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	require.NoError(t, svc.Publish(t.Context(), chat, picture(16)))
}

func TestPublish_ValidationFailureDoesNotConsumeQuota(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, func(c *ServiceConfig) {
		c.Admission.Quota = 1
		c.Admission.Policy = PolicyReject
	})

	require.Error(t, svc.Publish(t.Context(), chat, &Request{}))
	require.NoError(t, svc.Publish(t.Context(), chat, textRequest(1)))
}

func TestPublish_DisabledBundle(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, nil)
	require.NoError(t, svc.EnableNotification(t.Context(), chat, false))

	err := svc.Publish(t.Context(), chat, textRequest(1))
	require.ErrorIs(t, err, ErrNotAllowed)
	assert.Equal(t, CodeNotAllowed, CodeOf(err))

	require.NoError(t, svc.EnableNotification(t.Context(), chat, true))
	require.NoError(t, svc.Publish(t.Context(), chat, textRequest(1)))
}

func TestPublish_MaxActiveNotifications(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, func(c *ServiceConfig) {
		c.MaxActiveNotifications = 2
	})

	require.NoError(t, svc.Publish(t.Context(), chat, textRequest(1)))
	require.NoError(t, svc.Publish(t.Context(), chat, textRequest(2)))
	require.ErrorIs(t, svc.Publish(t.Context(), chat, textRequest(3)), ErrNoMemory)

	// Replacing an existing key is still allowed
	require.NoError(t, svc.Publish(t.Context(), chat, textRequest(2)))
}

// hookedPreferences runs hook right after the first bundle settings read,
// so that read returns the value from before the hook's change.
type hookedPreferences struct {
	*InMemoryPreferences
	fired atomic.Bool
	hook  func()
}

func (p *hookedPreferences) GetBundleSettings(ctx context.Context, bundle string) (BundleSettings, error) {
	settings, err := p.InMemoryPreferences.GetBundleSettings(ctx, bundle)
	if p.fired.CompareAndSwap(false, true) {
		p.hook()
	}
	return settings, err
}

func TestPublish_SeesSettingsChangedDuringPublish(t *testing.T) {
	t.Parallel()

	t.Run("disabled", func(t *testing.T) {
		t.Parallel()

		prefs := &hookedPreferences{InMemoryPreferences: NewInMemoryPreferences()}
		svc, _ := newTestService(t, nil, WithPreferenceStore(prefs))
		prefs.hook = func() {
			assert.NoError(t, svc.EnableNotification(context.Background(), chat, false))
		}

		err := svc.Publish(t.Context(), chat, textRequest(1))
		require.ErrorIs(t, err, ErrNotAllowed)
		assert.Empty(t, svc.GetAllActiveNotifications())
	})

	t.Run("do_not_disturb", func(t *testing.T) {
		t.Parallel()

		prefs := &hookedPreferences{InMemoryPreferences: NewInMemoryPreferences()}
		svc, clock := newTestService(t, nil, WithPreferenceStore(prefs))
		now := clock.Now()
		prefs.hook = func() {
			assert.NoError(t, svc.SetDoNotDisturbDate(context.Background(), DoNotDisturbDate{
				Type:  DoNotDisturbClearly,
				Begin: now.Add(-time.Hour),
				End:   now.Add(time.Hour),
			}))
		}

		require.NoError(t, svc.Publish(t.Context(), chat, textRequest(1)))
		active := svc.GetAllActiveNotifications()
		require.Len(t, active, 1)
		assert.True(t, active[0].Silent)
	})
}

func TestPublish_SilentDuringDoNotDisturb(t *testing.T) {
	t.Parallel()

	svc, clock := newTestService(t, nil)
	now := clock.Now()

	require.NoError(t, svc.SetDoNotDisturbDate(t.Context(), DoNotDisturbDate{
		Type:  DoNotDisturbOnce,
		Begin: now.Add(-time.Hour),
		End:   now.Add(time.Hour),
	}))

	bypass := DefaultSlot(SlotSocialCommunication)
	bypass.BypassDnd = true
	require.NoError(t, svc.SetSlotByBundle(t.Context(), chat, bypass))

	quiet := textRequest(1)
	quiet.SlotType = SlotServiceInformation
	loud := textRequest(2)
	loud.SlotType = SlotSocialCommunication

	require.NoError(t, svc.Publish(t.Context(), chat, quiet))
	require.NoError(t, svc.Publish(t.Context(), chat, loud))

	active, err := svc.GetActiveNotifications(chat)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.True(t, active[0].Silent)
	assert.False(t, active[1].Silent)

	// Past the end the quiet period no longer applies
	clock.Advance(2 * time.Hour)
	require.NoError(t, svc.Publish(t.Context(), chat, textRequest(3)))
	active, err = svc.GetActiveNotifications(chat)
	require.NoError(t, err)
	assert.False(t, active[2].Silent)
}

func TestPublish_CanceledContext(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, nil)
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	err := svc.Publish(ctx, chat, textRequest(1))
	require.ErrorIs(t, err, context.Canceled)
}

func TestCancel(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, nil)
	sub := newRecorder()
	require.NoError(t, svc.Subscribe(t.Context(), sub, nil))

	req := textRequest(3)
	req.Label = "l"
	require.NoError(t, svc.Publish(t.Context(), chat, req))

	err := svc.Cancel(t.Context(), chat, 3, "other")
	require.ErrorIs(t, err, ErrNotificationNotExists)
	assert.Equal(t, CodeNotificationNotExists, CodeOf(err))

	require.NoError(t, svc.Cancel(t.Context(), chat, 3, "l"))
	require.ErrorIs(t, svc.Cancel(t.Context(), chat, 3, "l"), ErrNotificationNotExists)

	drain(t, svc, sub)
	assert.Equal(t, []cancelRecord{{hashCode: "20010_com.example.chat_3_l", reason: ReasonAppCancel}}, sub.cancels())
}

func TestCancelAll_IncludesUnremovable(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, nil)
	other := BundleOption{Bundle: "com.example.mail"}

	pinned := textRequest(1)
	pinned.IsUnremovable = true
	require.NoError(t, svc.Publish(t.Context(), chat, pinned))
	require.NoError(t, svc.Publish(t.Context(), chat, textRequest(2)))
	require.NoError(t, svc.Publish(t.Context(), other, textRequest(3)))

	require.NoError(t, svc.CancelAll(t.Context(), chat))

	count, err := svc.GetActiveNotificationCount(chat)
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Len(t, svc.GetAllActiveNotifications(), 1)
}

func TestRemove(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, nil)
	sub := newRecorder()
	require.NoError(t, svc.Subscribe(t.Context(), sub, nil))

	pinned := textRequest(1)
	pinned.IsUnremovable = true
	require.NoError(t, svc.Publish(t.Context(), chat, pinned))
	require.NoError(t, svc.Publish(t.Context(), chat, textRequest(2)))

	require.ErrorIs(t, svc.Remove(t.Context(), ""), ErrInvalidParam)
	require.ErrorIs(t, svc.Remove(t.Context(), "0_nope_1_"), ErrNotificationNotExists)

	err := svc.Remove(t.Context(), "20010_com.example.chat_1_")
	require.ErrorIs(t, err, ErrNotificationIsUnremovable)
	assert.Equal(t, CodeNotificationIsUnremovable, CodeOf(err))

	require.NoError(t, svc.RemoveByKey(t.Context(), chat, 2, ""))
	require.ErrorIs(t, svc.RemoveByKey(t.Context(), chat, 2, ""), ErrNotificationNotExists)

	drain(t, svc, sub)
	assert.Equal(t, []cancelRecord{{hashCode: "20010_com.example.chat_2_", reason: ReasonCancelDelete}}, sub.cancels())
}

func TestRemoveAll(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, nil)
	mail := BundleOption{Bundle: "com.example.mail", UID: 20020}

	pinned := textRequest(1)
	pinned.IsUnremovable = true
	require.NoError(t, svc.Publish(t.Context(), chat, pinned))
	require.NoError(t, svc.Publish(t.Context(), chat, textRequest(2)))
	require.NoError(t, svc.Publish(t.Context(), mail, textRequest(3)))
	require.NoError(t, svc.Publish(t.Context(), BundleOption{Bundle: mail.Bundle, UID: 30000}, textRequest(4)))

	// A uid narrows the match
	require.NoError(t, svc.RemoveAll(t.Context(), &mail))
	remaining := svc.GetAllActiveNotifications()
	require.Len(t, remaining, 3)

	require.ErrorIs(t, svc.RemoveAll(t.Context(), &BundleOption{}), ErrInvalidBundle)

	require.NoError(t, svc.RemoveAll(t.Context(), nil))
	remaining = svc.GetAllActiveNotifications()
	require.Len(t, remaining, 1)
	assert.True(t, remaining[0].Request.IsUnremovable)
}

func TestAutoDelete(t *testing.T) {
	t.Parallel()

	svc, clock := newTestService(t, nil)
	sub := newRecorder()
	require.NoError(t, svc.Subscribe(t.Context(), sub, nil))

	expiring := textRequest(1)
	expiring.AutoDeletedTime = clock.Now().Add(time.Minute)
	require.NoError(t, svc.Publish(t.Context(), chat, expiring))
	require.NoError(t, svc.Publish(t.Context(), chat, textRequest(2)))

	assert.Zero(t, svc.performCleanup())

	clock.Advance(time.Minute)
	assert.Equal(t, 1, svc.performCleanup())

	drain(t, svc, sub)
	assert.Equal(t, []cancelRecord{{hashCode: "20010_com.example.chat_1_", reason: ReasonCancelDelete}}, sub.cancels())
	assert.Len(t, svc.GetAllActiveNotifications(), 1)
}

func TestUnsubscribe_Unknown(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, nil)
	active := newRecorder()
	require.NoError(t, svc.Subscribe(t.Context(), active, nil))

	err := svc.Unsubscribe(t.Context(), newRecorder())
	require.ErrorIs(t, err, ErrInvalidParam)
	assert.Equal(t, CodeInvalidParam, CodeOf(err))
	assert.NotEqual(t, CodeOK, CodeOf(err))

	require.NoError(t, svc.Publish(t.Context(), chat, textRequest(1)))
	drain(t, svc, active)
	assert.Equal(t, []int32{1}, active.consumedIDs())
}

func TestUnsubscribe_Twice(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, nil)
	first := newRecorder()
	other := newRecorder()
	require.NoError(t, svc.Subscribe(t.Context(), first, nil))
	require.NoError(t, svc.Subscribe(t.Context(), other, nil))

	drain(t, svc, first)
	require.ErrorIs(t, svc.Unsubscribe(t.Context(), first), ErrInvalidParam)

	require.NoError(t, svc.Publish(t.Context(), chat, textRequest(1)))
	drain(t, svc, other)

	assert.Empty(t, first.consumedIDs())
	assert.Equal(t, []int32{1}, other.consumedIDs())
	_, disconnects, _ := first.counts()
	assert.Equal(t, 1, disconnects)
}

func TestSubscribe_Twice(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, nil)
	sub := newRecorder()

	require.NoError(t, svc.Subscribe(t.Context(), sub, &SubscribeInfo{BundleNames: []string{"com.example.mail"}}))
	require.NoError(t, svc.Subscribe(t.Context(), sub, &SubscribeInfo{BundleNames: []string{chat.Bundle}}))
	require.Len(t, svc.Subscriptions(), 1)
	assert.Equal(t, []string{chat.Bundle}, svc.Subscriptions()[0].BundleNames)

	require.NoError(t, svc.Publish(t.Context(), chat, textRequest(1)))
	require.NoError(t, svc.Publish(t.Context(), BundleOption{Bundle: "com.example.mail"}, textRequest(2)))
	drain(t, svc, sub)

	assert.Equal(t, []int32{1}, sub.consumedIDs())
	connects, disconnects, _ := sub.counts()
	assert.Equal(t, 1, connects)
	assert.Equal(t, 1, disconnects)
}

type valueSubscriber struct {
	names []string
}

func (valueSubscriber) OnConsume(*Notification)               {}
func (valueSubscriber) OnCancel(*Notification, RemoveReason) {}

func TestSubscribe_RejectsInvalidSubscribers(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, nil)

	require.ErrorIs(t, svc.Subscribe(t.Context(), nil, nil), ErrInvalidParam)
	require.ErrorIs(t, svc.Subscribe(t.Context(), valueSubscriber{}, nil), ErrInvalidParam)
	require.ErrorIs(t, svc.Unsubscribe(t.Context(), valueSubscriber{}), ErrInvalidParam)
}

func TestSubscriberFuncs(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, nil)

	var mu sync.Mutex
	var events []string
	record := func(e string) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
	}
	done := make(chan struct{})

	sub := &SubscriberFuncs{
		Connect: func() { record("connect") },
		Consume: func(n *Notification) { record("consume") },
		Cancel:  func(n *Notification, reason RemoveReason) { record("cancel:" + reason.String()) },
		DoNotDisturbChange: func(DoNotDisturbDate) {
			record("dnd")
		},
		Disconnect: func() {
			record("disconnect")
			close(done)
		},
	}
	require.NoError(t, svc.Subscribe(t.Context(), sub, nil))

	require.NoError(t, svc.Publish(t.Context(), chat, textRequest(1)))
	require.NoError(t, svc.SetDoNotDisturbDate(t.Context(), DoNotDisturbDate{Type: DoNotDisturbNone}))
	require.NoError(t, svc.Cancel(t.Context(), chat, 1, ""))
	require.NoError(t, svc.Unsubscribe(t.Context(), sub))

	select {
	case <-done:
	case <-time.After(waitTimeout):
		require.Fail(t, "disconnect not delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"connect", "consume", "dnd", "cancel:app_cancel", "disconnect"}, events)
}

func TestSubscriber_SlowSubscriberDies(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, func(c *ServiceConfig) {
		c.MaxPendingPerSubscriber = 2
	})

	connecting := make(chan struct{})
	release := make(chan struct{})
	died := make(chan struct{})
	var consumed int
	var mu sync.Mutex

	sub := &SubscriberFuncs{
		Connect: func() {
			close(connecting)
			<-release
		},
		Consume: func(*Notification) {
			mu.Lock()
			defer mu.Unlock()
			consumed++
		},
		Died: func() { close(died) },
	}
	require.NoError(t, svc.Subscribe(t.Context(), sub, nil))
	<-connecting

	for i := range int32(3) {
		require.NoError(t, svc.Publish(t.Context(), chat, textRequest(i)))
	}
	assert.Empty(t, svc.Subscriptions())

	close(release)
	select {
	case <-died:
	case <-time.After(waitTimeout):
		require.Fail(t, "died not delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, consumed)
	require.ErrorIs(t, svc.Unsubscribe(t.Context(), sub), ErrInvalidParam)
}

func TestSubscriber_PanicIsRecovered(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, nil)

	var mu sync.Mutex
	var ids []int32
	done := make(chan struct{})
	sub := &SubscriberFuncs{
		Consume: func(n *Notification) {
			if n.Request.ID == 1 {
				panic("boom")
			}
			mu.Lock()
			defer mu.Unlock()
			ids = append(ids, n.Request.ID)
		},
		Disconnect: func() { close(done) },
	}
	require.NoError(t, svc.Subscribe(t.Context(), sub, nil))
	require.NoError(t, svc.Publish(t.Context(), chat, textRequest(1)))
	require.NoError(t, svc.Publish(t.Context(), chat, textRequest(2)))
	require.NoError(t, svc.Unsubscribe(t.Context(), sub))

	select {
	case <-done:
	case <-time.After(waitTimeout):
		require.Fail(t, "disconnect not delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int32{2}, ids)
}

func TestSubscriber_CallbackMayCallService(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, nil)

	counts := make(chan int, 1)
	sub := &SubscriberFuncs{
		Consume: func(n *Notification) {
			count, err := svc.GetActiveNotificationCount(chat)
			assert.NoError(t, err)
			assert.NoError(t, svc.Cancel(context.Background(), chat, n.Request.ID, n.Request.Label))
			counts <- count
		},
	}
	require.NoError(t, svc.Subscribe(t.Context(), sub, nil))
	require.NoError(t, svc.Publish(t.Context(), chat, textRequest(1)))

	select {
	case count := <-counts:
		assert.Equal(t, 1, count)
	case <-time.After(waitTimeout):
		require.Fail(t, "consume not delivered")
	}

	require.Eventually(t, func() bool {
		return len(svc.GetAllActiveNotifications()) == 0
	}, waitTimeout, 10*time.Millisecond)
}

func TestStop(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, nil)
	sub := newRecorder()
	require.NoError(t, svc.Subscribe(t.Context(), sub, nil))
	require.NoError(t, svc.Publish(t.Context(), chat, textRequest(1)))

	svc.Stop()
	svc.Stop()

	assert.Equal(t, []int32{1}, sub.consumedIDs())
	_, disconnects, _ := sub.counts()
	assert.Equal(t, 1, disconnects)

	require.ErrorIs(t, svc.Publish(t.Context(), chat, textRequest(2)), ErrServiceNotReady)
	require.ErrorIs(t, svc.Subscribe(t.Context(), newRecorder(), nil), ErrServiceNotReady)
	assert.Equal(t, CodeServiceNotReady, CodeOf(svc.Cancel(t.Context(), chat, 1, "")))
}

func TestNewService_InvalidAdmission(t *testing.T) {
	t.Parallel()

	cfg := DefaultServiceConfig()
	cfg.Admission.Mode = "bogus"
	_, err := NewService(cfg, WithLogger(discardLogger()))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

type countingMetrics struct {
	noopMetrics
	mu       sync.Mutex
	outcomes map[string]int
	removals map[RemoveReason]int
	active   int
}

func (m *countingMetrics) RecordAdmission(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes[outcome]++
}

func (m *countingMetrics) RecordRemoval(reason RemoveReason) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removals[reason]++
}

func (m *countingMetrics) SetActiveNotifications(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = count
}

func TestMetricsRecorder(t *testing.T) {
	t.Parallel()

	m := &countingMetrics{outcomes: map[string]int{}, removals: map[RemoveReason]int{}}
	svc, _ := newTestService(t, func(c *ServiceConfig) {
		c.Admission.Quota = 2
	}, WithMetrics(m))

	for i := range int32(3) {
		require.NoError(t, svc.Publish(t.Context(), chat, textRequest(i)))
	}
	require.NoError(t, svc.Cancel(t.Context(), chat, 0, ""))

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Equal(t, map[string]int{OutcomeAdmitted: 2, OutcomeDropped: 1}, m.outcomes)
	assert.Equal(t, map[RemoveReason]int{ReasonAppCancel: 1}, m.removals)
	assert.Equal(t, 1, m.active)
}
