package notification

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSlot(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in         SlotType
		wantType   SlotType
		level      SlotLevel
		visibility Visibility
		vibration  bool
	}{
		{SlotSocialCommunication, SlotSocialCommunication, LevelHigh, VisibilitySecret, true},
		{SlotServiceInformation, SlotServiceInformation, LevelDefault, VisibilitySecret, true},
		{SlotContentInformation, SlotContentInformation, LevelLow, VisibilityPrivate, false},
		{SlotOtherTypes, SlotOtherTypes, LevelMin, VisibilityPrivate, false},
		{SlotUnknown, SlotOtherTypes, LevelMin, VisibilityPrivate, false},
	}

	for _, tt := range tests {
		t.Run(tt.in.String(), func(t *testing.T) {
			t.Parallel()

			slot := DefaultSlot(tt.in)
			assert.Equal(t, tt.wantType, slot.Type)
			assert.Equal(t, tt.level, slot.Level)
			assert.Equal(t, tt.visibility, slot.LockscreenVisibility)
			assert.Equal(t, tt.vibration, slot.VibrationEnabled)
			assert.True(t, slot.BadgeFlag)
			assert.False(t, slot.BypassDnd)
			assert.False(t, slot.LightEnabled)
			assert.Zero(t, slot.LightColor)
		})
	}
}

func TestParseSlotType(t *testing.T) {
	t.Parallel()

	got, err := ParseSlotType("social_communication")
	require.NoError(t, err)
	assert.Equal(t, SlotSocialCommunication, got)

	got, err = ParseSlotType("65535")
	require.NoError(t, err)
	assert.Equal(t, SlotOtherTypes, got)

	_, err = ParseSlotType("7")
	assert.Error(t, err)
}

func TestService_Slots(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, nil)
	ctx := t.Context()

	n, err := svc.GetSlotNumByBundle(ctx, chat)
	require.NoError(t, err)
	assert.Zero(t, n)

	custom := DefaultSlot(SlotSocialCommunication)
	custom.Description = "messages"
	require.NoError(t, svc.AddSlot(ctx, chat, custom))

	// AddSlot keeps an existing slot
	replacement := custom
	replacement.Description = "ignored"
	require.NoError(t, svc.AddSlot(ctx, chat, replacement))

	got, err := svc.GetSlot(ctx, chat, SlotSocialCommunication)
	require.NoError(t, err)
	assert.Equal(t, "messages", got.Description)

	// AddSlots and SetSlotByBundle replace
	replacement.Description = "chats"
	require.NoError(t, svc.AddSlots(ctx, chat, []Slot{replacement, DefaultSlot(SlotUnknown)}))
	got, err = svc.GetSlot(ctx, chat, SlotSocialCommunication)
	require.NoError(t, err)
	assert.Equal(t, "chats", got.Description)

	muted := DefaultSlot(SlotContentInformation)
	muted.Level = LevelNone
	require.NoError(t, svc.SetSlotByBundle(ctx, chat, muted))

	slots, err := svc.GetSlots(ctx, chat)
	require.NoError(t, err)
	require.Len(t, slots, 3)
	assert.Equal(t, []SlotType{SlotSocialCommunication, SlotContentInformation, SlotOtherTypes},
		[]SlotType{slots[0].Type, slots[1].Type, slots[2].Type})

	// Unknown is stored as OtherTypes
	got, err = svc.GetSlot(ctx, chat, SlotUnknown)
	require.NoError(t, err)
	assert.Equal(t, SlotOtherTypes, got.Type)

	require.NoError(t, svc.RemoveSlot(ctx, chat, SlotContentInformation))
	err = svc.RemoveSlot(ctx, chat, SlotContentInformation)
	require.ErrorIs(t, err, ErrSlotNotExist)
	assert.Equal(t, CodeSlotNotExist, CodeOf(err))

	_, err = svc.GetSlot(ctx, chat, SlotContentInformation)
	require.ErrorIs(t, err, ErrSlotNotExist)

	require.NoError(t, svc.RemoveAllSlots(ctx, chat))
	n, err = svc.GetSlotNumByBundle(ctx, chat)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestService_SlotValidation(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, nil)
	ctx := t.Context()

	bad := DefaultSlot(SlotServiceInformation)
	bad.Level = 9
	require.ErrorIs(t, svc.AddSlot(ctx, chat, bad), ErrInvalidParam)
	require.ErrorIs(t, svc.SetSlotByBundle(ctx, chat, Slot{Type: 5}), ErrInvalidParam)
	require.ErrorIs(t, svc.AddSlots(ctx, chat, nil), ErrInvalidParam)
	require.ErrorIs(t, svc.AddSlot(ctx, BundleOption{}, DefaultSlot(SlotServiceInformation)), ErrInvalidBundle)
}

func TestService_PublishCreatesSlot(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, nil)

	req := textRequest(1)
	req.SlotType = SlotContentInformation
	require.NoError(t, svc.Publish(t.Context(), chat, req))

	got, err := svc.GetSlot(t.Context(), chat, SlotContentInformation)
	require.NoError(t, err)
	assert.Equal(t, DefaultSlot(SlotContentInformation), got)
}

func TestService_BadgeAndEnable(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, nil)
	ctx := t.Context()

	shown, err := svc.IsBadgeDisplayed(ctx, chat)
	require.NoError(t, err)
	assert.True(t, shown)

	enabled, err := svc.IsNotificationEnabled(ctx, chat)
	require.NoError(t, err)
	assert.True(t, enabled)

	require.NoError(t, svc.DisplayBadge(ctx, chat, false))
	shown, err = svc.IsBadgeDisplayed(ctx, chat)
	require.NoError(t, err)
	assert.False(t, shown)

	// Settings are independent
	enabled, err = svc.IsNotificationEnabled(ctx, chat)
	require.NoError(t, err)
	assert.True(t, enabled)

	_, err = svc.IsBadgeDisplayed(ctx, BundleOption{})
	require.ErrorIs(t, err, ErrInvalidBundle)
}
