package datastore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openans/ansd/internal/conf"
	"github.com/openans/ansd/internal/notification"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "nested", "prefs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close()) })
	return store
}

// exercisePreferenceStore runs the behaviour every backend must share.
func exercisePreferenceStore(t *testing.T, store notification.PreferenceStore) {
	t.Helper()
	ctx := t.Context()
	const bundle = "com.example.chat"

	t.Run("slots", func(t *testing.T) {
		slots, err := store.GetSlots(ctx, bundle)
		require.NoError(t, err)
		assert.Empty(t, slots)

		social := notification.DefaultSlot(notification.SlotSocialCommunication)
		social.Description = "chats"
		other := notification.DefaultSlot(notification.SlotOtherTypes)
		require.NoError(t, store.SaveSlots(ctx, bundle, []notification.Slot{other, social}))

		slots, err = store.GetSlots(ctx, bundle)
		require.NoError(t, err)
		require.Len(t, slots, 2)
		assert.Equal(t, social, slots[0])
		assert.Equal(t, other, slots[1])

		// Saving the same type again updates in place
		social.Level = notification.LevelLow
		social.BadgeFlag = false
		require.NoError(t, store.SaveSlots(ctx, bundle, []notification.Slot{social}))

		got, ok, err := store.GetSlot(ctx, bundle, notification.SlotSocialCommunication)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, social, got)

		_, ok, err = store.GetSlot(ctx, "com.example.mail", notification.SlotSocialCommunication)
		require.NoError(t, err)
		assert.False(t, ok)

		deleted, err := store.DeleteSlot(ctx, bundle, notification.SlotOtherTypes)
		require.NoError(t, err)
		assert.True(t, deleted)

		deleted, err = store.DeleteSlot(ctx, bundle, notification.SlotOtherTypes)
		require.NoError(t, err)
		assert.False(t, deleted)

		require.NoError(t, store.DeleteAllSlots(ctx, bundle))
		slots, err = store.GetSlots(ctx, bundle)
		require.NoError(t, err)
		assert.Empty(t, slots)
	})

	t.Run("bundle_settings", func(t *testing.T) {
		settings, err := store.GetBundleSettings(ctx, bundle)
		require.NoError(t, err)
		assert.Equal(t, notification.DefaultBundleSettings(), settings)

		want := notification.BundleSettings{BadgeEnabled: false, NotificationEnabled: true}
		require.NoError(t, store.SaveBundleSettings(ctx, bundle, want))
		settings, err = store.GetBundleSettings(ctx, bundle)
		require.NoError(t, err)
		assert.Equal(t, want, settings)

		want.NotificationEnabled = false
		require.NoError(t, store.SaveBundleSettings(ctx, bundle, want))
		settings, err = store.GetBundleSettings(ctx, bundle)
		require.NoError(t, err)
		assert.Equal(t, want, settings)
	})

	t.Run("do_not_disturb", func(t *testing.T) {
		date, err := store.GetDoNotDisturbDate(ctx)
		require.NoError(t, err)
		assert.Equal(t, notification.DoNotDisturbNone, date.Type)

		want := notification.DoNotDisturbDate{
			Type:  notification.DoNotDisturbDaily,
			Begin: time.Date(2026, 3, 14, 22, 0, 0, 0, time.UTC),
			End:   time.Date(2026, 3, 15, 7, 0, 0, 0, time.UTC),
		}
		require.NoError(t, store.SaveDoNotDisturbDate(ctx, want))

		date, err = store.GetDoNotDisturbDate(ctx)
		require.NoError(t, err)
		assert.Equal(t, want.Type, date.Type)
		assert.True(t, want.Begin.Equal(date.Begin), "begin %s", date.Begin)
		assert.True(t, want.End.Equal(date.End), "end %s", date.End)
	})
}

func TestSQLiteStore(t *testing.T) {
	t.Parallel()
	exercisePreferenceStore(t, openTestStore(t))
}

func TestInMemoryPreferencesMatchesStore(t *testing.T) {
	t.Parallel()
	exercisePreferenceStore(t, notification.NewInMemoryPreferences())
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "prefs.db")
	store, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, store.SaveBundleSettings(t.Context(), "b", notification.BundleSettings{}))
	require.NoError(t, store.Close())

	store, err = Open(&conf.StoreSettings{Type: "sqlite", Path: path})
	require.NoError(t, err)
	defer func() { require.NoError(t, store.Close()) }()

	settings, err := store.GetBundleSettings(t.Context(), "b")
	require.NoError(t, err)
	assert.False(t, settings.BadgeEnabled)
	assert.False(t, settings.NotificationEnabled)
}

func TestServiceWithSQLiteStore(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	svc, err := notification.NewService(notification.DefaultServiceConfig(), notification.WithPreferenceStore(store))
	require.NoError(t, err)
	t.Cleanup(svc.Stop)

	chat := notification.BundleOption{Bundle: "com.example.chat", UID: 1}
	require.NoError(t, svc.EnableNotification(t.Context(), chat, false))

	enabled, err := svc.IsNotificationEnabled(t.Context(), chat)
	require.NoError(t, err)
	assert.False(t, enabled)

	stored, err := store.GetBundleSettings(t.Context(), chat.Bundle)
	require.NoError(t, err)
	assert.False(t, stored.NotificationEnabled)
}

func TestOpen_UnsupportedType(t *testing.T) {
	t.Parallel()

	_, err := Open(&conf.StoreSettings{Type: "memory"})
	require.Error(t, err)
}
