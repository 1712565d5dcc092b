package notification

import (
	"context"

	"github.com/openans/ansd/internal/logger"
)

// ensureSlot returns the bundle's slot of type t, creating it with the
// defaults when missing.
func (s *Service) ensureSlot(ctx context.Context, bundle string, t SlotType) (Slot, error) {
	slot, ok, err := s.prefs.GetSlot(ctx, bundle, t)
	if err != nil {
		return Slot{}, prefError(err, "get_slot")
	}
	if ok {
		return slot, nil
	}

	slot = DefaultSlot(t)
	if err := s.prefs.SaveSlots(ctx, bundle, []Slot{slot}); err != nil {
		return Slot{}, prefError(err, "save_slot")
	}
	if s.config.Debug {
		s.logger.Debug("created default slot",
			logger.String("bundle", bundle),
			logger.String("slot", slot.Type.String()))
	}
	return slot, nil
}

func checkBundle(bundle BundleOption, op string) error {
	if bundle.Bundle == "" {
		return serviceError(ErrInvalidBundle, op).Build()
	}
	return nil
}

func normalizeSlot(slot Slot, op string) (Slot, error) {
	slot.Type = slot.Type.normalize()
	if err := slot.validate(); err != nil {
		return slot, serviceErrorf(ErrInvalidParam, op, "%v", err).Build()
	}
	return slot, nil
}

// AddSlot creates a slot for the caller. An existing slot of the same type
// is left untouched.
func (s *Service) AddSlot(ctx context.Context, caller BundleOption, slot Slot) error {
	const op = "add_slot"

	if err := checkBundle(caller, op); err != nil {
		return err
	}
	slot, err := normalizeSlot(slot, op)
	if err != nil {
		return err
	}

	_, exists, err := s.prefs.GetSlot(ctx, caller.Bundle, slot.Type)
	if err != nil {
		return prefError(err, op)
	}
	if exists {
		return nil
	}
	if err := s.prefs.SaveSlots(ctx, caller.Bundle, []Slot{slot}); err != nil {
		return prefError(err, op)
	}
	return nil
}

// AddSlots creates or replaces several slots for the caller.
func (s *Service) AddSlots(ctx context.Context, caller BundleOption, slots []Slot) error {
	const op = "add_slots"

	if err := checkBundle(caller, op); err != nil {
		return err
	}
	if len(slots) == 0 {
		return serviceErrorf(ErrInvalidParam, op, "no slots").Build()
	}

	normalized := make([]Slot, 0, len(slots))
	for _, slot := range slots {
		n, err := normalizeSlot(slot, op)
		if err != nil {
			return err
		}
		normalized = append(normalized, n)
	}

	if err := s.prefs.SaveSlots(ctx, caller.Bundle, normalized); err != nil {
		return prefError(err, op)
	}
	return nil
}

// GetSlot returns one of the caller's slots.
func (s *Service) GetSlot(ctx context.Context, caller BundleOption, slotType SlotType) (Slot, error) {
	const op = "get_slot"

	if err := checkBundle(caller, op); err != nil {
		return Slot{}, err
	}
	slot, ok, err := s.prefs.GetSlot(ctx, caller.Bundle, slotType.normalize())
	if err != nil {
		return Slot{}, prefError(err, op)
	}
	if !ok {
		return Slot{}, serviceErrorf(ErrSlotNotExist, op, "%s", slotType.normalize()).Build()
	}
	return slot, nil
}

// GetSlots returns the caller's slots ordered by type.
func (s *Service) GetSlots(ctx context.Context, caller BundleOption) ([]Slot, error) {
	return s.GetSlotsByBundle(ctx, caller)
}

// RemoveSlot deletes one of the caller's slots.
func (s *Service) RemoveSlot(ctx context.Context, caller BundleOption, slotType SlotType) error {
	const op = "remove_slot"

	if err := checkBundle(caller, op); err != nil {
		return err
	}
	removed, err := s.prefs.DeleteSlot(ctx, caller.Bundle, slotType.normalize())
	if err != nil {
		return prefError(err, op)
	}
	if !removed {
		return serviceErrorf(ErrSlotNotExist, op, "%s", slotType.normalize()).Build()
	}
	return nil
}

// RemoveAllSlots deletes every slot of the caller.
func (s *Service) RemoveAllSlots(ctx context.Context, caller BundleOption) error {
	const op = "remove_all_slots"

	if err := checkBundle(caller, op); err != nil {
		return err
	}
	if err := s.prefs.DeleteAllSlots(ctx, caller.Bundle); err != nil {
		return prefError(err, op)
	}
	return nil
}

// GetSlotsByBundle returns the slots of any bundle ordered by type.
func (s *Service) GetSlotsByBundle(ctx context.Context, bundle BundleOption) ([]Slot, error) {
	const op = "get_slots"

	if err := checkBundle(bundle, op); err != nil {
		return nil, err
	}
	slots, err := s.prefs.GetSlots(ctx, bundle.Bundle)
	if err != nil {
		return nil, prefError(err, op)
	}
	return slots, nil
}

// SetSlotByBundle creates or replaces a slot of any bundle.
func (s *Service) SetSlotByBundle(ctx context.Context, bundle BundleOption, slot Slot) error {
	const op = "set_slot"

	if err := checkBundle(bundle, op); err != nil {
		return err
	}
	slot, err := normalizeSlot(slot, op)
	if err != nil {
		return err
	}
	if err := s.prefs.SaveSlots(ctx, bundle.Bundle, []Slot{slot}); err != nil {
		return prefError(err, op)
	}
	return nil
}

// GetSlotNumByBundle returns the number of slots of a bundle.
func (s *Service) GetSlotNumByBundle(ctx context.Context, bundle BundleOption) (int, error) {
	slots, err := s.GetSlotsByBundle(ctx, bundle)
	if err != nil {
		return 0, err
	}
	return len(slots), nil
}

// SetDoNotDisturbDate stores the quiet period and tells every subscriber.
func (s *Service) SetDoNotDisturbDate(ctx context.Context, date DoNotDisturbDate) error {
	const op = "set_do_not_disturb"

	normalized, err := date.normalize()
	if err != nil {
		return serviceErrorf(ErrInvalidParam, op, "%v", err).Build()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return serviceError(ErrServiceNotReady, op).Build()
	}
	if err := s.prefs.SaveDoNotDisturbDate(ctx, normalized); err != nil {
		return prefError(err, op)
	}
	s.broadcastLocked(subscriberEvent{kind: eventDoNotDisturb, dnd: normalized})

	s.logger.Info("do-not-disturb date changed",
		logger.Int("type", int(normalized.Type)),
		logger.Time("begin", normalized.Begin),
		logger.Time("end", normalized.End))
	return nil
}

// GetDoNotDisturbDate returns the stored quiet period.
func (s *Service) GetDoNotDisturbDate(ctx context.Context) (DoNotDisturbDate, error) {
	date, err := s.prefs.GetDoNotDisturbDate(ctx)
	if err != nil {
		return DoNotDisturbDate{}, prefError(err, "get_do_not_disturb")
	}
	return date, nil
}

// SupportDoNotDisturbMode reports that do-not-disturb is available.
func (s *Service) SupportDoNotDisturbMode() bool {
	return true
}

// DisplayBadge turns the badge of a bundle on or off.
func (s *Service) DisplayBadge(ctx context.Context, bundle BundleOption, enabled bool) error {
	return s.updateSettings(ctx, bundle, "display_badge", func(b *BundleSettings) {
		b.BadgeEnabled = enabled
	})
}

// IsBadgeDisplayed reports whether the badge of a bundle is on.
func (s *Service) IsBadgeDisplayed(ctx context.Context, bundle BundleOption) (bool, error) {
	settings, err := s.bundleSettings(ctx, bundle, "is_badge_displayed")
	return settings.BadgeEnabled, err
}

// EnableNotification allows or blocks publishing for a bundle.
func (s *Service) EnableNotification(ctx context.Context, bundle BundleOption, enabled bool) error {
	return s.updateSettings(ctx, bundle, "enable_notification", func(b *BundleSettings) {
		b.NotificationEnabled = enabled
	})
}

// IsNotificationEnabled reports whether a bundle may publish.
func (s *Service) IsNotificationEnabled(ctx context.Context, bundle BundleOption) (bool, error) {
	settings, err := s.bundleSettings(ctx, bundle, "is_notification_enabled")
	return settings.NotificationEnabled, err
}

func (s *Service) bundleSettings(ctx context.Context, bundle BundleOption, op string) (BundleSettings, error) {
	if err := checkBundle(bundle, op); err != nil {
		return BundleSettings{}, err
	}
	settings, err := s.prefs.GetBundleSettings(ctx, bundle.Bundle)
	if err != nil {
		return BundleSettings{}, prefError(err, op)
	}
	return settings, nil
}

// updateSettings serializes read-modify-write cycles on bundle settings.
func (s *Service) updateSettings(ctx context.Context, bundle BundleOption, op string, update func(*BundleSettings)) error {
	if err := checkBundle(bundle, op); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	settings, err := s.prefs.GetBundleSettings(ctx, bundle.Bundle)
	if err != nil {
		return prefError(err, op)
	}
	update(&settings)
	if err := s.prefs.SaveBundleSettings(ctx, bundle.Bundle, settings); err != nil {
		return prefError(err, op)
	}

	s.logger.Info("bundle settings changed",
		logger.String("bundle", bundle.Bundle),
		logger.Bool("badge_enabled", settings.BadgeEnabled),
		logger.Bool("notification_enabled", settings.NotificationEnabled))
	return nil
}
