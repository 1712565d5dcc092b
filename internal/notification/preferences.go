package notification

import (
	"context"
	"maps"
	"slices"
	"sync"
)

// BundleSettings are the per-bundle switches.
type BundleSettings struct {
	BadgeEnabled        bool `json:"badgeEnabled"`
	NotificationEnabled bool `json:"notificationEnabled"`
}

// DefaultBundleSettings returns badge and notifications enabled.
func DefaultBundleSettings() BundleSettings {
	return BundleSettings{BadgeEnabled: true, NotificationEnabled: true}
}

// PreferenceStore persists slots, bundle switches and the do-not-disturb date.
// Reads of unknown bundles return defaults, not errors.
type PreferenceStore interface {
	GetSlots(ctx context.Context, bundle string) ([]Slot, error)
	GetSlot(ctx context.Context, bundle string, slotType SlotType) (Slot, bool, error)
	SaveSlots(ctx context.Context, bundle string, slots []Slot) error
	DeleteSlot(ctx context.Context, bundle string, slotType SlotType) (bool, error)
	DeleteAllSlots(ctx context.Context, bundle string) error

	GetBundleSettings(ctx context.Context, bundle string) (BundleSettings, error)
	SaveBundleSettings(ctx context.Context, bundle string, settings BundleSettings) error

	GetDoNotDisturbDate(ctx context.Context) (DoNotDisturbDate, error)
	SaveDoNotDisturbDate(ctx context.Context, date DoNotDisturbDate) error
}

// InMemoryPreferences is the default, non-persistent PreferenceStore.
type InMemoryPreferences struct {
	mu       sync.RWMutex
	slots    map[string]map[SlotType]Slot
	settings map[string]BundleSettings
	dnd      DoNotDisturbDate
}

// NewInMemoryPreferences creates an empty store.
func NewInMemoryPreferences() *InMemoryPreferences {
	return &InMemoryPreferences{
		slots:    make(map[string]map[SlotType]Slot),
		settings: make(map[string]BundleSettings),
		dnd:      DefaultDoNotDisturbDate(),
	}
}

func (p *InMemoryPreferences) GetSlots(_ context.Context, bundle string) ([]Slot, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	byType := p.slots[bundle]
	types := slices.Sorted(maps.Keys(byType))
	out := make([]Slot, 0, len(types))
	for _, t := range types {
		out = append(out, byType[t])
	}
	return out, nil
}

func (p *InMemoryPreferences) GetSlot(_ context.Context, bundle string, slotType SlotType) (Slot, bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	slot, ok := p.slots[bundle][slotType]
	return slot, ok, nil
}

func (p *InMemoryPreferences) SaveSlots(_ context.Context, bundle string, slots []Slot) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	byType, ok := p.slots[bundle]
	if !ok {
		byType = make(map[SlotType]Slot, len(slots))
		p.slots[bundle] = byType
	}
	for _, s := range slots {
		byType[s.Type] = s
	}
	return nil
}

func (p *InMemoryPreferences) DeleteSlot(_ context.Context, bundle string, slotType SlotType) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	byType := p.slots[bundle]
	if _, ok := byType[slotType]; !ok {
		return false, nil
	}
	delete(byType, slotType)
	return true, nil
}

func (p *InMemoryPreferences) DeleteAllSlots(_ context.Context, bundle string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.slots, bundle)
	return nil
}

func (p *InMemoryPreferences) GetBundleSettings(_ context.Context, bundle string) (BundleSettings, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if s, ok := p.settings[bundle]; ok {
		return s, nil
	}
	return DefaultBundleSettings(), nil
}

func (p *InMemoryPreferences) SaveBundleSettings(_ context.Context, bundle string, settings BundleSettings) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.settings[bundle] = settings
	return nil
}

func (p *InMemoryPreferences) GetDoNotDisturbDate(context.Context) (DoNotDisturbDate, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.dnd, nil
}

func (p *InMemoryPreferences) SaveDoNotDisturbDate(_ context.Context, date DoNotDisturbDate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dnd = date
	return nil
}
