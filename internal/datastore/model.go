package datastore

import (
	"time"

	"github.com/openans/ansd/internal/notification"
)

// SlotRecord is one slot of one bundle.
type SlotRecord struct {
	Bundle               string `gorm:"primaryKey;size:255"`
	SlotType             int    `gorm:"primaryKey;autoIncrement:false"`
	Level                int
	Description          string `gorm:"size:255"`
	BadgeFlag            bool
	BypassDnd            bool
	LockscreenVisibility int
	VibrationEnabled     bool
	Sound                string `gorm:"size:512"`
	LightEnabled         bool
	LightColor           int32
	UpdatedAt            time.Time
}

// TableName overrides the GORM default.
func (SlotRecord) TableName() string { return "slots" }

// BundleSettingsRecord holds the badge and enable switches of a bundle.
type BundleSettingsRecord struct {
	Bundle              string `gorm:"primaryKey;size:255"`
	BadgeEnabled        bool
	NotificationEnabled bool
	UpdatedAt           time.Time
}

func (BundleSettingsRecord) TableName() string { return "bundle_settings" }

// DoNotDisturbRecord is the single system-wide do-not-disturb row.
type DoNotDisturbRecord struct {
	ID        uint `gorm:"primaryKey;autoIncrement:false"`
	DndType   int
	BeginsAt  time.Time
	EndsAt    time.Time
	UpdatedAt time.Time
}

func (DoNotDisturbRecord) TableName() string { return "do_not_disturb" }

const doNotDisturbRowID = 1

func slotToRecord(bundle string, s *notification.Slot) SlotRecord {
	return SlotRecord{
		Bundle:               bundle,
		SlotType:             int(s.Type),
		Level:                int(s.Level),
		Description:          s.Description,
		BadgeFlag:            s.BadgeFlag,
		BypassDnd:            s.BypassDnd,
		LockscreenVisibility: int(s.LockscreenVisibility),
		VibrationEnabled:     s.VibrationEnabled,
		Sound:                s.Sound,
		LightEnabled:         s.LightEnabled,
		LightColor:           s.LightColor,
	}
}

func (r *SlotRecord) toSlot() notification.Slot {
	return notification.Slot{
		Type:                 notification.SlotType(r.SlotType),
		Level:                notification.SlotLevel(r.Level),
		Description:          r.Description,
		BadgeFlag:            r.BadgeFlag,
		BypassDnd:            r.BypassDnd,
		LockscreenVisibility: notification.Visibility(r.LockscreenVisibility),
		VibrationEnabled:     r.VibrationEnabled,
		Sound:                r.Sound,
		LightEnabled:         r.LightEnabled,
		LightColor:           r.LightColor,
	}
}

func (r *DoNotDisturbRecord) toDate() notification.DoNotDisturbDate {
	return notification.DoNotDisturbDate{
		Type:  notification.DoNotDisturbType(r.DndType),
		Begin: r.BeginsAt.UTC(),
		End:   r.EndsAt.UTC(),
	}
}
