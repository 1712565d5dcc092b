package notification

import "fmt"

// SlotType groups notifications by purpose; each bundle keeps one Slot per type.
type SlotType int

const (
	SlotUnknown             SlotType = 0
	SlotSocialCommunication SlotType = 1
	SlotServiceInformation  SlotType = 2
	SlotContentInformation  SlotType = 3
	SlotOtherTypes          SlotType = 0xFFFF
)

// Valid reports whether t is a known slot type.
func (t SlotType) Valid() bool {
	switch t {
	case SlotUnknown, SlotSocialCommunication, SlotServiceInformation, SlotContentInformation, SlotOtherTypes:
		return true
	default:
		return false
	}
}

// normalize maps SlotUnknown onto SlotOtherTypes.
func (t SlotType) normalize() SlotType {
	if t == SlotUnknown {
		return SlotOtherTypes
	}
	return t
}

func (t SlotType) String() string {
	switch t {
	case SlotUnknown:
		return "unknown"
	case SlotSocialCommunication:
		return "social_communication"
	case SlotServiceInformation:
		return "service_information"
	case SlotContentInformation:
		return "content_information"
	case SlotOtherTypes:
		return "other_types"
	default:
		return fmt.Sprintf("slot_%d", int(t))
	}
}

// ParseSlotType accepts either the numeric value or the String() form.
func ParseSlotType(s string) (SlotType, error) {
	for _, t := range []SlotType{SlotUnknown, SlotSocialCommunication, SlotServiceInformation, SlotContentInformation, SlotOtherTypes} {
		if s == t.String() || s == fmt.Sprint(int(t)) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown slot type %q", s)
}

// SlotLevel is the importance of notifications posted to a slot.
type SlotLevel int

const (
	LevelNone    SlotLevel = 0
	LevelMin     SlotLevel = 1
	LevelLow     SlotLevel = 2
	LevelDefault SlotLevel = 3
	LevelHigh    SlotLevel = 4
)

// Visibility controls what the lock screen shows.
type Visibility int

const (
	VisibilityNoOverride Visibility = 0
	VisibilityPublic     Visibility = 1
	VisibilitySecret     Visibility = 2
	VisibilityPrivate    Visibility = 3
)

// Slot holds per-bundle presentation settings for one slot type.
type Slot struct {
	Type                 SlotType   `json:"type"`
	Level                SlotLevel  `json:"level"`
	Description          string     `json:"desc,omitempty"`
	BadgeFlag            bool       `json:"badgeFlag"`
	BypassDnd            bool       `json:"bypassDnd"`
	LockscreenVisibility Visibility `json:"lockscreenVisibility"`
	VibrationEnabled     bool       `json:"vibrationEnabled"`
	Sound                string     `json:"sound,omitempty"`
	LightEnabled         bool       `json:"lightEnabled"`
	LightColor           int32      `json:"lightColor"`
}

// DefaultSlot returns the factory settings for t.
func DefaultSlot(t SlotType) Slot {
	slot := Slot{
		Type:      t.normalize(),
		BadgeFlag: true,
	}

	switch slot.Type {
	case SlotSocialCommunication:
		slot.Level = LevelHigh
		slot.LockscreenVisibility = VisibilitySecret
		slot.VibrationEnabled = true
	case SlotServiceInformation:
		slot.Level = LevelDefault
		slot.LockscreenVisibility = VisibilitySecret
		slot.VibrationEnabled = true
	case SlotContentInformation:
		slot.Level = LevelLow
		slot.LockscreenVisibility = VisibilityPrivate
	default:
		slot.Level = LevelMin
		slot.LockscreenVisibility = VisibilityPrivate
	}

	return slot
}

func (s *Slot) validate() error {
	if !s.Type.Valid() {
		return fmt.Errorf("unknown slot type %d", int(s.Type))
	}
	if s.Level < LevelNone || s.Level > LevelHigh {
		return fmt.Errorf("slot level %d out of range", int(s.Level))
	}
	if s.LockscreenVisibility < VisibilityNoOverride || s.LockscreenVisibility > VisibilityPrivate {
		return fmt.Errorf("lockscreen visibility %d out of range", int(s.LockscreenVisibility))
	}
	return nil
}
