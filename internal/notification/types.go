// Package notification implements the notification service: per-bundle publish
// admission, active notification bookkeeping, ordered fan-out to subscribers,
// and the slot, do-not-disturb, badge and enable preferences.
package notification

import (
	"fmt"
	"maps"
	"slices"
	"time"
)

// ContentType selects the variant carried by Content.
type ContentType string

const (
	ContentBasicText ContentType = "basic_text"
	ContentLongText  ContentType = "long_text"
	ContentMultiLine ContentType = "multi_line"
	ContentPicture   ContentType = "picture"
)

// BasicContent is the title/text/additional-text triple every variant carries.
type BasicContent struct {
	Title          string `json:"title" cbor:"title"`
	Text           string `json:"text" cbor:"text"`
	AdditionalText string `json:"additionalText,omitempty" cbor:"additionalText,omitempty"`
}

// LongTextContent is a notification with an expandable long body.
type LongTextContent struct {
	BasicContent
	LongText      string `json:"longText" cbor:"longText"`
	BriefText     string `json:"briefText,omitempty" cbor:"briefText,omitempty"`
	ExpandedTitle string `json:"expandedTitle,omitempty" cbor:"expandedTitle,omitempty"`
}

// MultiLineContent is a notification rendered as a list of lines.
type MultiLineContent struct {
	BasicContent
	BriefText string   `json:"briefText,omitempty" cbor:"briefText,omitempty"`
	LongTitle string   `json:"longTitle,omitempty" cbor:"longTitle,omitempty"`
	Lines     []string `json:"lines" cbor:"lines"`
}

// PictureContent is a notification carrying an image.
type PictureContent struct {
	BasicContent
	BriefText     string `json:"briefText,omitempty" cbor:"briefText,omitempty"`
	ExpandedTitle string `json:"expandedTitle,omitempty" cbor:"expandedTitle,omitempty"`
	Picture       []byte `json:"picture,omitempty" cbor:"picture,omitempty"`
}

// Content is a tagged union. Exactly the field matching Type must be set.
type Content struct {
	Type      ContentType       `json:"contentType" cbor:"contentType"`
	Normal    *BasicContent     `json:"normal,omitempty" cbor:"normal,omitempty"`
	LongText  *LongTextContent  `json:"longText,omitempty" cbor:"longText,omitempty"`
	MultiLine *MultiLineContent `json:"multiLine,omitempty" cbor:"multiLine,omitempty"`
	Picture   *PictureContent   `json:"picture,omitempty" cbor:"picture,omitempty"`
}

// Basic returns the shared triple of the active variant, or nil when the
// variant is missing.
func (c *Content) Basic() *BasicContent {
	switch c.Type {
	case ContentBasicText:
		return c.Normal
	case ContentLongText:
		if c.LongText != nil {
			return &c.LongText.BasicContent
		}
	case ContentMultiLine:
		if c.MultiLine != nil {
			return &c.MultiLine.BasicContent
		}
	case ContentPicture:
		if c.Picture != nil {
			return &c.Picture.BasicContent
		}
	}
	return nil
}

func (c *Content) validate() error {
	set := 0
	for _, present := range []bool{c.Normal != nil, c.LongText != nil, c.MultiLine != nil, c.Picture != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("content must carry exactly one variant, got %d", set)
	}
	if c.Basic() == nil {
		return fmt.Errorf("content type %q does not match the populated variant", c.Type)
	}
	return nil
}

func (c *Content) pictureSize() int {
	if c.Picture == nil {
		return 0
	}
	return len(c.Picture.Picture)
}

func (c Content) clone() Content {
	out := Content{Type: c.Type}
	if c.Normal != nil {
		v := *c.Normal
		out.Normal = &v
	}
	if c.LongText != nil {
		v := *c.LongText
		out.LongText = &v
	}
	if c.MultiLine != nil {
		v := *c.MultiLine
		v.Lines = slices.Clone(v.Lines)
		out.MultiLine = &v
	}
	if c.Picture != nil {
		v := *c.Picture
		v.Picture = slices.Clone(v.Picture)
		out.Picture = &v
	}
	return out
}

// BundleOption identifies a publishing bundle. UID zero matches any uid where
// a filter is applied.
type BundleOption struct {
	Bundle string `json:"bundle"`
	UID    int32  `json:"uid,omitempty"`
}

// Request is a publish request. The Creator* and HashCode fields are filled
// in by the service.
type Request struct {
	ID       int32    `json:"id" cbor:"id"`
	Label    string   `json:"label,omitempty" cbor:"label,omitempty"`
	Content  Content  `json:"content" cbor:"content"`
	SlotType SlotType `json:"slotType,omitempty" cbor:"slotType,omitempty"`

	IsOngoing        bool `json:"isOngoing,omitempty" cbor:"isOngoing,omitempty"`
	IsUnremovable    bool `json:"isUnremovable,omitempty" cbor:"isUnremovable,omitempty"`
	TapDismissed     bool `json:"tapDismissed,omitempty" cbor:"tapDismissed,omitempty"`
	IsAlertOnce      bool `json:"isAlertOnce,omitempty" cbor:"isAlertOnce,omitempty"`
	ShowDeliveryTime bool `json:"showDeliveryTime,omitempty" cbor:"showDeliveryTime,omitempty"`
	IsFloatingIcon   bool `json:"isFloatingIcon,omitempty" cbor:"isFloatingIcon,omitempty"`
	ColorEnabled     bool `json:"colorEnabled,omitempty" cbor:"colorEnabled,omitempty"`

	Color            uint32 `json:"color,omitempty" cbor:"color,omitempty"`
	BadgeIconStyle   int32  `json:"badgeIconStyle,omitempty" cbor:"badgeIconStyle,omitempty"`
	StatusBarText    string `json:"statusBarText,omitempty" cbor:"statusBarText,omitempty"`
	GroupName        string `json:"groupName,omitempty" cbor:"groupName,omitempty"`
	ProgressValue    int32  `json:"progressValue,omitempty" cbor:"progressValue,omitempty"`
	ProgressMaxValue int32  `json:"progressMaxValue,omitempty" cbor:"progressMaxValue,omitempty"`

	DeliveryTime    time.Time `json:"deliveryTime,omitzero" cbor:"deliveryTime,omitempty"`
	AutoDeletedTime time.Time `json:"autoDeletedTime,omitzero" cbor:"autoDeletedTime,omitempty"` // zero means never

	Extra map[string]string `json:"extra,omitempty" cbor:"extra,omitempty"`

	CreatorBundle string `json:"creatorBundleName,omitempty" cbor:"creatorBundleName,omitempty"`
	CreatorUID    int32  `json:"creatorUid,omitempty" cbor:"creatorUid,omitempty"`
	HashCode      string `json:"hashCode,omitempty" cbor:"hashCode,omitempty"`
}

// Clone returns a deep copy of the request.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	out := *r
	out.Content = r.Content.clone()
	out.Extra = maps.Clone(r.Extra)
	return &out
}

// Key identifies an active notification. Publishing an existing key replaces it.
type Key struct {
	Bundle string
	UID    int32
	ID     int32
	Label  string
}

// HashCode renders the key as <uid>_<bundle>_<id>_<label>.
func (k Key) HashCode() string {
	return fmt.Sprintf("%d_%s_%d_%s", k.UID, k.Bundle, k.ID, k.Label)
}

// Notification is an admitted request as stored and delivered to subscribers.
type Notification struct {
	Request  *Request  `json:"request" cbor:"request"`
	Slot     SlotType  `json:"slot" cbor:"slot"`
	Silent   bool      `json:"silent,omitempty" cbor:"silent,omitempty"` // posted during do-not-disturb
	PostedAt time.Time `json:"postedAt" cbor:"postedAt"`
	Sequence uint64    `json:"sequence" cbor:"sequence"` // admission order across all bundles
}

// Key returns the notification key.
func (n *Notification) Key() Key {
	return Key{
		Bundle: n.Request.CreatorBundle,
		UID:    n.Request.CreatorUID,
		ID:     n.Request.ID,
		Label:  n.Request.Label,
	}
}

// HashCode returns the stored hash code.
func (n *Notification) HashCode() string {
	return n.Request.HashCode
}

// Clone returns a deep copy so subscribers cannot mutate stored state.
func (n *Notification) Clone() *Notification {
	if n == nil {
		return nil
	}
	out := *n
	out.Request = n.Request.Clone()
	return &out
}

// RemoveReason tells subscribers why a notification went away.
type RemoveReason int

const (
	ReasonClickDelete     RemoveReason = 1
	ReasonCancelDelete    RemoveReason = 2
	ReasonCancelAllDelete RemoveReason = 3
	ReasonErrorDelete     RemoveReason = 4
	ReasonPackageChanged  RemoveReason = 5
	ReasonUserStopped     RemoveReason = 6
	ReasonPackageBanned   RemoveReason = 7
	ReasonAppCancel       RemoveReason = 8
	ReasonAppCancelAll    RemoveReason = 9
)

func (r RemoveReason) String() string {
	switch r {
	case ReasonClickDelete:
		return "click_delete"
	case ReasonCancelDelete:
		return "cancel_delete"
	case ReasonCancelAllDelete:
		return "cancel_all_delete"
	case ReasonErrorDelete:
		return "error_delete"
	case ReasonPackageChanged:
		return "package_changed"
	case ReasonUserStopped:
		return "user_stopped"
	case ReasonPackageBanned:
		return "package_banned"
	case ReasonAppCancel:
		return "app_cancel"
	case ReasonAppCancelAll:
		return "app_cancel_all"
	default:
		return fmt.Sprintf("reason_%d", int(r))
	}
}
