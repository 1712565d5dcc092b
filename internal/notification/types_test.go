package notification

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openans/ansd/internal/errors"
)

func TestKeyHashCode(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "100_com.example.app_3_tag", Key{Bundle: "com.example.app", UID: 100, ID: 3, Label: "tag"}.HashCode())
	assert.Equal(t, "0_b_-1_", Key{Bundle: "b", ID: -1}.HashCode())
}

func TestContentBasic(t *testing.T) {
	t.Parallel()

	long := Content{Type: ContentLongText, LongText: &LongTextContent{
		BasicContent: BasicContent{Title: "t", Text: "x"},
		LongText:     "long",
	}}
	require.NoError(t, long.validate())
	assert.Equal(t, "t", long.Basic().Title)

	multi := Content{Type: ContentMultiLine, MultiLine: &MultiLineContent{Lines: []string{"a", "b"}}}
	require.NoError(t, multi.validate())

	both := Content{Type: ContentBasicText, Normal: &BasicContent{}, Picture: &PictureContent{}}
	assert.Error(t, both.validate())
}

func TestRequestClone(t *testing.T) {
	t.Parallel()

	req := &Request{
		ID:    1,
		Extra: map[string]string{"k": "v"},
		Content: Content{Type: ContentMultiLine, MultiLine: &MultiLineContent{
			Lines: []string{"one"},
		}},
	}
	clone := req.Clone()
	clone.Extra["k"] = "changed"
	clone.Content.MultiLine.Lines[0] = "changed"

	assert.Equal(t, "v", req.Extra["k"])
	assert.Equal(t, "one", req.Content.MultiLine.Lines[0])
	assert.Nil(t, (*Request)(nil).Clone())
}

func TestRequestJSON(t *testing.T) {
	t.Parallel()

	var req Request
	require.NoError(t, json.Unmarshal([]byte(`{
		"id": 5,
		"label": "x",
		"slotType": 1,
		"content": {"contentType": "basic_text", "normal": {"title": "hi", "text": "there"}}
	}`), &req))

	assert.Equal(t, int32(5), req.ID)
	assert.Equal(t, SlotSocialCommunication, req.SlotType)
	require.NoError(t, req.Content.validate())
	assert.Equal(t, "there", req.Content.Basic().Text)
}

func TestRemoveReasonString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "cancel_all_delete", ReasonCancelAllDelete.String())
	assert.Equal(t, "app_cancel_all", ReasonAppCancelAll.String())
	assert.Equal(t, "reason_42", RemoveReason(42).String())
}

func TestCodeOf(t *testing.T) {
	t.Parallel()

	assert.Equal(t, CodeOK, CodeOf(nil))
	assert.Equal(t, CodeUnknown, CodeOf(fmt.Errorf("plain")))
	assert.Equal(t, CodeInvalidBundle, CodeOf(ErrInvalidBundle))
	assert.Equal(t, CodeSlotNotExist, CodeOf(fmt.Errorf("wrapped: %w", ErrSlotNotExist)))

	err := serviceErrorf(ErrNotificationNotExists, "cancel", "%s", "1_a_1_").Build()
	assert.Equal(t, CodeNotificationNotExists, CodeOf(err))
	assert.Contains(t, err.Error(), "1_a_1_")
	assert.True(t, errors.Is(err, ErrNotificationNotExists))
	assert.False(t, errors.Is(err, ErrSlotNotExist), "sentinels sharing a category stay distinct")
}
