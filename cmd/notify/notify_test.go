package notify

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/openans/ansd/internal/conf"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// syncBuffer guards the buffer against the subscriber goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func burstSettings(policy string) *conf.Settings {
	return &conf.Settings{
		Notification: conf.NotificationSettings{
			Admission: conf.AdmissionSettings{
				Quota:  5,
				Window: time.Hour,
				Mode:   "sliding",
				Policy: policy,
			},
			CleanupInterval: time.Hour,
		},
	}
}

func TestRun_DropPolicy(t *testing.T) {
	t.Parallel()

	out := &syncBuffer{}
	summary, err := Run(t.Context(), burstSettings("drop"), Options{
		Bundle: "com.example.chat",
		Count:  12,
		Title:  "t",
		Text:   "x",
	}, out)
	require.NoError(t, err)

	assert.Equal(t, 12, summary.Published)
	assert.Equal(t, 5, summary.Admitted)
	assert.Equal(t, 7, summary.Dropped)
	assert.Zero(t, summary.Rejected)
	assert.Equal(t, []int32{1, 2, 3, 4, 5}, summary.Consumed)
	assert.Equal(t, 5, strings.Count(out.String(), "consumed id="))
}

func TestRun_RejectPolicy(t *testing.T) {
	t.Parallel()

	summary, err := Run(t.Context(), burstSettings("reject"), Options{
		Bundle: "com.example.chat",
		Count:  8,
		Title:  "t",
		Text:   "x",
	}, &syncBuffer{})
	require.NoError(t, err)

	assert.Equal(t, 5, summary.Admitted)
	assert.Equal(t, 3, summary.Rejected)
	assert.Zero(t, summary.Dropped)
}

func TestRun_InvalidCount(t *testing.T) {
	t.Parallel()

	_, err := Run(t.Context(), burstSettings("drop"), Options{Bundle: "b", Count: 0}, &syncBuffer{})
	require.ErrorContains(t, err, "count must be positive")
}

func TestPrintSummary(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	printSummary(&out, burstSettings("drop"), Summary{Published: 3, Admitted: 2, Dropped: 1})

	assert.Contains(t, out.String(), "Sliding window, Drop policy: 5 per 1h0m0s")
	assert.Contains(t, out.String(), "published=3 admitted=2 dropped=1 rejected=0")
}
