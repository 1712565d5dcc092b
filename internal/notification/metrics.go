package notification

// MetricsRecorder receives service counters. The observability package
// provides a Prometheus implementation.
type MetricsRecorder interface {
	RecordAdmission(outcome string)
	RecordRemoval(reason RemoveReason)
	RecordSubscriberDied()
	SetActiveNotifications(count int)
	SetSubscribers(count int)
}

type noopMetrics struct{}

func (noopMetrics) RecordAdmission(string)       {}
func (noopMetrics) RecordRemoval(RemoveReason)   {}
func (noopMetrics) RecordSubscriberDied()        {}
func (noopMetrics) SetActiveNotifications(int)   {}
func (noopMetrics) SetSubscribers(int)           {}
