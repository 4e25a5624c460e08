package worker

import (
	"github.com/spec-kit/backoffice/internal/audit"
)

// StartAuditWorker subscribes the sinks and starts the recorder's delivery
// goroutine. Sinks must be subscribed before the first event is recorded.
func StartAuditWorker(recorder *audit.Recorder, sinks ...audit.Sink) {
	if recorder == nil {
		return
	}
	for _, sink := range sinks {
		if sink != nil {
			recorder.Subscribe(sink)
		}
	}
	recorder.Start()
}
