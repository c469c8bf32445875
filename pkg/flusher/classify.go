package flusher

import (
	"time"

	"github.com/harun/pulse/pkg/envelope"
	"github.com/harun/pulse/pkg/session"
)

// BucketGranularity is the width of one aggregation window.
const BucketGranularity = time.Minute

// Classify picks the single counter a session contributes to. Crashed wins
// over abnormal, which wins over a non-zero error count.
func Classify(status session.Status, errors int) envelope.Outcome {
	switch {
	case status == session.StatusCrashed:
		return envelope.OutcomeCrashed
	case status == session.StatusAbnormal:
		return envelope.OutcomeAbnormal
	case errors > 0:
		return envelope.OutcomeErrored
	default:
		return envelope.OutcomeExited
	}
}

// BucketStart returns the lower bound, in UTC, of the window containing t.
func BucketStart(t time.Time) time.Time {
	return t.UTC().Truncate(BucketGranularity)
}
