package cli

import (
	"fmt"
	"io"

	"github.com/harun/pulse/pkg/envelope"
	"github.com/harun/pulse/pkg/flusher"
	"github.com/harun/pulse/pkg/session"
)

var outcomeOrder = []envelope.Outcome{
	envelope.OutcomeExited,
	envelope.OutcomeErrored,
	envelope.OutcomeCrashed,
	envelope.OutcomeAbnormal,
}

// tally counts sessions handed to the flusher by the outcome they fold into.
type tally struct {
	sessions int
	skipped  int
	outcomes map[envelope.Outcome]int
}

func newTally() *tally {
	return &tally{outcomes: make(map[envelope.Outcome]int)}
}

func (t *tally) add(s *session.Session) {
	t.sessions++
	t.outcomes[flusher.Classify(s.Status(), s.Errors())]++
}

func (t *tally) print(w io.Writer, verb string) {
	fmt.Fprintf(w, "%s %d session(s)", verb, t.sessions)
	if t.skipped > 0 {
		fmt.Fprintf(w, ", skipped %d", t.skipped)
	}
	fmt.Fprintln(w)
	for _, o := range outcomeOrder {
		fmt.Fprintf(w, "  %-8s %d\n", o, t.outcomes[o])
	}
}
