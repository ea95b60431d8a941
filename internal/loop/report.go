package loop

import (
	"fmt"
	"strings"
)

// HaltReport explains why the breaker opened and what a human should do.
type HaltReport struct {
	SessionID             string `json:"session_id"`
	Reason                string `json:"reason"`
	Iterations            int    `json:"iterations"`
	ConsecutiveNoProgress int    `json:"consecutive_no_progress"`
	ErrorSignature        string `json:"error_signature,omitempty"`
	ErrorCount            int    `json:"error_count"`
	ConsecutiveTestOnly   int    `json:"consecutive_test_only"`
	Recommendation        string `json:"recommendation"`
}

// NewHaltReport builds a report from an open state.
func NewHaltReport(st State) *HaltReport {
	return &HaltReport{
		SessionID:             st.SessionID,
		Reason:                st.TripReason,
		Iterations:            st.Iterations,
		ConsecutiveNoProgress: st.ConsecutiveNoProgress,
		ErrorSignature:        st.ErrorSignature,
		ErrorCount:            st.ErrorCount,
		ConsecutiveTestOnly:   st.ConsecutiveTestOnly,
		Recommendation:        recommendation(st),
	}
}

func recommendation(st State) string {
	var next string
	switch st.TripReason {
	case TripNoProgress:
		next = fmt.Sprintf("The last %d iterations changed nothing. Narrow the task or supply the missing information.", st.ConsecutiveNoProgress)
	case TripSameError:
		next = fmt.Sprintf("The same error occurred %d times in a row (%s). Fix it by hand or change the approach.", st.ErrorCount, st.ErrorSignature)
	case TripTestOnly:
		next = fmt.Sprintf("The last %d iterations only touched tests. Check whether the implementation is blocked.", st.ConsecutiveTestOnly)
	default:
		next = "Inspect the session before resuming."
	}
	return next + fmt.Sprintf(" Then run `hookguard loop reset --session %s`.", st.SessionID)
}

// String renders the report as the message shown to the agent and operator.
func (r *HaltReport) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "autonomous loop halted (%s) after %d iterations\n", r.Reason, r.Iterations)
	fmt.Fprintf(&b, "  no-progress streak: %d\n", r.ConsecutiveNoProgress)
	if r.ErrorSignature != "" {
		fmt.Fprintf(&b, "  last error: %s (x%d)\n", r.ErrorSignature, r.ErrorCount)
	}
	fmt.Fprintf(&b, "  test-only streak: %d\n", r.ConsecutiveTestOnly)
	b.WriteString(r.Recommendation)
	return b.String()
}
