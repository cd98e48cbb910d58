// Package progress implements the server-authoritative gate over a student's
// progress status. The UI is purely client-driven, so every side-effecting
// endpoint consults the gate before its persistence write; the gate is what
// keeps a student from replaying or skipping stages by calling endpoints out
// of order.
//
// All checks are pure functions over the single student row passed in: no
// locking, no I/O, no retained state.
package progress

import (
	"github.com/classlens/classlens/internal/model"
)

// statusOrder is the forward order of the learning sequence, as data.
// Legality checks compare indexes instead of enumerating transitions in
// scattered conditionals.
var statusOrder = map[model.ProgressStatus]int{
	model.StatusNotStarted:     0,
	model.StatusBigFive:        1,
	model.StatusThemeSelection: 2,
	model.StatusBriefing:       3,
	model.StatusQuestions:      4,
	model.StatusCompleted:      5,
}

// resetTargets are the statuses a privileged (teacher-issued) regression may
// move a student back to.
var resetTargets = map[model.ProgressStatus]bool{
	model.StatusBigFive: true,
}

// paths maps each status to the client route for that stage.
var paths = map[model.ProgressStatus]string{
	model.StatusNotStarted:     "/survey/big-five",
	model.StatusBigFive:        "/survey/big-five",
	model.StatusThemeSelection: "/survey/themes",
	model.StatusBriefing:       "/survey/briefing",
	model.StatusQuestions:      "/survey/questions",
	model.StatusCompleted:      "/survey/done",
}

// ResolveNextPath returns the client path for a student's current status.
// Total over all inputs: unknown statuses resolve to the first stage.
func ResolveNextPath(status model.ProgressStatus) string {
	if p, ok := paths[status]; ok {
		return p
	}
	return paths[model.StatusNotStarted]
}

// AssertForwardTransition approves or rejects a status mutation.
//
// The transition is legal when requested is strictly later than current in
// the forward order, or equal to it (idempotent re-entry, which is what makes
// double-submits and repeated mark-complete calls no-op successes). Any other
// regression is rejected with a FORBIDDEN error before anything is written.
func AssertForwardTransition(current, requested model.ProgressStatus) error {
	return assertTransition(current, requested, false)
}

// AssertReset approves a teacher-issued regression. Only the explicitly
// allowed reset targets are legal; everything else fails exactly as an
// unprivileged regression would.
func AssertReset(current, requested model.ProgressStatus) error {
	return assertTransition(current, requested, true)
}

// Advances reports whether requested sits strictly later than current in the
// forward order. Side-effecting endpoints use it to decide whether a legal
// re-entry should also move the stored status forward; re-entering an earlier
// stage never regresses what is stored.
func Advances(current, requested model.ProgressStatus) bool {
	return statusOrder[requested] > statusOrder[current]
}

func assertTransition(current, requested model.ProgressStatus, privileged bool) error {
	curIdx, ok := statusOrder[current]
	if !ok {
		return model.Validationf("unknown current status %q", current)
	}
	reqIdx, ok := statusOrder[requested]
	if !ok {
		return model.Validationf("unknown requested status %q", requested)
	}

	if reqIdx >= curIdx {
		return nil
	}
	if privileged && resetTargets[requested] {
		return nil
	}
	return model.Forbiddenf("illegal transition from %s to %s", current, requested)
}
