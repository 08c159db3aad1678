package brain

import (
	"strconv"
	"strings"

	"github.com/mkovalev/web-agent-brain/internal/memory"
	"github.com/mkovalev/web-agent-brain/internal/snapshot"
)

// softStopSlack bounds how far past the demo length the history may grow
// before the loop asks the oracle to wrap up instead of pushing more steps.
const softStopSlack = 4

// Guidance is what a recorded demonstration contributes to one decision:
// the step the agent should be on, resolved against the live screen.
type Guidance struct {
	Available   bool
	TaskName    string
	StepIndex   int
	TotalSteps  int
	Desc        string // cleaned element description of the current step
	ActionKind  string
	Value       string
	SuggestedID string // numeric id when the element is visible and not banned
	BannedHere  bool   // element is visible but its id is banned on this screen
	RefImage    string
	NeedScroll  bool // element not visible anywhere in the snapshot
	Complete    bool // final step already satisfied: finish without the oracle
	SoftStop    bool // demo exhausted or history overlong: ask the oracle to close out
}

// BuildGuidance positions the demonstration against the live snapshot and the
// session history. Identifiers recorded in the demo are never trusted; only
// element descriptions are, re-resolved on every call.
func BuildGuidance(goal string, demo memory.Demonstration, idx *snapshot.Index, sess *Session, fingerprint string) Guidance {
	steps := demo.Steps
	if len(steps) == 0 {
		return Guidance{}
	}
	g := Guidance{
		Available:  true,
		TaskName:   demo.TaskName,
		TotalSteps: len(steps),
	}

	history := sess.History()
	cursor := progressCursor(steps, idx, history)

	if cursor >= len(steps) {
		cursor = len(steps) - 1
		if finalStepSatisfied(steps, idx, goal, demo.TaskName) {
			g.Complete = true
			return g
		}
		g.SoftStop = true
	}
	if len(history) > 2*len(steps)+softStopSlack {
		g.SoftStop = true
	}

	step := steps[cursor]
	g.StepIndex = cursor
	g.Desc = snapshot.CleanDescription(step.ElementDesc)
	g.ActionKind = step.Action.Type
	g.Value = step.Action.Value
	g.RefImage = step.CropImagePath

	// On the last step, a satisfied target means the work is already done,
	// but only a goal matching the demo's own task name may short-circuit;
	// a paraphrased goal still goes through the oracle.
	if cursor == len(steps)-1 && finalStepSatisfied(steps, idx, goal, demo.TaskName) {
		g.Complete = true
		return g
	}

	if id, ok := idx.FindByDescription(step.ElementDesc); ok {
		sid := strconv.Itoa(id)
		if sess.Banned(fingerprint, sid) {
			g.BannedHere = true
		} else {
			g.SuggestedID = sid
		}
	} else {
		g.NeedScroll = true
	}
	return g
}

// progressCursor decides which demo step comes next. The visibility scan wins
// when it lands: seeing a later step's element on screen means the earlier
// steps already happened, whatever the history says (reloads and redirects
// lose history entries). Only when nothing is visible does the count of
// executed actions decide.
func progressCursor(steps []memory.DemoStep, idx *snapshot.Index, history []string) int {
	if vis := visibilityCursor(steps, idx); vis >= 0 {
		return vis
	}
	return historyCursor(steps, history)
}

// visibilityCursor scans demo steps from the end and returns the index of the
// latest step whose element is on screen, or -1.
func visibilityCursor(steps []memory.DemoStep, idx *snapshot.Index) int {
	for i := len(steps) - 1; i >= 0; i-- {
		if _, ok := idx.FindByDescription(steps[i].ElementDesc); ok {
			return i
		}
	}
	return -1
}

// historyCursor counts effective progress through the demo: interactive
// entries advance it, scrolls are free moves, a reported error undoes the
// step that caused it.
func historyCursor(steps []memory.DemoStep, history []string) int {
	count := 0
	for _, entry := range history {
		switch {
		case strings.HasPrefix(entry, "error:"):
			if count > 0 {
				count--
			}
		case strings.HasPrefix(entry, "scroll"):
			// no progress either way
		default:
			count++
		}
	}
	if count > len(steps) {
		count = len(steps)
	}
	return count
}

func finalStepSatisfied(steps []memory.DemoStep, idx *snapshot.Index, goal, taskName string) bool {
	last := steps[len(steps)-1]
	if !strings.EqualFold(strings.TrimSpace(goal), strings.TrimSpace(taskName)) {
		return false
	}
	return idx.Satisfied(last.ElementDesc, last.Action.Type, last.Action.Value)
}
