package brain

import (
	"fmt"
	"strings"
)

// historyWindow is how many trailing history entries the prompt carries.
const historyWindow = 8

const systemPrompt = `You are a precise web-automation operator. You are given a numbered listing
of the interactive elements on the current screen and a goal. Decide the single
next action that moves toward the goal.

Rules:
- Interact only with elements from the listing, referenced by their numeric id.
- One action per response. Never invent ids or elements.
- Use "type" for text inputs, "select" for dropdowns, "click" for everything else.
- If the target is not on screen, respond with a scroll action.
- When the goal is fully achieved, respond with action "message" and a short
  confirmation as the value.

Respond with a single JSON object:
{"action": "click|type|select|scroll|message", "id": "<numeric id>", "value": "<text, option, direction or message>"}`

// actionSchema constrains structured-output backends to the decision shape.
var actionSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"action": map[string]any{
			"type": "string",
			"enum": []string{"click", "type", "select", "scroll", "message"},
		},
		"id":        map[string]any{"type": "string"},
		"value":     map[string]any{"type": "string"},
		"rationale": map[string]any{"type": "string"},
	},
	"required":             []string{"action"},
	"additionalProperties": false,
}

// promptInput is everything one decision prompt is built from.
type promptInput struct {
	Goal       string
	Listing    string
	Guidance   Guidance
	PlanText   string // current step of a synthesized plan, overrides demo guidance
	NavHint    string
	Worked     []string
	Failed     []string
	BannedIDs  []string
	History    []string
	ErrContext string
}

func buildTaskPrompt(in promptInput) string {
	var b strings.Builder

	fmt.Fprintf(&b, "GOAL: %s\n\n", in.Goal)

	if in.PlanText != "" {
		fmt.Fprintf(&b, "CURRENT PLAN STEP: %s\n\n", in.PlanText)
	} else if in.Guidance.Available {
		writeGuidance(&b, in.Guidance)
	}
	if in.NavHint != "" {
		fmt.Fprintf(&b, "NAVIGATION HINT: %s\n\n", in.NavHint)
	}
	if len(in.Worked) > 0 {
		b.WriteString("Actions that worked before in similar situations:\n")
		for _, a := range in.Worked {
			fmt.Fprintf(&b, "- %s\n", a)
		}
		b.WriteByte('\n')
	}
	if len(in.Failed) > 0 {
		b.WriteString("Actions that FAILED before in similar situations, avoid them:\n")
		for _, a := range in.Failed {
			fmt.Fprintf(&b, "- %s\n", a)
		}
		b.WriteByte('\n')
	}
	if len(in.BannedIDs) > 0 {
		fmt.Fprintf(&b, "FORBIDDEN IDS on this screen (already tried, led nowhere): %s\n\n",
			strings.Join(in.BannedIDs, ", "))
	}
	if len(in.History) > 0 {
		b.WriteString("RECENT ACTIONS (oldest first):\n")
		tail := in.History
		if len(tail) > historyWindow {
			tail = tail[len(tail)-historyWindow:]
		}
		for _, entry := range tail {
			fmt.Fprintf(&b, "- %s\n", entry)
		}
		b.WriteByte('\n')
	}
	if in.ErrContext != "" {
		fmt.Fprintf(&b, "PREVIOUS ATTEMPT FAILED: %s\nCorrect this in your next action.\n\n", in.ErrContext)
	}

	b.WriteString("CURRENT SCREEN ELEMENTS:\n")
	b.WriteString(strings.TrimSpace(in.Listing))
	b.WriteString("\n\nRespond with the single JSON action object.")
	return b.String()
}

func writeGuidance(b *strings.Builder, g Guidance) {
	if g.SoftStop {
		fmt.Fprintf(b, "A recorded walkthrough of %q has been fully executed. Verify the goal is achieved; if it is, respond with a message action confirming completion.\n\n", g.TaskName)
		return
	}
	fmt.Fprintf(b, "RECORDED WALKTHROUGH %q, step %d of %d:\n", g.TaskName, g.StepIndex+1, g.TotalSteps)
	fmt.Fprintf(b, "- action: %s", g.ActionKind)
	if g.Value != "" {
		fmt.Fprintf(b, " with value %q", g.Value)
	}
	b.WriteByte('\n')
	fmt.Fprintf(b, "- target element: %q\n", g.Desc)
	switch {
	case g.SuggestedID != "":
		fmt.Fprintf(b, "- the element appears to be id %s on the current screen\n", g.SuggestedID)
	case g.BannedHere:
		b.WriteString("- the obvious match for this element is forbidden; find an alternative element or scroll\n")
	case g.NeedScroll:
		b.WriteString("- the element is NOT visible on the current screen; scroll to reveal it\n")
	}
	b.WriteByte('\n')
}

const plannerSystemPrompt = `You turn recorded walkthroughs of a web application into a concise numbered
plan for a new goal. Each plan line is one concrete UI interaction, phrased as
an instruction with the visible label of the element to use, for example:
1. Click "Invoices" in the sidebar
2. Type the amount into "Amount"
Write only the numbered plan, nothing else.`

func buildPlannerPrompt(goal string, demoTexts []string, navHint string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "GOAL: %s\n\n", goal)
	if navHint != "" {
		fmt.Fprintf(&b, "NAVIGATION HINT: %s\n\n", navHint)
	}
	b.WriteString("RECORDED WALKTHROUGHS of similar tasks:\n\n")
	for i, text := range demoTexts {
		fmt.Fprintf(&b, "--- Walkthrough %d ---\n%s\n\n", i+1, text)
	}
	b.WriteString("Produce the numbered plan for the goal.")
	return b.String()
}

const chatSystemPrompt = `You are a helpful assistant embedded in a web application. Answer the user's
question conversationally. You can see a listing of the current screen's
elements; use it to answer questions about what is on screen, but do not
perform actions.`
