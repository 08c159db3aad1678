package brain

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/mkovalev/web-agent-brain/internal/llm"
	"github.com/mkovalev/web-agent-brain/internal/memory"
)

const plannerDemoK = 3

// PlanMemory is the retrieval surface plan synthesis needs.
type PlanMemory interface {
	NearestDemonstrations(ctx context.Context, goal string, k int) []memory.Demonstration
}

// Planner synthesizes a numbered step plan for a goal out of the nearest
// recorded demonstrations. Plans are advisory: the decision loop folds the
// current plan step into its prompt but still validates every action.
type Planner struct {
	oracle llm.Client
	memory PlanMemory
	hints  NavHints
	logger zerolog.Logger
}

func NewPlanner(oracle llm.Client, mem PlanMemory, hints NavHints, log zerolog.Logger) *Planner {
	return &Planner{
		oracle: oracle,
		memory: mem,
		hints:  hints,
		logger: log.With().Str("comp", "planner").Logger(),
	}
}

var planLineRe = regexp.MustCompile(`^\s*(\d+)[.)]\s+(.*\S)\s*$`)

// Plan returns the synthesized steps, or nil when there is nothing to plan
// from. Reference crops from all retrieved demos are attached to steps as
// visual anchors by matching recorded element descriptions against the step
// text; the oracle reorders and merges steps, so position means nothing.
func (p *Planner) Plan(ctx context.Context, goal string) []PlanStep {
	demos := p.memory.NearestDemonstrations(ctx, goal, plannerDemoK)
	if len(demos) == 0 {
		return nil
	}

	texts := make([]string, 0, len(demos))
	for _, demo := range demos {
		texts = append(texts, renderDemo(demo))
	}
	navHint := ""
	if p.hints != nil {
		navHint = p.hints.Hint(goal)
	}

	resp, err := p.oracle.Complete(ctx, llm.Request{
		System:      plannerSystemPrompt,
		Messages:    []llm.Message{{Role: "user", Content: buildPlannerPrompt(goal, texts, navHint)}},
		Temperature: 0.2,
	})
	if err != nil {
		p.logger.Warn().Err(err).Msg("plan synthesis failed, proceeding without a plan")
		return nil
	}

	steps := parsePlan(resp.Text)
	if len(steps) == 0 {
		p.logger.Warn().Str("raw", condense(resp.Text, 200)).Msg("planner produced no numbered steps")
		return nil
	}
	attachAnchors(steps, demos)
	p.logger.Info().Int("steps", len(steps)).Str("goal", goal).Msg("plan synthesized")
	return steps
}

// anchor pairs a recorded element description with its crop image.
type anchor struct {
	desc string
	crop string
}

// attachAnchors gives each plan step the crop of the first recorded element
// whose description appears in the step text, case-insensitively. Nearer
// demos win on duplicate descriptions. Descriptions of three characters or
// fewer are too ambiguous to match.
func attachAnchors(steps []PlanStep, demos []memory.Demonstration) {
	var anchors []anchor
	seen := make(map[string]struct{})
	for _, demo := range demos {
		for _, step := range demo.Steps {
			desc := strings.ToLower(strings.TrimSpace(step.ElementDesc))
			if len(desc) <= 3 || step.CropImagePath == "" {
				continue
			}
			if _, dup := seen[desc]; dup {
				continue
			}
			seen[desc] = struct{}{}
			anchors = append(anchors, anchor{desc: desc, crop: step.CropImagePath})
		}
	}
	for i := range steps {
		text := strings.ToLower(steps[i].Text)
		for _, a := range anchors {
			if strings.Contains(text, a.desc) {
				steps[i].Image = a.crop
				break
			}
		}
	}
}

func renderDemo(demo memory.Demonstration) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", demo.TaskName)
	for i, step := range demo.Steps {
		fmt.Fprintf(&b, "%d. %s", i+1, step.Action.Type)
		if step.Action.Value != "" {
			fmt.Fprintf(&b, " %q into", step.Action.Value)
		}
		fmt.Fprintf(&b, " element %q\n", step.ElementDesc)
	}
	return b.String()
}

func parsePlan(raw string) []PlanStep {
	raw = stripReasoning(raw)
	var steps []PlanStep
	for _, line := range strings.Split(raw, "\n") {
		if m := planLineRe.FindStringSubmatch(line); m != nil {
			steps = append(steps, PlanStep{Text: m[2]})
		}
	}
	return steps
}
