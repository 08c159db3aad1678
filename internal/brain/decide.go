package brain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mkovalev/web-agent-brain/internal/llm"
	"github.com/mkovalev/web-agent-brain/internal/memory"
	"github.com/mkovalev/web-agent-brain/internal/snapshot"
)

// Defaults for the loop's hard limits.
const (
	DefaultMaxRetries     = 4
	DefaultMaxSteps       = 30
	DefaultVisionAttempts = 2
	loopRunLength         = 3
)

// Memory is the retrieval surface the loop consumes. Implementations must be
// best-effort: the loop never checks for retrieval errors.
type Memory interface {
	BestDemonstration(ctx context.Context, goal string) (memory.Demonstration, bool)
	Feedback(ctx context.Context, goal, snapshotSummary string) memory.FeedbackHints
}

// NavHints supplies a navigation suggestion for the goal, or "".
type NavHints interface {
	Hint(goal string) string
}

// Sample is one observed decision attempt handed to the dataset recorder.
type Sample struct {
	StepIndex  int
	Attempt    int
	Goal       string
	Prompt     string
	Listing    string
	Screenshot string // base64 JPEG, may be empty
	RawOutput  string
	Action     Action
}

// Recorder persists samples for later training. Implementations must not
// block; the loop calls it inline on the hot path.
type Recorder interface {
	Record(sessionID string, sample Sample)
}

// Config bounds the loop.
type Config struct {
	MaxRetries         int
	MaxSteps           int
	VisionAttempts     int // attempts that include the screenshot before falling back to text-only
	ClearBansOnNewTask bool
	OracleTimeout      time.Duration // per completion call; zero means no deadline
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.MaxSteps <= 0 {
		c.MaxSteps = DefaultMaxSteps
	}
	if c.VisionAttempts == 0 {
		c.VisionAttempts = DefaultVisionAttempts
	}
	if c.VisionAttempts < 0 { // negative disables vision entirely
		c.VisionAttempts = 0
	}
	return c
}

// Request is one decision cycle's input.
type Request struct {
	Goal       string
	Listing    string // serialized element listing
	Screenshot string // raw screenshot, base64 JPEG
	Marked     string // annotated screenshot, base64 JPEG, preferred when set
	NewTask    bool
}

// Decider runs the decision loop. Memory, hints and recorder may be nil.
type Decider struct {
	oracle   llm.Client
	memory   Memory
	hints    NavHints
	recorder Recorder
	cfg      Config
	logger   zerolog.Logger
}

func NewDecider(oracle llm.Client, mem Memory, hints NavHints, rec Recorder, cfg Config, log zerolog.Logger) *Decider {
	return &Decider{
		oracle:   oracle,
		memory:   mem,
		hints:    hints,
		recorder: rec,
		cfg:      cfg.withDefaults(),
		logger:   log.With().Str("comp", "decider").Logger(),
	}
}

// Decide produces exactly one action for the request. It never returns an
// error: every failure mode maps to an error or finish action the client can
// display.
func (d *Decider) Decide(ctx context.Context, sess *Session, req Request) Action {
	if req.NewTask {
		sess.BeginTask(d.cfg.ClearBansOnNewTask)
	}
	sess.Observe(req.Goal, req.Listing)

	if sess.HistoryLen() >= d.cfg.MaxSteps {
		d.logger.Warn().Str("session", sess.ID).Int("steps", sess.HistoryLen()).Msg("step limit reached")
		return Finish(fmt.Sprintf("Stopped after %d steps without completing the task.", d.cfg.MaxSteps))
	}
	if sess.Looping(loopRunLength) {
		d.logger.Warn().Str("session", sess.ID).Msg("repeating action loop detected")
		return Message("Task Completed (Loop Detected)")
	}

	idx := snapshot.Parse(req.Listing)
	fp := idx.Fingerprint()

	// A synthesized plan, when present, is the guidance source; otherwise
	// demonstration-derived guidance via the progress cursor.
	var guidance Guidance
	planStep, hasPlan := sess.PlanStep()
	if !hasPlan && d.memory != nil {
		if demo, ok := d.memory.BestDemonstration(ctx, req.Goal); ok {
			guidance = BuildGuidance(req.Goal, demo, idx, sess, fp)
		}
	}
	if guidance.Complete {
		d.logger.Info().Str("session", sess.ID).Str("task", guidance.TaskName).Msg("final demo step already satisfied")
		return Message(taskCompleted)
	}

	in := promptInput{
		Goal:      req.Goal,
		Listing:   req.Listing,
		Guidance:  guidance,
		BannedIDs: sess.BannedIDs(fp),
		History:   sess.History(),
	}
	if hasPlan {
		in.PlanText = planStep.Text
	}
	if d.memory != nil {
		_, digest := sess.LastContext()
		hints := d.memory.Feedback(ctx, req.Goal, digest)
		in.Worked, in.Failed = hints.Worked, hints.Failed
	}
	if d.hints != nil {
		in.NavHint = d.hints.Hint(req.Goal)
	}
	if last, ok := sess.LastEntry(); ok && strings.HasPrefix(last, "error:") {
		in.ErrContext = strings.TrimSpace(strings.TrimPrefix(last, "error:"))
	}

	stepIndex := sess.HistoryLen()
	for attempt := 1; attempt <= d.cfg.MaxRetries; attempt++ {
		prompt := buildTaskPrompt(in)

		msg := llm.Message{Role: "user", Content: prompt}
		if attempt <= d.cfg.VisionAttempts {
			if img := pickImage(req); img != "" {
				msg.Images = []string{img}
			}
		}

		raw, err := d.complete(ctx, llm.Request{
			System:   systemPrompt,
			Messages: []llm.Message{msg},
			Schema:   actionSchema,
		})
		if err != nil {
			if retryableOracleErr(err) && attempt < d.cfg.MaxRetries {
				d.logger.Warn().Err(err).Int("attempt", attempt).Msg("oracle call expired, retrying")
				in.ErrContext = "The previous attempt timed out. Answer concisely."
				continue
			}
			d.logger.Error().Err(err).Int("attempt", attempt).Msg("oracle call failed")
			return Errorf("decision backend unavailable: %v", err)
		}

		act, perr := ParseOracleAction(raw)
		d.record(sess.ID, Sample{
			StepIndex:  stepIndex,
			Attempt:    attempt,
			Goal:       req.Goal,
			Prompt:     prompt,
			Listing:    req.Listing,
			Screenshot: pickImage(req),
			RawOutput:  raw,
			Action:     act,
		})
		if perr != nil {
			d.logger.Warn().Err(perr).Int("attempt", attempt).Msg("oracle output unparseable")
			in.ErrContext = perr.Error()
			continue
		}

		final, retryReason := d.validate(act, idx, fp, sess)
		if retryReason != "" {
			d.logger.Info().
				Int("attempt", attempt).
				Str("reason", retryReason).
				Str("proposed", act.Digest()).
				Msg("rejected oracle action")
			in.ErrContext = retryReason
			continue
		}

		if final.Interactive() || final.Kind == KindScroll {
			sess.Log(final)
		}
		if final.Interactive() && hasPlan {
			sess.AdvancePlan()
		}
		d.logger.Info().
			Str("session", sess.ID).
			Str("action", final.Digest()).
			Int("attempt", attempt).
			Msg("decided")
		return final
	}

	reason := in.ErrContext
	if reason == "" {
		reason = "no valid action produced"
	}
	d.logger.Error().Str("session", sess.ID).Str("last_error", reason).Msg("retry budget exhausted")
	return Finish(fmt.Sprintf("Could not determine a valid next action after %d attempts. Last problem: %s", d.cfg.MaxRetries, reason))
}

// validate grounds a parsed action against the snapshot and session state.
// An empty retryReason means final is the answer; otherwise final is zero and
// the loop re-prompts with the reason as error context.
func (d *Decider) validate(act Action, idx *snapshot.Index, fp string, sess *Session) (final Action, retryReason string) {
	if !act.Interactive() {
		return act, ""
	}

	resolved := idx.ResolveIdentifier(act.ID)
	if snapshot.ExtractDigits(resolved) != resolved || resolved == "" {
		return Action{}, fmt.Sprintf("ID '%s' is invalid. Use the numeric id shown in the element listing.", act.ID)
	}
	if sess.Banned(fp, resolved) {
		return Action{}, fmt.Sprintf("ID %s is forbidden on this screen. Pick a different element or scroll.", resolved)
	}
	text, ok := idx.Verify(resolved)
	if !ok {
		// The oracle grounded on a stale or hallucinated element; retrying
		// with the same listing cannot fix that.
		return Message(fmt.Sprintf("Element ID %s not found on the current screen.", resolved)), ""
	}

	act.ID = resolved
	if idx.IsSelect(resolved) {
		act.Kind = KindSelect
	}
	if act.Kind == KindClick {
		// Live text beats whatever the oracle echoed; the executor and the
		// history log both want the element as it is now.
		act.Value = text
	}

	if idx.Satisfied(text, string(act.Kind), act.Value) {
		return Message("Task Completed (State Satisfied)"), ""
	}

	if lastID, ok := lastInteractiveID(sess); ok && lastID == resolved {
		sess.Ban(fp, resolved)
		return Action{}, fmt.Sprintf("ID %s was already used by the previous action and nothing changed. Choose a different element.", resolved)
	}

	return act, ""
}

func (d *Decider) complete(ctx context.Context, req llm.Request) (string, error) {
	if d.cfg.OracleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.OracleTimeout)
		defer cancel()
	}
	resp, err := d.oracle.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// record hands the sample to the recorder; a panicking recorder must not take
// the decision down with it.
func (d *Decider) record(sessionID string, sample Sample) {
	if d.recorder == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().Interface("panic", r).Msg("recorder panicked")
		}
	}()
	d.recorder.Record(sessionID, sample)
}

func retryableOracleErr(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

func pickImage(req Request) string {
	if req.Marked != "" {
		return req.Marked
	}
	return req.Screenshot
}

// lastInteractiveID extracts the element id of the most recent interactive
// history entry, matching the digest format Action.Digest writes.
func lastInteractiveID(sess *Session) (string, bool) {
	last, ok := sess.LastEntry()
	if !ok {
		return "", false
	}
	for _, kind := range []string{"click", "type", "select"} {
		prefix := kind + " ID "
		if strings.HasPrefix(last, prefix) {
			rest := strings.TrimPrefix(last, prefix)
			if i := strings.IndexByte(rest, ' '); i > 0 {
				return rest[:i], true
			}
			return rest, rest != ""
		}
	}
	return "", false
}
