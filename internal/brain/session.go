package brain

import (
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/mkovalev/web-agent-brain/internal/llm"
)

const snapshotDigestLen = 500

// PlanStep is one numbered step of a synthesized plan.
type PlanStep struct {
	Text  string `json:"text"`
	Image string `json:"image,omitempty"` // reference crop path from the source demo
}

// Session is the per-connection state of the loop. One goroutine serves one
// connection, but recorders and raters read sessions concurrently, hence the
// mutex around every accessor.
type Session struct {
	ID string

	mu             sync.Mutex
	history        []string
	bans           map[string]map[string]struct{} // snapshot fingerprint -> banned ids
	lastGoal       string
	lastSnapDigest string
	plan           []PlanStep
	planCursor     int
	chat           []llm.Message
}

func NewSession() *Session {
	return &Session{
		ID:   uuid.NewString(),
		bans: make(map[string]map[string]struct{}),
	}
}

// BeginTask resets per-task state for a fresh goal. Bans are kept or dropped
// per configuration: kept bans let a retried task avoid known dead ends,
// dropped bans give an unrelated task a clean slate.
func (s *Session) BeginTask(clearBans bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
	s.plan = nil
	s.planCursor = 0
	s.lastGoal = ""
	s.lastSnapDigest = ""
	if clearBans {
		s.bans = make(map[string]map[string]struct{})
	}
}

// Observe caches the goal and a snapshot prefix for later feedback saves,
// which arrive on a different message after the action was taken.
func (s *Session) Observe(goal, rawSnapshot string) {
	digest := rawSnapshot
	if len(digest) > snapshotDigestLen {
		digest = digest[:snapshotDigestLen]
	}
	s.mu.Lock()
	s.lastGoal = goal
	s.lastSnapDigest = digest
	s.mu.Unlock()
}

// LastContext returns the cached goal and snapshot prefix.
func (s *Session) LastContext() (goal, snapshotDigest string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastGoal, s.lastSnapDigest
}

// Log appends the digest of a taken action to the history.
func (s *Session) Log(a Action) {
	s.mu.Lock()
	s.history = append(s.history, a.Digest())
	s.mu.Unlock()
}

// LogError appends a client-reported execution failure. The "error:" prefix is
// what the progress cursor and prompt builder key on.
func (s *Session) LogError(msg string) {
	s.mu.Lock()
	s.history = append(s.history, "error: "+msg)
	s.mu.Unlock()
}

// History returns a copy of the full history log.
func (s *Session) History() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.history...)
}

func (s *Session) HistoryLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history)
}

// LastEntry returns the most recent history entry, if any.
func (s *Session) LastEntry() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.history) == 0 {
		return "", false
	}
	return s.history[len(s.history)-1], true
}

// Looping reports whether the last n history entries are identical, the
// signature of an agent stuck re-clicking one element.
func (s *Session) Looping(n int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n < 2 || len(s.history) < n {
		return false
	}
	last := s.history[len(s.history)-1]
	if strings.HasPrefix(last, "error:") {
		return false
	}
	for _, entry := range s.history[len(s.history)-n:] {
		if entry != last {
			return false
		}
	}
	return true
}

// Ban marks an identifier as off-limits for every snapshot sharing the
// fingerprint. Identifiers are only meaningful within one structural screen.
func (s *Session) Ban(fingerprint, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.bans[fingerprint]
	if !ok {
		set = make(map[string]struct{})
		s.bans[fingerprint] = set
	}
	set[id] = struct{}{}
}

// Banned reports whether the identifier is banned on this screen.
func (s *Session) Banned(fingerprint, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.bans[fingerprint][id]
	return ok
}

// BannedIDs lists the banned identifiers for the fingerprint, for prompting.
func (s *Session) BannedIDs(fingerprint string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.bans[fingerprint]) == 0 {
		return nil
	}
	ids := make([]string, 0, len(s.bans[fingerprint]))
	for id := range s.bans[fingerprint] {
		ids = append(ids, id)
	}
	return ids
}

// SetPlan installs a synthesized plan and resets its cursor.
func (s *Session) SetPlan(steps []PlanStep) {
	s.mu.Lock()
	s.plan = steps
	s.planCursor = 0
	s.mu.Unlock()
}

// PlanStep returns the current plan step. ok is false when no plan is set or
// the plan is exhausted.
func (s *Session) PlanStep() (PlanStep, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.planCursor >= len(s.plan) {
		return PlanStep{}, false
	}
	return s.plan[s.planCursor], true
}

// AdvancePlan moves to the next plan step.
func (s *Session) AdvancePlan() {
	s.mu.Lock()
	if s.planCursor < len(s.plan) {
		s.planCursor++
	}
	s.mu.Unlock()
}

// ChatAppend records one chat turn, trimming the transcript to limit entries.
func (s *Session) ChatAppend(m llm.Message, limit int) {
	s.mu.Lock()
	s.chat = append(s.chat, m)
	if limit > 0 && len(s.chat) > limit {
		s.chat = s.chat[len(s.chat)-limit:]
	}
	s.mu.Unlock()
}

// ChatHistory returns a copy of the chat transcript.
func (s *Session) ChatHistory() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llm.Message(nil), s.chat...)
}
