package brain

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mkovalev/web-agent-brain/internal/snapshot"
)

// taskCompleted is the fixed completion message substituted when the oracle
// signals it is done in any of its dialects.
const taskCompleted = "Task Completed"

// rawDecision mirrors the loose shape oracles actually emit: ids arrive as
// numbers or strings, values as any scalar.
type rawDecision struct {
	Action    string          `json:"action"`
	ID        json.RawMessage `json:"id"`
	Value     json.RawMessage `json:"value"`
	Rationale string          `json:"rationale"`
}

// ParseOracleAction normalizes raw oracle output into an Action. It tolerates
// leaked reasoning blocks, markdown fences, prose around the JSON and sloppy
// field types. The returned action is syntactically normalized only; grounding
// against the snapshot happens in validation.
func ParseOracleAction(raw string) (Action, error) {
	text := stripReasoning(raw)
	text = stripFences(text)

	obj := lastJSONObject(text)
	if obj == "" {
		return Action{}, fmt.Errorf("no JSON object in oracle output: %s", condense(text, 160))
	}

	var dec rawDecision
	if err := json.Unmarshal([]byte(obj), &dec); err != nil {
		return Action{}, fmt.Errorf("unmarshal oracle decision: %w", err)
	}

	kind := strings.ToLower(strings.TrimSpace(dec.Action))
	// Models sometimes emit the whole enum ("click|type|select") instead of
	// picking one. Treat any such multi-valued label as a plain click.
	if strings.ContainsAny(kind, "|/") {
		kind = "click"
	}

	id := scalarString(dec.ID)
	value := scalarString(dec.Value)

	switch kind {
	case "click", "type", "select":
		return Action{Kind: Kind(kind), ID: normalizeID(id), Value: value, Rationale: dec.Rationale}, nil
	case "scroll":
		dir := strings.ToLower(value)
		if dir != "up" {
			dir = "down"
		}
		return Action{Kind: KindScroll, Value: dir, Rationale: dec.Rationale}, nil
	case "message", "answer":
		if value == "" {
			value = taskCompleted
		}
		return Action{Kind: KindMessage, Value: value, Rationale: dec.Rationale}, nil
	case "finish", "return", "done", "complete", "stop":
		// Completion dialects collapse to one message the client understands.
		if value == "" {
			value = taskCompleted
		}
		return Action{Kind: KindMessage, Value: value, Rationale: dec.Rationale}, nil
	case "":
		return Action{}, fmt.Errorf("oracle decision has no action field: %s", condense(obj, 160))
	default:
		return Action{}, fmt.Errorf("unknown action %q", kind)
	}
}

// normalizeID strips decoration from numeric references ("[12]", "id 12.")
// while leaving symbolic references untouched so attribute resolution can
// still try them against the snapshot.
func normalizeID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return id
	}
	hasLetter := strings.ContainsFunc(id, func(r rune) bool {
		return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
	})
	if hasLetter {
		return id
	}
	if digits := snapshot.ExtractDigits(id); digits != "" {
		return digits
	}
	return id
}

// stripReasoning drops everything up to the last closing reasoning tag.
// Thinking-tuned models leak these blocks ahead of the answer.
func stripReasoning(s string) string {
	for _, tag := range []string{"</think>", "</thinking>", "</reasoning>"} {
		if i := strings.LastIndex(s, tag); i >= 0 {
			s = s[i+len(tag):]
		}
	}
	return strings.TrimSpace(s)
}

func stripFences(s string) string {
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}

// lastJSONObject returns the last balanced top-level {...} in the text. The
// last one wins because models that narrate before answering put the real
// decision at the end.
func lastJSONObject(s string) string {
	var best string
	depth := 0
	start := -1
	inString := false
	escaped := false
	for i, r := range s {
		if inString {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
			}
			continue
		}
		switch r {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					candidate := s[start : i+1]
					if json.Valid([]byte(candidate)) {
						best = candidate
					}
					start = -1
				}
			}
		}
	}
	return best
}

// scalarString renders a raw JSON scalar as its string content: strings lose
// quotes, numbers and booleans keep their literal form, null and absent
// become empty.
func scalarString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	out := strings.TrimSpace(string(raw))
	if out == "null" {
		return ""
	}
	return out
}

func condense(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
