// Package brain contains the task-execution decision loop: it turns a goal,
// a UI snapshot, the session history and retrieved memory into one validated,
// grounded action. It has no state of its own beyond the per-session object
// callers pass in by reference.
package brain

import (
	"encoding/json"
	"fmt"
)

// Kind discriminates the action union.
type Kind string

const (
	KindClick   Kind = "click"
	KindType    Kind = "type"
	KindSelect  Kind = "select"
	KindScroll  Kind = "scroll"
	KindFinish  Kind = "finish"
	KindError   Kind = "error"
	KindMessage Kind = "message"
)

// Action is the single structured result of a decision cycle. ID is only
// meaningful for click/type/select; Value carries typed text, the chosen
// option, a scroll direction, or a human-readable message depending on Kind.
type Action struct {
	Kind      Kind   `json:"action"`
	ID        string `json:"id,omitempty"`
	Value     string `json:"value,omitempty"`
	Rationale string `json:"rationale,omitempty"`
}

// Constructors enforce which fields each variant carries.

func Click(id, value string) Action   { return Action{Kind: KindClick, ID: id, Value: value} }
func TypeText(id, text string) Action { return Action{Kind: KindType, ID: id, Value: text} }
func Select(id, option string) Action { return Action{Kind: KindSelect, ID: id, Value: option} }
func Scroll(direction string) Action  { return Action{Kind: KindScroll, Value: direction} }
func Message(text string) Action      { return Action{Kind: KindMessage, Value: text} }
func Finish(text string) Action       { return Action{Kind: KindFinish, Value: text} }

func Errorf(format string, args ...any) Action {
	return Action{Kind: KindError, Value: fmt.Sprintf(format, args...)}
}

// Interactive reports whether the action targets a concrete element.
func (a Action) Interactive() bool {
	switch a.Kind {
	case KindClick, KindType, KindSelect:
		return true
	}
	return false
}

// Terminal reports whether the action ends the current task from the
// caller's perspective.
func (a Action) Terminal() bool {
	switch a.Kind {
	case KindFinish, KindMessage, KindError:
		return true
	}
	return false
}

// Digest is the short textual form stored in the session history log. The
// format is load-bearing: loop detection and the progress cursor compare
// digests literally.
func (a Action) Digest() string {
	if a.Interactive() {
		return fmt.Sprintf("%s ID %s (Val: %s)", a.Kind, a.ID, a.Value)
	}
	if a.Kind == KindScroll {
		return fmt.Sprintf("scroll (Val: %s)", a.Value)
	}
	return fmt.Sprintf("%s: %s", a.Kind, a.Value)
}

// JSON renders the wire form sent back to clients. Marshalling an Action
// cannot fail; a fallback error object guards against future field types.
func (a Action) JSON() string {
	data, err := json.Marshal(a)
	if err != nil {
		return `{"action":"error","value":"internal marshal failure"}`
	}
	return string(data)
}
