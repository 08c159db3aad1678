// Package snapshot parses the serialized UI listing sent by clients into an
// id-indexed structure and provides the grounding primitives the decision
// loop needs: description lookup, identifier resolution and verification,
// structural fingerprinting and element-state matching.
//
// The wire format is one element per line:
//
//	[<id>] <<tag>> [Region...] text [Active] [Selected] (value: "...") {attr=val ...}
//
// Identifiers are unique within one snapshot only; nothing here may assume
// they are stable across snapshots.
package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// EmptyFingerprint is the sentinel digest for a missing or element-free snapshot.
const EmptyFingerprint = "empty"

// fingerprintTagLimit bounds the structural prefix that feeds the digest.
const fingerprintTagLimit = 64

// Element is one interactive node of the visible surface.
type Element struct {
	ID       int
	Tag      string
	Text     string // descriptive text with markers, value and attrs stripped
	Regions  []string
	Active   bool
	Selected bool
	Value    string
	HasValue bool
	Attrs    map[string]string
	Line     string // raw line as received
}

// navRegions are layout regions excluded from state-satisfaction checks:
// a sidebar link highlighting itself must never read as task completion.
var navRegions = map[string]bool{
	"Sidebar":    true,
	"Header":     true,
	"Footer":     true,
	"Breadcrumb": true,
	"Nav":        true,
}

var (
	lineRe   = regexp.MustCompile(`^\[(\d+)\]\s*<([a-zA-Z][\w-]*)>\s*(.*)$`)
	valueRe  = regexp.MustCompile(`\(value:\s*"([^"]*)"\)`)
	attrsRe  = regexp.MustCompile(`\{([^{}]*)\}`)
	markerRe = regexp.MustCompile(`\[(Sidebar|Header|Footer|Breadcrumb|Nav|Active|Selected)\]`)
	digitsRe = regexp.MustCompile(`\d+`)
)

// Index is a parsed snapshot. It is immutable after Parse.
type Index struct {
	raw      string
	elements []Element
	byID     map[int]int // id -> position in elements
}

// Parse builds an Index from the serialized listing. Lines that do not match
// the element grammar are ignored; the listing may carry headers (URL, TITLE)
// that are only meaningful to the prompt builder.
func Parse(raw string) *Index {
	idx := &Index{raw: raw, byID: make(map[int]int)}
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		m := lineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		id, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		el := Element{
			ID:   id,
			Tag:  strings.ToLower(m[2]),
			Line: line,
		}
		rest := m[3]

		if am := attrsRe.FindStringSubmatch(rest); am != nil {
			el.Attrs = parseAttrs(am[1])
			rest = attrsRe.ReplaceAllString(rest, "")
		}
		if vm := valueRe.FindStringSubmatch(rest); vm != nil {
			el.Value = vm[1]
			el.HasValue = true
			rest = valueRe.ReplaceAllString(rest, "")
		}
		rest = markerRe.ReplaceAllStringFunc(rest, func(marker string) string {
			name := strings.Trim(marker, "[]")
			switch name {
			case "Active":
				el.Active = true
			case "Selected":
				el.Selected = true
			default:
				el.Regions = append(el.Regions, name)
			}
			return " "
		})
		el.Text = collapseSpaces(rest)

		if _, dup := idx.byID[id]; dup {
			// First occurrence wins; duplicate ids indicate a broken client.
			continue
		}
		idx.byID[id] = len(idx.elements)
		idx.elements = append(idx.elements, el)
	}
	return idx
}

func parseAttrs(body string) map[string]string {
	attrs := make(map[string]string)
	for _, field := range strings.Fields(body) {
		k, v, ok := strings.Cut(field, "=")
		if !ok || k == "" {
			continue
		}
		attrs[k] = strings.Trim(v, `"`)
	}
	if len(attrs) == 0 {
		return nil
	}
	return attrs
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Raw returns the original listing text.
func (x *Index) Raw() string { return x.raw }

// Elements returns the parsed elements in listing order.
func (x *Index) Elements() []Element { return x.elements }

// Len reports how many elements were parsed.
func (x *Index) Len() int { return len(x.elements) }

// Lookup returns the element with the given numeric identifier.
func (x *Index) Lookup(id int) (Element, bool) {
	pos, ok := x.byID[id]
	if !ok {
		return Element{}, false
	}
	return x.elements[pos], true
}

// Fingerprint hashes the ordered tag skeleton of the snapshot. Two snapshots
// with the same tags in the same order share a digest even when texts and
// values differ, so identifier bans survive counters ticking but not a
// navigation to a different screen.
func (x *Index) Fingerprint() string {
	if len(x.elements) == 0 {
		return EmptyFingerprint
	}
	limit := len(x.elements)
	if limit > fingerprintTagLimit {
		limit = fingerprintTagLimit
	}
	tags := make([]string, 0, limit)
	for _, el := range x.elements[:limit] {
		tags = append(tags, el.Tag)
	}
	sum := sha256.Sum256([]byte(strings.Join(tags, ",")))
	return hex.EncodeToString(sum[:])
}

// Fingerprint is the package-level form of Index.Fingerprint for callers that
// hold only the raw listing.
func Fingerprint(raw string) string {
	return Parse(raw).Fingerprint()
}

// CleanDescription strips region and state markers a demonstration may have
// recorded alongside the element text ("[Sidebar] Settings [Active]").
func CleanDescription(desc string) string {
	return collapseSpaces(markerRe.ReplaceAllString(desc, " "))
}

// FindByDescription resolves a semantic description to an element identifier.
// Matching is substring-based and case-insensitive on the visible text, by
// contract: descriptions come from demonstrations and model output, both of
// which paraphrase.
func (x *Index) FindByDescription(desc string) (int, bool) {
	needle := strings.ToLower(CleanDescription(desc))
	if needle == "" {
		return 0, false
	}
	for _, el := range x.elements {
		if strings.Contains(strings.ToLower(el.Text), needle) {
			return el.ID, true
		}
	}
	return 0, false
}

// ResolveIdentifier normalizes an identifier reference from the oracle. A
// numeric string passes through. A symbolic reference ("country-select") is
// matched against non-visible attributes (id, name, test hooks). Anything
// unresolved is returned verbatim; the caller validates afterward.
func (x *Index) ResolveIdentifier(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return raw
	}
	if isDigits(raw) {
		return raw
	}
	for _, el := range x.elements {
		for key, val := range el.Attrs {
			switch key {
			case "id", "name", "data-testid", "data-qa":
				if strings.EqualFold(val, raw) {
					return strconv.Itoa(el.ID)
				}
			}
		}
	}
	return raw
}

// Verify reports whether the numeric identifier exists in this snapshot and
// returns its visible text when it does.
func (x *Index) Verify(id string) (string, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(id))
	if err != nil {
		return "", false
	}
	el, ok := x.Lookup(n)
	if !ok {
		return "", false
	}
	return el.Text, true
}

// IsSelect reports whether the identified element is a multi-option selector.
// The decision loop upgrades a click on such an element to a select action.
func (x *Index) IsSelect(id string) bool {
	n, err := strconv.Atoi(strings.TrimSpace(id))
	if err != nil {
		return false
	}
	el, ok := x.Lookup(n)
	return ok && el.Tag == "select"
}

// Satisfied reports whether the element matching desc is already in the state
// the step wants: carrying an active/selected marker for clicks, or holding
// the target value for selects (case-insensitive) and typed input (exact).
// Elements inside navigation regions never satisfy.
func (x *Index) Satisfied(desc, kind, value string) bool {
	needle := strings.ToLower(CleanDescription(desc))
	if needle == "" {
		return false
	}
	for _, el := range x.elements {
		if !strings.Contains(strings.ToLower(el.Text), needle) {
			continue
		}
		if el.inNavRegion() {
			continue
		}
		switch kind {
		case "click":
			if el.Active || el.Selected {
				return true
			}
		case "select":
			if el.HasValue && strings.EqualFold(el.Value, value) {
				return true
			}
		case "type":
			if el.HasValue && el.Value == value {
				return true
			}
		}
	}
	return false
}

func (e Element) inNavRegion() bool {
	for _, r := range e.Regions {
		if navRegions[r] {
			return true
		}
	}
	return false
}

// String renders the canonical line form; the local browser driver uses it so
// that self-collected snapshots and client-sent ones share one grammar.
func (e Element) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%d] <%s>", e.ID, e.Tag)
	for _, r := range e.Regions {
		fmt.Fprintf(&b, " [%s]", r)
	}
	if e.Text != "" {
		b.WriteByte(' ')
		b.WriteString(e.Text)
	}
	if e.Active {
		b.WriteString(" [Active]")
	}
	if e.Selected {
		b.WriteString(" [Selected]")
	}
	if e.HasValue {
		fmt.Fprintf(&b, " (value: %q)", e.Value)
	}
	if len(e.Attrs) > 0 {
		keys := make([]string, 0, len(e.Attrs))
		for k := range e.Attrs {
			keys = append(keys, k)
		}
		sortStrings(keys)
		b.WriteString(" {")
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(' ')
			}
			fmt.Fprintf(&b, "%s=%s", k, e.Attrs[k])
		}
		b.WriteByte('}')
	}
	return b.String()
}

// sortStrings keeps rendered attribute order deterministic without pulling in
// sort for a three-element slice.
func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j] < s[j-1]; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ExtractDigits pulls the first run of digits out of a noisy identifier
// ("button-15" -> "15"). Empty result means no digits at all.
func ExtractDigits(s string) string {
	return digitsRe.FindString(s)
}
