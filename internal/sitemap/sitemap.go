// Package sitemap maintains a persistent map of the target application's
// pages so the decision loop can suggest where a goal lives before any
// element-level reasoning happens. Clients push the skeleton (routes they know
// statically) and the flesh (what a page actually contains, observed on
// visit); retrieval is keyword scoring, deliberately cheap.
package sitemap

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Page is one known route of the application.
type Page struct {
	URL       string    `json:"url"`
	Title     string    `json:"title,omitempty"`
	NavPath   []string  `json:"nav_path,omitempty"` // visible labels clicked from the root to reach it
	Keywords  []string  `json:"keywords,omitempty"`
	Visited   bool      `json:"visited"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

type fileFormat struct {
	Pages []Page `json:"pages"`
}

// Manager owns the sitemap file. Safe for concurrent use; every mutation is
// flushed to disk immediately, the file is small.
type Manager struct {
	path   string
	logger zerolog.Logger

	mu    sync.Mutex
	pages map[string]*Page // keyed by URL
}

// Open loads the sitemap at path, starting empty when the file is absent.
func Open(path string, log zerolog.Logger) (*Manager, error) {
	m := &Manager{
		path:   path,
		logger: log.With().Str("comp", "sitemap").Logger(),
		pages:  make(map[string]*Page),
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read sitemap: %w", err)
	}
	var ff fileFormat
	if err := json.Unmarshal(data, &ff); err != nil {
		return nil, fmt.Errorf("parse sitemap %s: %w", path, err)
	}
	for i := range ff.Pages {
		p := ff.Pages[i]
		if p.URL != "" {
			m.pages[p.URL] = &p
		}
	}
	return m, nil
}

// SyncSkeleton merges statically known routes. Existing pages keep their
// observed flesh; only missing ones are added and removed routes are dropped.
func (m *Manager) SyncSkeleton(pages []Page) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	known := make(map[string]bool, len(pages))
	for _, p := range pages {
		if p.URL == "" {
			continue
		}
		known[p.URL] = true
		if existing, ok := m.pages[p.URL]; ok {
			if p.Title != "" && existing.Title == "" {
				existing.Title = p.Title
			}
			if len(p.NavPath) > 0 {
				existing.NavPath = p.NavPath
			}
			continue
		}
		np := p
		np.UpdatedAt = time.Now()
		m.pages[p.URL] = &np
	}
	for url := range m.pages {
		if !known[url] {
			delete(m.pages, url)
		}
	}
	return m.saveLocked()
}

// UpdateFlesh records what a visited page actually contains.
func (m *Manager) UpdateFlesh(url, title string, keywords []string) error {
	if url == "" {
		return fmt.Errorf("empty page url")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pages[url]
	if !ok {
		p = &Page{URL: url}
		m.pages[url] = p
	}
	if title != "" {
		p.Title = title
	}
	p.Keywords = mergeKeywords(p.Keywords, keywords)
	p.Visited = true
	p.UpdatedAt = time.Now()
	return m.saveLocked()
}

// Pages returns every known page sorted by URL.
func (m *Manager) Pages() []Page {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Page, 0, len(m.pages))
	for _, p := range m.pages {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}

// FindBestPage scores every page against the goal and returns the winner.
// ok is false when nothing scores above zero.
func (m *Manager) FindBestPage(goal string) (Page, bool) {
	tokens := tokenize(goal)
	if len(tokens) == 0 {
		return Page{}, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var best *Page
	bestScore := 0
	for _, p := range m.pages {
		score := scorePage(p, tokens)
		if score > bestScore || (score == bestScore && best != nil && p.URL < best.URL) {
			if score > 0 {
				best = p
				bestScore = score
			}
		}
	}
	if best == nil {
		return Page{}, false
	}
	return *best, true
}

// Hint renders the best page as a navigation suggestion for the prompt, or
// "" when the sitemap has nothing useful. Satisfies the decision loop's
// NavHints interface.
func (m *Manager) Hint(goal string) string {
	page, ok := m.FindBestPage(goal)
	if !ok {
		return ""
	}
	var b strings.Builder
	name := page.Title
	if name == "" {
		name = page.URL
	}
	fmt.Fprintf(&b, "the goal likely belongs on %q (%s)", name, page.URL)
	if len(page.NavPath) > 0 {
		b.WriteString("; to get there ")
		for i, label := range page.NavPath {
			if i > 0 {
				b.WriteString(", then ")
			}
			fmt.Fprintf(&b, "click %q", label)
		}
	}
	return b.String()
}

func (m *Manager) saveLocked() error {
	ff := fileFormat{Pages: make([]Page, 0, len(m.pages))}
	for _, p := range m.pages {
		ff.Pages = append(ff.Pages, *p)
	}
	sort.Slice(ff.Pages, func(i, j int) bool { return ff.Pages[i].URL < ff.Pages[j].URL })

	data, err := json.MarshalIndent(ff, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sitemap: %w", err)
	}
	if dir := filepath.Dir(m.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create sitemap dir: %w", err)
		}
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write sitemap: %w", err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return fmt.Errorf("replace sitemap: %w", err)
	}
	return nil
}

func scorePage(p *Page, tokens []string) int {
	haystack := strings.ToLower(p.Title + " " + p.URL + " " + strings.Join(p.Keywords, " "))
	score := 0
	for _, tok := range tokens {
		if strings.Contains(haystack, tok) {
			score++
			// Visited pages carry observed keywords, trust them more.
			if p.Visited {
				score++
			}
		}
	}
	return score
}

// stopwords that would otherwise match every page.
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "for": true, "in": true, "my": true,
	"new": true, "of": true, "on": true, "page": true, "the": true, "to": true,
}

func tokenize(goal string) []string {
	var out []string
	for _, f := range strings.Fields(strings.ToLower(goal)) {
		f = strings.Trim(f, ".,!?\"'()")
		if len(f) < 3 || stopwords[f] {
			continue
		}
		out = append(out, f)
	}
	return out
}

func mergeKeywords(existing, incoming []string) []string {
	seen := make(map[string]bool, len(existing))
	out := existing
	for _, k := range existing {
		seen[strings.ToLower(k)] = true
	}
	for _, k := range incoming {
		k = strings.TrimSpace(k)
		if k == "" || seen[strings.ToLower(k)] {
			continue
		}
		seen[strings.ToLower(k)] = true
		out = append(out, k)
	}
	return out
}
