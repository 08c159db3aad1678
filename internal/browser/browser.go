// Package browser is the local run mode: it drives a real Chromium through
// playwright, renders the page's interactive elements into the same listing
// grammar remote clients send, and executes decided actions by element id.
// Ids are assigned per observation and stamped onto the DOM, so an action is
// only valid against the observation it was decided from.
package browser

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/rs/zerolog"

	"github.com/mkovalev/web-agent-brain/internal/annotate"
	"github.com/mkovalev/web-agent-brain/internal/brain"
	"github.com/mkovalev/web-agent-brain/internal/snapshot"
)

const (
	navTimeout    = 30 * time.Second
	actionTimeout = 10 * time.Second
	scrollAmount  = 600
	idAttr        = "data-brain-id"
)

// Launcher owns the playwright lifecycle.
type Launcher struct {
	pw      *playwright.Playwright
	browser playwright.Browser
}

func NewLauncher(headless bool) (*Launcher, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}
	b, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(headless),
		Args: []string{
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	})
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("launch chromium: %w", err)
	}
	return &Launcher{pw: pw, browser: b}, nil
}

func (l *Launcher) Close() error {
	if l.browser != nil {
		_ = l.browser.Close()
	}
	if l.pw != nil {
		return l.pw.Stop()
	}
	return nil
}

// NewDriver opens a fresh browser context and page.
func (l *Launcher) NewDriver(log zerolog.Logger) (*Driver, error) {
	bctx, err := l.browser.NewContext(playwright.BrowserNewContextOptions{
		IgnoreHttpsErrors: playwright.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("new context: %w", err)
	}
	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		return nil, fmt.Errorf("new page: %w", err)
	}
	page.SetDefaultTimeout(float64(actionTimeout.Milliseconds()))
	return &Driver{
		bctx:   bctx,
		page:   page,
		logger: log.With().Str("comp", "browser").Logger(),
	}, nil
}

// Observation is one look at the page in the loop's input form.
type Observation struct {
	URL     string
	Title   string
	Listing string
	Boxes   []annotate.Box
}

// Driver wraps one page.
type Driver struct {
	bctx   playwright.BrowserContext
	page   playwright.Page
	logger zerolog.Logger
}

func (d *Driver) Close() error {
	if d.page != nil {
		_ = d.page.Close()
	}
	if d.bctx != nil {
		return d.bctx.Close()
	}
	return nil
}

func (d *Driver) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := d.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateLoad,
		Timeout:   playwright.Float(float64(navTimeout.Milliseconds())),
	})
	return wrap(err)
}

// collectScript walks visible interactive elements, stamps each with its
// observation-local id and reports everything the listing line needs.
const collectScript = `() => {
	const sel = "a, button, input, select, textarea, [role='button'], [role='link'], [role='tab'], [role='option'], [onclick]";
	const out = [];
	let nextID = 0;
	for (const el of document.querySelectorAll(sel)) {
		const r = el.getBoundingClientRect();
		if (r.width < 2 || r.height < 2) continue;
		const style = window.getComputedStyle(el);
		if (style.visibility === "hidden" || style.display === "none") continue;

		const id = nextID++;
		el.setAttribute("data-brain-id", String(id));

		let region = "";
		if (el.closest("aside, [role='complementary']")) region = "Sidebar";
		else if (el.closest("header, [role='banner']")) region = "Header";
		else if (el.closest("footer, [role='contentinfo']")) region = "Footer";
		else if (el.closest("[aria-label='breadcrumb'], .breadcrumb")) region = "Breadcrumb";
		else if (el.closest("nav, [role='navigation']")) region = "Nav";

		const active = el.getAttribute("aria-current") !== null
			|| el.classList.contains("active")
			|| el.getAttribute("aria-expanded") === "true";
		const selected = el.getAttribute("aria-selected") === "true"
			|| (el.tagName === "INPUT" && (el.checked === true));

		let value = null;
		if (el.tagName === "SELECT" && el.selectedIndex >= 0) {
			value = el.options[el.selectedIndex].text;
		} else if (el.tagName === "INPUT" || el.tagName === "TEXTAREA") {
			value = el.value;
		}

		let text = (el.innerText || el.textContent || "").trim();
		if (!text) {
			text = el.getAttribute("aria-label") || el.getAttribute("placeholder") || el.getAttribute("title") || "";
		}

		const attrs = {};
		for (const name of ["id", "name", "data-testid", "data-qa"]) {
			const v = el.getAttribute(name);
			if (v) attrs[name] = v;
		}

		out.push({
			id: id,
			tag: el.tagName.toLowerCase(),
			text: text.slice(0, 120),
			region: region,
			active: active,
			selected: selected,
			value: value,
			attrs: attrs,
			x: Math.round(r.x), y: Math.round(r.y),
			w: Math.round(r.width), h: Math.round(r.height),
		});
	}
	return out;
}`

type rawElement struct {
	ID       int               `json:"id"`
	Tag      string            `json:"tag"`
	Text     string            `json:"text"`
	Region   string            `json:"region"`
	Active   bool              `json:"active"`
	Selected bool              `json:"selected"`
	Value    *string           `json:"value"`
	Attrs    map[string]string `json:"attrs"`
	X, Y     int
	W, H     int
}

// Observe renders the current page into the listing grammar. It re-stamps
// element ids, invalidating any earlier observation of this page.
func (d *Driver) Observe(ctx context.Context) (Observation, error) {
	if err := ctx.Err(); err != nil {
		return Observation{}, err
	}
	val, err := d.page.Evaluate(collectScript)
	if err != nil {
		return Observation{}, wrap(err)
	}
	elements, boxes, err := decodeElements(val)
	if err != nil {
		return Observation{}, err
	}

	title, _ := d.page.Title()
	obs := Observation{
		URL:   d.page.URL(),
		Title: title,
		Boxes: boxes,
	}
	var b strings.Builder
	fmt.Fprintf(&b, "URL: %s\nTITLE: %s\n", obs.URL, title)
	for _, el := range elements {
		b.WriteString(el.String())
		b.WriteByte('\n')
	}
	obs.Listing = b.String()
	d.logger.Debug().Int("elements", len(elements)).Str("url", obs.URL).Msg("observed page")
	return obs, nil
}

// Screenshot returns the viewport as base64 JPEG.
func (d *Driver) Screenshot(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := d.page.Screenshot(playwright.PageScreenshotOptions{
		Type:    playwright.ScreenshotTypeJpeg,
		Quality: playwright.Int(80),
	})
	if err != nil {
		return "", wrap(err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// Perform executes one decided action against the last observation's ids.
func (d *Driver) Perform(ctx context.Context, act brain.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	switch act.Kind {
	case brain.KindClick:
		return wrap(d.locate(act.ID).Click())
	case brain.KindType:
		loc := d.locate(act.ID)
		if err := loc.Fill(act.Value); err != nil {
			return wrap(err)
		}
		return wrap(d.page.Keyboard().Press("Tab"))
	case brain.KindSelect:
		_, err := d.locate(act.ID).SelectOption(playwright.SelectOptionValues{
			Labels: &[]string{act.Value},
		})
		return wrap(err)
	case brain.KindScroll:
		return d.scroll(act.Value)
	default:
		return fmt.Errorf("action %s is not executable in the browser", act.Kind)
	}
}

func (d *Driver) locate(id string) playwright.Locator {
	return d.page.Locator(fmt.Sprintf("[%s=%q]", idAttr, id)).First()
}

func (d *Driver) scroll(direction string) error {
	amount := scrollAmount
	if direction == "up" {
		amount = -amount
	}
	_, err := d.page.Evaluate("(dist) => window.scrollBy(0, dist)", amount)
	return wrap(err)
}

// WaitForQuiet blocks until the network settles, falling back to a plain
// DOMContentLoaded wait on busy pages.
func (d *Driver) WaitForQuiet(ctx context.Context, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if err := d.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateNetworkidle,
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	}); err != nil {
		_ = d.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
			State:   playwright.LoadStateDomcontentloaded,
			Timeout: playwright.Float(1000),
		})
	}
	return nil
}

func decodeElements(val any) ([]snapshot.Element, []annotate.Box, error) {
	items, ok := val.([]any)
	if !ok {
		return nil, nil, fmt.Errorf("unexpected evaluate result %T", val)
	}
	elements := make([]snapshot.Element, 0, len(items))
	boxes := make([]annotate.Box, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		el := snapshot.Element{
			ID:       asInt(m["id"]),
			Tag:      asString(m["tag"]),
			Text:     asString(m["text"]),
			Active:   m["active"] == true,
			Selected: m["selected"] == true,
		}
		if region := asString(m["region"]); region != "" {
			el.Regions = []string{region}
		}
		if v, present := m["value"]; present && v != nil {
			el.Value = asString(v)
			el.HasValue = true
		}
		if attrs, ok := m["attrs"].(map[string]any); ok && len(attrs) > 0 {
			el.Attrs = make(map[string]string, len(attrs))
			for k, v := range attrs {
				el.Attrs[k] = asString(v)
			}
		}
		elements = append(elements, el)
		boxes = append(boxes, annotate.Box{
			ID: el.ID,
			X:  asInt(m["x"]), Y: asInt(m["y"]),
			W: asInt(m["w"]), H: asInt(m["h"]),
		})
	}
	return elements, boxes, nil
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}

func wrap(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("playwright: %w", err)
}
