package extract

import (
	"io"
	"maps"
	"strings"
)

// Link relations remembered by the Accumulator.
const (
	RelIcon      = "icon"
	RelCanonical = "canonical"
)

// Extraction is the metadata table produced by one scan.
type Extraction struct {
	// Title is the <title> text, or "" when the page has none.
	Title string
	// Meta maps lower-cased property/name keys to trimmed content.
	Meta map[string]string
	// Links holds at most RelIcon and RelCanonical hrefs.
	Links map[string]string
}

// Accumulator remembers what a metadata scan needs from the event stream.
// The first value seen for each meta key or link relation wins.
type Accumulator struct {
	inTitle    bool
	titleParts []string
	meta       map[string]string
	links      map[string]string
}

// NewAccumulator returns an empty Accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{
		meta:  make(map[string]string),
		links: make(map[string]string),
	}
}

// Observe folds one event into the accumulated state.
func (a *Accumulator) Observe(ev Event) {
	switch ev.Kind {
	case TagOpen:
		switch ev.Name {
		case "title":
			a.inTitle = true
		case "meta":
			a.observeMeta(ev)
		case "link":
			a.observeLink(ev)
		}
	case TagClose:
		if ev.Name == "title" {
			a.inTitle = false
		}
	case Text:
		if a.inTitle {
			a.titleParts = append(a.titleParts, strings.TrimSpace(ev.Data))
		}
	}
}

func (a *Accumulator) observeMeta(ev Event) {
	key := ev.Attr("property")
	if key == "" {
		key = ev.Attr("name")
	}
	content := ev.Attr("content")
	if key == "" || content == "" {
		return
	}
	key = strings.ToLower(key)
	if _, seen := a.meta[key]; seen {
		return
	}
	a.meta[key] = strings.TrimSpace(content)
}

func (a *Accumulator) observeLink(ev Event) {
	rel := strings.ToLower(ev.Attr("rel"))
	href := ev.Attr("href")
	if rel == "" || href == "" {
		return
	}
	href = strings.TrimSpace(href)
	for _, want := range []string{RelIcon, RelCanonical} {
		if !strings.Contains(rel, want) {
			continue
		}
		if _, seen := a.links[want]; !seen {
			a.links[want] = href
		}
	}
}

// Title joins the non-empty title fragments with single spaces.
func (a *Accumulator) Title() string {
	parts := make([]string, 0, len(a.titleParts))
	for _, p := range a.titleParts {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

// Result snapshots the accumulated state.
func (a *Accumulator) Result() Extraction {
	return Extraction{
		Title: a.Title(),
		Meta:  maps.Clone(a.meta),
		Links: maps.Clone(a.links),
	}
}

// Extract runs a full scan over r.
func Extract(r io.Reader) Extraction {
	acc := NewAccumulator()
	for ev := range Tokens(r) {
		acc.Observe(ev)
	}
	return acc.Result()
}

// ExtractString runs a full scan over an in-memory document.
func ExtractString(doc string) Extraction {
	return Extract(strings.NewReader(doc))
}
