// Package extract scans HTML for page metadata without building a DOM.
//
// Tokens turns markup into a lazy stream of tag and text events; an
// Accumulator consumes that stream and remembers the first title, meta and
// link values it sees. Malformed markup never produces an error: the scan
// simply stops at the end of the input.
package extract

import (
	"io"
	"iter"
	"strings"

	"golang.org/x/net/html"
)

// Kind identifies a tag event.
type Kind int

// Event kinds.
const (
	TagOpen Kind = iota + 1
	TagClose
	Text
)

// Event is one step of the markup walk.
type Event struct {
	Kind Kind
	// Name is the lower-cased tag name for TagOpen and TagClose.
	Name string
	// Attrs holds lower-cased attribute names for TagOpen. The first
	// occurrence of a repeated attribute is kept.
	Attrs map[string]string
	// Data is the unescaped text for Text events.
	Data string
}

// Attr returns the named attribute, or "".
func (e Event) Attr(name string) string {
	return e.Attrs[name]
}

// Tokens returns the tag events of the markup read from r.
// A self-closing tag yields a TagOpen immediately followed by its TagClose.
func Tokens(r io.Reader) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		z := html.NewTokenizer(r)
		for {
			switch z.Next() {
			case html.ErrorToken:
				// io.EOF or a read error: either way the walk is over.
				return
			case html.TextToken:
				if !yield(Event{Kind: Text, Data: string(z.Text())}) {
					return
				}
			case html.StartTagToken:
				if !yield(openEvent(z)) {
					return
				}
			case html.SelfClosingTagToken:
				open := openEvent(z)
				if !yield(open) {
					return
				}
				if !yield(Event{Kind: TagClose, Name: open.Name}) {
					return
				}
			case html.EndTagToken:
				name, _ := z.TagName()
				if !yield(Event{Kind: TagClose, Name: string(name)}) {
					return
				}
			}
		}
	}
}

// TokensString is Tokens over an in-memory document.
func TokensString(doc string) iter.Seq[Event] {
	return Tokens(strings.NewReader(doc))
}

func openEvent(z *html.Tokenizer) Event {
	name, hasAttr := z.TagName()
	ev := Event{Kind: TagOpen, Name: string(name)}
	if hasAttr {
		ev.Attrs = readAttrs(z)
	}
	return ev
}

// readAttrs collects all attributes from the current tag token.
func readAttrs(z *html.Tokenizer) map[string]string {
	attrs := make(map[string]string)
	for {
		key, val, more := z.TagAttr()
		k := string(key)
		if k != "" {
			if _, seen := attrs[k]; !seen {
				attrs[k] = string(val)
			}
		}
		if !more {
			break
		}
	}
	return attrs
}
