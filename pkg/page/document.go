// Package page is an in-memory PageHost. Each tab shows a parsed HTML
// document; iframes with a srcdoc attribute are child frames. Operations run
// directly over the parsed trees.
package page

import (
	"fmt"
	"io"
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
)

// SrcdocURL is the URL of a frame whose document came from srcdoc.
const SrcdocURL = "about:srcdoc"

// maxFrameDepth bounds srcdoc nesting.
const maxFrameDepth = 8

// Frame is one browsing context of a page.
type Frame struct {
	URL string
	Doc *html.Node
}

// Document is a loaded page: the top frame first, then every nested frame in
// document order.
type Document struct {
	frames []Frame
}

// Parse reads a page's markup. The encoding is sniffed from a BOM or a meta
// tag, falling back to windows-1252 for bytes that are not UTF-8; the parsed
// tree is always UTF-8.
func Parse(url string, r io.Reader) (*Document, error) {
	utf8Reader, err := charset.NewReader(r, "")
	if err != nil {
		return nil, fmt.Errorf("failed to detect encoding of page %s: %w", url, err)
	}
	doc, err := htmlquery.Parse(utf8Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to parse page %s: %w", url, err)
	}

	d := &Document{}
	if err := d.addFrame(url, doc, 0); err != nil {
		return nil, err
	}
	return d, nil
}

// ParseString parses markup held in a string.
func ParseString(url, markup string) (*Document, error) {
	return Parse(url, strings.NewReader(markup))
}

func (d *Document) addFrame(url string, doc *html.Node, depth int) error {
	d.frames = append(d.frames, Frame{URL: url, Doc: doc})
	if depth >= maxFrameDepth {
		return nil
	}

	for _, iframe := range htmlquery.Find(doc, "//iframe[@srcdoc]") {
		child, err := htmlquery.Parse(strings.NewReader(htmlquery.SelectAttr(iframe, "srcdoc")))
		if err != nil {
			return fmt.Errorf("failed to parse srcdoc frame of %s: %w", url, err)
		}
		if err := d.addFrame(SrcdocURL, child, depth+1); err != nil {
			return err
		}
	}
	return nil
}

// URL returns the top frame's URL.
func (d *Document) URL() string {
	return d.frames[0].URL
}

// Frames returns the frames, top first.
func (d *Document) Frames() []Frame {
	return append([]Frame(nil), d.frames...)
}
