package page

import (
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// extractText collects the visible text below n, skipping scripts, styles
// and embedded content. Runs of whitespace collapse to one space.
func extractText(n *html.Node) string {
	var builder strings.Builder
	collectText(n, &builder)
	return strings.Join(strings.Fields(builder.String()), " ")
}

func collectText(n *html.Node, builder *strings.Builder) {
	if n.Type == html.CommentNode {
		return
	}
	if n.Type == html.ElementNode && isSkippedElement(strings.ToLower(n.Data)) {
		return
	}
	if n.Type == html.TextNode {
		builder.WriteString(n.Data)
		builder.WriteString(" ")
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, builder)
	}
}

// isSkippedElement returns true for elements whose content is not page text
func isSkippedElement(tagName string) bool {
	skipped := map[string]bool{
		"script":   true,
		"style":    true,
		"noscript": true,
		"template": true,
		"iframe":   true,
		"embed":    true,
		"object":   true,
		"svg":      true,
	}
	return skipped[tagName]
}

// extractTitle returns the document title with whitespace collapsed.
func extractTitle(doc *html.Node) string {
	title := htmlquery.FindOne(doc, "//title")
	if title == nil {
		return ""
	}
	return strings.Join(strings.Fields(htmlquery.InnerText(title)), " ")
}
