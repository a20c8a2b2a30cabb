package fetcher

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// nonContentSelector matches structural elements that never carry page
// content: navigation, chrome and code that renders it.
const nonContentSelector = "nav, header, footer, aside, script, style"

// contentContainers is the fallback chain for locating the real page body in
// common documentation/CMS layouts.
var contentContainers = []string{"main", "article", ".entry-content", ".post-content", "#content"}

// ExtractPage strips non-content markup from a fetched page and returns its
// visible text plus a resolved title.
func ExtractPage(rawHTML, pageURL string) (text, title string, err error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return "", "", fmt.Errorf("parse html: %w", err)
	}

	doc.Find(nonContentSelector).Remove()

	container := doc.Selection
	for _, sel := range contentContainers {
		if found := doc.Find(sel); found.Length() > 0 {
			container = found.First()
			break
		}
	}

	text = visibleText(container)
	title = resolveTitle(container, doc, pageURL)
	return text, title, nil
}

// visibleText collects the text nodes under the selection, one line per
// node, dropping blank lines. This mirrors rendering each text fragment on
// its own line so later per-line cleanup can work.
func visibleText(sel *goquery.Selection) string {
	var lines []string
	for _, node := range sel.Nodes {
		collectText(node, &lines)
	}
	return strings.Join(lines, "\n")
}

func collectText(node *html.Node, lines *[]string) {
	if node.Type == html.TextNode {
		if line := strings.TrimSpace(node.Data); line != "" {
			*lines = append(*lines, line)
		}
		return
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		collectText(child, lines)
	}
}

// resolveTitle picks the page title via a fallback chain: first heading in
// the content container, then the document title element, then the last
// non-empty path segment, then a fixed placeholder.
func resolveTitle(container *goquery.Selection, doc *goquery.Document, pageURL string) string {
	if h1 := strings.TrimSpace(container.Find("h1").First().Text()); h1 != "" {
		return h1
	}
	if t := strings.TrimSpace(doc.Find("title").First().Text()); t != "" {
		return t
	}
	if u, err := url.Parse(pageURL); err == nil {
		segments := strings.Split(strings.Trim(u.Path, "/"), "/")
		if last := segments[len(segments)-1]; last != "" {
			return last
		}
	}
	return "untitled"
}
