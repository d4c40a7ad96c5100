package counter

import (
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// maxPageNumber scans the document's pagination controls and returns the
// highest page number found. A document without pagination is one page.
func maxPageNumber(doc *html.Node) int {
	max := 1
	walk(doc, func(n *html.Node) {
		if !isPaginationControl(n) {
			return
		}
		num, err := strconv.Atoi(strings.TrimSpace(textContent(n)))
		if err != nil || num <= 0 {
			return
		}
		if num > max {
			max = num
		}
	})
	return max
}

func isPaginationControl(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if hasClass(n, "pagination__button") {
		return true
	}
	if n.Data != "a" && n.Data != "li" {
		return false
	}
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && (hasClass(p, "pagination") || hasClass(p, "paginator")) {
			return true
		}
	}
	return false
}

// countByClass returns the number of elements carrying any of the classes.
func countByClass(doc *html.Node, classes ...string) int {
	count := 0
	walk(doc, func(n *html.Node) {
		if n.Type != html.ElementNode {
			return
		}
		for _, c := range classes {
			if hasClass(n, c) {
				count++
				return
			}
		}
	})
	return count
}

func hasClass(n *html.Node, class string) bool {
	for _, attr := range n.Attr {
		if attr.Key != "class" {
			continue
		}
		for _, c := range strings.Fields(attr.Val) {
			if c == class {
				return true
			}
		}
	}
	return false
}

func walk(n *html.Node, visit func(*html.Node)) {
	visit(n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, visit)
	}
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	walk(n, func(c *html.Node) {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
	})
	return sb.String()
}
