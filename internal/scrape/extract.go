package scrape

import (
	"strings"

	"golang.org/x/net/html"
)

// skippedTags carry no readable content.
var skippedTags = map[string]bool{
	"script": true, "style": true, "nav": true, "footer": true, "header": true,
	"noscript": true,
}

// ExtractText strips markup and boilerplate from an HTML document. The
// page's meta description (og:description preferred) is prepended when
// present.
func ExtractText(rawHTML string) string {
	root, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return ""
	}

	var sb strings.Builder
	var metaDesc, ogDesc string

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.ElementNode:
			if skippedTags[n.Data] {
				return
			}
			if n.Data == "meta" {
				name, property, content := metaAttrs(n)
				if content != "" {
					if name == "description" {
						metaDesc = content
					}
					if property == "og:description" {
						ogDesc = content
					}
				}
			}
		case html.TextNode:
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(root)

	cleaned := collapseWhitespace(sb.String())
	desc := ogDesc
	if desc == "" {
		desc = metaDesc
	}
	if desc != "" {
		if cleaned == "" {
			return desc
		}
		return desc + "\n" + cleaned
	}
	return cleaned
}

func metaAttrs(n *html.Node) (name, property, content string) {
	for _, attr := range n.Attr {
		switch attr.Key {
		case "name":
			name = attr.Val
		case "property":
			property = attr.Val
		case "content":
			content = strings.TrimSpace(attr.Val)
		}
	}
	return
}

// collapseWhitespace reduces runs of blanks to single spaces and keeps
// non-empty lines.
func collapseWhitespace(text string) string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		fields := strings.Fields(line)
		if len(fields) > 0 {
			lines = append(lines, strings.Join(fields, " "))
		}
	}
	return strings.Join(lines, "\n")
}
