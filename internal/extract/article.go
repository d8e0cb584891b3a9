package extract

import (
	"bytes"
	"errors"
	"strings"

	"golang.org/x/net/html"
)

var (
	ErrNoArticle = errors.New("no article element")
	ErrEmptyBody = errors.New("article has no text")
)

// classes inside the article that hold page chrome rather than the release itself
var chrome = []string{"heading", "lastUpdate", "shareDL", "header"}

// Body returns the text of a statement or minutes page, one paragraph per block
// separated by blank lines.
func Body(raw []byte) (string, error) {
	doc, err := html.Parse(bytes.NewReader(raw))
	if err != nil {
		return "", &ParseError{Page: "article", Err: err}
	}

	article := findFirst(doc, func(n *html.Node) bool {
		return n.Type == html.ElementNode && attr(n, "id") == "article"
	})
	if article == nil {
		return "", &ParseError{Page: "article", Err: ErrNoArticle}
	}

	var paragraphs []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			for _, c := range chrome {
				if hasClass(n, c) {
					return
				}
			}
			if n.Data == "p" {
				if text := textOf(n); text != "" {
					paragraphs = append(paragraphs, text)
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(article)

	if len(paragraphs) == 0 {
		if text := textOf(article); text != "" {
			return text, nil
		}
		return "", &ParseError{Page: "article", Err: ErrEmptyBody}
	}
	return strings.Join(paragraphs, "\n\n"), nil
}
