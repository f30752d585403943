package summary

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// PlainText strips markup from feed content and collapses whitespace.
// Text without tags passes through unchanged apart from whitespace.
func PlainText(content string) (string, error) {
	if !strings.ContainsAny(content, "<&") {
		return collapse(content), nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	doc.Find("script, style, noscript, iframe").Remove()
	// keep block boundaries as spaces
	doc.Find("p, br, li, div, h1, h2, h3, h4, h5, h6, tr").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml(" ")
	})

	return collapse(doc.Text()), nil
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
