package sentiment

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	urlPattern   = regexp.MustCompile(`https?://\S+|www\.\S+`)
	spacePattern = regexp.MustCompile(`\s+`)
)

// MinTextLen is the shortest cleaned text worth sending to a model.
const MinTextLen = 10

// CleanText strips markup and links and collapses whitespace.
func CleanText(s string) string {
	if strings.Contains(s, "<") && strings.Contains(s, ">") {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(s)); err == nil {
			s = doc.Text()
		}
	}
	s = urlPattern.ReplaceAllString(s, " ")
	s = strings.ReplaceAll(s, "&amp;", "&")
	s = spacePattern.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
