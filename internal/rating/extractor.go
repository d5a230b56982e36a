package rating

import (
	"regexp"
	"strings"
)

// starPattern matches a single digit 1-5 followed by "star" or "stars" as a whole word,
// e.g. "5 stars", "1 Star", "4stars". "15 stars" and "5starz" do not match.
var starPattern = regexp.MustCompile(`(?i)\b([1-5])\s*stars?\b`)

// Result is what Extract found in a reply.
type Result struct {
	Rating *int
	Body   string
}

// Extract pulls the first star rating out of text and returns the trimmed text as body.
// The rating token stays in the body.
func Extract(text string) Result {
	res := Result{Body: strings.TrimSpace(text)}

	m := starPattern.FindStringSubmatch(text)
	if m != nil {
		r := int(m[1][0] - '0')
		res.Rating = &r
	}
	return res
}
