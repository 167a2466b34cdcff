package utils

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	titlePolicy = bluemonday.StrictPolicy()
	textPolicy  = bluemonday.UGCPolicy()
)

// SanitizeTitle strips all markup from a post title.
func SanitizeTitle(input string) string {
	return strings.TrimSpace(titlePolicy.Sanitize(input))
}

// SanitizeText keeps user-generated-content safe HTML in a post body.
func SanitizeText(input string) string {
	return textPolicy.Sanitize(input)
}
