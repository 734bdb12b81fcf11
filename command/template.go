package command

import (
	"regexp"
	"strconv"
)

var placeholderPattern = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)

// Render substitutes {name} placeholders in template from vars. Unknown
// placeholders are left intact so a typo is visible in chat instead of
// silently vanishing.
func Render(template string, vars map[string]string) string {
	if len(vars) == 0 {
		return template
	}
	return placeholderPattern.ReplaceAllStringFunc(template, func(m string) string {
		key := m[1 : len(m)-1]
		if v, ok := vars[key]; ok {
			return v
		}
		return m
	})
}

func formatCount(n int64) string {
	return strconv.FormatInt(n, 10)
}
