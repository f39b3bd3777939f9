package template

import (
	"fmt"
	"regexp"
)

// Render substitutes {{ name }} placeholders in body and subject with
// the string form of the matching variable. Placeholder syntax is
// whitespace-tolerant; placeholders with no matching variable are left
// verbatim. Pure function, inputs are never mutated.
func Render(body, subject string, variables map[string]any) (string, string) {
	for key, value := range variables {
		re, err := regexp.Compile(`\{\{\s*` + regexp.QuoteMeta(key) + `\s*\}\}`)
		if err != nil {
			continue
		}
		replacement := fmt.Sprint(value)
		body = re.ReplaceAllString(body, replacement)
		subject = re.ReplaceAllString(subject, replacement)
	}
	return body, subject
}
