// Package template renders node configuration strings against session
// variable bindings.
package template

import (
	"fmt"
	"strings"
	"text/template"
	"time"
)

// Render expands a node configuration template against the session's
// variable bindings. Undefined variables expand to the empty string, never a
// hard failure; a malformed template is a real error.
func Render(input string, variables map[string]string) (string, error) {
	if !strings.Contains(input, "{{") {
		return input, nil
	}

	tmpl, err := template.
		New("node").
		Option("missingkey=zero").
		Funcs(template.FuncMap{
			"now": func() string {
				return time.Now().UTC().Format(time.RFC3339)
			},
			"upper": strings.ToUpper,
			"lower": strings.ToLower,
		}).Parse(input)
	if err != nil {
		return "", fmt.Errorf("failed to parse template %q: %w", input, err)
	}

	data := make(map[string]string, len(variables))
	for name, value := range variables {
		data[name] = value
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return "", fmt.Errorf("failed to execute template %q: %w", input, err)
	}

	return buf.String(), nil
}
