package render

import (
	"encoding/json"
	"strings"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Literal Escaping
// =============================================================================

// Each function returns a complete, quoted literal for its target language,
// so template authors never write quotes around untrusted values.

// groovyString returns s as a single-quoted Groovy string. Single-quoted
// Groovy strings do not interpolate ${...}, so only the quote, backslash and
// line breaks need escaping.
//
// Example:
//
//	groovyString(`it's`) // returns `'it\'s'`
func groovyString(s string) string {
	r := strings.NewReplacer(
		`\`, `\\`,
		`'`, `\'`,
		"\n", `\n`,
		"\r", `\r`,
	)
	return "'" + r.Replace(s) + "'"
}

// hclString returns s as a quoted HCL string with template sequences
// escaped, so ${...} and %{...} in the value are emitted literally.
func hclString(s string) string {
	r := strings.NewReplacer(
		`\`, `\\`,
		`"`, `\"`,
		"\n", `\n`,
		"\r", `\r`,
		"\t", `\t`,
		"${", "$${",
		"%{", "%%{",
	)
	return `"` + r.Replace(s) + `"`
}

// jsonString returns v encoded as a JSON literal.
func jsonString(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// yamlString returns s as a double-quoted YAML scalar tagged !unsafe, which
// tells Ansible not to evaluate {{ }} or {% %} inside the value.
func yamlString(s string) (string, error) {
	b, err := yaml.Marshal(&yaml.Node{
		Kind:  yaml.ScalarNode,
		Style: yaml.DoubleQuotedStyle,
		Value: s,
	})
	if err != nil {
		return "", err
	}
	return "!unsafe " + strings.TrimRight(string(b), "\n"), nil
}
