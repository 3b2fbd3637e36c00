package lease

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

// StatementSeparator splits rendered output into individual statements.
// The split is textual, not a dialect parser: a separator embedded in a
// string literal inside a user-authored template will split incorrectly.
// Generated secrets never contain the separator (see passwordAlphabet);
// template authors supplying literal values must self-escape.
const StatementSeparator = ";"

// RenderStatements renders a lifecycle statement template against the
// given context and splits the result into executable statements,
// discarding empty fragments. The template syntax is variable
// substitution only; referencing a variable absent from the context is an
// error, which is what keeps passwords out of renewal and revocation
// statements.
func RenderStatements(tpl string, ctx TemplateContext) ([]string, error) {
	t, err := template.New("statement").Option("missingkey=error").Parse(tpl)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTemplate, err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTemplate, err)
	}

	var statements []string
	for _, fragment := range strings.Split(buf.String(), StatementSeparator) {
		fragment = strings.TrimSpace(fragment)
		if fragment == "" {
			continue
		}
		statements = append(statements, fragment)
	}

	if len(statements) == 0 {
		return nil, fmt.Errorf("%w: template rendered no statements", ErrTemplate)
	}

	return statements, nil
}
