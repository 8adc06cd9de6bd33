package enrich

import (
	"bytes"
	"fmt"
	"text/template"
)

// renderPrompt renders a field's description template against the
// candidate document's decoded fields. No third-party templating library
// appears anywhere in the pack, so this is one of the few places this
// module reaches for the standard library's text/template instead of an
// ecosystem dependency.
func renderPrompt(descriptionTemplate string, doc map[string]any) (string, error) {
	tmpl, err := template.New("field").Parse(descriptionTemplate)
	if err != nil {
		return "", fmt.Errorf("esingest/enrich: parse prompt template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, doc); err != nil {
		return "", fmt.Errorf("esingest/enrich: render prompt: %w", err)
	}
	return buf.String(), nil
}

// staleFields reports which of cfg's fields are missing from doc, or carry
// a companion hash that no longer matches the current value in hashes.
func staleFields(fields []FieldSpec, hashes map[string]string, doc map[string]any) []FieldSpec {
	var stale []FieldSpec
	for _, f := range fields {
		val, hasVal := doc[f.Name]
		if !hasVal || val == nil {
			stale = append(stale, f)
			continue
		}

		ph, hasPh := doc[phantomField(f.Name)]
		phStr, _ := ph.(string)
		if !hasPh || phStr != hashes[f.Name] {
			stale = append(stale, f)
		}
	}
	return stale
}
