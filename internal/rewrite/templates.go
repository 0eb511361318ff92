package rewrite

import (
	"sort"
	"strings"
)

// Built-in template names.
const (
	TemplateMinimal      = "minimal"
	TemplateBalanced     = "balanced"
	TemplateProfessional = "professional"
)

var builtins = map[string]string{
	TemplateMinimal: `You clean up dictated text.
Fix only obvious transcription mistakes, punctuation and capitalization.
Do not rephrase, summarize or add anything.
The speaker is writing in {{language}} into {{app}}.
Return only the corrected text.`,

	TemplateBalanced: `You clean up dictated text.
Remove filler words such as "um", "uh", "like", "you know", "so" and "I mean"
when they carry no meaning, remove false starts and repeated words, and fix
punctuation and capitalization. Keep the speaker's wording and meaning.
The speaker is writing in {{language}} into {{app}}.
Return only the cleaned text.`,

	TemplateProfessional: `You turn dictated text into clear, professional writing.
Remove filler words and false starts, fix grammar, punctuation and
capitalization, and tighten awkward phrasing while keeping every fact
and the speaker's intent. Match the tone expected in {{app}}.
Write in {{language}}. Return only the rewritten text.`,
}

// Templates resolves template names to bodies. User templates shadow
// built-ins with the same name.
type Templates struct {
	custom map[string]string
}

// NewTemplates creates a registry with the given user templates.
func NewTemplates(custom map[string]string) *Templates {
	c := make(map[string]string, len(custom))
	for k, v := range custom {
		c[k] = v
	}
	return &Templates{custom: c}
}

// Get returns the template body for name.
func (t *Templates) Get(name string) (string, bool) {
	if body, ok := t.custom[name]; ok {
		return body, true
	}
	body, ok := builtins[name]
	return body, ok
}

// Names lists every template name, built-ins first.
func (t *Templates) Names() []string {
	names := []string{TemplateMinimal, TemplateBalanced, TemplateProfessional}
	extra := make([]string, 0, len(t.custom))
	for name := range t.custom {
		if !IsBuiltin(name) {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	return append(names, extra...)
}

// IsBuiltin reports whether name is one of the shipped templates.
func IsBuiltin(name string) bool {
	_, ok := builtins[name]
	return ok
}

// Render substitutes {{text}}, {{app}} and {{language}} in template.
// Unknown placeholders are left as they are.
func Render(template, text, app, lang string) string {
	if app == "" {
		app = "the focused application"
	}
	r := strings.NewReplacer(
		"{{text}}", text,
		"{{app}}", app,
		"{{language}}", LanguageName(lang),
	)
	return r.Replace(template)
}
