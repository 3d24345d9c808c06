package prompt

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"text/template"
)

// Templates is one selectable wording for the three gateway stages.
type Templates struct {
	Name      string
	translate *template.Template
	enhance   *template.Template
	transform *template.Template
}

type templateSource struct {
	translate string
	enhance   string
	transform string
}

var templateSources = map[string]templateSource{
	"default": {
		translate: `Translate the following image-editing instruction into English.
Reply with the translation only, without quotes or comments.

{{.Text}}`,
		enhance: `Rewrite this instruction as a precise prompt for an image model that edits scanned handwriting and signatures.
Keep the user's intent, ask to preserve stroke shape and legibility, and reply with the prompt only.

Instruction: {{.Text}}`,
		transform: `{{.Text}}

Return the edited image only. Keep every pen stroke in its original position and shape; do not redraw or add letters.`,
	},
	"signature": {
		translate: `Translate into English, keeping any technical terms. Output only the translated sentence.

{{.Text}}`,
		enhance: `You are preparing a handwritten signature for digital use.
Turn the request below into a single technical instruction covering background removal, stroke contrast and noise cleanup where relevant.
Output only the instruction.

Request: {{.Text}}`,
		transform: `Edit this handwritten signature: {{.Text}}
The signature must remain identical in shape; output a clean image with a plain white or transparent background.`,
	},
}

// TemplateNames lists the available template sets.
func TemplateNames() []string {
	names := make([]string, 0, len(templateSources))
	for name := range templateSources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadTemplates parses the named template set.
func LoadTemplates(name string) (*Templates, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = "default"
	}
	src, ok := templateSources[name]
	if !ok {
		return nil, fmt.Errorf("prompt: unknown template set %q (available: %s)", name, strings.Join(TemplateNames(), ", "))
	}
	t := &Templates{Name: name}
	var err error
	if t.translate, err = template.New(name + ".translate").Parse(src.translate); err != nil {
		return nil, err
	}
	if t.enhance, err = template.New(name + ".enhance").Parse(src.enhance); err != nil {
		return nil, err
	}
	if t.transform, err = template.New(name + ".transform").Parse(src.transform); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Templates) Translate(text string) string { return render(t.translate, text) }

func (t *Templates) Enhance(text string) string { return render(t.enhance, text) }

func (t *Templates) Transform(text string) string { return render(t.transform, text) }

func render(tmpl *template.Template, text string) string {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, struct{ Text string }{Text: strings.TrimSpace(text)}); err != nil {
		return text
	}
	return buf.String()
}
