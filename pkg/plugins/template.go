package plugins

import (
	"strings"
	"text/template"

	"github.com/Masterminds/sprig"
	"github.com/go-go-golems/convoflow/pkg/blocks"
	"github.com/pkg/errors"
)

// MetaTemplate marks a block whose data.text is a template.
const MetaTemplate = "template"

// Template renders data.text as a text/template (with sprig functions) when
// meta.template is true. The template sees .Data, .Meta and the variables
// passed in vars (typically answers collected earlier in the conversation).
// The template flag is removed from the rendered block.
func Template(vars func() map[string]any) Plugin {
	return func(b blocks.Block) (blocks.Block, error) {
		if !b.Meta.Bool(MetaTemplate) {
			return b, nil
		}
		tmpl, err := template.New("text").Funcs(sprig.TxtFuncMap()).Parse(b.Text())
		if err != nil {
			return b, errors.Wrap(err, "parse text template")
		}
		ctx := map[string]any{
			"Data": map[string]any(b.Data),
			"Meta": map[string]any(b.Meta),
			"Vars": map[string]any{},
		}
		if vars != nil {
			ctx["Vars"] = vars()
		}
		var sb strings.Builder
		if err := tmpl.Execute(&sb, ctx); err != nil {
			return b, errors.Wrap(err, "render text template")
		}
		b.Data = blocks.MergeData(b.Data, blocks.Data{blocks.DataText: sb.String()})
		meta := b.Meta.Clone()
		delete(meta, MetaTemplate)
		b.Meta = meta
		return b, nil
	}
}
