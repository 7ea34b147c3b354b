package plugins

import (
	"bytes"

	"github.com/go-go-golems/convoflow/pkg/blocks"
	"github.com/pkg/errors"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// DataHTML is the payload key the markdown plugin writes to.
const DataHTML = "html"

type markdownSettings struct {
	always bool
	md     goldmark.Markdown
}

type MarkdownOption func(*markdownSettings)

// WithAllMessages renders every message, not only those with
// meta.format == "markdown".
func WithAllMessages() MarkdownOption {
	return func(s *markdownSettings) {
		s.always = true
	}
}

// WithGoldmark replaces the default renderer (GFM enabled).
func WithGoldmark(md goldmark.Markdown) MarkdownOption {
	return func(s *markdownSettings) {
		s.md = md
	}
}

// Markdown renders data.text into data.html for message blocks.
func Markdown(options ...MarkdownOption) Plugin {
	s := &markdownSettings{
		md: goldmark.New(goldmark.WithExtensions(extension.GFM)),
	}
	for _, o := range options {
		o(s)
	}

	return func(b blocks.Block) (blocks.Block, error) {
		if !b.IsMessage() {
			return b, nil
		}
		if !s.always && b.Meta.String(blocks.MetaFormat) != "markdown" {
			return b, nil
		}
		var buf bytes.Buffer
		if err := s.md.Convert([]byte(b.Text()), &buf); err != nil {
			return b, errors.Wrap(err, "render markdown")
		}
		b.Data = blocks.MergeData(b.Data, blocks.Data{DataHTML: buf.String()})
		return b, nil
	}
}
