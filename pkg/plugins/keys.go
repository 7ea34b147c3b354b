package plugins

import (
	"github.com/go-go-golems/convoflow/pkg/blocks"
	"github.com/iancoleman/strcase"
)

// NormalizeMetaKeys rewrites meta keys to lowerCamel so that blocks coming
// from snake_case or kebab-case sources (YAML scripts, JSON APIs) use the
// engine's spelling: action_type becomes actionType.
func NormalizeMetaKeys() Plugin {
	return func(b blocks.Block) (blocks.Block, error) {
		if len(b.Meta) == 0 {
			return b, nil
		}
		meta := make(blocks.Meta, len(b.Meta))
		for k, v := range b.Meta {
			meta[strcase.ToLowerCamel(k)] = v
		}
		b.Meta = meta
		return b, nil
	}
}
