package plugins

import (
	"strings"

	"github.com/go-go-golems/convoflow/pkg/blocks"
	"github.com/pkg/errors"
	"github.com/xeipuuv/gojsonschema"
)

// MetaSchema holds a JSON schema (as a map or a JSON string) that the block's
// data must satisfy.
const MetaSchema = "schema"

// Schema fails the pipeline when a block's data does not validate against
// the JSON schema found in meta.schema. Blocks without a schema pass through.
func Schema() Plugin {
	return func(b blocks.Block) (blocks.Block, error) {
		raw, ok := b.Meta.Get(MetaSchema)
		if !ok || raw == nil {
			return b, nil
		}

		var schemaLoader gojsonschema.JSONLoader
		switch s := raw.(type) {
		case string:
			schemaLoader = gojsonschema.NewStringLoader(s)
		default:
			schemaLoader = gojsonschema.NewGoLoader(s)
		}

		data := map[string]any(b.Data)
		if data == nil {
			data = map[string]any{}
		}
		result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewGoLoader(data))
		if err != nil {
			return b, errors.Wrap(err, "validate block data")
		}
		if !result.Valid() {
			msgs := make([]string, 0, len(result.Errors()))
			for _, e := range result.Errors() {
				msgs = append(msgs, e.String())
			}
			return b, errors.Errorf("block data does not match schema: %s", strings.Join(msgs, "; "))
		}
		return b, nil
	}
}
