package blocks

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Record is the persisted shape of a block. Keys are not part of the
// persisted state; they are reassigned by position when a transcript is
// loaded back into a store.
type Record struct {
	Kind Kind `json:"kind" yaml:"kind"`
	Meta Meta `json:"meta,omitempty" yaml:"meta,omitempty"`
	Data Data `json:"data,omitempty" yaml:"data,omitempty"`
}

// Transcript is an ordered conversation snapshot.
type Transcript struct {
	Messages []Record `json:"messages" yaml:"messages"`
}

// Format selects the transcript encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatFromPath guesses the encoding from a file extension, defaulting to YAML.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	default:
		return FormatYAML
	}
}

// NewTranscript strips keys from the given blocks. Nested blocks stored under
// meta.previous are kept as-is.
func NewTranscript(bs []Block) *Transcript {
	t := &Transcript{Messages: make([]Record, 0, len(bs))}
	for _, b := range bs {
		t.Messages = append(t.Messages, Record{Kind: b.Kind, Meta: b.Meta, Data: b.Data})
	}
	return t
}

// Blocks returns the transcript as unkeyed blocks, in order.
func (t *Transcript) Blocks() []Block {
	if t == nil {
		return nil
	}
	out := make([]Block, 0, len(t.Messages))
	for _, r := range t.Messages {
		kind := r.Kind
		if kind == "" {
			kind = KindMessage
		}
		out = append(out, Block{Key: NoKey, Kind: kind, Meta: r.Meta, Data: r.Data})
	}
	return out
}

// Encode writes the transcript to w.
func (t *Transcript) Encode(w io.Writer, format Format) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return errors.Wrap(enc.Encode(t), "encode json transcript")
	case FormatYAML, "":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(t); err != nil {
			return errors.Wrap(err, "encode yaml transcript")
		}
		return enc.Close()
	default:
		return errors.Errorf("unknown transcript format %q", format)
	}
}

// DecodeTranscript reads a transcript from r.
func DecodeTranscript(r io.Reader, format Format) (*Transcript, error) {
	t := &Transcript{}
	switch format {
	case FormatJSON:
		if err := json.NewDecoder(r).Decode(t); err != nil {
			return nil, errors.Wrap(err, "decode json transcript")
		}
	case FormatYAML, "":
		if err := yaml.NewDecoder(r).Decode(t); err != nil {
			if errors.Is(err, io.EOF) {
				return t, nil
			}
			return nil, errors.Wrap(err, "decode yaml transcript")
		}
	default:
		return nil, errors.Errorf("unknown transcript format %q", format)
	}
	return t, nil
}

// SaveTranscript writes the blocks to path, choosing the format from the
// file extension.
func SaveTranscript(path string, bs []Block) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create transcript %s", path)
	}
	defer func() {
		_ = f.Close()
	}()
	return NewTranscript(bs).Encode(f, FormatFromPath(path))
}

// LoadTranscript reads the blocks stored at path.
func LoadTranscript(path string) ([]Block, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open transcript %s", path)
	}
	defer func() {
		_ = f.Close()
	}()
	t, err := DecodeTranscript(f, FormatFromPath(path))
	if err != nil {
		return nil, err
	}
	return t.Blocks(), nil
}
