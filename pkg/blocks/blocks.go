// Package blocks defines the record shared by conversation messages and
// pending actions, together with the open Data/Meta bags they carry.
package blocks

import (
	clone "github.com/huandu/go-clone"
)

// Kind distinguishes logged messages from pending actions.
type Kind string

const (
	KindMessage Kind = "message"
	KindAction  Kind = "action"
)

// NoKey is the key of a block that has not been inserted into a store.
const NoKey = -1

// Well-known meta keys. Only MetaEphemeral and MetaWaiting carry engine
// semantics; the rest are conventions shared with renderers.
const (
	MetaEphemeral    = "ephemeral"
	MetaWaiting      = "waiting"
	MetaPrevious     = "previous"
	MetaActionType   = "actionType"
	MetaCancelable   = "cancelable"
	MetaStreaming    = "streaming"
	MetaCancelled    = "cancelled"
	MetaCancelReason = "cancelReason"
	MetaFormat       = "format"
)

// DataText is the payload key holding a block's text.
const DataText = "text"

// Block is the atomic unit of conversation state.
type Block struct {
	Key  int  `json:"key" yaml:"key"`
	Kind Kind `json:"kind" yaml:"kind"`
	Meta Meta `json:"meta,omitempty" yaml:"meta,omitempty"`
	Data Data `json:"data,omitempty" yaml:"data,omitempty"`
}

// NewMessage returns an unkeyed message block. The maps are copied.
func NewMessage(data Data, meta Meta) Block {
	return Block{Key: NoKey, Kind: KindMessage, Data: data.Clone(), Meta: meta.Clone()}
}

// NewAction returns an unkeyed action block. The maps are copied.
func NewAction(data Data, meta Meta) Block {
	return Block{Key: NoKey, Kind: KindAction, Data: data.Clone(), Meta: meta.Clone()}
}

func (b Block) IsMessage() bool { return b.Kind == KindMessage }
func (b Block) IsAction() bool  { return b.Kind == KindAction }

// IsEphemeral reports whether the resolution of this block must not be
// appended to the message log.
func (b Block) IsEphemeral() bool { return b.Meta.Bool(MetaEphemeral) }

// IsWaiting reports whether this block is a passive delay rather than a real
// input request.
func (b Block) IsWaiting() bool { return b.Meta.Bool(MetaWaiting) }

// Text returns data.text, or "" if it is missing or not a string.
func (b Block) Text() string { return b.Data.String(DataText) }

// Clone returns a deep copy of the block. Nested maps, slices and blocks
// stored in Data or Meta are copied as well.
func (b Block) Clone() Block {
	return clone.Clone(b).(Block)
}

// Merged returns a copy of b whose Data and Meta are the shallow merge of the
// existing bags with the given ones, new keys overriding old ones.
func (b Block) Merged(data Data, meta Meta) Block {
	out := b
	out.Data = MergeData(b.Data, data)
	out.Meta = MergeMeta(b.Meta, meta)
	return out
}

// WithoutKey returns a copy of the block with its key reset to NoKey.
func (b Block) WithoutKey() Block {
	b.Key = NoKey
	return b
}
