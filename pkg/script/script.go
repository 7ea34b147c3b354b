// Package script runs YAML bot scripts against a flow engine.
//
//	name: onboarding
//	steps:
//	  - say: "Welcome!"
//	  - ask: "What's your name?"
//	    var: name
//	  - wait: 500ms
//	  - stream: "Nice to meet you, {{ .Vars.name }}."
package script

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type StepKind string

const (
	StepSay      StepKind = "say"
	StepAsk      StepKind = "ask"
	StepWait     StepKind = "wait"
	StepStream   StepKind = "stream"
	StepComplete StepKind = "complete"
	StepSet      StepKind = "set"
)

// Step is one instruction of a script. Exactly one of Say, Ask, Wait,
// Stream, Complete and Set must be set.
type Step struct {
	Say string `json:"say,omitempty" yaml:"say,omitempty"`
	Ask string `json:"ask,omitempty" yaml:"ask,omitempty"`
	// Wait is a duration ("500ms"), or "next" to wait for a response.
	Wait   string `json:"wait,omitempty" yaml:"wait,omitempty"`
	Stream string `json:"stream,omitempty" yaml:"stream,omitempty"`
	// Complete streams a chat completion for the prompt.
	Complete string            `json:"complete,omitempty" yaml:"complete,omitempty"`
	Set      map[string]string `json:"set,omitempty" yaml:"set,omitempty"`

	// Var stores the answer of an ask step.
	Var        string   `json:"var,omitempty" yaml:"var,omitempty"`
	Choices    []string `json:"choices,omitempty" yaml:"choices,omitempty"`
	ActionType string   `json:"action_type,omitempty" yaml:"action_type,omitempty"`
	Ephemeral  bool     `json:"ephemeral,omitempty" yaml:"ephemeral,omitempty"`
	// Format is copied to meta.format ("markdown").
	Format string `json:"format,omitempty" yaml:"format,omitempty"`
	// ChunkDelay paces stream steps.
	ChunkDelay string         `json:"chunk_delay,omitempty" yaml:"chunk_delay,omitempty"`
	Meta       map[string]any `json:"meta,omitempty" yaml:"meta,omitempty"`
}

func (s Step) Kind() (StepKind, error) {
	var kinds []StepKind
	if s.Say != "" {
		kinds = append(kinds, StepSay)
	}
	if s.Ask != "" {
		kinds = append(kinds, StepAsk)
	}
	if s.Wait != "" {
		kinds = append(kinds, StepWait)
	}
	if s.Stream != "" {
		kinds = append(kinds, StepStream)
	}
	if s.Complete != "" {
		kinds = append(kinds, StepComplete)
	}
	if len(s.Set) > 0 {
		kinds = append(kinds, StepSet)
	}
	switch len(kinds) {
	case 1:
		return kinds[0], nil
	case 0:
		return "", errors.New("step has no instruction (say, ask, wait, stream, complete or set)")
	default:
		return "", errors.Errorf("step mixes instructions %v", kinds)
	}
}

// WaitDuration returns the wait step's duration; zero means wait for Next.
func (s Step) WaitDuration() (time.Duration, error) {
	if s.Wait == "next" {
		return 0, nil
	}
	d, err := time.ParseDuration(s.Wait)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid wait %q", s.Wait)
	}
	if d < 0 {
		return 0, errors.Errorf("negative wait %q", s.Wait)
	}
	return d, nil
}

func (s Step) chunkDelay() (time.Duration, error) {
	if s.ChunkDelay == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s.ChunkDelay)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid chunk_delay %q", s.ChunkDelay)
	}
	return d, nil
}

type Script struct {
	Name  string         `json:"name,omitempty" yaml:"name,omitempty"`
	Vars  map[string]any `json:"vars,omitempty" yaml:"vars,omitempty"`
	Steps []Step         `json:"steps" yaml:"steps"`
}

func (s *Script) Validate() error {
	if len(s.Steps) == 0 {
		return errors.New("script has no steps")
	}
	for i, step := range s.Steps {
		kind, err := step.Kind()
		if err != nil {
			return errors.Wrapf(err, "step %d", i)
		}
		switch kind {
		case StepWait:
			if _, err := step.WaitDuration(); err != nil {
				return errors.Wrapf(err, "step %d", i)
			}
		case StepStream:
			if _, err := step.chunkDelay(); err != nil {
				return errors.Wrapf(err, "step %d", i)
			}
		case StepSay, StepAsk, StepComplete, StepSet:
		}
	}
	return nil
}

func Parse(r io.Reader) (*Script, error) {
	var s Script
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&s); err != nil {
		return nil, errors.Wrap(err, "could not decode script")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func ParseString(s string) (*Script, error) {
	return Parse(strings.NewReader(s))
}

func Load(path string) (*Script, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not open script %s", path)
	}
	defer func() {
		_ = f.Close()
	}()
	s, err := Parse(f)
	if err != nil {
		return nil, errors.Wrapf(err, "script %s", path)
	}
	return s, nil
}
