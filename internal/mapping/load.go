package mapping

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"gopkg.in/yaml.v3"
)

// LoadError reports a mapping file that could not be read or resolved.
type LoadError struct {
	Path    string
	Message string
	Pos     token.Pos // CUE position if available
	Err     error
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Message)
	}
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

func (e *LoadError) Unwrap() error { return e.Err }

// LoadFile reads a mapping from path, choosing the decoder by extension
// (.cue, otherwise YAML).
func LoadFile(path string) (*Repository, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Path: path, Message: fmt.Sprintf("reading mapping: %v", err), Err: err}
	}
	if filepath.Ext(path) == ".cue" {
		return LoadCUE(path, data)
	}
	return LoadYAML(path, data)
}

// LoadYAML decodes a YAML mapping document and builds it.
func LoadYAML(path string, data []byte) (*Repository, error) {
	var m Model
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, &LoadError{Path: path, Message: fmt.Sprintf("decoding YAML: %v", err)}
	}
	repo, err := m.Build()
	if err != nil {
		return nil, &LoadError{Path: path, Message: err.Error()}
	}
	return repo, nil
}

// LoadCUE compiles a CUE mapping document and builds it. Each entity,
// embeddable and enum is decoded separately so errors carry the position
// of the offending declaration.
func LoadCUE(path string, data []byte) (*Repository, error) {
	ctx := cuecontext.New()
	value := ctx.CompileBytes(data, cue.Filename(path))
	if err := value.Err(); err != nil {
		return nil, formatCUEError(path, err)
	}

	m := Model{
		Entities:    make(map[string]EntityDoc),
		Embeddables: make(map[string]EmbeddableDoc),
		Enums:       make(map[string]EnumDoc),
	}
	if err := decodeSection(value, "entities", func(label string, v cue.Value) error {
		var doc EntityDoc
		if err := v.Decode(&doc); err != nil {
			return err
		}
		m.Entities[label] = doc
		return nil
	}); err != nil {
		return nil, wrapCUE(path, err)
	}
	if err := decodeSection(value, "embeddables", func(label string, v cue.Value) error {
		var doc EmbeddableDoc
		if err := v.Decode(&doc); err != nil {
			return err
		}
		m.Embeddables[label] = doc
		return nil
	}); err != nil {
		return nil, wrapCUE(path, err)
	}
	if err := decodeSection(value, "enums", func(label string, v cue.Value) error {
		var doc EnumDoc
		if err := v.Decode(&doc); err != nil {
			return err
		}
		m.Enums[label] = doc
		return nil
	}); err != nil {
		return nil, wrapCUE(path, err)
	}

	repo, err := m.Build()
	if err != nil {
		return nil, &LoadError{Path: path, Message: err.Error()}
	}
	return repo, nil
}

// decodeSection iterates the fields of a top-level struct, if present.
func decodeSection(root cue.Value, name string, fn func(label string, v cue.Value) error) error {
	section := root.LookupPath(cue.ParsePath(name))
	if !section.Exists() {
		return nil
	}
	iter, err := section.Fields()
	if err != nil {
		return err
	}
	for iter.Next() {
		if err := fn(iter.Label(), iter.Value()); err != nil {
			return err
		}
	}
	return nil
}

func wrapCUE(path string, err error) error {
	var le *LoadError
	if errors.As(err, &le) {
		return le
	}
	return formatCUEError(path, err)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(path string, err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &LoadError{Path: path, Message: err.Error()}
	}
	first := errs[0]
	positions := cueerrors.Positions(first)
	if len(positions) > 0 {
		return &LoadError{Path: path, Message: first.Error(), Pos: positions[0]}
	}
	return &LoadError{Path: path, Message: first.Error()}
}
