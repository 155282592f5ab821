package profile

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Load decodes a sim input document. Unknown keys are rejected so that a
// misspelled profile field does not silently fall back to zero.
func Load(r io.Reader) (*RaceInput, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var in RaceInput
	if err := dec.Decode(&in); err != nil {
		return nil, fmt.Errorf("failed to decode sim input: %w", err)
	}
	return &in, nil
}

func LoadFile(path string) (*RaceInput, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sim input %s: %w", path, err)
	}
	defer f.Close()

	in, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return in, nil
}

// Write encodes in as YAML, the inverse of Load.
func Write(w io.Writer, in *RaceInput) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(in); err != nil {
		return fmt.Errorf("failed to encode sim input: %w", err)
	}
	return enc.Close()
}
