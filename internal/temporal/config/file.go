package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the policy file loaded at startup.
type File struct {
	Policies  []Policy    `yaml:"policies"`
	Segmented []Segmented `yaml:"segmented"`
}

// LoadFile reads and validates a policy file.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a policy file, rejecting unknown keys.
func Parse(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse policy file: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks each entry and that no kind is configured twice.
func (f *File) Validate() error {
	var errs []error
	seen := map[string]bool{}
	claim := func(kind string) {
		if kind == "" {
			return
		}
		if seen[kind] {
			errs = append(errs, fmt.Errorf("kind %q configured more than once", kind))
		}
		seen[kind] = true
	}
	for _, p := range f.Policies {
		if err := p.Validate(); err != nil {
			errs = append(errs, err)
		}
		claim(p.Kind)
	}
	for _, s := range f.Segmented {
		if err := s.Validate(); err != nil {
			errs = append(errs, err)
		}
		claim(s.ParentKind)
		claim(s.SegmentKind)
	}
	return errors.Join(errs...)
}
