// Package casefile loads grids from MATPOWER source or from JSON and YAML
// documents carrying the same tables.
package casefile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ohowland/cgc_acopf/internal/lib/matpower"
	"github.com/ohowland/cgc_acopf/internal/pkg/grid"
)

var ErrFormat = errors.New("casefile: unknown format")

// Format of a case file.
type Format string

const (
	MATPOWER Format = "matpower"
	JSON     Format = "json"
	YAML     Format = "yaml"
)

// ParseFormat reads a format name or content type.
func ParseFormat(s string) (Format, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if i := strings.Index(s, ";"); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	switch s {
	case "matpower", "m", "text/plain", "text/x-matlab", "":
		return MATPOWER, nil
	case "json", "application/json":
		return JSON, nil
	case "yaml", "yml", "application/yaml", "application/x-yaml", "text/yaml":
		return YAML, nil
	}
	return "", fmt.Errorf("%w: %q", ErrFormat, s)
}

// FormatOf picks the format from a file extension.
func FormatOf(path string) (Format, error) {
	return ParseFormat(strings.TrimPrefix(filepath.Ext(path), "."))
}

// Load reads the case at path and builds its grid.
func Load(path string) (*grid.Grid, error) {
	c, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	g, err := c.Grid()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return g, nil
}

// ReadFile parses a case file of any known format. Cases without a name
// are named after the file.
func ReadFile(path string) (*matpower.Case, error) {
	f, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	if f == MATPOWER {
		return matpower.ParseFile(path)
	}

	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	c, err := Decode(fh, f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if c.Name == "" {
		c.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return c, nil
}

// Decode parses a case in format f. JSON documents are read by the YAML
// decoder, which accepts them unchanged.
func Decode(r io.Reader, f Format) (*matpower.Case, error) {
	switch f {
	case MATPOWER:
		return matpower.Parse(r)
	case JSON, YAML:
		c := &matpower.Case{}
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		if err := dec.Decode(c); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("%w: empty document", matpower.ErrMissing)
			}
			return nil, fmt.Errorf("%w: %v", matpower.ErrSyntax, err)
		}
		return c, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrFormat, f)
}

// Encode writes a case as a YAML document.
func Encode(w io.Writer, c *matpower.Case) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	_, err := buf.WriteTo(w)
	return err
}
