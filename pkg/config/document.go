package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/vnykmshr/tokenflow/pkg/common/errors"
	"github.com/vnykmshr/tokenflow/pkg/common/validation"
	"github.com/vnykmshr/tokenflow/pkg/ratelimit/retry"
)

const (
	module      = "config"
	limitersKey = "limiters"
	keyDelim    = "."
)

// Format is a serialization format for configuration documents.
type Format string

// Supported formats.
const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatFromPath picks the format from the file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	}
	return "", errors.NewValidationError(module, "format", filepath.Ext(path), "unsupported file extension").
		WithHint("use .yaml, .yml or .json")
}

// Document describes a set of named limiters.
//
//	limiters:
//	  api:
//	    refill_rate: 10
//	    capacity: 20
//	    poll_interval: 0.05
//	    max_attempts: 3
//
// Backoff fields left out of an entry take their retry.DefaultConfig values.
// Limiter names are case-insensitive and stored in lower case. They may not
// contain '.', which separates key path segments.
type Document struct {
	Limiters map[string]retry.Config `mapstructure:"limiters" yaml:"limiters" json:"limiters"`
}

// NewDocument returns an empty document.
func NewDocument() *Document {
	return &Document{Limiters: make(map[string]retry.Config)}
}

// Load reads a document in the given format from r.
// The result is not validated; call Validate or Build.
func Load(r io.Reader, format Format) (*Document, error) {
	v := viper.New()
	v.SetConfigType(string(format))
	if err := v.ReadConfig(r); err != nil {
		return nil, fmt.Errorf("read %s config: %w", format, err)
	}
	return decode(v)
}

// LoadFile reads a document from path. The format follows the file extension.
func LoadFile(path string) (*Document, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	return Load(f, format)
}

func decode(v *viper.Viper) (*Document, error) {
	doc := NewDocument()
	for name := range v.GetStringMap(limitersKey) {
		if err := validateName(name); err != nil {
			return nil, err
		}
		// Decoding over the defaults keeps them for fields the entry omits.
		cfg := retry.DefaultConfig()
		err := v.UnmarshalKey(limitersKey+"."+name, &cfg, func(dc *mapstructure.DecoderConfig) {
			dc.ErrorUnused = true
		})
		if err != nil {
			return nil, fmt.Errorf("decode limiter %q: %w", name, err)
		}
		doc.Limiters[name] = cfg
	}
	return doc, nil
}

// Encode writes the document to w in the given format.
func (d *Document) Encode(w io.Writer, format Format) error {
	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(d); err != nil {
			return err
		}
		return enc.Close()
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(d)
	}
	return errors.NewValidationError(module, "format", format, "unsupported format")
}

// Names returns the limiter names in sorted order.
func (d *Document) Names() []string {
	names := make([]string, 0, len(d.Limiters))
	for name := range d.Limiters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks every limiter and reports the first failure, in name order.
func (d *Document) Validate() error {
	if len(d.Limiters) == 0 {
		return errors.NewValidationError(module, limitersKey, 0, "no limiters defined")
	}
	for _, name := range d.Names() {
		if err := validateName(name); err != nil {
			return err
		}
		if err := d.Limiters[name].Validate(); err != nil {
			return fmt.Errorf("limiter %q: %w", name, err)
		}
	}
	return nil
}

func validateName(name string) error {
	if err := validation.ValidateNotEmpty(module, "limiter name", name); err != nil {
		return err
	}
	if strings.Contains(name, keyDelim) {
		return errors.NewValidationError(module, "limiter name", name, "contains '"+keyDelim+"'").
			WithHint("use '-' or '_' to separate words in limiter names")
	}
	return nil
}

// Build validates the document and creates one limiter per entry, each with
// a fresh, full bucket. opts apply to every limiter.
func (d *Document) Build(opts ...retry.Option) (map[string]*retry.Limiter, error) {
	return d.BuildWith(func(string) []retry.Option { return opts })
}

// BuildWith is like Build but asks optsFor for the options of each limiter.
func (d *Document) BuildWith(optsFor func(name string) []retry.Option) (map[string]*retry.Limiter, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	limiters := make(map[string]*retry.Limiter, len(d.Limiters))
	for _, name := range d.Names() {
		var opts []retry.Option
		if optsFor != nil {
			opts = optsFor(name)
		}
		l, err := retry.FromConfig(d.Limiters[name], opts...)
		if err != nil {
			return nil, fmt.Errorf("limiter %q: %w", name, err)
		}
		limiters[name] = l
	}
	return limiters, nil
}
