package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/GriffinCanCode/telesim/internal/shared/faults"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/bytedance/sonic"
	"github.com/charlievieth/fastwalk"
	"github.com/gabriel-vasile/mimetype"
	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"
)

// ClassKey names the registry class of an operator section.
const ClassKey = "class"

// Section is the parameter table of one named operator.
type Section map[string]any

// PipelineSection selects and orders the operators of the run.
type PipelineSection struct {
	Name      string   `toml:"name,omitempty" yaml:"name,omitempty" json:"name,omitempty"`
	Operators []string `toml:"operators,omitempty" yaml:"operators,omitempty" json:"operators,omitempty"`
	// DetectorSets lists disjoint detector subsets run in separate passes.
	// Empty means every detector in one pass.
	DetectorSets [][]string `toml:"detector_sets,omitempty" yaml:"detector_sets,omitempty" json:"detector_sets,omitempty"`
}

// Document is the operator configuration of a run.
type Document struct {
	Pipeline  PipelineSection    `toml:"pipeline" yaml:"pipeline" json:"pipeline"`
	Operators map[string]Section `toml:"operators" yaml:"operators" json:"operators"`
}

// NewDocument returns an empty document.
func NewDocument() *Document {
	return &Document{Operators: make(map[string]Section)}
}

// Names returns the operator names in sorted order.
func (d *Document) Names() []string {
	names := make([]string, 0, len(d.Operators))
	for name := range d.Operators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Merge overlays other onto d. Operator keys are merged one by one;
// pipeline fields replace those of d when set.
func (d *Document) Merge(other *Document) {
	if other == nil {
		return
	}
	if d.Operators == nil {
		d.Operators = make(map[string]Section)
	}
	for name, sec := range other.Operators {
		dst, ok := d.Operators[name]
		if !ok {
			dst = make(Section, len(sec))
			d.Operators[name] = dst
		}
		for k, v := range sec {
			dst[k] = v
		}
	}
	if other.Pipeline.Name != "" {
		d.Pipeline.Name = other.Pipeline.Name
	}
	if len(other.Pipeline.Operators) > 0 {
		d.Pipeline.Operators = append([]string(nil), other.Pipeline.Operators...)
	}
	if len(other.Pipeline.DetectorSets) > 0 {
		d.Pipeline.DetectorSets = other.Pipeline.DetectorSets
	}
}

// Set assigns one operator parameter. The operator must exist.
func (d *Document) Set(operator, key string, value any) error {
	sec, ok := d.Operators[operator]
	if !ok {
		return faults.Configf("config", "no operator named %q", operator)
	}
	sec[key] = value
	return nil
}

// ApplySet parses an override of the form operator.key=value and applies it.
// The value is read as a TOML value; anything that does not parse as one is
// taken as a plain string.
func (d *Document) ApplySet(expr string) error {
	path, raw, ok := strings.Cut(expr, "=")
	if !ok {
		return faults.Configf("config", "override %q is not of the form operator.key=value", expr)
	}
	operator, key, ok := strings.Cut(strings.TrimSpace(path), ".")
	if !ok || operator == "" || key == "" {
		return faults.Configf("config", "override %q is not of the form operator.key=value", expr)
	}
	return d.Set(operator, key, ParseValue(strings.TrimSpace(raw)))
}

// ParseValue reads s as a TOML value, falling back to the string itself.
func ParseValue(s string) any {
	var holder map[string]any
	if err := toml.Unmarshal([]byte("v = "+s), &holder); err == nil {
		return holder["v"]
	}
	return s
}

// Load expands every glob pattern and merges the matching documents in
// order. Within one pattern, files are merged in lexical order.
func Load(patterns ...string) (*Document, []string, error) {
	doc := NewDocument()
	var files []string
	seen := make(map[string]struct{})

	for _, pattern := range patterns {
		matches, err := expand(pattern)
		if err != nil {
			return nil, nil, err
		}
		if len(matches) == 0 {
			return nil, nil, faults.Configf("config", "no files match %q", pattern)
		}
		sort.Strings(matches)
		for _, path := range matches {
			if _, ok := seen[path]; ok {
				continue
			}
			seen[path] = struct{}{}

			part, err := ReadFile(path)
			if err != nil {
				return nil, nil, err
			}
			doc.Merge(part)
			files = append(files, path)
		}
	}
	return doc, files, nil
}

// expand resolves a pattern to files. A directory yields every document
// below it; anything else is a doublestar glob.
func expand(pattern string) ([]string, error) {
	if fi, err := os.Stat(pattern); err == nil && fi.IsDir() {
		return walkDocuments(pattern)
	}
	matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("expand %q: %w", pattern, err)
	}
	return matches, nil
}

func walkDocuments(root string) ([]string, error) {
	var (
		mu    sync.Mutex
		found []string
	)
	conf := fastwalk.Config{Follow: true}
	err := fastwalk.Walk(&conf, root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if _, ok := extFormats[strings.ToLower(filepath.Ext(path))]; !ok {
			return nil
		}
		mu.Lock()
		found = append(found, path)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	return found, nil
}

// ReadFile decodes one document. The format comes from the extension, or
// from the content for files without a known one.
func ReadFile(path string) (*Document, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	doc, err := Decode(formatOf(path, body), body)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc, nil
}

// Format is a document encoding.
type Format string

const (
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

var extFormats = map[string]Format{
	".toml": FormatTOML,
	".yaml": FormatYAML,
	".yml":  FormatYAML,
	".json": FormatJSON,
}

func formatOf(path string, body []byte) Format {
	if f, ok := extFormats[strings.ToLower(filepath.Ext(path))]; ok {
		return f
	}
	if mimetype.Detect(body).Is("application/json") {
		return FormatJSON
	}
	return FormatTOML
}

var jsonAPI = sonic.Config{UseInt64: true}.Froze()

// Decode parses a document in the given format.
func Decode(format Format, body []byte) (*Document, error) {
	doc := NewDocument()
	var err error
	switch format {
	case FormatYAML:
		err = yaml.Unmarshal(body, doc)
	case FormatJSON:
		err = jsonAPI.Unmarshal(body, doc)
	case FormatTOML:
		err = toml.Unmarshal(body, doc)
	default:
		err = fmt.Errorf("unknown format %q", format)
	}
	if err != nil {
		return nil, err
	}
	if doc.Operators == nil {
		doc.Operators = make(map[string]Section)
	}
	for name, sec := range doc.Operators {
		if sec == nil {
			doc.Operators[name] = make(Section)
		}
	}
	return doc, nil
}

// EncodeTOML renders the document as TOML.
func (d *Document) EncodeTOML() ([]byte, error) {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	enc.SetIndentTables(true)
	if err := enc.Encode(d); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Dump writes the document to path as TOML.
func (d *Document) Dump(path string) error {
	body, err := d.EncodeTOML()
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// DecodeParams decodes a section into the typed parameter struct out.
// Unknown keys are rejected. The class key is ignored.
func DecodeParams(operator string, sec Section, out any) error {
	trimmed := make(map[string]any, len(sec))
	for k, v := range sec {
		if k != ClassKey {
			trimmed[k] = v
		}
	}
	body, err := toml.Marshal(trimmed)
	if err != nil {
		return faults.Configf(operator, "malformed parameters: %v", err)
	}

	dec := toml.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return faults.Configf(operator, "unknown parameters: %s", strings.TrimSpace(strict.String()))
		}
		return faults.Configf(operator, "malformed parameters: %v", err)
	}
	return nil
}

// EncodeParams renders a typed parameter struct as a section of class.
func EncodeParams(class string, params any) (Section, error) {
	body, err := toml.Marshal(params)
	if err != nil {
		return nil, err
	}
	sec := make(Section)
	if err := toml.Unmarshal(body, &sec); err != nil {
		return nil, err
	}
	sec[ClassKey] = class
	return sec, nil
}
