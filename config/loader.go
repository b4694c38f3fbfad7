package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"gopkg.in/yaml.v3"

	flowerrors "github.com/davidroman0O/contestflow/errors"
)

// Format is a workflow file encoding
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
	FormatHCL  Format = "hcl"
)

// FormatOf picks the format from a file extension
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	case ".hcl":
		return FormatHCL, nil
	}
	return "", flowerrors.Validationf("load workflow", "unsupported workflow file format %q", filepath.Ext(path))
}

// LoadFile reads and decodes a workflow file
func LoadFile(path string) (*File, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, flowerrors.FromOS("read workflow file", err)
	}
	return Decode(data, format, path)
}

// Decode parses data. filename is used in HCL diagnostics.
func Decode(data []byte, format Format, filename string) (*File, error) {
	f := &File{}
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, f); err != nil {
			return nil, flowerrors.Wrap(err, flowerrors.ErrValidation, "failed to parse YAML workflow")
		}
	case FormatJSON:
		if err := json.Unmarshal(data, f); err != nil {
			return nil, flowerrors.Wrap(err, flowerrors.ErrValidation, "failed to parse JSON workflow")
		}
	case FormatHCL:
		if err := decodeHCL(data, filename, f); err != nil {
			return nil, err
		}
	default:
		return nil, flowerrors.Validationf("decode workflow", "unknown format %q", format)
	}
	return f, nil
}

func decodeHCL(data []byte, filename string, f *File) error {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(data, filename)
	if diags.HasErrors() {
		return flowerrors.Wrap(diags, flowerrors.ErrValidation, "failed to parse HCL workflow")
	}
	diags = gohcl.DecodeBody(file.Body, EvalContext(), f)
	if diags.HasErrors() {
		return flowerrors.Wrap(diags, flowerrors.ErrValidation, "failed to decode HCL workflow")
	}
	return nil
}

// EvalContext exposes the process environment to HCL expressions as env.NAME
func EvalContext() *hcl.EvalContext {
	vars := make(map[string]cty.Value)
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		vars[k] = cty.StringVal(v)
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"env": cty.ObjectVal(vars),
		},
	}
}

// Load reads path and resolves it into a runnable workflow
func Load(path string) (*Workflow, error) {
	f, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, flowerrors.FromOS("resolve workflow path", err)
	}
	return f.Resolve(filepath.Dir(abs))
}
