package extension

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

//go:embed schema/manifest.schema.json
var schemaBytes []byte

var (
	// ErrMissingField is returned when a required manifest field is absent or empty.
	ErrMissingField = errors.New("manifest field is missing")
	// ErrInvalidManifest is returned when the manifest violates the schema.
	ErrInvalidManifest = errors.New("manifest is invalid")

	compiledSchema *jsonschema.Schema
	compileOnce    sync.Once
	errCompile     error
	printer        = message.NewPrinter(language.English)
)

// Manifest is the subset of manifest.json the builder relies on.
type Manifest struct {
	// Name is the human-readable extension name.
	Name string `json:"name"`
	// Version is the dotted version declared by the extension.
	Version string `json:"version"`
	// ManifestVersion is the manifest format generation, zero when absent.
	ManifestVersion int `json:"manifest_version,omitempty"`
	// Description is optional.
	Description string `json:"description,omitempty"`
}

// ParseManifest decodes data, checks required fields and validates it
// against the embedded schema.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}

	switch {
	case strings.TrimSpace(m.Name) == "":
		return nil, fmt.Errorf("%w: name", ErrMissingField)
	case strings.TrimSpace(m.Version) == "":
		return nil, fmt.Errorf("%w: version", ErrMissingField)
	}

	if err := validate(data); err != nil {
		return nil, err
	}

	return &m, nil
}

// LoadManifest reads and parses the manifest at path.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	m, err := ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return m, nil
}

// getSchema compiles the embedded JSON schema once and returns it.
func getSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaBytes))
		if err != nil {
			errCompile = fmt.Errorf("unmarshal schema: %w", err)
			return
		}

		c := jsonschema.NewCompiler()
		if err = c.AddResource("manifest.schema.json", doc); err != nil {
			errCompile = fmt.Errorf("add schema resource: %w", err)
			return
		}

		compiledSchema, errCompile = c.Compile("manifest.schema.json")
	})

	return compiledSchema, errCompile
}

func validate(data []byte) error {
	schema, err := getSchema()
	if err != nil {
		return fmt.Errorf("load manifest schema: %w", err)
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("decode manifest: %w", err)
	}

	err = schema.Validate(inst)
	if err == nil {
		return nil
	}

	var validationErr *jsonschema.ValidationError
	if !errors.As(err, &validationErr) {
		return fmt.Errorf("validate manifest: %w", err)
	}

	return fmt.Errorf("%w: %s", ErrInvalidManifest, strings.Join(collectIssues(validationErr), "; "))
}

// collectIssues flattens the validation error tree into leaf messages.
func collectIssues(ve *jsonschema.ValidationError) []string {
	if len(ve.Causes) == 0 {
		location := "/" + strings.Join(ve.InstanceLocation, "/")
		if ve.ErrorKind == nil {
			return []string{location + ": " + ve.Error()}
		}

		return []string{location + ": " + ve.ErrorKind.LocalizedString(printer)}
	}

	var issues []string
	for _, cause := range ve.Causes {
		issues = append(issues, collectIssues(cause)...)
	}

	return issues
}
