package contract

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strconv"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrValidation matches every *ValidationError via errors.Is.
var ErrValidation = errors.New("contract validation failed")

// ValidationError reports the first place a payload diverges from its schema.
type ValidationError struct {
	Endpoint string
	Field    string
	Reason   string

	cause error
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	if e.Endpoint != "" {
		b.WriteString(e.Endpoint)
		b.WriteString(": ")
	}
	if e.Field != "" {
		b.WriteString(e.Field)
		b.WriteString(": ")
	}
	b.WriteString(e.Reason)
	return b.String()
}

// Unwrap exposes ErrValidation and, for schema failures, the underlying
// *jsonschema.ValidationError.
func (e *ValidationError) Unwrap() []error {
	if e.cause == nil {
		return []error{ErrValidation}
	}
	return []error{ErrValidation, e.cause}
}

//go:embed schemas/*.json
var schemaFiles embed.FS

const schemaBase = "https://medcite.local/schemas/"

var compiler = newCompiler()

func newCompiler() *jsonschema.Compiler {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	entries, err := fs.ReadDir(schemaFiles, "schemas")
	if err != nil {
		panic(fmt.Sprintf("contract: read schemas: %v", err))
	}
	for _, e := range entries {
		b, err := schemaFiles.ReadFile(path.Join("schemas", e.Name()))
		if err != nil {
			panic(fmt.Sprintf("contract: read %s: %v", e.Name(), err))
		}
		if err := c.AddResource(schemaBase+e.Name(), bytes.NewReader(b)); err != nil {
			panic(fmt.Sprintf("contract: add schema %s: %v", e.Name(), err))
		}
	}
	return c
}

// Schema is a compiled JSON Schema document from schemas/.
type Schema struct {
	Name     string
	compiled *jsonschema.Schema
}

func mustSchema(name string) *Schema {
	s, err := compiler.Compile(schemaBase + name)
	if err != nil {
		panic(fmt.Sprintf("contract: compile %s: %v", name, err))
	}
	return &Schema{Name: name, compiled: s}
}

// Validate decodes data and checks it against the schema. Unknown object keys
// are ignored.
func (s *Schema) Validate(data []byte) error {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return &ValidationError{Reason: "body is not valid JSON"}
	}
	if err := s.compiled.Validate(doc); err != nil {
		return fromSchemaError(err)
	}
	return nil
}

func fromSchemaError(err error) error {
	var se *jsonschema.ValidationError
	if !errors.As(err, &se) {
		return &ValidationError{Reason: err.Error(), cause: err}
	}
	leaf := se
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}
	return &ValidationError{
		Field:  fieldPath(leaf.InstanceLocation),
		Reason: leaf.Message,
		cause:  se,
	}
}

// fieldPath turns a JSON pointer such as /0/citations/1/page into
// [0].citations[1].page.
func fieldPath(pointer string) string {
	var b strings.Builder
	for _, seg := range strings.Split(strings.TrimPrefix(pointer, "/"), "/") {
		if seg == "" {
			continue
		}
		seg = strings.NewReplacer("~1", "/", "~0", "~").Replace(seg)
		if _, err := strconv.Atoi(seg); err == nil {
			b.WriteString("[" + seg + "]")
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(seg)
	}
	return b.String()
}
