// ABOUTME: Catalog of actions the browser extension understands, with payload schemas.
// ABOUTME: Payloads are checked with gojsonschema before a command is posted.

package action

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Action names handled by the extension.
const (
	GetTabs        = "getTabs"
	CloseTabs      = "closeTabs"
	CreateGroup    = "createGroup"
	AddToGroup     = "addToGroup"
	PreviewChanges = "previewChanges"
	ApplyChanges   = "applyChanges"
)

// ErrUnknownAction is returned for an action the catalog does not list.
var ErrUnknownAction = errors.New("unknown action")

// ValidationError reports a payload that does not match its action's schema.
type ValidationError struct {
	Action  string
	Details []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid payload for %s: %s", e.Action, strings.Join(e.Details, "; "))
}

const tabIDs = `{"type": "array", "items": {"type": "integer"}, "minItems": 1}`

const groupColor = `{"enum": ["grey", "blue", "red", "yellow", "green", "pink", "purple", "cyan", "orange"]}`

var schemas = map[string]string{
	GetTabs: `{"type": "object"}`,
	CloseTabs: `{
		"type": "object",
		"properties": {"tabIds": ` + tabIDs + `},
		"required": ["tabIds"]
	}`,
	CreateGroup: `{
		"type": "object",
		"properties": {
			"name": {"type": "string"},
			"color": ` + groupColor + `,
			"tabIds": ` + tabIDs + `
		},
		"required": ["name", "tabIds"]
	}`,
	AddToGroup: `{
		"type": "object",
		"properties": {
			"groupId": {"type": "integer"},
			"tabIds": ` + tabIDs + `
		},
		"required": ["groupId", "tabIds"]
	}`,
	PreviewChanges: `{
		"type": "object",
		"properties": {
			"toClose": {"type": "array", "items": {"type": "integer"}},
			"groups": {
				"type": "object",
				"additionalProperties": {
					"type": "object",
					"properties": {
						"tabIds": {"type": "array", "items": {"type": "integer"}},
						"color": ` + groupColor + `
					},
					"required": ["tabIds"]
				}
			}
		}
	}`,
	ApplyChanges: `{"type": "object"}`,
}

// Catalog validates payloads against compiled schemas.
type Catalog struct {
	schemas map[string]*gojsonschema.Schema
}

// NewCatalog compiles the built-in schemas.
func NewCatalog() (*Catalog, error) {
	c := &Catalog{schemas: make(map[string]*gojsonschema.Schema, len(schemas))}
	for name, src := range schemas {
		s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
		if err != nil {
			return nil, fmt.Errorf("compiling schema for %s: %w", name, err)
		}
		c.schemas[name] = s
	}
	return c, nil
}

// MustCatalog is NewCatalog for package-level use; the schemas are constants.
func MustCatalog() *Catalog {
	c, err := NewCatalog()
	if err != nil {
		panic(err)
	}
	return c
}

// Names returns the known actions, sorted.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.schemas))
	for name := range c.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks payload against the schema for action. An empty payload is
// treated as {}.
func (c *Catalog) Validate(action string, payload json.RawMessage) error {
	schema, ok := c.schemas[action]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	if len(payload) == 0 || string(payload) == "null" {
		payload = json.RawMessage(`{}`)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return &ValidationError{Action: action, Details: []string{err.Error()}}
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}
		return &ValidationError{Action: action, Details: details}
	}
	return nil
}
