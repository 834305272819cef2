package remote

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// controlSchema is the contract for controller-written documents. The
// controller side is out of our hands; validating here keeps a malformed
// or truncated document from being applied as policy.
const controlSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["updated_at"],
  "properties": {
    "updated_at": {"type": "string", "format": "date-time"},
    "restrictions": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["app"],
        "properties": {
          "app": {"type": "string", "minLength": 1},
          "blocked": {"type": "boolean"}
        }
      }
    },
    "limits": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["app", "daily_limit_min"],
        "properties": {
          "app": {"type": "string", "minLength": 1},
          "daily_limit_min": {"type": "integer", "minimum": 0},
          "schedule": {
            "type": "object",
            "properties": {
              "start": {"type": "string", "pattern": "^[0-2][0-9]:[0-5][0-9]$"},
              "end": {"type": "string", "pattern": "^[0-2][0-9]:[0-5][0-9]$"}
            }
          }
        }
      }
    }
  }
}`

// ControlDocument is the controller's desired-restrictions list and
// usage-limit schedule, consumed read-only by the daemon.
type ControlDocument struct {
	UpdatedAt    time.Time     `json:"updated_at"`
	Restrictions []Restriction `json:"restrictions"`
	Limits       []UsageLimit  `json:"limits"`
}

// Restriction marks an app as blocked or unblocked.
type Restriction struct {
	App     string `json:"app"`
	Blocked bool   `json:"blocked"`
}

// UsageLimit caps an app's daily foreground time, optionally within a
// schedule window.
type UsageLimit struct {
	App           string         `json:"app"`
	DailyLimitMin int            `json:"daily_limit_min"`
	Schedule      *LimitSchedule `json:"schedule,omitempty"`
}

// LimitSchedule is a local-time window in HH:MM form.
type LimitSchedule struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

var (
	compiledControlSchema *jsonschema.Schema
	compileControlOnce    sync.Once
	compileControlErr     error
)

func controlSchemaCompiled() (*jsonschema.Schema, error) {
	compileControlOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		// Formats are annotation-only by default; assert them so the
		// date-time constraint on updated_at is actually enforced.
		compiler.AssertFormat = true
		if err := compiler.AddResource("controls.schema.json", strings.NewReader(controlSchema)); err != nil {
			compileControlErr = err
			return
		}
		compiledControlSchema, compileControlErr = compiler.Compile("controls.schema.json")
	})
	return compiledControlSchema, compileControlErr
}

// ParseControlDocument validates raw JSON against the control schema and
// decodes it.
func ParseControlDocument(raw []byte) (*ControlDocument, error) {
	schema, err := controlSchemaCompiled()
	if err != nil {
		return nil, fmt.Errorf("compile control schema: %w", err)
	}

	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return nil, fmt.Errorf("decode control document: %w", err)
	}
	if err := schema.Validate(instance); err != nil {
		return nil, fmt.Errorf("control document rejected: %w", err)
	}

	var doc ControlDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode control document: %w", err)
	}
	return &doc, nil
}
