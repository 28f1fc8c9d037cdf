package events

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

const (
	outcomeSchemaURL = "mem://schemas/outcome_record.json"
	runSchemaURL     = "mem://schemas/run_event.json"
)

const outcomeSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["agent", "horizon_hours", "realized_pnl_bps", "abs_error_bps", "ts"],
  "properties": {
    "agent": {"type": "string", "minLength": 1},
    "strategy_class": {"type": ["string", "null"]},
    "regime": {"type": ["string", "null"]},
    "horizon_hours": {"type": "integer", "minimum": 0},
    "realized_pnl_bps": {"type": "number"},
    "expected_pnl_bps": {"type": ["number", "null"]},
    "abs_error_bps": {"type": "number", "minimum": 0},
    "ts": {"type": "string", "format": "date-time"}
  }
}`

const runSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["agent", "ts"],
  "properties": {
    "agent": {"type": "string", "minLength": 1},
    "run_id": {"type": ["string", "null"]},
    "latency_ms": {"type": ["number", "null"], "minimum": 0},
    "errors": {"type": ["integer", "null"], "minimum": 0},
    "cost_usd": {"type": ["number", "null"]},
    "ts": {"type": "string", "format": "date-time"}
  }
}`

func compileSchema(url, source string) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true

	if err := compiler.AddResource(url, strings.NewReader(source)); err != nil {
		return nil, errors.Wrapf(err, "add schema resource %s", url)
	}

	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, errors.Wrapf(err, "compile schema %s", url)
	}

	return schema, nil
}

func validateAgainstSchema(schema *jsonschema.Schema, raw []byte) error {
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return errors.Wrap(err, "decode json")
	}
	return schema.Validate(payload)
}
