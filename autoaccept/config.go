package autoaccept

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Config is the invite policy. It is immutable once parsed.
type Config struct {
	AcceptOnlyDirectMessages        bool   `json:"accept_invites_only_for_direct_messages"`
	AcceptOnlyFromLocalUsers        bool   `json:"accept_invites_only_from_local_users"`
	AcceptOnlyFromPreviouslyKnocked bool   `json:"accept_invites_only_from_previously_knocked_rooms"`
	WorkerToRunOn                   string `json:"worker_to_run_on"`
}

const configSchema = `{
	"type": "object",
	"properties": {
		"accept_invites_only_for_direct_messages": {"type": ["boolean", "null"]},
		"accept_invites_only_from_local_users": {"type": ["boolean", "null"]},
		"accept_invites_only_from_previously_knocked_rooms": {"type": ["boolean", "null"]},
		"worker_to_run_on": {"type": ["string", "null"]}
	}
}`

var configValidator = mustCompileSchema("autoaccept-config.json", configSchema)

func mustCompileSchema(name, schema string) *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schema))
	if err != nil {
		panic(err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, doc); err != nil {
		panic(err)
	}

	return c.MustCompile(name)
}

// ParseConfig builds a Config from the raw key/value section of the daemon
// configuration. Missing or null keys keep their zero value and unknown keys
// are ignored. A known key holding a value of the wrong type is an error.
func ParseConfig(raw map[string]interface{}) (Config, error) {
	var cfg Config

	if len(raw) == 0 {
		return cfg, nil
	}

	// round-trip through JSON so the validator and the decoder see the same
	// plain JSON types whatever the config file format was.
	data, err := json.Marshal(raw)
	if err != nil {
		return cfg, fmt.Errorf("autoaccept config: %w", err)
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(data)))
	if err != nil {
		return cfg, fmt.Errorf("autoaccept config: %w", err)
	}

	if err := configValidator.Validate(doc); err != nil {
		return cfg, fmt.Errorf("autoaccept config: %w", err)
	}

	var plain map[string]interface{}
	if err := json.Unmarshal(data, &plain); err != nil {
		return cfg, fmt.Errorf("autoaccept config: %w", err)
	}

	for k, v := range plain {
		if v == nil {
			delete(plain, k)
		}
	}

	if err := decode(plain, &cfg); err != nil {
		return cfg, fmt.Errorf("autoaccept config: %w", err)
	}

	return cfg, nil
}

func decode(input interface{}, output interface{}) error {
	config := &mapstructure.DecoderConfig{
		Metadata: nil,
		Result:   output,
		TagName:  "json",
	}

	decoder, err := mapstructure.NewDecoder(config)
	if err != nil {
		return err
	}

	return decoder.Decode(input)
}
