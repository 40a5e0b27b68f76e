package snapshot

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/abhisek/triplehelix/internal/spacedrep"
)

// schemaCache caches compiled JSON schemas by format version.
var schemaCache sync.Map // map[int]*jsonschema.Schema

// Marshal serializes a snapshot for storage.
func Marshal(s Snapshot) ([]byte, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return b, nil
}

// Unmarshal parses a stored snapshot of any known format version and
// returns it in the canonical form. Legacy snapshots are migrated. The
// result still has to go through Decode before it can be scheduled.
func Unmarshal(raw []byte) (Snapshot, error) {
	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Snapshot{}, &MalformedError{Reasons: []string{"invalid JSON"}, Err: err}
	}

	version, err := sniffVersion(parsed)
	if err != nil {
		return Snapshot{}, err
	}

	compiled, err := compiledSchema(version)
	if err != nil {
		return Snapshot{}, err
	}
	if err := compiled.Validate(parsed); err != nil {
		return Snapshot{}, &MalformedError{Reasons: []string{fmt.Sprintf("schema v%d", version)}, Err: err}
	}

	switch version {
	case LegacyFormatVersion:
		var old LegacySnapshot
		if err := json.Unmarshal(raw, &old); err != nil {
			return Snapshot{}, &MalformedError{Reasons: []string{"legacy layout"}, Err: err}
		}
		return MigrateLegacy(old)
	default:
		var s Snapshot
		if err := json.Unmarshal(raw, &s); err != nil {
			return Snapshot{}, &MalformedError{Reasons: []string{"layout"}, Err: err}
		}
		return s, nil
	}
}

// DecodeJSON is Unmarshal followed by Decode.
func DecodeJSON(raw []byte) (spacedrep.TubeSet, Snapshot, error) {
	s, err := Unmarshal(raw)
	if err != nil {
		return spacedrep.TubeSet{}, Snapshot{}, err
	}
	ts, err := Decode(s)
	if err != nil {
		return spacedrep.TubeSet{}, Snapshot{}, err
	}
	return ts, s, nil
}

func sniffVersion(parsed any) (int, error) {
	obj, ok := parsed.(map[string]any)
	if !ok {
		return 0, malformed("top level is not an object")
	}
	v, ok := obj["version"].(float64)
	if !ok {
		return 0, malformed("missing numeric version")
	}
	version := int(v)
	if float64(version) != v {
		return 0, malformed("version %v is not an integer", v)
	}
	if _, known := jsonSchemas[version]; !known {
		return 0, malformed("unsupported format version %d", version)
	}
	return version, nil
}

// compiledSchema returns a cached compiled schema or compiles and caches it.
func compiledSchema(version int) (*jsonschema.Schema, error) {
	if cached, ok := schemaCache.Load(version); ok {
		return cached.(*jsonschema.Schema), nil
	}

	// The compiler wants plain decoded JSON, so round-trip the Go literal.
	defBytes, err := json.Marshal(jsonSchemas[version])
	if err != nil {
		return nil, fmt.Errorf("marshal schema v%d: %w", version, err)
	}
	var defParsed any
	if err := json.Unmarshal(defBytes, &defParsed); err != nil {
		return nil, fmt.Errorf("parse schema v%d: %w", version, err)
	}

	c := jsonschema.NewCompiler()
	url := fmt.Sprintf("schema://snapshot-v%d.json", version)
	if err := c.AddResource(url, defParsed); err != nil {
		return nil, fmt.Errorf("add schema v%d: %w", version, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema v%d: %w", version, err)
	}

	schemaCache.Store(version, compiled)
	return compiled, nil
}
