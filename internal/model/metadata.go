package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const metadataSchemaURL = "metadata.schema.json"

// Unknown keys are allowed so training pipelines can store extra fields.
const metadataSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "threshold": { "type": "number", "minimum": 0, "maximum": 1 }
  }
}`

var metadataValidator = jsonschema.MustCompileString(metadataSchemaURL, metadataSchema)

// DefaultMetadata returns the record used when no metadata file exists.
func DefaultMetadata() Metadata {
	return Metadata{Threshold: DefaultThreshold}
}

// LoadMetadata reads the metadata file at path. A missing file is not an
// error: found is false and the defaults are returned.
func LoadMetadata(path string) (meta Metadata, found bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return DefaultMetadata(), false, nil
		}
		return Metadata{}, false, fmt.Errorf("failed to read metadata: %w", err)
	}

	meta, err = ParseMetadata(data)
	if err != nil {
		return Metadata{}, true, err
	}
	return meta, true, nil
}

// ParseMetadata validates and decodes a metadata document.
func ParseMetadata(data []byte) (Metadata, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return Metadata{}, fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}
	if err := metadataValidator.Validate(doc); err != nil {
		return Metadata{}, fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}

	var raw struct {
		Threshold *float64 `json:"threshold"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Metadata{}, fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}

	meta := DefaultMetadata()
	if raw.Threshold != nil {
		meta.Threshold = *raw.Threshold
	}
	return meta, nil
}
