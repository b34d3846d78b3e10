package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

//go:embed schema/bridgeconfig.json
var bridgeConfigSchema []byte

const errorFormat = "  - %s"

// SchemaValidationError represents a validation error from JSON schema validation
type SchemaValidationError struct {
	Field       string
	Description string
	Value       interface{}
}

// Error implements the error interface
func (e SchemaValidationError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("%s: %s (value: %v)", e.Field, e.Description, e.Value)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Description)
}

// SchemaValidationResult contains the results of schema validation
type SchemaValidationResult struct {
	Valid  bool
	Errors []SchemaValidationError
}

// Schema returns the embedded BridgeConfig JSON schema.
func Schema() []byte {
	return append([]byte(nil), bridgeConfigSchema...)
}

// ValidateWithSchema validates YAML data against the embedded schema.
func ValidateWithSchema(yamlData []byte) (*SchemaValidationResult, error) {
	// Convert YAML to JSON for schema validation
	var data interface{}
	if err := yaml.Unmarshal(yamlData, &data); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if data == nil {
		data = map[string]interface{}{}
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to convert to JSON: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(bridgeConfigSchema),
		gojsonschema.NewBytesLoader(jsonData),
	)
	if err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	validationResult := &SchemaValidationResult{
		Valid:  result.Valid(),
		Errors: make([]SchemaValidationError, 0),
	}

	if !result.Valid() {
		for _, err := range result.Errors() {
			validationResult.Errors = append(validationResult.Errors, SchemaValidationError{
				Field:       err.Field(),
				Description: err.Description(),
				Value:       err.Value(),
			})
		}
	}

	return validationResult, nil
}

// ValidateBridgeConfig validates a BridgeConfig manifest against its schema
func ValidateBridgeConfig(yamlData []byte) error {
	result, err := ValidateWithSchema(yamlData)
	if err != nil {
		return err
	}

	if !result.Valid {
		var errorMessages []string
		for _, e := range result.Errors {
			errorMessages = append(errorMessages, fmt.Sprintf(errorFormat, e.Error()))
		}
		return fmt.Errorf("bridge configuration does not match schema:\n%s", strings.Join(errorMessages, "\n"))
	}

	return nil
}
