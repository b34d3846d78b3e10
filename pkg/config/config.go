// Package config provides configuration management for the voice bridge.
//
// A bridge is configured with a single K8s-style manifest of kind
// BridgeConfig. Loading runs in three steps:
//   - the YAML is checked against the embedded JSON schema
//   - it is decoded and defaults matching the reference deployment are applied
//   - semantic constraints are validated
//
// The package is organized into:
//   - types.go: manifest and section types
//   - defaults.go: built-in defaults
//   - loader.go: loading functions for config files
//   - schema_validator.go: embedded JSON schema validation
//   - validator.go: semantic validation
//   - runtime.go: conversion into runtime component configs
//   - logging.go: logging section
package config
