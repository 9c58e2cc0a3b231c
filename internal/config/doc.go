// Package config loads and validates gatewarden configuration from YAML
// files, with ${VAR} environment-variable expansion and duration parsing.
package config
