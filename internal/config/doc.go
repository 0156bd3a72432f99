// Package config loads the service configuration from an optional YAML file
// and environment variables.
package config
