// Package config loads the feedsync YAML configuration.
//
// ${VAR} references are expanded from the environment before parsing. Optional
// fields get defaults (see defaults.go) and the result is validated before the
// service starts.
package config
