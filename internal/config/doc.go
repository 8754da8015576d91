// Package config loads the agent's YAML configuration.
//
// Values of the form ${VAR} are expanded from the environment before
// parsing, so credentials can stay out of the file.
package config
