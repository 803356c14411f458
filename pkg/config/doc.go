// Package config loads the YAML file that drives a costeer binary (spec.md
// §1: CLI/config parsing is an external collaborator; the core only
// depends on the resulting struct). It applies a small set of environment
// overrides on top of the file so containerized deployments don't need a
// config file at all.
package config
