// Package config loads the daemon configuration.
//
// Configuration is a single YAML file applied on top of built-in defaults.
// Every field has a working default, so a missing file is not an error and
// a bare host runs the service with zero setup. A malformed file or an
// out-of-range value fails startup instead of limping along.
package config
