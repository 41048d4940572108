// Package config loads runtime configuration with koanf. Sources are
// layered: embedded defaults, an optional YAML or JSON file, an optional
// dotenv file, NEXUS_ environment variables and finally explicit
// overrides.
package config
