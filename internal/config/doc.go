// Package config loads process configuration with viper (file, TREASURY_*
// environment overrides and .env credentials) and the per-network contract
// tables from YAML.
package config
