// Package config loads linktap configuration from YAML with ${VAR} expansion.
package config
