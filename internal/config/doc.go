// Package config loads the sablod daemon configuration from sablo.json.
package config
