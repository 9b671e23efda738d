// Package config embeds the default host configuration.
package config

import _ "embed"

//go:embed conf.yaml
var Default []byte
