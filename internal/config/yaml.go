package config

import (
	"io"

	"gopkg.in/yaml.v2"
)

func decodeYAML(r io.Reader, cfg *Config) error {
	decoder := yaml.NewDecoder(r)
	return decoder.Decode(cfg)
}
