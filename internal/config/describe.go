package config

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Resolved is the configuration as the service will run it.
type Resolved struct {
	Settings Settings       `yaml:"settings"`
	Cameras  []CameraConfig `yaml:"cameras"`
}

// Describe writes the resolved configuration as YAML. Secrets are left out.
func Describe(w io.Writer, s Settings, cams []CameraConfig) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(Resolved{Settings: s, Cameras: cams}); err != nil {
		return fmt.Errorf("config: describe: %w", err)
	}
	return enc.Close()
}
