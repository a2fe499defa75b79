package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rabuchanan2077/parking-lot-video/internal/projection"
)

// DefaultPath is the properties file read when none is given.
const DefaultPath = "VideoMapper.properties"

// EnvPrefix prefixes environment overrides: VIDEOMAPPER_PREVIEW_ADDRESS
// overrides preview.address.
const EnvPrefix = "VIDEOMAPPER"

// Properties is a flat key/value view of the configuration.
type Properties interface {
	Get(key string) (string, bool)
}

// MapProperties is an in-memory Properties.
type MapProperties map[string]string

func (m MapProperties) Get(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

type viperProperties struct {
	v *viper.Viper
}

func (p viperProperties) Get(key string) (string, bool) {
	if !p.v.IsSet(key) {
		return "", false
	}
	return p.v.GetString(key), true
}

// Load reads a Java-style .properties file. Keys are case-insensitive and
// can be overridden from the environment.
func Load(path string) (Properties, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("properties")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return viperProperties{v: v}, nil
}

func getString(p Properties, key, def string) string {
	if v, ok := p.Get(key); ok {
		return strings.TrimSpace(v)
	}
	return def
}

func getFloat(p Properties, key string, def float64) (float64, error) {
	v, ok := p.Get(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

func getInt(p Properties, key string, def int) (int, error) {
	v, ok := p.Get(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getBool(p Properties, key string, def bool) (bool, error) {
	v, ok := p.Get(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

// getDuration accepts Go durations ("250ms", "2s") or bare milliseconds.
func getDuration(p Properties, key string, def time.Duration) (time.Duration, error) {
	v, ok := p.Get(key)
	v = strings.TrimSpace(v)
	if !ok || v == "" {
		return def, nil
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

// scopedParams exposes "<region>.<key>" as projector parameters.
type scopedParams struct {
	p      Properties
	prefix string
}

func (s scopedParams) Float(key string, def float64) (float64, error) {
	f, err := getFloat(s.p, s.prefix+key, def)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", projection.ErrInvalidParameter, err)
	}
	return f, nil
}
