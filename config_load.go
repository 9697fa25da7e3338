package lockguard

import (
	"fmt"
	"io"
	"os"

	"github.com/BurntSushi/toml"
)

// LoadConfigTOML reads a TOML file over DefaultConfig and validates the result.
// Keys absent from the file keep their defaults.
func LoadConfigTOML(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg, err := DecodeConfigTOML(f)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// DecodeConfigTOML is LoadConfigTOML for an already open reader. Unknown keys
// are rejected so a misspelled threshold does not silently fall back to its
// default.
func DecodeConfigTOML(r io.Reader) (Config, error) {
	cfg := DefaultConfig()
	md, err := toml.NewDecoder(r).Decode(&cfg)
	if err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("unknown config key %q", undecoded[0].String())
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
