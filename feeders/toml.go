package feeders

import (
	"github.com/BurntSushi/toml"
)

// TomlFeeder is a feeder that reads TOML files
type TomlFeeder struct {
	verbose
	Path string
}

// NewTomlFeeder creates a new TomlFeeder that reads from the specified TOML file
func NewTomlFeeder(filePath string) *TomlFeeder {
	return &TomlFeeder{Path: filePath}
}

// Feed decodes the TOML file into target.
func (t *TomlFeeder) Feed(target any) error {
	t.debug("TomlFeeder: Starting feed process", "filePath", t.Path)
	err := fileFeed(t.Path, "TOML", target, toml.Unmarshal)
	t.debug("TomlFeeder: Feed completed", "filePath", t.Path, "error", err)
	return err
}

// FeedKey reads a TOML file and extracts a specific key
func (t *TomlFeeder) FeedKey(key string, target any) error {
	return feedKey(t, key, target, toml.Marshal, toml.Unmarshal, "TOML file")
}
