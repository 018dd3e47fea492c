package feeders

import (
	"gopkg.in/yaml.v3"
)

// YamlFeeder is a feeder that reads YAML files
type YamlFeeder struct {
	verbose
	Path string
}

// NewYamlFeeder creates a new YamlFeeder that reads from the specified YAML file
func NewYamlFeeder(filePath string) *YamlFeeder {
	return &YamlFeeder{Path: filePath}
}

// Feed decodes the YAML file into target.
func (y *YamlFeeder) Feed(target any) error {
	y.debug("YamlFeeder: Starting feed process", "filePath", y.Path)
	err := fileFeed(y.Path, "YAML", target, yaml.Unmarshal)
	y.debug("YamlFeeder: Feed completed", "filePath", y.Path, "error", err)
	return err
}

// FeedKey reads a YAML file and extracts a specific key
func (y *YamlFeeder) FeedKey(key string, target any) error {
	return feedKey(y, key, target, yaml.Marshal, yaml.Unmarshal, "YAML file")
}
