package feeders

import (
	"encoding/json"
)

// JSONFeeder is a feeder that reads JSON files
type JSONFeeder struct {
	verbose
	Path string
}

// NewJSONFeeder creates a new JSONFeeder that reads from the specified JSON file
func NewJSONFeeder(filePath string) *JSONFeeder {
	return &JSONFeeder{Path: filePath}
}

// Feed decodes the JSON file into target.
func (j *JSONFeeder) Feed(target any) error {
	j.debug("JSONFeeder: Starting feed process", "filePath", j.Path)
	err := fileFeed(j.Path, "JSON", target, json.Unmarshal)
	j.debug("JSONFeeder: Feed completed", "filePath", j.Path, "error", err)
	return err
}

// FeedKey reads a JSON file and extracts a specific key
func (j *JSONFeeder) FeedKey(key string, target any) error {
	return feedKey(j, key, target, json.Marshal, json.Unmarshal, "JSON file")
}
