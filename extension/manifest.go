package extension

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// ErrUnsupportedManifest is returned for manifest files that are neither YAML nor TOML.
var ErrUnsupportedManifest = errors.New("unsupported manifest format")

// Manifest is the on-disk declaration of one plugin's extensions.
//
//	plugin: org.example.demo
//	extensions:
//	  - point: org.blueberry.osgi.applications
//	    id: app
//	    name: Demo
//	    elements:
//	      - name: application
//	        attributes: {thread: any, cardinality: "*"}
//	        children:
//	          - name: run
//	            attributes: {class: demo.App}
type Manifest struct {
	Plugin     string              `yaml:"plugin" toml:"plugin"`
	Extensions []ManifestExtension `yaml:"extensions" toml:"extensions"`
}

// ManifestExtension declares one extension.
type ManifestExtension struct {
	Point    string            `yaml:"point" toml:"point"`
	ID       string            `yaml:"id" toml:"id"`
	Name     string            `yaml:"name" toml:"name"`
	Elements []ManifestElement `yaml:"elements" toml:"elements"`
}

// ManifestElement declares one configuration element.
type ManifestElement struct {
	Name       string            `yaml:"name" toml:"name"`
	Attributes map[string]string `yaml:"attributes" toml:"attributes"`
	Value      string            `yaml:"value" toml:"value"`
	Children   []ManifestElement `yaml:"children" toml:"children"`
}

// IsManifestFile reports whether path has a manifest extension.
func IsManifestFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".toml":
		return true
	}
	return false
}

// LoadManifest reads a YAML or TOML manifest, chosen by file extension.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	m, err := ParseManifest(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// ParseManifest decodes data in the given format ("yaml", "yml", "toml",
// with or without a leading dot).
func ParseManifest(data []byte, format string) (*Manifest, error) {
	var m Manifest
	switch strings.TrimPrefix(strings.ToLower(format), ".") {
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("failed to unmarshal yaml manifest: %w", err)
		}
	case "toml":
		if err := toml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("failed to unmarshal toml manifest: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedManifest, format)
	}
	return &m, nil
}

// Build converts the manifest into extensions. Simple ids are qualified with
// the plugin id; ids containing a dot are taken as already unique.
func (m *Manifest) Build() ([]*Extension, error) {
	exts := make([]*Extension, 0, len(m.Extensions))
	for i, me := range m.Extensions {
		if me.Point == "" || me.ID == "" {
			return nil, fmt.Errorf("%w: extension %d of %q needs point and id", ErrExtensionInvalid, i, m.Plugin)
		}
		uid := me.ID
		if !strings.Contains(uid, ".") && m.Plugin != "" {
			uid = m.Plugin + "." + uid
		}
		ext := &Extension{
			UniqueID:    uid,
			Label:       me.Name,
			PointID:     me.Point,
			Contributor: m.Plugin,
		}
		for _, el := range me.Elements {
			ext.Elements = append(ext.Elements, el.build())
		}
		exts = append(exts, ext)
	}
	return exts, nil
}

func (e ManifestElement) build() *ConfigurationElement {
	attrs := make(map[string]string, len(e.Attributes))
	for k, v := range e.Attributes {
		attrs[k] = v
	}
	el := &ConfigurationElement{Name: e.Name, Attributes: attrs, Value: e.Value}
	for _, child := range e.Children {
		el.Children = append(el.Children, child.build())
	}
	return el
}
