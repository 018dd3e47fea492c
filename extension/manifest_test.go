package extension

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const yamlManifest = `
plugin: org.example.demo
extensions:
  - point: org.blueberry.osgi.applications
    id: app
    name: Demo
    elements:
      - name: application
        attributes: {thread: any, cardinality: "*"}
        children:
          - name: run
            attributes: {class: demo.App}
  - point: org.blueberry.core.runtime.products
    id: org.example.product
    elements:
      - name: product
        attributes: {application: org.example.demo.app, name: Demo Product}
        children:
          - name: property
            attributes: {name: aboutText, value: Hello}
`

const tomlManifest = `
plugin = "org.example.demo"

[[extensions]]
point = "org.blueberry.osgi.applications"
id = "app"
name = "Demo"

[[extensions.elements]]
name = "application"
attributes = { thread = "any", cardinality = "*" }

[[extensions.elements.children]]
name = "run"
attributes = { class = "demo.App" }
`

func TestParseManifest(t *testing.T) {
	for _, tc := range []struct {
		format string
		data   string
	}{
		{"yaml", yamlManifest},
		{".yml", yamlManifest},
		{"toml", tomlManifest},
	} {
		t.Run(tc.format, func(t *testing.T) {
			m, err := ParseManifest([]byte(tc.data), tc.format)
			require.NoError(t, err)
			assert.Equal(t, "org.example.demo", m.Plugin)

			exts, err := m.Build()
			require.NoError(t, err)
			app := exts[0]
			assert.Equal(t, "org.example.demo.app", app.UniqueID)
			assert.Equal(t, "Demo", app.Label)
			assert.Equal(t, "org.example.demo", app.Contributor)
			require.Len(t, app.Elements, 1)
			assert.Equal(t, "any", app.Elements[0].Attribute("thread"))
			assert.Equal(t, "demo.App", app.Elements[0].ChildrenNamed("run")[0].Attribute("class"))
		})
	}

	m, err := ParseManifest([]byte(yamlManifest), "yaml")
	require.NoError(t, err)
	exts, err := m.Build()
	require.NoError(t, err)
	require.Len(t, exts, 2)
	assert.Equal(t, "org.example.product", exts[1].UniqueID, "qualified ids are kept")
}

func TestParseManifest_Errors(t *testing.T) {
	_, err := ParseManifest([]byte("x"), "ini")
	assert.ErrorIs(t, err, ErrUnsupportedManifest)

	_, err = ParseManifest([]byte("plugin: [unclosed"), "yaml")
	assert.Error(t, err)

	_, err = ParseManifest([]byte("plugin = "), "toml")
	assert.Error(t, err)

	m := &Manifest{Plugin: "p", Extensions: []ManifestExtension{{ID: "no-point"}}}
	_, err = m.Build()
	assert.ErrorIs(t, err, ErrExtensionInvalid)
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "demo.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlManifest), 0o600))

	m, err := LoadManifest(path)
	require.NoError(t, err)
	assert.Len(t, m.Extensions, 2)

	_, err = LoadManifest(filepath.Join(dir, "absent.yaml"))
	assert.Error(t, err)

	assert.True(t, IsManifestFile("a/b.YAML"))
	assert.True(t, IsManifestFile("b.toml"))
	assert.False(t, IsManifestFile("b.json"))
}
