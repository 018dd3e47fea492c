package extension

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingListener struct {
	added   []string
	removed []string
}

func (l *recordingListener) Added(exts []*Extension) {
	for _, e := range exts {
		l.added = append(l.added, e.UniqueID)
	}
}

func (l *recordingListener) Removed(exts []*Extension) {
	for _, e := range exts {
		l.removed = append(l.removed, e.UniqueID)
	}
}

func appExtension(id, class string) *Extension {
	return &Extension{
		UniqueID: id,
		Label:    id,
		PointID:  "test.point",
		Elements: []*ConfigurationElement{{
			Name:       "application",
			Attributes: map[string]string{"thread": "any"},
			Children: []*ConfigurationElement{
				{Name: "run", Attributes: map[string]string{"class": class}},
				{Name: "parameter", Attributes: map[string]string{"name": "x"}},
			},
		}},
	}
}

func TestRegistry_ExtensionsAndListeners(t *testing.T) {
	r := NewRegistry()
	point := r.AddExtensionPoint("test.point")
	assert.Same(t, point, r.AddExtensionPoint("test.point"))
	assert.Same(t, point, r.ExtensionPoint("test.point"))
	assert.Nil(t, r.ExtensionPoint("nope"))

	l := &recordingListener{}
	other := &recordingListener{}
	r.AddListener(l, "test.point")
	r.AddListener(other, "other.point")

	require.NoError(t, r.AddExtension(appExtension("b", "B")))
	require.NoError(t, r.AddExtension(appExtension("a", "A")))
	assert.ErrorIs(t, r.AddExtension(appExtension("a", "A")), ErrDuplicateExtension)
	assert.ErrorIs(t, r.AddExtension(&Extension{UniqueID: "x"}), ErrExtensionInvalid)
	assert.ErrorIs(t, r.AddExtension(nil), ErrExtensionInvalid)

	ids := []string{}
	for _, e := range point.Extensions() {
		ids = append(ids, e.UniqueID)
	}
	assert.Equal(t, []string{"b", "a"}, ids, "contribution order is kept")
	assert.Equal(t, "a", point.Extension("a").UniqueID)
	assert.Len(t, r.ConfigurationElementsFor("test.point"), 2)
	assert.Len(t, r.ConfigurationElementsFor("test.point", "a"), 1)
	assert.Empty(t, r.ConfigurationElementsFor("test.point", "missing"))

	ext, ok := r.RemoveExtension("test.point", "b")
	require.True(t, ok)
	assert.Equal(t, "b", ext.UniqueID)
	_, ok = r.RemoveExtension("test.point", "b")
	assert.False(t, ok)

	r.RemoveListener(l)
	require.NoError(t, r.AddExtension(appExtension("c", "C")))

	assert.Equal(t, []string{"b", "a"}, l.added)
	assert.Equal(t, []string{"b"}, l.removed)
	assert.Empty(t, other.added)
}

func TestRegistry_AddExtensionDeclaresPoint(t *testing.T) {
	r := NewRegistry()
	ext := appExtension("a", "A")
	ext.PointID = "implicit.point"
	require.NoError(t, r.AddExtension(ext))
	require.NotNil(t, r.ExtensionPoint("implicit.point"))
}

func TestConfigurationElement_CreateExecutableExtension(t *testing.T) {
	r := NewRegistry()
	boom := errors.New("boom")
	r.RegisterFactory("A", func() (any, error) { return "instance of A", nil })
	r.RegisterFactory("Broken", func() (any, error) { return nil, boom })
	assert.Equal(t, []string{"A", "Broken"}, r.Classes())

	require.NoError(t, r.AddExtension(appExtension("a", "A")))
	require.NoError(t, r.AddExtension(appExtension("broken", "Broken")))
	require.NoError(t, r.AddExtension(appExtension("missing", "Missing")))

	el := r.Extension("test.point", "a").Elements[0]
	obj, err := el.CreateExecutableExtension("run")
	require.NoError(t, err)
	assert.Equal(t, "instance of A", obj)
	assert.Equal(t, "application[a]", el.String())
	assert.Equal(t, "a", el.Extension().UniqueID)
	assert.Nil(t, el.Parent())
	assert.Same(t, el, el.ChildrenNamed("run")[0].Parent())
	assert.Equal(t, "any", el.Attribute("thread"))

	_, err = el.CreateExecutableExtension("nothing")
	assert.ErrorIs(t, err, ErrClassNotDeclared)

	_, err = r.Extension("test.point", "broken").Elements[0].CreateExecutableExtension("run")
	assert.ErrorIs(t, err, boom)

	_, err = r.Extension("test.point", "missing").Elements[0].CreateExecutableExtension("run")
	assert.ErrorIs(t, err, ErrFactoryNotFound)

	direct := &ConfigurationElement{Name: "provider", Attributes: map[string]string{"class": "A"}}
	_, err = direct.CreateExecutableExtension("class")
	assert.ErrorIs(t, err, ErrExtensionInvalid, "unregistered elements cannot instantiate")
}
