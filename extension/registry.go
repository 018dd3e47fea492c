// Package extension provides the extension registry applications and
// products are declared in. Extensions are contributed to named extension
// points, either programmatically or from plugin manifests on disk.
package extension

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Static errors for extension package
var (
	ErrDuplicateExtension = errors.New("extension already registered")
	ErrExtensionInvalid   = errors.New("extension is invalid")
	ErrFactoryNotFound    = errors.New("no factory registered for class")
	ErrClassNotDeclared   = errors.New("configuration element does not declare a class")
)

// Factory creates the executable object for a class name.
type Factory func() (any, error)

// Listener is notified when extensions are contributed to, or withdrawn
// from, the extension point it was registered for.
type Listener interface {
	Added(extensions []*Extension)
	Removed(extensions []*Extension)
}

type listenerEntry struct {
	listener Listener
	pointID  string
}

// Registry holds extension points, their extensions, and the factories used
// to instantiate executable extensions.
type Registry struct {
	mu         sync.RWMutex
	points     map[string]*ExtensionPoint
	extensions map[string]map[string]*Extension
	order      map[string][]string
	factories  map[string]Factory

	listenerMu sync.RWMutex
	listeners  []listenerEntry
}

// NewRegistry creates an empty extension registry.
func NewRegistry() *Registry {
	return &Registry{
		points:     make(map[string]*ExtensionPoint),
		extensions: make(map[string]map[string]*Extension),
		order:      make(map[string][]string),
		factories:  make(map[string]Factory),
	}
}

// AddExtensionPoint declares an extension point. Declaring an existing
// point returns it unchanged.
func (r *Registry) AddExtensionPoint(id string) *ExtensionPoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pointLocked(id)
}

func (r *Registry) pointLocked(id string) *ExtensionPoint {
	if p, ok := r.points[id]; ok {
		return p
	}
	p := &ExtensionPoint{ID: id, registry: r}
	r.points[id] = p
	r.extensions[id] = make(map[string]*Extension)
	return p
}

// ExtensionPoint returns the declared point, or nil.
func (r *Registry) ExtensionPoint(id string) *ExtensionPoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.points[id]
}

// AddExtension contributes ext to its extension point, declaring the point
// if needed, and notifies the point's listeners.
func (r *Registry) AddExtension(ext *Extension) error {
	if ext == nil || ext.PointID == "" || ext.UniqueID == "" {
		return fmt.Errorf("%w: point and unique id are required", ErrExtensionInvalid)
	}

	r.mu.Lock()
	r.pointLocked(ext.PointID)
	if _, exists := r.extensions[ext.PointID][ext.UniqueID]; exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateExtension, ext.UniqueID)
	}
	ext.bind(r)
	r.extensions[ext.PointID][ext.UniqueID] = ext
	r.order[ext.PointID] = append(r.order[ext.PointID], ext.UniqueID)
	r.mu.Unlock()

	r.notify(ext.PointID, []*Extension{ext}, true)
	return nil
}

// RemoveExtension withdraws an extension and notifies the point's listeners.
func (r *Registry) RemoveExtension(pointID, uniqueID string) (*Extension, bool) {
	r.mu.Lock()
	ext, ok := r.extensions[pointID][uniqueID]
	if !ok {
		r.mu.Unlock()
		return nil, false
	}
	delete(r.extensions[pointID], uniqueID)
	ids := r.order[pointID]
	for i, id := range ids {
		if id == uniqueID {
			r.order[pointID] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	r.notify(pointID, []*Extension{ext}, false)
	return ext, true
}

// Extension returns one extension of a point, or nil.
func (r *Registry) Extension(pointID, uniqueID string) *Extension {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.extensions[pointID][uniqueID]
}

// Extensions returns a point's extensions in contribution order.
func (r *Registry) Extensions(pointID string) []*Extension {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.order[pointID]
	out := make([]*Extension, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.extensions[pointID][id])
	}
	return out
}

// ConfigurationElementsFor returns the top-level elements of every extension
// of a point, or of the single extension named by uniqueID when given.
func (r *Registry) ConfigurationElementsFor(pointID string, uniqueID ...string) []*ConfigurationElement {
	var exts []*Extension
	if len(uniqueID) > 0 && uniqueID[0] != "" {
		if ext := r.Extension(pointID, uniqueID[0]); ext != nil {
			exts = append(exts, ext)
		}
	} else {
		exts = r.Extensions(pointID)
	}
	var out []*ConfigurationElement
	for _, ext := range exts {
		out = append(out, ext.Elements...)
	}
	return out
}

// RegisterFactory binds a class name to a factory. Later registrations
// replace earlier ones.
func (r *Registry) RegisterFactory(class string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[class] = f
}

// Classes returns the registered class names, sorted.
func (r *Registry) Classes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for c := range r.factories {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// CreateExecutable instantiates class through its factory.
func (r *Registry) CreateExecutable(class string) (any, error) {
	r.mu.RLock()
	f, ok := r.factories[class]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFactoryNotFound, class)
	}
	return f()
}

// AddListener registers l for changes to pointID.
func (r *Registry) AddListener(l Listener, pointID string) {
	r.listenerMu.Lock()
	defer r.listenerMu.Unlock()
	r.listeners = append(r.listeners, listenerEntry{listener: l, pointID: pointID})
}

// RemoveListener removes every registration of l.
func (r *Registry) RemoveListener(l Listener) {
	r.listenerMu.Lock()
	defer r.listenerMu.Unlock()
	kept := r.listeners[:0]
	for _, e := range r.listeners {
		if e.listener != l {
			kept = append(kept, e)
		}
	}
	r.listeners = kept
}

func (r *Registry) notify(pointID string, exts []*Extension, added bool) {
	r.listenerMu.RLock()
	targets := make([]Listener, 0, len(r.listeners))
	for _, e := range r.listeners {
		if e.pointID == pointID {
			targets = append(targets, e.listener)
		}
	}
	r.listenerMu.RUnlock()

	for _, l := range targets {
		if added {
			l.Added(exts)
		} else {
			l.Removed(exts)
		}
	}
}

// ExtensionPoint is a named slot extensions are contributed to.
type ExtensionPoint struct {
	ID       string
	registry *Registry
}

// Extensions returns the point's extensions in contribution order.
func (p *ExtensionPoint) Extensions() []*Extension {
	return p.registry.Extensions(p.ID)
}

// Extension returns one of the point's extensions, or nil.
func (p *ExtensionPoint) Extension(uniqueID string) *Extension {
	return p.registry.Extension(p.ID, uniqueID)
}

// Extension is one contribution to an extension point.
type Extension struct {
	UniqueID    string
	Label       string
	PointID     string
	Contributor string
	Elements    []*ConfigurationElement

	registry *Registry
}

func (e *Extension) bind(r *Registry) {
	e.registry = r
	for _, el := range e.Elements {
		el.bind(e, nil)
	}
}

// ConfigurationElement is one node of an extension's declared configuration.
type ConfigurationElement struct {
	Name       string
	Attributes map[string]string
	Value      string
	Children   []*ConfigurationElement

	extension *Extension
	parent    *ConfigurationElement
}

func (c *ConfigurationElement) bind(ext *Extension, parent *ConfigurationElement) {
	c.extension = ext
	c.parent = parent
	for _, child := range c.Children {
		child.bind(ext, c)
	}
}

// Attribute returns the named attribute, or "" when absent.
func (c *ConfigurationElement) Attribute(name string) string {
	return c.Attributes[name]
}

// ChildrenNamed returns the direct children with the given element name.
func (c *ConfigurationElement) ChildrenNamed(name string) []*ConfigurationElement {
	var out []*ConfigurationElement
	for _, child := range c.Children {
		if child.Name == name {
			out = append(out, child)
		}
	}
	return out
}

// Extension returns the extension this element belongs to.
func (c *ConfigurationElement) Extension() *Extension { return c.extension }

// Parent returns the enclosing element, or nil for top-level elements.
func (c *ConfigurationElement) Parent() *ConfigurationElement { return c.parent }

func (c *ConfigurationElement) String() string {
	if c.extension != nil {
		return fmt.Sprintf("%s[%s]", c.Name, c.extension.UniqueID)
	}
	return c.Name
}

// CreateExecutableExtension instantiates the class named by attr: either an
// attribute of this element, or the "class" attribute of a child element
// called attr (as in <application><run class="..."/></application>).
func (c *ConfigurationElement) CreateExecutableExtension(attr string) (any, error) {
	class := c.Attribute(attr)
	if class == "" {
		for _, child := range c.ChildrenNamed(attr) {
			if cls := child.Attribute("class"); cls != "" {
				class = cls
				break
			}
		}
	}
	if class == "" {
		return nil, fmt.Errorf("%w: %s in %s", ErrClassNotDeclared, attr, c)
	}
	if c.extension == nil || c.extension.registry == nil {
		return nil, fmt.Errorf("%w: %s is not registered", ErrExtensionInvalid, c)
	}
	return c.extension.registry.CreateExecutable(class)
}
