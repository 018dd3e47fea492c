package blueberry

import (
	"strings"

	"github.com/GoCodeAlone/blueberry/extension"
)

// Branding describes the product the framework was started for.
type Branding interface {
	ID() string
	Name() string
	Application() string
	Description() string
	Property(key string) string
}

// Product is one product a ProductProvider offers.
type Product interface {
	Branding
}

// ProductProvider contributes products programmatically through a
// "provider" element of the products extension point.
type ProductProvider interface {
	Products() []Product
}

// productBranding reads a "product" element:
//
//	product application="org.example.app" name="Example" description="..."
//	  property name="aboutText" value="..."
type productBranding struct {
	id      string
	element *extension.ConfigurationElement
}

func (b *productBranding) ID() string          { return b.id }
func (b *productBranding) Name() string        { return b.element.Attribute("name") }
func (b *productBranding) Application() string { return b.element.Attribute("application") }
func (b *productBranding) Description() string { return b.element.Attribute("description") }

func (b *productBranding) Property(key string) string {
	for _, p := range b.element.ChildrenNamed("property") {
		if p.Attribute("name") == key {
			return p.Attribute("value")
		}
	}
	return ""
}

// StaticProduct is a Product held in memory.
type StaticProduct struct {
	ProductID          string
	ProductName        string
	ProductApplication string
	ProductDescription string
	Properties         map[string]string
}

func (p *StaticProduct) ID() string                 { return p.ProductID }
func (p *StaticProduct) Name() string               { return p.ProductName }
func (p *StaticProduct) Application() string        { return p.ProductApplication }
func (p *StaticProduct) Description() string        { return p.ProductDescription }
func (p *StaticProduct) Property(key string) string { return p.Properties[key] }

// Branding returns the branding of the product named by blueberry.product,
// or nil. The product is looked up as an extension of the products point
// and then among the products of every declared provider. A found branding
// is cached until Stop; a missing product is reported once.
func (c *ApplicationContainer) Branding() Branding {
	c.defaultMu.Lock()
	cached := c.branding
	c.defaultMu.Unlock()
	if cached != nil {
		return cached
	}

	productID := c.props[PropProduct]
	if productID == "" {
		return nil
	}

	var found Branding
	for _, el := range c.extensions.ConfigurationElementsFor(PointProducts, productID) {
		if el.Name == "product" {
			found = &productBranding{id: productID, element: el}
			break
		}
	}
	if found == nil {
		found = c.providedBranding(productID)
	}

	c.defaultMu.Lock()
	defer c.defaultMu.Unlock()
	if found == nil {
		if !c.missingReport {
			c.missingReport = true
			c.logger.Warn("Product could not be found", "product", productID)
		}
		return nil
	}
	c.branding = found
	return found
}

func (c *ApplicationContainer) providedBranding(productID string) Branding {
	for _, el := range c.extensions.ConfigurationElementsFor(PointProducts) {
		if el.Name != "provider" {
			continue
		}
		obj, err := el.CreateExecutableExtension("run")
		if err != nil {
			c.logger.Warn("Unable to create product provider", "element", el.String(), "error", err)
			continue
		}
		provider, ok := obj.(ProductProvider)
		if !ok {
			continue
		}
		for _, p := range provider.Products() {
			if p != nil && strings.EqualFold(p.ID(), productID) {
				return p
			}
		}
	}
	return nil
}
