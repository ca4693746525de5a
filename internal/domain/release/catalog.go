package release

import (
	"fmt"
	"strings"
)

// Catalog is an ordered, read-only set of release descriptors keyed by version.
type Catalog struct {
	order []string
	byKey map[string]*Descriptor
}

// NewCatalog builds a catalog from records in publication order.
// A record whose version is already known is a correction: its variants replace
// the earlier ones architecture by architecture (the latest checksum wins) and
// its release-level fields replace the earlier ones. The version keeps its
// first-seen position. Every merged descriptor is validated.
func NewCatalog(records ...*Descriptor) (*Catalog, error) {
	c := &Catalog{
		order: make([]string, 0, len(records)),
		byKey: make(map[string]*Descriptor, len(records)),
	}

	for _, record := range records {
		if record == nil {
			continue
		}

		key := strings.TrimSpace(record.Version)

		existing, ok := c.byKey[key]
		if !ok {
			d := record.clone()
			d.Version = key
			c.byKey[key] = d
			c.order = append(c.order, key)

			continue
		}

		correction := record.clone()
		for arch, target := range correction.Variants {
			existing.Variants[arch] = target
		}

		existing.Constraint = correction.Constraint
		existing.Deprecated = correction.Deprecated
		existing.Caveat = correction.Caveat
	}

	for _, key := range c.order {
		if err := c.byKey[key].Validate(); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// Lookup returns the descriptor for version, or the latest one when version is empty.
// The returned descriptor is a copy.
func (c *Catalog) Lookup(version string) (*Descriptor, error) {
	version = strings.TrimSpace(version)
	if version == "" {
		return c.Latest()
	}

	d, ok := c.byKey[version]
	if !ok {
		return nil, fmt.Errorf("version %s: %w", version, ErrNotFound)
	}

	return d.clone(), nil
}

// Latest returns the descriptor with the highest version precedence.
func (c *Catalog) Latest() (*Descriptor, error) {
	if len(c.order) == 0 {
		return nil, fmt.Errorf("empty catalog: %w", ErrNotFound)
	}

	best := c.order[0]
	for _, v := range c.order[1:] {
		if CompareVersions(v, best) > 0 {
			best = v
		}
	}

	return c.byKey[best].clone(), nil
}

// Versions returns the known versions in catalog order.
func (c *Catalog) Versions() []string {
	return append([]string(nil), c.order...)
}

// Descriptors returns copies of every descriptor in catalog order.
func (c *Catalog) Descriptors() []*Descriptor {
	out := make([]*Descriptor, 0, len(c.order))
	for _, v := range c.order {
		out = append(out, c.byKey[v].clone())
	}

	return out
}

// Len is the number of distinct versions.
func (c *Catalog) Len() int {
	return len(c.order)
}
