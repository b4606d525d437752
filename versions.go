package sagastore

import "reflect"

// VersionCache remembers the version token of the last saga read per saga type.
//
// A cache belongs to exactly one unit of work and is not safe for concurrent use.
// Only one instance per saga type is tracked: loading a second saga of the same type
// replaces the version of the first one.
type VersionCache struct {
	versions map[reflect.Type]int64
}

// NewVersionCache returns an empty cache.
func NewVersionCache() *VersionCache {
	return &VersionCache{versions: make(map[reflect.Type]int64)}
}

// Store records version for sagaType, overwriting any previous value.
func (c *VersionCache) Store(sagaType reflect.Type, version int64) {
	if c.versions == nil {
		c.versions = make(map[reflect.Type]int64)
	}
	c.versions[sagaType] = version
}

// Lookup returns the cached version for sagaType.
func (c *VersionCache) Lookup(sagaType reflect.Type) (int64, bool) {
	version, ok := c.versions[sagaType]

	return version, ok
}

// Forget drops the cached version for sagaType.
func (c *VersionCache) Forget(sagaType reflect.Type) {
	delete(c.versions, sagaType)
}

// Len returns the number of cached saga types.
func (c *VersionCache) Len() int {
	return len(c.versions)
}
