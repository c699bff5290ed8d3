package expr

// Cache memoizes parsed expressions by source text for the duration of a cycle, so a
// VM's requirement is parsed once rather than once per host. Parse errors are cached too.
// A Cache is not safe for concurrent use.
type Cache struct {
	entries map[string]cacheEntry
}

type cacheEntry struct {
	expr *Expr
	err  error
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]cacheEntry)}
}

// Parse returns the parsed expression for src, parsing it on first use.
func (c *Cache) Parse(src string) (*Expr, error) {
	if e, ok := c.entries[src]; ok {
		return e.expr, e.err
	}
	e, err := Parse(src)
	c.entries[src] = cacheEntry{expr: e, err: err}
	return e, err
}

// Len returns the number of cached sources.
func (c *Cache) Len() int {
	return len(c.entries)
}
