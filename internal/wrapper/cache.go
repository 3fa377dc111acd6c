package wrapper

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache memoizes Render per pathname in a bounded LRU.
type Cache struct {
	modules *lru.Cache[string, string]
}

// NewCache returns a cache holding at most size generated modules.
func NewCache(size int) (*Cache, error) {
	modules, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("creating wrapper cache: %w", err)
	}

	return &Cache{modules: modules}, nil
}

// Render returns the wrapper module for pathname, generating it on a miss.
func (c *Cache) Render(pathname string) string {
	if src, ok := c.modules.Get(pathname); ok {
		return src
	}

	src := Render(pathname)
	c.modules.Add(pathname, src)

	return src
}

// Len reports the number of cached modules.
func (c *Cache) Len() int {
	return c.modules.Len()
}
