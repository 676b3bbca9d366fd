package osql

// CacheType defines the type of cache to use.
type CacheType int

const (
	// InMemory represents an in-memory cache.
	InMemory CacheType = iota
	// Redis represents a Redis cache.
	Redis
)

// CacheFactory defines the function signature for creating a cache client.
type CacheFactory func() Cache

var globalCacheFactory CacheFactory
var cacheRegistry = make(map[CacheType]CacheFactory)

// RegisterCacheFactory registers a cache factory for a given type. Implementations
// self-register from their package init.
func RegisterCacheFactory(t CacheType, f CacheFactory) {
	cacheRegistry[t] = f
}

// SetCacheFactory selects the global cache factory based on the provided type.
func SetCacheFactory(t CacheType) {
	if f, ok := cacheRegistry[t]; ok {
		globalCacheFactory = f
	}
}

// NewCacheClient creates a new cache client using the selected factory.
// It returns nil if no factory is registered.
func NewCacheClient() Cache {
	if globalCacheFactory == nil {
		return nil
	}
	return globalCacheFactory()
}
