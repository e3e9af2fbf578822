package ports

// CacheStorePort persists key->value maps, one per key space. Load returns
// an empty map for a key space that was never saved.
type CacheStorePort interface {
	Load(keySpace string) (map[string]string, error)
	Save(keySpace string, entries map[string]string) error
}
