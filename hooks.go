package ddbcache

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The accelerator calls them on hot paths.
type Hooks interface {
	// A cacheable lookup was answered from the provider.
	CacheHit(table string, kind OpKind)

	// A cacheable lookup missed and went to the backing store.
	CacheMiss(table string, kind OpKind)

	// A provider call failed; the operation proceeded as if the cache missed.
	// op ∈ {"get", "set", "del"}
	CacheFallback(op string, err error)

	// An entry was deleted by the accelerator on read.
	// reason ∈ {"corrupt", "expired", "decode"}
	SelfHeal(storageKey, reason string)

	// A fresh value was not written back.
	// reason ∈ {"oversized", "rejected", "encode", "unprocessed"}
	FillSkipped(table, reason string)

	// An operation touched a table with no known key schema and passed
	// through uncached.
	SchemaMiss(table string)

	// A read was answered "not found" by a delete tombstone.
	TombstoneServed(table string)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) CacheHit(string, OpKind)     {}
func (NopHooks) CacheMiss(string, OpKind)    {}
func (NopHooks) CacheFallback(string, error) {}
func (NopHooks) SelfHeal(string, string)     {}
func (NopHooks) FillSkipped(string, string)  {}
func (NopHooks) SchemaMiss(string)           {}
func (NopHooks) TombstoneServed(string)      {}
