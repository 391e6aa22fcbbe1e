package ddbcache

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/unkn0wn-root/ddbcache/codec"
	"github.com/unkn0wn-root/ddbcache/internal/keys"
	"github.com/unkn0wn-root/ddbcache/internal/wire"
)

type accel struct {
	ns       string
	client   DynamoAPI
	provider Provider
	codec    Codec
	log      Logger
	hooks    Hooks

	enabled bool

	ttl          time.Duration
	tombstoneTTL time.Duration
	maxItemBytes int

	schemas *schemaRegistry
}

func newAccel(opts Options) (*accel, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("ddbcache: client is required")
	}
	if opts.Provider == nil {
		return nil, fmt.Errorf("ddbcache: provider is required")
	}
	if opts.Namespace == "" {
		return nil, fmt.Errorf("ddbcache: namespace is required")
	}
	if opts.TTL <= 0 {
		return nil, fmt.Errorf("ddbcache: ttl is required")
	}

	a := &accel{
		ns:           opts.Namespace,
		client:       opts.Client,
		provider:     opts.Provider,
		enabled:      !opts.Disabled,
		ttl:          opts.TTL,
		maxItemBytes: opts.MaxItemBytes,
	}

	// defaults
	a.log = coalesce[Logger](opts.Logger, NopLogger{})
	a.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})

	if opts.Codec != nil {
		a.codec = opts.Codec
	} else {
		c, err := codec.NewCBOR(false)
		if err != nil {
			return nil, err
		}
		a.codec = c
	}

	// tombstones are cache writes too; they honor the same staleness bound
	a.tombstoneTTL = opts.TombstoneTTL
	if a.tombstoneTTL > a.ttl {
		a.tombstoneTTL = a.ttl
	}

	var describer SchemaDescriber
	if !opts.DisableDiscovery {
		describer, _ = opts.Client.(SchemaDescriber)
	}
	reg, err := newSchemaRegistry(opts.Tables, describer, a.log)
	if err != nil {
		return nil, err
	}
	a.schemas = reg

	return a, nil
}

func (a *accel) Enabled() bool { return a.enabled }

// Close releases the cache provider. The DynamoDB client is not owned by the
// accelerator and stays open.
func (a *accel) Close(ctx context.Context) error {
	if a.provider != nil {
		return a.provider.Close(ctx)
	}
	return nil
}

// ==============================
// point operations
// ==============================

func (a *accel) GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if !a.enabled || in == nil || !cacheableGet(in) {
		return a.client.GetItem(ctx, in, optFns...)
	}
	s, table, ok, err := a.schemaFor(ctx, in.TableName)
	if err != nil {
		return nil, err
	}
	if !ok {
		return a.client.GetItem(ctx, in, optFns...)
	}
	key, err := a.deriveKey(s, in.Key)
	if err != nil {
		return nil, err
	}

	pol := policyFor(KindPointRead)
	if pol.readCache {
		if item, tombstone, found := a.readEntry(ctx, key); found {
			a.hooks.CacheHit(table, KindPointRead)
			if tombstone {
				a.hooks.TombstoneServed(table)
				return &dynamodb.GetItemOutput{}, nil
			}
			return &dynamodb.GetItemOutput{Item: item}, nil
		}
		a.hooks.CacheMiss(table, KindPointRead)
	}

	out, err := a.client.GetItem(ctx, in, optFns...)
	if err != nil {
		return nil, a.storeErr("GetItem", err)
	}
	// absent items are not cached: no negative caching on the read path
	if pol.fill && len(out.Item) > 0 {
		a.fillItem(ctx, table, key, out.Item)
	}
	return out, nil
}

func (a *accel) PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if !a.enabled || in == nil {
		return a.client.PutItem(ctx, in, optFns...)
	}
	s, table, ok, err := a.schemaFor(ctx, in.TableName)
	if err != nil {
		return nil, err
	}
	if !ok {
		return a.client.PutItem(ctx, in, optFns...)
	}

	kind := Classify(in) // point or conditional write
	key, err := a.deriveKey(s, in.Item)
	if err != nil {
		return nil, err
	}
	// encode before the network call: key and codec faults are caller bugs
	// and must not reach the store
	payload, err := a.codec.Encode(in.Item)
	if err != nil {
		return nil, fmt.Errorf("ddbcache: encode item for table %q: %w", table, err)
	}

	out, err := a.client.PutItem(ctx, in, optFns...)
	if err != nil {
		// failed conditions and store errors leave the cache untouched
		return nil, a.storeErr("PutItem", err)
	}
	if pol := policyFor(kind); pol.refresh {
		a.fill(ctx, table, key, payload)
	}
	return out, nil
}

func (a *accel) UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	if !a.enabled || in == nil {
		return a.client.UpdateItem(ctx, in, optFns...)
	}
	s, table, ok, err := a.schemaFor(ctx, in.TableName)
	if err != nil {
		return nil, err
	}
	if !ok {
		return a.client.UpdateItem(ctx, in, optFns...)
	}
	key, err := a.deriveKey(s, in.Key)
	if err != nil {
		return nil, err
	}

	// ReturnValues NONE upgrades to ALL_NEW so the post-image can be cached;
	// the response is stripped back before returning to the caller.
	callIn := in
	upgraded := false
	if in.ReturnValues == "" || in.ReturnValues == types.ReturnValueNone {
		cp := *in
		cp.ReturnValues = types.ReturnValueAllNew
		callIn = &cp
		upgraded = true
	}

	out, err := a.client.UpdateItem(ctx, callIn, optFns...)
	if err != nil {
		return nil, a.storeErr("UpdateItem", err)
	}

	if pol := policyFor(KindConditionalWrite); pol.refresh {
		switch {
		case upgraded:
			a.refreshFromAttributes(ctx, table, key, out.Attributes)
			out.Attributes = nil
		case in.ReturnValues == types.ReturnValueAllNew:
			a.refreshFromAttributes(ctx, table, key, out.Attributes)
		default:
			// ALL_OLD / UPDATED_*: the post-image is unknown, drop the entry
			a.invalidate(ctx, key)
		}
	}
	return out, nil
}

func (a *accel) DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	if !a.enabled || in == nil {
		return a.client.DeleteItem(ctx, in, optFns...)
	}
	s, table, ok, err := a.schemaFor(ctx, in.TableName)
	if err != nil {
		return nil, err
	}
	if !ok {
		return a.client.DeleteItem(ctx, in, optFns...)
	}
	key, err := a.deriveKey(s, in.Key)
	if err != nil {
		return nil, err
	}

	out, err := a.client.DeleteItem(ctx, in, optFns...)
	if err != nil {
		return nil, a.storeErr("DeleteItem", err)
	}
	if pol := policyFor(KindDelete); pol.invalidate {
		a.noteDeleted(ctx, table, key)
	}
	return out, nil
}

// Query always reaches the backing store: range results are never cached,
// and never touch cached point state.
func (a *accel) Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	return a.client.Query(ctx, in, optFns...)
}

// Scan always reaches the backing store, same as Query.
func (a *accel) Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	return a.client.Scan(ctx, in, optFns...)
}

// ==============================
// shared plumbing
// ==============================

// cacheableGet: consistent reads and projections bypass the cache entirely;
// entries are whole items with eventually-consistent semantics.
func cacheableGet(in *dynamodb.GetItemInput) bool {
	if in.ConsistentRead != nil && *in.ConsistentRead {
		return false
	}
	return in.ProjectionExpression == nil && len(in.AttributesToGet) == 0
}

// schemaFor resolves the table's key schema. An empty table name is a caller
// bug reported before any network call; an unknown table is pass-through
// (ok=false, SchemaMiss hooked).
func (a *accel) schemaFor(ctx context.Context, tableName *string) (KeySchema, string, bool, error) {
	table := aws.ToString(tableName)
	if table == "" {
		return KeySchema{}, "", false, fmt.Errorf("%w: empty table name", ErrMalformedKey)
	}
	s, ok := a.schemas.lookup(ctx, table)
	if !ok {
		a.hooks.SchemaMiss(table)
	}
	return s, table, ok, nil
}

// deriveKey derives the provider key from a key map or a full item. The
// schema decides which attributes matter; everything else is payload.
func (a *accel) deriveKey(s KeySchema, attrs map[string]types.AttributeValue) (string, error) {
	pk := attrs[s.PartitionKey]
	var sk types.AttributeValue
	if s.SortKey != "" {
		sk = attrs[s.SortKey]
		if sk == nil {
			return "", fmt.Errorf("%w: missing sort key %q", ErrMalformedKey, s.SortKey)
		}
	}
	return keys.Item(a.ns, s.Table, pk, sk)
}

// readEntry fetches and validates one entry. found=false covers misses,
// provider failures (hooked, swallowed) and corrupt or expired entries
// (self-healed). tombstone=true means the key is known deleted.
func (a *accel) readEntry(ctx context.Context, key string) (item Item, tombstone, found bool) {
	raw, ok, err := a.provider.Get(ctx, key)
	if err != nil {
		a.hooks.CacheFallback("get", err)
		a.log.Warn("cache get failed; falling back to store", Fields{"key": key, "err": err})
		return nil, false, false
	}
	if !ok {
		return nil, false, false
	}
	return a.decodeEntry(ctx, key, raw)
}

// decodeEntry validates one raw cache value. Anything unusable is healed
// out of the provider and reported as a miss.
func (a *accel) decodeEntry(ctx context.Context, key string, raw []byte) (item Item, tombstone, found bool) {
	e, err := wire.Decode(raw)
	if err != nil {
		a.selfHeal(ctx, key, "corrupt")
		return nil, false, false
	}
	// the provider's TTL is advisory; the entry timestamp is authoritative
	if time.Since(e.StoredAt) > a.ttl {
		a.selfHeal(ctx, key, "expired")
		return nil, false, false
	}
	if e.Tombstone {
		return nil, true, true
	}

	it, err := a.codec.Decode(e.Payload)
	if err != nil {
		a.selfHeal(ctx, key, "decode")
		return nil, false, false
	}
	return it, false, true
}

func (a *accel) selfHeal(ctx context.Context, key, reason string) {
	_ = a.provider.Del(ctx, key)
	a.hooks.SelfHeal(key, reason)
	a.log.Debug("self-healed cache entry", Fields{"key": key, "reason": reason})
}

// fillItem encodes and writes one fresh item. Encode failures only skip the
// fill; the operation already succeeded against the store.
func (a *accel) fillItem(ctx context.Context, table, key string, item Item) {
	payload, err := a.codec.Encode(item)
	if err != nil {
		a.hooks.FillSkipped(table, "encode")
		a.log.Warn("cache fill skipped: item not encodable", Fields{"table": table, "err": err})
		return
	}
	a.fill(ctx, table, key, payload)
}

// fill writes one encoded item with a fresh timestamp. Oversized payloads
// delete the entry instead: a stale value must not outlive the write that
// made it stale.
func (a *accel) fill(ctx context.Context, table, key string, payload []byte) {
	if a.maxItemBytes > 0 && len(payload) > a.maxItemBytes {
		a.hooks.FillSkipped(table, "oversized")
		a.invalidate(ctx, key)
		return
	}
	ok, err := a.provider.Set(ctx, key, wire.EncodeItem(time.Now(), payload), a.ttl)
	if err != nil {
		a.hooks.CacheFallback("set", err)
		a.log.Warn("cache set failed", Fields{"key": key, "err": err})
		return
	}
	if !ok {
		a.hooks.FillSkipped(table, "rejected")
		a.log.Debug("cache set rejected by provider (pressure)", Fields{"key": key})
	}
}

// invalidate drops one entry; provider failures are swallowed and hooked.
func (a *accel) invalidate(ctx context.Context, key string) {
	if err := a.provider.Del(ctx, key); err != nil {
		a.hooks.CacheFallback("del", err)
		a.log.Warn("cache del failed", Fields{"key": key, "err": err})
	}
}

// noteDeleted records a successful DeleteItem: a tombstone when negative
// caching is on, plain removal otherwise. A failed tombstone write degrades
// to removal so no stale item survives the delete.
func (a *accel) noteDeleted(ctx context.Context, table, key string) {
	if a.tombstoneTTL <= 0 {
		a.invalidate(ctx, key)
		return
	}
	ok, err := a.provider.Set(ctx, key, wire.EncodeTombstone(time.Now()), a.tombstoneTTL)
	if err != nil {
		a.hooks.CacheFallback("set", err)
		a.invalidate(ctx, key)
		return
	}
	if !ok {
		a.hooks.FillSkipped(table, "rejected")
		a.invalidate(ctx, key)
	}
}

// refreshFromAttributes overwrites the entry with an update's post-image.
// When the post-image cannot be cached the stale entry is dropped instead.
func (a *accel) refreshFromAttributes(ctx context.Context, table, key string, attrs map[string]types.AttributeValue) {
	if len(attrs) == 0 {
		a.invalidate(ctx, key)
		return
	}
	payload, err := a.codec.Encode(attrs)
	if err != nil {
		a.hooks.FillSkipped(table, "encode")
		a.invalidate(ctx, key)
		return
	}
	a.fill(ctx, table, key, payload)
}

// storeErr logs a surfaced backing-store failure and returns it unchanged.
func (a *accel) storeErr(op string, err error) error {
	a.log.Debug("backing store error surfaced", Fields{"op": op, "code": errCode(err), "err": err})
	return err
}
