package ddbcache

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"golang.org/x/sync/errgroup"

	pr "github.com/unkn0wn-root/ddbcache/provider"
)

// batchParallelism bounds concurrent provider reads for one BatchGetItem.
const batchParallelism = 16

// batchLookup is one (table, key) of a batch read. Each provider read
// owns exactly one lookup, so the fan-out needs no locking.
type batchLookup struct {
	table     string
	idx       int // position in RequestItems[table].Keys
	key       string
	item      Item
	tombstone bool
	hit       bool
}

func (a *accel) BatchGetItem(ctx context.Context, in *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error) {
	if !a.enabled || in == nil || len(in.RequestItems) == 0 {
		return a.client.BatchGetItem(ctx, in, optFns...)
	}
	pol := policyFor(KindBatchRead)

	// plan: derive provider keys for every key of every cacheable table.
	// Key faults fail the whole call before any network traffic.
	var lookups []*batchLookup
	schemas := make(map[string]KeySchema)
	for table, ka := range in.RequestItems {
		if !cacheableBatchTable(ka) {
			continue
		}
		if table == "" {
			return nil, fmt.Errorf("%w: empty table name", ErrMalformedKey)
		}
		s, ok := a.schemas.lookup(ctx, table)
		if !ok {
			a.hooks.SchemaMiss(table)
			continue
		}
		schemas[table] = s
		for i, k := range ka.Keys {
			key, err := a.deriveKey(s, k)
			if err != nil {
				return nil, err
			}
			lookups = append(lookups, &batchLookup{table: table, idx: i, key: key})
		}
	}
	if !pol.readCache || len(lookups) == 0 {
		return a.client.BatchGetItem(ctx, in, optFns...)
	}

	// bulk-capable providers answer every key in one round trip; anything
	// else gets bounded parallel reads, each goroutine owning its own slot
	if mg, ok := a.provider.(pr.MultiGetter); ok {
		a.readEntriesBulk(ctx, mg, lookups)
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(batchParallelism)
		for _, l := range lookups {
			l := l
			g.Go(func() error {
				l.item, l.tombstone, l.hit = a.readEntry(gctx, l.key)
				return nil
			})
		}
		_ = g.Wait() // readEntry reports nothing; provider failures became misses
	}

	served := make(map[string]map[int]bool, len(schemas))
	for _, l := range lookups {
		if !l.hit {
			a.hooks.CacheMiss(l.table, KindBatchRead)
			continue
		}
		a.hooks.CacheHit(l.table, KindBatchRead)
		if l.tombstone {
			a.hooks.TombstoneServed(l.table)
		}
		if served[l.table] == nil {
			served[l.table] = make(map[int]bool)
		}
		served[l.table][l.idx] = true
	}

	// residual request: the original tables minus keys served from cache
	residual := make(map[string]types.KeysAndAttributes, len(in.RequestItems))
	for table, ka := range in.RequestItems {
		sv := served[table]
		if len(sv) == 0 {
			residual[table] = ka // pass-through table, or every key missed
			continue
		}
		rest := make([]map[string]types.AttributeValue, 0, len(ka.Keys)-len(sv))
		for i, k := range ka.Keys {
			if !sv[i] {
				rest = append(rest, k)
			}
		}
		if len(rest) == 0 {
			continue // fully served from cache
		}
		kb := ka
		kb.Keys = rest
		residual[table] = kb
	}

	out := &dynamodb.BatchGetItemOutput{}
	if len(residual) > 0 {
		call := *in
		call.RequestItems = residual
		fetched, err := a.client.BatchGetItem(ctx, &call, optFns...)
		if err != nil {
			// the store call failed; cache hits do not soften a store error
			return nil, a.storeErr("BatchGetItem", err)
		}
		out = fetched
	}

	// fill fetched items. UnprocessedKeys pass through verbatim and are
	// never filled: they carry no item to cache.
	if pol.fill {
		for table, items := range out.Responses {
			s, ok := schemas[table]
			if !ok {
				continue // pass-through table
			}
			for _, item := range items {
				key, err := a.deriveKey(s, item)
				if err != nil {
					continue // returned item lacks key attrs; nothing to file it under
				}
				a.fillItem(ctx, table, key, item)
			}
		}
	}

	// merge cache hits into the response; tombstoned keys stay absent
	for _, l := range lookups {
		if !l.hit || l.tombstone {
			continue
		}
		if out.Responses == nil {
			out.Responses = make(map[string][]map[string]types.AttributeValue)
		}
		out.Responses[l.table] = append(out.Responses[l.table], l.item)
	}
	return out, nil
}

// readEntriesBulk resolves every lookup with one multi-key read. A failed
// bulk read falls back for the whole batch at once, not once per key.
func (a *accel) readEntriesBulk(ctx context.Context, mg pr.MultiGetter, lookups []*batchLookup) {
	keys := make([]string, len(lookups))
	for i, l := range lookups {
		keys[i] = l.key
	}
	vals, err := mg.GetMulti(ctx, keys)
	if err != nil {
		a.hooks.CacheFallback("get", err)
		a.log.Warn("cache multi-get failed; falling back to store", Fields{"keys": len(keys), "err": err})
		return
	}
	for _, l := range lookups {
		if raw, ok := vals[l.key]; ok {
			l.item, l.tombstone, l.hit = a.decodeEntry(ctx, l.key, raw)
		}
	}
}

// batchMutation is one planned cache effect of a BatchWriteItem request.
type batchMutation struct {
	table   string
	key     string
	payload []byte // nil for deletes
	del     bool
}

func (a *accel) BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	if !a.enabled || in == nil || len(in.RequestItems) == 0 {
		return a.client.BatchWriteItem(ctx, in, optFns...)
	}
	pol := policyFor(KindBatchWrite)

	// plan cache mutations up front; key and codec faults fail the whole
	// call before any network traffic
	var plan []batchMutation
	for table, reqs := range in.RequestItems {
		if table == "" {
			return nil, fmt.Errorf("%w: empty table name", ErrMalformedKey)
		}
		s, ok := a.schemas.lookup(ctx, table)
		if !ok {
			a.hooks.SchemaMiss(table)
			continue
		}
		for _, wr := range reqs {
			switch {
			case wr.PutRequest != nil:
				key, err := a.deriveKey(s, wr.PutRequest.Item)
				if err != nil {
					return nil, err
				}
				payload, err := a.codec.Encode(wr.PutRequest.Item)
				if err != nil {
					return nil, fmt.Errorf("ddbcache: encode item for table %q: %w", table, err)
				}
				plan = append(plan, batchMutation{table: table, key: key, payload: payload})
			case wr.DeleteRequest != nil:
				key, err := a.deriveKey(s, wr.DeleteRequest.Key)
				if err != nil {
					return nil, err
				}
				plan = append(plan, batchMutation{table: table, key: key, del: true})
			}
		}
	}

	out, err := a.client.BatchWriteItem(ctx, in, optFns...)
	if err != nil {
		return nil, a.storeErr("BatchWriteItem", err)
	}

	// writes echoed back as unprocessed never touch the cache: the store
	// kept its old state, so the cached state is still right
	skip := a.unprocessedKeys(ctx, out.UnprocessedItems)
	for _, m := range plan {
		if skip[m.key] {
			a.hooks.FillSkipped(m.table, "unprocessed")
			continue
		}
		switch {
		case m.del:
			if pol.invalidate {
				a.noteDeleted(ctx, m.table, m.key)
			}
		default:
			if pol.refresh {
				a.fill(ctx, m.table, m.key, m.payload)
			}
		}
	}
	return out, nil
}

// unprocessedKeys re-derives provider keys for the write requests echoed in
// UnprocessedItems. The echoes are our own requests byte for byte, so
// derivation agrees with the plan; tables without schemas had no plan.
func (a *accel) unprocessedKeys(ctx context.Context, un map[string][]types.WriteRequest) map[string]bool {
	if len(un) == 0 {
		return nil
	}
	skip := make(map[string]bool)
	for table, reqs := range un {
		s, ok := a.schemas.lookup(ctx, table)
		if !ok {
			continue
		}
		for _, wr := range reqs {
			var attrs map[string]types.AttributeValue
			switch {
			case wr.PutRequest != nil:
				attrs = wr.PutRequest.Item
			case wr.DeleteRequest != nil:
				attrs = wr.DeleteRequest.Key
			default:
				continue
			}
			if key, err := a.deriveKey(s, attrs); err == nil {
				skip[key] = true
			}
		}
	}
	return skip
}

// cacheableBatchTable: per-table consistent reads and projections bypass
// the cache, same rule as single GetItem.
func cacheableBatchTable(ka types.KeysAndAttributes) bool {
	if ka.ConsistentRead != nil && *ka.ConsistentRead {
		return false
	}
	return ka.ProjectionExpression == nil && len(ka.AttributesToGet) == 0
}
