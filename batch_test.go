package ddbcache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	pr "github.com/unkn0wn-root/ddbcache/provider"
)

// mgetProvider adds the optional bulk read on top of memProvider, the way a
// redis-backed provider answers a whole batch with one MGET.
type mgetProvider struct {
	*memProvider
	bulkCalls int
	bulkErr   error
}

var _ pr.MultiGetter = (*mgetProvider)(nil)

func (p *mgetProvider) GetMulti(ctx context.Context, keys []string) (map[string][]byte, error) {
	p.bulkCalls++
	if p.bulkErr != nil {
		return nil, p.bulkErr
	}
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		if v, ok, _ := p.memProvider.Get(ctx, k); ok {
			out[k] = v
		}
	}
	return out, nil
}

func usersBatchGet(pks ...string) *dynamodb.BatchGetItemInput {
	ka := types.KeysAndAttributes{}
	for _, pk := range pks {
		ka.Keys = append(ka.Keys, keyOf(pk))
	}
	return &dynamodb.BatchGetItemInput{
		RequestItems: map[string]types.KeysAndAttributes{"users": ka},
	}
}

func hasUser(items []map[string]types.AttributeValue, pk string) bool {
	for _, it := range items {
		if avRepr(it["pk"]) == "S"+pk {
			return true
		}
	}
	return false
}

// ==============================
// batch reads
// ==============================

// TestBatchGetMergesCacheAndStore: cached keys are answered locally, the rest
// go to the store in one trimmed call, and fetched items are filled.
func TestBatchGetMergesCacheAndStore(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStore()
	mp := newMemProvider()
	hooks := &recHooks{}
	cc := newTestAccel(t, fs, mp, func(o *Options) { o.Hooks = hooks })

	if _, err := cc.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String("users"), Item: userItem("u1", "Ada")}); err != nil {
		t.Fatalf("seed put: %v", err)
	}
	fs.seed("users", userItem("u2", "Bob"))

	out, err := cc.BatchGetItem(ctx, usersBatchGet("u1", "u2"))
	if err != nil {
		t.Fatalf("BatchGetItem: %v", err)
	}
	if got := out.Responses["users"]; !hasUser(got, "u1") || !hasUser(got, "u2") || len(got) != 2 {
		t.Fatalf("merged responses wrong: %v", got)
	}

	// the store call carried only the missed key
	fs.mu.Lock()
	residual := fs.lastBatchGet.RequestItems["users"].Keys
	fs.mu.Unlock()
	if len(residual) != 1 || avRepr(residual[0]["pk"]) != "Su2" {
		t.Fatalf("residual keys wrong: %v", residual)
	}
	if !hooks.saw("hit:users:batch_read") || !hooks.saw("miss:users:batch_read") {
		t.Fatalf("expected one hit and one miss, got %v", hooks.events)
	}

	// u2 was filled on the way back: a point read now skips the store
	if _, err := cc.GetItem(ctx, &dynamodb.GetItemInput{TableName: aws.String("users"), Key: keyOf("u2")}); err != nil {
		t.Fatalf("GetItem u2: %v", err)
	}
	if n := fs.count("GetItem"); n != 0 {
		t.Fatalf("u2 should be cached after the batch, store calls=%d", n)
	}

	// fully cached batch needs no store call at all
	if _, err := cc.BatchGetItem(ctx, usersBatchGet("u1", "u2")); err != nil {
		t.Fatalf("second BatchGetItem: %v", err)
	}
	if n := fs.count("BatchGetItem"); n != 1 {
		t.Fatalf("second batch should be fully served from cache, store calls=%d", n)
	}
}

// TestBatchGetTombstoneStaysAbsent: tombstoned keys are neither returned nor
// re-requested from the store.
func TestBatchGetTombstoneStaysAbsent(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStore()
	mp := newMemProvider()
	hooks := &recHooks{}
	cc := newTestAccel(t, fs, mp, func(o *Options) {
		o.TombstoneTTL = 30 * time.Second
		o.Hooks = hooks
	})

	if _, err := cc.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String("users"), Item: userItem("u1", "Ada")}); err != nil {
		t.Fatalf("seed put: %v", err)
	}
	if _, err := cc.DeleteItem(ctx, &dynamodb.DeleteItemInput{TableName: aws.String("users"), Key: keyOf("u1")}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	fs.seed("users", userItem("u2", "Bob"))

	out, err := cc.BatchGetItem(ctx, usersBatchGet("u1", "u2"))
	if err != nil {
		t.Fatalf("BatchGetItem: %v", err)
	}
	got := out.Responses["users"]
	if hasUser(got, "u1") || !hasUser(got, "u2") || len(got) != 1 {
		t.Fatalf("tombstoned key must stay absent: %v", got)
	}
	fs.mu.Lock()
	residual := fs.lastBatchGet.RequestItems["users"].Keys
	fs.mu.Unlock()
	if len(residual) != 1 || avRepr(residual[0]["pk"]) != "Su2" {
		t.Fatalf("tombstoned key must not be re-requested: %v", residual)
	}
	if !hooks.saw("tombstone:users") {
		t.Fatalf("expected tombstone event, got %v", hooks.events)
	}
}

// TestBatchGetPassThroughTables: unknown tables and per-table consistent
// reads are forwarded untouched and never filled.
func TestBatchGetPassThroughTables(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown_table", func(t *testing.T) {
		fs := newFakeStore()
		fs.addTable("ghost", "pk", "")
		mp := newMemProvider()
		hooks := &recHooks{}
		cc := newTestAccel(t, fs, mp, func(o *Options) { o.Hooks = hooks })

		if _, err := cc.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String("users"), Item: userItem("u1", "Ada")}); err != nil {
			t.Fatalf("seed put: %v", err)
		}
		fs.seed("ghost", userItem("g1", "Ghost"))

		in := usersBatchGet("u1")
		in.RequestItems["ghost"] = types.KeysAndAttributes{Keys: []map[string]types.AttributeValue{keyOf("g1")}}
		out, err := cc.BatchGetItem(ctx, in)
		if err != nil {
			t.Fatalf("BatchGetItem: %v", err)
		}
		if !hasUser(out.Responses["ghost"], "g1") || !hasUser(out.Responses["users"], "u1") {
			t.Fatalf("responses wrong: %v", out.Responses)
		}
		fs.mu.Lock()
		_, ghostForwarded := fs.lastBatchGet.RequestItems["ghost"]
		_, usersForwarded := fs.lastBatchGet.RequestItems["users"]
		fs.mu.Unlock()
		if !ghostForwarded || usersForwarded {
			t.Fatalf("expected only the ghost table in the store call")
		}
		if mp.len() != 1 {
			t.Fatalf("ghost items must not be filled, provider holds %d", mp.len())
		}
		if !hooks.saw("schemamiss:ghost") {
			t.Fatalf("expected schemamiss:ghost, got %v", hooks.events)
		}
	})

	t.Run("consistent_read_table", func(t *testing.T) {
		fs := newFakeStore()
		mp := newMemProvider()
		cc := newTestAccel(t, fs, mp, nil)

		if _, err := cc.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String("users"), Item: userItem("u1", "Ada")}); err != nil {
			t.Fatalf("seed put: %v", err)
		}

		in := usersBatchGet("u1")
		ka := in.RequestItems["users"]
		ka.ConsistentRead = aws.Bool(true)
		in.RequestItems["users"] = ka
		if _, err := cc.BatchGetItem(ctx, in); err != nil {
			t.Fatalf("BatchGetItem: %v", err)
		}
		// forwarded in full even though u1 is cached
		fs.mu.Lock()
		n := len(fs.lastBatchGet.RequestItems["users"].Keys)
		fs.mu.Unlock()
		if n != 1 {
			t.Fatalf("consistent-read table must be forwarded whole, keys=%d", n)
		}
	})
}

// TestBatchGetProviderFailureFallsBack: with the provider down every key is
// a miss and the whole batch goes to the store.
func TestBatchGetProviderFailureFallsBack(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStore()
	hooks := &recHooks{}
	cc := newTestAccel(t, fs, &getErrProvider{memProvider: newMemProvider(), err: errors.New("provider down")}, func(o *Options) { o.Hooks = hooks })

	fs.seed("users", userItem("u1", "Ada"))
	fs.seed("users", userItem("u2", "Bob"))

	out, err := cc.BatchGetItem(ctx, usersBatchGet("u1", "u2"))
	if err != nil {
		t.Fatalf("BatchGetItem with broken provider: %v", err)
	}
	if got := out.Responses["users"]; !hasUser(got, "u1") || !hasUser(got, "u2") {
		t.Fatalf("responses wrong: %v", got)
	}
	fs.mu.Lock()
	n := len(fs.lastBatchGet.RequestItems["users"].Keys)
	fs.mu.Unlock()
	if n != 2 {
		t.Fatalf("all keys must reach the store, got %d", n)
	}
	if !hooks.saw("fallback:get") {
		t.Fatalf("expected fallback:get, got %v", hooks.events)
	}
}

// TestBatchGetStoreErrorSurfaces: cache hits do not soften a store failure,
// the batch fails as a whole with the original error.
func TestBatchGetStoreErrorSurfaces(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStore()
	mp := newMemProvider()
	cc := newTestAccel(t, fs, mp, nil)

	if _, err := cc.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String("users"), Item: userItem("u1", "Ada")}); err != nil {
		t.Fatalf("seed put: %v", err)
	}
	sentinel := errors.New("batch failed")
	fs.fail("BatchGetItem", sentinel)

	if _, err := cc.BatchGetItem(ctx, usersBatchGet("u1", "u2")); err != sentinel {
		t.Fatalf("expected the store error verbatim, got %v", err)
	}
}

// TestBatchGetUnprocessedNotFilled: keys the store echoes back unprocessed
// carry no item and leave the cache alone.
func TestBatchGetUnprocessedNotFilled(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStore()
	mp := newMemProvider()
	cc := newTestAccel(t, fs, mp, nil)

	fs.mu.Lock()
	fs.unprocessedGets = map[string]types.KeysAndAttributes{
		"users": {Keys: []map[string]types.AttributeValue{keyOf("u2")}},
	}
	fs.mu.Unlock()

	out, err := cc.BatchGetItem(ctx, usersBatchGet("u2"))
	if err != nil {
		t.Fatalf("BatchGetItem: %v", err)
	}
	if len(out.UnprocessedKeys["users"].Keys) != 1 {
		t.Fatalf("unprocessed keys must surface verbatim: %v", out.UnprocessedKeys)
	}
	if mp.len() != 0 {
		t.Fatalf("unprocessed keys must not be filled, provider holds %d", mp.len())
	}
}

// TestBatchGetMalformedKey: a bad key in any cacheable table fails the whole
// call before the store sees it.
func TestBatchGetMalformedKey(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStore()
	mp := newMemProvider()
	cc := newTestAccel(t, fs, mp, nil)

	in := &dynamodb.BatchGetItemInput{
		RequestItems: map[string]types.KeysAndAttributes{
			"users": {Keys: []map[string]types.AttributeValue{keyOf("")}},
		},
	}
	if _, err := cc.BatchGetItem(ctx, in); !errors.Is(err, ErrMalformedKey) {
		t.Fatalf("expected ErrMalformedKey, got %v", err)
	}
	if n := fs.count("BatchGetItem"); n != 0 {
		t.Fatalf("malformed batch must not reach the store, calls=%d", n)
	}
}

// ==============================
// batch reads, bulk-capable provider
// ==============================

// TestBatchGetBulkProviderOneRoundTrip: a provider with a native multi-get
// answers the whole batch in a single call, with the same hit, miss and
// tombstone behavior as the per-key path.
func TestBatchGetBulkProviderOneRoundTrip(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStore()
	mp := &mgetProvider{memProvider: newMemProvider()}
	hooks := &recHooks{}
	cc := newTestAccel(t, fs, mp, func(o *Options) {
		o.TombstoneTTL = 30 * time.Second
		o.Hooks = hooks
	})

	if _, err := cc.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String("users"), Item: userItem("u1", "Ada")}); err != nil {
		t.Fatalf("seed put: %v", err)
	}
	if _, err := cc.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String("users"), Item: userItem("u2", "Bob")}); err != nil {
		t.Fatalf("seed put: %v", err)
	}
	if _, err := cc.DeleteItem(ctx, &dynamodb.DeleteItemInput{TableName: aws.String("users"), Key: keyOf("u2")}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	fs.seed("users", userItem("u3", "Cyd"))

	out, err := cc.BatchGetItem(ctx, usersBatchGet("u1", "u2", "u3"))
	if err != nil {
		t.Fatalf("BatchGetItem: %v", err)
	}
	got := out.Responses["users"]
	if !hasUser(got, "u1") || hasUser(got, "u2") || !hasUser(got, "u3") || len(got) != 2 {
		t.Fatalf("bulk responses wrong: %v", got)
	}
	if mp.bulkCalls != 1 {
		t.Fatalf("expected one multi-get round trip, got %d", mp.bulkCalls)
	}
	// only the miss went to the store; the tombstoned key stayed absent
	fs.mu.Lock()
	residual := fs.lastBatchGet.RequestItems["users"].Keys
	fs.mu.Unlock()
	if len(residual) != 1 || avRepr(residual[0]["pk"]) != "Su3" {
		t.Fatalf("residual keys wrong: %v", residual)
	}
	if !hooks.saw("tombstone:users") {
		t.Fatalf("expected tombstone event, got %v", hooks.events)
	}
}

// TestBatchGetBulkReadFailureFallsBackOnce: a failed multi-get is one
// fallback for the whole batch, and every key is fetched from the store.
func TestBatchGetBulkReadFailureFallsBackOnce(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStore()
	mp := &mgetProvider{memProvider: newMemProvider(), bulkErr: errors.New("mget down")}
	hooks := &recHooks{}
	cc := newTestAccel(t, fs, mp, func(o *Options) { o.Hooks = hooks })

	fs.seed("users", userItem("u1", "Ada"))
	fs.seed("users", userItem("u2", "Bob"))

	out, err := cc.BatchGetItem(ctx, usersBatchGet("u1", "u2"))
	if err != nil {
		t.Fatalf("BatchGetItem with broken multi-get: %v", err)
	}
	if got := out.Responses["users"]; !hasUser(got, "u1") || !hasUser(got, "u2") {
		t.Fatalf("responses wrong: %v", got)
	}
	if n := hooks.count("fallback:get"); n != 1 {
		t.Fatalf("whole-batch fallback must report once, got %d in %v", n, hooks.events)
	}
}

// TestBatchGetBulkReadSelfHeals: corrupt bytes coming back from a bulk read
// heal exactly like single reads, and the key is refetched from the store.
func TestBatchGetBulkReadSelfHeals(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStore()
	mp := &mgetProvider{memProvider: newMemProvider()}
	hooks := &recHooks{}
	cc := newTestAccel(t, fs, mp, func(o *Options) { o.Hooks = hooks })

	fs.seed("users", userItem("u1", "Ada"))
	key := itemKey(t, "u1")
	if _, err := mp.Set(ctx, key, []byte("not a wire entry"), time.Minute); err != nil {
		t.Fatalf("plant corrupt entry: %v", err)
	}

	out, err := cc.BatchGetItem(ctx, usersBatchGet("u1"))
	if err != nil {
		t.Fatalf("BatchGetItem: %v", err)
	}
	if !hasUser(out.Responses["users"], "u1") {
		t.Fatalf("responses wrong: %v", out.Responses)
	}
	if !hooks.saw("selfheal:corrupt") {
		t.Fatalf("expected selfheal:corrupt, got %v", hooks.events)
	}
	if mp.bulkCalls != 1 {
		t.Fatalf("expected one multi-get round trip, got %d", mp.bulkCalls)
	}
}

// ==============================
// batch writes
// ==============================

// TestBatchWriteAppliesCacheEffects: puts refresh entries, deletes tombstone
// them, all after one successful store call.
func TestBatchWriteAppliesCacheEffects(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStore()
	mp := newMemProvider()
	cc := newTestAccel(t, fs, mp, func(o *Options) { o.TombstoneTTL = 30 * time.Second })

	if _, err := cc.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String("users"), Item: userItem("u1", "Ada")}); err != nil {
		t.Fatalf("seed put: %v", err)
	}

	in := &dynamodb.BatchWriteItemInput{
		RequestItems: map[string][]types.WriteRequest{
			"users": {
				{PutRequest: &types.PutRequest{Item: userItem("u2", "Bob")}},
				{DeleteRequest: &types.DeleteRequest{Key: keyOf("u1")}},
			},
		},
	}
	if _, err := cc.BatchWriteItem(ctx, in); err != nil {
		t.Fatalf("BatchWriteItem: %v", err)
	}

	// u2 is now served from cache
	out, err := cc.GetItem(ctx, &dynamodb.GetItemInput{TableName: aws.String("users"), Key: keyOf("u2")})
	if err != nil || !sameItem(out.Item, userItem("u2", "Bob")) {
		t.Fatalf("read after batch put: err=%v item=%v", err, out.Item)
	}
	// u1 answers not-found from its tombstone
	out, err = cc.GetItem(ctx, &dynamodb.GetItemInput{TableName: aws.String("users"), Key: keyOf("u1")})
	if err != nil || len(out.Item) != 0 {
		t.Fatalf("read after batch delete: err=%v item=%v", err, out.Item)
	}
	if n := fs.count("GetItem"); n != 0 {
		t.Fatalf("both reads should be cache answers, store calls=%d", n)
	}
}

// TestBatchWriteUnprocessedSkipsCache: a write echoed back unprocessed did
// not change the store, so its planned cache effect is dropped.
func TestBatchWriteUnprocessedSkipsCache(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStore()
	mp := newMemProvider()
	hooks := &recHooks{}
	cc := newTestAccel(t, fs, mp, func(o *Options) { o.Hooks = hooks })

	unprocessed := types.WriteRequest{PutRequest: &types.PutRequest{Item: userItem("u6", "Eve")}}
	fs.mu.Lock()
	fs.unprocessedPuts = map[string][]types.WriteRequest{"users": {unprocessed}}
	fs.mu.Unlock()

	in := &dynamodb.BatchWriteItemInput{
		RequestItems: map[string][]types.WriteRequest{
			"users": {
				unprocessed,
				{PutRequest: &types.PutRequest{Item: userItem("u7", "Mal")}},
			},
		},
	}
	out, err := cc.BatchWriteItem(ctx, in)
	if err != nil {
		t.Fatalf("BatchWriteItem: %v", err)
	}
	if len(out.UnprocessedItems["users"]) != 1 {
		t.Fatalf("unprocessed items must surface verbatim: %v", out.UnprocessedItems)
	}

	// u7 cached, u6 not
	if _, err := cc.GetItem(ctx, &dynamodb.GetItemInput{TableName: aws.String("users"), Key: keyOf("u7")}); err != nil {
		t.Fatalf("GetItem u7: %v", err)
	}
	if n := fs.count("GetItem"); n != 0 {
		t.Fatalf("processed write should be cached, store calls=%d", n)
	}
	if _, err := cc.GetItem(ctx, &dynamodb.GetItemInput{TableName: aws.String("users"), Key: keyOf("u6")}); err != nil {
		t.Fatalf("GetItem u6: %v", err)
	}
	if n := fs.count("GetItem"); n != 1 {
		t.Fatalf("unprocessed write must not be cached, store calls=%d", n)
	}
	if !hooks.saw("fillskip:users:unprocessed") {
		t.Fatalf("expected fillskip unprocessed, got %v", hooks.events)
	}
}

// TestBatchWriteRejectsBadItemsBeforeNetwork: key and codec faults in any
// planned write fail the call with nothing sent.
func TestBatchWriteRejectsBadItemsBeforeNetwork(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStore()
	mp := newMemProvider()
	cc := newTestAccel(t, fs, mp, nil)

	t.Run("unencodable_item", func(t *testing.T) {
		in := &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{
				"users": {
					{PutRequest: &types.PutRequest{Item: Item{"pk": sAttr("u1"), "hole": nil}}},
				},
			},
		}
		if _, err := cc.BatchWriteItem(ctx, in); !errors.Is(err, ErrUnsupportedAttributeType) {
			t.Fatalf("expected ErrUnsupportedAttributeType, got %v", err)
		}
	})

	t.Run("malformed_key", func(t *testing.T) {
		in := &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{
				"users": {
					{DeleteRequest: &types.DeleteRequest{Key: keyOf("")}},
				},
			},
		}
		if _, err := cc.BatchWriteItem(ctx, in); !errors.Is(err, ErrMalformedKey) {
			t.Fatalf("expected ErrMalformedKey, got %v", err)
		}
	})

	if n := fs.count("BatchWriteItem"); n != 0 {
		t.Fatalf("bad batch writes must not reach the store, calls=%d", n)
	}
}

// TestBatchWriteUnknownTablePassesThrough: writes to tables without schemas
// forward normally and leave the cache alone.
func TestBatchWriteUnknownTablePassesThrough(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStore()
	fs.addTable("ghost", "pk", "")
	mp := newMemProvider()
	cc := newTestAccel(t, fs, mp, nil)

	in := &dynamodb.BatchWriteItemInput{
		RequestItems: map[string][]types.WriteRequest{
			"ghost": {
				{PutRequest: &types.PutRequest{Item: userItem("g1", "Ghost")}},
			},
		},
	}
	if _, err := cc.BatchWriteItem(ctx, in); err != nil {
		t.Fatalf("BatchWriteItem: %v", err)
	}
	if n := fs.count("BatchWriteItem"); n != 1 {
		t.Fatalf("write must forward, calls=%d", n)
	}
	if mp.len() != 0 {
		t.Fatalf("unknown table must not be cached, provider holds %d", mp.len())
	}
}
