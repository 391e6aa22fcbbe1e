// usage:
//
// import (
//
//	"log/slog"
//	"time"
//
//	"github.com/unkn0wn-root/ddbcache"
//	"github.com/unkn0wn-root/ddbcache/hooks/async"
//	"github.com/unkn0wn-root/ddbcache/sloghooks"
//
// )
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{
//	    SelfHealEvery:    10, // sample logs: ~every 10th self-heal
//	    FillSkippedEvery: 1,  // log every skipped fill
//	})
//
// hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
// defer hooks.Close()
//
//	cache, _ := ddbcache.New(ddbcache.Options{
//	    Namespace: "app:prod",
//	    Client:    ddb,
//	    Provider:  provider,
//	    TTL:       5 * time.Minute,
//	    Hooks:     hooks, // or `raw` if you don’t want async
//	})
package asynchook

import (
	"sync"

	"github.com/unkn0wn-root/ddbcache"
)

type Hooks struct {
	inner ddbcache.Hooks
	q     chan func()
	wg    sync.WaitGroup
	once  sync.Once
}

var _ ddbcache.Hooks = (*Hooks)(nil)

func New(inner ddbcache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

func (h *Hooks) Close() {
	h.once.Do(func() {
		close(h.q)
		h.wg.Wait()
	})
}

func (h *Hooks) try(f func()) {
	select {
	case h.q <- f:
	default: // drop
	}
}

func (h *Hooks) CacheHit(t string, k ddbcache.OpKind)  { h.try(func() { h.inner.CacheHit(t, k) }) }
func (h *Hooks) CacheMiss(t string, k ddbcache.OpKind) { h.try(func() { h.inner.CacheMiss(t, k) }) }
func (h *Hooks) CacheFallback(op string, err error)    { h.try(func() { h.inner.CacheFallback(op, err) }) }
func (h *Hooks) SelfHeal(k, r string)                  { h.try(func() { h.inner.SelfHeal(k, r) }) }
func (h *Hooks) FillSkipped(t, r string)               { h.try(func() { h.inner.FillSkipped(t, r) }) }
func (h *Hooks) SchemaMiss(t string)                   { h.try(func() { h.inner.SchemaMiss(t) }) }
func (h *Hooks) TombstoneServed(t string)              { h.try(func() { h.inner.TombstoneServed(t) }) }
