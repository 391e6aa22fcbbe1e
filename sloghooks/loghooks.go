package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/ddbcache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	HitMissEvery     uint64
	SelfHealEvery    uint64
	FillSkippedEvery uint64
	SchemaMissEvery  uint64
	// Optional key redactor. Defaults to SHA-256 prefix. Cache keys embed
	// raw partition key material, so they never reach logs unredacted.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	hitCtr        atomic.Uint64
	missCtr       atomic.Uint64
	selfHealCtr   atomic.Uint64
	fillSkipCtr   atomic.Uint64
	schemaMissCtr atomic.Uint64
}

var _ ddbcache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) CacheHit(table string, kind ddbcache.OpKind) {
	if h.l == nil || !sample(h.opts.HitMissEvery, &h.hitCtr) {
		return
	}
	h.l.Debug("ddbcache.cache_hit",
		"table", table,
		"kind", kind.String())
}

func (h *Hooks) CacheMiss(table string, kind ddbcache.OpKind) {
	if h.l == nil || !sample(h.opts.HitMissEvery, &h.missCtr) {
		return
	}
	h.l.Debug("ddbcache.cache_miss",
		"table", table,
		"kind", kind.String())
}

func (h *Hooks) CacheFallback(op string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("ddbcache.cache_fallback",
		"op", op,
		"err", err)
}

func (h *Hooks) SelfHeal(storageKey, reason string) {
	if h.l == nil || !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Debug("ddbcache.self_heal",
		"key", h.redact(storageKey),
		"reason", reason)
}

func (h *Hooks) FillSkipped(table, reason string) {
	if h.l == nil || !sample(h.opts.FillSkippedEvery, &h.fillSkipCtr) {
		return
	}
	h.l.Info("ddbcache.fill_skipped",
		"table", table,
		"reason", reason)
}

func (h *Hooks) SchemaMiss(table string) {
	if h.l == nil || !sample(h.opts.SchemaMissEvery, &h.schemaMissCtr) {
		return
	}
	h.l.Warn("ddbcache.schema_miss",
		"table", table,
		"msg", "no key schema; operations on this table bypass the cache")
}

func (h *Hooks) TombstoneServed(table string) {
	if h.l == nil {
		return
	}
	h.l.Debug("ddbcache.tombstone_served",
		"table", table)
}
