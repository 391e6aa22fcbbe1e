// Package ddbcache implements a transparent read-through / write-through cache
// in front of a DynamoDB table store. It exposes the same call surface as the
// SDK client, so swapping it in changes no call sites: point reads are served
// from cache when possible, writes refresh or invalidate the affected entry,
// and queries, scans and anything else non-cacheable pass through untouched.
//
// Components:
//   - DynamoAPI: the SDK client being fronted (*dynamodb.Client or compatible).
//   - Provider: byte store with TTL (e.g. Ristretto, BigCache, Redis).
//   - Codec: lossless (de)serialization of attribute-value items.
//   - KeySchema: per-table partition/sort key names, declared or discovered
//     via DescribeTable.
//
// Keys:
//
//	item:<ns>:<len>:<table>:<pk>[:<sk>]  - one entry per stored item
//
// Key attribute values are type-tagged and base64url-encoded, numbers in a
// canonical decimal form, so two inputs collide only if DynamoDB itself would
// treat them as the same key.
//
// Staleness is bounded by the configured TTL: every entry carries its write
// timestamp and is discarded on read once older than TTL, whatever the
// provider's own eviction did. Cache faults never fail an operation; errors
// from DynamoDB itself are returned verbatim.
package ddbcache
