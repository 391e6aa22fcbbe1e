package ddbcache

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	c "github.com/unkn0wn-root/ddbcache/codec"
	pr "github.com/unkn0wn-root/ddbcache/provider"
)

// Re-exports so most callers only import ddbcache plus one provider.
type (
	Provider = pr.Provider
	Codec    = c.Codec
	Item     = c.Item
)

// DynamoAPI is the slice of the DynamoDB client surface the accelerator
// fronts. *dynamodb.Client satisfies it, as does any mock that mirrors the
// SDK signatures.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	BatchGetItem(ctx context.Context, params *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// SchemaDescriber is the optional discovery surface. When the configured
// Client also satisfies it, unknown tables are resolved lazily through
// DescribeTable unless DisableDiscovery is set.
type SchemaDescriber interface {
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// Accelerator is a DynamoAPI with a cache attached. Handlers that consume
// DynamoAPI take either the raw client or an Accelerator without noticing.
type Accelerator interface {
	DynamoAPI

	Enabled() bool
	Close(ctx context.Context) error
}

// Options tune the accelerator.
// Namespace, Client, Provider and TTL are required; others have defaults.
type Options struct {
	// Required
	Namespace string        // isolates this accelerator's keyspace. e.g. "prod", "staging"
	Client    DynamoAPI     // the real DynamoDB client calls are forwarded to
	Provider  pr.Provider   // cache byte store
	TTL       time.Duration // staleness bound; applies to every cache write

	Codec            c.Codec       // nil => CBOR
	Tables           []KeySchema   // key schemas known up front
	DisableDiscovery bool          // default false => unknown tables resolved via DescribeTable
	TombstoneTTL     time.Duration // 0 => deletes remove entries; >0 => negative-cache window (capped at TTL)
	MaxItemBytes     int           // encoded payload cap; 0 => uncapped
	Logger           Logger        // if nil, NopLogger is used
	Hooks            Hooks         // if nil, NopHooks is used
	Disabled         bool          // default false (enabled); disabled => pure pass-through
}

func New(opts Options) (Accelerator, error) {
	return newAccel(opts)
}
