package ddbcache

import (
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

// OpKind classifies one client call for policy decisions. The set is closed:
// anything the classifier does not recognize is a RangeQuery and passes
// through uncached.
type OpKind int

const (
	KindRangeQuery OpKind = iota // uncacheable pass-through; the zero value
	KindPointRead
	KindPointWrite
	KindConditionalWrite
	KindDelete
	KindBatchRead
	KindBatchWrite
)

func (k OpKind) String() string {
	switch k {
	case KindPointRead:
		return "point_read"
	case KindPointWrite:
		return "point_write"
	case KindConditionalWrite:
		return "conditional_write"
	case KindDelete:
		return "delete"
	case KindBatchRead:
		return "batch_read"
	case KindBatchWrite:
		return "batch_write"
	default:
		return "range_query"
	}
}

// Classify maps a client call to its kind by request shape alone. It never
// inspects table contents or item values, so the same input always
// classifies the same way.
func Classify(op any) OpKind {
	switch v := op.(type) {
	case *dynamodb.GetItemInput:
		return KindPointRead
	case *dynamodb.PutItemInput:
		// Expected is the legacy spelling of ConditionExpression
		if v != nil && (v.ConditionExpression != nil || len(v.Expected) > 0) {
			return KindConditionalWrite
		}
		return KindPointWrite
	case *dynamodb.UpdateItemInput:
		// server-side read-modify-write; cache effect is success-conditional
		return KindConditionalWrite
	case *dynamodb.DeleteItemInput:
		return KindDelete
	case *dynamodb.BatchGetItemInput:
		return KindBatchRead
	case *dynamodb.BatchWriteItemInput:
		return KindBatchWrite
	case *dynamodb.QueryInput, *dynamodb.ScanInput:
		return KindRangeQuery
	default:
		return KindRangeQuery
	}
}

// policy is one row of the closed per-kind policy table.
type policy struct {
	readCache  bool // consult the cache before the backing store
	fill       bool // write fetched values back after a miss
	refresh    bool // overwrite the entry after a successful write
	invalidate bool // drop (or tombstone) the entry after a successful delete
}

// policyFor returns the caching policy row for a kind. RangeQuery's zero row
// means full pass-through.
func policyFor(k OpKind) policy {
	switch k {
	case KindPointRead, KindBatchRead:
		return policy{readCache: true, fill: true}
	case KindPointWrite, KindConditionalWrite:
		return policy{refresh: true}
	case KindDelete:
		return policy{invalidate: true}
	case KindBatchWrite:
		return policy{refresh: true, invalidate: true}
	default:
		return policy{}
	}
}
