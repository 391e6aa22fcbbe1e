package ddbcache

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Classification is by request shape alone; the same input always maps to
// the same kind.
func TestClassify(t *testing.T) {
	cases := map[string]struct {
		op   any
		want OpKind
	}{
		"get":        {&dynamodb.GetItemInput{}, KindPointRead},
		"plain_put":  {&dynamodb.PutItemInput{}, KindPointWrite},
		"cond_put":   {&dynamodb.PutItemInput{ConditionExpression: aws.String("attribute_not_exists(pk)")}, KindConditionalWrite},
		"legacy_put": {&dynamodb.PutItemInput{Expected: map[string]types.ExpectedAttributeValue{"pk": {}}}, KindConditionalWrite},
		"update":     {&dynamodb.UpdateItemInput{}, KindConditionalWrite},
		"delete":     {&dynamodb.DeleteItemInput{}, KindDelete},
		"batch_get":  {&dynamodb.BatchGetItemInput{}, KindBatchRead},
		"batch_put":  {&dynamodb.BatchWriteItemInput{}, KindBatchWrite},
		"query":      {&dynamodb.QueryInput{}, KindRangeQuery},
		"scan":       {&dynamodb.ScanInput{}, KindRangeQuery},
		"unknown":    {struct{}{}, KindRangeQuery},
		"nil":        {nil, KindRangeQuery},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if got := Classify(tc.op); got != tc.want {
				t.Fatalf("Classify(%T) = %v, want %v", tc.op, got, tc.want)
			}
		})
	}
}

// The policy table is closed: every kind has exactly one row and RangeQuery
// is full pass-through.
func TestPolicyTable(t *testing.T) {
	cases := map[OpKind]policy{
		KindPointRead:        {readCache: true, fill: true},
		KindBatchRead:        {readCache: true, fill: true},
		KindPointWrite:       {refresh: true},
		KindConditionalWrite: {refresh: true},
		KindDelete:           {invalidate: true},
		KindBatchWrite:       {refresh: true, invalidate: true},
		KindRangeQuery:       {},
	}
	for kind, want := range cases {
		if got := policyFor(kind); got != want {
			t.Fatalf("policyFor(%v) = %+v, want %+v", kind, got, want)
		}
	}
}

func TestOpKindStrings(t *testing.T) {
	want := map[OpKind]string{
		KindPointRead:        "point_read",
		KindPointWrite:       "point_write",
		KindConditionalWrite: "conditional_write",
		KindDelete:           "delete",
		KindBatchRead:        "batch_read",
		KindBatchWrite:       "batch_write",
		KindRangeQuery:       "range_query",
	}
	for k, s := range want {
		if k.String() != s {
			t.Fatalf("OpKind(%d).String() = %q, want %q", int(k), k.String(), s)
		}
	}
}
