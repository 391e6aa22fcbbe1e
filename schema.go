package ddbcache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// KeySchema names the key attributes of one table. SortKey stays empty for
// tables with a simple primary key.
type KeySchema struct {
	Table        string
	PartitionKey string
	SortKey      string
}

const discoveryRetry = 30 * time.Second

// schemaRegistry resolves table names to key schemas: seeded from
// Options.Tables, optionally filled by DescribeTable on first contact with
// an unknown table. Failed discoveries back off per table so a misnamed
// table does not turn every call into a DescribeTable.
type schemaRegistry struct {
	mu      sync.RWMutex
	schemas map[string]KeySchema
	failed  map[string]time.Time

	describer SchemaDescriber // nil => static schemas only
	log       Logger
}

func newSchemaRegistry(static []KeySchema, d SchemaDescriber, log Logger) (*schemaRegistry, error) {
	r := &schemaRegistry{
		schemas:   make(map[string]KeySchema, len(static)),
		failed:    make(map[string]time.Time),
		describer: d,
		log:       log,
	}
	for _, s := range static {
		if s.Table == "" || s.PartitionKey == "" {
			return nil, fmt.Errorf("ddbcache: key schema needs table and partition key, got %+v", s)
		}
		if _, dup := r.schemas[s.Table]; dup {
			return nil, fmt.Errorf("ddbcache: duplicate key schema for table %q", s.Table)
		}
		r.schemas[s.Table] = s
	}
	return r, nil
}

// lookup returns the key schema for table, discovering it when possible.
// ok=false means the table stays uncached for now.
func (r *schemaRegistry) lookup(ctx context.Context, table string) (KeySchema, bool) {
	r.mu.RLock()
	s, ok := r.schemas[table]
	failedAt, failedBefore := r.failed[table]
	r.mu.RUnlock()
	if ok {
		return s, true
	}
	if r.describer == nil {
		return KeySchema{}, false
	}
	if failedBefore && time.Since(failedAt) < discoveryRetry {
		return KeySchema{}, false
	}

	// network call outside the lock; concurrent duplicate describes are benign
	out, err := r.describer.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(table),
	})
	if err != nil || out.Table == nil {
		r.log.Warn("table discovery failed", Fields{"table": table, "code": errCode(err), "err": err})
		r.markFailed(table)
		return KeySchema{}, false
	}

	s = KeySchema{Table: table}
	for _, el := range out.Table.KeySchema {
		switch el.KeyType {
		case types.KeyTypeHash:
			s.PartitionKey = aws.ToString(el.AttributeName)
		case types.KeyTypeRange:
			s.SortKey = aws.ToString(el.AttributeName)
		}
	}
	if s.PartitionKey == "" {
		r.log.Warn("table discovery returned no hash key", Fields{"table": table})
		r.markFailed(table)
		return KeySchema{}, false
	}

	r.mu.Lock()
	r.schemas[table] = s
	delete(r.failed, table)
	r.mu.Unlock()

	r.log.Debug("discovered table key schema", Fields{"table": table, "pk": s.PartitionKey, "sk": s.SortKey})
	return s, true
}

func (r *schemaRegistry) markFailed(table string) {
	r.mu.Lock()
	r.failed[table] = time.Now()
	r.mu.Unlock()
}
