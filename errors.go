package ddbcache

import (
	"errors"

	"github.com/aws/smithy-go"

	"github.com/unkn0wn-root/ddbcache/codec"
	"github.com/unkn0wn-root/ddbcache/internal/keys"
)

// Sentinels for the deterministic failure modes. Backing-store errors are
// never wrapped: they surface exactly as the SDK returned them so errors.As
// against SDK error types keeps working through the accelerator.
var (
	// ErrMalformedKey: the operation's primary key cannot address a cache
	// entry (missing or empty values, or a non-scalar key attribute).
	// Returned before any network call.
	ErrMalformedKey = keys.ErrMalformed

	// ErrUnsupportedAttributeType: an item value is outside the DynamoDB
	// type system. Write paths return it before any network call.
	ErrUnsupportedAttributeType = codec.ErrUnsupportedType

	// ErrCorruptPayload: cache bytes this library did not produce. Read
	// paths never return it (corrupt entries self-heal into misses); it is
	// observable through codec.Decode and the SelfHeal hook.
	ErrCorruptPayload = codec.ErrCorrupt
)

// errCode extracts a smithy API error code for log fields; "" when the error
// carries none.
func errCode(err error) string {
	var ae smithy.APIError
	if errors.As(err, &ae) {
		return ae.ErrorCode()
	}
	return ""
}
