// Package codec serializes DynamoDB items to bytes and back without loss.
package codec

import (
	"errors"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Item is one DynamoDB row: attribute name to typed value.
type Item = map[string]types.AttributeValue

var (
	// ErrUnsupportedType reports an attribute value outside the DynamoDB
	// type system. Encode fails with it before anything is written.
	ErrUnsupportedType = errors.New("ddbcache: unsupported attribute type")

	// ErrCorrupt reports bytes the codec did not produce.
	ErrCorrupt = errors.New("ddbcache: corrupt item payload")
)

// Codec encodes/decodes whole items to []byte for storage.
//
// Round-trip law: Decode(Encode(item)) reproduces the item attribute for
// attribute, including attribute types. "1" the string and 1 the number must
// come back as what they were. Decode returns an error wrapping ErrCorrupt
// for input it cannot attribute to its own Encode.
type Codec interface {
	Encode(Item) ([]byte, error)
	Decode([]byte) (Item, error)
}
