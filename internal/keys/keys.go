// Package keys derives deterministic provider keys from item primary keys.
package keys

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// ErrMalformed marks a primary key the mapper cannot derive a cache key
// from: missing or empty values, or a non-scalar attribute where a key
// attribute belongs.
var ErrMalformed = errors.New("ddbcache: malformed item key")

// Type tags keep "123" the string distinct from 123 the number.
const (
	tagString byte = 'S'
	tagNumber byte = 'N'
	tagBinary byte = 'B'
)

// Item derives the provider key for one item: namespace, length-prefixed
// table, then one tagged base64 part per key attribute. base64url keeps ':'
// out of the variable parts, so the layout stays unambiguous even for table
// names carrying separators (ARNs). A nil sk means the table has no sort key.
//
//	item:<ns>:<len>:<table>:<tag><base64url(pk)>[:<tag><base64url(sk)>]
func Item(namespace, table string, pk, sk types.AttributeValue) (string, error) {
	if table == "" {
		return "", fmt.Errorf("%w: empty table name", ErrMalformed)
	}

	var sb strings.Builder
	sb.WriteString("item:")
	sb.WriteString(namespace)
	sb.WriteByte(':')
	sb.WriteString(strconv.Itoa(len(table)))
	sb.WriteByte(':')
	sb.WriteString(table)

	if err := writePart(&sb, "partition", pk); err != nil {
		return "", err
	}
	if sk != nil {
		if err := writePart(&sb, "sort", sk); err != nil {
			return "", err
		}
	}
	return sb.String(), nil
}

func writePart(sb *strings.Builder, role string, av types.AttributeValue) error {
	tag, raw, err := scalar(role, av)
	if err != nil {
		return err
	}
	sb.WriteByte(':')
	sb.WriteByte(tag)
	sb.WriteString(base64.RawURLEncoding.EncodeToString(raw))
	return nil
}

func scalar(role string, av types.AttributeValue) (byte, []byte, error) {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		if v.Value == "" {
			return 0, nil, fmt.Errorf("%w: empty string %s key", ErrMalformed, role)
		}
		return tagString, []byte(v.Value), nil
	case *types.AttributeValueMemberN:
		n := canonNumber(v.Value)
		if n == "" {
			return 0, nil, fmt.Errorf("%w: empty numeric %s key", ErrMalformed, role)
		}
		return tagNumber, []byte(n), nil
	case *types.AttributeValueMemberB:
		if len(v.Value) == 0 {
			return 0, nil, fmt.Errorf("%w: empty binary %s key", ErrMalformed, role)
		}
		return tagBinary, v.Value, nil
	case nil:
		return 0, nil, fmt.Errorf("%w: missing %s key attribute", ErrMalformed, role)
	default:
		return 0, nil, fmt.Errorf("%w: %s key must be S, N or B, got %T", ErrMalformed, role, av)
	}
}

// canonNumber rewrites a DynamoDB numeric string into one canonical spelling
// so equal numbers ("1", "1.0", "+1", "10e-1") derive equal keys. The form is
// sign, significant digits with no leading or trailing zeros, then "e" and
// the decimal point position ("12.30" -> "123e2"). Input that does not parse
// as a number is returned unchanged: the key stays deterministic and the
// backing store rejects the value itself.
func canonNumber(s string) string {
	neg := false
	rest := s
	switch {
	case strings.HasPrefix(rest, "-"):
		neg = true
		rest = rest[1:]
	case strings.HasPrefix(rest, "+"):
		rest = rest[1:]
	}

	mant := rest
	exp := 0
	if i := strings.IndexAny(rest, "eE"); i >= 0 {
		e, err := strconv.Atoi(rest[i+1:])
		if err != nil {
			return s
		}
		mant, exp = rest[:i], e
	}

	intPart := mant
	fracPart := ""
	if i := strings.IndexByte(mant, '.'); i >= 0 {
		intPart, fracPart = mant[:i], mant[i+1:]
	}
	if intPart == "" && fracPart == "" {
		return s
	}
	digits := intPart + fracPart
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return s
		}
	}

	// value = 0.<digits> * 10^point
	point := len(intPart) + exp

	lead := 0
	for lead < len(digits) && digits[lead] == '0' {
		lead++
	}
	digits = digits[lead:]
	point -= lead
	for len(digits) > 0 && digits[len(digits)-1] == '0' {
		digits = digits[:len(digits)-1]
	}
	if digits == "" {
		return "0"
	}

	out := digits + "e" + strconv.Itoa(point)
	if neg {
		out = "-" + out
	}
	return out
}
