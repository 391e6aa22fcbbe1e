package codec

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Attribute type discriminators, one per member of the DynamoDB type system.
const (
	tString byte = iota + 1
	tNumber
	tBinary
	tBool
	tNull
	tList
	tMap
	tStringSet
	tNumberSet
	tBinarySet
)

// value is the serializable form of one types.AttributeValue. T selects the
// member; the matching field carries the data. The field tags are shared by
// the CBOR, msgpack and JSON codecs so all three serialize the same tree.
// The explicit discriminator survives omitempty: an empty list or empty
// string still decodes back to the member it was, not to an absent field.
type value struct {
	T  byte             `cbor:"t" json:"t" msgpack:"t"`
	S  string           `cbor:"s,omitempty" json:"s,omitempty" msgpack:"s,omitempty"`
	N  string           `cbor:"n,omitempty" json:"n,omitempty" msgpack:"n,omitempty"`
	B  []byte           `cbor:"b,omitempty" json:"b,omitempty" msgpack:"b,omitempty"`
	BL bool             `cbor:"bl,omitempty" json:"bl,omitempty" msgpack:"bl,omitempty"`
	L  []value          `cbor:"l,omitempty" json:"l,omitempty" msgpack:"l,omitempty"`
	M  map[string]value `cbor:"m,omitempty" json:"m,omitempty" msgpack:"m,omitempty"`
	SS []string         `cbor:"ss,omitempty" json:"ss,omitempty" msgpack:"ss,omitempty"`
	NS []string         `cbor:"ns,omitempty" json:"ns,omitempty" msgpack:"ns,omitempty"`
	BS [][]byte         `cbor:"bs,omitempty" json:"bs,omitempty" msgpack:"bs,omitempty"`
}

func fromItem(item Item) (map[string]value, error) {
	out := make(map[string]value, len(item))
	for name, av := range item {
		v, err := fromAttr(av)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", name, err)
		}
		out[name] = v
	}
	return out, nil
}

func toItem(m map[string]value) (Item, error) {
	item := make(Item, len(m))
	for name, v := range m {
		av, err := toAttr(v)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", name, err)
		}
		item[name] = av
	}
	return item, nil
}

func fromAttr(av types.AttributeValue) (value, error) {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return value{T: tString, S: v.Value}, nil
	case *types.AttributeValueMemberN:
		return value{T: tNumber, N: v.Value}, nil
	case *types.AttributeValueMemberB:
		return value{T: tBinary, B: v.Value}, nil
	case *types.AttributeValueMemberBOOL:
		return value{T: tBool, BL: v.Value}, nil
	case *types.AttributeValueMemberNULL:
		return value{T: tNull}, nil
	case *types.AttributeValueMemberL:
		l := make([]value, len(v.Value))
		for i, el := range v.Value {
			lv, err := fromAttr(el)
			if err != nil {
				return value{}, fmt.Errorf("[%d]: %w", i, err)
			}
			l[i] = lv
		}
		return value{T: tList, L: l}, nil
	case *types.AttributeValueMemberM:
		m := make(map[string]value, len(v.Value))
		for name, el := range v.Value {
			mv, err := fromAttr(el)
			if err != nil {
				return value{}, fmt.Errorf("%q: %w", name, err)
			}
			m[name] = mv
		}
		return value{T: tMap, M: m}, nil
	case *types.AttributeValueMemberSS:
		return value{T: tStringSet, SS: v.Value}, nil
	case *types.AttributeValueMemberNS:
		return value{T: tNumberSet, NS: v.Value}, nil
	case *types.AttributeValueMemberBS:
		return value{T: tBinarySet, BS: v.Value}, nil
	default:
		return value{}, fmt.Errorf("%w: %T", ErrUnsupportedType, av)
	}
}

func toAttr(v value) (types.AttributeValue, error) {
	switch v.T {
	case tString:
		return &types.AttributeValueMemberS{Value: v.S}, nil
	case tNumber:
		return &types.AttributeValueMemberN{Value: v.N}, nil
	case tBinary:
		return &types.AttributeValueMemberB{Value: v.B}, nil
	case tBool:
		return &types.AttributeValueMemberBOOL{Value: v.BL}, nil
	case tNull:
		return &types.AttributeValueMemberNULL{Value: true}, nil
	case tList:
		l := make([]types.AttributeValue, len(v.L))
		for i, el := range v.L {
			av, err := toAttr(el)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			l[i] = av
		}
		return &types.AttributeValueMemberL{Value: l}, nil
	case tMap:
		m := make(map[string]types.AttributeValue, len(v.M))
		for name, el := range v.M {
			av, err := toAttr(el)
			if err != nil {
				return nil, fmt.Errorf("%q: %w", name, err)
			}
			m[name] = av
		}
		return &types.AttributeValueMemberM{Value: m}, nil
	case tStringSet:
		return &types.AttributeValueMemberSS{Value: v.SS}, nil
	case tNumberSet:
		return &types.AttributeValueMemberNS{Value: v.NS}, nil
	case tBinarySet:
		return &types.AttributeValueMemberBS{Value: v.BS}, nil
	default:
		return nil, fmt.Errorf("%w: unknown type tag %d", ErrCorrupt, v.T)
	}
}
