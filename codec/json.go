package codec

import (
	"encoding/json"
	"fmt"
)

type JSONCodec struct{}

var _ Codec = JSONCodec{}

func (JSONCodec) Encode(item Item) ([]byte, error) {
	m, err := fromItem(item)
	if err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

func (JSONCodec) Decode(b []byte) (Item, error) {
	var m map[string]value
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return toItem(m)
}
