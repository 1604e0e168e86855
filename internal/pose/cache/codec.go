package cache

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/s2"
)

// encodeValue serialises v with CBOR and, when enabled and the encoded
// form exceeds threshold, compresses it with S2. The compressed form is
// only kept when it is actually smaller.
func encodeValue[V any](v V, compress bool, threshold int) ([]byte, bool, error) {
	raw, err := cbor.Marshal(v)
	if err != nil {
		return nil, false, fmt.Errorf("encode: %w", err)
	}
	if !compress || len(raw) <= threshold {
		return raw, false, nil
	}
	packed := s2.Encode(nil, raw)
	if len(packed) >= len(raw) {
		return raw, false, nil
	}
	return packed, true, nil
}

func decodeValue[V any](payload []byte, compressed bool) (V, error) {
	var v V
	raw := payload
	if compressed {
		var err error
		raw, err = s2.Decode(nil, payload)
		if err != nil {
			return v, fmt.Errorf("%w: decompress: %v", ErrCorruptEntry, err)
		}
	}
	if err := cbor.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("%w: decode: %v", ErrCorruptEntry, err)
	}
	return v, nil
}
