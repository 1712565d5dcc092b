package forward

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Encoding selects the wire format of forwarded events.
type Encoding string

const (
	EncodingJSON Encoding = "json"
	EncodingCBOR Encoding = "cbor"
)

// Content types matching the encodings.
const (
	ContentTypeJSON = "application/json"
	ContentTypeCBOR = "application/cbor"
)

// cborEncMode is deterministic so identical events produce identical bytes.
var cborEncMode cbor.EncMode

var cborDecMode cbor.DecMode

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}
	cborEncMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create event CBOR encoder mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyQuiet,
		IndefLength: cbor.IndefLengthAllowed,
	}
	cborDecMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create event CBOR decoder mode: %v", err))
	}
}

// ParseEncoding validates an encoding name. Empty means JSON.
func ParseEncoding(s string) (Encoding, error) {
	switch Encoding(s) {
	case "", EncodingJSON:
		return EncodingJSON, nil
	case EncodingCBOR:
		return EncodingCBOR, nil
	default:
		return "", fmt.Errorf("unknown payload encoding %q", s)
	}
}

// ContentType returns the MIME type of the encoding.
func (e Encoding) ContentType() string {
	if e == EncodingCBOR {
		return ContentTypeCBOR
	}
	return ContentTypeJSON
}

// Marshal encodes ev.
func (e Encoding) Marshal(ev *Event) ([]byte, error) {
	switch e {
	case EncodingCBOR:
		data, err := cborEncMode.Marshal(ev)
		if err != nil {
			return nil, fmt.Errorf("cbor marshal failed: %w", err)
		}
		return data, nil
	case "", EncodingJSON:
		data, err := json.Marshal(ev)
		if err != nil {
			return nil, fmt.Errorf("json marshal failed: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unknown payload encoding %q", string(e))
	}
}

// Unmarshal decodes data produced by Marshal.
func (e Encoding) Unmarshal(data []byte) (*Event, error) {
	var ev Event
	switch e {
	case EncodingCBOR:
		if err := cborDecMode.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("cbor unmarshal failed: %w", err)
		}
	case "", EncodingJSON:
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("json unmarshal failed: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown payload encoding %q", string(e))
	}
	return &ev, nil
}
