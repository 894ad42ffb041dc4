package mdoc

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// TagEncodedCBOR is the tag for embedded CBOR data items (#6.24).
const TagEncodedCBOR = 24

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	// Deterministic map ordering keeps transcripts and signed payloads byte-stable.
	encMode, err = cbor.EncOptions{
		Sort:    cbor.SortCoreDeterministic,
		Time:    cbor.TimeRFC3339,
		TimeTag: cbor.EncTagRequired,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create cbor enc mode: %v", err))
	}

	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create cbor dec mode: %v", err))
	}
}

// Marshal encodes v with the encoding rules shared by every wire structure.
func Marshal(v interface{}) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v interface{}) error {
	if len(data) == 0 {
		return fmt.Errorf("empty cbor data")
	}
	return decMode.Unmarshal(data, v)
}

// TaggedCBOR holds the inner bytes of a #6.24(bstr .cbor T) item.
type TaggedCBOR []byte

// NewTaggedCBOR encodes v and wraps the result.
func NewTaggedCBOR(v interface{}) (TaggedCBOR, error) {
	b, err := Marshal(v)
	if err != nil {
		return nil, err
	}
	return TaggedCBOR(b), nil
}

func (t TaggedCBOR) MarshalCBOR() ([]byte, error) {
	return encMode.Marshal(cbor.Tag{
		Number:  TagEncodedCBOR,
		Content: []byte(t),
	})
}

func (t *TaggedCBOR) UnmarshalCBOR(data []byte) error {
	var tag cbor.Tag
	if err := decMode.Unmarshal(data, &tag); err != nil {
		return fmt.Errorf("failed to unmarshal tagged cbor: %w", err)
	}
	if tag.Number != TagEncodedCBOR {
		return fmt.Errorf("unexpected tag number: %d", tag.Number)
	}
	content, ok := tag.Content.([]byte)
	if !ok {
		return fmt.Errorf("unexpected tagged content type: %T", tag.Content)
	}
	*t = TaggedCBOR(content)
	return nil
}

// Decode unmarshals the embedded item into v.
func (t TaggedCBOR) Decode(v interface{}) error {
	return Unmarshal(t, v)
}

// TaggedBytes returns the full encoding including the tag.
func (t TaggedCBOR) TaggedBytes() ([]byte, error) {
	return t.MarshalCBOR()
}
