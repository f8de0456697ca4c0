package detector

import "fmt"

// Keys under which a batch item may carry image bytes.
const (
	KeyBody = "body"
	KeyData = "data"
)

// Payload is the request as delivered by the serving runtime. It is either a
// RawPayload or a BatchPayload.
type Payload interface {
	payload()
}

// RawPayload is image bytes passed directly.
type RawPayload []byte

// Item is one request of a batch, keyed by field name.
type Item map[string][]byte

// BatchPayload is a list of requests. Only the first item is used.
type BatchPayload []Item

func (RawPayload) payload()   {}
func (BatchPayload) payload() {}

// Bytes normalizes a payload into the raw image bytes it carries. For a batch
// the first item's "body" wins and "data" is the fallback.
func Bytes(p Payload) ([]byte, error) {
	switch v := p.(type) {
	case RawPayload:
		if len(v) == 0 {
			return nil, fmt.Errorf("%w: empty image payload", ErrInvalidInput)
		}
		return v, nil
	case BatchPayload:
		if len(v) == 0 {
			return nil, fmt.Errorf("%w: empty request batch", ErrInvalidInput)
		}
		if b := v[0][KeyBody]; len(b) > 0 {
			return b, nil
		}
		if b := v[0][KeyData]; len(b) > 0 {
			return b, nil
		}
		return nil, fmt.Errorf("%w: no image data found in request", ErrInvalidInput)
	case nil:
		return nil, fmt.Errorf("%w: no payload", ErrInvalidInput)
	default:
		return nil, fmt.Errorf("%w: unsupported payload type %T", ErrInvalidInput, p)
	}
}
