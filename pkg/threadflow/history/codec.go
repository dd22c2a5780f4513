package history

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// encMode uses Core Deterministic Encoding so the same record always
// produces identical bytes. Timestamps keep nanoseconds.
var encMode cbor.EncMode

// decMode decodes any-typed values into map[string]any rather than the
// CBOR default map[interface{}]interface{}.
var decMode cbor.DecMode

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("history: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("history: CBOR decoder initialization failed: " + err.Error())
	}
}

// Encode serializes a payload value with the log's codec.
// Struct fields honor `cbor` tags and fall back to `json` tags.
func Encode(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Decode deserializes a payload produced by Encode into v.
func Decode(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}
