package listing

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/buger/jsonparser"
)

// ErrUnexpectedShape is returned when a response body is not a JSON array of
// objects.
var ErrUnexpectedShape = errors.New("unexpected response shape")

// DecodePage decodes a listing response body. The body must be a JSON array
// whose elements are all objects.
func DecodePage(body []byte) (Page, error) {
	if !json.Valid(body) {
		return nil, fmt.Errorf("%w: body is not valid JSON", ErrUnexpectedShape)
	}

	_, dataType, _, err := jsonparser.Get(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedShape, err)
	}
	if dataType != jsonparser.Array {
		return nil, fmt.Errorf("%w: got %s, want array", ErrUnexpectedShape, dataType)
	}

	page := Page{}
	var decodeErr error
	index := 0
	_, err = jsonparser.ArrayEach(body, func(value []byte, dataType jsonparser.ValueType, _ int, err error) {
		defer func() { index++ }()
		if decodeErr != nil {
			return
		}
		if err != nil {
			decodeErr = err
			return
		}
		if dataType != jsonparser.Object {
			decodeErr = fmt.Errorf("%w: element %d is %s, want object", ErrUnexpectedShape, index, dataType)
			return
		}
		item, err := decodeItem(value)
		if err != nil {
			decodeErr = fmt.Errorf("element %d: %w", index, err)
			return
		}
		page = append(page, item)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedShape, err)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}

	return page, nil
}

func decodeItem(data []byte) (Item, error) {
	item := Item{}
	err := jsonparser.ObjectEach(data, func(key []byte, value []byte, dataType jsonparser.ValueType, _ int) error {
		v, err := decodeValue(value, dataType)
		if err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}
		item = item.Set(string(key), v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

func decodeValue(value []byte, dataType jsonparser.ValueType) (any, error) {
	switch dataType {
	case jsonparser.String:
		return jsonparser.ParseString(value)
	case jsonparser.Number:
		return json.Number(value), nil
	case jsonparser.Boolean:
		return jsonparser.ParseBoolean(value)
	case jsonparser.Null:
		return nil, nil
	case jsonparser.Object, jsonparser.Array:
		raw := make(json.RawMessage, len(value))
		copy(raw, value)
		return raw, nil
	default:
		return nil, fmt.Errorf("unsupported value type %s", dataType)
	}
}
