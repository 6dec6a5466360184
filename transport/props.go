package transport

// Property decoding helpers. The daemon reports numeric properties in a
// handful of integer widths depending on the bus binding, so the
// accessors coerce instead of type-asserting a single width.

func Uint32(value interface{}) (uint32, bool) {
	switch v := value.(type) {
	case uint32:
		return v, true
	case int32:
		return uint32(v), true
	case uint8:
		return uint32(v), true
	case uint16:
		return uint32(v), true
	case uint64:
		return uint32(v), true
	case int:
		return uint32(v), true
	default:
		return 0, false
	}
}

func Uint8(value interface{}) (uint8, bool) {
	switch v := value.(type) {
	case uint8:
		return v, true
	case uint32:
		return uint8(v), true
	case int:
		return uint8(v), true
	default:
		return 0, false
	}
}

func String(value interface{}) (string, bool) {
	s, ok := value.(string)
	return s, ok
}

func Strings(value interface{}) ([]string, bool) {
	switch v := value.(type) {
	case []string:
		return v, true
	case []interface{}:
		strings := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			strings = append(strings, s)
		}
		return strings, true
	default:
		return nil, false
	}
}

func Bytes(value interface{}) ([]byte, bool) {
	switch v := value.(type) {
	case []byte:
		return v, true
	case string:
		return []byte(v), true
	default:
		return nil, false
	}
}

func Bool(value interface{}) (bool, bool) {
	b, ok := value.(bool)
	return b, ok
}
