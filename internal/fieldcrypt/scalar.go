package fieldcrypt

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// encodeScalar returns the tagged plaintext for v. ok is false for nil.
func encodeScalar(v any) (plain string, ok bool, err error) {
	if v == nil {
		return "", false, nil
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return "", false, nil
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return string(tagInt) + ":" + strconv.FormatInt(rv.Int(), 10), true, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return "", false, fmt.Errorf("%w: %d overflows int64", ErrUnsupportedType, u)
		}
		return string(tagInt) + ":" + strconv.FormatUint(u, 10), true, nil
	case reflect.Float32:
		return string(tagFloat) + ":" + strconv.FormatFloat(rv.Float(), 'g', -1, 32), true, nil
	case reflect.Float64:
		f := rv.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return "", false, fmt.Errorf("%w: non-finite float", ErrUnsupportedType)
		}
		return string(tagFloat) + ":" + strconv.FormatFloat(f, 'g', -1, 64), true, nil
	case reflect.String:
		return string(tagString) + ":" + rv.String(), true, nil
	}

	return "", false, fmt.Errorf("%w: %T", ErrUnsupportedType, v)
}

var errBadPayload = errors.New("bad payload")

func decodeScalar(plain string) (any, error) {
	if len(plain) < 2 || plain[1] != ':' {
		return nil, errBadPayload
	}
	body := plain[2:]

	switch plain[0] {
	case tagInt:
		return strconv.ParseInt(body, 10, 64)
	case tagFloat:
		return strconv.ParseFloat(body, 64)
	case tagString:
		return body, nil
	}
	return nil, errBadPayload
}

// normalizeNumber maps any Go numeric kind to int64 or float64.
func normalizeNumber(v any) (any, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return nil, false
}

// parseNumber coerces a legacy numeric string: integers first, then floats.
func parseNumber(s string) (any, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i, true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return f, true
	}
	return nil, false
}

func formatScalar(v any) string {
	switch n := v.(type) {
	case string:
		return n
	case int64:
		return strconv.FormatInt(n, 10)
	case float64:
		return strconv.FormatFloat(n, 'g', -1, 64)
	}
	return fmt.Sprint(v)
}
