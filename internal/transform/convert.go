package transform

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/milkywaybrain/bondetl/internal/source"
)

// Coercions from SQL scanned values. A nil value or blank text is absent.

func text(v interface{}) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		s := strings.TrimSpace(x)
		return s, s != ""
	case []byte:
		s := strings.TrimSpace(string(x))
		return s, s != ""
	}
	return strings.TrimSpace(fmt.Sprint(v)), true
}

func tickFloat(row source.TickRow, field string) (*float64, error) {
	switch x := row[field].(type) {
	case float64:
		return &x, nil
	case float32:
		f := float64(x)
		return &f, nil
	case int64:
		f := float64(x)
		return &f, nil
	case int:
		f := float64(x)
		return &f, nil
	case int32:
		f := float64(x)
		return &f, nil
	}
	s, ok := text(row[field])
	if !ok {
		return nil, nil
	}
	f, err := parseFloat(field, s)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func tickInt(row source.TickRow, field string) (*int64, error) {
	var i int64
	switch x := row[field].(type) {
	case int64:
		return &x, nil
	case int:
		i = int64(x)
		return &i, nil
	case int32:
		i = int64(x)
		return &i, nil
	case uint64:
		if x > math.MaxInt64 {
			return nil, &ParseError{Field: field, Value: strconv.FormatUint(x, 10), Err: errOutOfRange}
		}
		i = int64(x)
		return &i, nil
	case float64:
		return integral(field, x, strconv.FormatFloat(x, 'f', -1, 64))
	case float32:
		return integral(field, float64(x), strconv.FormatFloat(float64(x), 'f', -1, 32))
	}
	s, ok := text(row[field])
	if !ok {
		return nil, nil
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return &v, nil
	}
	// DECIMAL columns scan as text such as "100.00".
	f, err := parseFloat(field, s)
	if err != nil {
		return nil, err
	}
	return integral(field, f, s)
}

// integral accepts a float only when it holds a whole number within int64.
func integral(field string, f float64, raw string) (*int64, error) {
	if f != math.Trunc(f) || math.IsInf(f, 0) || math.IsNaN(f) {
		return nil, &ParseError{Field: field, Value: raw, Err: errNotIntegral}
	}
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return nil, &ParseError{Field: field, Value: raw, Err: errOutOfRange}
	}
	i := int64(f)
	return &i, nil
}

func tickRequiredInt(row source.TickRow, field string) (int64, error) {
	v, err := tickInt(row, field)
	if err != nil {
		return 0, err
	}
	if v == nil {
		return 0, &ParseError{Field: field, Err: errMissing}
	}
	return *v, nil
}

func (n *Normalizer) tickDate(row source.TickRow, field string) (time.Time, error) {
	switch x := row[field].(type) {
	case time.Time:
		y, m, d := x.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, n.loc), nil
	case int64:
		return n.parseDate(field, strconv.FormatInt(x, 10))
	}
	s, ok := text(row[field])
	if !ok {
		return time.Time{}, &ParseError{Field: field, Err: errMissing}
	}
	return n.parseDate(field, s)
}

// tickTimestamp returns the zero time when the field is absent. A scanned
// DATETIME keeps its wall clock and is placed in the normalizer's location,
// whatever zone the driver attached.
func (n *Normalizer) tickTimestamp(row source.TickRow, field string) (time.Time, error) {
	if t, ok := row[field].(time.Time); ok {
		if t.IsZero() {
			return t, nil
		}
		y, mo, d := t.Date()
		h, mi, sec := t.Clock()
		return time.Date(y, mo, d, h, mi, sec, t.Nanosecond(), n.loc), nil
	}
	s, ok := text(row[field])
	if !ok {
		return time.Time{}, nil
	}
	return n.parseTimestamp(field, s)
}

// Depth arrays arrive either as native slices or as JSON array text.

func tickFloats(row source.TickRow, field string) ([]float64, bool) {
	switch x := row[field].(type) {
	case []float64:
		return x, true
	case string:
		return decodeFloats(x)
	case []byte:
		return decodeFloats(string(x))
	}
	return nil, false
}

func tickInts(row source.TickRow, field string) ([]int64, bool) {
	switch x := row[field].(type) {
	case []int64:
		return x, true
	case string:
		return decodeInts(x)
	case []byte:
		return decodeInts(string(x))
	}
	return nil, false
}

func decodeFloats(s string) ([]float64, bool) {
	var out []float64
	if err := jsoniter.UnmarshalFromString(strings.TrimSpace(s), &out); err != nil {
		return nil, false
	}
	return out, true
}

func decodeInts(s string) ([]int64, bool) {
	var out []int64
	if err := jsoniter.UnmarshalFromString(strings.TrimSpace(s), &out); err != nil {
		return nil, false
	}
	return out, true
}
