package transform

import (
	"strconv"
	"strings"
	"time"

	"github.com/milkywaybrain/bondetl/internal/model"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Accepted raw timestamp layouts. Fractional seconds are optional.
var timestampLayouts = []string{
	"2006-01-02 15:04:05.999999999",
	"20060102-15:04:05.999999999",
}

// Accepted raw business date layouts.
var dateLayouts = []string{
	"20060102",
	"2006-01-02",
}

// ParseError reports a raw field that could not be converted.
type ParseError struct {
	Field string
	Value string
	Err   error
}

func (e *ParseError) Error() string {
	return "cannot parse " + e.Field + " " + strconv.Quote(e.Value) + ": " + e.Err.Error()
}

func (e *ParseError) Unwrap() error { return e.Err }

// Normalizer turns raw source rows into validated records.
// Raw timestamps carry no zone and are read in its location.
type Normalizer struct {
	loc *time.Location
}

// New returns a normalizer reading raw timestamps in loc, time.Local if nil.
func New(loc *time.Location) *Normalizer {
	if loc == nil {
		loc = time.Local
	}
	return &Normalizer{loc: loc}
}

// Result is the outcome of normalizing one source for one day.
type Result struct {
	Records []model.Record

	// Input is the number of units seen, rows for trades and futures, groups for quotes.
	Input int

	// Skipped counts quote groups without a receive time.
	Skipped int

	// Dropped counts units that failed parsing or validation.
	Dropped int
}

func (r *Result) add(rec model.Record) {
	r.Records = append(r.Records, rec)
}

// collect builds one input unit. A failed or panicking build drops the unit,
// a nil record without error skips it.
func (r *Result) collect(kind model.Kind, unit string, build func() (model.Record, error)) {
	r.Input++
	rec, err := protect(build)
	switch {
	case err != nil:
		r.drop(kind, unit, err)
	case rec == nil:
		r.Skipped++
	default:
		r.add(rec)
	}
}

func protect(build func() (model.Record, error)) (rec model.Record, err error) {
	defer func() {
		if p := recover(); p != nil {
			rec, err = nil, errors.Errorf("panic: %v", p)
		}
	}()
	return build()
}

func (r *Result) drop(kind model.Kind, unit string, err error) {
	r.Dropped++
	log.Warn().Err(err).Str("kind", kind.String()).Str("unit", unit).Msg("record dropped")
}

func (n *Normalizer) parseTimestamp(field, s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	var lastErr error
	for _, layout := range timestampLayouts {
		t, err := time.ParseInLocation(layout, s, n.loc)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, &ParseError{Field: field, Value: s, Err: lastErr}
}

func (n *Normalizer) parseDate(field, s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	var lastErr error
	for _, layout := range dateLayouts {
		t, err := time.ParseInLocation(layout, s, n.loc)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, &ParseError{Field: field, Value: s, Err: lastErr}
}

func parseFloat(field, s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, &ParseError{Field: field, Value: s, Err: err}
	}
	return v, nil
}

func parseInt(field, s string) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, &ParseError{Field: field, Value: s, Err: err}
	}
	return v, nil
}

// parseOptionalFloat returns nil for a blank field.
func parseOptionalFloat(field, s string) (*float64, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	v, err := parseFloat(field, s)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// yieldTypeFromCode maps the numeric yield type code, 0 is to maturity.
func yieldTypeFromCode(code int64) model.YieldType {
	if code == 0 {
		return model.YieldMaturity
	}
	return model.YieldExercise
}

// parseYieldType accepts the numeric code or the enum name. Blank means absent.
func parseYieldType(field, s string) (model.YieldType, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}
	if code, err := strconv.ParseInt(s, 10, 64); err == nil {
		return yieldTypeFromCode(code), nil
	}
	switch yt := model.YieldType(strings.ToUpper(s)); yt {
	case model.YieldMaturity, model.YieldExercise:
		return yt, nil
	}
	return "", &ParseError{Field: field, Value: s, Err: errors.New("unknown yield type")}
}
