package processor

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"ev-pipeline/internal/domain"
)

var whitespaceRe = regexp.MustCompile(`\s+`)

// CoordinateFormatError reports a combined coordinate value that could not be
// split into latitude and longitude.
type CoordinateFormatError struct {
	Raw string
}

func (e *CoordinateFormatError) Error() string {
	return "invalid or unsupported coordinate format: " + e.Raw
}

// LatLongSplitter parses a combined coordinate field such as "47.6 -122.3" or
// "POINT (47.6 -122.3)" into two numeric fields.
type LatLongSplitter struct {
	Source    string
	Lat       string
	Long      string
	Separator string // defaults to a single space
}

// NewLatLongSplitter creates a splitter with the default separator.
func NewLatLongSplitter(source, lat, long string) LatLongSplitter {
	return LatLongSplitter{Source: source, Lat: lat, Long: long, Separator: " "}
}

func (s LatLongSplitter) Name() string { return "latlong(" + s.Source + ")" }

func (s LatLongSplitter) OutputColumns() []string { return []string{s.Lat, s.Long} }

func (s LatLongSplitter) kind() domain.ErrorKind { return domain.ErrorKindCoordinateFormat }

func (s LatLongSplitter) step(row domain.Row) (domain.Row, error) {
	row = row.Set(s.Lat, nil).Set(s.Long, nil)

	v := row.Value(s.Source)
	if v == nil {
		return row, nil
	}
	raw, ok := v.(string)
	if !ok {
		raw = fmt.Sprint(v)
	}
	sep := s.Separator
	if sep == "" {
		sep = " "
	}
	bad := &CoordinateFormatError{Raw: raw}

	payload := whitespaceRe.ReplaceAllString(raw, " ")
	if open := strings.Index(payload, "("); open >= 0 {
		closing := strings.Index(payload, ")")
		if closing < open {
			return row, bad
		}
		payload = payload[open+1 : closing]
	}
	payload = strings.TrimSpace(payload)
	if strings.Count(payload, sep) != 1 {
		return row, bad
	}

	latText, longText, _ := strings.Cut(payload, sep)
	lat, err := strconv.ParseFloat(strings.TrimSpace(latText), 64)
	if err != nil {
		return row, bad
	}
	row = row.Set(s.Lat, lat)

	long, err := strconv.ParseFloat(strings.TrimSpace(longText), 64)
	if err != nil {
		return row, bad
	}
	return row.Set(s.Long, long), nil
}
