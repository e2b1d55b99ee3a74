package assistant

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	schemagen "github.com/invopop/jsonschema"
)

const isoDate = "2006-01-02"

// Date is a calendar date that decodes leniently from model output. Values
// that do not name one unambiguous day decode as the null Date.
type Date struct {
	t     time.Time
	valid bool
}

// NewDate returns the Date for y-m-d.
func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC), valid: true}
}

// Valid reports whether d holds a date.
func (d Date) Valid() bool { return d.valid }

// Time returns the date at midnight UTC.
func (d Date) Time() time.Time { return d.t }

// String formats the date as YYYY-MM-DD, or "null".
func (d Date) String() string {
	if !d.valid {
		return "null"
	}
	return d.t.Format(isoDate)
}

// MarshalJSON encodes the date as an ISO-8601 string or null.
func (d Date) MarshalJSON() ([]byte, error) {
	if !d.valid {
		return []byte("null"), nil
	}
	return json.Marshal(d.t.Format(isoDate))
}

// UnmarshalJSON accepts null, any string ParseDate understands, and leaves
// d null for strings it does not.
func (d *Date) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*d = Date{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("date must be a string: %w", err)
	}
	parsed, ok := ParseDate(s)
	if !ok {
		*d = Date{}
		return nil
	}
	*d = parsed
	return nil
}

// JSONSchema describes Date to the model.
func (Date) JSONSchema() *schemagen.Schema {
	return &schemagen.Schema{
		Type:        "string",
		Description: "calendar date in ISO-8601 format (YYYY-MM-DD)",
	}
}

var naturalLayouts = []string{
	isoDate,
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006/01/02",
	"2006.01.02",
	"January 2, 2006",
	"January 2 2006",
	"Jan 2, 2006",
	"Jan 2 2006",
	"2 January 2006",
	"2 January, 2006",
	"2 Jan 2006",
	"Monday, January 2, 2006",
	"Mon, Jan 2, 2006",
}

var (
	ordinalSuffix = regexp.MustCompile(`(\d)(st|nd|rd|th)\b`)
	numericDate   = regexp.MustCompile(`^(\d{1,2})[/.\-](\d{1,2})[/.\-](\d{4})$`)
)

// ParseDate parses ISO-8601 dates and unambiguous natural forms such as
// "July 4, 1968", "4th July 1968" or "1968/07/04". Day-month-year numerals
// are accepted only when the order cannot be misread; "04/07/1968" and a
// bare year are rejected.
func ParseDate(s string) (Date, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Date{}, false
	}
	s = ordinalSuffix.ReplaceAllString(s, "$1")
	s = strings.Join(strings.Fields(s), " ")

	for _, layout := range naturalLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return NewDate(t.Year(), t.Month(), t.Day()), true
		}
	}

	if m := numericDate.FindStringSubmatch(s); m != nil {
		a, _ := strconv.Atoi(m[1])
		b, _ := strconv.Atoi(m[2])
		year, _ := strconv.Atoi(m[3])

		var month, day int
		switch {
		case a == b:
			month, day = a, b
		case a > 12 && b <= 12:
			day, month = a, b
		case b > 12 && a <= 12:
			month, day = a, b
		default:
			return Date{}, false
		}
		return validDate(year, month, day)
	}
	return Date{}, false
}

func validDate(year, month, day int) (Date, bool) {
	if month < 1 || month > 12 || day < 1 {
		return Date{}, false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day {
		return Date{}, false
	}
	return NewDate(year, time.Month(month), day), true
}
