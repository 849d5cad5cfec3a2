package table

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Kind is the storage type of a column
type Kind uint8

const (
	Number Kind = iota
	Text
	Date
)

// DateLayout is the layout used when dates are rendered as strings
const DateLayout = "2006-01-02"

func (k Kind) String() string {
	switch k {
	case Number:
		return "number"
	case Text:
		return "text"
	case Date:
		return "date"
	default:
		return "unknown"
	}
}

// Categorical reports whether values of this kind aggregate by max rather than mean
func (k Kind) Categorical() bool {
	return k != Number
}

// Value is a single nullable cell
type Value struct {
	kind  Kind
	valid bool
	num   float64
	text  string
	date  time.Time
}

// Num creates a numeric value
func Num(f float64) Value {
	return Value{kind: Number, valid: true, num: f}
}

// Str creates a text value
func Str(s string) Value {
	return Value{kind: Text, valid: true, text: s}
}

// Day creates a date value truncated to the UTC calendar day
func Day(t time.Time) Value {
	t = t.UTC()
	return Value{kind: Date, valid: true, date: time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)}
}

// Null creates a missing value of the given kind
func Null(k Kind) Value {
	return Value{kind: k}
}

// NumOrNull returns a null number for NaN or infinite inputs
func NumOrNull(f float64) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Null(Number)
	}
	return Num(f)
}

// StrOrNull returns a null text value for blank strings
func StrOrNull(s string) Value {
	if strings.TrimSpace(s) == "" {
		return Null(Text)
	}
	return Str(s)
}

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return !v.valid }

// AsFloat returns the numeric content
func (v Value) AsFloat() (float64, bool) {
	if !v.valid || v.kind != Number {
		return 0, false
	}
	return v.num, true
}

// AsString returns the text content
func (v Value) AsString() (string, bool) {
	if !v.valid || v.kind != Text {
		return "", false
	}
	return v.text, true
}

// AsTime returns the date content
func (v Value) AsTime() (time.Time, bool) {
	if !v.valid || v.kind != Date {
		return time.Time{}, false
	}
	return v.date, true
}

// IsZero reports whether the value is null or a numeric zero
func (v Value) IsZero() bool {
	if !v.valid {
		return true
	}
	return v.kind == Number && v.num == 0
}

// Equal compares two values; nulls are equal to each other
func (v Value) Equal(o Value) bool {
	return v.Compare(o) == 0
}

// Compare orders values of the same kind, nulls first
func (v Value) Compare(o Value) int {
	switch {
	case !v.valid && !o.valid:
		return 0
	case !v.valid:
		return -1
	case !o.valid:
		return 1
	}
	if v.kind != o.kind {
		return int(v.kind) - int(o.kind)
	}
	switch v.kind {
	case Number:
		switch {
		case v.num < o.num:
			return -1
		case v.num > o.num:
			return 1
		}
		return 0
	case Date:
		return v.date.Compare(o.date)
	default:
		return strings.Compare(v.text, o.text)
	}
}

// String renders the value for output; nulls render empty
func (v Value) String() string {
	if !v.valid {
		return ""
	}
	switch v.kind {
	case Number:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case Date:
		return v.date.Format(DateLayout)
	default:
		return v.text
	}
}

func (v Value) key() string {
	if !v.valid {
		return "\x00"
	}
	switch v.kind {
	case Number:
		return "n" + strconv.FormatFloat(v.num, 'g', -1, 64)
	case Date:
		return "d" + v.date.Format(DateLayout)
	default:
		return "s" + v.text
	}
}
