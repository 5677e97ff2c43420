package catalog

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"
)

const defaultURLSlug = "unknown"

// FieldError describes one malformed field of a raw record.
type FieldError struct {
	Field  string
	Value  string
	Reason string
}

func (f FieldError) String() string {
	return fmt.Sprintf("%s=%q: %s", f.Field, f.Value, f.Reason)
}

// ValidationError lists every malformed field of a rejected record.
type ValidationError struct {
	GameID string
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.String())
	}
	id := e.GameID
	if id == "" {
		id = "<missing>"
	}
	return fmt.Sprintf("game %s rejected: %s", id, strings.Join(parts, "; "))
}

func (e *ValidationError) add(field, value, reason string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Value: value, Reason: reason})
}

// ValidateRecord turns a raw record into a typed one, or fails with a
// *ValidationError naming every malformed field.
func ValidateRecord(raw RawRecord) (ObservedRecord, error) {
	verr := &ValidationError{GameID: strings.TrimSpace(raw.GameID)}

	id := strings.TrimSpace(raw.GameID)
	switch {
	case id == "":
		verr.add("game_id", raw.GameID, "empty")
	case !isDigits(id):
		verr.add("game_id", raw.GameID, "must contain digits only")
	}

	name := norm.NFC.String(strings.TrimSpace(raw.GameName))
	if name == "" {
		verr.add("game_name", raw.GameName, "empty")
	}

	slug := strings.TrimSpace(raw.URLSlug)
	if slug == "" {
		slug = defaultURLSlug
	}

	if len(raw.Prizes) == 0 {
		verr.add("prizes", "", "at least one prize tier required")
	}

	prizes := make([]PrizeTier, 0, len(raw.Prizes))
	for i, rt := range raw.Prizes {
		tier, ok := validateTier(i, rt, verr)
		if ok {
			prizes = append(prizes, tier)
		}
	}

	if len(verr.Fields) > 0 {
		return ObservedRecord{}, verr
	}

	return ObservedRecord{
		ExternalID:  id,
		DisplayName: name,
		URLSlug:     slug,
		TicketPrice: strings.TrimSpace(raw.TicketPrice),
		Prizes:      prizes,
	}, nil
}

func validateTier(idx int, rt RawTier, verr *ValidationError) (PrizeTier, bool) {
	field := func(name string) string { return fmt.Sprintf("prizes[%d].%s", idx, name) }
	ok := true

	value, err := ParseCurrency(rt.Value)
	if err != nil {
		verr.add(field("value"), rt.Value, err.Error())
		ok = false
	}

	odds, err := ParseOdds(rt.Odds)
	if err != nil {
		verr.add(field("odds"), rt.Odds, err.Error())
		ok = false
	}

	count, err := ParseCount(rt.Total)
	if err != nil {
		verr.add(field("total"), rt.Total, err.Error())
		ok = false
	}

	if !ok {
		return PrizeTier{}, false
	}
	return PrizeTier{
		Value:          value,
		Odds:           odds,
		RemainingCount: count,
		RawValue:       rt.Value,
		RawOdds:        rt.Odds,
		RawTotal:       rt.Total,
	}, true
}

var (
	errEmpty       = errors.New("empty")
	errNotNumeric  = errors.New("not numeric")
	errNegative    = errors.New("negative")
	errNotPositive = errors.New("must be greater than zero")
)

// ParseCurrency parses "$1,000,000" into 1000000.
func ParseCurrency(s string) (decimal.Decimal, error) {
	cleaned := strings.TrimSpace(s)
	if r, size := utf8.DecodeRuneInString(cleaned); size > 0 && unicode.Is(unicode.Sc, r) {
		cleaned = cleaned[size:]
	}
	cleaned = strings.TrimSpace(strings.ReplaceAll(cleaned, ",", ""))
	if cleaned == "" {
		return decimal.Decimal{}, errEmpty
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Decimal{}, errNotNumeric
	}
	if d.IsNegative() {
		return decimal.Decimal{}, errNegative
	}
	return d, nil
}

// ParseOdds parses "1 in 1,469,394" (or a bare denominator) into 1469394.
func ParseOdds(s string) (decimal.Decimal, error) {
	cleaned := strings.TrimSpace(s)
	if len(cleaned) >= 4 && strings.EqualFold(cleaned[:4], "1 in") {
		cleaned = cleaned[4:]
	}
	cleaned = strings.TrimSpace(strings.ReplaceAll(cleaned, ",", ""))
	if cleaned == "" {
		return decimal.Decimal{}, errEmpty
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Decimal{}, errNotNumeric
	}
	if !d.IsPositive() {
		return decimal.Decimal{}, errNotPositive
	}
	return d, nil
}

// ParseCount parses "2,448" into 2448.
func ParseCount(s string) (int64, error) {
	cleaned := strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if cleaned == "" {
		return 0, errEmpty
	}
	n, err := strconv.ParseInt(cleaned, 10, 64)
	if err != nil {
		return 0, errNotNumeric
	}
	if n < 0 {
		return 0, errNegative
	}
	return n, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// Rejection records a raw record that failed validation.
type Rejection struct {
	Index  int
	GameID string
	Err    *ValidationError
}

// BatchResult separates accepted records from rejected ones. A rejection
// never aborts the batch.
type BatchResult struct {
	Accepted []ObservedRecord
	Rejected []Rejection
}

// ValidateBatch validates every raw record independently.
func ValidateBatch(raws []RawRecord) BatchResult {
	result := BatchResult{Accepted: make([]ObservedRecord, 0, len(raws))}
	for i, raw := range raws {
		rec, err := ValidateRecord(raw)
		if err != nil {
			var verr *ValidationError
			errors.As(err, &verr)
			result.Rejected = append(result.Rejected, Rejection{Index: i, GameID: raw.GameID, Err: verr})
			continue
		}
		result.Accepted = append(result.Accepted, rec)
	}
	return result
}
