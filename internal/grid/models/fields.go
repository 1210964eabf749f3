package models

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"

	dErrors "gridsync/pkg/domain-errors"
)

const (
	FieldClientName     = "client_name"
	FieldContractNumber = "contract_number"
	FieldAmount         = "amount"
	FieldStatus         = "status"
	FieldManagerComment = "manager_comment"
)

// Kind is the value type of an editable field.
type Kind int

const (
	KindText Kind = iota
	KindNumber
)

// Field describes one editable field. Column is the only identifier ever
// interpolated into SQL.
type Field struct {
	Name   string
	Column string
	Kind   Kind
}

var editable = map[string]Field{
	FieldClientName:     {Name: FieldClientName, Column: "client_name", Kind: KindText},
	FieldContractNumber: {Name: FieldContractNumber, Column: "contract_number", Kind: KindText},
	FieldAmount:         {Name: FieldAmount, Column: "amount", Kind: KindNumber},
	FieldStatus:         {Name: FieldStatus, Column: "status", Kind: KindText},
	FieldManagerComment: {Name: FieldManagerComment, Column: "manager_comment", Kind: KindText},
}

// EditableField looks a field up in the allow-list.
func EditableField(name string) (Field, bool) {
	f, ok := editable[name]
	return f, ok
}

// EditableFields lists the allow-list in stable order.
func EditableFields() []string {
	names := make([]string, 0, len(editable))
	for name := range editable {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

const (
	maxTextLength  = 2000
	maxAmountScale = 2
)

// Normalize converts a decoded JSON value into the field's Go type: string for
// text fields, float64 for numeric fields.
func (f Field) Normalize(raw any) (any, error) {
	if raw == nil {
		return nil, dErrors.New(dErrors.CodeInvalidValue, "value is required")
	}
	if f.Kind == KindNumber {
		n, err := toNumber(raw)
		if err != nil {
			return nil, err
		}
		return n, nil
	}

	var s string
	switch v := raw.(type) {
	case string:
		s = v
	case json.Number:
		s = v.String()
	case float64:
		s = strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		s = strconv.Itoa(v)
	case int64:
		s = strconv.FormatInt(v, 10)
	default:
		return nil, dErrors.New(dErrors.CodeInvalidValue, "value must be text")
	}
	if len([]rune(s)) > maxTextLength {
		return nil, dErrors.New(dErrors.CodeInvalidValue, "value is too long")
	}
	return s, nil
}

func toNumber(raw any) (float64, error) {
	var n float64
	switch v := raw.(type) {
	case float64:
		n = v
	case int:
		n = float64(v)
	case int64:
		n = float64(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, dErrors.New(dErrors.CodeInvalidValue, "value must be a number")
		}
		n = f
	case string:
		cleaned := strings.ReplaceAll(strings.TrimSpace(v), " ", "")
		cleaned = strings.ReplaceAll(cleaned, ",", ".")
		f, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return 0, dErrors.New(dErrors.CodeInvalidValue, "value must be a number")
		}
		n = f
	default:
		return 0, dErrors.New(dErrors.CodeInvalidValue, "value must be a number")
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, dErrors.New(dErrors.CodeInvalidValue, "value must be a finite number")
	}
	if math.Abs(n) >= 1e12 {
		return 0, dErrors.New(dErrors.CodeInvalidValue, "value is out of range")
	}
	// amount is NUMERIC(14, 2); anything finer would be rounded on write.
	if fractionDigits(n) > maxAmountScale {
		return 0, dErrors.New(dErrors.CodeInvalidValue, "value has more than two decimal places")
	}
	return n, nil
}

func fractionDigits(n float64) int {
	s := strconv.FormatFloat(n, 'f', -1, 64)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return len(s) - i - 1
	}
	return 0
}

// FormatValue renders a normalized value the way audit entries record it.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		b, _ := json.Marshal(x)
		return string(b)
	}
}
