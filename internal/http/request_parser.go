// Package http provides the JSON API server and its handlers.
//
// This file implements request decoding, validation and query parsing.

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"dogepal/internal/core"
)

const maxBodyBytes = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report JSON field names rather than Go field names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// errBadRequest marks malformed input that never reached validation.
var errBadRequest = errors.New("bad request")

// decodeJSON reads a single JSON object from the body into dst and
// validates it. Unknown fields are rejected.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) (map[string]string, error) {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty body", errBadRequest)
		}
		return nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after JSON object", errBadRequest)
	}
	return validationDetails(validate.Struct(dst))
}

// validationDetails turns validator errors into a field to message map.
func validationDetails(err error) (map[string]string, error) {
	if err == nil {
		return nil, nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil, err
	}
	details := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		details[fe.Field()] = describe(fe)
	}
	return details, nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "datetime":
		return "must be a date formatted YYYY-MM-DD"
	default:
		return "is invalid (" + fe.Tag() + ")"
	}
}

// queryParser accumulates query parameter errors so a handler can report
// all of them at once.
type queryParser struct {
	values url.Values
	errs   map[string]string
}

func newQueryParser(values url.Values) *queryParser {
	return &queryParser{values: values, errs: map[string]string{}}
}

func (p *queryParser) String(name string) string {
	return strings.TrimSpace(p.values.Get(name))
}

func (p *queryParser) Int(name string, def int) int {
	v := p.String(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		p.errs[name] = "must be a non-negative integer"
		return def
	}
	return n
}

func (p *queryParser) Float(name string) *float64 {
	v := p.String(name)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		p.errs[name] = "must be a number"
		return nil
	}
	return &f
}

// Unit parses a value in [0,1], returning def when absent.
func (p *queryParser) Unit(name string, def float64) float64 {
	f := p.Float(name)
	if f == nil {
		return def
	}
	if *f < 0 || *f > 1 {
		p.errs[name] = "must be between 0 and 1"
		return def
	}
	return *f
}

func (p *queryParser) Date(name string) *core.Date {
	v := p.String(name)
	if v == "" {
		return nil
	}
	d, err := core.ParseDate(v)
	if err != nil {
		p.errs[name] = "must be a date formatted YYYY-MM-DD"
		return nil
	}
	return &d
}

func (p *queryParser) Err() map[string]string {
	if len(p.errs) == 0 {
		return nil
	}
	return p.errs
}
