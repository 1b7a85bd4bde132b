package datagen

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ParseStrategy is one attempt at recovering structured data from a freeform
// completion. Strategies are tried in order and the first success wins.
type ParseStrategy interface {
	Name() string
	Parse(text string) (any, error)
}

type ParseError struct {
	Strategy string
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %v", e.Strategy, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

var errNoData = errors.New("no usable data")

var DefaultStrategies = []ParseStrategy{
	wholeDocument{},
	fromFirstBracket{},
	objectLines{},
}

// ParseResponse runs the strategies in order and returns the first
// successfully parsed value. If every strategy fails the returned error
// joins the individual *ParseError values.
func ParseResponse(text string, strategies ...ParseStrategy) (any, error) {
	if len(strategies) == 0 {
		strategies = DefaultStrategies
	}

	errs := make([]error, 0, len(strategies))
	for _, strategy := range strategies {
		data, err := strategy.Parse(text)
		if err == nil {
			return data, nil
		}
		var perr *ParseError
		if !errors.As(err, &perr) {
			err = &ParseError{Strategy: strategy.Name(), Err: err}
		}
		errs = append(errs, err)
	}

	return nil, errors.Join(errs...)
}

func decodeJSON(text string) (any, error) {
	decoder := json.NewDecoder(strings.NewReader(text))
	decoder.UseNumber()

	var data any
	if err := decoder.Decode(&data); err != nil {
		return nil, err
	}
	// Anything other than whitespace after the first value is an error, same
	// as json.Unmarshal.
	if _, err := decoder.Token(); err != io.EOF {
		return nil, fmt.Errorf("invalid character after top-level value")
	}
	return data, nil
}

type wholeDocument struct{}

func (wholeDocument) Name() string { return "whole_document" }

func (s wholeDocument) Parse(text string) (any, error) {
	data, err := decodeJSON(text)
	if err != nil {
		return nil, &ParseError{Strategy: s.Name(), Err: err}
	}
	return data, nil
}

type fromFirstBracket struct{}

func (fromFirstBracket) Name() string { return "from_first_bracket" }

func (s fromFirstBracket) Parse(text string) (any, error) {
	start := strings.IndexByte(text, '[')
	if start < 0 {
		return nil, &ParseError{Strategy: s.Name(), Err: errors.New("no '[' in response")}
	}
	data, err := decodeJSON(text[start:])
	if err != nil {
		return nil, &ParseError{Strategy: s.Name(), Err: err}
	}
	return data, nil
}

type objectLines struct{}

func (objectLines) Name() string { return "object_lines" }

func (s objectLines) Parse(text string) (any, error) {
	var objects []any
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(strings.TrimSpace(line), ",")
		if !strings.HasPrefix(line, "{") || !strings.HasSuffix(line, "}") {
			continue
		}
		obj, err := decodeJSON(line)
		if err != nil {
			continue
		}
		objects = append(objects, obj)
	}

	if len(objects) == 0 {
		return nil, &ParseError{Strategy: s.Name(), Err: errNoData}
	}
	return objects, nil
}

func stringValue(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case nil:
		return ""
	case json.Number:
		return v.String()
	case map[string]any, []any:
		var buf bytes.Buffer
		encoder := json.NewEncoder(&buf)
		encoder.SetEscapeHTML(false)
		if err := encoder.Encode(v); err != nil {
			return fmt.Sprint(v)
		}
		return strings.TrimSpace(buf.String())
	default:
		return fmt.Sprint(v)
	}
}
