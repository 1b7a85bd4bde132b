package datagen

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResponseFirstStrategyWins(t *testing.T) {
	data, err := ParseResponse(`[{"input": "a", "output": "b"}]`)
	require.NoError(t, err)
	assert.Equal(t, []any{map[string]any{"input": "a", "output": "b"}}, data)
}

func TestParseResponseTrailingTextFallsThrough(t *testing.T) {
	// Trailing prose after the array defeats the first two strategies, the
	// object line is still recovered.
	text := "[\n" + `{"input": "a", "output": "b"}` + "\n]\nHope this helps!"
	data, err := ParseResponse(text)
	require.NoError(t, err)
	assert.Equal(t, []any{map[string]any{"input": "a", "output": "b"}}, data)
}

func TestParseResponseAllFail(t *testing.T) {
	_, err := ParseResponse("nothing to see here")
	require.Error(t, err)

	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "whole_document", perr.Strategy)
	assert.ErrorIs(t, err, errNoData)
}

func TestParseResponseEmpty(t *testing.T) {
	_, err := ParseResponse("")
	assert.ErrorIs(t, err, errNoData)
}

func TestObjectLinesTrimsCommas(t *testing.T) {
	data, err := objectLines{}.Parse(`{"input": "a", "output": "b"},,` + "\n" + `   {"input": "c", "output": "d"}   `)
	require.NoError(t, err)
	assert.Len(t, data, 2)
}

func TestParseResponseKeepsNumbers(t *testing.T) {
	data, err := ParseResponse(`[{"input": 1.50, "output": "x"}]`)
	require.NoError(t, err)
	obj := data.([]any)[0].(map[string]any)
	assert.Equal(t, json.Number("1.50"), obj["input"])
	assert.Equal(t, "1.50", stringValue(obj["input"]))
}

type constStrategy struct {
	value any
	err   error
}

func (constStrategy) Name() string { return "const" }

func (s constStrategy) Parse(string) (any, error) { return s.value, s.err }

func TestParseResponseCustomStrategies(t *testing.T) {
	data, err := ParseResponse("ignored", constStrategy{err: errors.New("nope")}, constStrategy{value: "ok"})
	require.NoError(t, err)
	assert.Equal(t, "ok", data)

	_, err = ParseResponse("ignored", constStrategy{err: errors.New("nope")})
	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "const", perr.Strategy)
}
