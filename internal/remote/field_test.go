package remote

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFields_IntOutOfRange(t *testing.T) {
	f := Fields{
		"huge":     1e300,
		"tiny":     -1e300,
		"inf":      math.Inf(1),
		"nan":      math.NaN(),
		"twoTo63":  math.Pow(2, 63),
		"minInt64": float64(math.MinInt64),
		"large":    float64(1 << 53),
	}

	assert.False(t, f.Int("huge").Present)
	assert.False(t, f.Int("tiny").Present)
	assert.False(t, f.Int("inf").Present)
	assert.False(t, f.Int("nan").Present)
	assert.False(t, f.Int("twoTo63").Present)
	assert.Equal(t, Some(math.MinInt64), f.Int("minInt64"))
	assert.Equal(t, Some(1<<53), f.Int("large"))

	// The same values arriving as JSON numbers.
	var decoded Fields
	require.NoError(t, json.Unmarshal([]byte(`{"huge": 1e300, "ok": 12}`), &decoded))
	assert.False(t, decoded.Int("huge").Present)
	assert.Equal(t, Some(12), decoded.Int("ok"))
}

func TestFields_Accessors(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 30, 0, 5, time.UTC)

	f := Fields{
		"title":      "Buy milk",
		"nullable":   nil,
		"count":      3,
		"countFloat": float64(7),
		"fraction":   1.5,
		"countStr":   " 42 ",
		"flag":       true,
		"flagInt":    1,
		"flagStr":    "false",
		"when":       ts,
		"whenStr":    ts.Format(time.RFC3339Nano),
		"garbage":    []int{1},
	}

	assert.Equal(t, Some("Buy milk"), f.String("title"))
	assert.False(t, f.String("nullable").Present, "null reads as absent")
	assert.False(t, f.String("missing").Present)
	assert.False(t, f.String("count").Present, "number is not a string")

	assert.Equal(t, Some(3), f.Int("count"))
	assert.Equal(t, Some(7), f.Int("countFloat"))
	assert.Equal(t, Some(42), f.Int("countStr"))
	assert.False(t, f.Int("fraction").Present)
	assert.False(t, f.Int("garbage").Present)

	assert.Equal(t, Some(true), f.Bool("flag"))
	assert.Equal(t, Some(true), f.Bool("flagInt"))
	assert.Equal(t, Some(false), f.Bool("flagStr"))
	assert.False(t, f.Bool("title").Present)

	got := f.Time("when")
	require.True(t, got.Present)
	assert.True(t, got.Value.Equal(ts))
	got = f.Time("whenStr")
	require.True(t, got.Present)
	assert.True(t, got.Value.Equal(ts))
	assert.False(t, f.Time("title").Present)

	assert.True(t, f.Has("title"))
	assert.False(t, f.Has("nullable"))
}

func TestFields_AfterJSON(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	in := Fields{"sortOrder": 4, "isCompleted": 1, "dueDate": ts, "subtitle": nil}

	data, err := json.Marshal(in)
	require.NoError(t, err)
	var out Fields
	require.NoError(t, json.Unmarshal(data, &out))

	assert.Equal(t, 4, out.Int("sortOrder").Or(-1))
	assert.True(t, out.Bool("isCompleted").Or(false))
	assert.True(t, out.Time("dueDate").Value.Equal(ts))
	assert.False(t, out.String("subtitle").Present)
}

func TestField_Or(t *testing.T) {
	var absent Field[string]
	assert.Equal(t, "fallback", absent.Or("fallback"))

	v, ok := Some("x").Get()
	assert.True(t, ok)
	assert.Equal(t, "x", v)
}

func TestFields_Normalize(t *testing.T) {
	a, err := Fields{"n": 1, "s": "x"}.Normalize()
	require.NoError(t, err)
	b, err := Fields{"n": float64(1), "s": "x"}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, a, b)

	nilFields, err := Fields(nil).Normalize()
	require.NoError(t, err)
	assert.Nil(t, nilFields)
}
