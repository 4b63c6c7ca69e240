package tool

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Args
		wantErr bool
	}{
		{name: "empty", raw: "", want: Args{}},
		{name: "blank", raw: "  \n", want: Args{}},
		{name: "object", raw: `{"description":"a chart"}`, want: Args{"description": "a chart"}},
		{name: "number kept", raw: `{"n":1}`, want: Args{"n": json.Number("1")}},
		{name: "malformed", raw: `{"description":`, want: Args{}, wantErr: true},
		{name: "array", raw: `[1,2]`, want: Args{}, wantErr: true},
		{name: "null", raw: `null`, want: Args{}, wantErr: true},
		{name: "trailing garbage", raw: `{"isVoiceEnabled":true} junk`, want: Args{}, wantErr: true},
		{name: "second object", raw: `{"isVoiceEnabled":true}{"x":1}`, want: Args{}, wantErr: true},
		{name: "trailing whitespace", raw: "{\"n\":1}  \n", want: Args{"n": json.Number("1")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseArgs(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestArgs_String(t *testing.T) {
	a := Args{"s": "x", "empty": "", "blank": "   ", "n": json.Number("2"), "null": nil}
	for key, want := range map[string]string{"s": "x", "empty": "", "blank": "   "} {
		s, ok := a.String(key)
		assert.True(t, ok, key)
		assert.Equal(t, want, s, key)
	}
	for _, key := range []string{"n", "null", "missing"} {
		_, ok := a.String(key)
		assert.False(t, ok, key)
	}
}

func TestArgs_EnabledOnlyForLiteralTrue(t *testing.T) {
	assert.True(t, Args{"v": true}.Enabled("v"))
	for _, v := range []any{false, "true", json.Number("1"), nil, map[string]any{}} {
		assert.False(t, Args{"v": v}.Enabled("v"), "%#v", v)
	}
	assert.False(t, Args{}.Enabled("v"))
}
