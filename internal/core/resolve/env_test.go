package resolve

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvEntry_Pair(t *testing.T) {
	tests := []struct {
		name      string
		entry     EnvEntry
		wantKey   string
		wantValue string
	}{
		{"named", EnvEntry{Name: "A", Value: "1"}, "A", "1"},
		{"named empty value", EnvEntry{Name: "A"}, "A", ""},
		{"pair", EnvEntry{Value: "B=2"}, "B", "2"},
		{"pair with equals in value", EnvEntry{Value: "URL=a=b"}, "URL", "a=b"},
		{"pair empty value", EnvEntry{Value: "C="}, "C", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, value, err := tt.entry.Pair()
			require.NoError(t, err)
			assert.Equal(t, tt.wantKey, key)
			assert.Equal(t, tt.wantValue, value)
		})
	}
}

func TestEnvEntry_PairMalformed(t *testing.T) {
	for _, value := range []string{"NOEQUALS", "=value", ""} {
		_, _, err := EnvEntry{Value: value}.Pair()
		assert.True(t, errors.Is(err, ErrMalformedEnvEntry), "value %q", value)
	}
}

func TestEnvFromEntries_LastWins(t *testing.T) {
	env, err := EnvFromEntries([]EnvEntry{
		{Name: "A", Value: "1"},
		{Value: "B=2"},
		{Name: "A", Value: "3"},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"A": "3", "B": "2"}, env)
}

func TestMerge_LaterLayersWin(t *testing.T) {
	merged := Merge(
		map[string]string{"A": "annotation", "B": "annotation"},
		nil,
		map[string]string{"B": "method", "C": "method"},
	)
	assert.Equal(t, map[string]string{"A": "annotation", "B": "method", "C": "method"}, merged)
}

func TestMerge_Empty(t *testing.T) {
	merged := Merge[string]()
	assert.NotNil(t, merged)
	assert.Empty(t, merged)
}

func TestEnvList_Sorted(t *testing.T) {
	assert.Equal(t, []string{"A=1", "B=", "C=x=y"}, EnvList(map[string]string{"C": "x=y", "A": "1", "B": ""}))
}
