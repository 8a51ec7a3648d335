package canon

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJSONSortsKeys(t *testing.T) {
	in := map[string]interface{}{"b": 1, "a": 2, "c": map[string]interface{}{"z": 1, "y": 2}}
	out, err := JSON(in)
	require.NoError(t, err)
	require.Equal(t, `{"a":2,"b":1,"c":{"y":2,"z":1}}`, string(out))
}

func TestJSONIdempotent(t *testing.T) {
	in := map[string]interface{}{"amountGram": "1.2500", "owner": "0xA", "nested": []interface{}{3, 1, 2}}
	first, err := JSON(in)
	require.NoError(t, err)

	var decoded interface{}
	require.NoError(t, json.Unmarshal(first, &decoded))
	second, err := JSON(decoded)
	require.NoError(t, err)
	require.Equal(t, string(first), string(second))
}

func TestHashJSONDeterministic(t *testing.T) {
	a := map[string]interface{}{"x": 1, "y": 2}
	b := map[string]interface{}{"y": 2, "x": 1}
	ha, err := HashJSON(a)
	require.NoError(t, err)
	hb, err := HashJSON(b)
	require.NoError(t, err)
	require.Equal(t, ha, hb)
}
