package serializer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalSortsKeys(t *testing.T) {
	in := map[string]any{"b": 1, "a": 2, "c": 3}
	out, err := Canonical(in)
	require.NoError(t, err)
	assert.Equal(t, `{"a":2,"b":1,"c":3}`, string(out))
}

func TestCanonicalNestedObjects(t *testing.T) {
	in := map[string]any{
		"outer": map[string]any{"z": 1, "y": 2},
		"top":   "x",
	}
	out, err := Canonical(in)
	require.NoError(t, err)
	assert.Equal(t, `{"outer":{"y":2,"z":1},"top":"x"}`, string(out))
}

func TestCanonicalPreservesNumberLiterals(t *testing.T) {
	out, err := CanonicalizeJSON([]byte(`{"amount":"100.00","count":10,"ratio":1.50000}`))
	require.NoError(t, err)
	assert.Equal(t, `{"amount":"100.00","count":10,"ratio":1.50000}`, string(out))
}

func TestCanonicalBoolsAndNull(t *testing.T) {
	out, err := CanonicalizeJSON([]byte(`{"a":true,"b":false,"c":null}`))
	require.NoError(t, err)
	assert.Equal(t, `{"a":true,"b":false,"c":null}`, string(out))
}

func TestCanonicalNFCNormalizesStrings(t *testing.T) {
	// "é" as e + combining acute accent (NFD) must canonicalize to the
	// precomposed NFC form so two equivalent inputs hash identically.
	decomposed := "é"
	precomposed := "é"

	outA, err := CanonicalizeJSON([]byte(`{"name":"` + decomposed + `"}`))
	require.NoError(t, err)
	outB, err := CanonicalizeJSON([]byte(`{"name":"` + precomposed + `"}`))
	require.NoError(t, err)
	assert.Equal(t, string(outB), string(outA))
}

func TestCanonicalDeterministicAcrossCalls(t *testing.T) {
	in := map[string]any{"x": 1, "y": []any{1, 2, 3}, "z": map[string]any{"b": 1, "a": 2}}
	a, err := Canonical(in)
	require.NoError(t, err)
	b, err := Canonical(in)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestCanonicalRejectsMalformedJSON(t *testing.T) {
	_, err := CanonicalizeJSON([]byte(`{"a":`))
	assert.Error(t, err)
}
