package sqlite

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCosineSimilarity(t *testing.T) {
	t.Run("identical vectors score one", func(t *testing.T) {
		got, ok := cosineSimilarity([]float32{1, 2, 3}, []float32{1, 2, 3})
		require.True(t, ok)
		require.InDelta(t, 1.0, got, 1e-6)
	})

	t.Run("orthogonal vectors score zero", func(t *testing.T) {
		got, ok := cosineSimilarity([]float32{1, 0}, []float32{0, 1})
		require.True(t, ok)
		require.InDelta(t, 0.0, got, 1e-6)
	})

	t.Run("opposite vectors score negative one", func(t *testing.T) {
		got, ok := cosineSimilarity([]float32{1, 0}, []float32{-1, 0})
		require.True(t, ok)
		require.InDelta(t, -1.0, got, 1e-6)
	})

	t.Run("mismatched or degenerate vectors are rejected", func(t *testing.T) {
		_, ok := cosineSimilarity([]float32{1, 2}, []float32{1})
		require.False(t, ok)
		_, ok = cosineSimilarity(nil, nil)
		require.False(t, ok)
		_, ok = cosineSimilarity([]float32{0, 0}, []float32{1, 1})
		require.False(t, ok)
	})
}

func TestVectorRoundTrip(t *testing.T) {
	raw, err := marshalVector([]float32{0.5, -1.25, 3})
	require.NoError(t, err)
	vec, err := unmarshalVector([]byte(raw.(string)))
	require.NoError(t, err)
	require.Equal(t, []float32{0.5, -1.25, 3}, vec)

	empty, err := marshalVector(nil)
	require.NoError(t, err)
	require.Nil(t, empty)
}
