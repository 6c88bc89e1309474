package ai_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shootsafe-server/pkg/ai"
)

func TestExtractJSONObject(t *testing.T) {
	t.Run("Plain object", func(t *testing.T) {
		var out map[string]any
		err := ai.ExtractJSONObject(`{"scene": 1, "risk": "high"}`, &out)
		require.NoError(t, err)
		assert.Equal(t, float64(1), out["scene"])
		assert.Equal(t, "high", out["risk"])
	})

	t.Run("Object inside markdown fence and prose", func(t *testing.T) {
		response := "Here is the analysis you asked for:\n```json\n{\"scene\": 2}\n```\nLet me know if you need more."
		var out map[string]any
		err := ai.ExtractJSONObject(response, &out)
		require.NoError(t, err)
		assert.Equal(t, float64(2), out["scene"])
	})

	t.Run("Braces inside string values are ignored", func(t *testing.T) {
		var out map[string]string
		err := ai.ExtractJSONObject(`{"note": "use {curly} braces and \"quotes\" freely"}`, &out)
		require.NoError(t, err)
		assert.Equal(t, `use {curly} braces and "quotes" freely`, out["note"])
	})

	t.Run("Nested objects are kept whole", func(t *testing.T) {
		var out struct {
			Outer struct {
				Inner int `json:"inner"`
			} `json:"outer"`
		}
		err := ai.ExtractJSONObject(`prefix {"outer": {"inner": 3}} suffix`, &out)
		require.NoError(t, err)
		assert.Equal(t, 3, out.Outer.Inner)
	})

	t.Run("Unbalanced braces are an error", func(t *testing.T) {
		var out map[string]any
		err := ai.ExtractJSONObject(`{"scene": 1`, &out)
		assert.Error(t, err)
	})

	t.Run("No object at all is an error", func(t *testing.T) {
		var out map[string]any
		assert.Error(t, ai.ExtractJSONObject("the model refused to answer", &out))
		assert.Error(t, ai.ExtractJSONObject("", &out))
		assert.Error(t, ai.ExtractJSONObject("   \n\t ", &out))
	})

	t.Run("Malformed content inside balanced braces is an error", func(t *testing.T) {
		var out map[string]any
		assert.Error(t, ai.ExtractJSONObject(`{scene: one}`, &out))
	})
}

func TestExtractJSONArray(t *testing.T) {
	t.Run("Array with surrounding text", func(t *testing.T) {
		var out []int
		err := ai.ExtractJSONArray("Sure! [1, 2, 3] — done.", &out)
		require.NoError(t, err)
		assert.Equal(t, []int{1, 2, 3}, out)
	})

	t.Run("Array of objects", func(t *testing.T) {
		var out []struct {
			Scene int `json:"scene"`
		}
		response := "```json\n[{\"scene\": 1}, {\"scene\": 2}]\n```"
		err := ai.ExtractJSONArray(response, &out)
		require.NoError(t, err)
		require.Len(t, out, 2)
		assert.Equal(t, 2, out[1].Scene)
	})

	t.Run("Brackets inside strings do not close the array", func(t *testing.T) {
		var out []string
		err := ai.ExtractJSONArray(`["a [bracketed] note", "b"]`, &out)
		require.NoError(t, err)
		assert.Equal(t, []string{"a [bracketed] note", "b"}, out)
	})

	t.Run("Unterminated array is an error", func(t *testing.T) {
		var out []int
		assert.Error(t, ai.ExtractJSONArray("[1, 2", &out))
	})
}
