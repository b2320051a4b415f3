package match

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeSubmissionRefToken(t *testing.T) {
	ref := NormalizeSubmissionRef(json.RawMessage(`"sub-abc-123"`))

	assert.Equal(t, RefKindToken, ref.Kind)
	assert.Equal(t, "sub-abc-123", ref.Token)
	assert.Nil(t, ref.Detail)
}

func TestNormalizeSubmissionRefDetail(t *testing.T) {
	raw := json.RawMessage(`{
		"user_id": "player-1",
		"language": "go",
		"source_code": "package main",
		"passed": true,
		"test_results": [{"name": "case1", "passed": true, "runtime_ms": 12}],
		"runtime_ms": 30,
		"memory_kb": 2048,
		"complexity_ok": true
	}`)

	ref := NormalizeSubmissionRef(raw)

	require.Equal(t, RefKindDetail, ref.Kind)
	require.NotNil(t, ref.Detail)
	assert.Equal(t, "player-1", ref.Detail.UserID)
	assert.Equal(t, "go", ref.Detail.Language)
	assert.True(t, ref.Detail.Passed)
	require.Len(t, ref.Detail.TestResults, 1)
	assert.Equal(t, "case1", ref.Detail.TestResults[0].Name)
	assert.Equal(t, 30, ref.Detail.RuntimeMS)
	assert.True(t, ref.Detail.ComplexityOK)
}

func TestNormalizeSubmissionRefMalformed(t *testing.T) {
	raw := json.RawMessage(`[not json`)

	ref := NormalizeSubmissionRef(raw)

	assert.Equal(t, RefKindToken, ref.Kind)
	assert.Equal(t, "[not json", ref.Token)
}

func TestSubmissionRefRoundTripKeepsKind(t *testing.T) {
	ref := NormalizeSubmissionRef(json.RawMessage(`"tok-1"`))
	data, err := json.Marshal(ref)
	require.NoError(t, err)

	var decoded SubmissionRef
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, ref, decoded)
}
