package cucumber

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJSONMustContain(t *testing.T) {
	s := &TestScenario{Variables: map[string]any{"id": "run-1"}}

	require.NoError(t, s.JSONMustContain(`{"id":"run-1","force":true,"stages":[{"label":"a"}]}`, `{"id":"${id}","stages":[{"label":"a"}]}`))
	require.ErrorContains(t, s.JSONMustContain(`{"force":false}`, `{"force":true}`), "$.force")
	require.ErrorContains(t, s.JSONMustContain(`{"stages":[]}`, `{"stages":[{}]}`), "array length")
	require.ErrorContains(t, s.JSONMustContain(`{}`, `{"missing":1}`), `missing key "missing"`)
	require.ErrorContains(t, s.JSONMustContain(`{}`, `{"x":"${undefined}"}`), "not defined")
}
