package brain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOracleActionPlainObject(t *testing.T) {
	act, err := ParseOracleAction(`{"action": "click", "id": "12", "value": ""}`)
	require.NoError(t, err)
	assert.Equal(t, KindClick, act.Kind)
	assert.Equal(t, "12", act.ID)
}

func TestParseOracleActionStripsReasoningAndFences(t *testing.T) {
	raw := "<think>\nThe button is element 7, I should click it.\n" +
		`Maybe {"action": "type"} no.` +
		"\n</think>\n```json\n{\"action\": \"click\", \"id\": 7}\n```"
	act, err := ParseOracleAction(raw)
	require.NoError(t, err)
	assert.Equal(t, KindClick, act.Kind)
	assert.Equal(t, "7", act.ID)
}

func TestParseOracleActionTakesLastObject(t *testing.T) {
	raw := `First I considered {"action": "scroll", "value": "down"}.
Final answer: {"action": "type", "id": 3, "value": "hello"}`
	act, err := ParseOracleAction(raw)
	require.NoError(t, err)
	assert.Equal(t, KindType, act.Kind)
	assert.Equal(t, "3", act.ID)
	assert.Equal(t, "hello", act.Value)
}

func TestParseOracleActionNumericIDDecoration(t *testing.T) {
	for _, tc := range []struct {
		raw, want string
	}{
		{`{"action": "click", "id": "[12]"}`, "12"},
		{`{"action": "click", "id": "12."}`, "12"},
		{`{"action": "click", "id": 12}`, "12"},
	} {
		act, err := ParseOracleAction(tc.raw)
		require.NoError(t, err, tc.raw)
		assert.Equal(t, tc.want, act.ID, tc.raw)
	}
}

func TestParseOracleActionSymbolicIDSurvives(t *testing.T) {
	// A lettered reference may still resolve against snapshot attributes,
	// so digit extraction must not mangle it here.
	act, err := ParseOracleAction(`{"action": "click", "id": "button-15"}`)
	require.NoError(t, err)
	assert.Equal(t, "button-15", act.ID)

	act, err = ParseOracleAction(`{"action": "select", "id": "country-select", "value": "Japan"}`)
	require.NoError(t, err)
	assert.Equal(t, "country-select", act.ID)
	assert.Equal(t, "Japan", act.Value)
}

func TestParseOracleActionCompletionDialects(t *testing.T) {
	for _, kind := range []string{"finish", "return", "done", "complete", "stop"} {
		act, err := ParseOracleAction(`{"action": "` + kind + `"}`)
		require.NoError(t, err, kind)
		assert.Equal(t, KindMessage, act.Kind, kind)
		assert.Equal(t, "Task Completed", act.Value, kind)
	}

	act, err := ParseOracleAction(`{"action": "finish", "value": "All invoices paid"}`)
	require.NoError(t, err)
	assert.Equal(t, "All invoices paid", act.Value)
}

func TestParseOracleActionEnumEcho(t *testing.T) {
	for _, echo := range []string{"click|type|select", "type|select", "type/select"} {
		act, err := ParseOracleAction(`{"action": "` + echo + `", "id": "4"}`)
		require.NoError(t, err)
		assert.Equal(t, KindClick, act.Kind, echo)
	}
}

func TestParseOracleActionScrollDirection(t *testing.T) {
	act, err := ParseOracleAction(`{"action": "scroll", "value": "UP"}`)
	require.NoError(t, err)
	assert.Equal(t, "up", act.Value)

	act, err = ParseOracleAction(`{"action": "scroll", "value": "sideways"}`)
	require.NoError(t, err)
	assert.Equal(t, "down", act.Value)
}

func TestParseOracleActionFailures(t *testing.T) {
	_, err := ParseOracleAction("I would click the submit button.")
	assert.Error(t, err)

	_, err = ParseOracleAction(`{"id": "4"}`)
	assert.Error(t, err)

	_, err = ParseOracleAction(`{"action": "teleport", "id": "4"}`)
	assert.Error(t, err)
}

func TestActionDigest(t *testing.T) {
	assert.Equal(t, "click ID 9 (Val: )", Click("9", "").Digest())
	assert.Equal(t, "type ID 3 (Val: hello)", TypeText("3", "hello").Digest())
	assert.Equal(t, "scroll (Val: down)", Scroll("down").Digest())
}
