package markup

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDoc = `The miller has gone missing.

Status: InProgress
Category: side

Tasks:
- Search the mill ||the key is under the loose board|| ((Rusty Key))
- ~~Talk to the innkeeper~~
- ` + "`Recover the stolen ledger`" + `
- *Report to the magistrate*

Reward: 50 gold
`

func TestDecode_States(t *testing.T) {
	objs, err := Decode(sampleDoc)
	require.NoError(t, err)
	require.Len(t, objs, 4)

	assert.Equal(t, StateActive, objs[0].State)
	assert.Equal(t, StateCompleted, objs[1].State)
	assert.Equal(t, StateFailed, objs[2].State)
	assert.Equal(t, StateHidden, objs[3].State)
}

func TestDecode_StripsHintAndUnlocks(t *testing.T) {
	objs, err := Decode(sampleDoc)
	require.NoError(t, err)

	assert.Equal(t, "Search the mill", objs[0].Text)
	assert.Equal(t, "the key is under the loose board", objs[0].Hint)
	assert.Equal(t, []string{"Rusty Key"}, objs[0].Unlocks)

	assert.Equal(t, "Talk to the innkeeper", objs[1].Text)
	assert.Empty(t, objs[1].Hint)
	assert.Empty(t, objs[1].Unlocks)
}

func TestDecode_MultipleUnlocks(t *testing.T) {
	doc := "Tasks:\n- Open the vault ((Gold Bar)) ((Silver Ring))\n"
	objs, err := Decode(doc)
	require.NoError(t, err)
	require.Len(t, objs, 1)
	assert.Equal(t, "Open the vault", objs[0].Text)
	assert.Equal(t, []string{"Gold Bar", "Silver Ring"}, objs[0].Unlocks)
}

func TestDecode_NoTaskList(t *testing.T) {
	_, err := Decode("Just a story, no list here.")
	assert.ErrorIs(t, err, ErrNoTaskList)
}

func TestDecode_EmptyList(t *testing.T) {
	objs, err := Decode("Tasks:\n\nNothing yet.")
	require.NoError(t, err)
	assert.Empty(t, objs)
}

func TestDecode_ListEndsAtFirstNonItem(t *testing.T) {
	doc := "Tasks:\n- one\n- two\nNotes:\n- not an objective\n"
	objs, err := Decode(doc)
	require.NoError(t, err)
	// The Notes: line terminates the block before its list.
	require.Len(t, objs, 2)
	assert.Equal(t, "one", objs[0].Text)
	assert.Equal(t, "two", objs[1].Text)
}

func TestDecode_LayeredWrappersPrecedence(t *testing.T) {
	// Corrupt input with layered wrappers: strikethrough wins.
	doc := "Tasks:\n- ~~*Find the hermit*~~\n"
	objs, err := Decode(doc)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, objs[0].State)
	assert.Equal(t, "Find the hermit", objs[0].Text)
}

func TestEncode_UnwrapThenRewrap(t *testing.T) {
	out, err := Encode(sampleDoc, 1, StateFailed)
	require.NoError(t, err)
	assert.Contains(t, out, "- `Talk to the innkeeper`")
	assert.NotContains(t, out, "~~Talk to the innkeeper~~")
}

func TestEncode_ActiveAppliesNoWrapper(t *testing.T) {
	out, err := Encode(sampleDoc, 3, StateActive)
	require.NoError(t, err)
	assert.Contains(t, out, "- Report to the magistrate")
	assert.NotContains(t, out, "*Report to the magistrate*")
}

func TestEncode_PreservesHintAndUnlocks(t *testing.T) {
	out, err := Encode(sampleDoc, 0, StateCompleted)
	require.NoError(t, err)

	objs, err := Decode(out)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, objs[0].State)
	assert.Equal(t, "the key is under the loose board", objs[0].Hint)
	assert.Equal(t, []string{"Rusty Key"}, objs[0].Unlocks)
}

// A span sitting outside the wrapper must not shield the wrapper from
// being stripped on re-encode.
func TestEncode_UnwrapsAroundTrailingSpans(t *testing.T) {
	doc := "Tasks:\n- ~~Talk to the innkeeper~~ ((Key))\n"

	objs, err := Decode(doc)
	require.NoError(t, err)
	require.Equal(t, StateCompleted, objs[0].State)

	out, err := Encode(doc, 0, StateActive)
	require.NoError(t, err)
	assert.NotContains(t, out, "~~")

	objs, err = Decode(out)
	require.NoError(t, err)
	assert.Equal(t, StateActive, objs[0].State)
	assert.Equal(t, "Talk to the innkeeper", objs[0].Text)
	assert.Equal(t, []string{"Key"}, objs[0].Unlocks)
}

func TestEncode_IndexOutOfRange(t *testing.T) {
	_, err := Encode(sampleDoc, 4, StateCompleted)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
	_, err = Encode(sampleDoc, -1, StateCompleted)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestEncode_NoTaskList(t *testing.T) {
	_, err := Encode("no list", 0, StateCompleted)
	assert.ErrorIs(t, err, ErrNoTaskList)
}

func TestEncode_InvalidState(t *testing.T) {
	_, err := Encode(sampleDoc, 0, State("bogus"))
	assert.Error(t, err)
}

// Round-trip: encoding any index to any state decodes back to that state
// and leaves every other index untouched.
func TestRoundTrip_AllStatesAllIndices(t *testing.T) {
	before, err := Decode(sampleDoc)
	require.NoError(t, err)

	for _, state := range []State{StateActive, StateCompleted, StateFailed, StateHidden} {
		for i := range before {
			out, err := Encode(sampleDoc, i, state)
			require.NoError(t, err)

			after, err := Decode(out)
			require.NoError(t, err)
			require.Len(t, after, len(before))

			assert.Equal(t, state, after[i].State, "index %d state %s", i, state)
			assert.Equal(t, before[i].Text, after[i].Text)
			for j := range after {
				if j == i {
					continue
				}
				assert.Equal(t, before[j], after[j], "index %d must be unchanged", j)
			}
		}
	}
}

func TestEncode_KeepsRestOfDocument(t *testing.T) {
	out, err := Encode(sampleDoc, 2, StateCompleted)
	require.NoError(t, err)
	assert.Contains(t, out, "The miller has gone missing.")
	assert.Contains(t, out, "Reward: 50 gold")
	assert.Equal(t, strings.Count(sampleDoc, "\n"), strings.Count(out, "\n"))
}
