package markup

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// State is the progress state of one objective. Exactly one state applies
// at a time; the states are mutually exclusive, never layered.
type State string

const (
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateHidden    State = "hidden"
)

// Valid reports whether s is one of the four enumerated states.
func (s State) Valid() bool {
	switch s {
	case StateActive, StateCompleted, StateFailed, StateHidden:
		return true
	}
	return false
}

// Objective is the decoded view of one task-list item. Hint and Unlocks
// are stripped from Text.
type Objective struct {
	Text    string   `json:"text"`
	State   State    `json:"state"`
	Hint    string   `json:"hint,omitempty"`
	Unlocks []string `json:"unlocks,omitempty"`
}

var (
	// ErrNoTaskList means the document has no task block. Many quests
	// have no list yet, so callers treat this as a non-fatal condition.
	ErrNoTaskList = errors.New("markup: no task list")
	// ErrIndexOutOfRange means the requested objective index does not
	// exist in the task block.
	ErrIndexOutOfRange = errors.New("markup: objective index out of range")
)

const taskAnchor = "Tasks:"

// Inline wrapper markers denoting objective state. Absence of all three
// means active. When corrupt input carries more than one, unwrap order is
// strikethrough, then code, then emphasis.
var stateWrappers = []struct {
	delim string
	state State
}{
	{"~~", StateCompleted},
	{"`", StateFailed},
	{"*", StateHidden},
}

var (
	hintRe   = regexp.MustCompile(`\|\|(.*?)\|\|`)
	unlockRe = regexp.MustCompile(`\(\(([^()]*)\)\)`)
)

// Decode parses the task block out of a quest document and returns its
// objectives in list order. Returns ErrNoTaskList if the "Tasks:" anchor
// is absent.
func Decode(content string) ([]Objective, error) {
	_, items, err := taskBlock(content)
	if err != nil {
		return nil, err
	}

	objectives := make([]Objective, 0, len(items))
	for _, line := range items {
		objectives = append(objectives, decodeItem(itemBody(line)))
	}
	return objectives, nil
}

// Encode returns a copy of content with the objective at index rewritten
// to carry the given state wrapper. Any existing wrapper is stripped
// before the new one is applied; StateActive applies no wrapper. The
// input is never mutated on failure.
func Encode(content string, index int, state State) (string, error) {
	if !state.Valid() {
		return "", fmt.Errorf("markup: invalid state %q", state)
	}
	lineIdxs, items, err := taskBlock(content)
	if err != nil {
		return "", err
	}
	if index < 0 || index >= len(items) {
		return "", ErrIndexOutOfRange
	}

	line := items[index]
	indent := line[:strings.Index(line, "- ")+2]

	// Hint and unlock spans may sit outside the state wrapper, so strip
	// them first (the same order decodeItem reads them), unwrap what is
	// left, and re-attach the spans after the new wrapper.
	body := itemBody(line)
	spans := append(hintRe.FindAllString(body, -1), unlockRe.FindAllString(body, -1)...)
	core := unwrapAll(stripSpans(body))
	rewritten := indent + wrap(core, state)
	if len(spans) > 0 {
		rewritten += " " + strings.Join(spans, " ")
	}

	lines := strings.Split(content, "\n")
	lines[lineIdxs[index]] = rewritten
	return strings.Join(lines, "\n"), nil
}

// taskBlock locates the anchor and returns, for each list item, its line
// index in the document and its raw line text.
func taskBlock(content string) (lineIdxs []int, items []string, err error) {
	lines := strings.Split(content, "\n")
	anchor := -1
	for i, line := range lines {
		if strings.TrimSpace(line) == taskAnchor {
			anchor = i
			break
		}
	}
	if anchor < 0 {
		return nil, nil, ErrNoTaskList
	}
	for i := anchor + 1; i < len(lines); i++ {
		if !strings.HasPrefix(strings.TrimSpace(lines[i]), "- ") {
			break
		}
		lineIdxs = append(lineIdxs, i)
		items = append(items, lines[i])
	}
	return lineIdxs, items, nil
}

// itemBody strips the "- " list marker, keeping the item's own text.
func itemBody(line string) string {
	trimmed := strings.TrimSpace(line)
	return strings.TrimSpace(strings.TrimPrefix(trimmed, "- "))
}

// stripSpans removes hint and unlock spans, leaving the wrapped or bare
// objective text.
func stripSpans(s string) string {
	s = hintRe.ReplaceAllString(s, "")
	return strings.TrimSpace(unlockRe.ReplaceAllString(s, ""))
}

func decodeItem(raw string) Objective {
	obj := Objective{State: StateActive}

	if m := hintRe.FindStringSubmatch(raw); m != nil {
		obj.Hint = strings.TrimSpace(m[1])
		raw = hintRe.ReplaceAllString(raw, "")
	}
	for _, m := range unlockRe.FindAllStringSubmatch(raw, -1) {
		if name := strings.TrimSpace(m[1]); name != "" {
			obj.Unlocks = append(obj.Unlocks, name)
		}
	}
	raw = strings.TrimSpace(unlockRe.ReplaceAllString(raw, ""))

	for _, w := range stateWrappers {
		if wrapped(raw, w.delim) {
			obj.State = w.state
			break
		}
	}
	obj.Text = strings.TrimSpace(unwrapAll(raw))
	return obj
}

// unwrapAll strips every state wrapper in precedence order. At most one
// should ever be present; the loop is a defensive fallback for corrupt
// input carrying layered wrappers.
func unwrapAll(s string) string {
	for {
		stripped := false
		for _, w := range stateWrappers {
			if wrapped(s, w.delim) {
				s = strings.TrimSpace(s[len(w.delim) : len(s)-len(w.delim)])
				stripped = true
				break
			}
		}
		if !stripped {
			return s
		}
	}
}

func wrapped(s, delim string) bool {
	return len(s) > 2*len(delim) && strings.HasPrefix(s, delim) && strings.HasSuffix(s, delim)
}

func wrap(s string, state State) string {
	for _, w := range stateWrappers {
		if w.state == state {
			return w.delim + s + w.delim
		}
	}
	return s // active
}
