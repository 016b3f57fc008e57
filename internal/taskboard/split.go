package taskboard

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kilroy-labs/factoryctl/internal/contextpack"
	"github.com/kilroy-labs/factoryctl/internal/eventlog"
	"github.com/kilroy-labs/factoryctl/internal/taxonomy"
)

// childSpec is one element of the planner's emitted JSON array (spec §4.D
// split-apply, scenario 6).
type childSpec struct {
	Title        string             `json:"title"`
	Goal         string             `json:"goal"`
	Role         Role               `json:"role,omitempty"`
	Files        []string           `json:"files,omitempty"`
	Skills       []string           `json:"skills,omitempty"`
	Pins         *contextpack.Pins  `json:"pins,omitempty"`
	AllowedTests []string           `json:"allowedTests,omitempty"`
	Contract     string             `json:"contract,omitempty"`
	Area         string             `json:"area,omitempty"`
}

// ExtractFirstBalancedArray scans text (agent-message text first, then raw
// stdout, per the caller's ordering) and returns the first top-level
// balanced JSON array substring, respecting nested strings/brackets (spec
// §8: "Split JSON extraction correctly returns the first balanced top-level
// array ... with multiple brackets, nested strings with brackets, and
// trailing prose").
func ExtractFirstBalancedArray(text string) (string, bool) {
	start := strings.IndexByte(text, '[')
	for start >= 0 {
		if end, ok := balancedArrayEnd(text, start); ok {
			return text[start : end+1], true
		}
		next := strings.IndexByte(text[start+1:], '[')
		if next < 0 {
			return "", false
		}
		start = start + 1 + next
	}
	return "", false
}

func balancedArrayEnd(text string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			if escaped {
				escaped = false
				continue
			}
			switch c {
			case '\\':
				escaped = true
			case '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return i, true
			}
			if depth < 0 {
				return 0, false
			}
		}
	}
	return 0, false
}

// SplitApplyResult summarizes children created by SplitApply.
type SplitApplyResult struct {
	ChildIDs []string
}

// SplitApply parses the planner job's stdout (agent-message text searched
// first, then raw, per the caller) and creates child tasks under budget
// (spec §4.D).
func (b *Board) SplitApply(parentID, agentMessageText, rawText string, twoPhasePins bool) (*SplitApplyResult, error) {
	parent, ok := b.Get(parentID)
	if !ok {
		return nil, ErrNotFound
	}

	arrText, found := ExtractFirstBalancedArray(agentMessageText)
	if !found {
		arrText, found = ExtractFirstBalancedArray(rawText)
	}
	if !found {
		return nil, fmt.Errorf("no balanced JSON array found in planner output")
	}

	var specs []childSpec
	if err := json.Unmarshal([]byte(arrText), &specs); err != nil {
		return nil, fmt.Errorf("decode split array: %w", err)
	}

	// Open Question decision: the ≤30 budget applies to raw array length;
	// children are not deduplicated by title (see SPEC_FULL.md).
	if len(specs) > b.opts.ChildBudget {
		return nil, &ValidationError{Reason: taxonomy.MaxChildrenExceeded}
	}

	result := &SplitApplyResult{}
	for _, cs := range specs {
		status := StatusReady
		pinsPending := false
		if twoPhasePins && cs.Pins == nil {
			status = StatusBlocked
			pinsPending = true
		}
		child, err := b.Create(CreateInput{
			ParentID:     parentID,
			Kind:         KindAtomic,
			Title:        cs.Title,
			Goal:         cs.Goal,
			Role:         cs.Role,
			Files:        cs.Files,
			Skills:       cs.Skills,
			Pins:         cs.Pins,
			AllowedTests: cs.AllowedTests,
			Contract:     cs.Contract,
			Area:         cs.Area,
			Pointers:     Pointers{SourceTaskID: parentID},
		})
		if err != nil {
			continue
		}
		if child.Status != status || pinsPending {
			_, _ = b.Mutate(child.ID, func(t *Task) error {
				t.Status = status
				t.PinsPending = pinsPending
				return nil
			})
		}
		result.ChildIDs = append(result.ChildIDs, child.ID)
	}

	_, _ = b.AdminSetStatus(parentID, StatusReady, "")
	b.emit(eventlog.Info("split_applied", map[string]any{
		"parent_task_id": parent.ID,
		"child_count":    len(result.ChildIDs),
	}))

	return result, nil
}
