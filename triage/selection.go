package triage

import "sort"

// Selection tracks which anomaly rows are selected and which are expanded in
// the review view. The two sets are independent: expanding a row never
// selects it. No locking; the review loop is single-goroutine.
type Selection struct {
	selected map[string]bool
	expanded map[string]bool
}

// NewSelection creates an empty selection.
func NewSelection() *Selection {
	return &Selection{
		selected: make(map[string]bool),
		expanded: make(map[string]bool),
	}
}

// ToggleRow flips the selected state of one row and reports the new state.
func (s *Selection) ToggleRow(id string) bool {
	if s.selected[id] {
		delete(s.selected, id)
		return false
	}
	s.selected[id] = true
	return true
}

// SelectAll replaces the selection wholesale with the given ids.
func (s *Selection) SelectAll(ids []string) {
	s.selected = make(map[string]bool, len(ids))
	for _, id := range ids {
		s.selected[id] = true
	}
}

// ClearAll empties the selection. Expansion state is untouched.
func (s *Selection) ClearAll() {
	s.selected = make(map[string]bool)
}

// ToggleExpand flips the expanded state of one row and reports the new state.
func (s *Selection) ToggleExpand(id string) bool {
	if s.expanded[id] {
		delete(s.expanded, id)
		return false
	}
	s.expanded[id] = true
	return true
}

// Selected reports whether a row is selected.
func (s *Selection) Selected(id string) bool {
	return s.selected[id]
}

// Expanded reports whether a row is expanded.
func (s *Selection) Expanded(id string) bool {
	return s.expanded[id]
}

// Count returns the number of selected rows.
func (s *Selection) Count() int {
	return len(s.selected)
}

// IDs returns the selected ids in stable order.
func (s *Selection) IDs() []string {
	ids := make([]string, 0, len(s.selected))
	for id := range s.selected {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Prune drops selected and expanded ids that are no longer visible, keeping
// both sets subsets of the rendered rows after a refetch.
func (s *Selection) Prune(visible []string) {
	keep := make(map[string]bool, len(visible))
	for _, id := range visible {
		keep[id] = true
	}
	for id := range s.selected {
		if !keep[id] {
			delete(s.selected, id)
		}
	}
	for id := range s.expanded {
		if !keep[id] {
			delete(s.expanded, id)
		}
	}
}
