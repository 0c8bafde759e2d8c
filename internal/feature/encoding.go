package feature

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/Aditya1198/M5-Sales-Forecasting/internal/api"
)

// CodeTable is the persisted mapping from categorical ids to stable
// small-integer codes. It is built once (over the full id sets, sorted
// lexicographically, matching the ordering the training pipeline used) and
// loaded at inference, so the same id always encodes to the same code no
// matter which subset of rows a process happens to see.
type CodeTable struct {
	Items  map[string]int `json:"items"`
	Depts  map[string]int `json:"depts"`
	Cats   map[string]int `json:"cats"`
	Stores map[string]int `json:"stores"`
	States map[string]int `json:"states"`
}

// BuildCodeTable assigns codes 0..n-1 over the sorted unique values of
// each id set. Duplicates in the inputs are fine.
func BuildCodeTable(items, depts, cats, stores, states []string) *CodeTable {
	return &CodeTable{
		Items:  assign(items),
		Depts:  assign(depts),
		Cats:   assign(cats),
		Stores: assign(stores),
		States: assign(states),
	}
}

func assign(values []string) map[string]int {
	uniq := make(map[string]struct{}, len(values))
	for _, v := range values {
		uniq[v] = struct{}{}
	}
	sorted := make([]string, 0, len(uniq))
	for v := range uniq {
		sorted = append(sorted, v)
	}
	sort.Strings(sorted)

	codes := make(map[string]int, len(sorted))
	for i, v := range sorted {
		codes[v] = i
	}
	return codes
}

// Encode maps one series' ids to codes. Unknown ids encode to -1, the
// conventional missing-category code.
func (ct *CodeTable) Encode(itemID, deptID, catID, storeID, stateID string) api.Codes {
	return api.Codes{
		Item:  code(ct.Items, itemID),
		Dept:  code(ct.Depts, deptID),
		Cat:   code(ct.Cats, catID),
		Store: code(ct.Stores, storeID),
		State: code(ct.States, stateID),
	}
}

func code(m map[string]int, id string) int {
	if c, ok := m[id]; ok {
		return c
	}
	return -1
}

// Save writes the table as JSON.
func (ct *CodeTable) Save(path string) error {
	data, err := json.MarshalIndent(ct, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal code table: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// LoadCodeTable reads a previously saved table.
func LoadCodeTable(path string) (*CodeTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read code table: %w", err)
	}
	var ct CodeTable
	if err := json.Unmarshal(data, &ct); err != nil {
		return nil, fmt.Errorf("failed to unmarshal code table: %w", err)
	}
	return &ct, nil
}
