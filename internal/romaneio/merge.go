package romaneio

import "time"

// MergeResult partitions the outcome of merging remote snapshots into local items.
type MergeResult struct {
	// Items is the complete local set after the merge, existing order first.
	Items    []Item
	Updated  []Item
	Inserted []Item
}

// MergeItems merges remote snapshots into local items keyed by code.
// Existing codes are updated in place, unknown codes are appended and
// local items absent from the remote set are kept untouched.
func MergeItems(romaneioID int64, local, remote []Item, now time.Time) MergeResult {
	byCode := make(map[string]int, len(local))
	items := make([]Item, len(local))
	copy(items, local)
	for i, item := range items {
		byCode[item.Code] = i
	}

	touched := make(map[int]struct{}, len(remote))
	inserted := make(map[int]struct{})
	for _, snap := range remote {
		if snap.Code == "" {
			continue
		}
		if idx, ok := byCode[snap.Code]; ok {
			item := items[idx]
			item.QuantityInvoiced = snap.QuantityInvoiced
			item.QuantityCounted = copyInt64(snap.QuantityCounted)
			if snap.Description != "" {
				item.Description = snap.Description
			}
			if item.ExternalID == nil {
				item.ExternalID = copyInt64(snap.ExternalID)
			}
			item.UpdatedAt = now
			items[idx] = item
			if _, isNew := inserted[idx]; !isNew {
				touched[idx] = struct{}{}
			}
			continue
		}
		item := Item{
			RomaneioID:       romaneioID,
			ExternalID:       copyInt64(snap.ExternalID),
			Code:             snap.Code,
			Description:      snap.Description,
			QuantityInvoiced: snap.QuantityInvoiced,
			QuantityCounted:  copyInt64(snap.QuantityCounted),
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		byCode[snap.Code] = len(items)
		inserted[len(items)] = struct{}{}
		items = append(items, item)
	}

	result := MergeResult{Items: items}
	for idx, item := range items {
		if _, ok := inserted[idx]; ok {
			result.Inserted = append(result.Inserted, item)
			continue
		}
		if _, ok := touched[idx]; ok {
			result.Updated = append(result.Updated, item)
		}
	}
	return result
}

// CountedAll reports whether every item has a count.
func CountedAll(items []Item) bool {
	for _, item := range items {
		if !item.Counted() {
			return false
		}
	}
	return true
}

// Matched reports whether there is at least one item and none diverges.
func Matched(items []Item) bool {
	if len(items) == 0 {
		return false
	}
	for _, item := range items {
		if item.Diverges() {
			return false
		}
	}
	return true
}

// Divergent returns the items whose count is missing or differs.
func Divergent(items []Item) []Item {
	var out []Item
	for _, item := range items {
		if item.Diverges() {
			out = append(out, item)
		}
	}
	return out
}

func copyInt64(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
