package expander

import (
	"sort"

	"github.com/ternarybob/carpo/internal/models"
)

// applyFilter keeps entries satisfying every active predicate. An entry with
// no upload date is excluded only while a date bound is active.
func applyFilter(entries []models.VideoEntry, filter models.ListingFilter) []models.VideoEntry {
	dateActive := filter.DateAfter != "" || filter.DateBefore != ""

	out := make([]models.VideoEntry, 0, len(entries))
	for _, e := range entries {
		if dateActive {
			if e.UploadDate == "" {
				continue
			}
			// YYYYMMDD compares lexically
			if filter.DateAfter != "" && e.UploadDate < filter.DateAfter {
				continue
			}
			if filter.DateBefore != "" && e.UploadDate > filter.DateBefore {
				continue
			}
		}
		if filter.MinDurationSec > 0 && e.DurationSec < filter.MinDurationSec {
			continue
		}
		if filter.MaxDurationSec > 0 && e.DurationSec > filter.MaxDurationSec {
			continue
		}
		if filter.MinViews > 0 && e.ViewCount < filter.MinViews {
			continue
		}
		if filter.MaxViews > 0 && e.ViewCount > filter.MaxViews {
			continue
		}
		out = append(out, e)
	}
	return out
}

// sortEntries orders the listing by the sort key; entries missing the key go
// last. The sort is stable so ties keep listing order.
func sortEntries(entries []models.VideoEntry, key models.SortKey) {
	switch key {
	case models.SortUploadDateDesc:
		sort.SliceStable(entries, func(i, j int) bool {
			a, b := entries[i].UploadDate, entries[j].UploadDate
			if (a == "") != (b == "") {
				return a != ""
			}
			return a > b
		})
	case models.SortViewCountDesc:
		sort.SliceStable(entries, func(i, j int) bool {
			return entries[i].ViewCount > entries[j].ViewCount
		})
	case models.SortDurationDesc:
		sort.SliceStable(entries, func(i, j int) bool {
			return entries[i].DurationSec > entries[j].DurationSec
		})
	case models.SortTitleAsc:
		sort.SliceStable(entries, func(i, j int) bool {
			a, b := entries[i].Title, entries[j].Title
			if (a == "") != (b == "") {
				return a != ""
			}
			return a < b
		})
	}
}
