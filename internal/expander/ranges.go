package expander

import (
	"strconv"
	"strings"

	"github.com/ternarybob/carpo/internal/models"
)

// parseRange resolves a selection expression like "1-10,15,20-25" against a
// listing of n items. Indices are 1-based; out-of-range references are
// dropped, repeats keep their first position.
func parseRange(expr string, n int) ([]int, error) {
	seen := make(map[int]struct{})
	var out []int

	add := func(idx int) {
		if idx < 1 || idx > n {
			return
		}
		if _, dup := seen[idx]; dup {
			return
		}
		seen[idx] = struct{}{}
		out = append(out, idx-1)
	}

	for _, part := range strings.Split(expr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, models.Errorf(models.KindValidationFailed, "empty segment in range %q", expr)
		}

		if lo, hi, ok := strings.Cut(part, "-"); ok {
			start, err := strconv.Atoi(strings.TrimSpace(lo))
			if err != nil {
				return nil, models.Errorf(models.KindValidationFailed, "bad range segment %q", part)
			}
			end, err := strconv.Atoi(strings.TrimSpace(hi))
			if err != nil {
				return nil, models.Errorf(models.KindValidationFailed, "bad range segment %q", part)
			}
			if start < 1 || end < start {
				return nil, models.Errorf(models.KindValidationFailed, "bad range segment %q", part)
			}
			for idx := start; idx <= end; idx++ {
				add(idx)
			}
			continue
		}

		idx, err := strconv.Atoi(part)
		if err != nil || idx < 1 {
			return nil, models.Errorf(models.KindValidationFailed, "bad range segment %q", part)
		}
		add(idx)
	}

	return out, nil
}
