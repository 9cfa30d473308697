package quality

import (
	"github.com/justapithecus/flume/dataset"
	"github.com/justapithecus/flume/types"
)

// Profile summarizes the Dataset: per-column null counts, distinct counts,
// and numeric min/max/mean. Cheap context attached to every report so a
// failing rule can be read against the data's shape.
func Profile(ds *dataset.Dataset) *types.Profile {
	profile := &types.Profile{
		Rows:           ds.Rows(),
		Columns:        ds.NumColumns(),
		ColumnProfiles: make([]types.ColumnProfile, 0, ds.NumColumns()),
	}

	for _, col := range ds.Columns() {
		cp := types.ColumnProfile{Name: col.Name}
		distinct := make(map[string]struct{})

		var sum float64
		var numeric int
		var minV, maxV float64

		for _, v := range col.Values {
			if v.IsNull() {
				cp.NullCount++
				continue
			}
			distinct[v.String()] = struct{}{}
			if f, ok := v.Numeric(); ok {
				if numeric == 0 || f < minV {
					minV = f
				}
				if numeric == 0 || f > maxV {
					maxV = f
				}
				sum += f
				numeric++
			}
		}

		cp.DistinctCount = len(distinct)
		if ds.Rows() > 0 {
			cp.NullPercentage = round2(float64(cp.NullCount) / float64(ds.Rows()) * 100)
		}
		// Only report numeric stats when the whole column is numeric.
		if numeric > 0 && numeric == ds.Rows()-cp.NullCount {
			mean := round4(sum / float64(numeric))
			cp.Min, cp.Max, cp.Mean = &minV, &maxV, &mean
		}

		profile.ColumnProfiles = append(profile.ColumnProfiles, cp)
	}
	return profile
}
