package extract

import (
	"sort"

	"guardiand/internal/event"
)

// AggregateUsage folds raw usage samples into per-day-per-app records
// with stable `{date}_{app}` ids, so re-uploading an overlapping range
// merges instead of duplicating. Dates are taken in the device's local
// zone, matching what the dashboard shows the controller.
func AggregateUsage(samples []event.UsageSample) []event.UsageRecord {
	type key struct {
		app  string
		date string
	}
	agg := make(map[key]*event.UsageRecord)

	for _, s := range samples {
		app := normalizeApp(s.App)
		if app == "" {
			continue
		}
		date := s.Start.Local().Format("2006-01-02")
		k := key{app: app, date: date}
		rec, ok := agg[k]
		if !ok {
			rec = &event.UsageRecord{
				ID:   event.UsageID(date, app),
				App:  app,
				Date: date,
			}
			agg[k] = rec
		}
		rec.ForegroundMs += s.Duration.Milliseconds()
		if s.Launch {
			rec.Launches++
		}
		if end := s.Start.Add(s.Duration); end.After(rec.LastSeen) {
			rec.LastSeen = end
		}
	}

	records := make([]event.UsageRecord, 0, len(agg))
	for _, rec := range agg {
		records = append(records, *rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records
}
