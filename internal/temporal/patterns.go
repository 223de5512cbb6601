package temporal

import (
	"math"
	"sort"
	"time"

	"github.com/driftlane/memoryengine/internal/model"
)

// detectHourly implements the "daily pattern" detector (spec §4.8): bucket
// by hour of day, flag hours whose count exceeds 1.5x the per-hour average
// as peaks, and score confidence from how far the busiest hour exceeds
// average.
func detectHourly(memories []*model.Memory) *model.TemporalPattern {
	var counts [24]int
	for _, m := range memories {
		counts[time.UnixMilli(m.CreatedAt).UTC().Hour()]++
	}
	avg := float64(len(memories)) / 24.0
	if avg == 0 {
		return nil
	}
	var peakHours []int
	maxCount := 0
	for h, c := range counts {
		if float64(c) > 1.5*avg {
			peakHours = append(peakHours, h)
		}
		if c > maxCount {
			maxCount = c
		}
	}
	if len(peakHours) == 0 {
		return nil
	}
	confidence := math.Min(0.9, float64(maxCount)/avg/3)
	return &model.TemporalPattern{
		Type:       model.PatternDaily,
		Frequency:  float64(len(peakHours)),
		Confidence: confidence,
		Memories:   idsInHours(memories, peakHours),
		Metadata:   map[string]any{"peakHours": peakHours},
	}
}

// detectWeekly is the day-of-week analog of detectHourly (spec §4.8).
func detectWeekly(memories []*model.Memory) *model.TemporalPattern {
	var counts [7]int
	for _, m := range memories {
		counts[int(time.UnixMilli(m.CreatedAt).UTC().Weekday())]++
	}
	avg := float64(len(memories)) / 7.0
	if avg == 0 {
		return nil
	}
	var peakDays []int
	maxCount := 0
	for d, c := range counts {
		if float64(c) > 1.3*avg {
			peakDays = append(peakDays, d)
		}
		if c > maxCount {
			maxCount = c
		}
	}
	if len(peakDays) == 0 {
		return nil
	}
	confidence := math.Min(0.85, float64(maxCount)/avg/2.5)
	return &model.TemporalPattern{
		Type:       model.PatternWeekly,
		Frequency:  float64(len(peakDays)),
		Confidence: confidence,
		Memories:   idsInDays(memories, peakDays),
		Metadata:   map[string]any{"peakDays": peakDays},
	}
}

// detectBursts runs a 30-minute sliding window over the timeline; any
// window holding at least 5 memories is emitted as a burst pattern, after
// which the window advances by half its size to avoid re-detecting the
// same burst repeatedly (spec §4.8).
func detectBursts(memories []*model.Memory) []model.TemporalPattern {
	sorted := append([]*model.Memory(nil), memories...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].CreatedAt < sorted[j].CreatedAt })

	windowMs := int64(burstWindow / time.Millisecond)
	var patterns []model.TemporalPattern
	i := 0
	for i < len(sorted) {
		start := sorted[i].CreatedAt
		end := start + windowMs
		j := i
		for j < len(sorted) && sorted[j].CreatedAt < end {
			j++
		}
		count := j - i
		if count >= burstMinSize {
			ids := make([]string, 0, count)
			for k := i; k < j; k++ {
				ids = append(ids, sorted[k].ID)
			}
			patterns = append(patterns, model.TemporalPattern{
				Type:       model.PatternBurst,
				Confidence: math.Min(0.8, float64(count)/10),
				Memories:   ids,
				Metadata:   map[string]any{"windowStart": start, "windowEnd": end},
			})
			skipTo := start + windowMs/2
			for i < len(sorted) && sorted[i].CreatedAt < skipTo {
				i++
			}
			continue
		}
		i++
	}
	return patterns
}

// activityClusterWindow is the fixed window size for detectActivityClusters
// (spec §4.8): "1-hour window clustering", distinct from the 30-minute burst
// detector above.
const activityClusterWindow = time.Hour

// minClusterSize is the minimum memory count for a 1-hour window to be
// reported as an activity cluster (spec §4.8).
const minClusterSize = 3

// detectActivityClusters buckets memories into non-overlapping 1-hour
// windows and reports every window with at least minClusterSize memories,
// along with an intensity score and the union of the window's keywords
// (spec §4.8: "1-hour window clustering; minimum 3 memories per cluster;
// intensity = min(1, memories/max(0.5, durationHours)/10); topics are the
// union of memory keywords, truncated to 5").
func detectActivityClusters(memories []*model.Memory) []model.ActivityCluster {
	sorted := append([]*model.Memory(nil), memories...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].CreatedAt < sorted[j].CreatedAt })

	windowMs := int64(activityClusterWindow / time.Millisecond)
	var clusters []model.ActivityCluster
	i := 0
	for i < len(sorted) {
		start := sorted[i].CreatedAt
		end := start + windowMs
		j := i
		for j < len(sorted) && sorted[j].CreatedAt < end {
			j++
		}
		count := j - i
		if count >= minClusterSize {
			windowEnd := sorted[j-1].CreatedAt
			durationHours := math.Max(0.5, float64(windowEnd-start)/float64(time.Hour/time.Millisecond))
			ids := make([]string, 0, count)
			topics := topicUnion(sorted[i:j], 5)
			for k := i; k < j; k++ {
				ids = append(ids, sorted[k].ID)
			}
			clusters = append(clusters, model.ActivityCluster{
				StartTime: start,
				EndTime:   windowEnd,
				MemoryIDs: ids,
				Topics:    topics,
				Intensity: math.Min(1, float64(count)/durationHours/10),
			})
		}
		i = j
	}
	return clusters
}

func topicUnion(memories []*model.Memory, max int) []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range memories {
		for _, kw := range m.Keywords {
			if seen[kw] {
				continue
			}
			seen[kw] = true
			out = append(out, kw)
			if len(out) >= max {
				return out
			}
		}
	}
	return out
}

func idsInHours(memories []*model.Memory, hours []int) []string {
	want := map[int]bool{}
	for _, h := range hours {
		want[h] = true
	}
	var out []string
	for _, m := range memories {
		if want[time.UnixMilli(m.CreatedAt).UTC().Hour()] {
			out = append(out, m.ID)
		}
	}
	return out
}

func idsInDays(memories []*model.Memory, days []int) []string {
	want := map[int]bool{}
	for _, d := range days {
		want[d] = true
	}
	var out []string
	for _, m := range memories {
		if want[int(time.UnixMilli(m.CreatedAt).UTC().Weekday())] {
			out = append(out, m.ID)
		}
	}
	return out
}
