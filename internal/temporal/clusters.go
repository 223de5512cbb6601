package temporal

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/driftlane/memoryengine/internal/model"
)

// DetectActivityClusters groups memories into contiguous 1-hour windows
// (a new cluster starts whenever the gap since the previous memory exceeds
// an hour), keeping only clusters of at least 3 memories (spec §4.8).
func (a *Analyzer) DetectActivityClusters(ctx context.Context, userID, agentID string, rangeStart, rangeEnd int64, hasRange bool) ([]model.ActivityCluster, error) {
	if !a.cfg.Enabled {
		return nil, nil
	}
	memories, err := a.store.Recall(ctx, userID, agentID, "", model.RecallOptions{
		Limit: 10000, TimeRangeStart: rangeStart, TimeRangeEnd: rangeEnd, HasTimeRange: hasRange,
	})
	if err != nil {
		return nil, model.NewError(model.KindStorage, "temporal.DetectActivityClusters", err)
	}
	sorted := append([]*model.Memory(nil), memories...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].CreatedAt < sorted[j].CreatedAt })

	windowMs := int64(time.Hour / time.Millisecond)
	var clusters []model.ActivityCluster
	var cur []*model.Memory
	for _, m := range sorted {
		if len(cur) > 0 && m.CreatedAt-cur[len(cur)-1].CreatedAt > windowMs {
			if c, ok := buildCluster(cur); ok {
				clusters = append(clusters, c)
			}
			cur = nil
		}
		cur = append(cur, m)
	}
	if c, ok := buildCluster(cur); ok {
		clusters = append(clusters, c)
	}
	return clusters, nil
}

func buildCluster(mems []*model.Memory) (model.ActivityCluster, bool) {
	if len(mems) < 3 {
		return model.ActivityCluster{}, false
	}
	start := mems[0].CreatedAt
	end := mems[len(mems)-1].CreatedAt
	durationHours := float64(end-start) / float64(time.Hour/time.Millisecond)
	intensity := math.Min(1, float64(len(mems))/math.Max(0.5, durationHours)/10)

	ids := make([]string, 0, len(mems))
	seen := map[string]bool{}
	var topics []string
	for _, m := range mems {
		ids = append(ids, m.ID)
		for _, kw := range m.Keywords {
			if seen[kw] {
				continue
			}
			seen[kw] = true
			topics = append(topics, kw)
			if len(topics) >= 5 {
				break
			}
		}
	}
	if len(topics) > 5 {
		topics = topics[:5]
	}
	return model.ActivityCluster{
		StartTime: start,
		EndTime:   end,
		MemoryIDs: ids,
		Topics:    topics,
		Intensity: intensity,
	}, true
}
