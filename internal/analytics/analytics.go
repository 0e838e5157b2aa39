package analytics

import (
	"sort"

	"github.com/HanTheDev/eval-ingest-gateway/internal/models"
)

var scoreRanges = []string{"90-100", "80-89", "70-79", "60-69", "Below 60"}

func bucket(score float64) int {
	switch {
	case score >= 90:
		return 0
	case score >= 80:
		return 1
	case score >= 70:
		return 2
	case score >= 60:
		return 3
	default:
		return 4
	}
}

type dayTotals struct {
	count   int
	score   float64
	latency float64
}

// Summarize aggregates evaluation metrics into dashboard statistics.
// Daily rows are keyed by UTC date and sorted ascending.
func Summarize(metrics []models.EvaluationMetric) models.EvaluationStats {
	stats := models.EvaluationStats{
		ScoreDistribution: make([]models.ScoreBucket, len(scoreRanges)),
		Daily:             []models.DailyStat{},
	}
	for i, r := range scoreRanges {
		stats.ScoreDistribution[i].Range = r
	}
	if len(metrics) == 0 {
		return stats
	}

	var scoreSum, latencySum float64
	days := make(map[string]*dayTotals)
	for _, m := range metrics {
		scoreSum += m.Score
		latencySum += float64(m.LatencyMs)
		stats.PIITokensRedacted += m.PIITokensRedacted
		stats.ScoreDistribution[bucket(m.Score)].Count++

		date := m.CreatedAt.UTC().Format("2006-01-02")
		d, ok := days[date]
		if !ok {
			d = &dayTotals{}
			days[date] = d
		}
		d.count++
		d.score += m.Score
		d.latency += float64(m.LatencyMs)
	}

	stats.Total = len(metrics)
	stats.AvgScore = scoreSum / float64(stats.Total)
	stats.AvgLatencyMs = latencySum / float64(stats.Total)

	for date, d := range days {
		stats.Daily = append(stats.Daily, models.DailyStat{
			Date:         date,
			Count:        d.count,
			AvgScore:     d.score / float64(d.count),
			AvgLatencyMs: d.latency / float64(d.count),
		})
	}
	sort.Slice(stats.Daily, func(i, j int) bool { return stats.Daily[i].Date < stats.Daily[j].Date })

	return stats
}
