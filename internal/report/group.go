package report

import "github.com/rewired-gh/kalshioracle/internal/models"

// GroupByFixture buckets alerts by fixture key (the event ticker without its
// series prefix), so the match-result, both-teams-to-score and totals markets
// of one game are shown together. Groups keep the order in which their first
// alert appears, so a magnitude-sorted input yields magnitude-sorted groups.
func GroupByFixture(alerts []models.MovementAlert) []models.FixtureGroup {
	index := make(map[string]int)
	var groups []models.FixtureGroup

	for _, a := range alerts {
		key := models.FixtureOf(a.EventTicker)
		if key == "" {
			key = a.Ticker
		}

		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, models.FixtureGroup{
				FixtureKey: key,
				Title:      a.Title,
			})
		}

		groups[i].Alerts = append(groups[i].Alerts, a)
		if a.Magnitude > groups[i].BestMagnitude {
			groups[i].BestMagnitude = a.Magnitude
		}
	}

	return groups
}

// TopGroups returns at most k groups.
func TopGroups(groups []models.FixtureGroup, k int) []models.FixtureGroup {
	if k > 0 && len(groups) > k {
		return groups[:k]
	}
	return groups
}
