package dashboard

import (
	"cyberdash/internal/engine"
	"cyberdash/internal/models"
)

// ViewName selects a dashboard page.
type ViewName string

const (
	Overview  ViewName = "overview"
	Drilldown ViewName = "drilldown"
)

// View is the active page. Country is only used by Drilldown; when empty
// the first country of the filtered table is shown.
type View struct {
	Name    ViewName
	Country string
}

// ParseView maps request values onto a View, defaulting to Overview.
func ParseView(name, country string) View {
	if ViewName(name) == Drilldown {
		return View{Name: Drilldown, Country: country}
	}
	return View{Name: Overview}
}

func countSummary(title string, n int) models.Summary {
	return models.Summary{Kind: models.KindCount, Title: title, Value: float64(n)}
}

func sumSummary(title string, v float64) models.Summary {
	return models.Summary{Kind: models.KindSum, Title: title, Value: v}
}

func groupCountSummary(title string, items []models.CountItem) models.Summary {
	return models.Summary{Kind: models.KindGroupCount, Title: title, Counts: items}
}

func groupSumSummary(title string, items []models.SumItem) models.Summary {
	return models.Summary{Kind: models.KindGroupSum, Title: title, Sums: items}
}

func topSummary(title string, items []models.CountItem, n int) models.Summary {
	return models.Summary{Kind: models.KindTopN, Title: title, Counts: engine.TopN(items, n)}
}

func seriesSummary(title string, pts []models.SeriesPoint) models.Summary {
	return models.Summary{Kind: models.KindSeries, Title: title, Series: pts}
}

// overview derives every summary of the overview page from one filtered
// table.
func overview(t engine.Table, topN int) (kpis, charts map[string]models.Summary) {
	byCountry := engine.GroupCount(t, engine.Country)
	byIndustry := engine.GroupCount(t, engine.TargetIndustry)

	kpis = map[string]models.Summary{
		"total_incidents":       countSummary("Total Incidents", engine.TotalIncidents(t)),
		"countries_affected":    countSummary("Countries Affected", engine.DistinctCountries(t)),
		"industries_impacted":   countSummary("Industries Impacted", engine.DistinctIndustries(t)),
		"total_financial_loss":  sumSummary("Total Financial Loss ($M)", engine.TotalFinancialLoss(t)),
		"total_affected_users":  sumSummary("Total Affected Users", float64(engine.TotalAffectedUsers(t))),
		"mean_resolution_hours": {Kind: models.KindMean, Title: "Mean Resolution Time (h)", Value: engine.MeanResolutionTime(t)},
	}
	charts = map[string]models.Summary{
		"incidents_by_country":  groupCountSummary("Incidents by Country", byCountry),
		"industry_distribution": groupCountSummary("Industry Distribution", byIndustry),
		"attack_types":          groupCountSummary("Attack Types", engine.GroupCount(t, engine.AttackType)),
		"attack_sources":        groupCountSummary("Attack Sources", engine.GroupCount(t, engine.AttackSource)),
		"vulnerability_types":   groupCountSummary("Vulnerability Types", engine.GroupCount(t, engine.VulnerabilityType)),
		"yearly_incidents":      seriesSummary("Yearly Incident Trends", engine.YearlySeries(t, engine.CountRows)),
		"loss_by_year":          seriesSummary("Financial Loss by Year ($M)", engine.YearlySeries(t, engine.SumOf(engine.LossMeasure))),
		"loss_by_industry":      groupSumSummary("Financial Loss by Industry ($M)", engine.GroupSum(t, engine.TargetIndustry, engine.LossMeasure)),
		"top_countries":         topSummary("Top Countries by Incidents", byCountry, topN),
		"top_industries":        topSummary("Top Industries by Incidents", byIndustry, topN),
	}
	return kpis, charts
}

// drilldown derives the country page from the country's subset.
func drilldown(t engine.Table) (kpis, charts map[string]models.Summary) {
	kpis = map[string]models.Summary{
		"incidents":            countSummary("Incidents", engine.TotalIncidents(t)),
		"total_financial_loss": sumSummary("Total Loss ($M)", engine.TotalFinancialLoss(t)),
	}
	charts = map[string]models.Summary{
		"industry_breakdown": groupCountSummary("Industry Impact", engine.GroupCount(t, engine.TargetIndustry)),
		"attack_breakdown":   groupCountSummary("Attack Type Distribution", engine.GroupCount(t, engine.AttackType)),
		"yearly_incidents":   seriesSummary("Yearly Incidents", engine.YearlySeries(t, engine.CountRows)),
	}
	return kpis, charts
}
