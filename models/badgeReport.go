package models

import (
	"context"

	"github.com/mmdatafocus/macantine_backend/config"
)

// BadgeReport counts the canteens earning each badge for a year.
type BadgeReport struct {
	Year        int               `json:"year"`
	Region      string            `json:"region,omitempty"`
	Diagnostics int               `json:"diagnostics"`
	Counts      map[BadgeName]int `json:"counts"`
}

func GetBadgeReport(ctx context.Context, year int, region string) (*BadgeReport, error) {
	db := config.GetDB().WithContext(ctx)
	query := db.Preload("Canteen.Sectors").Joins("JOIN canteens ON canteens.id = diagnostics.canteen_id AND canteens.deleted_at IS NULL").
		Where("diagnostics.year = ?", year)
	if region != "" {
		query = query.Where("canteens.region = ?", region)
	}
	var diagnostics []*Diagnostic
	if err := query.Find(&diagnostics).Error; err != nil {
		return nil, err
	}
	return NewBadgeReport(NewBadgeEvaluator(), year, region, diagnostics), nil
}

// NewBadgeReport evaluates diagnostics whose Canteen is loaded.
func NewBadgeReport(evaluator BadgeEvaluator, year int, region string, diagnostics []*Diagnostic) *BadgeReport {
	report := &BadgeReport{Year: year, Region: region, Counts: make(map[BadgeName]int, len(AllBadges))}
	subjects := make([]BadgeSubject, 0, len(diagnostics))
	for _, d := range diagnostics {
		subjects = append(subjects, NewBadgeSubject(d, d.Canteen))
	}
	report.Diagnostics = len(subjects)
	earned := evaluator.Evaluate(subjects)
	for _, b := range AllBadges {
		report.Counts[b] = len(earned[b])
	}
	return report
}
