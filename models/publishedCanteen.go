package models

import (
	"context"
	"errors"

	"github.com/mmdatafocus/macantine_backend/config"
	"github.com/mmdatafocus/macantine_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	PublishedCanteenDefaultLimit = 12
	PublishedCanteenMaxLimit     = 30
)

type PublishedCanteenSummary struct {
	CanteenSummary
	Badges []BadgeName `json:"badges"`
}

type PublishedCanteenPage struct {
	Count   int                        `json:"count"`
	Results []*PublishedCanteenSummary `json:"results"`
	Limit   int                        `json:"limit"`
	Offset  int                        `json:"offset"`
}

type CentralKitchenSummary struct {
	ID                int    `json:"id"`
	Name              string `json:"name"`
	Siret             string `json:"siret"`
	PublicationStatus string `json:"publicationStatus"`
}

type PublishedCanteenProfile struct {
	CanteenSummary
	Badges                    []BadgeName            `json:"badges"`
	Diagnostics               []*PublicDiagnostic    `json:"diagnostics"`
	CentralKitchen            *CentralKitchenSummary `json:"centralKitchen,omitempty"`
	CentralKitchenDiagnostics []*PublicDiagnostic    `json:"centralKitchenDiagnostics,omitempty"`
}

// PublicDiagnostic exposes values as shares of the total, never as amounts.
type PublicDiagnostic struct {
	ID                           int                           `json:"id"`
	CanteenId                    int                           `json:"canteenId"`
	Year                         int                           `json:"year"`
	DiagnosticType               DiagnosticType                `json:"diagnosticType"`
	CentralKitchenDiagnosticMode *CentralKitchenDiagnosticMode `json:"centralKitchenDiagnosticMode"`

	PercentageValueBioHt                  *float64 `json:"percentageValueBioHt,omitempty"`
	PercentageValueSustainableHt          *float64 `json:"percentageValueSustainableHt,omitempty"`
	PercentageValueFairTradeHt            *float64 `json:"percentageValueFairTradeHt,omitempty"`
	PercentageValueExternalityPerformance *float64 `json:"percentageValueExternalityPerformanceHt,omitempty"`
	PercentageValueEgalimOthersHt         *float64 `json:"percentageValueEgalimOthersHt,omitempty"`
	PercentageValueMeatPoultryEgalimHt    *float64 `json:"percentageValueMeatPoultryEgalimHt,omitempty"`
	PercentageValueMeatPoultryFranceHt    *float64 `json:"percentageValueMeatPoultryFranceHt,omitempty"`
	PercentageValueFishEgalimHt           *float64 `json:"percentageValueFishEgalimHt,omitempty"`

	*QualityValues `json:",omitempty"`
}

func percentage(value decimal.NullDecimal, total decimal.NullDecimal) *float64 {
	share, ok := ratio(value, total)
	if !ok {
		return nil
	}
	f, _ := share.Round(4).Float64()
	return &f
}

// NewPublicDiagnostic hides amounts; withQuality adds the non-procurement measures.
func NewPublicDiagnostic(d *Diagnostic, withQuality bool) *PublicDiagnostic {
	total := d.ValueTotalHt
	public := &PublicDiagnostic{
		ID:                                    d.ID,
		CanteenId:                             d.CanteenId,
		Year:                                  d.Year,
		DiagnosticType:                        d.DiagnosticType,
		CentralKitchenDiagnosticMode:          d.CentralKitchenDiagnosticMode,
		PercentageValueBioHt:                  percentage(d.BioTotal(), total),
		PercentageValueSustainableHt:          percentage(d.SustainableTotal(), total),
		PercentageValueFairTradeHt:            percentage(d.ValueFairTradeHt, total),
		PercentageValueExternalityPerformance: percentage(d.ValueExternalityPerformanceHt, total),
		PercentageValueEgalimOthersHt:         percentage(d.ValueEgalimOthersHt, total),
		PercentageValueMeatPoultryEgalimHt:    percentage(d.ValueMeatPoultryEgalimHt, d.ValueMeatPoultryHt),
		PercentageValueMeatPoultryFranceHt:    percentage(d.ValueMeatPoultryFranceHt, d.ValueMeatPoultryHt),
		PercentageValueFishEgalimHt:           percentage(d.ValueFishEgalimHt, d.ValueFishHt),
	}
	if withQuality {
		quality := d.QualityValues
		public.QualityValues = &quality
	}
	return public
}

func clampPage(limit int, offset int) (int, int) {
	if limit <= 0 {
		limit = PublishedCanteenDefaultLimit
	}
	if limit > PublishedCanteenMaxLimit {
		limit = PublishedCanteenMaxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func publishedCanteens(db *gorm.DB) *gorm.DB {
	return db.Model(&Canteen{}).Where("publication_status = ?", PublicationStatusPublished)
}

// GetPublishedCanteens pages through published canteens, optionally keeping
// those whose latest diagnostic earns the badge.
func GetPublishedCanteens(ctx context.Context, limit int, offset int, badge string) (*PublishedCanteenPage, error) {
	limit, offset = clampPage(limit, offset)
	var filter BadgeName
	if badge != "" {
		parsed, err := ParseBadgeName(badge)
		if err != nil {
			return nil, err
		}
		filter = parsed
	}
	db := config.GetDB().WithContext(ctx)
	page := PublishedCanteenPage{Limit: limit, Offset: offset, Results: []*PublishedCanteenSummary{}}

	var canteens []*Canteen
	if filter == "" {
		var count int64
		if err := publishedCanteens(db).Count(&count).Error; err != nil {
			return nil, err
		}
		page.Count = int(count)
		if err := publishedCanteens(db).Preload("Sectors").Order("name, id").
			Limit(limit).Offset(offset).Find(&canteens).Error; err != nil {
			return nil, err
		}
	} else {
		// badges depend on the latest diagnostic, filtered in memory
		if err := publishedCanteens(db).Preload("Sectors").Order("name, id").Find(&canteens).Error; err != nil {
			return nil, err
		}
	}

	summaries, err := withBadges(ctx, db, canteens)
	if err != nil {
		return nil, err
	}
	if filter == "" {
		page.Results = summaries
		return &page, nil
	}

	var matching []*PublishedCanteenSummary
	for _, s := range summaries {
		for _, b := range s.Badges {
			if b == filter {
				matching = append(matching, s)
				break
			}
		}
	}
	page.Count = len(matching)
	if offset < len(matching) {
		page.Results = matching[offset:min(offset+limit, len(matching))]
	}
	return &page, nil
}

func withBadges(ctx context.Context, db *gorm.DB, canteens []*Canteen) ([]*PublishedCanteenSummary, error) {
	ids := make([]int, 0, len(canteens))
	for _, c := range canteens {
		ids = append(ids, c.ID)
	}
	latest, err := latestDiagnostics(ctx, db, ids)
	if err != nil {
		return nil, err
	}
	evaluator := NewBadgeEvaluator()
	results := make([]*PublishedCanteenSummary, 0, len(canteens))
	for _, c := range canteens {
		summary := &PublishedCanteenSummary{CanteenSummary: c.Summary(), Badges: []BadgeName{}}
		if d, ok := latest[c.ID]; ok {
			summary.Badges = evaluator.Earned(NewBadgeSubject(d, c))
		}
		results = append(results, summary)
	}
	return results, nil
}

// GetPublishedCanteen returns the public profile of a published canteen.
func GetPublishedCanteen(ctx context.Context, id int) (*PublishedCanteenProfile, error) {
	notFound := &utils.NotFoundError{Resource: "canteen", Message: "Cantine introuvable"}
	db := config.GetDB().WithContext(ctx)

	var canteen Canteen
	err := publishedCanteens(db).Preload("Sectors").Where("id = ?", id).Take(&canteen).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound
	}
	if err != nil {
		return nil, err
	}

	var diagnostics []*Diagnostic
	if err := db.Where("canteen_id = ?", canteen.ID).Order("year DESC").Find(&diagnostics).Error; err != nil {
		return nil, err
	}
	profile := PublishedCanteenProfile{
		CanteenSummary: canteen.Summary(),
		Badges:         []BadgeName{},
		Diagnostics:    make([]*PublicDiagnostic, 0, len(diagnostics)),
	}
	for _, d := range diagnostics {
		profile.Diagnostics = append(profile.Diagnostics, NewPublicDiagnostic(d, true))
	}
	if len(diagnostics) > 0 {
		profile.Badges = NewBadgeEvaluator().Earned(NewBadgeSubject(diagnostics[0], &canteen))
	}

	if canteen.IsSatellite() && canteen.CentralProducerSiret != "" {
		central, err := findCanteenBySiret(ctx, db, canteen.CentralProducerSiret)
		if err != nil {
			return nil, err
		}
		if central != nil {
			profile.CentralKitchen = &CentralKitchenSummary{
				ID:                central.ID,
				Name:              central.Name,
				Siret:             central.Siret,
				PublicationStatus: string(central.PublicationStatus),
			}
			var centralDiagnostics []*Diagnostic
			if err := db.Where("canteen_id = ? AND central_kitchen_diagnostic_mode IS NOT NULL", central.ID).
				Order("year DESC").Find(&centralDiagnostics).Error; err != nil {
				return nil, err
			}
			profile.CentralKitchenDiagnostics = make([]*PublicDiagnostic, 0, len(centralDiagnostics))
			for _, d := range centralDiagnostics {
				all := *d.CentralKitchenDiagnosticMode == CentralKitchenDiagnosticModeAll
				profile.CentralKitchenDiagnostics = append(profile.CentralKitchenDiagnostics, NewPublicDiagnostic(d, all))
			}
		}
	}
	return &profile, nil
}
