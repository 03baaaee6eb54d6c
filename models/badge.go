package models

import (
	"fmt"
	"strings"

	"github.com/mmdatafocus/macantine_backend/config"
	"github.com/mmdatafocus/macantine_backend/utils"
	"github.com/shopspring/decimal"
)

type BadgeName string

const (
	BadgeAppro           BadgeName = "appro"
	BadgeWaste           BadgeName = "waste"
	BadgeDiversification BadgeName = "diversification"
	BadgePlastic         BadgeName = "plastic"
	BadgeInfo            BadgeName = "info"
)

// AllBadges in display order.
var AllBadges = []BadgeName{BadgeAppro, BadgeWaste, BadgeDiversification, BadgePlastic, BadgeInfo}

// meal count from which a food donation agreement is mandatory
const donationAgreementMealCount = 3000

func ParseBadgeName(value string) (BadgeName, error) {
	name := BadgeName(strings.ToLower(strings.TrimSpace(value)))
	for _, b := range AllBadges {
		if b == name {
			return b, nil
		}
	}
	return "", utils.NewValidationError("badge", fmt.Sprintf("Badge '%s' inconnu", value))
}

// BadgeSubject is one diagnostic together with the canteen facts badges depend on.
type BadgeSubject struct {
	DiagnosticId   int
	CanteenId      int
	Year           int
	Region         string
	DailyMealCount *int
	Sectors        []string
	Appro          ApproValues
	Quality        QualityValues
}

func NewBadgeSubject(d *Diagnostic, c *Canteen) BadgeSubject {
	subject := BadgeSubject{
		DiagnosticId: d.ID,
		CanteenId:    d.CanteenId,
		Year:         d.Year,
		Appro:        d.ApproValues,
		Quality:      d.QualityValues,
	}
	if c != nil {
		subject.Region = c.Region
		subject.DailyMealCount = c.DailyMealCount
		subject.Sectors = c.SectorNames()
	}
	return subject
}

type BadgeEvaluator struct {
	Thresholds *config.Thresholds
}

func NewBadgeEvaluator() BadgeEvaluator {
	return BadgeEvaluator{Thresholds: config.GetThresholds()}
}

// EvaluateBadges groups the subjects by the badges they earn. Every badge has an entry.
func EvaluateBadges(items []BadgeSubject) map[BadgeName][]BadgeSubject {
	return NewBadgeEvaluator().Evaluate(items)
}

func (e BadgeEvaluator) Evaluate(items []BadgeSubject) map[BadgeName][]BadgeSubject {
	result := make(map[BadgeName][]BadgeSubject, len(AllBadges))
	for _, b := range AllBadges {
		result[b] = []BadgeSubject{}
	}
	for _, item := range items {
		for _, b := range e.Earned(item) {
			result[b] = append(result[b], item)
		}
	}
	return result
}

func (e BadgeEvaluator) Earned(item BadgeSubject) []BadgeName {
	earned := []BadgeName{}
	for _, b := range AllBadges {
		if e.Has(b, item) {
			earned = append(earned, b)
		}
	}
	return earned
}

func (e BadgeEvaluator) Has(badge BadgeName, item BadgeSubject) bool {
	switch badge {
	case BadgeAppro:
		return e.hasAppro(item)
	case BadgeWaste:
		return hasWaste(item)
	case BadgeDiversification:
		return hasDiversification(item)
	case BadgePlastic:
		return hasPlastic(item)
	case BadgeInfo:
		return isTrue(item.Quality.CommunicatesOnFoodQuality)
	}
	return false
}

func (e BadgeEvaluator) hasAppro(item BadgeSubject) bool {
	total := item.Appro.ValueTotalHt
	if !total.Valid || !total.Decimal.IsPositive() {
		return false
	}
	bio := item.Appro.BioTotal().Decimal
	sustainable := item.Appro.SustainableTotal().Decimal

	th := e.thresholds().ForRegion(item.Region)
	// ratio >= threshold, compared without division
	combinedOk := bio.Add(sustainable).GreaterThanOrEqual(th.Combined.Mul(total.Decimal))
	bioOk := bio.GreaterThanOrEqual(th.Bio.Mul(total.Decimal))
	return combinedOk && bioOk
}

func (e BadgeEvaluator) thresholds() *config.Thresholds {
	if e.Thresholds == nil {
		return config.GetThresholds()
	}
	return e.Thresholds
}

func hasWaste(item BadgeSubject) bool {
	q := item.Quality
	if !isTrue(q.HasWasteDiagnostic) || len(q.WasteActions) == 0 {
		return false
	}
	if item.DailyMealCount != nil && *item.DailyMealCount >= donationAgreementMealCount {
		return isTrue(q.HasDonationAgreement)
	}
	return true
}

func hasDiversification(item BadgeSubject) bool {
	switch item.Quality.VegetarianWeeklyRecurrence {
	case VegetarianRecurrenceDaily:
		return true
	case VegetarianRecurrenceMid:
		for _, s := range item.Sectors {
			if IsSchoolSector(s) {
				return true
			}
		}
	}
	return false
}

func hasPlastic(item BadgeSubject) bool {
	q := item.Quality
	return isTrue(q.CookingPlasticSubstituted) &&
		isTrue(q.ServingPlasticSubstituted) &&
		isTrue(q.PlasticBottlesSubstituted) &&
		isTrue(q.PlasticTablewareSubstituted)
}

func isTrue(b *bool) bool {
	return b != nil && *b
}

// ratio returns value/total as a decimal, ok is false when it cannot be computed.
func ratio(value decimal.NullDecimal, total decimal.NullDecimal) (decimal.Decimal, bool) {
	if !value.Valid || !total.Valid || !total.Decimal.IsPositive() {
		return decimal.Zero, false
	}
	return value.Decimal.Div(total.Decimal), true
}
