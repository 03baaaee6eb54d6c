package models

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mmdatafocus/macantine_backend/config"
	"github.com/mmdatafocus/macantine_backend/utils"
	"github.com/shopspring/decimal"
)

const statisticsCacheLifespan = 5 * time.Minute

type StatisticsQuery struct {
	Region     string
	Department string
	Year       int
}

type CanteenStatistics struct {
	CanteenCount           int           `json:"canteenCount"`
	PublishedCanteenCount  int           `json:"publishedCanteenCount"`
	BioPercent             int           `json:"bioPercent"`
	SustainablePercent     int           `json:"sustainablePercent"`
	ApproPercent           int           `json:"approPercent"`
	WastePercent           int           `json:"wastePercent"`
	DiversificationPercent int           `json:"diversificationPercent"`
	PlasticPercent         int           `json:"plasticPercent"`
	InfoPercent            int           `json:"infoPercent"`
	Sectors                map[int]int64 `json:"sectors"`
}

// ParseStatisticsQuery reads the raw query parameters. The department wins
// when both geographies are given.
func ParseStatisticsQuery(region string, department string, year string) (StatisticsQuery, error) {
	query := StatisticsQuery{
		Region:     strings.TrimSpace(region),
		Department: strings.ToUpper(strings.TrimSpace(department)),
	}
	if query.Department != "" {
		query.Region = ""
	}
	if query.Region == "" && query.Department == "" {
		return query, &utils.MissingParameterError{Name: "region", Message: "region ou department manquant"}
	}
	y, err := strconv.Atoi(strings.TrimSpace(year))
	if err != nil || y <= 0 {
		return query, &utils.MissingParameterError{Name: "year"}
	}
	query.Year = y
	return query, nil
}

func (q StatisticsQuery) cacheKey() string {
	return fmt.Sprintf("CanteenStatistics:%s:%s:%d", q.Region, q.Department, q.Year)
}

// GetCanteenStatistics aggregates the canteens of a region or department for a year.
func GetCanteenStatistics(ctx context.Context, query StatisticsQuery) (*CanteenStatistics, error) {
	if query.Year <= 0 {
		return nil, &utils.MissingParameterError{Name: "year"}
	}
	if query.Region == "" && query.Department == "" {
		return nil, &utils.MissingParameterError{Name: "region", Message: "region ou department manquant"}
	}
	if query.Department != "" {
		query.Region = ""
	}
	logger := config.GetLogger()

	var cached CanteenStatistics
	found, err := config.GetRedisObject(query.cacheKey(), &cached)
	if err != nil {
		logger.WithField("key", query.cacheKey()).Warn("statistics cache read failed: ", err)
	}
	if found {
		return &cached, nil
	}

	db := config.GetDB().WithContext(ctx)
	var canteens []*Canteen
	canteenQuery := db.Preload("Sectors")
	if query.Department != "" {
		canteenQuery = canteenQuery.Where("department = ?", query.Department)
	} else {
		canteenQuery = canteenQuery.Where("region = ?", query.Region)
	}
	if err := canteenQuery.Find(&canteens).Error; err != nil {
		return nil, err
	}

	canteenIds := make([]int, 0, len(canteens))
	for _, c := range canteens {
		canteenIds = append(canteenIds, c.ID)
	}
	diagnostics := []*Diagnostic{}
	if len(canteenIds) > 0 {
		if err := db.Where("canteen_id IN ? AND year = ?", canteenIds, query.Year).Find(&diagnostics).Error; err != nil {
			return nil, err
		}
	}
	var sectors []*Sector
	if err := db.Order("id").Find(&sectors).Error; err != nil {
		return nil, err
	}

	stats := ComputeStatistics(NewBadgeEvaluator(), canteens, diagnostics, sectors)
	if err := config.SetRedisObject(query.cacheKey(), stats, statisticsCacheLifespan); err != nil {
		logger.WithField("key", query.cacheKey()).Warn("statistics cache write failed: ", err)
	}
	return &stats, nil
}

// ComputeStatistics is the pure aggregation behind GetCanteenStatistics.
func ComputeStatistics(evaluator BadgeEvaluator, canteens []*Canteen, diagnostics []*Diagnostic, sectors []*Sector) CanteenStatistics {
	stats := CanteenStatistics{Sectors: make(map[int]int64, len(sectors))}
	for _, s := range sectors {
		stats.Sectors[s.ID] = 0
	}

	byId := make(map[int]*Canteen, len(canteens))
	for _, c := range canteens {
		byId[c.ID] = c
		stats.CanteenCount++
		if c.IsPublished() {
			stats.PublishedCanteenCount++
		}
		for _, s := range c.Sectors {
			stats.Sectors[s.ID]++
		}
	}

	subjects := make([]BadgeSubject, 0, len(diagnostics))
	var bioRatios, sustainableRatios []decimal.Decimal
	for _, d := range diagnostics {
		subjects = append(subjects, NewBadgeSubject(d, byId[d.CanteenId]))
		if r, ok := ratio(d.BioTotal(), d.ValueTotalHt); ok {
			bioRatios = append(bioRatios, r)
		}
		sustainable := d.SustainableTotal()
		if !sustainable.Valid && d.ValueTotalHt.Valid {
			// an unanswered sustainable value counts as zero
			sustainable = decimal.NewNullDecimal(decimal.Zero)
		}
		if r, ok := ratio(sustainable, d.ValueTotalHt); ok {
			sustainableRatios = append(sustainableRatios, r)
		}
	}
	stats.BioPercent = meanPercent(bioRatios)
	stats.SustainablePercent = meanPercent(sustainableRatios)

	if len(subjects) == 0 {
		return stats
	}
	earned := evaluator.Evaluate(subjects)
	share := func(badge BadgeName) int {
		return sharePercent(len(earned[badge]), len(subjects))
	}
	stats.ApproPercent = share(BadgeAppro)
	stats.WastePercent = share(BadgeWaste)
	stats.DiversificationPercent = share(BadgeDiversification)
	stats.PlasticPercent = share(BadgePlastic)
	stats.InfoPercent = share(BadgeInfo)
	return stats
}

var hundred = decimal.NewFromInt(100)

func meanPercent(ratios []decimal.Decimal) int {
	if len(ratios) == 0 {
		return 0
	}
	sum := decimal.Zero
	for _, r := range ratios {
		sum = sum.Add(r)
	}
	mean := sum.Div(decimal.NewFromInt(int64(len(ratios))))
	return clampPercent(mean.Mul(hundred))
}

func sharePercent(count int, total int) int {
	if total == 0 {
		return 0
	}
	return clampPercent(decimal.NewFromInt(int64(count)).Mul(hundred).Div(decimal.NewFromInt(int64(total))))
}

// clampPercent rounds half up into [0, 100].
func clampPercent(value decimal.Decimal) int {
	v := value.Round(0).IntPart()
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return int(v)
}

// InvalidateStatistics drops every cached statistics entry.
func InvalidateStatistics() {
	if err := config.RemoveRedisPattern("CanteenStatistics:*"); err != nil {
		config.GetLogger().Warn("statistics cache invalidation failed: ", err)
	}
}
