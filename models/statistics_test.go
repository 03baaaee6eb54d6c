package models_test

import (
	"errors"
	"testing"

	"github.com/mmdatafocus/macantine_backend/models"
	"github.com/mmdatafocus/macantine_backend/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func statisticsCohort() ([]*models.Canteen, []*models.Diagnostic, []*models.Sector) {
	school := models.Sector{ID: 1, Name: "Scolaire"}
	company := models.Sector{ID: 2, Name: "Entreprise"}
	health := models.Sector{ID: 3, Name: "Santé"}

	published := &models.Canteen{
		ID: 10, Region: "01", PublicationStatus: models.PublicationStatusPublished,
		Sectors: []models.Sector{school},
	}
	draft := &models.Canteen{
		ID: 11, Region: "01", PublicationStatus: models.PublicationStatusDraft,
		Sectors: []models.Sector{company},
	}

	first := &models.Diagnostic{ID: 100, CanteenId: 10, Year: 2021}
	first.ValueTotalHt = money(100)
	first.ValueBioHt = money(20)
	first.ValueSustainableHt = money(30)
	first.VegetarianWeeklyRecurrence = models.VegetarianRecurrenceDaily

	second := &models.Diagnostic{ID: 101, CanteenId: 11, Year: 2021}
	second.ValueTotalHt = money(1000)
	second.ValueBioHt = money(400)
	second.ValueSustainableHt = money(500)
	second.HasWasteDiagnostic = utils.NewTrue()
	second.WasteActions = models.StringList{"INVENTORY"}
	second.CookingPlasticSubstituted = utils.NewTrue()
	second.ServingPlasticSubstituted = utils.NewTrue()
	second.PlasticBottlesSubstituted = utils.NewTrue()
	second.PlasticTablewareSubstituted = utils.NewTrue()
	second.CommunicatesOnFoodQuality = utils.NewTrue()

	return []*models.Canteen{published, draft},
		[]*models.Diagnostic{first, second},
		[]*models.Sector{&school, &company, &health}
}

func TestComputeStatisticsWorkedExample(t *testing.T) {
	canteens, diagnostics, sectors := statisticsCohort()

	stats := models.ComputeStatistics(evaluator(t), canteens, diagnostics, sectors)

	assert.Equal(t, 2, stats.CanteenCount)
	assert.Equal(t, 1, stats.PublishedCanteenCount)
	assert.Equal(t, 30, stats.BioPercent)
	assert.Equal(t, 40, stats.SustainablePercent)
	assert.Equal(t, 100, stats.ApproPercent)
	assert.Equal(t, 50, stats.WastePercent)
	assert.Equal(t, 50, stats.DiversificationPercent)
	assert.Equal(t, 50, stats.PlasticPercent)
	assert.Equal(t, 50, stats.InfoPercent)
	assert.Equal(t, map[int]int64{1: 1, 2: 1, 3: 0}, stats.Sectors)
}

func TestComputeStatisticsWithoutDiagnostics(t *testing.T) {
	canteens, _, sectors := statisticsCohort()

	stats := models.ComputeStatistics(evaluator(t), canteens, nil, sectors)

	assert.Equal(t, 2, stats.CanteenCount)
	assert.Zero(t, stats.BioPercent)
	assert.Zero(t, stats.SustainablePercent)
	assert.Zero(t, stats.ApproPercent)
	assert.Zero(t, stats.InfoPercent)
	assert.Len(t, stats.Sectors, 3)
}

func TestComputeStatisticsRoundsHalfUpAndSkipsEmptyTotals(t *testing.T) {
	canteen := &models.Canteen{ID: 1, Region: "11"}
	a := &models.Diagnostic{ID: 1, CanteenId: 1}
	a.ValueTotalHt = money(200)
	a.ValueBioHt = money(1)
	b := &models.Diagnostic{ID: 2, CanteenId: 1}
	b.ValueTotalHt = money(0)
	b.ValueBioHt = money(10)

	stats := models.ComputeStatistics(evaluator(t), []*models.Canteen{canteen}, []*models.Diagnostic{a, b}, nil)

	// only 1/200 = 0.5 % counts, rounded half up
	assert.Equal(t, 1, stats.BioPercent)
	assert.Equal(t, 0, stats.SustainablePercent)
	assert.NotNil(t, stats.Sectors)
}

func TestApproPercentGrowsWithSustainableValue(t *testing.T) {
	canteen := &models.Canteen{ID: 1, Region: "11"}
	previous := -1
	for _, sustainable := range []int64{0, 100, 200, 300, 400} {
		d := &models.Diagnostic{ID: 1, CanteenId: 1}
		d.ValueTotalHt = money(1000)
		d.ValueBioHt = money(200)
		d.ValueSustainableHt = money(sustainable)

		stats := models.ComputeStatistics(evaluator(t), []*models.Canteen{canteen}, []*models.Diagnostic{d}, nil)
		assert.GreaterOrEqual(t, stats.ApproPercent, previous)
		assert.GreaterOrEqual(t, stats.SustainablePercent, 0)
		assert.LessOrEqual(t, stats.SustainablePercent, 100)
		previous = stats.ApproPercent
	}
	assert.Equal(t, 100, previous)
}

func TestParseStatisticsQuery(t *testing.T) {
	q, err := models.ParseStatisticsQuery("01", "", "2021")
	require.NoError(t, err)
	assert.Equal(t, models.StatisticsQuery{Region: "01", Year: 2021}, q)

	q, err = models.ParseStatisticsQuery("84", "2a", "2021")
	require.NoError(t, err)
	assert.Equal(t, models.StatisticsQuery{Department: "2A", Year: 2021}, q)

	var missing *utils.MissingParameterError
	_, err = models.ParseStatisticsQuery("01", "", "")
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "year", missing.Name)

	for _, geography := range [][2]string{{"", ""}, {" ", "  "}} {
		missing = nil
		_, err = models.ParseStatisticsQuery(geography[0], geography[1], "2021")
		require.True(t, errors.As(err, &missing))
		assert.Equal(t, "region", missing.Name)
		assert.Equal(t, "region ou department manquant", err.Error())
		assert.Equal(t, 400, utils.HTTPStatus(err))
	}
}
