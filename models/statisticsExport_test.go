package models_test

import (
	"bytes"
	"testing"

	"github.com/mmdatafocus/macantine_backend/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestWriteStatisticsWorkbook(t *testing.T) {
	query := models.StatisticsQuery{Department: "38", Year: 2021}
	stats := &models.CanteenStatistics{
		CanteenCount:          2,
		PublishedCanteenCount: 1,
		BioPercent:            30,
		Sectors:               map[int]int64{1: 2},
	}
	sectors := []*models.Sector{{ID: 1, Name: "Scolaire"}, {ID: 2, Name: "Hôpitaux"}}

	buf, err := models.WriteStatisticsWorkbook(query, stats, sectors)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Statistiques")
	require.NoError(t, err)
	assert.Equal(t, []string{"Indicateur", "Valeur"}, rows[0])
	assert.Equal(t, []string{"Département", "38"}, rows[2])
	assert.Equal(t, []string{"Cantines", "2"}, rows[3])
	assert.Equal(t, []string{"Part bio (%)", "30"}, rows[5])
	assert.Equal(t, []string{"Scolaire", "2"}, rows[len(rows)-2])
	assert.Equal(t, []string{"Hôpitaux", "0"}, rows[len(rows)-1])

	assert.Equal(t, "statistiques-departement-38-2021.xlsx", models.StatisticsFilename(query))
	assert.Equal(t, "statistiques-region-84-2021.xlsx", models.StatisticsFilename(models.StatisticsQuery{Region: "84", Year: 2021}))
}
