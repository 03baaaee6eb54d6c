package models

import (
	"bytes"
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"
)

const (
	statisticsSheet = "Statistiques"
	XLSXContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

func (q StatisticsQuery) scope() string {
	if q.Department != "" {
		return "departement-" + q.Department
	}
	return "region-" + q.Region
}

func StatisticsFilename(q StatisticsQuery) string {
	return fmt.Sprintf("statistiques-%s-%d.xlsx", q.scope(), q.Year)
}

// ExportCanteenStatistics returns the statistics of the query as a workbook.
func ExportCanteenStatistics(ctx context.Context, query StatisticsQuery) (string, []byte, error) {
	stats, err := GetCanteenStatistics(ctx, query)
	if err != nil {
		return "", nil, err
	}
	sectors, err := GetSectors(ctx)
	if err != nil {
		return "", nil, err
	}
	buf, err := WriteStatisticsWorkbook(query, stats, sectors)
	if err != nil {
		return "", nil, err
	}
	return StatisticsFilename(query), buf.Bytes(), nil
}

// WriteStatisticsWorkbook lays the indicators out on one sheet, followed by
// the canteen count of each sector.
func WriteStatisticsWorkbook(query StatisticsQuery, stats *CanteenStatistics, sectors []*Sector) (*bytes.Buffer, error) {
	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName(f.GetSheetName(0), statisticsSheet); err != nil {
		return nil, err
	}

	rows := [][]interface{}{
		{"Indicateur", "Valeur"},
		{"Année", query.Year},
	}
	if query.Department != "" {
		rows = append(rows, []interface{}{"Département", query.Department})
	} else {
		rows = append(rows, []interface{}{"Région", query.Region})
	}
	rows = append(rows,
		[]interface{}{"Cantines", stats.CanteenCount},
		[]interface{}{"Cantines publiées", stats.PublishedCanteenCount},
		[]interface{}{"Part bio (%)", stats.BioPercent},
		[]interface{}{"Part durable (%)", stats.SustainablePercent},
		[]interface{}{"Objectif EGAlim atteint (%)", stats.ApproPercent},
		[]interface{}{"Lutte contre le gaspillage (%)", stats.WastePercent},
		[]interface{}{"Diversification (%)", stats.DiversificationPercent},
		[]interface{}{"Substitution du plastique (%)", stats.PlasticPercent},
		[]interface{}{"Information des convives (%)", stats.InfoPercent},
		[]interface{}{},
		[]interface{}{"Secteur", "Cantines"},
	)
	for _, s := range sectors {
		rows = append(rows, []interface{}{s.Name, stats.Sectors[s.ID]})
	}

	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return nil, err
		}
		row := row
		if err := f.SetSheetRow(statisticsSheet, cell, &row); err != nil {
			return nil, err
		}
	}
	return f.WriteToBuffer()
}
