package models_test

import (
	"strings"
	"testing"

	"github.com/mmdatafocus/macantine_backend/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func importSectors() models.SectorLookup {
	return models.NewSectorLookup([]*models.Sector{
		{ID: 1, Name: "Scolaire"},
		{ID: 2, Name: "Restaurants d'entreprises"},
		{ID: 3, Name: "Hôpitaux"},
	})
}

func validCells() []string {
	return []string{
		"210 000 048 00012", "Cantine A", "38185", "38000", "", "120", "scolaire+Hopitaux",
		"Site", "direct", "public", "2021", "1000,50", "200.25", "300",
	}
}

func messages(errs []*models.ImportFieldError) []string {
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		out = append(out, e.Error())
	}
	return out
}

func TestReadImportFileCSV(t *testing.T) {
	data := "\xEF\xBB\xBFSIRET;nom;insee\n21000004800012;\"Cantine; du centre\";38185\n\n21000004800013;B;38000\n"

	rows, err := models.ReadImportFile("import.csv", []byte(data))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 2, rows[0].Number)
	assert.Equal(t, []string{"21000004800012", "Cantine; du centre", "38185"}, rows[0].Cells)
	assert.Equal(t, 4, rows[1].Number)
}

func TestReadImportFileWithoutHeader(t *testing.T) {
	rows, err := models.ReadImportFile("import.csv", []byte("21000004800012,A\n21000004800013,B\n"))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 1, rows[0].Number)
}

func TestSniffDelimiter(t *testing.T) {
	assert.Equal(t, ',', models.SniffDelimiter([]byte("a,b,c\n")))
	assert.Equal(t, ';', models.SniffDelimiter([]byte("a;b;\"c,d,e,f\"\n1,2,3,4,5,6")))
	assert.Equal(t, '\t', models.SniffDelimiter([]byte("a\tb\tc")))
	assert.Equal(t, ',', models.SniffDelimiter([]byte("")))
}

func TestReadImportFileXLSX(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]interface{}{"siret", "nom"}))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &[]interface{}{"21000004800012", "Cantine A", "38185"}))
	require.NoError(t, f.SetSheetRow(sheet, "A3", &[]interface{}{"21000004800013", "Cantine B"}))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	rows, err := models.ReadImportFile("import.xlsx", buf.Bytes())
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 2, rows[0].Number)
	assert.Equal(t, 3, rows[1].Number)
	assert.Equal(t, []string{"21000004800013", "Cantine B"}, rows[1].Cells)
	assert.True(t, rows[1].Sparse)
}

func TestReadImportFileHeaderAfterBlankLines(t *testing.T) {
	data := "\n;;\nsiret;nom\n21000004800012;A\n"

	rows, err := models.ReadImportFile("import.csv", []byte(data))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 4, rows[0].Number)
	assert.Equal(t, []string{"21000004800012", "A"}, rows[0].Cells)
}

func TestShortRowReportsSameErrorInCSVAndXLSX(t *testing.T) {
	full := validCells()
	short := []string{"21000004800013", "Cantine B", "38185"}

	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	fullRow := make([]interface{}, len(full))
	for i, c := range full {
		fullRow[i] = c
	}
	require.NoError(t, f.SetSheetRow(sheet, "A1", &fullRow))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &[]interface{}{short[0], short[1], short[2]}))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	xlsxRows, err := models.ReadImportFile("import.xlsx", buf.Bytes())
	require.NoError(t, err)
	require.Len(t, xlsxRows, 2)
	assert.Len(t, xlsxRows[1].Cells, 3)

	csvRows, err := models.ReadImportFile("import.csv", []byte(strings.Join(full, ";")+"\n"+strings.Join(short, ";")+"\n"))
	require.NoError(t, err)
	require.Len(t, csvRows, 2)

	want := []string{"Données manquantes : 14 colonnes attendus, 3 trouvés."}
	_, xlsxErrs := models.ParseImportRow(xlsxRows[1].Cells, importSectors())
	_, csvErrs := models.ParseImportRow(csvRows[1].Cells, importSectors())
	assert.Equal(t, want, messages(xlsxErrs))
	assert.Equal(t, want, messages(csvErrs))
}

func TestParseImportRowValid(t *testing.T) {
	row, errs := models.ParseImportRow(validCells(), importSectors())
	require.Empty(t, errs)

	assert.Equal(t, "21000004800012", row.Siret)
	assert.Equal(t, 120, row.DailyMealCount)
	assert.Equal(t, models.ProductionTypeSite, row.ProductionType)
	assert.Equal(t, 2021, row.Year)
	assert.True(t, row.ValueTotalHt.Equal(decimal.RequireFromString("1000.50")))
	assert.True(t, row.ValueBioHt.Equal(decimal.RequireFromString("200.25")))
	require.Len(t, row.Sectors, 2)
	assert.Equal(t, 1, row.Sectors[0].ID)
	assert.Equal(t, 3, row.Sectors[1].ID)
}

func TestParseImportRowErrors(t *testing.T) {
	with := func(i int, value string) []string {
		cells := validCells()
		cells[i] = value
		return cells
	}
	cases := []struct {
		name  string
		cells []string
		want  []string
	}{
		{"empty siret", with(0, " "), []string{"Champ 'siret' : Le siret de la cantine ne peut pas être vide"}},
		{"missing columns", validCells()[:10], []string{"Données manquantes : 14 colonnes attendus, 10 trouvés."}},
		{"empty meal count", with(5, ""), []string{"Champ 'repas par jour' : Ce champ ne peut pas être vide."}},
		{"no location", func() []string { c := with(2, ""); c[3] = ""; return c }(),
			[]string{"Champ 'code postal' : Ce champ ne peut pas être vide si le code INSEE de la ville est vide."}},
		{"bad total", with(11, "mille"), []string{"Champ 'valeur totale (HT)' : Ce champ doit être un nombre décimal."}},
		{"empty bio", with(12, ""), []string{"Champ 'valeur bio (HT)' : Ce champ doit être un nombre décimal."}},
		{"bad meal count", with(5, "12.5"), []string{"La valeur '12.5' n'est pas valide pour le champ 'repas par jour'."}},
		{"bad year", with(10, "deux mille"), []string{"La valeur 'deux mille' n'est pas valide pour le champ 'année'."}},
		{"bad production type", with(7, "flying"), []string{"Champ 'mode de production' : Valeur 'flying' n’est pas un choix valide."}},
		{"unknown sector", with(6, "Scolaire+Prisons"), []string{"Le secteur spécifié ne fait pas partie des options acceptées"}},
		{"several value errors", func() []string { c := with(8, "x"); c[9] = "y"; return c }(), []string{
			"Champ 'mode de gestion' : Valeur 'x' n’est pas un choix valide.",
			"Champ 'secteur économique' : Valeur 'y' n’est pas un choix valide.",
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			row, errs := models.ParseImportRow(tc.cells, importSectors())
			assert.Nil(t, row)
			assert.Equal(t, tc.want, messages(errs))
		})
	}
}

func TestParseImportRowDistinctMessages(t *testing.T) {
	cells := validCells()
	cells[0] = ""
	_, emptySiret := models.ParseImportRow(cells, importSectors())
	cells = validCells()
	cells[6] = "inconnu"
	_, unknownSector := models.ParseImportRow(cells, importSectors())
	cells = validCells()
	cells[12] = "5000"
	_, impossible := models.ParseImportRow(cells, importSectors())

	all := []string{messages(emptySiret)[0], messages(unknownSector)[0], messages(impossible)[0]}
	assert.Len(t, all, 3)
	assert.NotEqual(t, all[0], all[1])
	assert.NotEqual(t, all[1], all[2])
	assert.NotEqual(t, all[0], all[2])
	assert.True(t, strings.Contains(all[2], "valeur totale"))
}
