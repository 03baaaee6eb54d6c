package models

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mmdatafocus/macantine_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

const importColumnCount = 14

const (
	msgImportUnreadable     = "Échec lors de la lecture du fichier"
	msgImportNotManager     = "Vous n'êtes pas un gestionnaire de cette cantine."
	msgImportUnknownSector  = "Le secteur spécifié ne fait pas partie des options acceptées"
	msgImportEmptySiret     = "Le siret de la cantine ne peut pas être vide"
	msgImportEmptyField     = "Ce champ ne peut pas être vide."
	msgImportLocationNeeded = "Ce champ ne peut pas être vide si le code INSEE de la ville est vide."
	msgImportDecimal        = "Ce champ doit être un nombre décimal."
	msgImportNegative       = "Assurez-vous que cette valeur est supérieure ou égale à 0."
)

// verbose names used in row messages
var importFieldNames = map[string]string{
	"siret":                "siret",
	"daily_meal_count":     "repas par jour",
	"postal_code":          "code postal",
	"value_total_ht":       "valeur totale (HT)",
	"value_bio_ht":         "valeur bio (HT)",
	"value_sustainable_ht": "valeur produits de qualité et durables (HT)",
	"year":                 "année",
	"production_type":      "mode de production",
	"management_type":      "mode de gestion",
	"economic_model":       "secteur économique",
	"description":          "description du produit",
	"provider":             "fournisseur",
	"date":                 "date",
	"price_ht":             "prix HT",
	"family":               "famille de produits",
	"characteristics":      "caractéristiques",
	"local_definition":     "définition de local",
}

// ImportFieldError is one problem found on a row. An empty Field reports a
// row-wide problem; Status defaults to 400.
type ImportFieldError struct {
	Field   string
	Message string
	Status  int
}

func (e *ImportFieldError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	name, ok := importFieldNames[e.Field]
	if !ok {
		name = e.Field
	}
	return fmt.Sprintf("Champ '%s' : %s", name, e.Message)
}

func (e *ImportFieldError) status() int {
	if e.Status == 0 {
		return 400
	}
	return e.Status
}

func fieldError(field string, message string) *ImportFieldError {
	return &ImportFieldError{Field: field, Message: message}
}

func invalidValueError(field string, value string) *ImportFieldError {
	return &ImportFieldError{Message: fmt.Sprintf("La valeur '%s' n'est pas valide pour le champ '%s'.", value, importFieldNames[field])}
}

func invalidChoiceError(field string, value string) *ImportFieldError {
	return fieldError(field, fmt.Sprintf("Valeur '%s' n’est pas un choix valide.", value))
}

// ImportRowError is a row error as answered to the client. Row 0 is the whole file.
type ImportRowError struct {
	Row     int    `json:"row"`
	Status  int    `json:"status"`
	Message string `json:"message"`
}

// RawImportRow is a data row with its 1-based line number in the file.
// Sparse rows come from spreadsheets, where empty trailing cells are not
// stored and so cannot be told apart from missing ones.
type RawImportRow struct {
	Number int
	Cells  []string
	Sparse bool
}

// padded returns the cells extended with empty trailing cells up to width
// when the row is sparse.
func (r RawImportRow) padded(width int) []string {
	if !r.Sparse || len(r.Cells) >= width {
		return r.Cells
	}
	cells := make([]string, width)
	copy(cells, r.Cells)
	return cells
}

// ImportRow is a validated row ready to be persisted.
type ImportRow struct {
	Siret                string
	Name                 string
	CityInseeCode        string
	PostalCode           string
	CentralProducerSiret string
	DailyMealCount       int
	Sectors              []Sector
	ProductionType       ProductionType
	ManagementType       ManagementType
	EconomicModel        EconomicModel
	Year                 int
	ValueTotalHt         decimal.Decimal
	ValueBioHt           decimal.Decimal
	ValueSustainableHt   decimal.Decimal
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func isXLSX(name string, data []byte) bool {
	if strings.EqualFold(filepath.Ext(name), ".xlsx") {
		return true
	}
	return bytes.HasPrefix(data, []byte("PK\x03\x04"))
}

// ReadImportFile splits an uploaded CSV or XLSX file into rows, dropping the
// header when the first non-blank row starts with "siret".
func ReadImportFile(name string, data []byte) ([]RawImportRow, error) {
	var rows []RawImportRow
	var err error
	if isXLSX(name, data) {
		rows, err = readXLSXRows(data)
	} else {
		rows, err = readCSVRows(data)
	}
	if err != nil {
		return nil, err
	}
	if len(rows) > 0 && len(rows[0].Cells) > 0 &&
		strings.EqualFold(strings.TrimSpace(rows[0].Cells[0]), "siret") {
		rows = rows[1:]
	}
	return rows, nil
}

func readCSVRows(data []byte) ([]RawImportRow, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	sample := data
	if len(sample) > 1024 {
		sample = sample[:1024]
	}
	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = SniffDelimiter(sample)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var rows []RawImportRow
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if isBlankRow(record) {
			continue
		}
		line, _ := reader.FieldPos(0)
		rows = append(rows, RawImportRow{Number: line, Cells: record})
	}
	return rows, nil
}

// readXLSXRows reads the first sheet, skipping blank rows.
func readXLSXRows(data []byte) ([]RawImportRow, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheet")
	}
	records, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, err
	}
	var rows []RawImportRow
	for i, r := range records {
		if isBlankRow(r) {
			continue
		}
		rows = append(rows, RawImportRow{Number: i + 1, Cells: r, Sparse: true})
	}
	return rows, nil
}

func isBlankRow(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// SniffDelimiter picks among ',', ';' and tab the separator found most often
// outside quotes on the first non-empty line of the sample. Ties keep that order.
func SniffDelimiter(sample []byte) rune {
	candidates := []rune{',', ';', '\t'}
	counts := map[rune]int{}
	inQuotes := false
	for _, r := range string(sample) {
		if r == '"' {
			inQuotes = !inQuotes
			continue
		}
		if inQuotes {
			continue
		}
		if r == '\n' || r == '\r' {
			if len(counts) > 0 {
				break
			}
			continue
		}
		counts[r]++
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if counts[c] > counts[best] {
			best = c
		}
	}
	return best
}

func parseImportDecimal(field string, raw string) (decimal.Decimal, *ImportFieldError) {
	value, err := utils.ParseDecimal(raw)
	if err != nil {
		return decimal.Zero, fieldError(field, msgImportDecimal)
	}
	if value.IsNegative() {
		return decimal.Zero, fieldError(field, msgImportNegative)
	}
	return value, nil
}

// ParseImportRow validates one data row. Structural problems stop at the first
// error; value problems found afterwards are reported together.
func ParseImportRow(cells []string, sectors SectorLookup) (*ImportRow, []*ImportFieldError) {
	if len(cells) == 0 || strings.TrimSpace(cells[0]) == "" {
		if len(cells) == 0 {
			return nil, []*ImportFieldError{{Message: fmt.Sprintf("Données manquantes : %d colonnes attendus, %d trouvés.", importColumnCount, len(cells))}}
		}
		return nil, []*ImportFieldError{fieldError("siret", msgImportEmptySiret)}
	}
	if len(cells) < importColumnCount {
		return nil, []*ImportFieldError{{Message: fmt.Sprintf("Données manquantes : %d colonnes attendus, %d trouvés.", importColumnCount, len(cells))}}
	}
	cell := func(i int) string { return strings.TrimSpace(cells[i]) }

	if cell(5) == "" {
		return nil, []*ImportFieldError{fieldError("daily_meal_count", msgImportEmptyField)}
	}
	if cell(2) == "" && cell(3) == "" {
		return nil, []*ImportFieldError{fieldError("postal_code", msgImportLocationNeeded)}
	}
	row := ImportRow{
		Siret:                utils.NormaliseSiret(cells[0]),
		Name:                 cell(1),
		CityInseeCode:        cell(2),
		PostalCode:           cell(3),
		CentralProducerSiret: utils.NormaliseSiret(cells[4]),
	}
	var err *ImportFieldError
	if row.ValueTotalHt, err = parseImportDecimal("value_total_ht", cells[11]); err != nil {
		return nil, []*ImportFieldError{err}
	}
	if row.ValueBioHt, err = parseImportDecimal("value_bio_ht", cells[12]); err != nil {
		return nil, []*ImportFieldError{err}
	}
	if row.ValueSustainableHt, err = parseImportDecimal("value_sustainable_ht", cells[13]); err != nil {
		return nil, []*ImportFieldError{err}
	}

	var errs []*ImportFieldError
	if n, convErr := strconv.Atoi(cell(5)); convErr != nil || n < 0 {
		errs = append(errs, invalidValueError("daily_meal_count", cell(5)))
	} else {
		row.DailyMealCount = n
	}
	if y, convErr := strconv.Atoi(cell(10)); convErr != nil || y < 2000 || y > 2100 {
		errs = append(errs, invalidValueError("year", cell(10)))
	} else {
		row.Year = y
	}

	row.ProductionType = ProductionType(normaliseChoice(cells[7]))
	if !row.ProductionType.IsValid() {
		errs = append(errs, invalidChoiceError("production_type", cell(7)))
	}
	row.ManagementType = ManagementType(normaliseChoice(cells[8]))
	if !row.ManagementType.IsValid() {
		errs = append(errs, invalidChoiceError("management_type", cell(8)))
	}
	row.EconomicModel = EconomicModel(normaliseChoice(cells[9]))
	if !row.EconomicModel.IsValid() {
		errs = append(errs, invalidChoiceError("economic_model", cell(9)))
	}

	if cell(6) != "" {
		for _, name := range strings.Split(cell(6), "+") {
			sector, ok := sectors.Find(name)
			if !ok {
				errs = append(errs, &ImportFieldError{Message: msgImportUnknownSector})
				break
			}
			row.Sectors = append(row.Sectors, *sector)
		}
	}

	appro := row.ApproValues()
	if validationErr := appro.validate(); validationErr != nil {
		var ve *utils.ValidationError
		if errors.As(validationErr, &ve) {
			errs = append(errs, &ImportFieldError{Message: ve.Message})
		}
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return &row, nil
}

func (r *ImportRow) ApproValues() ApproValues {
	return ApproValues{
		ValueTotalHt:       decimal.NewNullDecimal(r.ValueTotalHt),
		ValueBioHt:         decimal.NewNullDecimal(r.ValueBioHt),
		ValueSustainableHt: decimal.NewNullDecimal(r.ValueSustainableHt),
	}
}

func (r *ImportRow) canteen() Canteen {
	mealCount := r.DailyMealCount
	return Canteen{
		Siret:                r.Siret,
		Name:                 r.Name,
		CityInseeCode:        r.CityInseeCode,
		PostalCode:           r.PostalCode,
		CentralProducerSiret: r.CentralProducerSiret,
		DailyMealCount:       &mealCount,
		ProductionType:       r.ProductionType,
		ManagementType:       r.ManagementType,
		EconomicModel:        r.EconomicModel,
		PublicationStatus:    PublicationStatusDraft,
		Sectors:              r.Sectors,
	}
}

func rowErrors(number int, errs []*ImportFieldError) []ImportRowError {
	out := make([]ImportRowError, 0, len(errs))
	for _, e := range errs {
		out = append(out, ImportRowError{Row: number, Status: e.status(), Message: e.Error()})
	}
	return out
}
