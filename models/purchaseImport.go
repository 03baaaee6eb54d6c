package models

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/mmdatafocus/macantine_backend/config"
	"github.com/mmdatafocus/macantine_backend/metrics"
	"github.com/mmdatafocus/macantine_backend/utils"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

const (
	purchaseMinColumns = 7
	purchaseMaxColumns = 8
	purchaseDateLayout = "2006-01-02"
)

const (
	msgPurchaseEmptyDescription = "La description ne peut pas être vide"
	msgPurchaseEmptyProvider    = "Le fournisseur ne peut pas être vide"
	msgPurchaseEmptyDate        = "La date ne peut pas être vide"
	msgPurchaseEmptyPrice       = "Le prix ne peut pas être vide"
	msgPurchaseLocalNeeded      = "La définition de local est obligatoire pour les produits locaux"
)

var purchaseDateShape = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

func quotedValue(value string) string {
	return "«\u00a0" + value + "\u00a0»"
}

func purchaseChoiceMessage(value string) string {
	return fmt.Sprintf("La valeur %s n’est pas un choix valide.", quotedValue("'"+value+"'"))
}

// PurchaseRow is a validated purchase line, not yet tied to its canteen.
type PurchaseRow struct {
	Siret           string
	Description     string
	Provider        string
	Date            time.Time
	PriceHt         decimal.Decimal
	Family          *PurchaseFamily
	Characteristics []PurchaseCharacteristic
	LocalDefinition *PurchaseLocalDefinition
}

func purchaseShapeError(cells []string) *ImportFieldError {
	if len(cells) < purchaseMinColumns || len(cells) > purchaseMaxColumns {
		return &ImportFieldError{Message: fmt.Sprintf("Format fichier : %d-%d colonnes attendues, %d trouvées.", purchaseMinColumns, purchaseMaxColumns, len(cells))}
	}
	if strings.TrimSpace(cells[0]) == "" {
		return fieldError("siret", msgImportEmptySiret)
	}
	return nil
}

// parsePurchaseDate tells a well-shaped impossible date apart from a wrong format.
func parsePurchaseDate(raw string) (time.Time, *ImportFieldError) {
	if raw == "" {
		return time.Time{}, fieldError("date", msgPurchaseEmptyDate)
	}
	if !purchaseDateShape.MatchString(raw) {
		return time.Time{}, fieldError("date", fmt.Sprintf("Le format de date de la valeur %s n’est pas valide. Le format correct est AAAA-MM-JJ.", quotedValue(raw)))
	}
	date, err := time.Parse(purchaseDateLayout, raw)
	if err != nil {
		return time.Time{}, fieldError("date", fmt.Sprintf("Le format de date de la valeur %s est correct (AAAA-MM-JJ), mais la date n’est pas valide.", quotedValue(raw)))
	}
	return date, nil
}

// ParsePurchaseRow validates one purchase line and stops at the first problem.
// Columns are siret, description, provider, date, price, family,
// characteristics and an optional local definition.
func ParsePurchaseRow(cells []string) (*PurchaseRow, *ImportFieldError) {
	if err := purchaseShapeError(cells); err != nil {
		return nil, err
	}
	cell := func(i int) string {
		if i >= len(cells) {
			return ""
		}
		return strings.TrimSpace(cells[i])
	}

	row := PurchaseRow{
		Siret:       utils.NormaliseSiret(cells[0]),
		Description: cell(1),
		Provider:    cell(2),
	}
	if row.Description == "" {
		return nil, fieldError("description", msgPurchaseEmptyDescription)
	}
	if row.Provider == "" {
		return nil, fieldError("provider", msgPurchaseEmptyProvider)
	}
	var ferr *ImportFieldError
	if row.Date, ferr = parsePurchaseDate(cell(3)); ferr != nil {
		return nil, ferr
	}

	price, err := utils.ParseDecimal(cell(4))
	if errors.Is(err, utils.ErrEmptyDecimal) {
		return nil, fieldError("price_ht", msgPurchaseEmptyPrice)
	}
	if err != nil {
		return nil, fieldError("price_ht", fmt.Sprintf("La valeur %s doit être un nombre décimal.", quotedValue(cell(4))))
	}
	row.PriceHt = price

	if raw := cell(5); raw != "" {
		family := PurchaseFamily(strings.ToUpper(raw))
		if !family.IsValid() {
			return nil, fieldError("family", purchaseChoiceMessage(string(family)))
		}
		row.Family = &family
	}

	local := false
	if raw := cell(6); raw != "" {
		for i, part := range strings.Split(raw, ",") {
			c := PurchaseCharacteristic(strings.ToUpper(strings.TrimSpace(part)))
			if !c.IsValid() {
				return nil, fieldError("characteristics", fmt.Sprintf("L'élément n°%d du tableau n’est pas valide\u00a0: %s", i+1, purchaseChoiceMessage(string(c))))
			}
			local = local || c == CharacteristicLocal
			row.Characteristics = append(row.Characteristics, c)
		}
	}

	if raw := cell(7); raw != "" {
		definition := PurchaseLocalDefinition(strings.ToUpper(raw))
		if !definition.IsValid() {
			return nil, fieldError("local_definition", purchaseChoiceMessage(string(definition)))
		}
		row.LocalDefinition = &definition
	}
	if local && row.LocalDefinition == nil {
		return nil, fieldError("local_definition", msgPurchaseLocalNeeded)
	}
	return &row, nil
}

func (r *PurchaseRow) purchase(canteenId int, fileHash string) Purchase {
	characteristics := make(StringList, 0, len(r.Characteristics))
	for _, c := range r.Characteristics {
		characteristics = append(characteristics, string(c))
	}
	return Purchase{
		CanteenId:       canteenId,
		Date:            r.Date,
		Description:     r.Description,
		Provider:        r.Provider,
		Family:          r.Family,
		Characteristics: characteristics,
		PriceHt:         r.PriceHt,
		LocalDefinition: r.LocalDefinition,
		ImportSource:    fileHash,
		CreationSource:  CreationSourceImport,
	}
}

type PurchaseReference struct {
	ID        int       `json:"id"`
	CanteenId int       `json:"canteenId"`
	Date      time.Time `json:"date"`
}

type PurchaseImportResult struct {
	Purchases              []Purchase          `json:"purchases"`
	Count                  int                 `json:"count"`
	Errors                 []ImportRowError    `json:"errors"`
	Seconds                float64             `json:"seconds"`
	DuplicateFile          bool                `json:"duplicateFile,omitempty"`
	DuplicatePurchases     []PurchaseReference `json:"duplicatePurchases,omitempty"`
	DuplicatePurchaseCount int                 `json:"duplicatePurchaseCount,omitempty"`
}

func (r *PurchaseImportResult) fileError(message string) *PurchaseImportResult {
	r.Errors = fileRowError(message)
	r.Count = 0
	r.Purchases = []Purchase{}
	return r
}

type purchaseBatch struct {
	UserId     int    `json:"userId"`
	FileHash   string `json:"fileHash"`
	Count      int    `json:"count"`
	CanteenIds []int  `json:"canteenIds"`
	Purchases  []int  `json:"purchaseIds"`
}

func (b purchaseBatch) HistoryReference() (string, int) {
	return "imports", b.UserId
}

type PurchaseImporter struct {
	MaxSize int64
}

func NewPurchaseImporter() *PurchaseImporter {
	return &PurchaseImporter{MaxSize: config.CsvImportMaxSize()}
}

// ImportPurchases records every line of the file for canteens the user
// manages, or nothing when a line fails.
func (imp *PurchaseImporter) ImportPurchases(ctx context.Context, filename string, size int64, file io.Reader) (*PurchaseImportResult, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "ImportPurchases")
	defer span.End()

	user, err := GetSessionUser(ctx)
	if err != nil {
		return nil, err
	}
	ctx = WithUser(ctx, user)
	logger := config.GetLogger()

	result := &PurchaseImportResult{Purchases: []Purchase{}, Errors: []ImportRowError{}}
	defer func() {
		result.Seconds = time.Since(start).Seconds()
		metrics.ObserveImport(metrics.ImportPurchases, result.Seconds)
	}()

	upload, message := readImportUpload(ctx, user, imp.MaxSize, filename, size, file)
	if message != "" {
		return result.fileError(message), nil
	}
	defer upload.release(ctx)
	span.SetAttributes(attribute.String("import.hash", upload.Hash), attribute.Int("import.bytes", len(upload.Data)))

	var duplicates []PurchaseReference
	err = config.GetDB().WithContext(ctx).Model(&Purchase{}).
		Select("id, canteen_id, date").
		Where("import_source = ?", upload.Hash).
		Order("id").
		Scan(&duplicates).Error
	if err != nil {
		config.LogError(logger, "PurchaseImport", "ImportPurchases", "duplicate check", upload.Hash, err)
		return result.fileError(msgImportUnreadable), nil
	}
	if len(duplicates) > 0 {
		result.fileError(msgImportDuplicateFile)
		result.DuplicateFile = true
		result.DuplicatePurchases = duplicates
		result.DuplicatePurchaseCount = len(duplicates)
		return result, nil
	}

	rows, err := ReadImportFile(filename, upload.Data)
	if err != nil {
		config.LogError(logger, "PurchaseImport", "ImportPurchases", "parse", filename, err)
		return result.fileError(msgImportUnreadable), nil
	}

	purchases, batch, rowErrs, err := persistPurchases(ctx, user, upload.Hash, rows)
	if err != nil && !errors.Is(err, errImportRejected) {
		config.LogError(logger, "PurchaseImport", "ImportPurchases", "persist", upload.Hash, err)
		result.fileError(msgImportUnreadable)
		saveImportError(ctx, user, ImportTypePurchases, filename, upload.Data, result.Errors)
		return result, nil
	}
	if len(rowErrs) > 0 {
		result.Errors = rowErrs
		metrics.ImportRows(metrics.ImportPurchases, metrics.OutcomeFailed, len(rows))
		saveImportError(ctx, user, ImportTypePurchases, filename, upload.Data, rowErrs)
		return result, nil
	}

	metrics.ImportRows(metrics.ImportPurchases, metrics.OutcomeCreated, batch.Count)
	result.Purchases = purchases
	result.Count = batch.Count
	return result, nil
}

// persistPurchases inserts the lines in one transaction. The canteen is
// checked before the other fields of a line, and one error is kept per line.
func persistPurchases(ctx context.Context, user *User, fileHash string, rows []RawImportRow) ([]Purchase, purchaseBatch, []ImportRowError, error) {
	var purchases []Purchase
	var rowErrs []ImportRowError
	batch := purchaseBatch{UserId: user.ID, FileHash: fileHash}

	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		canteens := map[string]siretLookup{}
		fail := func(number int, ferr *ImportFieldError) {
			rowErrs = append(rowErrs, rowErrors(number, []*ImportFieldError{ferr})...)
		}
		for _, raw := range rows {
			cells := raw.padded(purchaseMaxColumns)
			if ferr := purchaseShapeError(cells); ferr != nil {
				fail(raw.Number, ferr)
				continue
			}
			canteen, ferr, err := managedCanteen(ctx, tx, user, canteens, cells[0])
			if err != nil {
				return err
			}
			if ferr != nil {
				fail(raw.Number, ferr)
				continue
			}
			row, ferr := ParsePurchaseRow(cells)
			if ferr != nil {
				fail(raw.Number, ferr)
				continue
			}
			if len(rowErrs) > 0 {
				continue
			}
			purchase := row.purchase(canteen.ID, fileHash)
			if err := tx.Omit("Canteen").Create(&purchase).Error; err != nil {
				return err
			}
			purchases = append(purchases, purchase)
			batch.Purchases = append(batch.Purchases, purchase.ID)
			batch.CanteenIds = utils.UniqueSlice(append(batch.CanteenIds, canteen.ID))
			batch.Count++
		}
		if len(rowErrs) > 0 {
			return errImportRejected
		}
		if batch.Count == 0 {
			return nil
		}
		if err := createHistory(tx, HistoryActionImport, batch, nil, batch, fmt.Sprintf("%d purchases imported.", batch.Count)); err != nil {
			return err
		}
		return enqueueOutbox(tx, OutboxEventPurchasesImported, batch, batch)
	})
	if err != nil {
		return nil, batch, rowErrs, err
	}
	return purchases, batch, nil, nil
}

type siretLookup struct {
	canteen *Canteen
	managed bool
}

// managedCanteen resolves the siret to a canteen the user manages. Lookups
// are cached per siret for the file.
func managedCanteen(ctx context.Context, tx *gorm.DB, user *User, cache map[string]siretLookup, rawSiret string) (*Canteen, *ImportFieldError, error) {
	siret := utils.NormaliseSiret(rawSiret)
	found, seen := cache[siret]
	if !seen {
		canteen, err := findCanteenBySiret(ctx, tx, siret)
		if err != nil {
			return nil, nil, err
		}
		found.canteen = canteen
		if canteen != nil {
			if found.managed, err = IsCanteenManager(ctx, tx, canteen.ID, user.ID); err != nil {
				return nil, nil, err
			}
		}
		cache[siret] = found
	}
	if found.canteen == nil {
		return nil, &ImportFieldError{Message: fmt.Sprintf("Une cantine avec le siret « %s » n'existe pas sur la plateforme.", siret), Status: 404}, nil
	}
	if !found.managed {
		return nil, &ImportFieldError{Message: msgImportNotManager, Status: 401}, nil
	}
	return found.canteen, nil, nil
}
