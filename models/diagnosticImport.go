package models

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/mmdatafocus/macantine_backend/config"
	"github.com/mmdatafocus/macantine_backend/geocoding"
	"github.com/mmdatafocus/macantine_backend/metrics"
	"github.com/mmdatafocus/macantine_backend/utils"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Geocoder fills the commune of canteens created without a city.
type Geocoder interface {
	Geocode(ctx context.Context, requests []geocoding.Request) ([]geocoding.Result, error)
}

type DiagnosticReference struct {
	ID        int `json:"id"`
	CanteenId int `json:"canteenId"`
	Year      int `json:"year"`
}

type ImportResult struct {
	Canteens                 []CanteenSummary      `json:"canteens"`
	Count                    int                   `json:"count"`
	Errors                   []ImportRowError      `json:"errors"`
	Seconds                  float64               `json:"seconds"`
	DuplicateFile            bool                  `json:"duplicateFile,omitempty"`
	DuplicateDiagnostics     []DiagnosticReference `json:"duplicateDiagnostics,omitempty"`
	DuplicateDiagnosticCount int                   `json:"duplicateDiagnosticCount,omitempty"`
}

func newImportResult() *ImportResult {
	return &ImportResult{Canteens: []CanteenSummary{}, Errors: []ImportRowError{}}
}

// fileError rejects the whole file with a row 0 error.
func (r *ImportResult) fileError(message string) *ImportResult {
	r.Errors = fileRowError(message)
	r.Count = 0
	r.Canteens = []CanteenSummary{}
	return r
}

func (r *ImportResult) duplicateFile(duplicates []DiagnosticReference) *ImportResult {
	r.fileError(msgImportDuplicateFile)
	r.DuplicateFile = true
	r.DuplicateDiagnostics = duplicates
	r.DuplicateDiagnosticCount = len(duplicates)
	return r
}

// importBatch identifies one accepted file in the audit trail and the outbox.
type importBatch struct {
	UserId      int      `json:"userId"`
	FileHash    string   `json:"fileHash"`
	Count       int      `json:"count"`
	CanteenIds  []int    `json:"canteenIds"`
	Diagnostics []int    `json:"diagnosticIds"`
	Years       []int    `json:"years"`
	Sirets      []string `json:"sirets"`
}

func (b importBatch) HistoryReference() (string, int) {
	return "imports", b.UserId
}

type DiagnosticImporter struct {
	Geocoder Geocoder
	MaxSize  int64
}

func NewDiagnosticImporter(geocoder Geocoder) *DiagnosticImporter {
	return &DiagnosticImporter{Geocoder: geocoder, MaxSize: config.CsvImportMaxSize()}
}

// ImportDiagnostics creates a canteen and a diagnostic for every row of the
// file, or nothing at all when a row fails. Only authentication problems are
// returned as errors; everything else is reported in the result.
func (imp *DiagnosticImporter) ImportDiagnostics(ctx context.Context, filename string, size int64, file io.Reader) (*ImportResult, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "ImportDiagnostics")
	defer span.End()

	user, err := GetSessionUser(ctx)
	if err != nil {
		return nil, err
	}
	ctx = WithUser(ctx, user)
	logger := config.GetLogger()

	result := newImportResult()
	defer func() {
		result.Seconds = time.Since(start).Seconds()
		metrics.ObserveImport(metrics.ImportDiagnostics, result.Seconds)
	}()

	upload, message := readImportUpload(ctx, user, imp.MaxSize, filename, size, file)
	if message != "" {
		return result.fileError(message), nil
	}
	defer upload.release(ctx)
	fileHash := upload.Hash
	data := upload.Data
	span.SetAttributes(attribute.String("import.hash", fileHash), attribute.Int("import.bytes", len(data)))

	duplicates, err := diagnosticsFromFile(ctx, fileHash)
	if err != nil {
		config.LogError(logger, "DiagnosticImport", "ImportDiagnostics", "duplicate check", fileHash, err)
		return result.fileError(msgImportUnreadable), nil
	}
	if len(duplicates) > 0 {
		return result.duplicateFile(duplicates), nil
	}

	rows, err := ReadImportFile(filename, data)
	if err != nil {
		config.LogError(logger, "DiagnosticImport", "ImportDiagnostics", "parse", filename, err)
		return result.fileError(msgImportUnreadable), nil
	}

	canteens, batch, rowErrs, err := imp.persistRows(ctx, user, fileHash, rows)
	if err != nil && !errors.Is(err, errImportRejected) {
		config.LogError(logger, "DiagnosticImport", "ImportDiagnostics", "persist", fileHash, err)
		result.fileError(msgImportUnreadable)
		saveImportError(ctx, user, ImportTypeDiagnosticSimple, filename, data, result.Errors)
		return result, nil
	}
	if len(rowErrs) > 0 {
		result.Errors = rowErrs
		metrics.ImportRows(metrics.ImportDiagnostics, metrics.OutcomeFailed, len(rows))
		saveImportError(ctx, user, ImportTypeDiagnosticSimple, filename, data, rowErrs)
		return result, nil
	}

	metrics.ImportRows(metrics.ImportDiagnostics, metrics.OutcomeCreated, batch.Count)
	InvalidateStatistics()
	imp.locate(ctx, canteens)

	result.Count = batch.Count
	for _, c := range canteens {
		result.Canteens = append(result.Canteens, c.Summary())
	}
	return result, nil
}

func diagnosticsFromFile(ctx context.Context, fileHash string) ([]DiagnosticReference, error) {
	var refs []DiagnosticReference
	err := config.GetDB().WithContext(ctx).Model(&Diagnostic{}).
		Select("id, canteen_id, year").
		Where("import_source = ?", fileHash).
		Order("id").
		Scan(&refs).Error
	return refs, err
}

// persistRows runs the rows in one transaction. Each row gets a savepoint so
// a failed row does not leave partial writes behind while later rows are
// still checked; any row error rolls the whole file back.
func (imp *DiagnosticImporter) persistRows(ctx context.Context, user *User, fileHash string, rows []RawImportRow) ([]*Canteen, importBatch, []ImportRowError, error) {
	var canteens []*Canteen
	var rowErrs []ImportRowError
	batch := importBatch{UserId: user.ID, FileHash: fileHash}
	bySiret := map[string]*Canteen{}

	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sectors, err := LoadSectorLookup(ctx, tx)
		if err != nil {
			return err
		}
		for _, raw := range rows {
			row, fieldErrs := ParseImportRow(raw.Cells, sectors)
			if len(fieldErrs) > 0 {
				rowErrs = append(rowErrs, rowErrors(raw.Number, fieldErrs)...)
				continue
			}

			savepoint := fmt.Sprintf("import_row_%d", raw.Number)
			if err := tx.SavePoint(savepoint).Error; err != nil {
				return err
			}
			canteen, diagnostic, fieldErr, err := createRow(ctx, tx, user, fileHash, row)
			if err != nil {
				return err
			}
			if fieldErr != nil {
				if err := tx.RollbackTo(savepoint).Error; err != nil {
					return err
				}
				rowErrs = append(rowErrs, rowErrors(raw.Number, []*ImportFieldError{fieldErr})...)
				continue
			}

			if _, seen := bySiret[canteen.Siret]; !seen {
				canteens = append(canteens, canteen)
				batch.CanteenIds = append(batch.CanteenIds, canteen.ID)
				batch.Sirets = append(batch.Sirets, canteen.Siret)
			}
			bySiret[canteen.Siret] = canteen
			batch.Diagnostics = append(batch.Diagnostics, diagnostic.ID)
			batch.Years = utils.UniqueSlice(append(batch.Years, diagnostic.Year))
			batch.Count++
		}
		if len(rowErrs) > 0 {
			return errImportRejected
		}
		if batch.Count == 0 {
			return nil
		}
		if err := createHistory(tx, HistoryActionImport, batch, nil, batch, fmt.Sprintf("%d diagnostics imported.", batch.Count)); err != nil {
			return err
		}
		return enqueueOutbox(tx, OutboxEventDiagnosticsImported, batch, batch)
	})
	if err != nil {
		return nil, batch, rowErrs, err
	}
	return canteens, batch, nil, nil
}

// createRow gets or creates the canteen by siret and adds the year's
// diagnostic. Row problems come back as fieldErr; err aborts the import.
func createRow(ctx context.Context, tx *gorm.DB, user *User, fileHash string, row *ImportRow) (*Canteen, *Diagnostic, *ImportFieldError, error) {
	canteen, err := findCanteenBySiret(ctx, tx, row.Siret)
	if err != nil {
		return nil, nil, nil, err
	}
	if canteen != nil {
		managed, err := IsCanteenManager(ctx, tx, canteen.ID, user.ID)
		if err != nil {
			return nil, nil, nil, err
		}
		if !managed {
			return nil, nil, &ImportFieldError{Message: msgImportNotManager, Status: 401}, nil
		}
	} else {
		created := row.canteen()
		if err := tx.Omit("Managers", "Sectors.*").Create(&created).Error; err != nil {
			return nil, nil, nil, err
		}
		if err := AddCanteenManager(ctx, tx, &created, user); err != nil {
			return nil, nil, nil, err
		}
		if err := SaveHistoryCreate(tx, created, "Canteen created by import."); err != nil {
			return nil, nil, nil, err
		}
		canteen = &created
	}

	var count int64
	if err := tx.Model(&Diagnostic{}).Where("canteen_id = ? AND year = ?", canteen.ID, row.Year).Count(&count).Error; err != nil {
		return nil, nil, nil, err
	}
	if count > 0 {
		return nil, nil, &ImportFieldError{Message: msgDiagnosticDuplicate}, nil
	}

	diagnostic := Diagnostic{
		CanteenId:      canteen.ID,
		Year:           row.Year,
		DiagnosticType: DiagnosticTypeSimple,
		ApproValues:    row.ApproValues(),
		ImportSource:   fileHash,
		CreationSource: CreationSourceImport,
	}
	diagnostic.WasteActions = StringList{}
	if err := tx.Create(&diagnostic).Error; err != nil {
		if isDuplicateKeyError(err) {
			return nil, nil, &ImportFieldError{Message: msgDiagnosticDuplicate}, nil
		}
		return nil, nil, nil, err
	}
	return canteen, &diagnostic, nil, nil
}

// locate fills the commune of canteens imported without a city. Failures are
// only logged.
func (imp *DiagnosticImporter) locate(ctx context.Context, canteens []*Canteen) {
	if imp.Geocoder == nil || config.GeocodingDisabled() {
		return
	}
	bySiret := map[string]*Canteen{}
	var requests []geocoding.Request
	for _, c := range canteens {
		if c.City != "" || (c.CityInseeCode == "" && c.PostalCode == "") {
			continue
		}
		bySiret[c.Siret] = c
		requests = append(requests, geocoding.Request{Siret: c.Siret, CityInseeCode: c.CityInseeCode, PostalCode: c.PostalCode})
	}
	if len(requests) == 0 {
		return
	}
	logger := config.GetLogger()
	results, err := imp.Geocoder.Geocode(ctx, requests)
	if err != nil {
		config.LogError(logger, "DiagnosticImport", "locate", "geocode", len(requests), &utils.ExternalServiceError{Service: "geocoding", Err: err})
		return
	}
	db := config.GetDB().WithContext(ctx)
	for _, r := range results {
		canteen, ok := bySiret[r.Siret]
		if !ok {
			continue
		}
		canteen.PostalCode = r.PostalCode
		canteen.CityInseeCode = r.CityInseeCode
		canteen.City = r.City
		canteen.Department = r.Department
		if err := db.Omit(clause.Associations).Save(canteen).Error; err != nil {
			config.LogError(logger, "DiagnosticImport", "locate", "save", canteen.ID, err)
		}
	}
}
