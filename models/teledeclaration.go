package models

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/macantine_backend/config"
	"github.com/mmdatafocus/macantine_backend/metrics"
	"github.com/mmdatafocus/macantine_backend/utils"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/gorm"
)

const (
	msgApproMissing              = "Données d'approvisionnement manquantes"
	msgDuplicateDeclaration      = "Il existe déjà une télédéclaration en cours pour cette année"
	msgDeclarationNotFound       = "La télédéclaration specifiée n'existe pas"
	msgDeclarationNotSubmitted   = "La télédéclaration n'est pas validée par l'utilisateur"
	msgDeclarationNotCancellable = "Seule une télédéclaration en cours peut être annulée"
	msgDiagnosticIdMissing       = "diagnosticId manquant"

	declarationLockTTL = 15 * time.Second
)

type Teledeclaration struct {
	ID                  int                   `gorm:"primary_key" json:"id"`
	CanteenId           int                   `gorm:"not null;index" json:"canteenId"`
	CanteenSiret        string                `gorm:"size:14;index" json:"canteenSiret"`
	DiagnosticId        int                   `gorm:"not null;index" json:"diagnosticId"`
	Year                int                   `gorm:"not null;index" json:"year"`
	ApplicantId         int                   `gorm:"not null;index" json:"applicantId"`
	Status              TeledeclarationStatus `gorm:"type:enum('SUBMITTED','CANCELLED');not null;index" json:"status"`
	TeledeclarationMode TeledeclarationMode   `gorm:"size:30;not null" json:"teledeclarationMode"`
	DeclaredData        DeclaredData          `gorm:"type:json;not null" json:"declaredData"`
	// "<canteenId>:<year>" while submitted, NULL once cancelled; the unique
	// index allows a single submitted declaration per canteen and year.
	SubmittedKey *string    `gorm:"size:32;unique" json:"-"`
	CancelledAt  *time.Time `json:"cancelledAt"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updatedAt"`
}

type TeledeclarationSummary struct {
	ID                  int                   `json:"id"`
	Status              TeledeclarationStatus `json:"status"`
	Year                int                   `json:"year"`
	CanteenId           int                   `json:"canteenId"`
	DiagnosticId        int                   `json:"diagnosticId"`
	TeledeclarationMode TeledeclarationMode   `json:"teledeclarationMode"`
}

type TeledeclarationBatchResult struct {
	TeledeclarationIds []int          `json:"teledeclarationIds"`
	Errors             map[int]string `json:"errors"`
}

func (t *Teledeclaration) Summary() TeledeclarationSummary {
	return TeledeclarationSummary{
		ID:                  t.ID,
		Status:              t.Status,
		Year:                t.Year,
		CanteenId:           t.CanteenId,
		DiagnosticId:        t.DiagnosticId,
		TeledeclarationMode: t.TeledeclarationMode,
	}
}

func (t Teledeclaration) AuthorizationCanteenId() int {
	return t.CanteenId
}

func (t Teledeclaration) HistoryReference() (string, int) {
	return "teledeclarations", t.ID
}

func submittedKey(canteenId int, year int) string {
	return fmt.Sprintf("%d:%d", canteenId, year)
}

// teledeclarationMode derives how the declaration covers the canteen.
// centralDiagnostic is the same-year diagnostic of a satellite's central kitchen, if any.
func teledeclarationMode(canteen *Canteen, diagnostic *Diagnostic, centralDiagnostic *Diagnostic) TeledeclarationMode {
	switch {
	case canteen.ProductionType.IsCentralKitchen():
		return centralModeFor(diagnostic.CentralKitchenDiagnosticMode, TeledeclarationModeCentral)
	case canteen.IsSatellite():
		if centralDiagnostic == nil {
			return TeledeclarationModeSatelliteWithoutAppro
		}
		return centralModeFor(centralDiagnostic.CentralKitchenDiagnosticMode, TeledeclarationModeSatelliteWithoutAppro)
	}
	return TeledeclarationModeSite
}

func centralModeFor(mode *CentralKitchenDiagnosticMode, fallback TeledeclarationMode) TeledeclarationMode {
	if mode == nil {
		return fallback
	}
	switch *mode {
	case CentralKitchenDiagnosticModeAppro:
		return TeledeclarationModeCentralAppro
	case CentralKitchenDiagnosticModeAll:
		return TeledeclarationModeCentralAll
	}
	return fallback
}

// centralKitchenDiagnostic finds the same-year diagnostic with a mode of the
// central kitchen cooking for the satellite.
func centralKitchenDiagnostic(ctx context.Context, tx *gorm.DB, satellite *Canteen, year int) (*Diagnostic, error) {
	if satellite.CentralProducerSiret == "" {
		return nil, nil
	}
	central, err := findCanteenBySiret(ctx, tx, satellite.CentralProducerSiret)
	if err != nil || central == nil {
		return nil, err
	}
	var diagnostic Diagnostic
	err = tx.WithContext(ctx).
		Where("canteen_id = ? AND year = ? AND central_kitchen_diagnostic_mode IS NOT NULL", central.ID, year).
		Take(&diagnostic).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &diagnostic, nil
}

func obtainDeclarationLock(ctx context.Context, canteenId int, year int) (*redislock.Lock, error) {
	lock, err := config.ObtainLock(ctx, "teledeclaration:"+submittedKey(canteenId, year), declarationLockTTL)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, utils.NewConflictError(msgDuplicateDeclaration)
	}
	return lock, err
}

// CreateTeledeclaration freezes the diagnostic into a submitted declaration.
func CreateTeledeclaration(ctx context.Context, diagnosticId int) (*Teledeclaration, error) {
	ctx, span := tracer.Start(ctx, "CreateTeledeclaration")
	defer span.End()
	span.SetAttributes(attribute.Int("diagnostic.id", diagnosticId))

	td, err := createTeledeclaration(ctx, diagnosticId)
	if err != nil {
		metrics.TeledeclarationEvent(metrics.EventRejected)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	metrics.TeledeclarationEvent(metrics.EventSubmitted)
	InvalidateStatistics()
	return td, nil
}

func createTeledeclaration(ctx context.Context, diagnosticId int) (*Teledeclaration, error) {
	if diagnosticId <= 0 {
		return nil, &utils.MissingParameterError{Name: "diagnosticId", Message: msgDiagnosticIdMissing}
	}
	user, err := GetSessionUser(ctx)
	if err != nil {
		return nil, err
	}
	ctx = WithUser(ctx, user)
	db := config.GetDB()

	// an unknown diagnostic answers like a forbidden one
	hidden := &utils.NotFoundError{Resource: "diagnostic", Message: (&utils.AuthorizationError{}).Error(), Status: 403}
	diagnostic, err := GetDiagnostic(ctx, diagnosticId)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return nil, hidden
		}
		return nil, err
	}
	canteen, err := GetCanteen(ctx, diagnostic.CanteenId, "Sectors")
	if err != nil {
		var notFound *utils.NotFoundError
		if errors.As(err, &notFound) {
			return nil, hidden
		}
		return nil, err
	}
	if err := authorizeManager(ctx, db, canteen, user); err != nil {
		return nil, err
	}
	if !diagnostic.HasCompleteAppro() {
		return nil, utils.NewValidationError("valueTotalHt", msgApproMissing)
	}

	lock, err := obtainDeclarationLock(ctx, canteen.ID, diagnostic.Year)
	if err != nil {
		return nil, err
	}
	defer config.ReleaseLock(ctx, lock)

	var centralDiagnostic *Diagnostic
	centralKitchenSiret := ""
	if canteen.IsSatellite() {
		centralKitchenSiret = canteen.CentralProducerSiret
		if centralDiagnostic, err = centralKitchenDiagnostic(ctx, db, canteen, diagnostic.Year); err != nil {
			return nil, err
		}
	}

	key := submittedKey(canteen.ID, diagnostic.Year)
	td := Teledeclaration{
		CanteenId:           canteen.ID,
		CanteenSiret:        canteen.Siret,
		DiagnosticId:        diagnostic.ID,
		Year:                diagnostic.Year,
		ApplicantId:         user.ID,
		Status:              TeledeclarationStatusSubmitted,
		TeledeclarationMode: teledeclarationMode(canteen, diagnostic, centralDiagnostic),
		DeclaredData:        NewDeclaredData(canteen, diagnostic, user, centralKitchenSiret),
		SubmittedKey:        &key,
	}

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&Teledeclaration{}).Where("submitted_key = ?", key).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return utils.NewConflictError(msgDuplicateDeclaration)
		}
		if err := tx.Create(&td).Error; err != nil {
			if isDuplicateKeyError(err) {
				return utils.NewConflictError(msgDuplicateDeclaration)
			}
			return err
		}
		if err := SaveHistoryCreate(tx, td, fmt.Sprintf("Teledeclaration %d submitted for canteen %d.", td.Year, td.CanteenId)); err != nil {
			return err
		}
		return enqueueOutbox(tx, OutboxEventTeledeclarationSubmitted, td, td.Summary())
	})
	if err != nil {
		return nil, err
	}
	return &td, nil
}

// CreateTeledeclarations submits each diagnostic independently.
func CreateTeledeclarations(ctx context.Context, diagnosticIds []int) (*TeledeclarationBatchResult, error) {
	if len(diagnosticIds) == 0 {
		return nil, &utils.MissingParameterError{Name: "diagnosticIds", Message: "diagnosticIds manquants"}
	}
	result := TeledeclarationBatchResult{
		TeledeclarationIds: []int{},
		Errors:             map[int]string{},
	}
	for _, id := range utils.UniqueSlice(diagnosticIds) {
		td, err := CreateTeledeclaration(ctx, id)
		if err != nil {
			if !utils.IsUserFacing(err) {
				config.LogError(config.GetLogger(), "Teledeclaration", "CreateTeledeclarations", "create", id, err)
				result.Errors[id] = "Une erreur est survenue lors de la télédéclaration"
				continue
			}
			result.Errors[id] = err.Error()
			continue
		}
		result.TeledeclarationIds = append(result.TeledeclarationIds, td.ID)
	}
	return &result, nil
}

// loadTeledeclarationForManager reports a missing declaration as a 400.
func loadTeledeclarationForManager(ctx context.Context, id int, user *User) (*Teledeclaration, error) {
	td, err := utils.FetchSingleModel[Teledeclaration](ctx, id)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return nil, &utils.NotFoundError{Resource: "teledeclaration", Message: msgDeclarationNotFound, Status: 400}
		}
		return nil, err
	}
	if err := authorizeManager(ctx, config.GetDB(), td, user); err != nil {
		return nil, err
	}
	return td, nil
}

// CancelTeledeclaration withdraws a submitted declaration; the diagnostic becomes editable again.
func CancelTeledeclaration(ctx context.Context, id int) (*Teledeclaration, error) {
	ctx, span := tracer.Start(ctx, "CancelTeledeclaration")
	defer span.End()
	span.SetAttributes(attribute.Int("teledeclaration.id", id))

	user, err := GetSessionUser(ctx)
	if err != nil {
		return nil, err
	}
	ctx = WithUser(ctx, user)

	td, err := loadTeledeclarationForManager(ctx, id, user)
	if err != nil {
		return nil, err
	}
	if td.Status != TeledeclarationStatusSubmitted {
		return nil, utils.NewStateError(msgDeclarationNotCancellable)
	}

	before := td.Summary()
	now := time.Now().UTC()
	err = config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Teledeclaration{}).
			Where("id = ? AND status = ?", td.ID, TeledeclarationStatusSubmitted).
			Updates(map[string]interface{}{
				"status":        TeledeclarationStatusCancelled,
				"submitted_key": nil,
				"cancelled_at":  &now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return utils.NewStateError(msgDeclarationNotCancellable)
		}
		td.Status = TeledeclarationStatusCancelled
		td.SubmittedKey = nil
		td.CancelledAt = &now

		if err := createHistory(tx, HistoryActionCancel, td, before, td.Summary(), fmt.Sprintf("Teledeclaration %d cancelled.", td.Year)); err != nil {
			return err
		}
		return enqueueOutbox(tx, OutboxEventTeledeclarationCancelled, td, td.Summary())
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	metrics.TeledeclarationEvent(metrics.EventCancelled)
	InvalidateStatistics()
	return td, nil
}

// GenerateTeledeclarationProof renders the certificate of a submitted declaration.
func GenerateTeledeclarationProof(ctx context.Context, id int, renderer ProofRenderer) (*ProofDocument, error) {
	user, err := GetSessionUser(ctx)
	if err != nil {
		return nil, err
	}
	td, err := loadTeledeclarationForManager(ctx, id, user)
	if err != nil {
		return nil, err
	}
	if td.Status != TeledeclarationStatusSubmitted {
		return nil, utils.NewStateError(msgDeclarationNotSubmitted)
	}

	proof := ProofData{
		Teledeclaration: td,
		Data:            td.DeclaredData,
		SubmittedAt:     td.CreatedAt,
	}
	if td.TeledeclarationMode == TeledeclarationModeSatelliteWithoutAppro && td.DeclaredData.CentralKitchenSiret != "" {
		// best-effort, the proof is still produced without the name
		central, err := findCanteenBySiret(ctx, config.GetDB(), td.DeclaredData.CentralKitchenSiret)
		if err == nil && central != nil {
			proof.CentralKitchenName = central.Name
		}
	}
	if renderer == nil {
		renderer = NewMarkdownProofRenderer()
	}
	return renderer.Render(proof)
}

func GetTeledeclaration(ctx context.Context, id int) (*Teledeclaration, error) {
	return utils.FetchSingleModel[Teledeclaration](ctx, id)
}

// ParseTeledeclarationId reads a path id, reporting junk as a missing declaration.
func ParseTeledeclarationId(raw string) (int, error) {
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		return 0, &utils.NotFoundError{Resource: "teledeclaration", Message: msgDeclarationNotFound, Status: 400}
	}
	return id, nil
}
