package models

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mmdatafocus/macantine_backend/config"
	"github.com/mmdatafocus/macantine_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	msgDiagnosticDuplicate = "Un diagnostic pour cette année et cette cantine existe déjà."
	msgDiagnosticLocked    = "Ce diagnostic a été télédéclaré et ne peut plus être modifié."
	msgTotalBelowLabels    = "La valeur totale (HT) doit être supérieure à la somme des valeurs bio et durables."
)

// StringList is stored as a JSON array.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	return string(b), err
}

func (l *StringList) Scan(value interface{}) error {
	var data []byte
	switch v := value.(type) {
	case nil:
		*l = StringList{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for StringList", value)
	}
	if len(data) == 0 {
		*l = StringList{}
		return nil
	}
	return json.Unmarshal(data, (*[]string)(l))
}

// ApproValues are the yearly procurement amounts, excluding VAT.
type ApproValues struct {
	ValueTotalHt                       decimal.NullDecimal `gorm:"type:decimal(20,2)" json:"valueTotalHt"`
	ValueBioHt                         decimal.NullDecimal `gorm:"type:decimal(20,2)" json:"valueBioHt"`
	ValueSustainableHt                 decimal.NullDecimal `gorm:"type:decimal(20,2)" json:"valueSustainableHt"`
	ValueFairTradeHt                   decimal.NullDecimal `gorm:"type:decimal(20,2)" json:"valueFairTradeHt"`
	ValueExternalityPerformanceHt      decimal.NullDecimal `gorm:"type:decimal(20,2)" json:"valueExternalityPerformanceHt"`
	ValueEgalimOthersHt                decimal.NullDecimal `gorm:"type:decimal(20,2)" json:"valueEgalimOthersHt"`
	ValueMeatPoultryHt                 decimal.NullDecimal `gorm:"type:decimal(20,2)" json:"valueMeatPoultryHt"`
	ValueMeatPoultryEgalimHt           decimal.NullDecimal `gorm:"type:decimal(20,2)" json:"valueMeatPoultryEgalimHt"`
	ValueMeatPoultryFranceHt           decimal.NullDecimal `gorm:"type:decimal(20,2)" json:"valueMeatPoultryFranceHt"`
	ValueFishHt                        decimal.NullDecimal `gorm:"type:decimal(20,2)" json:"valueFishHt"`
	ValueFishEgalimHt                  decimal.NullDecimal `gorm:"type:decimal(20,2)" json:"valueFishEgalimHt"`
	ValueMeatPoultryBioHt              decimal.NullDecimal `gorm:"type:decimal(20,2)" json:"valueMeatPoultryBioHt"`
	ValueMeatPoultrySustainableHt      decimal.NullDecimal `gorm:"type:decimal(20,2)" json:"valueMeatPoultrySustainableHt"`
	ValueFishBioHt                     decimal.NullDecimal `gorm:"type:decimal(20,2)" json:"valueFishBioHt"`
	ValueFishSustainableHt             decimal.NullDecimal `gorm:"type:decimal(20,2)" json:"valueFishSustainableHt"`
	ValueFruitsVegetablesBioHt         decimal.NullDecimal `gorm:"type:decimal(20,2)" json:"valueFruitsVegetablesBioHt"`
	ValueFruitsVegetablesSustainableHt decimal.NullDecimal `gorm:"type:decimal(20,2)" json:"valueFruitsVegetablesSustainableHt"`
	ValueDairyBioHt                    decimal.NullDecimal `gorm:"type:decimal(20,2)" json:"valueDairyBioHt"`
	ValueDairySustainableHt            decimal.NullDecimal `gorm:"type:decimal(20,2)" json:"valueDairySustainableHt"`
	ValueGroceriesBioHt                decimal.NullDecimal `gorm:"type:decimal(20,2)" json:"valueGroceriesBioHt"`
	ValueGroceriesSustainableHt        decimal.NullDecimal `gorm:"type:decimal(20,2)" json:"valueGroceriesSustainableHt"`
}

type namedValue struct {
	field string
	value decimal.NullDecimal
}

func (a ApproValues) named() []namedValue {
	return []namedValue{
		{"valueTotalHt", a.ValueTotalHt},
		{"valueBioHt", a.ValueBioHt},
		{"valueSustainableHt", a.ValueSustainableHt},
		{"valueFairTradeHt", a.ValueFairTradeHt},
		{"valueExternalityPerformanceHt", a.ValueExternalityPerformanceHt},
		{"valueEgalimOthersHt", a.ValueEgalimOthersHt},
		{"valueMeatPoultryHt", a.ValueMeatPoultryHt},
		{"valueMeatPoultryEgalimHt", a.ValueMeatPoultryEgalimHt},
		{"valueMeatPoultryFranceHt", a.ValueMeatPoultryFranceHt},
		{"valueFishHt", a.ValueFishHt},
		{"valueFishEgalimHt", a.ValueFishEgalimHt},
		{"valueMeatPoultryBioHt", a.ValueMeatPoultryBioHt},
		{"valueMeatPoultrySustainableHt", a.ValueMeatPoultrySustainableHt},
		{"valueFishBioHt", a.ValueFishBioHt},
		{"valueFishSustainableHt", a.ValueFishSustainableHt},
		{"valueFruitsVegetablesBioHt", a.ValueFruitsVegetablesBioHt},
		{"valueFruitsVegetablesSustainableHt", a.ValueFruitsVegetablesSustainableHt},
		{"valueDairyBioHt", a.ValueDairyBioHt},
		{"valueDairySustainableHt", a.ValueDairySustainableHt},
		{"valueGroceriesBioHt", a.ValueGroceriesBioHt},
		{"valueGroceriesSustainableHt", a.ValueGroceriesSustainableHt},
	}
}

// sumValid adds the valid values; the result is null when none is valid.
func sumValid(values ...decimal.NullDecimal) decimal.NullDecimal {
	var total decimal.NullDecimal
	for _, v := range values {
		if !v.Valid {
			continue
		}
		if !total.Valid {
			total = decimal.NewNullDecimal(decimal.Zero)
		}
		total.Decimal = total.Decimal.Add(v.Decimal)
	}
	return total
}

// BioTotal is the declared bio value, or the sum of the per-family bio values.
func (a ApproValues) BioTotal() decimal.NullDecimal {
	if a.ValueBioHt.Valid {
		return a.ValueBioHt
	}
	return sumValid(a.ValueMeatPoultryBioHt, a.ValueFishBioHt, a.ValueFruitsVegetablesBioHt,
		a.ValueDairyBioHt, a.ValueGroceriesBioHt)
}

func (a ApproValues) SustainableTotal() decimal.NullDecimal {
	if a.ValueSustainableHt.Valid {
		return a.ValueSustainableHt
	}
	return sumValid(a.ValueMeatPoultrySustainableHt, a.ValueFishSustainableHt, a.ValueFruitsVegetablesSustainableHt,
		a.ValueDairySustainableHt, a.ValueGroceriesSustainableHt)
}

// HasCompleteAppro: a total and at least one category total can be resolved.
func (a ApproValues) HasCompleteAppro() bool {
	if !a.ValueTotalHt.Valid {
		return false
	}
	return a.BioTotal().Valid ||
		a.SustainableTotal().Valid ||
		a.ValueEgalimOthersHt.Valid ||
		a.ValueExternalityPerformanceHt.Valid
}

func (a ApproValues) validate() error {
	for _, nv := range a.named() {
		if nv.value.Valid && nv.value.Decimal.IsNegative() {
			return utils.NewValidationError(nv.field, fmt.Sprintf("Champ '%s' : La valeur ne peut pas être négative.", nv.field))
		}
	}
	if a.ValueTotalHt.Valid {
		labels := sumValid(a.BioTotal(), a.SustainableTotal())
		if labels.Valid && labels.Decimal.GreaterThan(a.ValueTotalHt.Decimal) {
			return utils.NewValidationError("valueTotalHt", msgTotalBelowLabels)
		}
	}
	return nil
}

// QualityValues are the non-procurement EGAlim measures.
type QualityValues struct {
	HasWasteDiagnostic          *bool                `json:"hasWasteDiagnostic"`
	WasteActions                StringList           `gorm:"type:json" json:"wasteActions" validate:"dive,max=255"`
	HasDonationAgreement        *bool                `json:"hasDonationAgreement"`
	VegetarianWeeklyRecurrence  VegetarianRecurrence `gorm:"size:10" json:"vegetarianWeeklyRecurrence" validate:"omitempty,oneof=LOW MID HIGH DAILY"`
	CookingPlasticSubstituted   *bool                `json:"cookingPlasticSubstituted"`
	ServingPlasticSubstituted   *bool                `json:"servingPlasticSubstituted"`
	PlasticBottlesSubstituted   *bool                `json:"plasticBottlesSubstituted"`
	PlasticTablewareSubstituted *bool                `json:"plasticTablewareSubstituted"`
	CommunicatesOnFoodQuality   *bool                `json:"communicatesOnFoodQuality"`
}

type Diagnostic struct {
	ID                           int                           `gorm:"primary_key" json:"id"`
	CanteenId                    int                           `gorm:"not null;index:uniq_diagnostic_canteen_year,unique,priority:1" json:"canteenId"`
	Year                         int                           `gorm:"not null;index:uniq_diagnostic_canteen_year,unique,priority:2" json:"year"`
	DiagnosticType               DiagnosticType                `gorm:"size:10;not null;default:SIMPLE" json:"diagnosticType"`
	CentralKitchenDiagnosticMode *CentralKitchenDiagnosticMode `gorm:"size:10" json:"centralKitchenDiagnosticMode"`
	ApproValues                  `gorm:"embedded"`
	QualityValues                `gorm:"embedded"`
	ImportSource                 string         `gorm:"size:255;index" json:"-"`
	CreationSource               CreationSource `gorm:"size:10" json:"creationSource"`
	Canteen                      *Canteen       `gorm:"foreignKey:CanteenId" json:"-"`
	CreatedAt                    time.Time      `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt                    time.Time      `gorm:"autoUpdateTime" json:"updatedAt"`
}

type NewDiagnostic struct {
	Year                         int                           `json:"year" validate:"required,gte=2000,lte=2100"`
	DiagnosticType               DiagnosticType                `json:"diagnosticType" validate:"omitempty,oneof=SIMPLE COMPLETE"`
	CentralKitchenDiagnosticMode *CentralKitchenDiagnosticMode `json:"centralKitchenDiagnosticMode" validate:"omitempty,oneof=APPRO ALL"`
	ApproValues
	QualityValues
}

func (d Diagnostic) AuthorizationCanteenId() int {
	return d.CanteenId
}

func (d Diagnostic) HistoryReference() (string, int) {
	return "diagnostics", d.ID
}

// input returns the editable part of the diagnostic.
func (d *Diagnostic) input() NewDiagnostic {
	return NewDiagnostic{
		Year:                         d.Year,
		DiagnosticType:               d.DiagnosticType,
		CentralKitchenDiagnosticMode: d.CentralKitchenDiagnosticMode,
		ApproValues:                  d.ApproValues,
		QualityValues:                d.QualityValues,
	}
}

func (d *Diagnostic) apply(input *NewDiagnostic) {
	d.Year = input.Year
	d.DiagnosticType = input.DiagnosticType
	if d.DiagnosticType == "" {
		d.DiagnosticType = DiagnosticTypeSimple
	}
	d.CentralKitchenDiagnosticMode = input.CentralKitchenDiagnosticMode
	d.ApproValues = input.ApproValues
	d.QualityValues = input.QualityValues
	if d.WasteActions == nil {
		d.WasteActions = StringList{}
	}
}

// validate input for both create & update. (id = 0 for create)
func (input *NewDiagnostic) validate(ctx context.Context, tx *gorm.DB, canteenId int, id int) error {
	if err := newValidator().Struct(input); err != nil {
		return validationError(err)
	}
	if err := input.ApproValues.validate(); err != nil {
		return err
	}
	dbCtx := tx.WithContext(ctx).Model(&Diagnostic{}).Where("canteen_id = ? AND year = ?", canteenId, input.Year)
	if id > 0 {
		dbCtx = dbCtx.Where("id <> ?", id)
	}
	var count int64
	if err := dbCtx.Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return utils.NewValidationError("year", msgDiagnosticDuplicate)
	}
	return nil
}

// isDiagnosticLocked reports whether a submitted teledeclaration freezes (canteen, year).
func isDiagnosticLocked(ctx context.Context, tx *gorm.DB, canteenId int, year int) (bool, error) {
	var count int64
	err := tx.WithContext(ctx).Model(&Teledeclaration{}).
		Where("submitted_key = ?", submittedKey(canteenId, year)).
		Count(&count).Error
	return count > 0, err
}

func loadManagedCanteen(ctx context.Context, canteenId int, user *User) (*Canteen, error) {
	canteen, err := GetCanteen(ctx, canteenId)
	if err != nil {
		return nil, err
	}
	if err := authorizeManager(ctx, config.GetDB(), canteen, user); err != nil {
		return nil, err
	}
	return canteen, nil
}

func CreateDiagnostic(ctx context.Context, canteenId int, input *NewDiagnostic) (*Diagnostic, error) {
	user, err := GetSessionUser(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := loadManagedCanteen(ctx, canteenId, user); err != nil {
		return nil, err
	}
	ctx = WithUser(ctx, user)

	diagnostic := Diagnostic{
		CanteenId:      canteenId,
		CreationSource: CreationSourceTunnel,
	}
	diagnostic.apply(input)

	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := input.validate(ctx, tx, canteenId, 0); err != nil {
			return err
		}
		if err := tx.Create(&diagnostic).Error; err != nil {
			if isDuplicateKeyError(err) {
				return utils.NewValidationError("year", msgDiagnosticDuplicate)
			}
			return err
		}
		return SaveHistoryCreate(tx, diagnostic, fmt.Sprintf("Diagnostic %d created.", diagnostic.Year))
	})
	if err != nil {
		return nil, err
	}
	InvalidateStatistics()
	return &diagnostic, nil
}

// UpdateDiagnostic applies a JSON merge patch: absent keys keep their value,
// explicit nulls clear it.
func UpdateDiagnostic(ctx context.Context, canteenId int, id int, patch []byte) (*Diagnostic, error) {
	user, err := GetSessionUser(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := loadManagedCanteen(ctx, canteenId, user); err != nil {
		return nil, err
	}
	ctx = WithUser(ctx, user)

	db := config.GetDB()
	var diagnostic Diagnostic
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("canteen_id = ?", canteenId).First(&diagnostic, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &utils.NotFoundError{Resource: "diagnostic", Message: "Diagnostic introuvable"}
			}
			return err
		}
		before := diagnostic

		input := diagnostic.input()
		if err := json.Unmarshal(patch, &input); err != nil {
			return utils.NewValidationError("", "Données invalides : "+err.Error())
		}

		for _, year := range utils.UniqueSlice([]int{diagnostic.Year, input.Year}) {
			locked, err := isDiagnosticLocked(ctx, tx, canteenId, year)
			if err != nil {
				return err
			}
			if locked {
				return utils.NewStateError(msgDiagnosticLocked)
			}
		}
		if err := input.validate(ctx, tx, canteenId, id); err != nil {
			return err
		}

		diagnostic.apply(&input)
		if err := tx.Save(&diagnostic).Error; err != nil {
			if isDuplicateKeyError(err) {
				return utils.NewValidationError("year", msgDiagnosticDuplicate)
			}
			return err
		}
		return SaveHistoryUpdate(tx, diagnostic, before, fmt.Sprintf("Diagnostic %d updated.", diagnostic.Year))
	})
	if err != nil {
		return nil, err
	}
	InvalidateStatistics()
	return &diagnostic, nil
}

func GetDiagnostic(ctx context.Context, id int) (*Diagnostic, error) {
	return utils.FetchSingleModel[Diagnostic](ctx, id)
}

// latestDiagnostics returns the most recent diagnostic of each canteen.
func latestDiagnostics(ctx context.Context, tx *gorm.DB, canteenIds []int) (map[int]*Diagnostic, error) {
	result := make(map[int]*Diagnostic, len(canteenIds))
	if len(canteenIds) == 0 {
		return result, nil
	}
	var diagnostics []*Diagnostic
	if err := tx.WithContext(ctx).Where("canteen_id IN ?", canteenIds).Order("year DESC").Find(&diagnostics).Error; err != nil {
		return nil, err
	}
	for _, d := range diagnostics {
		if _, ok := result[d.CanteenId]; !ok {
			result[d.CanteenId] = d
		}
	}
	return result, nil
}
