package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

const DeclaredDataVersion = 1

// DeclaredData is the frozen copy of the canteen and diagnostic taken at submission.
type DeclaredData struct {
	Version             int                `json:"version"`
	Year                int                `json:"year"`
	Canteen             DeclaredCanteen    `json:"canteen"`
	Applicant           DeclaredApplicant  `json:"applicant"`
	Teledeclaration     DeclaredDiagnostic `json:"teledeclaration"`
	CentralKitchenSiret string             `json:"central_kitchen_siret,omitempty"`
}

type DeclaredCanteen struct {
	ID                   int      `json:"id"`
	Name                 string   `json:"name"`
	Siret                string   `json:"siret"`
	CityInseeCode        string   `json:"city_insee_code"`
	PostalCode           string   `json:"postal_code"`
	Department           string   `json:"department"`
	Region               string   `json:"region"`
	ProductionType       string   `json:"production_type"`
	ManagementType       string   `json:"management_type"`
	EconomicModel        string   `json:"economic_model"`
	DailyMealCount       *int     `json:"daily_meal_count"`
	CentralProducerSiret string   `json:"central_producer_siret"`
	Sectors              []string `json:"sectors"`
}

type DeclaredApplicant struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type DeclaredDiagnostic struct {
	DiagnosticType                     string              `json:"diagnostic_type"`
	CentralKitchenDiagnosticMode       *string             `json:"central_kitchen_diagnostic_mode"`
	ValueTotalHt                       decimal.NullDecimal `json:"value_total_ht"`
	ValueBioHt                         decimal.NullDecimal `json:"value_bio_ht"`
	ValueSustainableHt                 decimal.NullDecimal `json:"value_sustainable_ht"`
	ValueFairTradeHt                   decimal.NullDecimal `json:"value_fair_trade_ht"`
	ValueExternalityPerformanceHt      decimal.NullDecimal `json:"value_externality_performance_ht"`
	ValueEgalimOthersHt                decimal.NullDecimal `json:"value_egalim_others_ht"`
	ValueMeatPoultryHt                 decimal.NullDecimal `json:"value_meat_poultry_ht"`
	ValueMeatPoultryEgalimHt           decimal.NullDecimal `json:"value_meat_poultry_egalim_ht"`
	ValueMeatPoultryFranceHt           decimal.NullDecimal `json:"value_meat_poultry_france_ht"`
	ValueFishHt                        decimal.NullDecimal `json:"value_fish_ht"`
	ValueFishEgalimHt                  decimal.NullDecimal `json:"value_fish_egalim_ht"`
	ValueMeatPoultryBioHt              decimal.NullDecimal `json:"value_meat_poultry_bio_ht"`
	ValueMeatPoultrySustainableHt      decimal.NullDecimal `json:"value_meat_poultry_sustainable_ht"`
	ValueFishBioHt                     decimal.NullDecimal `json:"value_fish_bio_ht"`
	ValueFishSustainableHt             decimal.NullDecimal `json:"value_fish_sustainable_ht"`
	ValueFruitsVegetablesBioHt         decimal.NullDecimal `json:"value_fruits_vegetables_bio_ht"`
	ValueFruitsVegetablesSustainableHt decimal.NullDecimal `json:"value_fruits_vegetables_sustainable_ht"`
	ValueDairyBioHt                    decimal.NullDecimal `json:"value_dairy_bio_ht"`
	ValueDairySustainableHt            decimal.NullDecimal `json:"value_dairy_sustainable_ht"`
	ValueGroceriesBioHt                decimal.NullDecimal `json:"value_groceries_bio_ht"`
	ValueGroceriesSustainableHt        decimal.NullDecimal `json:"value_groceries_sustainable_ht"`
	HasWasteDiagnostic                 *bool               `json:"has_waste_diagnostic"`
	WasteActions                       []string            `json:"waste_actions"`
	HasDonationAgreement               *bool               `json:"has_donation_agreement"`
	VegetarianWeeklyRecurrence         string              `json:"vegetarian_weekly_recurrence"`
	CookingPlasticSubstituted          *bool               `json:"cooking_plastic_substituted"`
	ServingPlasticSubstituted          *bool               `json:"serving_plastic_substituted"`
	PlasticBottlesSubstituted          *bool               `json:"plastic_bottles_substituted"`
	PlasticTablewareSubstituted        *bool               `json:"plastic_tableware_substituted"`
	CommunicatesOnFoodQuality          *bool               `json:"communicates_on_food_quality"`
}

func copyBool(b *bool) *bool {
	if b == nil {
		return nil
	}
	v := *b
	return &v
}

func copyInt(i *int) *int {
	if i == nil {
		return nil
	}
	v := *i
	return &v
}

// NewDeclaredData copies every value so later edits of the sources never reach the snapshot.
func NewDeclaredData(canteen *Canteen, diagnostic *Diagnostic, applicant *User, centralKitchenSiret string) DeclaredData {
	data := DeclaredData{
		Version: DeclaredDataVersion,
		Year:    diagnostic.Year,
		Canteen: DeclaredCanteen{
			ID:                   canteen.ID,
			Name:                 canteen.Name,
			Siret:                canteen.Siret,
			CityInseeCode:        canteen.CityInseeCode,
			PostalCode:           canteen.PostalCode,
			Department:           canteen.Department,
			Region:               canteen.Region,
			ProductionType:       string(canteen.ProductionType),
			ManagementType:       string(canteen.ManagementType),
			EconomicModel:        string(canteen.EconomicModel),
			DailyMealCount:       copyInt(canteen.DailyMealCount),
			CentralProducerSiret: canteen.CentralProducerSiret,
			Sectors:              canteen.SectorNames(),
		},
		Teledeclaration:     newDeclaredDiagnostic(diagnostic),
		CentralKitchenSiret: centralKitchenSiret,
	}
	if applicant != nil {
		data.Applicant = DeclaredApplicant{ID: applicant.ID, Name: applicant.Name}
		if applicant.Email != nil {
			data.Applicant.Email = *applicant.Email
		}
	}
	return data
}

func newDeclaredDiagnostic(d *Diagnostic) DeclaredDiagnostic {
	a := d.ApproValues
	q := d.QualityValues
	declared := DeclaredDiagnostic{
		DiagnosticType:                     string(d.DiagnosticType),
		ValueTotalHt:                       a.ValueTotalHt,
		ValueBioHt:                         a.ValueBioHt,
		ValueSustainableHt:                 a.ValueSustainableHt,
		ValueFairTradeHt:                   a.ValueFairTradeHt,
		ValueExternalityPerformanceHt:      a.ValueExternalityPerformanceHt,
		ValueEgalimOthersHt:                a.ValueEgalimOthersHt,
		ValueMeatPoultryHt:                 a.ValueMeatPoultryHt,
		ValueMeatPoultryEgalimHt:           a.ValueMeatPoultryEgalimHt,
		ValueMeatPoultryFranceHt:           a.ValueMeatPoultryFranceHt,
		ValueFishHt:                        a.ValueFishHt,
		ValueFishEgalimHt:                  a.ValueFishEgalimHt,
		ValueMeatPoultryBioHt:              a.ValueMeatPoultryBioHt,
		ValueMeatPoultrySustainableHt:      a.ValueMeatPoultrySustainableHt,
		ValueFishBioHt:                     a.ValueFishBioHt,
		ValueFishSustainableHt:             a.ValueFishSustainableHt,
		ValueFruitsVegetablesBioHt:         a.ValueFruitsVegetablesBioHt,
		ValueFruitsVegetablesSustainableHt: a.ValueFruitsVegetablesSustainableHt,
		ValueDairyBioHt:                    a.ValueDairyBioHt,
		ValueDairySustainableHt:            a.ValueDairySustainableHt,
		ValueGroceriesBioHt:                a.ValueGroceriesBioHt,
		ValueGroceriesSustainableHt:        a.ValueGroceriesSustainableHt,
		HasWasteDiagnostic:                 copyBool(q.HasWasteDiagnostic),
		WasteActions:                       append([]string{}, q.WasteActions...),
		HasDonationAgreement:               copyBool(q.HasDonationAgreement),
		VegetarianWeeklyRecurrence:         string(q.VegetarianWeeklyRecurrence),
		CookingPlasticSubstituted:          copyBool(q.CookingPlasticSubstituted),
		ServingPlasticSubstituted:          copyBool(q.ServingPlasticSubstituted),
		PlasticBottlesSubstituted:          copyBool(q.PlasticBottlesSubstituted),
		PlasticTablewareSubstituted:        copyBool(q.PlasticTablewareSubstituted),
		CommunicatesOnFoodQuality:          copyBool(q.CommunicatesOnFoodQuality),
	}
	if d.CentralKitchenDiagnosticMode != nil {
		mode := string(*d.CentralKitchenDiagnosticMode)
		declared.CentralKitchenDiagnosticMode = &mode
	}
	return declared
}

// DecodeDeclaredData reads a stored snapshot. Older snapshots may lack keys and
// the version; snapshots from a newer schema are refused.
func DecodeDeclaredData(raw []byte) (DeclaredData, error) {
	var data DeclaredData
	if len(raw) == 0 {
		return data, fmt.Errorf("empty declared data")
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return data, fmt.Errorf("decode declared data: %w", err)
	}
	if data.Version == 0 {
		data.Version = 1
	}
	if data.Version > DeclaredDataVersion {
		return data, fmt.Errorf("declared data version %d is newer than supported version %d", data.Version, DeclaredDataVersion)
	}
	if data.Canteen.Sectors == nil {
		data.Canteen.Sectors = []string{}
	}
	if data.Teledeclaration.WasteActions == nil {
		data.Teledeclaration.WasteActions = []string{}
	}
	return data, nil
}

func (d DeclaredData) Value() (driver.Value, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (d *DeclaredData) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for DeclaredData", value)
	}
	decoded, err := DecodeDeclaredData(raw)
	if err != nil {
		return err
	}
	*d = decoded
	return nil
}

// ApproValues restores the procurement values of the snapshot.
func (d DeclaredDiagnostic) ApproValues() ApproValues {
	return ApproValues{
		ValueTotalHt:                       d.ValueTotalHt,
		ValueBioHt:                         d.ValueBioHt,
		ValueSustainableHt:                 d.ValueSustainableHt,
		ValueFairTradeHt:                   d.ValueFairTradeHt,
		ValueExternalityPerformanceHt:      d.ValueExternalityPerformanceHt,
		ValueEgalimOthersHt:                d.ValueEgalimOthersHt,
		ValueMeatPoultryHt:                 d.ValueMeatPoultryHt,
		ValueMeatPoultryEgalimHt:           d.ValueMeatPoultryEgalimHt,
		ValueMeatPoultryFranceHt:           d.ValueMeatPoultryFranceHt,
		ValueFishHt:                        d.ValueFishHt,
		ValueFishEgalimHt:                  d.ValueFishEgalimHt,
		ValueMeatPoultryBioHt:              d.ValueMeatPoultryBioHt,
		ValueMeatPoultrySustainableHt:      d.ValueMeatPoultrySustainableHt,
		ValueFishBioHt:                     d.ValueFishBioHt,
		ValueFishSustainableHt:             d.ValueFishSustainableHt,
		ValueFruitsVegetablesBioHt:         d.ValueFruitsVegetablesBioHt,
		ValueFruitsVegetablesSustainableHt: d.ValueFruitsVegetablesSustainableHt,
		ValueDairyBioHt:                    d.ValueDairyBioHt,
		ValueDairySustainableHt:            d.ValueDairySustainableHt,
		ValueGroceriesBioHt:                d.ValueGroceriesBioHt,
		ValueGroceriesSustainableHt:        d.ValueGroceriesSustainableHt,
	}
}
