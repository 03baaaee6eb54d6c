package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mmdatafocus/macantine_backend/config"
	"github.com/mmdatafocus/macantine_backend/utils"
	"gorm.io/gorm"
)

type Canteen struct {
	ID                   int               `gorm:"primary_key" json:"id"`
	Name                 string            `gorm:"size:255;not null" json:"name"`
	Siret                string            `gorm:"size:14;index" json:"siret"`
	City                 string            `gorm:"size:255" json:"city"`
	CityInseeCode        string            `gorm:"size:5" json:"city_insee_code"`
	PostalCode           string            `gorm:"size:5" json:"postal_code"`
	Department           string            `gorm:"size:3;index" json:"department"`
	Region               string            `gorm:"size:2;index" json:"region"`
	CentralProducerSiret string            `gorm:"size:14;index" json:"central_producer_siret"`
	DailyMealCount       *int              `json:"daily_meal_count"`
	ProductionType       ProductionType    `gorm:"type:enum('site','central','central_serving','site_cooked_elsewhere');default:site" json:"production_type"`
	ManagementType       ManagementType    `gorm:"type:enum('direct','conceded');default:direct" json:"management_type"`
	EconomicModel        EconomicModel     `gorm:"type:enum('public','private');default:public" json:"economic_model"`
	PublicationStatus    PublicationStatus `gorm:"type:enum('draft','pending','published');default:draft;index" json:"publication_status"`
	Managers             []User            `gorm:"many2many:canteen_managers" json:"-"`
	Sectors              []Sector          `gorm:"many2many:canteen_sectors" json:"sectors"`
	CreatedAt            time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt            gorm.DeletedAt    `gorm:"index" json:"-"`
}

// CanteenSummary is the public shape of a canteen.
type CanteenSummary struct {
	ID                   int      `json:"id"`
	Name                 string   `json:"name"`
	Siret                string   `json:"siret"`
	City                 string   `json:"city"`
	CityInseeCode        string   `json:"cityInseeCode"`
	PostalCode           string   `json:"postalCode"`
	Department           string   `json:"department"`
	Region               string   `json:"region"`
	DailyMealCount       *int     `json:"dailyMealCount"`
	ProductionType       string   `json:"productionType"`
	ManagementType       string   `json:"managementType"`
	EconomicModel        string   `json:"economicModel"`
	CentralProducerSiret string   `json:"centralProducerSiret"`
	PublicationStatus    string   `json:"publicationStatus"`
	Sectors              []int    `json:"sectors"`
	SectorNames          []string `json:"sectorNames,omitempty"`
}

func (c *Canteen) Summary() CanteenSummary {
	summary := CanteenSummary{
		ID:                   c.ID,
		Name:                 c.Name,
		Siret:                c.Siret,
		City:                 c.City,
		CityInseeCode:        c.CityInseeCode,
		PostalCode:           c.PostalCode,
		Department:           c.Department,
		Region:               c.Region,
		DailyMealCount:       c.DailyMealCount,
		ProductionType:       string(c.ProductionType),
		ManagementType:       string(c.ManagementType),
		EconomicModel:        string(c.EconomicModel),
		CentralProducerSiret: c.CentralProducerSiret,
		PublicationStatus:    string(c.PublicationStatus),
		Sectors:              []int{},
	}
	for _, s := range c.Sectors {
		summary.Sectors = append(summary.Sectors, s.ID)
		summary.SectorNames = append(summary.SectorNames, s.Name)
	}
	return summary
}

func (c *Canteen) IsPublished() bool {
	return c.PublicationStatus == PublicationStatusPublished
}

func (c *Canteen) IsSatellite() bool {
	return c.ProductionType == ProductionTypeSiteCookedElsewhere
}

func (c *Canteen) SectorNames() []string {
	names := make([]string, 0, len(c.Sectors))
	for _, s := range c.Sectors {
		names = append(names, s.Name)
	}
	return names
}

// deriveGeography fills the department from the commune codes when missing
// and always derives the region of a known department.
func (c *Canteen) deriveGeography() {
	c.Department = strings.ToUpper(strings.TrimSpace(c.Department))
	if c.Department == "" {
		c.Department = DepartmentFromInseeCode(c.CityInseeCode)
	}
	if c.Department == "" {
		c.Department = DepartmentFromPostalCode(c.PostalCode)
	}
	if region, ok := RegionForDepartment(c.Department); ok {
		c.Region = region
	}
}

func (c *Canteen) BeforeSave(tx *gorm.DB) error {
	c.Siret = utils.NormaliseSiret(c.Siret)
	c.CentralProducerSiret = utils.NormaliseSiret(c.CentralProducerSiret)
	c.deriveGeography()
	return nil
}

func (c Canteen) AuthorizationCanteenId() int {
	return c.ID
}

func (c Canteen) HistoryReference() (string, int) {
	return "canteens", c.ID
}

func GetCanteen(ctx context.Context, id int, associations ...string) (*Canteen, error) {
	canteen, err := utils.FetchSingleModel[Canteen](ctx, id, associations...)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return nil, &utils.NotFoundError{Resource: "canteen", Message: "Cantine introuvable"}
		}
		return nil, err
	}
	return canteen, nil
}

func findCanteenBySiret(ctx context.Context, tx *gorm.DB, siret string) (*Canteen, error) {
	siret = utils.NormaliseSiret(siret)
	if siret == "" {
		return nil, nil
	}
	var canteen Canteen
	err := tx.WithContext(ctx).Preload("Sectors").Where("siret = ?", siret).Order("id").Take(&canteen).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &canteen, nil
}

func IsCanteenManager(ctx context.Context, tx *gorm.DB, canteenId int, userId int) (bool, error) {
	var count int64
	err := tx.WithContext(ctx).Table("canteen_managers").
		Where("canteen_id = ? AND user_id = ?", canteenId, userId).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func AddCanteenManager(ctx context.Context, tx *gorm.DB, canteen *Canteen, user *User) error {
	return tx.WithContext(ctx).Model(canteen).Association("Managers").Append(user)
}

// GetCanteenLocations lists the region and department codes used by canteens.
func GetCanteenLocations(ctx context.Context) (*CanteenLocations, error) {
	db := config.GetDB()
	locations := CanteenLocations{Regions: []string{}, Departments: []string{}}

	if err := db.WithContext(ctx).Model(&Canteen{}).
		Where("region IS NOT NULL AND TRIM(region) <> ''").
		Distinct().Order("region").Pluck("region", &locations.Regions).Error; err != nil {
		return nil, err
	}
	if err := db.WithContext(ctx).Model(&Canteen{}).
		Where("department IS NOT NULL AND TRIM(department) <> ''").
		Distinct().Order("department").Pluck("department", &locations.Departments).Error; err != nil {
		return nil, err
	}
	return &locations, nil
}

type CanteenLocations struct {
	Regions     []string `json:"regions"`
	Departments []string `json:"departments"`
}
