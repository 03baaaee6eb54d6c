package models

import (
	"context"
	"strings"
	"time"

	"github.com/mmdatafocus/macantine_backend/config"
	"github.com/mmdatafocus/macantine_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const schoolSectorName = "scolaire"

type Sector struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Name      string    `gorm:"size:255;not null;unique" json:"name"`
	Category  string    `gorm:"size:50" json:"category"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewSector struct {
	Name     string `json:"name" validate:"required,max=255"`
	Category string `json:"category" validate:"max=50"`
}

// IsSchoolSector matches "Scolaire" ignoring case and accents.
func IsSchoolSector(name string) bool {
	return utils.FoldAccents(name) == schoolSectorName
}

func sectorKey(name string) string {
	return utils.FoldAccents(name)
}

// SectorLookup maps folded sector names to sectors. Built per request.
type SectorLookup map[string]*Sector

func (l SectorLookup) Find(name string) (*Sector, bool) {
	s, ok := l[sectorKey(name)]
	return s, ok
}

func LoadSectorLookup(ctx context.Context, tx *gorm.DB) (SectorLookup, error) {
	var sectors []*Sector
	if err := tx.WithContext(ctx).Find(&sectors).Error; err != nil {
		return nil, err
	}
	return NewSectorLookup(sectors), nil
}

func NewSectorLookup(sectors []*Sector) SectorLookup {
	lookup := make(SectorLookup, len(sectors))
	for _, s := range sectors {
		lookup[sectorKey(s.Name)] = s
	}
	return lookup
}

func GetSectors(ctx context.Context) ([]*Sector, error) {
	var results []*Sector
	err := config.GetDB().WithContext(ctx).Order("id").Find(&results).Error
	return results, err
}

// UpsertSectors creates missing sectors and refreshes the category of existing ones.
func UpsertSectors(ctx context.Context, inputs []NewSector) (int, error) {
	if len(inputs) == 0 {
		return 0, nil
	}
	validate := newValidator()
	sectors := make([]Sector, 0, len(inputs))
	for _, in := range inputs {
		in.Name = strings.TrimSpace(in.Name)
		if err := validate.Struct(in); err != nil {
			return 0, err
		}
		sectors = append(sectors, Sector{Name: in.Name, Category: in.Category})
	}
	result := config.GetDB().WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"category", "updated_at"}),
	}).Create(&sectors)
	return int(result.RowsAffected), result.Error
}
