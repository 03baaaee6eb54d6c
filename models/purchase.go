package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PurchaseFamily string

const (
	PurchaseFamilyViandesVolailles PurchaseFamily = "VIANDES_VOLAILLES"
	PurchaseFamilyCharcuterie      PurchaseFamily = "CHARCUTERIE"
	PurchaseFamilyProduitsDeLaMer  PurchaseFamily = "PRODUITS_DE_LA_MER"
	PurchaseFamilyFruitsEtLegumes  PurchaseFamily = "FRUITS_ET_LEGUMES"
	PurchaseFamilyProduitsLaitiers PurchaseFamily = "PRODUITS_LAITIERS"
	PurchaseFamilyBoulangerie      PurchaseFamily = "BOULANGERIE"
	PurchaseFamilyBoissons         PurchaseFamily = "BOISSONS"
	PurchaseFamilyAutres           PurchaseFamily = "AUTRES"
)

func (f PurchaseFamily) IsValid() bool {
	switch f {
	case PurchaseFamilyViandesVolailles, PurchaseFamilyCharcuterie, PurchaseFamilyProduitsDeLaMer,
		PurchaseFamilyFruitsEtLegumes, PurchaseFamilyProduitsLaitiers, PurchaseFamilyBoulangerie,
		PurchaseFamilyBoissons, PurchaseFamilyAutres:
		return true
	}
	return false
}

type PurchaseCharacteristic string

const (
	CharacteristicBio               PurchaseCharacteristic = "BIO"
	CharacteristicConversionBio     PurchaseCharacteristic = "CONVERSION_BIO"
	CharacteristicLabelRouge        PurchaseCharacteristic = "LABEL_ROUGE"
	CharacteristicAocAop            PurchaseCharacteristic = "AOCAOP"
	CharacteristicIcp               PurchaseCharacteristic = "ICP"
	CharacteristicStg               PurchaseCharacteristic = "STG"
	CharacteristicHve               PurchaseCharacteristic = "HVE"
	CharacteristicPecheDurable      PurchaseCharacteristic = "PECHE_DURABLE"
	CharacteristicRup               PurchaseCharacteristic = "RUP"
	CharacteristicFermier           PurchaseCharacteristic = "FERMIER"
	CharacteristicExternalites      PurchaseCharacteristic = "EXTERNALITES"
	CharacteristicCommerceEquitable PurchaseCharacteristic = "COMMERCE_EQUITABLE"
	CharacteristicPerformance       PurchaseCharacteristic = "PERFORMANCE"
	CharacteristicEquivalents       PurchaseCharacteristic = "EQUIVALENTS"
	CharacteristicFrance            PurchaseCharacteristic = "FRANCE"
	CharacteristicShortDistribution PurchaseCharacteristic = "SHORT_DISTRIBUTION"
	CharacteristicLocal             PurchaseCharacteristic = "LOCAL"
)

var purchaseCharacteristics = map[PurchaseCharacteristic]bool{
	CharacteristicBio: true, CharacteristicConversionBio: true, CharacteristicLabelRouge: true,
	CharacteristicAocAop: true, CharacteristicIcp: true, CharacteristicStg: true,
	CharacteristicHve: true, CharacteristicPecheDurable: true, CharacteristicRup: true,
	CharacteristicFermier: true, CharacteristicExternalites: true, CharacteristicCommerceEquitable: true,
	CharacteristicPerformance: true, CharacteristicEquivalents: true, CharacteristicFrance: true,
	CharacteristicShortDistribution: true, CharacteristicLocal: true,
}

func (c PurchaseCharacteristic) IsValid() bool {
	return purchaseCharacteristics[c]
}

// PurchaseLocalDefinition says what "local" means for a LOCAL product.
type PurchaseLocalDefinition string

const (
	LocalDefinitionRegion        PurchaseLocalDefinition = "REGION"
	LocalDefinitionDepartment    PurchaseLocalDefinition = "DEPARTMENT"
	LocalDefinitionAutourService PurchaseLocalDefinition = "AUTOUR_SERVICE"
	LocalDefinitionAutre         PurchaseLocalDefinition = "AUTRE"
)

func (d PurchaseLocalDefinition) IsValid() bool {
	switch d {
	case LocalDefinitionRegion, LocalDefinitionDepartment, LocalDefinitionAutourService, LocalDefinitionAutre:
		return true
	}
	return false
}

// Purchase is one invoice line of a canteen, kept to compute its procurement totals.
type Purchase struct {
	ID              int                      `gorm:"primary_key" json:"id"`
	CanteenId       int                      `gorm:"not null;index:idx_purchase_canteen_date,priority:1" json:"canteenId"`
	Date            time.Time                `gorm:"type:date;not null;index:idx_purchase_canteen_date,priority:2" json:"date"`
	Description     string                   `gorm:"size:255" json:"description"`
	Provider        string                   `gorm:"size:255" json:"provider"`
	Family          *PurchaseFamily          `gorm:"size:100" json:"family"`
	Characteristics StringList               `gorm:"type:json" json:"characteristics"`
	PriceHt         decimal.Decimal          `gorm:"type:decimal(20,2);not null" json:"priceHt"`
	LocalDefinition *PurchaseLocalDefinition `gorm:"size:100" json:"localDefinition"`
	ImportSource    string                   `gorm:"size:255;index" json:"-"`
	CreationSource  CreationSource           `gorm:"size:10" json:"creationSource"`
	Canteen         *Canteen                 `gorm:"foreignKey:CanteenId" json:"-"`
	CreatedAt       time.Time                `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt       time.Time                `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (p Purchase) AuthorizationCanteenId() int {
	return p.CanteenId
}

func (p Purchase) HistoryReference() (string, int) {
	return "purchases", p.ID
}

// HasCharacteristic reports whether the purchase carries c.
func (p Purchase) HasCharacteristic(c PurchaseCharacteristic) bool {
	for _, v := range p.Characteristics {
		if PurchaseCharacteristic(v) == c {
			return true
		}
	}
	return false
}
