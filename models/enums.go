package models

import (
	"strings"
)

type ProductionType string

const (
	ProductionTypeSite                ProductionType = "site"
	ProductionTypeCentral             ProductionType = "central"
	ProductionTypeCentralServing      ProductionType = "central_serving"
	ProductionTypeSiteCookedElsewhere ProductionType = "site_cooked_elsewhere"
)

func (t ProductionType) IsValid() bool {
	switch t {
	case ProductionTypeSite, ProductionTypeCentral, ProductionTypeCentralServing, ProductionTypeSiteCookedElsewhere:
		return true
	}
	return false
}

// IsCentralKitchen: the canteen cooks for satellites.
func (t ProductionType) IsCentralKitchen() bool {
	return t == ProductionTypeCentral || t == ProductionTypeCentralServing
}

type ManagementType string

const (
	ManagementTypeDirect   ManagementType = "direct"
	ManagementTypeConceded ManagementType = "conceded"
)

func (t ManagementType) IsValid() bool {
	return t == ManagementTypeDirect || t == ManagementTypeConceded
}

type EconomicModel string

const (
	EconomicModelPublic  EconomicModel = "public"
	EconomicModelPrivate EconomicModel = "private"
)

func (t EconomicModel) IsValid() bool {
	return t == EconomicModelPublic || t == EconomicModelPrivate
}

type PublicationStatus string

const (
	PublicationStatusDraft     PublicationStatus = "draft"
	PublicationStatusPending   PublicationStatus = "pending"
	PublicationStatusPublished PublicationStatus = "published"
)

type VegetarianRecurrence string

const (
	VegetarianRecurrenceNone  VegetarianRecurrence = ""
	VegetarianRecurrenceLow   VegetarianRecurrence = "LOW"
	VegetarianRecurrenceMid   VegetarianRecurrence = "MID"
	VegetarianRecurrenceHigh  VegetarianRecurrence = "HIGH"
	VegetarianRecurrenceDaily VegetarianRecurrence = "DAILY"
)

type DiagnosticType string

const (
	DiagnosticTypeSimple   DiagnosticType = "SIMPLE"
	DiagnosticTypeComplete DiagnosticType = "COMPLETE"
)

type CentralKitchenDiagnosticMode string

const (
	CentralKitchenDiagnosticModeAppro CentralKitchenDiagnosticMode = "APPRO"
	CentralKitchenDiagnosticModeAll   CentralKitchenDiagnosticMode = "ALL"
)

type CreationSource string

const (
	CreationSourceTunnel CreationSource = "TUNNEL"
	CreationSourceImport CreationSource = "IMPORT"
)

type TeledeclarationStatus string

const (
	TeledeclarationStatusSubmitted TeledeclarationStatus = "SUBMITTED"
	TeledeclarationStatusCancelled TeledeclarationStatus = "CANCELLED"
)

type TeledeclarationMode string

const (
	TeledeclarationModeSite                  TeledeclarationMode = "SITE"
	TeledeclarationModeCentral               TeledeclarationMode = "CENTRAL"
	TeledeclarationModeCentralAppro          TeledeclarationMode = "CENTRAL_APPRO"
	TeledeclarationModeCentralAll            TeledeclarationMode = "CENTRAL_ALL"
	TeledeclarationModeSatelliteWithoutAppro TeledeclarationMode = "SATELLITE_WITHOUT_APPRO"
)

type ImportType string

const (
	ImportTypeDiagnosticSimple ImportType = "DIAGNOSTIC_SIMPLE"
	ImportTypePurchases        ImportType = "PURCHASES"
)

const (
	HistoryActionCreate = "CREATE"
	HistoryActionUpdate = "UPDATE"
	HistoryActionCancel = "CANCEL"
	HistoryActionImport = "IMPORT"
)

const (
	OutboxEventTeledeclarationSubmitted = "TELEDECLARATION_SUBMITTED"
	OutboxEventTeledeclarationCancelled = "TELEDECLARATION_CANCELLED"
	OutboxEventDiagnosticsImported      = "DIAGNOSTICS_IMPORTED"
	OutboxEventPurchasesImported        = "PURCHASES_IMPORTED"
)

// enum values coming from files are compared trimmed and lower-cased
func normaliseChoice(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
