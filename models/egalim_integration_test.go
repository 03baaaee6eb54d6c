package models_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/mmdatafocus/macantine_backend/config"
	"github.com/mmdatafocus/macantine_backend/models"
	"github.com/mmdatafocus/macantine_backend/utils"
	"github.com/mmdatafocus/macantine_backend/workflow"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

func createManagedCanteen(t *testing.T, user *models.User, siret string, status models.PublicationStatus) *models.Canteen {
	t.Helper()
	meals := 150
	canteen := models.Canteen{
		Name:              "Cantine " + siret,
		Siret:             siret,
		CityInseeCode:     "38185",
		PostalCode:        "38000",
		DailyMealCount:    &meals,
		ProductionType:    models.ProductionTypeSite,
		ManagementType:    models.ManagementTypeDirect,
		EconomicModel:     models.EconomicModelPublic,
		PublicationStatus: status,
		Managers:          []models.User{*user},
	}
	if err := config.GetDB().Create(&canteen).Error; err != nil {
		t.Fatalf("create canteen: %v", err)
	}
	return &canteen
}

func completeDiagnostic(year int) *models.NewDiagnostic {
	input := &models.NewDiagnostic{Year: year}
	input.ValueTotalHt = money(1000)
	input.ValueBioHt = money(250)
	input.ValueSustainableHt = money(250)
	return input
}

func TestTeledeclarationLifecycle(t *testing.T) {
	ctx, user := setupIntegration(t)
	db := config.GetDB()

	canteen := createManagedCanteen(t, user, "21000004800012", models.PublicationStatusDraft)
	if canteen.Department != "38" || canteen.Region != "84" {
		t.Fatalf("expected geography derived from insee code; got dept=%q region=%q", canteen.Department, canteen.Region)
	}

	diagnostic, err := models.CreateDiagnostic(ctx, canteen.ID, completeDiagnostic(2021))
	if err != nil {
		t.Fatalf("CreateDiagnostic: %v", err)
	}

	td, err := models.CreateTeledeclaration(ctx, diagnostic.ID)
	if err != nil {
		t.Fatalf("CreateTeledeclaration: %v", err)
	}
	if td.Status != models.TeledeclarationStatusSubmitted || td.TeledeclarationMode != models.TeledeclarationModeSite {
		t.Fatalf("unexpected teledeclaration: %+v", td.Summary())
	}

	// a second submission for the same year conflicts
	_, err = models.CreateTeledeclaration(ctx, diagnostic.ID)
	var conflict *utils.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected conflict on duplicate submission; got %v", err)
	}

	// the diagnostic is frozen while submitted
	_, err = models.UpdateDiagnostic(ctx, canteen.ID, diagnostic.ID, []byte(`{"valueBioHt": 400}`))
	var stateErr *utils.StateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("expected locked diagnostic; got %v", err)
	}

	// the snapshot does not follow later edits
	proof, err := models.GenerateTeledeclarationProof(ctx, td.ID, nil)
	if err != nil {
		t.Fatalf("GenerateTeledeclarationProof: %v", err)
	}
	if !strings.HasPrefix(proof.Filename, "teledeclaration-2021--") || !strings.Contains(string(proof.Body), canteen.Name) {
		t.Fatalf("unexpected proof: %s", proof.Filename)
	}

	cancelled, err := models.CancelTeledeclaration(ctx, td.ID)
	if err != nil {
		t.Fatalf("CancelTeledeclaration: %v", err)
	}
	if cancelled.Status != models.TeledeclarationStatusCancelled || cancelled.SubmittedKey != nil {
		t.Fatalf("unexpected cancelled teledeclaration: %+v", cancelled.Summary())
	}
	if _, err := models.CancelTeledeclaration(ctx, td.ID); !errors.As(err, &stateErr) {
		t.Fatalf("expected state error on second cancel; got %v", err)
	}
	if _, err := models.GenerateTeledeclarationProof(ctx, td.ID, nil); !errors.As(err, &stateErr) {
		t.Fatalf("expected state error for cancelled proof; got %v", err)
	}

	updated, err := models.UpdateDiagnostic(ctx, canteen.ID, diagnostic.ID, []byte(`{"valueBioHt": 400}`))
	if err != nil {
		t.Fatalf("UpdateDiagnostic after cancel: %v", err)
	}
	if updated.ValueBioHt.Decimal.IntPart() != 400 || updated.ValueSustainableHt.Decimal.IntPart() != 250 {
		t.Fatalf("merge patch lost values: %+v", updated.ApproValues)
	}

	again, err := models.CreateTeledeclaration(ctx, diagnostic.ID)
	if err != nil {
		t.Fatalf("CreateTeledeclaration after cancel: %v", err)
	}
	stored, err := models.GetTeledeclaration(ctx, cancelled.ID)
	if err != nil {
		t.Fatalf("GetTeledeclaration: %v", err)
	}
	if !stored.DeclaredData.Teledeclaration.ValueBioHt.Decimal.Equal(decimal.NewFromInt(250)) {
		t.Fatalf("cancelled snapshot changed: %+v", stored.DeclaredData.Teledeclaration)
	}
	if again.ID == cancelled.ID {
		t.Fatalf("expected a new teledeclaration row")
	}

	// someone else cannot declare for this canteen
	stranger := createUser(t, "stranger@test.local")
	strangerCtx := models.WithUser(context.Background(), stranger)
	var authErr *utils.AuthorizationError
	if _, err := models.CancelTeledeclaration(strangerCtx, again.ID); !errors.As(err, &authErr) {
		t.Fatalf("expected authorization error for stranger; got %v", err)
	}

	var outboxCount int64
	if err := db.Model(&models.OutboxMessage{}).Where("reference_type = ?", "teledeclarations").Count(&outboxCount).Error; err != nil {
		t.Fatalf("count outbox: %v", err)
	}
	if outboxCount != 3 {
		t.Fatalf("expected submitted, cancelled and submitted events; got %d", outboxCount)
	}

	var published []string
	dispatcher := workflow.NewOutboxDispatcher(db, logrus.New())
	dispatcher.Publish = func(ctx context.Context, event config.DomainEvent) (string, error) {
		published = append(published, event.EventType)
		return fmt.Sprintf("msg-%d", len(published)), nil
	}
	if sent := dispatcher.DispatchOnce(ctx); sent < 3 {
		t.Fatalf("expected outbox rows to be sent; got %d", sent)
	}
	status, err := models.GetOutboxStatus(ctx, "teledeclarations", again.ID)
	if err != nil {
		t.Fatalf("GetOutboxStatus: %v", err)
	}
	if status.PublishStatus != models.OutboxPublishStatusSent || status.PubSubMessageId == nil {
		t.Fatalf("expected SENT outbox row; got %+v", status)
	}
}

func TestOutboxDispatchFailureMovesToDead(t *testing.T) {
	ctx, user := setupIntegration(t)
	db := config.GetDB()

	canteen := createManagedCanteen(t, user, "21000004800099", models.PublicationStatusDraft)
	diagnostic, err := models.CreateDiagnostic(ctx, canteen.ID, completeDiagnostic(2022))
	if err != nil {
		t.Fatalf("CreateDiagnostic: %v", err)
	}
	td, err := models.CreateTeledeclaration(ctx, diagnostic.ID)
	if err != nil {
		t.Fatalf("CreateTeledeclaration: %v", err)
	}

	dispatcher := workflow.NewOutboxDispatcher(db, logrus.New())
	dispatcher.MaxAttempts = 1
	dispatcher.Publish = func(ctx context.Context, event config.DomainEvent) (string, error) {
		return "", errors.New("broker unavailable")
	}
	if sent := dispatcher.DispatchOnce(ctx); sent != 0 {
		t.Fatalf("expected no message sent; got %d", sent)
	}
	status, err := models.GetOutboxStatus(ctx, "teledeclarations", td.ID)
	if err != nil {
		t.Fatalf("GetOutboxStatus: %v", err)
	}
	if status.PublishStatus != models.OutboxPublishStatusDead || status.LastPublishError == nil {
		t.Fatalf("expected DEAD after max attempts; got %+v", status)
	}

	replayed, err := models.ReplayDeadOutbox(ctx, models.OutboxEventTeledeclarationSubmitted)
	if err != nil || replayed != 1 {
		t.Fatalf("ReplayDeadOutbox: replayed=%d err=%v", replayed, err)
	}
	status, err = models.GetOutboxStatus(ctx, "teledeclarations", td.ID)
	if err != nil {
		t.Fatalf("GetOutboxStatus: %v", err)
	}
	if status.PublishStatus != models.OutboxPublishStatusPending {
		t.Fatalf("expected PENDING after replay; got %s", status.PublishStatus)
	}
}

const importHeader = "siret,nom,code_insee,code_postal,siret_livreur,repas,secteurs,production,gestion,modele,annee,total,bio,durable\n"

func importRow(siret string, bio string) string {
	return siret + ",Cantine " + siret + ",38185,38000,,120,Scolaire,site,direct,public,2021,1000," + bio + ",100\n"
}

func TestImportDiagnosticsIsAllOrNothing(t *testing.T) {
	ctx, user := setupIntegration(t)
	db := config.GetDB()
	importer := models.NewDiagnosticImporter(nil)

	rejected := importHeader +
		importRow("21000004800101", "200") +
		importRow("21000004800102", "200") +
		importRow("21000004800103", "-5")
	result, err := importer.ImportDiagnostics(ctx, "diagnostics.csv", int64(len(rejected)), strings.NewReader(rejected))
	if err != nil {
		t.Fatalf("ImportDiagnostics: %v", err)
	}
	if result.Count != 0 || len(result.Errors) != 1 || result.Errors[0].Row != 4 {
		t.Fatalf("expected a single error on row 4 and nothing imported; got %+v", result)
	}
	var canteens int64
	if err := db.Model(&models.Canteen{}).Where("siret LIKE ?", "210000048001%").Count(&canteens).Error; err != nil {
		t.Fatalf("count canteens: %v", err)
	}
	if canteens != 0 {
		t.Fatalf("rejected import left %d canteens behind", canteens)
	}

	accepted := importHeader +
		importRow("21000004800101", "200") +
		importRow("21000004800102", "300")
	result, err = importer.ImportDiagnostics(ctx, "diagnostics.csv", int64(len(accepted)), strings.NewReader(accepted))
	if err != nil {
		t.Fatalf("ImportDiagnostics: %v", err)
	}
	if result.Count != 2 || len(result.Errors) != 0 || len(result.Canteens) != 2 {
		t.Fatalf("expected two imported rows; got %+v", result)
	}
	if result.Canteens[0].Department != "38" || len(result.Canteens[0].Sectors) != 1 {
		t.Fatalf("unexpected imported canteen: %+v", result.Canteens[0])
	}

	result, err = importer.ImportDiagnostics(ctx, "copy.csv", int64(len(accepted)), strings.NewReader(accepted))
	if err != nil {
		t.Fatalf("ImportDiagnostics: %v", err)
	}
	if !result.DuplicateFile || result.DuplicateDiagnosticCount != 2 || result.Count != 0 {
		t.Fatalf("expected duplicate file detection; got %+v", result)
	}
	if len(result.Errors) != 1 || result.Errors[0].Row != 0 || result.Errors[0].Message != "Ce fichier a déjà été utilisé pour un import" {
		t.Fatalf("expected a file level duplicate error; got %+v", result.Errors)
	}

	// imported canteens are managed by the importing user
	var managed int64
	if err := db.Table("canteen_managers").
		Joins("JOIN canteens ON canteens.id = canteen_managers.canteen_id").
		Where("canteen_managers.user_id = ? AND canteens.siret LIKE ?", user.ID, "210000048001%").
		Count(&managed).Error; err != nil {
		t.Fatalf("count managers: %v", err)
	}
	if managed != 2 {
		t.Fatalf("expected the importer to manage both canteens; got %d", managed)
	}

	// another manager cannot import onto these canteens
	other := createUser(t, "other@test.local")
	otherCtx := models.WithUser(context.Background(), other)
	foreign := importHeader + strings.Replace(importRow("21000004800101", "200"), ",2021,", ",2022,", 1)
	result, err = importer.ImportDiagnostics(otherCtx, "foreign.csv", int64(len(foreign)), strings.NewReader(foreign))
	if err != nil {
		t.Fatalf("ImportDiagnostics: %v", err)
	}
	if result.Count != 0 || len(result.Errors) != 1 || result.Errors[0].Status != 401 {
		t.Fatalf("expected a 401 row error; got %+v", result)
	}

	var importErrors int64
	if err := db.Model(&models.ImportError{}).Count(&importErrors).Error; err != nil {
		t.Fatalf("count import errors: %v", err)
	}
	if importErrors != 2 {
		t.Fatalf("expected both failed imports to be recorded; got %d", importErrors)
	}
}

func TestImportRejectsOversizeFiles(t *testing.T) {
	ctx, _ := setupIntegration(t)
	importer := models.NewDiagnosticImporter(nil)
	importer.MaxSize = 10

	data := importHeader + importRow("21000004800301", "200")
	result, err := importer.ImportDiagnostics(ctx, "diagnostics.csv", int64(len(data)), strings.NewReader(data))
	if err != nil {
		t.Fatalf("ImportDiagnostics: %v", err)
	}
	if result.Count != 0 || len(result.Errors) != 1 || result.Errors[0].Row != 0 || result.Errors[0].Status != 400 {
		t.Fatalf("expected a single file error; got %+v", result)
	}
	if !strings.HasPrefix(result.Errors[0].Message, "Ce fichier est trop grand") {
		t.Fatalf("unexpected message: %q", result.Errors[0].Message)
	}
}

func TestTeledeclarationNeedsApproData(t *testing.T) {
	ctx, user := setupIntegration(t)
	canteen := createManagedCanteen(t, user, "21000004800401", models.PublicationStatusDraft)

	diagnostic, err := models.CreateDiagnostic(ctx, canteen.ID, &models.NewDiagnostic{Year: 2021})
	if err != nil {
		t.Fatalf("CreateDiagnostic: %v", err)
	}
	_, err = models.CreateTeledeclaration(ctx, diagnostic.ID)
	var validation *utils.ValidationError
	if !errors.As(err, &validation) || validation.Message != "Données d'approvisionnement manquantes" {
		t.Fatalf("expected missing appro data; got %v", err)
	}
	if utils.HTTPStatus(err) != 400 {
		t.Fatalf("expected 400; got %d", utils.HTTPStatus(err))
	}
	var count int64
	if err := config.GetDB().Model(&models.Teledeclaration{}).Where("diagnostic_id = ?", diagnostic.ID).Count(&count).Error; err != nil {
		t.Fatalf("count teledeclarations: %v", err)
	}
	if count != 0 {
		t.Fatalf("rejected declaration was stored")
	}
}

func TestStatisticsFollowDiagnosticChanges(t *testing.T) {
	ctx, user := setupIntegration(t)
	query := models.StatisticsQuery{Department: "38", Year: 2021}
	cacheKey := "CanteenStatistics::38:2021"
	cached := func() bool {
		n, err := config.GetRedisDB().Exists(ctx, cacheKey).Result()
		if err != nil {
			t.Fatalf("redis exists: %v", err)
		}
		return n == 1
	}

	canteen := createManagedCanteen(t, user, "21000004800501", models.PublicationStatusPublished)
	diagnostic, err := models.CreateDiagnostic(ctx, canteen.ID, completeDiagnostic(2021))
	if err != nil {
		t.Fatalf("CreateDiagnostic: %v", err)
	}
	stats, err := models.GetCanteenStatistics(ctx, query)
	if err != nil {
		t.Fatalf("GetCanteenStatistics: %v", err)
	}
	if stats.BioPercent != 25 || !cached() {
		t.Fatalf("expected cached statistics with 25%% bio; got %+v", stats)
	}

	if _, err := models.UpdateDiagnostic(ctx, canteen.ID, diagnostic.ID, []byte(`{"valueBioHt": 500}`)); err != nil {
		t.Fatalf("UpdateDiagnostic: %v", err)
	}
	if cached() {
		t.Fatalf("update left stale statistics in cache")
	}
	stats, err = models.GetCanteenStatistics(ctx, query)
	if err != nil {
		t.Fatalf("GetCanteenStatistics: %v", err)
	}
	if stats.BioPercent != 50 {
		t.Fatalf("expected 50%% bio after update; got %+v", stats)
	}

	other := createManagedCanteen(t, user, "21000004800502", models.PublicationStatusDraft)
	if _, err := models.CreateDiagnostic(ctx, other.ID, completeDiagnostic(2021)); err != nil {
		t.Fatalf("CreateDiagnostic: %v", err)
	}
	stats, err = models.GetCanteenStatistics(ctx, query)
	if err != nil {
		t.Fatalf("GetCanteenStatistics: %v", err)
	}
	if stats.CanteenCount != 2 {
		t.Fatalf("expected the new diagnostic to be counted; got %+v", stats)
	}

	td, err := models.CreateTeledeclaration(ctx, diagnostic.ID)
	if err != nil {
		t.Fatalf("CreateTeledeclaration: %v", err)
	}
	if cached() {
		t.Fatalf("submission left statistics in cache")
	}
	if _, err := models.GetCanteenStatistics(ctx, query); err != nil {
		t.Fatalf("GetCanteenStatistics: %v", err)
	}
	if _, err := models.CancelTeledeclaration(ctx, td.ID); err != nil {
		t.Fatalf("CancelTeledeclaration: %v", err)
	}
	if cached() {
		t.Fatalf("cancellation left statistics in cache")
	}
}

const purchaseHeader = "siret,description,fournisseur,date,prix_ht,famille,caracteristiques,definition_local\n"

func TestImportPurchases(t *testing.T) {
	ctx, user := setupIntegration(t)
	db := config.GetDB()
	importer := models.NewPurchaseImporter()
	canteen := createManagedCanteen(t, user, "82399356058716", models.PublicationStatusDraft)
	createManagedCanteen(t, createUser(t, "voisin@test.local"), "36462492895701", models.PublicationStatusDraft)

	rejected := purchaseHeader +
		"82399356058716,Pommes,Le bon traiteur,2022-05-02,90.11,PRODUITS_LAITIERS,BIO,\n" +
		"82399356058716,Poires,Le bon traiteur,2022-02-31,10,,,\n" +
		"82399356058716,Poires,Le bon traiteur,2022/03/01,10,,,\n" +
		"86180597100897,Poires,Le bon traiteur,2022-03-01,10,,,\n" +
		"36462492895701,Poires,Le bon traiteur,2022-03-01,10,,,\n"
	result, err := importer.ImportPurchases(ctx, "achats.csv", int64(len(rejected)), strings.NewReader(rejected))
	if err != nil {
		t.Fatalf("ImportPurchases: %v", err)
	}
	if result.Count != 0 || len(result.Errors) != 4 {
		t.Fatalf("expected four row errors and nothing imported; got %+v", result)
	}
	wantRows := []int{3, 4, 5, 6}
	wantStatus := []int{400, 400, 404, 401}
	for i, e := range result.Errors {
		if e.Row != wantRows[i] || e.Status != wantStatus[i] {
			t.Fatalf("unexpected error %d: %+v", i, e)
		}
	}
	if result.Errors[0].Message == result.Errors[1].Message {
		t.Fatalf("impossible date and wrong format must differ: %q", result.Errors[0].Message)
	}
	var purchases int64
	if err := db.Model(&models.Purchase{}).Count(&purchases).Error; err != nil {
		t.Fatalf("count purchases: %v", err)
	}
	if purchases != 0 {
		t.Fatalf("rejected import left %d purchases behind", purchases)
	}

	accepted := purchaseHeader +
		"82399356058716,\"Pommes, rouges\",Le bon traiteur,2022-05-02,\"90,11\",PRODUITS_LAITIERS,\"BIO,LOCAL\",DEPARTMENT\n" +
		"82399356058716,Lait,Le bon traiteur,2022-05-03,12,,,\n"
	result, err = importer.ImportPurchases(ctx, "achats.csv", int64(len(accepted)), strings.NewReader(accepted))
	if err != nil {
		t.Fatalf("ImportPurchases: %v", err)
	}
	if result.Count != 2 || len(result.Errors) != 0 || len(result.Purchases) != 2 {
		t.Fatalf("expected two purchases; got %+v", result)
	}
	var first models.Purchase
	if err := db.Where("canteen_id = ?", canteen.ID).Order("id").First(&first).Error; err != nil {
		t.Fatalf("load purchase: %v", err)
	}
	if first.Description != "Pommes, rouges" || !first.PriceHt.Equal(decimal.RequireFromString("90.11")) ||
		!first.HasCharacteristic(models.CharacteristicLocal) || first.ImportSource == "" {
		t.Fatalf("unexpected purchase: %+v", first)
	}

	result, err = importer.ImportPurchases(ctx, "copie.csv", int64(len(accepted)), strings.NewReader(accepted))
	if err != nil {
		t.Fatalf("ImportPurchases: %v", err)
	}
	if !result.DuplicateFile || result.DuplicatePurchaseCount != 2 || result.Count != 0 ||
		len(result.Errors) != 1 || result.Errors[0].Message != "Ce fichier a déjà été utilisé pour un import" {
		t.Fatalf("expected duplicate file detection; got %+v", result)
	}

	var outbox int64
	if err := db.Model(&models.OutboxMessage{}).Where("event_type = ?", models.OutboxEventPurchasesImported).Count(&outbox).Error; err != nil {
		t.Fatalf("count outbox: %v", err)
	}
	if outbox != 1 {
		t.Fatalf("expected one import event; got %d", outbox)
	}
}

func TestStatisticsAndPublishedCanteens(t *testing.T) {
	ctx, user := setupIntegration(t)

	published := createManagedCanteen(t, user, "21000004800201", models.PublicationStatusPublished)
	draft := createManagedCanteen(t, user, "21000004800202", models.PublicationStatusDraft)
	if _, err := models.CreateDiagnostic(ctx, published.ID, completeDiagnostic(2021)); err != nil {
		t.Fatalf("CreateDiagnostic: %v", err)
	}
	low := &models.NewDiagnostic{Year: 2021}
	low.ValueTotalHt = money(1000)
	low.ValueBioHt = money(50)
	low.ValueSustainableHt = money(50)
	if _, err := models.CreateDiagnostic(ctx, draft.ID, low); err != nil {
		t.Fatalf("CreateDiagnostic: %v", err)
	}

	stats, err := models.GetCanteenStatistics(ctx, models.StatisticsQuery{Department: "38", Year: 2021})
	if err != nil {
		t.Fatalf("GetCanteenStatistics: %v", err)
	}
	if stats.CanteenCount != 2 || stats.PublishedCanteenCount != 1 {
		t.Fatalf("unexpected counts: %+v", stats)
	}
	if stats.BioPercent != 15 || stats.SustainablePercent != 15 {
		t.Fatalf("unexpected percentages: %+v", stats)
	}

	byRegion, err := models.GetCanteenStatistics(ctx, models.StatisticsQuery{Region: "84", Year: 2021})
	if err != nil {
		t.Fatalf("GetCanteenStatistics(region): %v", err)
	}
	if byRegion.CanteenCount != 2 {
		t.Fatalf("expected region to include the department; got %+v", byRegion)
	}

	page, err := models.GetPublishedCanteens(ctx, 0, 0, "")
	if err != nil {
		t.Fatalf("GetPublishedCanteens: %v", err)
	}
	if page.Count != 1 || len(page.Results) != 1 || page.Results[0].ID != published.ID {
		t.Fatalf("expected only the published canteen; got %+v", page)
	}
	if page.Limit != models.PublishedCanteenDefaultLimit {
		t.Fatalf("expected default limit; got %d", page.Limit)
	}

	profile, err := models.GetPublishedCanteen(ctx, published.ID)
	if err != nil {
		t.Fatalf("GetPublishedCanteen: %v", err)
	}
	if len(profile.Diagnostics) != 1 || profile.Diagnostics[0].PercentageValueBioHt == nil || *profile.Diagnostics[0].PercentageValueBioHt != 0.25 {
		t.Fatalf("unexpected public diagnostics: %+v", profile.Diagnostics)
	}

	var notFound *utils.NotFoundError
	if _, err := models.GetPublishedCanteen(ctx, draft.ID); !errors.As(err, &notFound) {
		t.Fatalf("expected draft canteen to be hidden; got %v", err)
	}
}
