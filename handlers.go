package main

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/macantine_backend/config"
	"github.com/mmdatafocus/macantine_backend/models"
	"github.com/mmdatafocus/macantine_backend/utils"
)

const internalErrorMessage = "Une erreur interne est survenue"

// respondError answers with the status of the error taxonomy. Internal errors
// are logged and their message is not leaked.
func respondError(c *gin.Context, funcName string, err error) {
	status := utils.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
		config.LogError(config.GetLogger(), "server.go", funcName, c.FullPath(), cid, err)
		c.JSON(status, gin.H{"error": internalErrorMessage})
		return
	}
	body := gin.H{"error": err.Error()}
	var validationErr *utils.ValidationError
	if errors.As(err, &validationErr) && validationErr.Field != "" {
		body["field"] = validationErr.Field
	}
	c.JSON(status, body)
}

func pathId(c *gin.Context, name string, notFound error) (int, error) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		return 0, notFound
	}
	return id, nil
}

func queryInt(c *gin.Context, name string) int {
	n, err := strconv.Atoi(c.Query(name))
	if err != nil {
		return 0
	}
	return n
}

type createTeledeclarationRequest struct {
	DiagnosticId  int   `json:"diagnosticId"`
	DiagnosticIds []int `json:"diagnosticIds"`
}

func createTeledeclarationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createTeledeclarationRequest
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			respondError(c, "createTeledeclarationHandler", utils.NewValidationError("", "Données invalides"))
			return
		}
		ctx := c.Request.Context()

		if req.DiagnosticIds != nil {
			result, err := models.CreateTeledeclarations(ctx, req.DiagnosticIds)
			if err != nil {
				respondError(c, "createTeledeclarationHandler", err)
				return
			}
			c.JSON(http.StatusOK, result)
			return
		}

		td, err := models.CreateTeledeclaration(ctx, req.DiagnosticId)
		if err != nil {
			respondError(c, "createTeledeclarationHandler", err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"teledeclaration": td.Summary()})
	}
}

func cancelTeledeclarationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := models.ParseTeledeclarationId(c.Param("id"))
		if err != nil {
			respondError(c, "cancelTeledeclarationHandler", err)
			return
		}
		td, err := models.CancelTeledeclaration(c.Request.Context(), id)
		if err != nil {
			respondError(c, "cancelTeledeclarationHandler", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"teledeclaration": td.Summary()})
	}
}

func teledeclarationProofHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := models.ParseTeledeclarationId(c.Param("id"))
		if err != nil {
			respondError(c, "teledeclarationProofHandler", err)
			return
		}
		doc, err := models.GenerateTeledeclarationProof(c.Request.Context(), id, nil)
		if err != nil {
			respondError(c, "teledeclarationProofHandler", err)
			return
		}
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.Filename))
		c.Data(http.StatusOK, doc.ContentType, doc.Body)
	}
}

func canteenStatisticsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		query, err := models.ParseStatisticsQuery(c.Query("region"), c.Query("department"), c.Query("year"))
		if err != nil {
			respondError(c, "canteenStatisticsHandler", err)
			return
		}
		stats, err := models.GetCanteenStatistics(c.Request.Context(), query)
		if err != nil {
			respondError(c, "canteenStatisticsHandler", err)
			return
		}
		c.JSON(http.StatusOK, stats)
	}
}

func canteenStatisticsExportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		query, err := models.ParseStatisticsQuery(c.Query("region"), c.Query("department"), c.Query("year"))
		if err != nil {
			respondError(c, "canteenStatisticsExportHandler", err)
			return
		}
		filename, body, err := models.ExportCanteenStatistics(c.Request.Context(), query)
		if err != nil {
			respondError(c, "canteenStatisticsExportHandler", err)
			return
		}
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
		c.Data(http.StatusOK, models.XLSXContentType, body)
	}
}

func canteenLocationsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		locations, err := models.GetCanteenLocations(c.Request.Context())
		if err != nil {
			respondError(c, "canteenLocationsHandler", err)
			return
		}
		c.JSON(http.StatusOK, locations)
	}
}

// openUpload opens the "file" form field.
func openUpload(c *gin.Context) (*multipart.FileHeader, multipart.File, error) {
	header, err := c.FormFile("file")
	if err != nil {
		return nil, nil, &utils.MissingParameterError{Name: "file", Message: "Fichier manquant"}
	}
	file, err := header.Open()
	if err != nil {
		return nil, nil, err
	}
	return header, file, nil
}

func importDiagnosticsHandler(importer *models.DiagnosticImporter) gin.HandlerFunc {
	return func(c *gin.Context) {
		header, file, err := openUpload(c)
		if err != nil {
			respondError(c, "importDiagnosticsHandler", err)
			return
		}
		defer file.Close()

		result, err := importer.ImportDiagnostics(c.Request.Context(), header.Filename, header.Size, file)
		if err != nil {
			respondError(c, "importDiagnosticsHandler", err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func importPurchasesHandler(importer *models.PurchaseImporter) gin.HandlerFunc {
	return func(c *gin.Context) {
		header, file, err := openUpload(c)
		if err != nil {
			respondError(c, "importPurchasesHandler", err)
			return
		}
		defer file.Close()

		result, err := importer.ImportPurchases(c.Request.Context(), header.Filename, header.Size, file)
		if err != nil {
			respondError(c, "importPurchasesHandler", err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

var canteenNotFound = &utils.NotFoundError{Resource: "canteen", Message: "Cantine introuvable"}

func createDiagnosticHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		canteenId, err := pathId(c, "canteenId", canteenNotFound)
		if err != nil {
			respondError(c, "createDiagnosticHandler", err)
			return
		}
		var input models.NewDiagnostic
		if err := c.ShouldBindJSON(&input); err != nil {
			respondError(c, "createDiagnosticHandler", utils.NewValidationError("", "Données invalides : "+err.Error()))
			return
		}
		diagnostic, err := models.CreateDiagnostic(c.Request.Context(), canteenId, &input)
		if err != nil {
			respondError(c, "createDiagnosticHandler", err)
			return
		}
		c.JSON(http.StatusCreated, diagnostic)
	}
}

func updateDiagnosticHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		canteenId, err := pathId(c, "canteenId", canteenNotFound)
		if err != nil {
			respondError(c, "updateDiagnosticHandler", err)
			return
		}
		id, err := pathId(c, "id", &utils.NotFoundError{Resource: "diagnostic", Message: "Diagnostic introuvable"})
		if err != nil {
			respondError(c, "updateDiagnosticHandler", err)
			return
		}
		patch, err := io.ReadAll(c.Request.Body)
		if err != nil {
			respondError(c, "updateDiagnosticHandler", utils.NewValidationError("", "Données invalides"))
			return
		}
		diagnostic, err := models.UpdateDiagnostic(c.Request.Context(), canteenId, id, patch)
		if err != nil {
			respondError(c, "updateDiagnosticHandler", err)
			return
		}
		c.JSON(http.StatusOK, diagnostic)
	}
}

func publishedCanteensHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		page, err := models.GetPublishedCanteens(c.Request.Context(), queryInt(c, "limit"), queryInt(c, "offset"), c.Query("badge"))
		if err != nil {
			respondError(c, "publishedCanteensHandler", err)
			return
		}
		c.JSON(http.StatusOK, page)
	}
}

func publishedCanteenHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := pathId(c, "id", canteenNotFound)
		if err != nil {
			respondError(c, "publishedCanteenHandler", err)
			return
		}
		profile, err := models.GetPublishedCanteen(c.Request.Context(), id)
		if err != nil {
			respondError(c, "publishedCanteenHandler", err)
			return
		}
		c.JSON(http.StatusOK, profile)
	}
}
