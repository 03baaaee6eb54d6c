package models_test

import (
	"encoding/json"
	"testing"

	"github.com/mmdatafocus/macantine_backend/models"
	"github.com/mmdatafocus/macantine_backend/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublicDiagnosticHidesAmounts(t *testing.T) {
	d := &models.Diagnostic{ID: 7, CanteenId: 3, Year: 2022}
	d.ValueTotalHt = money(400)
	d.ValueBioHt = money(100)
	d.ValueMeatPoultryHt = money(50)
	d.ValueMeatPoultryFranceHt = money(25)
	d.CommunicatesOnFoodQuality = utils.NewTrue()

	public := models.NewPublicDiagnostic(d, true)
	raw, err := json.Marshal(public)
	require.NoError(t, err)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, 0.25, body["percentageValueBioHt"])
	assert.Equal(t, 0.5, body["percentageValueMeatPoultryFranceHt"])
	assert.NotContains(t, body, "percentageValueSustainableHt")
	assert.NotContains(t, body, "valueTotalHt")
	assert.NotContains(t, body, "valueBioHt")
	assert.Equal(t, true, body["communicatesOnFoodQuality"])
}

func TestPublicDiagnosticApproOnly(t *testing.T) {
	mode := models.CentralKitchenDiagnosticModeAppro
	d := &models.Diagnostic{ID: 8, CentralKitchenDiagnosticMode: &mode}
	d.ValueTotalHt = money(100)
	d.ValueSustainableHt = money(10)
	d.HasWasteDiagnostic = utils.NewTrue()

	raw, err := json.Marshal(models.NewPublicDiagnostic(d, false))
	require.NoError(t, err)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, 0.1, body["percentageValueSustainableHt"])
	assert.Equal(t, "APPRO", body["centralKitchenDiagnosticMode"])
	assert.NotContains(t, body, "hasWasteDiagnostic")
}
