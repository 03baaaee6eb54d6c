package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTeledeclarationMode(t *testing.T) {
	appro := CentralKitchenDiagnosticModeAppro
	all := CentralKitchenDiagnosticModeAll
	site := &Canteen{ProductionType: ProductionTypeSite}
	central := &Canteen{ProductionType: ProductionTypeCentral}
	centralServing := &Canteen{ProductionType: ProductionTypeCentralServing}
	satellite := &Canteen{ProductionType: ProductionTypeSiteCookedElsewhere, CentralProducerSiret: "21000004800012"}

	cases := []struct {
		name       string
		canteen    *Canteen
		diagnostic *Diagnostic
		central    *Diagnostic
		want       TeledeclarationMode
	}{
		{"site", site, &Diagnostic{}, nil, TeledeclarationModeSite},
		{"site ignores its own mode", site, &Diagnostic{CentralKitchenDiagnosticMode: &all}, nil, TeledeclarationModeSite},
		{"central without mode", central, &Diagnostic{}, nil, TeledeclarationModeCentral},
		{"central appro", central, &Diagnostic{CentralKitchenDiagnosticMode: &appro}, nil, TeledeclarationModeCentralAppro},
		{"central serving all", centralServing, &Diagnostic{CentralKitchenDiagnosticMode: &all}, nil, TeledeclarationModeCentralAll},
		{"satellite without central diagnostic", satellite, &Diagnostic{}, nil, TeledeclarationModeSatelliteWithoutAppro},
		{"satellite whose central has no mode", satellite, &Diagnostic{}, &Diagnostic{}, TeledeclarationModeSatelliteWithoutAppro},
		{"satellite covered for appro", satellite, &Diagnostic{}, &Diagnostic{CentralKitchenDiagnosticMode: &appro}, TeledeclarationModeCentralAppro},
		{"satellite fully covered", satellite, &Diagnostic{}, &Diagnostic{CentralKitchenDiagnosticMode: &all}, TeledeclarationModeCentralAll},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, teledeclarationMode(tc.canteen, tc.diagnostic, tc.central))
		})
	}
}

func TestReadImportUploadRejectsLargeFiles(t *testing.T) {
	user := &User{ID: 1}
	want := "Ce fichier est trop grand, merci d'utiliser un fichier de moins de 1Mo"

	upload, message := readImportUpload(t.Context(), user, 1<<20, "big.csv", 2<<20, strings.NewReader("siret"))
	assert.Nil(t, upload)
	assert.Equal(t, want, message)

	// declared size can lie; the body is still capped
	body := strings.Repeat("a", 1<<20+1)
	upload, message = readImportUpload(t.Context(), user, 1<<20, "big.csv", 10, strings.NewReader(body))
	assert.Nil(t, upload)
	assert.Equal(t, want, message)
}

func TestReadImportUploadHashesContent(t *testing.T) {
	user := &User{ID: 1}
	first, message := readImportUpload(t.Context(), user, 1<<20, "a.csv", 5, strings.NewReader("siret"))
	require.Empty(t, message)
	first.release(t.Context())
	second, message := readImportUpload(t.Context(), user, 1<<20, "b.csv", 5, strings.NewReader("siret"))
	require.Empty(t, message)
	second.release(t.Context())

	assert.Equal(t, first.Hash, second.Hash)
	assert.Len(t, first.Hash, 32)
	assert.Equal(t, []byte("siret"), first.Data)
}
