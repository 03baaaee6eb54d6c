package utils

import (
	"errors"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDecimal(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"100", "100"},
		{"1234.5", "1234.5"},
		{"1234,5", "1234.5"},
		{" 12 000,25 ", "12000.25"},
		{"12 000,25", "12000.25"},
	}
	for _, tc := range cases {
		got, err := ParseDecimal(tc.in)
		require.NoError(t, err, tc.in)
		assert.True(t, got.Equal(decimal.RequireFromString(tc.want)), "%q -> %s", tc.in, got)
	}
}

func TestParseDecimalErrors(t *testing.T) {
	_, err := ParseDecimal("   ")
	assert.ErrorIs(t, err, ErrEmptyDecimal)

	_, err = ParseDecimal("douze")
	assert.Error(t, err)

	_, err = ParseDecimal("1,2,3")
	assert.Error(t, err)
}

func TestFoldAccentsAndSlugify(t *testing.T) {
	assert.Equal(t, "scolaire", FoldAccents(" Scolaire "))
	assert.Equal(t, "etablissements de sante", FoldAccents("Établissements de santé"))
	assert.Equal(t, "cantine-de-l-ecole-a", Slugify("Cantine de l'École A"))
	assert.Equal(t, "", Slugify("  "))
}

func TestNormaliseSiret(t *testing.T) {
	assert.Equal(t, "82399356058716", NormaliseSiret(" 823 993 560 58716 "))
}

func TestUniqueSlice(t *testing.T) {
	assert.Equal(t, []int{3, 1, 2}, UniqueSlice([]int{3, 1, 3, 2, 1}))
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"authorization", &AuthorizationError{}, http.StatusForbidden},
		{"validation", NewValidationError("year", "bad"), http.StatusBadRequest},
		{"conflict", NewConflictError("dup"), http.StatusBadRequest},
		{"state", NewStateError("cancelled"), http.StatusBadRequest},
		{"missing parameter", &MissingParameterError{Name: "year"}, http.StatusBadRequest},
		{"not found default", &NotFoundError{Resource: "canteen"}, http.StatusNotFound},
		{"not found hidden", &NotFoundError{Resource: "diagnostic", Status: http.StatusForbidden}, http.StatusForbidden},
		{"wrapped", errors.Join(errors.New("ctx"), NewStateError("x")), http.StatusBadRequest},
		{"record not found", ErrorRecordNotFound, http.StatusNotFound},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, HTTPStatus(tc.err))
		})
	}
	assert.False(t, IsUserFacing(errors.New("boom")))
	assert.True(t, IsUserFacing(&AuthorizationError{}))
}
