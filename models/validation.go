package models

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-sql-driver/mysql"
	"github.com/mmdatafocus/macantine_backend/utils"
)

const mysqlDuplicateEntry = 1062

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// validationError turns validator errors into a single ValidationError naming the first field.
func validationError(err error) error {
	fields := utils.ProcessValidationErrors(err)
	if len(fields) == 0 {
		return err
	}
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	first := names[0]
	return utils.NewValidationError(first, fmt.Sprintf("Champ '%s' : valeur invalide (%s).", first, fields[first]))
}

func isDuplicateKeyError(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry
}
