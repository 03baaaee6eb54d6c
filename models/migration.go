package models

import (
	"log"

	"github.com/mmdatafocus/macantine_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&User{}, &Sector{},
		&Canteen{}, &Diagnostic{},
		&Teledeclaration{}, &Purchase{},
		&History{}, &OutboxMessage{},
		&ImportError{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
