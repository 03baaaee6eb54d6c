// seed-sectors creates or refreshes the sector reference list.
//
// Usage (from backend directory):
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME_2=... go run ./cmd/seed-sectors
//	go run ./cmd/seed-sectors --file ./sectors.yaml --dry-run
package main

import (
	"context"
	_ "embed"
	"fmt"
	"os"

	"github.com/mmdatafocus/macantine_backend/config"
	"github.com/mmdatafocus/macantine_backend/models"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

//go:embed sectors.yaml
var defaultSectors []byte

type sectorFile struct {
	Sectors []models.NewSector `yaml:"sectors"`
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		file   string
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "seed-sectors",
		Short: "Create or refresh canteen sectors",
		Long:  "Upserts the sector list by name. Without --file the built-in list is used.",
		RunE: func(cmd *cobra.Command, args []string) error {
			sectors, err := loadSectors(file)
			if err != nil {
				return err
			}
			if dryRun {
				for _, s := range sectors {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", s.Name, s.Category)
				}
				return nil
			}
			config.ConnectDatabaseWithRetry()
			n, err := models.UpsertSectors(context.Background(), sectors)
			if err != nil {
				return fmt.Errorf("upsert sectors: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d sectors read, %d rows affected\n", len(sectors), n)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "YAML file with a top-level sectors list")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the sectors without touching the database")
	return cmd
}

func loadSectors(path string) ([]models.NewSector, error) {
	data := defaultSectors
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		data = b
	}
	var f sectorFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse sectors: %w", err)
	}
	if len(f.Sectors) == 0 {
		return nil, fmt.Errorf("no sectors found")
	}
	return f.Sectors, nil
}
