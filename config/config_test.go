package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	t.Setenv("POSTGRES_PASSWORD", "hunter2")

	cfg, err := Load("config.yaml")
	if err != nil {
		t.Fatalf("unable to load config: %v", err)
	}

	if cfg.Warehouse.Database != "jobmart" {
		t.Errorf("wanted database jobmart, got %s", cfg.Warehouse.Database)
	}
	if got := cfg.Warehouse.ConnString(); got != "host=localhost port=5432 user=jobmart password=hunter2 dbname=jobmart sslmode=disable" {
		t.Errorf("unexpected conn string: %s", got)
	}
	if got := cfg.Warehouse.AdminConnString(); got != "host=localhost port=5432 user=jobmart password=hunter2 dbname=postgres sslmode=disable" {
		t.Errorf("unexpected admin conn string: %s", got)
	}
	if cfg.Staging.Bucket != "job-scraper-data-bucket" || cfg.Staging.Region != "eu-west-2" {
		t.Errorf("unexpected staging config: %+v", cfg.Staging)
	}
	if cfg.ScheduleEvery.Std() != 24*time.Hour {
		t.Errorf("wanted a 24h schedule, got %v", cfg.ScheduleEvery.Std())
	}
	if cfg.ListenAddr != ":8080" {
		t.Errorf("wanted listen addr :8080, got %s", cfg.ListenAddr)
	}

	if len(cfg.Sites) != 4 {
		t.Fatalf("wanted 4 sites, got %d", len(cfg.Sites))
	}
	drivers := map[string]string{}
	for _, s := range cfg.Sites {
		drivers[s.Name] = s.Driver
		if len(s.Terms) == 0 {
			t.Errorf("site %s has no search terms", s.Name)
		}
	}
	if drivers["reed"] != "http" || drivers["cv-library"] != "browser" {
		t.Errorf("unexpected site drivers: %v", drivers)
	}

	urls := cfg.WebsiteURLs()
	if urls["reed"] != "https://www.reed.co.uk/" {
		t.Errorf("unexpected website url map: %v", urls)
	}
}

func TestLoadDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	minimal := []byte("sites:\n  - name: reed\n    url: https://www.reed.co.uk/\n    driver: http\n    terms: [golang]\n")
	if err := os.WriteFile(path, minimal, 0600); err != nil {
		t.Fatalf("unable to write config fixture: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unable to load config: %v", err)
	}
	if cfg.ScheduleEvery.Std() != 24*time.Hour {
		t.Errorf("wanted the 24h default schedule, got %v", cfg.ScheduleEvery.Std())
	}
	if cfg.ListenAddr != ":8080" {
		t.Errorf("wanted the default listen addr, got %s", cfg.ListenAddr)
	}
	if cfg.Warehouse.SSLMode != "disable" {
		t.Errorf("wanted sslmode to default to disable, got %s", cfg.Warehouse.SSLMode)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load("nope.yaml"); err == nil {
		t.Error("expected an error for a missing file")
	}

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("listen_addr: \":9090\"\n"), 0600); err != nil {
		t.Fatalf("unable to write config fixture: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected an error when no sites are configured")
	}
}

func TestLoadSchema(t *testing.T) {
	schema, err := LoadSchema("schema.yaml")
	if err != nil {
		t.Fatalf("unable to load schema: %v", err)
	}

	if len(schema) != 9 {
		t.Errorf("wanted 9 tables, got %d", len(schema))
	}
	if got := schema["dim_location"]["latitude"]; got != "FLOAT" {
		t.Errorf("wanted dim_location.latitude FLOAT, got %s", got)
	}
	if got := schema["fact_job_data"]["unique_id"]; got != "VARCHAR(36)" {
		t.Errorf("wanted fact_job_data.unique_id VARCHAR(36), got %s", got)
	}
	if _, ok := schema["land_job_data"]; !ok {
		t.Error("expected the land table in the schema")
	}
}
