package etl

import (
	"testing"

	"github.com/alwedo/jobmart/table"
)

func TestUpsert(t *testing.T) {
	t.Run("returns only genuinely new rows above the max id", func(t *testing.T) {
		persisted := &table.Table{
			Cols: []string{"company_name_id", "company_name"},
			Rows: [][]any{{int64(1), "Acme"}},
		}
		incoming := &table.Table{
			Cols: []string{"company_name_id", "company_name"},
			Rows: [][]any{{int64(1), "Acme"}, {int64(2), "Globex"}},
		}

		got, err := Upsert(persisted, incoming, "company_name_id", "company_name")
		if err != nil {
			t.Fatalf("Upsert returned an error: %v", err)
		}
		if got.Len() != 1 {
			t.Fatalf("expected exactly 1 row to append, got %d", got.Len())
		}
		id, _ := table.AsInt64(got.Rows[0][got.ColIndex("company_name_id")])
		if id != 2 {
			t.Errorf("expected new row to take id 2, got %d", id)
		}
		if got.Rows[0][got.ColIndex("company_name")] != "Globex" {
			t.Errorf("expected Globex, got %v", got.Rows[0])
		}
	})

	t.Run("ids stay dense when a duplicate precedes the new rows", func(t *testing.T) {
		persisted := &table.Table{
			Cols: []string{"company_name_id", "company_name"},
			Rows: [][]any{{int64(1), "Acme"}},
		}
		incoming := &table.Table{
			Cols: []string{"company_name_id", "company_name"},
			Rows: [][]any{{int64(1), "Acme"}, {int64(2), "Globex"}, {int64(3), "Hooli"}},
		}

		got, err := Upsert(persisted, incoming, "company_name_id", "company_name")
		if err != nil {
			t.Fatalf("Upsert returned an error: %v", err)
		}
		if got.Len() != 2 {
			t.Fatalf("expected 2 rows to append, got %d", got.Len())
		}
		ids := got.Col("company_name_id")
		if ids[0] != int64(2) || ids[1] != int64(3) {
			t.Errorf("expected dense ids [2 3] after dropping the duplicate, got %v", ids)
		}
	})

	t.Run("pass-through when nothing is duplicated", func(t *testing.T) {
		persisted := &table.Table{
			Cols: []string{"location_id", "location"},
			Rows: [][]any{{int64(1), "London"}, {int64(2), "Leeds"}},
		}
		incoming := &table.Table{
			Cols: []string{"location_id", "location"},
			Rows: [][]any{{int64(1), "Bristol"}, {int64(2), "York"}},
		}

		got, err := Upsert(persisted, incoming, "location_id", "location")
		if err != nil {
			t.Fatalf("Upsert returned an error: %v", err)
		}
		if got.Len() != 2 {
			t.Fatalf("expected both incoming rows, got %d", got.Len())
		}
		ids := got.Col("location_id")
		if ids[0] != int64(3) || ids[1] != int64(4) {
			t.Errorf("expected renumbered ids [3 4], got %v", ids)
		}
	})

	t.Run("never reuses a persisted id or natural key", func(t *testing.T) {
		persisted := &table.Table{
			Cols: []string{"job_title_id", "job_title"},
			Rows: [][]any{{int64(3), "Data Engineer"}, {int64(7), "Platform Engineer"}},
		}
		incoming := &table.Table{
			Cols: []string{"job_title_id", "job_title"},
			Rows: [][]any{
				{int64(1), "Platform Engineer"},
				{int64(2), "SRE"},
				{int64(3), "Data Engineer"},
				{int64(4), "Analyst"},
			},
		}

		got, err := Upsert(persisted, incoming, "job_title_id", "job_title")
		if err != nil {
			t.Fatalf("Upsert returned an error: %v", err)
		}

		persistedIDs := map[int64]bool{3: true, 7: true}
		persistedKeys := map[any]bool{"Data Engineer": true, "Platform Engineer": true}
		for _, r := range got.Rows {
			id, _ := table.AsInt64(r[got.ColIndex("job_title_id")])
			if persistedIDs[id] {
				t.Errorf("returned row reuses persisted id %d", id)
			}
			if id <= 7 {
				t.Errorf("expected ids above the persisted max, got %d", id)
			}
			if persistedKeys[r[got.ColIndex("job_title")]] {
				t.Errorf("returned row duplicates persisted key %v", r[got.ColIndex("job_title")])
			}
		}
		if got.Len() != 2 {
			t.Errorf("expected SRE and Analyst only, got %d rows", got.Len())
		}
	})

	t.Run("upserts a time-valued natural key", func(t *testing.T) {
		land := LandTable(sampleRecords())
		dateDim := BuildDimension(land, "date_extracted", []string{"date_extracted_id", "date_extracted"})
		persisted, err := BuildTimeDimension(dateDim, "date_extracted", TimeDimensionColumns)
		if err != nil {
			t.Fatalf("failed to build persisted time dimension: %v", err)
		}
		incoming, err := BuildTimeDimension(dateDim, "date_extracted", TimeDimensionColumns)
		if err != nil {
			t.Fatalf("failed to build incoming time dimension: %v", err)
		}

		got, err := Upsert(persisted, incoming, "date_extracted_id", "date_extracted")
		if err != nil {
			t.Fatalf("Upsert returned an error: %v", err)
		}
		if got.Len() != 0 {
			t.Errorf("expected no new rows for identical timestamps, got %d", got.Len())
		}
	})
}
