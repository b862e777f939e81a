package etl

import (
	"fmt"

	"github.com/alwedo/jobmart/table"

	"github.com/google/uuid"
)

// FactColumns is the fixed layout of fact_job_data.
var FactColumns = []string{
	"unique_id", "date_uuid", "job_title_id", "company_name_id",
	"location_id", "job_url_id", "job_description_id", "date_extracted_id",
	"website_name_id", "salary_range", "min_salary", "max_salary",
	"full_time_flag", "contract_flag", "competitive_flag",
}

// BuildFact left-joins the land table against every dimension on its natural
// key and derives the salary measures. The join order is fixed: the time
// dimension joins last, on the raw date_extracted value which every earlier
// join propagates unchanged. No fact row is ever dropped; a land record whose
// natural key misses a dimension gets a nil foreign key. The fact row count
// always equals the land row count.
//
// unique_id is freshly generated on every build and is not stable across
// rebuilds.
func BuildFact(land, jobTitleDim, companyDim, locationDim, jobURLDim, descriptionDim, timeDim, websiteDim *table.Table) (*table.Table, error) {
	m, err := CoerceTime(land, "date_extracted")
	if err != nil {
		return nil, fmt.Errorf("etl: failed to coerce land timestamps in BuildFact: %w", err)
	}
	td, err := CoerceTime(timeDim, "date_extracted")
	if err != nil {
		return nil, fmt.Errorf("etl: failed to coerce time dimension in BuildFact: %w", err)
	}

	m = table.LeftJoin(m, jobTitleDim, "job_title")
	m = table.LeftJoin(m, companyDim, "company_name")
	m = table.LeftJoin(m, locationDim, "location")
	m = table.LeftJoin(m, jobURLDim, "job_url")
	m = table.LeftJoin(m, descriptionDim, "job_description")
	m = table.LeftJoin(m, websiteDim, "website_name")
	m = table.LeftJoin(m, td, "date_extracted")

	var (
		minSalary   = make([]any, 0, m.Len())
		maxSalary   = make([]any, 0, m.Len())
		fullTime    = make([]any, 0, m.Len())
		contract    = make([]any, 0, m.Len())
		competitive = make([]any, 0, m.Len())
		uniqueIDs   = make([]any, 0, m.Len())
	)
	for _, v := range m.Col("salary_range") {
		salary, _ := v.(string)
		if lo, ok := ExtractMinSalary(salary); ok {
			minSalary = append(minSalary, lo)
		} else {
			minSalary = append(minSalary, nil)
		}
		if hi, ok := ExtractMaxSalary(salary); ok {
			maxSalary = append(maxSalary, hi)
		} else {
			maxSalary = append(maxSalary, nil)
		}
		fullTime = append(fullTime, IsFullTime(salary))
		contract = append(contract, IsContract(salary))
		competitive = append(competitive, IsCompetitive(salary))
		uniqueIDs = append(uniqueIDs, uuid.NewString())
	}

	m = m.AddCol("min_salary", minSalary).
		AddCol("max_salary", maxSalary).
		AddCol("full_time_flag", fullTime).
		AddCol("contract_flag", contract).
		AddCol("competitive_flag", competitive).
		AddCol("unique_id", uniqueIDs)

	return m.Reorder(FactColumns), nil
}
