package etl

import (
	"regexp"
	"strconv"
	"strings"
)

// Salary text on UK job boards follows a small set of shapes. The patterns
// are anchored so a partial match never yields a number. Amounts may carry
// thousands separators and decimals. Anything unmatched parses to nothing.
var minSalaryPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^£([0-9,.]+) - £[0-9,.]+ a year$`),
	regexp.MustCompile(`^From £([0-9,.]+) a year$`),
	regexp.MustCompile(`^£([0-9,.]+) a year$`),
	regexp.MustCompile(`^£([0-9,.]+) - £[0-9,.]+ an hour$`),
	regexp.MustCompile(`^£([0-9,]+) - £[0-9,]+ a day$`),
}

var maxSalaryPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^£[0-9,.]+ - £([0-9,.]+) a year$`),
	regexp.MustCompile(`^Up to £([0-9,]+) a year$`),
	regexp.MustCompile(`^£([0-9,.]+) an hour$`),
	regexp.MustCompile(`^£([0-9,.]+) a day$`),
	regexp.MustCompile(`^£[0-9,.]+ - £([0-9,.]+) an hour$`),
	regexp.MustCompile(`^£[0-9,]+ - £([0-9,]+) a day$`),
}

// ExtractMinSalary parses the lower bound out of a salary range. Single
// amounts ("£75,000 a year") count as a lower bound, "Up to" amounts do not.
func ExtractMinSalary(salary string) (float64, bool) {
	return matchAmount(minSalaryPatterns, salary)
}

// ExtractMaxSalary parses the upper bound out of a salary range. "Up to" and
// single hourly/daily amounts count as an upper bound only.
func ExtractMaxSalary(salary string) (float64, bool) {
	return matchAmount(maxSalaryPatterns, salary)
}

func matchAmount(patterns []*regexp.Regexp, salary string) (float64, bool) {
	if salary == "" {
		return 0, false
	}
	for _, re := range patterns {
		m := re.FindStringSubmatch(salary)
		if m == nil {
			continue
		}
		f, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
		if err != nil {
			continue
		}
		return f, true
	}
	return 0, false
}

// IsFullTime reports whether the salary text hints at a permanent position.
// The empty string is the missing-value marker and is never full time.
func IsFullTime(salary string) bool {
	if salary == "" {
		return false
	}
	for _, kw := range []string{"£", "permanent", "full-time", "Permanent", "Full-time"} {
		if strings.Contains(salary, kw) {
			return true
		}
	}
	return false
}

// IsContract reports whether the salary text hints at contract work. Not
// mutually exclusive with IsFullTime: "£31 an hour" matches both.
func IsContract(salary string) bool {
	if salary == "" {
		return false
	}
	for _, kw := range []string{"contract", "hour", "day", "Temporary"} {
		if strings.Contains(salary, kw) {
			return true
		}
	}
	return false
}

// IsCompetitive reports whether the listing withheld a salary.
func IsCompetitive(salary string) bool {
	return salary == "" || salary == "N/A"
}
