// Package penalty computes arrears penalties for a loan's derived schedule.
package penalty

import (
	"fmt"
	"sort"
	"time"

	"github.com/mcclellann/fredMicro/pkg/calendar"
	"github.com/mcclellann/fredMicro/pkg/models"
)

const (
	// DefaultUnit is the flat amount charged per qualifying arrears event.
	DefaultUnit int64 = 5000

	// MinRunLength is the number of consecutive overdue days that triggers a daily penalty.
	MinRunLength = 3

	// MonthlyIncidentThreshold is the number of arrears runs started in a month
	// that triggers the extra monthly penalty.
	MonthlyIncidentThreshold = 3
)

// Rules parameterizes the calculator.
type Rules struct {
	Unit int64
}

// DefaultRules returns the production penalty rules.
func DefaultRules() Rules {
	return Rules{Unit: DefaultUnit}
}

// Result is the outcome of a penalty calculation.
type Result struct {
	Total              int64
	Records            []models.PenaltyRecord
	PerInstallment     map[int]int64
	IncidentsThisMonth int
}

func (r *Result) add(rec models.PenaltyRecord, chargedTo int) {
	r.Records = append(r.Records, rec)
	r.Total += rec.Amount
	r.PerInstallment[chargedTo] += rec.Amount
}

// Calculate evaluates the penalty rules for the overdue installments in
// installments as of now. Installments must already carry their derived
// status and days overdue.
func Calculate(freq models.Frequency, installments []models.Installment, now time.Time, rules Rules) Result {
	res := Result{PerInstallment: make(map[int]int64)}

	var overdue []models.Installment
	for _, inst := range installments {
		if inst.Status == models.InstallmentOverdue {
			overdue = append(overdue, inst)
		}
	}
	if len(overdue) == 0 {
		return res
	}
	sort.Slice(overdue, func(i, j int) bool { return overdue[i].DueDate.Before(overdue[j].DueDate) })

	switch freq {
	case models.FrequencyWeekly:
		weekly(&res, overdue, rules)
	case models.FrequencyDaily:
		daily(&res, overdue, now, rules)
	}
	return res
}

func weekly(res *Result, overdue []models.Installment, rules Rules) {
	for _, inst := range overdue {
		if inst.DaysOverdue < 1 {
			continue
		}
		res.add(models.PenaltyRecord{
			Type:         models.PenaltyWeeklyArrears,
			Installments: []int{inst.Number},
			Amount:       rules.Unit,
			Description:  fmt.Sprintf("installment %d overdue by %d days", inst.Number, inst.DaysOverdue),
		}, inst.Number)
	}
}

// Runs groups installments sorted by due date into maximal sequences of
// consecutive calendar days.
func Runs(sorted []models.Installment) [][]models.Installment {
	var runs [][]models.Installment
	var current []models.Installment
	for _, inst := range sorted {
		if len(current) > 0 && calendar.DaysBetween(current[len(current)-1].DueDate, inst.DueDate) > 1 {
			runs = append(runs, current)
			current = nil
		}
		current = append(current, inst)
	}
	if len(current) > 0 {
		runs = append(runs, current)
	}
	return runs
}

func daily(res *Result, overdue []models.Installment, now time.Time, rules Rules) {
	var incidentHeads []int
	for _, run := range Runs(overdue) {
		first := run[0]
		numbers := make([]int, len(run))
		for i, inst := range run {
			numbers[i] = inst.Number
		}

		if len(run) >= MinRunLength {
			res.add(models.PenaltyRecord{
				Type:         models.PenaltyDailyRun,
				Installments: numbers,
				Amount:       rules.Unit,
				Description:  fmt.Sprintf("%d consecutive overdue days starting %s", len(run), first.DueDate.Format(calendar.DateLayout)),
			}, first.Number)
		}

		if sameMonth(first.DueDate, now) {
			incidentHeads = append(incidentHeads, first.Number)
		}
	}

	res.IncidentsThisMonth = len(incidentHeads)
	if res.IncidentsThisMonth >= MonthlyIncidentThreshold {
		res.add(models.PenaltyRecord{
			Type:         models.PenaltyMonthlyIncidents,
			Installments: incidentHeads,
			Amount:       rules.Unit,
			Description:  fmt.Sprintf("%d arrears incidents in %s", res.IncidentsThisMonth, now.Format("2006-01")),
		}, incidentHeads[len(incidentHeads)-1])
	}
}

func sameMonth(date, now time.Time) bool {
	return date.Year() == now.Year() && date.Month() == now.Month()
}
