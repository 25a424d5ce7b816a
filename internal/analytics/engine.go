// Package analytics derives operational reports from inventory and billing
// data. The engine is pure: callers fetch the rows, it does the math.
package analytics

import (
	"sort"
	"time"

	"roopkala/backend/internal/domain"
)

type Engine struct {
	agingMinDays      int
	reversalThreshold int
}

func NewEngine(agingMinDays int, reversalThreshold int) *Engine {
	if agingMinDays < 1 {
		agingMinDays = 90
	}
	if reversalThreshold < 1 {
		reversalThreshold = 3
	}
	return &Engine{
		agingMinDays:      agingMinDays,
		reversalThreshold: reversalThreshold,
	}
}

// StockAging lists active items that have sat in stock at least the
// configured number of days, oldest first. categoryNames maps category id to
// display name.
func (e *Engine) StockAging(items []domain.InventoryItem, categoryNames map[string]string, asOf time.Time) []domain.StockAgingRow {
	rows := make([]domain.StockAgingRow, 0, 16)
	for _, item := range items {
		if item.Status != domain.ItemStatusAvailable && item.Status != domain.ItemStatusReserved {
			continue
		}
		days := int(asOf.Sub(item.CreatedAt).Hours() / 24)
		if days < e.agingMinDays {
			continue
		}
		rows = append(rows, domain.StockAgingRow{
			ItemID:         item.ID,
			CategoryName:   categoryNames[item.CategoryID],
			CategoryItemNo: item.CategoryItemNo,
			ProductName:    item.ProductName,
			NetWeight:      item.NetWeight,
			DaysInStock:    days,
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].DaysInStock == rows[j].DaysInStock {
			return rows[i].ItemID < rows[j].ItemID
		}
		return rows[i].DaysInStock > rows[j].DaysInStock
	})
	return rows
}

// ReversalAlerts flags calendar days (UTC) on which reversals reached the
// configured threshold. A spike of reversals usually means a data-entry
// problem at the counter.
func (e *Engine) ReversalAlerts(bills []domain.Bill) []domain.ReversalAlert {
	perDay := make(map[string]int)
	for _, bill := range bills {
		if bill.Status != domain.BillStatusReversed || bill.ReversedAt == nil {
			continue
		}
		perDay[bill.ReversedAt.UTC().Format("2006-01-02")]++
	}

	alerts := make([]domain.ReversalAlert, 0, 4)
	for day, count := range perDay {
		if count < e.reversalThreshold {
			continue
		}
		alerts = append(alerts, domain.ReversalAlert{
			Date:      day,
			Reversals: count,
			Threshold: e.reversalThreshold,
		})
	}
	sort.Slice(alerts, func(i, j int) bool {
		return alerts[i].Date < alerts[j].Date
	})
	return alerts
}
