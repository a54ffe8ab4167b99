// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package analyzers

import (
	"context"
	"fmt"
	"sort"

	"github.com/AleutianAI/AleutianRCA/services/rca/dataset"
	"github.com/AleutianAI/AleutianRCA/services/rca/datatypes"
)

// Operational thresholds.
const (
	HighDiscountThreshold  = 0.25
	OTIFPressureThreshold  = 0.9
	LongLeadTimeDays       = 25.0
	LowFulfillmentRate     = 0.9
	worstOTIFRows          = 3
	lowFulfillmentRowLimit = 5
)

// =============================================================================
// Demand
// =============================================================================

// DemandAnalyzer summarizes orders and flags month-over-month order moves
// and heavy discounting.
type DemandAnalyzer struct{}

func (a *DemandAnalyzer) Domain() datatypes.Domain { return datatypes.DomainDemand }
func (a *DemandAnalyzer) Dataset() dataset.Name    { return dataset.Orders }

func (a *DemandAnalyzer) Analyze(ctx context.Context, table *dataset.Table, req Request) (*datatypes.AnalysisResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if table == nil {
		return nil, errNilTable
	}
	scoped := table.FilterByScope(req.Month, req.Filters)
	if scoped.Empty() {
		return datatypes.NoData("No demand data for scope."), nil
	}

	orders, _ := scoped.Sum("orders")
	cancels, _ := scoped.Sum("cancellations")
	discount, _ := scoped.Mean("avg_discount")
	asp, _ := scoped.Mean("asp")
	summary := fmt.Sprintf("Orders %s, cancels %s, avg discount %.2f, ASP %s.",
		thousands(orders), thousands(cancels), discount, thousands(asp))

	signals := []datatypes.Signal{}
	if prior := datatypes.PriorMonth(req.Month); prior != "" {
		priorScoped := table.FilterByScope(prior, req.Filters)
		if !priorScoped.Empty() {
			prevOrders, _ := priorScoped.Sum("orders")
			signals = append(signals, datatypes.Signal{
				Type:   "orders_change",
				Values: map[string]float64{"current": orders, "prior": prevOrders, "delta": orders - prevOrders},
				Labels: map[string]string{"month_compare": prior + " -> " + req.Month},
			})
		}
	}
	if discount >= HighDiscountThreshold {
		signals = append(signals, datatypes.Signal{
			Type:   "high_discounting",
			Values: map[string]float64{"avg_discount": discount},
		})
	}
	return &datatypes.AnalysisResult{Summary: summary, Signals: signals}, nil
}

// =============================================================================
// Supply
// =============================================================================

// SupplyAnalyzer reports OTIF and lead time pressure.
type SupplyAnalyzer struct{}

func (a *SupplyAnalyzer) Domain() datatypes.Domain { return datatypes.DomainSupply }
func (a *SupplyAnalyzer) Dataset() dataset.Name    { return dataset.Supply }

func (a *SupplyAnalyzer) Analyze(ctx context.Context, table *dataset.Table, req Request) (*datatypes.AnalysisResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if table == nil {
		return nil, errNilTable
	}
	scoped := table.FilterByScope(req.Month, req.Filters)
	if scoped.Empty() {
		return datatypes.NoData("No supply data for scope."), nil
	}

	otif, hasOTIF := scoped.Mean("otif")
	lead, hasLead := scoped.Mean("lead_time_days")
	summary := fmt.Sprintf("Avg OTIF %.2f, lead time %.1f days.", otif, lead)

	signals := []datatypes.Signal{}
	for _, row := range lowestRows(scoped, "otif", worstOTIFRows, nil) {
		v, _ := scoped.Float(row, "otif")
		signals = append(signals, datatypes.Signal{
			Type:   "low_otif",
			Values: map[string]float64{"otif": v},
			Labels: labelsOf(scoped, row, "region", "bu", "product_line"),
		})
	}
	if hasOTIF && otif < OTIFPressureThreshold {
		signals = append(signals, datatypes.Signal{Type: "otif_pressure", Values: map[string]float64{"avg_otif": otif}})
	}
	if hasLead && lead > LongLeadTimeDays {
		signals = append(signals, datatypes.Signal{Type: "long_lead_times", Values: map[string]float64{"avg_lead_time_days": lead}})
	}
	return &datatypes.AnalysisResult{Summary: summary, Signals: signals}, nil
}

// =============================================================================
// Shipments
// =============================================================================

// ShipmentsAnalyzer reports fulfillment and flags lagging slices.
type ShipmentsAnalyzer struct{}

func (a *ShipmentsAnalyzer) Domain() datatypes.Domain { return datatypes.DomainShipments }
func (a *ShipmentsAnalyzer) Dataset() dataset.Name    { return dataset.Shipments }

func (a *ShipmentsAnalyzer) Analyze(ctx context.Context, table *dataset.Table, req Request) (*datatypes.AnalysisResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if table == nil {
		return nil, errNilTable
	}
	scoped := table.FilterByScope(req.Month, req.Filters)
	if scoped.Empty() {
		return datatypes.NoData("No shipments data for scope."), nil
	}

	fulfillment, _ := scoped.Mean("fulfillment_rate")
	shipped, _ := scoped.Sum("shipped_units")
	summary := fmt.Sprintf("Fulfillment %.2f, shipped units %s.", fulfillment, thousands(shipped))

	signals := []datatypes.Signal{}
	below := func(v float64) bool { return v < LowFulfillmentRate }
	for _, row := range lowestRows(scoped, "fulfillment_rate", lowFulfillmentRowLimit, below) {
		v, _ := scoped.Float(row, "fulfillment_rate")
		signals = append(signals, datatypes.Signal{
			Type:   "low_fulfillment",
			Values: map[string]float64{"fulfillment_rate": v},
			Labels: labelsOf(scoped, row, "region", "bu", "product_line"),
		})
	}
	return &datatypes.AnalysisResult{Summary: summary, Signals: signals}, nil
}

// lowestRows returns up to limit row indexes with the smallest non-null
// values of col, ascending and stable on ties. keep, when set, filters the
// candidates first.
func lowestRows(t *dataset.Table, col string, limit int, keep func(float64) bool) []int {
	var rows []int
	for i := 0; i < t.Len(); i++ {
		v, ok := t.Float(i, col)
		if !ok || (keep != nil && !keep(v)) {
			continue
		}
		rows = append(rows, i)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		a, _ := t.Float(rows[i], col)
		b, _ := t.Float(rows[j], col)
		return a < b
	})
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows
}
