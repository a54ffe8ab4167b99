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
	"strings"

	"github.com/AleutianAI/AleutianRCA/services/rca/dataset"
	"github.com/AleutianAI/AleutianRCA/services/rca/datatypes"
)

// =============================================================================
// FX
// =============================================================================

// FXAnalyzer compares each currency pair's average rate to the prior month.
type FXAnalyzer struct{}

func (a *FXAnalyzer) Domain() datatypes.Domain { return datatypes.DomainFX }
func (a *FXAnalyzer) Dataset() dataset.Name    { return dataset.FX }

func (a *FXAnalyzer) Analyze(ctx context.Context, table *dataset.Table, req Request) (*datatypes.AnalysisResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if table == nil {
		return nil, errNilTable
	}
	scoped := table.FilterByScope(req.Month, req.Filters)
	if scoped.Empty() {
		return datatypes.NoData("No FX data for scope."), nil
	}

	// first prior-month rate per (pair, region)
	priorRates := make(map[[2]string]float64)
	if prior := datatypes.PriorMonth(req.Month); prior != "" {
		priorScoped := table.FilterByScope(prior, req.Filters)
		for row := 0; row < priorScoped.Len(); row++ {
			key := [2]string{priorScoped.String(row, "pair"), priorScoped.String(row, "region")}
			if _, seen := priorRates[key]; seen {
				continue
			}
			if rate, ok := priorScoped.Float(row, "avg_rate"); ok {
				priorRates[key] = rate
			}
		}
	}

	signals := []datatypes.Signal{}
	parts := make([]string, 0, scoped.Len())
	for row := 0; row < scoped.Len(); row++ {
		pair := scoped.String(row, "pair")
		region := scoped.String(row, "region")
		rate, ok := scoped.Float(row, "avg_rate")
		if !ok {
			continue
		}
		priorRate, hasPrior := priorRates[[2]string{pair, region}]
		if !hasPrior {
			parts = append(parts, fmt.Sprintf("%s %s current %.3f", region, pair, rate))
			continue
		}
		delta := rate - priorRate
		signals = append(signals, datatypes.Signal{
			Type:   "fx_change",
			Values: map[string]float64{"delta": delta, "prior": priorRate, "current": rate},
			Labels: map[string]string{"pair": pair, "region": region},
		})
		parts = append(parts, fmt.Sprintf("%s %s change %+.3f", region, pair, delta))
	}
	return &datatypes.AnalysisResult{Summary: strings.Join(parts, "; "), Signals: signals}, nil
}

// =============================================================================
// Events
// =============================================================================

// EventsAnalyzer lists logged business events in scope.
type EventsAnalyzer struct{}

func (a *EventsAnalyzer) Domain() datatypes.Domain { return datatypes.DomainEvents }
func (a *EventsAnalyzer) Dataset() dataset.Name    { return dataset.Events }

func (a *EventsAnalyzer) Analyze(ctx context.Context, table *dataset.Table, req Request) (*datatypes.AnalysisResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if table == nil {
		return nil, errNilTable
	}
	scoped := table.FilterByScope(req.Month, req.Filters)
	if scoped.Empty() {
		return datatypes.NoData("No events logged for scope."), nil
	}

	events := make([]datatypes.Event, 0, scoped.Len())
	for row := 0; row < scoped.Len(); row++ {
		events = append(events, datatypes.Event{
			Date:        scoped.String(row, "date"),
			Type:        scoped.String(row, "type"),
			Summary:     scoped.String(row, "summary"),
			Region:      scoped.String(row, "region"),
			BU:          scoped.String(row, "bu"),
			ProductLine: scoped.String(row, "product_line"),
		})
	}
	return &datatypes.AnalysisResult{
		Summary: fmt.Sprintf("%d events in month.", len(events)),
		Signals: []datatypes.Signal{},
		Events:  events,
	}, nil
}

var (
	_ Analyzer = (*FinanceAnalyzer)(nil)
	_ Analyzer = (*DemandAnalyzer)(nil)
	_ Analyzer = (*SupplyAnalyzer)(nil)
	_ Analyzer = (*ShipmentsAnalyzer)(nil)
	_ Analyzer = (*FXAnalyzer)(nil)
	_ Analyzer = (*EventsAnalyzer)(nil)
)
