// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package scope enumerates the slices a full sweep runs over.
package scope

import (
	"github.com/AleutianAI/AleutianRCA/services/rca/dataset"
	"github.com/AleutianAI/AleutianRCA/services/rca/datatypes"
)

// Label returns the scope label for one dimension value, e.g. "region:EMEA".
func Label(dim datatypes.Dimension, value string) string {
	return string(dim) + ":" + value
}

// Discover returns the scopes of a sweep over table for month.
//
// # Description
//
// The first scope is always "overall" with base unchanged. Then, for each
// dimension in priority order that the table carries and base does not
// already fix, one scope per distinct non-blank value is appended with that
// value merged into base. Values appear in the table's row order; nothing is
// sorted. A label already emitted is skipped.
//
// # Inputs
//
//   - table: the unscoped finance table.
//   - month: "YYYY-MM".
//   - base: the job's fixed filters.
//
// # Outputs
//
//   - []datatypes.Scope: never empty.
func Discover(table *dataset.Table, month string, base datatypes.Filters) []datatypes.Scope {
	scopes := []datatypes.Scope{{Label: datatypes.ScopeLabelOverall, Filters: base}}
	seen := map[string]struct{}{datatypes.ScopeLabelOverall: {}}
	if table == nil {
		return scopes
	}

	scoped := table.FilterByScope(month, base)
	for _, dim := range datatypes.Dimensions {
		if base.Get(dim) != "" || !scoped.HasColumn(string(dim)) {
			continue
		}
		for _, value := range scoped.Distinct(string(dim)) {
			label := Label(dim, value)
			if _, dup := seen[label]; dup {
				continue
			}
			seen[label] = struct{}{}
			scopes = append(scopes, datatypes.Scope{Label: label, Filters: base.With(dim, value)})
		}
	}
	return scopes
}
