// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package scope

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianRCA/services/rca/dataset"
	"github.com/AleutianAI/AleutianRCA/services/rca/datatypes"
)

func fixture(t *testing.T) *dataset.Table {
	t.Helper()
	table, err := dataset.ReadCSVFile("finance_fact", filepath.Join("..", "testdata", "finance_fact.csv"))
	require.NoError(t, err)
	return table
}

func labels(scopes []datatypes.Scope) []string {
	out := make([]string, len(scopes))
	for i, s := range scopes {
		out[i] = s.Label
	}
	return out
}

func TestDiscover_Unscoped(t *testing.T) {
	scopes := Discover(fixture(t), "2024-01", datatypes.Filters{})

	assert.Equal(t, []string{
		"overall",
		"region:EMEA", "region:NA", "region:APAC",
		"bu:Consumer", "bu:Pro",
		"product_line:Phones", "product_line:Laptops", "product_line:Tablets",
		"segment:Retail", "segment:Enterprise",
		"metric:revenue", "metric:margin",
	}, labels(scopes))

	assert.True(t, scopes[0].Filters.IsEmpty())
	assert.Equal(t, datatypes.Filters{Region: "NA"}, scopes[2].Filters)
	assert.Equal(t, datatypes.Filters{Metric: "margin"}, scopes[12].Filters)
}

func TestDiscover_BaseFiltersFixDimensions(t *testing.T) {
	base := datatypes.Filters{Region: "EMEA"}
	scopes := Discover(fixture(t), "2024-01", base)

	assert.Equal(t, []string{
		"overall",
		"bu:Consumer", "bu:Pro",
		"product_line:Phones", "product_line:Laptops",
		"segment:Retail", "segment:Enterprise",
		"metric:revenue",
	}, labels(scopes))
	assert.Equal(t, base, scopes[0].Filters)
	assert.Equal(t, datatypes.Filters{Region: "EMEA", BU: "Pro"}, scopes[2].Filters)
}

func TestDiscover_NoDuplicateLabels(t *testing.T) {
	cols := []string{"month", "region", "metric"}
	rows := [][]string{
		{"2024-01", "EMEA", "revenue"},
		{"2024-01", "EMEA", "revenue"},
		{"2024-01", " ", "margin"},
		{"2024-01", "NA", ""},
	}
	scopes := Discover(dataset.NewTable("f", cols, rows), "2024-01", datatypes.Filters{})

	assert.Equal(t, []string{"overall", "region:EMEA", "region:NA", "metric:revenue", "metric:margin"}, labels(scopes))
	seen := map[string]bool{}
	for _, s := range scopes {
		assert.False(t, seen[s.Label], s.Label)
		seen[s.Label] = true
	}
}

func TestDiscover_EmptyMonth(t *testing.T) {
	scopes := Discover(fixture(t), "1999-01", datatypes.Filters{})
	assert.Equal(t, []string{"overall"}, labels(scopes))
	assert.Equal(t, []string{"overall"}, labels(Discover(nil, "2024-01", datatypes.Filters{})))
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "product_line:Phones", Label(datatypes.DimProductLine, "Phones"))
}
