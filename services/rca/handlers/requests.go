// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/AleutianRCA/services/rca/datatypes"
)

// RCARequest is the body of POST /v1/rca.
type RCARequest struct {
	Month       string `json:"month" binding:"required,yyyymm"`
	Region      string `json:"region" binding:"max=128"`
	BU          string `json:"bu" binding:"max=128"`
	ProductLine string `json:"product_line" binding:"max=128"`
	Segment     string `json:"segment" binding:"max=128"`
	Metric      string `json:"metric" binding:"max=128"`
	Comparison  string `json:"comparison" binding:"omitempty,oneof=plan prior all"`
	FullSweep   bool   `json:"full_sweep"`
}

// Job converts the request into an RCAJob.
func (r RCARequest) Job() datatypes.RCAJob {
	return datatypes.RCAJob{
		Month: r.Month,
		Filters: datatypes.Filters{
			Region:      r.Region,
			BU:          r.BU,
			ProductLine: r.ProductLine,
			Segment:     r.Segment,
			Metric:      r.Metric,
		},
		Comparison: datatypes.Comparison(r.Comparison),
		FullSweep:  r.FullSweep,
	}
}

// ListQuery is the query string of GET /v1/rca.
type ListQuery struct {
	Status string `form:"status"`
	Limit  int    `form:"limit,default=20" binding:"min=1,max=100"`
	Offset int    `form:"offset,default=0" binding:"min=0"`
}

// LLMQueryRequest is the body of POST /v1/llm/query.
type LLMQueryRequest struct {
	RunID        string `json:"run_id" binding:"required,max=256"`
	Question     string `json:"question" binding:"required,max=2000"`
	Scope        string `json:"scope" binding:"max=256"`
	CompareRunID string `json:"compare_run_id" binding:"max=256"`
}

// LLMChallengeRequest is the body of POST /v1/llm/challenge.
type LLMChallengeRequest struct {
	RunID string `json:"run_id" binding:"required,max=256"`
	Scope string `json:"scope" binding:"max=256"`
}

var (
	registerOnce sync.Once
	registerErr  error
)

// RegisterValidators teaches gin's binding validator the RCA tags.
// Safe to call more than once.
func RegisterValidators() error {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			registerErr = fmt.Errorf("unexpected binding validator %T", binding.Validator.Engine())
			return
		}
		v.RegisterTagNameFunc(fieldName)
		registerErr = datatypes.RegisterValidations(v)
	})
	return registerErr
}

// fieldName reports fields by their json or form key.
func fieldName(fld reflect.StructField) string {
	for _, tag := range []string{"json", "form"} {
		name, _, _ := strings.Cut(fld.Tag.Get(tag), ",")
		if name != "" && name != "-" {
			return name
		}
	}
	return ""
}

// bindError turns a binding failure into a client-facing message.
func bindError(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid request: " + err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Field()
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "yyyymm":
			msgs = append(msgs, field+" must be in YYYY-MM format")
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of %s", field, fe.Param()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s", field, fe.Param()))
		case "min":
			msgs = append(msgs, fmt.Sprintf("%s must be at least %s", field, fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s", field, fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}
