package patch

import "fmt"

type Stage string

const (
	StageLoad         Stage = "load"
	StageWholeReplace Stage = "whole-replace"
	StageNumeric      Stage = "numeric"
	StageEncoder      Stage = "encoder"
	StageText         Stage = "text"
	StageCommit       Stage = "commit"
)

type Outcome string

const (
	OutcomeApplied Outcome = "applied"
	OutcomeSkipped Outcome = "skipped"
	OutcomeWarned  Outcome = "warning"
)

// StageResult is what one stage did. Offset is -1 when the stage did not
// touch a single location.
type StageResult struct {
	Stage   Stage
	Outcome Outcome
	Offset  int
	Detail  string
	Err     error
}

func (r StageResult) String() string {
	s := fmt.Sprintf("%s: %s", r.Stage, r.Outcome)
	if r.Offset >= 0 {
		s += fmt.Sprintf(" at 0x%x", r.Offset)
	}
	if r.Detail != "" {
		s += ": " + r.Detail
	}
	return s
}

// Report collects the stage results of one pipeline run, in execution order.
// The text stage contributes one result per substitution.
type Report struct {
	Target  string
	Size    int
	Results []StageResult
}

func (r *Report) add(res StageResult) {
	r.Results = append(r.Results, res)
}

func (r *Report) Stage(stage Stage) []StageResult {
	var results []StageResult
	for _, res := range r.Results {
		if res.Stage == stage {
			results = append(results, res)
		}
	}
	return results
}

func (r *Report) Warnings() []StageResult {
	var results []StageResult
	for _, res := range r.Results {
		if res.Outcome == OutcomeWarned {
			results = append(results, res)
		}
	}
	return results
}
