package models

import (
	"fmt"
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// AnalysisTable is the document collection holding analysis records.
const AnalysisTable = "analizler"

// StepCount is the number of guided capture steps in one analysis.
const StepCount = 5

// StepPending marks a step slot that has no accepted asset yet.
const StepPending = "pending"

// AnalysisStatus is the coarse session-level status of an analysis.
type AnalysisStatus string

const (
	StatusPending  AnalysisStatus = "pending"
	StatusCaptured AnalysisStatus = "captured"
)

// Analysis is the five-step aggregate persisted for one capture session.
// Step slots hold StepPending or the URI of the uploaded asset.
type Analysis struct {
	ID        surrealmodels.RecordID `json:"id,omitempty"`
	UID       string                 `json:"uid"`
	Name      string                 `json:"name"`
	Status    AnalysisStatus         `json:"status"`
	Step1     string                 `json:"step1"`
	Step2     string                 `json:"step2"`
	Step3     string                 `json:"step3"`
	Step4     string                 `json:"step4"`
	Step5     string                 `json:"step5"`
	CreatedAt time.Time              `json:"createdAt"`
	UpdatedAt time.Time              `json:"updatedAt"`
}

// NewAnalysis returns an in-memory analysis with every step pending.
func NewAnalysis(ownerID string) *Analysis {
	return &Analysis{
		UID:    ownerID,
		Name:   "Analysis",
		Status: StatusPending,
		Step1:  StepPending,
		Step2:  StepPending,
		Step3:  StepPending,
		Step4:  StepPending,
		Step5:  StepPending,
	}
}

// StepField returns the document field name for a 1-based step ordinal.
func StepField(ordinal int) (string, error) {
	if ordinal < 1 || ordinal > StepCount {
		return "", fmt.Errorf("step %d out of range 1..%d", ordinal, StepCount)
	}
	return fmt.Sprintf("step%d", ordinal), nil
}

func (a *Analysis) slot(ordinal int) *string {
	switch ordinal {
	case 1:
		return &a.Step1
	case 2:
		return &a.Step2
	case 3:
		return &a.Step3
	case 4:
		return &a.Step4
	case 5:
		return &a.Step5
	}
	return nil
}

// Step returns the slot value for a 1-based ordinal, or "" when out of range.
func (a *Analysis) Step(ordinal int) string {
	if s := a.slot(ordinal); s != nil {
		return *s
	}
	return ""
}

// SetStep stores an asset reference in the given slot.
func (a *Analysis) SetStep(ordinal int, ref string) error {
	s := a.slot(ordinal)
	if s == nil {
		return fmt.Errorf("step %d out of range 1..%d", ordinal, StepCount)
	}
	*s = ref
	return nil
}

// StepDone reports whether a step slot already holds an asset reference.
func (a *Analysis) StepDone(ordinal int) bool {
	v := a.Step(ordinal)
	return v != "" && v != StepPending
}

// NextPendingStep returns the first pending ordinal, or 0 when all steps are done.
func (a *Analysis) NextPendingStep() int {
	for i := 1; i <= StepCount; i++ {
		if !a.StepDone(i) {
			return i
		}
	}
	return 0
}

// CompletedSteps counts the slots holding an asset reference.
func (a *Analysis) CompletedSteps() int {
	n := 0
	for i := 1; i <= StepCount; i++ {
		if a.StepDone(i) {
			n++
		}
	}
	return n
}

// Complete reports whether all five steps hold an asset reference.
func (a *Analysis) Complete() bool {
	return a.CompletedSteps() == StepCount
}

// IDString returns the record key without the table prefix.
func (a *Analysis) IDString() string {
	s, _ := RecordIDString(a.ID)
	return s
}
