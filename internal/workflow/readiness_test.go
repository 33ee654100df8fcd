package workflow

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateReadiness(t *testing.T) {
	required := NewDocSet("F2F", "PT_EVAL", "LMN")
	status := map[DocKey]DocStatus{"F2F": DocComplete, "PT_EVAL": DocMissing}

	r := EvaluateReadiness(required, status)
	assert.Equal(t, 1, r.Completed)
	assert.Equal(t, 3, r.Total)
	assert.False(t, r.Ready)
	assert.Equal(t, []DocKey{"LMN", "PT_EVAL"}, r.Missing)
}

func TestEvaluateReadiness_Empty(t *testing.T) {
	r := EvaluateReadiness(nil, nil)
	assert.Equal(t, 0, r.Total)
	assert.False(t, r.Ready)
	assert.Empty(t, r.Missing)
}

type labCode int

func TestCompletion_GenericKeys(t *testing.T) {
	required := map[labCode]struct{}{1: {}, 2: {}}
	status := map[labCode]DocStatus{1: DocComplete, 2: DocComplete, 3: DocMissing}
	completed, total := Completion(required, status)
	assert.Equal(t, 2, completed)
	assert.Equal(t, 2, total)
	assert.True(t, IsReady(required, status))
}

func TestStageRelevantDocs(t *testing.T) {
	stage := Stage{Name: "PAR", RequiredDocs: NewDocSet("F2F", "PT_EVAL")}
	got := StageRelevantDocs(NewDocSet("F2F", "TELE_EVAL"), stage)
	assert.Equal(t, []DocKey{"F2F"}, got.Sorted())
}

func TestEvaluateStageReadiness(t *testing.T) {
	stage := Stage{Name: "PAR", RequiredDocs: NewDocSet("F2F", "PT_EVAL")}
	required := NewDocSet("F2F", "PT_EVAL", "TELE_EVAL")
	status := map[DocKey]DocStatus{"F2F": DocComplete, "PT_EVAL": DocComplete}

	sr := EvaluateStageReadiness(required, stage, status)
	assert.Equal(t, "PAR", sr.Stage)
	assert.True(t, sr.Ready, "stage readiness ignores documents outside the stage")
	assert.False(t, EvaluateReadiness(required, status).Ready)
}

func TestDwell(t *testing.T) {
	changed := fixedNow.Add(-3*24*time.Hour - time.Hour)
	o := Order{LastStageChange: &changed}

	d := Dwell(o, Stage{Name: "Docs", TargetDays: days(2)}, fixedNow)
	assert.Equal(t, 3, d.DaysInStage)
	assert.True(t, d.Overdue)

	d = Dwell(o, Stage{Name: "Docs", TargetDays: days(3)}, fixedNow)
	assert.False(t, d.Overdue, "exactly at target is not overdue")

	d = Dwell(o, Stage{Name: "Delivered"}, fixedNow)
	assert.False(t, d.Overdue)
	assert.Nil(t, d.TargetDays)

	d = Dwell(Order{}, Stage{Name: "Intake", TargetDays: days(0)}, fixedNow)
	assert.Equal(t, 0, d.DaysInStage)
	assert.False(t, d.Overdue)
}

func TestDocSet_JSONRoundTripIsSorted(t *testing.T) {
	data, err := json.Marshal(NewDocSet("PT_EVAL", "F2F"))
	require.NoError(t, err)
	assert.JSONEq(t, `["F2F","PT_EVAL"]`, string(data))

	var s DocSet
	require.NoError(t, json.Unmarshal([]byte(`["LMN"," ","LMN"]`), &s))
	assert.Equal(t, []DocKey{"LMN"}, s.Sorted())
}

func TestParseDocStatus(t *testing.T) {
	st, ok := ParseDocStatus("complete")
	assert.True(t, ok)
	assert.Equal(t, DocComplete, st)

	_, ok = ParseDocStatus("pending")
	assert.False(t, ok)
}

func TestDocumentCatalog_Unknown(t *testing.T) {
	var disabled *DocumentCatalog
	assert.False(t, disabled.Enabled())
	assert.Nil(t, disabled.Unknown("ANY"))

	c := NewDocumentCatalog("F2F", "PT_EVAL")
	assert.Equal(t, []DocKey{"BOGUS", "NOPE"}, c.Unknown("NOPE", "F2F", "BOGUS"))
	assert.Nil(t, c.Unknown("F2F"))
}
