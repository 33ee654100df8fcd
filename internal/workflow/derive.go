package workflow

import "strings"

// Documents added by the conditional requirement rules.
const (
	DocTeleEval    DocKey = "TELE_EVAL"
	DocTeleConsent DocKey = "TELE_CONSENT"
	DocFinHardship DocKey = "FIN_HARDSHIP"
	DocABN         DocKey = "ABN"
	DocAuthForm    DocKey = "AUTH_FORM"
	DocParReq      DocKey = "PAR_REQ"
	DocATPEval     DocKey = "ATP_EVAL"
	DocLMN         DocKey = "LMN"
	DocHomeAssess  DocKey = "HOME_ASSESS"
)

// requirementRule adds keys when its predicate holds for the patient/order pair.
type requirementRule struct {
	name    string
	applies func(p Patient, o Order) bool
	adds    []DocKey
}

var requirementRules = []requirementRule{
	{
		name:    "telehealth",
		applies: func(p Patient, _ Order) bool { return p.TelehealthEnabled },
		adds:    []DocKey{DocTeleEval, DocTeleConsent},
	},
	{
		name:    "financial_assistance",
		applies: func(p Patient, _ Order) bool { return p.FinancialAssistance },
		adds:    []DocKey{DocFinHardship, DocABN},
	},
	{
		name: "payer_authorization",
		applies: func(p Patient, _ Order) bool {
			return containsFold(p.PrimaryInsurance, "medicaid") || containsFold(p.PrimaryInsurance, "uhc")
		},
		adds: []DocKey{DocAuthForm, DocParReq},
	},
	{
		name:    "power_mobility",
		applies: func(_ Patient, o Order) bool { return containsFold(o.ChairType, "power") },
		adds:    []DocKey{DocATPEval, DocLMN, DocHomeAssess},
	},
}

// DeriveRequiredDocuments returns the patient's required documents unioned
// with every rule that fires for the pair. The result is always a superset
// of p.RequiredDocuments and never aliases it.
func DeriveRequiredDocuments(p Patient, o Order) DocSet {
	out := p.RequiredDocuments.Clone()
	for _, r := range requirementRules {
		if r.applies(p, o) {
			out.Add(r.adds...)
		}
	}
	return out
}

// FiredRules names the requirement rules that apply to the pair, in rule order.
func FiredRules(p Patient, o Order) []string {
	var names []string
	for _, r := range requirementRules {
		if r.applies(p, o) {
			names = append(names, r.name)
		}
	}
	return names
}

// RuleDocuments lists every key a requirement rule can add.
func RuleDocuments() DocSet {
	out := make(DocSet)
	for _, r := range requirementRules {
		out.Add(r.adds...)
	}
	return out
}

func containsFold(s *string, substr string) bool {
	if s == nil {
		return false
	}
	return strings.Contains(strings.ToLower(*s), substr)
}
