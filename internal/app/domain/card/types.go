package card

import "sort"

// Section groups card types in the workspace.
type Section string

const (
	SectionBlueprint    Section = "blueprint"
	SectionIntelligence Section = "intelligence"
	SectionDevelopment  Section = "development"
	SectionOrganisation Section = "organisation"
)

// TypeInfo describes one card type.
type TypeInfo struct {
	Type    string   `json:"type"`
	Name    string   `json:"name"`
	Section Section  `json:"section"`
	Fields  []string `json:"fields"`
}

var registry = []TypeInfo{
	{"strategic-context", "Strategic Context", SectionBlueprint, []string{"market_context", "competitive_landscape", "key_trends", "stakeholders", "time_horizon"}},
	{"vision", "Vision", SectionBlueprint, []string{"vision_type", "time_horizon", "guiding_principles", "inspiration_source"}},
	{"value-proposition", "Value Proposition", SectionBlueprint, []string{"customer_segment", "problem_solved", "gain_created", "alternatives_today", "differentiator"}},
	{"personas", "Personas", SectionBlueprint, []string{"persona_name", "role", "goals", "pain_points", "behaviours", "tech_savviness"}},
	{"customer-journey", "Customer Journey", SectionBlueprint, []string{"journey_stage", "touchpoints", "emotions", "pain_points", "opportunities"}},
	{"swot-analysis", "SWOT Analysis", SectionBlueprint, []string{"swot_category", "impact", "evidence"}},
	{"competitive-analysis", "Competitive Analysis", SectionBlueprint, []string{"competitor", "strengths", "weaknesses", "market_share", "response_strategy"}},
	{"okrs", "OKRs", SectionBlueprint, []string{"objective", "key_results", "owner", "quarter"}},
	{"business-model", "Business Model", SectionBlueprint, []string{"revenue_streams", "cost_structure", "key_partners", "channels"}},
	{"go-to-market", "Go-to-Market", SectionBlueprint, []string{"target_segment", "channels", "pricing", "launch_date"}},
	{"risk-assessment", "Risk Assessment", SectionBlueprint, []string{"risk_category", "likelihood", "impact", "mitigation", "owner"}},
	{"roadmap", "Roadmap", SectionBlueprint, []string{"phase", "start_date", "end_date", "milestones", "dependencies"}},
	{"problem-statement", "Problem Statement", SectionBlueprint, []string{"affected_users", "root_causes", "current_impact", "evidence"}},
	{"workstream", "Workstream", SectionBlueprint, []string{"lead", "deliverables", "timeline", "status"}},
	{"kpis", "KPIs", SectionBlueprint, []string{"metric", "target", "baseline", "frequency", "owner"}},
	{"financial-projections", "Financial Projections", SectionBlueprint, []string{"period", "revenue", "costs", "assumptions"}},
	{"cost-driver", "Cost Driver", SectionBlueprint, []string{"cost_category", "amount", "frequency", "reduction_levers"}},
	{"revenue-driver", "Revenue Driver", SectionBlueprint, []string{"revenue_stream", "amount", "growth_rate", "drivers"}},
	{"service-blueprint", "Service Blueprint", SectionBlueprint, []string{"customer_actions", "frontstage", "backstage", "support_processes"}},
	{"organisational-capabilities", "Organisational Capabilities", SectionBlueprint, []string{"capability", "maturity", "target_maturity", "gaps"}},
	{"stakeholder-map", "Stakeholder Map", SectionBlueprint, []string{"stakeholder", "influence", "interest", "engagement_strategy"}},
	{"gtm-plays", "GTM Plays", SectionBlueprint, []string{"play_type", "target_accounts", "channels", "success_metrics"}},

	{"market-intelligence", "Market Intelligence", SectionIntelligence, []string{"source", "market_size", "growth_rate", "implications"}},
	{"competitor-intelligence", "Competitor Intelligence", SectionIntelligence, []string{"competitor", "source", "move", "implications"}},
	{"trends-intelligence", "Trends Intelligence", SectionIntelligence, []string{"trend", "source", "time_horizon", "implications"}},
	{"technology-intelligence", "Technology Intelligence", SectionIntelligence, []string{"technology", "maturity", "source", "implications"}},
	{"stakeholder-intelligence", "Stakeholder Intelligence", SectionIntelligence, []string{"stakeholder", "source", "sentiment", "implications"}},
	{"consumer-intelligence", "Consumer Intelligence", SectionIntelligence, []string{"segment", "source", "behaviour", "implications"}},
	{"risk-intelligence", "Risk Intelligence", SectionIntelligence, []string{"risk", "source", "likelihood", "implications"}},
	{"opportunities-intelligence", "Opportunities Intelligence", SectionIntelligence, []string{"opportunity", "source", "size", "implications"}},

	{"technical-requirements", "Technical Requirements", SectionDevelopment, []string{"category", "acceptance_criteria", "dependencies", "non_functional"}},
	{"tech-stack", "Tech Stack", SectionDevelopment, []string{"layer", "technology", "rationale", "alternatives"}},
	{"prd", "PRD", SectionDevelopment, []string{"problem", "goals", "user_stories", "success_metrics", "out_of_scope"}},
	{"feature", "Feature", SectionDevelopment, []string{"user_story", "acceptance_criteria", "effort", "release"}},
	{"epic", "Epic", SectionDevelopment, []string{"features", "business_value", "effort", "release"}},
	{"task-list", "Task List", SectionDevelopment, []string{"tasks", "assignee", "due_date", "status"}},

	{"team", "Team", SectionOrganisation, []string{"team_lead", "members", "responsibilities"}},
	{"person", "Person", SectionOrganisation, []string{"role", "team", "skills", "email"}},
	{"department", "Department", SectionOrganisation, []string{"head", "teams", "budget"}},
}

var byType = func() map[string]TypeInfo {
	m := make(map[string]TypeInfo, len(registry))
	for _, t := range registry {
		m[t.Type] = t
	}
	return m
}()

// Types returns every registered card type in display order.
func Types() []TypeInfo {
	out := make([]TypeInfo, len(registry))
	copy(out, registry)
	return out
}

// TypeNames returns the sorted list of card type identifiers.
func TypeNames() []string {
	names := make([]string, 0, len(registry))
	for _, t := range registry {
		names = append(names, t.Type)
	}
	sort.Strings(names)
	return names
}

// LookupType returns the registry entry for cardType.
func LookupType(cardType string) (TypeInfo, bool) {
	t, ok := byType[cardType]
	return t, ok
}

// ValidType reports whether cardType is registered.
func ValidType(cardType string) bool {
	_, ok := byType[cardType]
	return ok
}

// InSection reports whether cardType belongs to section.
func InSection(cardType string, section Section) bool {
	t, ok := byType[cardType]
	return ok && t.Section == section
}
