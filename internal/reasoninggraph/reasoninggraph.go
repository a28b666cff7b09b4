// Package reasoninggraph implements the weighted reasoning graph (C3): a
// typed, directed multigraph over emergencies, symptoms, age groups,
// treatments, and contraindications, built once at startup from fixed
// domain data.
package reasoninggraph

import (
	"sort"
	"strings"

	"github.com/dominikbraun/graph"

	"medtriage/internal/types"
)

// NodeType identifies the kind of entity a graph vertex represents.
type NodeType string

const (
	NodeEmergency         NodeType = "emergency"
	NodeSymptom            NodeType = "symptom"
	NodeAgeGroup           NodeType = "age_group"
	NodeTreatment          NodeType = "treatment"
	NodeContraindication   NodeType = "contraindication"
)

// hasSymptomEdge carries the weight of a condition-symptom association.
type hasSymptomEdge struct {
	weight float64
}

// increasesRiskEdge carries an age-group risk multiplier for a condition.
type increasesRiskEdge struct {
	multiplier float64
}

// escalatesWithEdge carries a human-readable severity bump description.
type escalatesWithEdge struct {
	severityIncrease string
}

// requiresEdge carries a treatment's priority ordering for a condition.
type requiresEdge struct {
	priority int
}

// leadsToEdge carries the probability one condition progresses to another.
type leadsToEdge struct {
	probability float64
}

// Graph is the built reasoning graph plus its parallel rich-attribute maps.
// dominikbraun/graph only carries structural edges; the numeric/string
// attributes the domain needs (weights, multipliers, probabilities) live
// in these side maps keyed by "from->to".
type Graph struct {
	g graph.Graph[string, string]

	hasSymptom      map[string]hasSymptomEdge
	increasesRisk   map[string]increasesRiskEdge
	escalatesWith   map[string]escalatesWithEdge
	requires        map[string]requiresEdge
	contraindicated map[string][]string // condition -> contraindication ids
	leadsTo         map[string]leadsToEdge
	timeCriticalMin map[string]int
	severityDefault map[string]types.Severity // condition -> severity_default (spec §3 condition-node data)

	symptomsOf map[string][]string // condition -> symptom ids, insertion order
}

func vertexID(t NodeType, name string) string {
	return string(t) + ":" + name
}

func edgeKey(from, to string) string {
	return from + "->" + to
}

// New builds the reasoning graph from fixed domain data.
func New() *Graph {
	rg := &Graph{
		g:               graph.New(graph.StringHash, graph.Directed()),
		hasSymptom:      map[string]hasSymptomEdge{},
		increasesRisk:   map[string]increasesRiskEdge{},
		escalatesWith:   map[string]escalatesWithEdge{},
		requires:        map[string]requiresEdge{},
		contraindicated: map[string][]string{},
		leadsTo:         map[string]leadsToEdge{},
		timeCriticalMin: map[string]int{},
		severityDefault: map[string]types.Severity{},
		symptomsOf:      map[string][]string{},
	}
	rg.build()
	return rg
}

func (rg *Graph) addVertex(t NodeType, name string) {
	id := vertexID(t, name)
	_ = rg.g.AddVertex(id) // idempotent; duplicate AddVertex returns an error we can ignore here
}

func (rg *Graph) addSymptomEdge(condition types.Condition, symptom string, weight float64) {
	condID := vertexID(NodeEmergency, string(condition))
	symID := vertexID(NodeSymptom, symptom)
	rg.addVertex(NodeEmergency, string(condition))
	rg.addVertex(NodeSymptom, symptom)
	_ = rg.g.AddEdge(condID, symID)
	rg.hasSymptom[edgeKey(condID, symID)] = hasSymptomEdge{weight: weight}
	rg.symptomsOf[string(condition)] = append(rg.symptomsOf[string(condition)], symptom)
}

func (rg *Graph) addAgeRisk(age types.AgeBucket, condition types.Condition, multiplier float64) {
	ageID := vertexID(NodeAgeGroup, string(age))
	condID := vertexID(NodeEmergency, string(condition))
	rg.addVertex(NodeAgeGroup, string(age))
	_ = rg.g.AddEdge(ageID, condID)
	rg.increasesRisk[edgeKey(ageID, condID)] = increasesRiskEdge{multiplier: multiplier}
}

func (rg *Graph) addEscalation(age types.AgeBucket, condition types.Condition, severityIncrease string) {
	ageID := vertexID(NodeAgeGroup, string(age))
	condID := vertexID(NodeEmergency, string(condition))
	rg.addVertex(NodeAgeGroup, string(age))
	_ = rg.g.AddEdge(ageID, condID)
	rg.escalatesWith[edgeKey(ageID, condID)] = escalatesWithEdge{severityIncrease: severityIncrease}
}

func (rg *Graph) addTreatment(condition types.Condition, treatment string, priority int) {
	condID := vertexID(NodeEmergency, string(condition))
	treatID := vertexID(NodeTreatment, treatment)
	rg.addVertex(NodeTreatment, treatment)
	_ = rg.g.AddEdge(condID, treatID)
	rg.requires[edgeKey(condID, treatID)] = requiresEdge{priority: priority}
}

func (rg *Graph) addContraindication(condition types.Condition, contraindication string) {
	condID := vertexID(NodeEmergency, string(condition))
	contraID := vertexID(NodeContraindication, contraindication)
	rg.addVertex(NodeContraindication, contraindication)
	_ = rg.g.AddEdge(condID, contraID)
	rg.contraindicated[string(condition)] = append(rg.contraindicated[string(condition)], contraindication)
}

func (rg *Graph) addProgression(from types.Condition, to string, probability float64) {
	fromID := vertexID(NodeEmergency, string(from))
	toID := vertexID(NodeEmergency, to)
	rg.addVertex(NodeEmergency, to)
	_ = rg.g.AddEdge(fromID, toID)
	rg.leadsTo[edgeKey(fromID, toID)] = leadsToEdge{probability: probability}
}

// build populates the graph with the domain's fixed emergency/symptom/
// age-risk/treatment/contraindication/progression data.
func (rg *Graph) build() {
	// has_symptom: condition -> symptom, weight is this condition's overall
	// symptom-match weight (uniform per condition, matching the source
	// data's one-weight-per-condition table).
	symptomTable := map[types.Condition][]string{
		types.ConditionCardiacArrest: {
			"sudden collapse", "no normal breathing", "no response to touch or voice", "no pulse",
		},
		types.ConditionHeartAttack: {
			"chest pain or pressure", "pain radiating to arm or jaw", "shortness of breath", "sweating", "nausea",
		},
		types.ConditionChoking: {
			"hands on throat", "inability to speak", "weak cough", "high-pitched breathing sounds",
		},
		types.ConditionSevereBleeding: {
			"rapid blood loss", "blood pooling", "pale skin", "rapid heartbeat",
		},
		types.ConditionStroke: {
			"facial drooping", "arm weakness", "speech difficulty", "sudden confusion", "severe headache",
		},
		types.ConditionFainting: {
			"brief loss of consciousness", "pale skin", "sweating", "rapid recovery",
		},
		types.ConditionBurn: {
			"red skin", "blisters", "white or charred areas", "severe pain",
		},
		types.ConditionBreathingDifficulty: {
			"gasping", "wheezing", "chest tightness", "rapid breathing",
		},
	}
	weights := map[types.Condition]float64{
		types.ConditionCardiacArrest:       0.95,
		types.ConditionHeartAttack:         0.85,
		types.ConditionChoking:             0.90,
		types.ConditionSevereBleeding:      0.88,
		types.ConditionStroke:              0.92,
		types.ConditionFainting:            0.75,
		types.ConditionBurn:                0.80,
		types.ConditionBreathingDifficulty: 0.87,
	}
	for cond, symptoms := range symptomTable {
		for _, s := range symptoms {
			rg.addSymptomEdge(cond, s, weights[cond])
		}
	}

	// severity_default: each condition node's catalog-aligned default
	// severity, used to break symptom-match score ties ahead of
	// lexicographic order.
	severities := map[types.Condition]types.Severity{
		types.ConditionCardiacArrest:       types.SeverityCritical,
		types.ConditionHeartAttack:         types.SeverityCritical,
		types.ConditionChoking:             types.SeverityCritical,
		types.ConditionSevereBleeding:      types.SeveritySevere,
		types.ConditionStroke:              types.SeverityCritical,
		types.ConditionFainting:            types.SeverityModerate,
		types.ConditionBurn:                types.SeverityModerate,
		types.ConditionBreathingDifficulty: types.SeveritySevere,
	}
	for cond, sev := range severities {
		rg.severityDefault[string(cond)] = sev
	}

	// increases_risk: age_group -> condition multiplier.
	rg.addAgeRisk(types.AgeElderly, types.ConditionCardiacArrest, 2.5)
	rg.addAgeRisk(types.AgeElderly, types.ConditionHeartAttack, 3.0)
	rg.addAgeRisk(types.AgeAdult, types.ConditionHeartAttack, 1.5)
	rg.addAgeRisk(types.AgeChild, types.ConditionChoking, 1.8)
	rg.addAgeRisk(types.AgeElderly, types.ConditionStroke, 4.0)

	// escalates_with: age_group -> condition severity bump description.
	rg.addEscalation(types.AgeElderly, types.ConditionFainting, "MODERATE to SEVERE")
	rg.addEscalation(types.AgeChild, types.ConditionBurn, "MODERATE to SEVERE")
	rg.addEscalation(types.AgeElderly, types.ConditionBurn, "MODERATE to SEVERE")

	// requires: condition -> treatment, ranked by priority.
	rg.addTreatment(types.ConditionCardiacArrest, "cpr", 1)
	rg.addTreatment(types.ConditionCardiacArrest, "aed", 2)
	rg.addTreatment(types.ConditionHeartAttack, "aspirin", 1)
	rg.addTreatment(types.ConditionChoking, "heimlich", 1)
	rg.addTreatment(types.ConditionSevereBleeding, "direct_pressure", 1)

	// contraindicated_by: condition -> contraindication.
	rg.addContraindication(types.ConditionCardiacArrest, "no_food_or_water")

	// leads_to: condition -> condition (or a non-catalog node like "shock"),
	// with a progression probability.
	rg.addProgression(types.ConditionHeartAttack, "cardiac_arrest", 0.40)
	rg.addProgression(types.ConditionChoking, "cardiac_arrest", 0.60)
	rg.addProgression(types.ConditionSevereBleeding, "shock", 0.35)
	rg.addProgression(types.ConditionBreathingDifficulty, "cardiac_arrest", 0.30)

	// time_critical_minutes: condition -> minutes before the emergency
	// becomes unrecoverable without intervention. Conditions absent here
	// have no known time-critical window.
	rg.timeCriticalMin[string(types.ConditionCardiacArrest)] = 4
	rg.timeCriticalMin[string(types.ConditionHeartAttack)] = 30
	rg.timeCriticalMin[string(types.ConditionChoking)] = 3
	rg.timeCriticalMin[string(types.ConditionSevereBleeding)] = 10
	rg.timeCriticalMin[string(types.ConditionStroke)] = 60
	rg.timeCriticalMin[string(types.ConditionBreathingDifficulty)] = 5
}

// symptomCandidate is one condition's symptom-match score.
type symptomCandidate struct {
	Condition types.Condition
	Score     float64
}

// FindBySymptoms scores every graph condition by the sum of its matched
// has_symptom edge weights, normalized by the TOTAL number of symptoms
// supplied (not just the matched count) — matching the reference scoring
// rule, which penalizes a condition for a symptom list that only partially
// matches.
func (rg *Graph) FindBySymptoms(symptoms []string) []symptomCandidate {
	if len(symptoms) == 0 {
		return nil
	}

	normalized := make(map[string]bool, len(symptoms))
	for _, s := range symptoms {
		normalized[normalizeSymptom(s)] = true
	}

	scores := map[types.Condition]float64{}
	for cond, condSymptoms := range rg.symptomsOf {
		var sum float64
		condID := vertexID(NodeEmergency, cond)
		for _, sym := range condSymptoms {
			if !matchesAny(normalized, sym) {
				continue
			}
			symID := vertexID(NodeSymptom, sym)
			sum += rg.hasSymptom[edgeKey(condID, symID)].weight
		}
		if sum > 0 {
			scores[types.Condition(cond)] = sum / float64(len(symptoms))
		}
	}

	out := make([]symptomCandidate, 0, len(scores))
	for cond, score := range scores {
		out = append(out, symptomCandidate{Condition: cond, Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		// Tie: prefer the condition with the higher catalog default
		// severity, then fall back to lexicographic order.
		si := rg.severityDefault[string(out[i].Condition)].Rank()
		sj := rg.severityDefault[string(out[j].Condition)].Rank()
		if si != sj {
			return si > sj
		}
		return out[i].Condition < out[j].Condition
	})
	return out
}

func normalizeSymptom(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// matchesAny reports whether any normalized input symptom is a substring
// match (in either direction) of the catalog symptom phrase.
func matchesAny(normalized map[string]bool, catalogPhrase string) bool {
	phrase := normalizeSymptom(catalogPhrase)
	for input := range normalized {
		if input == "" {
			continue
		}
		if strings.Contains(phrase, input) || strings.Contains(input, phrase) {
			return true
		}
	}
	return false
}

// EscalateByAge reports whether and how a condition's severity should be
// bumped for a given age bucket.
func (rg *Graph) EscalateByAge(age types.AgeBucket, condition types.Condition) types.AgeEscalation {
	ageID := vertexID(NodeAgeGroup, string(age))
	condID := vertexID(NodeEmergency, string(condition))
	key := edgeKey(ageID, condID)

	esc := types.AgeEscalation{}
	if e, ok := rg.escalatesWith[key]; ok {
		esc.ShouldEscalate = true
		esc.SeverityChange = e.severityIncrease
		esc.Reason = string(age) + " patients with " + string(condition) + " face elevated risk"
	}
	if r, ok := rg.increasesRisk[key]; ok {
		esc.RiskMultiplier = r.multiplier
		if !esc.ShouldEscalate && r.multiplier > 1.0 {
			esc.Reason = string(age) + " patients with " + string(condition) + " face elevated risk"
		}
	}
	return esc
}

// Treatments returns the treatments required by a condition, in priority
// order (lowest priority number first).
func (rg *Graph) Treatments(condition types.Condition) []types.Treatment {
	condID := vertexID(NodeEmergency, string(condition))
	var out []types.Treatment
	for key, edge := range rg.requires {
		if !strings.HasPrefix(key, condID+"->") {
			continue
		}
		name := strings.TrimPrefix(key, condID+"->"+string(NodeTreatment)+":")
		out = append(out, types.Treatment{Name: name, Priority: edge.priority})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

// Contraindications returns the contraindication ids for a condition.
func (rg *Graph) Contraindications(condition types.Condition) []string {
	return append([]string(nil), rg.contraindicated[string(condition)]...)
}

// ProgressionRisk returns the conditions a given emergency can progress to.
func (rg *Graph) ProgressionRisk(condition types.Condition) []types.Progression {
	condID := vertexID(NodeEmergency, string(condition))
	var out []types.Progression
	for key, edge := range rg.leadsTo {
		if !strings.HasPrefix(key, condID+"->") {
			continue
		}
		toID := strings.TrimPrefix(key, condID+"->")
		toName := strings.TrimPrefix(toID, string(NodeEmergency)+":")
		out = append(out, types.Progression{
			Condition:   types.Condition(toName),
			Probability: edge.probability,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Probability > out[j].Probability })
	return out
}

// SeverityDefault returns the condition node's recorded severity_default,
// and whether one is known.
func (rg *Graph) SeverityDefault(condition types.Condition) (types.Severity, bool) {
	s, ok := rg.severityDefault[string(condition)]
	return s, ok
}

// TimeCriticalMinutes returns the time-critical window for a condition, and
// whether one is known.
func (rg *Graph) TimeCriticalMinutes(condition types.Condition) (int, bool) {
	m, ok := rg.timeCriticalMin[string(condition)]
	return m, ok
}

// NodeCount and EdgeCount expose the graph's size for triage.SystemStats.
func (rg *Graph) NodeCount() int {
	order, err := rg.g.Order()
	if err != nil {
		return 0
	}
	return order
}

func (rg *Graph) EdgeCount() int {
	size, err := rg.g.Size()
	if err != nil {
		return 0
	}
	return size
}

// EmergencyTypeCount returns the number of distinct emergency nodes.
func (rg *Graph) EmergencyTypeCount() int {
	return len(rg.symptomsOf)
}
