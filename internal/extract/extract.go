// Package extract implements the symptom and age extractor (C4): turning
// free-text triage input into a normalized symptom list, an age bucket, and
// a reporting-mode signal, all via phrase and regex matching.
package extract

import (
	"regexp"
	"strconv"
	"strings"

	"medtriage/internal/types"
)

// symptomPhrases maps a canonical symptom phrase (the reasoning graph's
// symptom node names; catalog symptom lists word some of them differently)
// to the surface keywords that imply it.
var symptomPhrases = map[string][]string{
	"sudden collapse":                   {"collapsed", "collapse", "fell suddenly"},
	"no normal breathing":               {"not breathing", "stopped breathing", "no breathing"},
	"no response to touch or voice":      {"unresponsive", "not responding", "won't wake up", "wont wake up"},
	"no pulse":                          {"no pulse", "can't find a pulse", "cant find a pulse"},
	"chest pain or pressure":            {"chest pain", "chest pressure", "chest hurts", "pressure in my chest"},
	"pain radiating to arm or jaw":      {"pain in my arm", "pain radiating", "jaw pain", "arm pain"},
	"shortness of breath":               {"shortness of breath", "can't catch my breath", "cant catch my breath", "out of breath"},
	"sweating":                          {"sweating", "sweaty", "cold sweat"},
	"nausea":                            {"nausea", "nauseous", "feel sick to my stomach"},
	"hands on throat":                   {"hands on throat", "clutching throat", "grabbing throat"},
	"inability to speak":                {"can't speak", "cant speak", "can't talk", "cant talk"},
	"weak cough":                        {"weak cough", "coughing weakly"},
	"high-pitched breathing sounds":     {"high pitched", "wheezing sound", "gasping sound"},
	"rapid blood loss":                  {"bleeding heavily", "blood gushing", "lots of blood", "bleeding a lot"},
	"blood pooling":                     {"blood pooling", "pool of blood"},
	"pale skin":                         {"pale", "looks pale", "skin is pale"},
	"rapid heartbeat":                   {"heart racing", "rapid heartbeat", "pulse is racing"},
	"facial drooping":                   {"face drooping", "facial drooping", "one side of face", "face is drooping"},
	"arm weakness":                      {"arm weakness", "can't lift arm", "cant lift arm", "one arm is weak"},
	"speech difficulty":                 {"slurred speech", "can't speak clearly", "cant speak clearly", "words are slurred"},
	"sudden confusion":                  {"confused", "disoriented", "sudden confusion"},
	"severe headache":                   {"severe headache", "worst headache", "splitting headache"},
	"brief loss of consciousness":       {"passed out", "fainted", "blacked out"},
	"rapid recovery":                    {"came to quickly", "woke up right away"},
	"red skin":                          {"red skin", "skin is red", "burn is red"},
	"blisters":                          {"blisters", "blistering"},
	"white or charred areas":            {"charred", "white and waxy", "charred skin"},
	"severe pain":                       {"severe pain", "excruciating pain", "in a lot of pain"},
	"gasping":                           {"gasping", "gasping for air"},
	"wheezing":                          {"wheezing"},
	"chest tightness":                   {"chest tightness", "chest feels tight"},
	"rapid breathing":                   {"breathing fast", "rapid breathing", "hyperventilating"},
	"uncontrolled shaking or jerking":    {"seizure", "convulsing", "shaking uncontrollably", "jerking"},
	"confusion or disorientation":       {"confused", "disoriented", "acting strangely"},
	"shakiness":                         {"shaky", "shakiness", "trembling"},
	"difficulty breathing or swallowing": {"throat closing", "can't breathe", "cant breathe", "can't swallow", "cant swallow"},
	"swelling of face or throat":        {"face swelling", "throat swelling", "lips swelling"},
	"hives":                             {"hives", "rash", "breaking out in hives"},
	"visible deformity":                 {"bone sticking out", "limb looks deformed", "arm is bent wrong"},
	"inability to move or bear weight":  {"can't move it", "cant move it", "can't put weight on it", "cant put weight on it"},
	"very high body temperature":        {"burning up", "very hot", "high fever"},
	"hot dry or flushed skin":           {"skin is hot and dry", "flushed skin"},
	"intense shivering or absence of shivering": {"shivering uncontrollably", "can't stop shaking from cold", "cant stop shaking from cold"},
	"small laceration or scrape":        {"small cut", "scrape", "scratch"},
	"light bleeding":                    {"bleeding a little", "light bleeding"},
}

// ageNumberPattern captures a numeric age like "7 years old" or "42 yo".
var ageNumberPattern = regexp.MustCompile(`(\d{1,3})\s*(?:years?\s*old|yo|y/o|years?)\b`)

// elderlyWords override any numeric age, matching the domain rule that a
// descriptive term like "grandma" always implies elderly.
var elderlyWords = []string{"grandma", "grandpa", "grandmother", "grandfather", "elderly", "senior citizen"}

var childWords = []string{"toddler", "infant", "baby", "newborn", "my kid", "my son", "my daughter", "my child"}

// firstPersonPatterns imply the speaker is describing their own condition.
var firstPersonPatterns = []string{
	"i am", "i'm", "im ", "my chest", "my arm", "my head", "i feel", "i can't", "i cant",
	"i have", "i need help", "i think i", "help me",
}

// thirdPartyPatterns imply the speaker is describing someone else.
var thirdPartyPatterns = []string{
	"he is", "he's", "she is", "she's", "they are", "they're",
	"my friend", "my husband", "my wife", "my son", "my daughter", "my mother", "my father",
	"my grandma", "my grandpa", "someone", "a person", "he collapsed", "she collapsed",
	"he's not", "she's not", "not responding", "unresponsive",
}

// ExtractSymptoms returns the canonical symptom phrases implied by text.
func ExtractSymptoms(text string) []string {
	lower := strings.ToLower(text)
	var found []string
	seen := map[string]bool{}
	for canonical, keywords := range symptomPhrases {
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				if !seen[canonical] {
					found = append(found, canonical)
					seen[canonical] = true
				}
				break
			}
		}
	}
	return found
}

// ExtractAgeGroup determines the patient's age bucket from text. A
// descriptive elderly/child term always wins over a numeric age if both are
// present, matching the domain's "grandma" override rule.
func ExtractAgeGroup(text string) types.AgeBucket {
	lower := strings.ToLower(text)

	for _, w := range elderlyWords {
		if strings.Contains(lower, w) {
			return types.AgeElderly
		}
	}
	for _, w := range childWords {
		if strings.Contains(lower, w) {
			return types.AgeChild
		}
	}

	if m := ageNumberPattern.FindStringSubmatch(lower); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil {
			switch {
			case n < 18:
				return types.AgeChild
			case n < 65:
				return types.AgeAdult
			default:
				return types.AgeElderly
			}
		}
	}

	return types.AgeUnknown
}

// DetectReportingMode classifies whether text is a first-person self-report
// or a third-party/bystander report. It is descriptive only: callers must
// never use it to gate SOS on its own.
func DetectReportingMode(text string) types.ReportingMode {
	lower := strings.ToLower(text)

	for _, p := range thirdPartyPatterns {
		if strings.Contains(lower, p) {
			return types.ReportingThirdParty
		}
	}
	for _, p := range firstPersonPatterns {
		if strings.Contains(lower, p) {
			return types.ReportingSelf
		}
	}
	return types.ReportingUnknown
}
