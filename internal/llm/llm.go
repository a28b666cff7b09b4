// Package llm implements the prompted-LLM classification source (C5): a
// structured prompt asking for strict-JSON triage verdicts, with a circuit
// breaker and fail-closed (nil, no error) behavior on any parse, network, or
// timeout failure so a flaky model never blocks the rest of the ensemble.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sony/gobreaker"

	"medtriage/internal/types"
	"medtriage/pkg/cache"
)

// responseCacheTTL bounds how long an identical prompt (case text plus
// hints and reporting mode) can reuse a past verdict instead of spending
// another model call.
const responseCacheTTL = 10 * time.Minute

// severityLegend is included in every prompt so the model's severity labels
// line up exactly with the catalog's four-level scale.
const severityLegend = `Severity legend:
- MILD: minor, self-care is sufficient
- MODERATE: needs attention soon, not immediately life-threatening
- SEVERE: needs urgent medical care
- CRITICAL: immediately life-threatening, call emergency services now`

// fewShotExamples anchors the model's output format and calibrates its
// confidence scale against the catalog's condition set.
var fewShotExamples = []string{
	`Input: "he's not breathing and won't wake up"
Output: {"type": "cardiac_arrest", "severity": "CRITICAL", "confidence": 0.93, "reasoning": "unresponsive with no breathing is the hallmark of cardiac arrest"}`,
	`Input: "small cut on my finger, barely bleeding"
Output: {"type": "minor_cut", "severity": "MILD", "confidence": 0.88, "reasoning": "small wound with light bleeding and no other symptoms"}`,
	`Input: "my chest really hurts and it's going down my arm"
Output: {"type": "heart_attack", "severity": "CRITICAL", "confidence": 0.9, "reasoning": "chest pain radiating to the arm is a classic heart attack presentation"}`,
}

// verdict is the strict-JSON shape the model is instructed to return.
type verdict struct {
	Type       string  `json:"type"`
	Severity   string  `json:"severity"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// Config configures the Classifier.
type Config struct {
	Model              string
	APIKeyEnv          string
	Timeout            time.Duration
	BreakerMaxFailures uint32
}

// messageCreator is the seam between Classifier and the Anthropic SDK's
// Messages resource. anthropic.Client's Messages field satisfies this
// interface structurally; tests substitute a stub that never hits the
// network.
type messageCreator interface {
	New(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error)
}

// Classifier is the C5 LLM classification source.
type Classifier struct {
	messages messageCreator
	model    string
	timeout  time.Duration
	breaker  *gobreaker.CircuitBreaker
	cache    *cache.LRU[string, *types.SourceMatch]
}

// New builds a Classifier. The API key is read from the environment
// variable named by cfg.APIKeyEnv; a missing key is not an error here, it
// simply means every Classify call fails closed.
func New(cfg Config) *Classifier {
	client := anthropic.NewClient(option.WithAPIKey(os.Getenv(cfg.APIKeyEnv)))
	return newWithMessages(cfg, client.Messages)
}

func newWithMessages(cfg Config, messages messageCreator) *Classifier {
	maxFailures := cfg.BreakerMaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "llm-classifier",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
	})

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 8 * time.Second
	}

	respCache := cache.New[string, *types.SourceMatch](&cache.Config{MaxEntries: 500, TTL: responseCacheTTL})

	return &Classifier{messages: messages, model: cfg.Model, timeout: timeout, breaker: breaker, cache: respCache}
}

// ClassificationInput bundles the context given to the prompt: the case
// text plus whatever the vector and graph sources already found, so the
// LLM can reason with (not just alongside) the other two sources.
type ClassificationInput struct {
	CaseText      string
	Conditions    []types.Condition // the full catalog condition set
	VectorHint    *types.SourceMatch
	GraphHint     *types.SourceMatch
	ReportingMode types.ReportingMode // self | third_party | unknown, descriptive only
}

// Classify asks the model for a verdict on input.CaseText. It returns
// (nil, nil) - not an error - on any network failure, timeout, open
// breaker, or unparsable response: the ensemble treats a nil LLM match as
// "this source did not vote" rather than a hard failure.
func (c *Classifier) Classify(ctx context.Context, input ClassificationInput) (*types.SourceMatch, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.call(ctx, input)
	})
	if err != nil {
		log.Printf("[WARN] llm classify failed closed: %v", err)
		return nil, nil
	}

	match, ok := result.(*types.SourceMatch)
	if !ok || match == nil {
		return nil, nil
	}
	return match, nil
}

func (c *Classifier) call(ctx context.Context, input ClassificationInput) (*types.SourceMatch, error) {
	prompt := buildPrompt(input)

	if cached, ok := c.cache.Get(prompt); ok {
		return cached, nil
	}

	message, err := c.messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: 256,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("llm request failed: %w", err)
	}

	text := extractText(message)
	v, err := parseVerdict(text)
	if err != nil {
		return nil, fmt.Errorf("llm response unparsable: %w", err)
	}

	match := &types.SourceMatch{
		Condition:  types.Condition(v.Type),
		Confidence: v.Confidence,
		Reasoning:  v.Reasoning,
	}
	c.cache.Set(prompt, match)
	return match, nil
}

func extractText(message *anthropic.Message) string {
	var sb strings.Builder
	for _, block := range message.Content {
		if text := block.Text; text != "" {
			sb.WriteString(text)
		}
	}
	return sb.String()
}

// parseVerdict extracts the JSON object from a model response, tolerating
// leading/trailing prose the model was told not to include but might add
// anyway.
func parseVerdict(text string) (verdict, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end < start {
		return verdict{}, fmt.Errorf("no JSON object found in response")
	}

	var v verdict
	if err := json.Unmarshal([]byte(text[start:end+1]), &v); err != nil {
		return verdict{}, err
	}
	if v.Type == "" {
		return verdict{}, fmt.Errorf("verdict missing type")
	}
	return v, nil
}

func buildPrompt(input ClassificationInput) string {
	var sb strings.Builder

	sb.WriteString("You are a medical emergency triage classifier. ")
	sb.WriteString("Classify the following report into exactly one of these emergency types:\n")
	for _, c := range input.Conditions {
		sb.WriteString("- " + string(c) + "\n")
	}
	sb.WriteString("\n" + severityLegend + "\n\n")

	sb.WriteString("Examples:\n")
	for _, ex := range fewShotExamples {
		sb.WriteString(ex + "\n\n")
	}

	if input.VectorHint != nil {
		sb.WriteString(fmt.Sprintf("A semantic case search found a similar past case classified as %q (confidence %.2f).\n", input.VectorHint.Condition, input.VectorHint.Confidence))
	}
	if input.GraphHint != nil {
		sb.WriteString(fmt.Sprintf("A symptom-matching reasoning graph suggests %q (confidence %.2f).\n", input.GraphHint.Condition, input.GraphHint.Confidence))
	}

	switch input.ReportingMode {
	case types.ReportingSelf:
		sb.WriteString("The report is first-person: the patient is describing their own symptoms and is conscious enough to speak.\n")
	case types.ReportingThirdParty:
		sb.WriteString("The report is third-person: a bystander is describing someone else, who may be unresponsive or unable to speak for themselves.\n")
	}

	sb.WriteString("\nReturn ONLY valid JSON in this exact shape, with no other text:\n")
	sb.WriteString(`{"type": "<emergency type>", "severity": "<MILD|MODERATE|SEVERE|CRITICAL>", "confidence": <0.0-1.0>, "reasoning": "<one sentence>"}` + "\n\n")

	sb.WriteString("Input: \"" + input.CaseText + "\"\nOutput:")

	return sb.String()
}
