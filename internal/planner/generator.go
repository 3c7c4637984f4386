package planner

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"net"
	"strings"
	"text/template"
	"time"

	"diet-plan-delivery/internal/llm"
	"diet-plan-delivery/internal/nutrition"
	"diet-plan-delivery/internal/shared"
)

//go:embed generator_prompt.md
var generatorPrompt string

var promptTemplate = template.Must(template.New("generator").Funcs(template.FuncMap{
	"join": func(items interface{}, sep string) string {
		switch v := items.(type) {
		case []string:
			return strings.Join(v, sep)
		case []nutrition.MealType:
			parts := make([]string, len(v))
			for i, t := range v {
				parts[i] = string(t)
			}
			return strings.Join(parts, sep)
		case []nutrition.FoodCategory:
			parts := make([]string, len(v))
			for i, c := range v {
				parts[i] = string(c)
			}
			return strings.Join(parts, sep)
		default:
			return fmt.Sprint(items)
		}
	},
}).Parse(generatorPrompt))

// AgentName identifies plan generation in usage metrics.
const AgentName = "PlanGenerator"

type generatorPromptData struct {
	DietType    string
	Goal        string
	Age         string
	Height      string
	Weight      string
	Sex         string
	Allergies   []string
	Preferences []string
	MealTypes   []nutrition.MealType
	Categories  []nutrition.FoodCategory
}

// Generator turns user attributes into a nutrition plan using a text model.
type Generator struct {
	textGen llm.TextGenerator
	timeout time.Duration
}

// NewGenerator creates a Generator. A non-positive timeout leaves the call
// bounded only by the caller's context.
func NewGenerator(textGen llm.TextGenerator, timeout time.Duration) *Generator {
	return &Generator{textGen: textGen, timeout: timeout}
}

// Generate asks the model for a plan exactly once. Every failure is returned
// as a *GenerationError. The returned AgentMeta carries whatever usage the
// model reported, also on failure.
func (g *Generator) Generate(ctx context.Context, attrs nutrition.UserAttributes) (*nutrition.Plan, shared.AgentMeta, error) {
	start := time.Now()
	meta := shared.AgentMeta{AgentName: AgentName}

	prompt, err := buildGeneratorPrompt(attrs)
	if err != nil {
		return nil, meta, fmt.Errorf("failed to build generator prompt: %w", err)
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	resp, err := g.textGen.GenerateContent(ctx, prompt)
	meta.Latency = time.Since(start)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = fmt.Errorf("%w: %w", ctxErr, err)
		}
		return nil, meta, &GenerationError{Reason: transportReason(err), Err: err}
	}
	meta.Usage = resp.Usage

	plan, err := ParsePlan(resp.Content)
	if err != nil {
		return nil, meta, err
	}
	return plan, meta, nil
}

// ParsePlan decodes and validates a model response. The plan may be wrapped
// in a "dietPlan" object and may be surrounded by a markdown code fence.
func ParsePlan(content string) (*nutrition.Plan, error) {
	content = stripCodeFence(content)
	if content == "" {
		return nil, &GenerationError{Reason: ReasonMalformed, Err: fmt.Errorf("empty response")}
	}

	var envelope struct {
		DietPlan json.RawMessage `json:"dietPlan"`
	}
	if err := json.Unmarshal([]byte(content), &envelope); err != nil {
		return nil, &GenerationError{Reason: ReasonMalformed, Err: fmt.Errorf("failed to parse response: %w", err)}
	}

	body := []byte(content)
	if len(envelope.DietPlan) > 0 && !bytes.Equal(envelope.DietPlan, []byte("null")) {
		body = envelope.DietPlan
	}

	var plan nutrition.Plan
	if err := json.Unmarshal(body, &plan); err != nil {
		return nil, &GenerationError{Reason: ReasonMalformed, Err: fmt.Errorf("failed to parse plan: %w", err)}
	}

	if err := validatePlan(&plan); err != nil {
		return nil, &GenerationError{Reason: ReasonInvalidStructure, Err: err}
	}

	if normalized, err := NormalizeMacros(&plan.Macronutrients); err != nil {
		return nil, &GenerationError{Reason: ReasonInvalidStructure, Err: err}
	} else if normalized {
		log.Printf("Warning: macronutrient percentages did not add up to 100, rescaled to %.1f/%.1f/%.1f",
			plan.Macronutrients.Protein.Percentage, plan.Macronutrients.Carbs.Percentage, plan.Macronutrients.Fats.Percentage)
	}

	return &plan, nil
}

// macroTolerance is how far, in percentage points, the macronutrient sum may
// drift from 100 before it is rescaled.
const macroTolerance = 1.0

// NormalizeMacros rescales the three percentages so they add up to 100 when
// they are off by more than one point. It reports whether it changed anything.
// An all-zero breakdown cannot be rescaled and is an error.
func NormalizeMacros(m *nutrition.Macronutrients) (bool, error) {
	sum := m.PercentageSum()
	if sum <= 0 {
		return false, fmt.Errorf("macronutrient percentages are all zero")
	}
	if math.Abs(sum-100) <= macroTolerance {
		return false, nil
	}

	scale := func(p float64) float64 {
		return math.Round(p*1000/sum) / 10
	}
	m.Protein.Percentage = scale(m.Protein.Percentage)
	m.Carbs.Percentage = scale(m.Carbs.Percentage)
	m.Fats.Percentage = scale(m.Fats.Percentage)
	return true, nil
}

func validatePlan(p *nutrition.Plan) error {
	if len(p.Meals) == 0 {
		return fmt.Errorf("plan has no meals")
	}
	if p.DailyCalories <= 0 || math.IsNaN(p.DailyCalories) || math.IsInf(p.DailyCalories, 0) {
		return fmt.Errorf("daily calories must be positive, got %v", p.DailyCalories)
	}

	macros := map[string]nutrition.Macro{
		"protein": p.Macronutrients.Protein,
		"carbs":   p.Macronutrients.Carbs,
		"fats":    p.Macronutrients.Fats,
	}
	for name, m := range macros {
		if m.Grams < 0 {
			return fmt.Errorf("%s grams must not be negative", name)
		}
		if m.Percentage < 0 || m.Percentage > 100 {
			return fmt.Errorf("%s percentage %v is outside [0,100]", name, m.Percentage)
		}
	}

	if p.Hydration.WaterIntakeML < 0 {
		return fmt.Errorf("water intake must not be negative")
	}

	for i, meal := range p.Meals {
		if len(meal.Foods) == 0 {
			return fmt.Errorf("meal %d (%s) has no foods", i+1, meal.Type)
		}
		for _, f := range meal.Foods {
			if strings.TrimSpace(f.Name) == "" {
				return fmt.Errorf("meal %d (%s) has a food without a name", i+1, meal.Type)
			}
			if f.Calories < 0 {
				return fmt.Errorf("food %q has negative calories", f.Name)
			}
		}
	}
	return nil
}

func buildGeneratorPrompt(attrs nutrition.UserAttributes) (string, error) {
	data := generatorPromptData{
		DietType:    string(attrs.DietType),
		Goal:        string(attrs.Goal),
		Age:         attrs.Age.String(),
		Height:      attrs.Height.String(),
		Weight:      attrs.Weight.String(),
		Sex:         attrs.Sex,
		Allergies:   attrs.Allergies,
		Preferences: attrs.FoodPreferences,
		MealTypes:   nutrition.MealTypes,
		Categories:  nutrition.FoodCategories,
	}
	if data.DietType == "" {
		data.DietType = string(nutrition.DietOmnivore)
	}
	if data.Goal == "" {
		data.Goal = string(nutrition.GoalMaintain)
	}

	var buf bytes.Buffer
	if err := promptTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func transportReason(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ReasonTimeout
	}
	return ReasonUnreachable
}
