package document

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// MealSummary is the manifest entry for one printed meal.
type MealSummary struct {
	Type      string `json:"type"`
	FoodCount int    `json:"foodCount"`
}

// MacroSummary is the manifest entry for one macronutrient row.
type MacroSummary struct {
	Name       string  `json:"name"`
	Grams      float64 `json:"grams"`
	Percentage float64 `json:"percentage"`
}

// Manifest describes what was printed into a document. It is stored beside
// the PDF as <key>.json.
type Manifest struct {
	Document      string         `json:"document"`
	Pages         int            `json:"pages"`
	Sections      []string       `json:"sections"`
	DailyCalories float64        `json:"dailyCalories"`
	BMI           string         `json:"bmi"`
	BMICategory   string         `json:"bmiCategory"`
	Macros        []MacroSummary `json:"macronutrients"`
	MealCount     int            `json:"mealCount"`
	Meals         []MealSummary  `json:"meals"`
	CreatedAt     time.Time      `json:"createdAt"`
}

// FoodCounts returns the number of foods in each meal, in meal order.
func (m *Manifest) FoodCounts() []int {
	counts := make([]int, len(m.Meals))
	for i, meal := range m.Meals {
		counts[i] = meal.FoodCount
	}
	return counts
}

func newManifest(h Handle, l Layout, sections []string, pages int) Manifest {
	m := Manifest{
		Document:      h.Key,
		Pages:         pages,
		Sections:      sections,
		DailyCalories: l.DailyCalories,
		BMI:           l.BMI.String(),
		BMICategory:   l.BMI.Category(),
		MealCount:     len(l.Meals),
		CreatedAt:     h.CreatedAt,
	}
	for _, row := range l.Macros {
		m.Macros = append(m.Macros, MacroSummary{Name: row.Name, Grams: row.Grams, Percentage: row.Percentage})
	}
	for _, meal := range l.Meals {
		m.Meals = append(m.Meals, MealSummary{Type: string(meal.Type), FoodCount: len(meal.Foods)})
	}
	return m
}

func manifestKey(key string) string {
	return key + ".json"
}

// Inspect reads the manifest stored for a document.
func Inspect(ctx context.Context, store Store, h Handle) (*Manifest, error) {
	raw, err := store.Get(ctx, manifestKey(h.Key))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	return &m, nil
}
