package nutrition

import (
	"encoding/json"
	"math"
	"strings"
)

// MealType tags a meal within the day.
type MealType string

const (
	MealBreakfast MealType = "breakfast"
	MealLunch     MealType = "lunch"
	MealDinner    MealType = "dinner"
	MealSnack     MealType = "snack"
)

// MealTypes lists the known meal types in daily order.
var MealTypes = []MealType{MealBreakfast, MealLunch, MealDinner, MealSnack}

// Label returns a capitalised label for display.
func (t MealType) Label() string {
	s := strings.TrimSpace(string(t))
	if s == "" {
		return "Meal"
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// FoodCategory classifies a food item.
type FoodCategory string

const (
	CategoryProtein   FoodCategory = "protein"
	CategoryCarb      FoodCategory = "carbohydrate"
	CategoryVegetable FoodCategory = "vegetable"
	CategoryFruit     FoodCategory = "fruit"
	CategoryDairy     FoodCategory = "dairy"
	CategoryFat       FoodCategory = "fat"
	CategoryBeverage  FoodCategory = "beverage"
	CategoryOther     FoodCategory = "other"
)

// FoodCategories lists every category offered to the model.
var FoodCategories = []FoodCategory{
	CategoryProtein, CategoryCarb, CategoryVegetable, CategoryFruit,
	CategoryDairy, CategoryFat, CategoryBeverage, CategoryOther,
}

// Food is a single item within a meal.
type Food struct {
	Name     string       `json:"name"`
	Category FoodCategory `json:"category"`
	Quantity string       `json:"quantity"`
	Calories float64      `json:"calories"`
	Notes    string       `json:"notes,omitempty"`
}

// Meal is an ordered group of foods eaten together.
type Meal struct {
	Type  MealType `json:"type"`
	Foods []Food   `json:"foods"`
}

// UnmarshalJSON also accepts the "mealType" spelling some model responses use.
func (m *Meal) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type     MealType `json:"type"`
		MealType MealType `json:"mealType"`
		Foods    []Food   `json:"foods"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.Type = raw.Type
	if m.Type == "" {
		m.Type = raw.MealType
	}
	m.Type = MealType(strings.ToLower(strings.TrimSpace(string(m.Type))))
	m.Foods = raw.Foods
	return nil
}

// Calories sums the calorie estimates of the meal's foods.
func (m Meal) Calories() float64 {
	var total float64
	for _, f := range m.Foods {
		total += f.Calories
	}
	return total
}

// Macro is one macronutrient entry.
type Macro struct {
	Grams      float64 `json:"grams"`
	Percentage float64 `json:"percentage"`
}

// Macronutrients is the protein/carbs/fats breakdown of the daily target.
type Macronutrients struct {
	Protein Macro `json:"protein"`
	Carbs   Macro `json:"carbs"`
	Fats    Macro `json:"fats"`
}

// PercentageSum returns protein+carbs+fats percentages.
func (m Macronutrients) PercentageSum() float64 {
	return m.Protein.Percentage + m.Carbs.Percentage + m.Fats.Percentage
}

// Hydration is the daily water target.
type Hydration struct {
	WaterIntakeML   int    `json:"waterIntake"`
	Recommendations string `json:"recommendations,omitempty"`
}

// UnmarshalJSON accepts the water target as a number or a numeric string and
// rounds it to whole milliliters. Negative values stay negative so that
// validation can reject them.
func (h *Hydration) UnmarshalJSON(data []byte) error {
	var raw struct {
		WaterIntake     Number `json:"waterIntake"`
		Recommendations string `json:"recommendations"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	ml := float64(raw.WaterIntake)
	if ml < 0 {
		ml = math.Floor(ml)
	} else {
		ml = math.Round(ml)
	}
	h.WaterIntakeML = int(ml)
	h.Recommendations = raw.Recommendations
	return nil
}

// Plan is a generated daily nutrition plan. It is created once per request
// and only read afterwards.
type Plan struct {
	Description     string         `json:"description,omitempty"`
	DailyCalories   float64        `json:"dailyCalories"`
	Macronutrients  Macronutrients `json:"macronutrients"`
	Meals           []Meal         `json:"meals"`
	Hydration       Hydration      `json:"hydration"`
	NutritionalTips string         `json:"nutritionalTips,omitempty"`
}

// FoodCounts returns the number of foods in each meal, in meal order.
func (p *Plan) FoodCounts() []int {
	counts := make([]int, len(p.Meals))
	for i, m := range p.Meals {
		counts[i] = len(m.Foods)
	}
	return counts
}
