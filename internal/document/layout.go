package document

import (
	"fmt"
	"strings"
	"time"

	"diet-plan-delivery/internal/nutrition"

	"github.com/PuerkitoBio/goquery"
)

// Section names, in the order they appear in a document.
const (
	SectionHeader   = "header"
	SectionUserInfo = "user_info"
	SectionMacros   = "macronutrients"
	SectionMeals    = "meals"
	SectionTips     = "tips"
)

// SectionOrder is the fixed order sections are written in.
var SectionOrder = []string{SectionHeader, SectionUserInfo, SectionMacros, SectionMeals, SectionTips}

// Field is a label/value pair in the user info block.
type Field struct {
	Label string
	Value string
}

// MacroRow is one line of the macronutrient table.
type MacroRow struct {
	Name       string
	Grams      float64
	Percentage float64
}

// FoodLine is one food item as printed.
type FoodLine struct {
	Name     string
	Quantity string
	Calories string
	Notes    string
}

// MealBlock is one meal as printed.
type MealBlock struct {
	Type     nutrition.MealType
	Title    string
	Calories string
	Foods    []FoodLine
}

// Layout is the printable model of a plan. It holds display-ready text so
// the PDF writer does no formatting decisions of its own.
type Layout struct {
	Title         string
	Subtitle      string
	Date          string
	UserInfo      []Field
	BMI           nutrition.BMI
	DailyCalories float64
	Macros        []MacroRow
	Meals         []MealBlock
	Hydration     string
	Tips          []string
	Footer        string
}

// BuildLayout maps a plan and the user's attributes onto a Layout. Missing
// attributes are shown as N/A.
func BuildLayout(plan *nutrition.Plan, attrs nutrition.UserAttributes, now time.Time) Layout {
	bmi := nutrition.CalculateBMI(attrs.Height, attrs.Weight)

	l := Layout{
		Title:         "Personalized Nutrition Plan",
		Subtitle:      plainText(plan.Description),
		Date:          now.Format("2006-01-02"),
		BMI:           bmi,
		DailyCalories: plan.DailyCalories,
		Footer:        "NutriPlan - this plan does not replace a consultation with a health professional",
	}

	bmiValue := bmi.String()
	if bmi.Valid {
		bmiValue = fmt.Sprintf("%s (%s)", bmi.String(), bmi.Category())
	}

	l.UserInfo = []Field{
		{Label: "Name", Value: attrs.DisplayName()},
		{Label: "Age", Value: withUnit(attrs.Age, "years")},
		{Label: "Height", Value: withUnit(attrs.Height, "cm")},
		{Label: "Weight", Value: withUnit(attrs.Weight, "kg")},
		{Label: "BMI", Value: bmiValue},
		{Label: "Goal", Value: orNA(string(attrs.Goal))},
		{Label: "Diet type", Value: orNA(string(attrs.DietType))},
		{Label: "Allergies", Value: orNone(attrs.Allergies.String())},
		{Label: "Daily target", Value: fmt.Sprintf("%.0f kcal", plan.DailyCalories)},
	}

	l.Macros = []MacroRow{
		{Name: "Protein", Grams: plan.Macronutrients.Protein.Grams, Percentage: plan.Macronutrients.Protein.Percentage},
		{Name: "Carbohydrates", Grams: plan.Macronutrients.Carbs.Grams, Percentage: plan.Macronutrients.Carbs.Percentage},
		{Name: "Fats", Grams: plan.Macronutrients.Fats.Grams, Percentage: plan.Macronutrients.Fats.Percentage},
	}

	for _, meal := range plan.Meals {
		block := MealBlock{
			Type:     meal.Type,
			Title:    meal.Type.Label(),
			Calories: fmt.Sprintf("%.0f kcal", meal.Calories()),
		}
		for _, f := range meal.Foods {
			block.Foods = append(block.Foods, FoodLine{
				Name:     plainText(f.Name),
				Quantity: plainText(f.Quantity),
				Calories: fmt.Sprintf("%.0f kcal", f.Calories),
				Notes:    plainText(f.Notes),
			})
		}
		l.Meals = append(l.Meals, block)
	}

	if plan.Hydration.WaterIntakeML > 0 {
		l.Hydration = fmt.Sprintf("%.1f L of water per day", float64(plan.Hydration.WaterIntakeML)/1000)
		if rec := plainText(plan.Hydration.Recommendations); rec != "" {
			l.Hydration += ". " + rec
		}
	}

	for _, para := range strings.Split(plan.NutritionalTips, "\n") {
		if para = plainText(para); para != "" {
			l.Tips = append(l.Tips, para)
		}
	}

	return l
}

// plainText strips any markup the model put into free text.
func plainText(s string) string {
	s = strings.TrimSpace(s)
	if !strings.ContainsAny(s, "<&") {
		return s
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

func withUnit(n nutrition.Number, unit string) string {
	if !n.Provided() {
		return nutrition.NotAvailable
	}
	return n.String() + " " + unit
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return nutrition.NotAvailable
	}
	return s
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "None"
	}
	return s
}
