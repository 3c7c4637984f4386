package nutrition

import (
	"fmt"
	"math"
)

// NotAvailable is displayed for values that cannot be derived.
const NotAvailable = "N/A"

// BMI is a body-mass-index reading.
type BMI struct {
	Value float64
	Valid bool
}

// CalculateBMI expects height in centimeters and weight in kilograms.
// Missing or implausible inputs yield an invalid reading rather than an error.
func CalculateBMI(heightCm, weightKg Number) BMI {
	if !heightCm.Provided() || !weightKg.Provided() {
		return BMI{}
	}

	h := float64(heightCm) / 100.0 // to meters
	bmi := float64(weightKg) / (h * h)
	if math.IsNaN(bmi) || math.IsInf(bmi, 0) {
		return BMI{}
	}
	return BMI{Value: bmi, Valid: true}
}

// Category maps the reading onto the standard clinical thresholds.
func (b BMI) Category() string {
	if !b.Valid {
		return NotAvailable
	}
	switch {
	case b.Value < 18.5:
		return "Underweight"
	case b.Value < 25.0:
		return "Normal weight"
	case b.Value < 30.0:
		return "Overweight"
	default:
		return "Obese"
	}
}

// String formats the value with one decimal, or "N/A".
func (b BMI) String() string {
	if !b.Valid {
		return NotAvailable
	}
	return fmt.Sprintf("%.1f", b.Value)
}
