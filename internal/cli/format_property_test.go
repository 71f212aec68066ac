package cli

import (
	"math"
	"regexp"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Feature: nifty-breakout, Property 9: Indian number formatting
//
// Property: For any amount, FormatIndianCurrency starts with ₹ (or -₹), has
// exactly 2 decimal places, groups digits 3 then 2 from the right, and
// parses back to the amount rounded to paise.
func TestProperty_IndianCurrencyFormatting(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	indianPattern := regexp.MustCompile(`^(\d{1,2},)*\d{1,3}$`)

	properties.Property("FormatIndianCurrency produces valid Indian format", prop.ForAll(
		func(amount float64) bool {
			formatted := FormatIndianCurrency(amount)

			if amount >= 0 && !strings.HasPrefix(formatted, "₹") {
				t.Logf("Expected ₹ prefix for %f, got %s", amount, formatted)
				return false
			}
			if amount < 0 && !strings.HasPrefix(formatted, "-₹") {
				t.Logf("Expected -₹ prefix for %f, got %s", amount, formatted)
				return false
			}

			parts := strings.Split(formatted, ".")
			if len(parts) != 2 || len(parts[1]) != 2 {
				t.Logf("Expected 2 decimal places for %f, got %s", amount, formatted)
				return false
			}

			numPart := strings.TrimPrefix(strings.TrimPrefix(parts[0], "-"), "₹")
			if !indianPattern.MatchString(numPart) {
				t.Logf("Invalid Indian format for %f: %s", amount, formatted)
				return false
			}
			return true
		},
		gen.Float64Range(-1e12, 1e12),
	))

	properties.Property("FormatIndianCurrency preserves value", prop.ForAll(
		func(amount float64) bool {
			parsed := parseIndianCurrency(FormatIndianCurrency(amount))
			rounded := math.Round(amount*100) / 100
			if math.Abs(parsed-rounded) > 0.01 {
				t.Logf("Value not preserved: original=%f, parsed=%f", amount, parsed)
				return false
			}
			return true
		},
		gen.Float64Range(-1e9, 1e9),
	))

	properties.Property("FormatPercent signs and suffixes", prop.ForAll(
		func(value float64) bool {
			formatted := FormatPercent(value)
			if !strings.HasSuffix(formatted, "%") {
				return false
			}
			return value <= 0 || strings.HasPrefix(formatted, "+")
		},
		gen.Float64Range(-100, 100),
	))

	properties.Property("FormatVolume uses correct units", prop.ForAll(
		func(volume int64) bool {
			formatted := FormatVolume(volume)
			switch {
			case volume >= 10000000:
				return strings.HasSuffix(formatted, " Cr")
			case volume >= 100000:
				return strings.HasSuffix(formatted, " L")
			case volume >= 1000:
				return strings.HasSuffix(formatted, " K")
			}
			return !strings.Contains(formatted, " ")
		},
		gen.Int64Range(0, 1e12),
	))

	properties.TestingRun(t)
}

// parseIndianCurrency parses an Indian currency formatted string back to float64
func parseIndianCurrency(s string) float64 {
	negative := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	s = strings.TrimPrefix(s, "₹")
	s = strings.ReplaceAll(s, ",", "")

	var parsed float64
	for i, c := range s {
		if c == '.' {
			for j, d := range s[i+1:] {
				if d >= '0' && d <= '9' {
					parsed += float64(d-'0') / math.Pow(10, float64(j+1))
				}
			}
			break
		}
		if c >= '0' && c <= '9' {
			parsed = parsed*10 + float64(c-'0')
		}
	}

	if negative {
		parsed = -parsed
	}
	return parsed
}

func TestIndianNumberFormatExamples(t *testing.T) {
	testCases := []struct {
		amount   float64
		expected string
	}{
		{0, "₹0.00"},
		{100, "₹100.00"},
		{1000, "₹1,000.00"},
		{100000, "₹1,00,000.00"},      // 1 lakh
		{10000000, "₹1,00,00,000.00"}, // 1 crore
		{-1234.56, "-₹1,234.56"},
		{12345678.90, "₹1,23,45,678.90"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			if got := FormatIndianCurrency(tc.amount); got != tc.expected {
				t.Errorf("FormatIndianCurrency(%f) = %s, want %s", tc.amount, got, tc.expected)
			}
		})
	}
}

func TestScanFormatExamples(t *testing.T) {
	testCases := []struct {
		name string
		got  string
		want string
	}{
		{"percent zero", FormatPercent(0), "0.00%"},
		{"percent up", FormatPercent(7.84), "+7.84%"},
		{"percent down", FormatPercent(-2.5), "-2.50%"},
		{"volume small", FormatVolume(950), "950"},
		{"volume thousands", FormatVolume(1500), "1.50 K"},
		{"volume lakhs", FormatVolume(2500000), "25.00 L"},
		{"volume crores", FormatVolume(31000000), "3.10 Cr"},
		{"avg volume rounds", FormatAvgVolume(1499.6), "1.50 K"},
		{"price", FormatPrice(2456.5), "2456.50"},
		{"penny price", FormatPrice(4.25), "4.2500"},
		{"ratio", FormatRatio(1.853), "1.85x"},
		{"truncate", TruncateString("Reliance Industries", 10), "Relianc..."},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.got != tc.want {
				t.Errorf("got %q, want %q", tc.got, tc.want)
			}
		})
	}
}
