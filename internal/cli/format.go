package cli

import (
	"fmt"
	"strings"
	"time"

	"nifty-breakout/pkg/utils"
)

// FormatIndianCurrency formats a number in Indian currency format (lakhs, crores).
func FormatIndianCurrency(amount float64) string {
	negative := amount < 0
	if negative {
		amount = -amount
	}

	str := fmt.Sprintf("%.2f", amount)
	parts := strings.Split(str, ".")

	result := "₹" + formatIndianNumber(parts[0]) + "." + parts[1]
	if negative {
		result = "-" + result
	}
	return result
}

// formatIndianNumber formats an integer string in Indian numbering system.
// Indian system: 1,00,00,000 (1 crore) vs Western: 10,000,000
func formatIndianNumber(s string) string {
	n := len(s)
	if n <= 3 {
		return s
	}

	// First group of 3 from right, then groups of 2
	result := s[n-3:]
	s = s[:n-3]
	for len(s) > 0 {
		if len(s) >= 2 {
			result = s[len(s)-2:] + "," + result
			s = s[:len(s)-2]
		} else {
			result = s + "," + result
			s = ""
		}
	}
	return result
}

// FormatPercent formats a percentage with sign.
func FormatPercent(value float64) string {
	sign := ""
	if value > 0 {
		sign = "+"
	}
	return fmt.Sprintf("%s%.2f%%", sign, value)
}

// FormatVolume formats volume in compact form.
func FormatVolume(volume int64) string {
	switch {
	case volume >= 10000000: // 1 crore
		return fmt.Sprintf("%.2f Cr", float64(volume)/10000000)
	case volume >= 100000: // 1 lakh
		return fmt.Sprintf("%.2f L", float64(volume)/100000)
	case volume >= 1000:
		return fmt.Sprintf("%.2f K", float64(volume)/1000)
	}
	return fmt.Sprintf("%d", volume)
}

// FormatAvgVolume formats a fractional baseline volume.
func FormatAvgVolume(volume float64) string {
	return FormatVolume(int64(volume + 0.5))
}

// FormatPrice formats a price. Sub-10 prices keep four decimals.
func FormatPrice(price float64) string {
	if price < 10 {
		return fmt.Sprintf("%.4f", price)
	}
	return fmt.Sprintf("%.2f", price)
}

// FormatRatio formats a volume ratio such as 1.85x.
func FormatRatio(ratio float64) string {
	return fmt.Sprintf("%.2fx", ratio)
}

// FormatTime formats a time in IST.
func FormatTime(t time.Time) string {
	return t.In(utils.IndiaLocation).Format("15:04:05")
}

// FormatDateTime formats a datetime in IST.
func FormatDateTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.In(utils.IndiaLocation).Format("02-Jan-2006 15:04:05")
}

// FormatDuration formats a duration in human-readable form.
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
	return fmt.Sprintf("%dd %dh", int(d.Hours())/24, int(d.Hours())%24)
}

// TruncateString truncates a string to max length with ellipsis.
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
