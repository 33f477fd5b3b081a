package speech

import (
	"strings"
)

// Unit expansions applied to dosage strings. Longer tokens come first so that
// "mcg" is never read as "mg" or "g".
var dosageUnits = []struct {
	token  string
	spoken string
}{
	{"mcg", " micrograms"},
	{"mg", " milligrams"},
	{"ml", " milliliters"},
	{"g", " grams"},
}

// SpokenDosage expands unit abbreviations in a dosage so a speech engine reads them as words.
// Matching is case-insensitive and runs in a single pass, so expanded text is never matched again.
func SpokenDosage(dosage string) string {
	var b strings.Builder
	b.Grow(len(dosage) + 16)

	for i := 0; i < len(dosage); {
		matched := false
		for _, u := range dosageUnits {
			end := i + len(u.token)
			if end <= len(dosage) && strings.EqualFold(dosage[i:end], u.token) {
				b.WriteString(u.spoken)
				i = end
				matched = true
				break
			}
		}
		if !matched {
			b.WriteByte(dosage[i])
			i++
		}
	}

	return strings.TrimSpace(b.String())
}

// Message composes the reminder announcement.
func Message(medicineName, dosage, instructions string) string {
	var b strings.Builder
	b.WriteString("Time to take your medicine. ")
	b.WriteString(medicineName)
	b.WriteString(", ")
	b.WriteString(SpokenDosage(dosage))
	b.WriteString(". ")
	if instructions != "" {
		b.WriteString(instructions)
		b.WriteString(". ")
	}
	b.WriteString("Please take your medicine now.")
	return b.String()
}
