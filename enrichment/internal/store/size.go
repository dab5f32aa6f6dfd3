package store

import (
	"strconv"
	"strings"
)

// NormalizeSize turns the half sizes marketplaces print without a dot into
// their decimal form: "65" -> "6.5", "105" -> "10.5". Other values pass
// through unchanged.
func NormalizeSize(size string) string {
	if len(size) != 2 && len(size) != 3 {
		return size
	}
	n, err := strconv.Atoi(size)
	if err != nil || n < 0 || n%10 != 5 {
		return size
	}
	if (len(size) == 2 && n >= 65 && n <= 95) || (len(size) == 3 && n >= 105 && n <= 115) {
		return strconv.Itoa(n/10) + ".5"
	}
	return size
}

// SizeVariants lists the spellings a size may be stored under: as given,
// normalized, and with the decimal separator swapped. The result has no
// duplicates and keeps that order.
func SizeVariants(size string) []string {
	if size == "" {
		return []string{""}
	}
	out := []string{size}
	add := func(v string) {
		for _, have := range out {
			if have == v {
				return
			}
		}
		out = append(out, v)
	}
	if norm := NormalizeSize(size); norm != size {
		add(norm)
		add(strings.ReplaceAll(norm, ".", ","))
	}
	switch {
	case strings.Contains(size, "."):
		add(strings.ReplaceAll(size, ".", ","))
	case strings.Contains(size, ","):
		add(strings.ReplaceAll(size, ",", "."))
	}
	return out
}
