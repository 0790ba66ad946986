package kindswitch

import "obsstore/pkg/domain"

func partial(k domain.Kind) string {
	switch k {
	case domain.KindBoolean, domain.KindCount:
		return "scalar"
	case domain.KindComplex:
		return "composite"
	}
	return ""
}

func withDefault(k domain.Kind) bool {
	switch k {
	case domain.KindProfile:
		return true
	default:
		return false
	}
}

func untagged(k domain.Kind) bool {
	switch {
	case k == domain.KindText:
		return true
	}
	return false
}

func other(s string) int {
	switch s {
	case "a":
		return 1
	}
	return 0
}
