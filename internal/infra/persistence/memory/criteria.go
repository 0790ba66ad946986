package memory

import (
	"fmt"
	"strings"
	"time"

	"obsstore/pkg/domain"
)

func matchAll(obs domain.Observation, preds []domain.Predicate) (bool, error) {
	for _, p := range preds {
		ok, err := match(obs, p)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func match(obs domain.Observation, p domain.Predicate) (bool, error) {
	got, known := domain.FieldValue(obs, p.Field)
	if !known {
		return false, fmt.Errorf("memory: unknown field %q", p.Field)
	}
	switch p.Op {
	case domain.OpNull:
		wantNull, ok := p.Value.(bool)
		if !ok {
			return false, fmt.Errorf("memory: null predicate on %s needs a bool", p.Field)
		}
		return (got == nil) == wantNull, nil
	case domain.OpIn:
		ids, ok := p.Value.([]int64)
		if !ok {
			return false, fmt.Errorf("memory: in predicate on %s needs []int64", p.Field)
		}
		for _, id := range ids {
			if c, err := compare(got, id); err == nil && c == 0 && got != nil {
				return true, nil
			}
		}
		return false, nil
	}
	if got == nil {
		return false, nil
	}
	c, err := compare(got, p.Value)
	if err != nil {
		return false, fmt.Errorf("memory: field %s: %w", p.Field, err)
	}
	switch p.Op {
	case domain.OpEq:
		return c == 0, nil
	case domain.OpNe:
		return c != 0, nil
	case domain.OpLt:
		return c < 0, nil
	case domain.OpLe:
		return c <= 0, nil
	case domain.OpGt:
		return c > 0, nil
	case domain.OpGe:
		return c >= 0, nil
	}
	return false, fmt.Errorf("memory: unsupported operator %q", p.Op)
}

// compare orders two field values of the same type. Nil sorts first.
func compare(a, b any) (int, error) {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0, nil
		case a == nil:
			return -1, nil
		default:
			return 1, nil
		}
	}
	if n, ok := b.(int); ok {
		b = int64(n)
	}
	switch av := a.(type) {
	case int64:
		bv, ok := b.(int64)
		if !ok {
			return 0, fmt.Errorf("cannot compare %T with %T", a, b)
		}
		switch {
		case av < bv:
			return -1, nil
		case av > bv:
			return 1, nil
		}
		return 0, nil
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0, fmt.Errorf("cannot compare %T with %T", a, b)
		}
		switch {
		case av == bv:
			return 0, nil
		case !av:
			return -1, nil
		}
		return 1, nil
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, fmt.Errorf("cannot compare %T with %T", a, b)
		}
		return strings.Compare(av, bv), nil
	case time.Time:
		bv, ok := b.(time.Time)
		if !ok {
			return 0, fmt.Errorf("cannot compare %T with %T", a, b)
		}
		return av.Compare(bv), nil
	}
	return 0, fmt.Errorf("unsupported field type %T", a)
}
