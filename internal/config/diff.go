package config

import (
	"fmt"
	"sort"
)

// Diff compares two config trees and returns the dotted key paths that are
// new or changed in each direction: entries in first (the incoming config)
// that second lacks or values them differently, and the mirror-image list
// for second (the previously persisted config). Every reported line carries
// a value summary; subtree values are abbreviated to their type.
func Diff(first, second any) (inFirst, inSecond []string) {
	return diffNodes(first, second, "")
}

func diffNodes(first, second any, prefix string) (inFirst, inSecond []string) {
	firstMap, firstIsMap := asMapping(first)
	secondMap, secondIsMap := asMapping(second)
	firstSeq, firstIsSeq := first.([]any)
	secondSeq, secondIsSeq := second.([]any)

	switch {
	case firstIsMap && secondIsMap:
		keys := map[string]struct{}{}
		for key := range firstMap {
			keys[key] = struct{}{}
		}
		for key := range secondMap {
			keys[key] = struct{}{}
		}
		for _, key := range sortedKeySet(keys) {
			subPrefix := joinPath(prefix, key)
			firstVal, inA := firstMap[key]
			secondVal, inB := secondMap[key]
			switch {
			case inA && !inB:
				inFirst = append(inFirst, diffLine(subPrefix, firstVal))
			case !inA && inB:
				inSecond = append(inSecond, diffLine(subPrefix, secondVal))
			default:
				subFirst, subSecond := diffNodes(firstVal, secondVal, subPrefix)
				inFirst = append(inFirst, subFirst...)
				inSecond = append(inSecond, subSecond...)
			}
		}

	case firstIsSeq && secondIsSeq:
		shorter := len(firstSeq)
		if len(secondSeq) < shorter {
			shorter = len(secondSeq)
		}
		for i := 0; i < shorter; i++ {
			subFirst, subSecond := diffNodes(firstSeq[i], secondSeq[i], joinPath(prefix, fmt.Sprintf("%d", i)))
			inFirst = append(inFirst, subFirst...)
			inSecond = append(inSecond, subSecond...)
		}
		for i := shorter; i < len(firstSeq); i++ {
			inFirst = append(inFirst, diffLine(joinPath(prefix, fmt.Sprintf("%d", i)), firstSeq[i]))
		}
		for i := shorter; i < len(secondSeq); i++ {
			inSecond = append(inSecond, diffLine(joinPath(prefix, fmt.Sprintf("%d", i)), secondSeq[i]))
		}

	default:
		if !scalarsEqual(first, second) {
			inFirst = append(inFirst, diffLine(prefix, first))
			inSecond = append(inSecond, diffLine(prefix, second))
		}
	}
	return inFirst, inSecond
}

func asMapping(node any) (map[string]any, bool) {
	m, ok := node.(map[string]any)
	return m, ok
}

// scalarsEqual compares leaf values, normalizing across the integer and
// float representations YAML decoding can produce for the same number.
func scalarsEqual(a, b any) bool {
	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			return af == bf
		}
		return false
	}
	return a == b
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func diffLine(prefix string, value any) string {
	switch value.(type) {
	case map[string]any, []any:
		return fmt.Sprintf("%s= ... (%T)", prefix, value)
	default:
		return fmt.Sprintf("%s=%v", prefix, value)
	}
}

func sortedKeySet(keys map[string]struct{}) []string {
	out := make([]string, 0, len(keys))
	for key := range keys {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
