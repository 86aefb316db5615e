package domain

import (
	"strconv"
	"strings"
)

// FlowIndex is a dotted numeric string ("1.1.2") giving an inference's
// place in the support hierarchy. Items whose index extends F with "."
// are F's supporters; items whose index is a strict prefix of F are F's
// dependents.
type FlowIndex string

// Parts splits the index into integer components. Malformed components
// sort as zero; the parser never produces them.
func (f FlowIndex) Parts() []int {
	raw := strings.Split(string(f), ".")
	parts := make([]int, len(raw))
	for i, p := range raw {
		n, _ := strconv.Atoi(p)
		parts[i] = n
	}
	return parts
}

// Less orders flow indices component-wise as integer tuples, so "1.10"
// sorts after "1.9".
func (f FlowIndex) Less(other FlowIndex) bool {
	a, b := f.Parts(), other.Parts()
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

// Supports reports whether f is a supporter of target, i.e. f starts
// with target + ".".
func (f FlowIndex) Supports(target FlowIndex) bool {
	return strings.HasPrefix(string(f), string(target)+".")
}

// IsAncestorOf reports whether f is a strict flow-index ancestor of
// other (other starts with f + ".").
func (f FlowIndex) IsAncestorOf(other FlowIndex) bool {
	return other.Supports(f)
}

func (f FlowIndex) String() string { return string(f) }
