package genomics

import (
	"sort"
	"strconv"
	"strings"
)

// NormalizeReference returns the reference name without a "chr" prefix.
func NormalizeReference(name string) string {
	if len(name) > 3 && strings.EqualFold(name[:3], "chr") {
		return name[3:]
	}
	return name
}

// reference classes, in display order
const (
	refNumeric = iota
	refX
	refY
	refMito
	refOther
)

func classify(name string) (class int, num int) {
	n := NormalizeReference(name)
	if v, err := strconv.Atoi(n); err == nil && v >= 0 {
		return refNumeric, v
	}
	switch strings.ToUpper(n) {
	case "X":
		return refX, 0
	case "Y":
		return refY, 0
	case "M", "MT":
		return refMito, 0
	}
	return refOther, 0
}

// CompareReferences orders reference names the way people expect to read
// them: numbered chromosomes numerically, then X, Y and mitochondrial, then
// everything else lexically. It returns -1, 0 or 1.
func CompareReferences(a, b string) int {
	ca, na := classify(a)
	cb, nb := classify(b)
	if ca != cb {
		return cmpInt(ca, cb)
	}
	if ca == refNumeric && na != nb {
		return cmpInt(na, nb)
	}
	if c := strings.Compare(NormalizeReference(a), NormalizeReference(b)); c != 0 {
		return c
	}
	return strings.Compare(a, b)
}

// SortReferences sorts names in place with CompareReferences.
func SortReferences(names []string) {
	sort.Slice(names, func(i, j int) bool {
		return CompareReferences(names[i], names[j]) < 0
	})
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
