package knowledge

import (
	"github.com/pharmaguard-server/internal/domain"
)

// PhenotypeFromFunctions derives a phenotype from the functional status of
// both alleles. It is used for diplotypes that a gene's table does not list.
//
//	normal + normal                    NM
//	normal + increased                 RM
//	increased + increased              URM
//	normal + decreased|no_function     IM
//	decreased + decreased              IM
//	increased + decreased|no_function  IM
//	decreased + no_function            PM
//	no_function + no_function          PM
//
// Any uncertain allele makes the result indeterminate.
func PhenotypeFromFunctions(a, b domain.AlleleFunction) domain.Phenotype {
	if a == domain.FUNCTION_UNCERTAIN || b == domain.FUNCTION_UNCERTAIN || !a.IsValid() || !b.IsValid() {
		return domain.INDETERMINATE
	}

	count := map[domain.AlleleFunction]int{}
	count[a]++
	count[b]++

	switch {
	case count[domain.FUNCTION_NORMAL] == 2:
		return domain.NM
	case count[domain.FUNCTION_INCREASED] == 2:
		return domain.URM
	case count[domain.FUNCTION_INCREASED] == 1 && count[domain.FUNCTION_NORMAL] == 1:
		return domain.RM
	case count[domain.FUNCTION_NONE] == 2:
		return domain.PM
	case count[domain.FUNCTION_NONE] == 1 && count[domain.FUNCTION_DECREASED] == 1:
		return domain.PM
	default:
		return domain.IM
	}
}
