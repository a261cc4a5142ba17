package service

import (
	"github.com/sirupsen/logrus"

	"github.com/pharmaguard-server/internal/domain"
	"github.com/pharmaguard-server/internal/knowledge"
)

// PhenotypeResolver maps gene calls to metabolizer phenotypes.
type PhenotypeResolver struct {
	logger *logrus.Logger
	kb     *knowledge.Base
}

// NewPhenotypeResolver creates a new phenotype resolver
func NewPhenotypeResolver(logger *logrus.Logger, kb *knowledge.Base) *PhenotypeResolver {
	return &PhenotypeResolver{logger: logger, kb: kb}
}

// Resolve returns the phenotype for a gene call. An indeterminate diplotype
// never defaults to a normal phenotype.
func (r *PhenotypeResolver) Resolve(call GeneCall) domain.Phenotype {
	phenotype := r.kb.PhenotypeOf(call.Gene, call.Diplotype)
	if !phenotype.IsValid() {
		r.logger.WithFields(logrus.Fields{
			"gene":      call.Gene,
			"diplotype": call.Diplotype.String(),
			"phenotype": string(phenotype),
		}).Warn("Reference data produced an invalid phenotype")
		return domain.INDETERMINATE
	}
	return phenotype
}
