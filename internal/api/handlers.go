package api

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pharmaguard-server/internal/domain"
	"github.com/pharmaguard-server/internal/middleware"
)

// handleHealth reports liveness, the loaded knowledge base and, when
// explanations are enabled, the provider breaker and cache statistics. An
// open breaker only degrades the status; analysis still works.
func (s *Server) handleHealth(c *gin.Context) {
	body := gin.H{
		"status":    "healthy",
		"service":   "PharmaGuard",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   Version,
		"knowledge_base": gin.H{
			"version":    s.kb.Version(),
			"genes":      len(s.kb.Genes()),
			"drugs":      len(s.kb.Drugs()),
			"guidelines": s.kb.GuidelineCount(),
		},
	}

	if s.explanations != nil {
		health := s.explanations.Health(c.Request.Context())
		if health.Provider != nil && !health.Provider.Healthy {
			body["status"] = "degraded"
		}
		body["explanations"] = health
	}

	c.JSON(http.StatusOK, body)
}

// handlePurgeExplanations drops cached explanations, for one drug when
// ?drug= is given. Used after guideline tables change.
func (s *Server) handlePurgeExplanations(c *gin.Context) {
	if s.explanations == nil {
		s.abort(c, http.StatusNotFound, domain.ErrInvalidInput, "Explanations are disabled", "")
		return
	}

	drug := domain.NormalizeDrug(c.Query("drug"))
	removed, err := s.explanations.Purge(c.Request.Context(), drug)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"correlation_id": c.GetString(middleware.CorrelationIDKey),
			"drug":           drug,
			"error":          err,
		}).Error("Explanation cache purge failed")
		s.abort(c, http.StatusBadGateway, domain.ErrInternalServer, "Explanation cache purge failed", "")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"drug":    drug,
		"removed": removed,
	})
}

// handleAnalyze runs the inference engine on an uploaded VCF file.
func (s *Server) handleAnalyze(c *gin.Context) {
	requestID := c.GetString(middleware.CorrelationIDKey)

	if limit := s.config.Server.MaxUploadBytes; limit > 0 && c.Request.ContentLength > limit {
		s.abort(c, http.StatusRequestEntityTooLarge, domain.ErrInvalidInput, "Upload exceeds the size limit", "")
		return
	}

	file, err := c.FormFile("vcf")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.abort(c, http.StatusRequestEntityTooLarge, domain.ErrInvalidInput, "Upload exceeds the size limit", "")
			return
		}
		s.abort(c, http.StatusBadRequest, domain.ErrInvalidInput, "A VCF file is required in the 'vcf' field", "")
		return
	}
	if !strings.EqualFold(filepath.Ext(file.Filename), ".vcf") {
		s.abort(c, http.StatusBadRequest, domain.ErrInvalidFormat, "Invalid file format. Please upload a .vcf file.", "")
		return
	}

	drugs := domain.ParseDrugList(c.PostForm("drugs"))
	if len(drugs) == 0 {
		s.abort(c, http.StatusBadRequest, domain.ErrValidation, "At least one drug is required", "drugs")
		return
	}

	patientID := strings.TrimSpace(c.PostForm("patient_id"))
	if patientID == "" {
		patientID = uuid.New().String()
	}

	f, err := file.Open()
	if err != nil {
		s.abort(c, http.StatusBadRequest, domain.ErrInvalidInput, "Could not read uploaded file", "")
		return
	}
	defer f.Close()

	results, err := s.analyzer.Analyze(c.Request.Context(), domain.AnalysisRequest{
		PatientID: patientID,
		VCF:       f,
		Drugs:     drugs,
	})
	if err != nil {
		s.handleAnalysisError(c, err)
		return
	}

	s.logger.WithFields(logrus.Fields{
		"correlation_id": requestID,
		"patient_id":     patientID,
		"drugs":          len(drugs),
		"file_size":      file.Size,
	}).Info("Analysis request served")

	c.JSON(http.StatusOK, results)
}

func (s *Server) handleAnalysisError(c *gin.Context, err error) {
	var formatErr *domain.FormatError
	var parseErr *domain.ParseError
	var tooLarge *http.MaxBytesError

	switch {
	case errors.As(err, &formatErr):
		s.abort(c, http.StatusBadRequest, domain.ErrInvalidFormat, "Uploaded file is not a VCF file", formatErr.Error())
	case errors.As(err, &tooLarge):
		s.abort(c, http.StatusRequestEntityTooLarge, domain.ErrInvalidInput, "Upload exceeds the size limit", "")
	case errors.As(err, &parseErr):
		s.abort(c, http.StatusUnprocessableEntity, domain.ErrUnreadableVCF, "VCF file could not be read", parseErr.Error())
	case errors.Is(err, context.DeadlineExceeded):
		s.abort(c, http.StatusGatewayTimeout, domain.ErrTimeout, "Analysis did not finish in time", "")
	case errors.Is(err, context.Canceled):
		s.abort(c, http.StatusRequestTimeout, domain.ErrTimeout, "Request was cancelled", "")
	default:
		s.logger.WithFields(logrus.Fields{
			"correlation_id": c.GetString(middleware.CorrelationIDKey),
			"error":          err,
		}).Error("Analysis failed")
		s.abort(c, http.StatusInternalServerError, domain.ErrInternalServer, "Analysis failed", "")
	}
}

// handleListDrugs lists supported drugs and their primary genes.
func (s *Server) handleListDrugs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"drugs":   s.kb.Drugs(),
		"version": s.kb.Version(),
	})
}

func (s *Server) handleListGenes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"genes": s.kb.Genes()})
}

// handleGetGene returns positions of interest and star alleles for a gene.
func (s *Server) handleGetGene(c *gin.Context) {
	info, ok := s.kb.Gene(c.Param("gene"))
	if !ok {
		s.abort(c, http.StatusNotFound, domain.ErrInvalidInput, "Gene is not supported", c.Param("gene"))
		return
	}
	c.JSON(http.StatusOK, info)
}

// handleGenePhenotype maps ?diplotype=*1/*2 to a metabolizer phenotype.
func (s *Server) handleGenePhenotype(c *gin.Context) {
	info, ok := s.kb.Gene(c.Param("gene"))
	if !ok {
		s.abort(c, http.StatusNotFound, domain.ErrInvalidInput, "Gene is not supported", c.Param("gene"))
		return
	}

	diplotype, err := s.kb.ParseDiplotype(info.Symbol, c.Query("diplotype"))
	if err != nil {
		s.abort(c, http.StatusBadRequest, domain.ErrValidation, "Invalid diplotype", err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"gene":      info.Symbol,
		"diplotype": diplotype.String(),
		"phenotype": s.kb.PhenotypeOf(info.Symbol, diplotype),
	})
}

type resolveAlleleRequest struct {
	Variants map[string]string `json:"variants"`
}

// handleResolveAllele names the star allele carrying exactly the given
// rsID to allele mapping.
func (s *Server) handleResolveAllele(c *gin.Context) {
	info, ok := s.kb.Gene(c.Param("gene"))
	if !ok {
		s.abort(c, http.StatusNotFound, domain.ErrInvalidInput, "Gene is not supported", c.Param("gene"))
		return
	}

	var req resolveAlleleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.abort(c, http.StatusBadRequest, domain.ErrInvalidInput, "Invalid request body", err.Error())
		return
	}
	if req.Variants == nil {
		req.Variants = map[string]string{}
	}

	sig, found := s.kb.ResolveAllele(info.Symbol, req.Variants)
	if !found {
		s.abort(c, http.StatusNotFound, domain.ErrValidation, "No star allele matches the given variants", "")
		return
	}
	c.JSON(http.StatusOK, sig)
}

func (s *Server) abort(c *gin.Context, status int, code, message, details string) {
	c.AbortWithStatusJSON(status, domain.NewAPIError(code, message, details, c.GetString(middleware.CorrelationIDKey)))
}
