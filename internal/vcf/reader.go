// Package vcf reads called-variant streams in Variant Call Format (v4.x).
//
// The reader is a single forward pass over its source. Data lines that cannot
// be normalized are skipped and counted; only an unreadable stream or a
// missing header stops iteration.
package vcf

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/pharmaguard-server/internal/domain"
)

// DefaultMaxLineBytes bounds a single VCF line.
const DefaultMaxLineBytes = 1 << 20

const (
	fileFormatPrefix = "##fileformat=VCFv4."
	columnHeader     = "#CHROM"
	minColumns       = 8
)

var (
	errTooFewColumns   = errors.New("too few columns")
	errBadChromosome   = errors.New("invalid chromosome")
	errBadPosition     = errors.New("invalid position")
	errBadAllele       = errors.New("invalid allele")
	errBadGenotype     = errors.New("unrecognized genotype encoding")
	errAlleleIndex     = errors.New("genotype allele index out of range")
	errMissingHeader   = errors.New("missing #CHROM column header")
	errTruncatedHeader = errors.New("truncated #CHROM column header")
)

// Stats counts what the reader has seen so far.
type Stats struct {
	Lines     int `json:"lines"`
	Parsed    int `json:"parsed"`
	Malformed int `json:"malformed"`
}

// Reader yields normalized variant records from a VCF stream.
type Reader struct {
	scanner *bufio.Scanner
	logger  *logrus.Logger
	line    int
	samples []string
	record  domain.VariantRecord
	stats   Stats
	err     error
}

// NewReader validates the VCF header and positions the reader on the first
// data line. A stream that does not start with ##fileformat=VCFv4.x yields a
// *domain.FormatError; an unreadable or truncated header yields a
// *domain.ParseError.
func NewReader(src io.Reader, logger *logrus.Logger, maxLineBytes int) (*Reader, error) {
	if maxLineBytes <= 0 {
		maxLineBytes = DefaultMaxLineBytes
	}
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 0, min(64*1024, maxLineBytes)), maxLineBytes)

	r := &Reader{scanner: scanner, logger: logger}
	if err := r.readHeader(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Reader) readHeader() error {
	sawFormat := false
	for r.scanner.Scan() {
		r.line++
		r.stats.Lines++
		line := strings.TrimRight(r.scanner.Text(), "\r")
		if r.line == 1 {
			line = strings.TrimPrefix(line, "\ufeff")
		}
		if strings.TrimSpace(line) == "" {
			continue
		}

		if !sawFormat {
			if !strings.HasPrefix(line, fileFormatPrefix) {
				return &domain.FormatError{Line: r.line, Reason: "first line must declare ##fileformat=VCFv4.x"}
			}
			sawFormat = true
			continue
		}

		switch {
		case strings.HasPrefix(line, "##"):
			continue
		case strings.HasPrefix(line, columnHeader):
			cols := strings.Split(line, "\t")
			if len(cols) < minColumns {
				return &domain.ParseError{Line: r.line, Err: errTruncatedHeader}
			}
			if len(cols) > 9 {
				r.samples = cols[9:]
			}
			return nil
		default:
			return &domain.ParseError{Line: r.line, Err: errMissingHeader}
		}
	}

	if err := r.scanner.Err(); err != nil {
		return &domain.ParseError{Line: r.line + 1, Err: err}
	}
	if !sawFormat {
		return &domain.FormatError{Reason: "empty stream"}
	}
	return &domain.ParseError{Line: r.line, Err: errMissingHeader}
}

// Samples returns the sample names from the column header.
func (r *Reader) Samples() []string {
	return r.samples
}

// Next advances to the next well-formed record.
func (r *Reader) Next() bool {
	if r.err != nil {
		return false
	}
	for r.scanner.Scan() {
		r.line++
		r.stats.Lines++
		line := strings.TrimRight(r.scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}

		rec, err := parseRecord(line)
		if err != nil {
			r.stats.Malformed++
			r.logger.WithFields(logrus.Fields{
				"line":  r.line,
				"error": err.Error(),
			}).Debug("Skipping malformed VCF record")
			continue
		}
		rec.Line = r.line
		r.record = rec
		r.stats.Parsed++
		return true
	}

	if err := r.scanner.Err(); err != nil {
		r.err = &domain.ParseError{Line: r.line + 1, Err: err}
	}
	return false
}

// Record returns the record produced by the last successful Next.
func (r *Reader) Record() domain.VariantRecord {
	return r.record
}

// Err returns the stream-level error that stopped iteration, if any.
func (r *Reader) Err() error {
	return r.err
}

// Stats returns the running counters.
func (r *Reader) Stats() Stats {
	return r.stats
}

// ReadAll drains the reader.
func (r *Reader) ReadAll() ([]domain.VariantRecord, error) {
	var records []domain.VariantRecord
	for r.Next() {
		records = append(records, r.Record())
	}
	return records, r.Err()
}

func parseRecord(line string) (domain.VariantRecord, error) {
	fields := strings.Split(line, "\t")
	if len(fields) < minColumns {
		return domain.VariantRecord{}, fmt.Errorf("%w: got %d", errTooFewColumns, len(fields))
	}

	chrom := strings.TrimSpace(fields[0])
	if !IsValidHumanChromosome(domain.NormalizeChromosome(chrom)) {
		return domain.VariantRecord{}, fmt.Errorf("%w: %q", errBadChromosome, chrom)
	}

	pos, err := strconv.ParseInt(strings.TrimSpace(fields[1]), 10, 64)
	if err != nil || pos <= 0 {
		return domain.VariantRecord{}, fmt.Errorf("%w: %q", errBadPosition, fields[1])
	}

	ref := strings.ToUpper(strings.TrimSpace(fields[3]))
	if !isBases(ref) {
		return domain.VariantRecord{}, fmt.Errorf("%w: REF %q", errBadAllele, fields[3])
	}

	alts := []string{}
	if alt := strings.TrimSpace(fields[4]); alt != "." {
		for _, a := range strings.Split(alt, ",") {
			a = strings.ToUpper(a)
			if !isAlternate(a) {
				return domain.VariantRecord{}, fmt.Errorf("%w: ALT %q", errBadAllele, fields[4])
			}
			alts = append(alts, a)
		}
	}

	gt := domain.MissingGenotype()
	if len(fields) >= 10 {
		if gt, err = parseSampleGenotype(fields[8], fields[9], len(alts)); err != nil {
			return domain.VariantRecord{}, err
		}
	}

	id := strings.TrimSpace(fields[2])
	if id == "." {
		id = ""
	}

	return domain.VariantRecord{
		Chromosome: chrom,
		Position:   pos,
		ID:         id,
		Reference:  ref,
		Alternates: alts,
		Genotype:   gt,
		Quality:    strings.TrimSpace(fields[5]),
		Filter:     strings.TrimSpace(fields[6]),
		Gene:       infoValue(fields[7], "GENE"),
	}, nil
}

// parseSampleGenotype extracts GT from the first sample column. A FORMAT
// without GT, or a sample that drops trailing fields, is a missing call.
func parseSampleGenotype(format, sample string, altCount int) (domain.Genotype, error) {
	gtIndex := -1
	for i, key := range strings.Split(format, ":") {
		if key == "GT" {
			gtIndex = i
			break
		}
	}
	if gtIndex < 0 {
		return domain.MissingGenotype(), nil
	}
	values := strings.Split(sample, ":")
	if gtIndex >= len(values) {
		return domain.MissingGenotype(), nil
	}
	return ParseGenotype(values[gtIndex], altCount)
}

// ParseGenotype parses a diploid GT value. Accepted encodings are "a/b",
// "a|b" and the missing forms ".", "./." and ".|.". Haploid or polyploid
// calls are rejected.
func ParseGenotype(gt string, altCount int) (domain.Genotype, error) {
	gt = strings.TrimSpace(gt)
	if gt == "." || gt == "" {
		return domain.MissingGenotype(), nil
	}

	phased := strings.Contains(gt, "|")
	var parts []string
	if phased {
		if strings.Contains(gt, "/") {
			return domain.Genotype{}, fmt.Errorf("%w: %q", errBadGenotype, gt)
		}
		parts = strings.Split(gt, "|")
	} else {
		parts = strings.Split(gt, "/")
	}
	if len(parts) != 2 {
		return domain.Genotype{}, fmt.Errorf("%w: %q", errBadGenotype, gt)
	}

	g := domain.Genotype{Phased: phased}
	for i, p := range parts {
		if p == "." {
			g.Alleles[i] = domain.MissingAllele
			continue
		}
		idx, err := strconv.Atoi(p)
		if err != nil || idx < 0 {
			return domain.Genotype{}, fmt.Errorf("%w: %q", errBadGenotype, gt)
		}
		if idx > altCount {
			return domain.Genotype{}, fmt.Errorf("%w: %q", errAlleleIndex, gt)
		}
		g.Alleles[i] = idx
	}
	if g.IsMissing() {
		g.Alleles = [2]int{domain.MissingAllele, domain.MissingAllele}
	}
	return g, nil
}

func infoValue(info, key string) string {
	if info == "." {
		return ""
	}
	for _, kv := range strings.Split(info, ";") {
		k, v, ok := strings.Cut(kv, "=")
		if ok && strings.EqualFold(k, key) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// IsValidHumanChromosome accepts 1-22, X, Y and MT after normalization.
func IsValidHumanChromosome(chrom string) bool {
	if n, err := strconv.Atoi(chrom); err == nil {
		return n >= 1 && n <= 22
	}
	switch chrom {
	case "X", "Y", "MT":
		return true
	}
	return false
}

func isBases(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		switch c {
		case 'A', 'C', 'G', 'T', 'N':
		default:
			return false
		}
	}
	return true
}

func isAlternate(s string) bool {
	if s == "*" {
		return true
	}
	if len(s) > 2 && strings.HasPrefix(s, "<") && strings.HasSuffix(s, ">") {
		return true
	}
	return isBases(s)
}
