package service

import (
	"fmt"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/pharmaguard-server/internal/domain"
	"github.com/pharmaguard-server/internal/knowledge"
)

type vcfLine struct {
	chrom  string
	pos    int64
	id     string
	ref    string
	alt    string
	filter string
	gt     string
}

func buildVCF(lines ...vcfLine) string {
	var b strings.Builder
	b.WriteString("##fileformat=VCFv4.2\n")
	b.WriteString("##reference=GRCh38\n")
	b.WriteString("#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO\tFORMAT\tSAMPLE\n")
	for _, l := range lines {
		filter := l.filter
		if filter == "" {
			filter = "PASS"
		}
		id := l.id
		if id == "" {
			id = "."
		}
		fmt.Fprintf(&b, "%s\t%d\t%s\t%s\t%s\t99\t%s\t.\tGT\t%s\n", l.chrom, l.pos, id, l.ref, l.alt, filter, l.gt)
	}
	return b.String()
}

func cyp2c9Star2(gt string) vcfLine {
	return vcfLine{chrom: "10", pos: 94942290, id: "rs1799853", ref: "C", alt: "T", gt: gt}
}

func cyp2c9Star3(gt string) vcfLine {
	return vcfLine{chrom: "10", pos: 94981296, id: "rs1057910", ref: "A", alt: "C", gt: gt}
}

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func newTestKB(t *testing.T) *knowledge.Base {
	t.Helper()
	kb, err := knowledge.LoadEmbedded()
	require.NoError(t, err)
	return kb
}

func records(t *testing.T, lines ...vcfLine) []domain.VariantRecord {
	t.Helper()
	out := make([]domain.VariantRecord, 0, len(lines))
	for i, l := range lines {
		var gt domain.Genotype
		switch l.gt {
		case "0/0":
			gt = domain.Genotype{Alleles: [2]int{0, 0}}
		case "0/1":
			gt = domain.Genotype{Alleles: [2]int{0, 1}}
		case "1/1":
			gt = domain.Genotype{Alleles: [2]int{1, 1}}
		case "./.":
			gt = domain.MissingGenotype()
		default:
			t.Fatalf("unsupported test genotype %q", l.gt)
		}
		out = append(out, domain.VariantRecord{
			Chromosome: l.chrom,
			Position:   l.pos,
			ID:         l.id,
			Reference:  l.ref,
			Alternates: []string{l.alt},
			Genotype:   gt,
			Filter:     l.filter,
			Line:       i + 4,
		})
	}
	return out
}
