package vcf

import (
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmaguard-server/internal/domain"
)

const header = "##fileformat=VCFv4.2\n" +
	"##source=test\n" +
	"#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO\tFORMAT\tSAMPLE1\n"

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func TestNewReader_HeaderValidation(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		formatError bool
		parseError  bool
	}{
		{"Valid v4.2 header", header, false, false},
		{"Valid v4.2 header with CRLF", strings.ReplaceAll(header, "\n", "\r\n"), false, false},
		{"Leading blank lines", "\n\n" + header, false, false},
		{"Valid v4.1 header", strings.Replace(header, "VCFv4.2", "VCFv4.1", 1), false, false},
		{"Not a VCF", "hello world\n", true, false},
		{"Older VCF version", strings.Replace(header, "VCFv4.2", "VCFv3.3", 1), true, false},
		{"Unversioned fileformat", strings.Replace(header, "VCFv4.2", "VCFfoo", 1), true, false},
		{"Empty stream", "", true, false},
		{"Fileformat not first", "##source=x\n##fileformat=VCFv4.2\n", true, false},
		{"Missing column header", "##fileformat=VCFv4.2\n1\t100\t.\tA\tG\t.\tPASS\t.\n", false, true},
		{"Truncated column header", "##fileformat=VCFv4.2\n#CHROM\tPOS\tID\n", false, true},
		{"Header only meta lines", "##fileformat=VCFv4.2\n##source=x\n", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewReader(strings.NewReader(tt.input), newTestLogger(), 0)

			var formatErr *domain.FormatError
			var parseErr *domain.ParseError
			switch {
			case tt.formatError:
				require.Error(t, err)
				assert.True(t, errors.As(err, &formatErr), "expected FormatError, got %v", err)
			case tt.parseError:
				require.Error(t, err)
				assert.True(t, errors.As(err, &parseErr), "expected ParseError, got %v", err)
			default:
				require.NoError(t, err)
				assert.Equal(t, []string{"SAMPLE1"}, r.Samples())
			}
		})
	}
}

func TestReader_ParsesRecords(t *testing.T) {
	input := header +
		"10\t94942290\trs1799853\tC\tT\t50\tPASS\tGENE=CYP2C9\tGT\t0/1\n" +
		"chr10\t94981296\trs1057910\ta\tc\t.\t.\t.\tGT:DP\t1|1:30\n" +
		"22\t42130692\trs1065852\tG\tA\t.\tPASS\t.\tGT\t./.\n" +
		"12\t21178615\trs4149056\tT\tC\t.\tPASS\t.\n"

	r, err := NewReader(strings.NewReader(input), newTestLogger(), 0)
	require.NoError(t, err)

	records, err := r.ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)

	assert.Equal(t, "10", records[0].Chromosome)
	assert.Equal(t, int64(94942290), records[0].Position)
	assert.Equal(t, "rs1799853", records[0].ID)
	assert.Equal(t, domain.HETEROZYGOUS, records[0].Genotype.Zygosity())
	assert.Equal(t, "CYP2C9", records[0].Gene)
	assert.Equal(t, 4, records[0].Line)

	assert.Equal(t, "A", records[1].Reference)
	assert.Equal(t, []string{"C"}, records[1].Alternates)
	assert.True(t, records[1].Genotype.Phased)
	assert.Equal(t, domain.HOMOZYGOUS_ALTERNATE, records[1].Genotype.Zygosity())

	assert.Equal(t, domain.ZYGOSITY_MISSING, records[2].Genotype.Zygosity())

	// Sites-only record carries no genotype.
	assert.False(t, records[3].HasCall())

	assert.Equal(t, Stats{Lines: 7, Parsed: 4, Malformed: 0}, r.Stats())
}

func TestReader_SkipsMalformedRecords(t *testing.T) {
	malformed := []string{
		"10\t94942290\trs1\tC\n",                           // too few columns
		"chrZ\t100\t.\tA\tG\t.\tPASS\t.\tGT\t0/1\n",       // bad chromosome
		"10\t-5\t.\tA\tG\t.\tPASS\t.\tGT\t0/1\n",          // bad position
		"10\tabc\t.\tA\tG\t.\tPASS\t.\tGT\t0/1\n",         // non-numeric position
		"10\t100\t.\tQ\tG\t.\tPASS\t.\tGT\t0/1\n",         // bad REF
		"10\t100\t.\tA\tZZ\t.\tPASS\t.\tGT\t0/1\n",        // bad ALT
		"10\t100\t.\tA\tG\t.\tPASS\t.\tGT\t1\n",           // haploid
		"10\t100\t.\tA\tG\t.\tPASS\t.\tGT\t0/1/1\n",       // triploid
		"10\t100\t.\tA\tG\t.\tPASS\t.\tGT\t0/2\n",         // allele index out of range
		"10\t100\t.\tA\tG\t.\tPASS\t.\tGT\tx/y\n",         // garbage genotype
		"10\t100\t.\tA\tG\t.\tPASS\t.\tGT\t0/1|1\n",       // mixed separators
	}
	valid := []string{
		"10\t94942290\trs1799853\tC\tT\t.\tPASS\t.\tGT\t0/1\n",
		"10\t94981296\trs1057910\tA\tC\t.\tPASS\t.\tGT\t0/1\n",
	}

	var b strings.Builder
	b.WriteString(header)
	for i, line := range malformed {
		b.WriteString(line)
		if i < len(valid) {
			b.WriteString(valid[i])
		}
	}

	r, err := NewReader(strings.NewReader(b.String()), newTestLogger(), 0)
	require.NoError(t, err)

	records, err := r.ReadAll()
	require.NoError(t, err)
	require.Len(t, records, len(valid))
	assert.Equal(t, "rs1799853", records[0].ID)
	assert.Equal(t, "rs1057910", records[1].ID)
	assert.Equal(t, len(malformed), r.Stats().Malformed)
	assert.Equal(t, len(valid), r.Stats().Parsed)
}

func TestReader_StreamErrorIsFatal(t *testing.T) {
	src := io.MultiReader(
		strings.NewReader(header+"10\t94942290\trs1799853\tC\tT\t.\tPASS\t.\tGT\t0/1\n"),
		iotest.ErrReader(errors.New("connection reset")),
	)

	r, err := NewReader(src, newTestLogger(), 0)
	require.NoError(t, err)

	assert.True(t, r.Next())
	assert.False(t, r.Next())

	var parseErr *domain.ParseError
	require.True(t, errors.As(r.Err(), &parseErr))
	assert.Contains(t, parseErr.Error(), "connection reset")
	assert.False(t, r.Next(), "reader must stay stopped after a stream error")
}

func TestReader_LineTooLong(t *testing.T) {
	long := header + "10\t1\t.\tA\tG\t.\tPASS\t" + strings.Repeat("X", 512) + "\tGT\t0/1\n"

	r, err := NewReader(strings.NewReader(long), newTestLogger(), 256)
	require.NoError(t, err)

	_, err = r.ReadAll()
	var parseErr *domain.ParseError
	assert.True(t, errors.As(err, &parseErr))
}

func TestParseGenotype(t *testing.T) {
	tests := []struct {
		input    string
		altCount int
		expected domain.Genotype
		wantErr  bool
	}{
		{"0/0", 1, domain.Genotype{Alleles: [2]int{0, 0}}, false},
		{"0/1", 1, domain.Genotype{Alleles: [2]int{0, 1}}, false},
		{"1|0", 1, domain.Genotype{Alleles: [2]int{1, 0}, Phased: true}, false},
		{"1/2", 2, domain.Genotype{Alleles: [2]int{1, 2}}, false},
		{".", 1, domain.MissingGenotype(), false},
		{"./.", 1, domain.MissingGenotype(), false},
		{".|.", 1, domain.MissingGenotype(), false},
		{"./1", 1, domain.MissingGenotype(), false},
		{"1", 1, domain.Genotype{}, true},
		{"0/1/2", 2, domain.Genotype{}, true},
		{"0/3", 1, domain.Genotype{}, true},
		{"-1/0", 1, domain.Genotype{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseGenotype(tt.input, tt.altCount)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestIsValidHumanChromosome(t *testing.T) {
	for _, c := range []string{"1", "10", "22", "X", "Y", "MT"} {
		assert.True(t, IsValidHumanChromosome(c), c)
	}
	for _, c := range []string{"0", "23", "Z", "", "chr1"} {
		assert.False(t, IsValidHumanChromosome(c), c)
	}
}
