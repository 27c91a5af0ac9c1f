package functional

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SebastianDall/epimetheus"
	"github.com/SebastianDall/epimetheus/common"
	"github.com/SebastianDall/epimetheus/index"
)

// pileupLine renders one 18-column modkit bedMethyl line.
func pileupLine(contig string, i int) string {
	frac := float64(i%100) + 0.25
	return fmt.Sprintf("%s\t%d\t%d\tm\t%d\t+\t%d\t%d\t255,0,0\t%d\t%.2f\t%d\t%d\t0\t0\t0\t0\t0",
		contig, i*2, i*2+1, 50+i%50, i*2, i*2+1, 10+i%20, frac, i%10, 10-i%10)
}

// writePileup writes n records per contig, grouped, and returns the lines.
func writePileup(t *testing.T, path string, contigs []string, n int) []string {
	t.Helper()
	var lines []string
	for _, contig := range contigs {
		for i := 0; i < n; i++ {
			lines = append(lines, pileupLine(contig, i))
		}
	}
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return lines
}

func TestRoundTripAllContigs(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	input := filepath.Join(dir, "input.bed")
	contigs := []string{"contig_1", "contig_2", "contig_3"}
	lines := writePileup(t, input, contigs, 250)

	require.NoError(t, epimetheus.Compress(ctx, input, "", epimetheus.WithKeep()))

	recs, err := epimetheus.Query(ctx, input+".gz", contigs)
	require.NoError(t, err)
	require.Len(t, recs, len(lines))
	for i, rec := range recs {
		assert.Equal(t, lines[i], rec.String(), "record %d", i)
	}
}

func TestQueryScenario(t *testing.T) {
	// Three contigs, 100 records each: contig_3 returns exactly its own
	// 100 records, contig_10 returns nothing.
	ctx := context.Background()
	dir := t.TempDir()
	input := filepath.Join(dir, "input.bed")
	writePileup(t, input, []string{"contig_1", "contig_2", "contig_3"}, 100)

	require.NoError(t, epimetheus.Compress(ctx, input, "", epimetheus.WithKeep()))
	container := input + ".gz"

	recs, err := epimetheus.Query(ctx, container, []string{"contig_3"})
	require.NoError(t, err)
	require.Len(t, recs, 100)
	for _, rec := range recs {
		assert.Equal(t, "contig_3", rec.Contig)
	}

	empty, err := epimetheus.Query(ctx, container, []string{"contig_10"})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestQueryOrderFollowsRequestNotFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	input := filepath.Join(dir, "input.bed")
	writePileup(t, input, []string{"contig_1", "contig_2", "contig_3"}, 50)
	require.NoError(t, epimetheus.Compress(ctx, input, "", epimetheus.WithKeep()))

	recs, err := epimetheus.Query(ctx, input+".gz", []string{"contig_3", "contig_1"})
	require.NoError(t, err)
	require.Len(t, recs, 100)
	for _, rec := range recs[:50] {
		assert.Equal(t, "contig_3", rec.Contig)
	}
	for _, rec := range recs[50:] {
		assert.Equal(t, "contig_1", rec.Contig)
	}
}

func TestParallelQueryMatchesSequential(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	input := filepath.Join(dir, "input.bed")
	contigs := []string{"contig_1", "contig_2", "contig_3", "contig_4", "contig_5"}
	writePileup(t, input, contigs, 200)
	require.NoError(t, epimetheus.Compress(ctx, input, "", epimetheus.WithKeep()))

	sequential, err := epimetheus.Query(ctx, input+".gz", contigs)
	require.NoError(t, err)
	parallel, err := epimetheus.Query(ctx, input+".gz", contigs, epimetheus.WithWorkers(4))
	require.NoError(t, err)

	require.Len(t, parallel, len(sequential))
	for i := range sequential {
		assert.Equal(t, sequential[i].String(), parallel[i].String())
	}
}

func TestAutoNamingKeepsInput(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	input := filepath.Join(dir, "input.bed")
	writePileup(t, input, []string{"contig_1"}, 10)

	require.NoError(t, epimetheus.Compress(ctx, input, "", epimetheus.WithKeep()))

	assert.FileExists(t, input+".gz")
	assert.FileExists(t, input+".gz.tbi")
	assert.FileExists(t, input, "input must survive with keep")
}

func TestInputRemovedWithoutKeep(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	input := filepath.Join(dir, "input.bed")
	writePileup(t, input, []string{"contig_1"}, 10)

	require.NoError(t, epimetheus.Compress(ctx, input, ""))

	assert.FileExists(t, input+".gz")
	_, err := os.Stat(input)
	assert.True(t, os.IsNotExist(err), "input must be removed without keep")
}

func TestSecondCompressNeedsForce(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	input := filepath.Join(dir, "input.bed")
	writePileup(t, input, []string{"contig_1", "contig_2"}, 40)

	require.NoError(t, epimetheus.Compress(ctx, input, "", epimetheus.WithKeep()))
	first, err := os.ReadFile(input + ".gz")
	require.NoError(t, err)

	err = epimetheus.Compress(ctx, input, "", epimetheus.WithKeep())
	assert.ErrorIs(t, err, common.ErrAlreadyExists)

	// The collision must leave the first output untouched.
	after, err := os.ReadFile(input + ".gz")
	require.NoError(t, err)
	assert.Equal(t, first, after)

	require.NoError(t, epimetheus.Compress(ctx, input, "", epimetheus.WithKeep(), epimetheus.WithForce()))
}

func TestRecompressionIsIdempotent(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	input := filepath.Join(dir, "input.bed")
	writePileup(t, input, []string{"contig_1", "contig_2", "contig_3"}, 300)
	original, err := os.ReadFile(input)
	require.NoError(t, err)

	extract := func() []byte {
		var buf bytes.Buffer
		require.NoError(t, epimetheus.Extract(ctx, input+".gz", nil, &buf))
		return buf.Bytes()
	}

	require.NoError(t, epimetheus.Compress(ctx, input, "", epimetheus.WithKeep()))
	firstText := extract()
	require.NoError(t, epimetheus.Compress(ctx, input, "", epimetheus.WithKeep(), epimetheus.WithForce()))
	secondText := extract()

	assert.Equal(t, original, firstText, "decompressed content must equal the input")
	assert.Equal(t, firstText, secondText, "recompression must reproduce identical content")
}

func TestTruncationIsDetected(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	input := filepath.Join(dir, "input.bed")
	writePileup(t, input, []string{"contig_1", "contig_2"}, 100)
	require.NoError(t, epimetheus.Compress(ctx, input, "", epimetheus.WithKeep()))

	container := input + ".gz"
	fi, err := os.Stat(container)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(container, fi.Size()-1))

	_, err = epimetheus.Query(ctx, container, []string{"contig_1"})
	assert.Error(t, err, "truncated container must not answer queries silently")
}

func TestUngroupedInputFailsAndCleansUp(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	input := filepath.Join(dir, "input.bed")
	content := strings.Join([]string{
		pileupLine("contig_1", 0),
		pileupLine("contig_2", 0),
		pileupLine("contig_1", 1), // reappears: not grouped
	}, "\n") + "\n"
	require.NoError(t, os.WriteFile(input, []byte(content), 0o644))

	err := epimetheus.Compress(ctx, input, "", epimetheus.WithKeep())
	assert.ErrorIs(t, err, common.ErrUnsortedInput)

	_, serr := os.Stat(input + ".gz")
	assert.True(t, os.IsNotExist(serr), "failed compression must not leave a container behind")
	assert.FileExists(t, input, "the input must never be removed on failure")
}

func TestListContigs(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	input := filepath.Join(dir, "input.bed")
	writePileup(t, input, []string{"contig_2", "contig_1", "contig_9"}, 5)
	require.NoError(t, epimetheus.Compress(ctx, input, "", epimetheus.WithKeep()))

	names, err := epimetheus.ListContigs(ctx, input+".gz")
	require.NoError(t, err)
	assert.Equal(t, []string{"contig_2", "contig_1", "contig_9"}, names, "index order is first-appearance order")
}

func TestExtractSelectedContigs(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	input := filepath.Join(dir, "input.bed")
	writePileup(t, input, []string{"contig_1", "contig_2", "contig_3"}, 30)
	require.NoError(t, epimetheus.Compress(ctx, input, "", epimetheus.WithKeep()))

	var buf bytes.Buffer
	require.NoError(t, epimetheus.Extract(ctx, input+".gz", []string{"contig_2"}, &buf))

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 30)
	for _, line := range lines {
		assert.True(t, strings.HasPrefix(line, "contig_2\t"))
	}
}

func TestStaleIndexAfterContainerTouch(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	input := filepath.Join(dir, "input.bed")
	writePileup(t, input, []string{"contig_1"}, 20)
	require.NoError(t, epimetheus.Compress(ctx, input, "", epimetheus.WithKeep()))

	// Same size, different mtime: still stale.
	container := input + ".gz"
	newTime := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(container, newTime, newTime))

	_, err := epimetheus.Query(ctx, container, []string{"contig_1"})
	assert.ErrorIs(t, err, common.ErrStaleIndex)
}

func TestLyingIndexIsCaught(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	input := filepath.Join(dir, "input.bed")
	writePileup(t, input, []string{"contig_1"}, 20)
	require.NoError(t, epimetheus.Compress(ctx, input, "", epimetheus.WithKeep()))
	container := input + ".gz"

	// Rebuild the index claiming the records belong to contig_2; decoding
	// must notice the disagreement instead of returning mislabeled data.
	b := index.NewBuilder()
	require.NoError(t, b.Observe("contig_2", common.VirtualOffset{}))
	lying, err := b.Finalize(common.EndOfStream)
	require.NoError(t, err)
	require.NoError(t, index.Write(container+".tbi", container, lying))

	_, err = epimetheus.Query(ctx, container, []string{"contig_2"})
	assert.ErrorIs(t, err, common.ErrIndexConsistency)
}

func TestCompressMissingInput(t *testing.T) {
	ctx := context.Background()
	err := epimetheus.Compress(ctx, filepath.Join(t.TempDir(), "absent.bed"), "")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestQueryMissingIndex(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	input := filepath.Join(dir, "input.bed")
	writePileup(t, input, []string{"contig_1"}, 5)
	require.NoError(t, epimetheus.Compress(ctx, input, "", epimetheus.WithKeep()))
	require.NoError(t, os.Remove(input+".gz.tbi"))

	_, err := epimetheus.Query(ctx, input+".gz", []string{"contig_1"})
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestCancelledContextStopsCompression(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "input.bed")
	writePileup(t, input, []string{"contig_1"}, 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := epimetheus.Compress(ctx, input, "", epimetheus.WithKeep())
	assert.ErrorIs(t, err, context.Canceled)
}
