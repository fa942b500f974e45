package catalogingest

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os"
	"slices"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/klauspost/pgzip"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/bookorama/internal/domain/catalog"
)

const (
	defaultBatchSize = 500
	bloomFPR         = 0.001
	maxLineBytes     = 1 << 20
)

// Store persists catalog entries.
type Store interface {
	UpsertCategory(ctx context.Context, name string) (int64, error)
	UpsertBooks(ctx context.Context, books []catalog.Book, categoryIDs map[string]int64) error
}

// Options tune an Ingester.
type Options struct {
	// BatchSize is the number of books per upsert batch.
	BatchSize int
	// DryRun parses and deduplicates without writing.
	DryRun bool
}

// Ingester loads gzip-compressed JSON-lines book files.
type Ingester struct {
	store Store
	lg    *zap.Logger
	opts  Options
}

// NewIngester creates an Ingester writing to store.
func NewIngester(store Store, lg *zap.Logger, opts Options) *Ingester {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Ingester{store: store, lg: lg, opts: opts}
}

// InvalidLine is a record that could not be ingested.
type InvalidLine struct {
	File string
	Line int
	Err  error
}

// Report summarizes an ingest run.
type Report struct {
	Records int
	Invalid []InvalidLine
	// Duplicates lists ISBNs seen more than once; the last occurrence wins.
	Duplicates []string
	Upserted   int
}

type fileBooks struct {
	books   []catalog.Book
	invalid []InvalidLine
}

// Ingest parses the files concurrently, drops duplicate ISBNs keeping the
// last occurrence in argument order, and upserts the result.
func (i *Ingester) Ingest(ctx context.Context, paths ...string) (*Report, error) {
	parsed := make([]fileBooks, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	for idx, path := range paths {
		g.Go(func() error {
			fb, err := readFile(gctx, path)
			if err != nil {
				return errors.Wrapf(err, "read %s", path)
			}
			i.lg.Info("File parsed",
				zap.String("file", path),
				zap.Int("books", len(fb.books)),
				zap.Int("invalid", len(fb.invalid)),
			)
			parsed[idx] = fb
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &Report{}
	var all []catalog.Book
	for _, fb := range parsed {
		all = append(all, fb.books...)
		report.Invalid = append(report.Invalid, fb.invalid...)
	}
	report.Records = len(all) + len(report.Invalid)

	books, dups := dedupe(all)
	report.Duplicates = dups
	if len(dups) > 0 {
		i.lg.Warn("Duplicate ISBNs, keeping last occurrence", zap.Int("count", len(dups)))
	}

	if i.opts.DryRun || len(books) == 0 {
		return report, nil
	}
	if err := i.write(ctx, books); err != nil {
		return report, err
	}
	report.Upserted = len(books)
	return report, nil
}

func (i *Ingester) write(ctx context.Context, books []catalog.Book) error {
	categoryIDs := make(map[string]int64)
	for _, b := range books {
		if b.Category == "" {
			continue
		}
		if _, ok := categoryIDs[b.Category]; ok {
			continue
		}
		id, err := i.store.UpsertCategory(ctx, b.Category)
		if err != nil {
			return errors.Wrapf(err, "category %q", b.Category)
		}
		categoryIDs[b.Category] = id
	}

	for batch := range slices.Chunk(books, i.opts.BatchSize) {
		if err := i.store.UpsertBooks(ctx, batch, categoryIDs); err != nil {
			return errors.Wrap(err, "upsert books")
		}
	}
	i.lg.Info("Books upserted", zap.Int("books", len(books)), zap.Int("categories", len(categoryIDs)))
	return nil
}

// dedupe keeps the last occurrence of every ISBN. A bloom filter screens
// ISBNs so only probable repeats are tracked exactly.
func dedupe(books []catalog.Book) ([]catalog.Book, []string) {
	if len(books) == 0 {
		return nil, nil
	}

	seen := bloom.NewWithEstimates(uint(len(books)), bloomFPR)
	candidates := make(map[string]int)
	for _, b := range books {
		if seen.TestOrAddString(b.ISBN) {
			candidates[b.ISBN] = 0
		}
	}
	if len(candidates) == 0 {
		return books, nil
	}

	for _, b := range books {
		if _, ok := candidates[b.ISBN]; ok {
			candidates[b.ISBN]++
		}
	}

	var dups []string
	for isbn, n := range candidates {
		if n > 1 {
			dups = append(dups, isbn)
		}
	}
	slices.Sort(dups)

	// Walk backwards so the last occurrence is the one kept.
	kept := make([]catalog.Book, 0, len(books))
	emitted := make(map[string]struct{}, len(dups))
	for idx := len(books) - 1; idx >= 0; idx-- {
		b := books[idx]
		if candidates[b.ISBN] > 1 {
			if _, ok := emitted[b.ISBN]; ok {
				continue
			}
			emitted[b.ISBN] = struct{}{}
		}
		kept = append(kept, b)
	}
	slices.Reverse(kept)
	return kept, dups
}

func readFile(ctx context.Context, path string) (fileBooks, error) {
	f, err := os.Open(path)
	if err != nil {
		return fileBooks{}, err
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return fileBooks{}, errors.Wrap(err, "gzip")
	}
	defer func() { _ = gz.Close() }()

	return readLines(ctx, path, gz)
}

// readLines parses one book per non-blank line.
func readLines(ctx context.Context, name string, r io.Reader) (fileBooks, error) {
	var out fileBooks
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	line := 0
	for scanner.Scan() {
		line++
		if line%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return out, err
			}
		}
		raw := scanner.Bytes()
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		b, err := ParseBook(raw)
		if err != nil {
			out.invalid = append(out.invalid, InvalidLine{File: name, Line: line, Err: err})
			continue
		}
		out.books = append(out.books, b)
	}
	if err := scanner.Err(); err != nil {
		return out, errors.Wrap(err, "scan")
	}
	return out, nil
}
