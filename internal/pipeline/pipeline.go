// =============================================================================
// NF-e Supplier Classifier - Run Pipeline
// =============================================================================
//
// This module orchestrates one classification run, from the input directory
// to the final bundle.
//
// PIPELINE:
//   1. Discover archives and documents in the input directory
//      (nothing found: NoInputFound, no output folder is created)
//   2. Stage every document into a run-scoped folder, removed on return
//   3. Stage-1 over a worker pool: extract CFOPs, classify, place resolved
//      documents under <output>/<category>
//   4. Stage-2 for the deferred documents: fetch the ledger and the supplier
//      master once, route by issuer, rename the SemGrupo folders
//   5. Write MultiGrupo_Summary.xlsx and the processing summary
//   6. Bundle the output folder next to the input directory, optionally upload
//
// FAILURES:
//   - A document that cannot be read is skipped and logged.
//   - A document that cannot be moved is reported in Result.Failures.
//   - A lookup that cannot be completed halts the run when any document was
//     deferred. Already placed documents stay where they are.
//
// =============================================================================

package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/ginjaninja78/nfe-classifier/internal/audit"
	"github.com/ginjaninja78/nfe-classifier/internal/cfop"
	"github.com/ginjaninja78/nfe-classifier/internal/config"
	"github.com/ginjaninja78/nfe-classifier/internal/faults"
	"github.com/ginjaninja78/nfe-classifier/internal/ledger"
	"github.com/ginjaninja78/nfe-classifier/internal/logger"
	"github.com/ginjaninja78/nfe-classifier/internal/nfe"
	"github.com/ginjaninja78/nfe-classifier/internal/relocate"
	"github.com/ginjaninja78/nfe-classifier/internal/supplier"
	"github.com/ginjaninja78/nfe-classifier/internal/types"
	"github.com/ginjaninja78/nfe-classifier/pkg/utils"
)

// StagingPrefix starts the name of every run-scoped staging folder.
const StagingPrefix = "xml_classif_"

// =============================================================================
// OPTIONS AND RESULT
// =============================================================================

// LookupOpener returns the source queried by Stage-2.
type LookupOpener func(ctx context.Context) (ledger.Source, error)

// Options describes one run.
type Options struct {
	// InputDir is scanned recursively for .zip and .xml files.
	InputDir string

	// Company, From and To scope the period ledger query.
	Company string
	From    time.Time
	To      time.Time

	// Config supplies limits, worker count and the lookup settings.
	// Nil means config.Default().
	Config *config.MainConfig

	// Registry is the CFOP table for Stage-1. Nil means LoadRegistry(Config).
	Registry *cfop.Registry

	// OpenLookup replaces the source built from Config.Lookup.
	OpenLookup LookupOpener

	// Uploader, when set, receives the bundle. Its failure is only logged.
	Uploader utils.Uploader

	// TempDir holds the staging folder. Empty means os.TempDir().
	TempDir string

	Log *logger.Logger
}

// Result reports what a run produced.
type Result struct {
	RunID          string
	OutputDir      string
	Archive        string
	SummaryFile    string
	MultiGroupFile string
	UploadURI      string

	// Documents is the number of staged documents.
	Documents int

	// Stage1 counts documents placed by CFOP, Deferred those handed to Stage-2.
	Stage1   int
	Deferred int

	// Skipped counts extraction failures across both stages.
	Skipped int

	// MultiGroups is the number of suppliers listed in MultiGroupFile.
	MultiGroups int

	Stage2   supplier.Stats
	Failures []audit.Entry
}

// Placed is the number of documents present in the output tree.
func (r *Result) Placed() int {
	return r.Stage1 + r.Stage2.Placed
}

// =============================================================================
// RUN
// =============================================================================

// Run executes the whole pipeline described in the package header.
func Run(ctx context.Context, opt Options) (*Result, error) {
	cfg := opt.Config
	if cfg == nil {
		cfg = config.Default()
	}
	log := opt.Log
	if log == nil {
		log = logger.Named("pipeline")
	}

	reg := opt.Registry
	if reg == nil {
		var err error
		if reg, err = LoadRegistry(cfg); err != nil {
			return nil, err
		}
	}

	inputDir, err := filepath.Abs(opt.InputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve input directory: %w", err)
	}
	if info, err := os.Stat(inputDir); err != nil || !info.IsDir() {
		return nil, faults.New(faults.NoInputFound, "open input", inputDir, "input directory does not exist")
	}

	res := &Result{RunID: ulid.Make().String()}
	runLog := log.With().Str("run", res.RunID).Logger()
	log = &runLog
	started := time.Now()

	// =========================================================================
	// STEP 1: DISCOVER
	// =========================================================================

	tmp := opt.TempDir
	if tmp == "" {
		tmp = os.TempDir()
	}
	staging := filepath.Join(tmp, StagingPrefix+res.RunID)

	fm := utils.NewFileManager(inputDir, staging)
	inputs, err := fm.Discover()
	if err != nil {
		return nil, faults.Wrap(err, faults.NoInputFound, "discover input", inputDir)
	}
	if inputs.Empty() {
		return nil, faults.New(faults.NoInputFound, "discover input", inputDir, "no .zip or .xml file found")
	}
	log.Info().Int("archives", len(inputs.Archives)).Int("documents", len(inputs.Documents)).Msg("input discovered")

	// =========================================================================
	// STEP 2: STAGE
	// =========================================================================

	defer func() {
		if err := os.RemoveAll(staging); err != nil {
			log.Warn().Err(err).Str("dir", staging).Msg("staging cleanup failed")
		}
	}()

	rep := audit.NewReporter(res.RunID)

	docs, failed, err := fm.Stage(inputs)
	if err != nil {
		return nil, err
	}
	for _, f := range failed {
		log.Warn().Str("file", f.InputFile).Str("error", f.ErrorMessage).Msg("input could not be staged")
		rep.RecordSkip(filepath.Base(f.InputFile), faults.New(faults.ExtractionFailure, "stage", f.InputFile, "%s", f.ErrorMessage))
	}
	if len(docs) == 0 {
		return nil, faults.New(faults.NoInputFound, "stage input", inputDir, "no xml document found in the input")
	}
	res.Documents = len(docs)

	res.OutputDir = filepath.Join(filepath.Dir(inputDir), cfg.OutputDirName)
	if err := os.MkdirAll(res.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	eng := relocate.New(relocate.Options{
		MaxPath:    cfg.MaxPath,
		TruncWidth: cfg.TruncWidth,
		NameLimit:  cfg.NameLimit,
		Log:        log,
	})
	ex := nfe.NewExtractor(cfg.NameLimit)

	// =========================================================================
	// STEP 3: STAGE-1
	// =========================================================================

	s1 := runStage1(ctx, stage1{
		docs:     docs,
		workers:  cfg.Workers,
		outDir:   res.OutputDir,
		classify: cfop.NewClassifier(reg),
		codes:    ex,
		placer:   eng,
		audit:    rep,
		log:      log,
	})
	if err := ctx.Err(); err != nil {
		return res, err
	}
	res.Stage1 = s1.placed
	res.Deferred = len(s1.deferred)
	res.Skipped = s1.skipped
	log.Info().
		Int("placed", s1.placed).
		Int("deferred", len(s1.deferred)).
		Int("skipped", s1.skipped).
		Int("failed", s1.failed).
		Dur("elapsed", time.Since(started)).
		Msg("stage-1 finished")

	// =========================================================================
	// STEP 4: STAGE-2
	// =========================================================================

	if len(s1.deferred) > 0 {
		open := opt.OpenLookup
		if open == nil {
			open = func(ctx context.Context) (ledger.Source, error) {
				return ledger.Open(ctx, LookupOptions(cfg))
			}
		}

		classifier, err := fetchLookups(ctx, open, opt.Company, opt.From, opt.To, cfg.NameLimit, log)
		if err != nil {
			log.Error().Err(err).Int("deferred", len(s1.deferred)).Msg("lookup unavailable, run halted")
			res.Failures = rep.Failures()
			return res, err
		}

		runner := &supplier.Runner{
			Classifier: classifier,
			Placer:     eng,
			Renamer:    eng,
			Issuers:    ex,
			Audit:      rep,
			Log:        log,
		}
		res.Stage2, err = runner.Run(ctx, s1.deferred, res.OutputDir)
		if err != nil {
			return res, err
		}
		res.Skipped += res.Stage2.Skipped
		log.Info().
			Int("placed", res.Stage2.Placed).
			Int("skipped", res.Stage2.Skipped).
			Int("failed", res.Stage2.Failed).
			Int("renamed", res.Stage2.Renamed).
			Msg("stage-2 finished")

		multi := classifier.MultiGroups()
		res.MultiGroups = len(multi)
		res.MultiGroupFile, err = audit.WriteMultiGroupSummary(multi, res.OutputDir)
		if err != nil {
			return res, err
		}
	}

	// =========================================================================
	// STEP 5: SUMMARY
	// =========================================================================

	res.Failures = rep.Failures()
	res.SummaryFile, err = audit.WriteSummary(rep, audit.Summary{
		Company:     opt.Company,
		From:        opt.From,
		To:          opt.To,
		Documents:   res.Documents,
		Stage1:      res.Stage1,
		Deferred:    res.Deferred,
		Renamed:     res.Stage2.Renamed,
		MultiGroups: res.MultiGroups,
	}, res.OutputDir)
	if err != nil {
		return res, err
	}

	// =========================================================================
	// STEP 6: BUNDLE
	// =========================================================================

	archive := utils.BundleName(filepath.Dir(inputDir))
	if err := utils.BundleDir(res.OutputDir, archive); err != nil {
		return res, err
	}
	res.Archive = archive
	log.Info().Str("archive", res.Archive).Dur("elapsed", time.Since(started)).Msg("bundle written")

	if opt.Uploader != nil {
		uri, err := opt.Uploader.Upload(ctx, res.Archive)
		if err != nil {
			log.Warn().Err(err).Str("archive", res.Archive).Msg("bundle upload failed")
		} else {
			res.UploadURI = uri
			log.Info().Str("uri", uri).Msg("bundle uploaded")
		}
	}

	return res, nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// LoadRegistry returns the registry named by cfg.RegistryFile, or the
// built-in table.
func LoadRegistry(cfg *config.MainConfig) (*cfop.Registry, error) {
	if cfg == nil || cfg.RegistryFile == "" {
		return cfop.DefaultRegistry(), nil
	}
	return cfop.LoadRegistry(cfg.RegistryFile)
}

// LookupOptions maps the lookup section of cfg onto ledger.Options.
func LookupOptions(cfg *config.MainConfig) ledger.Options {
	return ledger.Options{
		Driver:       cfg.Lookup.Driver,
		DSN:          cfg.Lookup.DSN,
		Schema:       cfg.Lookup.Schema,
		DocumentKind: cfg.Lookup.DocumentKind,
		Timeout:      cfg.Lookup.Timeout,
	}
}

// fetchLookups runs both queries once and builds the Stage-2 classifier.
func fetchLookups(ctx context.Context, open LookupOpener, company string, from, to time.Time, nameLimit int, log *logger.Logger) (*supplier.Classifier, error) {
	src, err := open(ctx)
	if err != nil {
		return nil, faults.Wrap(err, faults.LookupUnavailable, "open lookup", "")
	}
	defer src.Close()

	t0 := time.Now()
	rows, err := src.PeriodLedger(ctx, company, from, to)
	if err != nil {
		return nil, faults.Wrap(err, faults.LookupUnavailable, "query period ledger", company)
	}
	master, err := src.SupplierMaster(ctx, company)
	if err != nil {
		return nil, faults.Wrap(err, faults.LookupUnavailable, "query supplier master", company)
	}
	log.Info().Int("ledger_rows", len(rows)).Int("suppliers", len(master)).Dur("elapsed", time.Since(t0)).Msg("lookups fetched")

	return supplier.NewClassifier(rows, master, nameLimit), nil
}

// =============================================================================
// STAGE-1 WORKER POOL
// =============================================================================

type codeReader interface {
	Codes(path string) ([]string, error)
}

type stage1 struct {
	docs     []string
	workers  int
	outDir   string
	classify *cfop.Classifier
	codes    codeReader
	placer   supplier.Placer
	audit    *audit.Reporter
	log      *logger.Logger
}

type stage1Outcome struct {
	doc      types.Document
	deferred bool
	skipped  bool
	failed   bool
}

type stage1Totals struct {
	placed   int
	skipped  int
	failed   int
	deferred []types.Document
}

func runStage1(ctx context.Context, s stage1) stage1Totals {
	workers := s.workers
	if workers < 1 {
		workers = 1
	}

	jobs := make(chan string)
	results := make(chan stage1Outcome, len(s.docs))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range jobs {
				results <- s.one(p)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, p := range s.docs {
			select {
			case jobs <- p:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	var t stage1Totals
	for r := range results {
		switch {
		case r.skipped:
			t.skipped++
		case r.failed:
			t.failed++
		case r.deferred:
			t.deferred = append(t.deferred, r.doc)
		default:
			t.placed++
		}
	}
	// workers finish in any order; Stage-2 renames depend on routing order
	sort.Slice(t.deferred, func(i, j int) bool { return t.deferred[i].Path < t.deferred[j].Path })
	return t
}

func (s stage1) one(p string) stage1Outcome {
	name := filepath.Base(p)
	doc := types.Document{Path: p}

	codes, err := s.codes.Codes(p)
	if err != nil {
		s.log.Warn().Err(err).Str("file", name).Msg("document not readable, skipped")
		s.audit.RecordSkip(name, err)
		return stage1Outcome{doc: doc, skipped: true}
	}
	doc.Codes = codes

	d := s.classify.Classify(doc.Codes)
	if d.Deferred {
		s.log.Debug().Str("file", name).Strs("cfop", doc.Codes).Msg("deferred to supplier lookup")
		return stage1Outcome{doc: doc, deferred: true}
	}

	s.audit.Record(types.PlacementRecord{FileName: name, Category: d.Category, Rule: d.Rule})
	dst, err := s.placer.Place(p, s.outDir, []string{d.Category})
	if err != nil {
		s.log.Error().Err(err).Str("file", name).Str("category", d.Category).Msg("relocation failed")
		s.audit.RecordFailure(name, err)
		return stage1Outcome{doc: doc, failed: true}
	}
	s.log.Debug().Str("file", name).Str("rule", d.Rule).Str("dst", dst).Msg("placed")
	return stage1Outcome{doc: doc}
}
