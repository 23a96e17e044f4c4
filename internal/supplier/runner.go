package supplier

import (
	"context"
	"path/filepath"

	"github.com/ginjaninja78/nfe-classifier/internal/cfop"
	"github.com/ginjaninja78/nfe-classifier/internal/faults"
	"github.com/ginjaninja78/nfe-classifier/internal/logger"
	"github.com/ginjaninja78/nfe-classifier/internal/types"
)

// Placer moves a document under root/segments and returns its final path.
type Placer interface {
	Place(src, root string, segments []string) (string, error)
}

// Renamer renames parent/oldName to a free name derived from newBase.
type Renamer interface {
	RenameUnique(parent, oldName, newBase string) (string, error)
}

// IssuerReader extracts the normalized tax id and cleaned name of a document's issuer.
type IssuerReader interface {
	Issuer(path string) (taxID, name string, err error)
}

// Recorder receives the audit trail of Stage-2.
type Recorder interface {
	Record(rec types.PlacementRecord)
	RecordFailure(fileName string, err error)
	RecordSkipRule(fileName, rule string, err error)
	RecordRename(from, to string)
}

// Stats counts what a Stage-2 batch did.
type Stats struct {
	Placed         int
	Skipped        int
	Failed         int
	Renamed        int
	RenameFailures int
}

// Runner applies a Classifier to a batch of deferred documents.
type Runner struct {
	Classifier *Classifier
	Placer     Placer
	Renamer    Renamer
	Issuers    IssuerReader
	Audit      Recorder
	Log        *logger.Logger
}

// Run routes every document in docs into outRoot, then renames the SemGrupo
// folders. A document whose issuer cannot be read is skipped with its R1
// deferral noted; a document that
// cannot be moved stays where it is and is reported as a failure. Only a
// cancelled ctx stops the batch early.
func (r *Runner) Run(ctx context.Context, docs []types.Document, outRoot string) (Stats, error) {
	log := r.Log
	if log == nil {
		log = logger.Named("stage2")
	}
	var st Stats

	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		p := doc.Path
		name := filepath.Base(p)

		taxID, issuer, err := r.Issuers.Issuer(p)
		if err != nil {
			log.Warn().Err(err).Str("file", name).Msg("issuer not readable, document skipped")
			r.Audit.RecordSkipRule(name, cfop.RuleDefer, err)
			st.Skipped++
			continue
		}

		doc.IssuerTaxID, doc.IssuerName = taxID, issuer
		route := r.Classifier.Route(doc.IssuerTaxID, doc.IssuerName)
		r.Audit.Record(types.PlacementRecord{FileName: name, Category: route.Category(), Rule: route.Rule})

		dst, err := r.Placer.Place(p, outRoot, route.Segments)
		if err != nil {
			log.Error().Err(err).Str("file", name).Str("category", route.Category()).Msg("relocation failed")
			r.Audit.RecordFailure(name, err)
			st.Failed++
			continue
		}
		log.Debug().Str("file", name).Str("dst", dst).Str("outcome", route.Outcome.String()).Msg("placed")
		st.Placed++
	}

	parent := filepath.Join(outRoot, UnclassifiedDir)
	for _, rn := range r.Classifier.Renames() {
		got, err := r.Renamer.RenameUnique(parent, rn.TaxID, rn.Base)
		if err != nil {
			ev := log.Warn()
			if faults.Is(err, faults.RenameCollisionExhausted) {
				ev = log.Error()
			}
			ev.Err(err).Str("tax_id", rn.TaxID).Str("name", rn.Base).Msg("folder rename failed, keeping tax id")
			st.RenameFailures++
			continue
		}
		log.Debug().Str("tax_id", rn.TaxID).Str("folder", got).Msg("renamed")
		r.Audit.RecordRename(UnclassifiedDir+"/"+rn.TaxID, UnclassifiedDir+"/"+got)
		st.Renamed++
	}

	return st, nil
}
