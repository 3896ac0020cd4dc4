package prediction

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"

	"github.com/kinga-app/kinga/internal/datastore/entities"
	"github.com/kinga-app/kinga/internal/datastore/repository"
	"github.com/kinga-app/kinga/internal/errors"
	"github.com/kinga-app/kinga/internal/logger"
	"github.com/kinga-app/kinga/internal/observability/metrics"
)

// SeedResult counts the records written by Seed.
type SeedResult struct {
	Created int
	Updated int
}

// LoadSeedFile reads a YAML list of knowledge records.
func LoadSeedFile(path string) ([]entities.PestKnowledge, error) {
	f, err := os.Open(path) //nolint:gosec // seed path comes from the command line
	if err != nil {
		return nil, errors.New(err).
			Component("prediction").
			Category(errors.CategoryFileIO).
			Context("seed_path", path).
			Build()
	}
	defer f.Close()

	pests, err := ParseSeed(f)
	if err != nil {
		return nil, errors.New(err).
			Component("prediction").
			Category(errors.CategoryValidation).
			Context("seed_path", path).
			Build()
	}
	return pests, nil
}

// ParseSeed decodes knowledge records from r. Names are trimmed and NFC
// normalized the same way classifier labels are; a record
// without a name or a name listed twice is an error.
func ParseSeed(r io.Reader) ([]entities.PestKnowledge, error) {
	var pests []entities.PestKnowledge
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&pests); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.NewStd("seed file is empty")
		}
		return nil, err
	}

	seen := make(map[string]int, len(pests))
	for i := range pests {
		pests[i].Name = norm.NFC.String(strings.TrimSpace(pests[i].Name))
		name := pests[i].Name
		if name == "" {
			return nil, errors.Newf("entry %d has no name", i+1).
				Category(errors.CategoryValidation).
				Build()
		}
		if prev, ok := seen[name]; ok {
			return nil, errors.Newf("entry %d duplicates %q from entry %d", i+1, name, prev).
				Category(errors.CategoryValidation).
				Build()
		}
		seen[name] = i + 1
	}
	return pests, nil
}

// Seed upserts pests by name.
func Seed(ctx context.Context, repo repository.KnowledgeRepository, pests []entities.PestKnowledge, recorder metrics.Recorder) (SeedResult, error) {
	recorder = metrics.OrNoOp(recorder)
	start := time.Now()
	var res SeedResult
	for i := range pests {
		created, err := repo.Upsert(ctx, &pests[i])
		if err != nil {
			recorder.RecordOperation(metrics.OpSeed, metrics.StatusError)
			return res, err
		}
		if created {
			res.Created++
		} else {
			res.Updated++
		}
	}
	recorder.RecordOperation(metrics.OpSeed, metrics.StatusSuccess)
	recorder.RecordDuration(metrics.OpSeed, time.Since(start).Seconds())

	GetLogger().Info("knowledge base seeded",
		logger.Int("created", res.Created),
		logger.Int("updated", res.Updated))
	return res, nil
}
