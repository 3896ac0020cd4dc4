package prediction

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kinga-app/kinga/internal/datastore/repository"
	"github.com/kinga-app/kinga/internal/observability/metrics"
	"github.com/kinga-app/kinga/internal/testutil"
)

const seedYAML = `
- name: "Fall Armyworm "
  description: Caterpillar feeding on maize leaves.
  recommended_actions: Hand pick larvae.
  swahili_name: Viwavijeshi
- name: Aphids
  description: Sap sucking insects.
  swahili_name: Vidukari
`

func TestParseSeed(t *testing.T) {
	pests, err := ParseSeed(strings.NewReader(seedYAML))
	require.NoError(t, err)
	require.Len(t, pests, 2)
	assert.Equal(t, "Fall Armyworm", pests[0].Name)
	assert.Equal(t, "Hand pick larvae.", pests[0].RecommendedActions)
	assert.Equal(t, "Vidukari", pests[1].SwahiliName)
}

func TestParseSeedRejects(t *testing.T) {
	tests := map[string]string{
		"empty":         "",
		"missing name":  "- description: no name here\n",
		"duplicate":     "- name: Aphids\n- name: Aphids\n",
		"unknown field": "- name: Aphids\n  colour: green\n",
		"not a list":    "name: Aphids\n",
		"nfc duplicate": "- name: \"Caf\\u00e9\"\n- name: \"Cafe\\u0301\"\n",
	}
	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseSeed(strings.NewReader(input))
			require.Error(t, err)
		})
	}
}

func TestSeedUpsertsByName(t *testing.T) {
	db := testutil.OpenTestDB(t)
	repo := repository.NewKnowledgeRepository(db)
	rec := metrics.NewTestRecorder()

	path := filepath.Join(t.TempDir(), "pests.yaml")
	require.NoError(t, os.WriteFile(path, []byte(seedYAML), 0o600))

	pests, err := LoadSeedFile(path)
	require.NoError(t, err)
	res, err := Seed(t.Context(), repo, pests, rec)
	require.NoError(t, err)
	assert.Equal(t, SeedResult{Created: 2}, res)

	pests, err = ParseSeed(strings.NewReader("- name: Aphids\n  description: Updated.\n"))
	require.NoError(t, err)
	res, err = Seed(t.Context(), repo, pests, nil)
	require.NoError(t, err)
	assert.Equal(t, SeedResult{Updated: 1}, res)

	got, err := repo.GetByName(t.Context(), "Aphids")
	require.NoError(t, err)
	assert.Equal(t, "Updated.", got.Description)

	count, err := repo.Count(t.Context())
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)
	assert.Equal(t, 1, rec.OperationCount(metrics.OpSeed, metrics.StatusSuccess))
}

func TestLoadSeedFileMissing(t *testing.T) {
	_, err := LoadSeedFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
