package catalog_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ATKH/Radio-Beguin-Beta/catalog"
)

func TestOverridesStore_EmptyPathIsInert(t *testing.T) {
	t.Parallel()

	store, err := catalog.NewOverridesStore("", 10*time.Millisecond, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	episodes := []catalog.Episode{{ID: "101", Tags: []string{"Techno"}}} //nolint:exhaustruct
	store.Apply(episodes)
	assert.Equal(t, []string{"Techno"}, episodes[0].Tags)
}

func TestOverridesStore_MissingFileLoadsNothing(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "episodes.json")
	store, err := catalog.NewOverridesStore(file, 10*time.Millisecond, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	episodes := []catalog.Episode{{ID: "101", Tags: []string{"Techno"}}} //nolint:exhaustruct
	store.Apply(episodes)
	assert.Equal(t, []string{"Techno"}, episodes[0].Tags)
}

func TestOverridesStore_AppliesTags(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "episodes.json")
	require.NoError(t, os.WriteFile(file, []byte(`{
		"episodes": {
			"101": {"tags": ["Leftfield", "Dub"]}
		}
	}`), 0o644))

	store, err := catalog.NewOverridesStore(file, 10*time.Millisecond, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	episodes := []catalog.Episode{
		{ID: "101", Tags: []string{"Techno"}},  //nolint:exhaustruct
		{ID: "102", Tags: []string{"Ambient"}}, //nolint:exhaustruct
	}
	store.Apply(episodes)

	assert.Equal(t, []string{"Leftfield", "Dub"}, episodes[0].Tags)
	assert.Equal(t, []string{"Ambient"}, episodes[1].Tags, "episodes without an override are untouched")
}

func TestOverridesStore_ReloadsOnFileChange(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "episodes.json")
	require.NoError(t, os.WriteFile(file, []byte(`{"episodes": {}}`), 0o644))

	store, err := catalog.NewOverridesStore(file, 10*time.Millisecond, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	episodes := []catalog.Episode{{ID: "101", Tags: []string{"Techno"}}} //nolint:exhaustruct
	store.Apply(episodes)
	require.Equal(t, []string{"Techno"}, episodes[0].Tags)

	require.NoError(t, os.WriteFile(file, []byte(`{
		"episodes": {"101": {"tags": ["Gqom"]}}
	}`), 0o644))

	// The reload is debounced and asynchronous.
	assert.Eventually(t, func() bool {
		probe := []catalog.Episode{{ID: "101", Tags: []string{"Techno"}}} //nolint:exhaustruct
		store.Apply(probe)

		return len(probe[0].Tags) == 1 && probe[0].Tags[0] == "Gqom"
	}, 5*time.Second, 20*time.Millisecond)
}

func TestOverridesStore_RejectsCorruptInitialFile(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "episodes.json")
	require.NoError(t, os.WriteFile(file, []byte("{broken"), 0o644))

	_, err := catalog.NewOverridesStore(file, 10*time.Millisecond, zerolog.Nop())
	assert.Error(t, err)
}
