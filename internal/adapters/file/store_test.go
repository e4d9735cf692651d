package file_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/aretw0/espalier/internal/adapters/file"
	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_Contract(t *testing.T) {
	store := file.New(t.TempDir())
	ports.RunCheckpointStoreContract(t, store)
}

func TestFileStore_Layout(t *testing.T) {
	dir := t.TempDir()
	store := file.New(dir)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "s1", ports.ContractCheckpoint("s1", 1)))
	require.NoError(t, store.Save(ctx, "s1", ports.ContractCheckpoint("s1", 2)))

	entries, err := os.ReadDir(filepath.Join(dir, "s1"))
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"current.json", "v0000000001.json", "v0000000002.json"}, names,
		"no temp files may be left behind")
}

func TestFileStore_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	require.NoError(t, file.New(dir).Save(ctx, "s1", ports.ContractCheckpoint("s1", 7)))

	reopened := file.New(dir)
	cp, err := reopened.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 7, cp.Version)
	assert.Equal(t, domain.NodeReview, cp.State.CurrentNode)
	assert.Equal(t, 2, cp.State.RetryCounts[domain.NodeExecute])
}

func TestFileStore_RejectsPathTraversal(t *testing.T) {
	store := file.New(t.TempDir())
	err := store.Save(context.Background(), "../escape", ports.ContractCheckpoint("../escape", 1))
	assert.Error(t, err)
	_, err = store.Load(context.Background(), "")
	assert.Error(t, err)
}
