package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/probo/internal/common"
)

func openStore(t *testing.T) *SessionStore {
	t.Helper()
	store, err := OpenSessionStore(common.GetLogger(), &common.BadgerConfig{
		Path: filepath.Join(t.TempDir(), "db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSubmissionRoundTrip(t *testing.T) {
	store := openStore(t)

	sub := &Submission{
		ID:        "sub_1",
		TestDir:   "/specs/a",
		Plugin:    "QM",
		Slots:     4,
		MaxTime:   120,
		Artifacts: []string{"/specs/a/qm_launch.sh"},
		CreatedAt: time.Now(),
	}
	require.NoError(t, store.SaveSubmission(sub))

	found, err := store.FindSubmission("/specs/a", "QM")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, sub.ID, found.ID)
	assert.Equal(t, sub.Artifacts, found.Artifacts)

	// Plugin is part of the lookup key
	none, err := store.FindSubmission("/specs/a", "Other")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestSaveSubmissionRequiresID(t *testing.T) {
	store := openStore(t)
	assert.Error(t, store.SaveSubmission(&Submission{TestDir: "/x", Plugin: "QM"}))
}

func TestDeleteSubmission(t *testing.T) {
	store := openStore(t)
	require.NoError(t, store.SaveSubmission(&Submission{ID: "sub_1", TestDir: "/specs/a", Plugin: "QM"}))
	require.NoError(t, store.DeleteSubmission("/specs/a", "QM"))

	found, err := store.FindSubmission("/specs/a", "QM")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestListSubmissions(t *testing.T) {
	store := openStore(t)
	require.NoError(t, store.SaveSubmission(&Submission{ID: "sub_1", TestDir: "/specs/a", Plugin: "QM"}))
	require.NoError(t, store.SaveSubmission(&Submission{ID: "sub_2", TestDir: "/specs/b", Plugin: "QM"}))

	subs, err := store.ListSubmissions()
	require.NoError(t, err)
	assert.Len(t, subs, 2)
}
