package harness

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFileRunner(t *testing.T, base string, names ...string) *RunnerBase {
	t.Helper()
	set := RunnerParams()
	require.NoError(t, set.Set("name", "files"))
	sub := set.Sub("file")
	require.NoError(t, sub.Set("base", base))
	require.NoError(t, sub.Set("names", names))
	rb := NewRunnerBase(set)
	return &rb
}

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
}

func TestExpectedFilesResolveAgainstBase(t *testing.T) {
	dir := t.TempDir()
	rb := newFileRunner(t, dir, "out.txt", "/abs/other.txt")

	assert.Equal(t, []string{filepath.Join(dir, "out.txt"), "/abs/other.txt"}, rb.ExpectedFiles())
}

func TestPreExecuteCleanRemovesExpected(t *testing.T) {
	dir := t.TempDir()
	rb := newFileRunner(t, dir, "out.txt")
	stale := filepath.Join(dir, "out.txt")
	touch(t, stale)

	rb.PreExecute()
	assert.Zero(t, rb.Status())
	assert.NoFileExists(t, stale, "clean=true leaves expected files absent")
}

func TestPreExecuteExistingWithoutClean(t *testing.T) {
	dir := t.TempDir()
	rb := newFileRunner(t, dir, "out.txt")
	require.NoError(t, rb.Parameters().Sub("file").Set("clean", false))
	touch(t, filepath.Join(dir, "out.txt"))

	cap := NewCapture()
	rb.AttachSink(cap)
	rb.PreExecute()
	assert.Positive(t, rb.Status())
	assert.Contains(t, cap.String(), "already exist")
}

func TestPreExecuteRelativePathRejected(t *testing.T) {
	set := RunnerParams()
	require.NoError(t, set.Set("name", "files"))
	require.NoError(t, set.Sub("file").Set("names", []string{"relative.txt"}))
	rb := NewRunnerBase(set)

	cap := NewCapture()
	rb.AttachSink(cap)
	rb.PreExecute()
	assert.Positive(t, rb.Status())
	assert.Contains(t, cap.String(), "absolute path")
}

func TestPostExecuteMissingFile(t *testing.T) {
	dir := t.TempDir()
	rb := newFileRunner(t, dir, "out.txt")

	rb.PreExecute()
	require.Zero(t, rb.Status())

	cap := NewCapture()
	rb.AttachSink(cap)
	rb.PostExecute(nil)
	assert.Positive(t, rb.Status())
	assert.Contains(t, cap.String(), "not created as expected")
}

func TestPostExecuteHappy(t *testing.T) {
	dir := t.TempDir()
	rb := newFileRunner(t, dir, "out.txt")

	rb.PreExecute()
	touch(t, filepath.Join(dir, "out.txt"))
	rb.PostExecute(nil)
	assert.Zero(t, rb.Status())
}

func TestPostExecuteUnexpectedFile(t *testing.T) {
	dir := t.TempDir()
	rb := newFileRunner(t, dir, "out.txt")

	rb.PreExecute()
	touch(t, filepath.Join(dir, "out.txt"))
	touch(t, filepath.Join(dir, "surprise.txt"))

	cap := NewCapture()
	rb.AttachSink(cap)
	rb.PostExecute(nil)
	assert.Positive(t, rb.Status())
	assert.Contains(t, cap.String(), "surprise.txt")
}

func TestPostExecuteIgnorePatterns(t *testing.T) {
	dir := t.TempDir()
	rb := newFileRunner(t, dir, "out.txt")

	rb.PreExecute()
	touch(t, filepath.Join(dir, "out.txt"))
	touch(t, filepath.Join(dir, "scratch.log"))

	rb.PostExecute([]string{"*.log"})
	assert.Zero(t, rb.Status())
}

func TestPreExecuteCheckCreatedRequiresBase(t *testing.T) {
	set := RunnerParams()
	require.NoError(t, set.Set("name", "files"))
	require.NoError(t, set.Sub("file").Set("check_created", true))
	rb := NewRunnerBase(set)

	cap := NewCapture()
	rb.AttachSink(cap)
	rb.PreExecute()
	assert.Positive(t, rb.Status())
	assert.Contains(t, cap.String(), "file/base")
}

func TestCaptureConcurrentWriters(t *testing.T) {
	c := NewCapture()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Write([]byte("x"))
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 800, c.Len())
}
