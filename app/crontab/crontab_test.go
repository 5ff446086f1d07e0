package crontab

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParser_Load(t *testing.T) {
	ctab := New("testfiles/jobtab", nil, false)
	tbl, err := ctab.Load()
	require.NoError(t, err)
	assert.Equal(t, "testfiles/jobtab", ctab.String())
	assert.Equal(t, "testfiles/jobtab", tbl.Source())
	assert.NotEmpty(t, tbl.Version())
	assert.False(t, tbl.LoadedAt().IsZero())
	require.Equal(t, 3, tbl.Len())

	entries := tbl.Entries()
	env := []string{"MAILTO=", "PATH=/usr/local/bin:/usr/bin:/bin"}

	assert.Equal(t, 5, entries[0].Line)
	assert.Equal(t, "0,30 * * * *", entries[0].Spec)
	assert.Equal(t, "/common/python/current", entries[0].Dir)
	assert.Equal(t, "python eovsa_fits.py {{.PYYYYMMDD}}", entries[0].Command)
	assert.Equal(t, Output{Mode: OutputAppend, Path: "/tmp/fits.log"}, entries[0].Output)
	assert.Equal(t, env, entries[0].Env)

	assert.Equal(t, 6, entries[1].Line)
	assert.Equal(t, "0 0 1 12 *", entries[1].Spec)
	assert.Equal(t, "pipecron provision", entries[1].Command)
	assert.Equal(t, Output{Mode: OutputInherit}, entries[1].Output)
	assert.Empty(t, entries[1].Dir)

	assert.Equal(t, 7, entries[2].Line)
	assert.Equal(t, "wget -q http://webcam/snapshot.jpg -O /data1/webcam/latest.jpg", entries[2].Command)
	assert.Equal(t, Output{Mode: OutputDiscard}, entries[2].Output)
}

func TestParser_LoadMalformed(t *testing.T) {
	_, err := New("testfiles/jobtab-bad", nil, false).Load()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformed))

	var merr *MalformedError
	require.True(t, errors.As(err, &merr))
	assert.Equal(t, 4, merr.Line)
	assert.Equal(t, "testfiles/jobtab-bad", merr.Source)
	assert.Equal(t, "0 * * * *", merr.Text)
	assert.Contains(t, err.Error(), "testfiles/jobtab-bad:4:")
}

func TestParser_LoadNoFile(t *testing.T) {
	_, err := New("testfiles/no-file", nil, false).Load()
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrMalformed))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestParser_LoadYAML(t *testing.T) {
	tbl, err := New("testfiles/jobtab.yml", nil, false).Load()
	require.NoError(t, err)
	require.Equal(t, 3, tbl.Len())
	entries := tbl.Entries()

	assert.Equal(t, "fits", entries[0].Name)
	assert.Equal(t, 4, entries[0].Line)
	assert.Equal(t, "/common/python/current", entries[0].Dir)
	assert.Equal(t, Output{Mode: OutputAppend, Path: "/tmp/fits-{{.YYYYMMDD}}.log"}, entries[0].Output)
	assert.Equal(t, []string{"PATH=/usr/bin:/bin"}, entries[0].Env)

	assert.Equal(t, 10, entries[1].Line)
	assert.Equal(t, "0 0 1 12 *", entries[1].Spec)
	assert.Equal(t, []string{"PATH=/usr/bin:/bin", "PIPECRON_DBG=true"}, entries[1].Env)

	assert.Equal(t, 19, entries[2].Line)
	assert.Equal(t, "/tmp", entries[2].Dir)
	assert.Equal(t, "wget -q http://webcam/snapshot.jpg", entries[2].Command)
	assert.Equal(t, Output{Mode: OutputDiscard}, entries[2].Output)
	require.NotNil(t, entries[2].Repeater)
	assert.Equal(t, 3, *entries[2].Repeater.Attempts)
	assert.Equal(t, 2*time.Second, *entries[2].Repeater.Duration)
	require.NotNil(t, entries[2].Conditions)
	assert.Equal(t, 10, *entries[2].Conditions.DiskFreeAbove)
	assert.Equal(t, "/data1", entries[2].Conditions.DiskFreePath)
}

func TestParser_Changes(t *testing.T) {
	file := filepath.Join(t.TempDir(), "jobtab")
	require.NoError(t, os.WriteFile(file, []byte("1 * * * * ls -la\n"), 0o600))

	reloadCh := make(chan struct{})
	ctab := New(file, reloadCh, false)
	tbl, err := ctab.Load()
	require.NoError(t, err)
	require.Equal(t, 1, tbl.Len())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := ctab.Changes(ctx)
	require.NoError(t, err)

	// file changes alone are not picked up
	require.NoError(t, os.WriteFile(file, []byte("1 * * * * ls -la\n2 * * * * pwd\n"), 0o600))
	select {
	case <-ch:
		t.Fatal("unexpected reload")
	case <-time.After(100 * time.Millisecond):
	}

	reloadCh <- struct{}{}
	upd := <-ch
	assert.Equal(t, 2, upd.Len())
	assert.NotEqual(t, tbl.Version(), upd.Version())

	// broken table is skipped, the next good one delivered
	require.NoError(t, os.WriteFile(file, []byte("1 * * *\n"), 0o600))
	reloadCh <- struct{}{}
	require.NoError(t, os.WriteFile(file, []byte("3 * * * * date\n"), 0o600))
	reloadCh <- struct{}{}
	upd = <-ch
	require.Equal(t, 1, upd.Len())
	assert.Equal(t, "date", upd.Entries()[0].Command)

	cancel()
	_, ok := <-ch
	assert.False(t, ok, "closed on cancel")
}

func TestParser_ChangesNoReload(t *testing.T) {
	_, err := New("testfiles/jobtab", nil, false).Changes(context.Background())
	assert.Error(t, err)
}

func TestTable(t *testing.T) {
	tbl, err := ParseLines("test", []byte("0,30 * * * * echo a\n0 * * * * echo b\n15 * * * * echo c\n"), false)
	require.NoError(t, err)

	ts := time.Date(2026, 5, 1, 10, 0, 0, 0, time.Local)
	matched := tbl.Match(ts)
	require.Len(t, matched, 2)
	assert.Equal(t, "echo a", matched[0].Command)
	assert.Equal(t, "echo b", matched[1].Command)
	assert.Len(t, tbl.Match(ts.Add(30*time.Minute)), 1)
	assert.Empty(t, tbl.Match(ts.Add(31*time.Minute)))

	entries := tbl.Entries()
	entries[0].Command = "changed"
	assert.Equal(t, "echo a", tbl.Entries()[0].Command, "entries are copied")

	e, ok := tbl.Find(tbl.Entries()[2].ID())
	require.True(t, ok)
	assert.Equal(t, "echo c", e.Command)
	_, ok = tbl.Find("nope")
	assert.False(t, ok)

	other, err := ParseLines("test", []byte("0,30 * * * * echo a\n"), false)
	require.NoError(t, err)
	assert.NotEqual(t, tbl.Version(), other.Version())
	assert.NotEqual(t, tbl.Entries()[0].ID(), tbl.Entries()[1].ID())
	assert.Equal(t, tbl.Entries()[0].ID(), other.Entries()[0].ID(), "same job, same id")
}

func TestEntry_ID(t *testing.T) {
	data := []byte(`* * * * * cd /data && sh wait.sh >> a.log 2>&1
* * * * * cd /data && sh wait.sh >> b.log 2>&1
* * * * * cd /data && sh wait.sh >> a.log 2>&1
FLAG=1
* * * * * cd /data && sh wait.sh >> a.log 2>&1
`)
	tbl, err := ParseLines("test", data, false)
	require.NoError(t, err)
	require.Equal(t, 4, tbl.Len())

	ids := map[string]int{}
	for i, e := range tbl.Entries() {
		assert.Equal(t, "sh wait.sh", e.Command)
		ids[e.ID()] = i
	}
	assert.Len(t, ids, 4, "output, env and repeats make distinct ids")

	for _, e := range tbl.Entries() {
		found, ok := tbl.Find(e.ID())
		require.True(t, ok)
		assert.Equal(t, e.Line, found.Line)
	}

	again, err := ParseLines("test", data, false)
	require.NoError(t, err)
	for i, e := range again.Entries() {
		assert.Equal(t, tbl.Entries()[i].ID(), e.ID(), "stable across reloads")
	}

	named := Entry{Spec: "* * * * *", Command: "sh wait.sh", Name: "fits"}
	assert.NotEqual(t, named.ID(), Entry{Spec: "* * * * *", Command: "sh wait.sh"}.ID())
}

func TestEntry_String(t *testing.T) {
	assert.Equal(t, `"echo 1"`, Entry{Command: "echo 1"}.String())
	assert.Equal(t, `"echo 1" (test)`, Entry{Command: "echo 1", Name: "test"}.String())
}
