package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/natefinch/lumberjack.v2"
)

func Test_makeHostName(t *testing.T) {
	cmd := runCmd{}
	cmd.Notify.HostName = "test"
	assert.Equal(t, "test", makeHostName(cmd))

	cmd.Notify.HostName = ""
	exp, err := os.Hostname()
	require.NoError(t, err)
	assert.Equal(t, exp, makeHostName(cmd))
}

func Test_makeNotifier(t *testing.T) {
	cmd := runCmd{}
	cmd.Notify.ToEmails = []string{"test@example.com"}
	assert.Nil(t, makeNotifier(&cmd))

	cmd.Notify.EnabledCompletion = true
	notif := makeNotifier(&cmd)
	require.NotNil(t, notif)
	assert.True(t, notif.IsOnCompletion())
	assert.False(t, notif.IsOnError())
	assert.Equal(t, "pipecron@"+makeHostName(cmd), cmd.Notify.FromEmail,
		"side effect of creating notifier with empty From is setting the From based on hostname")

	cmd.Notify.ToEmails = nil
	assert.Nil(t, makeNotifier(&cmd), "no destinations")
}

func Test_setupLogsWithLogsDisabled(t *testing.T) {
	opts.Log.Enabled = false
	assert.Equal(t, os.Stdout, setupLogs())
}

func Test_setupLogsToFile(t *testing.T) {
	defer func() { opts.Log.Enabled = false }()
	opts.Log.Enabled = true
	opts.Log.Filename = filepath.Join(t.TempDir(), "pipecron.log")
	opts.Log.MaxSize = 100
	opts.Log.MaxBackups = 7
	opts.Log.MaxAge = 0
	opts.Log.EnabledCompress = false

	out := setupLogs()
	assert.IsType(t, &lumberjack.Logger{}, out)

	logger := out.(*lumberjack.Logger)
	assert.Equal(t, opts.Log.Filename, logger.Filename)
	assert.Equal(t, 100, logger.MaxSize)
	assert.Equal(t, 7, logger.MaxBackups)
	assert.Equal(t, 0, logger.MaxAge)
	assert.False(t, logger.Compress)
	opts.Log.Enabled = false
	setupLogs()
}

func Test_runProvision(t *testing.T) {
	dir := t.TempDir()
	cmd := provisionCmd{Year: "2026", Perm: "0755", Dirs: []string{
		"ifdb=" + filepath.Join(dir, "IFDB-{{.YYYY}}"),
		"ufdb=" + filepath.Join(dir, "UFDB-{{.YYYY}}"),
	}}

	out := bytes.NewBuffer(nil)
	assert.Equal(t, exitOK, runProvision(cmd, out))
	assert.DirExists(t, filepath.Join(dir, "IFDB-2026"))
	assert.DirExists(t, filepath.Join(dir, "UFDB-2026"))
	assert.Contains(t, out.String(), "created\tifdb\t"+filepath.Join(dir, "IFDB-2026"))

	out.Reset()
	assert.Equal(t, exitFailed, runProvision(cmd, out), "second run fails for every path")
	assert.Contains(t, out.String(), "2 of 2 directories for 2026 not created")

	out.Reset()
	cmd.Year = "26"
	assert.Equal(t, exitBadArgs, runProvision(cmd, out))
	assert.Contains(t, out.String(), "year must be 4 digits")

	cmd.Year = "2027"
	cmd.Dirs = []string{"ifdb"}
	assert.Equal(t, exitBadArgs, runProvision(cmd, out))

	cmd.Dirs = []string{"ifdb=" + filepath.Join(dir, "IFDB-{{.YYYY}}")}
	cmd.Perm = "999"
	assert.Equal(t, exitBadArgs, runProvision(cmd, out))

	out.Reset()
	cmd.Perm = "0750"
	cmd.DryRun = true
	assert.Equal(t, exitOK, runProvision(cmd, out))
	assert.Equal(t, "ifdb\t"+filepath.Join(dir, "IFDB-2027")+"\n", out.String())
	assert.NoDirExists(t, filepath.Join(dir, "IFDB-2027"))
}

func Test_runCheck(t *testing.T) {
	dir := t.TempDir()
	fname := filepath.Join(dir, "jobtab")
	require.NoError(t, os.WriteFile(fname, []byte("# jobs\n0,30 * * * * ingest\n0 0 1 12 * pipecron provision\n"), 0o600))

	out := bytes.NewBuffer(nil)
	assert.Equal(t, exitOK, runCheck(checkCmd{CrontabFile: fname}, out))
	assert.Contains(t, out.String(), "2 jobs")
	assert.Contains(t, out.String(), `"ingest"`)
	assert.Contains(t, out.String(), "0 0 1 12 *")

	require.NoError(t, os.WriteFile(fname, []byte("0 * * * * ok\n* * * * broken\n"), 0o600))
	out.Reset()
	assert.Equal(t, exitFailed, runCheck(checkCmd{CrontabFile: fname}, out))
	assert.Contains(t, out.String(), fname+":2:")

	out.Reset()
	assert.Equal(t, exitFailed, runCheck(checkCmd{CrontabFile: filepath.Join(dir, "missing")}, out))

	out.Reset()
	assert.Equal(t, exitOK, runCheck(checkCmd{Command: "@daily echo 123"}, out))
	assert.Contains(t, out.String(), "1 jobs")
}

func Test_runCheckAt(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "jobtab")
	require.NoError(t, os.WriteFile(fname,
		[]byte("0,30 * * * * ingest\n0 0 1 12 * pipecron provision\n0 * * * * reduce\n"), 0o600))

	tbl := []struct {
		name  string
		at    string
		code  int
		out   []string
		noOut []string
	}{
		{name: "hour", at: "2026-05-01T10:00", code: exitOK, out: []string{"2 of 3 jobs", `"ingest"`, `"reduce"`},
			noOut: []string{"provision"}},
		{name: "half hour", at: "2026-05-01T10:30", code: exitOK, out: []string{"1 of 3 jobs", `"ingest"`},
			noOut: []string{"reduce"}},
		{name: "dec 1st", at: "2026-12-01T00:00", code: exitOK, out: []string{"3 of 3 jobs", "provision"}},
		{name: "nothing", at: "2026-05-01T10:31", code: exitOK, out: []string{"0 of 3 jobs"}},
		{name: "rfc3339", at: "2026-05-01T10:00:00Z", code: exitOK, out: []string{"of 3 jobs"}},
		{name: "bad time", at: "yesterday", code: exitBadArgs, out: []string{"bad --at"}},
	}
	for _, tt := range tbl {
		t.Run(tt.name, func(t *testing.T) {
			out := bytes.NewBuffer(nil)
			assert.Equal(t, tt.code, runCheck(checkCmd{CrontabFile: fname, At: tt.at}, out))
			for _, s := range tt.out {
				assert.Contains(t, out.String(), s)
			}
			for _, s := range tt.noOut {
				assert.NotContains(t, out.String(), s)
			}
		})
	}
}

func Test_runNetrc(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "netrc")
	require.NoError(t, os.WriteFile(fname, []byte("machine db1 login calib password pw\n"), 0o644)) //nolint:gosec // test

	out := bytes.NewBuffer(nil)
	assert.Equal(t, exitFailed, runNetrc(netrcCmd{File: fname}, out))
	assert.Contains(t, out.String(), "permissions too open")

	out.Reset()
	assert.Equal(t, exitOK, runNetrc(netrcCmd{File: fname, Fix: true}, out))
	assert.Contains(t, out.String(), "set to 0600")
	assert.Contains(t, out.String(), "1 records")

	out.Reset()
	assert.Equal(t, exitOK, runNetrc(netrcCmd{File: fname, Machine: "db1"}, out))
	assert.Contains(t, out.String(), `db1 login:"calib"`)
	assert.NotContains(t, out.String(), "pw")

	assert.Equal(t, exitFailed, runNetrc(netrcCmd{File: fname, Machine: "db2"}, out))
	assert.Equal(t, exitFailed, runNetrc(netrcCmd{File: fname + "-missing"}, out))
}

func Test_runScheduler(t *testing.T) {
	cmd := runCmd{Command: "* * * * * echo 123", Overlap: "skip"}
	cmd.Repeater.Attempts = 1
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	require.NoError(t, runScheduler(ctx, cmd, nil, os.Stdout))

	cmd.Overlap = "never"
	assert.Error(t, runScheduler(context.Background(), cmd, nil, os.Stdout))

	cmd.Overlap = "skip"
	cmd.Command = "* * * bad"
	assert.Error(t, runScheduler(context.Background(), cmd, nil, os.Stdout), "malformed single command")
}

func Test_runSchedulerWithWeb(t *testing.T) {
	dir := t.TempDir()
	fname := filepath.Join(dir, "jobtab")
	require.NoError(t, os.WriteFile(fname, []byte("0 0 1 12 * pipecron provision\n"), 0o600))

	cmd := runCmd{CrontabFile: fname, Overlap: "queue", LockDir: filepath.Join(dir, "locks")}
	cmd.Web.Enabled = true
	cmd.Web.Address = "127.0.0.1:0"
	cmd.Web.DBPath = filepath.Join(dir, "history.db")

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	require.NoError(t, runScheduler(ctx, cmd, make(chan struct{}), os.Stdout))
	assert.FileExists(t, cmd.Web.DBPath)
}
