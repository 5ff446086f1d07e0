package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	log "github.com/go-pkgz/lgr"
	ntf "github.com/go-pkgz/notify"
	"github.com/go-pkgz/repeater"
	"github.com/go-pkgz/repeater/strategy"
	"github.com/robfig/cron/v3"
	"github.com/umputun/go-flags"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/solarray/pipecron/app/conditions"
	"github.com/solarray/pipecron/app/crontab"
	"github.com/solarray/pipecron/app/netrc"
	"github.com/solarray/pipecron/app/notify"
	"github.com/solarray/pipecron/app/provision"
	"github.com/solarray/pipecron/app/resumer"
	"github.com/solarray/pipecron/app/service"
	"github.com/solarray/pipecron/app/web"
)

type runCmd struct {
	CrontabFile     string        `short:"f" long:"file" env:"PIPECRON_FILE" default:"crontab" description:"job table file, yaml if .yml/.yaml"`
	Command         string        `short:"c" long:"command" env:"PIPECRON_COMMAND" description:"single job, spec and command"`
	Resume          string        `short:"r" long:"resume" env:"PIPECRON_RESUME" description:"auto-resume location"`
	ResumeConc      int           `long:"resume-concurrency" env:"PIPECRON_RESUME_CONCURRENCY" default:"4" description:"max concurrent resumed jobs"`
	Overlap         string        `long:"overlap" env:"PIPECRON_OVERLAP" default:"skip" choice:"skip" choice:"queue" choice:"allow" description:"what to do if the previous run of a job is still active"`
	LockDir         string        `long:"lock-dir" env:"PIPECRON_LOCK_DIR" description:"directory for per-job lock files shared between processes"`
	Jitter          time.Duration `short:"j" long:"jitter" env:"PIPECRON_JITTER" description:"max random delay before each run"`
	AltTemplate     bool          `long:"alt-template" env:"PIPECRON_ALT_TEMPLATE" description:"use [[.YYYY]] delimiters for day templates"`
	LogPrefix       bool          `long:"log-prefix" env:"PIPECRON_LOG_PREFIX" description:"prefix inherited job output with the command"`
	ExecMaxLogLines int           `long:"exec-max-lines" env:"PIPECRON_EXEC_MAX_LINES" default:"100" description:"output lines kept in execution history"`
	CondConc        int           `long:"conditions-concurrency" env:"PIPECRON_CONDITIONS_CONCURRENCY" default:"4" description:"max concurrent condition checks"`

	Repeater struct {
		Attempts int           `long:"attempts" env:"ATTEMPTS" default:"1" description:"how many times repeat failed job"`
		Duration time.Duration `long:"duration" env:"DURATION" default:"1s" description:"initial duration"`
		Factor   float64       `long:"factor" env:"FACTOR" default:"3" description:"backoff factor"`
		Jitter   bool          `long:"jitter" env:"JITTER" description:"jitter"`
	} `group:"repeater" namespace:"repeater" env-namespace:"PIPECRON_REPEATER"`

	Notify struct {
		EnabledError       bool          `long:"enabled-error" env:"ENABLED_ERROR" description:"enable notifications on errors"`
		EnabledCompletion  bool          `long:"enabled-complete" env:"ENABLED_COMPLETE" description:"enable completion notifications"`
		SMTPHost           string        `long:"smtp-host" env:"SMTP_HOST" description:"SMTP host"`
		SMTPPort           int           `long:"smtp-port" env:"SMTP_PORT" default:"25" description:"SMTP port"`
		SMTPUsername       string        `long:"smtp-username" env:"SMTP_USERNAME" description:"SMTP user name"`
		SMTPPassword       string        `long:"smtp-password" env:"SMTP_PASSWORD" description:"SMTP password"`
		SMTPTLS            bool          `long:"smtp-tls" env:"SMTP_TLS" description:"enable SMTP TLS"`
		SMTPTimeOut        time.Duration `long:"smtp-timeout" env:"SMTP_TIMEOUT" default:"10s" description:"SMTP TCP connection timeout"`
		FromEmail          string        `long:"from" env:"FROM" description:"SMTP from email"`
		ToEmails           []string      `long:"to" env:"TO" env-delim:"," description:"SMTP to email(s)"`
		WebhookURLs        []string      `long:"webhook" env:"WEBHOOK" env-delim:"," description:"webhook url(s)"`
		WebhookTimeout     time.Duration `long:"webhook-timeout" env:"WEBHOOK_TIMEOUT" default:"10s" description:"webhook timeout"`
		SlackToken         string        `long:"slack-token" env:"SLACK_TOKEN" description:"slack token"`
		SlackChannels      []string      `long:"slack-channel" env:"SLACK_CHANNEL" env-delim:"," description:"slack channel(s)"`
		ErrorTemplate      string        `long:"err-template" env:"ERR_TEMPLATE" description:"error message template file"`
		CompletionTemplate string        `long:"complete-template" env:"COMPLETE_TEMPLATE" description:"completion message template file"`
		MaxLogLines        int           `long:"max-log" env:"MAX_LOG" default:"100" description:"max number of log lines in error message"`
		Timeout            time.Duration `long:"timeout" env:"TIMEOUT" default:"30s" description:"notification send timeout"`
		HostName           string        `long:"host" env:"HOSTNAME" description:"host name running pipecron"`
	} `group:"notify" namespace:"notify" env-namespace:"PIPECRON_NOTIFY"`

	Web struct {
		Enabled      bool    `long:"enabled" env:"ENABLED" description:"enable status api"`
		Address      string  `long:"address" env:"ADDRESS" default:"127.0.0.1:8080" description:"listen address"`
		DBPath       string  `long:"db" env:"DB" default:"pipecron.db" description:"execution history database"`
		MaxHistory   int     `long:"max-history" env:"MAX_HISTORY" default:"100" description:"executions kept per job"`
		PasswordHash string  `long:"password-hash" env:"PASSWORD_HASH" description:"bcrypt hash for basic auth, user pipecron"`
		ReloadRate   float64 `long:"reload-rate" env:"RELOAD_RATE" default:"1" description:"max reload requests per second"`
	} `group:"web" namespace:"web" env-namespace:"PIPECRON_WEB"`
}

type provisionCmd struct {
	Year        string   `short:"y" long:"year" env:"PIPECRON_YEAR" description:"year to provision, next year if not set"`
	Dirs        []string `short:"d" long:"dir" env:"PIPECRON_DIRS" env-delim:";" description:"directory role=template" default:"ifdb=/data1/IFDB/{{.YYYY}}" default:"ufdb=/data1/UFDB/{{.YYYY}}" default:"udbtxt=/data1/UDBTXT/{{.YYYY}}" default:"udb-fits=/data1/eovsa/fits/UDB/{{.YYYY}}" default:"xsp-fits=/data1/eovsa/fits/XSP/{{.YYYY}}"`
	Perm        string   `long:"perm" env:"PIPECRON_DIR_PERM" default:"0755" description:"permissions of created directories"`
	DryRun      bool     `long:"dry-run" description:"print paths without creating"`
	AltTemplate bool     `long:"alt-template" env:"PIPECRON_ALT_TEMPLATE" description:"use [[.YYYY]] delimiters"`
}

type checkCmd struct {
	CrontabFile string `short:"f" long:"file" env:"PIPECRON_FILE" default:"crontab" description:"job table file"`
	Command     string `short:"c" long:"command" description:"single job to check instead of the file"`
	AltTemplate bool   `long:"alt-template" env:"PIPECRON_ALT_TEMPLATE" description:"use [[.YYYY]] delimiters"`
	At          string `long:"at" description:"list jobs triggered at the minute, 2006-01-02T15:04 or RFC3339"`
}

type netrcCmd struct {
	File    string `long:"file" env:"PIPECRON_NETRC" default:"~/.netrc" description:"credential file"`
	Machine string `long:"machine" description:"machine record to look for"`
	Fix     bool   `long:"fix" description:"set file mode to 0600 if too open"`
}

var opts struct {
	Run       runCmd       `command:"run" description:"run the job table"`
	Provision provisionCmd `command:"provision" description:"create year-stamped directories"`
	Check     checkCmd     `command:"check" description:"validate job table"`
	Netrc     netrcCmd     `command:"netrc" description:"check credential file"`

	Dbg bool `long:"dbg" env:"PIPECRON_DEBUG" description:"debug mode"`
	Log struct {
		Enabled         bool   `long:"enabled" env:"ENABLED" description:"enable logging to file"`
		Filename        string `long:"filename" env:"FILENAME" default:"pipecron.log" description:"file name"`
		MaxSize         int    `long:"max-size" env:"MAX_SIZE" default:"100" description:"max log file size in MB"`
		MaxBackups      int    `long:"max-backups" env:"MAX_BACKUPS" default:"7" description:"max number of rotated files"`
		MaxAge          int    `long:"max-age" env:"MAX_AGE" default:"0" description:"max age of rotated files in days"`
		EnabledCompress bool   `long:"enabled-compress" env:"ENABLED_COMPRESS" description:"compress rotated files"`
	} `group:"log" namespace:"log" env-namespace:"PIPECRON_LOG"`
}

var revision = "unknown"

// exit codes of provision
const (
	exitOK      = 0
	exitFailed  = 1
	exitBadArgs = 2
)

func main() {
	fmt.Printf("pipecron %s\n", revision)

	p := flags.NewParser(&opts, flags.Default)
	if _, err := p.Parse(); err != nil {
		var fe *flags.Error
		if errors.As(err, &fe) && fe.Type == flags.ErrHelp {
			os.Exit(exitOK)
		}
		os.Exit(exitBadArgs)
	}
	out := setupLogs()

	defer func() {
		if x := recover(); x != nil {
			log.Printf("[WARN] run time panic:\n%v", x)
			panic(x)
		}
	}()

	switch p.Active.Name {
	case "provision":
		os.Exit(runProvision(opts.Provision, os.Stdout))
	case "check":
		os.Exit(runCheck(opts.Check, os.Stdout))
	case "netrc":
		os.Exit(runNetrc(opts.Netrc, os.Stdout))
	case "run":
		ctx, cancel := context.WithCancel(context.Background())
		reloadCh := make(chan struct{}, 1)
		signals(cancel, reloadCh)
		if err := runScheduler(ctx, opts.Run, reloadCh, out); err != nil {
			log.Printf("[ERROR] %v", err)
			os.Exit(exitFailed)
		}
	}
}

// runScheduler makes scheduler with all dependencies and blocks until ctx is done
func runScheduler(ctx context.Context, cmd runCmd, reloadCh <-chan struct{}, stdout io.Writer) error {
	policy, err := service.ParseOverlapPolicy(cmd.Overlap)
	if err != nil {
		return err
	}

	var loader service.TableLoader = crontab.New(cmd.CrontabFile, reloadCh, cmd.AltTemplate)
	if cmd.Command != "" {
		loader = crontab.Single{Line: cmd.Command, AltTemplate: cmd.AltTemplate}
	}

	cronService := &service.Scheduler{
		Cron:              cron.New(),
		Resumer:           resumer.New(cmd.Resume, cmd.Resume != ""),
		ResumeConcurrency: cmd.ResumeConc,
		TableLoader:       loader,
		UpdatesEnabled:    cmd.Command == "",
		Locks:             service.NewLocks(policy, cmd.LockDir),
		Jitter:            cmd.Jitter,
		ConditionChecker:  conditions.NewChecker(cmd.CondConc),
		HostName:          makeHostName(cmd),
		NotifyMaxLogLines: cmd.Notify.MaxLogLines,
		ExecMaxLogLines:   cmd.ExecMaxLogLines,
		EnableLogPrefix:   cmd.LogPrefix,
		Repeater: repeater.New(&strategy.Backoff{Repeats: cmd.Repeater.Attempts, Duration: cmd.Repeater.Duration,
			Factor: cmd.Repeater.Factor, Jitter: cmd.Repeater.Jitter}),
		Stdout:        stdout,
		NotifyTimeout: cmd.Notify.Timeout,
		AltTemplate:   cmd.AltTemplate,
	}
	cronService.RepeaterDefaults.Attempts = cmd.Repeater.Attempts
	cronService.RepeaterDefaults.Duration = cmd.Repeater.Duration
	cronService.RepeaterDefaults.Factor = cmd.Repeater.Factor
	cronService.RepeaterDefaults.Jitter = cmd.Repeater.Jitter

	// typed nil must not get into the interface
	if notifier := makeNotifier(&cmd); notifier != nil {
		cronService.Notifier = notifier
	}

	if cmd.Web.Enabled {
		srv, err := web.New(web.Config{
			DBPath:       cmd.Web.DBPath,
			Scheduler:    cronService,
			Version:      revision,
			Hostname:     cronService.HostName,
			PasswordHash: cmd.Web.PasswordHash,
			MaxHistory:   cmd.Web.MaxHistory,
			ReloadRate:   cmd.Web.ReloadRate,
		})
		if err != nil {
			return fmt.Errorf("failed to create web server: %w", err)
		}
		cronService.JobEventHandler = srv
		go func() {
			if err := srv.Run(ctx, cmd.Web.Address); err != nil {
				log.Printf("[WARN] web server failed, %v", err)
			}
		}()
	}

	log.Printf("[INFO] job table %s, overlap %s, resumer %s", loader, policy, cronService.Resumer)
	return cronService.Do(ctx)
}

// runProvision creates year directories, returns exit code
func runProvision(cmd provisionCmd, out io.Writer) int {
	dirs := make([]provision.Dir, 0, len(cmd.Dirs))
	for _, d := range cmd.Dirs {
		dir, err := provision.ParseDir(d)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			return exitBadArgs
		}
		dirs = append(dirs, dir)
	}
	var perm uint32
	if _, err := fmt.Sscanf(cmd.Perm, "%o", &perm); err != nil || perm == 0 || perm > 0o777 {
		fmt.Fprintf(out, "error: invalid permissions %q\n", cmd.Perm)
		return exitBadArgs
	}

	prov := provision.New(provision.Params{Dirs: dirs, Perm: os.FileMode(perm), AltTemplate: cmd.AltTemplate})
	if cmd.DryRun {
		paths, err := prov.Paths(cmd.Year)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			return exitBadArgs
		}
		for _, p := range paths {
			fmt.Fprintf(out, "%s\t%s\n", p.Role, p.Path)
		}
		return exitOK
	}

	report, err := prov.Provision(cmd.Year)
	for _, r := range report.Results {
		if r.Err != nil {
			fmt.Fprintf(out, "failed\t%s\t%s: %v\n", r.Role, r.Path, errors.Unwrap(r.Err))
			continue
		}
		fmt.Fprintf(out, "created\t%s\t%s\n", r.Role, r.Path)
	}
	if err != nil {
		var perr *provision.Error
		if errors.As(err, &perr) {
			fmt.Fprintf(out, "%d of %d directories for %s not created\n", len(perr.Failed), len(report.Results), report.Year)
			return exitFailed
		}
		fmt.Fprintf(out, "error: %v\n", err)
		return exitBadArgs
	}
	return exitOK
}

// runCheck loads the job table and prints entries with the next run time, returns exit code.
// With cmd.At set prints only entries triggered at that minute.
func runCheck(cmd checkCmd, out io.Writer) int {
	var at time.Time
	if cmd.At != "" {
		var err error
		if at, err = time.ParseInLocation("2006-01-02T15:04", cmd.At, time.Local); err != nil {
			if at, err = time.Parse(time.RFC3339, cmd.At); err != nil {
				fmt.Fprintf(out, "error: bad --at %q, %v\n", cmd.At, err)
				return exitBadArgs
			}
		}
	}

	var loader service.TableLoader = crontab.New(cmd.CrontabFile, nil, cmd.AltTemplate)
	if cmd.Command != "" {
		loader = crontab.Single{Line: cmd.Command, AltTemplate: cmd.AltTemplate}
	}
	tbl, err := loader.Load()
	if err != nil {
		fmt.Fprintf(out, "error: %v\n", err)
		return exitFailed
	}

	if !at.IsZero() {
		matched := tbl.Match(at)
		fmt.Fprintf(out, "%s: %d of %d jobs at %s\n", tbl.Source(), len(matched), tbl.Len(), at.Format(time.RFC3339))
		for _, e := range matched {
			fmt.Fprintf(out, "%4d  %-20s %s\n", e.Line, e.Spec, e)
		}
		return exitOK
	}

	now := time.Now()
	fmt.Fprintf(out, "%s: %d jobs, version %s\n", tbl.Source(), tbl.Len(), tbl.Version())
	for _, e := range tbl.Entries() {
		next := "never"
		if ts := e.Predicate.Next(now); !ts.IsZero() {
			next = ts.Format(time.RFC3339)
		}
		fmt.Fprintf(out, "%4d  %-20s %s  next: %s\n", e.Line, e.Spec, e, next)
	}
	return exitOK
}

// runNetrc checks credential file permissions and optionally fixes them, returns exit code
func runNetrc(cmd netrcCmd, out io.Writer) int {
	fname := cmd.File
	if strings.HasPrefix(fname, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			fname = home + fname[1:]
		}
	}

	if err := netrc.Check(fname); err != nil {
		if !errors.Is(err, netrc.ErrInsecure) || !cmd.Fix {
			fmt.Fprintf(out, "error: %v\n", err)
			return exitFailed
		}
		if err := netrc.Secure(fname); err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			return exitFailed
		}
		fmt.Fprintf(out, "permissions of %s set to 0600\n", fname)
	}

	entries, err := netrc.Load(fname)
	if err != nil {
		fmt.Fprintf(out, "error: %v\n", err)
		return exitFailed
	}
	if cmd.Machine != "" {
		e, ok := netrc.Find(entries, cmd.Machine)
		if !ok {
			fmt.Fprintf(out, "error: no record for %s\n", cmd.Machine)
			return exitFailed
		}
		fmt.Fprintf(out, "%s\n", e)
		return exitOK
	}
	fmt.Fprintf(out, "%s: %d records\n", fname, len(entries))
	return exitOK
}

func makeNotifier(cmd *runCmd) *notify.Service {
	if !cmd.Notify.EnabledError && !cmd.Notify.EnabledCompletion {
		return nil
	}

	if cmd.Notify.FromEmail == "" {
		cmd.Notify.FromEmail = "pipecron@" + makeHostName(*cmd)
	}

	return notify.NewService(
		notify.Params{
			EnabledError:       cmd.Notify.EnabledError,
			EnabledCompletion:  cmd.Notify.EnabledCompletion,
			ErrorTemplate:      cmd.Notify.ErrorTemplate,
			CompletionTemplate: cmd.Notify.CompletionTemplate,
			HostName:           makeHostName(*cmd),
		},
		notify.SendersParams{
			SMTPParams: ntf.SMTPParams{
				Host:        cmd.Notify.SMTPHost,
				Port:        cmd.Notify.SMTPPort,
				TLS:         cmd.Notify.SMTPTLS,
				ContentType: "text/html",
				Username:    cmd.Notify.SMTPUsername,
				Password:    cmd.Notify.SMTPPassword,
				TimeOut:     cmd.Notify.SMTPTimeOut,
			},
			FromEmail:      cmd.Notify.FromEmail,
			ToEmails:       cmd.Notify.ToEmails,
			WebhookURLs:    cmd.Notify.WebhookURLs,
			WebhookTimeout: cmd.Notify.WebhookTimeout,
			SlackToken:     cmd.Notify.SlackToken,
			SlackChannels:  cmd.Notify.SlackChannels,
		},
	)
}

func makeHostName(cmd runCmd) string {
	if cmd.Notify.HostName != "" {
		return cmd.Notify.HostName
	}
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return host
}

// setupLogs configures lgr and returns the writer used for logs and inherited job output
func setupLogs() io.Writer {
	var out io.Writer = os.Stdout
	if opts.Log.Enabled {
		out = &lumberjack.Logger{
			Filename:   opts.Log.Filename,
			MaxSize:    opts.Log.MaxSize,
			MaxBackups: opts.Log.MaxBackups,
			MaxAge:     opts.Log.MaxAge,
			Compress:   opts.Log.EnabledCompress,
		}
	}

	if opts.Dbg {
		log.Setup(log.Out(out), log.Err(out), log.Debug, log.Msec, log.CallerFunc, log.CallerPkg, log.CallerFile)
		return out
	}
	log.Setup(log.Out(out), log.Err(out), log.Msec)
	return out
}

// signals handles SIGQUIT (stack dump), SIGHUP (reload) and SIGTERM/SIGINT (shutdown)
func signals(cancel context.CancelFunc, reloadCh chan<- struct{}) {
	sigChan := make(chan os.Signal, 1)
	go func() {
		stacktrace := make([]byte, 8192)
		for sig := range sigChan {
			switch sig {
			case syscall.SIGQUIT:
				length := runtime.Stack(stacktrace, true)
				fmt.Println(string(stacktrace[:length]))
			case syscall.SIGHUP:
				log.Printf("[INFO] reload requested")
				select {
				case reloadCh <- struct{}{}:
				default: // reload already pending
				}
			default:
				log.Printf("[INFO] %s received, stopping", sig)
				cancel()
			}
		}
	}()
	signal.Notify(sigChan, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
}
