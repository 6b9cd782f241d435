package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/joseph-ayodele/syllabus-jobs/constants"
	"github.com/joseph-ayodele/syllabus-jobs/internal/artifact"
	"github.com/joseph-ayodele/syllabus-jobs/internal/common"
	"github.com/joseph-ayodele/syllabus-jobs/internal/export"
	"github.com/joseph-ayodele/syllabus-jobs/internal/ingest"
	svc "github.com/joseph-ayodele/syllabus-jobs/internal/server"
	"github.com/joseph-ayodele/syllabus-jobs/internal/trigger"
)

const usage = `usage: jobsctl [--addr host:port] <command> [flags]

commands:
  submit  --user U --ref REF [--mode manual|queued]
  claim   --user U --job ID
  sweep
  list    --user U
  export  --user U [--out jobs.xlsx] [--from YYYY-MM-DD] [--status s1,s2]
  ingest  --user U --dir DIR [--mode manual|queued] [--exts pdf,txt]
`

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	cfg, err := common.LoadConfig()
	if err != nil {
		printError("Error: loading config: %v\n", err)
		os.Exit(2)
	}

	addr := flag.String("addr", "localhost"+cfg.Server.GRPCAddr, "jobsd gRPC address")
	flag.Usage = func() { printError("%s", usage) }
	flag.Parse()
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	logger := common.NewLogger(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	conn, err := grpc.NewClient(*addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		printError("Error: dialing %s: %v\n", *addr, err)
		os.Exit(1)
	}
	defer func() { _ = conn.Close() }()
	client := svc.NewClient(conn).WithSweepSecret(cfg.Server.SweepSecret)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cmd, args := flag.Arg(0), flag.Args()[1:]
	switch cmd {
	case "submit":
		err = runSubmit(ctx, client, args)
	case "claim":
		err = runClaim(ctx, client, args)
	case "sweep":
		err = runSweep(ctx, client)
	case "list":
		err = runList(ctx, client, args)
	case "export":
		err = runExport(ctx, client, logger, args)
	case "ingest":
		err = runIngest(ctx, client, cfg, logger, args)
	default:
		printError("Error: unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
	if err != nil {
		printError("Error: %v\n", err)
		os.Exit(1)
	}
}

func runSubmit(ctx context.Context, client *svc.Client, args []string) error {
	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	user := fs.String("user", "", "owner id (required)")
	ref := fs.String("ref", "", "artifact reference (required)")
	mode := fs.String("mode", string(trigger.ModeManual), "manual or queued")
	_ = fs.Parse(args)
	if *user == "" || *ref == "" {
		return fmt.Errorf("--user and --ref are required")
	}

	job, err := client.SubmitJob(ctx, *user, *ref, trigger.Mode(*mode))
	if err != nil {
		return err
	}
	fmt.Printf("%s\t%s\t%s\n", job.ID, job.Status, job.ArtifactRef)
	return nil
}

func runClaim(ctx context.Context, client *svc.Client, args []string) error {
	fs := flag.NewFlagSet("claim", flag.ExitOnError)
	user := fs.String("user", "", "caller id (required)")
	jobStr := fs.String("job", "", "job id (required)")
	_ = fs.Parse(args)
	if *user == "" {
		return fmt.Errorf("--user is required")
	}
	jobID, err := uuid.Parse(*jobStr)
	if err != nil {
		return fmt.Errorf("invalid --job: %w", err)
	}

	res, err := client.RequestClaim(ctx, *user, jobID)
	if err != nil {
		return err
	}
	if !res.Accepted {
		fmt.Printf("rejected: %s\n", res.Reason)
		return nil
	}
	fmt.Printf("accepted: %s is processing\n", jobID)
	return nil
}

func runSweep(ctx context.Context, client *svc.Client) error {
	res, err := client.SweepOnce(ctx)
	if err != nil {
		return err
	}
	if !res.Processed {
		fmt.Println("no queued jobs")
		return nil
	}
	fmt.Printf("%s\t%s\n", res.JobID, res.Status)
	return nil
}

func runList(ctx context.Context, client *svc.Client, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	user := fs.String("user", "", "owner id (required)")
	_ = fs.Parse(args)
	if *user == "" {
		return fmt.Errorf("--user is required")
	}

	jobs, err := client.ListJobs(ctx, *user)
	if err != nil {
		return err
	}
	for _, j := range jobs {
		line := fmt.Sprintf("%s\t%-10s\t%s\t%s", j.ID, j.Status, j.UpdatedAt.Format(time.RFC3339), j.DisplayName())
		if j.Error != nil {
			line += "\t" + *j.Error
		}
		fmt.Println(line)
	}
	return nil
}

func runExport(ctx context.Context, client *svc.Client, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	user := fs.String("user", "", "owner id (required)")
	out := fs.String("out", "jobs.xlsx", "output XLSX path")
	fromStr := fs.String("from", "", "from date YYYY-MM-DD")
	statusStr := fs.String("status", "", "comma-separated statuses")
	_ = fs.Parse(args)
	if *user == "" {
		return fmt.Errorf("--user is required")
	}

	var opts export.Options
	if *fromStr != "" {
		parsed, err := time.Parse("2006-01-02", *fromStr)
		if err != nil {
			return fmt.Errorf("invalid --from date format, use YYYY-MM-DD: %w", err)
		}
		opts.From = &parsed
	}
	for _, s := range strings.Split(*statusStr, ",") {
		if s = strings.TrimSpace(s); s == "" {
			continue
		}
		st := constants.JobStatus(s)
		if !st.IsValid() {
			return fmt.Errorf("unknown status %q", s)
		}
		opts.Statuses = append(opts.Statuses, st)
	}

	data, err := export.NewService(client, logger).ExportJobsXLSX(ctx, *user, opts)
	if err != nil {
		return err
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", *out, err)
	}
	fmt.Printf("- Output: %s\n", *out)
	return nil
}

func runIngest(ctx context.Context, client *svc.Client, cfg *common.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	user := fs.String("user", "", "owner id (required)")
	dir := fs.String("dir", "", "directory to upload (required)")
	mode := fs.String("mode", string(trigger.ModeQueued), "manual or queued")
	exts := fs.String("exts", "", "comma-separated extensions (default pdf,txt,md,docx)")
	_ = fs.Parse(args)
	if *user == "" || *dir == "" {
		return fmt.Errorf("--user and --dir are required")
	}

	store, err := artifact.New(artifact.Config{
		Backend:    cfg.Storage.Backend,
		URL:        cfg.Storage.URL,
		ServiceKey: cfg.Storage.ServiceKey,
		Bucket:     cfg.Storage.Bucket,
		Root:       cfg.Storage.Root,
		MaxBytes:   cfg.Storage.MaxBytes,
	}, logger)
	if err != nil {
		return err
	}

	var opts []ingest.Option
	if *exts != "" {
		opts = append(opts, ingest.WithExts(strings.Split(*exts, ",")))
	}
	opts = append(opts, ingest.WithMaxBytes(cfg.Storage.MaxBytes))
	ingestor := ingest.NewIngestor(store, client, *user, trigger.Mode(*mode), logger, opts...)

	results, stats, err := ingestor.IngestDirectory(ctx, *dir, true)
	if err != nil {
		return err
	}
	for _, r := range results {
		switch {
		case r.Err != "":
			fmt.Printf("FAIL\t%s\t%s\n", r.Path, r.Err)
		case r.Deduplicated:
			fmt.Printf("DUP\t%s\t%s\n", r.Path, r.JobID)
		default:
			fmt.Printf("OK\t%s\t%s\n", r.Path, r.JobID)
		}
	}
	fmt.Printf("Ingest complete!\n")
	fmt.Printf("- Scanned: %d\n", stats.Scanned)
	fmt.Printf("- Submitted: %d\n", stats.Succeeded)
	fmt.Printf("- Deduplicated: %d\n", stats.Deduplicated)
	fmt.Printf("- Failed: %d\n", stats.Failed)
	return nil
}
