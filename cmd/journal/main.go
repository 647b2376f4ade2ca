package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/downfa11-org/go-journal/pkg/bench"
	"github.com/downfa11-org/go-journal/pkg/config"
	"github.com/downfa11-org/go-journal/pkg/inspect"
	"github.com/downfa11-org/go-journal/pkg/journal"
	"github.com/downfa11-org/go-journal/pkg/metastore"
	"github.com/downfa11-org/go-journal/pkg/metrics"
	"github.com/downfa11-org/go-journal/util"
)

const usage = `usage: journal <command> [flags] [args]

commands:
  bench   [records] [payload-size] [readers]   append records while readers tail the journal
  inspect [segment-file...]                    print a summary of every segment, or the records of the given files
  verify                                       check that the segments form one readable log`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	command := os.Args[1]
	cfg, err := config.LoadConfig("journal "+command, os.Args[2:])
	if err != nil {
		util.Fatal("Failed to load config: %v", err)
	}

	switch command {
	case "bench":
		err = runBench(cfg)
	case "inspect":
		err = runInspect(cfg)
	case "verify":
		err = runVerify(cfg)
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		util.Error("%s failed: %v", command, err)
		os.Exit(1)
	}
}

func runBench(cfg *config.Config) error {
	records, payloadSize, readers := 100_000, 256, 1
	if len(cfg.Args) > 0 {
		records = util.ParseInt(cfg.Args[0], records)
	}
	if len(cfg.Args) > 1 {
		payloadSize = util.ParseInt(cfg.Args[1], payloadSize)
	}
	if len(cfg.Args) > 2 {
		readers = util.ParseInt(cfg.Args[2], readers)
	}

	if cfg.EnableExporter {
		srv := metrics.StartMetricsServer(cfg.ExporterPort)
		defer srv.Close()
	}

	store, err := metastore.OpenFileStore(cfg.MetaFile)
	if err != nil {
		return err
	}
	opts := journal.OptionsFromConfig(cfg, store)
	opts.Metrics = metrics.NewJournalMetrics(cfg.JournalName)

	j, err := journal.Open(opts)
	if err != nil {
		return err
	}
	defer func() {
		if err := j.Close(); err != nil {
			util.Error("Failed to close journal: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := bench.NewBenchmarkRunner(j, records, payloadSize, readers, cfg.CompressionType)
	util.Info("Starting benchmark %s: %d records of %d bytes, %d readers", runner.RunID, records, payloadSize, readers)
	result, err := runner.Run(ctx)
	if err != nil {
		return err
	}
	result.Print(os.Stdout)
	return nil
}

func runInspect(cfg *config.Config) error {
	if len(cfg.Args) == 0 {
		reports, err := inspect.InspectJournal(cfg.LogDir, cfg.JournalName)
		for _, r := range reports {
			fmt.Println(r)
		}
		return err
	}

	for _, path := range cfg.Args {
		report, err := inspect.InspectSegment(path, func(info inspect.RecordInfo) error {
			fmt.Printf("  index=%d asqn=%d position=%d length=%d checksum=%d\n",
				info.Index, info.Asqn, info.Position, info.Length, info.Checksum)
			return nil
		})
		if err != nil {
			return err
		}
		fmt.Println(report)
	}
	return nil
}

func runVerify(cfg *config.Config) error {
	reports, err := inspect.InspectJournal(cfg.LogDir, cfg.JournalName)
	if err != nil {
		return err
	}
	if err := inspect.Verify(reports); err != nil {
		return err
	}

	if len(reports) > 0 {
		fmt.Printf("✅ %d segments, records [%d, %d]\n", len(reports), reports[0].FirstIndex, reports[len(reports)-1].LastIndex)
	} else {
		fmt.Println("✅ no segments")
	}
	return nil
}
