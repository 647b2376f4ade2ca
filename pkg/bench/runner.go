package bench

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/downfa11-org/go-journal/pkg/types"
	"github.com/downfa11-org/go-journal/util"
	"github.com/google/uuid"
)

// BenchmarkRunner appends records to a journal while readers tail it.
type BenchmarkRunner struct {
	Journal     types.Journal
	RunID       string
	NumRecords  int
	PayloadSize int
	NumReaders  int
	Compression string
	// FlushEvery flushes after that many appends; zero flushes only at the end.
	FlushEvery int
}

type Result struct {
	RunID       string
	Records     int
	Bytes       int64
	ReadRecords int64
	Duration    time.Duration
	Throughput  float64
}

func NewBenchmarkRunner(j types.Journal, records, payloadSize, readers int, compression string) *BenchmarkRunner {
	return &BenchmarkRunner{
		Journal:     j,
		RunID:       uuid.NewString(),
		NumRecords:  records,
		PayloadSize: payloadSize,
		NumReaders:  readers,
		Compression: compression,
	}
}

func (b *BenchmarkRunner) Run(ctx context.Context) (Result, error) {
	payload, err := util.CompressPayload(b.payload(), b.Compression)
	if err != nil {
		return Result{}, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	first := b.Journal.LastIndex() + 1
	var read atomic.Int64
	errs := make(chan error, b.NumReaders+1)

	var wg sync.WaitGroup
	for i := 0; i < b.NumReaders; i++ {
		reader, err := b.Journal.OpenReader()
		if err != nil {
			return Result{}, err
		}
		wg.Add(1)
		go func(rid int, reader types.JournalReader) {
			defer wg.Done()
			defer reader.Close()
			if err := b.tail(ctx, reader, first, &read); err != nil {
				errs <- fmt.Errorf("reader %d: %w", rid, err)
				cancel()
			}
		}(i, reader)
	}

	start := time.Now()
	var written int64
	for i := 1; i <= b.NumRecords; i++ {
		if _, err := b.Journal.Append(types.AsqnIgnore, payload); err != nil {
			errs <- fmt.Errorf("append %d: %w", i, err)
			cancel()
			break
		}
		written += int64(len(payload))
		if b.FlushEvery > 0 && i%b.FlushEvery == 0 {
			if err := b.Journal.Flush(); err != nil {
				util.Warn("Benchmark %s flush failed: %v", b.RunID, err)
			}
		}
	}
	if err := b.Journal.Flush(); err != nil {
		errs <- fmt.Errorf("flush: %w", err)
		cancel()
	}
	wg.Wait()
	duration := time.Since(start)
	close(errs)

	if err, ok := <-errs; ok {
		return Result{}, err
	}
	return Result{
		RunID:       b.RunID,
		Records:     b.NumRecords,
		Bytes:       written,
		ReadRecords: read.Load(),
		Duration:    duration,
		Throughput:  float64(b.NumRecords) / duration.Seconds(),
	}, nil
}

// tail reads records from first on until NumRecords were seen.
func (b *BenchmarkRunner) tail(ctx context.Context, reader types.JournalReader, first int64, read *atomic.Int64) error {
	reader.Seek(first)
	for seen := 0; seen < b.NumRecords; {
		if !reader.HasNext() {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(50 * time.Microsecond):
			}
			continue
		}
		rec, err := reader.Next()
		if err != nil {
			return err
		}
		if rec.Index != first+int64(seen) {
			return fmt.Errorf("expected index %d, read %d", first+int64(seen), rec.Index)
		}
		seen++
		read.Add(1)
	}
	return nil
}

func (b *BenchmarkRunner) payload() []byte {
	data := make([]byte, b.PayloadSize)
	for i := range data {
		data[i] = byte('a' + i%26)
	}
	return data
}

func (r Result) Print(w io.Writer) {
	fmt.Fprintf(w, "\n🧪 BENCHMARK RESULT [journal] 🧪\n")
	fmt.Fprintf(w, "-------------------------------------\n")
	fmt.Fprintf(w, " Run ID        : %s\n", r.RunID)
	fmt.Fprintf(w, " Records       : %d\n", r.Records)
	fmt.Fprintf(w, " Bytes         : %d\n", r.Bytes)
	fmt.Fprintf(w, " Records read  : %d\n", r.ReadRecords)
	fmt.Fprintf(w, " Duration      : %v\n", r.Duration)
	fmt.Fprintf(w, " Throughput    : %.2f records/sec\n", r.Throughput)
	fmt.Fprintf(w, "-------------------------------------\n")
}
