// Package progress reports transfer progress and parses byte sizes.
//
// A [Reporter] prints a header, periodic progress lines and a final summary.
// Its Add method is passed to remote.WithProgress so that every uploaded part
// and every downloaded range is counted:
//
//	reporter := progress.NewReporter(progress.Options{
//	    Operation:   "Downloading",
//	    Name:        obj.ID(),
//	    TotalSize:   obj.Size(),
//	    ChunkSize:   cfg.Transfer.ReadChunkSize,
//	    Concurrency: cfg.Transfer.ReadConcurrency,
//	})
//	reporter.Start()
//	defer reporter.Stop()
//
// # Output Format
//
//	[objstream] Downloading: file-B1234567890abcdef
//	[objstream] Total size: 2.5GiB | Chunk size: 16MiB | Concurrency: 8
//	[objstream] Progress: 45.2% | 1.13GiB / 2.5GiB | Chunks: 73 | Speed: 120MiB/s | ETA: 11s
package progress
