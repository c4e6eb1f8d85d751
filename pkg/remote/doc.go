// Package remote provides handles on remote platform objects with chunked,
// concurrency-bounded transfers.
//
// # Lifecycle
//
// An object is created open, accepts appended writes, and becomes immutable
// once closed:
//
//	open --Close--> closing --(platform finalizes)--> closed
//
// Writing to an object that is not open, or reading one that is not closed,
// fails immediately with a [*UsageError] and never touches the network.
//
// # Writing
//
// Writes are buffered into parts of [Options.PartSize] bytes. Every full part
// is uploaded in the background, with at most [Options.UploadConcurrency]
// parts in flight:
//
//	obj, err := remote.New(ctx, client, remote.WithName("reads.bam"))
//	if err != nil {
//	    return err
//	}
//	if _, err := io.Copy(obj, src); err != nil {
//	    return err
//	}
//	if err := obj.Close(ctx, true); err != nil {
//	    return err
//	}
//
// Close must always be called; there is no implicit flush. An object with no
// bytes written is closed with a single empty part.
//
// # Reading
//
// Reads are served by a pipeline of ranged GET requests of
// [Options.ReadChunkSize] bytes, at most [Options.ReadConcurrency] of them
// outstanding, delivered strictly in order:
//
//	obj, err := remote.Open(ctx, client, "file-xxxx")
//	if err != nil {
//	    return err
//	}
//	defer obj.CloseReader()
//	_, err = io.Copy(dst, obj)
//
// Seek discards the pipeline unless the target lies in the chunk already
// fetched.
package remote
