// Package mirror copies objects between the platform and gocloud.dev blob
// buckets.
//
// Export streams a closed object into a bucket key through the object's
// ordered read pipeline; Import streams a bucket key into a new object
// through its bounded parallel part uploads and then closes it.
//
//	bucket, err := blob.OpenBucket(ctx, "s3://my-bucket?region=us-east-1")
//	if err != nil {
//	    return err
//	}
//	defer bucket.Close()
//
//	n, err := mirror.Export(ctx, client, "file-B1234567890abcdef", bucket, "backups/reads.bam", mirror.Options{})
//
// Any blob driver registered with gocloud.dev can be used; the objstream
// command registers file://, mem://, s3:// and gs://.
package mirror
