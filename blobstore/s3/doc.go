// Package s3 provides an S3 implementation of the blobstore.BlobStore interface.
//
// # Usage
//
//	store, err := s3.New(ctx, "my-bucket",
//	    s3.WithPrefix("stores/"),
//	    s3.WithRegion("us-east-1"),
//	)
//
//	err = archive.Export(ctx, "asm.sqStore", store, "asm")
//
// # Features
//
//   - Range reads for partial fetches
//   - Multipart uploads for large blob files
//   - CRC32C checksums on upload
//   - Automatic pagination for listing
package s3
