// Package archive copies read stores to and from object storage.
//
// Export uploads the files of the current catalog generation, the committed
// blob files and the partition files of a store, followed by a MANIFEST
// naming every file with its size and CRC32. Import reverses this into an
// empty directory, checking each file against the manifest and writing the
// info block last:
//
//	dst := blobstore.NewLocalStore("/backup")
//	if _, err := archive.Export(ctx, "asm.sqStore", dst, "asm"); err != nil {
//	    return err
//	}
//	if _, err := archive.Import(ctx, dst, "asm", "restored.sqStore"); err != nil {
//	    return err
//	}
//
// Any blobstore.BlobStore works as a target, including the s3 and minio
// backends.
package archive
