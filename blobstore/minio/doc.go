// Package minio stores archived read stores in MinIO or another
// S3-compatible server through minio-go.
//
//	client, err := minio.New("localhost:9000", &minio.Options{
//	    Creds: credentials.NewStaticV4("minioadmin", "minioadmin", ""),
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	store := minioblob.NewStore(client, "assemblies", "stores")
//	_, err = archive.Export(ctx, "asm.sqStore", store, "asm")
//
// Keys are "<root prefix>/<name>". Every object carries the IEEE CRC32 of
// its content in the Sqstore-Crc32 user metadata entry, the same checksum
// the archive manifest records, so Import can reject a replaced object
// before downloading it. Put sends the checksum with the upload together
// with a Content-MD5. Create streams the content with a single PutObject of
// unknown size and attaches the checksum on Close.
package minio
