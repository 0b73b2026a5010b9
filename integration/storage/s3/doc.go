// Package s3 stores certificate PEM material in Amazon S3 or an
// S3-compatible service (MinIO, Wasabi, DigitalOcean Spaces).
//
// Backend implements certstore.Backend, so a certstore.Store can persist
// certificates in a shared bucket instead of the local file system:
//
//	backend, err := s3.New(ctx, s3.Config{
//		Bucket: "proxy-certs",
//		Region: "eu-central-1",
//	})
//	if err != nil {
//		return err
//	}
//	store := certstore.New(certstore.WithBackend(backend))
//
// Credentials come from Config when both AccessKeyID and SecretKey are set,
// otherwise from the default AWS chain (environment, shared config, IAM role).
// Missing objects are reported as certstore.ErrObjectNotFound.
package s3
