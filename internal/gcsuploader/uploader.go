package gcsuploader

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

// ReportPrefix is the object prefix under which run reports are stored.
const ReportPrefix = "reconciliation"

// UploadFile uploads a local file to a GCS bucket under the given object name.
// It assumes Application Default Credentials are configured (gcloud auth application-default login).
func UploadFile(ctx context.Context, bucketName, objectName, filePath string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("open file %q: %w", filePath, err)
	}
	defer f.Close()

	client, err := storage.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("create storage client: %w", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := client.Bucket(bucketName).Object(objectName).NewWriter(ctx)
	if strings.HasSuffix(objectName, ".json") {
		w.ContentType = "application/json"
	} else if strings.HasSuffix(objectName, ".csv") {
		w.ContentType = "text/csv"
	}

	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return fmt.Errorf("copy file to GCS writer: %w", err)
	}

	// Close finalizes the upload.
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize upload: %w", err)
	}

	return nil
}

// FetchFromGCS downloads the file bytes from the given GCS URI.
func FetchFromGCS(ctx context.Context, gcsURI string) ([]byte, error) {
	bucketName, objectPath, err := ParseGCSURI(gcsURI)
	if err != nil {
		return nil, err
	}

	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetchFromGCS: creating storage client: %w", err)
	}
	defer storageClient.Close()

	rc, err := storageClient.Bucket(bucketName).Object(objectPath).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetchFromGCS: reading object %s/%s: %w", bucketName, objectPath, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("fetchFromGCS: reading bytes: %w", err)
	}

	return data, nil
}

// IsGCSURI reports whether p points into a bucket rather than the local filesystem.
func IsGCSURI(p string) bool {
	return strings.HasPrefix(p, "gs://")
}

// ParseGCSURI splits "gs://bucket/path/to/file" into bucket and object path.
func ParseGCSURI(gcsURI string) (string, string, error) {
	if !IsGCSURI(gcsURI) {
		return "", "", fmt.Errorf("invalid GCS URI: %s", gcsURI)
	}

	parts := strings.SplitN(strings.TrimPrefix(gcsURI, "gs://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", gcsURI)
	}
	return parts[0], parts[1], nil
}

// ExtractFilenameFromGCSURI extracts the filename from a GCS URI.
// e.g., "gs://bucket/folder/report.json" → "report.json"
func ExtractFilenameFromGCSURI(uri string) string {
	trimmed := strings.TrimPrefix(uri, "gs://")

	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) < 2 {
		return trimmed
	}
	return path.Base(parts[1])
}

// ReportObjectName returns the object name a local report file is stored under.
func ReportObjectName(localPath string) string {
	return path.Join(ReportPrefix, filepath.Base(localPath))
}

// UploadReport copies a local report artifact to the bucket and returns its gs:// URI.
func UploadReport(ctx context.Context, svc StorageService, bucketName, localPath string) (string, error) {
	if bucketName == "" {
		return "", fmt.Errorf("UploadReport: empty bucket name")
	}

	objectName := ReportObjectName(localPath)
	if err := svc.UploadFile(ctx, bucketName, objectName, localPath); err != nil {
		return "", fmt.Errorf("UploadReport: uploading %s: %w", localPath, err)
	}
	return fmt.Sprintf("gs://%s/%s", bucketName, objectName), nil
}

// ReportUploader uploads run reports to one bucket.
type ReportUploader struct {
	svc    StorageService
	bucket string
}

// NewReportUploader creates a ReportUploader.
func NewReportUploader(svc StorageService, bucket string) *ReportUploader {
	return &ReportUploader{svc: svc, bucket: bucket}
}

// UploadReport delegates to UploadReport.
func (u *ReportUploader) UploadReport(ctx context.Context, localPath string) (string, error) {
	return UploadReport(ctx, u.svc, u.bucket, localPath)
}
