package config

import "time"

// RetentionConfig controls audit-event retention and cold-archival
// (spec §3 "Audit Event ... Retained 90 days").
type RetentionConfig struct {
	// AuditRetentionDays is how many days an audit event stays queryable
	// in Postgres before the sweeper archives and deletes it.
	AuditRetentionDays int `yaml:"audit_retention_days"`

	// ArchiveBatchSize bounds how many aged-out audit events go into one
	// S3 object and one delete; a sweep repeats batches until the backlog
	// is drained, so a large backlog doesn't produce one giant object or
	// one giant delete transaction.
	ArchiveBatchSize int `yaml:"archive_batch_size"`

	// CleanupInterval is how often the retention sweeper runs.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`

	// ArchiveS3Bucket is the destination bucket for cold-archived audit
	// batches. Empty disables archival: aged-out events are deleted
	// without a cold copy.
	ArchiveS3Bucket string `yaml:"archive_s3_bucket"`

	// ArchiveS3Prefix namespaces archived objects within the bucket.
	ArchiveS3Prefix string `yaml:"archive_s3_prefix"`
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		AuditRetentionDays: 90,
		ArchiveBatchSize:   500,
		CleanupInterval:    12 * time.Hour,
		ArchiveS3Prefix:    "audit-archive",
	}
}
