package metrics

// InitializeMetrics pre-populates the expected label combinations so that
// every series is exported from the first scrape.
func InitializeMetrics(version, commit, goVersion string) {
	AppInfo.WithLabelValues(version, commit, goVersion).Set(1)

	for _, outcome := range []string{"commit", "rollback"} {
		DBTransactionDuration.WithLabelValues(outcome)
	}

	for _, mode := range []string{"full", "recent", "missing"} {
		for _, state := range []string{"completed", "failed"} {
			SyncSessionsTotal.WithLabelValues(mode, state)
		}
		SyncSessionDuration.WithLabelValues(mode)
	}

	for _, result := range []string{"success", "failure", "discarded"} {
		SyncItemsTotal.WithLabelValues(result)
	}

	for _, source := range []string{"png", "exif", "ffprobe", "scan", "none"} {
		ExtractionsTotal.WithLabelValues(source)
	}

	for _, reason := range []string{"missing", "timeout", "error", "parse"} {
		ProberFailures.WithLabelValues(reason)
	}

	for _, t := range []string{"image", "animated_image", "video", "audio"} {
		CatalogEntries.WithLabelValues(t)
		ThumbnailGenerationDuration.WithLabelValues(t)
	}

	for _, op := range []string{"stat", "open", "readdir"} {
		FilesystemRetryAttempts.WithLabelValues(op)
		FilesystemRetryFailures.WithLabelValues(op)
		FilesystemOperationDuration.WithLabelValues(op)
	}

	for _, status := range []string{"ready", "failed"} {
		ArchiveJobsTotal.WithLabelValues(status)
	}
}
