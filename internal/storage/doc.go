// Package storage persists samples and metrics windows as daily CSV files
// partitioned by network, year and month.
//
// Layout:
//
//	logs/
//	└── <network>/
//	    └── <YYYY>/
//	        └── <MM>/
//	            ├── <target>_<YYYY-MM-DD>.csv          raw samples
//	            └── <target>_<YYYY-MM-DD>_metrics.csv  metrics windows
//
// Files are only ever appended to. The single rewrite is whole-file
// deletion by retention cleanup, which can archive metrics files to
// Parquet first (see package archive).
//
// Subpackages:
//   - types: measurement records
//   - layout: path scheme
//   - codec: CSV rows
//   - aggregate: window and daily statistics
//   - buffer: bounded in-memory rings
//   - retention: expiry of old files
//   - archive: Parquet archive of expired metrics
package storage
