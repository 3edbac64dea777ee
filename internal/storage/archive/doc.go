// Package archive keeps metrics windows in compressed Parquet files after
// their CSV logs expire.
//
// Archiving runs as part of retention cleanup: a metrics CSV that is about
// to be deleted is first rewritten as a zstd-compressed Parquet file with
// the same network, target and date. Raw sample files are not archived.
package archive
