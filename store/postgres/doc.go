// Package postgres implements the job store, client directory, history
// analytics and a dispatch index using pgx/v5 with raw SQL.
// Features: compare-and-set updates on a version column, SKIP LOCKED
// claim from the dispatch table, embedded SQL migrations.
package postgres
