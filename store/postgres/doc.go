// Package postgres implements the job store on PostgreSQL using pgx/v5
// and raw SQL. Claims use SELECT ... FOR UPDATE SKIP LOCKED so concurrent
// workers never block on or double-claim the same row. Schema migrations
// are embedded and applied with goose on Setup.
package postgres
