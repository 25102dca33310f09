// Package bunstore implements store.Store using the Bun ORM with the
// PostgreSQL dialect, for applications that already carry a *bun.DB.
//
// The caller owns the *bun.DB lifecycle; bunstore never closes it. Pass the
// db handle through the constructor:
//
//	import (
//	    "github.com/uptrace/bun"
//	    "github.com/uptrace/bun/dialect/pgdialect"
//	    "github.com/uptrace/bun/driver/pgdriver"
//	    bunstore "github.com/xraph/conveyor/store/bun"
//	)
//
//	sqldb := sql.OpenDB(pgdriver.NewConnector(...))
//	db := bun.NewDB(sqldb, pgdialect.New())
//	store := bunstore.New(db)
//	store.Setup(ctx)
//
// Setup applies the embedded migrations with bun's migrate package, tracked
// in their own table so the schema can be shared with store/postgres.
package bunstore
