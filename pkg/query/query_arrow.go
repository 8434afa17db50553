//go:build duckdb_arrow

package query

import (
	"context"
	"database/sql"
	"database/sql/driver"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	duckdb "github.com/marcboeker/go-duckdb/v2"

	"github.com/ajitpratap0/datatoolset/pkg/errors"
	stringpool "github.com/ajitpratap0/datatoolset/pkg/strings"
	"github.com/ajitpratap0/datatoolset/pkg/table"
)

// scanView is the connection-local view over the registered arrow stream
const scanView = "datatoolset_arrow_scan"

// execute hands tbl to DuckDB as an arrow stream and reads the result back
// as arrow records, so result columns keep their engine types.
func (e *Engine) execute(ctx context.Context, conn *sql.Conn, tbl arrow.Table, name, query string) (arrow.Table, error) {
	reader := array.NewTableReader(tbl, int64(e.chunkSize))
	defer reader.Release()

	var release func()
	err := conn.Raw(func(driverConn any) error {
		ar, err := arrowInterface(driverConn)
		if err != nil {
			return err
		}
		release, err = ar.RegisterView(reader, scanView)
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to register table").WithDetail("name", name)
	}
	defer release()

	// an arrow stream can be scanned once; the copy lets a query read the table repeatedly
	sb := stringpool.NewSQLBuilder()
	source := sb.WriteIdentifier(scanView).String()
	sb.Close()
	if _, err := conn.ExecContext(ctx, createStatement("TABLE", name, source)); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to register table").WithDetail("name", name)
	}

	var out arrow.Table
	err = conn.Raw(func(driverConn any) error {
		ar, err := arrowInterface(driverConn)
		if err != nil {
			return err
		}
		rr, err := ar.QueryContext(ctx, query)
		if err != nil {
			return queryFailed(err, query)
		}
		defer rr.Release()
		out, err = e.drain(ctx, rr)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func arrowInterface(driverConn any) (*duckdb.Arrow, error) {
	dc, ok := driverConn.(driver.Conn)
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeQuery, "unexpected driver connection %T", driverConn)
	}
	ar, err := duckdb.NewArrowFromConn(dc)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to open the arrow interface")
	}
	return ar, nil
}

// drain collects the result records, re-chunked to at most chunkSize rows
func (e *Engine) drain(ctx context.Context, rr array.RecordReader) (arrow.Table, error) {
	var recs []arrow.Record
	defer func() {
		for _, r := range recs {
			r.Release()
		}
	}()
	for rr.Next() {
		rec := rr.Record()
		rec.Retain()
		recs = append(recs, rec)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	if err := rr.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to read query result")
	}
	recs = rechunk(recs, e.chunkSize)
	return table.FromRecords(rr.Schema(), recs), nil
}
