// Command pgclient is a small example driver exercising the pgclient
// package against a real PostgreSQL-compatible server: connect, optionally
// run one query or a BEGIN/COMMIT demo, and serve Prometheus metrics.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/mevdschee/pgclient"
	"github.com/mevdschee/pgclient/metrics"
)

func main() {
	dsn := flag.String("dsn", os.Getenv("PGCLIENT_DSN"), "postgres:// connection URL")
	profile := flag.String("profile", "", "profile name to look up in -profiles")
	profilesPath := flag.String("profiles", "", "path to a profiles.ini file mapping profile name -> dsn")
	query := flag.String("query", "", "if set, prepare and run this query once, then exit")
	demoTx := flag.Bool("demo-tx", false, "run a BEGIN/SELECT 1/COMMIT demo against the connected database")
	metricsAddr := flag.String("metrics", ":9090", "metrics endpoint address")
	flag.Parse()

	if *profile != "" {
		if *profilesPath == "" {
			log.Fatalf("-profile requires -profiles")
		}
		profiles, err := pgclient.LoadProfiles(*profilesPath)
		if err != nil {
			log.Fatalf("failed to load profiles: %v", err)
		}
		resolved, ok := profiles[*profile]
		if !ok {
			log.Fatalf("no such profile %q in %s", *profile, *profilesPath)
		}
		*dsn = resolved
	}
	if *dsn == "" {
		log.Fatalf("no connection URL: pass -dsn, PGCLIENT_DSN, or -profile/-profiles")
	}

	metrics.Init()
	go func() {
		http.Handle("/metrics", metrics.Handler())
		log.Printf("metrics endpoint at http://localhost%s/metrics", *metricsAddr)
		if err := http.ListenAndServe(*metricsAddr, nil); err != nil {
			log.Printf("metrics server error: %v", err)
		}
	}()

	ctx := context.Background()
	conn, err := pgclient.Connect(ctx, *dsn)
	if err != nil {
		log.Fatalf("connect failed: %v", err)
	}
	defer conn.Close()
	log.Printf("connected to %s", conn.Config().Addr())

	if *query != "" {
		runQuery(ctx, conn, *query)
	}
	if *demoTx {
		runDemoTx(ctx, conn)
	}
}

func runQuery(ctx context.Context, conn *pgclient.Conn, sql string) {
	stmt, err := conn.Prepare(ctx, sql)
	if err != nil {
		log.Fatalf("prepare failed: %v", err)
	}
	defer stmt.Close()

	rows, err := stmt.Query(ctx, 100)
	if err != nil {
		log.Fatalf("query failed: %v", err)
	}
	defer rows.Close()

	cols := stmt.Columns()
	for {
		row, ok, err := rows.Next(ctx)
		if err != nil {
			log.Fatalf("row fetch failed: %v", err)
		}
		if !ok {
			break
		}
		for i := range cols {
			v, err := row.At(i)
			if err != nil {
				log.Fatalf("decode column %d: %v", i, err)
			}
			fmt.Printf("%s=%v ", cols[i].Name, v)
		}
		fmt.Println()
	}
}

func runDemoTx(ctx context.Context, conn *pgclient.Conn) {
	tx, err := conn.Begin(ctx)
	if err != nil {
		log.Fatalf("begin failed: %v", err)
	}

	stmt, err := tx.Prepare(ctx, "SELECT 1")
	if err != nil {
		tx.Rollback(ctx)
		log.Fatalf("prepare failed: %v", err)
	}
	if _, err := stmt.Execute(ctx); err != nil {
		stmt.Close()
		tx.Rollback(ctx)
		log.Fatalf("execute failed: %v", err)
	}
	stmt.Close()

	if err := tx.Commit(ctx); err != nil {
		log.Fatalf("commit failed: %v", err)
	}
	log.Println("demo transaction committed")
}
