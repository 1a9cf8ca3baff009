package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gobitfly/tabletstore/client"
	"github.com/gobitfly/tabletstore/metrics"
	"github.com/gobitfly/tabletstore/schema"
	"github.com/gobitfly/tabletstore/types"
	"github.com/gobitfly/tabletstore/utils"
	"github.com/gobitfly/tabletstore/version"
	"github.com/gobitfly/tabletstore/workerpool"
)

var opts = struct {
	Command  string
	Table    string
	Schema   string
	Hash     string
	Buckets  int
	Replicas int
	Rows     int
	Workers  int
}{}

func main() {
	configPath := flag.String("config", "", "Path to the config file, the embedded defaults are used if empty")
	flag.StringVar(&opts.Command, "command", "demo", "command to run, available: demo, create, drop, list, insert, scan, bench")
	flag.StringVar(&opts.Table, "table", "users", "table name")
	flag.StringVar(&opts.Schema, "schema", "id:int32:key,name:string,age:int8", "comma separated column list of name:type[:key]")
	flag.StringVar(&opts.Hash, "hash", "", "comma separated hash columns, all key columns if empty")
	flag.IntVar(&opts.Buckets, "buckets", 4, "number of hash buckets")
	flag.IntVar(&opts.Replicas, "replicas", 3, "replication factor")
	flag.IntVar(&opts.Rows, "rows", 100, "number of rows to insert")
	flag.IntVar(&opts.Workers, "workers", 4, "number of concurrent sessions used by bench")
	versionFlag := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Println(version.Version)
		fmt.Println(version.GoVersion)
		return
	}

	cfg := &types.Config{}
	if err := utils.ReadConfig(cfg, *configPath); err != nil {
		logrus.Fatalf("error reading config file: %v", err)
	}
	if err := utils.ConfigureLogging(cfg); err != nil {
		logrus.Fatal(err)
	}
	logrus.WithFields(logrus.Fields{
		"version":  version.Version,
		"commit":   version.GitCommit,
		"command":  opts.Command,
		"clusters": cfg.Cluster.Addresses,
	}).Info("starting tabletctl")

	if cfg.Metrics.Enabled {
		go func() {
			logrus.Infof("serving metrics on %v", cfg.Metrics.Address)
			if err := metrics.Serve(cfg.Metrics.Address); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logrus.WithError(err).Fatal("error serving metrics")
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	c, err := client.Connect(ctx, cfg.Cluster.Addresses, client.OptionsFromConfig(cfg))
	if err != nil {
		logrus.WithError(err).Fatal("error connecting to cluster")
	}
	defer c.Close()

	switch opts.Command {
	case "demo":
		err = demo(ctx, c, cfg)
	case "create":
		_, err = create(ctx, c)
	case "drop":
		err = c.DeleteTable(ctx, opts.Table)
	case "list":
		err = list(ctx, c)
	case "insert":
		err = insert(ctx, c, cfg)
	case "scan":
		err = scan(ctx, c, cfg)
	case "bench":
		err = bench(ctx, c, cfg)
	default:
		logrus.Fatalf("unknown command %s", opts.Command)
	}
	if err != nil {
		logrus.WithError(err).Fatalf("command %s failed", opts.Command)
	}
}

func parseSchema(def string) (*schema.Schema, error) {
	b := schema.NewBuilder()
	for _, part := range strings.Split(def, ",") {
		fields := strings.Split(strings.TrimSpace(part), ":")
		if len(fields) < 2 || len(fields) > 3 {
			return nil, fmt.Errorf("invalid column definition %q", part)
		}
		t, err := schema.ParseColumnType(fields[1])
		if err != nil {
			return nil, err
		}
		isKey := len(fields) == 3 && strings.EqualFold(fields[2], "key")
		b.AddColumn(fields[0], t, isKey)
	}
	return b.Build()
}

func create(ctx context.Context, c *client.Client) (*client.Table, error) {
	s, err := parseSchema(opts.Schema)
	if err != nil {
		return nil, err
	}
	var hash []string
	if opts.Hash != "" {
		hash = strings.Split(opts.Hash, ",")
	}
	tbl, err := c.CreateTable(ctx, opts.Table, s, schema.NewPartitionSpec(hash, opts.Buckets, opts.Replicas))
	if err != nil {
		return nil, err
	}
	logrus.WithField("table", tbl.String()).Info("created table")
	return tbl, nil
}

func list(ctx context.Context, c *client.Client) error {
	names, err := c.ListTables(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		tbl, err := c.OpenTable(ctx, name)
		if err != nil {
			return err
		}
		fmt.Println(tbl)
	}
	return nil
}

// sampleValue generates the value of column col for row i.
func sampleValue(col schema.ColumnSchema, i int) any {
	switch col.Type {
	case schema.Int8:
		return int8(i % 128)
	case schema.Int16:
		return int16(i % 32768)
	case schema.Int32:
		return int32(i)
	case schema.Int64:
		return int64(i)
	case schema.String:
		return fmt.Sprintf("%s-%d", col.Name, i)
	case schema.Binary:
		return []byte(fmt.Sprintf("%d", i))
	case schema.Bool:
		return i%2 == 0
	case schema.Float:
		return float32(i) / 2
	case schema.Double:
		return float64(i) / 3
	case schema.UnixTimeMicros:
		return time.Unix(int64(i), 0).UTC()
	}
	return nil
}

// writeRows upserts the rows [from, to) with a session of its own.
func writeRows(ctx context.Context, c *client.Client, cfg *types.Config, tbl *client.Table, from, to int) (int, error) {
	s := c.NewSession(client.SessionConfigFromConfig(cfg))
	defer s.Close()

	for i := from; i < to; i++ {
		m := tbl.NewUpsert()
		for _, col := range tbl.Schema().Columns() {
			m.Row().Set(col.Name, sampleValue(col, i))
		}
		if err := s.Apply(ctx, m); err != nil {
			if !errors.Is(err, client.ErrBufferFull) {
				return 0, err
			}
			if _, err := s.Flush(ctx); err != nil {
				return 0, err
			}
			if err := s.Apply(ctx, m); err != nil {
				return 0, err
			}
		}
	}
	res, err := s.Flush(ctx)
	if err != nil {
		return 0, err
	}
	failed := res.Failed()
	for _, f := range failed {
		logrus.WithError(f.Err).WithField("row", f.Mutation.Row().String()).Warn("row was not written")
	}
	return to - from - len(failed), nil
}

func insert(ctx context.Context, c *client.Client, cfg *types.Config) error {
	tbl, err := c.OpenTable(ctx, opts.Table)
	if err != nil {
		return err
	}
	start := time.Now()
	written, err := writeRows(ctx, c, cfg, tbl, 0, opts.Rows)
	if err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{"table": tbl.Name(), "rows": written, "duration": time.Since(start)}).Info("inserted rows")
	return nil
}

func scan(ctx context.Context, c *client.Client, cfg *types.Config) error {
	tbl, err := c.OpenTable(ctx, opts.Table)
	if err != nil {
		return err
	}
	scanOpts, err := client.ScanOptionsFromConfig(tbl.Schema(), cfg)
	if err != nil {
		return err
	}
	sc, err := c.NewScanner(tbl, scanOpts)
	if err != nil {
		return err
	}
	defer sc.Close()

	n := 0
	for row, err := range sc.Rows(ctx) {
		if err != nil {
			return err
		}
		fmt.Println(row)
		n++
	}
	logrus.WithFields(logrus.Fields{"table": tbl.Name(), "rows": n}).Info("scan complete")
	return nil
}

func bench(ctx context.Context, c *client.Client, cfg *types.Config) error {
	tbl, err := c.OpenTable(ctx, opts.Table)
	if err != nil {
		return err
	}

	wp := workerpool.New(opts.Workers, opts.Workers)
	wp.Run(ctx)
	defer wp.Quit()

	start := time.Now()
	chunk := (opts.Rows + opts.Workers - 1) / opts.Workers
	for from := 0; from < opts.Rows; from += chunk {
		to := min(from+chunk, opts.Rows)
		wp.AddTask(func(ctx context.Context) error {
			written, err := writeRows(ctx, c, cfg, tbl, from, to)
			logrus.WithFields(logrus.Fields{"from": from, "to": to, "written": written}).Debug("bench chunk done")
			return err
		})
	}
	if err := wp.Wait(); err != nil {
		return err
	}
	elapsed := time.Since(start)
	logrus.WithFields(logrus.Fields{
		"table":      tbl.Name(),
		"rows":       opts.Rows,
		"workers":    opts.Workers,
		"duration":   elapsed,
		"rowsPerSec": float64(opts.Rows) / elapsed.Seconds(),
	}).Info("bench complete")
	return nil
}

// demo creates a table, writes and reads it back and drops it again.
func demo(ctx context.Context, c *client.Client, cfg *types.Config) error {
	exists, err := c.TableExists(ctx, opts.Table)
	if err != nil {
		return err
	}
	if exists {
		if err := c.DeleteTable(ctx, opts.Table); err != nil {
			return err
		}
	}
	if _, err := create(ctx, c); err != nil {
		return err
	}
	if err := insert(ctx, c, cfg); err != nil {
		return err
	}
	if err := scan(ctx, c, cfg); err != nil {
		return err
	}
	return c.DeleteTable(ctx, opts.Table)
}
