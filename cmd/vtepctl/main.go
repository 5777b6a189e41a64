// Command vtepctl is a thin CLI wrapper over the Client Façade, in the same
// spirit as the teacher's collection of single-purpose cmd/ovnkube-*
// binaries and grounded on cmd/ovn-kube-util's urfave/cli/v2 App wiring.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	stdlog "log"

	"github.com/go-logr/stdr"
	"github.com/urfave/cli/v2"

	"github.com/hashsdn/hashsdn-ovsdb/pkg/client"
	"github.com/hashsdn/hashsdn-ovsdb/pkg/ovsdb"
)

func main() {
	app := cli.NewApp()
	app.Name = "vtepctl"
	app.Usage = "inspect and drive an OVSDB / hardware-VTEP server"
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:     "endpoint",
			Usage:    "server endpoint, e.g. tcp://127.0.0.1:6640 or unix:///var/run/openvswitch/db.sock",
			Required: true,
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "RPC timeout",
			Value: 10 * time.Second,
		},
	}
	app.Commands = []*cli.Command{
		listDBsCommand,
		getSchemaCommand,
		monitorCommand,
		transactCommand,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func connect(cliCtx *cli.Context) (client.OvsdbClient, context.Context, context.CancelFunc, error) {
	logger := stdr.New(stdlog.New(os.Stderr, "", stdlog.LstdFlags))
	c := client.New(
		client.WithEndpoint(cliCtx.String("endpoint")),
		client.WithLogger(logger),
	)
	ctx, cancel := context.WithTimeout(cliCtx.Context, cliCtx.Duration("timeout"))
	if err := c.Connect(ctx); err != nil {
		cancel()
		return nil, nil, nil, err
	}
	return c, ctx, cancel, nil
}

var listDBsCommand = &cli.Command{
	Name:  "list-dbs",
	Usage: "list databases the server exposes",
	Action: func(cliCtx *cli.Context) error {
		c, ctx, cancel, err := connect(cliCtx)
		if err != nil {
			return err
		}
		defer cancel()
		defer c.Disconnect()

		dbs, err := c.ListDatabases(ctx)
		if err != nil {
			return err
		}
		for _, db := range dbs {
			fmt.Println(db)
		}
		return nil
	},
}

var getSchemaCommand = &cli.Command{
	Name:      "get-schema",
	Usage:     "print a database's schema name, version and per-table column names as JSON",
	ArgsUsage: "<db>",
	Action: func(cliCtx *cli.Context) error {
		if cliCtx.NArg() != 1 {
			return cli.Exit("get-schema requires exactly one argument: <db>", 1)
		}
		c, ctx, cancel, err := connect(cliCtx)
		if err != nil {
			return err
		}
		defer cancel()
		defer c.Disconnect()

		schema, err := c.GetSchema(ctx, cliCtx.Args().First())
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(schemaSummary(schema), "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

func schemaSummary(schema *ovsdb.DatabaseSchema) map[string]interface{} {
	tables := make(map[string][]string, len(schema.Tables))
	for name, table := range schema.Tables {
		cols := make([]string, 0, len(table.Columns))
		for col := range table.Columns {
			cols = append(cols, col)
		}
		tables[name] = cols
	}
	return map[string]interface{}{
		"name":    schema.Name,
		"version": schema.Version,
		"tables":  tables,
	}
}

var monitorCommand = &cli.Command{
	Name:      "monitor",
	Usage:     "monitor a table and print update notifications until interrupted",
	ArgsUsage: "<db> <table>",
	Action: func(cliCtx *cli.Context) error {
		if cliCtx.NArg() != 2 {
			return cli.Exit("monitor requires exactly two arguments: <db> <table>", 1)
		}
		dbName, tableName := cliCtx.Args().Get(0), cliCtx.Args().Get(1)

		c, ctx, cancel, err := connect(cliCtx)
		if err != nil {
			return err
		}
		defer cancel()
		defer c.Disconnect()

		schema, err := c.GetSchema(ctx, dbName)
		if err != nil {
			return err
		}
		table, ok := schema.Table(tableName)
		if !ok {
			return cli.Exit(fmt.Sprintf("table %q not found in schema %q", tableName, dbName), 1)
		}
		columns := make([]string, 0, len(table.Columns))
		for col := range table.Columns {
			columns = append(columns, col)
		}
		requests := map[string]ovsdb.MonitorRequest{
			tableName: {Columns: columns},
		}

		printer := client.MonitorCallBackFunc(func(updates ovsdb.TableUpdates, dbSchema *ovsdb.DatabaseSchema) {
			for tbl, tu := range updates {
				for uuid := range tu {
					fmt.Printf("%s %s updated\n", tbl, uuid)
				}
			}
		})

		_, initial, err := c.Monitor(ctx, schema, requests, printer, 0)
		if err != nil {
			return err
		}
		for tbl, tu := range initial {
			for uuid := range tu {
				fmt.Printf("%s %s (initial)\n", tbl, uuid)
			}
		}

		<-cliCtx.Context.Done()
		return nil
	},
}

var transactCommand = &cli.Command{
	Name:      "transact",
	Usage:     "execute a batch of operations from a JSON file (an array of RFC 7047 operation objects)",
	ArgsUsage: "<db> <ops.json>",
	Action: func(cliCtx *cli.Context) error {
		if cliCtx.NArg() != 2 {
			return cli.Exit("transact requires exactly two arguments: <db> <ops.json>", 1)
		}
		dbName, opsPath := cliCtx.Args().Get(0), cliCtx.Args().Get(1)

		raw, err := os.ReadFile(opsPath)
		if err != nil {
			return err
		}
		var ops []ovsdb.Operation
		if err := json.Unmarshal(raw, &ops); err != nil {
			return err
		}

		c, ctx, cancel, err := connect(cliCtx)
		if err != nil {
			return err
		}
		defer cancel()
		defer c.Disconnect()

		schema, err := c.GetSchema(ctx, dbName)
		if err != nil {
			return err
		}
		results, err := c.Transact(ctx, schema, ops)
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}
