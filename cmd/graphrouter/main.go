// Package main provides the GraphRouter CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/orneryd/graphrouter/pkg/config"
	"github.com/orneryd/graphrouter/pkg/graphrouter"
	"github.com/orneryd/graphrouter/pkg/neo4j"
	"github.com/orneryd/graphrouter/pkg/ontology"
	"github.com/orneryd/graphrouter/pkg/query"
	"github.com/orneryd/graphrouter/pkg/storage"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "graphrouter",
		Short: "GraphRouter - pluggable graph storage with an embedded query engine",
		Long: `GraphRouter exposes one node/edge/query contract over interchangeable
backends: an embedded JSON-file engine, a durable BadgerDB engine, and a
remote Neo4j adapter. Every operation is validated against an ontology,
cached, and measured.`,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config (default: env only)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("GraphRouter v%s (%s)\n", version, commit)
		},
	})

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize an empty database for the configured backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(configPath, func(ctx context.Context, db *graphrouter.DB, cfg *config.Config) error {
				fmt.Printf("Initialized %s backend\n", cfg.Backend)
				return nil
			})
		},
	}
	rootCmd.AddCommand(initCmd)

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Print node/edge counts and the attached schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(configPath, func(ctx context.Context, db *graphrouter.DB, cfg *config.Config) error {
				return printStats(ctx, db, cfg)
			})
		},
	}
	rootCmd.AddCommand(statsCmd)

	queryCmd := &cobra.Command{
		Use:   "query",
		Short: "Run a label/property query and print matching nodes as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			label, _ := cmd.Flags().GetString("label")
			props, _ := cmd.Flags().GetStringToString("property")
			limit, _ := cmd.Flags().GetInt("limit")
			sortKey, _ := cmd.Flags().GetString("sort")
			return withDB(configPath, func(ctx context.Context, db *graphrouter.DB, cfg *config.Config) error {
				q := query.New()
				if label != "" {
					q.Filter(query.LabelEquals(label))
				}
				for k, v := range props {
					q.Filter(query.PropertyEquals(k, v))
				}
				if sortKey != "" {
					q.Sort(sortKey, false)
				}
				if limit > 0 {
					q.LimitResults(limit)
				}
				results, err := db.Query(ctx, q)
				if err != nil {
					return err
				}
				return printJSON(results)
			})
		},
	}
	queryCmd.Flags().String("label", "", "Filter by node label")
	queryCmd.Flags().StringToString("property", nil, "Filter by property equality (key=value)")
	queryCmd.Flags().String("sort", "", "Sort by the numeric value of a property")
	queryCmd.Flags().Int("limit", 0, "Limit the result count")
	rootCmd.AddCommand(queryCmd)

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Dump the whole graph as a JSON snapshot to stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(configPath, func(ctx context.Context, db *graphrouter.DB, cfg *config.Config) error {
				return exportGraph(ctx, db)
			})
		},
	}
	rootCmd.AddCommand(exportCmd)

	metricsCmd := &cobra.Command{
		Use:   "metrics",
		Short: "Print per-operation performance metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(configPath, func(ctx context.Context, db *graphrouter.DB, cfg *config.Config) error {
				return printJSON(db.DetailedMetrics())
			})
		},
	}
	rootCmd.AddCommand(metricsCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// withDB loads configuration, connects the configured backend, runs fn,
// and disconnects.
func withDB(configPath string, fn func(ctx context.Context, db *graphrouter.DB, cfg *config.Config) error) error {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.LoadFromEnv()
	}
	if err != nil {
		return err
	}

	var backend storage.Backend
	opts := storage.ConnectOptions{
		Path:     cfg.Local.Path,
		Dir:      cfg.Badger.Dir,
		URI:      cfg.Neo4j.URI,
		Username: cfg.Neo4j.Username,
		Password: cfg.Neo4j.Password,
	}
	switch cfg.Backend {
	case config.BackendLocal:
		backend = storage.NewLocalEngine(cfg.Local.Path)
	case config.BackendBadger:
		backend = storage.NewBadgerEngine(cfg.Badger.Dir)
	case config.BackendNeo4j:
		backend = neo4j.NewEngine(cfg.Neo4j.Database)
	default:
		return fmt.Errorf("unknown backend %q", cfg.Backend)
	}

	db := graphrouter.NewWithOptions(backend, graphrouter.Options{
		CacheTTL:         cfg.Cache.TTL,
		MetricsRetention: cfg.Metrics.Retention,
	})
	db.SetOntology(ontology.Core())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := db.Connect(ctx, opts); err != nil {
		return err
	}
	defer db.Disconnect(ctx)

	return fn(ctx, db, cfg)
}

func printStats(ctx context.Context, db *graphrouter.DB, cfg *config.Config) error {
	nodes, err := db.AllNodes(ctx)
	if err != nil {
		return err
	}
	edges, err := db.AllEdges(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Backend: %s\n", cfg.Backend)
	fmt.Printf("Nodes:   %d\n", len(nodes))
	fmt.Printf("Edges:   %d\n", len(edges))
	if o := db.Ontology(); o != nil {
		fmt.Printf("Node types: %s\n", strings.Join(o.NodeTypes(), ", "))
		fmt.Printf("Edge types: %s\n", strings.Join(o.EdgeTypes(), ", "))
	}
	return nil
}

func exportGraph(ctx context.Context, db *graphrouter.DB) error {
	nodes, err := db.AllNodes(ctx)
	if err != nil {
		return err
	}
	edges, err := db.AllEdges(ctx)
	if err != nil {
		return err
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	sort.Slice(edges, func(i, j int) bool { return edges[i].ID < edges[j].ID })
	return printJSON(map[string]any{"nodes": nodes, "edges": edges})
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
