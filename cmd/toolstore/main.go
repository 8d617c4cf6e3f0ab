// Package main implements the toolstore CLI for manual operations against the
// configured vector store backend.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pyramidpy/pyramidpy-tools/internal/config"
	"github.com/pyramidpy/pyramidpy-tools/internal/documents"
	"github.com/pyramidpy/pyramidpy-tools/internal/logging"
	"github.com/pyramidpy/pyramidpy-tools/internal/vectorstore"
)

var (
	// configPath overrides the default config file location
	configPath string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "toolstore",
	Short: "CLI for document vector store operations",
	Long: `toolstore is a command-line interface for the document vector store.
It provides commands for adding, querying and deleting documents across the
configured backend (embedded chroma, remote chroma or pgvector).`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default ~/.config/pyramidpy/config.yaml)")
	rootCmd.AddCommand(collectionsCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(deleteCollectionCmd)
	rootCmd.AddCommand(countCmd)
	rootCmd.AddCommand(healthCmd)

	addCmd.Flags().StringVar(&addID, "id", "", "document ID (generated when empty)")
	addCmd.Flags().StringVar(&addMetadata, "metadata", "", "document metadata as a JSON object")
	queryCmd.Flags().IntVarP(&queryN, "n-results", "n", 0, "maximum number of results (default 10)")
	queryCmd.Flags().StringVar(&queryWhere, "where", "", "metadata filter as a JSON object")
}

// newService loads configuration and builds the document service.
func newService(ctx context.Context) (*documents.Service, *zap.Logger, error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("creating logger: %w", err)
	}

	svc, err := documents.New(ctx, cfg, logger)
	if err != nil {
		logging.Sync(logger)
		return nil, nil, err
	}
	return svc, logger, nil
}

// collectionsCmd lists collections with document counts
var collectionsCmd = &cobra.Command{
	Use:   "collections",
	Short: "List collections and their document counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svc, logger, err := newService(ctx)
		if err != nil {
			return err
		}
		defer svc.Close()
		defer logging.Sync(logger)

		infos, err := svc.ListCollections(ctx)
		if err != nil {
			return err
		}
		if len(infos) == 0 {
			fmt.Println("No collections.")
			return nil
		}
		for _, info := range infos {
			fmt.Printf("%s\t%d documents\t%d dims\n", info.Name, info.Count, info.Dimensions)
		}
		return nil
	},
}

var (
	addID       string
	addMetadata string
)

// addCmd inserts a single document
var addCmd = &cobra.Command{
	Use:   "add <collection> <content>",
	Short: "Add a document to a collection",
	Long: `Add a document to a collection. The content is embedded automatically.

Examples:
  # Add with a generated ID
  toolstore add notes "vector databases index embeddings"

  # Add with an explicit ID and metadata
  toolstore add notes "release checklist" --id doc1 --metadata '{"source":"wiki"}'`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svc, logger, err := newService(ctx)
		if err != nil {
			return err
		}
		defer svc.Close()
		defer logging.Sync(logger)

		doc := vectorstore.Document{ID: addID, Content: args[1]}
		if addMetadata != "" {
			if err := json.Unmarshal([]byte(addMetadata), &doc.Metadata); err != nil {
				return fmt.Errorf("parsing --metadata: %w", err)
			}
		}

		ids, err := svc.AddDocuments(ctx, args[0], []vectorstore.Document{doc})
		if err != nil {
			return err
		}
		fmt.Println(ids[0])
		return nil
	},
}

var (
	queryN     int
	queryWhere string
)

// queryCmd runs a similarity search
var queryCmd = &cobra.Command{
	Use:   "query <collection> <text>",
	Short: "Search a collection by text similarity",
	Long: `Search a collection by text similarity.

Examples:
  # Top 10 matches
  toolstore query notes "how do embeddings work"

  # Top 3 matches from one source
  toolstore query notes "release process" -n 3 --where '{"source":"wiki"}'`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svc, logger, err := newService(ctx)
		if err != nil {
			return err
		}
		defer svc.Close()
		defer logging.Sync(logger)

		q := vectorstore.Query{Text: args[1], NResults: queryN}
		if queryWhere != "" {
			if err := json.Unmarshal([]byte(queryWhere), &q.Where); err != nil {
				return fmt.Errorf("parsing --where: %w", err)
			}
		}

		docs, err := svc.Query(ctx, args[0], q)
		if err != nil {
			return err
		}
		for _, doc := range docs {
			distance := "-"
			if doc.Distance != nil {
				distance = fmt.Sprintf("%.4f", *doc.Distance)
			}
			content := doc.Content
			if idx := strings.IndexByte(content, '\n'); idx >= 0 {
				content = content[:idx]
			}
			fmt.Printf("%s\t%s\t%s\n", doc.ID, distance, content)
		}
		return nil
	},
}

// deleteCollectionCmd removes a collection
var deleteCollectionCmd = &cobra.Command{
	Use:   "delete-collection <collection>",
	Short: "Delete a collection and all its documents",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svc, logger, err := newService(ctx)
		if err != nil {
			return err
		}
		defer svc.Close()
		defer logging.Sync(logger)

		if err := svc.DeleteCollection(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted collection %s\n", args[0])
		return nil
	},
}

// countCmd prints a collection's document count
var countCmd = &cobra.Command{
	Use:   "count <collection>",
	Short: "Count documents in a collection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svc, logger, err := newService(ctx)
		if err != nil {
			return err
		}
		defer svc.Close()
		defer logging.Sync(logger)

		n, err := svc.Count(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Println(n)
		return nil
	},
}

// healthCmd probes backend connectivity
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check vector store backend connectivity",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svc, logger, err := newService(ctx)
		if err != nil {
			return err
		}
		defer svc.Close()
		defer logging.Sync(logger)

		if !svc.Ok(ctx) {
			return fmt.Errorf("backend unreachable")
		}
		fmt.Println("ok")
		return nil
	},
}
