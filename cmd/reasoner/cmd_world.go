// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianClimate/services/reasoner"
	"github.com/AleutianAI/AleutianClimate/services/reasoner/manifest"
	"github.com/AleutianAI/AleutianClimate/services/reasoner/semantic"
	"github.com/AleutianAI/AleutianClimate/services/reasoner/worldmodel"
)

// errSemanticNotConfigured is returned by world index without Weaviate or an embedder.
var errSemanticNotConfigured = errors.New("semantic search is not configured: set WEAVIATE_SERVICE_URL and an embedding provider")

// =============================================================================
// COMMAND DEFINITIONS
// =============================================================================

func newWorldCmd(app *cliApp) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "world",
		Short: "Inspect the World Model knowledge graph",
		Long: `Build the World Model from the system manifest and query it.

The manifest is the embedded default unless manifest_path or
REASONER_MANIFEST_PATH points at a file.

Subcommands:
  validate   Check that a manifest builds
  stats      Node and edge counts
  nodes      List nodes, optionally filtered
  neighbors  Direct edges of one node
  traverse   Breadth-first subgraph from one node
  index      Push every node into the Weaviate vector index`,
	}
	cmd.AddCommand(
		newWorldValidateCmd(app),
		newWorldStatsCmd(app),
		newWorldNodesCmd(app),
		newWorldNeighborsCmd(app),
		newWorldTraverseCmd(app),
		newWorldIndexCmd(app),
	)
	return cmd
}

// loadSnapshot builds a snapshot from path, or from the configured manifest when empty.
func (a *cliApp) loadSnapshot(ctx context.Context, path string) (*worldmodel.Snapshot, error) {
	if path == "" {
		path = a.cfg.ManifestPath
	}
	m, err := manifest.Load(path)
	if err != nil {
		return nil, err
	}
	return worldmodel.Build(ctx, m)
}

// parseNodeArgs turns ENTITY_TYPE KEY arguments into a node ID.
func parseNodeArgs(args []string) (worldmodel.EntityType, string, error) {
	et, err := worldmodel.ParseEntityType(args[0])
	if err != nil {
		return "", "", err
	}
	key := strings.TrimSpace(args[1])
	if key == "" {
		return "", "", fmt.Errorf("node key must not be empty")
	}
	return et, key, nil
}

// =============================================================================
// VALIDATE / STATS
// =============================================================================

type validateResult struct {
	Valid          bool   `json:"valid"`
	Manifest       string `json:"manifest"`
	Nodes          int    `json:"nodes"`
	Edges          int    `json:"edges"`
	ManifestDigest string `json:"manifest_digest"`
}

func newWorldValidateCmd(app *cliApp) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [MANIFEST]",
		Short: "Check that a manifest parses and builds a consistent graph",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			snap, err := app.loadSnapshot(cmd.Context(), path)
			if err != nil {
				return fmt.Errorf("manifest invalid: %w", err)
			}
			name := path
			if name == "" {
				name = app.cfg.ManifestPath
			}
			if name == "" {
				name = "(embedded)"
			}
			res := validateResult{
				Valid:          true,
				Manifest:       name,
				Nodes:          snap.NodeCount(),
				Edges:          snap.EdgeCount(),
				ManifestDigest: snap.ManifestDigest(),
			}
			return app.render(res, func(w *tabwriter.Writer) {
				app.styles.Successf(w, "%s is valid: %d nodes, %d edges (digest %s)",
					res.Manifest, res.Nodes, res.Edges, shorten(res.ManifestDigest, 15))
			})
		},
	}
}

func newWorldStatsCmd(app *cliApp) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show node and edge counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := app.loadSnapshot(cmd.Context(), "")
			if err != nil {
				return err
			}
			st := snap.Stats()
			return app.render(st, func(w *tabwriter.Writer) {
				fmt.Fprintf(w, "Nodes:\t%d\n", st.Nodes)
				writeCounts(w, st.ByEntityType)
				fmt.Fprintf(w, "Edges:\t%d\n", st.Edges)
				writeCounts(w, st.ByRelation)
				fmt.Fprintln(w, "Edge sources:")
				writeCounts(w, st.BySource)
			})
		},
	}
}

func writeCounts(w *tabwriter.Writer, counts map[string]int) {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "  %s\t%d\n", k, counts[k])
	}
}

// =============================================================================
// NODES / NEIGHBORS / TRAVERSE
// =============================================================================

func newWorldNodesCmd(app *cliApp) *cobra.Command {
	var entityType, module, tag string

	cmd := &cobra.Command{
		Use:   "nodes",
		Short: "List World Model nodes",
		Long: `List nodes in build order. Filters are AND-combined.

Examples:
  reasoner world nodes --entity-type table
  reasoner world nodes --module energy --tag emissions`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := worldmodel.NodeFilter{Module: module, Tag: tag}
			if entityType != "" {
				et, err := worldmodel.ParseEntityType(entityType)
				if err != nil {
					return err
				}
				filter.EntityType = et
			}
			snap, err := app.loadSnapshot(cmd.Context(), "")
			if err != nil {
				return err
			}
			nodes := snap.FilterNodes(filter)
			resp := reasoner.NodesResponse{Nodes: nodes, Count: len(nodes)}
			return app.render(resp, func(w *tabwriter.Writer) {
				fmt.Fprintln(w, "ID\tMODULE\tLABEL\tTAGS")
				for _, n := range nodes {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", n.ID(), n.Module, shorten(n.Label, 40), joinOrDash(n.Tags))
				}
				app.styles.Footerf(w, "%d nodes", resp.Count)
			})
		},
	}

	cmd.Flags().StringVar(&entityType, "entity-type", "", "module, table, endpoint, workflow or domain_object")
	cmd.Flags().StringVar(&module, "module", "", "Owning module")
	cmd.Flags().StringVar(&tag, "tag", "", "Tag (case-insensitive)")
	return cmd
}

func newWorldNeighborsCmd(app *cliApp) *cobra.Command {
	return &cobra.Command{
		Use:   "neighbors ENTITY_TYPE KEY",
		Short: "Show the edges entering and leaving a node",
		Example: `  reasoner world neighbors endpoint update_organization
  reasoner world neighbors table energy_readings`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			et, key, err := parseNodeArgs(args)
			if err != nil {
				return err
			}
			snap, err := app.loadSnapshot(cmd.Context(), "")
			if err != nil {
				return err
			}
			id := worldmodel.NodeID(et, key)
			if !snap.HasNode(id) {
				return fmt.Errorf("%w: %s", worldmodel.ErrNodeNotFound, id)
			}
			resp := reasoner.NeighborsResponse{NodeID: id, Neighbors: snap.GetNeighbors(et, key)}
			return app.render(resp, func(w *tabwriter.Writer) {
				fmt.Fprintln(w, "DIRECTION\tRELATION\tNODE\tSOURCE")
				for _, e := range resp.Outgoing {
					fmt.Fprintf(w, "out\t%s\t%s\t%s\n", e.Relation, e.To, e.Source)
				}
				for _, e := range resp.Incoming {
					fmt.Fprintf(w, "in\t%s\t%s\t%s\n", e.Relation, e.From, e.Source)
				}
			})
		},
	}
}

func newWorldTraverseCmd(app *cliApp) *cobra.Command {
	var (
		depth     int
		relations []string
	)

	cmd := &cobra.Command{
		Use:   "traverse ENTITY_TYPE KEY",
		Short: "Walk the graph breadth-first from a node",
		Long: fmt.Sprintf(`Collect every node reachable from the start node within --depth hops,
following edges in both directions. --relation limits which edge types
are followed. Depth must be between 0 and %d.

Examples:
  reasoner world traverse module organizations --depth 2
  reasoner world traverse table organizations --relation reads --relation writes`,
			worldmodel.MaxTraversalDepth),
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			et, key, err := parseNodeArgs(args)
			if err != nil {
				return err
			}
			if err := worldmodel.ValidateDepth(depth); err != nil {
				return err
			}
			rels := make([]worldmodel.RelationType, 0, len(relations))
			for _, r := range relations {
				rel, err := worldmodel.ParseRelationType(r)
				if err != nil {
					return err
				}
				rels = append(rels, rel)
			}

			snap, err := app.loadSnapshot(cmd.Context(), "")
			if err != nil {
				return err
			}
			id := worldmodel.NodeID(et, key)
			if !snap.HasNode(id) {
				return fmt.Errorf("%w: %s", worldmodel.ErrNodeNotFound, id)
			}
			resp := reasoner.SubgraphResponse{Start: id, Depth: depth, Subgraph: snap.TraverseSubgraph(id, rels, depth)}
			return app.render(resp, func(w *tabwriter.Writer) {
				fmt.Fprintln(w, "NODE\tMODULE\tLABEL")
				for _, n := range resp.Nodes {
					fmt.Fprintf(w, "%s\t%s\t%s\n", n.ID(), n.Module, shorten(n.Label, 40))
				}
				app.styles.Footerf(w, "%d nodes, %d edges, depth reached %d", len(resp.Nodes), len(resp.Edges), resp.DepthReached)
			})
		},
	}

	cmd.Flags().IntVarP(&depth, "depth", "d", 1, "Maximum hops from the start node")
	cmd.Flags().StringSliceVar(&relations, "relation", nil, "Only follow these relation types (repeatable)")
	return cmd
}

// =============================================================================
// INDEX
// =============================================================================

type indexResult struct {
	ClassName string `json:"class_name"`
	Submitted int    `json:"submitted"`
	Indexed   int    `json:"indexed"`
}

func newWorldIndexCmd(app *cliApp) *cobra.Command {
	return &cobra.Command{
		Use:   "index",
		Short: "Embed every World Model node and upsert it into Weaviate",
		Long: `Create the Weaviate class if needed, embed each node's label and
description with the configured provider, and batch-upsert the vectors.
Object IDs derive from node IDs, so re-running replaces earlier objects.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorldIndex(cmd.Context(), app)
		},
	}
}

func runWorldIndex(ctx context.Context, app *cliApp) error {
	cfg := app.cfg
	if !cfg.SemanticEnabled() {
		return errSemanticNotConfigured
	}
	logger := app.logger.Slog()

	client, err := semantic.NewWeaviateClient(cfg.Weaviate.URL)
	if err != nil {
		return err
	}
	if err := semantic.EnsureSchema(ctx, client, cfg.Weaviate.ClassName); err != nil {
		return err
	}

	embedder, db, err := reasoner.NewEmbedder(cfg, logger)
	if err != nil {
		return err
	}
	if db != nil {
		defer func() {
			if err := db.Close(); err != nil {
				logger.Warn("Embedding cache close failed", "error", err)
			}
		}()
	}

	snapshots := worldmodel.NewCache(worldmodel.ManifestBuildFunc(cfg.ManifestPath), worldmodel.WithLogger(logger))
	indexer := semantic.NewIndexer(client, embedder, cfg.Weaviate.ClassName)
	stored, submitted, err := reasoner.IndexWorldModel(ctx, snapshots, indexer)
	if err != nil {
		return err
	}

	res := indexResult{ClassName: cfg.Weaviate.ClassName, Submitted: submitted, Indexed: stored}
	return app.render(res, func(w *tabwriter.Writer) {
		app.styles.Successf(w, "Indexed %d of %d nodes into %s", res.Indexed, res.Submitted, res.ClassName)
	})
}
