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
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianClimate/services/reasoner"
	"github.com/AleutianAI/AleutianClimate/services/reasoner/search"
	"github.com/AleutianAI/AleutianClimate/services/reasoner/similarity"
	"github.com/AleutianAI/AleutianClimate/services/reasoner/strategy"
)

// =============================================================================
// SHARED SETUP
// =============================================================================

// openService builds an in-process service for one-shot queries. Metrics go
// to a private registry and the manifest watcher stays off.
func (a *cliApp) openService(ctx context.Context) (*reasoner.Service, error) {
	cfg := a.cfg
	cfg.Cache.WatchManifest = false
	if cfg.Server.GinMode == "" {
		cfg.Server.GinMode = gin.ReleaseMode
	}
	return reasoner.New(ctx, cfg,
		reasoner.WithServiceLogger(a.logger.Slog()),
		reasoner.WithRegistry(prometheus.NewRegistry()))
}

func (a *cliApp) closeService(svc *reasoner.Service) {
	if err := svc.Close(); err != nil {
		a.logger.Warn("Service close failed", "error", err)
	}
}

// =============================================================================
// SEARCH
// =============================================================================

func newSearchCmd(app *cliApp) *cobra.Command {
	var (
		sources     []string
		module      string
		entityTypes []string
		tags        []string
		maxResults  int
		expand      bool
	)

	cmd := &cobra.Command{
		Use:   "search QUERY...",
		Short: "Hybrid search across the semantic, graph and table sources",
		Long: `Run one hybrid search and print the merged, ranked hits.

Sources run concurrently; a source that fails or is not configured is
skipped and the others still answer.

Examples:
  reasoner search heat pumps
  reasoner search "energy readings" --source graph --source table
  reasoner search emissions --entity-type table --expand`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := search.Request{
				Query: strings.Join(args, " "),
				Filters: search.Filters{
					Module:      module,
					EntityTypes: entityTypes,
					Tags:        tags,
				},
				MaxResults:            maxResults,
				IncludeGraphExpansion: expand,
			}
			for _, s := range sources {
				src, err := search.ParseSource(strings.ToLower(strings.TrimSpace(s)))
				if err != nil {
					return err
				}
				req.Filters.Sources = append(req.Filters.Sources, src)
			}
			return runSearch(cmd.Context(), app, req)
		},
	}

	cmd.Flags().StringSliceVar(&sources, "source", nil, "Restrict to sources: semantic, graph, table (repeatable)")
	cmd.Flags().StringVar(&module, "module", "", "Only hits from this module")
	cmd.Flags().StringSliceVar(&entityTypes, "entity-type", nil, "Only these entity types (repeatable)")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "Only hits carrying one of these tags (repeatable)")
	cmd.Flags().IntVarP(&maxResults, "max-results", "n", 0, "Maximum hits (default 30, max 100)")
	cmd.Flags().BoolVar(&expand, "expand", false, "Add one-hop graph neighbors of graph hits")
	return cmd
}

func runSearch(ctx context.Context, app *cliApp, req search.Request) error {
	if err := req.Validate(); err != nil {
		return err
	}
	svc, err := app.openService(ctx)
	if err != nil {
		return err
	}
	defer app.closeService(svc)

	resp, err := svc.Reasoner().Search(ctx, req)
	if err != nil {
		return err
	}

	return app.render(resp, func(w *tabwriter.Writer) {
		fmt.Fprintln(w, "SCORE\tSOURCE\tID\tTITLE")
		for _, h := range resp.Hits {
			fmt.Fprintf(w, "%.3f\t%s\t%s\t%s\n", h.Score, h.Source, h.ID, shorten(h.Title, 60))
		}
		searched := make([]string, len(resp.SourcesSearched))
		for i, s := range resp.SourcesSearched {
			searched[i] = string(s)
		}
		app.styles.Footerf(w, "%d hits from %s", resp.TotalHits, joinOrDash(searched))
	})
}

// =============================================================================
// SIMILAR
// =============================================================================

func newSimilarCmd(app *cliApp) *cobra.Command {
	var (
		filters    similarity.Filters
		maxResults int
	)

	cmd := &cobra.Command{
		Use:   "similar TENANT_ID",
		Short: "Rank the tenants most similar to a tenant",
		Long: `Score every other tenant against the given one on sector, country,
scope, climate score band and program participation.

Examples:
  reasoner similar org-aurora
  reasoner similar org-aurora --same-country --min-score 0.5`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimilar(cmd.Context(), app, args[0], filters, maxResults)
		},
	}

	cmd.Flags().BoolVar(&filters.SameSectorOnly, "same-sector", false, "Only tenants in the same sector")
	cmd.Flags().BoolVar(&filters.SameCountryOnly, "same-country", false, "Only tenants in the same country")
	cmd.Flags().Float64Var(&filters.MinScore, "min-score", 0, "Drop candidates scoring below this (0-1)")
	cmd.Flags().StringSliceVar(&filters.ExcludeIDs, "exclude", nil, "Tenant IDs to leave out (repeatable)")
	cmd.Flags().IntVarP(&maxResults, "max-results", "n", similarity.DefaultMaxResults, "Maximum results (max 100)")
	return cmd
}

func runSimilar(ctx context.Context, app *cliApp, tenantID string, filters similarity.Filters, maxResults int) error {
	if filters.MinScore < 0 || filters.MinScore > 1 {
		return fmt.Errorf("%w: --min-score must be in [0, 1]", strategy.ErrInvalidRequest)
	}
	if maxResults < 0 || maxResults > strategy.MaxLimit {
		return fmt.Errorf("%w: --max-results must be in [0, %d]", strategy.ErrInvalidRequest, strategy.MaxLimit)
	}

	svc, err := app.openService(ctx)
	if err != nil {
		return err
	}
	defer app.closeService(svc)

	results, err := svc.Engine().FindSimilar(ctx, tenantID, filters, maxResults)
	if err != nil {
		return err
	}
	if results == nil {
		results = []similarity.Result{}
	}

	resp := reasoner.SimilarResponse{TenantID: tenantID, Results: results, Count: len(results)}
	return app.render(resp, func(w *tabwriter.Writer) {
		fmt.Fprintln(w, "TENANT\tSCORE\tREASONS\tMATCH")
		for _, r := range results {
			fmt.Fprintf(w, "%s\t%.3f\t%s\t%s\n", r.CandidateID, r.Score, joinOrDash(r.Reasons), app.styles.ScoreBar(r.Score, 10))
		}
		app.styles.Footerf(w, "%d similar tenants for %s", resp.Count, tenantID)
	})
}

// =============================================================================
// RECOMMEND
// =============================================================================

func newRecommendCmd(app *cliApp) *cobra.Command {
	var req strategy.Request

	cmd := &cobra.Command{
		Use:   "recommend TENANT_ID",
		Short: "Recommend strategies adopted by similar tenants",
		Long: `Aggregate the missions, energy actions and contribution projects of
the most similar tenants into ranked strategy candidates.

Examples:
  reasoner recommend org-aurora
  reasoner recommend org-aurora --tag heating --max-strategies 5`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.TenantID = args[0]
			return runRecommend(cmd.Context(), app, req)
		},
	}

	cmd.Flags().StringSliceVar(&req.Tags, "tag", nil, "Only strategies matching one of these tags (repeatable)")
	cmd.Flags().IntVar(&req.MaxSimilar, "max-similar", 0, "Peers to learn from (default 20)")
	cmd.Flags().IntVarP(&req.MaxStrategies, "max-strategies", "n", 0, "Maximum strategies (default 10)")
	return cmd
}

func runRecommend(ctx context.Context, app *cliApp, req strategy.Request) error {
	if err := req.Validate(); err != nil {
		return err
	}
	svc, err := app.openService(ctx)
	if err != nil {
		return err
	}
	defer app.closeService(svc)

	candidates, err := svc.Engine().Recommend(ctx, req)
	if err != nil {
		return err
	}
	if candidates == nil {
		candidates = []strategy.Candidate{}
	}

	resp := reasoner.StrategiesResponse{TenantID: req.TenantID, Strategies: candidates, Count: len(candidates)}
	return app.render(resp, func(w *tabwriter.Writer) {
		fmt.Fprintln(w, "SCORE\tACTION\tCATEGORY\tPEERS\tAVG IMPACT")
		for _, c := range candidates {
			fmt.Fprintf(w, "%.3f\t%s\t%s\t%d\t%s\n", c.Score, c.ActionType, c.Category, c.Frequency, formatImpact(c.AvgImpact))
		}
		app.styles.Footerf(w, "%d strategies for %s", resp.Count, req.TenantID)
	})
}
