// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store is the relational query collaborator of the reasoner.
//
// # Description
//
// The reasoner never writes business data. It needs three read paths:
//
//   - Keyword search over a small fixed set of business-record tables
//   - Tenant profile lookup (one tenant, or the candidate pool)
//   - Peer activity rows (missions, energy actions, contribution projects)
//
// The interfaces below describe those paths. SQLStore implements them over
// database/sql with the pure-Go SQLite driver; any other database/sql
// backend with LIKE and LOWER works with the same queries.
//
// # Thread Safety
//
// SQLStore is safe for concurrent use; *sql.DB pools its connections.
package store

import (
	"context"
	"errors"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrUnknownTable is returned when a search names a table outside SearchTables.
	ErrUnknownTable = errors.New("unknown searchable table")

	// ErrUnknownActivity is returned for an ActivityKind with no backing table.
	ErrUnknownActivity = errors.New("unknown activity kind")
)

// =============================================================================
// Searchable Tables
// =============================================================================

// SearchTable describes one business-record table the keyword source scans.
type SearchTable struct {
	// Name is the SQL table name and the hit metadata "table" value.
	Name string

	// TitleColumn becomes the row title.
	TitleColumn string

	// SnippetColumn becomes the row snippet.
	SnippetColumn string

	// OwnerColumn identifies the owning organization.
	OwnerColumn string

	// TextColumns are matched case-insensitively.
	TextColumns []string
}

// Table names scanned by the keyword source.
const (
	TableOrganizations = "organizations"
	TableMissions      = "missions"
	TableEnergyActions = "energy_actions"
)

// SearchTables is the fixed set of tables the keyword source scans, in
// emission order.
var SearchTables = []SearchTable{
	{
		Name:          TableOrganizations,
		TitleColumn:   "name",
		SnippetColumn: "description",
		OwnerColumn:   "id",
		TextColumns:   []string{"name", "description", "sector"},
	},
	{
		Name:          TableMissions,
		TitleColumn:   "title",
		SnippetColumn: "description",
		OwnerColumn:   "organization_id",
		TextColumns:   []string{"title", "description", "category"},
	},
	{
		Name:          TableEnergyActions,
		TitleColumn:   "title",
		SnippetColumn: "description",
		OwnerColumn:   "organization_id",
		TextColumns:   []string{"title", "description", "category"},
	},
}

// LookupSearchTable returns the SearchTable with the given name.
func LookupSearchTable(name string) (SearchTable, bool) {
	for _, t := range SearchTables {
		if t.Name == name {
			return t, true
		}
	}
	return SearchTable{}, false
}

// Row is one keyword match from a business-record table.
type Row struct {
	Table          string `json:"table"`
	ID             string `json:"id"`
	Title          string `json:"title"`
	Snippet        string `json:"snippet"`
	OrganizationID string `json:"organization_id,omitempty"`
}

// =============================================================================
// Tenants
// =============================================================================

// TenantRecord is a tenant row plus the presence counts the similarity
// engine derives its boolean features from.
//
// Empty strings and a nil ClimateScore mean the value is missing.
type TenantRecord struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Sector       string   `json:"sector,omitempty"`
	Country      string   `json:"country,omitempty"`
	Scope        string   `json:"scope,omitempty"`
	ClimateScore *float64 `json:"climate_score,omitempty"`

	EnergyReadingCount       int `json:"energy_reading_count"`
	MissionCount             int `json:"mission_count"`
	ContributionProjectCount int `json:"contribution_project_count"`
}

// =============================================================================
// Peer Activities
// =============================================================================

// ActivityKind names a peer-behavior category.
type ActivityKind string

const (
	ActivityMissions             ActivityKind = "mission"
	ActivityEnergyActions        ActivityKind = "energy_action"
	ActivityContributionProjects ActivityKind = "contribution_project"
)

// ActivityKinds lists every kind in the order recommendations evaluate them.
var ActivityKinds = []ActivityKind{ActivityMissions, ActivityEnergyActions, ActivityContributionProjects}

type activitySource struct {
	table        string
	impactColumn string
}

var activitySources = map[ActivityKind]activitySource{
	ActivityMissions:             {table: "missions", impactColumn: "impact_kg_co2e"},
	ActivityEnergyActions:        {table: "energy_actions", impactColumn: "savings_kwh"},
	ActivityContributionProjects: {table: "contribution_projects", impactColumn: "tonnes_co2e"},
}

// Activity is one active or completed peer record.
type Activity struct {
	TenantID string   `json:"tenant_id"`
	Category string   `json:"category"`
	Status   string   `json:"status"`
	Impact   *float64 `json:"impact,omitempty"`
}

// =============================================================================
// Interfaces
// =============================================================================

// RecordSearcher runs case-insensitive substring search over one table.
type RecordSearcher interface {
	SearchRecords(ctx context.Context, table string, query string, limit int) ([]Row, error)
}

// TenantReader looks up tenant profiles.
type TenantReader interface {
	// GetTenant returns nil and no error when the tenant does not exist.
	GetTenant(ctx context.Context, tenantID string) (*TenantRecord, error)

	// ListTenants returns up to limit tenants ordered by id.
	ListTenants(ctx context.Context, limit int) ([]TenantRecord, error)
}

// ActivityReader returns active and completed peer activity rows.
type ActivityReader interface {
	PeerActivities(ctx context.Context, kind ActivityKind, tenantIDs []string) ([]Activity, error)
}

// Store is the full read surface the reasoner consumes.
type Store interface {
	RecordSearcher
	TenantReader
	ActivityReader
}
