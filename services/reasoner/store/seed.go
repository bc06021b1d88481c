// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"fmt"
)

// demoStatements populate a small fleet of tenants for local runs and tests.
//
// org-aurora tracks energy only. org-borealis and org-ember are active peers
// with missions, energy actions and contribution projects. org-cascade only
// has a draft mission, which peer queries ignore.
var demoStatements = []string{
	`INSERT INTO organizations (id, name, description, sector, country, scope, climate_score) VALUES
		('org-aurora',   'Aurora Wind Cooperative', 'Community wind farm operator',   'energy',    'DK', 'organization', 72),
		('org-borealis', 'Borealis Grid',           'Regional grid operator',         'energy',    'DK', 'organization', 78),
		('org-cascade',  'Cascade Foods',           'Plant-based food producer',      'food',      'SE', 'organization', 55),
		('org-delta',    'Delta Logistics',         'Freight and last-mile delivery', 'transport', 'DK', 'team',         NULL),
		('org-ember',    'Ember Heat Services',     'Heat pump installer',            'energy',    'NO', 'organization', 64)`,

	`INSERT INTO missions (id, organization_id, title, description, category, status, impact_kg_co2e) VALUES
		('m-1', 'org-borealis', 'Cut scope 2 emissions 40%', 'Switch substations to certified green power', 'Emissions reduction',  'active',    1200),
		('m-2', 'org-ember',    'Electrify service fleet',   'Replace diesel vans with EVs',                'Fleet electrification', 'completed', 800),
		('m-3', 'org-borealis', 'Supplier engagement',       'Ask top suppliers for emissions data',        'Emissions reduction',  'completed', 400),
		('m-4', 'org-cascade',  'Zero food waste',           'Divert production waste to biogas',           'Waste',                'draft',     NULL),
		('m-5', 'org-ember',    'Reduce office emissions',   'Hybrid work and smart thermostats',           'Emissions reduction',  'active',    NULL)`,

	`INSERT INTO energy_actions (id, organization_id, title, description, category, status, savings_kwh) VALUES
		('e-1', 'org-borealis', 'LED retrofit',        'Replace control room lighting', 'Lighting',   'completed', 15000),
		('e-2', 'org-ember',    'Heat pump rollout',   'Air-to-water heat pumps',       'Heating',    'active',    5000),
		('e-3', 'org-delta',    'Depot solar panels',  'Rooftop solar on the depot',    'Renewables', 'active',    NULL)`,

	`INSERT INTO energy_readings (id, organization_id, kwh, recorded_at) VALUES
		('r-1', 'org-aurora',   5400, '2025-01-31'),
		('r-2', 'org-borealis', 9100, '2025-01-31'),
		('r-3', 'org-ember',    2300, '2025-01-31')`,

	`INSERT INTO contribution_projects (id, organization_id, name, description, category, status, tonnes_co2e) VALUES
		('c-1', 'org-borealis', 'Peatland restoration', 'Rewetting drained peat soils', 'Nature-based removal', 'active',    50),
		('c-2', 'org-ember',    'Clean cookstoves',     'Efficient stoves in Kenya',    'Carbon offset',        'completed', 20)`,
}

// SeedDemo migrates the schema and inserts the demo tenants in one
// transaction. It fails if the rows already exist.
func (s *SQLStore) SeedDemo(ctx context.Context) error {
	if err := s.Migrate(ctx); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("seed demo: %w", err)
	}
	for _, stmt := range demoStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("seed demo: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("seed demo: %w", err)
	}
	return nil
}
