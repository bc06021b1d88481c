// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package reasoner

import (
	"context"
	"fmt"

	"github.com/AleutianAI/AleutianClimate/services/reasoner/semantic"
	"github.com/AleutianAI/AleutianClimate/services/reasoner/worldmodel"
)

// RecordsFromSnapshot converts every World Model node into a semantic
// record. The record ID is the node ID and the kind is its entity type, so
// semantic hits line up with graph hits and entity type filters.
func RecordsFromSnapshot(snap *worldmodel.Snapshot) []semantic.Record {
	nodes := snap.Nodes()
	records := make([]semantic.Record, 0, len(nodes))
	for _, n := range nodes {
		records = append(records, semantic.Record{
			ID:      n.ID(),
			Kind:    string(n.EntityType),
			Title:   n.Label,
			Content: n.Description,
			Module:  n.Module,
			Tags:    n.Tags,
		})
	}
	return records
}

// RecordIndexer writes records into the vector store.
type RecordIndexer interface {
	Index(ctx context.Context, records []semantic.Record) (int, error)
}

var _ RecordIndexer = (*semantic.Indexer)(nil)

// IndexWorldModel embeds the current snapshot into the vector store.
//
// # Outputs
//
//   - int: Objects stored.
//   - int: Records submitted.
//   - error: Snapshot or indexing failure.
func IndexWorldModel(ctx context.Context, snapshots SnapshotCache, indexer RecordIndexer) (int, int, error) {
	snap, err := snapshots.Get(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("load world model: %w", err)
	}
	records := RecordsFromSnapshot(snap)
	stored, err := indexer.Index(ctx, records)
	if err != nil {
		return 0, len(records), err
	}
	return stored, len(records), nil
}
