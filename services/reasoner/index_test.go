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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianClimate/services/reasoner/semantic"
	"github.com/AleutianAI/AleutianClimate/services/reasoner/worldmodel"
)

type captureIndexer struct {
	records []semantic.Record
	err     error
}

func (c *captureIndexer) Index(_ context.Context, records []semantic.Record) (int, error) {
	c.records = records
	if c.err != nil {
		return 0, c.err
	}
	return len(records), nil
}

func TestRecordsFromSnapshot(t *testing.T) {
	cache := worldmodel.NewCache(worldmodel.ManifestBuildFunc(""))
	snap, err := cache.Get(context.Background())
	require.NoError(t, err)

	records := RecordsFromSnapshot(snap)
	require.Len(t, records, snap.NodeCount())

	byID := make(map[string]semantic.Record, len(records))
	for _, r := range records {
		byID[r.ID] = r
	}
	rec, ok := byID["table:organizations"]
	require.True(t, ok)
	assert.Equal(t, "table", rec.Kind)
	assert.Equal(t, "Organizations table", rec.Title)
	assert.Equal(t, "organizations", rec.Module)
	assert.Contains(t, rec.Tags, "tenant")
}

func TestIndexWorldModel(t *testing.T) {
	cache := worldmodel.NewCache(worldmodel.ManifestBuildFunc(""))

	t.Run("indexes every node", func(t *testing.T) {
		ix := &captureIndexer{}
		stored, submitted, err := IndexWorldModel(context.Background(), cache, ix)
		require.NoError(t, err)
		assert.Equal(t, submitted, stored)
		assert.Len(t, ix.records, submitted)
		assert.NotZero(t, submitted)
	})

	t.Run("indexer failure", func(t *testing.T) {
		ix := &captureIndexer{err: errors.New("weaviate down")}
		stored, submitted, err := IndexWorldModel(context.Background(), cache, ix)
		require.Error(t, err)
		assert.Zero(t, stored)
		assert.NotZero(t, submitted)
	})

	t.Run("snapshot failure", func(t *testing.T) {
		_, _, err := IndexWorldModel(context.Background(), failingCache{}, &captureIndexer{})
		assert.ErrorContains(t, err, "load world model")
	})
}
