// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extract

import (
	"encoding/binary"
	"encoding/hex"
	"hash/fnv"

	"github.com/AleutianAI/Cartograph/services/kgraph/graph"
)

// aggregator collapses repeated observations of the same
// (from, type, to) edge within one pass. The first observation seeds the
// record; later ones increment the count and take over the metadata only
// when they sit on an earlier source line, so the stored location is the
// first appearance in the file. Flush preserves first-seen order.
type aggregator struct {
	records map[string]*aggRecord
	order   []string
}

type aggRecord struct {
	rel   *graph.Relationship
	count int
}

func newAggregator() *aggregator {
	return &aggregator{records: make(map[string]*aggRecord)}
}

func (a *aggregator) add(rel *graph.Relationship) {
	key := rel.TripleKey()

	existing, ok := a.records[key]
	if !ok {
		a.records[key] = &aggRecord{rel: rel, count: 1}
		a.order = append(a.order, key)
		return
	}

	existing.count++
	if earlierLine(rel.Metadata.Line, existing.rel.Metadata.Line) {
		existing.rel.Metadata = rel.Metadata
	}
}

// earlierLine reports whether candidate is a known line strictly before
// current. Unknown lines (0) never displace a known one.
func earlierLine(candidate, current int) bool {
	if candidate <= 0 {
		return false
	}
	return current <= 0 || candidate < current
}

// flush returns the collapsed edges in first-seen order with
// occurrencesScan attached.
func (a *aggregator) flush() []*graph.Relationship {
	if len(a.order) == 0 {
		return nil
	}
	out := make([]*graph.Relationship, 0, len(a.order))
	for _, key := range a.order {
		rec := a.records[key]
		rec.rel.Metadata.OccurrencesScan = rec.count
		out = append(out, rec.rel)
	}
	return out
}

// dataFlowID hashes (filePath, enclosingSymbolID, variableName) into a
// short stable key so reads and writes of the same logical variable can
// be grouped without full dataflow analysis.
func dataFlowID(filePath, enclosingID, variableName string) string {
	h := fnv.New64a()
	h.Write([]byte(filePath))
	h.Write([]byte{0})
	h.Write([]byte(enclosingID))
	h.Write([]byte{0})
	h.Write([]byte(variableName))

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], h.Sum64())
	return hex.EncodeToString(buf[:])
}
