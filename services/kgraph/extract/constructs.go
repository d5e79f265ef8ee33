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
	"github.com/AleutianAI/Cartograph/services/kgraph/graph"
)

// extractIdentifiers emits one REFERENCES candidate per free identifier
// use. Call callees and import/export specifiers are covered by other
// fact kinds and skipped here.
func (p *pass) extractIdentifiers() {
	for _, use := range p.in.Identifiers {
		if use.Name == "" || use.IsCallee || use.IsSpecifier {
			continue
		}

		rc := &resolveContext{
			pass: p,
			name: use.Name,
			line: use.Location.StartLine,
		}
		res := runLadder(identifierLadder, rc)
		if res == nil {
			continue
		}

		from := p.sourceID(use.EnclosingSymbolID)
		p.addRel(from, res.toID, graph.RelationReferences, use.Location, res.toOpts(edgeOpts{
			enclosingID: use.EnclosingSymbolID,
		}))
	}
}

// extractInstantiations emits one USES candidate per constructor call.
func (p *pass) extractInstantiations() {
	for _, inst := range p.in.Instantiations {
		if inst.TypeName == "" {
			continue
		}

		rc := &resolveContext{
			pass:   p,
			name:   inst.TypeName,
			object: inst.NamespaceAlias,
			line:   inst.Location.StartLine,
		}
		res := runLadder(instantiationLadder, rc)
		if res == nil {
			continue
		}

		from := p.sourceID(inst.EnclosingSymbolID)
		p.addRel(from, res.toID, graph.RelationUses, inst.Location, res.toOpts(edgeOpts{
			kind:        "instantiation",
			enclosingID: inst.EnclosingSymbolID,
		}))
	}
}

// extractAssignments emits WRITES for every left-hand-side binding and
// READS for every right-hand-side value reference. The parser has
// already expanded destructuring patterns into one target per bound
// name. Reads are deduplicated per (property, access path) within one
// assignment so repeated sub-expressions do not fan out.
func (p *pass) extractAssignments() {
	for _, a := range p.in.Assignments {
		if a.Operator == "" || len(a.Targets) == 0 {
			continue
		}

		from := p.sourceID(a.EnclosingSymbolID)

		for _, t := range a.Targets {
			if t.Name == "" {
				continue
			}

			var res *resolution
			variable := t.Name
			if t.IsProperty() {
				variable = t.AccessPath
				if variable == "" {
					variable = t.Name + "." + t.Property
				}
				res = runLadder(propertyLadder, &resolveContext{
					pass:       p,
					name:       t.Property,
					object:     t.Name,
					accessPath: t.AccessPath,
					line:       t.Location.StartLine,
				})
			} else {
				res = runLadder(identifierLadder, &resolveContext{
					pass: p,
					name: t.Name,
					line: t.Location.StartLine,
				})
			}
			if res == nil {
				continue
			}

			p.addRel(from, res.toID, graph.RelationWrites, t.Location, res.toOpts(edgeOpts{
				operator:     a.Operator,
				accessPath:   t.AccessPath,
				variableName: variable,
				enclosingID:  a.EnclosingSymbolID,
			}))
		}

		seenReads := make(map[string]struct{})
		for _, r := range a.Reads {
			if r.Name == "" {
				continue
			}

			pathText := r.AccessPath
			if pathText == "" {
				pathText = r.Name
			}
			readKey := r.Property + "\x00" + pathText
			if _, dup := seenReads[readKey]; dup {
				continue
			}
			seenReads[readKey] = struct{}{}

			var res *resolution
			variable := r.Name
			if r.IsProperty() {
				variable = pathText
				res = runLadder(propertyLadder, &resolveContext{
					pass:       p,
					name:       r.Property,
					object:     r.Name,
					accessPath: r.AccessPath,
					line:       r.Location.StartLine,
				})
			} else {
				res = runLadder(readIdentifierLadder, &resolveContext{
					pass: p,
					name: r.Name,
					line: r.Location.StartLine,
				})
			}
			if res == nil {
				continue
			}

			p.addRel(from, res.toID, graph.RelationReads, r.Location, res.toOpts(edgeOpts{
				accessPath:   r.AccessPath,
				variableName: variable,
				enclosingID:  a.EnclosingSymbolID,
			}))
		}
	}
}
