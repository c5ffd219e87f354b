package graph

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/huytu0702/graphtog/internal/status"
)

// MemStore is an in-memory Store. It backs unit tests and the community
// detector's snapshot projection, and mirrors the Dgraph implementation's
// semantics exactly (take-max confidence, unique (name, type), detached
// deletes).
type MemStore struct {
	mu sync.RWMutex

	docs      map[string]*Document
	textUnits map[string]*TextUnit
	docUnits  map[string][]string // docID -> textUnit ids, insertion order

	entities map[string]*Entity
	nameIdx  map[string]string // normalized name|TYPE -> entity id

	relations map[string]*Relation            // source|TYPE|target
	outRel    map[string]map[string]struct{}  // entityID -> relation keys
	inRel     map[string]map[string]struct{}  // entityID -> relation keys
	mentions  map[string]map[string]struct{}  // entityID -> textUnit ids
	mentioned map[string]map[string]struct{}  // textUnitID -> entity ids

	communities map[int]*Community
	membership  map[int]map[string]int // level -> entityID -> communityID

	logger *zap.Logger
}

// NewMemStore creates an empty in-memory store.
func NewMemStore(logger *zap.Logger) *MemStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemStore{
		docs:        make(map[string]*Document),
		textUnits:   make(map[string]*TextUnit),
		docUnits:    make(map[string][]string),
		entities:    make(map[string]*Entity),
		nameIdx:     make(map[string]string),
		relations:   make(map[string]*Relation),
		outRel:      make(map[string]map[string]struct{}),
		inRel:       make(map[string]map[string]struct{}),
		mentions:    make(map[string]map[string]struct{}),
		mentioned:   make(map[string]map[string]struct{}),
		communities: make(map[int]*Community),
		membership:  make(map[int]map[string]int),
		logger:      logger.Named("memstore"),
	}
}

func nameKey(name, entityType string) string {
	return NormalizeName(name) + "|" + NormalizeType(entityType)
}

func relKey(sourceID, relType, targetID string) string {
	return sourceID + "|" + strings.ToUpper(relType) + "|" + targetID
}

// UpsertDocument inserts or refreshes a document, bumping the version when
// the content hash changed.
func (s *MemStore) UpsertDocument(ctx context.Context, id, name, path, contentHash string) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if doc, ok := s.docs[id]; ok {
		if doc.ContentHash != contentHash {
			doc.Version++
			doc.ContentHash = contentHash
		}
		doc.Name = name
		doc.FilePath = path
		doc.Status = DocPending
		doc.LastProcessedAt = now
		cp := *doc
		return &cp, nil
	}

	doc := &Document{
		ID:              id,
		Name:            name,
		FilePath:        path,
		ContentHash:     contentHash,
		Version:         1,
		Status:          DocPending,
		LastProcessedAt: now,
	}
	s.docs[id] = doc
	cp := *doc
	return &cp, nil
}

func (s *MemStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[id]
	if !ok {
		return nil, status.Ef(status.KindNotFound, "document %s not found", id)
	}
	cp := *doc
	return &cp, nil
}

func (s *MemStore) SetDocumentStatus(ctx context.Context, id string, st DocumentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[id]
	if !ok {
		return status.Ef(status.KindNotFound, "document %s not found", id)
	}
	doc.Status = st
	doc.LastProcessedAt = time.Now().UTC()
	return nil
}

func (s *MemStore) CreateTextUnit(ctx context.Context, id, docID, text string, startChar, endChar int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.textUnits[id]; ok {
		return status.Ef(status.KindGraphConstraint, "text unit %s already exists", id)
	}
	if _, ok := s.docs[docID]; !ok {
		return status.Ef(status.KindNotFound, "document %s not found", docID)
	}
	s.textUnits[id] = &TextUnit{
		ID:         id,
		DocumentID: docID,
		Text:       text,
		StartChar:  startChar,
		EndChar:    endChar,
		CreatedAt:  time.Now().UTC(),
	}
	s.docUnits[docID] = append(s.docUnits[docID], id)
	return nil
}

func (s *MemStore) TextUnitsFor(ctx context.Context, entityID string, limit int) ([]TextUnit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.mentions[entityID]))
	for id := range s.mentions[entityID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	units := make([]TextUnit, 0, len(ids))
	for _, id := range ids {
		if tu, ok := s.textUnits[id]; ok {
			units = append(units, *tu)
			if limit > 0 && len(units) >= limit {
				break
			}
		}
	}
	return units, nil
}

// UpsertEntity creates the entity on first observation; re-observation takes
// the max confidence, increments the mention count, and keeps the longer
// description.
func (s *MemStore) UpsertEntity(ctx context.Context, name, entityType, description string, confidence float64) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", status.E(status.KindInvalidInput, "entity name is empty")
	}
	if confidence < 0 || confidence > 1 {
		return "", status.Ef(status.KindInvalidInput, "confidence %g out of [0, 1]", confidence)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	key := nameKey(name, entityType)
	if id, ok := s.nameIdx[key]; ok {
		ent := s.entities[id]
		if confidence > ent.Confidence {
			ent.Confidence = confidence
		}
		ent.MentionCount++
		if len(description) > len(ent.Description) {
			ent.Description = description
		}
		ent.UpdatedAt = now
		return id, nil
	}

	id := Fingerprint(name, entityType)
	s.entities[id] = &Entity{
		ID:           id,
		Name:         strings.TrimSpace(name),
		Type:         NormalizeType(entityType),
		Description:  description,
		Confidence:   confidence,
		MentionCount: 1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.nameIdx[key] = id
	return id, nil
}

func (s *MemStore) GetEntity(ctx context.Context, id string) (*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ent, ok := s.entities[id]
	if !ok {
		return nil, status.Ef(status.KindNotFound, "entity %s not found", id)
	}
	cp := cloneEntity(ent)
	return &cp, nil
}

// FindEntityByName matches by exact normalized name (and type when given),
// falling back to alias lookup.
func (s *MemStore) FindEntityByName(ctx context.Context, name, entityType string) (*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if entityType != "" {
		if id, ok := s.nameIdx[nameKey(name, entityType)]; ok {
			cp := cloneEntity(s.entities[id])
			return &cp, nil
		}
	} else {
		norm := NormalizeName(name)
		for key, id := range s.nameIdx {
			if strings.HasPrefix(key, norm+"|") {
				cp := cloneEntity(s.entities[id])
				return &cp, nil
			}
		}
	}

	// Alias fallback: merged names stay queryable.
	norm := NormalizeName(name)
	for _, ent := range s.entities {
		for _, alias := range ent.Aliases {
			if NormalizeName(alias) == norm && (entityType == "" || ent.Type == NormalizeType(entityType)) {
				cp := cloneEntity(ent)
				return &cp, nil
			}
		}
	}
	return nil, nil
}

func (s *MemStore) TopEntities(ctx context.Context, limit int, documentID string) ([]Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entity, 0, len(s.entities))
	for _, ent := range s.entities {
		if documentID != "" && !s.entityInDocLocked(ent.ID, documentID) {
			continue
		}
		out = append(out, cloneEntity(ent))
	}
	sortEntities(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemStore) EntitiesByType(ctx context.Context, entityType string) ([]Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := NormalizeType(entityType)
	out := make([]Entity, 0)
	for _, ent := range s.entities {
		if entityType == "" || ent.Type == want {
			out = append(out, cloneEntity(ent))
		}
	}
	sortEntities(out)
	return out, nil
}

func (s *MemStore) EntityNames(ctx context.Context, documentIDs []string, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ents := make([]Entity, 0, len(s.entities))
	for _, ent := range s.entities {
		if len(documentIDs) > 0 && !s.entityInAnyDocLocked(ent.ID, documentIDs) {
			continue
		}
		ents = append(ents, cloneEntity(ent))
	}
	sortEntities(ents)

	names := make([]string, 0, len(ents))
	for _, e := range ents {
		names = append(names, e.Name)
		if limit > 0 && len(names) >= limit {
			break
		}
	}
	return names, nil
}

func (s *MemStore) LinkMention(ctx context.Context, entityID, textUnitID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entities[entityID]; !ok {
		return status.Ef(status.KindNotFound, "entity %s not found", entityID)
	}
	if _, ok := s.textUnits[textUnitID]; !ok {
		return status.Ef(status.KindNotFound, "text unit %s not found", textUnitID)
	}
	if s.mentions[entityID] == nil {
		s.mentions[entityID] = make(map[string]struct{})
	}
	if s.mentioned[textUnitID] == nil {
		s.mentioned[textUnitID] = make(map[string]struct{})
	}
	s.mentions[entityID][textUnitID] = struct{}{}
	s.mentioned[textUnitID][entityID] = struct{}{}
	return nil
}

func (s *MemStore) Mentions(ctx context.Context, entityID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.mentions[entityID]))
	for id := range s.mentions[entityID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemStore) AddAliases(ctx context.Context, id string, aliases []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.entities[id]
	if !ok {
		return status.Ef(status.KindNotFound, "entity %s not found", id)
	}
	seen := make(map[string]struct{}, len(ent.Aliases))
	for _, a := range ent.Aliases {
		seen[NormalizeName(a)] = struct{}{}
	}
	seen[NormalizeName(ent.Name)] = struct{}{}
	for _, a := range aliases {
		if a == "" {
			continue
		}
		if _, dup := seen[NormalizeName(a)]; dup {
			continue
		}
		ent.Aliases = append(ent.Aliases, a)
		seen[NormalizeName(a)] = struct{}{}
	}
	ent.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemStore) AddMentionCount(ctx context.Context, id string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.entities[id]
	if !ok {
		return status.Ef(status.KindNotFound, "entity %s not found", id)
	}
	ent.MentionCount += delta
	if ent.MentionCount < 0 {
		ent.MentionCount = 0
	}
	ent.UpdatedAt = time.Now().UTC()
	return nil
}

// RaiseConfidence lifts the entity's confidence to the given value when it is
// higher; confidence never decreases.
func (s *MemStore) RaiseConfidence(ctx context.Context, id string, confidence float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.entities[id]
	if !ok {
		return status.Ef(status.KindNotFound, "entity %s not found", id)
	}
	if confidence > ent.Confidence {
		ent.Confidence = confidence
		ent.UpdatedAt = time.Now().UTC()
	}
	return nil
}

// RenameEntity changes the primary name, failing with GRAPH_CONSTRAINT when
// another entity of the same type already owns the name.
func (s *MemStore) RenameEntity(ctx context.Context, id, newName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.entities[id]
	if !ok {
		return status.Ef(status.KindNotFound, "entity %s not found", id)
	}
	newKey := nameKey(newName, ent.Type)
	if other, exists := s.nameIdx[newKey]; exists && other != id {
		return status.Ef(status.KindGraphConstraint, "entity (%s, %s) already exists", newName, ent.Type)
	}
	delete(s.nameIdx, nameKey(ent.Name, ent.Type))
	ent.Name = strings.TrimSpace(newName)
	ent.UpdatedAt = time.Now().UTC()
	s.nameIdx[newKey] = id
	return nil
}

// DeleteEntity removes the entity with all incident relations and mention
// edges (detach delete).
func (s *MemStore) DeleteEntity(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteEntityLocked(id)
	return nil
}

func (s *MemStore) deleteEntityLocked(id string) {
	ent, ok := s.entities[id]
	if !ok {
		return
	}
	for key := range s.outRel[id] {
		rel := s.relations[key]
		if rel != nil {
			delete(s.inRel[rel.TargetID], key)
		}
		delete(s.relations, key)
	}
	for key := range s.inRel[id] {
		rel := s.relations[key]
		if rel != nil {
			delete(s.outRel[rel.SourceID], key)
		}
		delete(s.relations, key)
	}
	delete(s.outRel, id)
	delete(s.inRel, id)
	for tu := range s.mentions[id] {
		delete(s.mentioned[tu], id)
	}
	delete(s.mentions, id)
	for _, byEntity := range s.membership {
		delete(byEntity, id)
	}
	delete(s.nameIdx, nameKey(ent.Name, ent.Type))
	delete(s.entities, id)
}

func (s *MemStore) UpsertRelation(ctx context.Context, sourceID, targetID, relType, description string, confidence float64, strength int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entities[sourceID]; !ok {
		return status.Ef(status.KindNotFound, "relation source %s not found", sourceID)
	}
	if _, ok := s.entities[targetID]; !ok {
		return status.Ef(status.KindNotFound, "relation target %s not found", targetID)
	}
	relType = strings.ToUpper(strings.TrimSpace(relType))
	if relType == "" {
		return status.E(status.KindInvalidInput, "relation type is empty")
	}

	key := relKey(sourceID, relType, targetID)
	if rel, ok := s.relations[key]; ok {
		if confidence > rel.Confidence {
			rel.Confidence = confidence
		}
		if len(description) > len(rel.Description) {
			rel.Description = description
		}
		if strength > rel.Strength {
			rel.Strength = strength
		}
		return nil
	}

	s.relations[key] = &Relation{
		SourceID:    sourceID,
		TargetID:    targetID,
		Type:        relType,
		Description: description,
		Confidence:  confidence,
		Strength:    strength,
	}
	if s.outRel[sourceID] == nil {
		s.outRel[sourceID] = make(map[string]struct{})
	}
	if s.inRel[targetID] == nil {
		s.inRel[targetID] = make(map[string]struct{})
	}
	s.outRel[sourceID][key] = struct{}{}
	s.inRel[targetID][key] = struct{}{}
	return nil
}

func (s *MemStore) OutgoingRelations(ctx context.Context, entityID string) ([]Relation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectRelationsLocked(s.outRel[entityID]), nil
}

func (s *MemStore) IncomingRelations(ctx context.Context, entityID string) ([]Relation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectRelationsLocked(s.inRel[entityID]), nil
}

func (s *MemStore) collectRelationsLocked(keys map[string]struct{}) []Relation {
	out := make([]Relation, 0, len(keys))
	for key := range keys {
		if rel, ok := s.relations[key]; ok {
			out = append(out, *rel)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		if out[i].SourceID != out[j].SourceID {
			return out[i].SourceID < out[j].SourceID
		}
		return out[i].TargetID < out[j].TargetID
	})
	return out
}

// RelationTypes returns the distinct relation types incident on the given
// entities above the confidence floor, deduplicated by type.
func (s *MemStore) RelationTypes(ctx context.Context, entityIDs []string, minConfidence float64, documentIDs []string) ([]RelationOccurrence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byType := make(map[string]RelationOccurrence)
	for _, id := range entityIDs {
		ent, ok := s.entities[id]
		if !ok {
			continue
		}
		for _, keys := range []map[string]struct{}{s.outRel[id], s.inRel[id]} {
			for key := range keys {
				rel := s.relations[key]
				if rel == nil || rel.Confidence <= minConfidence {
					continue
				}
				if len(documentIDs) > 0 && !s.relationInAnyDocLocked(rel, documentIDs) {
					continue
				}
				occ, seen := byType[rel.Type]
				if !seen || rel.Confidence > occ.MaxConfidence {
					byType[rel.Type] = RelationOccurrence{
						Type:          rel.Type,
						SourceID:      id,
						SourceName:    ent.Name,
						MaxConfidence: rel.Confidence,
					}
				}
			}
		}
	}

	out := make([]RelationOccurrence, 0, len(byType))
	for _, occ := range byType {
		out = append(out, occ)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MaxConfidence != out[j].MaxConfidence {
			return out[i].MaxConfidence > out[j].MaxConfidence
		}
		return out[i].Type < out[j].Type
	})
	return out, nil
}

// CandidateTargets returns entities reachable from sourceID over relType in
// either direction, ordered by relation confidence then mention count.
func (s *MemStore) CandidateTargets(ctx context.Context, sourceID, relType string, documentIDs []string, limit int) ([]CandidateTarget, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	relType = strings.ToUpper(relType)
	seen := make(map[string]struct{})
	out := make([]CandidateTarget, 0)

	add := func(id string, confidence float64) {
		if _, dup := seen[id]; dup {
			return
		}
		ent, ok := s.entities[id]
		if !ok {
			return
		}
		if len(documentIDs) > 0 && !s.entityInAnyDocLocked(id, documentIDs) {
			return
		}
		seen[id] = struct{}{}
		out = append(out, CandidateTarget{Entity: cloneEntity(ent), Confidence: confidence})
	}

	for key := range s.outRel[sourceID] {
		if rel := s.relations[key]; rel != nil && rel.Type == relType {
			add(rel.TargetID, rel.Confidence)
		}
	}
	for key := range s.inRel[sourceID] {
		if rel := s.relations[key]; rel != nil && rel.Type == relType {
			add(rel.SourceID, rel.Confidence)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		if out[i].Entity.MentionCount != out[j].Entity.MentionCount {
			return out[i].Entity.MentionCount > out[j].Entity.MentionCount
		}
		return out[i].Entity.Name < out[j].Entity.Name
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// EntityContext walks the semantic relation graph out to hopLimit hops.
// Community membership and document containment are not traversed.
func (s *MemStore) EntityContext(ctx context.Context, entityID string, hopLimit int, includeText bool) (*EntityContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seed, ok := s.entities[entityID]
	if !ok {
		return nil, status.Ef(status.KindNotFound, "entity %s not found", entityID)
	}
	if hopLimit <= 0 {
		hopLimit = 1
	}

	type frontierItem struct {
		id      string
		via     string
		hops    int
	}
	visited := map[string]struct{}{entityID: {}}
	queue := []frontierItem{{id: entityID, hops: 0}}
	related := make([]RelatedEntity, 0)

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.hops >= hopLimit {
			continue
		}

		neighbors := make([]frontierItem, 0)
		for key := range s.outRel[cur.id] {
			if rel := s.relations[key]; rel != nil {
				neighbors = append(neighbors, frontierItem{id: rel.TargetID, via: rel.Type, hops: cur.hops + 1})
			}
		}
		for key := range s.inRel[cur.id] {
			if rel := s.relations[key]; rel != nil {
				neighbors = append(neighbors, frontierItem{id: rel.SourceID, via: rel.Type, hops: cur.hops + 1})
			}
		}
		sort.Slice(neighbors, func(i, j int) bool { return neighbors[i].id < neighbors[j].id })

		for _, nb := range neighbors {
			if _, dup := visited[nb.id]; dup {
				continue
			}
			visited[nb.id] = struct{}{}
			if ent, ok := s.entities[nb.id]; ok {
				related = append(related, RelatedEntity{
					Entity:       cloneEntity(ent),
					RelationType: nb.via,
					Distance:     nb.hops,
				})
			}
			queue = append(queue, nb)
		}
	}

	ec := &EntityContext{
		Entity:          cloneEntity(seed),
		RelatedEntities: related,
	}
	if includeText {
		units, _ := s.textUnitsForLocked(entityID, 10)
		ec.TextUnits = units
	}
	return ec, nil
}

func (s *MemStore) textUnitsForLocked(entityID string, limit int) ([]TextUnit, error) {
	ids := make([]string, 0, len(s.mentions[entityID]))
	for id := range s.mentions[entityID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	units := make([]TextUnit, 0, len(ids))
	for _, id := range ids {
		if tu, ok := s.textUnits[id]; ok {
			units = append(units, *tu)
			if limit > 0 && len(units) >= limit {
				break
			}
		}
	}
	return units, nil
}

// DeleteDocumentSubgraph removes the document, its text units, entities left
// with no mentions, and their incident relations.
func (s *MemStore) DeleteDocumentSubgraph(ctx context.Context, docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[docID]; !ok {
		return status.Ef(status.KindNotFound, "document %s not found", docID)
	}

	for _, tuID := range s.docUnits[docID] {
		for entID := range s.mentioned[tuID] {
			delete(s.mentions[entID], tuID)
			if ent, ok := s.entities[entID]; ok {
				ent.MentionCount--
				if ent.MentionCount <= 0 {
					s.deleteEntityLocked(entID)
				}
			}
		}
		delete(s.mentioned, tuID)
		delete(s.textUnits, tuID)
	}
	delete(s.docUnits, docID)
	delete(s.docs, docID)
	return nil
}

// ReplaceCommunities swaps the membership at one hierarchy level. Community
// ids are caller-assigned; ids reused across calls keep their records.
func (s *MemStore) ReplaceCommunities(ctx context.Context, level int, membership map[string]int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Drop records for communities vanishing from this level.
	sizes := make(map[int]int)
	for _, cid := range membership {
		sizes[cid]++
	}
	for cid, c := range s.communities {
		if c.Level != level {
			continue
		}
		if _, still := sizes[cid]; !still {
			delete(s.communities, cid)
		}
	}

	for cid, size := range sizes {
		if c, ok := s.communities[cid]; ok {
			c.Size = size
			c.Level = level
		} else {
			s.communities[cid] = &Community{ID: cid, Level: level, Size: size}
		}
	}

	byEntity := make(map[string]int, len(membership))
	for entID, cid := range membership {
		if _, ok := s.entities[entID]; ok {
			byEntity[entID] = cid
		}
	}
	s.membership[level] = byEntity
	return nil
}

func (s *MemStore) Communities(ctx context.Context, level int) ([]Community, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Community, 0)
	for _, c := range s.communities {
		if level < 0 || c.Level == level {
			out = append(out, cloneCommunity(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemStore) CommunityOf(ctx context.Context, entityID string, level int) (*Community, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byEntity, ok := s.membership[level]
	if !ok {
		return nil, status.Ef(status.KindNotFound, "no communities at level %d", level)
	}
	cid, ok := byEntity[entityID]
	if !ok {
		return nil, status.Ef(status.KindNotFound, "entity %s has no community at level %d", entityID, level)
	}
	c := s.communities[cid]
	if c == nil {
		return nil, status.Ef(status.KindNotFound, "community %d not found", cid)
	}
	cp := cloneCommunity(c)
	return &cp, nil
}

func (s *MemStore) CommunityMembers(ctx context.Context, communityID int, limit int) ([]Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.communities[communityID]
	if !ok {
		return nil, status.Ef(status.KindNotFound, "community %d not found", communityID)
	}
	out := make([]Entity, 0, c.Size)
	for entID, cid := range s.membership[c.Level] {
		if cid != communityID {
			continue
		}
		if ent, ok := s.entities[entID]; ok {
			out = append(out, cloneEntity(ent))
		}
	}
	sortEntities(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemStore) SetCommunitySummary(ctx context.Context, communityID int, summary string, themes []string, significance string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.communities[communityID]
	if !ok {
		return status.Ef(status.KindNotFound, "community %d not found", communityID)
	}
	c.Summary = summary
	c.Themes = append([]string(nil), themes...)
	c.Significance = significance
	c.SummaryTimestamp = time.Now().UTC()
	return nil
}

func (s *MemStore) InvalidateCommunitySummary(ctx context.Context, communityID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.communities[communityID]; ok {
		c.Summary = ""
		c.Themes = nil
		c.Significance = ""
		c.SummaryTimestamp = time.Time{}
	}
	return nil
}

func (s *MemStore) ListAffectedCommunities(ctx context.Context, docID string) (*Affected, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entSet := make(map[string]struct{})
	for _, tuID := range s.docUnits[docID] {
		for entID := range s.mentioned[tuID] {
			entSet[entID] = struct{}{}
		}
	}

	commSet := make(map[int]struct{})
	for entID := range entSet {
		for _, byEntity := range s.membership {
			if cid, ok := byEntity[entID]; ok {
				commSet[cid] = struct{}{}
			}
		}
	}

	affected := &Affected{}
	for id := range entSet {
		affected.EntityIDs = append(affected.EntityIDs, id)
	}
	sort.Strings(affected.EntityIDs)
	for cid := range commSet {
		affected.CommunityIDs = append(affected.CommunityIDs, cid)
	}
	sort.Ints(affected.CommunityIDs)
	return affected, nil
}

func (s *MemStore) GraphStatistics(ctx context.Context) (*Statistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return &Statistics{
		Documents: len(s.docs),
		TextUnits: len(s.textUnits),
		Entities:  len(s.entities),
		Relations: len(s.relations),
	}, nil
}

func (s *MemStore) entityInDocLocked(entityID, docID string) bool {
	for tuID := range s.mentions[entityID] {
		if tu, ok := s.textUnits[tuID]; ok && tu.DocumentID == docID {
			return true
		}
	}
	return false
}

func (s *MemStore) entityInAnyDocLocked(entityID string, docIDs []string) bool {
	for _, docID := range docIDs {
		if s.entityInDocLocked(entityID, docID) {
			return true
		}
	}
	return false
}

func (s *MemStore) relationInAnyDocLocked(rel *Relation, docIDs []string) bool {
	return s.entityInAnyDocLocked(rel.SourceID, docIDs) && s.entityInAnyDocLocked(rel.TargetID, docIDs)
}

func cloneEntity(e *Entity) Entity {
	cp := *e
	cp.Aliases = append([]string(nil), e.Aliases...)
	return cp
}

func cloneCommunity(c *Community) Community {
	cp := *c
	cp.Themes = append([]string(nil), c.Themes...)
	return cp
}

func sortEntities(ents []Entity) {
	sort.Slice(ents, func(i, j int) bool {
		if ents[i].MentionCount != ents[j].MentionCount {
			return ents[i].MentionCount > ents[j].MentionCount
		}
		if ents[i].Confidence != ents[j].Confidence {
			return ents[i].Confidence > ents[j].Confidence
		}
		return ents[i].Name < ents[j].Name
	})
}
