package graph

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/dgo/v240"
	"github.com/dgraph-io/dgo/v240/protos/api"
	"go.uber.org/zap"

	"github.com/huytu0702/graphtog/internal/jsonx"
	"github.com/huytu0702/graphtog/internal/status"
)

// Wire structs for DQL responses.
type dEntity struct {
	UID          string    `json:"uid,omitempty"`
	Key          string    `json:"entity_key,omitempty"`
	Name         string    `json:"entity_name,omitempty"`
	Type         string    `json:"entity_type,omitempty"`
	Description  string    `json:"description,omitempty"`
	Confidence   float64   `json:"confidence,omitempty"`
	MentionCount int       `json:"mention_count,omitempty"`
	Aliases      []string  `json:"aliases,omitempty"`
	CreatedAt    time.Time `json:"created_at,omitzero"`
	UpdatedAt    time.Time `json:"updated_at,omitzero"`
	DType        []string  `json:"dgraph.type,omitempty"`
}

func (d *dEntity) toEntity() Entity {
	return Entity{
		ID:           d.Key,
		Name:         d.Name,
		Type:         d.Type,
		Description:  d.Description,
		Confidence:   d.Confidence,
		MentionCount: d.MentionCount,
		Aliases:      d.Aliases,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

const entityFields = `
	uid
	entity_key
	entity_name
	entity_type
	description
	confidence
	mention_count
	aliases
	created_at
	updated_at
`

// withTxn runs fn in a read-write transaction, retrying aborted commits.
// Dgraph aborts a transaction when a concurrent writer touched the same
// @upsert key; per the convergence policy that is retried, not surfaced.
func (s *DgraphStore) withTxn(ctx context.Context, fn func(txn *dgo.Txn) error) error {
	const attempts = 3
	var err error
	for i := 0; i < attempts; i++ {
		txn := s.dg.NewTxn()
		err = fn(txn)
		if err == nil {
			err = txn.Commit(ctx)
		}
		_ = txn.Discard(ctx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, dgo.ErrAborted) {
			return err
		}
		s.logger.Debug("transaction aborted by concurrent writer, retrying", zap.Int("attempt", i+1))
	}
	return status.Wrap(status.KindGraphConstraint, "transaction kept aborting", err)
}

func (s *DgraphStore) query(ctx context.Context, q string, vars map[string]string, out any) error {
	txn := s.dg.NewReadOnlyTxn().BestEffort()
	resp, err := txn.QueryWithVars(ctx, q, vars)
	if err != nil {
		return status.Wrap(status.KindGraphUnavailable, "graph query", err)
	}
	if err := jsonx.Unmarshal(resp.Json, out); err != nil {
		return fmt.Errorf("decode graph response: %w", err)
	}
	return nil
}

// uidOf resolves an internal uid by an @upsert key predicate inside a txn.
func uidOf(ctx context.Context, txn *dgo.Txn, pred, value string) (string, error) {
	q := fmt.Sprintf(`query Q($v: string) { q(func: eq(%s, $v)) { uid } }`, pred)
	resp, err := txn.QueryWithVars(ctx, q, map[string]string{"$v": value})
	if err != nil {
		return "", status.Wrap(status.KindGraphUnavailable, "uid lookup", err)
	}
	var res struct {
		Q []struct {
			UID string `json:"uid"`
		} `json:"q"`
	}
	if err := jsonx.Unmarshal(resp.Json, &res); err != nil {
		return "", err
	}
	if len(res.Q) == 0 {
		return "", nil
	}
	return res.Q[0].UID, nil
}

func setJSON(ctx context.Context, txn *dgo.Txn, v any) error {
	b, err := jsonx.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := txn.Mutate(ctx, &api.Mutation{SetJson: b}); err != nil {
		return status.Wrap(status.KindGraphUnavailable, "graph mutation", err)
	}
	return nil
}

func deleteNQuads(ctx context.Context, txn *dgo.Txn, nquads string) error {
	if _, err := txn.Mutate(ctx, &api.Mutation{DelNquads: []byte(nquads)}); err != nil {
		return status.Wrap(status.KindGraphUnavailable, "graph delete", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Documents
// ---------------------------------------------------------------------------

func (s *DgraphStore) UpsertDocument(ctx context.Context, id, name, path, contentHash string) (*Document, error) {
	var out *Document
	err := s.withTxn(ctx, func(txn *dgo.Txn) error {
		q := `query Q($id: string) {
			q(func: eq(doc_id, $id)) { uid doc_id doc_name file_path content_hash version doc_status last_processed_at }
		}`
		resp, err := txn.QueryWithVars(ctx, q, map[string]string{"$id": id})
		if err != nil {
			return status.Wrap(status.KindGraphUnavailable, "document lookup", err)
		}
		var res struct {
			Q []struct {
				UID         string `json:"uid"`
				ContentHash string `json:"content_hash"`
				Version     int    `json:"version"`
			} `json:"q"`
		}
		if err := jsonx.Unmarshal(resp.Json, &res); err != nil {
			return err
		}

		now := time.Now().UTC()
		doc := map[string]any{
			"doc_id":            id,
			"doc_name":          name,
			"file_path":         path,
			"content_hash":      contentHash,
			"doc_status":        string(DocPending),
			"last_processed_at": now.Format(time.RFC3339),
			"dgraph.type":       "Document",
		}
		version := 1
		if len(res.Q) > 0 {
			doc["uid"] = res.Q[0].UID
			version = res.Q[0].Version
			if res.Q[0].ContentHash != contentHash {
				version++
			}
		}
		doc["version"] = version
		if err := setJSON(ctx, txn, doc); err != nil {
			return err
		}
		out = &Document{
			ID: id, Name: name, FilePath: path, ContentHash: contentHash,
			Version: version, Status: DocPending, LastProcessedAt: now,
		}
		return nil
	})
	return out, err
}

func (s *DgraphStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	q := `query Q($id: string) {
		q(func: eq(doc_id, $id)) { doc_id doc_name file_path content_hash version doc_status last_processed_at }
	}`
	var res struct {
		Q []struct {
			ID              string    `json:"doc_id"`
			Name            string    `json:"doc_name"`
			FilePath        string    `json:"file_path"`
			ContentHash     string    `json:"content_hash"`
			Version         int       `json:"version"`
			Status          string    `json:"doc_status"`
			LastProcessedAt time.Time `json:"last_processed_at"`
		} `json:"q"`
	}
	if err := s.query(ctx, q, map[string]string{"$id": id}, &res); err != nil {
		return nil, err
	}
	if len(res.Q) == 0 {
		return nil, status.Ef(status.KindNotFound, "document %s not found", id)
	}
	d := res.Q[0]
	return &Document{
		ID: d.ID, Name: d.Name, FilePath: d.FilePath, ContentHash: d.ContentHash,
		Version: d.Version, Status: DocumentStatus(d.Status), LastProcessedAt: d.LastProcessedAt,
	}, nil
}

func (s *DgraphStore) SetDocumentStatus(ctx context.Context, id string, st DocumentStatus) error {
	return s.withTxn(ctx, func(txn *dgo.Txn) error {
		uid, err := uidOf(ctx, txn, "doc_id", id)
		if err != nil {
			return err
		}
		if uid == "" {
			return status.Ef(status.KindNotFound, "document %s not found", id)
		}
		return setJSON(ctx, txn, map[string]any{
			"uid":               uid,
			"doc_status":        string(st),
			"last_processed_at": time.Now().UTC().Format(time.RFC3339),
		})
	})
}

// ---------------------------------------------------------------------------
// Text units
// ---------------------------------------------------------------------------

func (s *DgraphStore) CreateTextUnit(ctx context.Context, id, docID, text string, startChar, endChar int) error {
	return s.withTxn(ctx, func(txn *dgo.Txn) error {
		existing, err := uidOf(ctx, txn, "unit_id", id)
		if err != nil {
			return err
		}
		if existing != "" {
			return status.Ef(status.KindGraphConstraint, "text unit %s already exists", id)
		}
		docUID, err := uidOf(ctx, txn, "doc_id", docID)
		if err != nil {
			return err
		}
		if docUID == "" {
			return status.Ef(status.KindNotFound, "document %s not found", docID)
		}
		return setJSON(ctx, txn, map[string]any{
			"unit_id":     id,
			"unit_text":   text,
			"start_char":  startChar,
			"end_char":    endChar,
			"part_of":     map[string]string{"uid": docUID},
			"created_at":  time.Now().UTC().Format(time.RFC3339),
			"dgraph.type": "TextUnit",
		})
	})
}

func (s *DgraphStore) TextUnitsFor(ctx context.Context, entityID string, limit int) ([]TextUnit, error) {
	if limit <= 0 {
		limit = 10
	}
	q := fmt.Sprintf(`query Q($id: string) {
		q(func: eq(entity_key, $id)) {
			mentioned_in (first: %d) {
				unit_id unit_text start_char end_char created_at
				part_of { doc_id }
			}
		}
	}`, limit)
	var res struct {
		Q []struct {
			MentionedIn []dTextUnit `json:"mentioned_in"`
		} `json:"q"`
	}
	if err := s.query(ctx, q, map[string]string{"$id": entityID}, &res); err != nil {
		return nil, err
	}
	if len(res.Q) == 0 {
		return nil, nil
	}
	units := make([]TextUnit, 0, len(res.Q[0].MentionedIn))
	for _, u := range res.Q[0].MentionedIn {
		units = append(units, u.toTextUnit())
	}
	return units, nil
}

type dTextUnit struct {
	ID        string    `json:"unit_id"`
	Text      string    `json:"unit_text"`
	StartChar int       `json:"start_char"`
	EndChar   int       `json:"end_char"`
	CreatedAt time.Time `json:"created_at"`
	PartOf    *struct {
		DocID string `json:"doc_id"`
	} `json:"part_of"`
}

func (u *dTextUnit) toTextUnit() TextUnit {
	tu := TextUnit{
		ID: u.ID, Text: u.Text, StartChar: u.StartChar, EndChar: u.EndChar, CreatedAt: u.CreatedAt,
	}
	if u.PartOf != nil {
		tu.DocumentID = u.PartOf.DocID
	}
	return tu
}

// ---------------------------------------------------------------------------
// Entities
// ---------------------------------------------------------------------------

func (s *DgraphStore) UpsertEntity(ctx context.Context, name, entityType, description string, confidence float64) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", status.E(status.KindInvalidInput, "entity name is empty")
	}
	if confidence < 0 || confidence > 1 {
		return "", status.Ef(status.KindInvalidInput, "confidence %g out of [0, 1]", confidence)
	}

	id := Fingerprint(name, entityType)
	err := s.withTxn(ctx, func(txn *dgo.Txn) error {
		q := `query Q($id: string) {
			q(func: eq(entity_key, $id)) { uid confidence mention_count }
		}`
		resp, err := txn.QueryWithVars(ctx, q, map[string]string{"$id": id})
		if err != nil {
			return status.Wrap(status.KindGraphUnavailable, "entity lookup", err)
		}
		var res struct {
			Q []struct {
				UID          string  `json:"uid"`
				Confidence   float64 `json:"confidence"`
				MentionCount int     `json:"mention_count"`
			} `json:"q"`
		}
		if err := jsonx.Unmarshal(resp.Json, &res); err != nil {
			return err
		}

		now := time.Now().UTC().Format(time.RFC3339)
		if len(res.Q) > 0 {
			existing := res.Q[0]
			if confidence < existing.Confidence {
				confidence = existing.Confidence
			}
			return setJSON(ctx, txn, map[string]any{
				"uid":           existing.UID,
				"confidence":    confidence,
				"mention_count": existing.MentionCount + 1,
				"updated_at":    now,
			})
		}
		return setJSON(ctx, txn, map[string]any{
			"entity_key":    id,
			"entity_name":   strings.TrimSpace(name),
			"entity_type":   NormalizeType(entityType),
			"description":   description,
			"confidence":    confidence,
			"mention_count": 1,
			"created_at":    now,
			"updated_at":    now,
			"dgraph.type":   "Entity",
		})
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *DgraphStore) GetEntity(ctx context.Context, id string) (*Entity, error) {
	q := fmt.Sprintf(`query Q($id: string) {
		q(func: eq(entity_key, $id)) { %s }
	}`, entityFields)
	var res struct {
		Q []dEntity `json:"q"`
	}
	if err := s.query(ctx, q, map[string]string{"$id": id}, &res); err != nil {
		return nil, err
	}
	if len(res.Q) == 0 {
		return nil, status.Ef(status.KindNotFound, "entity %s not found", id)
	}
	e := res.Q[0].toEntity()
	return &e, nil
}

func (s *DgraphStore) FindEntityByName(ctx context.Context, name, entityType string) (*Entity, error) {
	// Primary name first, then alias.
	for _, pred := range []string{"entity_name", "aliases"} {
		q := fmt.Sprintf(`query Q($name: string) {
			q(func: eq(%s, $name)) @filter(type(Entity)) { %s }
		}`, pred, entityFields)
		var res struct {
			Q []dEntity `json:"q"`
		}
		if err := s.query(ctx, q, map[string]string{"$name": strings.TrimSpace(name)}, &res); err != nil {
			return nil, err
		}
		for _, d := range res.Q {
			if entityType == "" || d.Type == NormalizeType(entityType) {
				e := d.toEntity()
				return &e, nil
			}
		}
	}
	return nil, nil
}

func (s *DgraphStore) TopEntities(ctx context.Context, limit int, documentID string) ([]Entity, error) {
	if limit <= 0 {
		limit = 10
	}
	var res struct {
		Q []dEntity `json:"q"`
	}
	if documentID == "" {
		q := fmt.Sprintf(`query Q {
			q(func: type(Entity), orderdesc: mention_count, first: %d) { %s }
		}`, limit, entityFields)
		if err := s.query(ctx, q, nil, &res); err != nil {
			return nil, err
		}
	} else {
		// Entities mentioned in the document's text units.
		q := fmt.Sprintf(`query Q($doc: string) {
			var(func: eq(doc_id, $doc)) {
				~part_of { e as ~mentioned_in }
			}
			q(func: uid(e), orderdesc: mention_count, first: %d) { %s }
		}`, limit, entityFields)
		if err := s.query(ctx, q, map[string]string{"$doc": documentID}, &res); err != nil {
			return nil, err
		}
	}
	out := make([]Entity, 0, len(res.Q))
	for _, d := range res.Q {
		out = append(out, d.toEntity())
	}
	sortEntities(out)
	return out, nil
}

func (s *DgraphStore) EntitiesByType(ctx context.Context, entityType string) ([]Entity, error) {
	var res struct {
		Q []dEntity `json:"q"`
	}
	if entityType == "" {
		q := fmt.Sprintf(`query Q { q(func: type(Entity)) { %s } }`, entityFields)
		if err := s.query(ctx, q, nil, &res); err != nil {
			return nil, err
		}
	} else {
		q := fmt.Sprintf(`query Q($t: string) {
			q(func: eq(entity_type, $t)) { %s }
		}`, entityFields)
		if err := s.query(ctx, q, map[string]string{"$t": NormalizeType(entityType)}, &res); err != nil {
			return nil, err
		}
	}
	out := make([]Entity, 0, len(res.Q))
	for _, d := range res.Q {
		out = append(out, d.toEntity())
	}
	sortEntities(out)
	return out, nil
}

func (s *DgraphStore) EntityNames(ctx context.Context, documentIDs []string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 200
	}
	if len(documentIDs) == 0 {
		q := fmt.Sprintf(`query Q {
			q(func: type(Entity), orderdesc: mention_count, first: %d) { entity_name }
		}`, limit)
		var res struct {
			Q []struct {
				Name string `json:"entity_name"`
			} `json:"q"`
		}
		if err := s.query(ctx, q, nil, &res); err != nil {
			return nil, err
		}
		names := make([]string, 0, len(res.Q))
		for _, r := range res.Q {
			names = append(names, r.Name)
		}
		return names, nil
	}

	seen := make(map[string]struct{})
	var names []string
	for _, docID := range documentIDs {
		q := fmt.Sprintf(`query Q($doc: string) {
			var(func: eq(doc_id, $doc)) {
				~part_of { e as ~mentioned_in }
			}
			q(func: uid(e), orderdesc: mention_count, first: %d) { entity_name }
		}`, limit)
		var res struct {
			Q []struct {
				Name string `json:"entity_name"`
			} `json:"q"`
		}
		if err := s.query(ctx, q, map[string]string{"$doc": docID}, &res); err != nil {
			return nil, err
		}
		for _, r := range res.Q {
			if _, dup := seen[r.Name]; !dup {
				seen[r.Name] = struct{}{}
				names = append(names, r.Name)
			}
		}
	}
	if len(names) > limit {
		names = names[:limit]
	}
	return names, nil
}

func (s *DgraphStore) LinkMention(ctx context.Context, entityID, textUnitID string) error {
	return s.withTxn(ctx, func(txn *dgo.Txn) error {
		entUID, err := uidOf(ctx, txn, "entity_key", entityID)
		if err != nil {
			return err
		}
		if entUID == "" {
			return status.Ef(status.KindNotFound, "entity %s not found", entityID)
		}
		unitUID, err := uidOf(ctx, txn, "unit_id", textUnitID)
		if err != nil {
			return err
		}
		if unitUID == "" {
			return status.Ef(status.KindNotFound, "text unit %s not found", textUnitID)
		}
		return setJSON(ctx, txn, map[string]any{
			"uid":          entUID,
			"mentioned_in": []map[string]string{{"uid": unitUID}},
		})
	})
}

func (s *DgraphStore) Mentions(ctx context.Context, entityID string) ([]string, error) {
	q := `query Q($id: string) {
		q(func: eq(entity_key, $id)) { mentioned_in { unit_id } }
	}`
	var res struct {
		Q []struct {
			MentionedIn []struct {
				UnitID string `json:"unit_id"`
			} `json:"mentioned_in"`
		} `json:"q"`
	}
	if err := s.query(ctx, q, map[string]string{"$id": entityID}, &res); err != nil {
		return nil, err
	}
	if len(res.Q) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(res.Q[0].MentionedIn))
	for _, m := range res.Q[0].MentionedIn {
		ids = append(ids, m.UnitID)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *DgraphStore) AddAliases(ctx context.Context, id string, aliases []string) error {
	return s.withTxn(ctx, func(txn *dgo.Txn) error {
		uid, err := uidOf(ctx, txn, "entity_key", id)
		if err != nil {
			return err
		}
		if uid == "" {
			return status.Ef(status.KindNotFound, "entity %s not found", id)
		}
		clean := make([]string, 0, len(aliases))
		for _, a := range aliases {
			if strings.TrimSpace(a) != "" {
				clean = append(clean, a)
			}
		}
		if len(clean) == 0 {
			return nil
		}
		return setJSON(ctx, txn, map[string]any{
			"uid":        uid,
			"aliases":    clean,
			"updated_at": time.Now().UTC().Format(time.RFC3339),
		})
	})
}

func (s *DgraphStore) AddMentionCount(ctx context.Context, id string, delta int) error {
	return s.withTxn(ctx, func(txn *dgo.Txn) error {
		q := `query Q($id: string) {
			q(func: eq(entity_key, $id)) { uid mention_count }
		}`
		resp, err := txn.QueryWithVars(ctx, q, map[string]string{"$id": id})
		if err != nil {
			return status.Wrap(status.KindGraphUnavailable, "entity lookup", err)
		}
		var res struct {
			Q []struct {
				UID          string `json:"uid"`
				MentionCount int    `json:"mention_count"`
			} `json:"q"`
		}
		if err := jsonx.Unmarshal(resp.Json, &res); err != nil {
			return err
		}
		if len(res.Q) == 0 {
			return status.Ef(status.KindNotFound, "entity %s not found", id)
		}
		count := res.Q[0].MentionCount + delta
		if count < 0 {
			count = 0
		}
		return setJSON(ctx, txn, map[string]any{
			"uid":           res.Q[0].UID,
			"mention_count": count,
			"updated_at":    time.Now().UTC().Format(time.RFC3339),
		})
	})
}

// RaiseConfidence lifts the entity's confidence to the given value when it is
// higher; confidence never decreases.
func (s *DgraphStore) RaiseConfidence(ctx context.Context, id string, confidence float64) error {
	return s.withTxn(ctx, func(txn *dgo.Txn) error {
		q := `query Q($id: string) {
			q(func: eq(entity_key, $id)) { uid confidence }
		}`
		resp, err := txn.QueryWithVars(ctx, q, map[string]string{"$id": id})
		if err != nil {
			return status.Wrap(status.KindGraphUnavailable, "entity lookup", err)
		}
		var res struct {
			Q []struct {
				UID        string  `json:"uid"`
				Confidence float64 `json:"confidence"`
			} `json:"q"`
		}
		if err := jsonx.Unmarshal(resp.Json, &res); err != nil {
			return err
		}
		if len(res.Q) == 0 {
			return status.Ef(status.KindNotFound, "entity %s not found", id)
		}
		if confidence <= res.Q[0].Confidence {
			return nil
		}
		return setJSON(ctx, txn, map[string]any{
			"uid":        res.Q[0].UID,
			"confidence": confidence,
			"updated_at": time.Now().UTC().Format(time.RFC3339),
		})
	})
}

func (s *DgraphStore) RenameEntity(ctx context.Context, id, newName string) error {
	return s.withTxn(ctx, func(txn *dgo.Txn) error {
		ent, err := s.GetEntity(ctx, id)
		if err != nil {
			return err
		}
		q := `query Q($name: string, $type: string) {
			q(func: eq(entity_name, $name)) @filter(eq(entity_type, $type)) { entity_key }
		}`
		resp, err := txn.QueryWithVars(ctx, q, map[string]string{
			"$name": strings.TrimSpace(newName),
			"$type": ent.Type,
		})
		if err != nil {
			return status.Wrap(status.KindGraphUnavailable, "rename collision check", err)
		}
		var res struct {
			Q []struct {
				Key string `json:"entity_key"`
			} `json:"q"`
		}
		if err := jsonx.Unmarshal(resp.Json, &res); err != nil {
			return err
		}
		for _, r := range res.Q {
			if r.Key != id {
				return status.Ef(status.KindGraphConstraint, "entity (%s, %s) already exists", newName, ent.Type)
			}
		}
		uid, err := uidOf(ctx, txn, "entity_key", id)
		if err != nil {
			return err
		}
		return setJSON(ctx, txn, map[string]any{
			"uid":         uid,
			"entity_name": strings.TrimSpace(newName),
			"updated_at":  time.Now().UTC().Format(time.RFC3339),
		})
	})
}

func (s *DgraphStore) DeleteEntity(ctx context.Context, id string) error {
	return s.withTxn(ctx, func(txn *dgo.Txn) error {
		q := `query Q($id: string) {
			q(func: eq(entity_key, $id)) {
				uid
				rels_out as ~rel_source
				rels_in as ~rel_target
			}
			ro(func: uid(rels_out)) { uid }
			ri(func: uid(rels_in)) { uid }
		}`
		resp, err := txn.QueryWithVars(ctx, q, map[string]string{"$id": id})
		if err != nil {
			return status.Wrap(status.KindGraphUnavailable, "entity delete lookup", err)
		}
		var res struct {
			Q []struct {
				UID string `json:"uid"`
			} `json:"q"`
			RO []struct {
				UID string `json:"uid"`
			} `json:"ro"`
			RI []struct {
				UID string `json:"uid"`
			} `json:"ri"`
		}
		if err := jsonx.Unmarshal(resp.Json, &res); err != nil {
			return err
		}
		if len(res.Q) == 0 {
			return nil
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "<%s> * * .\n", res.Q[0].UID)
		for _, r := range append(res.RO, res.RI...) {
			fmt.Fprintf(&sb, "<%s> * * .\n", r.UID)
		}
		return deleteNQuads(ctx, txn, sb.String())
	})
}

// ---------------------------------------------------------------------------
// Relations
// ---------------------------------------------------------------------------

func (s *DgraphStore) UpsertRelation(ctx context.Context, sourceID, targetID, relType, description string, confidence float64, strength int) error {
	relType = strings.ToUpper(strings.TrimSpace(relType))
	if relType == "" {
		return status.E(status.KindInvalidInput, "relation type is empty")
	}
	key := sourceID + "|" + relType + "|" + targetID

	return s.withTxn(ctx, func(txn *dgo.Txn) error {
		q := `query Q($key: string) {
			q(func: eq(rel_key, $key)) { uid confidence strength }
		}`
		resp, err := txn.QueryWithVars(ctx, q, map[string]string{"$key": key})
		if err != nil {
			return status.Wrap(status.KindGraphUnavailable, "relation lookup", err)
		}
		var res struct {
			Q []struct {
				UID        string  `json:"uid"`
				Confidence float64 `json:"confidence"`
				Strength   int     `json:"strength"`
			} `json:"q"`
		}
		if err := jsonx.Unmarshal(resp.Json, &res); err != nil {
			return err
		}

		if len(res.Q) > 0 {
			existing := res.Q[0]
			if confidence < existing.Confidence {
				confidence = existing.Confidence
			}
			if strength < existing.Strength {
				strength = existing.Strength
			}
			return setJSON(ctx, txn, map[string]any{
				"uid":        existing.UID,
				"confidence": confidence,
				"strength":   strength,
			})
		}

		srcUID, err := uidOf(ctx, txn, "entity_key", sourceID)
		if err != nil {
			return err
		}
		tgtUID, err := uidOf(ctx, txn, "entity_key", targetID)
		if err != nil {
			return err
		}
		if srcUID == "" || tgtUID == "" {
			return status.Ef(status.KindNotFound, "relation endpoints missing for %s", key)
		}
		return setJSON(ctx, txn, map[string]any{
			"rel_key":     key,
			"rel_type":    relType,
			"description": description,
			"confidence":  confidence,
			"strength":    strength,
			"rel_source":  map[string]string{"uid": srcUID},
			"rel_target":  map[string]string{"uid": tgtUID},
			"dgraph.type": "Relation",
		})
	})
}

type dRelation struct {
	Type        string  `json:"rel_type"`
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
	Strength    int     `json:"strength"`
	Source      *struct {
		Key  string `json:"entity_key"`
		Name string `json:"entity_name"`
	} `json:"rel_source"`
	Target *struct {
		Key  string `json:"entity_key"`
		Name string `json:"entity_name"`
	} `json:"rel_target"`
}

func (r *dRelation) toRelation() Relation {
	rel := Relation{
		Type:        r.Type,
		Description: r.Description,
		Confidence:  r.Confidence,
		Strength:    r.Strength,
	}
	if r.Source != nil {
		rel.SourceID = r.Source.Key
	}
	if r.Target != nil {
		rel.TargetID = r.Target.Key
	}
	return rel
}

const relationFields = `
	rel_type
	description
	confidence
	strength
	rel_source { entity_key entity_name }
	rel_target { entity_key entity_name }
`

func (s *DgraphStore) relationsVia(ctx context.Context, entityID, reverseEdge string) ([]Relation, error) {
	q := fmt.Sprintf(`query Q($id: string) {
		q(func: eq(entity_key, $id)) {
			%s { %s }
		}
	}`, reverseEdge, relationFields)
	var res struct {
		Q []map[string][]dRelation `json:"q"`
	}
	if err := s.query(ctx, q, map[string]string{"$id": entityID}, &res); err != nil {
		return nil, err
	}
	if len(res.Q) == 0 {
		return nil, nil
	}
	var out []Relation
	for _, rels := range res.Q[0] {
		for _, r := range rels {
			out = append(out, r.toRelation())
		}
	}
	return out, nil
}

func (s *DgraphStore) OutgoingRelations(ctx context.Context, entityID string) ([]Relation, error) {
	return s.relationsVia(ctx, entityID, "~rel_source")
}

func (s *DgraphStore) IncomingRelations(ctx context.Context, entityID string) ([]Relation, error) {
	return s.relationsVia(ctx, entityID, "~rel_target")
}

// entityKeysInDocuments resolves the entity keys mentioned by any text unit
// of the given documents; used to scope exploration to a document set.
func (s *DgraphStore) entityKeysInDocuments(ctx context.Context, documentIDs []string) (map[string]struct{}, error) {
	scope := make(map[string]struct{})
	for _, docID := range documentIDs {
		q := `query Q($doc: string) {
			var(func: eq(doc_id, $doc)) {
				~part_of { e as ~mentioned_in }
			}
			q(func: uid(e)) { entity_key }
		}`
		var res struct {
			Q []struct {
				Key string `json:"entity_key"`
			} `json:"q"`
		}
		if err := s.query(ctx, q, map[string]string{"$doc": docID}, &res); err != nil {
			return nil, err
		}
		for _, r := range res.Q {
			scope[r.Key] = struct{}{}
		}
	}
	return scope, nil
}

func (s *DgraphStore) RelationTypes(ctx context.Context, entityIDs []string, minConfidence float64, documentIDs []string) ([]RelationOccurrence, error) {
	var scope map[string]struct{}
	if len(documentIDs) > 0 {
		var err error
		scope, err = s.entityKeysInDocuments(ctx, documentIDs)
		if err != nil {
			return nil, err
		}
	}

	byType := make(map[string]RelationOccurrence)
	for _, id := range entityIDs {
		ent, err := s.GetEntity(ctx, id)
		if err != nil {
			continue
		}
		for _, dir := range []func(context.Context, string) ([]Relation, error){s.OutgoingRelations, s.IncomingRelations} {
			rels, err := dir(ctx, id)
			if err != nil {
				return nil, err
			}
			for _, rel := range rels {
				if rel.Confidence <= minConfidence {
					continue
				}
				if scope != nil {
					if _, in := scope[rel.SourceID]; !in {
						continue
					}
					if _, in := scope[rel.TargetID]; !in {
						continue
					}
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

func (s *DgraphStore) CandidateTargets(ctx context.Context, sourceID, relType string, documentIDs []string, limit int) ([]CandidateTarget, error) {
	if limit <= 0 {
		limit = 20
	}
	relType = strings.ToUpper(relType)

	var scope map[string]struct{}
	if len(documentIDs) > 0 {
		var err error
		scope, err = s.entityKeysInDocuments(ctx, documentIDs)
		if err != nil {
			return nil, err
		}
	}

	seen := make(map[string]struct{})
	var out []CandidateTarget
	collect := func(rels []Relation, pick func(Relation) string) error {
		for _, rel := range rels {
			if rel.Type != relType {
				continue
			}
			otherID := pick(rel)
			if _, dup := seen[otherID]; dup {
				continue
			}
			if scope != nil {
				if _, in := scope[otherID]; !in {
					continue
				}
			}
			ent, err := s.GetEntity(ctx, otherID)
			if err != nil {
				continue
			}
			seen[otherID] = struct{}{}
			out = append(out, CandidateTarget{Entity: *ent, Confidence: rel.Confidence})
		}
		return nil
	}

	outRels, err := s.OutgoingRelations(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	if err := collect(outRels, func(r Relation) string { return r.TargetID }); err != nil {
		return nil, err
	}
	inRels, err := s.IncomingRelations(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	if err := collect(inRels, func(r Relation) string { return r.SourceID }); err != nil {
		return nil, err
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
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// EntityContext performs an iterative BFS over relation nodes, one frontier
// query per hop, never following community or document containment edges.
func (s *DgraphStore) EntityContext(ctx context.Context, entityID string, hopLimit int, includeText bool) (*EntityContext, error) {
	seed, err := s.GetEntity(ctx, entityID)
	if err != nil {
		return nil, err
	}
	if hopLimit <= 0 {
		hopLimit = 1
	}

	visited := map[string]struct{}{entityID: {}}
	frontier := []string{entityID}
	var related []RelatedEntity

	for hop := 1; hop <= hopLimit && len(frontier) > 0; hop++ {
		var next []string
		for _, id := range frontier {
			outRels, err := s.OutgoingRelations(ctx, id)
			if err != nil {
				return nil, err
			}
			inRels, err := s.IncomingRelations(ctx, id)
			if err != nil {
				return nil, err
			}
			for _, rel := range append(outRels, inRels...) {
				otherID := rel.TargetID
				if otherID == id {
					otherID = rel.SourceID
				}
				if _, dup := visited[otherID]; dup {
					continue
				}
				visited[otherID] = struct{}{}
				ent, err := s.GetEntity(ctx, otherID)
				if err != nil {
					continue
				}
				related = append(related, RelatedEntity{
					Entity:       *ent,
					RelationType: rel.Type,
					Distance:     hop,
				})
				next = append(next, otherID)
			}
		}
		frontier = next
	}

	ec := &EntityContext{Entity: *seed, RelatedEntities: related}
	if includeText {
		units, err := s.TextUnitsFor(ctx, entityID, 10)
		if err != nil {
			return nil, err
		}
		ec.TextUnits = units
	}
	return ec, nil
}

// ---------------------------------------------------------------------------
// Document subgraph deletion
// ---------------------------------------------------------------------------

func (s *DgraphStore) DeleteDocumentSubgraph(ctx context.Context, docID string) error {
	return s.withTxn(ctx, func(txn *dgo.Txn) error {
		q := `query Q($doc: string) {
			doc(func: eq(doc_id, $doc)) { uid }
			var(func: eq(doc_id, $doc)) {
				units as ~part_of
			}
			units_q(func: uid(units)) { uid }
			ents(func: uid(units)) {
				~mentioned_in { uid entity_key mention_count }
			}
		}`
		resp, err := txn.QueryWithVars(ctx, q, map[string]string{"$doc": docID})
		if err != nil {
			return status.Wrap(status.KindGraphUnavailable, "subgraph lookup", err)
		}
		var res struct {
			Doc []struct {
				UID string `json:"uid"`
			} `json:"doc"`
			UnitsQ []struct {
				UID string `json:"uid"`
			} `json:"units_q"`
			Ents []struct {
				MentionedBy []struct {
					UID          string `json:"uid"`
					Key          string `json:"entity_key"`
					MentionCount int    `json:"mention_count"`
				} `json:"~mentioned_in"`
			} `json:"ents"`
		}
		if err := jsonx.Unmarshal(resp.Json, &res); err != nil {
			return err
		}
		if len(res.Doc) == 0 {
			return status.Ef(status.KindNotFound, "document %s not found", docID)
		}

		// Mentions lost per entity across all of the document's units.
		lost := make(map[string]int)
		uidByKey := make(map[string]string)
		for _, grp := range res.Ents {
			for _, m := range grp.MentionedBy {
				lost[m.Key]++
				uidByKey[m.Key] = m.UID
			}
		}
		remaining := make(map[string]int)
		for _, grp := range res.Ents {
			for _, m := range grp.MentionedBy {
				remaining[m.Key] = m.MentionCount
			}
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "<%s> * * .\n", res.Doc[0].UID)
		for _, u := range res.UnitsQ {
			fmt.Fprintf(&sb, "<%s> * * .\n", u.UID)
		}
		if err := deleteNQuads(ctx, txn, sb.String()); err != nil {
			return err
		}

		for key, n := range lost {
			left := remaining[key] - n
			if left <= 0 {
				if err := s.deleteEntityInTxn(ctx, txn, key); err != nil {
					return err
				}
				continue
			}
			if err := setJSON(ctx, txn, map[string]any{
				"uid":           uidByKey[key],
				"mention_count": left,
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *DgraphStore) deleteEntityInTxn(ctx context.Context, txn *dgo.Txn, entityKey string) error {
	q := `query Q($id: string) {
		q(func: eq(entity_key, $id)) { uid }
		var(func: eq(entity_key, $id)) {
			ro as ~rel_source
			ri as ~rel_target
		}
		rels(func: uid(ro, ri)) { uid }
	}`
	resp, err := txn.QueryWithVars(ctx, q, map[string]string{"$id": entityKey})
	if err != nil {
		return status.Wrap(status.KindGraphUnavailable, "entity delete lookup", err)
	}
	var res struct {
		Q []struct {
			UID string `json:"uid"`
		} `json:"q"`
		Rels []struct {
			UID string `json:"uid"`
		} `json:"rels"`
	}
	if err := jsonx.Unmarshal(resp.Json, &res); err != nil {
		return err
	}
	if len(res.Q) == 0 {
		return nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "<%s> * * .\n", res.Q[0].UID)
	for _, r := range res.Rels {
		fmt.Fprintf(&sb, "<%s> * * .\n", r.UID)
	}
	return deleteNQuads(ctx, txn, sb.String())
}

// ---------------------------------------------------------------------------
// Communities
// ---------------------------------------------------------------------------

func (s *DgraphStore) ReplaceCommunities(ctx context.Context, level int, membership map[string]int) error {
	sizes := make(map[int]int)
	for _, cid := range membership {
		sizes[cid]++
	}

	return s.withTxn(ctx, func(txn *dgo.Txn) error {
		// Drop stale membership edges and records at this level.
		q := fmt.Sprintf(`query Q {
			comms(func: eq(community_level, %d)) @filter(type(Community)) { uid community_id }
			var(func: eq(community_level, %d)) @filter(type(Community)) {
				members as ~in_community
			}
			mem(func: uid(members)) { uid }
		}`, level, level)
		resp, err := txn.Query(ctx, q)
		if err != nil {
			return status.Wrap(status.KindGraphUnavailable, "community lookup", err)
		}
		var res struct {
			Comms []struct {
				UID string `json:"uid"`
				ID  int    `json:"community_id"`
			} `json:"comms"`
		}
		if err := jsonx.Unmarshal(resp.Json, &res); err != nil {
			return err
		}

		commUID := make(map[int]string)
		var del strings.Builder
		for _, c := range res.Comms {
			if _, keep := sizes[c.ID]; keep {
				commUID[c.ID] = c.UID
				// Membership is replaced wholesale below; drop old edges.
				fmt.Fprintf(&del, "* <in_community> <%s> .\n", c.UID)
			} else {
				fmt.Fprintf(&del, "<%s> * * .\n", c.UID)
			}
		}
		if del.Len() > 0 {
			if err := deleteNQuads(ctx, txn, del.String()); err != nil {
				return err
			}
		}

		for cid, size := range sizes {
			node := map[string]any{
				"community_id":    cid,
				"community_level": level,
				"community_size":  size,
				"dgraph.type":     "Community",
			}
			if uid, ok := commUID[cid]; ok {
				node["uid"] = uid
			} else {
				blank := fmt.Sprintf("_:c%d", cid)
				node["uid"] = blank
			}
			if err := setJSON(ctx, txn, node); err != nil {
				return err
			}
		}

		// Re-resolve uids for new communities, then attach members.
		for entID, cid := range membership {
			entUID, err := uidOf(ctx, txn, "entity_key", entID)
			if err != nil {
				return err
			}
			if entUID == "" {
				continue
			}
			cUID, ok := commUID[cid]
			if !ok {
				cUID, err = s.communityUID(ctx, txn, cid, level)
				if err != nil || cUID == "" {
					continue
				}
				commUID[cid] = cUID
			}
			if err := setJSON(ctx, txn, map[string]any{
				"uid":          entUID,
				"in_community": []map[string]string{{"uid": cUID}},
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *DgraphStore) communityUID(ctx context.Context, txn *dgo.Txn, communityID, level int) (string, error) {
	q := fmt.Sprintf(`query Q {
		q(func: eq(community_id, %d)) @filter(eq(community_level, %d)) { uid }
	}`, communityID, level)
	resp, err := txn.Query(ctx, q)
	if err != nil {
		return "", status.Wrap(status.KindGraphUnavailable, "community uid lookup", err)
	}
	var res struct {
		Q []struct {
			UID string `json:"uid"`
		} `json:"q"`
	}
	if err := jsonx.Unmarshal(resp.Json, &res); err != nil {
		return "", err
	}
	if len(res.Q) == 0 {
		return "", nil
	}
	return res.Q[0].UID, nil
}

type dCommunity struct {
	ID               int       `json:"community_id"`
	Level            int       `json:"community_level"`
	Size             int       `json:"community_size"`
	Summary          string    `json:"summary"`
	Themes           []string  `json:"themes"`
	Significance     string    `json:"significance"`
	SummaryTimestamp time.Time `json:"summary_timestamp"`
}

func (d *dCommunity) toCommunity() Community {
	return Community{
		ID: d.ID, Level: d.Level, Size: d.Size, Summary: d.Summary,
		Themes: d.Themes, Significance: d.Significance, SummaryTimestamp: d.SummaryTimestamp,
	}
}

const communityFields = `
	community_id
	community_level
	community_size
	summary
	themes
	significance
	summary_timestamp
`

func (s *DgraphStore) Communities(ctx context.Context, level int) ([]Community, error) {
	var q string
	if level < 0 {
		q = fmt.Sprintf(`query Q { q(func: type(Community)) { %s } }`, communityFields)
	} else {
		q = fmt.Sprintf(`query Q {
			q(func: eq(community_level, %d)) @filter(type(Community)) { %s }
		}`, level, communityFields)
	}
	var res struct {
		Q []dCommunity `json:"q"`
	}
	if err := s.query(ctx, q, nil, &res); err != nil {
		return nil, err
	}
	out := make([]Community, 0, len(res.Q))
	for _, d := range res.Q {
		out = append(out, d.toCommunity())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *DgraphStore) CommunityOf(ctx context.Context, entityID string, level int) (*Community, error) {
	q := fmt.Sprintf(`query Q($id: string) {
		q(func: eq(entity_key, $id)) {
			in_community @filter(eq(community_level, %d)) { %s }
		}
	}`, level, communityFields)
	var res struct {
		Q []struct {
			InCommunity []dCommunity `json:"in_community"`
		} `json:"q"`
	}
	if err := s.query(ctx, q, map[string]string{"$id": entityID}, &res); err != nil {
		return nil, err
	}
	if len(res.Q) == 0 || len(res.Q[0].InCommunity) == 0 {
		return nil, status.Ef(status.KindNotFound, "entity %s has no community at level %d", entityID, level)
	}
	c := res.Q[0].InCommunity[0].toCommunity()
	return &c, nil
}

func (s *DgraphStore) CommunityMembers(ctx context.Context, communityID int, limit int) ([]Entity, error) {
	if limit <= 0 {
		limit = 100
	}
	q := fmt.Sprintf(`query Q {
		q(func: eq(community_id, %d)) @filter(type(Community)) {
			~in_community (orderdesc: mention_count, first: %d) { %s }
		}
	}`, communityID, limit, entityFields)
	var res struct {
		Q []struct {
			Members []dEntity `json:"~in_community"`
		} `json:"q"`
	}
	if err := s.query(ctx, q, nil, &res); err != nil {
		return nil, err
	}
	if len(res.Q) == 0 {
		return nil, status.Ef(status.KindNotFound, "community %d not found", communityID)
	}
	out := make([]Entity, 0, len(res.Q[0].Members))
	for _, d := range res.Q[0].Members {
		out = append(out, d.toEntity())
	}
	sortEntities(out)
	return out, nil
}

func (s *DgraphStore) SetCommunitySummary(ctx context.Context, communityID int, summary string, themes []string, significance string) error {
	return s.withTxn(ctx, func(txn *dgo.Txn) error {
		uid, err := s.anyCommunityUID(ctx, txn, communityID)
		if err != nil {
			return err
		}
		if uid == "" {
			return status.Ef(status.KindNotFound, "community %d not found", communityID)
		}
		return setJSON(ctx, txn, map[string]any{
			"uid":               uid,
			"summary":           summary,
			"themes":            themes,
			"significance":      significance,
			"summary_timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})
}

func (s *DgraphStore) InvalidateCommunitySummary(ctx context.Context, communityID int) error {
	return s.withTxn(ctx, func(txn *dgo.Txn) error {
		uid, err := s.anyCommunityUID(ctx, txn, communityID)
		if err != nil || uid == "" {
			return err
		}
		var del strings.Builder
		fmt.Fprintf(&del, "<%s> <summary> * .\n", uid)
		fmt.Fprintf(&del, "<%s> <themes> * .\n", uid)
		fmt.Fprintf(&del, "<%s> <significance> * .\n", uid)
		fmt.Fprintf(&del, "<%s> <summary_timestamp> * .\n", uid)
		return deleteNQuads(ctx, txn, del.String())
	})
}

func (s *DgraphStore) anyCommunityUID(ctx context.Context, txn *dgo.Txn, communityID int) (string, error) {
	q := fmt.Sprintf(`query Q {
		q(func: eq(community_id, %d)) @filter(type(Community)) { uid }
	}`, communityID)
	resp, err := txn.Query(ctx, q)
	if err != nil {
		return "", status.Wrap(status.KindGraphUnavailable, "community lookup", err)
	}
	var res struct {
		Q []struct {
			UID string `json:"uid"`
		} `json:"q"`
	}
	if err := jsonx.Unmarshal(resp.Json, &res); err != nil {
		return "", err
	}
	if len(res.Q) == 0 {
		return "", nil
	}
	return res.Q[0].UID, nil
}

func (s *DgraphStore) ListAffectedCommunities(ctx context.Context, docID string) (*Affected, error) {
	q := `query Q($doc: string) {
		var(func: eq(doc_id, $doc)) {
			~part_of { e as ~mentioned_in }
		}
		ents(func: uid(e)) {
			entity_key
			in_community { community_id }
		}
	}`
	var res struct {
		Ents []struct {
			Key         string `json:"entity_key"`
			InCommunity []struct {
				ID int `json:"community_id"`
			} `json:"in_community"`
		} `json:"ents"`
	}
	if err := s.query(ctx, q, map[string]string{"$doc": docID}, &res); err != nil {
		return nil, err
	}

	affected := &Affected{}
	commSet := make(map[int]struct{})
	for _, e := range res.Ents {
		affected.EntityIDs = append(affected.EntityIDs, e.Key)
		for _, c := range e.InCommunity {
			commSet[c.ID] = struct{}{}
		}
	}
	sort.Strings(affected.EntityIDs)
	for cid := range commSet {
		affected.CommunityIDs = append(affected.CommunityIDs, cid)
	}
	sort.Ints(affected.CommunityIDs)
	return affected, nil
}

func (s *DgraphStore) GraphStatistics(ctx context.Context) (*Statistics, error) {
	q := `query Q {
		docs(func: type(Document)) { total: count(uid) }
		units(func: type(TextUnit)) { total: count(uid) }
		ents(func: type(Entity)) { total: count(uid) }
		rels(func: type(Relation)) { total: count(uid) }
	}`
	var res struct {
		Docs  []struct{ Total int `json:"total"` } `json:"docs"`
		Units []struct{ Total int `json:"total"` } `json:"units"`
		Ents  []struct{ Total int `json:"total"` } `json:"ents"`
		Rels  []struct{ Total int `json:"total"` } `json:"rels"`
	}
	if err := s.query(ctx, q, nil, &res); err != nil {
		return nil, err
	}
	stats := &Statistics{}
	if len(res.Docs) > 0 {
		stats.Documents = res.Docs[0].Total
	}
	if len(res.Units) > 0 {
		stats.TextUnits = res.Units[0].Total
	}
	if len(res.Ents) > 0 {
		stats.Entities = res.Ents[0].Total
	}
	if len(res.Rels) > 0 {
		stats.Relations = res.Rels[0].Total
	}
	return stats, nil
}
