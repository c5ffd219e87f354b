package graph

// Schema is the Dgraph schema for the knowledge graph. Relations are nodes
// rather than predicates so that edge types stay an open vocabulary with
// per-edge confidence; @upsert keys give the uniqueness guarantees the
// engine relies on for cross-worker convergence.
const Schema = `
	# Entity
	entity_key: string @index(exact) @upsert .
	entity_name: string @index(exact, term) .
	entity_type: string @index(exact) .
	description: string .
	confidence: float .
	mention_count: int @index(int) .
	aliases: [string] @index(exact) .

	# TextUnit
	unit_id: string @index(exact) @upsert .
	unit_text: string .
	start_char: int .
	end_char: int .
	part_of: uid @reverse .

	# Document
	doc_id: string @index(exact) @upsert .
	doc_name: string @index(term) .
	file_path: string .
	content_hash: string @index(exact) .
	version: int .
	doc_status: string @index(exact) .
	last_processed_at: datetime .

	# Relation (edge node)
	rel_key: string @index(exact) @upsert .
	rel_type: string @index(exact) .
	strength: int .
	rel_source: uid @reverse .
	rel_target: uid @reverse .

	# Grounding
	mentioned_in: [uid] @reverse .

	# Community
	community_id: int @index(int) @upsert .
	community_level: int @index(int) .
	community_size: int .
	summary: string .
	themes: [string] .
	significance: string @index(exact) .
	summary_timestamp: datetime .
	in_community: [uid] @reverse .

	created_at: datetime @index(hour) .
	updated_at: datetime @index(hour) .

	type Entity {
		entity_key
		entity_name
		entity_type
		description
		confidence
		mention_count
		aliases
		mentioned_in
		in_community
		created_at
		updated_at
	}

	type TextUnit {
		unit_id
		unit_text
		start_char
		end_char
		part_of
		created_at
	}

	type Document {
		doc_id
		doc_name
		file_path
		content_hash
		version
		doc_status
		last_processed_at
	}

	type Relation {
		rel_key
		rel_type
		description
		confidence
		strength
		rel_source
		rel_target
	}

	type Community {
		community_id
		community_level
		community_size
		summary
		themes
		significance
		summary_timestamp
	}
`
