package extract

import (
	"strconv"
	"strings"
)

// ExtractedEntity is one parsed entity record.
type ExtractedEntity struct {
	Name        string
	Type        string
	Description string
}

// ExtractedRelation is one parsed relationship record. Source and Target are
// entity names; resolution to graph ids happens at persistence time.
type ExtractedRelation struct {
	Source      string
	Target      string
	Description string
	Strength    int
}

// parseResult holds the parsed record stream and whether the model signalled
// completion.
type parseResult struct {
	Entities  []ExtractedEntity
	Relations []ExtractedRelation
	Complete  bool
}

// parseRecords parses a delimited record stream. Malformed records are
// skipped rather than failing the chunk; the model output is best-effort.
func parseRecords(raw string) parseResult {
	res := parseResult{Complete: strings.Contains(raw, completeSignal)}
	raw = strings.ReplaceAll(raw, completeSignal, "")

	for _, rec := range strings.Split(raw, recordDelim) {
		rec = strings.TrimSpace(rec)
		rec = strings.TrimPrefix(rec, "(")
		rec = strings.TrimSuffix(rec, ")")
		if rec == "" {
			continue
		}

		fields := strings.Split(rec, tupleDelim)
		for i := range fields {
			fields[i] = strings.Trim(strings.TrimSpace(fields[i]), `"`)
		}

		switch strings.ToLower(fields[0]) {
		case "entity":
			if len(fields) < 4 || fields[1] == "" {
				continue
			}
			res.Entities = append(res.Entities, ExtractedEntity{
				Name:        fields[1],
				Type:        fields[2],
				Description: fields[3],
			})
		case "relationship":
			if len(fields) < 5 || fields[1] == "" || fields[2] == "" {
				continue
			}
			strength := parseStrength(fields[4])
			res.Relations = append(res.Relations, ExtractedRelation{
				Source:      fields[1],
				Target:      fields[2],
				Description: fields[3],
				Strength:    strength,
			})
		}
	}
	return res
}

// parseStrength clamps the relationship strength into [1, 10], defaulting to
// 5 when the model emits garbage.
func parseStrength(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		f, ferr := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if ferr != nil {
			return 5
		}
		n = int(f)
	}
	if n < 1 {
		return 1
	}
	if n > 10 {
		return 10
	}
	return n
}

// strengthConfidence maps a 1-10 strength onto a [0, 1] relation confidence.
func strengthConfidence(strength int) float64 {
	return float64(strength) / 10.0
}
