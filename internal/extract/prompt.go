package extract

import (
	"strings"

	"github.com/valyala/bytebufferpool"
)

// Record stream delimiters. The model is asked to separate fields with
// tupleDelim, records with recordDelim, and to end a finished stream with
// completeSignal; a stream that stops without the signal is treated as
// truncated and eligible for a continuation pass.
const (
	tupleDelim     = "<|>"
	recordDelim    = "##"
	completeSignal = "<|COMPLETE|>"
)

const promptHeader = `You are a knowledge extraction system. From the text below, identify all entities and the relationships between them.

For each entity output:
("entity"` + tupleDelim + `<entity_name>` + tupleDelim + `<entity_type>` + tupleDelim + `<entity_description>)

For each relationship output:
("relationship"` + tupleDelim + `<source_entity>` + tupleDelim + `<target_entity>` + tupleDelim + `<relationship_description>` + tupleDelim + `<relationship_strength>)

Rules:
- entity_type must be one of: %TYPES%
- relationship_strength is an integer from 1 to 10
- source_entity and target_entity must be entity names you emitted
- Separate records with ` + recordDelim + `
- When you have emitted every entity and relationship, finish with ` + completeSignal + `

Example:
Text: "Dr. Sarah Chen leads the fusion program at Helion Labs in Everett."
Output:
("entity"` + tupleDelim + `Sarah Chen` + tupleDelim + `PERSON` + tupleDelim + `Physicist leading the fusion program at Helion Labs)` + recordDelim + `
("entity"` + tupleDelim + `Helion Labs` + tupleDelim + `ORGANIZATION` + tupleDelim + `Research company working on fusion, located in Everett)` + recordDelim + `
("entity"` + tupleDelim + `Everett` + tupleDelim + `GEO` + tupleDelim + `City where Helion Labs is located)` + recordDelim + `
("relationship"` + tupleDelim + `Sarah Chen` + tupleDelim + `Helion Labs` + tupleDelim + `Sarah Chen leads the fusion program at Helion Labs` + tupleDelim + `9)` + recordDelim + `
("relationship"` + tupleDelim + `Helion Labs` + tupleDelim + `Everett` + tupleDelim + `Helion Labs is located in Everett` + tupleDelim + `7)
` + completeSignal + `

Text:
`

// continuationPrompt asks the model to keep going after a truncated stream.
const continuationPrompt = `Some entities and relationships were missed in the previous output. Continue emitting records in the same format for anything not yet covered. Do not repeat records already emitted. Finish with ` + completeSignal

// buildExtractionPrompt assembles the joint extraction prompt for one chunk.
func buildExtractionPrompt(entityTypes []string, chunkText string) string {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	header := strings.Replace(promptHeader, "%TYPES%", strings.Join(entityTypes, ", "), 1)
	buf.WriteString(header)
	buf.WriteString(chunkText)
	buf.WriteString("\nOutput:\n")
	return buf.String()
}
