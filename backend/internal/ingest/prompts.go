package ingest

import "dune-rag/backend/internal/adapter"

const parentChildQuery = `
MERGE (p:Parent {id: $parent_id})
SET p.text = $parent_text, p.source = $source
WITH p
CALL db.create.setNodeVectorProperty(p, 'embedding', $parent_embedding)
WITH p
UNWIND $children AS child
MERGE (c:Child {id: child.id})
SET c.text = child.text, c.source = $source
MERGE (c)<-[:HAS_CHILD]-(p)
WITH c, child
CALL db.create.setNodeVectorProperty(c, 'embedding', child.embedding)
RETURN count(*)`

const questionsQuery = `
MATCH (p:Parent {id: $parent_id})
UNWIND $questions AS question
MERGE (q:Question {id: question.id})
SET q.text = question.text
MERGE (q)<-[:HAS_QUESTION]-(p)
WITH q, question
CALL db.create.setNodeVectorProperty(q, 'embedding', question.embedding)
RETURN count(*)`

const summaryQuery = `
MATCH (p:Parent {id: $parent_id})
MERGE (s:Summary {id: $summary_id})
SET s.text = $summary_text
MERGE (s)<-[:HAS_SUMMARY]-(p)
WITH s
CALL db.create.setNodeVectorProperty(s, 'embedding', $summary_embedding)
RETURN count(*)`

const questionsSystemPrompt = "You are generating hypothetical questions based on the information found in the text. Make sure to provide full context in the generated questions."

const questionsUserTemplate = "Use the given format to generate hypothetical questions from the following input: %s"

const summarySystemPrompt = "You are generating concise and accurate summaries based on the information found in the text."

const summaryUserTemplate = "Generate a summary of the following input: %s\nSummary:"

var questionsTool = adapter.Tool{
	Type: "function",
	Function: adapter.FunctionDefinition{
		Name:        "hypothetical_questions",
		Description: "Generating hypothetical questions about text.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"questions": map[string]interface{}{
					"type":        "array",
					"description": "Generated hypothetical questions",
					"items":       map[string]interface{}{"type": "string"},
				},
			},
			"required": []string{"questions"},
		},
	},
}
