package tools

import (
	"fmt"
	"strings"

	"dune-rag/backend/internal/adapter"
	"dune-rag/backend/internal/history"
	"dune-rag/backend/internal/retrieval"
)

const cypherSystemPrompt = "Given an input question, convert it to a Cypher query. No pre-amble."

const cypherUserTemplate = `Based on the Neo4j graph schema below, write a Cypher query that would answer the user's question:
%s

Question: %s
Cypher query:`

// cypherStop keeps the model from continuing past the query into an
// imagined result
const cypherStop = "\nCypherResult:"

const qaSystemPrompt = "Given an input question and Cypher response, convert it to a natural language answer. No pre-amble."

const qaUserTemplate = `Based on the the question, Cypher query, and Cypher response, write a natural language response:
Question: %s
Cypher query: %s
Cypher Response: %s`

const condenseTemplate = `Given the following conversation and a follow up question, rephrase the follow up question to be a standalone question, in its original language.
Make sure to include all the relevant information.
Chat History:
%s
Follow Up Input: %s
Standalone question:`

const answerSystemTemplate = `Answer the question based only on the following context:
<context>
%s
</context>`

// historyMessages turns stored turns into alternating user/assistant
// messages. For the Cypher generator the assistant side is the query that was
// run, so earlier queries steer the next one.
func historyMessages(turns []history.Turn, useQuery bool) []adapter.Message {
	msgs := make([]adapter.Message, 0, len(turns)*2)
	for _, t := range turns {
		reply := t.Answer
		if useQuery && t.Tool == ToolGraph && t.Query != "" {
			reply = t.Query
		}
		msgs = append(msgs,
			adapter.Message{Role: adapter.RoleUser, Content: t.Question},
			adapter.Message{Role: adapter.RoleAssistant, Content: reply},
		)
	}
	return msgs
}

// chatHistoryText renders turns as a transcript for the condense prompt
func chatHistoryText(turns []history.Turn) string {
	var b strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&b, "Human: %s\nAssistant: %s\n", t.Question, t.Answer)
	}
	return strings.TrimRight(b.String(), "\n")
}

func contextText(passages []retrieval.Passage) string {
	texts := make([]string, 0, len(passages))
	for _, p := range passages {
		texts = append(texts, p.Text)
	}
	return strings.Join(texts, "\n\n")
}
