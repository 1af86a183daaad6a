package history

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"dune-rag/backend/pkg/logger"
)

// Neo4jStore keeps history in the knowledge graph itself:
//
//	(:User)-[:HAS_SESSION]->(:Session)-[:LAST_MESSAGE]->(:Question)-[:HAS_ANSWER]->(:Answer)
//
// with earlier questions chained to later ones by [:NEXT].
type Neo4jStore struct {
	driver   neo4j.DriverWithContext
	database string
	logger   *zap.Logger
}

// NewNeo4jStore creates a store on a shared driver
func NewNeo4jStore(driver neo4j.DriverWithContext, database string) *Neo4jStore {
	return &Neo4jStore{
		driver:   driver,
		database: database,
		logger:   logger.Named("history"),
	}
}

var historyConstraints = []string{
	"CREATE CONSTRAINT history_user_id_unique IF NOT EXISTS FOR (u:User) REQUIRE u.id IS UNIQUE",
	"CREATE CONSTRAINT history_session_key_unique IF NOT EXISTS FOR (s:Session) REQUIRE s.key IS UNIQUE",
}

// EnsureConstraints creates the uniqueness constraints the append MERGEs
// depend on. Without them two first appends for one session can each create
// their own User and Session nodes.
func (s *Neo4jStore) EnsureConstraints(ctx context.Context) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: s.database,
	})
	defer session.Close(ctx)

	for _, c := range historyConstraints {
		_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
			res, err := tx.Run(ctx, c, nil)
			if err != nil {
				return nil, err
			}
			return res.Consume(ctx)
		})
		if err != nil {
			return fmt.Errorf("failed to create history constraint: %w", err)
		}
	}
	return nil
}

// Sessions are merged on their composite key, which is unique, so the merge
// takes the constraint lock. Updating s.turns then takes the session's write
// lock before the LAST_MESSAGE edge is read, so concurrent appends to one
// session queue up behind each other and the NEXT chain stays linear.
const appendTurnQuery = `
MERGE (u:User {id: $userID})
MERGE (s:Session {key: $sessionKey})
  ON CREATE SET s.id = $sessionID
MERGE (u)-[:HAS_SESSION]->(s)
SET s.turns = coalesce(s.turns, 0) + 1
WITH s, s.turns AS seq
OPTIONAL MATCH (s)-[lm:LAST_MESSAGE]->(last:Question)
CREATE (q:Question {id: $id, text: $question, cypher: $query, tool: $tool, date: $createdAt, seq: seq})
CREATE (q)-[:HAS_ANSWER]->(:Answer {text: $answer})
CREATE (s)-[:LAST_MESSAGE]->(q)
FOREACH (_ IN CASE WHEN last IS NULL THEN [] ELSE [1] END | CREATE (last)-[:NEXT]->(q))
DELETE lm
RETURN seq
`

const readTurnsQuery = `
MATCH (s:Session {key: $sessionKey})
MATCH (s)-[:LAST_MESSAGE]->(:Question)<-[:NEXT*0..]-(q:Question)
OPTIONAL MATCH (q)-[:HAS_ANSWER]->(a:Answer)
RETURN q.id AS id, q.text AS question, q.cypher AS query, q.tool AS tool,
       q.date AS createdAt, a.text AS answer
ORDER BY q.seq ASC
`

// Append writes the turn and moves the session's LAST_MESSAGE pointer in one
// write transaction
func (s *Neo4jStore) Append(ctx context.Context, turn Turn) error {
	turn = prepare(turn)

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: s.database,
	})
	defer session.Close(ctx)

	seq, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		res, err := tx.Run(ctx, appendTurnQuery, map[string]interface{}{
			"userID":     turn.UserID,
			"sessionID":  turn.SessionID,
			"sessionKey": compositeKey(turn.UserID, turn.SessionID),
			"id":         turn.ID,
			"question":   turn.Question,
			"query":      turn.Query,
			"tool":       turn.Tool,
			"answer":     turn.Answer,
			"createdAt":  turn.CreatedAt,
		})
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		v, _ := record.Get("seq")
		return v, nil
	})
	if err != nil {
		return fmt.Errorf("failed to append turn: %w", err)
	}

	s.logger.Debug("Turn appended",
		zap.String("user_id", turn.UserID),
		zap.String("session_id", turn.SessionID),
		zap.Any("seq", seq),
	)
	return nil
}

// Read walks the session's question chain, oldest first
func (s *Neo4jStore) Read(ctx context.Context, userID, sessionID string) ([]Turn, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: s.database,
	})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		res, err := tx.Run(ctx, readTurnsQuery, map[string]interface{}{
			"sessionKey": compositeKey(userID, sessionID),
		})
		if err != nil {
			return nil, err
		}

		turns := make([]Turn, 0)
		for res.Next(ctx) {
			record := res.Record()
			turns = append(turns, Turn{
				ID:        getStringFromRecord(record, "id"),
				UserID:    userID,
				SessionID: sessionID,
				Tool:      getStringFromRecord(record, "tool"),
				Question:  getStringFromRecord(record, "question"),
				Query:     getStringFromRecord(record, "query"),
				Answer:    getStringFromRecord(record, "answer"),
				CreatedAt: getTimeFromRecord(record, "createdAt"),
			})
		}
		return turns, res.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read turns: %w", err)
	}
	return result.([]Turn), nil
}

func getStringFromRecord(record *neo4j.Record, key string) string {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return ""
	}
	if str, ok := val.(string); ok {
		return str
	}
	return ""
}

func getTimeFromRecord(record *neo4j.Record, key string) time.Time {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return time.Time{}
	}
	// Neo4j datetime values come as time.Time
	if t, ok := val.(time.Time); ok {
		return t
	}
	return time.Time{}
}
