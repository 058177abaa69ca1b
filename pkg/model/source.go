package model

// Service identifies which retrieval strategy produced an answer.
type Service string

const (
	ServiceQuestions Service = "questions"
	ServiceRAG       Service = "rag"
	ServiceTAG       Service = "tag"
	ServiceUnknown   Service = "unknown"
)

// Source is one provenance entry attached to an assistant answer.
//
// Document sources fill DocumentID/Title/ChunkIndex; curated-question
// sources fill QuestionID/Question/Answer/AnswerType. Score is the
// retrieval score after any rerank and boost; OriginalScore preserves
// the pre-rerank similarity when a reranker ran.
type Source struct {
	Service Service `json:"service"`
	Score   float64 `json:"score"`
	Content string  `json:"content"`

	DocumentID string `json:"document_id,omitempty"`
	Title      string `json:"title,omitempty"`
	ChunkIndex int    `json:"chunk_index,omitempty"`
	Section    string `json:"section,omitempty"`

	QuestionID    string  `json:"question_id,omitempty"`
	Question      string  `json:"question,omitempty"`
	Answer        string  `json:"answer,omitempty"`
	AnswerType    string  `json:"answer_type,omitempty"`
	OriginalScore float64 `json:"original_score,omitempty"`
}

// RoutingInfo records how the router decided, for the assistant
// message's metadata.
type RoutingInfo struct {
	Service    Service `json:"service"`
	Confidence float64 `json:"confidence,omitempty"`
	Reasoning  string  `json:"reasoning,omitempty"`
	Fallback   bool    `json:"fallback"`
	Intent     string  `json:"intent,omitempty"`
}

// QueryResult is the router's complete answer to one user query.
type QueryResult struct {
	Answer      string      `json:"answer"`
	Service     Service     `json:"service"`
	Sources     []Source    `json:"sources"`
	RoutingInfo RoutingInfo `json:"routing_info"`
}
