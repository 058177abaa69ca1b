package model

import (
	"fmt"
	"strings"
)

// ============================================================================
// VECTOR RECORD LAYOUT
// ============================================================================

// The vector index is partitioned into namespaces: one per knowledge base
// for document chunks, a derived one per knowledge base for curated
// questions, and a reserved one for document summaries. Record ids are
// deterministic so re-ingestion overwrites instead of duplicating.

// SummaryNamespace holds one summary record per document, across all
// knowledge bases.
const SummaryNamespace = "summaries"

// questionNamespacePrefix keeps curated-question records out of the chunk
// namespace they would otherwise share.
const questionNamespacePrefix = "questions:"

// questionIDPrefix marks curated-question record ids.
const questionIDPrefix = "question:"

// ChunkNamespace returns the namespace holding a knowledge base's chunks.
func ChunkNamespace(knowledgeBaseID string) string {
	return knowledgeBaseID
}

// QuestionNamespace returns the namespace holding a knowledge base's
// curated-question records.
func QuestionNamespace(knowledgeBaseID string) string {
	return questionNamespacePrefix + knowledgeBaseID
}

// ChunkRecordID builds the deterministic id of one chunk record.
func ChunkRecordID(documentID string, chunkIndex int, sizeClass string) string {
	return fmt.Sprintf("%s_%d_%s", documentID, chunkIndex, sizeClass)
}

// QuestionRecordID builds the deterministic id of a curated-question
// record.
func QuestionRecordID(questionID string) string {
	return questionIDPrefix + questionID
}

// QuestionText is the text embedded for a curated Q&A pair.
func QuestionText(question, answer string) string {
	return fmt.Sprintf("Question: %s\nAnswer: %s", question, answer)
}

// Metadata keys shared by chunk, summary, and question records.
const (
	MetaDocumentID      = "document_id"
	MetaKnowledgeBaseID = "knowledge_base_id"
	MetaChunkIndex      = "chunk_index"
	MetaChunkSize       = "chunk_size"
	MetaDocTitle        = "doc_title"
	MetaDocType         = "doc_type"
	MetaSection         = "section"
	MetaPath            = "path"
	MetaContent         = "content"
	MetaSummary         = "summary"
	MetaQuestionID      = "question_id"
	MetaAnswerType      = "answer_type"
	MetaQuestion        = "question"
	MetaAnswer          = "answer"
	MetaUserID          = "user_id"
)

// IsQuestionRecordID reports whether a record id belongs to a curated
// question, and returns the bare question id when it does.
func IsQuestionRecordID(id string) (string, bool) {
	if rest, ok := strings.CutPrefix(id, questionIDPrefix); ok {
		return rest, true
	}
	return "", false
}
