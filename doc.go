// Package docbrain is a question-answering backend for document
// knowledge bases.
//
// DocBrain ingests documents (PDF, DOCX, XLSX, PPTX, Markdown, HTML,
// CSV, images via OCR), chunks and embeds them into a vector store, and
// answers natural-language questions against them. A query router picks
// between three answering services per question: curated Q&A lookup for
// near-exact matches, retrieval-augmented generation over document
// chunks, and table-augmented generation that compiles questions into
// read-only SQL.
//
// # Quick Start
//
// Install the CLI:
//
//	go install github.com/docbrain-ai/docbrain/cmd/docbrain@latest
//
// Create a minimal configuration:
//
//	embedder:
//	  provider: openai
//	  api_key: ${OPENAI_API_KEY}
//	llm:
//	  providers:
//	    main:
//	      provider: anthropic
//	      api_key: ${ANTHROPIC_API_KEY}
//
// Start the server (sqlite metadata store and embedded chromem vectors
// by default, so nothing else needs to run):
//
//	docbrain serve --config docbrain.yaml
//
// Then create a knowledge base and upload a document:
//
//	curl -X POST localhost:8080/v1/knowledge-bases -d '{"name":"docs"}'
//	curl -X POST localhost:8080/v1/knowledge-bases/<id>/documents \
//	  -F file=@handbook.pdf
//	curl -X POST localhost:8080/v1/knowledge-bases/<id>/query \
//	  -d '{"query":"What is the refund policy?"}'
//
// # Using as a Go Library
//
// Import the packages directly:
//
//	import (
//	    "github.com/docbrain-ai/docbrain/pkg/config"
//	    "github.com/docbrain-ai/docbrain/pkg/ingest"
//	    "github.com/docbrain-ai/docbrain/pkg/query"
//	)
//
// # Architecture
//
// Ingestion and answering are queue-driven:
//
//	Upload → metastore row (PENDING) → job queue → extract, chunk,
//	embed, index → PROCESSED
//
//	Message → placeholder row (RECEIVED) → job queue → route, retrieve,
//	synthesize → PROCESSED
//
// The HTTP API returns immediately after enqueueing; clients poll the
// row for the terminal status. Workers run embedded in the server
// process or standalone via "docbrain worker".
package docbrain
