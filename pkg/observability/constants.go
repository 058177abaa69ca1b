package observability

// Span names.
const (
	SpanHTTPRequest    = "docbrain.http.request"
	SpanQuery          = "docbrain.query"
	SpanIngestDocument = "docbrain.ingest.document"
	SpanIngestQuestion = "docbrain.ingest.question"
	SpanTask           = "docbrain.task"
	SpanLLMCall        = "docbrain.llm.call"
	SpanEmbedding      = "docbrain.embedding"
	SpanVectorSearch   = "docbrain.vector.search"
)

// Span attribute keys.
const (
	AttrHTTPMethod       = "http.method"
	AttrHTTPPath         = "http.path"
	AttrHTTPStatusCode   = "http.status_code"
	AttrHTTPResponseSize = "http.response_size"
	AttrErrorType        = "error.type"

	AttrService       = "docbrain.service"
	AttrDocType       = "docbrain.doc_type"
	AttrTask          = "docbrain.task"
	AttrModel         = "docbrain.model"
	AttrNamespace     = "docbrain.namespace"
	AttrKnowledgeBase = "docbrain.knowledge_base"
)
