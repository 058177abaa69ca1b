package prompts

// ============================================================================
// BUILT-IN TEMPLATES
// ============================================================================

// Domains group templates by the pipeline that uses them.
const (
	DomainRouter = "router"
	DomainRag    = "rag"
	DomainTag    = "tag"
	DomainIngest = "ingest"
	DomainRerank = "rerank"
)

// Template names.
const (
	RouterClassify = "classify"
	RouterRefine   = "refine"

	RagPreselect    = "preselect"
	RagSubQuestions = "sub_questions"
	RagVariations   = "variations"
	RagIntent       = "intent"
	RagSynthesis    = "synthesis"

	// Per-intent synthesis guidance lives under guidance_<intent>.
	RagGuidancePrefix  = "guidance_"
	RagGuidanceDefault = "guidance_default"

	TagSQL = "sql"

	IngestSummarize = "summarize"
	IngestOCRLayout = "ocr_layout"
	IngestOCRPlain  = "ocr_plain"

	RerankSystem = "system"
)

func (r *Registry) registerDefaults() {
	d := r.defaults

	d[promptKey(DomainRouter, RouterClassify)] = `You route user queries for a knowledge base assistant. Choose the service that should answer.

Services:
- "tag": the query asks for structured data that requires querying tables, such as counts, aggregations, or filters over records
- "rag": the query asks about the content of documents

Query: {{query}}

Respond with JSON only, no other text:
{"service": "tag" or "rag", "confidence": <number between 0.0 and 1.0>, "reasoning": "<one short sentence>"}`

	d[promptKey(DomainRouter, RouterRefine)] = `A user asked: {{query}}

The knowledge base contains this curated answer:
Question: {{question}}
Answer: {{answer}}

Rewrite the curated answer so it directly addresses the user's question. Keep every fact from the curated answer and add nothing that is not in it. Output only the rewritten answer.`

	d[promptKey(DomainRag, RagPreselect)] = `Select the documents that could contain an answer to the query.

Query: {{query}}

Documents:
{{documents}}

Respond with exactly one line in this format:
RELEVANT_DOCUMENTS: <comma-separated document numbers, for example: doc_1,doc_3>

If none of the documents are relevant, respond with:
RELEVANT_DOCUMENTS: NONE`

	d[promptKey(DomainRag, RagSubQuestions)] = `The query did not match any indexed content directly. Break it into 2 or 3 simpler sub-questions that together cover it. Each sub-question should target one fact and use vocabulary likely to appear in the documents.

Query: {{query}}

Documents available:
{{documents}}

Respond with one sub-question per line in this format:
SUBQUESTION: <question> | RATIONALE: <one short reason>`

	d[promptKey(DomainRag, RagVariations)] = `Rephrase the query in 3 to 5 different ways. Vary the wording and sentence structure while keeping the meaning, so at least one phrasing matches how the documents express it.

Query: {{query}}

Respond with one phrasing per line. No numbering, no commentary.`

	d[promptKey(DomainRag, RagIntent)] = `Classify the intent of the query as exactly one of: {{intents}}.

Query: {{query}}

Respond with only the intent name.`

	d[promptKey(DomainRag, RagSynthesis)] = `Answer the question using only the provided sources.

Question: {{query}}

Sources:
{{context}}

Rules:
- Use only information from the sources above. If they do not contain the answer, say so plainly.
- Cite the sources you use inline as [Source 1], [Source 2], and so on. Every factual claim needs a citation.
- {{guidance}}`

	d[promptKey(DomainRag, RagGuidancePrefix+"factoid")] = `Answer concisely with the specific fact requested.`
	d[promptKey(DomainRag, RagGuidancePrefix+"comparison")] = `Organize the answer around the items being compared and contrast them point by point.`
	d[promptKey(DomainRag, RagGuidancePrefix+"explanation")] = `Explain step by step with enough detail for the answer to stand alone.`
	d[promptKey(DomainRag, RagGuidancePrefix+"list")] = `Answer as a bullet list with one item per line.`
	d[promptKey(DomainRag, RagGuidancePrefix+"procedural")] = `Answer as numbered steps in the order they must be performed.`
	d[promptKey(DomainRag, RagGuidancePrefix+"definition")] = `Start with a one-sentence definition, then add clarifying detail from the sources.`
	d[promptKey(DomainRag, RagGuidancePrefix+"cause_effect")] = `State the cause and the effect explicitly, and the mechanism connecting them.`
	d[promptKey(DomainRag, RagGuidancePrefix+"analysis")] = `Weigh the evidence from the sources and state a reasoned conclusion.`
	d[promptKey(DomainRag, RagGuidanceDefault)] = `Answer as directly as the sources allow.`

	d[promptKey(DomainTag, TagSQL)] = `Generate a single read-only SQL SELECT statement that answers the question using the schema below.

Schema:
{{schema}}

Question: {{query}}

Rules:
- One SELECT statement only. No INSERT, UPDATE, DELETE, DDL, or comments.
- Use only tables and columns present in the schema.

Respond with the SQL statement only.`

	d[promptKey(DomainIngest, IngestSummarize)] = `Summarize the document below in at most 400 words. Cover the document's purpose, its main topics, and any names, numbers, or terms a reader might search for. Output only the summary.

Title: {{title}}

Content:
{{content}}`

	d[promptKey(DomainIngest, IngestOCRLayout)] = `Extract all text from this image. Preserve the reading order and layout: keep headings on their own lines, reproduce tables using | between columns, and keep list structure. Output only the extracted text, no commentary.`

	d[promptKey(DomainIngest, IngestOCRPlain)] = `Extract all text visible in this image. Output only the text.`

	d[promptKey(DomainRerank, RerankSystem)] = `You are a search result reranking assistant. Given a query and a set of search results, return a JSON array of result IDs ordered from most to least relevant to the query. Exclude results that are clearly irrelevant. Return only the JSON array, nothing else.`
}
