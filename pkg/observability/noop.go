package observability

import (
	"context"
	"time"
)

// NoopMetrics implements Metrics and records nothing.
type NoopMetrics struct{}

func (NoopMetrics) RecordHTTPRequest(context.Context, string, string, int, time.Duration) {}

func (NoopMetrics) RecordIngestion(context.Context, string, time.Duration, int, error) {}

func (NoopMetrics) RecordQuery(context.Context, string, time.Duration, error) {}

func (NoopMetrics) RecordLLMCall(context.Context, string, time.Duration, int, int, error) {}

func (NoopMetrics) RecordEmbedding(context.Context, string, time.Duration, int, error) {}

func (NoopMetrics) RecordTask(context.Context, string, time.Duration, error) {}

func (NoopMetrics) RecordVectorSearch(context.Context, string, time.Duration, error) {}
