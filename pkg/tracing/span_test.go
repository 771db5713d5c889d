package tracing

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestStagesShareTheRunTrace(t *testing.T) {
	ctx, root := StartSpan(context.Background(), "ingestion.run", "job-1")
	_, child := StartChildSpan(ctx, "aggregate")
	child.SetAttr("work_items", 3)
	child.End()

	if root.TraceID != "job-1" || child.TraceID != "job-1" {
		t.Errorf("trace ids = %q / %q, want job-1", root.TraceID, child.TraceID)
	}
	if kids := root.Children(); len(kids) != 1 || kids[0] != child {
		t.Errorf("children = %v", kids)
	}
	if child.Attr("work_items") != 3 {
		t.Errorf("work_items = %v", child.Attr("work_items"))
	}
	if SpanFromContext(context.Background()) != nil {
		t.Error("expected no span on bare context")
	}
	if _, r := StartSpan(context.Background(), "backfill", ""); r.TraceID == "" {
		t.Error("run without a job id got no trace id")
	}
}

func TestFinishLogsOneLinePerRun(t *testing.T) {
	buf := captureLogs(t)
	ctx, root := StartSpan(context.Background(), "ingestion.run", "job-2")
	_, agg := StartChildSpan(ctx, "aggregate")
	agg.End()
	_, fan := StartChildSpan(ctx, "fetch_and_publish")
	fan.SetAttr("work_items", 4)
	root.Finish()

	out := strings.TrimSpace(buf.String())
	if strings.Count(out, "\n") != 0 {
		t.Fatalf("want a single log line, got:\n%s", out)
	}
	for _, want := range []string{"level=INFO", "trace_id=job-2", "run=ingestion.run", "aggregate.duration_ms=", "fetch_and_publish.work_items=4"} {
		if !strings.Contains(out, want) {
			t.Errorf("log line lacks %q: %s", want, out)
		}
	}
}

func TestFailedStageRaisesLevel(t *testing.T) {
	buf := captureLogs(t)
	ctx, root := StartSpan(context.Background(), "ingestion.run", "job-3")
	_, agg := StartChildSpan(ctx, "aggregate")
	agg.Fail(errors.New("store unavailable"))
	agg.Fail(errors.New("second"))
	agg.End()
	root.Finish()

	out := buf.String()
	if !strings.Contains(out, "level=WARN") || !strings.Contains(out, `aggregate.error="store unavailable"`) {
		t.Errorf("log = %s", out)
	}
}
