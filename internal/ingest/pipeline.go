// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Viking Contributors

package ingest

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/viking-dev/viking/internal/parser"
	"github.com/viking-dev/viking/internal/store"
	vikingerr "github.com/viking-dev/viking/pkg/errors"
)

// finalizeTimeout bounds the store writes made after a job context expired.
const finalizeTimeout = 10 * time.Second

// errLost means the resource left processing under a running job, for
// example because a recovery sweep requeued it.
var errLost = errors.New("resource no longer owned by this job")

// stageError is a pipeline failure tagged with where it happened.
type stageError struct {
	stage store.Stage
	kind  store.FailureKind
	err   error
}

func (e *stageError) Error() string { return string(e.stage) + ": " + e.err.Error() }

func (e *stageError) Unwrap() error { return e.err }

// process claims job.URI and runs it through every stage. Only the claim
// decides ownership: a worker that loses the queued -> processing race
// drops the job.
func (s *Scheduler) process(job Job) outcome {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.JobTimeout)
	defer cancel()

	logger := s.logger.With("job_id", job.ID, "uri", job.URI)

	r, err := s.deps.Resources.Get(ctx, job.URI)
	if err != nil {
		if !vikingerr.IsNotFound(err) {
			logger.Error("loading resource for job", "error", err)
		}
		return outcomeSkipped
	}
	if r.Status != store.StatusQueued {
		logger.Debug("job skipped, resource not queued", "status", string(r.Status))
		return outcomeSkipped
	}

	attempt := r.Attempts + 1
	r, err = s.deps.Resources.Transition(ctx, job.URI, store.StatusQueued, store.StatusProcessing,
		store.Payload{Stage: store.StageFetch, Attempts: &attempt})
	if err != nil {
		if vikingerr.IsConflict(err) {
			logger.Debug("job skipped, resource claimed elsewhere")
		} else {
			logger.Error("claiming resource", "error", err)
		}
		return outcomeSkipped
	}

	logger = logger.With("attempt", attempt)
	logger.Info("processing resource")
	started := time.Now()

	chunkIDs, err := s.runStages(ctx, r, logger)
	if errors.Is(err, errLost) {
		logger.Warn("job abandoned, resource changed status while processing")
		return outcomeSkipped
	}
	if err != nil {
		var se *stageError
		if !errors.As(err, &se) {
			se = &stageError{stage: store.StageNone, kind: store.FailureInternal, err: err}
		}
		s.fail(job.URI, se, logger)
		return outcomeFailed
	}

	logger.Info("resource processed",
		"chunks", len(chunkIDs),
		"duration", time.Since(started).Round(time.Millisecond),
	)
	return outcomeProcessed
}

// runStages fetches, parses, chunks, embeds, summarizes and indexes r. The
// vector upsert and the processed transition are the last two writes, so a
// failure anywhere earlier leaves nothing queryable.
func (s *Scheduler) runStages(ctx context.Context, r *store.Resource, logger *slog.Logger) ([]string, error) {
	uri := r.URI

	res, err := s.deps.Fetcher.Fetch(ctx, r.Locator)
	if err != nil {
		return nil, &stageError{stage: store.StageFetch, kind: store.FailureFetch, err: err}
	}

	mediaType := parser.Detect(res.MediaType, res.Name, res.Content)
	if err := s.advance(ctx, uri, store.Payload{
		Stage:     store.StageParse,
		MediaType: &mediaType,
		Digest:    &res.Digest,
	}); err != nil {
		return nil, err
	}

	doc, err := parser.Parse(res.Content, mediaType)
	if err != nil {
		return nil, &stageError{stage: store.StageParse, kind: parseFailureKind(err), err: err}
	}
	if err := s.scrub(ctx, doc, logger); err != nil {
		return nil, &stageError{stage: store.StageParse, kind: store.FailureInternal, err: err}
	}
	pieces := s.deps.Chunker.All(doc)
	if len(pieces) == 0 {
		return nil, &stageError{
			stage: store.StageParse,
			kind:  store.FailureEmptyContent,
			err:   vikingerr.New(vikingerr.CodeIngestParseEmptyContent, "document produced no chunks"),
		}
	}
	logger.Debug("document parsed", "media_type", mediaType, "chunks", len(pieces))

	if err := s.advance(ctx, uri, store.Payload{Stage: store.StageEmbed}); err != nil {
		return nil, err
	}
	texts := make([]string, len(pieces))
	for i, p := range pieces {
		texts[i] = p.Text
	}
	vectors, err := s.deps.Embedder.Embed(ctx, texts)
	if err == nil && len(vectors) != len(texts) {
		err = vikingerr.Errorf(vikingerr.CodeEmbeddingResponseInvalid,
			"embedder returned %d vectors for %d chunks", len(vectors), len(texts))
	}
	if err != nil {
		return nil, &stageError{stage: store.StageEmbed, kind: store.FailureEmbeddingUnavailable, err: err}
	}

	var abstract string
	if s.deps.Summarizer != nil {
		if err := s.advance(ctx, uri, store.Payload{Stage: store.StageSummarize}); err != nil {
			return nil, err
		}
		abstract, err = s.deps.Summarizer.Summarize(ctx, doc.Title, doc.Text)
		if err != nil {
			logger.Warn("summary failed, continuing without abstract",
				"summarizer", s.deps.Summarizer.Name(),
				"error", err,
			)
			abstract = ""
		}
	}

	if err := s.advance(ctx, uri, store.Payload{Stage: store.StageIndex}); err != nil {
		return nil, err
	}
	chunks := make([]store.Chunk, len(pieces))
	ids := make([]string, len(pieces))
	for i, p := range pieces {
		chunks[i] = store.Chunk{
			ResourceURI: uri,
			Seq:         p.Seq,
			Text:        p.Text,
			Start:       p.Start,
			End:         p.End,
			Vector:      vectors[i],
		}
		ids[i] = chunks[i].ID()
	}
	if err := s.deps.Vectors.Upsert(ctx, uri, chunks); err != nil {
		return nil, &stageError{stage: store.StageIndex, kind: store.FailureIndex, err: err}
	}

	_, err = s.deps.Resources.Transition(ctx, uri, store.StatusProcessing, store.StatusProcessed,
		store.Payload{ChunkIDs: ids, Abstract: &abstract})
	if vikingerr.IsConflict(err) {
		return nil, errLost
	}
	if err != nil {
		return nil, &stageError{stage: store.StageIndex, kind: store.FailureIndex, err: err}
	}
	s.waiters.notify(uri)
	return ids, nil
}

// scrub runs the credential filter over the document title and text. In
// redact mode matches are replaced before anything is chunked, embedded or
// summarized.
func (s *Scheduler) scrub(ctx context.Context, doc *parser.Document, logger *slog.Logger) error {
	f := s.deps.Filter
	if f == nil {
		return nil
	}

	var rules []string
	for _, field := range []*string{&doc.Title, &doc.Text} {
		text, result, err := f.Apply(ctx, *field)
		if err != nil {
			return err
		}
		*field = text
		for _, r := range result.Rules() {
			if !slices.Contains(rules, r) {
				rules = append(rules, r)
			}
		}
	}
	if len(rules) > 0 {
		logger.Warn("credentials found in document", "mode", string(f.Mode()), "rules", rules)
	}
	return nil
}

// advance records stage progress. It also refreshes the record's update
// time, which keeps a long job from looking stale.
func (s *Scheduler) advance(ctx context.Context, uri string, p store.Payload) error {
	_, err := s.deps.Resources.Transition(ctx, uri, store.StatusProcessing, store.StatusProcessing, p)
	if vikingerr.IsConflict(err) || vikingerr.IsNotFound(err) {
		return errLost
	}
	if err != nil {
		return &stageError{stage: p.Stage, kind: store.FailureInternal, err: err}
	}
	return nil
}

// fail moves uri to failed and drops its vectors. It uses its own context
// because the job's may already be done.
func (s *Scheduler) fail(uri string, se *stageError, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	failure := &store.Failure{Kind: se.kind, Detail: se.err.Error()}
	_, err := s.deps.Resources.Transition(ctx, uri, store.StatusProcessing, store.StatusFailed,
		store.Payload{Failure: failure})
	if err != nil {
		logger.Error("recording failure", "stage", string(se.stage), "kind", string(se.kind), "error", err)
		return
	}
	// A failed re-process leaves the previous vectors behind.
	if err := s.deps.Vectors.DeleteResource(ctx, uri); err != nil {
		logger.Error("removing vectors of failed resource", "error", err)
	}
	s.waiters.notify(uri)
	logger.Warn("resource failed",
		"stage", string(se.stage),
		"kind", string(se.kind),
		"error", se.err,
	)
}

// abort records a job whose run panicked. The pool has already logged the
// panic with its stack.
func (s *Scheduler) abort(job Job, err error) {
	s.fail(job.URI, &stageError{
		stage: store.StageNone,
		kind:  store.FailureInternal,
		err:   vikingerr.Wrap(err, vikingerr.CodeIngestInternalFailure, "pipeline aborted"),
	}, s.logger.With("job_id", job.ID, "uri", job.URI))
}

func parseFailureKind(err error) store.FailureKind {
	switch vikingerr.CodeOf(err) {
	case vikingerr.CodeIngestParseUnsupportedMediaType:
		return store.FailureUnsupportedMediaType
	case vikingerr.CodeIngestParseEmptyContent:
		return store.FailureEmptyContent
	}
	return store.FailureInternal
}
