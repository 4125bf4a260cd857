package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/parlorhq/parlor/internal/chat"
	"github.com/parlorhq/parlor/internal/image"
	"github.com/parlorhq/parlor/internal/store/redisstore"
)

// Notifier publishes cross-process sync notices. Nil disables them.
type Notifier interface {
	PublishNotice(ctx context.Context, n redisstore.Notice) error
}

// ImageJobRunner executes queued image generation jobs in the worker
// process: generate, persist the asset, append the referencing bot
// message, then signal server processes to rebroadcast.
type ImageJobRunner struct {
	store    *chat.Store
	images   Generator
	notifier Notifier

	apiKey        string
	publicBaseURL string
	log           *slog.Logger
}

func NewImageJobRunner(store *chat.Store, images Generator, notifier Notifier, apiKey, publicBaseURL string, logger *slog.Logger) *ImageJobRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &ImageJobRunner{
		store:         store,
		images:        images,
		notifier:      notifier,
		apiKey:        apiKey,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		log:           logger.With("component", "image_job_runner"),
	}
}

func (r *ImageJobRunner) Run(ctx context.Context, jobID string) error {
	_ = r.store.MarkImageJobRunning(ctx, jobID)

	job, err := r.store.GetImageJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}

	data, err := r.images.Generate(ctx, r.apiKey, job.Prompt)
	if err != nil {
		return r.fail(ctx, job, err)
	}

	asset, err := r.store.CreateImageAsset(ctx, data, job.Prompt, image.SanitizePrompt(job.Prompt))
	if err != nil {
		return r.fail(ctx, job, err)
	}

	prompt := job.Prompt
	msg := &chat.Message{
		Role:    chat.RoleBot,
		Content: r.publicBaseURL + "/images/" + asset.ID,
		Prompt:  &prompt,
		ImageID: &asset.ID,
	}
	if err := r.store.AppendMessage(ctx, job.ChatID, msg); err != nil {
		// The chat may have been deleted while the job was queued; drop
		// the asset so no orphaned blob remains.
		if delErr := r.store.DeleteImageAsset(ctx, asset.ID); delErr != nil {
			r.log.Error("release asset after failed append", "asset_id", asset.ID, "error", delErr)
		}
		return r.fail(ctx, job, err)
	}

	if err := r.store.MarkImageJobSucceeded(ctx, job.ID, msg.ID); err != nil {
		r.log.Error("mark job succeeded", "job_id", job.ID, "error", err)
	}

	r.notify(ctx, redisstore.Notice{Kind: redisstore.NoticeSync, ChatID: job.ChatID})
	r.notify(ctx, redisstore.Notice{Kind: redisstore.NoticeDone, ChatID: job.ChatID})
	return nil
}

func (r *ImageJobRunner) fail(ctx context.Context, job *chat.ImageJob, cause error) error {
	if err := r.store.MarkImageJobFailed(ctx, job.ID, cause.Error()); err != nil {
		r.log.Error("mark job failed", "job_id", job.ID, "error", err)
	}
	r.notify(ctx, redisstore.Notice{Kind: redisstore.NoticeError, ChatID: job.ChatID, Message: cause.Error()})
	return fmt.Errorf("image job %s: %w", job.ID, cause)
}

func (r *ImageJobRunner) notify(ctx context.Context, n redisstore.Notice) {
	if r.notifier == nil {
		return
	}
	if err := r.notifier.PublishNotice(ctx, n); err != nil {
		r.log.Error("publish notice", "kind", n.Kind, "error", err)
	}
}
