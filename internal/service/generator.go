package service

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/viboost/comment-engine-go/internal/config"
	"github.com/viboost/comment-engine-go/internal/model"
	"github.com/viboost/comment-engine-go/internal/repository"
)

// fallbackComment keeps a batch moving when templates are empty and the AI
// path fails end to end.
const fallbackComment = "Really enjoyed this, keep them coming!"

// titleFetcher and completer are the two external calls the generator
// makes, narrowed so tests can fake them.
type titleFetcher interface {
	VideoTitle(ctx context.Context, videoID string) (string, error)
}

type completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Generator produces the text for one comment: a random template pick, or a
// one-shot LLM synthesis from the target video's title.
type Generator struct {
	schedules repository.ScheduleRepository
	metadata  titleFetcher
	llm       completer
	rng       *rand.Rand
}

func NewGenerator(schedules repository.ScheduleRepository, metadata titleFetcher, llm completer) *Generator {
	return &Generator{
		schedules: schedules,
		metadata:  metadata,
		llm:       llm,
		rng:       rand.New(rand.NewSource(rand.Int63())),
	}
}

// Generate never fails the batch: any AI or metadata failure falls back to
// the template pool, then to the hard-coded default.
func (g *Generator) Generate(ctx context.Context, schedule *model.Schedule, videoID string) string {
	if schedule.UseAI {
		if text, err := g.generateWithAI(ctx, schedule, videoID); err == nil {
			return text
		} else {
			log.Warn().
				Err(err).
				Str("scheduleId", schedule.ID).
				Str("videoId", videoID).
				Msg("ai comment generation failed, falling back to templates")
		}
	}
	return g.pickTemplate(schedule)
}

func (g *Generator) pickTemplate(schedule *model.Schedule) string {
	if len(schedule.CommentTemplates) == 0 {
		return fallbackComment
	}
	return schedule.CommentTemplates[g.rng.Intn(len(schedule.CommentTemplates))]
}

func (g *Generator) generateWithAI(ctx context.Context, schedule *model.Schedule, videoID string) (string, error) {
	title, err := g.fetchTitle(ctx, videoID)
	if err != nil {
		return "", err
	}

	prompt := fmt.Sprintf(
		"Write one short, enthusiastic YouTube comment for a video titled %q. Reply with the comment text only.",
		title,
	)
	text, err := g.llm.Complete(ctx, prompt)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("llm returned empty comment")
	}

	// Grow the curated pool so later batches benefit even without the LLM.
	if err := g.schedules.AppendCommentTemplate(ctx, schedule.ID, text); err != nil {
		log.Warn().Err(err).Str("scheduleId", schedule.ID).Msg("could not append generated template")
	}
	return text, nil
}

// fetchTitle retries the metadata lookup three times with 1s/2s/4s backoff,
// each attempt bounded by its own timeout.
func (g *Generator) fetchTitle(ctx context.Context, videoID string) (string, error) {
	var lastErr error
	backoff := time.Second
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		attemptCtx, cancel := context.WithTimeout(ctx, config.MetadataTimeout)
		title, err := g.metadata.VideoTitle(attemptCtx, videoID)
		cancel()
		if err == nil {
			return title, nil
		}
		lastErr = err
	}
	return "", fmt.Errorf("fetch video title: %w", lastErr)
}
