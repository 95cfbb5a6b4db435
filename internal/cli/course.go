package cli

import (
	"context"
	"errors"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"live-session-service/internal/config"
	"live-session-service/internal/infra/memory"
	redisinfra "live-session-service/internal/infra/redis"
)

// NewInvalidateCourseCmd drops cached course entries so the next read reloads
// them from the courses table after an external edit.
func NewInvalidateCourseCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "invalidate-course COURSE_ID...",
		Short: "Drop cached courses from Redis",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Log.Level, cfg.Log.Format)
			if cfg.Redis.Addr == "" {
				return errors.New("redis addr not configured; the in-process cache expires on its own")
			}
			client := redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			defer client.Close()
			return invalidateCourses(cmd.Context(), client, args, logger)
		},
	}
}

func invalidateCourses(ctx context.Context, client *redis.Client, courseIDs []string, logger *slog.Logger) error {
	// invalidation never loads, so no loader is needed
	repo := redisinfra.NewCourseRepository(client, memory.NewStaticCourseLoader(nil), 0)
	for _, id := range courseIDs {
		if err := repo.Invalidate(ctx, id); err != nil {
			return err
		}
		logger.Info("course cache invalidated", "course_id", id)
	}
	return nil
}
