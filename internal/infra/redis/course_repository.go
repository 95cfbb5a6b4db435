package redis

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"live-session-service/internal/domain"
	"live-session-service/internal/infra/memory"
)

// CourseRepository caches courses in Redis (one hash per course) and falls back
// to a loader on a miss:
//
//	HSET course:{courseID} id .. title .. courseCode .. description .. lecturerId ..
type CourseRepository struct {
	client *redis.Client
	loader memory.CourseLoader
	ttl    time.Duration
	sf     singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewCourseRepository(client *redis.Client, loader memory.CourseLoader, ttl time.Duration) *CourseRepository {
	return &CourseRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *CourseRepository) GetCourse(ctx context.Context, courseID string) (domain.Course, error) {
	if course, ok := r.cached(ctx, courseID); ok {
		return course, nil
	}

	result, err, _ := r.sf.Do(courseID, func() (interface{}, error) {
		// another caller may have filled it while we waited
		if course, ok := r.cached(ctx, courseID); ok {
			return course, nil
		}

		course, err := r.loader.LoadCourse(ctx, courseID)
		if err != nil {
			return domain.Course{}, err
		}

		key := r.key(courseID)
		pipe := r.client.Pipeline()
		pipe.HSet(ctx, key, map[string]interface{}{
			"id":          course.ID,
			"title":       course.Title,
			"courseCode":  course.CourseCode,
			"description": course.Description,
			"lecturerId":  course.LecturerID,
		})
		if ttl := r.ttlWithJitter(); ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		// a failed cache fill only costs the next reader a reload
		_, _ = pipe.Exec(ctx)
		return course, nil
	})
	if err != nil {
		return domain.Course{}, err
	}
	return result.(domain.Course), nil
}

// Invalidate drops a cached course after the course owner changes it.
func (r *CourseRepository) Invalidate(ctx context.Context, courseID string) error {
	return errors.Wrap(r.client.Del(ctx, r.key(courseID)).Err(), "invalidate course")
}

func (r *CourseRepository) cached(ctx context.Context, courseID string) (domain.Course, bool) {
	fields, err := r.client.HGetAll(ctx, r.key(courseID)).Result()
	if err != nil || len(fields) == 0 {
		return domain.Course{}, false
	}
	return domain.Course{
		ID:          fields["id"],
		Title:       fields["title"],
		CourseCode:  fields["courseCode"],
		Description: fields["description"],
		LecturerID:  fields["lecturerId"],
	}, true
}

func (r *CourseRepository) key(courseID string) string {
	return "course:" + courseID
}

func (r *CourseRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
