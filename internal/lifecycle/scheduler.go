package lifecycle

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Locker grants a mutual-exclusion lease. ok is false when another holder
// has it.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// RedisLocker leases locks with SET NX PX so only one instance runs a
// pass at a time.
type RedisLocker struct {
	client *redis.Client
	prefix string
}

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// NewRedisLocker connects to redis and checks the connection.
func NewRedisLocker(ctx context.Context, addr, password string, db int) (*RedisLocker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &RedisLocker{client: client, prefix: "memengine:lock:"}, nil
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	token, err := newToken()
	if err != nil {
		return nil, false, err
	}
	k := l.prefix + key
	ok, err := l.client.SetNX(ctx, k, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	release := func() {
		// The lease may have expired; a stale release must not drop a
		// newer holder's lock.
		releaseScript.Run(context.Background(), l.client, []string{k}, token)
	}
	return release, true, nil
}

func (l *RedisLocker) Close() error {
	return l.client.Close()
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// ErrLocked is returned by RunOnce when another instance holds the lock.
var ErrLocked = errors.New("decay pass already running elsewhere")

const lockKey = "decay"

// Scheduler runs decay passes on a cron schedule. Specs use the standard
// five-field format or descriptors such as "@daily".
type Scheduler struct {
	cron    *cron.Cron
	decayer *Decayer
	params  DecayParams
	locker  Locker
	ttl     time.Duration
	logger  *zap.Logger
}

// NewScheduler creates a scheduler. locker may be nil, in which case
// overlapping passes across instances are tolerated.
func NewScheduler(d *Decayer, p DecayParams, locker Locker, ttl time.Duration, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Scheduler{
		cron:    cron.New(),
		decayer: d,
		params:  p,
		locker:  locker,
		ttl:     ttl,
		logger:  logger.With(zap.String("component", "scheduler")),
	}
}

// Register adds the decay pass at spec.
func (s *Scheduler) Register(spec string) error {
	_, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.ttl)
		defer cancel()

		s.logger.Info("scheduled decay pass fired", zap.String("spec", spec))
		if _, err := s.RunOnce(ctx); err != nil {
			if errors.Is(err, ErrLocked) {
				s.logger.Info("decay pass skipped, lock held elsewhere")
				return
			}
			s.logger.Error("scheduled decay pass failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("registering cron %q: %w", spec, err)
	}
	return nil
}

// RunOnce runs one pass under the lock, if any.
func (s *Scheduler) RunOnce(ctx context.Context) (DecayResult, error) {
	if s.locker != nil {
		release, ok, err := s.locker.Acquire(ctx, lockKey, s.ttl)
		if err != nil {
			return DecayResult{}, err
		}
		if !ok {
			return DecayResult{}, ErrLocked
		}
		defer release()
	}
	return s.decayer.RunDecayPass(ctx, s.params)
}

// Start begins executing registered cron jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the scheduler and waits for a running pass to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Entries returns the number of registered cron entries.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}
