package workout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"backend-pushupcounter/internal/db"
	"backend-pushupcounter/internal/events"
	"backend-pushupcounter/internal/pipeline"
	"backend-pushupcounter/internal/processor"
	"backend-pushupcounter/internal/storage"
	"backend-pushupcounter/internal/stream"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
)

var (
	ErrNotFound    = errors.New("session not found")
	ErrProcessing  = errors.New("video processing failed")
	// ErrUnavailable is returned by lookups when no database is configured.
	ErrUnavailable = errors.New("session store unavailable")
)

const (
	progressEvery   = 15
	defaultCacheTTL = 24 * time.Hour
	defaultLimit    = 20
	maxLimit        = 100
)

// Runner turns an input video into an annotated output and a count.
// *processor.Processor implements it.
type Runner interface {
	Run(ctx context.Context, in, out string, progress processor.Progress) (pipeline.Result, error)
}

type Options struct {
	BaseURL        string
	CacheTTL       time.Duration
	MaxUploadBytes int64
}

type Service struct {
	db     db.Querier
	cache  *redis.Client
	hub    *stream.Hub
	events events.Publisher
	store  *storage.Service
	runner Runner
	opts   Options
}

func NewService(db db.Querier, cache *redis.Client, hub *stream.Hub, pub events.Publisher, store *storage.Service, runner Runner, opts Options) *Service {
	if pub == nil {
		pub = events.Noop{}
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultCacheTTL
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &Service{db: db, cache: cache, hub: hub, events: pub, store: store, runner: runner, opts: opts}
}

// Process counts push-ups in the uploaded video. Every call gets its own
// session and counter. A failed session is still recorded together with
// whatever count was reached, and the returned error wraps ErrProcessing.
// Without a database the session is only cached and announced.
func (s *Service) Process(ctx context.Context, userID, filename string, body io.Reader) (Session, error) {
	session := Session{
		ID:         uuid.NewString(),
		UserID:     userID,
		SourceName: filename,
		Status:     StatusProcessing,
	}

	if err := s.create(ctx, &session); err != nil {
		return Session{}, err
	}

	log := slog.With("session_id", session.ID, "source", filename)
	log.Info("workout session started")

	res, runErr := s.run(ctx, session.ID, filename, body)
	session.Count = res.Count
	session.Frames = res.Frames
	session.Unknown = res.Unknown
	session.Partial = res.Partial

	completedAt := time.Now().UTC()
	session.CompletedAt = &completedAt
	if runErr != nil {
		session.Status = StatusFailed
		session.Error = runErr.Error()
	} else {
		session.Status = StatusCompleted
		session.VideoName = storage.OutputName(session.ID)
		session.VideoURL = s.videoURL(session.VideoName)
	}

	if err := s.finish(context.WithoutCancel(ctx), session); err != nil {
		return session, errors.Join(runErr, err)
	}

	if runErr != nil {
		log.Warn("workout session failed", "count", session.Count, "frames", session.Frames, "error", runErr)
		return session, fmt.Errorf("%w: %w", ErrProcessing, runErr)
	}
	log.Info("workout session completed", "count", session.Count, "frames", session.Frames)
	return session, nil
}

func (s *Service) create(ctx context.Context, session *Session) error {
	if s.db == nil {
		session.CreatedAt = time.Now().UTC()
		return nil
	}
	row := s.db.QueryRow(ctx, `
		INSERT INTO workout_sessions (id, user_id, source_name, status)
		VALUES ($1,$2,$3,$4)
		RETURNING created_at
	`, session.ID, session.UserID, session.SourceName, session.Status)
	return row.Scan(&session.CreatedAt)
}

func (s *Service) run(ctx context.Context, sessionID, filename string, body io.Reader) (pipeline.Result, error) {
	staged, err := s.store.Stage(filename, body, s.opts.MaxUploadBytes)
	if err != nil {
		return pipeline.Result{}, err
	}
	defer s.store.Remove(staged)

	outName := storage.OutputName(sessionID)
	outPath, err := s.store.OutputPath(outName)
	if err != nil {
		return pipeline.Result{}, err
	}

	lastCount := 0
	progress := func(frames, count int) {
		if frames%progressEvery != 0 && count == lastCount {
			return
		}
		lastCount = count
		s.publishProgress(ctx, stream.Progress{
			SessionID: sessionID,
			Status:    StatusProcessing,
			Frames:    frames,
			Count:     count,
		})
	}

	res, err := s.runner.Run(ctx, staged, outPath, progress)
	if err != nil {
		s.store.Remove(outPath)
		return res, err
	}

	if _, err := s.store.SaveObject(ctx, sessionID, outName, "video"); err != nil {
		return res, fmt.Errorf("record output: %w", err)
	}
	return res, nil
}

// finish persists the final state and notifies viewers and subscribers.
func (s *Service) finish(ctx context.Context, session Session) error {
	if s.db != nil {
		_, err := s.db.Exec(ctx, `
			UPDATE workout_sessions
			SET status=$2, push_up_count=$3, frame_count=$4, unknown_frames=$5,
			    video_name=NULLIF($6,''), error=NULLIF($7,''), completed_at=$8, partial=$9
			WHERE id=$1
		`, session.ID, session.Status, session.Count, session.Frames, session.Unknown,
			session.VideoName, session.Error, session.CompletedAt, session.Partial)
		if err != nil {
			return err
		}
	}

	s.cacheSession(ctx, session)

	s.publishProgress(ctx, stream.Progress{
		SessionID: session.ID,
		Status:    session.Status,
		Frames:    session.Frames,
		Count:     session.Count,
		Done:      true,
		Error:     session.Error,
	})

	event := events.SessionCompleted{
		SessionID:   session.ID,
		UserID:      session.UserID,
		Status:      session.Status,
		Count:       session.Count,
		Frames:      session.Frames,
		VideoName:   session.VideoName,
		Error:       session.Error,
		CompletedAt: *session.CompletedAt,
	}
	if err := s.events.Publish(ctx, event); err != nil {
		slog.Warn("publish session event failed", "session_id", session.ID, "error", err)
	}
	return nil
}

// Get returns a session owned by userID. An empty userID reads any session;
// sessions of other users are reported as ErrNotFound.
func (s *Service) Get(ctx context.Context, userID, id string) (Session, error) {
	if session, ok := s.cachedSession(ctx, id); ok {
		return owned(session, userID)
	}
	if s.db == nil {
		return Session{}, ErrUnavailable
	}

	var session Session
	row := s.db.QueryRow(ctx, `
		SELECT id, user_id, source_name, COALESCE(video_name,''), status, push_up_count,
		       frame_count, unknown_frames, partial, COALESCE(error,''), created_at, completed_at
		FROM workout_sessions WHERE id=$1
	`, id)
	if err := scanSession(row, &session); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, err
	}
	session.VideoURL = s.videoURL(session.VideoName)

	if session.Status != StatusProcessing {
		s.cacheSession(ctx, session)
	}
	return owned(session, userID)
}

func owned(session Session, userID string) (Session, error) {
	if userID != "" && session.UserID != userID {
		return Session{}, ErrNotFound
	}
	return session, nil
}

// List returns the newest sessions first. An empty userID lists every user.
func (s *Service) List(ctx context.Context, userID string, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if s.db == nil {
		return nil, ErrUnavailable
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, source_name, COALESCE(video_name,''), status, push_up_count,
		       frame_count, unknown_frames, partial, COALESCE(error,''), created_at, completed_at
		FROM workout_sessions
		WHERE ($1 = '' OR user_id = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		var session Session
		if err := scanSession(rows, &session); err != nil {
			return nil, err
		}
		session.VideoURL = s.videoURL(session.VideoName)
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

func scanSession(row pgx.Row, session *Session) error {
	return row.Scan(
		&session.ID, &session.UserID, &session.SourceName, &session.VideoName, &session.Status,
		&session.Count, &session.Frames, &session.Unknown, &session.Partial, &session.Error,
		&session.CreatedAt, &session.CompletedAt,
	)
}

func (s *Service) videoURL(name string) string {
	if name == "" {
		return ""
	}
	return s.opts.BaseURL + "/video/" + name
}

func cacheKey(id string) string {
	return "workout:session:" + id
}

func (s *Service) cacheSession(ctx context.Context, session Session) {
	if s.cache == nil {
		return
	}
	payload, err := json.Marshal(session)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, cacheKey(session.ID), payload, s.opts.CacheTTL).Err(); err != nil {
		slog.Warn("cache session failed", "session_id", session.ID, "error", err)
	}
}

func (s *Service) cachedSession(ctx context.Context, id string) (Session, bool) {
	if s.cache == nil {
		return Session{}, false
	}
	payload, err := s.cache.Get(ctx, cacheKey(id)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Warn("read cached session failed", "session_id", id, "error", err)
		}
		return Session{}, false
	}
	var session Session
	if err := json.Unmarshal(payload, &session); err != nil {
		return Session{}, false
	}
	return session, true
}

func (s *Service) publishProgress(ctx context.Context, p stream.Progress) {
	if s.hub == nil {
		return
	}
	s.hub.PublishProgress(ctx, p)
}
