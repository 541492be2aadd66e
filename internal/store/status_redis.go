// Package store tracks per-session automation state so the HTTP surface can
// answer status polls. Sessions are kept either in Redis (survives restarts,
// works across replicas) or in process memory.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Session is the poll-visible state of one automation run.
type Session struct {
	Status      string          `json:"status"` // pending, running, complete, error
	Step        string          `json:"current_step,omitempty"`
	Description string          `json:"description,omitempty"`
	Error       string          `json:"error,omitempty"`
	Screenshot  string          `json:"screenshot,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Start       *time.Time      `json:"started_at,omitempty"`
	End         *time.Time      `json:"finished_at,omitempty"`
}

// Sessions is the storage contract the server depends on.
type Sessions interface {
	Set(ctx context.Context, id string, s Session) error
	Get(ctx context.Context, id string) (Session, bool, error)
	Close() error
}

// sessionTTL bounds how long finished sessions stay pollable.
const sessionTTL = 24 * time.Hour

// RedisSessions stores sessions as Redis hashes under session:<id>.
type RedisSessions struct {
	client *redis.Client
	keyNS  string
}

func NewRedisSessions(redisURL string) (*RedisSessions, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	c := redis.NewClient(opt)
	if err := c.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return &RedisSessions{client: c, keyNS: "session"}, nil
}

func (s *RedisSessions) key(id string) string { return fmt.Sprintf("%s:%s", s.keyNS, id) }

func (s *RedisSessions) Set(ctx context.Context, id string, sess Session) error {
	m := map[string]interface{}{
		"status":      sess.Status,
		"step":        sess.Step,
		"description": sess.Description,
		"error":       sess.Error,
		"screenshot":  sess.Screenshot,
	}
	if sess.Result != nil {
		m["result"] = string(sess.Result)
	}
	if sess.Start != nil {
		m["start"] = sess.Start.Format(time.RFC3339Nano)
	}
	if sess.End != nil {
		m["end"] = sess.End.Format(time.RFC3339Nano)
	}
	key := s.key(id)
	if err := s.client.HSet(ctx, key, m).Err(); err != nil {
		return err
	}
	return s.client.Expire(ctx, key, sessionTTL).Err()
}

func (s *RedisSessions) Get(ctx context.Context, id string) (Session, bool, error) {
	res, err := s.client.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		return Session{}, false, err
	}
	if len(res) == 0 {
		return Session{}, false, nil
	}
	sess := Session{
		Status:      res["status"],
		Step:        res["step"],
		Description: res["description"],
		Error:       res["error"],
		Screenshot:  res["screenshot"],
	}
	if v := res["result"]; v != "" {
		sess.Result = json.RawMessage(v)
	}
	if v := res["start"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			sess.Start = &t
		}
	}
	if v := res["end"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			sess.End = &t
		}
	}
	return sess, true, nil
}

func (s *RedisSessions) Close() error { return s.client.Close() }

// Client returns the underlying Redis client for health checks.
func (s *RedisSessions) Client() *redis.Client { return s.client }
