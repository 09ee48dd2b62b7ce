package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type Client struct {
	*redis.Client
}

func NewClient(redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Client{client}, nil
}

func (c *Client) Close() error {
	return c.Client.Close()
}

// Key builders. Every coordination key the engine touches is constructed
// here so the shapes stay greppable.

func ScheduleLockKey(scheduleID string) string {
	return fmt.Sprintf("schedule_processing:%s", scheduleID)
}

func ScheduleCacheKey(scheduleID string) string {
	return fmt.Sprintf("schedule:%s", scheduleID)
}

func UserSchedulesPattern(userID string) string {
	return fmt.Sprintf("user:%s:schedules:*", userID)
}

func VideoLastAccountKey(scheduleID, videoID string) string {
	return fmt.Sprintf("schedule:%s:video:%s:lastAccount", scheduleID, videoID)
}

func AccountVideoCooldownKey(accountID, videoID string) string {
	return fmt.Sprintf("account:%s:video:%s:cooldown", accountID, videoID)
}
