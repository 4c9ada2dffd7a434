// Package settings mounts the routes the client shell uses to hand over its
// device registration and the user's retention policy.
package settings

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/notification-cache/internal/config"
	"github.com/chirino/notification-cache/internal/model"
	"github.com/chirino/notification-cache/internal/settings"
	"github.com/gin-gonic/gin"
)

// Store is the part of settings.Service the routes use.
type Store interface {
	MergeAuthData(ctx context.Context, auth model.AuthData) error
	HasValidAccessToken(ctx context.Context) bool
	RetentionPolicy(ctx context.Context) (settings.RetentionPolicy, error)
	SetRetentionPolicy(ctx context.Context, p settings.RetentionPolicy) error
}

type authRequest struct {
	AccessToken string `json:"accessToken"`
	DeviceID    string `json:"deviceId"`
	DeviceToken string `json:"deviceToken"`
}

// retentionBody carries durations as strings ("720h", "P30D", "0").
type retentionBody struct {
	MaxNotifications   int    `json:"maxNotifications"`
	MaxNotificationAge string `json:"maxNotificationAge"`
	MaxMediaItems      int    `json:"maxMediaItems"`
	MaxMediaAge        string `json:"maxMediaAge"`
	CleanupInterval    string `json:"cleanupInterval"`
}

// MountRoutes mounts PUT /v1/auth and GET/PUT /v1/retention.
func MountRoutes(r gin.IRouter, store Store) {
	r.PUT("/v1/auth", func(c *gin.Context) {
		var req authRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		err := store.MergeAuthData(c.Request.Context(), model.AuthData{
			AccessToken: req.AccessToken,
			DeviceID:    req.DeviceID,
			DeviceToken: req.DeviceToken,
		})
		if err != nil {
			log.Error("Failed to store device registration", "err", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store credentials"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"hasAccessToken": store.HasValidAccessToken(c.Request.Context())})
	})

	r.GET("/v1/retention", func(c *gin.Context) {
		p, err := store.RetentionPolicy(c.Request.Context())
		if err != nil {
			log.Error("Failed to read retention policy", "err", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read retention policy"})
			return
		}
		c.JSON(http.StatusOK, toBody(p))
	})

	r.PUT("/v1/retention", func(c *gin.Context) {
		var body retentionBody
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		p, err := fromBody(body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := store.SetRetentionPolicy(c.Request.Context(), p); err != nil {
			log.Error("Failed to store retention policy", "err", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store retention policy"})
			return
		}
		c.JSON(http.StatusOK, toBody(p))
	})
}

func toBody(p settings.RetentionPolicy) retentionBody {
	return retentionBody{
		MaxNotifications:   p.MaxNotifications,
		MaxNotificationAge: p.MaxNotificationAge.String(),
		MaxMediaItems:      p.MaxMediaItems,
		MaxMediaAge:        p.MaxMediaAge.String(),
		CleanupInterval:    p.CleanupInterval.String(),
	}
}

var errNegative = errors.New("limits must not be negative")

func fromBody(b retentionBody) (settings.RetentionPolicy, error) {
	p := settings.RetentionPolicy{MaxNotifications: b.MaxNotifications, MaxMediaItems: b.MaxMediaItems}
	if p.MaxNotifications < 0 || p.MaxMediaItems < 0 {
		return p, errNegative
	}
	fields := []struct {
		raw string
		dst *time.Duration
	}{
		{b.MaxNotificationAge, &p.MaxNotificationAge},
		{b.MaxMediaAge, &p.MaxMediaAge},
		{b.CleanupInterval, &p.CleanupInterval},
	}
	for _, f := range fields {
		if f.raw == "" || f.raw == "0" || f.raw == "0s" {
			continue
		}
		d, err := config.ParseDuration(f.raw)
		if err != nil {
			return p, err
		}
		if d < 0 {
			return p, errNegative
		}
		*f.dst = d
	}
	return p, nil
}
