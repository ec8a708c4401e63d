package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lmittmann/tint"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

// ErrNoOpenHelpThread is the negative result for channels with no live
// help-thread record.
var ErrNoOpenHelpThread = errors.New("no open help thread for this channel")

// HelpThreadManager keeps the bookkeeping rows for help threads: who
// opened one, who claimed it, and when it last saw activity. A cron
// janitor resolves threads idle past the configured TTL and posts a
// notice.
type HelpThreadManager struct {
	session Session
	db      *gorm.DB
	writeDB DBI
	config  *HelpThreadConfig
	logger  *slog.Logger
	cron    *cron.Cron
}

// NewHelpThreadManager creates a manager. StartJanitor must be called to
// begin the stale-thread sweep.
func NewHelpThreadManager(
	session Session,
	db *gorm.DB,
	writeDB DBI,
	config *HelpThreadConfig,
	logger *slog.Logger,
) *HelpThreadManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &HelpThreadManager{
		session: session,
		db:      db,
		writeDB: writeDB,
		config:  config,
		logger:  logger.With(loggerNameKey, "help_threads"),
	}
}

// Open creates the bookkeeping row for a new help thread in channelID.
// At most one non-resolved thread exists per channel.
func (h *HelpThreadManager) Open(
	ctx context.Context,
	channelID string,
	ownerUserID string,
	title string,
) (*HelpThread, error) {
	existing, err := h.forChannel(ctx, channelID)
	if err != nil && !errors.Is(err, ErrNoOpenHelpThread) {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("channel already has an open help thread")
	}
	thread := &HelpThread{
		ChannelID:    channelID,
		OwnerUserID:  ownerUserID,
		Title:        truncate(title, 100),
		State:        HelpThreadStateOpen,
		LastActivity: time.Now().UnixMilli(),
	}
	if _, err = h.writeDB.Create(ctx, thread); err != nil {
		return nil, fmt.Errorf("error creating help thread: %w", err)
	}
	return thread, nil
}

// Claim marks the channel's open thread as claimed by a helper.
func (h *HelpThreadManager) Claim(
	ctx context.Context,
	channelID string,
	helperUserID string,
) (*HelpThread, error) {
	thread, err := h.forChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	thread.ClaimedByID = helperUserID
	thread.State = HelpThreadStateClaimed
	if _, err = h.writeDB.Updates(
		ctx,
		thread,
		map[string]any{
			"claimed_by_id":       helperUserID,
			columnHelpThreadState: HelpThreadStateClaimed,
		},
	); err != nil {
		return nil, fmt.Errorf("error claiming help thread: %w", err)
	}
	return thread, nil
}

// Resolve closes the channel's open thread.
func (h *HelpThreadManager) Resolve(
	ctx context.Context,
	channelID string,
) (*HelpThread, error) {
	thread, err := h.forChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	thread.State = HelpThreadStateResolved
	if _, err = h.writeDB.Update(
		ctx, thread, columnHelpThreadState, HelpThreadStateResolved,
	); err != nil {
		return nil, fmt.Errorf("error resolving help thread: %w", err)
	}
	return thread, nil
}

// TouchActivity updates the last-activity timestamp for the channel's
// thread, if one exists. Channels without a thread are a no-op.
func (h *HelpThreadManager) TouchActivity(ctx context.Context, channelID string) {
	thread, err := h.forChannel(ctx, channelID)
	if err != nil {
		return
	}
	if _, err = h.writeDB.Update(
		ctx, thread, "last_activity", time.Now().UnixMilli(),
	); err != nil {
		h.logger.Warn(
			"error updating help thread activity",
			tint.Err(err),
			"channel_id", channelID,
		)
	}
}

// forChannel returns the channel's non-resolved thread, or
// ErrNoOpenHelpThread.
func (h *HelpThreadManager) forChannel(
	ctx context.Context,
	channelID string,
) (*HelpThread, error) {
	var thread HelpThread
	err := h.db.WithContext(ctx).Where(
		"channel_id = ? AND state <> ?",
		channelID,
		HelpThreadStateResolved,
	).Take(&thread).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoOpenHelpThread
		}
		return nil, fmt.Errorf("error loading help thread: %w", err)
	}
	return &thread, nil
}

// StartJanitor schedules the stale-thread sweep per the configured cron
// spec.
func (h *HelpThreadManager) StartJanitor() error {
	h.cron = cron.New()
	_, err := h.cron.AddFunc(
		h.config.JanitorSchedule,
		func() { h.sweep(context.Background()) },
	)
	if err != nil {
		return fmt.Errorf("invalid janitor schedule: %w", err)
	}
	h.cron.Start()
	h.logger.Info(
		"help thread janitor started",
		"schedule", h.config.JanitorSchedule,
		"idle_ttl", h.config.IdleTTL,
	)
	return nil
}

// StopJanitor stops the sweep, waiting for an in-flight run.
func (h *HelpThreadManager) StopJanitor() {
	if h.cron != nil {
		<-h.cron.Stop().Done()
	}
}

// sweep resolves threads idle past the TTL and posts a notice in each.
func (h *HelpThreadManager) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-h.config.IdleTTL).UnixMilli()
	var stale []HelpThread
	err := h.db.WithContext(ctx).Where(
		"state <> ? AND last_activity < ?",
		HelpThreadStateResolved,
		cutoff,
	).Find(&stale).Error
	if err != nil {
		h.logger.Error("error querying stale help threads", tint.Err(err))
		return
	}
	for i := range stale {
		thread := stale[i]
		if _, err = h.writeDB.Update(
			ctx, &thread, columnHelpThreadState, HelpThreadStateResolved,
		); err != nil {
			h.logger.Error(
				"error resolving stale help thread",
				tint.Err(err),
				"channel_id", thread.ChannelID,
			)
			continue
		}
		if _, err = h.session.ChannelMessageSend(
			thread.ChannelID,
			"This help thread was closed due to inactivity. "+
				"If you still need help, feel free to open a new one!",
		); err != nil {
			h.logger.Warn(
				"error posting janitor notice",
				tint.Err(err),
				"channel_id", thread.ChannelID,
			)
		}
	}
	if len(stale) > 0 {
		h.logger.Info("resolved stale help threads", "count", len(stale))
	}
}
