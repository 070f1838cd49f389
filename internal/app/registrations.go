package app

import (
	"context"
	"time"

	"jobbot/internal/posting"
	"jobbot/internal/transport"
	logx "jobbot/pkg/logx"
)

type destinationStore interface {
	UpsertDestination(ctx context.Context, d posting.Destination) error
	DeactivateDestination(ctx context.Context, id int64) error
}

// applyRegistration records a change in the bot's own rights in a chat.
// Chats it can post to become active destinations; the rest are deactivated.
func applyRegistration(ctx context.Context, st destinationStore, reg transport.Registration, now time.Time, log logx.Logger) error {
	log = log.With(logx.Int64("chat", reg.ChatID), logx.String("kind", reg.Kind))
	if !reg.CanPost {
		if err := st.DeactivateDestination(ctx, reg.ChatID); err != nil {
			return err
		}
		log.Info("destination deactivated: bot lost posting rights")
		return nil
	}
	err := st.UpsertDestination(ctx, posting.Destination{
		ID:      reg.ChatID,
		Name:    reg.Title,
		Kind:    reg.Kind,
		AddedBy: reg.ActorID,
		AddedAt: now,
		Active:  true,
	})
	if err != nil {
		return err
	}
	log.Info("destination registered", logx.String("title", reg.Title), logx.Int64("by", reg.ActorID))
	return nil
}

func consumeRegistrations(ctx context.Context, st destinationStore, regs <-chan transport.Registration, log logx.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case reg, ok := <-regs:
			if !ok {
				return nil
			}
			if err := applyRegistration(ctx, st, reg, time.Now(), log); err != nil {
				log.Warn("destination update failed", logx.Int64("chat", reg.ChatID), logx.Err(err))
			}
		}
	}
}

type chatResolver interface {
	ChatTitle(ctx context.Context, chatID int64) (title, kind string, err error)
}

// registerChannel makes sure the configured broadcast channel is an
// active destination even if the bot was added before it was running.
func registerChannel(ctx context.Context, st destinationStore, chats chatResolver, channelID int64, fallbackName string, log logx.Logger) error {
	if channelID == 0 {
		return nil
	}
	title, kind, err := chats.ChatTitle(ctx, channelID)
	if err != nil {
		log.Warn("channel lookup failed; registering with configured name", logx.Int64("chat", channelID), logx.Err(err))
		title, kind = fallbackName, posting.KindChannel
	}
	return applyRegistration(ctx, st, transport.Registration{
		ChatID:  channelID,
		Title:   title,
		Kind:    kind,
		CanPost: true,
	}, time.Now(), log)
}
