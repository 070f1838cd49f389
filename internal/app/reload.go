package app

import (
	"context"
	"strings"

	"jobbot/internal/config"
	logx "jobbot/pkg/logx"
)

func (a *App) reloadLoop(ctx context.Context) error {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return nil
		case cfg, ok := <-sub:
			if !ok {
				return nil
			}
			// coalesce bursts
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						cfg = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(last, cfg)
			last = cfg
		}
	}
}

// applyConfig pushes a validated config into the live components. Parts
// bound at startup are only reported.
func (a *App) applyConfig(prev, cfg *config.Config) {
	changed := config.ChangedSections(prev, cfg)
	if len(changed) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if restart := config.RestartRequired(prev, cfg); len(restart) > 0 {
		a.log.Warn("config changes need a restart to take effect", logx.Strs("keys", restart))
	}

	a.logs.SetTelegramTarget(logTarget(cfg))
	a.logs.Apply(mapLogConfig(cfg))

	if aggCfg, err := mapAggregatorConfig(cfg, a.log.With(logx.String("comp", "source"))); err != nil {
		a.log.Warn("invalid sources config; keeping previous", logx.Err(err))
	} else {
		a.agg.Apply(aggCfg)
	}
	if dispCfg, err := mapDispatchConfig(cfg); err != nil {
		a.log.Warn("invalid dispatch config; keeping previous", logx.Err(err))
	} else {
		a.disp.Apply(dispCfg)
	}
	bcCfg, err := mapBroadcastConfig(cfg)
	if err == nil {
		err = a.sched.Apply(bcCfg)
	}
	if err != nil {
		a.log.Warn("invalid broadcast config; keeping previous", logx.Err(err))
	} else {
		a.bot.Apply(mapBotConfig(cfg, bcCfg.CycleTimeout))
	}

	a.log.Info("config reloaded", logx.String("changed", strings.Join(changed, ",")))
}
