package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"emojivote/internal/bootstrap/config"
	"emojivote/internal/bootstrap/database"
	"emojivote/internal/bootstrap/logging"
	domainemoji "emojivote/internal/domain/emoji"
	"emojivote/internal/errs"
	cacheinfra "emojivote/internal/infrastructure/cache"
	"emojivote/internal/infrastructure/eventbus"
	"emojivote/internal/infrastructure/memory"
	"emojivote/internal/infrastructure/metrics"
	sqliterepo "emojivote/internal/infrastructure/persistence/sqlite/repository"
	sqliteuow "emojivote/internal/infrastructure/persistence/sqlite/uow"
	slackinfra "emojivote/internal/infrastructure/slack"
	"emojivote/internal/ports"
	"emojivote/internal/usecase/dispatch"
	emojiusecase "emojivote/internal/usecase/emoji"
)

var Module = fx.Options(
	fx.Provide(provideConfig),
	fx.Provide(provideDatabase),
	fx.Provide(
		fx.Annotate(
			sqliterepo.NewProposalRepository,
			fx.As(new(ports.ProposalRepository)),
		),
	),
	fx.Provide(
		fx.Annotate(
			sqliteuow.NewUnitOfWork,
			fx.As(new(ports.UnitOfWork)),
		),
	),
	fx.Provide(
		fx.Annotate(
			sqliterepo.NewImageStore,
			fx.As(new(ports.ContentStore)),
		),
	),
	fx.Provide(provideImageReader),
	fx.Provide(metrics.NewPrometheus),
	fx.Provide(func(p *metrics.Prometheus) ports.Metrics { return p }),
	fx.Provide(provideCache),
	fx.Provide(provideDirectory),
	fx.Provide(provideNotifier),
	fx.Provide(provideVoteRules),
	fx.Provide(provideService),
	fx.Provide(provideDispatcher),
	fx.Provide(provideScheduler),
	fx.Provide(provideSubscriber),
	fx.Provide(provideApp),
)

type configParams struct {
	fx.In

	Ctx        context.Context
	ConfigFile string `name:"configFile"`
}

func provideConfig(p configParams) (config.Config, error) {
	ctx := logging.WithAttrs(p.Ctx, slog.String("component", "bootstrap.fx"))
	return config.Load(ctx, p.ConfigFile)
}

func provideDatabase(lc fx.Lifecycle, ctx context.Context, cfg config.Config) (*gorm.DB, error) {
	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.fx"))

	db, err := database.Open(logCtx, cfg.Database)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	})

	return db, nil
}

type imageReaderResult struct {
	fx.Out

	Images ports.ContentStore `name:"imageReader"`
}

// provideImageReader backs GET /images with the read-only pool so the directory
// can fetch an image while the executor's transaction holds the writer.
func provideImageReader(lc fx.Lifecycle, ctx context.Context, cfg config.Config, db *gorm.DB) (imageReaderResult, error) {
	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.fx"))

	reader, err := database.OpenReader(logCtx, cfg.Database)
	if errors.Is(err, database.ErrNoReader) {
		logging.Warn(logCtx, "in-memory database, images are served from the writer connection")
		return imageReaderResult{Images: sqliterepo.NewImageStore(db)}, nil
	}
	if err != nil {
		return imageReaderResult{}, err
	}

	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			sqlDB, err := reader.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	})
	return imageReaderResult{Images: sqliterepo.NewImageStore(reader)}, nil
}

func provideCache(lc fx.Lifecycle, ctx context.Context, cfg config.Config, db *gorm.DB) ports.Cache {
	if strings.EqualFold(strings.TrimSpace(cfg.Cache.Driver), "redis") {
		client := redis.NewClient(&redis.Options{
			Addr: cfg.Cache.RedisAddr,
			DB:   cfg.Cache.RedisDB,
		})
		lc.Append(fx.Hook{
			OnStop: func(_ context.Context) error {
				return client.Close()
			},
		})
		logging.Info(
			logging.WithAttrs(ctx, slog.String("component", "bootstrap.fx")),
			"using redis cache",
			slog.String("addr", cfg.Cache.RedisAddr),
		)
		return cacheinfra.NewRedisCache(client, cfg.Cache.KeyPrefix)
	}
	return cacheinfra.NewSQLiteCache(db)
}

func provideDirectory(cfg config.Config, m ports.Metrics) ports.DirectoryGateway {
	if strings.EqualFold(strings.TrimSpace(cfg.Directory.Driver), "slack") {
		return slackinfra.NewDirectoryGateway(slackinfra.GatewayOptions{
			APIURL:         cfg.Slack.APIURL,
			AdminToken:     cfg.Slack.AdminToken,
			BotToken:       cfg.Slack.BotToken,
			ImageURLPrefix: cfg.Slack.ImageURLPrefix,
			Timeout:        cfg.Directory.Timeout,
			Rate:           cfg.Directory.Rate,
			Burst:          cfg.Directory.Burst,
			MaxFailures:    cfg.Directory.Breaker.MaxFailures,
			OpenTimeout:    cfg.Directory.Breaker.OpenTimeout,
			Interval:       cfg.Directory.Breaker.Interval,
			Metrics:        m,
		})
	}
	return memory.NewDirectory()
}

func provideNotifier(ctx context.Context, cfg config.Config) ports.Notifier {
	if strings.TrimSpace(cfg.Slack.BotToken) == "" {
		logging.Warn(
			logging.WithAttrs(ctx, slog.String("component", "bootstrap.fx")),
			"slack.bot_token is empty, chat messages are only logged",
		)
		return memory.NewLogNotifier()
	}
	return slackinfra.NewNotifier(slackinfra.NotifierOptions{
		APIURL:   cfg.Slack.APIURL,
		BotToken: cfg.Slack.BotToken,
	})
}

func provideVoteRules(ctx context.Context, cfg config.Config) (domainemoji.VoteRules, error) {
	dates, err := config.HolidayDates(ctx, cfg.Votes)
	if err != nil {
		return domainemoji.VoteRules{}, err
	}
	holidays, err := domainemoji.ParseHolidays(dates)
	if err != nil {
		return domainemoji.VoteRules{}, errs.Wrap(err, "parse holidays")
	}
	return domainemoji.VoteRules{
		CommentPeriod:     cfg.Votes.CommentPeriod,
		MaxDuration:       cfg.Votes.MaxDuration,
		WinBy:             cfg.Votes.WinBy,
		DownVoteThreshold: cfg.Votes.DownVoteThreshold,
		Holidays:          holidays,
	}, nil
}

type serviceParams struct {
	fx.In

	Config    config.Config
	Rules     domainemoji.VoteRules
	Repo      ports.ProposalRepository
	UoW       ports.UnitOfWork
	Cache     ports.Cache
	Directory ports.DirectoryGateway
	Content   ports.ContentStore
	Notifier  ports.Notifier
	Metrics   ports.Metrics
}

func provideService(p serviceParams) *emojiusecase.Service {
	reactions := p.Config.Slack.Reactions
	// Only the Slack gateway can download shared files.
	attachments, _ := p.Directory.(ports.AttachmentFetcher)
	return emojiusecase.NewService(p.Repo, p.UoW, p.Cache, p.Directory, p.Content, p.Notifier, emojiusecase.Options{
		Rules:        p.Rules,
		EmojiChannel: p.Config.Slack.EmojiChannel,
		AdminChannel: p.Config.Slack.AdminChannel,
		Reactions: emojiusecase.Reactions{
			Up:       reactions.Up,
			Down:     reactions.Down,
			Force:    reactions.Force,
			Block:    reactions.Block,
			Withdraw: reactions.Withdraw,
			Report:   reactions.Report,
		},
		IsAdmin:          p.Config.Slack.IsAdmin,
		SweepParallelism: p.Config.Events.Workers,
		Metrics:          p.Metrics,
		Attachments:      attachments,
	})
}

func provideDispatcher(cfg config.Config, svc *emojiusecase.Service, m ports.Metrics) *dispatch.Dispatcher {
	return dispatch.NewDispatcher(svc, cfg.Events.Workers, cfg.Events.QueueSize, m)
}

func provideScheduler(cfg config.Config, svc *emojiusecase.Service) (*dispatch.Scheduler, error) {
	return dispatch.NewScheduler(cfg.Votes.TallySchedule, svc, nil)
}

func provideSubscriber(cfg config.Config, d *dispatch.Dispatcher) *eventbus.Subscriber {
	if strings.TrimSpace(cfg.Events.NATSURL) == "" {
		return nil
	}
	return eventbus.NewSubscriber(eventbus.Options{
		URL:     cfg.Events.NATSURL,
		Subject: cfg.Events.NATSSubject,
		Queue:   cfg.Events.NATSQueue,
		Name:    cfg.App.Name,
	}, d)
}

type appParams struct {
	fx.In

	Config     config.Config
	DB         *gorm.DB
	Service    *emojiusecase.Service
	Dispatcher *dispatch.Dispatcher
	Scheduler  *dispatch.Scheduler
	Subscriber *eventbus.Subscriber
	Metrics    *metrics.Prometheus
	Images     ports.ContentStore `name:"imageReader"`
}

func provideApp(p appParams) *App {
	return &App{
		Config:     p.Config,
		DB:         p.DB,
		Service:    p.Service,
		Dispatcher: p.Dispatcher,
		Scheduler:  p.Scheduler,
		Subscriber: p.Subscriber,
		Metrics:    p.Metrics,
		Images:     p.Images,
	}
}
