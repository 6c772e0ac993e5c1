package bootstrap

import (
	"context"
	"errors"
	"log/slog"

	"gorm.io/gorm"

	"emojivote/internal/bootstrap/config"
	"emojivote/internal/bootstrap/logging"
	"emojivote/internal/errs"
	"emojivote/internal/infrastructure/eventbus"
	"emojivote/internal/infrastructure/metrics"
	"emojivote/internal/infrastructure/persistence/sqlite/model"
	"emojivote/internal/ports"
	"emojivote/internal/usecase/dispatch"
	emojiusecase "emojivote/internal/usecase/emoji"
)

type App struct {
	Config     config.Config
	DB         *gorm.DB
	Service    *emojiusecase.Service
	Dispatcher *dispatch.Dispatcher
	Scheduler  *dispatch.Scheduler
	// Subscriber is nil when events.nats_url is empty.
	Subscriber *eventbus.Subscriber
	Metrics    *metrics.Prometheus
	// Images reads through the read-only pool when the database is a file.
	Images ports.ContentStore
}

func (a *App) InitSchema(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return errs.Wrap(err, "check context")
	}

	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.app"))
	logging.Info(logCtx, "start schema migration")

	if err := a.DB.WithContext(ctx).AutoMigrate(model.All()...); err != nil {
		return errs.Wrap(err, "auto migrate schema")
	}

	logging.Info(logCtx, "schema migration completed")
	return nil
}
