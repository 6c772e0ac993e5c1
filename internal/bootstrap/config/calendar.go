package config

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"emojivote/internal/bootstrap/logging"
	"emojivote/internal/errs"
)

type calendarFile struct {
	Holidays []string `toml:"holidays"`
}

// HolidayDates returns votes.calendar_holidays merged with the dates listed in
// votes.calendar_file. Duplicates are dropped; order follows first appearance.
func HolidayDates(ctx context.Context, votes VotesConfig) ([]string, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(err, "check context")
	}

	dates := append([]string(nil), votes.CalendarHolidays...)

	path := strings.TrimSpace(votes.CalendarFile)
	if path != "" {
		fromFile, err := readCalendarFile(path)
		if err != nil {
			return nil, err
		}
		logging.Info(
			logging.WithAttrs(ctx, slog.String("component", "bootstrap.config")),
			"calendar file loaded",
			slog.String("path", path),
			slog.Int("holidays", len(fromFile)),
		)
		dates = append(dates, fromFile...)
	}

	seen := make(map[string]struct{}, len(dates))
	out := make([]string, 0, len(dates))
	for _, date := range dates {
		trimmed := strings.TrimSpace(date)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out, nil
}

func readCalendarFile(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrapf(err, "read calendar file %q", path)
	}

	var file calendarFile
	if err := toml.Unmarshal(raw, &file); err != nil {
		return nil, errs.Wrapf(err, "decode calendar file %q", path)
	}
	return file.Holidays, nil
}
