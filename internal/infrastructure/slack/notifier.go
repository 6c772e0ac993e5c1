package slack

import (
	"context"
	"errors"
	"net/http"
	"strings"

	slackapi "github.com/slack-go/slack"

	"emojivote/internal/errs"
	"emojivote/internal/ports"
)

type NotifierOptions struct {
	APIURL     string
	BotToken   string
	HTTPClient *http.Client
}

// Notifier posts to channels and threads with the bot token.
type Notifier struct {
	api *slackapi.Client
}

var _ ports.Notifier = (*Notifier)(nil)

func NewNotifier(opts NotifierOptions) *Notifier {
	options := []slackapi.Option{}
	if apiURL := strings.TrimSpace(opts.APIURL); apiURL != "" {
		if !strings.HasSuffix(apiURL, "/") {
			apiURL += "/"
		}
		options = append(options, slackapi.OptionAPIURL(apiURL))
	}
	if opts.HTTPClient != nil {
		options = append(options, slackapi.OptionHTTPClient(opts.HTTPClient))
	}
	return &Notifier{api: slackapi.New(opts.BotToken, options...)}
}

func (n *Notifier) Post(ctx context.Context, msg ports.Message) (string, error) {
	if ctx == nil {
		return "", errors.New("context is required")
	}
	if strings.TrimSpace(msg.Channel) == "" {
		return "", errors.New("channel is required")
	}

	options := []slackapi.MsgOption{slackapi.MsgOptionText(msg.Text, false)}
	if msg.Thread != "" {
		options = append(options, slackapi.MsgOptionTS(msg.Thread))
		if msg.Broadcast {
			options = append(options, slackapi.MsgOptionBroadcast())
		}
	}

	if msg.Ephemeral {
		ts, err := n.api.PostEphemeralContext(ctx, msg.Channel, msg.User, options...)
		if err != nil {
			return "", errs.Wrap(err, "post ephemeral message")
		}
		return ts, nil
	}

	_, ts, err := n.api.PostMessageContext(ctx, msg.Channel, options...)
	if err != nil {
		return "", errs.Wrap(err, "post message")
	}
	return ts, nil
}

func (n *Notifier) Flag(ctx context.Context, channel string, thread string, reaction string) error {
	if ctx == nil {
		return errors.New("context is required")
	}

	err := n.api.AddReactionContext(ctx, reaction, slackapi.NewRefToMessage(channel, thread))
	if err == nil || isAlreadyReacted(err) {
		return nil
	}
	return errs.Wrapf(err, "add reaction %s", reaction)
}

func isAlreadyReacted(err error) bool {
	var resp slackapi.SlackErrorResponse
	if errors.As(err, &resp) {
		return resp.Err == "already_reacted"
	}
	return strings.Contains(err.Error(), "already_reacted")
}
