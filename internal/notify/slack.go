package notify

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dvloznov/ledger-recon/internal/logger"
	"github.com/slack-go/slack"
)

// SlackAPI is the subset of the Slack Web API used by SlackSender.
type SlackAPI interface {
	UploadFileV2Context(ctx context.Context, params slack.UploadFileV2Parameters) (*slack.FileSummary, error)
	GetFileInfoContext(ctx context.Context, fileID string, count, page int) (*slack.File, []slack.Comment, *slack.Paging, error)
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// SlackSender posts a Block Kit summary to a channel after uploading the report.
type SlackSender struct {
	api     SlackAPI
	token   string
	channel string
}

// NewSlackSender creates a SlackSender backed by the Slack Web API.
func NewSlackSender(token, channel string) *SlackSender {
	return &SlackSender{api: slack.New(token), token: token, channel: channel}
}

// NewSlackSenderWithAPI creates a SlackSender with a custom API implementation.
func NewSlackSenderWithAPI(api SlackAPI, token, channel string) *SlackSender {
	return &SlackSender{api: api, token: token, channel: channel}
}

func (s *SlackSender) Name() string { return "slack" }

// Send uploads reportPath (when set) and posts the alert. A missing token or
// channel is logged and nothing is sent.
func (s *SlackSender) Send(ctx context.Context, alert *Alert, reportPath string) error {
	log := logger.FromContext(ctx)

	if s.token == "" {
		log.Warn().Msg("SLACK_BOT_TOKEN not set, skipping Slack alert")
		return nil
	}
	if s.channel == "" {
		log.Warn().Msg("SLACK_CHANNEL_ID not set, skipping Slack alert")
		return nil
	}

	var fileURL string
	if reportPath != "" {
		url, err := s.upload(ctx, reportPath)
		if err != nil {
			log.Warn().Err(err).Str("path", reportPath).Msg("Report upload to Slack failed, sending summary only")
		}
		fileURL = url
	}

	_, _, err := s.api.PostMessageContext(ctx, s.channel,
		slack.MsgOptionText("Fintech Reconciliation Report", false),
		slack.MsgOptionBlocks(SlackBlocks(alert, fileURL)...),
	)
	if err != nil {
		return fmt.Errorf("SlackSender.Send: post message: %w", err)
	}
	return nil
}

func (s *SlackSender) upload(ctx context.Context, reportPath string) (string, error) {
	info, err := os.Stat(reportPath)
	if err != nil {
		return "", fmt.Errorf("upload: stat report: %w", err)
	}

	name := filepath.Base(reportPath)
	summary, err := s.api.UploadFileV2Context(ctx, slack.UploadFileV2Parameters{
		Channel:        s.channel,
		File:           reportPath,
		FileSize:       int(info.Size()),
		Filename:       name,
		Title:          name,
		InitialComment: "Full reconciliation report uploaded.",
	})
	if err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}

	file, _, _, err := s.api.GetFileInfoContext(ctx, summary.ID, 0, 0)
	if err != nil {
		return "", fmt.Errorf("upload: file info %s: %w", summary.ID, err)
	}
	return file.URLPrivate, nil
}

// slackMaxBlocks is the Slack API limit on blocks per message.
const slackMaxBlocks = 50

// slackMaxItems is how many discrepancies fit next to the header, count,
// divider and closing block at two blocks each.
const slackMaxItems = (slackMaxBlocks - 4) / 2

// SlackBlocks renders the alert as Block Kit: header, count, one section per
// discrepancy and either a download button or a pointer to the saved report.
// Past slackMaxItems the list is cut short and ends with a count of the rest.
func SlackBlocks(alert *Alert, fileURL string) []slack.Block {
	blocks := []slack.Block{
		slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, alert.Title(), false, false)),
		slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*Discrepancies detected:* %d", alert.Count), false, false),
			nil, nil,
		),
		slack.NewDividerBlock(),
	}

	items := alert.Items
	truncated := 0
	if len(items) > slackMaxItems {
		truncated = len(items) - (slackMaxItems - 1)
		items = items[:slackMaxItems-1]
	}

	for _, it := range items {
		text := fmt.Sprintf("*Transaction:* `%s`\n→ *Type:* %s\n→ *Internal:* `%s` | *Gateway:* `%s`\n→ *Reason:* %s\n→ *Suggestion:* %s\n",
			it.TxID, it.Type, it.StatusInternal, it.StatusGateway, it.Reason, it.Action)
		blocks = append(blocks,
			slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, text, false, false), nil, nil),
			slack.NewDividerBlock(),
		)
	}

	if truncated > 0 {
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("_... and %d more, see the full report_", truncated), false, false),
			nil, nil,
		))
	}

	if fileURL != "" {
		btn := slack.NewButtonBlockElement("download_report", "download",
			slack.NewTextBlockObject(slack.PlainTextType, "Download Full Report", false, false))
		btn.URL = fileURL
		btn.Style = slack.StylePrimary
		blocks = append(blocks, slack.NewActionBlock("report_actions", btn))
	} else {
		ref := alert.ReportRef
		if ref == "" {
			ref = "reports/"
		}
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("Full report saved in `%s`", ref), false, false),
			nil, nil,
		))
	}

	return blocks
}
