package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/jomei/notionapi"
)

// notionMaxChildren is the Notion API limit on blocks per create request.
const notionMaxChildren = 100

// NotionService defines the interface for interacting with Notion API.
type NotionService interface {
	CreatePage(ctx context.Context, databaseID string, properties notionapi.Properties, children []notionapi.Block) (*notionapi.Page, error)
}

// NotionClient is the concrete implementation of NotionService using the Notion SDK.
type NotionClient struct {
	client *notionapi.Client
}

// NewNotionClient creates a new NotionClient with the provided API token.
func NewNotionClient(token string) *NotionClient {
	return &NotionClient{
		client: notionapi.NewClient(notionapi.Token(token)),
	}
}

// CreatePage creates a new page in a Notion database with the given properties and body.
func (n *NotionClient) CreatePage(ctx context.Context, databaseID string, properties notionapi.Properties, children []notionapi.Block) (*notionapi.Page, error) {
	req := &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(databaseID),
		},
		Properties: properties,
		Children:   children,
	}

	page, err := n.client.Page.Create(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("CreatePage: %w", err)
	}

	return page, nil
}

// NotionSender records each alert as a page in a Notion database.
type NotionSender struct {
	client     NotionService
	databaseID string
	now        func() time.Time
}

// NewNotionSender creates a NotionSender writing to databaseID.
func NewNotionSender(client NotionService, databaseID string) *NotionSender {
	return &NotionSender{client: client, databaseID: databaseID, now: time.Now}
}

func (s *NotionSender) Name() string { return "notion" }

// Send creates one page for the alert.
func (s *NotionSender) Send(ctx context.Context, alert *Alert, reportPath string) error {
	if s.databaseID == "" {
		return fmt.Errorf("NotionSender.Send: empty database ID")
	}

	_, err := s.client.CreatePage(ctx, s.databaseID, AlertToNotionProperties(alert, s.now()), AlertToNotionBlocks(alert))
	if err != nil {
		return fmt.Errorf("NotionSender.Send: %w", err)
	}
	return nil
}

// AlertToNotionProperties maps an alert to the report database's properties.
func AlertToNotionProperties(alert *Alert, sentAt time.Time) notionapi.Properties {
	date := notionapi.Date(sentAt)
	props := notionapi.Properties{
		"Name": notionapi.TitleProperty{
			Title: richText(alert.Title()),
		},
		"Discrepancies": notionapi.NumberProperty{
			Number: float64(alert.Count),
		},
		"Date": notionapi.DateProperty{
			Date: &notionapi.DateObject{Start: &date},
		},
	}

	if alert.ReportRef != "" {
		props["Report"] = notionapi.RichTextProperty{
			RichText: richText(alert.ReportRef),
		}
	}

	return props
}

// AlertToNotionBlocks renders one paragraph per discrepancy, within the
// per-request block limit.
func AlertToNotionBlocks(alert *Alert) []notionapi.Block {
	items := alert.Items
	truncated := 0
	if len(items) > notionMaxChildren {
		truncated = len(items) - (notionMaxChildren - 1)
		items = items[:notionMaxChildren-1]
	}

	blocks := make([]notionapi.Block, 0, len(items)+1)
	for _, it := range items {
		text := fmt.Sprintf("%s → %s\nInternal: %s | Gateway: %s\nReason: %s\nSuggestion: %s",
			it.TxID, it.Type, it.StatusInternal, it.StatusGateway, it.Reason, it.Action)
		blocks = append(blocks, paragraph(text))
	}
	if truncated > 0 {
		blocks = append(blocks, paragraph(fmt.Sprintf("... and %d more, see the full report.", truncated)))
	}
	return blocks
}

func paragraph(text string) *notionapi.ParagraphBlock {
	return &notionapi.ParagraphBlock{
		BasicBlock: notionapi.BasicBlock{
			Object: notionapi.ObjectTypeBlock,
			Type:   notionapi.BlockTypeParagraph,
		},
		Paragraph: notionapi.Paragraph{
			RichText: richText(text),
		},
	}
}

func richText(content string) []notionapi.RichText {
	return []notionapi.RichText{
		{
			Type: notionapi.ObjectTypeText,
			Text: &notionapi.Text{
				Content: content,
			},
		},
	}
}
