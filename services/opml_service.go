package services

import (
	"context"
	"encoding/xml"
	"fmt"
	"time"

	"github.com/gilliek/go-opml/opml"
	"github.com/mmcdole/gofeed"
	log "github.com/sirupsen/logrus"

	"tubefeed/models"
)

// OPMLService imports and exports subscription lists in OPML form.
type OPMLService struct {
	subscriptions *SubscriptionService
	feedParser    *gofeed.Parser
}

func NewOPMLService(subscriptions *SubscriptionService) *OPMLService {
	return &OPMLService{
		subscriptions: subscriptions,
		feedParser:    gofeed.NewParser(),
	}
}

// ImportResult summarizes an OPML import.
type ImportResult struct {
	TotalFeeds    int      `json:"total_feeds"`
	ImportedFeeds int      `json:"imported_feeds"`
	SkippedFeeds  int      `json:"skipped_feeds"`
	Errors        []string `json:"errors,omitempty"`
}

// ImportOPML subscribes to every feed URL found in the document.
// Nested outlines are walked; grouping itself is not preserved.
func (os *OPMLService) ImportOPML(ctx context.Context, opmlData []byte) (*ImportResult, error) {
	var doc opml.OPML
	if err := xml.Unmarshal(opmlData, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse OPML: %v", err)
	}

	result := &ImportResult{Errors: make([]string, 0)}
	for _, outline := range doc.Body.Outlines {
		os.processOutline(ctx, &outline, result)
	}

	log.Infof("OPML import completed: %d total, %d imported, %d skipped",
		result.TotalFeeds, result.ImportedFeeds, result.SkippedFeeds)
	return result, nil
}

func (os *OPMLService) processOutline(ctx context.Context, outline *opml.Outline, result *ImportResult) {
	if outline.XMLURL != "" {
		result.TotalFeeds++

		// Fetch and parse before subscribing so a dead or non-feed URL
		// is reported instead of stored.
		if _, err := os.feedParser.ParseURLWithContext(outline.XMLURL, ctx); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("Failed to validate feed %s: %v", outline.XMLURL, err))
			log.Warnf("Failed to validate feed %s: %v", outline.XMLURL, err)
			return
		}

		res := os.subscriptions.Subscribe(ctx, models.SubscriptionRequest{URL: outline.XMLURL})
		switch res.State {
		case models.StateAdded:
			result.ImportedFeeds++
			log.Infof("Imported feed: %s", outline.XMLURL)
		case models.StateAlreadyAdded:
			result.SkippedFeeds++
			log.Infof("Skipping existing feed: %s", outline.XMLURL)
		default:
			result.Errors = append(result.Errors, fmt.Sprintf("Failed to add feed %s: %s", outline.XMLURL, res.Error))
			log.Warnf("Failed to add feed %s: %s", outline.XMLURL, res.Error)
		}
	}

	for _, child := range outline.Outlines {
		os.processOutline(ctx, &child, result)
	}
}

// ExportOPML writes every active subscription as a flat outline list.
func (os *OPMLService) ExportOPML(ctx context.Context) ([]byte, error) {
	subs, err := os.subscriptions.GetAll(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("failed to get subscriptions: %v", err)
	}

	doc := opml.OPML{
		Version: "2.0",
		Head: opml.Head{
			Title:        "tubefeed export",
			DateCreated:  time.Now().Format(time.RFC1123Z),
			DateModified: time.Now().Format(time.RFC1123Z),
		},
		Body: opml.Body{
			Outlines: make([]opml.Outline, 0, len(subs)),
		},
	}

	for _, sub := range subs {
		doc.Body.Outlines = append(doc.Body.Outlines, opml.Outline{
			Type:   "rss",
			Title:  sub.Title,
			Text:   sub.Title,
			XMLURL: sub.FeedURL,
		})
	}

	xmlData, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal OPML: %v", err)
	}
	return []byte(xml.Header + string(xmlData)), nil
}
