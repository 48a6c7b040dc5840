package services

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"tubefeed/models"
)

// ErrFeedInfoNotFound is returned when a feed yields no channel
// metadata at all. Not retryable for that URL.
var ErrFeedInfoNotFound = errors.New("subscription info not found")

// FeedVideo is one entry parsed out of a channel or playlist feed.
type FeedVideo struct {
	VideoID      string
	Title        string
	URL          string
	ThumbnailURL string
	Description  string
	Published    time.Time
	Chapters     []models.Chapter
}

// FeedInfo is the channel metadata plus the parsed entries.
type FeedInfo struct {
	Title     string
	ChannelID string
	Link      string
	Videos    []FeedVideo
}

// FeedParser streams YouTube Atom feeds. Entries arrive newest-first,
// so parsing stops as soon as the result limit is hit or an entry is at
// or before the cutoff date.
type FeedParser struct {
	client *http.Client
}

func NewFeedParser() *FeedParser {
	return &FeedParser{
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func NewFeedParserWithClient(client *http.Client) *FeedParser {
	return &FeedParser{client: client}
}

// atomEntry mirrors one <entry> of a YouTube feed. Published stays a
// string so a malformed date skips the entry instead of failing the
// whole parse.
type atomEntry struct {
	VideoID     string        `xml:"http://www.youtube.com/xml/schemas/2015 videoId"`
	ChannelID   string        `xml:"http://www.youtube.com/xml/schemas/2015 channelId"`
	Title       string        `xml:"title"`
	Published   string        `xml:"published"`
	Links       []atomLink    `xml:"link"`
	Description string        `xml:"group>description"`
	Thumbnail   atomThumbnail `xml:"group>thumbnail"`
}

type atomLink struct {
	Rel  string `xml:"rel,attr"`
	Href string `xml:"href,attr"`
}

type atomThumbnail struct {
	URL string `xml:"url,attr"`
}

// Fetch downloads and parses a feed. limit <= 0 means no result limit;
// a nil cutoff disables the cutoff check. Entries at or before the
// cutoff terminate the parse and are not returned.
func (fp *FeedParser) Fetch(ctx context.Context, feedURL string, limit int, cutoff *time.Time) (*FeedInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build feed request: %w", err)
	}

	resp, err := fp.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed %s: %w", feedURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch feed %s: HTTP %d", feedURL, resp.StatusCode)
	}

	return fp.parse(resp.Body, feedURL, limit, cutoff)
}

func (fp *FeedParser) parse(r io.Reader, feedURL string, limit int, cutoff *time.Time) (*FeedInfo, error) {
	info := &FeedInfo{}
	haveMeta := false
	dec := xml.NewDecoder(r)

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse feed %s: %w", feedURL, err)
		}

		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		switch se.Name.Local {
		case "entry":
			var entry atomEntry
			if err := dec.DecodeElement(&entry, &se); err != nil {
				log.WithField("feed", feedURL).Warnf("skipping undecodable entry: %v", err)
				continue
			}

			published, perr := time.Parse(time.RFC3339, entry.Published)

			// The cutoff marks the newest already-seen entry; the
			// feed is newest-first, so everything from here on is
			// known. The in-entry channel id is more authoritative
			// than the feed-level one, so refresh it before stopping.
			if perr == nil && cutoff != nil && !published.After(*cutoff) {
				if entry.ChannelID != "" {
					info.ChannelID = entry.ChannelID
					haveMeta = true
				}
				goto done
			}

			video, ok := entryToVideo(entry, published, perr)
			if !ok {
				log.WithFields(log.Fields{
					"feed":  feedURL,
					"video": entry.VideoID,
				}).Debug("skipping entry with missing date, link, or thumbnail")
				continue
			}
			info.Videos = append(info.Videos, video)

			if limit > 0 && len(info.Videos) >= limit {
				if entry.ChannelID != "" {
					info.ChannelID = entry.ChannelID
					haveMeta = true
				}
				goto done
			}

		// Channel metadata fields precede the first entry; entry-level
		// elements of the same name are consumed by DecodeElement above
		// and never reach these cases.
		case "title":
			if info.Title == "" {
				var title string
				if err := dec.DecodeElement(&title, &se); err == nil && title != "" {
					info.Title = title
					haveMeta = true
				}
			}
		case "channelId":
			if info.ChannelID == "" {
				var id string
				if err := dec.DecodeElement(&id, &se); err == nil && id != "" {
					info.ChannelID = id
					haveMeta = true
				}
			}
		case "link":
			if info.Link == "" {
				var rel, href string
				for _, attr := range se.Attr {
					switch attr.Name.Local {
					case "rel":
						rel = attr.Value
					case "href":
						href = attr.Value
					}
				}
				if rel == "alternate" && href != "" {
					info.Link = href
					haveMeta = true
				}
			}
		}
	}

done:
	if !haveMeta {
		return nil, ErrFeedInfoNotFound
	}
	return info, nil
}

func entryToVideo(entry atomEntry, published time.Time, perr error) (FeedVideo, bool) {
	link := ""
	for _, l := range entry.Links {
		if l.Rel == "alternate" && l.Href != "" {
			link = l.Href
			break
		}
	}

	if perr != nil || published.IsZero() || link == "" || entry.Thumbnail.URL == "" {
		return FeedVideo{}, false
	}

	return FeedVideo{
		VideoID:      entry.VideoID,
		Title:        entry.Title,
		URL:          link,
		ThumbnailURL: entry.Thumbnail.URL,
		Description:  entry.Description,
		Published:    published,
		Chapters:     ExtractChapters(entry.Description, 0),
	}, true
}
