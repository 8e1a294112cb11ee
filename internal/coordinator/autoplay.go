package coordinator

import (
	"context"
	"regexp"
	"strings"

	"guildtunes/internal/httputil"
	"guildtunes/internal/lavalink"
	"guildtunes/internal/models"
)

// recentWindow is how many history entries autoplay avoids repeating.
const recentWindow = 10

var trailingTag = regexp.MustCompile(`\s*(\([^()]*\)|\[[^\[\]]*\])\s*$`)

// AutoplayQuery builds the search for a track similar to info: its author
// and its title without trailing "(Official Video)" or "[HD]" style tags.
func AutoplayQuery(info models.TrackInfo) string {
	title := strings.TrimSpace(info.Title)
	for {
		stripped := trailingTag.ReplaceAllString(title, "")
		if stripped == title || stripped == "" {
			break
		}
		title = stripped
	}
	return strings.TrimSpace(info.Author + " " + title)
}

// autoplay searches for something like the previous track and plays the
// first result that was not heard recently.
func (g *guild) autoplay(ctx context.Context) error {
	last := g.queue.Previous()
	if last == nil {
		return models.ErrNothingPlaying
	}
	query := AutoplayQuery(last.Track.Info)

	sctx, cancel := context.WithTimeout(ctx, httputil.DefaultTimeout)
	defer cancel()
	res, err := g.node.LoadTracks(sctx, lavalink.SearchIdentifier(g.c.searchPrefix, query))
	if err != nil {
		return &models.SearchError{Query: query, Err: err}
	}

	skip := map[string]bool{}
	if last.Track.Info.URI != "" {
		skip[last.Track.Info.URI] = true
	}
	for i, h := range g.queue.History() {
		if i == recentWindow {
			break
		}
		if h.Track.Info.URI != "" {
			skip[h.Track.Info.URI] = true
		}
	}

	for _, t := range res.Tracks {
		if skip[t.Info.URI] {
			continue
		}
		g.queue.Add(t, models.AutoplayRequester)
		g.queue.Next()
		return g.playCurrent(ctx)
	}
	return &models.SearchError{Query: query, Err: models.ErrNoResults}
}
