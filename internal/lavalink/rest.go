package lavalink

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"guildtunes/internal/httputil"
	"guildtunes/internal/models"
)

type errorResponse struct {
	Status  int    `json:"status"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (n *Node) do(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	if err := n.limiter.Wait(ctx); err != nil {
		return &models.WorkerCallError{Node: n.cfg.Name, Op: op, Err: fmt.Errorf("rate limit: %w", err)}
	}

	u := n.baseURL() + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := httputil.NewJSONRequest(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Authorization", n.cfg.Password)

	resp, err := n.http.Do(req)
	if err != nil {
		return &models.WorkerCallError{Node: n.cfg.Name, Op: op, Err: err}
	}
	respBody, err := httputil.ReadBody(resp)
	if err != nil {
		return &models.WorkerCallError{Node: n.cfg.Name, Op: op, Err: fmt.Errorf("reading response: %w", err)}
	}

	if !httputil.OK(resp.StatusCode) {
		msg := httputil.Snippet(respBody)
		var er errorResponse
		if json.Unmarshal(respBody, &er) == nil && er.Message != "" {
			msg = er.Message
		}
		return &models.WorkerCallError{Node: n.cfg.Name, Op: op, Status: resp.StatusCode, Message: msg}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return &models.WorkerCallError{Node: n.cfg.Name, Op: op, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return nil
}

func (n *Node) sessionPath() (string, error) {
	id := n.SessionID()
	if id == "" {
		return "", models.ErrNodeNotReady
	}
	return "/sessions/" + url.PathEscape(id), nil
}

// SearchIdentifier turns user input into a loadtracks identifier: URLs pass
// through, anything else is searched with prefix (e.g. "ytsearch").
func SearchIdentifier(prefix, query string) string {
	query = strings.TrimSpace(query)
	if u, err := url.Parse(query); err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != "" {
		return query
	}
	if prefix == "" {
		return query
	}
	return prefix + ":" + query
}

func (n *Node) LoadTracks(ctx context.Context, identifier string) (*LoadResult, error) {
	var res LoadResult
	q := url.Values{"identifier": {identifier}}
	if err := n.do(ctx, "loadtracks", http.MethodGet, "/loadtracks", q, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (n *Node) DecodeTracks(ctx context.Context, encoded []string) ([]models.Track, error) {
	var tracks []models.Track
	if err := n.do(ctx, "decodetracks", http.MethodPost, "/decodetracks", nil, encoded, &tracks); err != nil {
		return nil, err
	}
	return tracks, nil
}

func (n *Node) FetchStats(ctx context.Context) (*Stats, error) {
	var s Stats
	if err := n.do(ctx, "stats", http.MethodGet, "/stats", nil, nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (n *Node) GetPlayer(ctx context.Context, guildID string) (*Player, error) {
	sp, err := n.sessionPath()
	if err != nil {
		return nil, err
	}
	var p Player
	if err := n.do(ctx, "get player", http.MethodGet, sp+"/players/"+url.PathEscape(guildID), nil, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (n *Node) UpdatePlayer(ctx context.Context, guildID string, update PlayerUpdate, noReplace bool) (*Player, error) {
	sp, err := n.sessionPath()
	if err != nil {
		return nil, err
	}
	q := url.Values{"noReplace": {strconv.FormatBool(noReplace)}}
	var p Player
	if err := n.do(ctx, "update player", http.MethodPatch, sp+"/players/"+url.PathEscape(guildID), q, update, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// DestroyPlayer removes the guild player; the node leaves the voice channel.
func (n *Node) DestroyPlayer(ctx context.Context, guildID string) error {
	sp, err := n.sessionPath()
	if err != nil {
		return err
	}
	return n.do(ctx, "destroy player", http.MethodDelete, sp+"/players/"+url.PathEscape(guildID), nil, nil, nil)
}

func (n *Node) UpdateSession(ctx context.Context, resuming bool, timeout time.Duration) error {
	sp, err := n.sessionPath()
	if err != nil {
		return err
	}
	body := map[string]any{
		"resuming": resuming,
		"timeout":  int(timeout / time.Second),
	}
	return n.do(ctx, "update session", http.MethodPatch, sp, nil, body, nil)
}

type PlayOptions struct {
	StartTime int64
	Volume    *int
	Paused    bool
	NoReplace bool
}

func (n *Node) Play(ctx context.Context, guildID string, track models.Track, opts PlayOptions) error {
	encoded := track.Encoded
	update := PlayerUpdate{
		Track:  &UpdateTrack{Encoded: &encoded, UserData: track.UserData},
		Volume: opts.Volume,
	}
	if opts.StartTime > 0 {
		update.Position = &opts.StartTime
	}
	if opts.Paused {
		update.Paused = &opts.Paused
	}
	_, err := n.UpdatePlayer(ctx, guildID, update, opts.NoReplace)
	return err
}

func (n *Node) Stop(ctx context.Context, guildID string) error {
	_, err := n.UpdatePlayer(ctx, guildID, PlayerUpdate{Track: &UpdateTrack{}}, false)
	return err
}

func (n *Node) Pause(ctx context.Context, guildID string, paused bool) error {
	_, err := n.UpdatePlayer(ctx, guildID, PlayerUpdate{Paused: &paused}, false)
	return err
}

func (n *Node) Seek(ctx context.Context, guildID string, position int64) error {
	_, err := n.UpdatePlayer(ctx, guildID, PlayerUpdate{Position: &position}, false)
	return err
}

func (n *Node) SetVolume(ctx context.Context, guildID string, volume int) error {
	_, err := n.UpdatePlayer(ctx, guildID, PlayerUpdate{Volume: &volume}, false)
	return err
}

func (n *Node) SetFilters(ctx context.Context, guildID string, filters Filters) error {
	_, err := n.UpdatePlayer(ctx, guildID, PlayerUpdate{Filters: &filters}, false)
	return err
}

func (n *Node) ClearFilters(ctx context.Context, guildID string) error {
	return n.SetFilters(ctx, guildID, Filters{})
}

// UpdateVoice hands the gateway voice credentials to the node, which then
// joins the channel.
func (n *Node) UpdateVoice(ctx context.Context, guildID string, voice VoiceState) error {
	_, err := n.UpdatePlayer(ctx, guildID, PlayerUpdate{Voice: &voice}, false)
	return err
}
