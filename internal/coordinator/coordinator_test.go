package coordinator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guildtunes/internal/lavalink"
	"guildtunes/internal/models"
	"guildtunes/internal/pool"
	"guildtunes/internal/voice"
)

var ctx = context.Background()

func TestPlayStartsFirstTrack(t *testing.T) {
	f := newFixture(t, models.DefaultGuildSettings())
	f.searchable("a")

	res, err := f.playAs("vc1", "a")
	require.NoError(t, err)
	assert.True(t, res.Started)
	require.Len(t, res.Tracks, 1)

	assert.Equal(t, encoded("a"), f.node.Played())
	assert.Equal(t, []string{"g1/vc1"}, f.sig.Joins())
	assert.Equal(t, voice.StateConnected, f.vm.State("g1"))
	assert.Contains(t, f.node.Calls(), "voice:vc1")

	s := f.snapshot(t)
	assert.True(t, s.Playing)
	require.NotNil(t, s.Current)
	assert.Equal(t, "Song a", s.Current.Title)
	assert.Equal(t, "alice", s.Current.Requester.Name)
	assert.Empty(t, s.Queue)
	assert.Equal(t, 100, s.Volume)
}

func TestPlayQueuesBehindCurrent(t *testing.T) {
	f := newFixture(t, models.DefaultGuildSettings())
	f.searchable("a", "b", "c")
	f.play(t, "a", "b")

	res, err := f.playAs("vc1", "c")
	require.NoError(t, err)
	assert.False(t, res.Started)
	assert.Equal(t, 1, res.Position)

	assert.Equal(t, encoded("a"), f.node.Played())
	assert.Len(t, f.snapshot(t).Queue, 2)
	assert.Len(t, f.sig.Joins(), 1)
}

func TestPlayPlaylistQueuesEveryTrack(t *testing.T) {
	f := newFixture(t, models.DefaultGuildSettings())
	f.node.setResult("https://example.com/list", &lavalink.LoadResult{
		LoadType: lavalink.LoadPlaylist,
		Playlist: &lavalink.PlaylistInfo{Name: "Mix"},
		Tracks:   []models.Track{track("a"), track("b"), track("c")},
	})

	res, err := f.playAs("vc1", "https://example.com/list")
	require.NoError(t, err)
	assert.Equal(t, "Mix", res.Playlist)
	assert.Len(t, res.Tracks, 3)
	assert.Len(t, f.snapshot(t).Queue, 2)
}

func TestPlayErrors(t *testing.T) {
	t.Run("no voice channel", func(t *testing.T) {
		f := newFixture(t, models.DefaultGuildSettings())
		_, err := f.playAs("", "a")
		assert.ErrorIs(t, err, models.ErrNotInVoice)
	})

	t.Run("no worker", func(t *testing.T) {
		f := newFixture(t, models.DefaultGuildSettings())
		f.nodes.err = models.ErrNoWorkerAvailable
		_, err := f.playAs("vc1", "a")
		assert.ErrorIs(t, err, models.ErrNoWorkerAvailable)
		assert.Equal(t, 0, f.c.ActiveGuilds())
	})

	t.Run("no results", func(t *testing.T) {
		f := newFixture(t, models.DefaultGuildSettings())
		_, err := f.playAs("vc1", "nothing here")
		var se *models.SearchError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, "nothing here", se.Query)
		assert.ErrorIs(t, err, models.ErrNoResults)
		assert.Empty(t, f.sig.Joins())
		assert.Equal(t, 0, f.c.ActiveGuilds())
	})

	t.Run("load error", func(t *testing.T) {
		f := newFixture(t, models.DefaultGuildSettings())
		f.node.setResult("ytsearch:broken", &lavalink.LoadResult{
			LoadType:  lavalink.LoadError,
			Exception: &lavalink.Exception{Message: "video unavailable", Severity: "common"},
		})
		_, err := f.playAs("vc1", "broken")
		assert.ErrorContains(t, err, "video unavailable")
	})

	t.Run("other channel", func(t *testing.T) {
		f := newFixture(t, models.DefaultGuildSettings())
		f.searchable("a", "b")
		f.play(t, "a")
		_, err := f.playAs("vc2", "b")
		assert.ErrorIs(t, err, models.ErrOtherChannel)
	})
}

func TestTrackEndFinishedAdvancesAndRecordsHistory(t *testing.T) {
	f := newFixture(t, models.DefaultGuildSettings())
	f.searchable("a", "b")
	f.play(t, "a", "b")

	f.event(t, lavalink.TrackEndEvent{GuildID: "g1", Track: track("a"), Reason: models.EndFinished})

	assert.Equal(t, encoded("a", "b"), f.node.Played())
	hist, err := f.c.History(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, "Song a", hist[0].Track.Info.Title)

	select {
	case rec := <-f.store.plays:
		assert.Equal(t, "g1", rec.GuildID)
		assert.Equal(t, "Song a", rec.Title)
		assert.Equal(t, "u1", rec.Requester.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("play was not persisted")
	}
}

func TestTrackEndStoppedOrReplacedDoesNotAdvance(t *testing.T) {
	for _, reason := range []models.TrackEndReason{models.EndStopped, models.EndReplaced} {
		t.Run(string(reason), func(t *testing.T) {
			f := newFixture(t, models.DefaultGuildSettings())
			f.searchable("a", "b")
			f.play(t, "a", "b")

			f.event(t, lavalink.TrackEndEvent{GuildID: "g1", Track: track("a"), Reason: reason})

			assert.Equal(t, encoded("a"), f.node.Played())
			s := f.snapshot(t)
			require.NotNil(t, s.Current)
			assert.Equal(t, "Song a", s.Current.Title)
			assert.Len(t, s.Queue, 1)
		})
	}
}

func TestTrackEndLoadFailedAdvances(t *testing.T) {
	f := newFixture(t, models.DefaultGuildSettings())
	f.searchable("a", "b")
	f.play(t, "a", "b")

	f.event(t, lavalink.TrackEndEvent{GuildID: "g1", Track: track("a"), Reason: models.EndLoadFailed})

	assert.Equal(t, encoded("a", "b"), f.node.Played())
	hist, _ := f.c.History(ctx, "g1")
	assert.Empty(t, hist)
}

func TestStaleTrackEndIgnored(t *testing.T) {
	f := newFixture(t, models.DefaultGuildSettings())
	f.searchable("a", "b")
	f.play(t, "a", "b")

	f.event(t, lavalink.TrackEndEvent{GuildID: "g1", Track: track("zzz"), Reason: models.EndFinished})
	assert.Equal(t, encoded("a"), f.node.Played())
}

func TestEventsFromOtherNodeIgnored(t *testing.T) {
	f := newFixture(t, models.DefaultGuildSettings())
	f.searchable("a", "b")
	f.play(t, "a", "b")

	f.c.HandleEvent(pool.NodeEvent{Node: "n2", Event: lavalink.TrackEndEvent{GuildID: "g1", Track: track("a"), Reason: models.EndFinished}})
	f.sync(t)
	assert.Equal(t, encoded("a"), f.node.Played())
}

func TestFailedTrackAdvancesDespiteTrackLoop(t *testing.T) {
	events := map[string]lavalink.Event{
		"exception": lavalink.TrackExceptionEvent{GuildID: "g1", Track: track("a"), Exception: lavalink.Exception{Message: "boom", Severity: "fault"}},
		"stuck":     lavalink.TrackStuckEvent{GuildID: "g1", Track: track("a"), ThresholdMs: 10000},
	}
	for name, ev := range events {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, models.DefaultGuildSettings())
			f.searchable("a", "b")
			f.play(t, "a", "b")
			require.NoError(t, f.c.SetLoop(ctx, "g1", "u1", models.LoopTrack))

			f.event(t, ev)
			assert.Equal(t, encoded("a", "b"), f.node.Played())
			assert.Equal(t, models.LoopTrack, f.snapshot(t).LoopMode)

			// The node's trailing end event for the failed track is stale.
			f.event(t, lavalink.TrackEndEvent{GuildID: "g1", Track: track("a"), Reason: models.EndLoadFailed})
			assert.Equal(t, encoded("a", "b"), f.node.Played())
		})
	}
}

func TestTrackLoopReplaysOnFinish(t *testing.T) {
	f := newFixture(t, models.DefaultGuildSettings())
	f.searchable("a", "b")
	f.play(t, "a", "b")
	require.NoError(t, f.c.SetLoop(ctx, "g1", "u1", models.LoopTrack))

	f.event(t, lavalink.TrackEndEvent{GuildID: "g1", Track: track("a"), Reason: models.EndFinished})
	assert.Equal(t, encoded("a", "a"), f.node.Played())
	assert.Len(t, f.snapshot(t).Queue, 1)
}

func TestTrackStartAnnouncesAndClearsVotes(t *testing.T) {
	gs := models.DefaultGuildSettings()
	f := newFixture(t, gs)
	f.dir.listeners = 5
	f.searchable("a")
	f.play(t, "a")

	res, err := f.c.Skip(ctx, "g1", "u2")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Votes)

	f.event(t, lavalink.TrackStartEvent{GuildID: "g1", Track: track("a")})

	select {
	case got := <-f.ann.ch:
		assert.Equal(t, "tc1:Song a", got)
	case <-time.After(2 * time.Second):
		t.Fatal("now playing not announced")
	}

	res, err = f.c.Skip(ctx, "g1", "u2")
	require.NoError(t, err)
	assert.False(t, res.AlreadyVoted)
	assert.Equal(t, 1, res.Votes)
}

func TestTrackStartWithoutAnnouncements(t *testing.T) {
	gs := models.DefaultGuildSettings()
	gs.AnnounceNowPlaying = false
	f := newFixture(t, gs)
	f.searchable("a")
	f.play(t, "a")

	f.event(t, lavalink.TrackStartEvent{GuildID: "g1", Track: track("a")})
	select {
	case got := <-f.ann.ch:
		t.Fatalf("unexpected announcement %q", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestVoteSkip(t *testing.T) {
	f := newFixture(t, models.DefaultGuildSettings())
	f.dir.listeners = 5
	f.searchable("a", "b")
	f.play(t, "a", "b")

	res, err := f.c.Skip(ctx, "g1", "u2")
	require.NoError(t, err)
	assert.Equal(t, VoteResult{Votes: 1, Required: 3}, res)

	res, err = f.c.Skip(ctx, "g1", "u2")
	require.NoError(t, err)
	assert.Equal(t, VoteResult{Votes: 1, Required: 3, AlreadyVoted: true}, res)

	res, err = f.c.Skip(ctx, "g1", "u3")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Votes)
	assert.False(t, res.Skipped)
	assert.Equal(t, encoded("a"), f.node.Played())

	res, err = f.c.Skip(ctx, "g1", "u4")
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, 3, res.Votes)
	assert.Equal(t, encoded("a", "b"), f.node.Played())
}

func TestSkipWithoutVote(t *testing.T) {
	t.Run("vote skip disabled", func(t *testing.T) {
		gs := models.DefaultGuildSettings()
		gs.VoteSkipEnabled = false
		f := newFixture(t, gs)
		f.dir.listeners = 10
		f.searchable("a", "b")
		f.play(t, "a", "b")

		res, err := f.c.Skip(ctx, "g1", "u2")
		require.NoError(t, err)
		assert.True(t, res.Skipped)
		assert.Equal(t, encoded("a", "b"), f.node.Played())
	})

	t.Run("dj role holder", func(t *testing.T) {
		gs := models.DefaultGuildSettings()
		gs.DJRoleID = "dj"
		f := newFixture(t, gs)
		f.dir.listeners = 10
		f.dir.members["u2"] = models.Member{Roles: []string{"dj"}}
		f.searchable("a", "b")
		f.play(t, "a", "b")

		res, err := f.c.Skip(ctx, "g1", "u2")
		require.NoError(t, err)
		assert.True(t, res.Skipped)
	})

	t.Run("nothing playing", func(t *testing.T) {
		f := newFixture(t, models.DefaultGuildSettings())
		_, err := f.c.Skip(ctx, "g1", "u2")
		assert.ErrorIs(t, err, models.ErrNotInVoice)
	})
}

func TestDJOnlyGatesControls(t *testing.T) {
	gs := models.DefaultGuildSettings()
	gs.DJOnly = true
	gs.DJRoleID = "dj"
	f := newFixture(t, gs)
	f.dir.members["dj-user"] = models.Member{Roles: []string{"dj"}}
	f.dir.members["admin"] = models.Member{IsAdmin: true}
	f.searchable("a")
	f.play(t, "a")

	assert.ErrorIs(t, f.c.Pause(ctx, "g1", "u2"), models.ErrNotDJ)
	assert.ErrorIs(t, f.c.Disconnect(ctx, "g1", "u2"), models.ErrNotDJ)

	require.NoError(t, f.c.Pause(ctx, "g1", "dj-user"))
	s := f.snapshot(t)
	assert.True(t, s.Paused)
	assert.False(t, s.Playing)

	require.NoError(t, f.c.Resume(ctx, "g1", "admin"))
	assert.True(t, f.snapshot(t).Playing)
	assert.Contains(t, f.node.Calls(), "pause:true")
	assert.Contains(t, f.node.Calls(), "pause:false")
}

func TestForceSkipOnLastTrackArmsIdle(t *testing.T) {
	f := newFixture(t, models.DefaultGuildSettings(), WithIdleTimeout(50*time.Millisecond))
	f.searchable("a")
	f.play(t, "a")

	require.NoError(t, f.c.ForceSkip(ctx, "g1", "u1"))
	assert.Contains(t, f.node.Calls(), "stop")

	require.Eventually(t, func() bool { return f.c.ActiveGuilds() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"g1"}, f.sig.Leaves())
	assert.Equal(t, 1, f.node.Destroyed())
	assert.Equal(t, voice.StateIdle, f.vm.State("g1"))
	_, ok := f.c.Snapshot("g1")
	assert.False(t, ok)
}

func TestIdleTimerCancelledByNewPlayback(t *testing.T) {
	f := newFixture(t, models.DefaultGuildSettings(), WithIdleTimeout(100*time.Millisecond))
	f.searchable("a", "b")
	f.play(t, "a")

	f.event(t, lavalink.TrackEndEvent{GuildID: "g1", Track: track("a"), Reason: models.EndFinished})
	f.play(t, "b")

	time.Sleep(250 * time.Millisecond)
	assert.Empty(t, f.sig.Leaves())
	assert.Equal(t, 1, f.c.ActiveGuilds())
	assert.Equal(t, encoded("a", "b"), f.node.Played())
}

func TestStayConnectedNeverIdles(t *testing.T) {
	gs := models.DefaultGuildSettings()
	gs.StayConnected = true
	f := newFixture(t, gs, WithIdleTimeout(20*time.Millisecond))
	f.searchable("a")
	f.play(t, "a")

	f.event(t, lavalink.TrackEndEvent{GuildID: "g1", Track: track("a"), Reason: models.EndFinished})
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, f.sig.Leaves())
	assert.Equal(t, 1, f.c.ActiveGuilds())
}

func TestStopClearsQueueAndArmsIdle(t *testing.T) {
	f := newFixture(t, models.DefaultGuildSettings(), WithIdleTimeout(50*time.Millisecond))
	f.searchable("a", "b")
	f.play(t, "a", "b")

	require.NoError(t, f.c.Stop(ctx, "g1", "u1"))
	s := f.snapshot(t)
	assert.Nil(t, s.Current)
	assert.Empty(t, s.Queue)

	// The node answers a stop with a stopped end event, which must not
	// restart anything.
	f.event(t, lavalink.TrackEndEvent{GuildID: "g1", Track: track("a"), Reason: models.EndStopped})
	assert.Equal(t, encoded("a"), f.node.Played())

	require.Eventually(t, func() bool { return f.c.ActiveGuilds() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestAutoplayPicksTrackNotHeardRecently(t *testing.T) {
	gs := models.DefaultGuildSettings()
	gs.Autoplay = true
	f := newFixture(t, gs)

	a := track("a")
	a.Info.Title = "Around the World (Official Video) [HD]"
	a.Info.Author = "Daft Punk"
	f.node.setResult("ytsearch:a", &lavalink.LoadResult{LoadType: lavalink.LoadSearch, Tracks: []models.Track{a}})
	f.node.setResult("ytsearch:Daft Punk Around the World", &lavalink.LoadResult{
		LoadType: lavalink.LoadSearch,
		Tracks:   []models.Track{a, track("c")},
	})
	f.play(t, "a")

	f.event(t, lavalink.TrackEndEvent{GuildID: "g1", Track: a, Reason: models.EndFinished})

	assert.Contains(t, f.node.Loads(), "ytsearch:Daft Punk Around the World")
	assert.Equal(t, encoded("a", "c"), f.node.Played())
	s := f.snapshot(t)
	require.NotNil(t, s.Current)
	assert.Equal(t, models.AutoplayRequester, s.Current.Requester)
}

func TestAutoplayWithoutCandidatesGoesIdle(t *testing.T) {
	gs := models.DefaultGuildSettings()
	gs.Autoplay = true
	f := newFixture(t, gs, WithIdleTimeout(50*time.Millisecond))
	f.searchable("a")
	f.play(t, "a")

	f.event(t, lavalink.TrackEndEvent{GuildID: "g1", Track: track("a"), Reason: models.EndFinished})
	assert.Equal(t, encoded("a"), f.node.Played())
	require.Eventually(t, func() bool { return f.c.ActiveGuilds() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocketClosedByRemoteTearsDown(t *testing.T) {
	f := newFixture(t, models.DefaultGuildSettings())
	f.searchable("a")
	f.play(t, "a")
	sub := f.c.Subscribe()
	defer f.c.Unsubscribe(sub)

	f.event(t, lavalink.WebSocketClosedEvent{GuildID: "g1", Code: 1000, ByRemote: false})
	assert.Equal(t, 1, f.c.ActiveGuilds())

	f.c.HandleEvent(pool.NodeEvent{Node: "n1", Event: lavalink.WebSocketClosedEvent{GuildID: "g1", Code: 4014, Reason: "Disconnected", ByRemote: true}})
	require.Eventually(t, func() bool { return f.c.ActiveGuilds() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"g1"}, f.sig.Leaves())
	assert.Equal(t, voice.StateIdle, f.vm.State("g1"))

	var last models.PlayerSnapshot
	for len(sub) > 0 {
		last = <-sub
	}
	assert.Nil(t, last.Current)
	assert.Equal(t, "g1", last.GuildID)
}

func TestUnresumedNodeDropsItsGuilds(t *testing.T) {
	f := newFixture(t, models.DefaultGuildSettings())
	f.searchable("a")
	f.play(t, "a")

	f.c.HandleEvent(pool.NodeEvent{Node: "n2", Event: lavalink.ReadyEvent{SessionID: "x", Resumed: false}})
	f.sync(t)
	assert.Equal(t, 1, f.c.ActiveGuilds())

	f.c.HandleEvent(pool.NodeEvent{Node: "n1", Event: lavalink.ReadyEvent{SessionID: "y", Resumed: true}})
	f.sync(t)
	assert.Equal(t, 1, f.c.ActiveGuilds())

	f.c.HandleEvent(pool.NodeEvent{Node: "n1", Event: lavalink.ReadyEvent{SessionID: "z", Resumed: false}})
	require.Eventually(t, func() bool { return f.c.ActiveGuilds() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestDisconnect(t *testing.T) {
	f := newFixture(t, models.DefaultGuildSettings())
	f.searchable("a")
	f.play(t, "a")

	require.NoError(t, f.c.Disconnect(ctx, "g1", "u1"))
	assert.Equal(t, 0, f.c.ActiveGuilds())
	assert.Equal(t, []string{"g1"}, f.sig.Leaves())
	assert.Equal(t, 1, f.node.Destroyed())

	assert.ErrorIs(t, f.c.Disconnect(ctx, "g1", "u1"), models.ErrNotInVoice)
}

func TestDisconnectAbortsPendingConnect(t *testing.T) {
	f := newFixture(t, models.DefaultGuildSettings())
	f.sig.manual = true
	f.searchable("a")

	errc := make(chan error, 1)
	go func() {
		_, err := f.playAs("vc1", "a")
		errc <- err
	}()
	select {
	case <-f.sig.joined:
	case <-time.After(2 * time.Second):
		t.Fatal("join not signaled")
	}

	require.NoError(t, f.c.Disconnect(ctx, "g1", "u1"))
	err := <-errc
	assert.ErrorIs(t, err, models.ErrVoiceDisconnected)
	assert.Empty(t, f.node.Played())
	assert.Equal(t, []string{"g1/vc1"}, f.sig.Joins())
	assert.Equal(t, []string{"g1"}, f.sig.Leaves())
	require.Eventually(t, func() bool { return f.c.ActiveGuilds() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestFailedConnectLeavesVoice(t *testing.T) {
	t.Run("handshake timeout", func(t *testing.T) {
		f := newFixture(t, models.DefaultGuildSettings())
		f.sig.manual = true
		f.searchable("a")

		_, err := f.playAs("vc1", "a")
		assert.ErrorIs(t, err, models.ErrVoiceTimeout)
		assert.Equal(t, []string{"g1"}, f.sig.Leaves())
		assert.Equal(t, 0, f.c.ActiveGuilds())
		_, connected := f.vm.ChannelID("g1")
		assert.False(t, connected)
	})

	t.Run("request canceled", func(t *testing.T) {
		f := newFixture(t, models.DefaultGuildSettings())
		f.sig.manual = true
		f.searchable("a")

		reqCtx, cancel := context.WithCancel(ctx)
		errc := make(chan error, 1)
		go func() {
			_, err := f.c.Play(reqCtx, PlayRequest{GuildID: "g1", VoiceChannelID: "vc1", Query: "a"})
			errc <- err
		}()
		select {
		case <-f.sig.joined:
		case <-time.After(2 * time.Second):
			t.Fatal("join not signaled")
		}
		cancel()
		assert.ErrorIs(t, <-errc, context.Canceled)
		require.Eventually(t, func() bool { return len(f.sig.Leaves()) == 1 }, 2*time.Second, 10*time.Millisecond)
		require.Eventually(t, func() bool { return f.c.ActiveGuilds() == 0 }, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("no join before search fails", func(t *testing.T) {
		f := newFixture(t, models.DefaultGuildSettings())
		_, err := f.playAs("vc1", "nothing here")
		assert.ErrorIs(t, err, models.ErrNoResults)
		assert.Empty(t, f.sig.Leaves())
	})
}

func TestFailedPlayDoesNotWedgeGuild(t *testing.T) {
	f := newFixture(t, models.DefaultGuildSettings())
	f.searchable("a", "b")
	f.node.failPlays(errors.New("node unreachable"))

	res, err := f.playAs("vc1", "a")
	require.Error(t, err)
	assert.False(t, res.Started)
	s := f.snapshot(t)
	assert.False(t, s.Playing)
	assert.Nil(t, s.Current)
	assert.Empty(t, s.Queue)

	f.node.failPlays(nil)
	res, err = f.playAs("vc1", "b")
	require.NoError(t, err)
	assert.True(t, res.Started)
	assert.Equal(t, encoded("b"), f.node.Played())
	s = f.snapshot(t)
	assert.True(t, s.Playing)
	require.NotNil(t, s.Current)
	assert.Equal(t, "Song b", s.Current.Title)
}

func TestFailedAdvanceGoesIdle(t *testing.T) {
	f := newFixture(t, models.DefaultGuildSettings(), WithIdleTimeout(200*time.Millisecond))
	f.searchable("a", "b")
	f.play(t, "a", "b")

	f.node.failPlays(errors.New("node unreachable"))
	f.event(t, lavalink.TrackEndEvent{Track: track("a"), Reason: models.EndFinished})
	s := f.snapshot(t)
	assert.False(t, s.Playing)
	assert.Nil(t, s.Current)

	require.Eventually(t, func() bool { return f.c.ActiveGuilds() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"g1"}, f.sig.Leaves())
}

func TestSeek(t *testing.T) {
	f := newFixture(t, models.DefaultGuildSettings())
	f.searchable("a")
	f.play(t, "a")

	require.NoError(t, f.c.Seek(ctx, "g1", "u1", 999999))
	assert.Contains(t, f.node.Calls(), "seek:180000")
	assert.Equal(t, int64(180000), f.snapshot(t).Position)

	f.event(t, lavalink.PlayerUpdateEvent{GuildID: "g1", State: lavalink.PlayerState{Position: 4200, Connected: true}})
	assert.Equal(t, int64(4200), f.snapshot(t).Position)
}

func TestSeekRejectsStreams(t *testing.T) {
	f := newFixture(t, models.DefaultGuildSettings())
	live := track("live")
	live.Info.IsStream = true
	f.node.setResult("ytsearch:live", &lavalink.LoadResult{LoadType: lavalink.LoadSearch, Tracks: []models.Track{live}})
	f.play(t, "live")

	assert.ErrorIs(t, f.c.Seek(ctx, "g1", "u1", 1000), models.ErrNotSeekable)
}

func TestQueueEditing(t *testing.T) {
	f := newFixture(t, models.DefaultGuildSettings())
	f.searchable("a", "b", "c", "d")
	f.play(t, "a", "b", "c", "d")

	titles := func() []string {
		var out []string
		for _, e := range f.snapshot(t).Queue {
			out = append(out, e.Title)
		}
		return out
	}

	require.NoError(t, f.c.Move(ctx, "g1", "u1", 0, 2))
	assert.Equal(t, []string{"Song c", "Song d", "Song b"}, titles())
	assert.ErrorIs(t, f.c.Move(ctx, "g1", "u1", 0, 9), models.ErrInvalidIndex)

	removed, err := f.c.Remove(ctx, "g1", "u1", 0)
	require.NoError(t, err)
	assert.Equal(t, "Song c", removed.Track.Info.Title)
	_, err = f.c.Remove(ctx, "g1", "u1", 5)
	assert.ErrorIs(t, err, models.ErrInvalidIndex)

	require.NoError(t, f.c.SkipTo(ctx, "g1", "u1", 1))
	assert.Equal(t, encoded("a", "b"), f.node.Played())
	assert.Empty(t, titles())
	assert.ErrorIs(t, f.c.SkipTo(ctx, "g1", "u1", 0), models.ErrInvalidIndex)

	f.play(t, "c", "d")
	require.NoError(t, f.c.Shuffle(ctx, "g1", "u1"))
	assert.ElementsMatch(t, []string{"Song c", "Song d"}, titles())
	require.NoError(t, f.c.Clear(ctx, "g1", "u1"))
	assert.Empty(t, titles())
	assert.NotNil(t, f.snapshot(t).Current)
}

func TestPrevious(t *testing.T) {
	f := newFixture(t, models.DefaultGuildSettings())
	f.searchable("a", "b")
	f.play(t, "a")

	assert.ErrorIs(t, f.c.Previous(ctx, "g1", "u1"), models.ErrNotFound)

	f.play(t, "b")
	require.NoError(t, f.c.ForceSkip(ctx, "g1", "u1"))
	require.NoError(t, f.c.Previous(ctx, "g1", "u1"))

	assert.Equal(t, encoded("a", "b", "a"), f.node.Played())
	s := f.snapshot(t)
	assert.Equal(t, "Song a", s.Current.Title)
	require.Len(t, s.Queue, 1)
	assert.Equal(t, "Song b", s.Queue[0].Title)
}

func TestVolumeAndLoop(t *testing.T) {
	f := newFixture(t, models.DefaultGuildSettings())
	f.searchable("a")
	f.play(t, "a")

	v, err := f.c.SetVolume(ctx, "g1", "u1", 2000)
	require.NoError(t, err)
	assert.Equal(t, 1000, v)
	assert.Contains(t, f.node.Calls(), "volume:1000")
	assert.Equal(t, 1000, f.snapshot(t).Volume)

	assert.Error(t, f.c.SetLoop(ctx, "g1", "u1", models.LoopMode("forever")))
	require.NoError(t, f.c.SetLoop(ctx, "g1", "u1", models.LoopQueue))
	assert.Equal(t, models.LoopQueue, f.snapshot(t).LoopMode)
}

func TestFilters(t *testing.T) {
	f := newFixture(t, models.DefaultGuildSettings())
	assert.ErrorIs(t, f.c.SetFilters(ctx, "g1", "u1", lavalink.Filters{}), models.ErrNotInVoice)

	f.searchable("a")
	f.play(t, "a")
	speed := 1.25
	require.NoError(t, f.c.SetFilters(ctx, "g1", "u1", lavalink.Filters{Timescale: &lavalink.Timescale{Speed: &speed}}))
	require.NoError(t, f.c.ClearFilters(ctx, "g1", "u1"))
	assert.Contains(t, f.node.Calls(), "filters")
	assert.Contains(t, f.node.Calls(), "clearfilters")
}

func TestSubscribeReceivesSnapshots(t *testing.T) {
	f := newFixture(t, models.DefaultGuildSettings())
	f.searchable("a")
	sub := f.c.Subscribe()

	f.play(t, "a")
	select {
	case s := <-sub:
		assert.Equal(t, "g1", s.GuildID)
		require.NotNil(t, s.Current)
		assert.Equal(t, "Song a", s.Current.Title)
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot published")
	}

	f.c.Unsubscribe(sub)
	for range sub {
	}
	f.c.Unsubscribe(sub)
}

func TestSnapshotsOrdered(t *testing.T) {
	f := newFixture(t, models.DefaultGuildSettings())
	f.searchable("a")
	for _, g := range []string{"g2", "g1"} {
		_, err := f.c.Play(ctx, PlayRequest{GuildID: g, VoiceChannelID: "vc", Query: "a"})
		require.NoError(t, err)
	}
	snaps := f.c.Snapshots()
	require.Len(t, snaps, 2)
	assert.Equal(t, "g1", snaps[0].GuildID)
	assert.Equal(t, "g2", snaps[1].GuildID)
}

func TestSettingsLoadedAndUpdated(t *testing.T) {
	gs := models.DefaultGuildSettings()
	gs.DefaultVolume = 40
	f := newFixture(t, gs)
	f.dir.members["owner"] = models.Member{ManageGuild: true}
	f.searchable("a")
	f.play(t, "a")
	assert.Equal(t, 40, f.snapshot(t).Volume)

	next := gs
	next.Autoplay = true
	assert.ErrorIs(t, f.c.UpdateSettings(ctx, "g1", "u1", next), models.ErrNotManager)

	bad := gs
	bad.VoteSkipPercentage = 0
	assert.Error(t, f.c.UpdateSettings(ctx, "g1", "owner", bad))

	require.NoError(t, f.c.UpdateSettings(ctx, "g1", "owner", next))
	assert.True(t, f.snapshot(t).Settings.Autoplay)
	saved, err := f.store.GetGuildSettings(ctx, "g1")
	require.NoError(t, err)
	assert.True(t, saved.Autoplay)

	require.NoError(t, f.c.UpdateSettings(ctx, "g9", "owner", next))
}

func TestHistoryUnknownGuild(t *testing.T) {
	f := newFixture(t, models.DefaultGuildSettings())
	hist, err := f.c.History(ctx, "nope")
	require.NoError(t, err)
	assert.Empty(t, hist)
}

func TestStartConsumesPoolEvents(t *testing.T) {
	f := newFixture(t, models.DefaultGuildSettings())
	f.searchable("a", "b")
	f.play(t, "a", "b")

	events := make(chan pool.NodeEvent, 1)
	f.c.Start(ctx, events)
	events <- pool.NodeEvent{Node: "n1", Event: lavalink.TrackEndEvent{GuildID: "g1", Track: track("a"), Reason: models.EndFinished}}

	require.Eventually(t, func() bool { return len(f.node.Played()) == 2 }, 2*time.Second, 10*time.Millisecond)
	close(events)
}

func TestOperationsAfterShutdown(t *testing.T) {
	f := newFixture(t, models.DefaultGuildSettings())
	f.searchable("a")
	f.c.Shutdown()

	_, err := f.playAs("vc1", "a")
	assert.True(t, errors.Is(err, errStopped))
}
