// Package queue holds the per-guild playback queue. A Queue is not safe for
// concurrent use; the coordinator owns each one from a single goroutine.
package queue

import (
	"math/rand/v2"
	"slices"
	"time"

	"guildtunes/internal/models"
)

// MaxHistory bounds the number of remembered plays.
const MaxHistory = 50

type Queue struct {
	pending  []models.QueueEntry
	current  *models.QueueEntry
	previous *models.QueueEntry
	history  []models.HistoryEntry
	loop     models.LoopMode
	volume   int
	votes    map[string]struct{}

	VoiceChannelID string
	TextChannelID  string

	intn func(n int) int
	now  func() time.Time
}

func New(volume int) *Queue {
	q := &Queue{
		loop:  models.LoopNone,
		votes: make(map[string]struct{}),
		intn:  rand.IntN,
		now:   func() time.Time { return time.Now().UTC() },
	}
	q.SetVolume(volume)
	return q
}

func (q *Queue) Add(track models.Track, requester models.Requester) {
	q.pending = append(q.pending, models.QueueEntry{Track: track, Requester: requester})
}

func (q *Queue) AddMany(tracks []models.Track, requester models.Requester) {
	for _, t := range tracks {
		q.Add(t, requester)
	}
}

// Next advances the queue and returns the new current entry, or nil when
// nothing is left. With LoopTrack the current entry is returned unchanged.
func (q *Queue) Next() *models.QueueEntry {
	if q.loop == models.LoopTrack && q.current != nil {
		cur := *q.current
		return &cur
	}
	if q.current != nil {
		outgoing := *q.current
		q.previous = &outgoing
		if q.loop == models.LoopQueue {
			q.pending = append(q.pending, outgoing)
		}
	}
	if len(q.pending) == 0 {
		q.current = nil
		return nil
	}
	next := q.pending[0]
	q.pending = slices.Delete(q.pending, 0, 1)
	q.current = &next
	cur := next
	return &cur
}

// SkipTo drops every pending entry before index and advances. An out of
// range index leaves the queue untouched and returns nil.
func (q *Queue) SkipTo(index int) *models.QueueEntry {
	if index < 0 || index >= len(q.pending) {
		return nil
	}
	q.pending = slices.Delete(q.pending, 0, index)
	return q.Next()
}

// Back makes the previous entry current again, pushing the current one back
// to the head of the pending entries.
func (q *Queue) Back() *models.QueueEntry {
	if q.previous == nil {
		return nil
	}
	if q.current != nil {
		q.pending = slices.Insert(q.pending, 0, *q.current)
	}
	prev := *q.previous
	q.current = &prev
	q.previous = nil
	cur := prev
	return &cur
}

func (q *Queue) Remove(index int) (models.QueueEntry, bool) {
	if index < 0 || index >= len(q.pending) {
		return models.QueueEntry{}, false
	}
	removed := q.pending[index]
	q.pending = slices.Delete(q.pending, index, index+1)
	return removed, true
}

func (q *Queue) Move(from, to int) bool {
	if from < 0 || from >= len(q.pending) || to < 0 || to >= len(q.pending) {
		return false
	}
	if from == to {
		return true
	}
	entry := q.pending[from]
	q.pending = slices.Delete(q.pending, from, from+1)
	q.pending = slices.Insert(q.pending, to, entry)
	return true
}

// Shuffle permutes the pending entries in place (Fisher-Yates).
func (q *Queue) Shuffle() {
	for i := len(q.pending) - 1; i > 0; i-- {
		j := q.intn(i + 1)
		q.pending[i], q.pending[j] = q.pending[j], q.pending[i]
	}
}

// Clear drops pending entries only.
func (q *Queue) Clear() {
	q.pending = nil
}

// Stop forgets the current entry and everything pending. History and the
// previous entry survive so autoplay and Back still have something to use.
func (q *Queue) Stop() {
	q.pending = nil
	q.current = nil
	q.ClearVotes()
}

// Drop forgets the current entry without making it previous or requeueing
// it under LoopQueue. Pending entries stay.
func (q *Queue) Drop() {
	q.current = nil
	q.ClearVotes()
}

func (q *Queue) AddToHistory(entry models.QueueEntry) {
	h := models.HistoryEntry{QueueEntry: entry, PlayedAt: q.now()}
	q.history = slices.Insert(q.history, 0, h)
	if len(q.history) > MaxHistory {
		q.history = q.history[:MaxHistory]
	}
}

func (q *Queue) Current() *models.QueueEntry {
	if q.current == nil {
		return nil
	}
	cur := *q.current
	return &cur
}

func (q *Queue) Previous() *models.QueueEntry {
	if q.previous == nil {
		return nil
	}
	prev := *q.previous
	return &prev
}

func (q *Queue) Entries() []models.QueueEntry { return slices.Clone(q.pending) }

func (q *Queue) History() []models.HistoryEntry { return slices.Clone(q.history) }

func (q *Queue) Len() int { return len(q.pending) }

func (q *Queue) IsEmpty() bool { return len(q.pending) == 0 }

// Idle reports whether nothing is playing and nothing is waiting.
func (q *Queue) Idle() bool { return q.current == nil && len(q.pending) == 0 }

func (q *Queue) Loop() models.LoopMode { return q.loop }

func (q *Queue) SetLoop(mode models.LoopMode) {
	if mode.Valid() {
		q.loop = mode
	}
}

func (q *Queue) Volume() int { return q.volume }

// SetVolume clamps v into [0, MaxVolume] and returns the stored value.
func (q *Queue) SetVolume(v int) int {
	q.volume = min(max(v, 0), models.MaxVolume)
	return q.volume
}

func (q *Queue) AddVote(userID string) bool {
	if _, ok := q.votes[userID]; ok {
		return false
	}
	q.votes[userID] = struct{}{}
	return true
}

func (q *Queue) RemoveVote(userID string) { delete(q.votes, userID) }

func (q *Queue) HasVoted(userID string) bool {
	_, ok := q.votes[userID]
	return ok
}

func (q *Queue) VoteCount() int { return len(q.votes) }

func (q *Queue) ClearVotes() { clear(q.votes) }
