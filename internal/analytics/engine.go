// Package analytics recomputes engagement metrics from stored threads,
// messages, and understanding polls. Nothing is cached: every snapshot is
// derived from the store at request time.
package analytics

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"eduforum/pkg/domain"
)

// Source is the read surface the engine needs from the store.
type Source interface {
	ListThreads() ([]domain.Thread, error)
	CountMessages(threadID string) (int, error)
	PollCounts(threadID string) (domain.PollCounts, error)
	CountUsersByRole(role domain.Role) (int, error)
	CountAnnouncements() (int, error)
	CountDistinctVoters() (int, error)
}

// TopicMetrics is the per-thread slice of a snapshot.
type TopicMetrics struct {
	ThreadID          string  `json:"thread_id"`
	Topic             string  `json:"topic"`
	MessageCount      int     `json:"message_count"`
	CompleteVotes     int     `json:"complete_votes"`
	PartialVotes      int     `json:"partial_votes"`
	NoneVotes         int     `json:"none_votes"`
	TotalVotes        int     `json:"total_votes"`
	ClarityScore      float64 `json:"clarity_score"`
	ParticipationRate float64 `json:"participation_rate"`
	NeedsAttention    bool    `json:"needs_attention"`
}

// Snapshot is the full teacher-facing analytics payload.
type Snapshot struct {
	TotalStudents            int            `json:"total_students"`
	StudentsParticipated     int            `json:"students_participated"`
	TotalAnnouncements       int            `json:"total_announcements"`
	TotalThreads             int            `json:"total_threads"`
	TotalVotes               int            `json:"total_votes"`
	OverallUnderstandingRate float64        `json:"overall_understanding_rate"`
	TopicsNeedingAttention   int            `json:"topics_needing_attention"`
	AvgParticipationRate     float64        `json:"avg_participation_rate"`
	MostUnderstoodTopic      *TopicMetrics  `json:"most_understood_topic,omitempty"`
	LeastUnderstoodTopic     *TopicMetrics  `json:"least_understood_topic,omitempty"`
	MostActiveThread         *TopicMetrics  `json:"most_active_thread,omitempty"`
	LeastActiveThread        *TopicMetrics  `json:"least_active_thread,omitempty"`
	Topics                   []TopicMetrics `json:"topics"`
}

// snapshotConcurrency bounds the per-thread store fan-out.
const snapshotConcurrency = 4

type Engine struct {
	src Source
}

func NewEngine(src Source) *Engine {
	return &Engine{src: src}
}

// Snapshot recomputes all metrics. Topics cover every thread with a parent
// announcement, in ascending thread-ID order; that order also breaks clarity
// ties for the extremes.
func (e *Engine) Snapshot(ctx context.Context) (Snapshot, error) {
	threads, err := e.src.ListThreads()
	if err != nil {
		return Snapshot{}, fmt.Errorf("list threads: %w", err)
	}
	eligible := threads[:0:0]
	for _, th := range threads {
		if th.AnnouncementID != "" {
			eligible = append(eligible, th)
		}
	}
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].ID < eligible[j].ID })

	totalStudents, err := e.src.CountUsersByRole(domain.RoleStudent)
	if err != nil {
		return Snapshot{}, fmt.Errorf("count students: %w", err)
	}

	topics := make([]TopicMetrics, len(eligible))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(snapshotConcurrency)
	for i, th := range eligible {
		i, th := i, th
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			m, err := e.topicMetrics(th, totalStudents)
			if err != nil {
				return err
			}
			topics[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		TotalStudents: totalStudents,
		TotalThreads:  len(topics),
		Topics:        topics,
	}
	if snap.TotalAnnouncements, err = e.src.CountAnnouncements(); err != nil {
		return Snapshot{}, fmt.Errorf("count announcements: %w", err)
	}
	if snap.StudentsParticipated, err = e.src.CountDistinctVoters(); err != nil {
		return Snapshot{}, fmt.Errorf("count voters: %w", err)
	}

	totalComplete := 0
	participationSum := 0.0
	for i := range topics {
		t := &topics[i]
		snap.TotalVotes += t.TotalVotes
		totalComplete += t.CompleteVotes
		participationSum += t.ParticipationRate
		if t.NeedsAttention {
			snap.TopicsNeedingAttention++
		}
	}
	if snap.TotalVotes > 0 {
		snap.OverallUnderstandingRate = percent(totalComplete, snap.TotalVotes)
	}
	if len(topics) > 0 {
		snap.AvgParticipationRate = round1(participationSum / float64(len(topics)))
	}

	snap.MostUnderstoodTopic, snap.LeastUnderstoodTopic = clarityExtremes(topics)
	snap.MostActiveThread, snap.LeastActiveThread = activityExtremes(topics)
	return snap, nil
}

func (e *Engine) topicMetrics(th domain.Thread, totalStudents int) (TopicMetrics, error) {
	msgCount, err := e.src.CountMessages(th.ID)
	if err != nil {
		return TopicMetrics{}, fmt.Errorf("count messages for thread %s: %w", th.ID, err)
	}
	counts, err := e.src.PollCounts(th.ID)
	if err != nil {
		return TopicMetrics{}, fmt.Errorf("poll counts for thread %s: %w", th.ID, err)
	}
	m := TopicMetrics{
		ThreadID:      th.ID,
		Topic:         th.Topic,
		MessageCount:  msgCount,
		CompleteVotes: counts.Complete,
		PartialVotes:  counts.Partial,
		NoneVotes:     counts.None,
		TotalVotes:    counts.Total(),
	}
	if m.TotalVotes > 0 {
		m.ClarityScore = percent(m.CompleteVotes, m.TotalVotes)
		nonePct := percent(m.NoneVotes, m.TotalVotes)
		m.NeedsAttention = m.ClarityScore < 50 || nonePct > 30
	}
	if totalStudents > 0 {
		m.ParticipationRate = percent(m.TotalVotes, totalStudents)
	}
	return m, nil
}

// clarityExtremes picks the most and least understood topics among those with
// votes. Equal scores resolve to the earlier thread ID.
func clarityExtremes(topics []TopicMetrics) (most, least *TopicMetrics) {
	for i := range topics {
		t := &topics[i]
		if t.TotalVotes == 0 {
			continue
		}
		if most == nil || t.ClarityScore > most.ClarityScore {
			most = t
		}
		if least == nil || t.ClarityScore < least.ClarityScore {
			least = t
		}
	}
	return most, least
}

// activityExtremes picks by message count; the least-active slot is left
// empty when fewer than two topics exist.
func activityExtremes(topics []TopicMetrics) (most, least *TopicMetrics) {
	for i := range topics {
		t := &topics[i]
		if most == nil || t.MessageCount > most.MessageCount {
			most = t
		}
	}
	if len(topics) >= 2 {
		for i := range topics {
			t := &topics[i]
			if least == nil || t.MessageCount < least.MessageCount {
				least = t
			}
		}
	}
	return most, least
}

func percent(part, whole int) float64 {
	return round1(float64(part) / float64(whole) * 100)
}

func round1(v float64) float64 {
	return float64(int(v*10+0.5)) / 10
}
