package analytics

import (
	"context"
	"fmt"
	"testing"

	"eduforum/pkg/domain"
	"eduforum/pkg/store"
)

type fixture struct {
	st *store.MemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return &fixture{st: store.NewMemoryStore()}
}

func (f *fixture) addStudents(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		u := domain.User{ID: fmt.Sprintf("u%02d", i), Name: fmt.Sprintf("student%02d", i), Role: domain.RoleStudent}
		if err := f.st.SaveUser(u); err != nil {
			t.Fatal(err)
		}
	}
}

func (f *fixture) addThread(t *testing.T, id, topic string) {
	t.Helper()
	if err := f.st.CreateThread(domain.Thread{ID: id, AnnouncementID: "ann1", Title: "Discussion: " + topic, Topic: topic}); err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) vote(t *testing.T, threadID, studentID string, level domain.Understanding) {
	t.Helper()
	if err := f.st.UpsertPoll(domain.Poll{ThreadID: threadID, StudentID: studentID, Level: level}); err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) voteMany(t *testing.T, threadID string, complete, partial, none int) {
	t.Helper()
	i := 0
	for ; i < complete; i++ {
		f.vote(t, threadID, fmt.Sprintf("u%02d", i), domain.UnderstandingComplete)
	}
	for ; i < complete+partial; i++ {
		f.vote(t, threadID, fmt.Sprintf("u%02d", i), domain.UnderstandingPartial)
	}
	for ; i < complete+partial+none; i++ {
		f.vote(t, threadID, fmt.Sprintf("u%02d", i), domain.UnderstandingNone)
	}
}

func snapshot(t *testing.T, f *fixture) Snapshot {
	t.Helper()
	snap, err := NewEngine(f.st).Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	return snap
}

func TestTopicClarityScore(t *testing.T) {
	f := newFixture(t)
	f.addStudents(t, 10)
	f.addThread(t, "t1", "TCP vs UDP")
	f.voteMany(t, "t1", 3, 1, 1)

	snap := snapshot(t, f)
	if len(snap.Topics) != 1 {
		t.Fatalf("got %d topics, want 1", len(snap.Topics))
	}
	top := snap.Topics[0]
	if top.TotalVotes != 5 {
		t.Errorf("total_votes = %d, want 5", top.TotalVotes)
	}
	if top.ClarityScore != 60.0 {
		t.Errorf("clarity_score = %v, want 60.0", top.ClarityScore)
	}
	if top.ParticipationRate != 50.0 {
		t.Errorf("participation_rate = %v, want 50.0", top.ParticipationRate)
	}
}

func TestZeroVotesNeverFlagged(t *testing.T) {
	f := newFixture(t)
	f.addStudents(t, 5)
	f.addThread(t, "t1", "OSI Model")

	snap := snapshot(t, f)
	top := snap.Topics[0]
	if top.ClarityScore != 0 {
		t.Errorf("clarity_score = %v, want 0", top.ClarityScore)
	}
	if top.NeedsAttention {
		t.Errorf("zero-vote topic flagged as needing attention")
	}
	if snap.MostUnderstoodTopic != nil || snap.LeastUnderstoodTopic != nil {
		t.Errorf("extremes set with no voted topic")
	}
}

func TestNeedsAttentionRules(t *testing.T) {
	cases := []struct {
		name                    string
		complete, partial, none int
		want                    bool
	}{
		{"low clarity", 1, 3, 0, true},
		{"high confusion share", 6, 0, 4, true},
		{"healthy", 7, 2, 1, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.addStudents(t, 10)
			f.addThread(t, "t1", "Routing")
			f.voteMany(t, "t1", tc.complete, tc.partial, tc.none)
			if got := snapshot(t, f).Topics[0].NeedsAttention; got != tc.want {
				t.Errorf("needs_attention = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestExtremesAndTieBreak(t *testing.T) {
	f := newFixture(t)
	f.addStudents(t, 10)
	f.addThread(t, "t1", "Alpha")
	f.addThread(t, "t2", "Beta")
	f.addThread(t, "t3", "Gamma")
	// t1 and t2 tie on clarity 100, t3 lowest
	f.voteMany(t, "t1", 2, 0, 0)
	f.voteMany(t, "t2", 2, 0, 0)
	f.voteMany(t, "t3", 0, 2, 0)

	snap := snapshot(t, f)
	if snap.MostUnderstoodTopic == nil || snap.MostUnderstoodTopic.ThreadID != "t1" {
		t.Errorf("most understood = %+v, want t1 (tie resolved to earlier thread ID)", snap.MostUnderstoodTopic)
	}
	if snap.LeastUnderstoodTopic == nil || snap.LeastUnderstoodTopic.ThreadID != "t3" {
		t.Errorf("least understood = %+v, want t3", snap.LeastUnderstoodTopic)
	}
}

func TestActivityExtremes(t *testing.T) {
	f := newFixture(t)
	f.addStudents(t, 3)
	f.addThread(t, "t1", "Alpha")
	f.addThread(t, "t2", "Beta")
	uid := "u00"
	for i := 0; i < 3; i++ {
		if err := f.st.AppendMessage(domain.Message{ID: fmt.Sprintf("m%d", i), ThreadID: "t2", UserID: &uid, SenderKind: domain.SenderStudent, Content: "hi"}); err != nil {
			t.Fatal(err)
		}
	}

	snap := snapshot(t, f)
	if snap.MostActiveThread == nil || snap.MostActiveThread.ThreadID != "t2" {
		t.Errorf("most active = %+v, want t2", snap.MostActiveThread)
	}
	if snap.LeastActiveThread == nil || snap.LeastActiveThread.ThreadID != "t1" {
		t.Errorf("least active = %+v, want t1", snap.LeastActiveThread)
	}
}

func TestLeastActiveOmittedForSingleTopic(t *testing.T) {
	f := newFixture(t)
	f.addStudents(t, 2)
	f.addThread(t, "t1", "Alpha")

	snap := snapshot(t, f)
	if snap.MostActiveThread == nil {
		t.Errorf("most active missing")
	}
	if snap.LeastActiveThread != nil {
		t.Errorf("least active set for single topic")
	}
}

func TestSummaryAggregates(t *testing.T) {
	f := newFixture(t)
	f.addStudents(t, 4)
	if err := f.st.SaveAnnouncement(domain.Announcement{ID: "ann1", AuthorID: "teacher", Title: "Week 1"}); err != nil {
		t.Fatal(err)
	}
	f.addThread(t, "t1", "Alpha")
	f.addThread(t, "t2", "Beta")
	f.voteMany(t, "t1", 2, 0, 0)
	f.vote(t, "t2", "u00", domain.UnderstandingNone)

	snap := snapshot(t, f)
	if snap.TotalStudents != 4 {
		t.Errorf("total_students = %d, want 4", snap.TotalStudents)
	}
	if snap.TotalAnnouncements != 1 {
		t.Errorf("total_announcements = %d, want 1", snap.TotalAnnouncements)
	}
	if snap.TotalThreads != 2 {
		t.Errorf("total_threads = %d, want 2", snap.TotalThreads)
	}
	if snap.TotalVotes != 3 {
		t.Errorf("total_votes = %d, want 3", snap.TotalVotes)
	}
	// u00 voted on both threads: 2 distinct voters total
	if snap.StudentsParticipated != 2 {
		t.Errorf("students_participated = %d, want 2", snap.StudentsParticipated)
	}
	if want := 66.7; snap.OverallUnderstandingRate != want {
		t.Errorf("overall_understanding_rate = %v, want %v", snap.OverallUnderstandingRate, want)
	}
	if snap.TopicsNeedingAttention != 1 {
		t.Errorf("topics_needing_attention = %d, want 1", snap.TopicsNeedingAttention)
	}
	// t1: 2/4 = 50%, t2: 1/4 = 25% -> avg 37.5
	if snap.AvgParticipationRate != 37.5 {
		t.Errorf("avg_participation_rate = %v, want 37.5", snap.AvgParticipationRate)
	}
}
