package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"contest_judge/internal/common"
	"contest_judge/internal/domain/model"

	"github.com/shopspring/decimal"
	. "github.com/smartystreets/goconvey/convey"
)

type leaderboardEnv struct {
	svc          *LeaderboardService
	boards       *fakeLeaderboards
	subs         *fakeSubmissions
	competitions *fakeCompetitions
	cache        *memCache
}

func newLeaderboardEnv() *leaderboardEnv {
	env := &leaderboardEnv{
		boards:       newFakeLeaderboards(),
		subs:         newFakeSubmissions(),
		competitions: newFakeCompetitions(),
		cache:        &memCache{data: make(map[string][]model.Standing), generations: make(map[string]int64)},
	}
	env.competitions.addCompetition(model.Competition{ID: "c1", Title: "Spring Cup"})
	env.competitions.addTeam("c1", "A")
	env.competitions.addTeam("c1", "B")
	env.competitions.addTeam("c1", "C")
	env.svc = NewLeaderboardService(&fakeTx{}, env.boards, env.subs, env.competitions, env.cache, nullLogger())
	return env
}

func (e *leaderboardEnv) apply(team, problem, submission, score string, at time.Time) error {
	return e.svc.ApplyScore(context.Background(), ScoreUpdate{
		CompetitionID: "c1",
		TeamID:        team,
		ProblemID:     problem,
		SubmissionID:  submission,
		Score:         dec(score),
		AchievedAt:    at,
	})
}

func (e *leaderboardEnv) standings() []model.Standing {
	e.cache.Invalidate(context.Background(), "c1")
	st, err := e.svc.GetStandings(context.Background(), "c1")
	So(err, ShouldBeNil)
	return st
}

type memCache struct {
	data        map[string][]model.Standing
	generations map[string]int64
	hits        int
	invalidated int
	// onMiss runs after a miss, before the caller reads the database.
	onMiss func()
}

func (c *memCache) Get(ctx context.Context, id string) ([]model.Standing, int64, bool, error) {
	st, ok := c.data[id]
	if ok {
		c.hits++
	} else if c.onMiss != nil {
		defer c.onMiss()
	}
	return st, c.generations[id], ok, nil
}

func (c *memCache) Set(ctx context.Context, id string, gen int64, st []model.Standing) (bool, error) {
	if c.generations[id] != gen {
		return false, nil
	}
	c.data[id] = st
	return true, nil
}

func (c *memCache) Invalidate(ctx context.Context, id string) error {
	c.invalidated++
	c.generations[id]++
	delete(c.data, id)
	return nil
}

// summarize flattens standings into comparable rows.
func summarize(st []model.Standing) []string {
	var rows []string
	for _, s := range st {
		rows = append(rows, fmt.Sprintf("%d %s %s", s.Rank, s.TeamID, s.TotalScore))
		for _, p := range s.Problems {
			rows = append(rows, fmt.Sprintf("  %s %s %s %s", p.ProblemID, p.Score, p.SubmissionID, p.AchievedAt.Format(time.RFC3339)))
		}
	}
	return rows
}

func problemOf(st model.Standing, problemID string) (model.ProblemStanding, bool) {
	for _, p := range st.Problems {
		if p.ProblemID == problemID {
			return p, true
		}
	}
	return model.ProblemStanding{}, false
}

func TestApplyScore(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	Convey("Given a competition with no results yet", t, func() {
		env := newLeaderboardEnv()

		Convey("Only a strictly better score replaces the recorded best", func() {
			So(env.apply("A", "P1", "s1", "50", t0), ShouldBeNil)
			So(env.apply("A", "P1", "s2", "30", t0.Add(time.Minute)), ShouldBeNil)
			So(env.apply("A", "P1", "s3", "50", t0.Add(2*time.Minute)), ShouldBeNil)
			So(env.apply("A", "P2", "s4", "40", t0.Add(3*time.Minute)), ShouldBeNil)

			st := env.standings()
			So(st, ShouldHaveLength, 1)
			So(st[0].TotalScore.String(), ShouldEqual, "90")

			p1, ok := problemOf(st[0], "P1")
			So(ok, ShouldBeTrue)
			So(p1.Score.String(), ShouldEqual, "50")
			So(p1.SubmissionID, ShouldEqual, "s1")
			So(p1.AchievedAt.Equal(t0), ShouldBeTrue)
		})

		Convey("The total always equals the sum of problem bests", func() {
			steps := []struct{ problem, score string }{
				{"P1", "10.5"}, {"P2", "20"}, {"P1", "15.25"}, {"P3", "0"}, {"P2", "19"},
			}
			for i, step := range steps {
				So(env.apply("A", step.problem, "s"+string(rune('a'+i)), step.score, t0), ShouldBeNil)

				entry, ok := env.boards.entryFor("c1", "A")
				So(ok, ShouldBeTrue)
				scores, _ := env.boards.ListProblemScores(context.Background(), nil, entry.ID)
				So(entry.TotalScore.Equal(SumScores(scores)), ShouldBeTrue)
			}
			entry, _ := env.boards.entryFor("c1", "A")
			So(entry.TotalScore.String(), ShouldEqual, "35.25")
		})

		Convey("Ranks are contiguous and ties go to the earlier entry", func() {
			So(env.apply("A", "P1", "a1", "50", t0), ShouldBeNil)
			So(env.apply("B", "P1", "b1", "50", t0), ShouldBeNil)
			So(env.apply("C", "P1", "c1", "70", t0), ShouldBeNil)

			st := env.standings()
			So(st, ShouldHaveLength, 3)
			So([]string{st[0].TeamID, st[1].TeamID, st[2].TeamID}, ShouldResemble, []string{"C", "A", "B"})
			So([]int{st[0].Rank, st[1].Rank, st[2].Rank}, ShouldResemble, []int{1, 2, 3})
			So(st[0].TeamName, ShouldEqual, "Team C")
		})

		Convey("Each update invalidates the cached standings", func() {
			env.standings()
			_, _, cached, _ := env.cache.Get(context.Background(), "c1")
			So(cached, ShouldBeTrue)

			So(env.apply("A", "P1", "s1", "1", t0), ShouldBeNil)
			_, _, cached, _ = env.cache.Get(context.Background(), "c1")
			So(cached, ShouldBeFalse)
		})

		Convey("A storage failure is reported to the caller", func() {
			env.boards.failEnsureLB = errors.New("connection reset")
			err := env.apply("A", "P1", "s1", "1", t0)
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "connection reset")
		})
	})
}

func TestResyncCompetition(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	Convey("Given completed submissions for several teams", t, func() {
		env := newLeaderboardEnv()
		seed := []struct {
			id, team, problem, score string
			at                       time.Duration
			status                   model.SubmissionStatus
		}{
			{"s1", "A", "P1", "50", 0, model.StatusCompleted},
			{"s2", "A", "P1", "30", time.Minute, model.StatusCompleted},
			{"s3", "A", "P2", "40", 2 * time.Minute, model.StatusCompleted},
			{"s4", "B", "P1", "50", 3 * time.Minute, model.StatusCompleted},
			{"s5", "B", "P1", "50", 4 * time.Minute, model.StatusCompleted},
			{"s6", "C", "P1", "100", 5 * time.Minute, model.StatusError},
			{"s7", "C", "P2", "10", 6 * time.Minute, model.StatusCompleted},
		}
		for _, s := range seed {
			env.subs.add(model.Submission{
				ID: s.id, CompetitionID: "c1", TeamID: s.team, ProblemID: s.problem,
				Status: s.status, Score: decimal.NewNullDecimal(dec(s.score)),
				SubmittedAt: t0.Add(s.at),
			})
		}

		Convey("Resync builds the leaderboard from scratch", func() {
			So(env.svc.ResyncCompetition(context.Background(), "c1"), ShouldBeNil)
			st := env.standings()

			So(st, ShouldHaveLength, 3)
			So(st[0].TeamID, ShouldEqual, "A")
			So(st[0].TotalScore.String(), ShouldEqual, "90")
			So(st[1].TeamID, ShouldEqual, "B")
			So(st[2].TeamID, ShouldEqual, "C")
			So(st[2].TotalScore.String(), ShouldEqual, "10")

			p1, _ := problemOf(st[1], "P1")
			So(p1.SubmissionID, ShouldEqual, "s4")
		})

		Convey("Running it twice gives the same content", func() {
			So(env.svc.ResyncCompetition(context.Background(), "c1"), ShouldBeNil)
			first := env.standings()
			So(env.svc.ResyncCompetition(context.Background(), "c1"), ShouldBeNil)
			second := env.standings()
			So(summarize(second), ShouldResemble, summarize(first))
		})

		Convey("It agrees with the incremental path", func() {
			for _, s := range seed {
				if s.status != model.StatusCompleted {
					continue
				}
				So(env.apply(s.team, s.problem, s.id, s.score, t0.Add(s.at)), ShouldBeNil)
			}
			incremental := summarize(env.standings())

			So(env.svc.ResyncCompetition(context.Background(), "c1"), ShouldBeNil)
			So(summarize(env.standings()), ShouldResemble, incremental)
		})
	})
}

func TestGetStandings(t *testing.T) {
	Convey("Given the leaderboard service", t, func() {
		env := newLeaderboardEnv()

		Convey("An unknown competition is not found", func() {
			_, err := env.svc.GetStandings(context.Background(), "nope")
			So(errors.Is(err, common.ErrNotFound), ShouldBeTrue)
		})

		Convey("A competition without results has empty standings", func() {
			st, err := env.svc.GetStandings(context.Background(), "c1")
			So(err, ShouldBeNil)
			So(st, ShouldBeEmpty)
		})

		Convey("A second read is served from the cache", func() {
			env.svc.GetStandings(context.Background(), "c1")
			env.svc.GetStandings(context.Background(), "c1")
			So(env.cache.hits, ShouldEqual, 1)
		})

		Convey("A read that races a score update does not cache its result", func() {
			// The update commits and invalidates between the miss and the fill.
			env.cache.onMiss = func() {
				env.cache.onMiss = nil
				env.cache.Invalidate(context.Background(), "c1")
			}
			_, err := env.svc.GetStandings(context.Background(), "c1")
			So(err, ShouldBeNil)
			So(env.cache.data, ShouldNotContainKey, "c1")

			env.svc.GetStandings(context.Background(), "c1")
			So(env.cache.data, ShouldContainKey, "c1")
		})
	})
}

func TestAssignRanks(t *testing.T) {
	Convey("AssignRanks orders by total then entry id", t, func() {
		entries := []model.LeaderboardEntry{
			{ID: 3, TotalScore: dec("10")},
			{ID: 1, TotalScore: dec("20")},
			{ID: 2, TotalScore: dec("20")},
			{ID: 4, TotalScore: dec("0")},
		}
		ranked := AssignRanks(entries)

		ids := make([]int64, 0, len(ranked))
		for i, e := range ranked {
			So(e.Rank, ShouldEqual, i+1)
			ids = append(ids, e.ID)
		}
		So(ids, ShouldResemble, []int64{1, 2, 3, 4})
		So(entries[0].Rank, ShouldEqual, 0)
	})
}

func TestAggregateStandings(t *testing.T) {
	Convey("Equal best scores keep the earliest submission", t, func() {
		t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
		subs := []model.ScoredSubmission{
			{ID: "late", TeamID: "A", ProblemID: "P1", Score: dec("7"), SubmittedAt: t0.Add(time.Hour), CreatedAt: t0.Add(time.Hour)},
			{ID: "early", TeamID: "A", ProblemID: "P1", Score: dec("7"), SubmittedAt: t0, CreatedAt: t0},
		}
		out := AggregateStandings(subs)
		So(out, ShouldHaveLength, 1)
		So(out[0].Problems[0].SubmissionID, ShouldEqual, "early")
		So(out[0].TotalScore.String(), ShouldEqual, "7")
	})
}
