package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"contest_judge/internal/common"
	"contest_judge/internal/domain/model"
	"contest_judge/internal/platform/queue"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

func nullLogger() logrus.FieldLogger {
	log, _ := test.NewNullLogger()
	return log
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// fakeTx serialises transactions; there is no rollback.
type fakeTx struct {
	mu sync.Mutex
}

func (f *fakeTx) WithinTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fn(nil)
}

type fakeSubmissions struct {
	mu   sync.Mutex
	subs map[string]*model.Submission
}

func newFakeSubmissions() *fakeSubmissions {
	return &fakeSubmissions{subs: make(map[string]*model.Submission)}
}

func (f *fakeSubmissions) add(s model.Submission) *model.Submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s.Status == "" {
		s.Status = model.StatusPending
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = s.SubmittedAt
	}
	f.subs[s.ID] = &s
	return &s
}

func (f *fakeSubmissions) get(id string) model.Submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.subs[id]
}

func (f *fakeSubmissions) CreateSubmission(ctx context.Context, tx *sql.Tx, sub *model.Submission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subs[sub.ID]; ok {
		return fmt.Errorf("submission %s: %w", sub.ID, common.ErrConflict)
	}
	sub.CreatedAt = sub.SubmittedAt
	c := *sub
	f.subs[sub.ID] = &c
	return nil
}

func (f *fakeSubmissions) GetSubmissionByID(ctx context.Context, tx *sql.Tx, id string) (*model.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.subs[id]
	if !ok {
		return nil, fmt.Errorf("submission %s: %w", id, common.ErrNotFound)
	}
	c := *s
	return &c, nil
}

func (f *fakeSubmissions) MarkJudging(ctx context.Context, tx *sql.Tx, id, nodeID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.subs[id]
	if !ok || s.Status.IsTerminal() {
		return false, nil
	}
	s.Status = model.StatusJudging
	s.EvaluateNodeID = &nodeID
	return true, nil
}

func (f *fakeSubmissions) ApplyJudgeResult(ctx context.Context, tx *sql.Tx, id string, r model.JudgeResult, at time.Time) (*model.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.subs[id]
	if !ok {
		return nil, fmt.Errorf("submission %s: %w", id, common.ErrNotFound)
	}
	s.Status = r.Status
	s.Score = r.Score
	s.Logs = r.Logs
	s.JudgedAt = &at
	c := *s
	return &c, nil
}

func (f *fakeSubmissions) MarkTimedOut(ctx context.Context, tx *sql.Tx, id, logs string, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.subs[id]
	if !ok || s.Status.IsTerminal() {
		return false, nil
	}
	s.Status = model.StatusError
	s.Logs = &logs
	s.JudgedAt = &at
	return true, nil
}

func (f *fakeSubmissions) ResetForRequeue(ctx context.Context, tx *sql.Tx, id string) (*model.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.subs[id]
	if !ok {
		return nil, fmt.Errorf("submission %s: %w", id, common.ErrNotFound)
	}
	s.Status = model.StatusPending
	s.Score = decimal.NullDecimal{}
	s.Logs = nil
	s.JudgedAt = nil
	s.EvaluateNodeID = nil
	c := *s
	return &c, nil
}

func (f *fakeSubmissions) scored(match func(*model.Submission) bool) []model.ScoredSubmission {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.ScoredSubmission
	for _, s := range f.subs {
		if s.Status != model.StatusCompleted || !s.Score.Valid || !match(s) {
			continue
		}
		out = append(out, model.ScoredSubmission{
			ID: s.ID, TeamID: s.TeamID, ProblemID: s.ProblemID,
			Score: s.Score.Decimal, SubmittedAt: s.SubmittedAt, CreatedAt: s.CreatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].SubmittedAt.Before(out[j].SubmittedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (f *fakeSubmissions) ListScoredByCompetition(ctx context.Context, tx *sql.Tx, competitionID string) ([]model.ScoredSubmission, error) {
	return f.scored(func(s *model.Submission) bool { return s.CompetitionID == competitionID }), nil
}

func (f *fakeSubmissions) ListScoredByTeam(ctx context.Context, tx *sql.Tx, competitionID, teamID string) ([]model.ScoredSubmission, error) {
	return f.scored(func(s *model.Submission) bool { return s.CompetitionID == competitionID && s.TeamID == teamID }), nil
}

type fakeLeaderboards struct {
	mu           sync.Mutex
	boards       map[string]*model.Leaderboard
	entries      map[int64]*model.LeaderboardEntry
	scores       map[string]*model.ProblemScore
	nextEntry    int64
	failEnsureLB error
}

func newFakeLeaderboards() *fakeLeaderboards {
	return &fakeLeaderboards{
		boards:  make(map[string]*model.Leaderboard),
		entries: make(map[int64]*model.LeaderboardEntry),
		scores:  make(map[string]*model.ProblemScore),
	}
}

func (f *fakeLeaderboards) EnsureLeaderboard(ctx context.Context, tx *sql.Tx, competitionID string) (*model.Leaderboard, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failEnsureLB != nil {
		return nil, f.failEnsureLB
	}
	lb, ok := f.boards[competitionID]
	if !ok {
		lb = &model.Leaderboard{ID: "lb-" + competitionID, CompetitionID: competitionID}
		f.boards[competitionID] = lb
	}
	c := *lb
	return &c, nil
}

func (f *fakeLeaderboards) FindLeaderboard(ctx context.Context, tx *sql.Tx, competitionID string) (*model.Leaderboard, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	lb, ok := f.boards[competitionID]
	if !ok {
		return nil, fmt.Errorf("leaderboard: %w", common.ErrNotFound)
	}
	c := *lb
	return &c, nil
}

func (f *fakeLeaderboards) insertEntryLocked(leaderboardID, teamID string, total decimal.Decimal, rank int) *model.LeaderboardEntry {
	f.nextEntry++
	e := &model.LeaderboardEntry{ID: f.nextEntry, LeaderboardID: leaderboardID, TeamID: teamID, TotalScore: total, Rank: rank}
	f.entries[e.ID] = e
	return e
}

func (f *fakeLeaderboards) EnsureEntry(ctx context.Context, tx *sql.Tx, leaderboardID, teamID string) (*model.LeaderboardEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.entries {
		if e.LeaderboardID == leaderboardID && e.TeamID == teamID {
			c := *e
			return &c, nil
		}
	}
	c := *f.insertEntryLocked(leaderboardID, teamID, decimal.Zero, 0)
	return &c, nil
}

func (f *fakeLeaderboards) ListEntries(ctx context.Context, tx *sql.Tx, leaderboardID string) ([]model.LeaderboardEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.LeaderboardEntry
	for _, e := range f.entries {
		if e.LeaderboardID == leaderboardID {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeLeaderboards) InsertEntry(ctx context.Context, tx *sql.Tx, leaderboardID, teamID string, total decimal.Decimal, rank int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.insertEntryLocked(leaderboardID, teamID, total, rank).ID, nil
}

func (f *fakeLeaderboards) UpdateEntryTotal(ctx context.Context, tx *sql.Tx, entryID int64, total decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[entryID].TotalScore = total
	return nil
}

func (f *fakeLeaderboards) UpdateEntryRank(ctx context.Context, tx *sql.Tx, entryID int64, rank int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[entryID].Rank = rank
	return nil
}

func (f *fakeLeaderboards) DeleteEntries(ctx context.Context, tx *sql.Tx, leaderboardID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, e := range f.entries {
		if e.LeaderboardID != leaderboardID {
			continue
		}
		delete(f.entries, id)
		for sid, ps := range f.scores {
			if ps.EntryID == id {
				delete(f.scores, sid)
			}
		}
	}
	return nil
}

func (f *fakeLeaderboards) GetProblemScore(ctx context.Context, tx *sql.Tx, entryID int64, problemID string) (*model.ProblemScore, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ps := range f.scores {
		if ps.EntryID == entryID && ps.ProblemID == problemID {
			c := *ps
			return &c, nil
		}
	}
	return nil, fmt.Errorf("problem score: %w", common.ErrNotFound)
}

func (f *fakeLeaderboards) InsertProblemScore(ctx context.Context, tx *sql.Tx, ps *model.ProblemScore) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ps.ID == "" {
		ps.ID = uuid.NewString()
	}
	c := *ps
	f.scores[c.ID] = &c
	return nil
}

func (f *fakeLeaderboards) UpdateProblemScore(ctx context.Context, tx *sql.Tx, ps *model.ProblemScore) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := *ps
	f.scores[c.ID] = &c
	return nil
}

func (f *fakeLeaderboards) ListProblemScores(ctx context.Context, tx *sql.Tx, entryID int64) ([]model.ProblemScore, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.ProblemScore
	for _, ps := range f.scores {
		if ps.EntryID == entryID {
			out = append(out, *ps)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProblemID < out[j].ProblemID })
	return out, nil
}

func (f *fakeLeaderboards) ListProblemScoresByLeaderboard(ctx context.Context, tx *sql.Tx, leaderboardID string) ([]model.ProblemScore, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.ProblemScore
	for _, ps := range f.scores {
		if e, ok := f.entries[ps.EntryID]; ok && e.LeaderboardID == leaderboardID {
			out = append(out, *ps)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EntryID != out[j].EntryID {
			return out[i].EntryID < out[j].EntryID
		}
		return out[i].ProblemID < out[j].ProblemID
	})
	return out, nil
}

// entryFor returns the team's entry in the competition leaderboard.
func (f *fakeLeaderboards) entryFor(competitionID, teamID string) (model.LeaderboardEntry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	lb, ok := f.boards[competitionID]
	if !ok {
		return model.LeaderboardEntry{}, false
	}
	for _, e := range f.entries {
		if e.LeaderboardID == lb.ID && e.TeamID == teamID {
			return *e, true
		}
	}
	return model.LeaderboardEntry{}, false
}

type fakeCompetitions struct {
	mu      sync.Mutex
	comps   map[string]*model.Competition
	teams   map[string][]model.Team
	members map[string]string
}

func newFakeCompetitions() *fakeCompetitions {
	return &fakeCompetitions{
		comps:   make(map[string]*model.Competition),
		teams:   make(map[string][]model.Team),
		members: make(map[string]string),
	}
}

func (f *fakeCompetitions) addCompetition(c model.Competition) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.comps[c.ID] = &c
}

func (f *fakeCompetitions) addTeam(competitionID, teamID string, userIDs ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.teams[competitionID] = append(f.teams[competitionID], model.Team{ID: teamID, CompetitionID: competitionID, Name: "Team " + teamID})
	for _, u := range userIDs {
		f.members[competitionID+"/"+u] = teamID
	}
}

func (f *fakeCompetitions) GetCompetition(ctx context.Context, tx *sql.Tx, id string) (*model.Competition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.comps[id]
	if !ok {
		return nil, fmt.Errorf("competition %s: %w", id, common.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (f *fakeCompetitions) ListActiveCompetitionIDs(ctx context.Context, since time.Time) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id, c := range f.comps {
		if c.EndTime == nil || !c.EndTime.Before(since) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (f *fakeCompetitions) ListTeams(ctx context.Context, tx *sql.Tx, competitionID string) ([]model.Team, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Team(nil), f.teams[competitionID]...), nil
}

func (f *fakeCompetitions) FindTeamIDForUser(ctx context.Context, tx *sql.Tx, competitionID, userID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	teamID, ok := f.members[competitionID+"/"+userID]
	if !ok {
		return "", fmt.Errorf("team for user %s: %w", userID, common.ErrNotFound)
	}
	return teamID, nil
}

type fakeProblems struct {
	problems map[string]model.Problem
}

func newFakeProblems(ps ...model.Problem) *fakeProblems {
	f := &fakeProblems{problems: make(map[string]model.Problem)}
	for _, p := range ps {
		f.problems[p.ID] = p
	}
	return f
}

func (f *fakeProblems) FindProblem(ctx context.Context, tx *sql.Tx, competitionID, problemID string) (*model.Problem, error) {
	p, ok := f.problems[problemID]
	if !ok || p.CompetitionID != competitionID {
		return nil, fmt.Errorf("problem %s: %w", problemID, common.ErrNotFound)
	}
	return &p, nil
}

func (f *fakeProblems) ListProblems(ctx context.Context, tx *sql.Tx, competitionID string) ([]model.Problem, error) {
	var out []model.Problem
	for _, p := range f.problems {
		if p.CompetitionID == competitionID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type fakeHistory struct {
	mu     sync.Mutex
	series map[string][]model.HistoryPoint
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{series: make(map[string][]model.HistoryPoint)}
}

func (f *fakeHistory) ReplaceTeamHistory(ctx context.Context, tx *sql.Tx, competitionID, teamID string, points []model.HistoryPoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.series[competitionID+"/"+teamID] = append([]model.HistoryPoint(nil), points...)
	return nil
}

func (f *fakeHistory) ListByCompetition(ctx context.Context, competitionID string) ([]model.TeamHistory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.TeamHistory
	prefix := competitionID + "/"
	for key, points := range f.series {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			out = append(out, model.TeamHistory{TeamID: key[len(prefix):], Points: points})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TeamID < out[j].TeamID })
	return out, nil
}

type fakeCdks struct {
	mu           sync.Mutex
	codes        []*model.CompetitionCdk
	loseClaims   int
	advisoryHits int
}

func (f *fakeCdks) seed(competitionID string, codes ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, c := range codes {
		f.codes = append(f.codes, &model.CompetitionCdk{
			ID:            "cdk-" + c,
			CompetitionID: competitionID,
			Code:          c,
			Status:        model.CdkAvailable,
			CreatedAt:     base.Add(time.Duration(len(f.codes)) * time.Second),
		})
	}
}

func (f *fakeCdks) owner(c *model.CompetitionCdk, unit model.ClaimUnit) bool {
	if unit.Mode == model.CdkClaimModeMember {
		return c.UserID != nil && *c.UserID == unit.ID
	}
	return c.TeamID != nil && *c.TeamID == unit.ID
}

func (f *fakeCdks) LockClaimUnit(ctx context.Context, tx *sql.Tx, competitionID string, unit model.ClaimUnit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.advisoryHits++
	return nil
}

func (f *fakeCdks) CountClaimed(ctx context.Context, tx *sql.Tx, competitionID string, unit model.ClaimUnit) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.codes {
		if c.CompetitionID == competitionID && c.Status == model.CdkClaimed && f.owner(c, unit) {
			n++
		}
	}
	return n, nil
}

func (f *fakeCdks) CountAvailable(ctx context.Context, tx *sql.Tx, competitionID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.codes {
		if c.CompetitionID == competitionID && c.Status == model.CdkAvailable {
			n++
		}
	}
	return n, nil
}

func (f *fakeCdks) LockOldestAvailable(ctx context.Context, tx *sql.Tx, competitionID string) (*model.CompetitionCdk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.codes {
		if c.CompetitionID == competitionID && c.Status == model.CdkAvailable {
			cp := *c
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("available cdk: %w", common.ErrNotFound)
}

func (f *fakeCdks) MarkClaimed(ctx context.Context, tx *sql.Tx, cdkID string, unit model.ClaimUnit, userID string, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loseClaims > 0 {
		f.loseClaims--
		return false, nil
	}
	for _, c := range f.codes {
		if c.ID != cdkID || c.Status != model.CdkAvailable {
			continue
		}
		c.Status = model.CdkClaimed
		id := unit.ID
		if unit.Mode == model.CdkClaimModeMember {
			c.UserID = &id
		} else {
			c.TeamID = &id
		}
		c.ClaimedByUserID = &userID
		c.ClaimedAt = &at
		return true, nil
	}
	return false, nil
}

func (f *fakeCdks) InsertCodes(ctx context.Context, tx *sql.Tx, competitionID string, codes []string) (int, error) {
	f.mu.Lock()
	existing := make(map[string]bool)
	for _, c := range f.codes {
		if c.CompetitionID == competitionID {
			existing[c.Code] = true
		}
	}
	var fresh []string
	for _, c := range codes {
		if !existing[c] {
			fresh = append(fresh, c)
		}
	}
	f.mu.Unlock()
	f.seed(competitionID, fresh...)
	return len(fresh), nil
}

func (f *fakeCdks) Void(ctx context.Context, tx *sql.Tx, competitionID, cdkID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.codes {
		if c.ID == cdkID && c.CompetitionID == competitionID && c.Status != model.CdkVoid {
			c.Status = model.CdkVoid
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeCdks) ListClaimedByUnit(ctx context.Context, competitionID string, unit model.ClaimUnit) ([]model.CompetitionCdk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.CompetitionCdk
	for _, c := range f.codes {
		if c.CompetitionID == competitionID && c.Status == model.CdkClaimed && f.owner(c, unit) {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeCdks) claimedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.codes {
		if c.Status == model.CdkClaimed {
			n++
		}
	}
	return n
}

type fakeNodes struct {
	nodes []model.EvaluateNode
}

func (f *fakeNodes) ListActive(ctx context.Context) ([]model.EvaluateNode, error) {
	var out []model.EvaluateNode
	for _, n := range f.nodes {
		if n.Active {
			out = append(out, n)
		}
	}
	return out, nil
}

func (f *fakeNodes) GetByID(ctx context.Context, id string) (*model.EvaluateNode, error) {
	for _, n := range f.nodes {
		if n.ID == id {
			c := n
			return &c, nil
		}
	}
	return nil, fmt.Errorf("evaluate node %s: %w", id, common.ErrNotFound)
}

type enqueued struct {
	Lane  string
	Name  string
	JobID string
	Raw   json.RawMessage
	Opts  queue.EnqueueOptions
}

type fakeQueue struct {
	mu         sync.Mutex
	pending    map[string]*queue.Job
	log        []enqueued
	cancelled  []string
	enqueueErr error
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{pending: make(map[string]*queue.Job)}
}

func (q *fakeQueue) Enqueue(ctx context.Context, lane, name string, payload any, opts queue.EnqueueOptions) (queue.EnqueueResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.enqueueErr != nil {
		return queue.Duplicate, q.enqueueErr
	}
	raw, _ := json.Marshal(payload)
	q.log = append(q.log, enqueued{Lane: lane, Name: name, JobID: opts.JobID, Raw: raw, Opts: opts})

	key := lane + "/" + opts.JobID
	if existing, ok := q.pending[key]; ok {
		switch {
		case existing.State == queue.StateActive && (opts.Replace || opts.Rerun):
			existing.NextPayload = raw
			return queue.Deferred, nil
		case existing.State != queue.StateActive && opts.Replace:
			existing.Payload = raw
			return queue.Replaced, nil
		}
		return queue.Duplicate, nil
	}
	state := queue.StateWaiting
	if opts.Delay > 0 {
		state = queue.StateDelayed
	}
	q.pending[key] = &queue.Job{ID: opts.JobID, Lane: lane, Name: name, Payload: raw, State: state}
	return queue.Added, nil
}

func (q *fakeQueue) Cancel(ctx context.Context, lane, jobID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cancelled = append(q.cancelled, lane+"/"+jobID)
	key := lane + "/" + jobID
	if _, ok := q.pending[key]; !ok {
		return false, nil
	}
	delete(q.pending, key)
	return true, nil
}

func (q *fakeQueue) Get(ctx context.Context, lane, jobID string) (*queue.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.pending[lane+"/"+jobID]
	if !ok {
		return nil, queue.ErrJobNotFound
	}
	c := *j
	return &c, nil
}

func (q *fakeQueue) named(name string) []enqueued {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []enqueued
	for _, e := range q.log {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

// activate marks a queued job as picked up by a worker.
func (q *fakeQueue) activate(lane, jobID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if j, ok := q.pending[lane+"/"+jobID]; ok {
		j.State = queue.StateActive
	}
}

func (q *fakeQueue) isPending(lane, jobID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.pending[lane+"/"+jobID]
	return ok
}

type fakeJudge struct {
	mu       sync.Mutex
	requests []JudgeRequest
	nodes    []string
	err      error
}

func (f *fakeJudge) Evaluate(ctx context.Context, node model.EvaluateNode, req JudgeRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	f.nodes = append(f.nodes, node.ID)
	return f.err
}

type fakeBlobs struct{}

func (fakeBlobs) PublicURL(ctx context.Context, locator string) (string, error) {
	return "https://blobs.test/" + locator, nil
}
