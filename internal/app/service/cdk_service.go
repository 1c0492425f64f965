package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"contest_judge/internal/common"
	"contest_judge/internal/domain/model"
	"contest_judge/internal/domain/repository"

	"github.com/sirupsen/logrus"
)

// errClaimLost means another claimant took the selected code first.
var errClaimLost = errors.New("cdk claim race lost")

type CdkService struct {
	tx           repository.Transactor
	cdks         repository.CdkRepository
	competitions repository.CompetitionRepository
	retries      int
	log          logrus.FieldLogger
	now          func() time.Time
}

func NewCdkService(
	tx repository.Transactor,
	cdks repository.CdkRepository,
	competitions repository.CompetitionRepository,
	retries int,
	log logrus.FieldLogger,
) *CdkService {
	if retries < 1 {
		retries = 1
	}
	return &CdkService{tx: tx, cdks: cdks, competitions: competitions, retries: retries, log: log, now: time.Now}
}

// Claim hands the oldest available code of the competition to the user's
// claim unit. Each attempt is one transaction; lost races are retried.
func (s *CdkService) Claim(ctx context.Context, competitionID, userID string) (*model.CompetitionCdk, error) {
	log := s.log.WithFields(logrus.Fields{"competition_id": competitionID, "user_id": userID})
	for attempt := 1; attempt <= s.retries; attempt++ {
		cdk, err := s.claimOnce(ctx, competitionID, userID)
		if err == nil {
			log.WithField("cdk_id", cdk.ID).Info("cdk claimed")
			return cdk, nil
		}
		if !errors.Is(err, errClaimLost) && !common.IsUniqueViolation(err) {
			return nil, err
		}
		log.WithField("attempt", attempt).Debug("cdk claim lost a race, retrying")
	}
	log.Warn("cdk claim gave up after repeated conflicts")
	return nil, common.ErrCdkConflict
}

func (s *CdkService) claimOnce(ctx context.Context, competitionID, userID string) (*model.CompetitionCdk, error) {
	var claimed *model.CompetitionCdk
	err := s.tx.WithinTx(ctx, func(tx *sql.Tx) error {
		comp, err := s.competitions.GetCompetition(ctx, tx, competitionID)
		if err != nil {
			return err
		}
		unit, err := s.resolveUnit(ctx, tx, comp, userID)
		if err != nil {
			return err
		}

		// Serialises claims of one unit so the limit check holds.
		if err := s.cdks.LockClaimUnit(ctx, tx, competitionID, unit); err != nil {
			return err
		}
		n, err := s.cdks.CountClaimed(ctx, tx, competitionID, unit)
		if err != nil {
			return err
		}
		if n >= comp.Cdk.LimitPerUnit {
			return common.ErrCdkLimitReached
		}

		cdk, err := s.cdks.LockOldestAvailable(ctx, tx, competitionID)
		if errors.Is(err, common.ErrNotFound) {
			// Codes locked by in-flight claims are skipped; they may still roll back.
			left, cerr := s.cdks.CountAvailable(ctx, tx, competitionID)
			if cerr != nil {
				return cerr
			}
			if left > 0 {
				return errClaimLost
			}
			return common.ErrCdkExhausted
		}
		if err != nil {
			return err
		}

		at := s.now()
		ok, err := s.cdks.MarkClaimed(ctx, tx, cdk.ID, unit, userID, at)
		if err != nil {
			return err
		}
		if !ok {
			return errClaimLost
		}

		cdk.Status = model.CdkClaimed
		cdk.ClaimedAt = &at
		cdk.ClaimedByUserID = &userID
		if unit.Mode == model.CdkClaimModeMember {
			cdk.UserID = &unit.ID
		} else {
			cdk.TeamID = &unit.ID
		}
		claimed = cdk
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (s *CdkService) resolveUnit(ctx context.Context, tx *sql.Tx, comp *model.Competition, userID string) (model.ClaimUnit, error) {
	if !comp.Cdk.Usable() {
		return model.ClaimUnit{}, common.ErrCdkNotConfigured
	}
	teamID, err := s.competitions.FindTeamIDForUser(ctx, tx, comp.ID, userID)
	if errors.Is(err, common.ErrNotFound) {
		return model.ClaimUnit{}, common.ErrNotParticipating
	}
	if err != nil {
		return model.ClaimUnit{}, err
	}
	if comp.Cdk.ClaimMode == model.CdkClaimModeMember {
		return model.ClaimUnit{Mode: model.CdkClaimModeMember, ID: userID}, nil
	}
	return model.ClaimUnit{Mode: model.CdkClaimModeTeam, ID: teamID}, nil
}

// MyCodes lists the codes held by the user's claim unit.
func (s *CdkService) MyCodes(ctx context.Context, competitionID, userID string) ([]model.CompetitionCdk, error) {
	comp, err := s.competitions.GetCompetition(ctx, nil, competitionID)
	if err != nil {
		return nil, err
	}
	unit, err := s.resolveUnit(ctx, nil, comp, userID)
	if err != nil {
		return nil, err
	}
	codes, err := s.cdks.ListClaimedByUnit(ctx, competitionID, unit)
	if err != nil {
		return nil, err
	}
	if codes == nil {
		codes = []model.CompetitionCdk{}
	}
	return codes, nil
}

// AddCodes appends new AVAILABLE codes. Blank and duplicate codes are skipped.
func (s *CdkService) AddCodes(ctx context.Context, competitionID string, codes []string) (int, error) {
	seen := make(map[string]bool, len(codes))
	clean := make([]string, 0, len(codes))
	for _, c := range codes {
		c = strings.TrimSpace(c)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		clean = append(clean, c)
	}
	if len(clean) == 0 {
		return 0, fmt.Errorf("no codes given: %w", common.ErrValidation)
	}

	var inserted int
	err := s.tx.WithinTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.competitions.GetCompetition(ctx, tx, competitionID); err != nil {
			return err
		}
		n, err := s.cdks.InsertCodes(ctx, tx, competitionID, clean)
		inserted = n
		return err
	})
	if err != nil {
		return 0, err
	}
	s.log.WithFields(logrus.Fields{"competition_id": competitionID, "inserted": inserted}).Info("cdk codes added")
	return inserted, nil
}

func (s *CdkService) VoidCode(ctx context.Context, competitionID, cdkID string) error {
	ok, err := s.cdks.Void(ctx, nil, competitionID, cdkID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("cdk %s is unknown or already void: %w", cdkID, common.ErrNotFound)
	}
	s.log.WithFields(logrus.Fields{"competition_id": competitionID, "cdk_id": cdkID}).Info("cdk voided")
	return nil
}
